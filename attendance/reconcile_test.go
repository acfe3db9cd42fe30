package attendance_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	schedIn8  = time.Date(2025, 11, 5, 8, 0, 0, 0, time.UTC)
	schedOut5 = time.Date(2025, 11, 5, 17, 0, 0, 0, time.UTC)
)

func outcomeAt(t *testing.T, in, out *time.Time, elapsed bool) attendance.Outcome {
	t.Helper()
	return attendance.ComputeOutcome(schedIn8, schedOut5, 10, attendance.DefaultConfig(), in, out, false, elapsed)
}

func ts(h, m int) *time.Time {
	t := time.Date(2025, 11, 5, h, m, 0, 0, time.UTC)
	return &t
}

// =============================================================================
// ARRIVAL RULE
// =============================================================================

func TestComputeOutcome_ArrivalWithinGrace_OnTime(t *testing.T) {
	// Exactly at the grace boundary is still on time.
	o := outcomeAt(t, ts(8, 10), ts(17, 0), true)

	assert.Equal(t, attendance.StatusOnTime, o.Status)
	assert.Zero(t, o.TardyMinutes)
}

func TestComputeOutcome_OneMinutePastGrace_Tardy(t *testing.T) {
	o := outcomeAt(t, ts(8, 11), ts(17, 0), true)

	assert.Equal(t, attendance.StatusTardy, o.Status)
	assert.Equal(t, 11, o.TardyMinutes)
}

func TestComputeOutcome_EarlyArrival_OnTime(t *testing.T) {
	o := outcomeAt(t, ts(7, 40), ts(17, 0), true)

	assert.Equal(t, attendance.StatusOnTime, o.Status)
}

func TestComputeOutcome_ArrivalAtHalfDayBoundary_StillTardy(t *testing.T) {
	// Exactly 120 minutes late is tardy; 121 tips into half-day.
	o := outcomeAt(t, ts(10, 0), ts(17, 0), true)
	assert.Equal(t, attendance.StatusTardy, o.Status)
	assert.Equal(t, 120, o.TardyMinutes)

	o = outcomeAt(t, ts(10, 1), ts(17, 0), true)
	assert.Equal(t, attendance.StatusHalfDayAbsence, o.Status)
	assert.Equal(t, 121, o.TardyMinutes)
}

// =============================================================================
// DEPARTURE RULE
// =============================================================================

func TestComputeOutcome_EarlyDeparture_OnTimeBecomesUndertime(t *testing.T) {
	o := outcomeAt(t, ts(7, 58), ts(16, 15), true)

	assert.Equal(t, attendance.StatusUndertime, o.Status)
	assert.Equal(t, 45, o.UndertimeMinutes)
}

func TestComputeOutcome_TardyPlusEarlyDeparture_UndertimeIsSecondary(t *testing.T) {
	o := outcomeAt(t, ts(8, 30), ts(16, 0), true)

	assert.Equal(t, attendance.StatusTardy, o.Status)
	assert.Equal(t, attendance.StatusUndertime, o.SecondaryStatus)
	assert.Equal(t, 30, o.TardyMinutes)
	assert.Equal(t, 60, o.UndertimeMinutes)
}

// =============================================================================
// MISSING SIDES
// =============================================================================

func TestComputeOutcome_NoScans_ElapsedShiftIsNCNS(t *testing.T) {
	o := outcomeAt(t, nil, nil, true)
	assert.Equal(t, attendance.StatusNCNS, o.Status)
}

func TestComputeOutcome_NoScans_AdvisedAbsence(t *testing.T) {
	o := attendance.ComputeOutcome(schedIn8, schedOut5, 10, attendance.DefaultConfig(), nil, nil, true, true)
	assert.Equal(t, attendance.StatusAdvisedAbsence, o.Status)
}

func TestComputeOutcome_DepartureOnly_FailedBioIn(t *testing.T) {
	o := outcomeAt(t, nil, ts(16, 30), true)

	assert.Equal(t, attendance.StatusFailedBioIn, o.Status)
	assert.Equal(t, attendance.StatusUndertime, o.SecondaryStatus)
	assert.Equal(t, 30, o.UndertimeMinutes)
}

func TestComputeOutcome_ArrivalOnly_FailedBioOutAfterElapsed(t *testing.T) {
	// On-time arrival, no departure, shift elapsed.
	o := outcomeAt(t, ts(8, 0), nil, true)
	assert.Equal(t, attendance.StatusFailedBioOut, o.Status)

	// Tardy arrival keeps the arrival status; the missing out is secondary.
	o = outcomeAt(t, ts(8, 30), nil, true)
	assert.Equal(t, attendance.StatusTardy, o.Status)
	assert.Equal(t, attendance.StatusFailedBioOut, o.SecondaryStatus)
}

func TestComputeOutcome_ArrivalOnly_OpenShiftHasNoFailedBioOut(t *testing.T) {
	o := outcomeAt(t, ts(8, 0), nil, false)

	assert.Equal(t, attendance.StatusOnTime, o.Status)
	assert.Empty(t, string(o.SecondaryStatus))
}

// =============================================================================
// PAIR SELECTION
// =============================================================================

func TestSelectPair_EarliestInLatestOut(t *testing.T) {
	// Duplicate badge taps: two arrival scans and two departure scans.
	sched := dayShift()
	shiftDate := time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC)
	scans := []attendance.ScanRecord{
		{UserID: "guard-2", SiteID: "site-a", ScannedAt: *ts(8, 2)},
		{UserID: "guard-2", SiteID: "site-a", ScannedAt: *ts(7, 58)},
		{UserID: "guard-2", SiteID: "site-a", ScannedAt: *ts(16, 55)},
		{UserID: "guard-2", SiteID: "site-a", ScannedAt: *ts(17, 3)},
	}

	in, out := attendance.SelectPair(scans, sched, shiftDate)

	require.NotNil(t, in)
	require.NotNil(t, out)
	assert.Equal(t, *ts(7, 58), in.ScannedAt)
	assert.Equal(t, *ts(17, 3), out.ScannedAt)
}

func TestSelectPair_IgnoresScansFromOtherShiftDates(t *testing.T) {
	sched := nightShift()
	nov5 := time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC)
	scans := []attendance.ScanRecord{
		// Nov 5 arrival and Nov 6 morning departure belong to Nov 5.
		{UserID: "guard-1", ScannedAt: time.Date(2025, 11, 5, 22, 5, 0, 0, time.UTC)},
		{UserID: "guard-1", ScannedAt: time.Date(2025, 11, 6, 7, 2, 0, 0, time.UTC)},
		// Nov 6 evening arrival belongs to Nov 6, not Nov 5.
		{UserID: "guard-1", ScannedAt: time.Date(2025, 11, 6, 21, 58, 0, 0, time.UTC)},
	}

	in, out := attendance.SelectPair(scans, sched, nov5)

	require.NotNil(t, in)
	require.NotNil(t, out)
	assert.Equal(t, 5, in.ScannedAt.Day())
	assert.Equal(t, 6, out.ScannedAt.Day())
	assert.Equal(t, 7, out.ScannedAt.Hour())
}

// =============================================================================
// FULL RECONCILIATION
// =============================================================================

func TestReconcileScans_CrossMidnight_TardyWithLateDeparture(t *testing.T) {
	// 22:14 arrival on a 22:00 shift with 10min grace is 14 minutes tardy;
	// the 07:05 departure is past scheduled out, so no undertime.
	sched := nightShift()
	nov5 := time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC)
	scans := []attendance.ScanRecord{
		{UserID: "guard-1", SiteID: "gate", ScannedAt: time.Date(2025, 11, 5, 22, 14, 0, 0, time.UTC)},
		{UserID: "guard-1", SiteID: "gate", ScannedAt: time.Date(2025, 11, 6, 7, 5, 0, 0, time.UTC)},
	}
	now := time.Date(2025, 11, 6, 9, 0, 0, 0, time.UTC)

	o := attendance.ReconcileScans(nov5, sched, attendance.DefaultConfig(), scans, false, now)

	assert.Equal(t, attendance.StatusTardy, o.Status)
	assert.Equal(t, 14, o.TardyMinutes)
	assert.Zero(t, o.UndertimeMinutes)
	assert.Equal(t, attendance.SiteID("gate"), o.SiteIn)
	require.NotNil(t, o.ActualOut)
}

func TestOutcome_Apply_CompletionClearsPartialFlag(t *testing.T) {
	rec := attendance.AttendanceRecord{
		UserID:            "guard-2",
		ShiftDate:         time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC),
		PartiallyVerified: true,
		AdminVerified:     true,
		Notes:             "approved pending out-scan",
	}
	o := outcomeAt(t, ts(8, 0), ts(17, 0), true)

	updated := o.Apply(rec)

	assert.False(t, updated.PartiallyVerified)
	assert.True(t, updated.AdminVerified, "verification flag survives new data")
	assert.Equal(t, "approved pending out-scan", updated.Notes)
}
