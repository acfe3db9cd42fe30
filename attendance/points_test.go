package attendance_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func recordWith(status attendance.Status, tardy, undertime int) attendance.AttendanceRecord {
	rec := attendance.AttendanceRecord{
		ID:               "att-1",
		UserID:           "guard-1",
		ShiftDate:        time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		Status:           status,
		TardyMinutes:     tardy,
		UndertimeMinutes: undertime,
	}
	if undertime > 0 && status != attendance.StatusUndertime {
		rec.SecondaryStatus = attendance.StatusUndertime
	}
	return rec
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// VALUE TABLE
// =============================================================================

func TestDerivePoints_ValueTable(t *testing.T) {
	cfg := attendance.DefaultConfig()

	cases := []struct {
		name   string
		rec    attendance.AttendanceRecord
		types  []attendance.PointType
		values []string
	}{
		{"tardy", recordWith(attendance.StatusTardy, 25, 0),
			[]attendance.PointType{attendance.PointTardy}, []string{"0.25"}},
		{"minor undertime", recordWith(attendance.StatusUndertime, 0, 45),
			[]attendance.PointType{attendance.PointUndertime}, []string{"0.25"}},
		{"major undertime", recordWith(attendance.StatusUndertime, 0, 90),
			[]attendance.PointType{attendance.PointUndertime}, []string{"0.5"}},
		{"half day", recordWith(attendance.StatusHalfDayAbsence, 150, 0),
			[]attendance.PointType{attendance.PointHalfDay}, []string{"0.5"}},
		{"ncns", recordWith(attendance.StatusNCNS, 0, 0),
			[]attendance.PointType{attendance.PointWholeDay}, []string{"1"}},
		{"failed to notify", recordWith(attendance.StatusAdvisedAbsence, 0, 0),
			[]attendance.PointType{attendance.PointWholeDay}, []string{"1"}},
		{"on time", recordWith(attendance.StatusOnTime, 0, 0), nil, nil},
		{"failed bio out alone", recordWith(attendance.StatusFailedBioOut, 0, 0), nil, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entries := attendance.DerivePoints(tc.rec, cfg)
			require.Len(t, entries, len(tc.types))
			for i := range entries {
				assert.Equal(t, tc.types[i], entries[i].Type)
				assert.True(t, entries[i].Value.Equal(dec(tc.values[i])),
					"want %s got %s", tc.values[i], entries[i].Value)
			}
		})
	}
}

func TestDerivePoints_TardyAndUndertimeAreIndependent(t *testing.T) {
	// A tardy arrival with an early departure carries both points.
	rec := recordWith(attendance.StatusTardy, 30, 70)

	entries := attendance.DerivePoints(rec, attendance.DefaultConfig())

	require.Len(t, entries, 2)
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Value)
	}
	// 0.25 tardy + 0.50 major undertime
	assert.True(t, total.Equal(dec("0.75")), "got %s", total)
}

// =============================================================================
// EXPIRATION HORIZONS
// =============================================================================

func TestDerivePoints_ExpirationHorizons(t *testing.T) {
	cfg := attendance.DefaultConfig()

	tardy := attendance.DerivePoints(recordWith(attendance.StatusTardy, 20, 0), cfg)
	require.Len(t, tardy, 1)
	assert.Equal(t, time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC), tardy[0].ExpiresAt,
		"ordinary violations expire 6 months after the shift date")

	ncns := attendance.DerivePoints(recordWith(attendance.StatusNCNS, 0, 0), cfg)
	require.Len(t, ncns, 1)
	assert.Equal(t, time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), ncns[0].ExpiresAt,
		"whole-day absences expire 12 months after the shift date")
}

// =============================================================================
// AMNESTY ELIGIBILITY
// =============================================================================

func TestDerivePoints_WholeDayNeverAmnestyEligible(t *testing.T) {
	cfg := attendance.DefaultConfig()

	ncns := attendance.DerivePoints(recordWith(attendance.StatusNCNS, 0, 0), cfg)
	require.Len(t, ncns, 1)
	assert.False(t, ncns[0].EligibleForGBRO)

	tardy := attendance.DerivePoints(recordWith(attendance.StatusTardy, 20, 0), cfg)
	require.Len(t, tardy, 1)
	assert.True(t, tardy[0].EligibleForGBRO)
}

// =============================================================================
// SET COMPARISON AND TOTALS
// =============================================================================

func TestSamePointSet_IgnoresIdentityAndSoftState(t *testing.T) {
	cfg := attendance.DefaultConfig()
	rec := recordWith(attendance.StatusTardy, 30, 0)

	a := attendance.DerivePoints(rec, cfg)
	b := attendance.DerivePoints(rec, cfg)
	b[0].ID = "pt-other"
	b[0].Excused = true
	b[0].CreatedAt = time.Now()

	assert.True(t, attendance.SamePointSet(a, b))

	c := attendance.DerivePoints(recordWith(attendance.StatusHalfDayAbsence, 150, 0), cfg)
	assert.False(t, attendance.SamePointSet(a, c))
}

func TestActiveSum_SkipsExpiredAndExcused(t *testing.T) {
	asOf := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	entries := []attendance.PointEntry{
		{Value: dec("0.25")},
		{Value: dec("0.50")},
		{Value: dec("1.00"), Expired: true},
		{Value: dec("0.25"), Excused: true},
	}

	sum := attendance.ActiveSum(entries, asOf)

	assert.True(t, sum.Total.Equal(dec("0.75")), "got %s", sum.Total)
	assert.Equal(t, 2, sum.Count)
	assert.Equal(t, asOf, sum.AsOf)
}
