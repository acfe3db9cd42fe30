package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/attendance/store"
	"github.com/warp/attendance-engine/engine"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testEnv struct {
	mem          *store.Memory
	reconciler   *engine.Reconciler
	points       *engine.PointEngine
	expiration   *engine.ExpirationProcessor
	verification *engine.VerificationWorkflow
}

// newTestEnv wires the full engine onto one memory store with a frozen clock.
func newTestEnv(t *testing.T, now time.Time) *testEnv {
	t.Helper()

	mem := store.NewMemory()
	cfg := attendance.DefaultConfig()
	points := engine.NewPointEngine(cfg, mem, mem)
	env := &testEnv{
		mem:          mem,
		points:       points,
		reconciler:   engine.NewReconciler(cfg, mem, mem, mem, points, mem),
		expiration:   engine.NewExpirationProcessor(cfg, mem, mem, mem),
		verification: engine.NewVerificationWorkflow(cfg, mem, points, mem, mem),
	}

	clock := func() time.Time { return now }
	env.reconciler.Now = clock
	env.points.Now = clock
	env.expiration.Now = clock
	env.verification.Now = clock
	return env
}

func nightGuardSchedule(userID attendance.UserID) attendance.Schedule {
	return attendance.Schedule{
		ID:            "sched-" + string(userID),
		UserID:        userID,
		ShiftType:     attendance.ShiftNight,
		TimeIn:        attendance.NewClockTime(22, 0),
		TimeOut:       attendance.NewClockTime(7, 0),
		GraceMinutes:  10,
		EffectiveFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func scan(user attendance.UserID, at time.Time) engine.ScanInput {
	return engine.ScanInput{UserID: user, SiteID: "gate-1", ScannedAt: at}
}

var (
	nov5      = time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC)
	afterwork = time.Date(2025, 11, 6, 9, 0, 0, 0, time.UTC)
)

// =============================================================================
// UPLOAD PROCESSING
// =============================================================================

func TestProcessUpload_CrossMidnightPair_OneRecord(t *testing.T) {
	// GIVEN: A night guard who clocked in 22:05 and out 07:02 the next morning
	// WHEN: Both scans arrive in one upload
	// THEN: One on-time record anchored on the shift's start date

	env := newTestEnv(t, afterwork)
	env.mem.AddSchedule(nightGuardSchedule("guard-1"))
	ctx := context.Background()

	result, err := env.reconciler.ProcessUpload(ctx, "upload-1", []engine.ScanInput{
		scan("guard-1", time.Date(2025, 11, 5, 22, 5, 0, 0, time.UTC)),
		scan("guard-1", time.Date(2025, 11, 6, 7, 2, 0, 0, time.UTC)),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.NewScans)
	assert.Equal(t, 1, result.Created)
	assert.Empty(t, result.Errors)

	rec, err := env.mem.Get(ctx, attendance.RecordKey{UserID: "guard-1", ShiftDate: nov5})
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusOnTime, rec.Status)
	require.NotNil(t, rec.ActualIn)
	require.NotNil(t, rec.ActualOut)
	assert.True(t, rec.Complete())
}

func TestProcessUpload_DuplicateUpload_NoOp(t *testing.T) {
	env := newTestEnv(t, afterwork)
	env.mem.AddSchedule(nightGuardSchedule("guard-1"))
	ctx := context.Background()

	scans := []engine.ScanInput{
		scan("guard-1", time.Date(2025, 11, 5, 22, 14, 0, 0, time.UTC)),
		scan("guard-1", time.Date(2025, 11, 6, 7, 0, 0, 0, time.UTC)),
	}
	_, err := env.reconciler.ProcessUpload(ctx, "upload-1", scans)
	require.NoError(t, err)

	first, err := env.mem.Get(ctx, attendance.RecordKey{UserID: "guard-1", ShiftDate: nov5})
	require.NoError(t, err)
	firstPoints, err := env.mem.ListByRecord(ctx, first.ID)
	require.NoError(t, err)

	// Same file re-uploaded under a different upload id.
	result, err := env.reconciler.ProcessUpload(ctx, "upload-2", scans)
	require.NoError(t, err)

	assert.Zero(t, result.NewScans, "fingerprint dedup rejects every scan")
	assert.Zero(t, result.Created)
	assert.Zero(t, result.Updated)
	assert.Equal(t, 1, result.Skipped)

	second, err := env.mem.Get(ctx, attendance.RecordKey{UserID: "guard-1", ShiftDate: nov5})
	require.NoError(t, err)
	assert.Equal(t, first, second, "record is byte-for-byte unchanged")
	assert.Equal(t, first.Version, second.Version,
		"no version churn to trip a concurrent admin update")

	secondPoints, err := env.mem.ListByRecord(ctx, second.ID)
	require.NoError(t, err)
	assert.Len(t, secondPoints, len(firstPoints), "points are not stacked")
	if len(firstPoints) > 0 {
		assert.Equal(t, firstPoints[0].ID, secondPoints[0].ID,
			"unchanged point set is left byte-for-byte alone")
	}
}

func TestProcessUpload_OutOfOrderUploads_Converge(t *testing.T) {
	// The departure arrives in one upload, the arrival in a later one.
	// The record must end up identical to a single-pass reconciliation.
	env := newTestEnv(t, afterwork)
	env.mem.AddSchedule(nightGuardSchedule("guard-1"))
	ctx := context.Background()

	_, err := env.reconciler.ProcessUpload(ctx, "upload-out", []engine.ScanInput{
		scan("guard-1", time.Date(2025, 11, 6, 7, 2, 0, 0, time.UTC)),
	})
	require.NoError(t, err)

	rec, err := env.mem.Get(ctx, attendance.RecordKey{UserID: "guard-1", ShiftDate: nov5})
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusFailedBioIn, rec.Status, "departure-only record until the arrival lands")

	result, err := env.reconciler.ProcessUpload(ctx, "upload-in", []engine.ScanInput{
		scan("guard-1", time.Date(2025, 11, 5, 22, 5, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)

	rec, err = env.mem.Get(ctx, attendance.RecordKey{UserID: "guard-1", ShiftDate: nov5})
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusOnTime, rec.Status)
	assert.True(t, rec.Complete())

	points, err := env.mem.ListByRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, points, "an on-time record carries no points")
}

func TestProcessUpload_ScheduleBoundary_DepartureUsesShiftDateVersion(t *testing.T) {
	// GIVEN: The schedule changes from 22:00-07:00 to 23:00-08:00 on Nov 6
	// WHEN: The Nov 5 shift's departure scan lands on Nov 6
	// THEN: The shift reconciles under the version active on Nov 5

	env := newTestEnv(t, afterwork)
	ctx := context.Background()

	old := nightGuardSchedule("guard-1")
	oldEnd := time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC)
	old.EffectiveTo = &oldEnd
	env.mem.AddSchedule(old)

	next := nightGuardSchedule("guard-1")
	next.ID = "sched-guard-1-v2"
	next.TimeIn = attendance.NewClockTime(23, 0)
	next.TimeOut = attendance.NewClockTime(8, 0)
	next.EffectiveFrom = time.Date(2025, 11, 6, 0, 0, 0, 0, time.UTC)
	env.mem.AddSchedule(next)

	result, err := env.reconciler.ProcessUpload(ctx, "upload-1", []engine.ScanInput{
		scan("guard-1", time.Date(2025, 11, 5, 22, 5, 0, 0, time.UTC)),
		scan("guard-1", time.Date(2025, 11, 6, 7, 2, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Zero(t, result.FlaggedReview)

	rec, err := env.mem.Get(ctx, attendance.RecordKey{UserID: "guard-1", ShiftDate: nov5})
	require.NoError(t, err)
	assert.Equal(t, 22, rec.ScheduledIn.Hour(), "old window frozen onto the record")
	assert.Equal(t, attendance.StatusOnTime, rec.Status)
	assert.Zero(t, rec.UndertimeMinutes, "07:02 is not undertime against the old 07:00 out")
}

func TestProcessUpload_MissingSchedule_FlaggedNotFatal(t *testing.T) {
	env := newTestEnv(t, afterwork)
	env.mem.AddSchedule(nightGuardSchedule("guard-1"))
	ctx := context.Background()

	result, err := env.reconciler.ProcessUpload(ctx, "upload-1", []engine.ScanInput{
		scan("guard-1", time.Date(2025, 11, 5, 22, 5, 0, 0, time.UTC)),
		scan("ghost-9", time.Date(2025, 11, 5, 22, 7, 0, 0, time.UTC)),
	})
	require.NoError(t, err, "a bad scan never aborts the upload")

	assert.Equal(t, 1, result.FlaggedReview)
	assert.Equal(t, 1, result.Created)

	flagged, err := env.mem.Get(ctx, attendance.RecordKey{UserID: "ghost-9", ShiftDate: nov5})
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusNeedsManualReview, flagged.Status)
	assert.NotEmpty(t, flagged.Notes)
}

func TestProcessUpload_TardyGeneratesPoint(t *testing.T) {
	env := newTestEnv(t, afterwork)
	env.mem.AddSchedule(nightGuardSchedule("guard-1"))
	ctx := context.Background()

	_, err := env.reconciler.ProcessUpload(ctx, "upload-1", []engine.ScanInput{
		scan("guard-1", time.Date(2025, 11, 5, 22, 25, 0, 0, time.UTC)),
		scan("guard-1", time.Date(2025, 11, 6, 7, 1, 0, 0, time.UTC)),
	})
	require.NoError(t, err)

	rec, err := env.mem.Get(ctx, attendance.RecordKey{UserID: "guard-1", ShiftDate: nov5})
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusTardy, rec.Status)
	assert.Equal(t, 25, rec.TardyMinutes)

	sum, err := env.points.ActiveTotal(ctx, "guard-1")
	require.NoError(t, err)
	assert.True(t, sum.Total.Equal(decimal.RequireFromString("0.25")), "got %s", sum.Total)
}

func TestReconcileShift_VerifiedCompleteRecordIsSettled(t *testing.T) {
	env := newTestEnv(t, afterwork)
	env.mem.AddSchedule(nightGuardSchedule("guard-1"))
	ctx := context.Background()

	_, err := env.reconciler.ProcessUpload(ctx, "upload-1", []engine.ScanInput{
		scan("guard-1", time.Date(2025, 11, 5, 22, 5, 0, 0, time.UTC)),
		scan("guard-1", time.Date(2025, 11, 6, 7, 2, 0, 0, time.UTC)),
	})
	require.NoError(t, err)

	rec, err := env.mem.Get(ctx, attendance.RecordKey{UserID: "guard-1", ShiftDate: nov5})
	require.NoError(t, err)
	rec.AdminVerified = true
	_, err = env.mem.Update(ctx, rec)
	require.NoError(t, err)

	// A late duplicate upload must not disturb the settled record.
	result, err := env.reconciler.ProcessUpload(ctx, "upload-late", []engine.ScanInput{
		scan("guard-1", time.Date(2025, 11, 5, 22, 5, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)

	after, err := env.mem.Get(ctx, attendance.RecordKey{UserID: "guard-1", ShiftDate: nov5})
	require.NoError(t, err)
	assert.True(t, after.AdminVerified)
	assert.True(t, after.Complete())
}

// =============================================================================
// NCNS FINALIZATION
// =============================================================================

func TestFinalizeDate_NoScans_NCNSWithWholeDayPoint(t *testing.T) {
	env := newTestEnv(t, afterwork)
	env.mem.AddSchedule(nightGuardSchedule("guard-1"))
	ctx := context.Background()

	result, err := env.reconciler.FinalizeDate(ctx, nov5)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Finalized)

	rec, err := env.mem.Get(ctx, attendance.RecordKey{UserID: "guard-1", ShiftDate: nov5})
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusNCNS, rec.Status)

	points, err := env.mem.ListByRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, attendance.PointWholeDay, points[0].Type)
	assert.True(t, points[0].Value.Equal(decimal.RequireFromString("1")))
	assert.False(t, points[0].EligibleForGBRO)
}

func TestFinalizeDate_ExistingRecordSkipped(t *testing.T) {
	env := newTestEnv(t, afterwork)
	env.mem.AddSchedule(nightGuardSchedule("guard-1"))
	ctx := context.Background()

	_, err := env.reconciler.ProcessUpload(ctx, "upload-1", []engine.ScanInput{
		scan("guard-1", time.Date(2025, 11, 5, 22, 5, 0, 0, time.UTC)),
		scan("guard-1", time.Date(2025, 11, 6, 7, 2, 0, 0, time.UTC)),
	})
	require.NoError(t, err)

	result, err := env.reconciler.FinalizeDate(ctx, nov5)
	require.NoError(t, err)
	assert.Zero(t, result.Finalized)
	assert.Equal(t, 1, result.Skipped)
}

func TestFinalizeDate_OpenShiftLeftAlone(t *testing.T) {
	// Finalizing the current date while the shift is still open does nothing.
	env := newTestEnv(t, time.Date(2025, 11, 5, 23, 0, 0, 0, time.UTC))
	env.mem.AddSchedule(nightGuardSchedule("guard-1"))
	ctx := context.Background()

	result, err := env.reconciler.FinalizeDate(ctx, nov5)
	require.NoError(t, err)
	assert.Zero(t, result.Finalized)
	assert.Equal(t, 1, result.Skipped)

	exists, err := env.mem.Exists(ctx, attendance.RecordKey{UserID: "guard-1", ShiftDate: nov5})
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFinalizeDate_NonWorkdaySkipped(t *testing.T) {
	env := newTestEnv(t, afterwork)
	sched := nightGuardSchedule("guard-1")
	sched.WorkDays = []time.Weekday{time.Monday} // Nov 5 2025 is a Wednesday
	env.mem.AddSchedule(sched)
	ctx := context.Background()

	result, err := env.reconciler.FinalizeDate(ctx, nov5)
	require.NoError(t, err)
	assert.Zero(t, result.Finalized)
	assert.Equal(t, 1, result.Skipped)
}
