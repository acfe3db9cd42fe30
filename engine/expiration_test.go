package engine_test

import (
	"context"
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

// seedPoint stores one entry directly through the point store.
func seedPoint(t *testing.T, env *testEnv, id attendance.PointID, recordID attendance.RecordID,
	pt attendance.PointType, value string, expiresAt time.Time, eligible bool) {
	t.Helper()
	err := env.mem.ReplaceForRecord(context.Background(), recordID, []attendance.PointEntry{{
		ID:              id,
		RecordID:        recordID,
		UserID:          "guard-1",
		ShiftDate:       expiresAt.AddDate(0, -6, 0),
		Type:            pt,
		Value:           decimal.RequireFromString(value),
		ExpiresAt:       expiresAt,
		EligibleForGBRO: eligible,
	}})
	require.NoError(t, err)
}

// =============================================================================
// SRO SWEEP
// =============================================================================

func TestSweepSRO_ExpiresPastHorizonOnly(t *testing.T) {
	// GIVEN: One point past its horizon and one still inside it
	// WHEN: The sweep runs
	// THEN: Only the elapsed one flips, and only it leaves the active total

	now := time.Date(2025, 8, 1, 3, 0, 0, 0, time.UTC)
	env := newTestEnv(t, now)
	ctx := context.Background()

	seedPoint(t, env, "pt-old", "att-1", attendance.PointTardy, "0.25",
		time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC), true)
	seedPoint(t, env, "pt-fresh", "att-2", attendance.PointHalfDay, "0.50",
		time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), true)

	result, err := env.expiration.SweepSRO(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Expired)
	assert.Zero(t, result.Failed)

	old, err := env.mem.GetPoint(ctx, "pt-old")
	require.NoError(t, err)
	assert.True(t, old.Expired)
	assert.Equal(t, attendance.ExpirationSRO, old.ExpirationType)

	sum, err := env.points.ActiveTotal(ctx, "guard-1")
	require.NoError(t, err)
	assert.True(t, sum.Total.Equal(decimal.RequireFromString("0.50")), "got %s", sum.Total)
}

func TestSweepSRO_Rerun_NoOp(t *testing.T) {
	now := time.Date(2025, 8, 1, 3, 0, 0, 0, time.UTC)
	env := newTestEnv(t, now)
	ctx := context.Background()

	seedPoint(t, env, "pt-old", "att-1", attendance.PointTardy, "0.25",
		time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC), true)

	_, err := env.expiration.SweepSRO(ctx)
	require.NoError(t, err)

	second, err := env.expiration.SweepSRO(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Scanned, "already-expired entries never re-enter the sweep")
	assert.Zero(t, second.Expired)
}

func TestSweepSRO_ExcusedEntriesUntouched(t *testing.T) {
	now := time.Date(2025, 8, 1, 3, 0, 0, 0, time.UTC)
	env := newTestEnv(t, now)
	ctx := context.Background()

	seedPoint(t, env, "pt-excused", "att-1", attendance.PointTardy, "0.25",
		time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC), true)
	require.NoError(t, env.mem.Excuse(ctx, "pt-excused", "admin-1", "approved leave"))

	result, err := env.expiration.SweepSRO(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Scanned)

	e, err := env.mem.GetPoint(ctx, "pt-excused")
	require.NoError(t, err)
	assert.True(t, e.Excused)
	assert.False(t, e.Expired, "excusal and expiration are independent flags")
}

// =============================================================================
// GBRO AMNESTY
// =============================================================================

func TestRunAmnesty_SkipsWholeDayAbsences(t *testing.T) {
	now := time.Date(2025, 8, 1, 3, 0, 0, 0, time.UTC)
	env := newTestEnv(t, now)
	ctx := context.Background()

	seedPoint(t, env, "pt-tardy", "att-1", attendance.PointTardy, "0.25",
		time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), true)
	seedPoint(t, env, "pt-ncns", "att-2", attendance.PointWholeDay, "1.00",
		time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC), false)

	result, err := env.expiration.RunAmnesty(ctx, "guard-1", "admin-1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Applied)
	assert.NotEmpty(t, result.BatchID)

	tardy, err := env.mem.GetPoint(ctx, "pt-tardy")
	require.NoError(t, err)
	assert.True(t, tardy.Expired)
	assert.Equal(t, attendance.ExpirationGBRO, tardy.ExpirationType)
	assert.Equal(t, result.BatchID, tardy.GBROBatchID)

	ncns, err := env.mem.GetPoint(ctx, "pt-ncns")
	require.NoError(t, err)
	assert.False(t, ncns.Expired, "whole-day absences never qualify for amnesty")
}

func TestRunAmnesty_Rerun_TouchesNothing(t *testing.T) {
	now := time.Date(2025, 8, 1, 3, 0, 0, 0, time.UTC)
	env := newTestEnv(t, now)
	ctx := context.Background()

	seedPoint(t, env, "pt-tardy", "att-1", attendance.PointTardy, "0.25",
		time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), true)

	first, err := env.expiration.RunAmnesty(ctx, "guard-1", "admin-1")
	require.NoError(t, err)
	require.Equal(t, 1, first.Applied)

	second, err := env.expiration.RunAmnesty(ctx, "guard-1", "admin-1")
	require.NoError(t, err)
	assert.Zero(t, second.Applied)

	// The batch tag from the first run survives.
	e, err := env.mem.GetPoint(ctx, "pt-tardy")
	require.NoError(t, err)
	assert.Equal(t, first.BatchID, e.GBROBatchID)
}

// =============================================================================
// RETENTION PURGE
// =============================================================================

func TestPurgeScans_OnlyPastRetention(t *testing.T) {
	now := time.Date(2025, 11, 6, 3, 0, 0, 0, time.UTC)
	env := newTestEnv(t, now)
	ctx := context.Background()

	_, err := env.mem.AppendScans(ctx, []attendance.ScanRecord{
		{ID: "s-ancient", UserID: "guard-1", SiteID: "gate-1",
			ScannedAt: now.AddDate(0, 0, -120)},
		{ID: "s-recent", UserID: "guard-1", SiteID: "gate-1",
			ScannedAt: now.AddDate(0, 0, -5)},
	})
	require.NoError(t, err)

	purged, err := env.expiration.PurgeScans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	remaining, err := env.mem.ScansInRange(ctx, "guard-1", now.AddDate(-1, 0, 0), now)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "s-recent", remaining[0].ID)
}
