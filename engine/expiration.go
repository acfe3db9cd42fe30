/*
expiration.go - Point expiration processor

PURPOSE:
  Two independent soft-expiry mechanisms over the point ledger:

  SRO (standard rollout): every entry carries an expires_at computed at
  creation (6 months after the shift date, 12 for whole-day absences).
  A scheduled sweep flips entries past their horizon to expired.

  GBRO (good-behavior rollout): an administrator-triggered batch that
  expires a user's eligible active entries early, tagged with a batch id
  for audit. Whole-day absences are never eligible.

SAFETY:
  Both mechanisms use the store's conditional MarkExpired, so a sweep can
  run beside live verification traffic and both operations are safely
  re-runnable: entries already settled are skipped, not failed. A failure
  on one entry never blocks the rest of the population.

SEE ALSO:
  - attendance/config.go: Expiration horizons
  - api/scheduler.go: Drives the scheduled sweep
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/warp/attendance-engine/attendance"
)

type ExpirationProcessor struct {
	Config attendance.Config
	Points attendance.PointStore
	Scans  attendance.ScanStore
	Audit  attendance.AuditLog

	Now func() time.Time
}

func NewExpirationProcessor(cfg attendance.Config, points attendance.PointStore, scans attendance.ScanStore, audit attendance.AuditLog) *ExpirationProcessor {
	return &ExpirationProcessor{
		Config: cfg,
		Points: points,
		Scans:  scans,
		Audit:  audit,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// SweepResult summarizes one expiration pass.
type SweepResult struct {
	Scanned int
	Expired int
	Skipped int
	Failed  int
}

// SweepSRO marks every active entry whose horizon has passed as expired.
func (ep *ExpirationProcessor) SweepSRO(ctx context.Context) (SweepResult, error) {
	asOf := ep.Now()
	result := SweepResult{}

	entries, err := ep.Points.ListExpirable(ctx, asOf)
	if err != nil {
		return result, fmt.Errorf("failed to list expirable points: %w", err)
	}
	result.Scanned = len(entries)

	for _, e := range entries {
		err := ep.Points.MarkExpired(ctx, e.ID, attendance.ExpirationSRO, "", asOf)
		switch {
		case errors.Is(err, attendance.ErrPointSettled):
			// Lost the race to an excusal or a concurrent sweep.
			result.Skipped++
		case err != nil:
			log.Printf("[Expiration] failed to expire %s: %v", e.ID, err)
			result.Failed++
		default:
			result.Expired++
			ep.audit(ctx, attendance.AuditEvent{
				ActorID: "system",
				Action:  attendance.AuditPointExpired,
				UserID:  e.UserID,
				PointID: e.ID,
				Before:  "active",
				After:   string(attendance.ExpirationSRO),
			})
		}
	}
	return result, nil
}

// AmnestyResult summarizes one good-behavior rollout batch.
type AmnestyResult struct {
	BatchID string
	Applied int
	Skipped int
	Failed  int
}

// RunAmnesty expires all of a user's currently-eligible active entries
// ahead of schedule, under a fresh batch id. Re-running after a partial
// failure only touches what the first run missed.
func (ep *ExpirationProcessor) RunAmnesty(ctx context.Context, userID attendance.UserID, actorID string) (AmnestyResult, error) {
	result := AmnestyResult{BatchID: uuid.NewString()}
	asOf := ep.Now()

	entries, err := ep.Points.ListAmnestyEligible(ctx, userID)
	if err != nil {
		return result, fmt.Errorf("failed to list amnesty-eligible points: %w", err)
	}

	for _, e := range entries {
		err := ep.Points.MarkExpired(ctx, e.ID, attendance.ExpirationGBRO, result.BatchID, asOf)
		switch {
		case errors.Is(err, attendance.ErrPointSettled):
			result.Skipped++
		case err != nil:
			log.Printf("[Expiration] amnesty failed for %s: %v", e.ID, err)
			result.Failed++
		default:
			result.Applied++
			ep.audit(ctx, attendance.AuditEvent{
				ActorID: actorID,
				Action:  attendance.AuditAmnestyApplied,
				UserID:  userID,
				PointID: e.ID,
				Before:  "active",
				After:   string(attendance.ExpirationGBRO),
				Reason:  result.BatchID,
			})
		}
	}
	return result, nil
}

// PurgeScans deletes raw scans older than the retention window. Attendance
// records are the audit trail and are never touched.
func (ep *ExpirationProcessor) PurgeScans(ctx context.Context) (int, error) {
	cutoff := ep.Now().AddDate(0, 0, -ep.Config.ScanRetentionDays)
	purged, err := ep.Scans.PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge scans: %w", err)
	}
	if purged > 0 {
		ep.audit(ctx, attendance.AuditEvent{
			ActorID: "system",
			Action:  attendance.AuditRetentionPurge,
			After:   fmt.Sprintf("purged %d scans before %s", purged, cutoff.Format("2006-01-02")),
		})
	}
	return purged, nil
}

func (ep *ExpirationProcessor) audit(ctx context.Context, event attendance.AuditEvent) {
	if ep.Audit == nil {
		return
	}
	event.ID = uuid.NewString()
	event.At = ep.Now()
	if err := ep.Audit.Append(ctx, event); err != nil {
		log.Printf("[Expiration] audit append failed: %v", err)
	}
}
