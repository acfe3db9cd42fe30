/*
verification.go - Human verification workflow

PURPOSE:
  Lets a reviewer confirm or correct attendance records:

  Partial approval - permitted only while a counterpart scan is still
  missing. Marks the record verified + partially verified, optionally
  overriding the status, and reconciles points against the confirmed
  outcome. Attempting it on a complete record is a hard error.

  Full verification - supplies the missing counterpart timestamp, clears
  the partially-verified flag, recomputes the outcome against the frozen
  scheduled window, and re-runs the point engine. The resulting record
  matches what a single-pass reconciliation of complete data would give.

  Excusal - a permanent manual override on one point entry, recorded with
  the excusing actor and reason.

  Batch variants apply the single-record rule independently per id;
  already-complete records are skipped, not fatal to the batch.

SEE ALSO:
  - attendance/reconcile.go: Outcome recomputation
  - points.go: Point set replacement on every transition
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

const updateRetries = 3

type VerificationWorkflow struct {
	Config  attendance.Config
	Records attendance.AttendanceStore
	Points  *PointEngine
	Ledger  attendance.PointStore
	Audit   attendance.AuditLog

	Now func() time.Time
}

func NewVerificationWorkflow(cfg attendance.Config, records attendance.AttendanceStore, points *PointEngine,
	ledger attendance.PointStore, audit attendance.AuditLog) *VerificationWorkflow {
	return &VerificationWorkflow{
		Config:  cfg,
		Records: records,
		Points:  points,
		Ledger:  ledger,
		Audit:   audit,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// PARTIAL APPROVAL
// =============================================================================

// PartialApprovalInput confirms an incomplete record as-is.
type PartialApprovalInput struct {
	RecordID       attendance.RecordID
	ActorID        string
	OverrideStatus *attendance.Status
	Advised        bool
	Notes          string
}

// PartialApprove verifies a record whose counterpart scan is still
// missing. Rejected with ErrRecordComplete when both sides exist - a
// complete record goes through full verification instead.
func (vw *VerificationWorkflow) PartialApprove(ctx context.Context, in PartialApprovalInput) (attendance.AttendanceRecord, error) {
	var updated attendance.AttendanceRecord

	err := vw.withRetry(func() error {
		rec, err := vw.Records.GetByID(ctx, in.RecordID)
		if err != nil {
			return err
		}
		if rec.Complete() {
			return &attendance.CompleteRecordError{RecordID: rec.ID, UserID: rec.UserID, ShiftDate: rec.ShiftDate}
		}

		before := statusSummary(rec)
		rec.AdminVerified = true
		rec.PartiallyVerified = true
		if in.Advised {
			rec.Advised = true
		}
		if in.OverrideStatus != nil {
			rec.Status = *in.OverrideStatus
		}
		if in.Notes != "" {
			rec.Notes = in.Notes
		}

		updated, err = vw.Records.Update(ctx, rec)
		if err != nil {
			return err
		}

		vw.audit(ctx, attendance.AuditEvent{
			ActorID:  in.ActorID,
			Action:   attendance.AuditPartialApproval,
			UserID:   updated.UserID,
			RecordID: updated.ID,
			Before:   before,
			After:    statusSummary(updated),
			Reason:   in.Notes,
		})
		return nil
	})
	if err != nil {
		return attendance.AttendanceRecord{}, err
	}

	if err := vw.Points.ReconcileRecord(ctx, updated); err != nil {
		return updated, err
	}
	return updated, nil
}

// =============================================================================
// FULL VERIFICATION
// =============================================================================

// VerifyInput completes a record by supplying the missing counterpart.
type VerifyInput struct {
	RecordID    attendance.RecordID
	ActorID     string
	Counterpart *time.Time // nil confirms an already-complete record
	Site        attendance.SiteID
	Notes       string
}

// Verify fills in the missing scan side, recomputes the outcome against
// the record's frozen scheduled window, clears the partially-verified
// flag, and re-runs the point engine. Supplying a counterpart for a
// record that already has both sides is rejected with ErrRecordComplete.
func (vw *VerificationWorkflow) Verify(ctx context.Context, in VerifyInput) (attendance.AttendanceRecord, error) {
	var updated attendance.AttendanceRecord

	err := vw.withRetry(func() error {
		rec, err := vw.Records.GetByID(ctx, in.RecordID)
		if err != nil {
			return err
		}
		before := statusSummary(rec)

		if in.Counterpart != nil {
			if rec.Complete() {
				// Both sides already exist, so there is no slot for the
				// supplied timestamp. Rejecting beats dropping an
				// operator's correction on the floor; a complete record
				// is confirmed by verifying with no counterpart.
				return &attendance.CompleteRecordError{RecordID: rec.ID, UserID: rec.UserID, ShiftDate: rec.ShiftDate}
			}
			t := in.Counterpart.UTC()
			switch {
			case rec.ActualIn == nil && rec.ActualOut != nil:
				rec.ActualIn = &t
				if in.Site != "" {
					rec.SiteIn = in.Site
				}
			default:
				rec.ActualOut = &t
				if in.Site != "" {
					rec.SiteOut = in.Site
				}
			}
		}

		outcome := attendance.ComputeOutcome(
			rec.ScheduledIn, rec.ScheduledOut, rec.GraceMinutes, vw.Config,
			rec.ActualIn, rec.ActualOut, rec.Advised, vw.Now().After(rec.ScheduledOut),
		)
		rec = outcome.Apply(rec)
		rec.AdminVerified = true
		rec.PartiallyVerified = false
		if in.Notes != "" {
			rec.Notes = in.Notes
		}

		updated, err = vw.Records.Update(ctx, rec)
		if err != nil {
			return err
		}

		vw.audit(ctx, attendance.AuditEvent{
			ActorID:  in.ActorID,
			Action:   attendance.AuditFullVerification,
			UserID:   updated.UserID,
			RecordID: updated.ID,
			Before:   before,
			After:    statusSummary(updated),
			Reason:   in.Notes,
		})
		return nil
	})
	if err != nil {
		return attendance.AttendanceRecord{}, err
	}

	if err := vw.Points.ReconcileRecord(ctx, updated); err != nil {
		return updated, err
	}
	return updated, nil
}

// =============================================================================
// EXCUSAL
// =============================================================================

// Excuse permanently excludes one point entry from active totals.
func (vw *VerificationWorkflow) Excuse(ctx context.Context, pointID attendance.PointID, actorID, reason string) error {
	entry, err := vw.Ledger.GetPoint(ctx, pointID)
	if err != nil {
		return err
	}
	if err := vw.Ledger.Excuse(ctx, pointID, actorID, reason); err != nil {
		return err
	}
	vw.audit(ctx, attendance.AuditEvent{
		ActorID:  actorID,
		Action:   attendance.AuditPointExcused,
		UserID:   entry.UserID,
		RecordID: entry.RecordID,
		PointID:  pointID,
		Before:   "active",
		After:    "excused",
		Reason:   reason,
	})
	return nil
}

// =============================================================================
// BATCH VARIANTS - Skip, don't fail
// =============================================================================

// BatchItemError describes one record that failed inside a batch.
type BatchItemError struct {
	RecordID attendance.RecordID
	Reason   string
}

// BatchResult summarizes a batch verification operation.
type BatchResult struct {
	Processed int
	Skipped   int
	Failed    int
	Errors    []BatchItemError
}

// BatchPartialApprove applies PartialApprove independently per record.
// Records that are already complete are skipped, not fatal.
func (vw *VerificationWorkflow) BatchPartialApprove(ctx context.Context, ids []attendance.RecordID, actorID string) BatchResult {
	result := BatchResult{}
	for _, id := range ids {
		_, err := vw.PartialApprove(ctx, PartialApprovalInput{RecordID: id, ActorID: actorID})
		switch {
		case errors.Is(err, attendance.ErrRecordComplete):
			result.Skipped++
		case err != nil:
			result.Failed++
			result.Errors = append(result.Errors, BatchItemError{RecordID: id, Reason: err.Error()})
		default:
			result.Processed++
		}
	}
	return result
}

// BatchVerify applies Verify independently per item.
func (vw *VerificationWorkflow) BatchVerify(ctx context.Context, items []VerifyInput) BatchResult {
	result := BatchResult{}
	for _, item := range items {
		_, err := vw.Verify(ctx, item)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, BatchItemError{RecordID: item.RecordID, Reason: err.Error()})
			continue
		}
		result.Processed++
	}
	return result
}

// =============================================================================
// HELPERS
// =============================================================================

// withRetry re-reads and re-applies on optimistic-lock conflicts instead
// of overwriting the other writer's result.
func (vw *VerificationWorkflow) withRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < updateRetries; attempt++ {
		if err = fn(); !attendance.IsRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("update did not settle after %d attempts: %w", updateRetries, err)
}

func (vw *VerificationWorkflow) audit(ctx context.Context, event attendance.AuditEvent) {
	if vw.Audit == nil {
		return
	}
	event.ID = uuid.NewString()
	event.At = vw.Now()
	if err := vw.Audit.Append(ctx, event); err != nil {
		log.Printf("[Verification] audit append failed: %v", err)
	}
}
