/*
Package engine orchestrates the attendance core against the stores.

PURPOSE:
  The attendance package holds the pure rules; this package wires them to
  persistence and runs the operational flows: upload processing, point
  reconciliation, scheduled expiration, and the verification workflow.

COMPONENTS:
  Reconciler:           Upload ingestion and per-shift record upserts
  PointEngine:          Keeps stored point sets matching record outcomes
  ExpirationProcessor:  SRO sweep, GBRO amnesty, scan retention purge
  VerificationWorkflow: Partial approval, full verification, excusal

PROCESSING MODEL:
  Each upload is one unit of work. Units may run concurrently; the
  AttendanceStore's atomic upsert serializes writes to the same
  (user, shift date) without application-level locking. Per-scan failures
  are isolated into the batch summary and never abort the upload.

SEE ALSO:
  - attendance: Pure rules and store interfaces
  - api: HTTP surface and background sweep scheduler
*/
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// RECONCILER - Upload ingestion
// =============================================================================

// ScanInput is one parsed scan tuple handed over by the upload subsystem.
// Identity resolution already happened upstream.
type ScanInput struct {
	UserID    attendance.UserID
	SiteID    attendance.SiteID
	ScannedAt time.Time
}

// ScanError describes one scan that could not be fully processed.
type ScanError struct {
	UserID    attendance.UserID
	ScannedAt time.Time
	Reason    string
}

// UploadResult summarizes one processed upload. Batch callers get counts,
// not a thrown error on the first bad scan.
type UploadResult struct {
	UploadID      attendance.UploadID
	Received      int
	NewScans      int
	Created       int
	Updated       int
	Skipped       int
	FlaggedReview int
	Errors        []ScanError
}

type Reconciler struct {
	Config    attendance.Config
	Scans     attendance.ScanStore
	Records   attendance.AttendanceStore
	Schedules attendance.ScheduleSource
	Points    *PointEngine
	Audit     attendance.AuditLog

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewReconciler(cfg attendance.Config, scans attendance.ScanStore, records attendance.AttendanceStore,
	schedules attendance.ScheduleSource, points *PointEngine, audit attendance.AuditLog) *Reconciler {
	return &Reconciler{
		Config:    cfg,
		Scans:     scans,
		Records:   records,
		Schedules: schedules,
		Points:    points,
		Audit:     audit,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// ProcessUpload ingests one upload's scans: append to the raw ledger,
// resolve each scan to its shift, and reconcile every touched
// (user, shift date) group. Reprocessing the same upload is a no-op.
func (r *Reconciler) ProcessUpload(ctx context.Context, uploadID attendance.UploadID, scans []ScanInput) (UploadResult, error) {
	result := UploadResult{UploadID: uploadID, Received: len(scans)}

	records := make([]attendance.ScanRecord, 0, len(scans))
	for _, in := range scans {
		records = append(records, attendance.ScanRecord{
			ID:        uuid.NewString(),
			UserID:    in.UserID,
			SiteID:    in.SiteID,
			ScannedAt: in.ScannedAt.UTC(),
			UploadID:  uploadID,
		})
	}

	inserted, err := r.Scans.AppendScans(ctx, records)
	if err != nil {
		return result, fmt.Errorf("failed to append scans: %w", err)
	}
	result.NewScans = inserted

	// Resolve every scan independently; one upload can carry yesterday's
	// departure and today's arrival for the same user.
	type group struct {
		userID    attendance.UserID
		shiftDate time.Time
		schedule  attendance.Schedule
	}
	groups := make(map[attendance.RecordKey]group)

	for _, scan := range records {
		sched, err := r.Schedules.ActiveSchedule(ctx, scan.UserID, attendance.DateOf(scan.ScannedAt))
		if err != nil {
			// Data quality problem: flag for manual review and move on.
			if flagErr := r.flagForReview(ctx, scan, err); flagErr != nil {
				result.Errors = append(result.Errors, ScanError{
					UserID: scan.UserID, ScannedAt: scan.ScannedAt, Reason: flagErr.Error(),
				})
			} else {
				result.FlaggedReview++
			}
			continue
		}

		a := attendance.ResolveShift(scan.ScannedAt, sched)
		if !a.ShiftDate.Equal(attendance.DateOf(scan.ScannedAt)) {
			// A cross-midnight departure belongs to the previous day's
			// shift, which may fall under an older schedule version.
			// Reconcile under the version active on the shift date itself;
			// if that day has no version, the scan-date one stands.
			if prev, err := r.Schedules.ActiveSchedule(ctx, scan.UserID, a.ShiftDate); err == nil {
				sched = prev
			}
		}
		key := attendance.RecordKey{UserID: scan.UserID, ShiftDate: a.ShiftDate}
		groups[key] = group{userID: scan.UserID, shiftDate: a.ShiftDate, schedule: sched}
	}

	for _, g := range groups {
		created, changed, err := r.ReconcileShift(ctx, g.userID, g.shiftDate, g.schedule)
		switch {
		case err != nil:
			log.Printf("[Reconciler] %s/%s: %v", g.userID, g.shiftDate.Format("2006-01-02"), err)
			result.Errors = append(result.Errors, ScanError{
				UserID: g.userID, ScannedAt: g.shiftDate, Reason: err.Error(),
			})
		case created:
			result.Created++
		case changed:
			result.Updated++
		default:
			result.Skipped++
		}
	}

	return result, nil
}

// ReconcileShift recomputes the record for one (user, shift date) from the
// full distinct scan set and upserts it. Returns (created, changed).
func (r *Reconciler) ReconcileShift(ctx context.Context, userID attendance.UserID, shiftDate time.Time, sched attendance.Schedule) (bool, bool, error) {
	shiftDate = attendance.DateOf(shiftDate)
	from, to := attendance.ScanWindow(shiftDate, sched)

	scans, err := r.Scans.ScansInRange(ctx, userID, from, to)
	if err != nil {
		return false, false, fmt.Errorf("failed to load scans: %w", err)
	}

	key := attendance.RecordKey{UserID: userID, ShiftDate: shiftDate}
	existing, err := r.Records.Get(ctx, key)
	exists := err == nil
	if err != nil && !attendance.IsNotFound(err) {
		return false, false, err
	}
	if exists && existing.AdminVerified && existing.Complete() {
		// A verified, complete record is settled; late duplicate uploads
		// must not disturb it.
		return false, false, nil
	}

	advised := exists && existing.Advised
	outcome := attendance.ReconcileScans(shiftDate, sched, r.Config, scans, advised, r.Now())

	schedIn, schedOut := sched.ScheduledWindow(shiftDate)
	desired := attendance.AttendanceRecord{
		UserID:       userID,
		ShiftDate:    shiftDate,
		ScheduledIn:  schedIn,
		ScheduledOut: schedOut,
		GraceMinutes: r.Config.GraceFor(sched),
		Advised:      advised,
	}
	desired = outcome.Apply(desired)

	if exists && sameDerivedState(existing, desired) {
		// Nothing the reconciler owns would change. Skipping the upsert
		// keeps the stored record byte-for-byte unchanged across duplicate
		// uploads and leaves the version token alone for any concurrent
		// admin update.
		if err := r.Points.ReconcileRecord(ctx, existing); err != nil {
			return false, false, fmt.Errorf("failed to reconcile points: %w", err)
		}
		return false, false, nil
	}

	stored, created, err := r.Records.Upsert(ctx, desired)
	if err != nil {
		return false, false, fmt.Errorf("failed to upsert record: %w", err)
	}

	action := attendance.AuditRecordUpdated
	before := ""
	if created {
		action = attendance.AuditRecordCreated
	} else {
		before = statusSummary(existing)
	}
	r.audit(ctx, attendance.AuditEvent{
		ActorID:  "system",
		Action:   action,
		UserID:   userID,
		RecordID: stored.ID,
		Before:   before,
		After:    statusSummary(stored),
	})

	if err := r.Points.ReconcileRecord(ctx, stored); err != nil {
		return created, true, fmt.Errorf("failed to reconcile points: %w", err)
	}
	return created, true, nil
}

// flagForReview records a data-quality failure on a review-flagged record
// anchored on the scan's own calendar date, so the upload keeps going.
func (r *Reconciler) flagForReview(ctx context.Context, scan attendance.ScanRecord, cause error) error {
	day := attendance.DateOf(scan.ScannedAt)

	exists, err := r.Records.Exists(ctx, attendance.RecordKey{UserID: scan.UserID, ShiftDate: day})
	if err != nil {
		return err
	}
	if exists {
		// Already flagged, or since resolved by an admin. Re-upserting
		// would churn the version for no new information.
		return nil
	}

	t := scan.ScannedAt.UTC()
	rec := attendance.AttendanceRecord{
		UserID:    scan.UserID,
		ShiftDate: day,
		ActualIn:  &t,
		SiteIn:    scan.SiteID,
		Status:    attendance.StatusNeedsManualReview,
		Notes:     cause.Error(),
	}
	stored, created, err := r.Records.Upsert(ctx, rec)
	if err != nil {
		return err
	}
	if created {
		r.audit(ctx, attendance.AuditEvent{
			ActorID:  "system",
			Action:   attendance.AuditRecordCreated,
			UserID:   scan.UserID,
			RecordID: stored.ID,
			After:    string(attendance.StatusNeedsManualReview),
			Reason:   cause.Error(),
		})
	}
	return nil
}

// =============================================================================
// NCNS FINALIZATION - Close out elapsed shifts with no scans
// =============================================================================

// FinalizeResult summarizes one finalization pass.
type FinalizeResult struct {
	Checked   int
	Finalized int
	Skipped   int
	Errors    []ScanError
}

// FinalizeDate closes out the given shift date for every scheduled user:
// anyone whose shift has fully elapsed with no record gets an NCNS (or
// advised absence) record and the corresponding whole-day point.
func (r *Reconciler) FinalizeDate(ctx context.Context, date time.Time) (FinalizeResult, error) {
	date = attendance.DateOf(date)
	result := FinalizeResult{}

	users, err := r.Schedules.ActiveUsers(ctx, date)
	if err != nil {
		return result, fmt.Errorf("failed to list scheduled users: %w", err)
	}

	now := r.Now()
	for _, userID := range users {
		result.Checked++

		sched, err := r.Schedules.ActiveSchedule(ctx, userID, date)
		if err != nil {
			result.Errors = append(result.Errors, ScanError{UserID: userID, ScannedAt: date, Reason: err.Error()})
			continue
		}
		if !sched.WorksOn(date.Weekday()) {
			result.Skipped++
			continue
		}
		if _, schedOut := sched.ScheduledWindow(date); now.Before(schedOut) {
			// Shift still open.
			result.Skipped++
			continue
		}
		exists, err := r.Records.Exists(ctx, attendance.RecordKey{UserID: userID, ShiftDate: date})
		if err != nil {
			result.Errors = append(result.Errors, ScanError{UserID: userID, ScannedAt: date, Reason: err.Error()})
			continue
		}
		if exists {
			result.Skipped++
			continue
		}

		if _, _, err := r.ReconcileShift(ctx, userID, date, sched); err != nil {
			result.Errors = append(result.Errors, ScanError{UserID: userID, ScannedAt: date, Reason: err.Error()})
			continue
		}
		result.Finalized++
	}
	return result, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (r *Reconciler) audit(ctx context.Context, event attendance.AuditEvent) {
	if r.Audit == nil {
		return
	}
	event.ID = uuid.NewString()
	event.At = r.Now()
	if err := r.Audit.Append(ctx, event); err != nil {
		log.Printf("[Reconciler] audit append failed: %v", err)
	}
}

func statusSummary(rec attendance.AttendanceRecord) string {
	if rec.SecondaryStatus != "" {
		return fmt.Sprintf("%s+%s", rec.Status, rec.SecondaryStatus)
	}
	return string(rec.Status)
}

// sameDerivedState reports whether an upsert of desired would change any
// field the reconciler owns on existing. Admin-owned fields never enter
// the comparison; the stores preserve them on merge anyway.
func sameDerivedState(existing, desired attendance.AttendanceRecord) bool {
	if existing.PartiallyVerified && desired.Complete() {
		// Completion clears the partially-verified flag.
		return false
	}
	if desired.SiteIn != "" && desired.SiteIn != existing.SiteIn {
		return false
	}
	if desired.SiteOut != "" && desired.SiteOut != existing.SiteOut {
		return false
	}
	return existing.Status == desired.Status &&
		existing.SecondaryStatus == desired.SecondaryStatus &&
		existing.TardyMinutes == desired.TardyMinutes &&
		existing.UndertimeMinutes == desired.UndertimeMinutes &&
		sameTime(existing.ActualIn, desired.ActualIn) &&
		sameTime(existing.ActualOut, desired.ActualOut)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
