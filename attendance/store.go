/*
store.go - Persistence interfaces

PURPOSE:
  Defines the boundary between the reconciliation algorithms and the
  record store. Implementations exist for SQLite (production) and memory
  (tests/dev); the engine only ever sees these interfaces.

KEY INTERFACES:
  ScanStore:       Append-only raw scan ledger with retention purge
  AttendanceStore: One row per (user, shift date), atomic upsert
  PointStore:      Replace-set per record, conditional soft expiry
  ScheduleSource:  External collaborator supplying active schedules
  AuditLog:        Structured before/after events for every mutation

UPSERT CONTRACT:
  AttendanceStore.Upsert must be a single conditional write keyed on
  (user, shift date) - insert or merge, never a second row, never a
  read-then-write that can lose an update under concurrent uploads.

CONDITIONAL SOFT STATES:
  PointStore.MarkExpired only transitions entries that are currently
  neither expired nor excused, so the scheduled sweep can run beside live
  verification traffic without contending on in-flight transitions.

SEE ALSO:
  - store/memory.go: In-memory implementation
  - store/sqlite: Production implementation
*/
package attendance

import (
	"context"
	"time"
)

// =============================================================================
// SCAN STORE - Append-only raw scan ledger
// =============================================================================

// ScanStore persists raw biometric scans. Append-only: scans are never
// updated, and only the retention sweep deletes them.
type ScanStore interface {
	// AppendScans inserts the scans, silently skipping any whose
	// fingerprint already exists. Returns the number actually inserted.
	AppendScans(ctx context.Context, scans []ScanRecord) (int, error)

	// ScansInRange returns a user's scans with ScannedAt in [from, to).
	ScansInRange(ctx context.Context, userID UserID, from, to time.Time) ([]ScanRecord, error)

	// PurgeBefore deletes scans older than the cutoff (retention sweep).
	// Returns the number deleted.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// =============================================================================
// ATTENDANCE STORE - One canonical record per (user, shift date)
// =============================================================================

// AttendanceStore persists attendance records under a uniqueness guarantee
// on (user, shift date).
type AttendanceStore interface {
	// Upsert inserts the record or merges the derived fields into the
	// existing row for the same key, atomically. Verification flags,
	// the advisory flag, and notes on an existing row are preserved,
	// except that a row completed by the incoming data drops its
	// partially-verified flag. Returns the stored row and whether it
	// was created.
	Upsert(ctx context.Context, rec AttendanceRecord) (AttendanceRecord, bool, error)

	// Update replaces a record conditioned on its version; returns
	// ErrConcurrentModification on a lost race. Used by admin workflows.
	Update(ctx context.Context, rec AttendanceRecord) (AttendanceRecord, error)

	// Get returns the record for a key, or ErrRecordNotFound.
	Get(ctx context.Context, key RecordKey) (AttendanceRecord, error)

	// GetByID returns the record with the given id, or ErrRecordNotFound.
	GetByID(ctx context.Context, id RecordID) (AttendanceRecord, error)

	// ListRange returns a user's records with shift dates in [from, to],
	// ordered by shift date.
	ListRange(ctx context.Context, userID UserID, from, to time.Time) ([]AttendanceRecord, error)

	// Exists reports whether a record exists for the key.
	Exists(ctx context.Context, key RecordKey) (bool, error)
}

// =============================================================================
// POINT STORE - Derived point entries with soft expiry
// =============================================================================

// PointStore persists point entries. Re-verification replaces a record's
// entry set wholesale; expiration and excusal are conditional flag flips.
type PointStore interface {
	// ReplaceForRecord atomically swaps the entry set owned by a record.
	ReplaceForRecord(ctx context.Context, recordID RecordID, entries []PointEntry) error

	// ListByRecord returns the entries owned by a record.
	ListByRecord(ctx context.Context, recordID RecordID) ([]PointEntry, error)

	// ListByUser returns all of a user's entries.
	ListByUser(ctx context.Context, userID UserID) ([]PointEntry, error)

	// ListActive returns a user's non-expired, non-excused entries.
	// Backed by the (user, expired, excused) index; this is the hot path
	// for the leave-eligibility consumer.
	ListActive(ctx context.Context, userID UserID) ([]PointEntry, error)

	// ListExpirable returns entries whose ExpiresAt has passed and that
	// are still active (sweep input).
	ListExpirable(ctx context.Context, asOf time.Time) ([]PointEntry, error)

	// ListAmnestyEligible returns a user's active entries with
	// EligibleForGBRO set.
	ListAmnestyEligible(ctx context.Context, userID UserID) ([]PointEntry, error)

	// MarkExpired flips the expired flag, guarded on the entry currently
	// being active. Returns ErrPointSettled if the guard fails, which
	// makes sweeps and amnesty batches safely re-runnable.
	MarkExpired(ctx context.Context, id PointID, expType ExpirationType, batchID string, at time.Time) error

	// Excuse permanently excludes an entry from active totals, recording
	// the excusing actor and reason. Guarded like MarkExpired.
	Excuse(ctx context.Context, id PointID, actor, reason string) error

	// GetPoint returns one entry, or ErrPointNotFound.
	GetPoint(ctx context.Context, id PointID) (PointEntry, error)
}

// =============================================================================
// SCHEDULE SOURCE - External collaborator boundary
// =============================================================================

// ScheduleSource supplies active schedules. Schedule management itself
// (creation, versioning) lives outside this engine.
type ScheduleSource interface {
	// ActiveSchedule returns the schedule active for the user on the
	// date, or ErrMissingSchedule.
	ActiveSchedule(ctx context.Context, userID UserID, date time.Time) (Schedule, error)

	// ActiveUsers returns the users with any schedule active on the date.
	// The NCNS finalizer iterates this.
	ActiveUsers(ctx context.Context, date time.Time) ([]UserID, error)
}

// =============================================================================
// AUDIT LOG - Structured mutation events
// =============================================================================

type AuditAction string

const (
	AuditRecordCreated     AuditAction = "record_created"
	AuditRecordUpdated     AuditAction = "record_updated"
	AuditPartialApproval   AuditAction = "record_partially_verified"
	AuditFullVerification  AuditAction = "record_verified"
	AuditPointsReconciled  AuditAction = "points_reconciled"
	AuditPointExpired      AuditAction = "point_expired"
	AuditPointExcused      AuditAction = "point_excused"
	AuditAmnestyApplied    AuditAction = "amnesty_applied"
	AuditRetentionPurge    AuditAction = "retention_purge"
)

// AuditEvent records who changed what. Before/After hold compact status
// summaries, not full row dumps.
type AuditEvent struct {
	ID       string
	At       time.Time
	ActorID  string // "system" for scheduled sweeps
	Action   AuditAction
	UserID   UserID
	RecordID RecordID
	PointID  PointID
	Before   string
	After    string
	Reason   string
}

// AuditLog stores audit events. Append-only.
type AuditLog interface {
	Append(ctx context.Context, event AuditEvent) error
	Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
}

type AuditFilter struct {
	UserID   *UserID
	RecordID *RecordID
	Actions  []AuditAction
	From     *time.Time
	To       *time.Time
}
