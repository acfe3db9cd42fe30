/*
errors.go - Centralized error types for the attendance engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch on sentinels with errors.Is(); structured variants carry
  context for the HTTP layer and batch summaries.

ERROR CATEGORIES:
  1. Data quality  - missing schedules, unknown users; recorded as review
     flags on the record, never fatal to a batch
  2. Invariant violations - e.g. partial approval of a complete record;
     rejected synchronously with no state change
  3. Concurrency conflicts - two processes racing on the same shift;
     retried, never silently overwritten

SEE ALSO:
  - engine: wraps these with batch summaries
*/
package attendance

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrRecordNotFound is returned when a referenced attendance record
	// doesn't exist.
	ErrRecordNotFound = errors.New("attendance record not found")

	// ErrPointNotFound is returned when a referenced point entry doesn't exist.
	ErrPointNotFound = errors.New("point entry not found")

	// ErrMissingSchedule is returned when no active schedule covers a
	// scan's date. The reconciler converts this into a manual-review flag
	// instead of failing the upload.
	ErrMissingSchedule = errors.New("no active schedule for date")

	// ErrRecordComplete is returned when partial approval is attempted on
	// a record that already has both scan sides. Complete records go
	// through full verification instead.
	ErrRecordComplete = errors.New("record already complete")

	// ErrConcurrentModification is returned when a conditional write loses
	// a race. Safe to retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrPointSettled is returned when expiring or excusing an entry that
	// is already expired or excused.
	ErrPointSettled = errors.New("point entry already expired or excused")

	// ErrNotAmnestyEligible is returned when a good-behavior rollout is
	// attempted on an ineligible entry (whole-day absences never qualify).
	ErrNotAmnestyEligible = errors.New("point entry not eligible for amnesty")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ScheduleLookupError reports which user/date had no active schedule.
type ScheduleLookupError struct {
	UserID UserID
	Date   time.Time
}

func (e *ScheduleLookupError) Error() string {
	return fmt.Sprintf("no active schedule for %s on %s", e.UserID, e.Date.Format("2006-01-02"))
}

func (e *ScheduleLookupError) Unwrap() error { return ErrMissingSchedule }

// CompleteRecordError reports a partial-approval attempt on a complete record.
type CompleteRecordError struct {
	RecordID  RecordID
	UserID    UserID
	ShiftDate time.Time
}

func (e *CompleteRecordError) Error() string {
	return fmt.Sprintf("record %s (%s, %s) already has both scans; use full verification",
		e.RecordID, e.UserID, e.ShiftDate.Format("2006-01-02"))
}

func (e *CompleteRecordError) Unwrap() error { return ErrRecordComplete }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrRecordComplete) ||
		errors.Is(err, ErrPointSettled) ||
		errors.Is(err, ErrNotAmnestyEligible)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrPointNotFound)
}
