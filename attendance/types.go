/*
Package attendance provides the core attendance reconciliation engine.

PURPOSE:
  This package contains the typed entities and pure algorithms for turning
  raw biometric scan events into canonical attendance records and derived
  disciplinary point entries. Everything here is independent of storage and
  transport - the functions operate on immutable snapshots and can be unit
  tested without a database.

KEY CONCEPTS IN THIS FILE (types.go):
  - ScanRecord: An immutable raw biometric event (user, site, timestamp)
  - Schedule: A versioned per-user shift definition with a grace period
  - AttendanceRecord: The canonical unit - one per (user, shift date)
  - PointEntry: A disciplinary point derived from a record's outcome

DESIGN PRINCIPLES:
  1. Immutability: ScanRecords are never updated after insert
  2. Precision: Uses decimal.Decimal for point values (0.25/0.50/1.00)
  3. One record per shift: merging, never duplication, on new scans
  4. Soft states: points expire or get excused, they are never erased

SEE ALSO:
  - shift.go: Shift date resolution (cross-midnight handling)
  - reconcile.go: Status transition rules
  - points.go: Point derivation from record outcomes
  - store.go: Persistence interfaces
*/
package attendance

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type SiteID string
type UploadID string
type RecordID string
type PointID string

// =============================================================================
// SCAN RECORD - Raw biometric event (append-only)
// =============================================================================

// ScanRecord is one biometric clock event. Identity resolution happens
// upstream; by the time a scan reaches this engine the user is known.
// ScanRecords are never updated; the retention sweep is the only deletion.
type ScanRecord struct {
	ID        string
	UserID    UserID
	SiteID    SiteID
	ScannedAt time.Time
	UploadID  UploadID
	CreatedAt time.Time
}

// Fingerprint identifies the scan independent of which upload carried it.
// Re-uploading the same file yields the same fingerprints, which is what
// makes reprocessing idempotent.
func (s ScanRecord) Fingerprint() string {
	return fmt.Sprintf("%s|%s|%d", s.UserID, s.SiteID, s.ScannedAt.UTC().Unix())
}

// =============================================================================
// SCHEDULE - Versioned shift definition (external collaborator boundary)
// =============================================================================

type ShiftType string

const (
	ShiftMorning   ShiftType = "morning"
	ShiftAfternoon ShiftType = "afternoon"
	ShiftNight     ShiftType = "night"
	ShiftGraveyard ShiftType = "graveyard"
	ShiftUtility   ShiftType = "utility_24h"
)

// ClockTime is a wall-clock time of day, independent of date.
type ClockTime struct {
	Hour   int
	Minute int
}

func NewClockTime(hour, minute int) ClockTime { return ClockTime{Hour: hour, Minute: minute} }

// On anchors the clock time onto a calendar day (UTC).
func (c ClockTime) On(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, 0, 0, time.UTC)
}

func (c ClockTime) MinutesOfDay() int { return c.Hour*60 + c.Minute }

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// Schedule describes one user's active shift. Schedules are versioned by
// effective range and never deleted; at most one is active per user per date.
type Schedule struct {
	ID            string
	UserID        UserID
	ShiftType     ShiftType
	TimeIn        ClockTime
	TimeOut       ClockTime
	GraceMinutes  int
	WorkDays      []time.Weekday
	EffectiveFrom time.Time
	EffectiveTo   *time.Time // nil = open-ended
}

// CrossesMidnight reports whether the shift spans into the next calendar
// day (e.g. 22:00-07:00). The comparison is on the start/end hours, which
// is the same rule the shift resolver uses to route scans.
func (s Schedule) CrossesMidnight() bool { return s.TimeIn.Hour > s.TimeOut.Hour }

// ActiveOn reports whether the schedule covers the given date.
func (s Schedule) ActiveOn(date time.Time) bool {
	d := DateOf(date)
	if d.Before(DateOf(s.EffectiveFrom)) {
		return false
	}
	if s.EffectiveTo != nil && d.After(DateOf(*s.EffectiveTo)) {
		return false
	}
	return true
}

// WorksOn reports whether the weekday is one of the schedule's work days.
// An empty WorkDays list means every day (24h utility posts).
func (s Schedule) WorksOn(day time.Weekday) bool {
	if len(s.WorkDays) == 0 {
		return true
	}
	for _, wd := range s.WorkDays {
		if wd == day {
			return true
		}
	}
	return false
}

// ScheduledWindow returns the concrete scheduled in/out instants for a
// given shift date, pushing the out time to the next day for shifts that
// cross midnight.
func (s Schedule) ScheduledWindow(shiftDate time.Time) (in, out time.Time) {
	in = s.TimeIn.On(shiftDate)
	out = s.TimeOut.On(shiftDate)
	if s.CrossesMidnight() {
		out = out.AddDate(0, 0, 1)
	}
	return in, out
}

// =============================================================================
// ATTENDANCE RECORD - Canonical unit of reconciliation
// =============================================================================

type Status string

const (
	StatusOnTime            Status = "on_time"
	StatusTardy             Status = "tardy"
	StatusHalfDayAbsence    Status = "half_day_absence"
	StatusUndertime         Status = "undertime"
	StatusNCNS              Status = "ncns"
	StatusFailedBioIn       Status = "failed_bio_in"
	StatusFailedBioOut      Status = "failed_bio_out"
	StatusAdvisedAbsence    Status = "advised_absence"
	StatusNeedsManualReview Status = "needs_manual_review"
)

// RecordKey is the natural key of an attendance record. The stores enforce
// uniqueness on it; everything else merges into the existing row.
type RecordKey struct {
	UserID    UserID
	ShiftDate time.Time
}

// AttendanceRecord is the single canonical row per (user, shift date).
// The scheduled window and grace period are captured at creation and stay
// frozen even if the schedule is later edited - the record is the audit
// trail of what applied on that day.
type AttendanceRecord struct {
	ID        RecordID
	UserID    UserID
	ShiftDate time.Time // midnight UTC of the anchoring calendar day

	ScheduledIn  time.Time
	ScheduledOut time.Time
	GraceMinutes int

	ActualIn  *time.Time
	ActualOut *time.Time
	SiteIn    SiteID
	SiteOut   SiteID

	Status           Status
	SecondaryStatus  Status // undertime/failed_bio_out carried beside the arrival status
	TardyMinutes     int
	UndertimeMinutes int

	AdminVerified     bool
	PartiallyVerified bool
	Advised           bool
	Notes             string

	Version   int // optimistic concurrency token for admin updates
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r AttendanceRecord) Key() RecordKey {
	return RecordKey{UserID: r.UserID, ShiftDate: DateOf(r.ShiftDate)}
}

// Complete reports whether both scan sides are present.
func (r AttendanceRecord) Complete() bool { return r.ActualIn != nil && r.ActualOut != nil }

// HasStatus reports whether the status appears as either primary or secondary.
func (r AttendanceRecord) HasStatus(s Status) bool {
	return r.Status == s || r.SecondaryStatus == s
}

// =============================================================================
// POINT ENTRY - Disciplinary point derived from a record
// =============================================================================

type PointType string

const (
	PointTardy     PointType = "tardy"
	PointUndertime PointType = "undertime"
	PointHalfDay   PointType = "half_day_absence"
	PointWholeDay  PointType = "whole_day_absence"
)

type ExpirationType string

const (
	ExpirationSRO  ExpirationType = "sro"  // time-based standard rollout
	ExpirationGBRO ExpirationType = "gbro" // administrator-triggered amnesty
)

// PointEntry is one disciplinary point on an attendance record. Entries
// are replaced as a set when the record's outcome changes; expiration and
// excusal are soft flags, never physical deletes.
type PointEntry struct {
	ID        PointID
	RecordID  RecordID
	UserID    UserID
	ShiftDate time.Time

	Type  PointType
	Value decimal.Decimal

	ExpiresAt      time.Time
	Expired        bool
	ExpirationType ExpirationType
	GBROBatchID    string

	EligibleForGBRO bool
	Excused         bool
	ExcusedBy       string
	ExcuseReason    string

	CreatedAt time.Time
}

// Active reports whether the entry still counts toward the user's total.
func (p PointEntry) Active() bool { return !p.Expired && !p.Excused }

// =============================================================================
// TIME HELPERS
// =============================================================================

// DateOf truncates a timestamp to its calendar day (midnight UTC).
func DateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// MinutesBetween returns whole minutes from a to b (negative if b < a).
func MinutesBetween(a, b time.Time) int {
	return int(b.Sub(a) / time.Minute)
}
