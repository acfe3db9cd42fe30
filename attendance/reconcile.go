/*
reconcile.go - Status transition rules

PURPOSE:
  Pure functions that turn a set of resolved scans into the actual in/out
  pair and the record's status. The functions take immutable snapshots and
  a Config; they never touch storage, which keeps every rule independently
  testable.

ARRIVAL RULE (delta = actual in - scheduled in, minutes):
  delta <= 0                      on_time
  0 < delta <= grace              on_time (within grace)
  grace < delta <= half-day       tardy           (tardy minutes = delta)
  delta > half-day threshold      half_day_absence (tardy minutes = delta)
  no arrival, shift elapsed       ncns

DEPARTURE RULE (undertime = scheduled out - actual out, minutes):
  undertime > 0 records an undertime outcome beside the arrival status.
  A departure with no arrival is failed_bio_in; an arrival with no
  departure after the shift has elapsed is failed_bio_out.

DERIVED, NOT ORDERED:
  Outcomes are always recomputed from the full distinct scan set, never
  from "latest write wins". Processing the same upload twice, or two
  uploads in either order, converges on the same record.

SEE ALSO:
  - shift.go: Resolves which scans belong to the shift
  - points.go: Derives point entries from the outcome
*/
package attendance

import "time"

// Outcome is the computed result of reconciling one shift.
type Outcome struct {
	ActualIn  *time.Time
	ActualOut *time.Time
	SiteIn    SiteID
	SiteOut   SiteID

	Status           Status
	SecondaryStatus  Status
	TardyMinutes     int
	UndertimeMinutes int
}

// SelectPair picks the actual time-in and time-out from the scans that
// resolved to one shift date: the earliest time-in candidate and the
// latest time-out candidate. Either side may be nil.
func SelectPair(scans []ScanRecord, sched Schedule, shiftDate time.Time) (in, out *ScanRecord) {
	day := DateOf(shiftDate)
	for i := range scans {
		a := ResolveShift(scans[i].ScannedAt, sched)
		if !a.ShiftDate.Equal(day) {
			continue
		}
		switch a.Role {
		case RoleTimeIn:
			if in == nil || scans[i].ScannedAt.Before(in.ScannedAt) {
				in = &scans[i]
			}
		case RoleTimeOut:
			if out == nil || scans[i].ScannedAt.After(out.ScannedAt) {
				out = &scans[i]
			}
		}
	}
	return in, out
}

// ComputeOutcome applies the transition rules to an in/out pair against a
// frozen scheduled window. The elapsed flag says whether the scheduled
// time-out has already passed; missing-side statuses only apply then.
func ComputeOutcome(scheduledIn, scheduledOut time.Time, graceMinutes int, cfg Config, in, out *time.Time, advised, elapsed bool) Outcome {
	o := Outcome{ActualIn: in, ActualOut: out}

	if in == nil && out == nil {
		switch {
		case advised:
			o.Status = StatusAdvisedAbsence
		case elapsed:
			o.Status = StatusNCNS
		default:
			// No data yet and the shift is still open. A record in this
			// state only exists through admin action.
			o.Status = StatusNeedsManualReview
		}
		return o
	}

	if in == nil {
		// Departure without an arrival.
		o.Status = StatusFailedBioIn
		if u := MinutesBetween(*out, scheduledOut); u > 0 {
			o.SecondaryStatus = StatusUndertime
			o.UndertimeMinutes = u
		}
		return o
	}

	delta := MinutesBetween(scheduledIn, *in)
	switch {
	case delta <= graceMinutes:
		o.Status = StatusOnTime
	case delta <= cfg.HalfDayThresholdMinutes:
		o.Status = StatusTardy
		o.TardyMinutes = delta
	default:
		o.Status = StatusHalfDayAbsence
		o.TardyMinutes = delta
	}

	if out != nil {
		if u := MinutesBetween(*out, scheduledOut); u > 0 {
			o.UndertimeMinutes = u
			if o.Status == StatusOnTime {
				o.Status = StatusUndertime
			} else {
				o.SecondaryStatus = StatusUndertime
			}
		}
		return o
	}

	if elapsed {
		if o.Status == StatusOnTime {
			o.Status = StatusFailedBioOut
		} else {
			o.SecondaryStatus = StatusFailedBioOut
		}
	}
	return o
}

// ReconcileScans resolves, pairs, and scores one shift in a single call.
func ReconcileScans(shiftDate time.Time, sched Schedule, cfg Config, scans []ScanRecord, advised bool, now time.Time) Outcome {
	in, out := SelectPair(scans, sched, shiftDate)
	schedIn, schedOut := sched.ScheduledWindow(DateOf(shiftDate))

	var inAt, outAt *time.Time
	var siteIn, siteOut SiteID
	if in != nil {
		t := in.ScannedAt.UTC()
		inAt, siteIn = &t, in.SiteID
	}
	if out != nil {
		t := out.ScannedAt.UTC()
		outAt, siteOut = &t, out.SiteID
	}

	o := ComputeOutcome(schedIn, schedOut, cfg.GraceFor(sched), cfg, inAt, outAt, advised, now.After(schedOut))
	o.SiteIn, o.SiteOut = siteIn, siteOut
	return o
}

// Apply writes an outcome onto a record snapshot, returning the updated
// copy. Verification flags and notes are left untouched except that a
// record completed by new data is no longer partially verified.
func (o Outcome) Apply(rec AttendanceRecord) AttendanceRecord {
	rec.ActualIn = o.ActualIn
	rec.ActualOut = o.ActualOut
	if o.SiteIn != "" {
		rec.SiteIn = o.SiteIn
	}
	if o.SiteOut != "" {
		rec.SiteOut = o.SiteOut
	}
	rec.Status = o.Status
	rec.SecondaryStatus = o.SecondaryStatus
	rec.TardyMinutes = o.TardyMinutes
	rec.UndertimeMinutes = o.UndertimeMinutes
	if rec.Complete() {
		rec.PartiallyVerified = false
	}
	return rec
}
