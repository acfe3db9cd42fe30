/*
shift.go - Shift date resolution

PURPOSE:
  Maps a raw scan timestamp plus the user's active schedule to the calendar
  day that anchors the attendance record, and classifies the scan as a
  time-in or time-out candidate. This is the piece that makes overnight
  shifts work: a 07:02 scan on Wednesday can belong to Tuesday's shift.

THE RULE:
  A shift crosses midnight when its start hour is greater than its end hour
  (e.g. 22:00 -> 07:00). For such shifts, a scan whose clock hour is below
  the start hour is the departure of the shift that began the previous day;
  otherwise it is the current day's arrival. Day shifts always anchor on
  the scan's own calendar date.

  The rule is applied independently per scan. One upload may carry both
  yesterday's departure and today's arrival and each routes to its own
  shift date.

KNOWN LIMITATION:
  Two night-shift turnarounds for the same user inside one 24h window
  cannot be disambiguated by the hour comparison alone. That ambiguity is
  inherent to the input data and is deliberately left unresolved.

SEE ALSO:
  - reconcile.go: Consumes the resolved assignments per shift-date group
*/
package attendance

import "time"

type ScanRole string

const (
	RoleTimeIn  ScanRole = "time_in"
	RoleTimeOut ScanRole = "time_out"
)

// ShiftAssignment is the resolver's verdict for one scan.
type ShiftAssignment struct {
	ShiftDate time.Time
	Role      ScanRole
}

// ResolveShift assigns a scan timestamp to its logical shift date and
// classifies it as a time-in or time-out candidate.
func ResolveShift(scannedAt time.Time, sched Schedule) ShiftAssignment {
	at := scannedAt.UTC()
	day := DateOf(at)

	if sched.CrossesMidnight() {
		if at.Hour() < sched.TimeIn.Hour {
			// Departure of a shift that began the previous day.
			return ShiftAssignment{ShiftDate: day.AddDate(0, 0, -1), Role: RoleTimeOut}
		}
		return ShiftAssignment{ShiftDate: day, Role: RoleTimeIn}
	}

	// Day shift: the calendar date is the shift date. Classify by which
	// scheduled boundary the scan sits closer to, using the midpoint of
	// the scheduled window.
	mid := (sched.TimeIn.MinutesOfDay() + sched.TimeOut.MinutesOfDay()) / 2
	if at.Hour()*60+at.Minute() <= mid {
		return ShiftAssignment{ShiftDate: day, Role: RoleTimeIn}
	}
	return ShiftAssignment{ShiftDate: day, Role: RoleTimeOut}
}

// ScanWindow returns the half-open range of raw scan timestamps that can
// possibly resolve to the given shift date under the schedule. Callers use
// it to load candidate scans before filtering with ResolveShift.
func ScanWindow(shiftDate time.Time, sched Schedule) (from, to time.Time) {
	from = DateOf(shiftDate)
	to = from.AddDate(0, 0, 1)
	if sched.CrossesMidnight() {
		// The departure lands on the next calendar day, before the next
		// shift's start hour.
		to = to.Add(time.Duration(sched.TimeIn.Hour) * time.Hour)
	}
	return from, to
}
