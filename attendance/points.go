/*
points.go - Point derivation

PURPOSE:
  Derives the disciplinary point set implied by an attendance record's
  current outcome. The derivation is pure: given the same record and
  config it always yields the same set, which is what lets the point
  engine replace entries instead of accumulating them when a record is
  re-verified with a different status.

GENERATING STATUSES:
  tardy, undertime, half_day_absence, ncns, advised_absence (failed to
  notify). on_time and the failed_bio_* statuses never generate points.

AMNESTY ELIGIBILITY:
  Whole-day absences (NCNS and failed-to-notify) are never eligible for
  the good-behavior rollout; every other violation type is.

SEE ALSO:
  - config.go: Point value table and expiration horizons
  - reconcile.go: Produces the statuses consumed here
*/
package attendance

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DerivePoints returns the point entries an attendance record should carry
// given its current statuses. IDs and creation timestamps are left for the
// caller to assign at persist time.
func DerivePoints(rec AttendanceRecord, cfg Config) []PointEntry {
	var drafts []PointEntry

	add := func(t PointType, minutes int, eligible bool) {
		drafts = append(drafts, PointEntry{
			RecordID:        rec.ID,
			UserID:          rec.UserID,
			ShiftDate:       DateOf(rec.ShiftDate),
			Type:            t,
			Value:           cfg.PointValue(t, minutes),
			ExpiresAt:       cfg.ExpiryFor(t, rec.ShiftDate),
			EligibleForGBRO: eligible,
		})
	}

	switch rec.Status {
	case StatusTardy:
		add(PointTardy, rec.TardyMinutes, true)
	case StatusHalfDayAbsence:
		add(PointHalfDay, rec.TardyMinutes, true)
	case StatusNCNS:
		add(PointWholeDay, 0, false)
	case StatusAdvisedAbsence:
		// Advised but still unscheduled counts like NCNS for points.
		add(PointWholeDay, 0, false)
	}

	if rec.HasStatus(StatusUndertime) && rec.UndertimeMinutes > 0 {
		add(PointUndertime, rec.UndertimeMinutes, true)
	}

	sortPoints(drafts)
	return drafts
}

// SamePointSet reports whether two entry sets represent the same derived
// outcome. Identity fields (ID, CreatedAt) and soft state (expired,
// excused) are ignored; this is how reprocessing a duplicate upload is
// detected as a no-op.
func SamePointSet(a, b []PointEntry) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]PointEntry(nil), a...)
	bs := append([]PointEntry(nil), b...)
	sortPoints(as)
	sortPoints(bs)
	for i := range as {
		if as[i].Type != bs[i].Type ||
			!as[i].Value.Equal(bs[i].Value) ||
			!as[i].ExpiresAt.Equal(bs[i].ExpiresAt) ||
			as[i].EligibleForGBRO != bs[i].EligibleForGBRO {
			return false
		}
	}
	return true
}

func sortPoints(ps []PointEntry) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Type < ps[j].Type })
}

// Sum is an active point total for one user, as consumed by the
// leave-eligibility subsystem.
type Sum struct {
	Total decimal.Decimal
	Count int
	AsOf  time.Time
}

// ActiveSum totals the non-expired, non-excused values in a set.
func ActiveSum(entries []PointEntry, asOf time.Time) Sum {
	sum := Sum{Total: decimal.Zero, AsOf: asOf}
	for _, e := range entries {
		if e.Active() {
			sum.Total = sum.Total.Add(e.Value)
			sum.Count++
		}
	}
	return sum
}
