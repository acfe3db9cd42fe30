/*
config.go - Engine configuration

PURPOSE:
  All tunable rule parameters in one explicit struct, injected at
  construction. Nothing in the engine reads ambient global state: the
  point value table, grace default, half-day threshold, and expiration
  horizons all come from here.

POINT VALUE TABLE (authoritative):
  tardy                    0.25
  undertime <= 60 min      0.25
  undertime  > 60 min      0.50
  half-day absence         0.50
  whole-day absence        1.00  (NCNS / failed-to-notify)

EXPIRATION HORIZONS:
  Ordinary violations expire 6 months after the shift date.
  Whole-day absences expire 12 months after the shift date.

SEE ALSO:
  - points.go: Uses PointValue and ExpiryFor
  - reconcile.go: Uses HalfDayThresholdMinutes
*/
package attendance

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config carries every rule parameter for the engine.
type Config struct {
	// DefaultGraceMinutes applies when a schedule has no grace of its own.
	DefaultGraceMinutes int

	// HalfDayThresholdMinutes is the tardiness beyond which an arrival is
	// treated as a half-day absence instead of a tardy.
	HalfDayThresholdMinutes int

	// UndertimeMajorMinutes is the boundary between the minor and major
	// undertime point values.
	UndertimeMajorMinutes int

	// Point value table.
	TardyPoints          decimal.Decimal
	UndertimeMinorPoints decimal.Decimal
	UndertimeMajorPoints decimal.Decimal
	HalfDayPoints        decimal.Decimal
	WholeDayPoints       decimal.Decimal

	// Expiration horizons, anchored on the shift date.
	StandardExpiryMonths int
	WholeDayExpiryMonths int

	// ScanRetentionDays bounds how long raw scans are kept before the
	// retention sweep purges them.
	ScanRetentionDays int
}

// DefaultConfig returns the production rule set.
func DefaultConfig() Config {
	return Config{
		DefaultGraceMinutes:     10,
		HalfDayThresholdMinutes: 120,
		UndertimeMajorMinutes:   60,
		TardyPoints:             decimal.RequireFromString("0.25"),
		UndertimeMinorPoints:    decimal.RequireFromString("0.25"),
		UndertimeMajorPoints:    decimal.RequireFromString("0.50"),
		HalfDayPoints:           decimal.RequireFromString("0.50"),
		WholeDayPoints:          decimal.RequireFromString("1.00"),
		StandardExpiryMonths:    6,
		WholeDayExpiryMonths:    12,
		ScanRetentionDays:       90,
	}
}

// PointValue looks up the point value for a violation. The minutes argument
// only matters for undertime, where it selects the minor or major value.
func (c Config) PointValue(t PointType, minutes int) decimal.Decimal {
	switch t {
	case PointTardy:
		return c.TardyPoints
	case PointUndertime:
		if minutes > c.UndertimeMajorMinutes {
			return c.UndertimeMajorPoints
		}
		return c.UndertimeMinorPoints
	case PointHalfDay:
		return c.HalfDayPoints
	case PointWholeDay:
		return c.WholeDayPoints
	}
	return decimal.Zero
}

// ExpiryFor computes the SRO expiration instant for a violation on the
// given shift date.
func (c Config) ExpiryFor(t PointType, shiftDate time.Time) time.Time {
	months := c.StandardExpiryMonths
	if t == PointWholeDay {
		months = c.WholeDayExpiryMonths
	}
	return DateOf(shiftDate).AddDate(0, months, 0)
}

// GraceFor returns the effective grace period for a schedule.
func (c Config) GraceFor(s Schedule) int {
	if s.GraceMinutes > 0 {
		return s.GraceMinutes
	}
	return c.DefaultGraceMinutes
}
