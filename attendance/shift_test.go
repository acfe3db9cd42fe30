package attendance_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func nightShift() attendance.Schedule {
	return attendance.Schedule{
		ID:            "sched-night",
		UserID:        "guard-1",
		ShiftType:     attendance.ShiftNight,
		TimeIn:        attendance.NewClockTime(22, 0),
		TimeOut:       attendance.NewClockTime(7, 0),
		GraceMinutes:  10,
		EffectiveFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func dayShift() attendance.Schedule {
	return attendance.Schedule{
		ID:            "sched-day",
		UserID:        "guard-2",
		ShiftType:     attendance.ShiftMorning,
		TimeIn:        attendance.NewClockTime(8, 0),
		TimeOut:       attendance.NewClockTime(17, 0),
		GraceMinutes:  10,
		EffectiveFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// =============================================================================
// CROSS-MIDNIGHT RESOLUTION
// =============================================================================

func TestResolveShift_NightShift_DepartureBelongsToPreviousDay(t *testing.T) {
	// GIVEN: A 22:00-07:00 shift
	// WHEN: A scan arrives at 07:02 on Nov 6
	// THEN: It is the departure of the shift dated Nov 5

	scan := time.Date(2025, 11, 6, 7, 2, 0, 0, time.UTC)

	a := attendance.ResolveShift(scan, nightShift())

	assert.Equal(t, time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC), a.ShiftDate)
	assert.Equal(t, attendance.RoleTimeOut, a.Role)
}

func TestResolveShift_NightShift_ArrivalAnchorsOnOwnDay(t *testing.T) {
	// A 22:05 scan on Nov 5 is the arrival of Nov 5's shift.
	scan := time.Date(2025, 11, 5, 22, 5, 0, 0, time.UTC)

	a := attendance.ResolveShift(scan, nightShift())

	assert.Equal(t, time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC), a.ShiftDate)
	assert.Equal(t, attendance.RoleTimeIn, a.Role)
}

func TestResolveShift_NightShift_PerScanIndependence(t *testing.T) {
	// One upload can carry yesterday's departure and today's arrival for
	// the same user; each resolves to its own shift date.
	sched := nightShift()

	departure := attendance.ResolveShift(time.Date(2025, 11, 6, 6, 58, 0, 0, time.UTC), sched)
	arrival := attendance.ResolveShift(time.Date(2025, 11, 6, 21, 55, 0, 0, time.UTC), sched)

	assert.Equal(t, time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC), departure.ShiftDate)
	assert.Equal(t, attendance.RoleTimeOut, departure.Role)
	assert.Equal(t, time.Date(2025, 11, 6, 0, 0, 0, 0, time.UTC), arrival.ShiftDate)
	assert.Equal(t, attendance.RoleTimeIn, arrival.Role)
}

func TestResolveShift_DayShift_AnchorsOnScanDate(t *testing.T) {
	sched := dayShift()

	morning := attendance.ResolveShift(time.Date(2025, 11, 5, 7, 55, 0, 0, time.UTC), sched)
	evening := attendance.ResolveShift(time.Date(2025, 11, 5, 17, 4, 0, 0, time.UTC), sched)

	assert.Equal(t, time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC), morning.ShiftDate)
	assert.Equal(t, attendance.RoleTimeIn, morning.Role)
	assert.Equal(t, time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC), evening.ShiftDate)
	assert.Equal(t, attendance.RoleTimeOut, evening.Role)
}

// =============================================================================
// SCHEDULE HELPERS
// =============================================================================

func TestSchedule_CrossesMidnight(t *testing.T) {
	assert.True(t, nightShift().CrossesMidnight())
	assert.False(t, dayShift().CrossesMidnight())
}

func TestSchedule_ScheduledWindow_NightShiftOutIsNextDay(t *testing.T) {
	shiftDate := time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC)

	in, out := nightShift().ScheduledWindow(shiftDate)

	assert.Equal(t, time.Date(2025, 11, 5, 22, 0, 0, 0, time.UTC), in)
	assert.Equal(t, time.Date(2025, 11, 6, 7, 0, 0, 0, time.UTC), out)
}

func TestScanWindow_NightShift_CoversNextMorning(t *testing.T) {
	shiftDate := time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC)

	from, to := attendance.ScanWindow(shiftDate, nightShift())

	assert.Equal(t, shiftDate, from)
	// Departure scans land before the next shift's 22:00 start.
	assert.Equal(t, time.Date(2025, 11, 6, 22, 0, 0, 0, time.UTC), to)
}

func TestSchedule_WorksOn_EmptyMeansEveryDay(t *testing.T) {
	sched := nightShift()
	assert.True(t, sched.WorksOn(time.Sunday))

	sched.WorkDays = []time.Weekday{time.Monday, time.Tuesday}
	assert.True(t, sched.WorksOn(time.Monday))
	assert.False(t, sched.WorksOn(time.Sunday))
}
