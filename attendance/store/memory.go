// Package store provides in-memory implementations of the attendance
// persistence interfaces, for tests and local development.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// MEMORY STORE - Implements every attendance interface behind one mutex
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	scans     []attendance.ScanRecord
	scanSeen  map[string]bool // fingerprint -> present
	records   map[attendance.RecordKey]attendance.AttendanceRecord
	recordIDs map[attendance.RecordID]attendance.RecordKey
	points    map[attendance.PointID]attendance.PointEntry
	byRecord  map[attendance.RecordID][]attendance.PointID
	schedules []attendance.Schedule
	audit     []attendance.AuditEvent

	seq int
}

func NewMemory() *Memory {
	return &Memory{
		scanSeen:  make(map[string]bool),
		records:   make(map[attendance.RecordKey]attendance.AttendanceRecord),
		recordIDs: make(map[attendance.RecordID]attendance.RecordKey),
		points:    make(map[attendance.PointID]attendance.PointEntry),
		byRecord:  make(map[attendance.RecordID][]attendance.PointID),
	}
}

func (m *Memory) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

// =============================================================================
// SCAN STORE
// =============================================================================

func (m *Memory) AppendScans(_ context.Context, scans []attendance.ScanRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for _, s := range scans {
		fp := s.Fingerprint()
		if m.scanSeen[fp] {
			continue
		}
		if s.ID == "" {
			s.ID = m.nextID("scan")
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = time.Now().UTC()
		}
		m.scanSeen[fp] = true
		m.scans = append(m.scans, s)
		inserted++
	}
	return inserted, nil
}

func (m *Memory) ScansInRange(_ context.Context, userID attendance.UserID, from, to time.Time) ([]attendance.ScanRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []attendance.ScanRecord
	for _, s := range m.scans {
		if s.UserID != userID {
			continue
		}
		if s.ScannedAt.Before(from) || !s.ScannedAt.Before(to) {
			continue
		}
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ScannedAt.Before(result[j].ScannedAt) })
	return result, nil
}

func (m *Memory) PurgeBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.scans[:0]
	purged := 0
	for _, s := range m.scans {
		if s.ScannedAt.Before(cutoff) {
			delete(m.scanSeen, s.Fingerprint())
			purged++
			continue
		}
		kept = append(kept, s)
	}
	m.scans = kept
	return purged, nil
}

// =============================================================================
// ATTENDANCE STORE
// =============================================================================

func (m *Memory) Upsert(_ context.Context, rec attendance.AttendanceRecord) (attendance.AttendanceRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rec.Key()
	now := time.Now().UTC()

	existing, ok := m.records[key]
	if !ok {
		if rec.ID == "" {
			rec.ID = attendance.RecordID(m.nextID("att"))
		}
		rec.ShiftDate = key.ShiftDate
		rec.Version = 1
		rec.CreatedAt = now
		rec.UpdatedAt = now
		m.records[key] = rec
		m.recordIDs[rec.ID] = key
		return rec, true, nil
	}

	// Merge derived fields; admin-owned fields stay as they are.
	merged := existing
	merged.ActualIn = rec.ActualIn
	merged.ActualOut = rec.ActualOut
	if rec.SiteIn != "" {
		merged.SiteIn = rec.SiteIn
	}
	if rec.SiteOut != "" {
		merged.SiteOut = rec.SiteOut
	}
	merged.Status = rec.Status
	merged.SecondaryStatus = rec.SecondaryStatus
	merged.TardyMinutes = rec.TardyMinutes
	merged.UndertimeMinutes = rec.UndertimeMinutes
	if merged.Complete() {
		merged.PartiallyVerified = false
	}
	merged.Version++
	merged.UpdatedAt = now
	m.records[key] = merged
	return merged, false, nil
}

func (m *Memory) Update(_ context.Context, rec attendance.AttendanceRecord) (attendance.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.recordIDs[rec.ID]
	if !ok {
		return attendance.AttendanceRecord{}, attendance.ErrRecordNotFound
	}
	existing := m.records[key]
	if existing.Version != rec.Version {
		return attendance.AttendanceRecord{}, attendance.ErrConcurrentModification
	}
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	rec.CreatedAt = existing.CreatedAt
	m.records[key] = rec
	return rec, nil
}

func (m *Memory) Get(_ context.Context, key attendance.RecordKey) (attendance.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key.ShiftDate = attendance.DateOf(key.ShiftDate)
	rec, ok := m.records[key]
	if !ok {
		return attendance.AttendanceRecord{}, attendance.ErrRecordNotFound
	}
	return rec, nil
}

func (m *Memory) GetByID(_ context.Context, id attendance.RecordID) (attendance.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.recordIDs[id]
	if !ok {
		return attendance.AttendanceRecord{}, attendance.ErrRecordNotFound
	}
	return m.records[key], nil
}

func (m *Memory) ListRange(_ context.Context, userID attendance.UserID, from, to time.Time) ([]attendance.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []attendance.AttendanceRecord
	for _, rec := range m.records {
		if rec.UserID != userID {
			continue
		}
		d := attendance.DateOf(rec.ShiftDate)
		if d.Before(attendance.DateOf(from)) || d.After(attendance.DateOf(to)) {
			continue
		}
		result = append(result, rec)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ShiftDate.Before(result[j].ShiftDate) })
	return result, nil
}

func (m *Memory) Exists(_ context.Context, key attendance.RecordKey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key.ShiftDate = attendance.DateOf(key.ShiftDate)
	_, ok := m.records[key]
	return ok, nil
}

// =============================================================================
// POINT STORE
// =============================================================================

func (m *Memory) ReplaceForRecord(_ context.Context, recordID attendance.RecordID, entries []attendance.PointEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.byRecord[recordID] {
		delete(m.points, id)
	}
	m.byRecord[recordID] = nil

	now := time.Now().UTC()
	for _, e := range entries {
		if e.ID == "" {
			e.ID = attendance.PointID(m.nextID("pt"))
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		e.RecordID = recordID
		m.points[e.ID] = e
		m.byRecord[recordID] = append(m.byRecord[recordID], e.ID)
	}
	return nil
}

func (m *Memory) ListByRecord(_ context.Context, recordID attendance.RecordID) ([]attendance.PointEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []attendance.PointEntry
	for _, id := range m.byRecord[recordID] {
		result = append(result, m.points[id])
	}
	return result, nil
}

func (m *Memory) ListByUser(_ context.Context, userID attendance.UserID) ([]attendance.PointEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterPoints(func(e attendance.PointEntry) bool { return e.UserID == userID }), nil
}

func (m *Memory) ListActive(_ context.Context, userID attendance.UserID) ([]attendance.PointEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterPoints(func(e attendance.PointEntry) bool {
		return e.UserID == userID && e.Active()
	}), nil
}

func (m *Memory) ListExpirable(_ context.Context, asOf time.Time) ([]attendance.PointEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterPoints(func(e attendance.PointEntry) bool {
		return e.Active() && !e.ExpiresAt.After(asOf)
	}), nil
}

func (m *Memory) ListAmnestyEligible(_ context.Context, userID attendance.UserID) ([]attendance.PointEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterPoints(func(e attendance.PointEntry) bool {
		return e.UserID == userID && e.Active() && e.EligibleForGBRO
	}), nil
}

func (m *Memory) filterPoints(keep func(attendance.PointEntry) bool) []attendance.PointEntry {
	var result []attendance.PointEntry
	for _, e := range m.points {
		if keep(e) {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ShiftDate.Equal(result[j].ShiftDate) {
			return result[i].ShiftDate.Before(result[j].ShiftDate)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (m *Memory) MarkExpired(_ context.Context, id attendance.PointID, expType attendance.ExpirationType, batchID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.points[id]
	if !ok {
		return attendance.ErrPointNotFound
	}
	if !e.Active() {
		return attendance.ErrPointSettled
	}
	e.Expired = true
	e.ExpirationType = expType
	e.GBROBatchID = batchID
	m.points[id] = e
	return nil
}

func (m *Memory) Excuse(_ context.Context, id attendance.PointID, actor, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.points[id]
	if !ok {
		return attendance.ErrPointNotFound
	}
	if e.Excused {
		return attendance.ErrPointSettled
	}
	e.Excused = true
	e.ExcusedBy = actor
	e.ExcuseReason = reason
	m.points[id] = e
	return nil
}

func (m *Memory) GetPoint(_ context.Context, id attendance.PointID) (attendance.PointEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.points[id]
	if !ok {
		return attendance.PointEntry{}, attendance.ErrPointNotFound
	}
	return e, nil
}

// =============================================================================
// SCHEDULE SOURCE
// =============================================================================

// AddSchedule registers a schedule version. Test/dev helper; schedule
// management is an external collaborator in production.
func (m *Memory) AddSchedule(s attendance.Schedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules = append(m.schedules, s)
}

func (m *Memory) ActiveSchedule(_ context.Context, userID attendance.UserID, date time.Time) (attendance.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.schedules {
		if s.UserID == userID && s.ActiveOn(date) {
			return s, nil
		}
	}
	return attendance.Schedule{}, &attendance.ScheduleLookupError{UserID: userID, Date: attendance.DateOf(date)}
}

func (m *Memory) ActiveUsers(_ context.Context, date time.Time) ([]attendance.UserID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[attendance.UserID]bool)
	var users []attendance.UserID
	for _, s := range m.schedules {
		if s.ActiveOn(date) && !seen[s.UserID] {
			seen[s.UserID] = true
			users = append(users, s.UserID)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (m *Memory) Append(_ context.Context, event attendance.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if event.ID == "" {
		event.ID = m.nextID("audit")
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	m.audit = append(m.audit, event)
	return nil
}

func (m *Memory) Query(_ context.Context, filter attendance.AuditFilter) ([]attendance.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []attendance.AuditEvent
	for _, e := range m.audit {
		if filter.UserID != nil && e.UserID != *filter.UserID {
			continue
		}
		if filter.RecordID != nil && e.RecordID != *filter.RecordID {
			continue
		}
		if filter.From != nil && e.At.Before(*filter.From) {
			continue
		}
		if filter.To != nil && e.At.After(*filter.To) {
			continue
		}
		if len(filter.Actions) > 0 && !containsAction(filter.Actions, e.Action) {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

func containsAction(actions []attendance.AuditAction, a attendance.AuditAction) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}
