/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface the engine depends on
  (ScanStore, AttendanceStore, PointStore, ScheduleSource, AuditLog)
  using SQLite. In production, the same patterns apply to PostgreSQL -
  only minor SQL dialect differences.

KEY TABLES:
  scans:              Append-only raw scan ledger (fingerprint-deduped)
  attendance_records: One row per (user, shift date)
  point_entries:      Soft-expiring disciplinary points
  schedules:          Versioned shift definitions (collaborator boundary)
  audit_events:       Structured mutation log

ATOMIC UPSERT:
  The attendance upsert is a single INSERT ... ON CONFLICT DO UPDATE
  statement keyed on the (user_id, shift_date) unique index. Two uploads
  racing on the same shift cannot produce a second row or lose an update.

INDEXES:
  Critical indexes for performance:
  - idx_records_user_shift (unique): the one-record-per-shift invariant
  - idx_points_user_active:          active point totals (hot path)
  - idx_points_expires:              expiration sweep input
  - idx_scans_user_time:             shift-window scan loads

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/attendance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - attendance/store.go: Interface definitions
  - attendance/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/attendance-engine/attendance"
)

const dayFormat = "2006-01-02"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Raw biometric scans (append-only, purged by retention sweep)
	CREATE TABLE IF NOT EXISTS scans (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		site_id TEXT NOT NULL,
		scanned_at TEXT NOT NULL,
		upload_id TEXT NOT NULL,
		fingerprint TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_scans_user_time
		ON scans(user_id, scanned_at);
	CREATE INDEX IF NOT EXISTS idx_scans_upload
		ON scans(upload_id);

	-- Canonical attendance records
	CREATE TABLE IF NOT EXISTS attendance_records (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		shift_date TEXT NOT NULL,
		scheduled_in TEXT NOT NULL,
		scheduled_out TEXT NOT NULL,
		grace_minutes INTEGER NOT NULL DEFAULT 0,
		actual_in TEXT,
		actual_out TEXT,
		site_in TEXT NOT NULL DEFAULT '',
		site_out TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		secondary_status TEXT NOT NULL DEFAULT '',
		tardy_minutes INTEGER NOT NULL DEFAULT 0,
		undertime_minutes INTEGER NOT NULL DEFAULT 0,
		admin_verified BOOLEAN NOT NULL DEFAULT FALSE,
		partially_verified BOOLEAN NOT NULL DEFAULT FALSE,
		advised BOOLEAN NOT NULL DEFAULT FALSE,
		notes TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: exactly one record per (user, shift date)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_records_user_shift
		ON attendance_records(user_id, shift_date);

	-- Disciplinary point entries (soft-expiring)
	CREATE TABLE IF NOT EXISTS point_entries (
		id TEXT PRIMARY KEY,
		record_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		shift_date TEXT NOT NULL,
		point_type TEXT NOT NULL,
		value TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		is_expired BOOLEAN NOT NULL DEFAULT FALSE,
		expiration_type TEXT NOT NULL DEFAULT '',
		gbro_batch_id TEXT NOT NULL DEFAULT '',
		eligible_for_gbro BOOLEAN NOT NULL DEFAULT TRUE,
		is_excused BOOLEAN NOT NULL DEFAULT FALSE,
		excused_by TEXT NOT NULL DEFAULT '',
		excuse_reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_points_user_active
		ON point_entries(user_id, is_expired, is_excused);
	CREATE INDEX IF NOT EXISTS idx_points_record
		ON point_entries(record_id);
	CREATE INDEX IF NOT EXISTS idx_points_expires
		ON point_entries(expires_at) WHERE is_expired = FALSE;

	-- Schedules (managed upstream; read here, versioned, never deleted)
	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		shift_type TEXT NOT NULL,
		time_in TEXT NOT NULL,
		time_out TEXT NOT NULL,
		grace_minutes INTEGER NOT NULL DEFAULT 0,
		work_days TEXT NOT NULL DEFAULT '',
		effective_from TEXT NOT NULL,
		effective_to TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_schedules_user
		ON schedules(user_id, effective_from);

	-- Audit events (append-only)
	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		at TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		record_id TEXT NOT NULL DEFAULT '',
		point_id TEXT NOT NULL DEFAULT '',
		before_state TEXT NOT NULL DEFAULT '',
		after_state TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_audit_user
		ON audit_events(user_id, at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SCAN STORE (attendance.ScanStore interface)
// =============================================================================

// AppendScans inserts scans, skipping fingerprints already present.
func (s *Store) AppendScans(ctx context.Context, scans []attendance.ScanRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT OR IGNORE INTO scans (id, user_id, site_id, scanned_at, upload_id, fingerprint, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	inserted := 0
	now := time.Now().UTC().Format(time.RFC3339)
	for _, scan := range scans {
		res, err := tx.ExecContext(ctx, query,
			scan.ID,
			scan.UserID,
			scan.SiteID,
			scan.ScannedAt.UTC().Format(time.RFC3339),
			scan.UploadID,
			scan.Fingerprint(),
			now,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to append scan: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// ScansInRange returns a user's scans with scanned_at in [from, to).
func (s *Store) ScansInRange(ctx context.Context, userID attendance.UserID, from, to time.Time) ([]attendance.ScanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, user_id, site_id, scanned_at, upload_id, created_at
		FROM scans
		WHERE user_id = ? AND scanned_at >= ? AND scanned_at < ?
		ORDER BY scanned_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID,
		from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to query scans: %w", err)
	}
	defer rows.Close()

	var scans []attendance.ScanRecord
	for rows.Next() {
		var scan attendance.ScanRecord
		var scannedAt, createdAt string
		if err := rows.Scan(&scan.ID, &scan.UserID, &scan.SiteID, &scannedAt, &scan.UploadID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		scan.ScannedAt, _ = time.Parse(time.RFC3339, scannedAt)
		scan.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		scans = append(scans, scan)
	}
	return scans, rows.Err()
}

// PurgeBefore deletes scans older than the cutoff.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM scans WHERE scanned_at < ?",
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// =============================================================================
// ATTENDANCE STORE (attendance.AttendanceStore interface)
// =============================================================================

const recordSelect = `
	SELECT id, user_id, shift_date, scheduled_in, scheduled_out, grace_minutes,
	       actual_in, actual_out, site_in, site_out, status, secondary_status,
	       tardy_minutes, undertime_minutes, admin_verified, partially_verified,
	       advised, notes, version, created_at, updated_at
	FROM attendance_records
`

// Upsert inserts or merges a record in a single conditional statement. The
// unique index on (user_id, shift_date) is what makes concurrent uploads
// converge on one row instead of racing to insert two.
func (s *Store) Upsert(ctx context.Context, rec attendance.AttendanceRecord) (attendance.AttendanceRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Key()
	existed, err := s.existsLocked(ctx, key)
	if err != nil {
		return attendance.AttendanceRecord{}, false, err
	}

	if rec.ID == "" {
		rec.ID = attendance.RecordID(fmt.Sprintf("att-%s-%s", rec.UserID, key.ShiftDate.Format(dayFormat)))
	}
	now := time.Now().UTC().Format(time.RFC3339)

	// Derived fields always take the incoming value; admin state
	// (verification flags, advisory flag, notes) stays with the row.
	query := `
		INSERT INTO attendance_records
		(id, user_id, shift_date, scheduled_in, scheduled_out, grace_minutes,
		 actual_in, actual_out, site_in, site_out, status, secondary_status,
		 tardy_minutes, undertime_minutes, admin_verified, partially_verified,
		 advised, notes, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(user_id, shift_date) DO UPDATE SET
			actual_in = excluded.actual_in,
			actual_out = excluded.actual_out,
			site_in = CASE WHEN excluded.site_in != '' THEN excluded.site_in ELSE attendance_records.site_in END,
			site_out = CASE WHEN excluded.site_out != '' THEN excluded.site_out ELSE attendance_records.site_out END,
			status = excluded.status,
			secondary_status = excluded.secondary_status,
			tardy_minutes = excluded.tardy_minutes,
			undertime_minutes = excluded.undertime_minutes,
			partially_verified = CASE
				WHEN excluded.actual_in IS NOT NULL AND excluded.actual_out IS NOT NULL THEN FALSE
				ELSE attendance_records.partially_verified END,
			version = attendance_records.version + 1,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.UserID, key.ShiftDate.Format(dayFormat),
		rec.ScheduledIn.UTC().Format(time.RFC3339),
		rec.ScheduledOut.UTC().Format(time.RFC3339),
		rec.GraceMinutes,
		nullTime(rec.ActualIn), nullTime(rec.ActualOut),
		rec.SiteIn, rec.SiteOut,
		rec.Status, rec.SecondaryStatus,
		rec.TardyMinutes, rec.UndertimeMinutes,
		rec.AdminVerified, rec.PartiallyVerified, rec.Advised, rec.Notes,
		now, now,
	)
	if err != nil {
		return attendance.AttendanceRecord{}, false, fmt.Errorf("failed to upsert record: %w", err)
	}

	stored, err := s.getLocked(ctx, key)
	if err != nil {
		return attendance.AttendanceRecord{}, false, err
	}
	return stored, !existed, nil
}

// Update replaces a record conditioned on its version.
func (s *Store) Update(ctx context.Context, rec attendance.AttendanceRecord) (attendance.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE attendance_records SET
			actual_in = ?, actual_out = ?, site_in = ?, site_out = ?,
			status = ?, secondary_status = ?, tardy_minutes = ?, undertime_minutes = ?,
			admin_verified = ?, partially_verified = ?, advised = ?, notes = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`

	res, err := s.db.ExecContext(ctx, query,
		nullTime(rec.ActualIn), nullTime(rec.ActualOut), rec.SiteIn, rec.SiteOut,
		rec.Status, rec.SecondaryStatus, rec.TardyMinutes, rec.UndertimeMinutes,
		rec.AdminVerified, rec.PartiallyVerified, rec.Advised, rec.Notes,
		time.Now().UTC().Format(time.RFC3339),
		rec.ID, rec.Version,
	)
	if err != nil {
		return attendance.AttendanceRecord{}, fmt.Errorf("failed to update record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.getByIDLocked(ctx, rec.ID); err != nil {
			return attendance.AttendanceRecord{}, err
		}
		return attendance.AttendanceRecord{}, attendance.ErrConcurrentModification
	}

	return s.getByIDLocked(ctx, rec.ID)
}

// Get returns the record for a key.
func (s *Store) Get(ctx context.Context, key attendance.RecordKey) (attendance.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(ctx, key)
}

// GetByID returns the record with the given id.
func (s *Store) GetByID(ctx context.Context, id attendance.RecordID) (attendance.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getByIDLocked(ctx, id)
}

// ListRange returns a user's records with shift dates in [from, to].
func (s *Store) ListRange(ctx context.Context, userID attendance.UserID, from, to time.Time) ([]attendance.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := recordSelect + `
		WHERE user_id = ? AND shift_date >= ? AND shift_date <= ?
		ORDER BY shift_date ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID,
		attendance.DateOf(from).Format(dayFormat), attendance.DateOf(to).Format(dayFormat))
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []attendance.AttendanceRecord
	for rows.Next() {
		rec, err := scanRecordRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Exists reports whether a record exists for the key.
func (s *Store) Exists(ctx context.Context, key attendance.RecordKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.existsLocked(ctx, key)
}

func (s *Store) getLocked(ctx context.Context, key attendance.RecordKey) (attendance.AttendanceRecord, error) {
	row := s.db.QueryRowContext(ctx, recordSelect+" WHERE user_id = ? AND shift_date = ?",
		key.UserID, attendance.DateOf(key.ShiftDate).Format(dayFormat))
	return scanRecordRow(row)
}

func (s *Store) getByIDLocked(ctx context.Context, id attendance.RecordID) (attendance.AttendanceRecord, error) {
	row := s.db.QueryRowContext(ctx, recordSelect+" WHERE id = ?", id)
	return scanRecordRow(row)
}

func (s *Store) existsLocked(ctx context.Context, key attendance.RecordKey) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM attendance_records WHERE user_id = ? AND shift_date = ?",
		key.UserID, attendance.DateOf(key.ShiftDate).Format(dayFormat),
	).Scan(&count)
	return count > 0, err
}

// rowScanner abstracts over *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecordRow(row rowScanner) (attendance.AttendanceRecord, error) {
	var (
		rec                  attendance.AttendanceRecord
		shiftDate            string
		scheduledIn          string
		scheduledOut         string
		actualIn, actualOut  sql.NullString
		createdAt, updatedAt string
	)

	err := row.Scan(
		&rec.ID, &rec.UserID, &shiftDate, &scheduledIn, &scheduledOut, &rec.GraceMinutes,
		&actualIn, &actualOut, &rec.SiteIn, &rec.SiteOut, &rec.Status, &rec.SecondaryStatus,
		&rec.TardyMinutes, &rec.UndertimeMinutes, &rec.AdminVerified, &rec.PartiallyVerified,
		&rec.Advised, &rec.Notes, &rec.Version, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return rec, attendance.ErrRecordNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("failed to scan record: %w", err)
	}

	rec.ShiftDate, _ = time.Parse(dayFormat, shiftDate)
	rec.ScheduledIn, _ = time.Parse(time.RFC3339, scheduledIn)
	rec.ScheduledOut, _ = time.Parse(time.RFC3339, scheduledOut)
	rec.ActualIn = parseNullTime(actualIn)
	rec.ActualOut = parseNullTime(actualOut)
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return rec, nil
}

// =============================================================================
// POINT STORE (attendance.PointStore interface)
// =============================================================================

const pointSelect = `
	SELECT id, record_id, user_id, shift_date, point_type, value, expires_at,
	       is_expired, expiration_type, gbro_batch_id, eligible_for_gbro,
	       is_excused, excused_by, excuse_reason, created_at
	FROM point_entries
`

// ReplaceForRecord atomically swaps the entry set owned by a record.
func (s *Store) ReplaceForRecord(ctx context.Context, recordID attendance.RecordID, entries []attendance.PointEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM point_entries WHERE record_id = ?", recordID); err != nil {
		return fmt.Errorf("failed to clear points: %w", err)
	}

	query := `
		INSERT INTO point_entries
		(id, record_id, user_id, shift_date, point_type, value, expires_at,
		 is_expired, expiration_type, gbro_batch_id, eligible_for_gbro,
		 is_excused, excused_by, excuse_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for _, e := range entries {
		_, err := tx.ExecContext(ctx, query,
			e.ID, recordID, e.UserID, attendance.DateOf(e.ShiftDate).Format(dayFormat),
			e.Type, e.Value.String(), e.ExpiresAt.UTC().Format(time.RFC3339),
			e.Expired, e.ExpirationType, e.GBROBatchID, e.EligibleForGBRO,
			e.Excused, e.ExcusedBy, e.ExcuseReason,
			e.CreatedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to insert point: %w", err)
		}
	}

	return tx.Commit()
}

// ListByRecord returns the entries owned by a record.
func (s *Store) ListByRecord(ctx context.Context, recordID attendance.RecordID) ([]attendance.PointEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryPoints(ctx, pointSelect+" WHERE record_id = ? ORDER BY point_type", recordID)
}

// ListByUser returns all of a user's entries.
func (s *Store) ListByUser(ctx context.Context, userID attendance.UserID) ([]attendance.PointEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryPoints(ctx, pointSelect+" WHERE user_id = ? ORDER BY shift_date, id", userID)
}

// ListActive returns a user's non-expired, non-excused entries.
func (s *Store) ListActive(ctx context.Context, userID attendance.UserID) ([]attendance.PointEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryPoints(ctx,
		pointSelect+" WHERE user_id = ? AND is_expired = FALSE AND is_excused = FALSE ORDER BY shift_date, id",
		userID)
}

// ListExpirable returns active entries whose horizon has passed.
func (s *Store) ListExpirable(ctx context.Context, asOf time.Time) ([]attendance.PointEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryPoints(ctx,
		pointSelect+" WHERE is_expired = FALSE AND is_excused = FALSE AND expires_at <= ? ORDER BY expires_at, id",
		asOf.UTC().Format(time.RFC3339))
}

// ListAmnestyEligible returns a user's active, amnesty-eligible entries.
func (s *Store) ListAmnestyEligible(ctx context.Context, userID attendance.UserID) ([]attendance.PointEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryPoints(ctx,
		pointSelect+` WHERE user_id = ? AND eligible_for_gbro = TRUE
			AND is_expired = FALSE AND is_excused = FALSE ORDER BY shift_date, id`,
		userID)
}

// MarkExpired flips the expired flag, guarded on current state. The guard
// lives in the WHERE clause, so a sweep never contends with an in-flight
// excusal or a concurrent batch.
func (s *Store) MarkExpired(ctx context.Context, id attendance.PointID, expType attendance.ExpirationType, batchID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE point_entries
		SET is_expired = TRUE, expiration_type = ?, gbro_batch_id = ?
		WHERE id = ? AND is_expired = FALSE AND is_excused = FALSE
	`, expType, batchID, id)
	if err != nil {
		return fmt.Errorf("failed to mark expired: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.pointGuardError(ctx, id)
	}
	return nil
}

// Excuse permanently excludes an entry from active totals.
func (s *Store) Excuse(ctx context.Context, id attendance.PointID, actor, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE point_entries
		SET is_excused = TRUE, excused_by = ?, excuse_reason = ?
		WHERE id = ? AND is_excused = FALSE
	`, actor, reason, id)
	if err != nil {
		return fmt.Errorf("failed to excuse point: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.pointGuardError(ctx, id)
	}
	return nil
}

// GetPoint returns one entry.
func (s *Store) GetPoint(ctx context.Context, id attendance.PointID) (attendance.PointEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.queryPoints(ctx, pointSelect+" WHERE id = ?", id)
	if err != nil {
		return attendance.PointEntry{}, err
	}
	if len(entries) == 0 {
		return attendance.PointEntry{}, attendance.ErrPointNotFound
	}
	return entries[0], nil
}

// pointGuardError distinguishes a missing entry from a settled one after a
// guarded update touched zero rows.
func (s *Store) pointGuardError(ctx context.Context, id attendance.PointID) error {
	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM point_entries WHERE id = ?", id).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return attendance.ErrPointNotFound
	}
	return attendance.ErrPointSettled
}

func (s *Store) queryPoints(ctx context.Context, query string, args ...any) ([]attendance.PointEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query points: %w", err)
	}
	defer rows.Close()

	var entries []attendance.PointEntry
	for rows.Next() {
		var (
			e                    attendance.PointEntry
			shiftDate, value     string
			expiresAt, createdAt string
		)
		if err := rows.Scan(
			&e.ID, &e.RecordID, &e.UserID, &shiftDate, &e.Type, &value, &expiresAt,
			&e.Expired, &e.ExpirationType, &e.GBROBatchID, &e.EligibleForGBRO,
			&e.Excused, &e.ExcusedBy, &e.ExcuseReason, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan point: %w", err)
		}
		e.ShiftDate, _ = time.Parse(dayFormat, shiftDate)
		e.Value, _ = decimal.NewFromString(value)
		e.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// SCHEDULE SOURCE (attendance.ScheduleSource interface)
// =============================================================================

// SaveSchedule stores a schedule version. Schedule management lives
// upstream; this exists so deployments without a schedule service can
// seed the table directly.
func (s *Store) SaveSchedule(ctx context.Context, sched attendance.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO schedules
		(id, user_id, shift_type, time_in, time_out, grace_minutes, work_days, effective_from, effective_to)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			shift_type = excluded.shift_type,
			time_in = excluded.time_in,
			time_out = excluded.time_out,
			grace_minutes = excluded.grace_minutes,
			work_days = excluded.work_days,
			effective_from = excluded.effective_from,
			effective_to = excluded.effective_to
	`

	var effectiveTo *string
	if sched.EffectiveTo != nil {
		t := attendance.DateOf(*sched.EffectiveTo).Format(dayFormat)
		effectiveTo = &t
	}

	_, err := s.db.ExecContext(ctx, query,
		sched.ID, sched.UserID, sched.ShiftType,
		sched.TimeIn.String(), sched.TimeOut.String(),
		sched.GraceMinutes, formatWorkDays(sched.WorkDays),
		attendance.DateOf(sched.EffectiveFrom).Format(dayFormat), effectiveTo,
	)
	return err
}

// ActiveSchedule returns the schedule active for the user on the date.
func (s *Store) ActiveSchedule(ctx context.Context, userID attendance.UserID, date time.Time) (attendance.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day := attendance.DateOf(date).Format(dayFormat)
	query := `
		SELECT id, user_id, shift_type, time_in, time_out, grace_minutes, work_days, effective_from, effective_to
		FROM schedules
		WHERE user_id = ? AND effective_from <= ?
		  AND (effective_to IS NULL OR effective_to >= ?)
		ORDER BY effective_from DESC
		LIMIT 1
	`

	row := s.db.QueryRowContext(ctx, query, userID, day, day)
	sched, err := scanScheduleRow(row)
	if err == sql.ErrNoRows {
		return attendance.Schedule{}, &attendance.ScheduleLookupError{UserID: userID, Date: attendance.DateOf(date)}
	}
	return sched, err
}

// ActiveUsers returns users with any schedule active on the date.
func (s *Store) ActiveUsers(ctx context.Context, date time.Time) ([]attendance.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day := attendance.DateOf(date).Format(dayFormat)
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM schedules
		WHERE effective_from <= ? AND (effective_to IS NULL OR effective_to >= ?)
		ORDER BY user_id
	`, day, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []attendance.UserID
	for rows.Next() {
		var u attendance.UserID
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanScheduleRow(row rowScanner) (attendance.Schedule, error) {
	var (
		sched           attendance.Schedule
		timeIn, timeOut string
		workDays        string
		effectiveFrom   string
		effectiveTo     sql.NullString
	)
	err := row.Scan(&sched.ID, &sched.UserID, &sched.ShiftType, &timeIn, &timeOut,
		&sched.GraceMinutes, &workDays, &effectiveFrom, &effectiveTo)
	if err != nil {
		return sched, err
	}
	sched.TimeIn = parseClock(timeIn)
	sched.TimeOut = parseClock(timeOut)
	sched.WorkDays = parseWorkDays(workDays)
	sched.EffectiveFrom, _ = time.Parse(dayFormat, effectiveFrom)
	if effectiveTo.Valid {
		t, _ := time.Parse(dayFormat, effectiveTo.String)
		sched.EffectiveTo = &t
	}
	return sched, nil
}

// =============================================================================
// AUDIT LOG (attendance.AuditLog interface)
// =============================================================================

// Append adds an audit event. Append-only.
func (s *Store) Append(ctx context.Context, event attendance.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events
		(id, at, actor_id, action, user_id, record_id, point_id, before_state, after_state, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID, event.At.UTC().Format(time.RFC3339), event.ActorID, event.Action,
		event.UserID, event.RecordID, event.PointID, event.Before, event.After, event.Reason,
	)
	return err
}

// Query returns audit events matching the filter, oldest first.
func (s *Store) Query(ctx context.Context, filter attendance.AuditFilter) ([]attendance.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, at, actor_id, action, user_id, record_id, point_id, before_state, after_state, reason
		FROM audit_events WHERE 1=1
	`
	var args []any
	if filter.UserID != nil {
		query += " AND user_id = ?"
		args = append(args, *filter.UserID)
	}
	if filter.RecordID != nil {
		query += " AND record_id = ?"
		args = append(args, *filter.RecordID)
	}
	if filter.From != nil {
		query += " AND at >= ?"
		args = append(args, filter.From.UTC().Format(time.RFC3339))
	}
	if filter.To != nil {
		query += " AND at <= ?"
		args = append(args, filter.To.UTC().Format(time.RFC3339))
	}
	if len(filter.Actions) > 0 {
		query += " AND action IN (?" + strings.Repeat(",?", len(filter.Actions)-1) + ")"
		for _, a := range filter.Actions {
			args = append(args, a)
		}
	}
	query += " ORDER BY at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []attendance.AuditEvent
	for rows.Next() {
		var e attendance.AuditEvent
		var at string
		if err := rows.Scan(&e.ID, &at, &e.ActorID, &e.Action, &e.UserID,
			&e.RecordID, &e.PointID, &e.Before, &e.After, &e.Reason); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339, at)
		events = append(events, e)
	}
	return events, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func parseClock(s string) attendance.ClockTime {
	var h, m int
	fmt.Sscanf(s, "%d:%d", &h, &m)
	return attendance.NewClockTime(h, m)
}

func formatWorkDays(days []time.Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = fmt.Sprintf("%d", int(d))
	}
	return strings.Join(parts, ",")
}

func parseWorkDays(s string) []time.Weekday {
	if s == "" {
		return nil
	}
	var days []time.Weekday
	for _, part := range strings.Split(s, ",") {
		var d int
		if _, err := fmt.Sscanf(part, "%d", &d); err == nil {
			days = append(days, time.Weekday(d))
		}
	}
	return days
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"scans", "attendance_records", "point_entries", "schedules", "audit_events"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}
