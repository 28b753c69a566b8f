/*
Package sqlite provides a SQLite-backed implementation of the leave engine's
storage interfaces.

PURPOSE:
  Implements timeoff.Backend (TxStore + Directory + Attendance) on database/sql with the
  go-sqlite3 driver. This is the default store for development and for the
  single-node deployment.

KEY TABLES:
  users, locations, leave_types:  Reference data
  holidays, location_holidays:    Holidays and their location assignment
  leave_balances:                 One ledger row per (user, leave type, year)
  leave_requests:                 Requests and their decision fields
  attendance_records:             One check-in/check-out row per (user, date)

CONCURRENCY:
  SQLite has no row locks. Transactions are opened with BEGIN IMMEDIATE
  (_txlock=immediate) so the write lock is taken up front, and a process
  mutex serializes WithTx calls. LockBalance/LockRequest are plain reads
  inside that transaction. Balance updates still check the version column,
  so a writer outside this process surfaces as ErrConcurrentModification.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  requests := timeoff.NewRequestService(store, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - timeoff/store.go: Interface definitions
  - store/memory: In-memory implementation for tests
  - store/postgres: Row-locking implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// Store implements timeoff.Backend using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ timeoff.Backend = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
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

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS locations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		country TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		timezone TEXT NOT NULL DEFAULT 'UTC',
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'employee',
		manager_id TEXT REFERENCES users(id),
		location_id TEXT NOT NULL REFERENCES locations(id),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_manager ON users(manager_id);

	CREATE TABLE IF NOT EXISTS leave_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		code TEXT NOT NULL UNIQUE,
		requires_approval BOOLEAN NOT NULL DEFAULT TRUE,
		max_days_per_request INTEGER,
		description TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		date TEXT NOT NULL,
		is_mandatory BOOLEAN NOT NULL DEFAULT TRUE,
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_holidays_date ON holidays(date);

	CREATE TABLE IF NOT EXISTS location_holidays (
		location_id TEXT NOT NULL REFERENCES locations(id) ON DELETE CASCADE,
		holiday_id TEXT NOT NULL REFERENCES holidays(id) ON DELETE CASCADE,
		PRIMARY KEY (location_id, holiday_id)
	);

	-- One ledger row per (user, leave type, year)
	CREATE TABLE IF NOT EXISTS leave_balances (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		leave_type_id TEXT NOT NULL REFERENCES leave_types(id),
		year INTEGER NOT NULL,
		allocated TEXT NOT NULL DEFAULT '0',
		used TEXT NOT NULL DEFAULT '0',
		pending TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(user_id, leave_type_id, year)
	);

	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		leave_type_id TEXT NOT NULL REFERENCES leave_types(id),
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		total_days TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		applied_by_id TEXT NOT NULL,
		approved_by_id TEXT,
		rejection_reason TEXT,
		approved_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leave_requests_user ON leave_requests(user_id, start_date);
	CREATE INDEX IF NOT EXISTS idx_leave_requests_status ON leave_requests(status);

	CREATE TABLE IF NOT EXISTS attendance_records (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		date TEXT NOT NULL,
		check_in TIMESTAMP,
		check_out TIMESTAMP,
		status TEXT NOT NULL DEFAULT 'present',
		work_hours TEXT NOT NULL DEFAULT '0',
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(user_id, date)
	);

	CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance_records(date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// QUERIER - Shared by the database handle and an open transaction
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn implements timeoff.Store against any querier. Inside WithTx it wraps
// the *sql.Tx, so every read sees the transaction's own writes.
type conn struct {
	q querier
}

// =============================================================================
// TRANSACTIONAL STORE (timeoff.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store timeoff.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return mapError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

func (s *Store) reader() *conn { return &conn{q: s.db} }

func (s *Store) GetUser(ctx context.Context, id string) (*timeoff.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().GetUser(ctx, id)
}

func (s *Store) GetLocation(ctx context.Context, id string) (*timeoff.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().GetLocation(ctx, id)
}

func (s *Store) GetLeaveType(ctx context.Context, id string) (*timeoff.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().GetLeaveType(ctx, id)
}

func (s *Store) HolidaysForLocation(ctx context.Context, locationID string, from, to generic.Date) ([]timeoff.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().HolidaysForLocation(ctx, locationID, from, to)
}

func (s *Store) LockBalance(ctx context.Context, key timeoff.BalanceKey) (*timeoff.LeaveBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().LockBalance(ctx, key)
}

func (s *Store) UpdateBalance(ctx context.Context, b *timeoff.LeaveBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().UpdateBalance(ctx, b)
}

func (s *Store) LockRequest(ctx context.Context, id string) (*timeoff.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().LockRequest(ctx, id)
}

func (s *Store) InsertRequest(ctx context.Context, r *timeoff.LeaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().InsertRequest(ctx, r)
}

func (s *Store) UpdateRequest(ctx context.Context, r *timeoff.LeaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().UpdateRequest(ctx, r)
}

// =============================================================================
// READER
// =============================================================================

const userColumns = `id, email, first_name, last_name, role, manager_id, location_id, is_active, created_at`

func scanUser(row interface{ Scan(...any) error }) (timeoff.User, error) {
	var u timeoff.User
	var role string
	var managerID sql.NullString
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &role, &managerID,
		&u.LocationID, &u.IsActive, &u.CreatedAt)
	u.Role = timeoff.Role(role)
	u.ManagerID = stringPtr(managerID)
	return u, err
}

func (c *conn) GetUser(ctx context.Context, id string) (*timeoff.User, error) {
	u, err := scanUser(c.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *conn) GetLocation(ctx context.Context, id string) (*timeoff.Location, error) {
	var l timeoff.Location
	err := c.q.QueryRowContext(ctx, `
		SELECT id, name, country, state, city, timezone, created_at
		FROM locations WHERE id = ?
	`, id).Scan(&l.ID, &l.Name, &l.Country, &l.State, &l.City, &l.Timezone, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

const leaveTypeColumns = `id, name, code, requires_approval, max_days_per_request, description`

func scanLeaveType(row interface{ Scan(...any) error }) (timeoff.LeaveType, error) {
	var t timeoff.LeaveType
	var maxDays sql.NullInt64
	err := row.Scan(&t.ID, &t.Name, &t.Code, &t.RequiresApproval, &maxDays, &t.Description)
	if maxDays.Valid {
		v := int(maxDays.Int64)
		t.MaxDaysPerRequest = &v
	}
	return t, err
}

func (c *conn) GetLeaveType(ctx context.Context, id string) (*timeoff.LeaveType, error) {
	t, err := scanLeaveType(c.q.QueryRowContext(ctx, `SELECT `+leaveTypeColumns+` FROM leave_types WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *conn) HolidaysForLocation(ctx context.Context, locationID string, from, to generic.Date) ([]timeoff.Holiday, error) {
	holidays, err := c.queryHolidays(ctx, `
		SELECT h.id, h.name, h.date, h.is_mandatory, h.description, h.created_at
		FROM holidays h
		JOIN location_holidays lh ON lh.holiday_id = h.id
		WHERE lh.location_id = ? AND h.date BETWEEN ? AND ?
		ORDER BY h.date, h.name
	`, locationID, from, to)
	if err != nil {
		return nil, err
	}
	return holidays, c.attachLocations(ctx, holidays)
}

func (c *conn) queryHolidays(ctx context.Context, query string, args ...any) ([]timeoff.Holiday, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	holidays := []timeoff.Holiday{}
	for rows.Next() {
		var h timeoff.Holiday
		if err := rows.Scan(&h.ID, &h.Name, &h.Date, &h.IsMandatory, &h.Description, &h.CreatedAt); err != nil {
			return nil, err
		}
		holidays = append(holidays, h)
	}
	return holidays, rows.Err()
}

func (c *conn) attachLocations(ctx context.Context, holidays []timeoff.Holiday) error {
	for i := range holidays {
		rows, err := c.q.QueryContext(ctx,
			`SELECT location_id FROM location_holidays WHERE holiday_id = ? ORDER BY location_id`, holidays[i].ID)
		if err != nil {
			return err
		}
		holidays[i].LocationIDs = []string{}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			holidays[i].LocationIDs = append(holidays[i].LocationIDs, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// BALANCES
// =============================================================================

const balanceColumns = `id, user_id, leave_type_id, year, allocated, used, pending, version, created_at, updated_at`

func scanBalance(row interface{ Scan(...any) error }) (timeoff.LeaveBalance, error) {
	var b timeoff.LeaveBalance
	err := row.Scan(&b.ID, &b.UserID, &b.LeaveTypeID, &b.Year, &b.Allocated, &b.Used, &b.Pending,
		&b.Version, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

// LockBalance reads the row. The BEGIN IMMEDIATE transaction already holds
// the database write lock.
func (c *conn) LockBalance(ctx context.Context, key timeoff.BalanceKey) (*timeoff.LeaveBalance, error) {
	b, err := scanBalance(c.q.QueryRowContext(ctx, `
		SELECT `+balanceColumns+` FROM leave_balances
		WHERE user_id = ? AND leave_type_id = ? AND year = ?
	`, key.UserID, key.LeaveTypeID, key.Year))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *conn) UpdateBalance(ctx context.Context, b *timeoff.LeaveBalance) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE leave_balances
		SET allocated = ?, used = ?, pending = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, b.Allocated.String(), b.Used.String(), b.Pending.String(), b.UpdatedAt, b.ID, b.Version)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return generic.ErrConcurrentModification
	}
	b.Version++
	return nil
}

// =============================================================================
// REQUESTS
// =============================================================================

const requestColumns = `id, user_id, leave_type_id, start_date, end_date, total_days, reason, status,
	applied_by_id, approved_by_id, rejection_reason, approved_at, created_at, updated_at`

func scanRequest(row interface{ Scan(...any) error }) (timeoff.LeaveRequest, error) {
	var r timeoff.LeaveRequest
	var status string
	var approvedBy, rejection sql.NullString
	var approvedAt sql.NullTime
	err := row.Scan(&r.ID, &r.UserID, &r.LeaveTypeID, &r.StartDate, &r.EndDate, &r.TotalDays,
		&r.Reason, &status, &r.AppliedByID, &approvedBy, &rejection, &approvedAt,
		&r.CreatedAt, &r.UpdatedAt)
	r.Status = timeoff.RequestStatus(status)
	r.ApprovedByID = stringPtr(approvedBy)
	r.RejectionReason = stringPtr(rejection)
	if approvedAt.Valid {
		t := approvedAt.Time
		r.ApprovedAt = &t
	}
	return r, err
}

func (c *conn) LockRequest(ctx context.Context, id string) (*timeoff.LeaveRequest, error) {
	r, err := scanRequest(c.q.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM leave_requests WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *conn) InsertRequest(ctx context.Context, r *timeoff.LeaveRequest) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO leave_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.UserID, r.LeaveTypeID, r.StartDate, r.EndDate, r.TotalDays.String(), r.Reason,
		string(r.Status), r.AppliedByID, r.ApprovedByID, r.RejectionReason, r.ApprovedAt,
		r.CreatedAt, r.UpdatedAt)
	return mapError(err)
}

// UpdateRequest writes the decision fields. Dates and TotalDays are frozen
// at insert.
func (c *conn) UpdateRequest(ctx context.Context, r *timeoff.LeaveRequest) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE leave_requests
		SET status = ?, approved_by_id = ?, rejection_reason = ?, approved_at = ?, updated_at = ?
		WHERE id = ?
	`, string(r.Status), r.ApprovedByID, r.RejectionReason, r.ApprovedAt, r.UpdatedAt, r.ID)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &generic.NotFoundError{Entity: "leave_request", ID: r.ID}
	}
	return nil
}

// =============================================================================
// DIRECTORY (timeoff.Directory interface)
// =============================================================================

// SaveUser inserts or replaces a user.
func (s *Store) SaveUser(ctx context.Context, u timeoff.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			role = excluded.role,
			manager_id = excluded.manager_id,
			location_id = excluded.location_id,
			is_active = excluded.is_active
	`, u.ID, u.Email, u.FirstName, u.LastName, string(u.Role), u.ManagerID, u.LocationID, u.IsActive, u.CreatedAt)
	return mapError(err)
}

// ListTeam returns the active direct reports of managerID.
func (s *Store) ListTeam(ctx context.Context, managerID string) ([]timeoff.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE manager_id = ? AND is_active
		ORDER BY last_name, first_name
	`, managerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []timeoff.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListUsers returns matching users, newest first.
func (s *Store) ListUsers(ctx context.Context, f timeoff.UserFilter) ([]timeoff.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	if f.Search != "" {
		like := "%" + strings.ToLower(f.Search) + "%"
		where = append(where, `(lower(email) LIKE ? OR lower(first_name) LIKE ? OR lower(last_name) LIKE ?)`)
		args = append(args, like, like, like)
	}
	if f.Role != "" {
		where = append(where, `role = ?`)
		args = append(args, string(f.Role))
	}
	if f.LocationID != "" {
		where = append(where, `location_id = ?`)
		args = append(args, f.LocationID)
	}

	query := `SELECT ` + userColumns + ` FROM users`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []timeoff.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) SaveLocation(ctx context.Context, l timeoff.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO locations (id, name, country, state, city, timezone, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			country = excluded.country,
			state = excluded.state,
			city = excluded.city,
			timezone = excluded.timezone
	`, l.ID, l.Name, l.Country, l.State, l.City, l.Timezone, l.CreatedAt)
	return mapError(err)
}

func (s *Store) ListLocations(ctx context.Context) ([]timeoff.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, country, state, city, timezone, created_at
		FROM locations ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	locations := []timeoff.Location{}
	for rows.Next() {
		var l timeoff.Location
		if err := rows.Scan(&l.ID, &l.Name, &l.Country, &l.State, &l.City, &l.Timezone, &l.CreatedAt); err != nil {
			return nil, err
		}
		locations = append(locations, l)
	}
	return locations, rows.Err()
}

func (s *Store) SaveLeaveType(ctx context.Context, t timeoff.LeaveType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leave_types (`+leaveTypeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			code = excluded.code,
			requires_approval = excluded.requires_approval,
			max_days_per_request = excluded.max_days_per_request,
			description = excluded.description
	`, t.ID, t.Name, t.Code, t.RequiresApproval, t.MaxDaysPerRequest, t.Description)
	return mapError(err)
}

func (s *Store) ListLeaveTypes(ctx context.Context) ([]timeoff.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+leaveTypeColumns+` FROM leave_types ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types := []timeoff.LeaveType{}
	for rows.Next() {
		t, err := scanLeaveType(rows)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// SaveHoliday stores the holiday and adds it to each location in
// h.LocationIDs.
func (s *Store) SaveHoliday(ctx context.Context, h timeoff.Holiday) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO holidays (id, name, date, is_mandatory, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			date = excluded.date,
			is_mandatory = excluded.is_mandatory,
			description = excluded.description
	`, h.ID, h.Name, h.Date, h.IsMandatory, h.Description, h.CreatedAt); err != nil {
		return mapError(err)
	}
	for _, locID := range h.LocationIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO location_holidays (location_id, holiday_id) VALUES (?, ?)`,
			locID, h.ID); err != nil {
			return mapError(err)
		}
	}
	return tx.Commit()
}

func (s *Store) DeleteHoliday(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM holidays WHERE id = ?`, id)
	if err != nil {
		return mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &generic.NotFoundError{Entity: "holiday", ID: id}
	}
	return nil
}

// ListHolidays returns every holiday in a year; year 0 means all years.
func (s *Store) ListHolidays(ctx context.Context, year int) ([]timeoff.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, name, date, is_mandatory, description, created_at FROM holidays`
	var args []any
	if year != 0 {
		query += ` WHERE date BETWEEN ? AND ?`
		args = append(args, generic.StartOfYear(year), generic.EndOfYear(year))
	}
	query += ` ORDER BY date, name`

	c := s.reader()
	holidays, err := c.queryHolidays(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return holidays, c.attachLocations(ctx, holidays)
}

// AssignHolidays replaces the location's holiday set.
func (s *Store) AssignHolidays(ctx context.Context, locationID string, holidayIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM location_holidays WHERE location_id = ?`, locationID); err != nil {
		return mapError(err)
	}
	for _, id := range holidayIDs {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM holidays WHERE id = ?)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return &generic.NotFoundError{Entity: "holiday", ID: id}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO location_holidays (location_id, holiday_id) VALUES (?, ?)`,
			locationID, id); err != nil {
			return mapError(err)
		}
	}
	return tx.Commit()
}

// AllocateBalance creates the row or sets Allocated on the existing one.
func (s *Store) AllocateBalance(ctx context.Context, key timeoff.BalanceKey, allocated decimal.Decimal) (*timeoff.LeaveBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapError(err)
	}
	defer tx.Rollback()

	c := &conn{q: tx}
	now := time.Now().UTC()
	existing, err := c.LockBalance(ctx, key)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		b := timeoff.LeaveBalance{
			ID:          uuid.NewString(),
			UserID:      key.UserID,
			LeaveTypeID: key.LeaveTypeID,
			Year:        key.Year,
			Allocated:   allocated,
			Used:        decimal.Zero,
			Pending:     decimal.Zero,
			Version:     1,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO leave_balances (`+balanceColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, b.ID, b.UserID, b.LeaveTypeID, b.Year, b.Allocated.String(), b.Used.String(), b.Pending.String(),
			b.Version, b.CreatedAt, b.UpdatedAt); err != nil {
			return nil, mapError(err)
		}
		if err := tx.Commit(); err != nil {
			return nil, mapError(err)
		}
		return &b, nil
	}

	committed := existing.Used.Add(existing.Pending)
	if allocated.LessThan(committed) {
		return nil, &generic.ValidationError{
			Field:   "allocated",
			Message: fmt.Sprintf("cannot be less than used plus pending (%s)", committed),
		}
	}
	existing.Allocated = allocated
	existing.UpdatedAt = now
	if err := c.UpdateBalance(ctx, existing); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, mapError(err)
	}
	return existing, nil
}

// ListBalances returns the user's balances; year 0 means every year.
func (s *Store) ListBalances(ctx context.Context, userID string, year int) ([]timeoff.LeaveBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + balanceColumns + ` FROM leave_balances WHERE user_id = ?`
	args := []any{userID}
	if year != 0 {
		query += ` AND year = ?`
		args = append(args, year)
	}
	query += ` ORDER BY year, leave_type_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	balances := []timeoff.LeaveBalance{}
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func (s *Store) GetRequest(ctx context.Context, id string) (*timeoff.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().LockRequest(ctx, id)
}

// ListRequests returns matching requests, newest first.
func (s *Store) ListRequests(ctx context.Context, f timeoff.RequestFilter) ([]timeoff.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	if len(f.UserIDs) > 0 {
		where = append(where, `user_id IN (?`+strings.Repeat(`, ?`, len(f.UserIDs)-1)+`)`)
		for _, id := range f.UserIDs {
			args = append(args, id)
		}
	}
	if f.Status != "" {
		where = append(where, `status = ?`)
		args = append(args, string(f.Status))
	}
	if f.Year != 0 {
		where = append(where, `start_date BETWEEN ? AND ?`)
		args = append(args, generic.StartOfYear(f.Year), generic.EndOfYear(f.Year))
	}

	query := `SELECT ` + requestColumns + ` FROM leave_requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := []timeoff.LeaveRequest{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// =============================================================================
// ATTENDANCE (timeoff.Attendance interface)
// =============================================================================

const attendanceColumns = `id, user_id, date, check_in, check_out, status, work_hours, notes, created_at, updated_at`

func scanAttendance(row interface{ Scan(...any) error }) (timeoff.AttendanceRecord, error) {
	var r timeoff.AttendanceRecord
	var status string
	var checkIn, checkOut sql.NullTime
	err := row.Scan(&r.ID, &r.UserID, &r.Date, &checkIn, &checkOut, &status, &r.WorkHours, &r.Notes,
		&r.CreatedAt, &r.UpdatedAt)
	r.Status = timeoff.AttendanceStatus(status)
	r.CheckIn = timePtr(checkIn)
	r.CheckOut = timePtr(checkOut)
	return r, err
}

func (s *Store) GetAttendance(ctx context.Context, userID string, day generic.Date) (*timeoff.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, err := scanAttendance(s.db.QueryRowContext(ctx,
		`SELECT `+attendanceColumns+` FROM attendance_records WHERE user_id = ? AND date = ?`, userID, day))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// SaveAttendance inserts or replaces a record. UNIQUE(user_id, date) turns a
// second record for the same day into ErrDuplicate.
func (s *Store) SaveAttendance(ctx context.Context, r timeoff.AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance_records (`+attendanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			check_in = excluded.check_in,
			check_out = excluded.check_out,
			status = excluded.status,
			work_hours = excluded.work_hours,
			notes = excluded.notes,
			updated_at = excluded.updated_at
	`, r.ID, r.UserID, r.Date, r.CheckIn, r.CheckOut, string(r.Status), r.WorkHours.String(), r.Notes,
		r.CreatedAt, r.UpdatedAt)
	return mapError(err)
}

func (s *Store) ListAttendance(ctx context.Context, f timeoff.AttendanceFilter) ([]timeoff.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	if len(f.UserIDs) > 0 {
		where = append(where, `user_id IN (?`+strings.Repeat(`, ?`, len(f.UserIDs)-1)+`)`)
		for _, id := range f.UserIDs {
			args = append(args, id)
		}
	}
	if !f.From.IsZero() {
		where = append(where, `date >= ?`)
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		where = append(where, `date <= ?`)
		args = append(args, f.To)
	}

	query := `SELECT ` + attendanceColumns + ` FROM attendance_records`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY date DESC, user_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []timeoff.AttendanceRecord{}
	for rows.Next() {
		r, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// mapError translates driver errors into the generic taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch {
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique,
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %v", generic.ErrDuplicate, err)
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey:
			return &generic.ValidationError{Message: "referenced record does not exist"}
		case sqliteErr.Code == sqlite3.ErrBusy, sqliteErr.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", generic.ErrConcurrentModification, err)
		}
	}
	return err
}
