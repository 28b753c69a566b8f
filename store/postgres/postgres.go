/*
Package postgres provides a gorm-backed timeoff.Backend for PostgreSQL.

PURPOSE:
  The multi-process deployment store. Unlike store/sqlite, it does not rely
  on a process mutex: concurrent reservations on one balance are serialized
  by row locks held until commit.

LOCKING:
  LockBalance and LockRequest issue SELECT ... FOR UPDATE. Balance updates
  additionally compare the version column; zero affected rows means a
  concurrent writer won and surfaces as generic.ErrConcurrentModification.

ERROR MAPPING:
  40001 serialization_failure, 40P01 deadlock_detected -> ErrConcurrentModification
  23505 unique_violation                              -> ErrDuplicate
  23503 foreign_key_violation                         -> ValidationError

TESTING:
  NewWithDB accepts any gorm dialect. Tests run it on an in-memory SQLite
  database; FOR UPDATE is skipped there because SQLite has no row locks and
  a single connection serializes transactions.
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
	gormpg "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store implements timeoff.Backend on gorm.
type Store struct {
	db *gorm.DB
}

var _ timeoff.Backend = (*Store)(nil)

// Open connects to PostgreSQL and migrates the schema.
// PreferSimpleProtocol avoids prepared statement clashes behind poolers.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(gormpg.New(gormpg.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return NewWithDB(db)
}

// NewWithDB wraps an open gorm handle and migrates the schema.
func NewWithDB(db *gorm.DB) (*Store, error) {
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// AutoMigrate creates or updates every table the store uses.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&locationModel{},
		&userModel{},
		&leaveTypeModel{},
		&holidayModel{},
		&locationHolidayModel{},
		&balanceModel{},
		&requestModel{},
		&attendanceModel{},
	)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// =============================================================================
// MODELS
// =============================================================================

// Boolean columns carry no gorm default: gorm skips zero values of fields
// with a default on insert, which would turn false into the default.

type locationModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	Country   string
	State     string
	City      string
	Timezone  string `gorm:"not null;default:UTC"`
	CreatedAt time.Time
}

func (locationModel) TableName() string { return "locations" }

type userModel struct {
	ID         string  `gorm:"primaryKey"`
	Email      string  `gorm:"uniqueIndex;not null"`
	FirstName  string  `gorm:"not null"`
	LastName   string  `gorm:"not null"`
	Role       string  `gorm:"not null;default:employee"`
	ManagerID  *string `gorm:"index"`
	LocationID string  `gorm:"not null;index"`
	IsActive   bool    `gorm:"not null"`
	CreatedAt  time.Time
}

func (userModel) TableName() string { return "users" }

type leaveTypeModel struct {
	ID                string `gorm:"primaryKey"`
	Name              string `gorm:"not null"`
	Code              string `gorm:"uniqueIndex;not null"`
	RequiresApproval  bool   `gorm:"not null"`
	MaxDaysPerRequest *int
	Description       string
}

func (leaveTypeModel) TableName() string { return "leave_types" }

type holidayModel struct {
	ID          string       `gorm:"primaryKey"`
	Name        string       `gorm:"not null"`
	Date        generic.Date `gorm:"type:date;not null;index"`
	IsMandatory bool         `gorm:"not null"`
	Description string
	CreatedAt   time.Time
}

func (holidayModel) TableName() string { return "holidays" }

type locationHolidayModel struct {
	LocationID string `gorm:"primaryKey"`
	HolidayID  string `gorm:"primaryKey;index"`
}

func (locationHolidayModel) TableName() string { return "location_holidays" }

type balanceModel struct {
	ID          string          `gorm:"primaryKey"`
	UserID      string          `gorm:"not null;uniqueIndex:uq_leave_balance_key"`
	LeaveTypeID string          `gorm:"not null;uniqueIndex:uq_leave_balance_key"`
	Year        int             `gorm:"not null;uniqueIndex:uq_leave_balance_key"`
	Allocated   decimal.Decimal `gorm:"type:numeric(8,2);not null;default:0"`
	Used        decimal.Decimal `gorm:"type:numeric(8,2);not null;default:0"`
	Pending     decimal.Decimal `gorm:"type:numeric(8,2);not null;default:0"`
	Version     int64           `gorm:"not null;default:1"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (balanceModel) TableName() string { return "leave_balances" }

type requestModel struct {
	ID              string          `gorm:"primaryKey"`
	UserID          string          `gorm:"not null;index:idx_leave_requests_user"`
	LeaveTypeID     string          `gorm:"not null"`
	StartDate       generic.Date    `gorm:"type:date;not null;index:idx_leave_requests_user"`
	EndDate         generic.Date    `gorm:"type:date;not null"`
	TotalDays       decimal.Decimal `gorm:"type:numeric(8,2);not null"`
	Reason          string
	Status          string `gorm:"not null;default:pending;index"`
	AppliedByID     string `gorm:"not null"`
	ApprovedByID    *string
	RejectionReason *string
	ApprovedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (requestModel) TableName() string { return "leave_requests" }

type attendanceModel struct {
	ID        string          `gorm:"primaryKey"`
	UserID    string          `gorm:"not null;uniqueIndex:uq_attendance_user_date"`
	Date      generic.Date    `gorm:"type:date;not null;uniqueIndex:uq_attendance_user_date;index"`
	CheckIn   *time.Time
	CheckOut  *time.Time
	Status    string          `gorm:"not null;default:present"`
	WorkHours decimal.Decimal `gorm:"type:numeric(5,2);not null;default:0"`
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (attendanceModel) TableName() string { return "attendance_records" }

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// conn implements timeoff.Store on a gorm handle, either the root handle or
// an open transaction.
type conn struct {
	db *gorm.DB
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(timeoff.Store) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&conn{db: tx})
	})
	return mapError(err)
}

func (s *Store) root() *conn { return &conn{db: s.db} }

func (s *Store) GetUser(ctx context.Context, id string) (*timeoff.User, error) {
	return s.root().GetUser(ctx, id)
}

func (s *Store) GetLocation(ctx context.Context, id string) (*timeoff.Location, error) {
	return s.root().GetLocation(ctx, id)
}

func (s *Store) GetLeaveType(ctx context.Context, id string) (*timeoff.LeaveType, error) {
	return s.root().GetLeaveType(ctx, id)
}

func (s *Store) HolidaysForLocation(ctx context.Context, locationID string, from, to generic.Date) ([]timeoff.Holiday, error) {
	return s.root().HolidaysForLocation(ctx, locationID, from, to)
}

// LockBalance outside WithTx only reads; the lock ends with the statement.
func (s *Store) LockBalance(ctx context.Context, key timeoff.BalanceKey) (*timeoff.LeaveBalance, error) {
	return s.root().LockBalance(ctx, key)
}

func (s *Store) UpdateBalance(ctx context.Context, b *timeoff.LeaveBalance) error {
	return s.root().UpdateBalance(ctx, b)
}

func (s *Store) LockRequest(ctx context.Context, id string) (*timeoff.LeaveRequest, error) {
	return s.root().LockRequest(ctx, id)
}

func (s *Store) InsertRequest(ctx context.Context, r *timeoff.LeaveRequest) error {
	return s.root().InsertRequest(ctx, r)
}

func (s *Store) UpdateRequest(ctx context.Context, r *timeoff.LeaveRequest) error {
	return s.root().UpdateRequest(ctx, r)
}

// forUpdate adds FOR UPDATE on dialects that support row locks.
func (c *conn) forUpdate(q *gorm.DB) *gorm.DB {
	if c.db.Dialector.Name() == "sqlite" {
		return q
	}
	return q.Clauses(clause.Locking{Strength: "UPDATE"})
}

// take runs q.Take and turns a missing row into found=false.
func take(q *gorm.DB, dest any) (bool, error) {
	err := q.Take(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, mapError(err)
	}
	return true, nil
}

func (c *conn) GetUser(ctx context.Context, id string) (*timeoff.User, error) {
	var m userModel
	found, err := take(c.db.WithContext(ctx).Where("id = ?", id), &m)
	if err != nil || !found {
		return nil, err
	}
	u := m.toDomain()
	return &u, nil
}

func (c *conn) GetLocation(ctx context.Context, id string) (*timeoff.Location, error) {
	var m locationModel
	found, err := take(c.db.WithContext(ctx).Where("id = ?", id), &m)
	if err != nil || !found {
		return nil, err
	}
	l := m.toDomain()
	return &l, nil
}

func (c *conn) GetLeaveType(ctx context.Context, id string) (*timeoff.LeaveType, error) {
	var m leaveTypeModel
	found, err := take(c.db.WithContext(ctx).Where("id = ?", id), &m)
	if err != nil || !found {
		return nil, err
	}
	t := m.toDomain()
	return &t, nil
}

func (c *conn) HolidaysForLocation(ctx context.Context, locationID string, from, to generic.Date) ([]timeoff.Holiday, error) {
	var models []holidayModel
	err := c.db.WithContext(ctx).
		Joins("JOIN location_holidays lh ON lh.holiday_id = holidays.id").
		Where("lh.location_id = ? AND holidays.date BETWEEN ? AND ?", locationID, from, to).
		Order("holidays.date, holidays.name").
		Find(&models).Error
	if err != nil {
		return nil, mapError(err)
	}
	return c.holidays(ctx, models)
}

func (c *conn) holidays(ctx context.Context, models []holidayModel) ([]timeoff.Holiday, error) {
	out := make([]timeoff.Holiday, 0, len(models))
	if len(models) == 0 {
		return out, nil
	}

	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	var links []locationHolidayModel
	if err := c.db.WithContext(ctx).Where("holiday_id IN ?", ids).Order("location_id").Find(&links).Error; err != nil {
		return nil, mapError(err)
	}
	byHoliday := make(map[string][]string, len(models))
	for _, l := range links {
		byHoliday[l.HolidayID] = append(byHoliday[l.HolidayID], l.LocationID)
	}

	for _, m := range models {
		h := m.toDomain()
		h.LocationIDs = byHoliday[m.ID]
		if h.LocationIDs == nil {
			h.LocationIDs = []string{}
		}
		out = append(out, h)
	}
	return out, nil
}

func (c *conn) LockBalance(ctx context.Context, key timeoff.BalanceKey) (*timeoff.LeaveBalance, error) {
	var m balanceModel
	q := c.forUpdate(c.db.WithContext(ctx)).
		Where("user_id = ? AND leave_type_id = ? AND year = ?", key.UserID, key.LeaveTypeID, key.Year)
	found, err := take(q, &m)
	if err != nil || !found {
		return nil, err
	}
	b := m.toDomain()
	return &b, nil
}

func (c *conn) UpdateBalance(ctx context.Context, b *timeoff.LeaveBalance) error {
	res := c.db.WithContext(ctx).Model(&balanceModel{}).
		Where("id = ? AND version = ?", b.ID, b.Version).
		Updates(map[string]any{
			"allocated":  b.Allocated,
			"used":       b.Used,
			"pending":    b.Pending,
			"version":    gorm.Expr("version + 1"),
			"updated_at": b.UpdatedAt,
		})
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return generic.ErrConcurrentModification
	}
	b.Version++
	return nil
}

func (c *conn) LockRequest(ctx context.Context, id string) (*timeoff.LeaveRequest, error) {
	var m requestModel
	found, err := take(c.forUpdate(c.db.WithContext(ctx)).Where("id = ?", id), &m)
	if err != nil || !found {
		return nil, err
	}
	r := m.toDomain()
	return &r, nil
}

func (c *conn) InsertRequest(ctx context.Context, r *timeoff.LeaveRequest) error {
	m := requestFromDomain(*r)
	return mapError(c.db.WithContext(ctx).Create(&m).Error)
}

// UpdateRequest writes the decision fields. Dates and TotalDays are frozen
// at insert.
func (c *conn) UpdateRequest(ctx context.Context, r *timeoff.LeaveRequest) error {
	res := c.db.WithContext(ctx).Model(&requestModel{}).
		Where("id = ?", r.ID).
		Updates(map[string]any{
			"status":           string(r.Status),
			"approved_by_id":   r.ApprovedByID,
			"rejection_reason": r.RejectionReason,
			"approved_at":      r.ApprovedAt,
			"updated_at":       r.UpdatedAt,
		})
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return &generic.NotFoundError{Entity: "leave_request", ID: r.ID}
	}
	return nil
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (s *Store) SaveUser(ctx context.Context, u timeoff.User) error {
	m := userFromDomain(u)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"email", "first_name", "last_name", "role", "manager_id", "location_id", "is_active"}),
		}).
		Create(&m).Error
	return mapError(err)
}

// ListTeam returns the active direct reports of managerID.
func (s *Store) ListTeam(ctx context.Context, managerID string) ([]timeoff.User, error) {
	var models []userModel
	err := s.db.WithContext(ctx).
		Where("manager_id = ? AND is_active = ?", managerID, true).
		Order("last_name, first_name").
		Find(&models).Error
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]timeoff.User, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

// ListUsers returns matching users, newest first.
func (s *Store) ListUsers(ctx context.Context, f timeoff.UserFilter) ([]timeoff.User, error) {
	q := s.db.WithContext(ctx)
	if f.Search != "" {
		like := "%" + strings.ToLower(f.Search) + "%"
		q = q.Where("LOWER(email) LIKE ? OR LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ?", like, like, like)
	}
	if f.Role != "" {
		q = q.Where("role = ?", string(f.Role))
	}
	if f.LocationID != "" {
		q = q.Where("location_id = ?", f.LocationID)
	}
	var models []userModel
	if err := q.Order("created_at DESC, id").Find(&models).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]timeoff.User, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (s *Store) SaveLocation(ctx context.Context, l timeoff.Location) error {
	m := locationModel{
		ID: l.ID, Name: l.Name, Country: l.Country, State: l.State,
		City: l.City, Timezone: l.Timezone, CreatedAt: l.CreatedAt,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "country", "state", "city", "timezone"}),
		}).
		Create(&m).Error
	return mapError(err)
}

func (s *Store) ListLocations(ctx context.Context) ([]timeoff.Location, error) {
	var models []locationModel
	if err := s.db.WithContext(ctx).Order("name").Find(&models).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]timeoff.Location, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (s *Store) SaveLeaveType(ctx context.Context, t timeoff.LeaveType) error {
	m := leaveTypeModel{
		ID: t.ID, Name: t.Name, Code: t.Code, RequiresApproval: t.RequiresApproval,
		MaxDaysPerRequest: t.MaxDaysPerRequest, Description: t.Description,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "code", "requires_approval", "max_days_per_request", "description"}),
		}).
		Create(&m).Error
	return mapError(err)
}

func (s *Store) ListLeaveTypes(ctx context.Context) ([]timeoff.LeaveType, error) {
	var models []leaveTypeModel
	if err := s.db.WithContext(ctx).Order("name").Find(&models).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]timeoff.LeaveType, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

// SaveHoliday stores the holiday and adds it to each location in
// h.LocationIDs.
func (s *Store) SaveHoliday(ctx context.Context, h timeoff.Holiday) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m := holidayModel{
			ID: h.ID, Name: h.Name, Date: h.Date, IsMandatory: h.IsMandatory,
			Description: h.Description, CreatedAt: h.CreatedAt,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "date", "is_mandatory", "description"}),
		}).Create(&m).Error; err != nil {
			return err
		}
		for _, locID := range h.LocationIDs {
			link := locationHolidayModel{LocationID: locID, HolidayID: h.ID}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return mapError(err)
}

func (s *Store) DeleteHoliday(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("holiday_id = ?", id).Delete(&locationHolidayModel{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&holidayModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &generic.NotFoundError{Entity: "holiday", ID: id}
		}
		return nil
	})
	return mapError(err)
}

// ListHolidays returns every holiday in a year; year 0 means all years.
func (s *Store) ListHolidays(ctx context.Context, year int) ([]timeoff.Holiday, error) {
	q := s.db.WithContext(ctx).Order("date, name")
	if year != 0 {
		q = q.Where("date BETWEEN ? AND ?", generic.StartOfYear(year), generic.EndOfYear(year))
	}
	var models []holidayModel
	if err := q.Find(&models).Error; err != nil {
		return nil, mapError(err)
	}
	return s.root().holidays(ctx, models)
}

// AssignHolidays replaces the location's holiday set.
func (s *Store) AssignHolidays(ctx context.Context, locationID string, holidayIDs []string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("location_id = ?", locationID).Delete(&locationHolidayModel{}).Error; err != nil {
			return err
		}
		for _, id := range holidayIDs {
			var count int64
			if err := tx.Model(&holidayModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return &generic.NotFoundError{Entity: "holiday", ID: id}
			}
			link := locationHolidayModel{LocationID: locationID, HolidayID: id}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return mapError(err)
}

// AllocateBalance creates the row or sets Allocated on the existing one.
func (s *Store) AllocateBalance(ctx context.Context, key timeoff.BalanceKey, allocated decimal.Decimal) (*timeoff.LeaveBalance, error) {
	var out *timeoff.LeaveBalance
	err := s.WithTx(ctx, func(tx timeoff.Store) error {
		c := tx.(*conn)
		now := time.Now().UTC()

		existing, err := c.LockBalance(ctx, key)
		if err != nil {
			return err
		}
		if existing == nil {
			m := balanceModel{
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
			if err := c.db.WithContext(ctx).Create(&m).Error; err != nil {
				return err
			}
			b := m.toDomain()
			out = &b
			return nil
		}

		committed := existing.Used.Add(existing.Pending)
		if allocated.LessThan(committed) {
			return &generic.ValidationError{
				Field:   "allocated",
				Message: fmt.Sprintf("cannot be less than used plus pending (%s)", committed),
			}
		}
		existing.Allocated = allocated
		existing.UpdatedAt = now
		if err := c.UpdateBalance(ctx, existing); err != nil {
			return err
		}
		out = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListBalances returns the user's balances; year 0 means every year.
func (s *Store) ListBalances(ctx context.Context, userID string, year int) ([]timeoff.LeaveBalance, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if year != 0 {
		q = q.Where("year = ?", year)
	}
	var models []balanceModel
	if err := q.Order("year, leave_type_id").Find(&models).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]timeoff.LeaveBalance, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (*timeoff.LeaveRequest, error) {
	var m requestModel
	found, err := take(s.db.WithContext(ctx).Where("id = ?", id), &m)
	if err != nil || !found {
		return nil, err
	}
	r := m.toDomain()
	return &r, nil
}

// ListRequests returns matching requests, newest first.
func (s *Store) ListRequests(ctx context.Context, f timeoff.RequestFilter) ([]timeoff.LeaveRequest, error) {
	q := s.db.WithContext(ctx)
	if len(f.UserIDs) > 0 {
		q = q.Where("user_id IN ?", f.UserIDs)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.Year != 0 {
		q = q.Where("start_date BETWEEN ? AND ?", generic.StartOfYear(f.Year), generic.EndOfYear(f.Year))
	}
	var models []requestModel
	if err := q.Order("created_at DESC, id").Find(&models).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]timeoff.LeaveRequest, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

// =============================================================================
// ATTENDANCE
// =============================================================================

func (s *Store) GetAttendance(ctx context.Context, userID string, day generic.Date) (*timeoff.AttendanceRecord, error) {
	var m attendanceModel
	found, err := take(s.db.WithContext(ctx).Where("user_id = ? AND date = ?", userID, day), &m)
	if err != nil || !found {
		return nil, err
	}
	r := m.toDomain()
	return &r, nil
}

// SaveAttendance inserts or replaces a record by id. The (user_id, date)
// unique index rejects a second record for the same day.
func (s *Store) SaveAttendance(ctx context.Context, r timeoff.AttendanceRecord) error {
	m := attendanceFromDomain(r)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"check_in", "check_out", "status", "work_hours", "notes", "updated_at"}),
		}).
		Create(&m).Error
	return mapError(err)
}

func (s *Store) ListAttendance(ctx context.Context, f timeoff.AttendanceFilter) ([]timeoff.AttendanceRecord, error) {
	q := s.db.WithContext(ctx)
	if len(f.UserIDs) > 0 {
		q = q.Where("user_id IN ?", f.UserIDs)
	}
	if !f.From.IsZero() {
		q = q.Where("date >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("date <= ?", f.To)
	}
	var models []attendanceModel
	if err := q.Order("date DESC, user_id").Find(&models).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]timeoff.AttendanceRecord, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func (m attendanceModel) toDomain() timeoff.AttendanceRecord {
	return timeoff.AttendanceRecord{
		ID: m.ID, UserID: m.UserID, Date: m.Date, CheckIn: m.CheckIn, CheckOut: m.CheckOut,
		Status: timeoff.AttendanceStatus(m.Status), WorkHours: m.WorkHours, Notes: m.Notes,
		CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

func attendanceFromDomain(r timeoff.AttendanceRecord) attendanceModel {
	return attendanceModel{
		ID: r.ID, UserID: r.UserID, Date: r.Date, CheckIn: r.CheckIn, CheckOut: r.CheckOut,
		Status: string(r.Status), WorkHours: r.WorkHours, Notes: r.Notes,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func (m userModel) toDomain() timeoff.User {
	return timeoff.User{
		ID: m.ID, Email: m.Email, FirstName: m.FirstName, LastName: m.LastName,
		Role: timeoff.Role(m.Role), ManagerID: m.ManagerID, LocationID: m.LocationID,
		IsActive: m.IsActive, CreatedAt: m.CreatedAt,
	}
}

func userFromDomain(u timeoff.User) userModel {
	return userModel{
		ID: u.ID, Email: u.Email, FirstName: u.FirstName, LastName: u.LastName,
		Role: string(u.Role), ManagerID: u.ManagerID, LocationID: u.LocationID,
		IsActive: u.IsActive, CreatedAt: u.CreatedAt,
	}
}

func (m locationModel) toDomain() timeoff.Location {
	return timeoff.Location{
		ID: m.ID, Name: m.Name, Country: m.Country, State: m.State,
		City: m.City, Timezone: m.Timezone, CreatedAt: m.CreatedAt,
	}
}

func (m leaveTypeModel) toDomain() timeoff.LeaveType {
	return timeoff.LeaveType{
		ID: m.ID, Name: m.Name, Code: m.Code, RequiresApproval: m.RequiresApproval,
		MaxDaysPerRequest: m.MaxDaysPerRequest, Description: m.Description,
	}
}

func (m holidayModel) toDomain() timeoff.Holiday {
	return timeoff.Holiday{
		ID: m.ID, Name: m.Name, Date: m.Date, IsMandatory: m.IsMandatory,
		Description: m.Description, CreatedAt: m.CreatedAt,
	}
}

func (m balanceModel) toDomain() timeoff.LeaveBalance {
	return timeoff.LeaveBalance{
		ID: m.ID, UserID: m.UserID, LeaveTypeID: m.LeaveTypeID, Year: m.Year,
		Allocated: m.Allocated, Used: m.Used, Pending: m.Pending, Version: m.Version,
		CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

func (m requestModel) toDomain() timeoff.LeaveRequest {
	return timeoff.LeaveRequest{
		ID: m.ID, UserID: m.UserID, LeaveTypeID: m.LeaveTypeID,
		StartDate: m.StartDate, EndDate: m.EndDate, TotalDays: m.TotalDays,
		Reason: m.Reason, Status: timeoff.RequestStatus(m.Status), AppliedByID: m.AppliedByID,
		ApprovedByID: m.ApprovedByID, RejectionReason: m.RejectionReason, ApprovedAt: m.ApprovedAt,
		CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

func requestFromDomain(r timeoff.LeaveRequest) requestModel {
	return requestModel{
		ID: r.ID, UserID: r.UserID, LeaveTypeID: r.LeaveTypeID,
		StartDate: r.StartDate, EndDate: r.EndDate, TotalDays: r.TotalDays,
		Reason: r.Reason, Status: string(r.Status), AppliedByID: r.AppliedByID,
		ApprovedByID: r.ApprovedByID, RejectionReason: r.RejectionReason, ApprovedAt: r.ApprovedAt,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// mapError translates driver errors into the generic taxonomy. Domain errors
// returned from a transaction callback pass through unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, generic.ErrDuplicate) || errors.Is(err, generic.ErrConcurrentModification) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", generic.ErrConcurrentModification, pgErr.Message)
		case "23505":
			return fmt.Errorf("%w: %s", generic.ErrDuplicate, pgErr.ConstraintName)
		case "23503":
			return &generic.ValidationError{Message: "referenced record does not exist"}
		}
		return err
	}

	// The SQLite dialect used in tests reports constraints as text.
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s", generic.ErrDuplicate, msg)
	}
	return err
}
