package timeoff

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
	"go.uber.org/zap"
)

// =============================================================================
// ADMIN SERVICE - Reference data and allocations
// =============================================================================

// AdminService maintains the directory: users, locations, leave types,
// holidays and allocated days. It never touches Used or Pending.
type AdminService struct {
	store  Backend
	logger *zap.Logger

	now   func() time.Time
	newID func() string
}

func NewAdminService(backend Backend, logger *zap.Logger) *AdminService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminService{
		store:  backend,
		logger: logger.Named("timeoff.admin"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// CreateUser registers a user. The location must exist, and so must the
// manager when one is given.
func (s *AdminService) CreateUser(ctx context.Context, u User) (*User, error) {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return nil, &generic.ValidationError{Field: "email", Message: "must be a valid address"}
	}
	if strings.TrimSpace(u.FirstName) == "" || strings.TrimSpace(u.LastName) == "" {
		return nil, &generic.ValidationError{Field: "name", Message: "first and last name are required"}
	}
	if u.Role == "" {
		u.Role = RoleEmployee
	}
	if !u.Role.Valid() {
		return nil, &generic.ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", u.Role)}
	}

	loc, err := s.store.GetLocation(ctx, u.LocationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load location: %w", err)
	}
	if loc == nil {
		return nil, &generic.NotFoundError{Entity: "location", ID: u.LocationID}
	}
	if u.ManagerID != nil {
		mgr, err := s.store.GetUser(ctx, *u.ManagerID)
		if err != nil {
			return nil, fmt.Errorf("failed to load manager: %w", err)
		}
		if mgr == nil {
			return nil, &generic.NotFoundError{Entity: "user", ID: *u.ManagerID}
		}
	}

	if u.ID == "" {
		u.ID = s.newID()
	}
	u.IsActive = true
	u.CreatedAt = s.now().UTC()
	if err := s.store.SaveUser(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to save user: %w", err)
	}

	s.logger.Info("user created", zap.String("user_id", u.ID), zap.String("role", string(u.Role)))
	return &u, nil
}

// ListUsers returns every user matching the filter, inactive ones included.
func (s *AdminService) ListUsers(ctx context.Context, f UserFilter) ([]User, error) {
	if f.Role != "" && !f.Role.Valid() {
		return nil, &generic.ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", f.Role)}
	}
	f.Search = strings.TrimSpace(f.Search)
	return s.store.ListUsers(ctx, f)
}

// UserUpdate names the fields to change. Nil fields are left alone; an
// empty ManagerID removes the manager.
type UserUpdate struct {
	Email      *string
	FirstName  *string
	LastName   *string
	Role       *Role
	ManagerID  *string
	LocationID *string
	IsActive   *bool
}

// UpdateUser applies the update under the same rules as CreateUser. A
// manager change may not make the user report to themselves, directly or
// through the chain.
func (s *AdminService) UpdateUser(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	u, err := s.loadUser(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Email != nil {
		u.Email = strings.ToLower(strings.TrimSpace(*upd.Email))
		if _, err := mail.ParseAddress(u.Email); err != nil {
			return nil, &generic.ValidationError{Field: "email", Message: "must be a valid address"}
		}
	}
	if upd.FirstName != nil {
		u.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		u.LastName = *upd.LastName
	}
	if strings.TrimSpace(u.FirstName) == "" || strings.TrimSpace(u.LastName) == "" {
		return nil, &generic.ValidationError{Field: "name", Message: "first and last name are required"}
	}
	if upd.Role != nil {
		if !upd.Role.Valid() {
			return nil, &generic.ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", *upd.Role)}
		}
		u.Role = *upd.Role
	}
	if upd.LocationID != nil {
		if err := s.requireLocations(ctx, []string{*upd.LocationID}); err != nil {
			return nil, err
		}
		u.LocationID = *upd.LocationID
	}
	if upd.ManagerID != nil {
		if *upd.ManagerID == "" {
			u.ManagerID = nil
		} else {
			if err := s.requireManager(ctx, id, *upd.ManagerID); err != nil {
				return nil, err
			}
			mgr := *upd.ManagerID
			u.ManagerID = &mgr
		}
	}
	if upd.IsActive != nil {
		u.IsActive = *upd.IsActive
	}

	if err := s.store.SaveUser(ctx, *u); err != nil {
		return nil, fmt.Errorf("failed to save user: %w", err)
	}

	s.logger.Info("user updated", zap.String("user_id", u.ID), zap.String("role", string(u.Role)), zap.Bool("active", u.IsActive))
	return u, nil
}

// DeactivateUser keeps the user's rows but stops them from acting. Their
// direct reports keep the reporting line until an admin moves them.
func (s *AdminService) DeactivateUser(ctx context.Context, id string) (*User, error) {
	u, err := s.loadUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return u, nil
	}

	u.IsActive = false
	if err := s.store.SaveUser(ctx, *u); err != nil {
		return nil, fmt.Errorf("failed to save user: %w", err)
	}

	reports, err := s.store.ListTeam(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load team: %w", err)
	}
	s.logger.Info("user deactivated", zap.String("user_id", id), zap.Int("direct_reports", len(reports)))
	return u, nil
}

func (s *AdminService) loadUser(ctx context.Context, id string) (*User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if u == nil {
		return nil, &generic.NotFoundError{Entity: "user", ID: id}
	}
	return u, nil
}

// requireManager checks managerID exists and that walking up from it never
// reaches userID.
func (s *AdminService) requireManager(ctx context.Context, userID, managerID string) error {
	seen := map[string]bool{}
	for id := managerID; ; {
		if id == userID {
			return &generic.ValidationError{Field: "manager_id", Message: "would create a reporting cycle"}
		}
		if seen[id] {
			return nil
		}
		seen[id] = true

		mgr, err := s.store.GetUser(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load manager: %w", err)
		}
		if mgr == nil {
			if id == managerID {
				return &generic.NotFoundError{Entity: "user", ID: managerID}
			}
			return nil
		}
		if mgr.ManagerID == nil {
			return nil
		}
		id = *mgr.ManagerID
	}
}

func (s *AdminService) CreateLocation(ctx context.Context, l Location) (*Location, error) {
	if strings.TrimSpace(l.Name) == "" {
		return nil, &generic.ValidationError{Field: "name", Message: "is required"}
	}
	if l.Timezone == "" {
		l.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(l.Timezone); err != nil {
		return nil, &generic.ValidationError{Field: "timezone", Message: fmt.Sprintf("unknown timezone %q", l.Timezone)}
	}

	if l.ID == "" {
		l.ID = s.newID()
	}
	l.CreatedAt = s.now().UTC()
	if err := s.store.SaveLocation(ctx, l); err != nil {
		return nil, fmt.Errorf("failed to save location: %w", err)
	}

	s.logger.Info("location created", zap.String("location_id", l.ID))
	return &l, nil
}

func (s *AdminService) ListLocations(ctx context.Context) ([]Location, error) {
	return s.store.ListLocations(ctx)
}

func (s *AdminService) CreateLeaveType(ctx context.Context, t LeaveType) (*LeaveType, error) {
	t.Code = strings.ToUpper(strings.TrimSpace(t.Code))
	if strings.TrimSpace(t.Name) == "" || t.Code == "" {
		return nil, &generic.ValidationError{Field: "leave_type", Message: "name and code are required"}
	}
	if t.MaxDaysPerRequest != nil && *t.MaxDaysPerRequest <= 0 {
		return nil, &generic.ValidationError{Field: "max_days_per_request", Message: "must be greater than zero"}
	}

	if t.ID == "" {
		t.ID = s.newID()
	}
	if err := s.store.SaveLeaveType(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to save leave type: %w", err)
	}

	s.logger.Info("leave type created", zap.String("leave_type_id", t.ID), zap.String("code", t.Code))
	return &t, nil
}

func (s *AdminService) ListLeaveTypes(ctx context.Context) ([]LeaveType, error) {
	return s.store.ListLeaveTypes(ctx)
}

// CreateHoliday adds a holiday and assigns it to the given locations.
func (s *AdminService) CreateHoliday(ctx context.Context, h Holiday) (*Holiday, error) {
	if strings.TrimSpace(h.Name) == "" {
		return nil, &generic.ValidationError{Field: "name", Message: "is required"}
	}
	if h.Date.IsZero() {
		return nil, &generic.ValidationError{Field: "date", Message: "is required"}
	}
	if err := s.requireLocations(ctx, h.LocationIDs); err != nil {
		return nil, err
	}

	if h.ID == "" {
		h.ID = s.newID()
	}
	h.CreatedAt = s.now().UTC()
	if err := s.store.SaveHoliday(ctx, h); err != nil {
		return nil, fmt.Errorf("failed to save holiday: %w", err)
	}

	s.logger.Info("holiday created", zap.String("holiday_id", h.ID), zap.Stringer("date", h.Date))
	return &h, nil
}

// HolidayUpdate names the holiday fields to change. Nil fields are left
// alone. Location assignment changes through AssignHolidays.
type HolidayUpdate struct {
	Name        *string
	Date        *generic.Date
	IsMandatory *bool
	Description *string
}

// UpdateHoliday edits a holiday in place. Requests already applied for keep
// the days they were charged.
func (s *AdminService) UpdateHoliday(ctx context.Context, id string, upd HolidayUpdate) (*Holiday, error) {
	h, err := s.findHoliday(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Name != nil {
		if strings.TrimSpace(*upd.Name) == "" {
			return nil, &generic.ValidationError{Field: "name", Message: "is required"}
		}
		h.Name = *upd.Name
	}
	if upd.Date != nil {
		if upd.Date.IsZero() {
			return nil, &generic.ValidationError{Field: "date", Message: "is required"}
		}
		h.Date = *upd.Date
	}
	if upd.IsMandatory != nil {
		h.IsMandatory = *upd.IsMandatory
	}
	if upd.Description != nil {
		h.Description = *upd.Description
	}

	// SaveHoliday only adds location links; the current set is untouched.
	stored := *h
	stored.LocationIDs = nil
	if err := s.store.SaveHoliday(ctx, stored); err != nil {
		return nil, fmt.Errorf("failed to save holiday: %w", err)
	}

	s.logger.Info("holiday updated", zap.String("holiday_id", h.ID), zap.Stringer("date", h.Date))
	return h, nil
}

// findHoliday looks the holiday up across all years.
func (s *AdminService) findHoliday(ctx context.Context, id string) (*Holiday, error) {
	all, err := s.store.ListHolidays(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load holidays: %w", err)
	}
	for i := range all {
		if all[i].ID == id {
			return &all[i], nil
		}
	}
	return nil, &generic.NotFoundError{Entity: "holiday", ID: id}
}

func (s *AdminService) DeleteHoliday(ctx context.Context, id string) error {
	if err := s.store.DeleteHoliday(ctx, id); err != nil {
		return err
	}
	s.logger.Info("holiday deleted", zap.String("holiday_id", id))
	return nil
}

// ListHolidays returns every holiday in a year, across all locations.
func (s *AdminService) ListHolidays(ctx context.Context, year int) ([]Holiday, error) {
	return s.store.ListHolidays(ctx, year)
}

// AssignHolidays replaces the location's holiday set.
func (s *AdminService) AssignHolidays(ctx context.Context, locationID string, holidayIDs []string) error {
	if err := s.requireLocations(ctx, []string{locationID}); err != nil {
		return err
	}
	if err := s.store.AssignHolidays(ctx, locationID, holidayIDs); err != nil {
		return err
	}
	s.logger.Info("holidays assigned", zap.String("location_id", locationID), zap.Int("count", len(holidayIDs)))
	return nil
}

// AllocateBalance sets the allocated days for a key, creating the row if
// needed. Lowering Allocated below Used+Pending is refused.
func (s *AdminService) AllocateBalance(ctx context.Context, key BalanceKey, allocated decimal.Decimal) (*LeaveBalance, error) {
	if allocated.IsNegative() {
		return nil, &generic.ValidationError{Field: "allocated", Message: "must not be negative"}
	}
	if key.Year < 1900 || key.Year > 9999 {
		return nil, &generic.ValidationError{Field: "year", Message: "out of range"}
	}

	user, err := s.store.GetUser(ctx, key.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, &generic.NotFoundError{Entity: "user", ID: key.UserID}
	}
	lt, err := s.store.GetLeaveType(ctx, key.LeaveTypeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load leave type: %w", err)
	}
	if lt == nil {
		return nil, &generic.NotFoundError{Entity: "leave_type", ID: key.LeaveTypeID}
	}

	bal, err := s.store.AllocateBalance(ctx, key, allocated)
	if err != nil {
		return nil, err
	}

	s.logger.Info("balance allocated",
		zap.String("user_id", key.UserID),
		zap.String("leave_type_id", key.LeaveTypeID),
		zap.Int("year", key.Year),
		zap.String("allocated", allocated.String()),
	)
	return bal, nil
}

func (s *AdminService) requireLocations(ctx context.Context, ids []string) error {
	for _, id := range ids {
		loc, err := s.store.GetLocation(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load location: %w", err)
		}
		if loc == nil {
			return &generic.NotFoundError{Entity: "location", ID: id}
		}
	}
	return nil
}
