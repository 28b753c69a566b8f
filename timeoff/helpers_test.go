package timeoff_test

import (
	"context"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/store/memory"
	"github.com/warp/leave-engine/store/postgres"
	"github.com/warp/leave-engine/store/sqlite"
	"github.com/warp/leave-engine/timeoff"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func days(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func date(s string) generic.Date {
	return generic.MustParseDate(s)
}

type backend struct {
	name string
	open func(t *testing.T) timeoff.Backend
}

func backends() []backend {
	return []backend{
		{name: "memory", open: func(t *testing.T) timeoff.Backend {
			return memory.New()
		}},
		{name: "sqlite", open: func(t *testing.T) timeoff.Backend {
			store, err := sqlite.New(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { store.Close() })
			return store
		}},
		{name: "gorm", open: func(t *testing.T) timeoff.Backend {
			db, err := gorm.Open(gormsqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
			require.NoError(t, err)
			sqlDB, err := db.DB()
			require.NoError(t, err)
			sqlDB.SetMaxOpenConns(1)
			store, err := postgres.NewWithDB(db)
			require.NoError(t, err)
			t.Cleanup(func() { store.Close() })
			return store
		}},
	}
}

// forEachBackend runs fn once per store implementation against a fresh
// fixture.
func forEachBackend(t *testing.T, fn func(t *testing.T, f *fixture)) {
	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			fn(t, newFixture(t, b.open(t)))
		})
	}
}

// fixture is one location with a holiday on Monday 2025-03-10, an admin,
// a manager with two reports, and two leave types.
//
//	employee:  5 annual days, 10 sick days in 2025
//	colleague: 5 annual days in 2025
type fixture struct {
	ctx      context.Context
	store    timeoff.Backend
	requests *timeoff.RequestService
	admin    *timeoff.AdminService

	location  *timeoff.Location
	holiday   *timeoff.Holiday
	annual    *timeoff.LeaveType
	sick      *timeoff.LeaveType
	hr        *timeoff.User
	manager   *timeoff.User
	employee  *timeoff.User
	colleague *timeoff.User
}

func newFixture(t *testing.T, store timeoff.Backend) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		ctx:      ctx,
		store:    store,
		requests: timeoff.NewRequestService(store, zap.NewNop()),
		admin:    timeoff.NewAdminService(store, zap.NewNop()),
	}

	var err error
	f.location, err = f.admin.CreateLocation(ctx, timeoff.Location{Name: "Head Office", Country: "DE", City: "Berlin"})
	require.NoError(t, err)

	f.holiday, err = f.admin.CreateHoliday(ctx, timeoff.Holiday{
		Name:        "Founders Day",
		Date:        date("2025-03-10"),
		IsMandatory: true,
		LocationIDs: []string{f.location.ID},
	})
	require.NoError(t, err)

	f.annual, err = f.admin.CreateLeaveType(ctx, timeoff.LeaveType{Name: "Annual Leave", Code: "al", RequiresApproval: true})
	require.NoError(t, err)
	two := 2
	f.sick, err = f.admin.CreateLeaveType(ctx, timeoff.LeaveType{Name: "Sick Leave", Code: "SL", MaxDaysPerRequest: &two})
	require.NoError(t, err)

	f.hr = f.createUser(t, "hr@example.com", timeoff.RoleAdmin, nil)
	f.manager = f.createUser(t, "manager@example.com", timeoff.RoleManager, nil)
	f.employee = f.createUser(t, "employee@example.com", timeoff.RoleEmployee, &f.manager.ID)
	f.colleague = f.createUser(t, "colleague@example.com", timeoff.RoleEmployee, &f.manager.ID)

	f.allocate(t, f.employee, f.annual, 5)
	f.allocate(t, f.employee, f.sick, 10)
	f.allocate(t, f.colleague, f.annual, 5)
	return f
}

func (f *fixture) createUser(t *testing.T, email string, role timeoff.Role, managerID *string) *timeoff.User {
	t.Helper()
	u, err := f.admin.CreateUser(f.ctx, timeoff.User{
		Email:      email,
		FirstName:  "Test",
		LastName:   email,
		Role:       role,
		ManagerID:  managerID,
		LocationID: f.location.ID,
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) allocate(t *testing.T, u *timeoff.User, lt *timeoff.LeaveType, n int64) {
	t.Helper()
	_, err := f.admin.AllocateBalance(f.ctx, timeoff.BalanceKey{UserID: u.ID, LeaveTypeID: lt.ID, Year: 2025}, days(n))
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, u *timeoff.User, lt *timeoff.LeaveType) *timeoff.LeaveBalance {
	t.Helper()
	b, err := f.store.LockBalance(f.ctx, timeoff.BalanceKey{UserID: u.ID, LeaveTypeID: lt.ID, Year: 2025})
	require.NoError(t, err)
	require.NotNil(t, b)
	return b
}

func (f *fixture) apply(u *timeoff.User, lt *timeoff.LeaveType, start, end string) (*timeoff.LeaveRequest, error) {
	return f.requests.Apply(f.ctx, timeoff.ApplyInput{
		UserID:      u.ID,
		LeaveTypeID: lt.ID,
		StartDate:   date(start),
		EndDate:     date(end),
		Reason:      "holiday",
	})
}

func (f *fixture) mustApply(t *testing.T, u *timeoff.User, lt *timeoff.LeaveType, start, end string) *timeoff.LeaveRequest {
	t.Helper()
	req, err := f.apply(u, lt, start, end)
	require.NoError(t, err)
	return req
}

// requireBalance checks used and pending of a balance.
func requireBalance(t *testing.T, b *timeoff.LeaveBalance, used, pending int64) {
	t.Helper()
	require.True(t, b.Used.Equal(days(used)), "used: got %s, want %d", b.Used, used)
	require.True(t, b.Pending.Equal(days(pending)), "pending: got %s, want %d", b.Pending, pending)
}

// =============================================================================
// BACKEND WRAPPERS
// =============================================================================

// countingBackend counts transactions opened.
type countingBackend struct {
	timeoff.Backend
	txs int
}

func (c *countingBackend) WithTx(ctx context.Context, fn func(timeoff.Store) error) error {
	c.txs++
	return c.Backend.WithTx(ctx, fn)
}

// conflictingBackend fails the next n balance updates with
// ErrConcurrentModification.
type conflictingBackend struct {
	timeoff.Backend
	conflicts int
}

func (c *conflictingBackend) WithTx(ctx context.Context, fn func(timeoff.Store) error) error {
	return c.Backend.WithTx(ctx, func(tx timeoff.Store) error {
		return fn(&conflictingStore{Store: tx, parent: c})
	})
}

type conflictingStore struct {
	timeoff.Store
	parent *conflictingBackend
}

func (s *conflictingStore) UpdateBalance(ctx context.Context, b *timeoff.LeaveBalance) error {
	if s.parent.conflicts > 0 {
		s.parent.conflicts--
		return generic.ErrConcurrentModification
	}
	return s.Store.UpdateBalance(ctx, b)
}
