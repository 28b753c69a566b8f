package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// The gorm store runs against the pure-Go SQLite dialect here so the
// tests need no database server. Row locks are skipped on that dialect.

var key = timeoff.BalanceKey{UserID: "u1", LeaveTypeID: "lt", Year: 2025}

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	s, err := NewWithDB(db)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	mgr := "mgr"
	require.NoError(t, s.SaveLocation(ctx, timeoff.Location{ID: "loc", Name: "HQ", Timezone: "UTC"}))
	require.NoError(t, s.SaveUser(ctx, timeoff.User{ID: "mgr", Email: "mgr@example.com", Role: timeoff.RoleManager, LocationID: "loc", IsActive: true}))
	require.NoError(t, s.SaveUser(ctx, timeoff.User{ID: "u1", Email: "u1@example.com", Role: timeoff.RoleEmployee, ManagerID: &mgr, LocationID: "loc", IsActive: true}))
	require.NoError(t, s.SaveLeaveType(ctx, timeoff.LeaveType{ID: "lt", Name: "Annual", Code: "AL"}))
	_, err = s.AllocateBalance(ctx, key, decimal.NewFromInt(10))
	require.NoError(t, err)
	return s
}

func TestBalance_AllocateAndUpdate(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	// WHEN: Reserving through a transaction
	err := s.WithTx(ctx, func(tx timeoff.Store) error {
		b, err := tx.LockBalance(ctx, key)
		if err != nil {
			return err
		}
		b.Pending = decimal.RequireFromString("1.5")
		return tx.UpdateBalance(ctx, b)
	})
	require.NoError(t, err)

	// THEN: The row carries the new pending days and version
	b, err := s.LockBalance(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.True(t, b.Pending.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, int64(2), b.Version)

	_, err = s.AllocateBalance(ctx, key, decimal.NewFromInt(1))
	require.ErrorIs(t, err, generic.ErrValidation)
}

func TestUpdateBalance_StaleVersionRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	err := s.WithTx(ctx, func(tx timeoff.Store) error {
		b, err := tx.LockBalance(ctx, key)
		require.NoError(t, err)
		stale := *b
		b.Used = decimal.NewFromInt(1)
		require.NoError(t, tx.UpdateBalance(ctx, b))
		return tx.UpdateBalance(ctx, &stale)
	})
	require.ErrorIs(t, err, generic.ErrConcurrentModification)

	b, err := s.LockBalance(ctx, key)
	require.NoError(t, err)
	assert.True(t, b.Used.IsZero())
}

func TestRequest_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	created := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	req := &timeoff.LeaveRequest{
		ID: "r1", UserID: "u1", LeaveTypeID: "lt",
		StartDate: generic.MustParseDate("2025-03-03"), EndDate: generic.MustParseDate("2025-03-04"),
		TotalDays: decimal.NewFromInt(2), Status: timeoff.StatusPending, AppliedByID: "mgr",
		CreatedAt: created, UpdatedAt: created,
	}
	require.NoError(t, s.WithTx(ctx, func(tx timeoff.Store) error { return tx.InsertRequest(ctx, req) }))

	approver := "mgr"
	at := created.Add(time.Hour)
	req.Status, req.ApprovedByID, req.ApprovedAt = timeoff.StatusApproved, &approver, &at
	require.NoError(t, s.WithTx(ctx, func(tx timeoff.Store) error { return tx.UpdateRequest(ctx, req) }))

	got, err := s.GetRequest(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, timeoff.StatusApproved, got.Status)
	assert.True(t, got.StartDate.Equal(req.StartDate))
	assert.Equal(t, "mgr", got.AppliedByID)
	require.NotNil(t, got.ApprovedByID)
	assert.Nil(t, got.RejectionReason)

	list, err := s.ListRequests(ctx, timeoff.RequestFilter{UserIDs: []string{"u1"}, Status: timeoff.StatusApproved, Year: 2025})
	require.NoError(t, err)
	require.Len(t, list, 1)

	missing, err := s.GetRequest(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDirectory_Duplicates(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	err := s.SaveUser(ctx, timeoff.User{ID: "u2", Email: "u1@example.com", Role: timeoff.RoleEmployee, LocationID: "loc"})
	require.ErrorIs(t, err, generic.ErrDuplicate)

	err = s.SaveLeaveType(ctx, timeoff.LeaveType{ID: "lt2", Name: "Other", Code: "AL"})
	require.ErrorIs(t, err, generic.ErrDuplicate)
}

func TestTeam_OnlyDirectReports(t *testing.T) {
	s := newStore(t)
	team, err := s.ListTeam(context.Background(), "mgr")
	require.NoError(t, err)
	require.Len(t, team, 1)
	assert.Equal(t, "u1", team[0].ID)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"40001", generic.ErrConcurrentModification},
		{"40P01", generic.ErrConcurrentModification},
		{"23505", generic.ErrDuplicate},
		{"23503", generic.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.ErrorIs(t, mapError(&pgconn.PgError{Code: tt.code}), tt.want)
		})
	}

	// Already classified errors are not wrapped twice.
	dup := errors.Join(generic.ErrDuplicate)
	assert.Same(t, dup, mapError(dup))

	other := &pgconn.PgError{Code: "42P01"}
	assert.Equal(t, error(other), mapError(other))
	assert.NoError(t, mapError(nil))
}
