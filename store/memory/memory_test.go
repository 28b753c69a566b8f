package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

var key = timeoff.BalanceKey{UserID: "u1", LeaveTypeID: "AL", Year: 2025}

func seeded(t *testing.T) *Memory {
	t.Helper()
	ctx := context.Background()
	m := New()
	require.NoError(t, m.SaveLocation(ctx, timeoff.Location{ID: "loc", Name: "HQ"}))
	require.NoError(t, m.SaveUser(ctx, timeoff.User{ID: "u1", Email: "u1@example.com", LocationID: "loc", IsActive: true}))
	require.NoError(t, m.SaveLeaveType(ctx, timeoff.LeaveType{ID: "AL", Name: "Annual", Code: "AL"}))
	_, err := m.AllocateBalance(ctx, key, decimal.NewFromInt(10))
	require.NoError(t, err)
	return m
}

func request(id string, created time.Time, status timeoff.RequestStatus) *timeoff.LeaveRequest {
	return &timeoff.LeaveRequest{
		ID:          id,
		UserID:      "u1",
		LeaveTypeID: "AL",
		StartDate:   generic.MustParseDate("2025-03-03"),
		EndDate:     generic.MustParseDate("2025-03-04"),
		TotalDays:   decimal.NewFromInt(2),
		Status:      status,
		AppliedByID: "u1",
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollbackRestoresSnapshot(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)
	boom := errors.New("boom")

	// WHEN: A transaction writes a balance and a request, then fails
	err := m.WithTx(ctx, func(tx timeoff.Store) error {
		b, err := tx.LockBalance(ctx, key)
		require.NoError(t, err)
		b.Pending = decimal.NewFromInt(2)
		require.NoError(t, tx.UpdateBalance(ctx, b))
		require.NoError(t, tx.InsertRequest(ctx, request("r1", time.Now(), timeoff.StatusPending)))
		return boom
	})

	// THEN: Neither write survives
	require.ErrorIs(t, err, boom)
	b, err := m.LockBalance(ctx, key)
	require.NoError(t, err)
	assert.True(t, b.Pending.IsZero())
	assert.Equal(t, int64(1), b.Version)
	r, err := m.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestWithTx_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := New().WithTx(ctx, func(timeoff.Store) error {
		called = true
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestUpdateBalance_StaleVersion(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)

	b, err := m.LockBalance(ctx, key)
	require.NoError(t, err)
	stale := *b

	require.NoError(t, m.UpdateBalance(ctx, b))
	assert.Equal(t, int64(2), b.Version)

	require.ErrorIs(t, m.UpdateBalance(ctx, &stale), generic.ErrConcurrentModification)
}

func TestReads_ReturnCopies(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)
	require.NoError(t, m.InsertRequest(ctx, request("r1", time.Now(), timeoff.StatusPending)))

	// WHEN: Mutating values returned by the store
	r, err := m.GetRequest(ctx, "r1")
	require.NoError(t, err)
	who := "mgr"
	r.ApprovedByID = &who
	r.Status = timeoff.StatusApproved

	// THEN: The stored row is untouched
	again, err := m.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusPending, again.Status)
	assert.Nil(t, again.ApprovedByID)
}

func TestMissingRows_ReturnNil(t *testing.T) {
	ctx := context.Background()
	m := New()

	u, err := m.GetUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, u)

	b, err := m.LockBalance(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, b)

	err = m.UpdateRequest(ctx, request("ghost", time.Now(), timeoff.StatusApproved))
	require.ErrorIs(t, err, generic.ErrNotFound)
}

// =============================================================================
// DIRECTORY
// =============================================================================

func TestSaveUser_DuplicateEmail(t *testing.T) {
	m := seeded(t)
	err := m.SaveUser(context.Background(), timeoff.User{ID: "u2", Email: "U1@example.com", LocationID: "loc"})
	require.ErrorIs(t, err, generic.ErrDuplicate)
}

func TestAllocateBalance_GuardsCommittedDays(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)
	b, err := m.LockBalance(ctx, key)
	require.NoError(t, err)
	b.Used = decimal.NewFromInt(3)
	b.Pending = decimal.NewFromInt(2)
	require.NoError(t, m.UpdateBalance(ctx, b))

	_, err = m.AllocateBalance(ctx, key, decimal.NewFromInt(4))
	require.ErrorIs(t, err, generic.ErrValidation)

	got, err := m.AllocateBalance(ctx, key, decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.True(t, got.Available().IsZero())
	assert.Equal(t, int64(3), got.Version)
}

func TestAssignHolidays_UnknownHoliday(t *testing.T) {
	m := seeded(t)
	err := m.AssignHolidays(context.Background(), "loc", []string{"nope"})
	require.ErrorIs(t, err, generic.ErrNotFound)
}

func TestListRequests_FilterAndOrder(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, m.InsertRequest(ctx, request("old", base, timeoff.StatusPending)))
	require.NoError(t, m.InsertRequest(ctx, request("new", base.Add(time.Hour), timeoff.StatusPending)))
	require.NoError(t, m.InsertRequest(ctx, request("done", base.Add(2*time.Hour), timeoff.StatusApproved)))
	next := request("next-year", base.Add(3*time.Hour), timeoff.StatusPending)
	next.StartDate = generic.MustParseDate("2026-01-05")
	next.EndDate = next.StartDate
	require.NoError(t, m.InsertRequest(ctx, next))

	got, err := m.ListRequests(ctx, timeoff.RequestFilter{UserIDs: []string{"u1"}, Status: timeoff.StatusPending, Year: 2025})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ID)
	assert.Equal(t, "old", got[1].ID)

	all, err := m.ListRequests(ctx, timeoff.RequestFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	none, err := m.ListRequests(ctx, timeoff.RequestFilter{UserIDs: []string{"other"}})
	require.NoError(t, err)
	assert.Empty(t, none)
}
