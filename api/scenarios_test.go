/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:

	Tests that each scenario correctly sets up the expected state:
	- Users, locations and leave types are created
	- Balances reflect the seeded requests
	- Location calendars drive the cost of the same week

These tests double as integration tests of the services the loaders use.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/store/memory"
	"github.com/warp/leave-engine/timeoff"
	"go.uber.org/zap"
)

func setupServices(t *testing.T) (*timeoff.AdminService, *timeoff.RequestService) {
	t.Helper()
	store := memory.New()
	return timeoff.NewAdminService(store, zap.NewNop()), timeoff.NewRequestService(store, zap.NewNop())
}

func seededUser(t *testing.T, res *ScenarioResult, email string) SeededUser {
	t.Helper()
	for _, u := range res.Users {
		if u.Email == email {
			return u
		}
	}
	t.Fatalf("user %s not seeded", email)
	return SeededUser{}
}

func annualBalance(t *testing.T, requests *timeoff.RequestService, admin *timeoff.AdminService, userID string) timeoff.LeaveBalance {
	t.Helper()
	ctx := context.Background()
	types, err := admin.ListLeaveTypes(ctx)
	require.NoError(t, err)
	balances, err := requests.Balances(ctx, userID, userID, 2025)
	require.NoError(t, err)
	for _, lt := range types {
		if lt.Code != "AL" {
			continue
		}
		for _, b := range balances {
			if b.LeaveTypeID == lt.ID {
				return b
			}
		}
	}
	t.Fatalf("no annual balance for %s", userID)
	return timeoff.LeaveBalance{}
}

func TestScenario_SmallTeam(t *testing.T) {
	// GIVEN: An empty store
	// WHEN: Loading the small-team scenario for 2025
	// THEN: Four users exist, Alice holds 5 pending days and Bob used 1

	admin, requests := setupServices(t)
	ctx := context.Background()

	res, err := LoadScenario(ctx, admin, requests, "small-team", 2025)
	require.NoError(t, err)
	assert.Len(t, res.Users, 4)
	assert.Equal(t, 2, res.Requests)

	alice := seededUser(t, res, "alice@example.com")
	bob := seededUser(t, res, "bob@example.com")
	mark := seededUser(t, res, "mark.manager@example.com")

	// June 2-6 2025
	aliceBal := annualBalance(t, requests, admin, alice.ID)
	assert.True(t, aliceBal.Pending.Equal(decimal.NewFromInt(5)), "pending %s", aliceBal.Pending)
	assert.True(t, aliceBal.Available().Equal(decimal.NewFromInt(15)))

	bobBal := annualBalance(t, requests, admin, bob.ID)
	assert.True(t, bobBal.Used.Equal(decimal.NewFromInt(1)))
	assert.True(t, bobBal.Pending.IsZero())

	pending, err := requests.TeamRequests(ctx, mark.ID, timeoff.StatusPending, 2025)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, alice.ID, pending[0].UserID)

	holidays, err := admin.ListHolidays(ctx, 2025)
	require.NoError(t, err)
	assert.Len(t, holidays, 3)
}

func TestScenario_TwoOffices(t *testing.T) {
	// GIVEN: Portugal Day (Tue 10 June 2025) is a Lisbon-only holiday
	// WHEN: The manager books 9-13 June for a New York and a Lisbon report
	// THEN: New York pays 5 days, Lisbon pays 4

	admin, requests := setupServices(t)

	res, err := LoadScenario(context.Background(), admin, requests, "two-offices", 2025)
	require.NoError(t, err)

	sam := annualBalance(t, requests, admin, seededUser(t, res, "sam@example.com").ID)
	rita := annualBalance(t, requests, admin, seededUser(t, res, "rita@example.com").ID)
	assert.True(t, sam.Pending.Equal(decimal.NewFromInt(5)), "sam pending %s", sam.Pending)
	assert.True(t, rita.Pending.Equal(decimal.NewFromInt(4)), "rita pending %s", rita.Pending)
}

func TestScenario_BothIntoOneStore(t *testing.T) {
	admin, requests := setupServices(t)
	ctx := context.Background()

	_, err := LoadScenario(ctx, admin, requests, "small-team", 2025)
	require.NoError(t, err)
	_, err = LoadScenario(ctx, admin, requests, "two-offices", 2025)
	require.NoError(t, err)

	// THEN: Leave types are shared, not duplicated
	types, err := admin.ListLeaveTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, types, 2)
}

func TestScenario_Rejects(t *testing.T) {
	admin, requests := setupServices(t)
	ctx := context.Background()

	_, err := LoadScenario(ctx, admin, requests, "nope", 2025)
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = LoadScenario(ctx, admin, requests, "small-team", 2025)
	require.NoError(t, err)
	_, err = LoadScenario(ctx, admin, requests, "small-team", 2025)
	assert.ErrorIs(t, err, generic.ErrDuplicate)
}

func TestScenario_Routes(t *testing.T) {
	t.Run("disabled by default", func(t *testing.T) {
		ts := newTestServer(t, nil)
		rec := ts.do(http.MethodGet, "/api/admin/scenarios", ts.token(ts.hr), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("load over HTTP", func(t *testing.T) {
		ts := newTestServer(t, func(o *Options) { o.EnableScenarios = true })
		tok := ts.token(ts.hr)

		rec := ts.do(http.MethodGet, "/api/admin/scenarios", tok, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = ts.do(http.MethodPost, "/api/admin/scenarios/load", tok, map[string]any{"scenario_id": "two-offices", "year": 2025})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		res := decode[ScenarioResult](t, rec)
		assert.Len(t, res.Users, 4)

		rec = ts.do(http.MethodPost, "/api/admin/scenarios/load", tok, map[string]any{"scenario_id": "two-offices", "year": 2025})
		requireError(t, rec, http.StatusConflict, CodeDuplicate)

		rec = ts.do(http.MethodPost, "/api/admin/scenarios/load", ts.token(ts.manager), map[string]any{"scenario_id": "small-team"})
		requireError(t, rec, http.StatusForbidden, CodeForbidden)
	})
}
