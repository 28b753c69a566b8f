package timeoff_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/store/memory"
	"github.com/warp/leave-engine/timeoff"
	"go.uber.org/zap"
)

// =============================================================================
// APPLY
// =============================================================================

func TestApply_ReservesWorkingDays(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		// GIVEN: 5 annual days
		// WHEN: Applying Monday to Wednesday
		req, err := f.apply(f.employee, f.annual, "2025-03-03", "2025-03-05")

		// THEN: 3 days are pending and the request is pending
		require.NoError(t, err)
		assert.Equal(t, timeoff.StatusPending, req.Status)
		assert.True(t, req.TotalDays.Equal(days(3)))
		assert.Equal(t, f.employee.ID, req.AppliedByID)

		bal := f.balance(t, f.employee, f.annual)
		requireBalance(t, bal, 0, 3)
		assert.True(t, bal.Available().Equal(days(2)))

		stored, err := f.store.GetRequest(f.ctx, req.ID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, date("2025-03-03"), stored.StartDate)
		assert.Equal(t, date("2025-03-05"), stored.EndDate)
		assert.True(t, stored.TotalDays.Equal(days(3)))
	})
}

func TestApply_SkipsWeekendsAndHolidays(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		// GIVEN: Friday 7th through Tuesday 11th, with Monday 10th a holiday
		// WHEN: Applying
		req, err := f.apply(f.employee, f.annual, "2025-03-07", "2025-03-11")

		// THEN: Only Friday and Tuesday are billed
		require.NoError(t, err)
		assert.True(t, req.TotalDays.Equal(days(2)))
	})
}

func TestApply_ReversedRange_NeverReachesStore(t *testing.T) {
	// GIVEN: A store that counts transactions
	store := &countingBackend{Backend: memory.New()}
	f := newFixture(t, store)
	store.txs = 0

	// WHEN: Start date is after end date
	_, err := f.apply(f.employee, f.annual, "2025-03-05", "2025-03-03")

	// THEN: ValidationError, no transaction opened, balance untouched
	var verr *generic.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 0, store.txs)
	requireBalance(t, f.balance(t, f.employee, f.annual), 0, 0)
}

func TestApply_OnlyNonWorkingDays_FailsWithoutMutation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		// GIVEN: Saturday 8th to Monday 10th (weekend + holiday)
		// WHEN: Applying
		_, err := f.apply(f.employee, f.annual, "2025-03-08", "2025-03-10")

		// THEN: ValidationError and nothing changed
		var verr *generic.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Message, "no working days in range")
		requireBalance(t, f.balance(t, f.employee, f.annual), 0, 0)

		reqs, err := f.requests.ListRequests(f.ctx, f.employee.ID, "", 0)
		require.NoError(t, err)
		assert.Empty(t, reqs)
	})
}

func TestApply_InsufficientBalance(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		// GIVEN: 3 of 5 days already reserved
		f.mustApply(t, f.employee, f.annual, "2025-03-03", "2025-03-05")

		// WHEN: Applying for 3 more
		_, err := f.apply(f.employee, f.annual, "2025-03-17", "2025-03-19")

		// THEN: InsufficientBalanceError carries available vs requested
		var ierr *generic.InsufficientBalanceError
		require.ErrorAs(t, err, &ierr)
		assert.True(t, ierr.Available.Equal(days(2)))
		assert.True(t, ierr.Requested.Equal(days(3)))
		assert.True(t, errors.Is(err, generic.ErrInsufficientBalance))
		requireBalance(t, f.balance(t, f.employee, f.annual), 0, 3)
	})
}

func TestApply_ExactlyAvailable_Succeeds(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		// GIVEN: 5 days available
		// WHEN: Applying for a full working week
		_, err := f.apply(f.employee, f.annual, "2025-03-03", "2025-03-07")

		// THEN: Available drops to zero
		require.NoError(t, err)
		assert.True(t, f.balance(t, f.employee, f.annual).Available().IsZero())
	})
}

func TestApply_MaxDaysPerRequest(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		// GIVEN: Sick leave capped at 2 days per request
		// WHEN: Applying for 3
		_, err := f.apply(f.employee, f.sick, "2025-03-03", "2025-03-05")

		// THEN: ValidationError and no reservation
		require.ErrorIs(t, err, generic.ErrValidation)
		requireBalance(t, f.balance(t, f.employee, f.sick), 0, 0)
	})
}

func TestApply_UnknownLeaveType(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		_, err := f.apply(f.employee, &timeoff.LeaveType{ID: "missing"}, "2025-03-03", "2025-03-05")

		var nerr *generic.NotFoundError
		require.ErrorAs(t, err, &nerr)
		assert.Equal(t, "leave_type", nerr.Entity)
	})
}

func TestApply_NoAllocatedBalance(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		// GIVEN: Colleague has no sick leave row
		// WHEN: Applying for sick leave
		_, err := f.apply(f.colleague, f.sick, "2025-03-03", "2025-03-03")

		// THEN: NotFoundError for the balance, no request persisted
		var nerr *generic.NotFoundError
		require.ErrorAs(t, err, &nerr)
		assert.Equal(t, "leave_balance", nerr.Entity)

		reqs, err := f.requests.ListRequests(f.ctx, f.colleague.ID, "", 0)
		require.NoError(t, err)
		assert.Empty(t, reqs)
	})
}

func TestApply_BalanceYearFollowsStartDate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		// GIVEN: A range from 2025-12-31 into 2026
		// WHEN: Applying
		req, err := f.apply(f.employee, f.annual, "2025-12-31", "2026-01-02")

		// THEN: All three working days are reserved on the 2025 row
		require.NoError(t, err)
		assert.Equal(t, 2025, req.BalanceKey().Year)
		requireBalance(t, f.balance(t, f.employee, f.annual), 0, 3)
	})
}

func TestApply_OnBehalf(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		apply := func(actor *timeoff.User) (*timeoff.LeaveRequest, error) {
			return f.requests.Apply(f.ctx, timeoff.ApplyInput{
				UserID:      f.employee.ID,
				LeaveTypeID: f.annual.ID,
				StartDate:   date("2025-03-03"),
				EndDate:     date("2025-03-03"),
				AppliedByID: actor.ID,
			})
		}

		// Manager of the employee
		req, err := apply(f.manager)
		require.NoError(t, err)
		assert.Equal(t, f.manager.ID, req.AppliedByID)
		assert.Equal(t, f.employee.ID, req.UserID)

		// Admin
		_, err = apply(f.hr)
		require.NoError(t, err)

		// A peer may not
		_, err = apply(f.colleague)
		var aerr *generic.AuthorizationError
		require.ErrorAs(t, err, &aerr)
		assert.Equal(t, "apply", aerr.Action)

		requireBalance(t, f.balance(t, f.employee, f.annual), 0, 2)
	})
}

func TestApply_ConcurrentReservations_ExactlyOneWins(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		// GIVEN: 5 days available
		// WHEN: 3-day and 4-day applications race
		ranges := [][2]string{
			{"2025-03-03", "2025-03-05"}, // 3 days
			{"2025-03-17", "2025-03-20"}, // 4 days
		}
		results := make([]*timeoff.LeaveRequest, len(ranges))
		errs := make([]error, len(ranges))

		var wg sync.WaitGroup
		for i, r := range ranges {
			wg.Add(1)
			go func(i int, start, end string) {
				defer wg.Done()
				results[i], errs[i] = f.apply(f.employee, f.annual, start, end)
			}(i, r[0], r[1])
		}
		wg.Wait()

		// THEN: Exactly one succeeds, the other is short of balance
		var winner *timeoff.LeaveRequest
		failures := 0
		for i := range ranges {
			if errs[i] == nil {
				winner = results[i]
				continue
			}
			failures++
			assert.ErrorIs(t, errs[i], generic.ErrInsufficientBalance)
		}
		require.NotNil(t, winner)
		assert.Equal(t, 1, failures)

		bal := f.balance(t, f.employee, f.annual)
		assert.True(t, bal.Pending.Equal(winner.TotalDays))
		assert.False(t, bal.Available().IsNegative())
	})
}

func TestApply_RetriesOnceOnConcurrentModification(t *testing.T) {
	// GIVEN: The first balance write loses a version check
	store := &conflictingBackend{Backend: memory.New()}
	f := newFixture(t, store)
	store.conflicts = 1

	// WHEN: Applying
	req, err := f.apply(f.employee, f.annual, "2025-03-03", "2025-03-05")

	// THEN: The retry succeeds and reserves exactly once
	require.NoError(t, err)
	assert.True(t, req.TotalDays.Equal(days(3)))
	requireBalance(t, f.balance(t, f.employee, f.annual), 0, 3)
}

func TestApply_SecondConflictIsReturned(t *testing.T) {
	// GIVEN: Two consecutive lost version checks
	store := &conflictingBackend{Backend: memory.New()}
	f := newFixture(t, store)
	store.conflicts = 2

	// WHEN: Applying
	_, err := f.apply(f.employee, f.annual, "2025-03-03", "2025-03-05")

	// THEN: The conflict reaches the caller and nothing persisted
	require.ErrorIs(t, err, generic.ErrConcurrentModification)
	requireBalance(t, f.balance(t, f.employee, f.annual), 0, 0)

	reqs, err := f.requests.ListRequests(f.ctx, f.employee.ID, "", 0)
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

// =============================================================================
// APPROVE / REJECT
// =============================================================================

func TestApprove_RoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		// GIVEN: A pending 3-day request
		req := f.mustApply(t, f.employee, f.annual, "2025-03-03", "2025-03-05")

		// WHEN: The manager approves
		approved, err := f.requests.Approve(f.ctx, req.ID, f.manager.ID)

		// THEN: used += 3, pending back to 0
		require.NoError(t, err)
		assert.Equal(t, timeoff.StatusApproved, approved.Status)
		require.NotNil(t, approved.ApprovedByID)
		assert.Equal(t, f.manager.ID, *approved.ApprovedByID)
		assert.NotNil(t, approved.ApprovedAt)
		requireBalance(t, f.balance(t, f.employee, f.annual), 3, 0)

		stored, err := f.store.GetRequest(f.ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, timeoff.StatusApproved, stored.Status)
		assert.True(t, stored.TotalDays.Equal(days(3)))
	})
}

func TestApprove_Twice_InvalidState(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		// GIVEN: An approved request
		req := f.mustApply(t, f.employee, f.annual, "2025-03-03", "2025-03-05")
		_, err := f.requests.Approve(f.ctx, req.ID, f.manager.ID)
		require.NoError(t, err)

		// WHEN: Approving again
		_, err = f.requests.Approve(f.ctx, req.ID, f.manager.ID)

		// THEN: InvalidStateError, balance unchanged
		var serr *generic.InvalidStateError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, "approved", serr.Status)
		requireBalance(t, f.balance(t, f.employee, f.annual), 3, 0)
	})
}

func TestApprove_Authorization(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		req := f.mustApply(t, f.employee, f.annual, "2025-03-03", "2025-03-03")

		// Owner cannot approve their own request
		_, err := f.requests.Approve(f.ctx, req.ID, f.employee.ID)
		require.ErrorIs(t, err, generic.ErrUnauthorized)

		// A peer cannot approve
		_, err = f.requests.Approve(f.ctx, req.ID, f.colleague.ID)
		require.ErrorIs(t, err, generic.ErrUnauthorized)
		requireBalance(t, f.balance(t, f.employee, f.annual), 0, 1)

		// Admin bypass
		_, err = f.requests.Approve(f.ctx, req.ID, f.hr.ID)
		require.NoError(t, err)
		requireBalance(t, f.balance(t, f.employee, f.annual), 1, 0)
	})
}

func TestApprove_AdminCannotApproveOwnRequest(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		f.allocate(t, f.hr, f.annual, 5)
		req := f.mustApply(t, f.hr, f.annual, "2025-03-03", "2025-03-03")

		_, err := f.requests.Approve(f.ctx, req.ID, f.hr.ID)

		require.ErrorIs(t, err, generic.ErrUnauthorized)
	})
}

func TestApprove_NotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		_, err := f.requests.Approve(f.ctx, "missing", f.manager.ID)

		var nerr *generic.NotFoundError
		require.ErrorAs(t, err, &nerr)
		assert.Equal(t, "leave_request", nerr.Entity)
	})
}

func TestReject_ReleasesReservation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		// GIVEN: A pending request
		req := f.mustApply(t, f.employee, f.annual, "2025-03-03", "2025-03-05")

		// WHEN: The manager rejects it
		rejected, err := f.requests.Reject(f.ctx, req.ID, f.manager.ID, "  team offsite  ")

		// THEN: Nothing used, nothing pending, reason recorded
		require.NoError(t, err)
		assert.Equal(t, timeoff.StatusRejected, rejected.Status)
		require.NotNil(t, rejected.RejectionReason)
		assert.Equal(t, "team offsite", *rejected.RejectionReason)
		requireBalance(t, f.balance(t, f.employee, f.annual), 0, 0)

		stored, err := f.store.GetRequest(f.ctx, req.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.RejectionReason)
		assert.Equal(t, "team offsite", *stored.RejectionReason)
		require.NotNil(t, stored.ApprovedByID)
		assert.Equal(t, f.manager.ID, *stored.ApprovedByID)
	})
}

func TestReject_AfterApprove_InvalidState(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		req := f.mustApply(t, f.employee, f.annual, "2025-03-03", "2025-03-05")
		_, err := f.requests.Approve(f.ctx, req.ID, f.manager.ID)
		require.NoError(t, err)

		_, err = f.requests.Reject(f.ctx, req.ID, f.manager.ID, "")

		require.ErrorIs(t, err, generic.ErrInvalidState)
		requireBalance(t, f.balance(t, f.employee, f.annual), 3, 0)
	})
}

// =============================================================================
// CANCEL
// =============================================================================

func TestCancel_ByOwner_ReleasesReservation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		req := f.mustApply(t, f.employee, f.annual, "2025-03-03", "2025-03-05")

		cancelled, err := f.requests.Cancel(f.ctx, req.ID, f.employee.ID)

		require.NoError(t, err)
		assert.Equal(t, timeoff.StatusCancelled, cancelled.Status)
		requireBalance(t, f.balance(t, f.employee, f.annual), 0, 0)
	})
}

func TestCancel_ByNonOwner_RegardlessOfStatus(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		// GIVEN: One pending and one approved request
		pending := f.mustApply(t, f.employee, f.annual, "2025-03-03", "2025-03-03")
		approved := f.mustApply(t, f.employee, f.annual, "2025-03-04", "2025-03-04")
		_, err := f.requests.Approve(f.ctx, approved.ID, f.manager.ID)
		require.NoError(t, err)

		// WHEN/THEN: Nobody but the owner may cancel, not even the manager or an admin
		for _, actor := range []*timeoff.User{f.colleague, f.manager, f.hr} {
			for _, req := range []*timeoff.LeaveRequest{pending, approved} {
				_, err := f.requests.Cancel(f.ctx, req.ID, actor.ID)
				var aerr *generic.AuthorizationError
				require.ErrorAs(t, err, &aerr, "actor %s on %s request", actor.Email, req.Status)
			}
		}
		requireBalance(t, f.balance(t, f.employee, f.annual), 1, 1)
	})
}

func TestCancel_AfterApprove_InvalidState(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		req := f.mustApply(t, f.employee, f.annual, "2025-03-03", "2025-03-05")
		_, err := f.requests.Approve(f.ctx, req.ID, f.manager.ID)
		require.NoError(t, err)

		_, err = f.requests.Cancel(f.ctx, req.ID, f.employee.ID)

		require.ErrorIs(t, err, generic.ErrInvalidState)
		requireBalance(t, f.balance(t, f.employee, f.annual), 3, 0)
	})
}

func TestCancel_NotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		_, err := f.requests.Cancel(f.ctx, "missing", f.employee.ID)
		require.ErrorIs(t, err, generic.ErrNotFound)
	})
}

// =============================================================================
// LEDGER PROPERTIES ACROSS SEQUENCES
// =============================================================================

func TestTerminalRequests_LeaveNoPending(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		// GIVEN: Three one-day requests
		a := f.mustApply(t, f.employee, f.annual, "2025-03-03", "2025-03-03")
		b := f.mustApply(t, f.employee, f.annual, "2025-03-04", "2025-03-04")
		c := f.mustApply(t, f.employee, f.annual, "2025-03-05", "2025-03-05")
		requireBalance(t, f.balance(t, f.employee, f.annual), 0, 3)

		// WHEN: One of each terminal transition
		_, err := f.requests.Approve(f.ctx, a.ID, f.manager.ID)
		require.NoError(t, err)
		_, err = f.requests.Reject(f.ctx, b.ID, f.manager.ID, "coverage")
		require.NoError(t, err)
		_, err = f.requests.Cancel(f.ctx, c.ID, f.employee.ID)
		require.NoError(t, err)

		// THEN: Pending is zero, only the approved day is used
		bal := f.balance(t, f.employee, f.annual)
		requireBalance(t, bal, 1, 0)
		assert.True(t, bal.Available().Equal(days(4)))
	})
}

func TestAvailableNeverNegative_AcrossSequence(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		ranges := [][2]string{
			{"2025-03-03", "2025-03-04"},
			{"2025-03-05", "2025-03-06"},
			{"2025-03-07", "2025-03-07"},
			{"2025-03-11", "2025-03-12"},
		}
		for i, r := range ranges {
			req, err := f.apply(f.employee, f.annual, r[0], r[1])
			if err == nil && i%2 == 0 {
				_, err = f.requests.Approve(f.ctx, req.ID, f.manager.ID)
				require.NoError(t, err)
			}
			bal := f.balance(t, f.employee, f.annual)
			assert.False(t, bal.Available().IsNegative(), "after step %d", i)
		}
	})
}

// =============================================================================
// QUERIES
// =============================================================================

func TestGetRequest_Visibility(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		req := f.mustApply(t, f.employee, f.annual, "2025-03-03", "2025-03-03")

		for _, viewer := range []*timeoff.User{f.employee, f.manager, f.hr} {
			got, err := f.requests.GetRequest(f.ctx, viewer.ID, req.ID)
			require.NoError(t, err)
			assert.Equal(t, req.ID, got.ID)
		}

		_, err := f.requests.GetRequest(f.ctx, f.colleague.ID, req.ID)
		require.ErrorIs(t, err, generic.ErrUnauthorized)

		_, err = f.requests.GetRequest(f.ctx, f.employee.ID, "missing")
		require.ErrorIs(t, err, generic.ErrNotFound)
	})
}

func TestTeamRequests_FiltersByStatus(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		// GIVEN: One approved and one pending request across the team
		a := f.mustApply(t, f.employee, f.annual, "2025-03-03", "2025-03-03")
		f.mustApply(t, f.colleague, f.annual, "2025-03-04", "2025-03-04")
		_, err := f.requests.Approve(f.ctx, a.ID, f.manager.ID)
		require.NoError(t, err)

		// WHEN: Listing the team's pending requests
		pending, err := f.requests.TeamRequests(f.ctx, f.manager.ID, timeoff.StatusPending, 2025)

		// THEN: Only the colleague's request
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, f.colleague.ID, pending[0].UserID)

		all, err := f.requests.TeamRequests(f.ctx, f.manager.ID, "", 0)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		none, err := f.requests.TeamRequests(f.ctx, f.employee.ID, "", 0)
		require.NoError(t, err)
		assert.Empty(t, none)

		_, err = f.requests.TeamRequests(f.ctx, f.manager.ID, "bogus", 0)
		require.ErrorIs(t, err, generic.ErrValidation)
	})
}

func TestTeam_ListsDirectReports(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		team, err := f.requests.Team(f.ctx, f.manager.ID)
		require.NoError(t, err)

		ids := []string{}
		for _, u := range team {
			ids = append(ids, u.ID)
		}
		assert.ElementsMatch(t, []string{f.employee.ID, f.colleague.ID}, ids)
	})
}

func TestBalances_Visibility(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		own, err := f.requests.Balances(f.ctx, f.employee.ID, f.employee.ID, 2025)
		require.NoError(t, err)
		assert.Len(t, own, 2)

		viaManager, err := f.requests.Balances(f.ctx, f.manager.ID, f.employee.ID, 2025)
		require.NoError(t, err)
		assert.Len(t, viaManager, 2)

		_, err = f.requests.Balances(f.ctx, f.colleague.ID, f.employee.ID, 2025)
		require.ErrorIs(t, err, generic.ErrUnauthorized)

		other, err := f.requests.Balances(f.ctx, f.employee.ID, f.employee.ID, 2024)
		require.NoError(t, err)
		assert.Empty(t, other)
	})
}

func TestHolidaysFor_UsesUserLocation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		holidays, err := f.requests.HolidaysFor(f.ctx, f.employee.ID, 2025)
		require.NoError(t, err)
		require.Len(t, holidays, 1)
		assert.Equal(t, "Founders Day", holidays[0].Name)
		assert.Equal(t, []string{f.location.ID}, holidays[0].LocationIDs)

		none, err := f.requests.HolidaysFor(f.ctx, f.employee.ID, 2024)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestNewRequestService_NilLogger(t *testing.T) {
	svc := timeoff.NewRequestService(memory.New(), nil)
	require.NotNil(t, svc)

	svc = timeoff.NewRequestService(memory.New(), zap.NewExample())
	require.NotNil(t, svc)
}
