package timeoff_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/store/memory"
	"github.com/warp/leave-engine/timeoff"
	"go.uber.org/zap"
)

// =============================================================================
// LEDGER TEST HELPERS
// =============================================================================

var ledgerKey = timeoff.BalanceKey{UserID: "emp-1", LeaveTypeID: "annual", Year: 2025}

func newLedgerStore(t *testing.T, allocated int64) *memory.Memory {
	t.Helper()
	store := memory.New()
	_, err := store.AllocateBalance(context.Background(), ledgerKey, days(allocated))
	require.NoError(t, err)
	return store
}

// inTx runs op in a transaction and returns the resulting balance row.
func inTx(t *testing.T, store *memory.Memory, op func(tx timeoff.Store) error) (*timeoff.LeaveBalance, error) {
	t.Helper()
	ctx := context.Background()
	err := store.WithTx(ctx, op)
	b, lerr := store.LockBalance(ctx, ledgerKey)
	require.NoError(t, lerr)
	return b, err
}

// =============================================================================
// RESERVE
// =============================================================================

func TestLedger_Reserve_IncrementsPending(t *testing.T) {
	// GIVEN: 10 days allocated
	store := newLedgerStore(t, 10)
	ledger := timeoff.NewBalanceLedger(zap.NewNop())

	// WHEN: Reserving 4
	b, err := inTx(t, store, func(tx timeoff.Store) error {
		_, err := ledger.Reserve(context.Background(), tx, ledgerKey, days(4))
		return err
	})

	// THEN: pending = 4, used untouched, version bumped
	require.NoError(t, err)
	requireBalance(t, b, 0, 4)
	assert.True(t, b.Available().Equal(days(6)))
	assert.Equal(t, int64(2), b.Version)
}

func TestLedger_Reserve_FractionalDays(t *testing.T) {
	// GIVEN: 1 day allocated
	store := newLedgerStore(t, 1)
	ledger := timeoff.NewBalanceLedger(nil)
	half := decimal.RequireFromString("0.5")

	// WHEN: Reserving half a day three times
	var errs []error
	for i := 0; i < 3; i++ {
		_, err := inTx(t, store, func(tx timeoff.Store) error {
			_, err := ledger.Reserve(context.Background(), tx, ledgerKey, half)
			return err
		})
		errs = append(errs, err)
	}

	// THEN: Two fit exactly, the third is refused, no float drift
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.ErrorIs(t, errs[2], generic.ErrInsufficientBalance)
	b, _ := inTx(t, store, func(timeoff.Store) error { return nil })
	assert.True(t, b.Available().IsZero())
}

func TestLedger_Reserve_Insufficient(t *testing.T) {
	store := newLedgerStore(t, 2)
	ledger := timeoff.NewBalanceLedger(zap.NewNop())

	b, err := inTx(t, store, func(tx timeoff.Store) error {
		_, err := ledger.Reserve(context.Background(), tx, ledgerKey, days(3))
		return err
	})

	var ierr *generic.InsufficientBalanceError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, ledgerKey.UserID, ierr.UserID)
	assert.Equal(t, 2025, ierr.Year)
	assert.True(t, ierr.Shortfall().Equal(days(1)))
	requireBalance(t, b, 0, 0)
}

func TestLedger_Reserve_MissingRow(t *testing.T) {
	store := memory.New()
	ledger := timeoff.NewBalanceLedger(zap.NewNop())

	err := store.WithTx(context.Background(), func(tx timeoff.Store) error {
		_, err := ledger.Reserve(context.Background(), tx, ledgerKey, days(1))
		return err
	})

	var nerr *generic.NotFoundError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "leave_balance", nerr.Entity)
	assert.Equal(t, "emp-1/annual/2025", nerr.ID)
}

func TestLedger_RejectsNonPositiveDays(t *testing.T) {
	store := newLedgerStore(t, 10)
	ledger := timeoff.NewBalanceLedger(zap.NewNop())
	ctx := context.Background()

	ops := map[string]func(tx timeoff.Store, d decimal.Decimal) error{
		"reserve": func(tx timeoff.Store, d decimal.Decimal) error {
			_, err := ledger.Reserve(ctx, tx, ledgerKey, d)
			return err
		},
		"commit": func(tx timeoff.Store, d decimal.Decimal) error {
			_, err := ledger.Commit(ctx, tx, ledgerKey, d)
			return err
		},
		"release": func(tx timeoff.Store, d decimal.Decimal) error {
			_, err := ledger.Release(ctx, tx, ledgerKey, d)
			return err
		},
	}

	for name, op := range ops {
		for _, d := range []decimal.Decimal{decimal.Zero, days(-1)} {
			_, err := inTx(t, store, func(tx timeoff.Store) error { return op(tx, d) })
			assert.ErrorIs(t, err, generic.ErrValidation, "%s %s", name, d)
		}
	}
}

// =============================================================================
// COMMIT / RELEASE
// =============================================================================

func TestLedger_Commit_MovesPendingToUsed(t *testing.T) {
	store := newLedgerStore(t, 10)
	ledger := timeoff.NewBalanceLedger(zap.NewNop())
	ctx := context.Background()

	b, err := inTx(t, store, func(tx timeoff.Store) error {
		if _, err := ledger.Reserve(ctx, tx, ledgerKey, days(3)); err != nil {
			return err
		}
		_, err := ledger.Commit(ctx, tx, ledgerKey, days(3))
		return err
	})

	require.NoError(t, err)
	requireBalance(t, b, 3, 0)
	assert.True(t, b.Available().Equal(days(7)))
}

func TestLedger_Release_DropsPending(t *testing.T) {
	store := newLedgerStore(t, 10)
	ledger := timeoff.NewBalanceLedger(zap.NewNop())
	ctx := context.Background()

	b, err := inTx(t, store, func(tx timeoff.Store) error {
		if _, err := ledger.Reserve(ctx, tx, ledgerKey, days(3)); err != nil {
			return err
		}
		_, err := ledger.Release(ctx, tx, ledgerKey, days(3))
		return err
	})

	require.NoError(t, err)
	requireBalance(t, b, 0, 0)
	assert.True(t, b.Available().Equal(days(10)))
}

func TestLedger_Commit_DoesNotRecheckSufficiency(t *testing.T) {
	// GIVEN: Every allocated day is reserved
	store := newLedgerStore(t, 3)
	ledger := timeoff.NewBalanceLedger(zap.NewNop())
	ctx := context.Background()
	_, err := inTx(t, store, func(tx timeoff.Store) error {
		_, err := ledger.Reserve(ctx, tx, ledgerKey, days(3))
		return err
	})
	require.NoError(t, err)

	// WHEN: Committing
	b, err := inTx(t, store, func(tx timeoff.Store) error {
		_, err := ledger.Commit(ctx, tx, ledgerKey, days(3))
		return err
	})

	// THEN: Commit trusts the reservation
	require.NoError(t, err)
	requireBalance(t, b, 3, 0)
	assert.True(t, b.Available().IsZero())
}

func TestLedger_Release_WithoutReservation(t *testing.T) {
	// GIVEN: 5 days allocated and nothing reserved
	store := newLedgerStore(t, 5)
	ledger := timeoff.NewBalanceLedger(zap.NewNop())
	ctx := context.Background()

	// WHEN: Releasing 3 days
	b, err := inTx(t, store, func(tx timeoff.Store) error {
		_, err := ledger.Release(ctx, tx, ledgerKey, days(3))
		return err
	})

	// THEN: It is refused and pending never goes negative
	var vErr *generic.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "days", vErr.Field)
	requireBalance(t, b, 0, 0)
	assert.True(t, b.Available().Equal(days(5)))
	assert.Equal(t, int64(1), b.Version)
}

func TestLedger_Commit_MoreThanReserved(t *testing.T) {
	// GIVEN: 2 of 10 days reserved
	store := newLedgerStore(t, 10)
	ledger := timeoff.NewBalanceLedger(zap.NewNop())
	ctx := context.Background()
	_, err := inTx(t, store, func(tx timeoff.Store) error {
		_, err := ledger.Reserve(ctx, tx, ledgerKey, days(2))
		return err
	})
	require.NoError(t, err)

	// WHEN: Committing 3
	b, err := inTx(t, store, func(tx timeoff.Store) error {
		_, err := ledger.Commit(ctx, tx, ledgerKey, days(3))
		return err
	})

	// THEN: Nothing moves from pending to used
	require.ErrorIs(t, err, generic.ErrValidation)
	requireBalance(t, b, 0, 2)
}

func TestLedger_FailedTransaction_RollsBack(t *testing.T) {
	// GIVEN: A reservation followed by a failure in the same transaction
	store := newLedgerStore(t, 10)
	ledger := timeoff.NewBalanceLedger(zap.NewNop())
	ctx := context.Background()

	b, err := inTx(t, store, func(tx timeoff.Store) error {
		if _, err := ledger.Reserve(ctx, tx, ledgerKey, days(3)); err != nil {
			return err
		}
		return &generic.ValidationError{Message: "boom"}
	})

	// THEN: The reservation is gone
	require.Error(t, err)
	requireBalance(t, b, 0, 0)
	assert.Equal(t, int64(1), b.Version)
}

func TestLedger_StaleVersion_ConcurrentModification(t *testing.T) {
	store := newLedgerStore(t, 10)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx timeoff.Store) error {
		b, err := tx.LockBalance(ctx, ledgerKey)
		require.NoError(t, err)
		stale := *b

		b.Pending = days(1)
		require.NoError(t, tx.UpdateBalance(ctx, b))

		stale.Pending = days(2)
		return tx.UpdateBalance(ctx, &stale)
	})

	require.ErrorIs(t, err, generic.ErrConcurrentModification)
	assert.True(t, generic.IsRetryable(err))
}
