/*
ledger.go - Balance ledger keyed by (user, leave type, year)

PURPOSE:
  The only code allowed to change a balance's Used and Pending amounts.
  Three operations, always inside a transaction owned by the caller:

    Reserve: pending += days   (apply; fails if available < days)
    Commit:  pending -= days, used += days   (approve)
    Release: pending -= days   (reject / cancel)

CRITICAL INVARIANT:
  available = allocated - used - pending never goes negative as the result
  of a Reserve. Commit and Release do not re-check availability, but they
  refuse to take more out of pending than it holds. They are fed the
  TotalDays frozen on the request, never a recomputed value.

RACE:
  Two concurrent Reserves on the same key must not both pass the check.
  LockBalance holds the row for the transaction and UpdateBalance is
  version-checked, so the read-check-write is one atomic unit. A lost
  version check surfaces as generic.ErrConcurrentModification.

RETRIES:
  None here. The operations are not idempotent on their own; the request
  state machine retries the whole transaction, re-deriving days from the
  request.

SEE ALSO:
  - store.go: LockBalance / UpdateBalance contract
  - request.go: The only caller
*/
package timeoff

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
	"go.uber.org/zap"
)

// BalanceLedger applies reserve/commit/release to balance rows.
type BalanceLedger struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewBalanceLedger(logger *zap.Logger) *BalanceLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BalanceLedger{logger: logger.Named("timeoff.ledger"), now: time.Now}
}

// Reserve sets days aside as pending. It fails with NotFoundError when no
// balance was allocated for the key, and with InsufficientBalanceError when
// available < days.
func (l *BalanceLedger) Reserve(ctx context.Context, tx Store, key BalanceKey, days decimal.Decimal) (*LeaveBalance, error) {
	if err := requirePositive(days); err != nil {
		return nil, err
	}

	bal, err := l.load(ctx, tx, key)
	if err != nil {
		return nil, err
	}

	available := bal.Available()
	if available.LessThan(days) {
		l.logger.Warn("reserve rejected",
			zap.String("user_id", key.UserID),
			zap.String("leave_type_id", key.LeaveTypeID),
			zap.Int("year", key.Year),
			zap.String("available", available.String()),
			zap.String("requested", days.String()),
		)
		return nil, &generic.InsufficientBalanceError{
			UserID:      key.UserID,
			LeaveTypeID: key.LeaveTypeID,
			Year:        key.Year,
			Available:   available,
			Requested:   days,
		}
	}

	bal.Pending = bal.Pending.Add(days)
	return l.save(ctx, tx, bal, "reserve")
}

// Commit moves a reservation from pending into used.
func (l *BalanceLedger) Commit(ctx context.Context, tx Store, key BalanceKey, days decimal.Decimal) (*LeaveBalance, error) {
	if err := requirePositive(days); err != nil {
		return nil, err
	}

	bal, err := l.load(ctx, tx, key)
	if err != nil {
		return nil, err
	}

	if err := requireReserved(bal, days); err != nil {
		return nil, err
	}

	bal.Pending = bal.Pending.Sub(days)
	bal.Used = bal.Used.Add(days)
	return l.save(ctx, tx, bal, "commit")
}

// Release drops a reservation without consuming it.
func (l *BalanceLedger) Release(ctx context.Context, tx Store, key BalanceKey, days decimal.Decimal) (*LeaveBalance, error) {
	if err := requirePositive(days); err != nil {
		return nil, err
	}

	bal, err := l.load(ctx, tx, key)
	if err != nil {
		return nil, err
	}

	if err := requireReserved(bal, days); err != nil {
		return nil, err
	}

	bal.Pending = bal.Pending.Sub(days)
	return l.save(ctx, tx, bal, "release")
}

func (l *BalanceLedger) load(ctx context.Context, tx Store, key BalanceKey) (*LeaveBalance, error) {
	bal, err := tx.LockBalance(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to lock balance: %w", err)
	}
	if bal == nil {
		return nil, &generic.NotFoundError{
			Entity: "leave_balance",
			ID:     fmt.Sprintf("%s/%s/%d", key.UserID, key.LeaveTypeID, key.Year),
		}
	}
	return bal, nil
}

func (l *BalanceLedger) save(ctx context.Context, tx Store, bal *LeaveBalance, op string) (*LeaveBalance, error) {
	bal.UpdatedAt = l.now().UTC()
	if err := tx.UpdateBalance(ctx, bal); err != nil {
		return nil, fmt.Errorf("failed to %s balance: %w", op, err)
	}

	l.logger.Debug("balance "+op,
		zap.String("balance_id", bal.ID),
		zap.String("allocated", bal.Allocated.String()),
		zap.String("used", bal.Used.String()),
		zap.String("pending", bal.Pending.String()),
		zap.Int64("version", bal.Version),
	)
	return bal, nil
}

func requirePositive(days decimal.Decimal) error {
	if !days.IsPositive() {
		return &generic.ValidationError{Field: "days", Message: "must be greater than zero"}
	}
	return nil
}

// requireReserved refuses to move more days out of Pending than it holds.
func requireReserved(bal *LeaveBalance, days decimal.Decimal) error {
	if bal.Pending.LessThan(days) {
		return &generic.ValidationError{
			Field:   "days",
			Message: fmt.Sprintf("exceeds pending days (%s < %s)", bal.Pending, days),
		}
	}
	return nil
}
