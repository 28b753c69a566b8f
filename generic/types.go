/*
Package generic provides the primitives shared by the leave engine.

PURPOSE:
  Domain-agnostic building blocks used by the timeoff package, the stores and
  the HTTP layer: calendar dates, inclusive date ranges, day quantities and the
  typed error taxonomy.

KEY CONCEPTS:
  - Date:      A UTC calendar day, comparable and usable as a map key
  - DateRange: Inclusive [Start, End] span with validation
  - Days:      Fixed-point day quantities (decimal.Decimal, never float64)
  - Errors:    NotFound / Validation / InsufficientBalance / InvalidState /
               Authorization, each unwrapping to a sentinel

DESIGN PRINCIPLES:
  1. Precision: balances are decimals; repeated reserve/commit/release never drift
  2. Type safety: errors are typed values carrying ids and amounts
  3. Comparability: dates are normalized so sets and keys behave

SEE ALSO:
  - errors.go: Error taxonomy
  - time.go: Date and DateSet
  - timeoff/: The leave ledger and request state machine
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// DAYS - Quantity of leave, always in days
// =============================================================================

// Days converts a whole number of days into a decimal quantity.
func Days(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}

// MustParseDecimal parses s or returns zero.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Available is allocated - used - pending.
func Available(allocated, used, pending decimal.Decimal) decimal.Decimal {
	return allocated.Sub(used).Sub(pending)
}
