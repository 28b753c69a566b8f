package generic_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/warp/leave-engine/generic"
)

func TestErrors_UnwrapToSentinels(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"not found", &generic.NotFoundError{Entity: "user", ID: "u-1"}, generic.ErrNotFound},
		{"validation", &generic.ValidationError{Field: "reason", Message: "required"}, generic.ErrValidation},
		{"insufficient", &generic.InsufficientBalanceError{Available: generic.Days(2), Requested: generic.Days(3)}, generic.ErrInsufficientBalance},
		{"invalid state", &generic.InvalidStateError{RequestID: "r-1", Status: "approved", Action: "approve"}, generic.ErrInvalidState},
		{"authorization", &generic.AuthorizationError{ActorID: "a", TargetID: "b", Action: "cancel"}, generic.ErrUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("operation failed: %w", tc.err)
			assert.True(t, errors.Is(wrapped, tc.sentinel))
		})
	}
}

func TestInsufficientBalanceError_CarriesAmounts(t *testing.T) {
	err := &generic.InsufficientBalanceError{
		UserID:      "u-1",
		LeaveTypeID: "annual",
		Year:        2025,
		Available:   decimal.RequireFromString("1.5"),
		Requested:   generic.Days(3),
	}

	assert.Equal(t, "insufficient balance: available 1.5 days, requested 3 days", err.Error())
	assert.True(t, err.Shortfall().Equal(decimal.RequireFromString("1.5")))
}

func TestErrorHelpers(t *testing.T) {
	assert.True(t, generic.IsNotFound(&generic.NotFoundError{Entity: "location", ID: "x"}))
	assert.True(t, generic.IsClientError(&generic.InvalidStateError{}))
	assert.True(t, generic.IsRetryable(fmt.Errorf("tx: %w", generic.ErrConcurrentModification)))
	assert.False(t, generic.IsClientError(errors.New("disk on fire")))
}

func TestAvailable(t *testing.T) {
	got := generic.Available(generic.Days(20), decimal.RequireFromString("3.5"), generic.Days(2))
	assert.True(t, got.Equal(decimal.RequireFromString("14.5")))
}
