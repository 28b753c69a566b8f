package timeoff

import (
	"context"
	"fmt"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// WORKING-DAY CALCULATOR - Billable leave days for a user
// =============================================================================

// WorkingDayCalculator counts the days a leave request actually costs.
type WorkingDayCalculator struct {
	Calendar CalendarResolver
}

// Breakdown is what a date range costs one user, resolved against the
// location stored on the user's row.
type Breakdown struct {
	Span        generic.DateRange
	LocationID  string
	WorkingDays int
	NonWorking  generic.DateSet
}

// CountWorkingDays resolves the user's location and returns the number of
// days in [start, end] that are neither weekends nor location holidays.
// A range made only of non-working days yields 0.
func (c WorkingDayCalculator) CountWorkingDays(ctx context.Context, r Reader, userID string, start, end generic.Date) (int, error) {
	b, err := c.Breakdown(ctx, r, userID, start, end)
	if err != nil {
		return 0, err
	}
	return b.WorkingDays, nil
}

// Breakdown counts working days and lists the non-working dates of the
// range, both for the same location.
func (c WorkingDayCalculator) Breakdown(ctx context.Context, r Reader, userID string, start, end generic.Date) (*Breakdown, error) {
	span, err := generic.NewDateRange(start, end)
	if err != nil {
		return nil, err
	}

	user, err := r.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, &generic.NotFoundError{Entity: "user", ID: userID}
	}

	off, err := c.Calendar.NonWorkingDates(ctx, r, user.LocationID, span.Start, span.End)
	if err != nil {
		return nil, err
	}

	return &Breakdown{
		Span:        span,
		LocationID:  user.LocationID,
		WorkingDays: span.Len() - off.Len(),
		NonWorking:  off,
	}, nil
}
