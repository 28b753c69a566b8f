package timeoff

import (
	"context"
	"fmt"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// CALENDAR RESOLVER - Weekends + location holidays
// =============================================================================

// CalendarResolver answers which dates in a range are not working days for
// a location. It is read-only.
type CalendarResolver struct{}

// NonWorkingDates returns every date in [start, end] that is a Saturday,
// a Sunday, or a holiday assigned to locationID.
func (CalendarResolver) NonWorkingDates(ctx context.Context, r Reader, locationID string, start, end generic.Date) (generic.DateSet, error) {
	span, err := generic.NewDateRange(start, end)
	if err != nil {
		return nil, err
	}

	loc, err := r.GetLocation(ctx, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load location: %w", err)
	}
	if loc == nil {
		return nil, &generic.NotFoundError{Entity: "location", ID: locationID}
	}

	holidays, err := r.HolidaysForLocation(ctx, locationID, span.Start, span.End)
	if err != nil {
		return nil, fmt.Errorf("failed to load holidays: %w", err)
	}

	off := generic.NewDateSet()
	for _, day := range span.Days() {
		if day.IsWeekend() {
			off.Add(day)
		}
	}
	for _, h := range holidays {
		if span.Contains(h.Date) {
			off.Add(h.Date)
		}
	}
	return off, nil
}
