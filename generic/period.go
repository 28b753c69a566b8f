package generic

import "fmt"

// =============================================================================
// DATE RANGE - Inclusive span of calendar days
// =============================================================================

// MaxRangeDays is the longest span NewDateRange accepts, a leap year.
const MaxRangeDays = 366

// DateRange is the inclusive span [Start, End].
type DateRange struct {
	Start Date
	End   Date
}

// NewDateRange builds a range and rejects one that ends before it starts or
// spans more than MaxRangeDays.
func NewDateRange(start, end Date) (DateRange, error) {
	r := DateRange{Start: start, End: end}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

// Validate returns a ValidationError when End is before Start or the range
// is longer than MaxRangeDays.
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return &ValidationError{Field: "date_range", Message: "start and end dates are required"}
	}
	if r.End.Before(r.Start) {
		return &ValidationError{Field: "date_range", Message: "start date must be before or equal to end date"}
	}
	if n := r.Len(); n > MaxRangeDays {
		return &ValidationError{Field: "date_range", Message: fmt.Sprintf("spans %d days, at most %d allowed", n, MaxRangeDays)}
	}
	return nil
}

// Contains returns true if the date is within [Start, End].
func (r DateRange) Contains(d Date) bool {
	return d.AfterOrEqual(r.Start) && d.BeforeOrEqual(r.End)
}

// Len is the number of calendar days in the range.
func (r DateRange) Len() int {
	if r.End.Before(r.Start) {
		return 0
	}
	return DaysBetween(r.Start, r.End) + 1
}

// Days returns every day in the range.
func (r DateRange) Days() []Date {
	days := make([]Date, 0, r.Len())
	for current := r.Start; current.BeforeOrEqual(r.End); current = current.AddDays(1) {
		days = append(days, current)
	}
	return days
}

func (r DateRange) String() string {
	return "[" + r.Start.String() + ", " + r.End.String() + "]"
}
