package generic

// =============================================================================
// DATE RANGE - Inclusive span of calendar days
// =============================================================================

// DateRange is an inclusive [Start, End] span. A single day has Start == End.
//
// Examples:
//   - One-day mess closure: 2026-10-21 .. 2026-10-21
//   - Diwali closure:       2026-11-08 .. 2026-11-10
//   - Billing month:        2026-10-01 .. 2026-10-31
type DateRange struct {
	Start Date
	End   Date
}

// SingleDay returns a range covering exactly d.
func SingleDay(d Date) DateRange {
	return DateRange{Start: d, End: d}
}

// NewDateRange validates start <= end.
func NewDateRange(start, end Date) (DateRange, error) {
	if start.IsZero() || end.IsZero() {
		return DateRange{}, ErrIncompleteRange
	}
	if end.Before(start) {
		return DateRange{}, ErrInvalidRange
	}
	return DateRange{Start: start, End: end}, nil
}

// Contains returns true if d is within [Start, End].
func (r DateRange) Contains(d Date) bool {
	return d.AfterOrEqual(r.Start) && d.BeforeOrEqual(r.End)
}

// Overlaps reports whether the two ranges share at least one day.
func (r DateRange) Overlaps(other DateRange) bool {
	return r.Start.BeforeOrEqual(other.End) && other.Start.BeforeOrEqual(r.End)
}

// IsSingleDay reports whether the range is one calendar day.
func (r DateRange) IsSingleDay() bool {
	return r.Start.Equal(r.End)
}

// Len returns the number of days in the range.
func (r DateRange) Len() int {
	return DaysBetween(r.Start, r.End) + 1
}

// Days returns all days in the range.
func (r DateRange) Days() []Date {
	days := make([]Date, 0, r.Len())
	for current := r.Start; current.BeforeOrEqual(r.End); current = current.AddDays(1) {
		days = append(days, current)
	}
	return days
}

// String returns a string representation of the range.
func (r DateRange) String() string {
	return "[" + r.Start.String() + ", " + r.End.String() + "]"
}
