package models

import "time"

// DateRange filters aggregations on visited_at. Start is inclusive and
// End exclusive; a nil bound leaves that side open. The HTTP layer
// converts an end *date* to the following midnight so the full day is
// covered.
type DateRange struct {
	Start *time.Time
	End   *time.Time
}

// Contains reports whether t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	if r.Start != nil && t.Before(*r.Start) {
		return false
	}
	if r.End != nil && !t.Before(*r.End) {
		return false
	}
	return true
}

// IsZero reports whether the range is unbounded on both sides.
func (r DateRange) IsZero() bool {
	return r.Start == nil && r.End == nil
}
