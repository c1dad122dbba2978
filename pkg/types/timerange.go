// Package types provides core data types for Chronolake.
package types

import (
	"fmt"
	"time"
)

// TimeRange is a half-open interval [Begin, End) over insert time.
// All partition bounds and query ranges in the system are expressed as
// TimeRanges in UTC.
type TimeRange struct {
	Begin time.Time `json:"begin"`
	End   time.Time `json:"end"`
}

// NewTimeRange creates a TimeRange, normalizing both bounds to UTC.
func NewTimeRange(begin, end time.Time) TimeRange {
	return TimeRange{Begin: begin.UTC(), End: end.UTC()}
}

// IsValid reports whether the range is non-empty (Begin < End).
func (r TimeRange) IsValid() bool {
	return r.Begin.Before(r.End)
}

// Duration returns End - Begin.
func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Begin)
}

// Overlaps reports whether the two ranges overlap using inclusive bounds
// on both sides: r overlaps other when r.Begin <= other.End AND
// r.End >= other.Begin. Inclusive comparison is required so that a
// partition whose bounds exactly equal a query range is judged covering;
// strict inequalities would force a needless rebuild on every exact-match
// re-query.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return !r.Begin.After(other.End) && !r.End.Before(other.Begin)
}

// Contains reports whether the range fully contains other,
// i.e. r.Begin <= other.Begin and other.End <= r.End.
func (r TimeRange) Contains(other TimeRange) bool {
	return !r.Begin.After(other.Begin) && !other.End.After(r.End)
}

// ContainsTime reports whether t falls in [Begin, End).
func (r TimeRange) ContainsTime(t time.Time) bool {
	return !t.Before(r.Begin) && t.Before(r.End)
}

// Intersect returns the overlap of the two ranges. The second return
// value is false when the ranges do not overlap.
func (r TimeRange) Intersect(other TimeRange) (TimeRange, bool) {
	begin := r.Begin
	if other.Begin.After(begin) {
		begin = other.Begin
	}
	end := r.End
	if other.End.Before(end) {
		end = other.End
	}
	if !begin.Before(end) {
		return TimeRange{}, false
	}
	return TimeRange{Begin: begin, End: end}, true
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Begin.Format(time.RFC3339Nano), r.End.Format(time.RFC3339Nano))
}
