// Package timerange provides the half-open [Start, End) interval used for every
// reservation in the booking engine.
package timerange

import (
	"errors"
	"fmt"
	"time"
)

var ErrEmpty = errors.New("end must be after start")

// Range is a half-open interval [Start, End). Two ranges that touch at a boundary do not overlap.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// New normalizes start and end to UTC whole seconds and rejects empty or inverted ranges.
func New(start, end time.Time) (Range, error) {
	r := Range{Start: normalize(start), End: normalize(end)}
	if !r.End.After(r.Start) {
		return Range{}, ErrEmpty
	}
	return r, nil
}

func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// Overlaps reports whether r and o share at least one instant.
func (r Range) Overlaps(o Range) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

// Duration returns the length of the range.
func (r Range) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Equal reports whether both bounds denote the same instants.
func (r Range) Equal(o Range) bool {
	return r.Start.Equal(o.Start) && r.End.Equal(o.End)
}

// Shift returns a range of the same duration starting at start.
func (r Range) Shift(start time.Time) Range {
	s := normalize(start)
	return Range{Start: s, End: s.Add(r.Duration())}
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}
