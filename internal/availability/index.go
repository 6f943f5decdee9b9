// Package availability keeps, per resource, the set of time ranges currently occupied by
// bookings and answers overlap queries against it.
package availability

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nekogravitycat/event-booking-backend/internal/timerange"
)

var (
	ErrConflict        = errors.New("time range overlaps an existing reservation")
	ErrAlreadyReserved = errors.New("booking already holds a reservation")
)

// Reservation is one occupied range, tagged with the booking that owns it.
type Reservation struct {
	ResourceID string
	BookingID  string
	Range      timerange.Range
}

// ConflictError reports the reservations a requested range collided with.
// Conflicts may be empty when the collision was only detected by the storage constraint.
type ConflictError struct {
	ResourceID string
	Requested  timerange.Range
	Conflicts  []Reservation
}

func (e *ConflictError) Error() string {
	if len(e.Conflicts) == 0 {
		return fmt.Sprintf("resource %s: %s overlaps an existing reservation", e.ResourceID, e.Requested)
	}
	ranges := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		ranges[i] = c.Range.String()
	}
	return fmt.Sprintf("resource %s: %s overlaps %s", e.ResourceID, e.Requested, strings.Join(ranges, ", "))
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// Index is the Availability Index. Implementations make Reserve and Replace atomic per resource:
// the overlap check and the write happen as one unit.
type Index interface {
	// Reserve occupies r for bookingID. It fails with *ConflictError if r overlaps any
	// existing reservation of the resource.
	Reserve(ctx context.Context, resourceID string, r timerange.Range, bookingID string) error
	// Release frees the range held by bookingID. Releasing a missing reservation is a no-op.
	Release(ctx context.Context, resourceID, bookingID string) error
	// Replace moves bookingID's reservation to r. On conflict the old reservation is untouched.
	Replace(ctx context.Context, resourceID, bookingID string, r timerange.Range) error
	// Lookup returns the reservation held by bookingID, if any.
	Lookup(ctx context.Context, resourceID, bookingID string) (Reservation, bool, error)
	// Overlapping lists reservations of the resource overlapping r, ordered by start,
	// skipping excludeBookingID when it is non-empty.
	Overlapping(ctx context.Context, resourceID string, r timerange.Range, excludeBookingID string) ([]Reservation, error)
}
