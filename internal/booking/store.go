package booking

import (
	"context"

	"github.com/nekogravitycat/event-booking-backend/internal/availability"
	"github.com/nekogravitycat/event-booking-backend/internal/notify"
)

// Store is the Booking Record Store. Every mutation runs inside InTx, so a transition commits
// its record writes, its reservation changes and its outbox event together or not at all.
type Store interface {
	// InTx runs fn in a transaction. Returning an error from fn rolls everything back.
	// Failures worth retrying are reported wrapping ErrTransient.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetByID(ctx context.Context, id string) (*Booking, error)
	List(ctx context.Context, filter Filter) ([]*Booking, int, error)
	GetReschedule(ctx context.Context, id string) (*RescheduleRequest, error)
	ListReschedules(ctx context.Context, bookingID string) ([]*RescheduleRequest, error)

	// Availability is a read view of the committed reservations.
	Availability() availability.Index
}

// Tx is the transactional view of the store.
type Tx interface {
	// GetForUpdate loads a booking and locks it until the transaction ends.
	GetForUpdate(ctx context.Context, id string) (*Booking, error)
	Insert(ctx context.Context, b *Booking) error
	// Update writes b if its Version is still current and bumps Version.
	Update(ctx context.Context, b *Booking) error

	// GetRescheduleForUpdate loads a reschedule request and locks its booking.
	GetRescheduleForUpdate(ctx context.Context, id string) (*RescheduleRequest, error)
	InsertReschedule(ctx context.Context, r *RescheduleRequest) error
	UpdateReschedule(ctx context.Context, r *RescheduleRequest) error

	// Availability is the index bound to this transaction.
	Availability() availability.Index
	AppendEvent(ctx context.Context, e notify.Event) error
}
