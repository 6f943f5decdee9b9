// Package notify delivers booking transition events to the outside world. Events are appended
// to an outbox inside the transaction that produced them and relayed to an Emitter afterwards,
// so a transition is never announced without being committed.
package notify

import (
	"context"
	"time"
)

type EventType string

const (
	BookingCreated      EventType = "booking.created"
	BookingConfirmed    EventType = "booking.confirmed"
	BookingRejected     EventType = "booking.rejected"
	BookingCancelled    EventType = "booking.cancelled"
	BookingCompleted    EventType = "booking.completed"
	RescheduleProposed  EventType = "reschedule.proposed"
	RescheduleApproved  EventType = "reschedule.approved"
	RescheduleRejected  EventType = "reschedule.rejected"
	RescheduleWithdrawn EventType = "reschedule.withdrawn"
)

// Event describes one accepted transition. Start and End are the booking's range after it.
type Event struct {
	ID           int64     `json:"id"`
	Type         EventType `json:"type"`
	BookingID    string    `json:"booking_id"`
	ResourceID   string    `json:"resource_id"`
	ClientID     string    `json:"client_id"`
	OwnerID      string    `json:"owner_id"`
	ActorID      string    `json:"actor_id"`
	Status       string    `json:"status"`
	RescheduleID string    `json:"reschedule_id,omitempty"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Emitter is the external notification channel.
type Emitter interface {
	Emit(ctx context.Context, e Event) error
}

// Outbox holds committed events until they are emitted.
type Outbox interface {
	// Dispatch hands up to limit pending events, oldest first, to fn and marks the ones fn
	// accepted as dispatched. It stops at the first event fn fails on.
	Dispatch(ctx context.Context, limit int, fn func(context.Context, Event) error) (int, error)
}
