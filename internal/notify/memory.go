package notify

import (
	"context"
	"sync"
)

// MemoryOutbox is the in-process outbox used by the memory store driver.
type MemoryOutbox struct {
	mu       sync.Mutex
	dispatch sync.Mutex
	nextID   int64
	pending  []Event
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{}
}

// Append assigns ids to events and queues them in order.
func (o *MemoryOutbox) Append(events ...Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, e := range events {
		o.nextID++
		e.ID = o.nextID
		o.pending = append(o.pending, e)
	}
}

// Pending returns a copy of the undispatched events.
func (o *MemoryOutbox) Pending() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]Event(nil), o.pending...)
}

func (o *MemoryOutbox) Dispatch(ctx context.Context, limit int, fn func(context.Context, Event) error) (int, error) {
	// One dispatcher at a time, mirroring the row locks of the database outbox.
	o.dispatch.Lock()
	defer o.dispatch.Unlock()

	o.mu.Lock()
	batch := o.pending[:min(limit, len(o.pending))]
	batch = append([]Event(nil), batch...)
	o.mu.Unlock()

	sent := 0
	for _, e := range batch {
		if err := fn(ctx, e); err != nil {
			o.drop(sent)
			return sent, err
		}
		sent++
	}
	o.drop(sent)
	return sent, nil
}

func (o *MemoryOutbox) drop(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.pending = o.pending[n:]
}
