package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Relay periodically drains the outbox into the emitter. Delivery is at-least-once: an event
// emitted just before a crash may be emitted again.
type Relay struct {
	outbox    Outbox
	emitter   Emitter
	interval  time.Duration
	batchSize int
	wake      chan struct{}
	log       *zap.Logger
}

func NewRelay(outbox Outbox, emitter Emitter, interval time.Duration, batchSize int, log *zap.Logger) *Relay {
	if batchSize < 1 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Relay{
		outbox:    outbox,
		emitter:   emitter,
		interval:  interval,
		batchSize: batchSize,
		wake:      make(chan struct{}, 1),
		log:       log,
	}
}

// Signal asks the relay to drain now instead of waiting for the next tick. It never blocks.
func (r *Relay) Signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Start runs until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("outbox relay started",
		zap.Duration("interval", r.interval),
		zap.Int("batch_size", r.batchSize),
	)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return
		case <-ticker.C:
			r.Drain(ctx)
		case <-r.wake:
			r.Drain(ctx)
		}
	}
}

// Drain dispatches full batches until the outbox is empty or an emit fails.
func (r *Relay) Drain(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n, err := r.outbox.Dispatch(ctx, r.batchSize, r.emitter.Emit)
		total += n
		if err != nil {
			r.log.Error("failed to relay booking events",
				zap.Int("sent", n),
				zap.Error(err),
			)
			break
		}
		if n < r.batchSize {
			break
		}
	}
	return total
}
