package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogEmitter writes events to the application log. It is the emitter used when no broker is
// configured.
type LogEmitter struct {
	log *zap.Logger
}

func NewLogEmitter(log *zap.Logger) *LogEmitter {
	return &LogEmitter{log: log}
}

func (e *LogEmitter) Emit(ctx context.Context, ev Event) error {
	e.log.Info("booking event",
		zap.Int64("event_id", ev.ID),
		zap.String("type", string(ev.Type)),
		zap.String("booking_id", ev.BookingID),
		zap.String("resource_id", ev.ResourceID),
		zap.String("actor_id", ev.ActorID),
		zap.String("status", ev.Status),
		zap.Time("start", ev.Start),
		zap.Time("end", ev.End),
	)
	return nil
}
