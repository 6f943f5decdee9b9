// Package booking implements the booking lifecycle: the record store, the status state machine
// and the reschedule workflow layered on top of it.
package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nekogravitycat/event-booking-backend/internal/auth"
	"github.com/nekogravitycat/event-booking-backend/internal/availability"
	"github.com/nekogravitycat/event-booking-backend/internal/conflict"
	"github.com/nekogravitycat/event-booking-backend/internal/notify"
	"github.com/nekogravitycat/event-booking-backend/internal/pkg/apperror"
	"github.com/nekogravitycat/event-booking-backend/internal/resource"
	"github.com/nekogravitycat/event-booking-backend/internal/timerange"
)

// maxWindow bounds occupancy queries.
const maxWindow = 366 * 24 * time.Hour

type CreateRequest struct {
	ResourceID string
	// ResourceKind is optional; when set it must match the resource.
	ResourceKind resource.Kind
	Start        time.Time
	End          *time.Time
	Metadata     Metadata
}

type ProposeRequest struct {
	Start time.Time
	// End defaults to Start plus the booking's current duration.
	End *time.Time
}

type Service interface {
	Create(ctx context.Context, actor auth.Actor, req CreateRequest) (*Booking, error)
	GetByID(ctx context.Context, actor auth.Actor, id string) (*Booking, error)
	List(ctx context.Context, actor auth.Actor, filter Filter) ([]*Booking, int, error)
	ChangeStatus(ctx context.Context, actor auth.Actor, id string, target Status) (*Booking, error)
	Occupancy(ctx context.Context, resourceID string, window timerange.Range) ([]timerange.Range, error)

	Propose(ctx context.Context, actor auth.Actor, bookingID string, req ProposeRequest) (*Booking, *RescheduleRequest, error)
	Resolve(ctx context.Context, actor auth.Actor, rescheduleID string, decision Decision) (*Booking, *RescheduleRequest, error)
	Withdraw(ctx context.Context, actor auth.Actor, rescheduleID string) (*Booking, *RescheduleRequest, error)
	ListReschedules(ctx context.Context, actor auth.Actor, bookingID string) ([]*RescheduleRequest, error)
}

type service struct {
	store     Store
	resources resource.Service
	detector  *conflict.Detector
	log       *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time

	maxAttempts int
	backoff     time.Duration
	onCommit    func()
}

type Option func(*service)

// WithRetry bounds how often a transaction is retried after a transient storage failure.
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(s *service) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		s.backoff = backoff
	}
}

// WithClock overrides the clock used for resolution timestamps and events.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// WithCommitHook registers fn to run after every committed transition, e.g. to wake the outbox relay.
func WithCommitHook(fn func()) Option {
	return func(s *service) {
		s.onCommit = fn
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *service) {
		s.tracer = tracer
	}
}

func NewService(store Store, resources resource.Service, detector *conflict.Detector, log *zap.Logger, opts ...Option) Service {
	s := &service{
		store:       store,
		resources:   resources,
		detector:    detector,
		log:         log,
		tracer:      otel.Tracer("github.com/nekogravitycat/event-booking-backend/internal/booking"),
		now:         time.Now,
		maxAttempts: 3,
		backoff:     50 * time.Millisecond,
		onCommit:    func() {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// inTx runs fn in a store transaction, retrying transient failures with exponential backoff.
// fn may run more than once and must not keep state across attempts.
func (s *service) inTx(ctx context.Context, op string, fn func(tx Tx) error) error {
	backoff := s.backoff
	for attempt := 1; ; attempt++ {
		err := s.store.InTx(ctx, fn)
		if err == nil {
			s.onCommit()
			return nil
		}
		if !errors.Is(err, ErrTransient) {
			return err
		}
		if attempt >= s.maxAttempts {
			s.log.Warn("giving up after transient storage failures",
				zap.String("op", op),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return apperror.Wrap(err, ErrUnavailable)
		}

		s.log.Debug("retrying transaction",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
}

// scheduleError turns index conflicts into ScheduleConflict errors naming the colliding ranges.
func scheduleError(err error) error {
	var ce *availability.ConflictError
	if !errors.As(err, &ce) {
		return err
	}
	details := ConflictDetails{
		ResourceID: ce.ResourceID,
		Requested:  ce.Requested,
		Conflicts:  make([]timerange.Range, 0, len(ce.Conflicts)),
	}
	for _, c := range ce.Conflicts {
		details.Conflicts = append(details.Conflicts, c.Range)
	}
	appErr := apperror.Wrap(err, ErrScheduleConflict)
	appErr.Details = details
	return appErr
}

func (s *service) event(t notify.EventType, b *Booking, actorID string) notify.Event {
	return notify.Event{
		Type:         t,
		BookingID:    b.ID,
		ResourceID:   b.ResourceID,
		ClientID:     b.ClientID,
		OwnerID:      b.OwnerID,
		ActorID:      actorID,
		Status:       string(b.Status),
		RescheduleID: b.ActiveRescheduleID,
		Start:        b.Range.Start,
		End:          b.Range.End,
		OccurredAt:   s.now().UTC(),
	}
}

func (s *service) Create(ctx context.Context, actor auth.Actor, req CreateRequest) (b *Booking, err error) {
	ctx, span := s.startSpan(ctx, "booking.Create", attribute.String("resource.id", req.ResourceID))
	defer func() { endSpan(span, err) }()

	// 1. Validate Request
	if !actor.Authenticated() {
		return nil, ErrUnauthenticated
	}
	if err := req.Metadata.Validate(); err != nil {
		return nil, err
	}

	// 2. Resolve Resource
	res, err := s.resources.GetByID(ctx, req.ResourceID)
	if err != nil {
		if errors.Is(err, resource.ErrNotFound) {
			return nil, ErrResourceNotFound
		}
		return nil, err
	}
	if req.ResourceKind != "" && req.ResourceKind != res.Kind {
		return nil, ErrKindMismatch
	}
	if res.OwnerID == actor.UserID {
		return nil, ErrSelfBooking
	}

	// 3. Validate Time Range
	r, err := s.detector.Normalize(conflict.Request{
		Kind:            res.Kind,
		Start:           req.Start,
		End:             req.End,
		DefaultDuration: res.DefaultDuration,
	})
	if err != nil {
		return nil, err
	}

	b = &Booking{
		ID:           uuid.NewString(),
		ResourceID:   res.ID,
		ResourceKind: res.Kind,
		OwnerID:      res.OwnerID,
		ClientID:     actor.UserID,
		Range:        r,
		Status:       StatusPending,
		Metadata:     req.Metadata,
	}
	span.SetAttributes(attribute.String("booking.id", b.ID))

	// 4. Check for Overlaps and Save
	err = s.inTx(ctx, "create", func(tx Tx) error {
		if err := tx.Insert(ctx, b); err != nil {
			return err
		}
		if err := s.detector.Admit(ctx, tx.Availability(), res.Kind, res.ID, b.ID, r); err != nil {
			return scheduleError(err)
		}
		return tx.AppendEvent(ctx, s.event(notify.BookingCreated, b, actor.UserID))
	})
	if err != nil {
		s.log.Debug("booking rejected",
			zap.String("resource_id", res.ID),
			zap.String("client_id", actor.UserID),
			zap.Stringer("range", r),
			zap.Error(err),
		)
		return nil, err
	}

	s.log.Info("booking created",
		zap.String("booking_id", b.ID),
		zap.String("resource_id", b.ResourceID),
		zap.String("actor_id", actor.UserID),
		zap.String("status", string(b.Status)),
	)
	return b, nil
}

// authorizeRead lets the two parties and admins see a booking.
func authorizeRead(actor auth.Actor, b *Booking) error {
	if actor.IsAdmin() || b.PartyOf(actor.UserID) != PartyNone {
		return nil
	}
	return ErrForbidden
}

// attach loads the outstanding reschedule request onto b.
func (s *service) attach(ctx context.Context, b *Booking) error {
	if !b.HasPendingReschedule() {
		return nil
	}
	r, err := s.store.GetReschedule(ctx, b.ActiveRescheduleID)
	if err != nil {
		return err
	}
	b.ActiveReschedule = r
	return nil
}

func (s *service) GetByID(ctx context.Context, actor auth.Actor, id string) (*Booking, error) {
	b, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeRead(actor, b); err != nil {
		return nil, err
	}
	if err := s.attach(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// List scopes non-admin callers to their own bookings. ClientID or OwnerID set by the caller
// select which side of the booking to match; anything else matches either side.
func (s *service) List(ctx context.Context, actor auth.Actor, filter Filter) ([]*Booking, int, error) {
	if !actor.IsAdmin() {
		switch {
		case filter.ClientID != "":
			filter.ClientID = actor.UserID
		case filter.OwnerID != "":
			filter.OwnerID = actor.UserID
		default:
			filter.PartyID = actor.UserID
		}
	}
	bookings, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	for _, b := range bookings {
		if err := s.attach(ctx, b); err != nil {
			return nil, 0, err
		}
	}
	return bookings, total, nil
}

func (s *service) ChangeStatus(ctx context.Context, actor auth.Actor, id string, target Status) (b *Booking, err error) {
	ctx, span := s.startSpan(ctx, "booking.ChangeStatus",
		attribute.String("booking.id", id),
		attribute.String("booking.target_status", string(target)),
	)
	defer func() { endSpan(span, err) }()

	// 1. Resolve Target Status
	action, ok := actionFor[target]
	if !ok {
		// Pending is a real status but nothing transitions into it.
		if target.Valid() {
			return nil, ErrInvalidTransition
		}
		return nil, ErrInvalidStatus
	}

	err = s.inTx(ctx, "change_status", func(tx Tx) error {
		// 2. Lock Booking
		var err error
		b, err = tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		// 3. Check Transition and Actor
		party := b.PartyOf(actor.UserID)
		if party == PartyNone {
			return ErrForbidden
		}
		next, err := Next(b.Status, action)
		if err != nil {
			return err
		}
		if party != actors[action] {
			return ErrForbidden
		}

		// 4. Update Reservation
		idx := tx.Availability()
		switch action {
		case ActionAccept:
			if b.HasPendingReschedule() {
				return ErrRescheduleActive
			}
			held, ok, err := idx.Lookup(ctx, b.ResourceID, b.ID)
			if err != nil {
				return err
			}
			if !ok || !held.Range.Equal(b.Range) {
				return ErrReservationMissing
			}
		case ActionReject:
			if b.HasPendingReschedule() {
				return ErrRescheduleActive
			}
			if err := idx.Release(ctx, b.ResourceID, b.ID); err != nil {
				return err
			}
		case ActionCancel:
			if b.HasPendingReschedule() {
				if err := s.withdrawActive(ctx, tx, b, actor.UserID); err != nil {
					return err
				}
			}
			if err := idx.Release(ctx, b.ResourceID, b.ID); err != nil {
				return err
			}
		}

		// 5. Persist Status and Event
		b.Status = next
		if err := tx.Update(ctx, b); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, s.event(statusEvents[next], b, actor.UserID))
	})
	if err != nil {
		s.log.Debug("status change rejected",
			zap.String("booking_id", id),
			zap.String("actor_id", actor.UserID),
			zap.String("target", string(target)),
			zap.Error(err),
		)
		return nil, err
	}

	s.log.Info("booking status changed",
		zap.String("booking_id", b.ID),
		zap.String("resource_id", b.ResourceID),
		zap.String("actor_id", actor.UserID),
		zap.String("status", string(b.Status)),
	)
	return b, nil
}

var statusEvents = map[Status]notify.EventType{
	StatusConfirmed: notify.BookingConfirmed,
	StatusRejected:  notify.BookingRejected,
	StatusCancelled: notify.BookingCancelled,
	StatusCompleted: notify.BookingCompleted,
}

func (s *service) Occupancy(ctx context.Context, resourceID string, window timerange.Range) ([]timerange.Range, error) {
	if !window.End.After(window.Start) || window.Duration() > maxWindow {
		return nil, ErrInvalidWindow
	}
	if _, err := s.resources.GetByID(ctx, resourceID); err != nil {
		if errors.Is(err, resource.ErrNotFound) {
			return nil, ErrResourceNotFound
		}
		return nil, err
	}

	held, err := s.store.Availability().Overlapping(ctx, resourceID, window, "")
	if err != nil {
		if errors.Is(err, ErrTransient) {
			return nil, apperror.Wrap(err, ErrUnavailable)
		}
		return nil, err
	}
	ranges := make([]timerange.Range, len(held))
	for i, h := range held {
		ranges[i] = h.Range
	}
	return ranges, nil
}
