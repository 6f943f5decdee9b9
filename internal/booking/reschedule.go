package booking

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/nekogravitycat/event-booking-backend/internal/auth"
	"github.com/nekogravitycat/event-booking-backend/internal/conflict"
	"github.com/nekogravitycat/event-booking-backend/internal/notify"
)

// Propose opens a reschedule negotiation on a confirmed booking. The booking keeps its current
// reservation; the requested range is only probed, ignoring the booking's own slot.
func (s *service) Propose(ctx context.Context, actor auth.Actor, bookingID string, req ProposeRequest) (b *Booking, rr *RescheduleRequest, err error) {
	ctx, span := s.startSpan(ctx, "booking.Propose", attribute.String("booking.id", bookingID))
	defer func() { endSpan(span, err) }()

	err = s.inTx(ctx, "propose", func(tx Tx) error {
		// 1. Lock Booking and Check State
		var err error
		b, err = tx.GetForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.PartyOf(actor.UserID) == PartyNone {
			return ErrForbidden
		}
		switch {
		case b.Status.Terminal():
			return ErrTerminal
		case b.HasPendingReschedule():
			return ErrRescheduleActive
		case b.Status != StatusConfirmed:
			return ErrNotConfirmed
		}

		// 2. Validate Time Range
		requested, err := s.detector.Normalize(conflict.Request{
			Kind:            b.ResourceKind,
			Start:           req.Start,
			End:             req.End,
			DefaultDuration: b.Range.Duration(),
		})
		if err != nil {
			return err
		}
		if requested.Equal(b.Range) {
			return ErrSameRange
		}
		// 3. Check for Overlaps
		if err := s.detector.Check(ctx, tx.Availability(), b.ResourceKind, b.ResourceID, requested, b.ID); err != nil {
			return scheduleError(err)
		}

		// 4. Open Request
		rr = &RescheduleRequest{
			ID:         uuid.NewString(),
			BookingID:  b.ID,
			ProposerID: actor.UserID,
			Original:   b.Range,
			Requested:  requested,
			Status:     ReschedulePending,
		}
		if err := tx.InsertReschedule(ctx, rr); err != nil {
			return err
		}

		b.Status = StatusPending
		b.ActiveRescheduleID = rr.ID
		if err := tx.Update(ctx, b); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, s.event(notify.RescheduleProposed, b, actor.UserID))
	})
	if err != nil {
		s.log.Debug("reschedule proposal rejected",
			zap.String("booking_id", bookingID),
			zap.String("actor_id", actor.UserID),
			zap.Error(err),
		)
		return nil, nil, err
	}

	b.ActiveReschedule = rr
	s.log.Info("reschedule proposed",
		zap.String("booking_id", b.ID),
		zap.String("reschedule_id", rr.ID),
		zap.String("actor_id", actor.UserID),
		zap.Stringer("requested", rr.Requested),
	)
	return b, rr, nil
}

// Resolve applies the counter-party's decision. Approval re-checks the requested range against
// the index and moves the reservation in the same transaction; a late conflict leaves both the
// booking and the request exactly as they were.
func (s *service) Resolve(ctx context.Context, actor auth.Actor, rescheduleID string, decision Decision) (b *Booking, rr *RescheduleRequest, err error) {
	ctx, span := s.startSpan(ctx, "booking.Resolve",
		attribute.String("reschedule.id", rescheduleID),
		attribute.String("reschedule.decision", string(decision)),
	)
	defer func() { endSpan(span, err) }()

	if !decision.Valid() {
		return nil, nil, ErrInvalidDecision
	}

	err = s.inTx(ctx, "resolve", func(tx Tx) error {
		// 1. Lock Request and Booking
		var err error
		if b, rr, err = s.lockReschedule(ctx, tx, actor, rescheduleID); err != nil {
			return err
		}
		if b.PartyOf(actor.UserID) == b.PartyOf(rr.ProposerID) {
			return ErrNotCounterParty
		}

		// 2. Move Reservation on Approval
		eventType := notify.RescheduleRejected
		status := RescheduleRejected
		if decision == DecisionApprove {
			if err := s.detector.Readmit(ctx, tx.Availability(), b.ResourceKind, b.ResourceID, b.ID, rr.Requested); err != nil {
				return scheduleError(err)
			}
			b.Range = rr.Requested
			eventType = notify.RescheduleApproved
			status = RescheduleApproved
		}

		// 3. Close Request and Restore Booking
		rr.resolve(status, actor.UserID, s.now().UTC())
		if err := tx.UpdateReschedule(ctx, rr); err != nil {
			return err
		}

		b.Status = StatusConfirmed
		b.ActiveRescheduleID = ""
		if err := tx.Update(ctx, b); err != nil {
			return err
		}
		e := s.event(eventType, b, actor.UserID)
		e.RescheduleID = rr.ID
		return tx.AppendEvent(ctx, e)
	})
	if err != nil {
		s.log.Debug("reschedule resolution rejected",
			zap.String("reschedule_id", rescheduleID),
			zap.String("actor_id", actor.UserID),
			zap.String("decision", string(decision)),
			zap.Error(err),
		)
		return nil, nil, err
	}

	s.log.Info("reschedule resolved",
		zap.String("booking_id", b.ID),
		zap.String("reschedule_id", rr.ID),
		zap.String("actor_id", actor.UserID),
		zap.String("decision", string(decision)),
		zap.Stringer("range", b.Range),
	)
	return b, rr, nil
}

// Withdraw lets the proposer abandon an outstanding request. The booking returns to Confirmed on
// its original range.
func (s *service) Withdraw(ctx context.Context, actor auth.Actor, rescheduleID string) (b *Booking, rr *RescheduleRequest, err error) {
	ctx, span := s.startSpan(ctx, "booking.Withdraw", attribute.String("reschedule.id", rescheduleID))
	defer func() { endSpan(span, err) }()

	err = s.inTx(ctx, "withdraw", func(tx Tx) error {
		var err error
		if b, rr, err = s.lockReschedule(ctx, tx, actor, rescheduleID); err != nil {
			return err
		}
		if actor.UserID != rr.ProposerID {
			return ErrNotProposer
		}
		if err := s.withdrawActive(ctx, tx, b, actor.UserID); err != nil {
			return err
		}
		rr.resolve(RescheduleWithdrawn, actor.UserID, s.now().UTC())

		b.Status = StatusConfirmed
		if err := tx.Update(ctx, b); err != nil {
			return err
		}
		e := s.event(notify.RescheduleWithdrawn, b, actor.UserID)
		e.RescheduleID = rr.ID
		return tx.AppendEvent(ctx, e)
	})
	if err != nil {
		s.log.Debug("reschedule withdrawal rejected",
			zap.String("reschedule_id", rescheduleID),
			zap.String("actor_id", actor.UserID),
			zap.Error(err),
		)
		return nil, nil, err
	}

	s.log.Info("reschedule withdrawn",
		zap.String("booking_id", b.ID),
		zap.String("reschedule_id", rr.ID),
		zap.String("actor_id", actor.UserID),
	)
	return b, rr, nil
}

// lockReschedule loads and locks a pending request with its booking and checks that the actor
// is one of the booking's parties.
func (s *service) lockReschedule(ctx context.Context, tx Tx, actor auth.Actor, id string) (*Booking, *RescheduleRequest, error) {
	rr, err := tx.GetRescheduleForUpdate(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	b, err := tx.GetForUpdate(ctx, rr.BookingID)
	if err != nil {
		return nil, nil, err
	}
	if b.PartyOf(actor.UserID) == PartyNone {
		return nil, nil, ErrForbidden
	}
	if rr.Status != ReschedulePending || b.ActiveRescheduleID != rr.ID {
		return nil, nil, ErrRescheduleResolved
	}
	return b, rr, nil
}

// withdrawActive marks b's outstanding request withdrawn and detaches it. The caller updates b.
func (s *service) withdrawActive(ctx context.Context, tx Tx, b *Booking, actorID string) error {
	rr, err := tx.GetRescheduleForUpdate(ctx, b.ActiveRescheduleID)
	if err != nil {
		return err
	}
	rr.resolve(RescheduleWithdrawn, actorID, s.now().UTC())
	if err := tx.UpdateReschedule(ctx, rr); err != nil {
		return err
	}
	b.ActiveRescheduleID = ""
	return nil
}

func (s *service) ListReschedules(ctx context.Context, actor auth.Actor, bookingID string) ([]*RescheduleRequest, error) {
	b, err := s.store.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := authorizeRead(actor, b); err != nil {
		return nil, err
	}
	return s.store.ListReschedules(ctx, bookingID)
}
