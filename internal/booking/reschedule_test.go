package booking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nekogravitycat/event-booking-backend/internal/notify"
	"github.com/nekogravitycat/event-booking-backend/internal/pkg/apperror"
	"github.com/nekogravitycat/event-booking-backend/internal/timerange"
)

func ptrTime(t time.Time) *time.Time { return &t }

func (f *fixture) reservation(t *testing.T, bookingID string) (timerange.Range, bool) {
	t.Helper()
	res, ok, err := f.store.Availability().Lookup(context.Background(), f.venue.ID, bookingID)
	require.NoError(t, err)
	return res.Range, ok
}

func TestReschedule_ProposeThenReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.confirmed(t, f.client, at(7, 14), at(7, 16))

	b, rr, err := f.svc.Propose(ctx, f.client, d.ID, ProposeRequest{Start: at(7, 18), End: ptrTime(at(7, 20))})
	require.NoError(t, err)
	assert.Equal(t, ReschedulePending, rr.Status)
	assert.True(t, rr.Original.Equal(hours(t, 7, 14, 16)))
	assert.Equal(t, StatusPending, b.Status)
	assert.Equal(t, StatusConfirmed, b.EffectiveStatus())
	assert.True(t, b.HasPendingReschedule())

	// The original slot stays reserved while the proposal is open.
	held, ok := f.reservation(t, d.ID)
	require.True(t, ok)
	assert.True(t, held.Equal(hours(t, 7, 14, 16)))

	got, err := f.svc.GetByID(ctx, f.venueOwner, d.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ActiveReschedule)
	assert.Equal(t, rr.ID, got.ActiveReschedule.ID)

	b, rr, err = f.svc.Resolve(ctx, f.venueOwner, rr.ID, DecisionReject)
	require.NoError(t, err)
	assert.Equal(t, RescheduleRejected, rr.Status)
	assert.Equal(t, f.venueOwner.UserID, rr.ResolvedBy)
	require.NotNil(t, rr.ResolvedAt)
	assert.Equal(t, StatusConfirmed, b.Status)
	assert.True(t, b.Range.Equal(d.Range), "range restored exactly")
	assert.False(t, b.HasPendingReschedule())

	held, ok = f.reservation(t, d.ID)
	require.True(t, ok)
	assert.True(t, held.Equal(d.Range))

	history, err := f.svc.ListReschedules(ctx, f.client, d.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, RescheduleRejected, history[0].Status)
}

func TestReschedule_ProposeThenApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.confirmed(t, f.client, at(7, 14), at(7, 16))

	// The owner proposes, so the client approves.
	_, rr, err := f.svc.Propose(ctx, f.venueOwner, d.ID, ProposeRequest{Start: at(7, 15), End: ptrTime(at(7, 17))})
	require.NoError(t, err, "overlapping the booking's own range is allowed")

	b, rr, err := f.svc.Resolve(ctx, f.client, rr.ID, DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, RescheduleApproved, rr.Status)
	assert.Equal(t, StatusConfirmed, b.Status)
	assert.True(t, b.Range.Equal(hours(t, 7, 15, 17)))

	held, ok := f.reservation(t, d.ID)
	require.True(t, ok)
	assert.True(t, held.Equal(hours(t, 7, 15, 17)))

	// The freed part of the original range is bookable again.
	f.book(t, f.client2, at(7, 14), at(7, 15))
	occupied, err := f.svc.Occupancy(ctx, f.venue.ID, hours(t, 7, 0, 23))
	require.NoError(t, err)
	for _, r := range occupied {
		assert.False(t, r.Equal(hours(t, 7, 14, 16)), "original range must be gone")
	}

	var types []notify.EventType
	for _, e := range f.outbox.Pending() {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, notify.RescheduleProposed)
	assert.Contains(t, types, notify.RescheduleApproved)
}

func TestReschedule_LateConflictOnApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.confirmed(t, f.client, at(8, 10), at(8, 12))

	_, rr, err := f.svc.Propose(ctx, f.client, d.ID, ProposeRequest{Start: at(8, 14), End: ptrTime(at(8, 16))})
	require.NoError(t, err)

	// E claims part of the requested range after the proposal.
	e := f.book(t, f.client2, at(8, 15), at(8, 17))

	_, _, err = f.svc.Resolve(ctx, f.venueOwner, rr.ID, DecisionApprove)
	requireKind(t, err, apperror.KindScheduleConflict)
	details := conflictDetails(t, err)
	require.Len(t, details.Conflicts, 1)
	assert.True(t, details.Conflicts[0].Equal(hours(t, 8, 15, 17)))

	got, err := f.svc.GetByID(ctx, f.client, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.EffectiveStatus())
	assert.True(t, got.Range.Equal(hours(t, 8, 10, 12)))
	require.NotNil(t, got.ActiveReschedule)
	assert.Equal(t, ReschedulePending, got.ActiveReschedule.Status, "request stays pending for a retry")

	held, ok := f.reservation(t, d.ID)
	require.True(t, ok)
	assert.True(t, held.Equal(hours(t, 8, 10, 12)))

	gotE, err := f.svc.GetByID(ctx, f.client2, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, gotE.Status)
	held, ok = f.reservation(t, e.ID)
	require.True(t, ok)
	assert.True(t, held.Equal(hours(t, 8, 15, 17)))

	// The proposer withdraws and the booking is confirmed again on its original range.
	b, rr, err := f.svc.Withdraw(ctx, f.client, rr.ID)
	require.NoError(t, err)
	assert.Equal(t, RescheduleWithdrawn, rr.Status)
	assert.Equal(t, StatusConfirmed, b.Status)
	assert.True(t, b.Range.Equal(hours(t, 8, 10, 12)))
}

func TestReschedule_Guards(t *testing.T) {
	ctx := context.Background()

	t.Run("only confirmed bookings", func(t *testing.T) {
		f := newFixture(t)
		b := f.book(t, f.client, at(9, 10), at(9, 12))
		_, _, err := f.svc.Propose(ctx, f.client, b.ID, ProposeRequest{Start: at(9, 13)})
		assert.ErrorIs(t, err, ErrNotConfirmed)
	})

	t.Run("terminal bookings", func(t *testing.T) {
		f := newFixture(t)
		b := f.confirmed(t, f.client, at(9, 10), at(9, 12))
		_, err := f.svc.ChangeStatus(ctx, f.venueOwner, b.ID, StatusCompleted)
		require.NoError(t, err)
		_, _, err = f.svc.Propose(ctx, f.client, b.ID, ProposeRequest{Start: at(9, 13)})
		assert.ErrorIs(t, err, ErrTerminal)
	})

	t.Run("one active reschedule at a time", func(t *testing.T) {
		f := newFixture(t)
		b := f.confirmed(t, f.client, at(9, 10), at(9, 12))
		_, _, err := f.svc.Propose(ctx, f.client, b.ID, ProposeRequest{Start: at(9, 13)})
		require.NoError(t, err)
		_, _, err = f.svc.Propose(ctx, f.venueOwner, b.ID, ProposeRequest{Start: at(9, 15)})
		assert.ErrorIs(t, err, ErrRescheduleActive)
	})

	t.Run("implicit end keeps the duration", func(t *testing.T) {
		f := newFixture(t)
		b := f.confirmed(t, f.client, at(9, 10), at(9, 12))
		_, rr, err := f.svc.Propose(ctx, f.client, b.ID, ProposeRequest{Start: at(9, 13)})
		require.NoError(t, err)
		assert.True(t, rr.Requested.Equal(hours(t, 9, 13, 15)))
	})

	t.Run("same range", func(t *testing.T) {
		f := newFixture(t)
		b := f.confirmed(t, f.client, at(9, 10), at(9, 12))
		_, _, err := f.svc.Propose(ctx, f.client, b.ID, ProposeRequest{Start: at(9, 10), End: ptrTime(at(9, 12))})
		assert.ErrorIs(t, err, ErrSameRange)
	})

	t.Run("conflict at proposal", func(t *testing.T) {
		f := newFixture(t)
		b := f.confirmed(t, f.client, at(9, 10), at(9, 12))
		f.book(t, f.client2, at(9, 13), at(9, 14))
		_, _, err := f.svc.Propose(ctx, f.client, b.ID, ProposeRequest{Start: at(9, 12), End: ptrTime(at(9, 15))})
		requireKind(t, err, apperror.KindScheduleConflict)

		got, err := f.svc.GetByID(ctx, f.client, b.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, got.Status)
		assert.False(t, got.HasPendingReschedule())
	})

	t.Run("past range", func(t *testing.T) {
		f := newFixture(t)
		b := f.confirmed(t, f.client, at(9, 10), at(9, 12))
		_, _, err := f.svc.Propose(ctx, f.client, b.ID, ProposeRequest{Start: testNow.Add(-time.Hour)})
		requireKind(t, err, apperror.KindValidation)
	})

	t.Run("strangers", func(t *testing.T) {
		f := newFixture(t)
		b := f.confirmed(t, f.client, at(9, 10), at(9, 12))
		_, _, err := f.svc.Propose(ctx, f.stranger, b.ID, ProposeRequest{Start: at(9, 13)})
		assert.ErrorIs(t, err, ErrForbidden)

		_, rr, err := f.svc.Propose(ctx, f.client, b.ID, ProposeRequest{Start: at(9, 13)})
		require.NoError(t, err)
		_, _, err = f.svc.Resolve(ctx, f.stranger, rr.ID, DecisionApprove)
		assert.ErrorIs(t, err, ErrForbidden)
		_, err = f.svc.ListReschedules(ctx, f.stranger, b.ID)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("proposer cannot resolve", func(t *testing.T) {
		f := newFixture(t)
		b := f.confirmed(t, f.client, at(9, 10), at(9, 12))
		_, rr, err := f.svc.Propose(ctx, f.client, b.ID, ProposeRequest{Start: at(9, 13)})
		require.NoError(t, err)
		_, _, err = f.svc.Resolve(ctx, f.client, rr.ID, DecisionApprove)
		assert.ErrorIs(t, err, ErrNotCounterParty)
	})

	t.Run("counter-party cannot withdraw", func(t *testing.T) {
		f := newFixture(t)
		b := f.confirmed(t, f.client, at(9, 10), at(9, 12))
		_, rr, err := f.svc.Propose(ctx, f.client, b.ID, ProposeRequest{Start: at(9, 13)})
		require.NoError(t, err)
		_, _, err = f.svc.Withdraw(ctx, f.venueOwner, rr.ID)
		assert.ErrorIs(t, err, ErrNotProposer)
	})

	t.Run("resolved requests are final", func(t *testing.T) {
		f := newFixture(t)
		b := f.confirmed(t, f.client, at(9, 10), at(9, 12))
		_, rr, err := f.svc.Propose(ctx, f.client, b.ID, ProposeRequest{Start: at(9, 13)})
		require.NoError(t, err)
		_, _, err = f.svc.Resolve(ctx, f.venueOwner, rr.ID, DecisionReject)
		require.NoError(t, err)

		_, _, err = f.svc.Resolve(ctx, f.venueOwner, rr.ID, DecisionApprove)
		assert.ErrorIs(t, err, ErrRescheduleResolved)
		_, _, err = f.svc.Withdraw(ctx, f.client, rr.ID)
		assert.ErrorIs(t, err, ErrRescheduleResolved)
	})

	t.Run("invalid decision", func(t *testing.T) {
		f := newFixture(t)
		_, _, err := f.svc.Resolve(ctx, f.venueOwner, "whatever", Decision("maybe"))
		assert.ErrorIs(t, err, ErrInvalidDecision)
	})

	t.Run("unknown request", func(t *testing.T) {
		f := newFixture(t)
		_, _, err := f.svc.Resolve(ctx, f.venueOwner, "missing", DecisionApprove)
		assert.ErrorIs(t, err, ErrRescheduleNotFound)
	})
}

func TestReschedule_InteractionWithStatusChanges(t *testing.T) {
	ctx := context.Background()

	t.Run("owner cannot accept or reject during negotiation", func(t *testing.T) {
		f := newFixture(t)
		b := f.confirmed(t, f.client, at(10, 10), at(10, 12))
		_, _, err := f.svc.Propose(ctx, f.client, b.ID, ProposeRequest{Start: at(10, 13)})
		require.NoError(t, err)

		_, err = f.svc.ChangeStatus(ctx, f.venueOwner, b.ID, StatusConfirmed)
		assert.ErrorIs(t, err, ErrRescheduleActive)
		_, err = f.svc.ChangeStatus(ctx, f.venueOwner, b.ID, StatusRejected)
		assert.ErrorIs(t, err, ErrRescheduleActive)
		_, err = f.svc.ChangeStatus(ctx, f.venueOwner, b.ID, StatusCompleted)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("cancel withdraws the outstanding request", func(t *testing.T) {
		f := newFixture(t)
		b := f.confirmed(t, f.client, at(10, 10), at(10, 12))
		_, rr, err := f.svc.Propose(ctx, f.venueOwner, b.ID, ProposeRequest{Start: at(10, 13)})
		require.NoError(t, err)

		got, err := f.svc.ChangeStatus(ctx, f.client, b.ID, StatusCancelled)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
		assert.False(t, got.HasPendingReschedule())

		history, err := f.svc.ListReschedules(ctx, f.client, b.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, rr.ID, history[0].ID)
		assert.Equal(t, RescheduleWithdrawn, history[0].Status)

		_, ok := f.reservation(t, b.ID)
		assert.False(t, ok)
	})
}
