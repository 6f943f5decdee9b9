package booking

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nekogravitycat/event-booking-backend/internal/auth"
)

// randomOps drives the service with a random mix of creates, status changes and reschedules.
func randomOps(f *fixture, r *rand.Rand, ops int, clients []auth.Actor) {
	ctx := context.Background()
	base := at(12, 0)
	var ids []string
	var reschedules []string

	randomStart := func() time.Time {
		return base.Add(time.Duration(r.Intn(48)) * time.Hour)
	}

	for i := 0; i < ops; i++ {
		client := clients[r.Intn(len(clients))]
		switch r.Intn(6) {
		case 0, 1:
			start := randomStart()
			end := start.Add(time.Duration(1+r.Intn(5)) * time.Hour)
			b, err := f.svc.Create(ctx, client, CreateRequest{ResourceID: f.venue.ID, Start: start, End: &end})
			if err == nil {
				ids = append(ids, b.ID)
			}
		case 2:
			if len(ids) > 0 {
				targets := []Status{StatusConfirmed, StatusRejected, StatusCompleted}
				_, _ = f.svc.ChangeStatus(ctx, f.venueOwner, ids[r.Intn(len(ids))], targets[r.Intn(len(targets))])
			}
		case 3:
			if len(ids) > 0 {
				id := ids[r.Intn(len(ids))]
				b, err := f.svc.GetByID(ctx, f.admin, id)
				if err == nil {
					_, _ = f.svc.ChangeStatus(ctx, auth.Actor{UserID: b.ClientID, Role: auth.RoleClient}, id, StatusCancelled)
				}
			}
		case 4:
			if len(ids) > 0 {
				_, rr, err := f.svc.Propose(ctx, f.venueOwner, ids[r.Intn(len(ids))], ProposeRequest{Start: randomStart()})
				if err == nil {
					reschedules = append(reschedules, rr.ID)
				}
			}
		case 5:
			if len(reschedules) > 0 {
				id := reschedules[r.Intn(len(reschedules))]
				rr, err := f.store.GetReschedule(ctx, id)
				if err != nil {
					continue
				}
				b, err := f.store.GetByID(ctx, rr.BookingID)
				if err != nil {
					continue
				}
				decision := DecisionApprove
				if r.Intn(3) == 0 {
					decision = DecisionReject
				}
				_, _, _ = f.svc.Resolve(ctx, auth.Actor{UserID: b.ClientID, Role: auth.RoleClient}, id, decision)
			}
		}
	}
}

// checkInvariants asserts that occupying bookings never overlap and that the index holds exactly
// their ranges.
func checkInvariants(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()

	all, _, err := f.svc.List(ctx, f.admin, Filter{PageSize: 10000})
	require.NoError(t, err)

	var occupying []*Booking
	for _, b := range all {
		res, held, err := f.store.Availability().Lookup(ctx, b.ResourceID, b.ID)
		require.NoError(t, err)
		if b.Status.Occupying() || b.Status == StatusCompleted {
			require.True(t, held, "booking %s (%s) lost its reservation", b.ID, b.Status)
			require.True(t, res.Range.Equal(b.Range), "booking %s: index %s, record %s", b.ID, res.Range, b.Range)
		} else {
			require.False(t, held, "booking %s (%s) still holds a reservation", b.ID, b.Status)
		}
		if b.Status.Occupying() {
			occupying = append(occupying, b)
		}
		if b.HasPendingReschedule() {
			require.Equal(t, StatusPending, b.Status)
		}
	}

	for i := range occupying {
		for j := i + 1; j < len(occupying); j++ {
			require.False(t, occupying[i].Range.Overlaps(occupying[j].Range),
				"%s %s overlaps %s %s", occupying[i].ID, occupying[i].Range, occupying[j].ID, occupying[j].Range)
		}
	}
}

func TestProperty_NoOverlapSequential(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			f := newFixture(t)
			randomOps(f, rand.New(rand.NewSource(seed)), 150, []auth.Actor{f.client, f.client2, f.stranger})
			checkInvariants(t, f)
		})
	}
}

func TestProperty_NoOverlapConcurrent(t *testing.T) {
	f := newFixture(t)
	clients := []auth.Actor{f.client, f.client2, f.stranger}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			randomOps(f, rand.New(rand.NewSource(seed)), 100, clients)
		}(int64(w + 100))
	}
	wg.Wait()

	checkInvariants(t, f)
}
