package availability

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/nekogravitycat/event-booking-backend/internal/timerange"
)

// MemoryIndex is an in-process Index. Each resource has its own lock; no operation ever holds
// two resource locks at once.
type MemoryIndex struct {
	mu        sync.Mutex
	resources map[string]*slots
}

// slots holds one resource's reservations sorted by start. Entries never overlap, so their
// ends are sorted as well, which is what makes binary search valid for overlap queries.
type slots struct {
	mu        sync.Mutex
	entries   []Reservation
	byBooking map[string]timerange.Range
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{resources: make(map[string]*slots)}
}

func (m *MemoryIndex) slotsFor(resourceID string) *slots {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.resources[resourceID]
	if !ok {
		s = &slots{byBooking: make(map[string]timerange.Range)}
		m.resources[resourceID] = s
	}
	return s
}

func (m *MemoryIndex) Reserve(ctx context.Context, resourceID string, r timerange.Range, bookingID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := m.slotsFor(resourceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byBooking[bookingID]; ok {
		return ErrAlreadyReserved
	}
	if hits := s.overlapping(r, ""); len(hits) > 0 {
		return &ConflictError{ResourceID: resourceID, Requested: r, Conflicts: hits}
	}
	s.insert(Reservation{ResourceID: resourceID, BookingID: bookingID, Range: r})
	return nil
}

func (m *MemoryIndex) Release(ctx context.Context, resourceID, bookingID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := m.slotsFor(resourceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.remove(bookingID)
	return nil
}

func (m *MemoryIndex) Replace(ctx context.Context, resourceID, bookingID string, r timerange.Range) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := m.slotsFor(resourceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if hits := s.overlapping(r, bookingID); len(hits) > 0 {
		return &ConflictError{ResourceID: resourceID, Requested: r, Conflicts: hits}
	}
	s.remove(bookingID)
	s.insert(Reservation{ResourceID: resourceID, BookingID: bookingID, Range: r})
	return nil
}

func (m *MemoryIndex) Lookup(ctx context.Context, resourceID, bookingID string) (Reservation, bool, error) {
	if err := ctx.Err(); err != nil {
		return Reservation{}, false, err
	}
	s := m.slotsFor(resourceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byBooking[bookingID]
	if !ok {
		return Reservation{}, false, nil
	}
	return Reservation{ResourceID: resourceID, BookingID: bookingID, Range: r}, true, nil
}

func (m *MemoryIndex) Overlapping(ctx context.Context, resourceID string, r timerange.Range, excludeBookingID string) ([]Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := m.slotsFor(resourceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.overlapping(r, excludeBookingID), nil
}

// Reservations returns a copy of every reservation held on the resource, ordered by start.
func (m *MemoryIndex) Reservations(resourceID string) []Reservation {
	s := m.slotsFor(resourceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.entries)
}

// overlapping finds the first entry ending after r.Start in O(log n), then walks forward
// while entries still start before r.End.
func (s *slots) overlapping(r timerange.Range, exclude string) []Reservation {
	i := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].Range.End.After(r.Start)
	})

	var hits []Reservation
	for ; i < len(s.entries) && s.entries[i].Range.Start.Before(r.End); i++ {
		if s.entries[i].BookingID == exclude {
			continue
		}
		hits = append(hits, s.entries[i])
	}
	return hits
}

func (s *slots) insert(res Reservation) {
	i := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].Range.Start.After(res.Range.Start)
	})
	s.entries = slices.Insert(s.entries, i, res)
	s.byBooking[res.BookingID] = res.Range
}

func (s *slots) remove(bookingID string) {
	r, ok := s.byBooking[bookingID]
	if !ok {
		return
	}
	i := sort.Search(len(s.entries), func(i int) bool {
		return !s.entries[i].Range.Start.Before(r.Start)
	})
	for ; i < len(s.entries); i++ {
		if s.entries[i].BookingID == bookingID {
			s.entries = slices.Delete(s.entries, i, i+1)
			break
		}
	}
	delete(s.byBooking, bookingID)
}
