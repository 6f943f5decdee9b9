package booking

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/nekogravitycat/event-booking-backend/internal/availability"
	"github.com/nekogravitycat/event-booking-backend/internal/notify"
	"github.com/nekogravitycat/event-booking-backend/internal/timerange"
)

// memoryStore keeps records in process. A transaction locks the booking it works on and the
// resource whose reservations it touches, always in that order, and holds both until it ends;
// that is the same footprint as a row lock plus the advisory lock of the database store.
// Record writes are staged and applied on commit. Reservation changes are applied at once and
// undone on rollback, which is safe because the resource stays locked meanwhile and reads from
// outside a transaction wait for the same lock.
type memoryStore struct {
	mu          sync.RWMutex
	bookings    map[string]Booking
	reschedules map[string]RescheduleRequest

	index  *availability.MemoryIndex
	outbox *notify.MemoryOutbox
	locks  *keyedMutex
	now    func() time.Time

	lockTimeout time.Duration
}

// DefaultLockTimeout bounds how long the memory store waits for a booking or resource lock.
const DefaultLockTimeout = 5 * time.Second

type MemoryOption func(*memoryStore)

// WithLockTimeout sets the lock wait limit. A wait that runs out fails with ErrTransient.
// Zero or less waits for as long as the context allows.
func WithLockTimeout(d time.Duration) MemoryOption {
	return func(s *memoryStore) {
		s.lockTimeout = d
	}
}

func NewMemoryStore(outbox *notify.MemoryOutbox, opts ...MemoryOption) Store {
	s := &memoryStore{
		bookings:    make(map[string]Booking),
		reschedules: make(map[string]RescheduleRequest),
		index:       availability.NewMemoryIndex(),
		outbox:      outbox,
		locks:       newKeyedMutex(),
		now:         func() time.Time { return time.Now().UTC() },
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// acquire waits for key up to the lock timeout. Running out of time is reported as
// ErrTransient; cancellation of ctx itself is returned as is.
func (s *memoryStore) acquire(ctx context.Context, key string) error {
	if s.lockTimeout <= 0 {
		return s.locks.Lock(ctx, key)
	}
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	if err := s.locks.Lock(lockCtx, key); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("lock %s not acquired within %s: %w", key, s.lockTimeout, ErrTransient)
	}
	return nil
}

func (s *memoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		store:       s,
		held:        make(map[string]bool),
		bookings:    make(map[string]Booking),
		reschedules: make(map[string]RescheduleRequest),
	}
	defer tx.unlockAll()

	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	tx.commit()
	return nil
}

func (s *memoryStore) GetByID(ctx context.Context, id string) (*Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (s *memoryStore) List(ctx context.Context, filter Filter) ([]*Booking, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Booking
	for _, b := range s.bookings {
		if !filter.matches(&b) {
			continue
		}
		b := b
		matched = append(matched, &b)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = 20
	}
	total := len(matched)
	from := min((filter.Page-1)*filter.PageSize, total)
	to := min(from+filter.PageSize, total)
	return matched[from:to], total, nil
}

func (f Filter) matches(b *Booking) bool {
	switch {
	case f.ClientID != "" && b.ClientID != f.ClientID:
		return false
	case f.OwnerID != "" && b.OwnerID != f.OwnerID:
		return false
	case f.PartyID != "" && b.ClientID != f.PartyID && b.OwnerID != f.PartyID:
		return false
	case f.ResourceID != "" && b.ResourceID != f.ResourceID:
		return false
	case f.Status != "" && b.Status != f.Status:
		return false
	}
	return true
}

func (s *memoryStore) GetReschedule(ctx context.Context, id string) (*RescheduleRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reschedules[id]
	if !ok {
		return nil, ErrRescheduleNotFound
	}
	return &r, nil
}

func (s *memoryStore) ListReschedules(ctx context.Context, bookingID string) ([]*RescheduleRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*RescheduleRequest
	for _, r := range s.reschedules {
		if r.BookingID == bookingID {
			r := r
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memoryStore) Availability() availability.Index {
	return &memoryReadIndex{store: s}
}

type memoryTx struct {
	store *memoryStore
	order []string
	held  map[string]bool

	bookings    map[string]Booking
	reschedules map[string]RescheduleRequest
	events      []notify.Event
	undo        []func()
}

func (t *memoryTx) lock(ctx context.Context, key string) error {
	if t.held[key] {
		return nil
	}
	if err := t.store.acquire(ctx, key); err != nil {
		return err
	}
	t.held[key] = true
	t.order = append(t.order, key)
	return nil
}

func (t *memoryTx) unlockAll() {
	for _, key := range slices.Backward(t.order) {
		t.store.locks.Unlock(key)
	}
}

func (t *memoryTx) rollback() {
	for _, fn := range slices.Backward(t.undo) {
		fn()
	}
}

func (t *memoryTx) commit() {
	s := t.store
	s.mu.Lock()
	for id, b := range t.bookings {
		s.bookings[id] = b
	}
	for id, r := range t.reschedules {
		s.reschedules[id] = r
	}
	s.mu.Unlock()

	if len(t.events) > 0 {
		s.outbox.Append(t.events...)
	}
}

func (t *memoryTx) booking(id string) (Booking, bool) {
	if b, ok := t.bookings[id]; ok {
		return b, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	b, ok := t.store.bookings[id]
	return b, ok
}

func (t *memoryTx) reschedule(id string) (RescheduleRequest, bool) {
	if r, ok := t.reschedules[id]; ok {
		return r, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	r, ok := t.store.reschedules[id]
	return r, ok
}

func (t *memoryTx) GetForUpdate(ctx context.Context, id string) (*Booking, error) {
	if err := t.lock(ctx, "booking:"+id); err != nil {
		return nil, err
	}
	b, ok := t.booking(id)
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (t *memoryTx) Insert(ctx context.Context, b *Booking) error {
	if err := t.lock(ctx, "booking:"+b.ID); err != nil {
		return err
	}
	if _, ok := t.booking(b.ID); ok {
		return fmt.Errorf("booking %s already exists", b.ID)
	}

	now := t.store.now()
	b.Version = 1
	b.CreatedAt = now
	b.UpdatedAt = now
	t.bookings[b.ID] = detach(b)
	return nil
}

func (t *memoryTx) Update(ctx context.Context, b *Booking) error {
	if err := t.lock(ctx, "booking:"+b.ID); err != nil {
		return err
	}
	current, ok := t.booking(b.ID)
	if !ok {
		return ErrNotFound
	}
	if current.Version != b.Version {
		return fmt.Errorf("booking %s changed concurrently: %w", b.ID, ErrTransient)
	}

	b.Version++
	b.UpdatedAt = t.store.now()
	t.bookings[b.ID] = detach(b)
	return nil
}

func (t *memoryTx) GetRescheduleForUpdate(ctx context.Context, id string) (*RescheduleRequest, error) {
	r, ok := t.reschedule(id)
	if !ok {
		return nil, ErrRescheduleNotFound
	}
	if err := t.lock(ctx, "booking:"+r.BookingID); err != nil {
		return nil, err
	}
	// Re-read under the lock.
	r, _ = t.reschedule(id)
	return &r, nil
}

func (t *memoryTx) InsertReschedule(ctx context.Context, r *RescheduleRequest) error {
	if err := t.lock(ctx, "booking:"+r.BookingID); err != nil {
		return err
	}
	if t.hasPendingReschedule(r.BookingID, r.ID) {
		return ErrRescheduleActive
	}
	r.CreatedAt = t.store.now()
	t.reschedules[r.ID] = *r
	return nil
}

func (t *memoryTx) hasPendingReschedule(bookingID, exceptID string) bool {
	pending := func(r RescheduleRequest) bool {
		return r.BookingID == bookingID && r.ID != exceptID && r.Status == ReschedulePending
	}
	for _, r := range t.reschedules {
		if pending(r) {
			return true
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for id, r := range t.store.reschedules {
		if _, staged := t.reschedules[id]; !staged && pending(r) {
			return true
		}
	}
	return false
}

func (t *memoryTx) UpdateReschedule(ctx context.Context, r *RescheduleRequest) error {
	if err := t.lock(ctx, "booking:"+r.BookingID); err != nil {
		return err
	}
	if _, ok := t.reschedule(r.ID); !ok {
		return ErrRescheduleNotFound
	}
	t.reschedules[r.ID] = *r
	return nil
}

func (t *memoryTx) Availability() availability.Index {
	return &memoryTxIndex{tx: t, index: t.store.index}
}

func (t *memoryTx) AppendEvent(ctx context.Context, e notify.Event) error {
	t.events = append(t.events, e)
	return nil
}

// detach drops the read-only attachment before a record is stored.
func detach(b *Booking) Booking {
	cp := *b
	cp.ActiveReschedule = nil
	return cp
}

// memoryTxIndex takes the resource lock before touching the shared index and records an undo
// step for every change.
type memoryTxIndex struct {
	tx    *memoryTx
	index *availability.MemoryIndex
}

func (x *memoryTxIndex) lock(ctx context.Context, resourceID string) error {
	return x.tx.lock(ctx, "resource:"+resourceID)
}

func (x *memoryTxIndex) Reserve(ctx context.Context, resourceID string, r timerange.Range, bookingID string) error {
	if err := x.lock(ctx, resourceID); err != nil {
		return err
	}
	if err := x.index.Reserve(ctx, resourceID, r, bookingID); err != nil {
		return err
	}
	x.tx.undo = append(x.tx.undo, func() {
		_ = x.index.Release(context.Background(), resourceID, bookingID)
	})
	return nil
}

func (x *memoryTxIndex) Release(ctx context.Context, resourceID, bookingID string) error {
	if err := x.lock(ctx, resourceID); err != nil {
		return err
	}
	prev, held, err := x.index.Lookup(ctx, resourceID, bookingID)
	if err != nil {
		return err
	}
	if err := x.index.Release(ctx, resourceID, bookingID); err != nil {
		return err
	}
	if held {
		x.tx.undo = append(x.tx.undo, func() {
			_ = x.index.Reserve(context.Background(), resourceID, prev.Range, bookingID)
		})
	}
	return nil
}

func (x *memoryTxIndex) Replace(ctx context.Context, resourceID, bookingID string, r timerange.Range) error {
	if err := x.lock(ctx, resourceID); err != nil {
		return err
	}
	prev, held, err := x.index.Lookup(ctx, resourceID, bookingID)
	if err != nil {
		return err
	}
	if err := x.index.Replace(ctx, resourceID, bookingID, r); err != nil {
		return err
	}
	x.tx.undo = append(x.tx.undo, func() {
		if held {
			_ = x.index.Replace(context.Background(), resourceID, bookingID, prev.Range)
			return
		}
		_ = x.index.Release(context.Background(), resourceID, bookingID)
	})
	return nil
}

func (x *memoryTxIndex) Lookup(ctx context.Context, resourceID, bookingID string) (availability.Reservation, bool, error) {
	if err := x.lock(ctx, resourceID); err != nil {
		return availability.Reservation{}, false, err
	}
	return x.index.Lookup(ctx, resourceID, bookingID)
}

func (x *memoryTxIndex) Overlapping(ctx context.Context, resourceID string, r timerange.Range, excludeBookingID string) ([]availability.Reservation, error) {
	if err := x.lock(ctx, resourceID); err != nil {
		return nil, err
	}
	return x.index.Overlapping(ctx, resourceID, r, excludeBookingID)
}

// memoryReadIndex is the index outside any transaction. Every call waits for the resource
// lock, so reservations staged by a transaction still in flight are never visible.
type memoryReadIndex struct {
	store *memoryStore
}

func (v *memoryReadIndex) locked(ctx context.Context, resourceID string, fn func() error) error {
	key := "resource:" + resourceID
	if err := v.store.acquire(ctx, key); err != nil {
		return err
	}
	defer v.store.locks.Unlock(key)
	return fn()
}

func (v *memoryReadIndex) Reserve(ctx context.Context, resourceID string, r timerange.Range, bookingID string) error {
	return v.locked(ctx, resourceID, func() error {
		return v.store.index.Reserve(ctx, resourceID, r, bookingID)
	})
}

func (v *memoryReadIndex) Release(ctx context.Context, resourceID, bookingID string) error {
	return v.locked(ctx, resourceID, func() error {
		return v.store.index.Release(ctx, resourceID, bookingID)
	})
}

func (v *memoryReadIndex) Replace(ctx context.Context, resourceID, bookingID string, r timerange.Range) error {
	return v.locked(ctx, resourceID, func() error {
		return v.store.index.Replace(ctx, resourceID, bookingID, r)
	})
}

func (v *memoryReadIndex) Lookup(ctx context.Context, resourceID, bookingID string) (res availability.Reservation, held bool, err error) {
	err = v.locked(ctx, resourceID, func() error {
		res, held, err = v.store.index.Lookup(ctx, resourceID, bookingID)
		return err
	})
	return res, held, err
}

func (v *memoryReadIndex) Overlapping(ctx context.Context, resourceID string, r timerange.Range, excludeBookingID string) (out []availability.Reservation, err error) {
	err = v.locked(ctx, resourceID, func() error {
		out, err = v.store.index.Overlapping(ctx, resourceID, r, excludeBookingID)
		return err
	})
	return out, err
}
