// Package conflict is the policy layer between booking requests and the availability index.
// It turns requested instants into normalized half-open ranges, applies the per-kind
// scheduling policy and then asks the index to accept or reject the range.
package conflict

import (
	"context"
	"errors"
	"time"

	"github.com/nekogravitycat/event-booking-backend/internal/availability"
	"github.com/nekogravitycat/event-booking-backend/internal/pkg/apperror"
	"github.com/nekogravitycat/event-booking-backend/internal/resource"
	"github.com/nekogravitycat/event-booking-backend/internal/timerange"
)

var (
	ErrInvalidRange  = apperror.New(apperror.KindValidation, "end time must be after start time")
	ErrEndRequired   = apperror.New(apperror.KindValidation, "end time is required for this resource")
	ErrStartInPast   = apperror.New(apperror.KindValidation, "start time is in the past")
	ErrLeadTime      = apperror.New(apperror.KindValidation, "start time does not respect the minimum lead time")
	ErrNotFutureDate = apperror.New(apperror.KindValidation, "venue bookings must start on a future date")
	ErrSpanTooLong   = apperror.New(apperror.KindValidation, "requested range exceeds the maximum span")
	ErrUnknownKind   = apperror.New(apperror.KindValidation, "unknown resource kind")
)

// Policy is the scheduling policy of one resource kind.
type Policy struct {
	// MinLeadTime is how far in the future a start must be. Zero means "not in the past".
	MinLeadTime time.Duration
	// RequireNextDay demands that the start falls on a calendar day (UTC) after today.
	RequireNextDay bool
	// MaxSpan caps the length of a range. Zero means unlimited.
	MaxSpan time.Duration
	// DefaultDuration is the implicit length used when only a start is given.
	// Zero means an end is mandatory.
	DefaultDuration time.Duration
}

type Config struct {
	Supplier Policy
	Venue    Policy
}

// DefaultConfig: venues book whole future days and may span several of them; suppliers book a
// start instant with an implicit four hour duration and no lead time.
func DefaultConfig() Config {
	return Config{
		Supplier: Policy{DefaultDuration: 4 * time.Hour},
		Venue:    Policy{RequireNextDay: true},
	}
}

type Detector struct {
	policies map[resource.Kind]Policy
	now      func() time.Time
}

type Option func(*Detector)

// WithClock overrides the detector's notion of "now".
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		d.now = now
	}
}

func New(cfg Config, opts ...Option) *Detector {
	d := &Detector{
		policies: map[resource.Kind]Policy{
			resource.KindSupplier: cfg.Supplier,
			resource.KindVenue:    cfg.Venue,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Request is a candidate range as it arrives at the boundary.
type Request struct {
	Kind  resource.Kind
	Start time.Time
	End   *time.Time
	// DefaultDuration overrides the policy default for resources that define their own.
	DefaultDuration time.Duration
}

// Normalize translates a request into a validated half-open range.
func (d *Detector) Normalize(req Request) (timerange.Range, error) {
	p, ok := d.policies[req.Kind]
	if !ok {
		return timerange.Range{}, ErrUnknownKind
	}

	var end time.Time
	switch {
	case req.End != nil:
		end = *req.End
	case req.DefaultDuration > 0:
		end = req.Start.Add(req.DefaultDuration)
	case p.DefaultDuration > 0:
		end = req.Start.Add(p.DefaultDuration)
	default:
		return timerange.Range{}, ErrEndRequired
	}

	r, err := timerange.New(req.Start, end)
	if err != nil {
		return timerange.Range{}, ErrInvalidRange
	}
	if err := d.validate(p, r); err != nil {
		return timerange.Range{}, err
	}
	return r, nil
}

// Validate applies the kind's policy to an already normalized range.
func (d *Detector) Validate(kind resource.Kind, r timerange.Range) error {
	p, ok := d.policies[kind]
	if !ok {
		return ErrUnknownKind
	}
	if !r.End.After(r.Start) {
		return ErrInvalidRange
	}
	return d.validate(p, r)
}

func (d *Detector) validate(p Policy, r timerange.Range) error {
	now := d.now().UTC()

	if r.Start.Before(now.Add(p.MinLeadTime)) {
		if p.MinLeadTime > 0 {
			return ErrLeadTime
		}
		return ErrStartInPast
	}
	if p.RequireNextDay {
		tomorrow := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
		if r.Start.Before(tomorrow) {
			return ErrNotFutureDate
		}
	}
	if p.MaxSpan > 0 && r.Duration() > p.MaxSpan {
		return ErrSpanTooLong
	}
	return nil
}

// Admit validates r and reserves it for bookingID in one atomic index operation.
func (d *Detector) Admit(ctx context.Context, idx availability.Index, kind resource.Kind, resourceID, bookingID string, r timerange.Range) error {
	if err := d.Validate(kind, r); err != nil {
		return err
	}
	return idx.Reserve(ctx, resourceID, r, bookingID)
}

// Check validates r and probes the index without reserving anything. Ranges held by
// excludeBookingID are ignored, so a booking may overlap its own current slot.
func (d *Detector) Check(ctx context.Context, idx availability.Index, kind resource.Kind, resourceID string, r timerange.Range, excludeBookingID string) error {
	if err := d.Validate(kind, r); err != nil {
		return err
	}
	hits, err := idx.Overlapping(ctx, resourceID, r, excludeBookingID)
	if err != nil {
		return err
	}
	if len(hits) > 0 {
		return &availability.ConflictError{ResourceID: resourceID, Requested: r, Conflicts: hits}
	}
	return nil
}

// Readmit re-validates r against the current clock and moves bookingID's reservation onto it.
// On failure the existing reservation is left in place.
func (d *Detector) Readmit(ctx context.Context, idx availability.Index, kind resource.Kind, resourceID, bookingID string, r timerange.Range) error {
	if err := d.Validate(kind, r); err != nil {
		return err
	}
	return idx.Replace(ctx, resourceID, bookingID, r)
}

// IsConflict reports whether err is a schedule conflict raised by the index.
func IsConflict(err error) bool {
	return errors.Is(err, availability.ErrConflict)
}
