package booking

import (
	"errors"
	"time"

	"github.com/nekogravitycat/event-booking-backend/internal/pkg/apperror"
	"github.com/nekogravitycat/event-booking-backend/internal/resource"
	"github.com/nekogravitycat/event-booking-backend/internal/timerange"
)

var (
	ErrNotFound           = apperror.New(apperror.KindNotFound, "booking not found")
	ErrRescheduleNotFound = apperror.New(apperror.KindNotFound, "reschedule request not found")
	ErrResourceNotFound   = apperror.New(apperror.KindNotFound, "resource not found")
	ErrForbidden          = apperror.New(apperror.KindForbidden, "permission denied")
	ErrSelfBooking        = apperror.New(apperror.KindForbidden, "owners cannot book their own resource")
	ErrNotCounterParty    = apperror.New(apperror.KindForbidden, "only the counter-party can resolve a reschedule request")
	ErrNotProposer        = apperror.New(apperror.KindForbidden, "only the proposer can withdraw a reschedule request")
	ErrInvalidTransition  = apperror.New(apperror.KindInvalidTransition, "transition not allowed from current status")
	ErrTerminal           = apperror.New(apperror.KindInvalidTransition, "booking is in a terminal status")
	ErrReservationMissing = apperror.New(apperror.KindInvalidTransition, "booking does not hold its reservation")
	ErrRescheduleActive   = apperror.New(apperror.KindInvalidTransition, "booking has an outstanding reschedule request")
	ErrNotConfirmed       = apperror.New(apperror.KindInvalidTransition, "only confirmed bookings can be rescheduled")
	ErrRescheduleResolved = apperror.New(apperror.KindInvalidTransition, "reschedule request is already resolved")
	ErrScheduleConflict   = apperror.New(apperror.KindScheduleConflict, "requested time range overlaps an existing booking")
	ErrInvalidStatus      = apperror.New(apperror.KindValidation, "invalid target status")
	ErrInvalidDecision    = apperror.New(apperror.KindValidation, "decision must be approve or reject")
	ErrKindMismatch       = apperror.New(apperror.KindValidation, "resource kind does not match the resource")
	ErrSameRange          = apperror.New(apperror.KindValidation, "requested range equals the current range")
	ErrInvalidMetadata    = apperror.New(apperror.KindValidation, "guest count must not be negative")
	ErrInvalidWindow      = apperror.New(apperror.KindValidation, "window must end after it starts and span at most 366 days")
	ErrUnauthenticated    = apperror.New(apperror.KindUnauthorized, "authentication required")
	ErrUnavailable        = apperror.New(apperror.KindUnavailable, "booking store is temporarily unavailable, retry later")
)

// ErrTransient marks storage failures worth retrying: lock timeouts, deadlock victims,
// serialization failures and stale version checks.
var ErrTransient = errors.New("transient storage failure")

// Status is the closed set of booking states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Occupying reports whether a booking in this status holds its range in the availability index.
func (s Status) Occupying() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCancelled || s == StatusCompleted
}

func (s Status) Valid() bool {
	return s.Occupying() || s.Terminal()
}

// Action is a status-changing event raised by one of the booking's parties.
type Action string

const (
	ActionAccept   Action = "accept"
	ActionReject   Action = "reject"
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
)

// Party is the role a user plays in one particular booking.
type Party int

const (
	PartyNone Party = iota
	PartyClient
	PartyOwner
)

func (p Party) String() string {
	switch p {
	case PartyClient:
		return "client"
	case PartyOwner:
		return "owner"
	default:
		return "none"
	}
}

// transitions is the lifecycle state machine. Missing entries are invalid transitions.
var transitions = map[Status]map[Action]Status{
	StatusPending: {
		ActionAccept: StatusConfirmed,
		ActionReject: StatusRejected,
		ActionCancel: StatusCancelled,
	},
	StatusConfirmed: {
		ActionCancel:   StatusCancelled,
		ActionComplete: StatusCompleted,
	},
}

// actors names the only party allowed to raise each action.
var actors = map[Action]Party{
	ActionAccept:   PartyOwner,
	ActionReject:   PartyOwner,
	ActionCancel:   PartyClient,
	ActionComplete: PartyOwner,
}

// actionFor maps the target status of a change-status request onto its action.
var actionFor = map[Status]Action{
	StatusConfirmed: ActionAccept,
	StatusRejected:  ActionReject,
	StatusCancelled: ActionCancel,
	StatusCompleted: ActionComplete,
}

// Next returns the status reached by applying a to from.
func Next(from Status, a Action) (Status, error) {
	if from.Terminal() {
		return "", ErrTerminal
	}
	to, ok := transitions[from][a]
	if !ok {
		return "", ErrInvalidTransition
	}
	return to, nil
}

// Metadata is the fixed schema of client supplied booking details.
type Metadata struct {
	EventName  string `json:"event_name,omitempty"`
	GuestCount int    `json:"guest_count,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

func (m Metadata) Validate() error {
	if m.GuestCount < 0 {
		return ErrInvalidMetadata
	}
	return nil
}

type Booking struct {
	ID           string
	ResourceID   string
	ResourceKind resource.Kind
	// OwnerID is the resource owner at creation time; owner actions are authorized against it.
	OwnerID  string
	ClientID string
	Range    timerange.Range
	Status   Status
	Metadata Metadata
	// ActiveRescheduleID is empty unless a reschedule request is outstanding.
	ActiveRescheduleID string
	// ActiveReschedule is attached on reads only.
	ActiveReschedule *RescheduleRequest
	Version          int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PartyOf returns the role userID plays in the booking.
func (b *Booking) PartyOf(userID string) Party {
	switch {
	case userID == "":
		return PartyNone
	case userID == b.ClientID:
		return PartyClient
	case userID == b.OwnerID:
		return PartyOwner
	default:
		return PartyNone
	}
}

func (b *Booking) HasPendingReschedule() bool {
	return b.ActiveRescheduleID != ""
}

// EffectiveStatus is the status the booking falls back to if its outstanding reschedule fails.
// While a reschedule is pending the stored status is Pending but the booking is still confirmed
// on its original range.
func (b *Booking) EffectiveStatus() Status {
	if b.HasPendingReschedule() {
		return StatusConfirmed
	}
	return b.Status
}

type RescheduleStatus string

const (
	ReschedulePending   RescheduleStatus = "pending"
	RescheduleApproved  RescheduleStatus = "approved"
	RescheduleRejected  RescheduleStatus = "rejected"
	RescheduleWithdrawn RescheduleStatus = "withdrawn"
)

// Decision is the counter-party's answer to a reschedule request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// RescheduleRequest proposes moving a confirmed booking to a new range. Resolved requests are
// kept as history.
type RescheduleRequest struct {
	ID         string
	BookingID  string
	ProposerID string
	Original   timerange.Range
	Requested  timerange.Range
	Status     RescheduleStatus
	CreatedAt  time.Time
	ResolvedAt *time.Time
	ResolvedBy string
}

func (r *RescheduleRequest) resolve(status RescheduleStatus, by string, at time.Time) {
	r.Status = status
	r.ResolvedBy = by
	r.ResolvedAt = &at
}

// Filter defines parameters for listing bookings.
type Filter struct {
	ClientID string
	OwnerID  string
	// PartyID matches bookings where the user is either the client or the owner.
	PartyID    string
	ResourceID string
	Status     Status
	Page       int
	PageSize   int
}

// ConflictDetails is attached to ScheduleConflict errors. It identifies the colliding ranges
// without exposing whose bookings they are.
type ConflictDetails struct {
	ResourceID string            `json:"resource_id"`
	Requested  timerange.Range   `json:"requested"`
	Conflicts  []timerange.Range `json:"conflicts"`
}
