package resource

import (
	"time"

	"github.com/nekogravitycat/event-booking-backend/internal/pkg/apperror"
)

var (
	ErrNotFound         = apperror.New(apperror.KindNotFound, "resource not found")
	ErrEmptyName        = apperror.New(apperror.KindValidation, "name cannot be empty")
	ErrInvalidKind      = apperror.New(apperror.KindValidation, "kind must be supplier or venue")
	ErrInvalidDuration  = apperror.New(apperror.KindValidation, "default duration must not be negative")
	ErrPermissionDenied = apperror.New(apperror.KindForbidden, "permission denied")
)

// Kind tells vendors and venues apart; they follow different scheduling policies.
type Kind string

const (
	KindSupplier Kind = "supplier"
	KindVenue    Kind = "venue"
)

func (k Kind) Valid() bool {
	return k == KindSupplier || k == KindVenue
}

// Resource represents a bookable vendor or venue.
type Resource struct {
	ID      string
	Kind    Kind
	OwnerID string
	Name    string
	// DefaultDuration is the implicit length of a supplier booking that only names a start.
	DefaultDuration time.Duration
	CreatedAt       time.Time
}

// Filter defines parameters for listing resources.
type Filter struct {
	Kind     Kind
	OwnerID  string
	Page     int
	PageSize int
}
