package resource

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/nekogravitycat/event-booking-backend/internal/auth"
)

type CreateRequest struct {
	Kind            Kind
	Name            string
	OwnerID         string // only honoured for admins; defaults to the caller
	DefaultDuration int    // minutes
}

type Service interface {
	Create(ctx context.Context, actor auth.Actor, req CreateRequest) (*Resource, error)
	GetByID(ctx context.Context, id string) (*Resource, error)
	List(ctx context.Context, filter Filter) ([]*Resource, int, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

// roleForKind is the role an owner needs to register a resource of the given kind.
var roleForKind = map[Kind]auth.Role{
	KindSupplier: auth.RoleSupplier,
	KindVenue:    auth.RoleVenueOwner,
}

func (s *service) Create(ctx context.Context, actor auth.Actor, req CreateRequest) (*Resource, error) {
	if !req.Kind.Valid() {
		return nil, ErrInvalidKind
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, ErrEmptyName
	}
	if req.DefaultDuration < 0 {
		return nil, ErrInvalidDuration
	}

	ownerID := actor.UserID
	switch {
	case actor.IsAdmin():
		if req.OwnerID != "" {
			ownerID = req.OwnerID
		}
	case actor.Role != roleForKind[req.Kind]:
		return nil, ErrPermissionDenied
	}

	res := &Resource{
		ID:              uuid.NewString(),
		Kind:            req.Kind,
		OwnerID:         ownerID,
		Name:            strings.TrimSpace(req.Name),
		DefaultDuration: minutes(req.DefaultDuration),
	}
	if err := s.repo.Create(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *service) GetByID(ctx context.Context, id string) (*Resource, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *service) List(ctx context.Context, filter Filter) ([]*Resource, int, error) {
	return s.repo.List(ctx, filter)
}
