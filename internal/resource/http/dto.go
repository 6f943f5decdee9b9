package http

import (
	"time"

	"github.com/nekogravitycat/event-booking-backend/internal/pkg/request"
	"github.com/nekogravitycat/event-booking-backend/internal/resource"
)

type ResourceResponse struct {
	ID                     string    `json:"id"`
	Kind                   string    `json:"kind"`
	OwnerID                string    `json:"owner_id"`
	Name                   string    `json:"name"`
	DefaultDurationMinutes int       `json:"default_duration_minutes"`
	CreatedAt              time.Time `json:"created_at"`
}

func NewResponse(r *resource.Resource) ResourceResponse {
	return ResourceResponse{
		ID:                     r.ID,
		Kind:                   string(r.Kind),
		OwnerID:                r.OwnerID,
		Name:                   r.Name,
		DefaultDurationMinutes: int(r.DefaultDuration / time.Minute),
		CreatedAt:              r.CreatedAt,
	}
}

type CreateBody struct {
	Kind                   string `json:"kind" binding:"required,oneof=supplier venue"`
	Name                   string `json:"name" binding:"required,max=200"`
	OwnerID                string `json:"owner_id" binding:"omitempty,max=128"`
	DefaultDurationMinutes int    `json:"default_duration_minutes" binding:"omitempty,min=0,max=43200"`
}

// ListResourcesRequest defines query parameters for listing resources.
type ListResourcesRequest struct {
	request.ListParams
	Kind    string `form:"kind" binding:"omitempty,oneof=supplier venue"`
	OwnerID string `form:"owner_id"`
}
