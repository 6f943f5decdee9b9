package http

import (
	"time"

	"github.com/nekogravitycat/event-booking-backend/internal/booking"
	"github.com/nekogravitycat/event-booking-backend/internal/conflict"
	"github.com/nekogravitycat/event-booking-backend/internal/pkg/request"
	"github.com/nekogravitycat/event-booking-backend/internal/timerange"
)

// ListBookingsRequest defines query parameters for listing bookings.
type ListBookingsRequest struct {
	request.ListParams
	// As picks the side of the booking to match; empty matches either side.
	As         string `form:"as" binding:"omitempty,oneof=client owner"`
	ResourceID string `form:"resource_id" binding:"omitempty,uuid"`
	Status     string `form:"status" binding:"omitempty,oneof=pending confirmed rejected cancelled completed"`
}

type MetadataBody struct {
	EventName  string `json:"event_name" binding:"max=200"`
	GuestCount int    `json:"guest_count" binding:"min=0,max=100000"`
	Notes      string `json:"notes" binding:"max=2000"`
}

type RescheduleResponse struct {
	ID             string     `json:"id"`
	BookingID      string     `json:"booking_id"`
	ProposerID     string     `json:"proposer_id"`
	OriginalStart  time.Time  `json:"original_start"`
	OriginalEnd    time.Time  `json:"original_end"`
	RequestedStart time.Time  `json:"requested_start"`
	RequestedEnd   time.Time  `json:"requested_end"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
}

func NewRescheduleResponse(r *booking.RescheduleRequest) RescheduleResponse {
	return RescheduleResponse{
		ID:             r.ID,
		BookingID:      r.BookingID,
		ProposerID:     r.ProposerID,
		OriginalStart:  r.Original.Start,
		OriginalEnd:    r.Original.End,
		RequestedStart: r.Requested.Start,
		RequestedEnd:   r.Requested.End,
		Status:         string(r.Status),
		CreatedAt:      r.CreatedAt,
		ResolvedAt:     r.ResolvedAt,
		ResolvedBy:     r.ResolvedBy,
	}
}

type BookingResponse struct {
	ID                   string              `json:"id"`
	ResourceID           string              `json:"resource_id"`
	ResourceKind         string              `json:"resource_kind"`
	OwnerID              string              `json:"owner_id"`
	ClientID             string              `json:"client_id"`
	StartTime            time.Time           `json:"start_time"`
	EndTime              time.Time           `json:"end_time"`
	Status               string              `json:"status"`
	EffectiveStatus      string              `json:"effective_status"`
	HasPendingReschedule bool                `json:"has_pending_reschedule"`
	ActiveReschedule     *RescheduleResponse `json:"active_reschedule,omitempty"`
	Metadata             MetadataBody        `json:"metadata"`
	Version              int                 `json:"version"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

func NewBookingResponse(b *booking.Booking) BookingResponse {
	resp := BookingResponse{
		ID:                   b.ID,
		ResourceID:           b.ResourceID,
		ResourceKind:         string(b.ResourceKind),
		OwnerID:              b.OwnerID,
		ClientID:             b.ClientID,
		StartTime:            b.Range.Start,
		EndTime:              b.Range.End,
		Status:               string(b.Status),
		EffectiveStatus:      string(b.EffectiveStatus()),
		HasPendingReschedule: b.HasPendingReschedule(),
		Metadata: MetadataBody{
			EventName:  b.Metadata.EventName,
			GuestCount: b.Metadata.GuestCount,
			Notes:      b.Metadata.Notes,
		},
		Version:   b.Version,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
	if b.ActiveReschedule != nil {
		rr := NewRescheduleResponse(b.ActiveReschedule)
		resp.ActiveReschedule = &rr
	}
	return resp
}

type CreateBookingRequest struct {
	ResourceID   string        `json:"resource_id" binding:"required,uuid"`
	ResourceKind string        `json:"resource_kind" binding:"omitempty,oneof=supplier venue"`
	StartTime    time.Time     `json:"start_time" binding:"required"`
	EndTime      *time.Time    `json:"end_time"`
	Metadata     *MetadataBody `json:"metadata"`
}

// Validate performs custom validation for CreateBookingRequest.
func (r *CreateBookingRequest) Validate() error {
	if r.EndTime != nil && !r.EndTime.After(r.StartTime) {
		return conflict.ErrInvalidRange
	}
	return nil
}

func (r *CreateBookingRequest) metadata() booking.Metadata {
	if r.Metadata == nil {
		return booking.Metadata{}
	}
	return booking.Metadata{
		EventName:  r.Metadata.EventName,
		GuestCount: r.Metadata.GuestCount,
		Notes:      r.Metadata.Notes,
	}
}

type ChangeStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=confirmed rejected cancelled completed"`
}

type ProposeRescheduleRequest struct {
	StartTime time.Time  `json:"start_time" binding:"required"`
	EndTime   *time.Time `json:"end_time"`
}

// Validate performs custom validation for ProposeRescheduleRequest.
func (r *ProposeRescheduleRequest) Validate() error {
	if r.EndTime != nil && !r.EndTime.After(r.StartTime) {
		return conflict.ErrInvalidRange
	}
	return nil
}

type ResolveRescheduleRequest struct {
	Decision string `json:"decision" binding:"required,oneof=approve reject"`
}

// RescheduleResultResponse is returned by propose, resolve and withdraw.
type RescheduleResultResponse struct {
	Booking    BookingResponse    `json:"booking"`
	Reschedule RescheduleResponse `json:"reschedule"`
}

type AvailabilityRequest struct {
	From time.Time `form:"from" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	To   time.Time `form:"to" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
}

// AvailabilityResponse lists the occupied ranges of a resource within a window. It does not say
// which bookings hold them.
type AvailabilityResponse struct {
	ResourceID string            `json:"resource_id"`
	From       time.Time         `json:"from"`
	To         time.Time         `json:"to"`
	Reserved   []timerange.Range `json:"reserved"`
}
