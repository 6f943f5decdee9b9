package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nekogravitycat/event-booking-backend/internal/auth"
	"github.com/nekogravitycat/event-booking-backend/internal/booking"
	"github.com/nekogravitycat/event-booking-backend/internal/pkg/request"
	"github.com/nekogravitycat/event-booking-backend/internal/pkg/response"
	"github.com/nekogravitycat/event-booking-backend/internal/resource"
	"github.com/nekogravitycat/event-booking-backend/internal/timerange"
)

type Handler struct {
	service booking.Service
	log     *zap.Logger
}

func NewHandler(service booking.Service, log *zap.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log,
	}
}

func (h *Handler) List(c *gin.Context) {
	var req ListBookingsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, "invalid query parameters", err)
		return
	}
	req.Normalize()

	actor := auth.GetActor(c)
	filter := booking.Filter{
		ResourceID: req.ResourceID,
		Status:     booking.Status(req.Status),
		Page:       req.Page,
		PageSize:   req.PageSize,
	}
	switch req.As {
	case "client":
		filter.ClientID = actor.UserID
	case "owner":
		filter.OwnerID = actor.UserID
	}

	bookings, total, err := h.service.List(c.Request.Context(), actor, filter)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, response.NewPageResponse(bookings, NewBookingResponse, req.Page, req.PageSize, total))
}

func (h *Handler) Get(c *gin.Context) {
	var uri request.ByIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		response.BadRequest(c, "invalid request", err)
		return
	}

	b, err := h.service.GetByID(c.Request.Context(), auth.GetActor(c), uri.ID)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, NewBookingResponse(b))
}

func (h *Handler) Create(c *gin.Context) {
	var body CreateBookingRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request body", err)
		return
	}
	if err := body.Validate(); err != nil {
		response.Error(c, h.log, err)
		return
	}

	req := booking.CreateRequest{
		ResourceID:   body.ResourceID,
		ResourceKind: resource.Kind(body.ResourceKind),
		Start:        body.StartTime,
		End:          body.EndTime,
		Metadata:     body.metadata(),
	}

	b, err := h.service.Create(c.Request.Context(), auth.GetActor(c), req)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, NewBookingResponse(b))
}

func (h *Handler) ChangeStatus(c *gin.Context) {
	var uri request.ByIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		response.BadRequest(c, "invalid request", err)
		return
	}

	var body ChangeStatusRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request body", err)
		return
	}

	b, err := h.service.ChangeStatus(c.Request.Context(), auth.GetActor(c), uri.ID, booking.Status(body.Status))
	if err != nil {
		response.Error(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, NewBookingResponse(b))
}

func (h *Handler) ListReschedules(c *gin.Context) {
	var uri request.ByIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		response.BadRequest(c, "invalid request", err)
		return
	}

	reqs, err := h.service.ListReschedules(c.Request.Context(), auth.GetActor(c), uri.ID)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}

	items := make([]RescheduleResponse, 0, len(reqs))
	for _, r := range reqs {
		items = append(items, NewRescheduleResponse(r))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) Propose(c *gin.Context) {
	var uri request.ByIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		response.BadRequest(c, "invalid request", err)
		return
	}

	var body ProposeRescheduleRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request body", err)
		return
	}
	if err := body.Validate(); err != nil {
		response.Error(c, h.log, err)
		return
	}

	b, rr, err := h.service.Propose(c.Request.Context(), auth.GetActor(c), uri.ID, booking.ProposeRequest{
		Start: body.StartTime,
		End:   body.EndTime,
	})
	if err != nil {
		response.Error(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, RescheduleResultResponse{
		Booking:    NewBookingResponse(b),
		Reschedule: NewRescheduleResponse(rr),
	})
}

func (h *Handler) Resolve(c *gin.Context) {
	var uri request.ByIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		response.BadRequest(c, "invalid request", err)
		return
	}

	var body ResolveRescheduleRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request body", err)
		return
	}

	b, rr, err := h.service.Resolve(c.Request.Context(), auth.GetActor(c), uri.ID, booking.Decision(body.Decision))
	if err != nil {
		response.Error(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, RescheduleResultResponse{
		Booking:    NewBookingResponse(b),
		Reschedule: NewRescheduleResponse(rr),
	})
}

func (h *Handler) Withdraw(c *gin.Context) {
	var uri request.ByIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		response.BadRequest(c, "invalid request", err)
		return
	}

	b, rr, err := h.service.Withdraw(c.Request.Context(), auth.GetActor(c), uri.ID)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, RescheduleResultResponse{
		Booking:    NewBookingResponse(b),
		Reschedule: NewRescheduleResponse(rr),
	})
}

// Availability reports the occupied ranges of a resource. Callers learn when it is busy, not who
// booked it.
func (h *Handler) Availability(c *gin.Context) {
	var uri request.ByIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		response.BadRequest(c, "invalid request", err)
		return
	}

	var req AvailabilityRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, "invalid query parameters", err)
		return
	}

	window, err := timerange.New(req.From, req.To)
	if err != nil {
		response.Error(c, h.log, booking.ErrInvalidWindow)
		return
	}

	reserved, err := h.service.Occupancy(c.Request.Context(), uri.ID, window)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	if reserved == nil {
		reserved = []timerange.Range{}
	}

	c.JSON(http.StatusOK, AvailabilityResponse{
		ResourceID: uri.ID,
		From:       window.Start,
		To:         window.End,
		Reserved:   reserved,
	})
}
