package http

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers booking, reschedule and availability routes.
func RegisterRoutes(g *gin.RouterGroup, h *Handler, authMiddleware gin.HandlerFunc) {
	bookings := g.Group("/bookings")

	// === Authenticated Routes ===
	bookings.Use(authMiddleware)
	{
		bookings.GET("", h.List)
		bookings.GET("/:id", h.Get)
		bookings.POST("", h.Create)
		bookings.PATCH("/:id/status", h.ChangeStatus)
		bookings.GET("/:id/reschedules", h.ListReschedules)
		bookings.POST("/:id/reschedules", h.Propose)
	}

	reschedules := g.Group("/reschedules")
	reschedules.Use(authMiddleware)
	{
		reschedules.POST("/:id/resolve", h.Resolve)
		reschedules.POST("/:id/withdraw", h.Withdraw)
	}

	resources := g.Group("/resources")
	resources.Use(authMiddleware)
	{
		resources.GET("/:id/availability", h.Availability)
	}
}
