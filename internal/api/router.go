package api

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"github.com/nekogravitycat/event-booking-backend/internal/auth"
	"github.com/nekogravitycat/event-booking-backend/internal/booking"
	bookingHttp "github.com/nekogravitycat/event-booking-backend/internal/booking/http"
	"github.com/nekogravitycat/event-booking-backend/internal/resource"
	resourceHttp "github.com/nekogravitycat/event-booking-backend/internal/resource/http"
)

// Config holds the services and settings the router is assembled from.
type Config struct {
	IsProduction    bool
	ProdOrigins     string
	Logger          *zap.Logger
	ResourceService resource.Service
	BookingService  booking.Service
	JWTManager      *auth.JWTManager
}

func init() {
	// Unknown JSON fields are rejected instead of silently dropped.
	binding.EnableDecoderDisallowUnknownFields = true
}

// NewRouter initializes the HTTP router engine.
// It is responsible for assembling middleware (CORS, Logger, Auth) and registering routes for various modules.
func NewRouter(cfg Config) *gin.Engine {
	if cfg.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global Middleware:
	// - RequestID: Tags every request so log lines can be correlated.
	// - RequestLogger: Logs method, path, status and latency through zap.
	// - Recovery: Captures panics and returns a 500 error.
	r.Use(RequestID(), RequestLogger(cfg.Logger), Recovery(cfg.Logger))

	// Configure CORS (Cross-Origin Resource Sharing).
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins(cfg)
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", RequestIDHeader}
	r.Use(cors.New(corsConfig))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// authMiddleware: Validates if the request contains a valid JWT.
	authMiddleware := auth.AuthRequired(cfg.JWTManager)

	// Initialize HTTP Handlers for each module (injecting Service dependencies).
	resourceHandler := resourceHttp.NewHandler(cfg.ResourceService, cfg.Logger)
	bookingHandler := bookingHttp.NewHandler(cfg.BookingService, cfg.Logger)

	// Register API routes under /v1
	v1 := r.Group("/v1")
	{
		resourceHttp.RegisterRoutes(v1, resourceHandler, authMiddleware)
		bookingHttp.RegisterRoutes(v1, bookingHandler, authMiddleware)
	}

	return r
}

func allowedOrigins(cfg Config) []string {
	if !cfg.IsProduction {
		return []string{
			"http://localhost:8081", // Swagger
			"http://localhost:3000",
		}
	}

	var origins []string
	for _, o := range strings.Split(cfg.ProdOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
