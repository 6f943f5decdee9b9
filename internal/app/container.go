package app

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/nekogravitycat/event-booking-backend/internal/api"
	"github.com/nekogravitycat/event-booking-backend/internal/auth"
	"github.com/nekogravitycat/event-booking-backend/internal/booking"
	"github.com/nekogravitycat/event-booking-backend/internal/conflict"
	"github.com/nekogravitycat/event-booking-backend/internal/notify"
	"github.com/nekogravitycat/event-booking-backend/internal/resource"
)

// Config holds the dependencies and settings required to start the application.
type Config struct {
	IsProduction bool
	ProdOrigins  string
	Logger       *zap.Logger
	// DBPool selects the Postgres stores. When nil everything is kept in memory.
	DBPool     *pgxpool.Pool
	JWTSecret  string
	JWTTTL     time.Duration
	Scheduling conflict.Config

	TxMaxAttempts  int
	TxRetryBackoff time.Duration
	// LockTimeout bounds lock waits of the memory store. The Postgres pool carries its own.
	LockTimeout time.Duration

	// Emitter receives committed booking events. Defaults to logging them.
	Emitter         notify.Emitter
	OutboxInterval  time.Duration
	OutboxBatchSize int
}

// Container holds the initialized components that are needed externally.
type Container struct {
	Router          *gin.Engine
	JWTManager      *auth.JWTManager
	ResourceService resource.Service
	BookingService  booking.Service
	// Relay must be started by the caller for events to leave the outbox.
	Relay *notify.Relay
}

// NewContainer initializes all modules and returns the container.
func NewContainer(cfg Config) *Container {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	// Init Components
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTTTL)
	detector := conflict.New(cfg.Scheduling)

	emitter := cfg.Emitter
	if emitter == nil {
		emitter = notify.NewLogEmitter(log)
	}

	// Storage
	var (
		resRepo      resource.Repository
		bookingStore booking.Store
		outbox       notify.Outbox
	)
	if cfg.DBPool != nil {
		resRepo = resource.NewPgxRepository(cfg.DBPool)
		bookingStore = booking.NewPgxStore(cfg.DBPool)
		outbox = notify.NewPgxOutbox(cfg.DBPool)
	} else {
		memOutbox := notify.NewMemoryOutbox()
		resRepo = resource.NewMemoryRepository()
		var opts []booking.MemoryOption
		if cfg.LockTimeout > 0 {
			opts = append(opts, booking.WithLockTimeout(cfg.LockTimeout))
		}
		bookingStore = booking.NewMemoryStore(memOutbox, opts...)
		outbox = memOutbox
	}

	relay := notify.NewRelay(outbox, emitter, cfg.OutboxInterval, cfg.OutboxBatchSize, log)

	// Resource Module
	resService := resource.NewService(resRepo)

	// Booking Module
	bookingService := booking.NewService(bookingStore, resService, detector, log,
		booking.WithRetry(cfg.TxMaxAttempts, cfg.TxRetryBackoff),
		booking.WithCommitHook(relay.Signal),
	)

	// Router
	router := api.NewRouter(api.Config{
		IsProduction:    cfg.IsProduction,
		ProdOrigins:     cfg.ProdOrigins,
		Logger:          log,
		ResourceService: resService,
		BookingService:  bookingService,
		JWTManager:      jwtManager,
	})

	return &Container{
		Router:          router,
		JWTManager:      jwtManager,
		ResourceService: resService,
		BookingService:  bookingService,
		Relay:           relay,
	}
}
