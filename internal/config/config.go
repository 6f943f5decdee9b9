package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/nekogravitycat/event-booking-backend/internal/conflict"
	"github.com/nekogravitycat/event-booking-backend/internal/db"
)

const PROD_STRING = "prod"

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all application configuration loaded from environment.
type Config struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	ProdOrigins string `envconfig:"PROD_ORIGINS"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	StoreDriver string `envconfig:"STORE_DRIVER" default:"postgres"`
	DBDSN       string `envconfig:"DB_DSN"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	// DBLockTimeout bounds every lock wait, in Postgres and in the memory store.
	DBLockTimeout      time.Duration `envconfig:"DB_LOCK_TIMEOUT" default:"5s"`
	DBStatementTimeout time.Duration `envconfig:"DB_STATEMENT_TIMEOUT" default:"30s"`

	JWTSecret         string        `envconfig:"JWT_SECRET" required:"true"`
	JWTAccessTokenTTL time.Duration `envconfig:"JWT_ACCESS_TOKEN_TTL" default:"15m"`

	TxMaxAttempts  int           `envconfig:"TX_MAX_ATTEMPTS" default:"3"`
	TxRetryBackoff time.Duration `envconfig:"TX_RETRY_BACKOFF" default:"50ms"`

	VenueRequireNextDay     bool          `envconfig:"VENUE_REQUIRE_NEXT_DAY" default:"true"`
	VenueMinLeadTime        time.Duration `envconfig:"VENUE_MIN_LEAD_TIME" default:"0s"`
	VenueMaxSpan            time.Duration `envconfig:"VENUE_MAX_SPAN" default:"0s"`
	SupplierMinLeadTime     time.Duration `envconfig:"SUPPLIER_MIN_LEAD_TIME" default:"0s"`
	SupplierDefaultDuration time.Duration `envconfig:"SUPPLIER_DEFAULT_DURATION" default:"4h"`

	RabbitMQURL      string        `envconfig:"RABBITMQ_URL"`
	RabbitMQExchange string        `envconfig:"RABBITMQ_EXCHANGE" default:"booking.events"`
	OutboxInterval   time.Duration `envconfig:"OUTBOX_INTERVAL" default:"2s"`
	OutboxBatchSize  int           `envconfig:"OUTBOX_BATCH_SIZE" default:"100"`

	OTLPEndpoint    string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelServiceName string `envconfig:"OTEL_SERVICE_NAME" default:"event-booking-backend"`
}

// Load loads configuration from .env (optional) and environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Printf("failed to load .env file: %v", err)
	}

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DBDSN == "" {
			return fmt.Errorf("DB_DSN is required when STORE_DRIVER=%s", DriverPostgres)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q", c.StoreDriver)
	}
	if c.DBLockTimeout <= 0 {
		return fmt.Errorf("DB_LOCK_TIMEOUT must be positive")
	}
	if c.TxMaxAttempts < 1 {
		return fmt.Errorf("TX_MAX_ATTEMPTS must be at least 1")
	}
	if c.OutboxBatchSize < 1 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be at least 1")
	}
	return nil
}

// IsProduction reports whether the app runs with APP_ENV=prod.
func (c *Config) IsProduction() bool {
	return c.AppEnv == PROD_STRING
}

// Pool builds the Postgres pool settings.
func (c *Config) Pool() db.PoolConfig {
	return db.PoolConfig{
		MaxConns:         c.DBMaxConns,
		LockTimeout:      c.DBLockTimeout,
		StatementTimeout: c.DBStatementTimeout,
	}
}

// Scheduling builds the per-kind scheduling policies.
func (c *Config) Scheduling() conflict.Config {
	return conflict.Config{
		Supplier: conflict.Policy{
			MinLeadTime:     c.SupplierMinLeadTime,
			DefaultDuration: c.SupplierDefaultDuration,
		},
		Venue: conflict.Policy{
			MinLeadTime:    c.VenueMinLeadTime,
			RequireNextDay: c.VenueRequireNextDay,
			MaxSpan:        c.VenueMaxSpan,
		},
	}
}
