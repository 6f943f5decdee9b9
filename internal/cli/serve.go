package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nekogravitycat/event-booking-backend/internal/app"
	"github.com/nekogravitycat/event-booking-backend/internal/config"
	"github.com/nekogravitycat/event-booking-backend/internal/db"
	"github.com/nekogravitycat/event-booking-backend/internal/notify"
	"github.com/nekogravitycat/event-booking-backend/internal/obs"
	"github.com/nekogravitycat/event-booking-backend/internal/pkg/logger"
)

func NewServeCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the event relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			// For receiving Ctrl+C / SIGTERM
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}

func serve(ctx context.Context, migrate bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.IsProduction())
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	shutdownTracer, err := obs.InitTracer(ctx, cfg.OTelServiceName, cfg.OTLPEndpoint, cfg.AppEnv)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	// Connect DB
	var pool *pgxpool.Pool
	if cfg.StoreDriver == config.DriverPostgres {
		pool, err = db.NewPool(ctx, cfg.DBDSN, cfg.Pool())
		if err != nil {
			return fmt.Errorf("failed to connect to db: %w", err)
		}
		defer pool.Close()

		if migrate {
			if err := db.Migrate(ctx, pool, "up"); err != nil {
				return err
			}
		}
	} else {
		log.Warn("using in-memory store, data is lost on exit")
	}

	var emitter notify.Emitter = notify.NewLogEmitter(log)
	if cfg.RabbitMQURL != "" {
		rabbit, err := notify.NewRabbitEmitter(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			return fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		defer rabbit.Close()
		emitter = rabbit
	}

	container := app.NewContainer(app.Config{
		IsProduction:    cfg.IsProduction(),
		ProdOrigins:     cfg.ProdOrigins,
		Logger:          log,
		DBPool:          pool,
		JWTSecret:       cfg.JWTSecret,
		JWTTTL:          cfg.JWTAccessTokenTTL,
		Scheduling:      cfg.Scheduling(),
		TxMaxAttempts:   cfg.TxMaxAttempts,
		TxRetryBackoff:  cfg.TxRetryBackoff,
		LockTimeout:     cfg.DBLockTimeout,
		Emitter:         emitter,
		OutboxInterval:  cfg.OutboxInterval,
		OutboxBatchSize: cfg.OutboxBatchSize,
	})

	relayCtx, stopRelay := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		container.Relay.Start(relayCtx)
	}()

	// Use http.Server for graceful shutdown
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           container.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server running", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for Ctrl+C or a listener failure
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Error("server error", zap.Error(err))
		}
	}

	// Create a shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced to shutdown", zap.Error(err))
	}

	// Flush what the last requests committed, then stop the relay.
	container.Relay.Drain(shutdownCtx)
	stopRelay()
	<-relayDone

	log.Info("server exited gracefully")
	return nil
}
