/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the approval and leave engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, then environment)
  2. Initialize logger and SQLite store
  3. Pick the lock backend (memory, redis, postgres)
  4. Connect NATS when configured
  5. Wire engines, services and the API handler
  6. Start the recalculation scheduler when enabled
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides HTTP_PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database
  -demo    Enable the /api/scenarios endpoints

ENVIRONMENT:
  See config/config.go for every variable and its default.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Drain NATS, close lock backends and the database
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/approvals.db"

  # Run in-memory with demo scenarios
  ./server -db=":memory:" -demo

  # Redis locks across replicas
  LOCK_BACKEND=redis REDIS_ADDR=redis:6379 ./server

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/warp/approval-engine/api"
	"github.com/warp/approval-engine/approval"
	"github.com/warp/approval-engine/attendance"
	"github.com/warp/approval-engine/config"
	"github.com/warp/approval-engine/entitlement"
	"github.com/warp/approval-engine/lock"
	"github.com/warp/approval-engine/logging"
	"github.com/warp/approval-engine/metrics"
	"github.com/warp/approval-engine/notify"
	"github.com/warp/approval-engine/requests"
	"github.com/warp/approval-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Flags override the environment
	port := flag.Int("port", cfg.HTTPPort, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	demo := flag.Bool("demo", false, "Enable demo scenario endpoints")
	flag.Parse()

	log := logging.New(cfg.LogLevel, cfg.LogPretty)

	if err := run(cfg, *port, *dbPath, *demo, log); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func run(cfg *config.Config, port int, dbPath string, demo bool, log zerolog.Logger) error {
	ctx := context.Background()

	// Initialize store
	store, err := sqlite.New(dbPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	collector := metrics.New()

	// Locks
	locker, closeLocker, err := newLocker(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLocker()
	locker = collector.Locker(locker)

	// Events: metrics always, NATS when configured
	events := approval.Publishers{collector}
	if cfg.NATSURL != "" {
		nc, err := notify.Connect(cfg.NATSURL, log)
		if err != nil {
			return fmt.Errorf("connect NATS: %w", err)
		}
		defer nc.Drain()
		events = append(events, notify.NewPublisher(nc, cfg.NATSSubjectPrefix, store, log.With().Str("component", "notify").Logger()))
		log.Info().Str("url", cfg.NATSURL).Msg("Publishing approval events to NATS")
	}

	// Approval engine
	approvals := approval.NewEngine(store, store, store, store)
	approvals.Locker = locker
	approvals.LockWait = cfg.LockWait
	approvals.RequireRejectNote = cfg.RequireRejectNote
	approvals.Events = events
	approvals.Log = log.With().Str("component", "approval").Logger()
	requests.RegisterLoaders(approvals.Subjects, store)

	// Entitlement engine
	entitlements := entitlement.NewEngine(store, store, store, store)
	entitlements.Holidays = store
	entitlements.Observer = collector
	entitlements.StaleAfter = cfg.EntitlementStaleAfter
	entitlements.Log = log.With().Str("component", "entitlement").Logger()

	// Services
	svc := requests.NewService(store, approvals, entitlements)
	svc.Log = log.With().Str("component", "requests").Logger()

	att := attendance.NewService(store, locker, store)
	att.LockWait = cfg.LockWait
	att.Log = log.With().Str("component", "attendance").Logger()

	// Handler
	handler := api.NewHandler(svc, att)
	handler.Store = store
	handler.Metrics = collector.Handler()
	handler.Log = log
	if demo {
		handler.Seeder = store
		log.Warn().Msg("Demo scenarios enabled: loading one resets the database")
	}

	router := api.NewRouter(handler, cfg.CORSOrigins)

	// Scheduler
	scheduler := api.NewRecalcScheduler(entitlements, cfg.RecalcInterval, log.With().Str("component", "scheduler").Logger())
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", port).Str("db", dbPath).Str("lock_backend", cfg.LockBackend).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down server...")
	}

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("Server stopped")
	return nil
}

// newLocker builds the configured lock backend and its cleanup.
func newLocker(ctx context.Context, cfg *config.Config, log zerolog.Logger) (lock.Locker, func(), error) {
	switch cfg.LockBackend {
	case config.LockRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		rl := lock.NewRedis(client, "approval-engine", cfg.LockTTL)
		rl.Log = log.With().Str("component", "lock").Logger()
		return rl, func() { client.Close() }, nil

	case config.LockPostgres:
		pg, err := lock.NewPostgresFromDSN(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		return pg, pg.Close, nil

	default:
		return lock.NewMemory(), func() {}, nil
	}
}
