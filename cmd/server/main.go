/*
main.go - Application entry point

PURPOSE:
  Starts the leave engine HTTP server: loads configuration, opens the
  configured store, wires the services and the router, and shuts down
  gracefully.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load configuration (environment, optional .env file)
  3. Build the logger
  4. Open the store (sqlite, postgres or memory)
  5. Connect Redis when REDIS_URL is set
  6. Create services, handler and router
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port      HTTP server port, overrides PORT
  -db        SQLite database path, overrides DB_PATH
             Use ":memory:" for in-memory database
  -env-file  Path of the .env file (default: .env)
  -scenario  Demo scenario to load at startup (development only)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close Redis and database connections
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/leave.db"

  # Run in memory with demo data; tokens for the seeded users are logged
  DB_DRIVER=memory ./server -scenario=small-team

  # Run against Postgres with idempotent apply
  DB_DRIVER=postgres DATABASE_URL=postgres://... REDIS_URL=redis://localhost:6379/0 ./server

ENVIRONMENT:
  See config/config.go for every setting.

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Settings
  - store/: Backends
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/store/memory"
	"github.com/warp/leave-engine/store/postgres"
	"github.com/warp/leave-engine/store/sqlite"
	"github.com/warp/leave-engine/timeoff"
	"go.uber.org/zap"
)

// storage is what the server needs from a backend.
type storage interface {
	timeoff.Backend
	api.Pinger
	io.Closer
}

func main() {
	// Flags
	port := flag.Int("port", 0, "HTTP server port (overrides PORT)")
	dbPath := flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	envFile := flag.String("env-file", ".env", "Path of the .env file")
	scenario := flag.String("scenario", "", "Demo scenario to load at startup (development only)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	logger, err := config.NewLogger(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *scenario != "" && cfg.Env != config.EnvDevelopment {
		logger.Fatal("-scenario is only allowed in development", zap.String("env", cfg.Env))
	}

	if err := run(cfg, logger, *scenario); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger, scenario string) error {
	backend, pinger, closeStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer closeStore()
	logger.Info("store ready", zap.String("driver", cfg.DBDriver))

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, idempotency keys will be ignored until it recovers", zap.Error(err))
		}
	} else {
		logger.Info("REDIS_URL not set, idempotency keys are ignored")
	}

	requests := timeoff.NewRequestService(backend, logger)
	admin := timeoff.NewAdminService(backend, logger)
	attendance := timeoff.NewAttendanceService(backend, logger)
	handler := api.NewHandler(requests, admin, attendance, pinger, logger)

	if scenario != "" {
		if err := seed(admin, requests, scenario, cfg.SessionSecret, logger); err != nil {
			return err
		}
	}

	router := api.NewRouter(handler, api.Options{
		SessionSecret:  []byte(cfg.SessionSecret),
		AllowedOrigins: cfg.CORSOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Redis:          rdb,
		IdempotencyTTL: cfg.IdempotencyTTL,
		Logger:         logger,

		EnableScenarios: cfg.Env == config.EnvDevelopment,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", zap.Stringer("signal", sig))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// openStore returns the configured backend. The memory backend has no
// connection to check, so its pinger is nil.
func openStore(cfg *config.Config) (timeoff.Backend, api.Pinger, func(), error) {
	var (
		s   storage
		err error
	)
	switch cfg.DBDriver {
	case "memory":
		return memory.New(), nil, func() {}, nil
	case "postgres":
		s, err = postgres.Open(cfg.DatabaseURL)
	default:
		s, err = sqlite.New(cfg.DBPath)
	}
	if err != nil {
		return nil, nil, nil, err
	}
	return s, s, func() { s.Close() }, nil
}

// seed loads a demo scenario and logs a day-long token per seeded user.
func seed(admin *timeoff.AdminService, requests *timeoff.RequestService, scenario, secret string, logger *zap.Logger) error {
	res, err := api.LoadScenario(context.Background(), admin, requests, scenario, time.Now().Year())
	if err != nil {
		return err
	}
	for _, u := range res.Users {
		token, err := api.IssueToken([]byte(secret), api.Session{UserID: u.ID, Role: u.Role, LocationID: u.LocationID}, 24*time.Hour)
		if err != nil {
			return fmt.Errorf("failed to issue token for %s: %w", u.Email, err)
		}
		logger.Info("seeded user", zap.String("email", u.Email), zap.String("role", string(u.Role)), zap.String("token", token))
	}
	logger.Info("scenario loaded", zap.String("scenario", scenario), zap.Int("requests", res.Requests))
	return nil
}
