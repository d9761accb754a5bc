/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the SmartMess billing engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Initialize zap logger and SQLite store
  3. Connect the announcer (NATS, or the log when unavailable)
  4. Create API handler, router and scheduler
  5. Finish any off-day extension left half-way by a crash
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides APP_PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database

ENVIRONMENT:
  APP_PORT, APP_ENV, DB_PATH, LOG_FILE_PATH, CORS_ALLOWED_ORIGINS,
  NATS_URL, TIMEZONE, PLAN_CACHE_TTL, SCHEDULER_ENABLED
  See config/config.go for defaults.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (running jobs finish)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close NATS and database connections

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Settings
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smartmess/billing-engine/api"
	"github.com/smartmess/billing-engine/config"
	"github.com/smartmess/billing-engine/logging"
	"github.com/smartmess/billing-engine/notify"
	"github.com/smartmess/billing-engine/store/sqlite"
)

func main() {
	cfg := config.Load()

	// Flags
	port := flag.String("port", cfg.App.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.Database.Path, "SQLite database path")
	flag.Parse()

	logger := logging.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	defer logger.Sync()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	var announcer notify.Announcer = notify.NewLogAnnouncer(logger)
	if cfg.Messaging.NatsURL != "" {
		nats, err := notify.NewNATSAnnouncer(cfg.Messaging.NatsURL, logger)
		if err != nil {
			logger.Warn("Main", "NATS unavailable, announcing to the log", map[string]any{"error": err.Error()})
		} else {
			defer nats.Close()
			announcer = nats
		}
	}

	handler := api.NewHandler(store, api.Options{
		Logger:       logger,
		Announcer:    announcer,
		Location:     cfg.Location(),
		PlanCacheTTL: cfg.Billing.PlanCacheTTL,
	})

	if n, err := handler.OffDays.ResumePending(context.Background()); err != nil {
		logger.Error("Main", "Failed to resume off-day extensions", map[string]any{"error": err})
	} else if n > 0 {
		logger.Info("Main", "Resumed off-day extensions", map[string]any{"count": n})
	}

	scheduler := api.NewScheduler(handler)
	if cfg.Billing.SchedulerEnabled {
		if err := scheduler.Start(); err != nil {
			log.Fatalf("Failed to start scheduler: %v", err)
		}
	}

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", *port),
		Handler:      api.NewRouter(handler, cfg.App.CorsAllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Main", "Server starting", map[string]any{"port": *port, "db": *dbPath, "env": cfg.App.Environment})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Main", "Shutting down server", nil)
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Main", "Server forced to shutdown", map[string]any{"error": err})
	}

	logger.Info("Main", "Server stopped", nil)
}
