/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the billing engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment)
  2. Initialize logger
  3. Initialize SQLite store
  4. Create billing engine and API handler
  5. Optionally start the generation/overdue scheduler
  6. Start server with graceful shutdown

CONFIGURATION:
  All settings come from the environment (see config/config.go):
    BILLING_ADDR               listen address (default :8080)
    BILLING_DB_PATH            SQLite path, ":memory:" for in-memory
    BILLING_AUTO_GENERATE      enable the cron scheduler
    BILLING_GENERATE_SCHEDULE  cron expression for generation runs
    BILLING_OVERDUE_SCHEDULE   cron expression for the overdue sweep
    BILLING_RENDER_DIR         directory for rendered invoice documents
    LOG_LEVEL / LOG_FORMAT     logging

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Background jobs
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/billing-engine/api"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/config"
	"github.com/warp/billing-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := config.NewLogger(cfg.LoggerConfig())
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to initialize database")
	}
	defer store.Close()

	engine := billing.NewEngine(store, log)
	if cfg.RenderDir != "" {
		engine.Renderer = billing.TextRenderer{Dir: cfg.RenderDir}
	}

	handler := api.NewHandler(engine, store, log)
	router := api.NewRouter(handler)

	var sched *api.Scheduler
	if cfg.AutoGenerate {
		sched, err = api.NewScheduler(engine, api.SchedulerConfig{
			GenerateSchedule: cfg.GenerateSchedule,
			OverdueSchedule:  cfg.OverdueSchedule,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid scheduler configuration")
		}
		sched.Start()
	}

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	if sched != nil {
		sched.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
