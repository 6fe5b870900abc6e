package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/shortwatch/shortwatch/internal/config"
	"github.com/shortwatch/shortwatch/internal/di"
	"github.com/shortwatch/shortwatch/internal/server"
	"github.com/shortwatch/shortwatch/pkg/logger"
)

// serveCmd runs the HTTP API server together with the background job scheduler.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and background jobs",
	Long: `Start the HTTP API server and the cron scheduler.

The server exposes the ledger, position, timeline, rankings, registry and
ingest APIs. The scheduler runs feed pulls, cache sweeps, WAL checkpoints
and backups on their configured cron expressions until the process receives
SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe orchestrates the full startup sequence:
// 1. Loads configuration from environment variables (.env file)
// 2. Initializes the structured logger
// 3. Wires all dependencies via the DI container (databases, repositories, services, jobs)
// 4. Starts the cron scheduler
// 5. Starts the HTTP server
// 6. Waits for a shutdown signal and performs graceful shutdown
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Pretty:  cfg.DevMode,
		Service: "shortwatch",
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("version", getEnv("VERSION", "dev")).Msg("Starting shortwatch")

	// Wire all dependencies using the DI container. This initializes the
	// three databases (ledger, state, cache), repositories, services and
	// registers the background jobs on the scheduler.
	container, sched, err := di.Wire(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to wire dependencies: %w", err)
	}
	defer container.CloseDatabases()

	// Start the scheduler before the server so cron jobs run even while the
	// listener is still coming up.
	sched.Start()
	log.Info().Strs("jobs", sched.JobNames()).Msg("Scheduler started")

	srv := server.New(server.Config{
		Log:       log,
		Config:    cfg,
		Container: container,
		Scheduler: sched,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
	})

	// Start server in goroutine so the main goroutine can wait for signals.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// The root context is cancelled on SIGINT (Ctrl+C) or SIGTERM. The
	// process blocks here until then.
	<-cmd.Context().Done()

	log.Info().Msg("Shutting down...")

	// Stop the scheduler first so no job starts against databases that are
	// about to close. Stop blocks until running jobs finish.
	sched.Stop()
	log.Info().Msg("Scheduler stopped")

	// The HTTP server gets up to 10 seconds to finish in-flight requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
	return nil
}
