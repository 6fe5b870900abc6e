// Package main is the entry point for the shortwatch position reconciliation
// and temporal reconstruction engine. The binary ingests regulatory short
// position disclosures, reconciles them into per-country position state, and
// serves reconstruction and ranking APIs over HTTP.
//
// The application follows clean architecture principles:
// - Domain layer is pure (no infrastructure dependencies)
// - Dependency injection via DI container
// - Repository pattern for data access
// - Service layer for business logic
// - HTTP handlers for API endpoints
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// getEnv retrieves an environment variable value, returning a fallback if the
// variable is not set or is empty.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// rootCmd is the base command for the shortwatch CLI
var rootCmd = &cobra.Command{
	Use:   "shortwatch",
	Short: "Short position disclosure reconciliation engine",
	Long: `Shortwatch ingests regulatory short position disclosures from national
registers, maintains an append-only disclosure ledger, and reconciles it
into queryable position state with historical reconstruction.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("shortwatch %s\n", getEnv("VERSION", "dev"))
		fmt.Println("Use 'shortwatch serve' to start the API server")
	},
}

func main() {
	// Commands observe SIGINT and SIGTERM through the root context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
