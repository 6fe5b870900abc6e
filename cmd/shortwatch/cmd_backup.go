package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/shortwatch/shortwatch/internal/config"
	"github.com/shortwatch/shortwatch/internal/di"
	"github.com/shortwatch/shortwatch/pkg/logger"
)

var backupList bool

// backupCmd uploads a backup archive of the ledger and state databases.
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Upload a backup archive to object storage",
	Long: `Create a backup archive of the ledger and state databases and upload
it to the configured S3-compatible bucket. The cache database is derived
state and is not archived.

Requires BACKUP_BUCKET, BACKUP_ACCESS_KEY_ID and BACKUP_SECRET_ACCESS_KEY.

Example usage:
  shortwatch backup           # Create and upload an archive
  shortwatch backup --list    # List stored archives`,
	RunE: runBackup,
}

func init() {
	rootCmd.AddCommand(backupCmd)

	backupCmd.Flags().BoolVar(&backupList, "list", false, "List stored backups instead of creating one")
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Pretty:  true,
		Service: "shortwatch",
	})

	container, _, err := di.Wire(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to wire dependencies: %w", err)
	}
	defer container.CloseDatabases()

	if !container.BackupService.Enabled() {
		return fmt.Errorf("backups are not configured: set BACKUP_BUCKET and credentials")
	}

	if backupList {
		return listBackups(cmd, container)
	}

	result, err := container.BackupService.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}

	fmt.Printf("Backup uploaded: %s\n", result.Key)
	fmt.Printf("Databases: %d, size: %d bytes, duration: %dms\n",
		result.Databases, result.SizeBytes, result.DurationMS)
	return nil
}

func listBackups(cmd *cobra.Command, container *di.Container) error {
	backups, err := container.BackupService.ListBackups(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	if len(backups) == 0 {
		fmt.Println("No backups found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tTIMESTAMP\tSIZE")
	for _, b := range backups {
		fmt.Fprintf(w, "%s\t%s\t%d\n", b.Key, b.Timestamp.Format(time.RFC3339), b.SizeBytes)
	}
	return w.Flush()
}
