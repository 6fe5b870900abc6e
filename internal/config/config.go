// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir      string // Base directory for all databases (always absolute)
	RegistryPath string // Country registry YAML file
	LogLevel     string
	Port         int
	DevMode      bool
	CacheTTL     int // Result cache TTL in minutes
	Backup       *BackupConfig
	Schedules    *ScheduleConfig
}

// BackupConfig holds ledger backup settings. An empty bucket disables
// backups without failing startup.
type BackupConfig struct {
	Bucket          string
	Endpoint        string // S3-compatible endpoint URL, empty for AWS
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	MinKeep         int // Newest backups always kept by rotation
}

// ScheduleConfig holds cron expressions (with seconds field) for the
// background jobs.
type ScheduleConfig struct {
	Ingest        string // Daily source pulls
	CacheSweep    string // Expired cache entry removal
	WALCheckpoint string // SQLite WAL truncation
	Backup        string // Ledger backup upload
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Determine data directory:
	// 1. SHORTWATCH_DATA_DIR environment variable
	// 2. Fallback to ./data
	// 3. Always resolve to absolute path and ensure it exists
	dataDir := getEnv("SHORTWATCH_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:      absDataDir,
		RegistryPath: getEnv("SHORTWATCH_REGISTRY", filepath.Join(absDataDir, "countries.yaml")),
		Port:         getEnvAsInt("SHORTWATCH_PORT", 8080),
		DevMode:      getEnvAsBool("DEV_MODE", false),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		CacheTTL:     getEnvAsInt("CACHE_TTL_MINUTES", 60*24),
		Backup:       loadBackupConfig(),
		Schedules:    loadScheduleConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive, got %d", c.CacheTTL)
	}
	if c.Backup.Bucket != "" && c.Backup.AccessKeyID == "" {
		return fmt.Errorf("backup bucket configured without credentials")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func loadBackupConfig() *BackupConfig {
	return &BackupConfig{
		Bucket:          getEnv("BACKUP_BUCKET", ""),
		Endpoint:        getEnv("BACKUP_ENDPOINT", ""),
		Region:          getEnv("BACKUP_REGION", "auto"),
		AccessKeyID:     getEnv("BACKUP_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("BACKUP_SECRET_ACCESS_KEY", ""),
		Prefix:          getEnv("BACKUP_PREFIX", "shortwatch"),
		MinKeep:         getEnvAsInt("BACKUP_MIN_KEEP", 3),
	}
}

func loadScheduleConfig() *ScheduleConfig {
	return &ScheduleConfig{
		Ingest:        getEnv("SCHEDULE_INGEST", "0 0 6 * * *"),         // 06:00 daily
		CacheSweep:    getEnv("SCHEDULE_CACHE_SWEEP", "0 15 * * * *"),   // hourly at :15
		WALCheckpoint: getEnv("SCHEDULE_WAL_CHECKPOINT", "0 0 4 * * *"), // 04:00 daily
		Backup:        getEnv("SCHEDULE_BACKUP", "0 30 2 * * *"),        // 02:30 daily
	}
}
