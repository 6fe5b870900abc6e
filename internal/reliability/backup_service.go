package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/shortwatch/shortwatch/internal/config"
	"github.com/shortwatch/shortwatch/internal/database"
	"github.com/shortwatch/shortwatch/internal/events"
)

const backupTimeFormat = "2006-01-02-150405"

// BackupResult describes one uploaded backup archive.
type BackupResult struct {
	Key        string `json:"key"`
	SizeBytes  int64  `json:"size_bytes"`
	Databases  int    `json:"databases"`
	DurationMS int64  `json:"duration_ms"`
}

// Manifest rides inside every archive and describes its contents.
type Manifest struct {
	Timestamp time.Time          `json:"timestamp"`
	Databases []DatabaseManifest `json:"databases"`
}

// DatabaseManifest describes a single database file in the backup.
type DatabaseManifest struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo describes a backup stored in the bucket.
type BackupInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
}

// BackupService stages consistent database copies, archives them and uploads
// the archive. The cache database is not part of the backup set; it is
// rebuilt on demand.
type BackupService struct {
	cfg       *config.BackupConfig
	store     ObjectStore
	databases []*database.DB
	dataDir   string
	bus       *events.Bus
	log       zerolog.Logger
}

// NewBackupService creates a new backup service. A nil store (no bucket
// configured) leaves the service disabled.
func NewBackupService(
	cfg *config.BackupConfig,
	store ObjectStore,
	databases []*database.DB,
	dataDir string,
	log zerolog.Logger,
) *BackupService {
	return &BackupService{
		cfg:       cfg,
		store:     store,
		databases: databases,
		dataDir:   dataDir,
		log:       log.With().Str("service", "backup").Logger(),
	}
}

// SetBus wires the event bus (for dependency injection).
func (s *BackupService) SetBus(bus *events.Bus) {
	s.bus = bus
}

// Enabled reports whether backups can run.
func (s *BackupService) Enabled() bool {
	return s.store != nil && s.cfg.Bucket != ""
}

// Run stages every database with VACUUM INTO, archives the copies with a
// checksum manifest, uploads the archive and rotates old ones.
func (s *BackupService) Run(ctx context.Context) (*BackupResult, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("backups are not configured")
	}

	s.log.Info().Msg("Starting backup")
	start := time.Now()

	stagingDir := filepath.Join(s.dataDir, "backup-staging")
	if err := os.RemoveAll(stagingDir); err != nil {
		return nil, fmt.Errorf("failed to clear staging directory: %w", err)
	}
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	manifest, err := s.stageDatabases(ctx, stagingDir)
	if err != nil {
		return nil, err
	}

	manifestPath := filepath.Join(stagingDir, "manifest.json")
	if err := writeManifest(manifestPath, manifest); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	archiveName := fmt.Sprintf("backup-%s.tar.gz", start.UTC().Format(backupTimeFormat))
	archivePath := filepath.Join(stagingDir, archiveName)
	files := make([]string, 0, len(manifest.Databases)+1)
	for _, db := range manifest.Databases {
		files = append(files, db.Filename)
	}
	files = append(files, "manifest.json")
	if err := createArchive(archivePath, stagingDir, files); err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	key := s.cfg.Prefix + "/" + archiveName
	archive, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	if err := s.store.Upload(ctx, key, archive); err != nil {
		return nil, err
	}

	if err := s.Rotate(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Backup rotation failed")
	}

	result := &BackupResult{
		Key:        key,
		SizeBytes:  info.Size(),
		Databases:  len(manifest.Databases),
		DurationMS: time.Since(start).Milliseconds(),
	}
	s.log.Info().
		Str("key", key).
		Int64("size_bytes", result.SizeBytes).
		Int("databases", result.Databases).
		Int64("duration_ms", result.DurationMS).
		Msg("Backup completed")

	if s.bus != nil {
		s.bus.EmitTyped("reliability", &events.BackupCompletedData{
			Key:       key,
			SizeBytes: result.SizeBytes,
			Databases: result.Databases,
		})
	}
	return result, nil
}

// ListBackups returns the stored backups, newest first.
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("backups are not configured")
	}

	objects, err := s.store.List(ctx, s.cfg.Prefix+"/backup-")
	if err != nil {
		return nil, err
	}

	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		if obj.Key == nil {
			continue
		}
		ts, ok := parseBackupKey(*obj.Key)
		if !ok {
			s.log.Warn().Str("key", *obj.Key).Msg("Skipping object with unparseable backup key")
			continue
		}
		var size int64
		if obj.Size != nil {
			size = *obj.Size
		}
		backups = append(backups, BackupInfo{Key: *obj.Key, Timestamp: ts, SizeBytes: size})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// Rotate deletes stored backups beyond the newest MinKeep.
func (s *BackupService) Rotate(ctx context.Context) error {
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return err
	}
	if len(backups) <= s.cfg.MinKeep {
		return nil
	}

	deleted := 0
	for _, backup := range backups[s.cfg.MinKeep:] {
		if err := s.store.Delete(ctx, backup.Key); err != nil {
			s.log.Error().Err(err).Str("key", backup.Key).Msg("Failed to delete old backup")
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.log.Info().
			Int("deleted", deleted).
			Int("kept", len(backups)-deleted).
			Msg("Backup rotation completed")
	}
	return nil
}

// stageDatabases copies every database with VACUUM INTO, producing
// consistent single-file snapshots readable without their WALs.
func (s *BackupService) stageDatabases(ctx context.Context, stagingDir string) (*Manifest, error) {
	manifest := &Manifest{
		Timestamp: time.Now().UTC(),
		Databases: make([]DatabaseManifest, 0, len(s.databases)),
	}

	for _, db := range s.databases {
		if db == nil {
			continue
		}
		filename := db.Name() + ".db"
		staged := filepath.Join(stagingDir, filename)

		s.log.Debug().Str("database", db.Name()).Msg("Staging database")
		if err := db.VacuumInto(ctx, staged); err != nil {
			return nil, fmt.Errorf("failed to stage %s: %w", db.Name(), err)
		}

		info, err := os.Stat(staged)
		if err != nil {
			return nil, fmt.Errorf("failed to stat staged %s: %w", db.Name(), err)
		}
		checksum, err := fileChecksum(staged)
		if err != nil {
			return nil, fmt.Errorf("failed to checksum staged %s: %w", db.Name(), err)
		}

		manifest.Databases = append(manifest.Databases, DatabaseManifest{
			Name:      db.Name(),
			Filename:  filename,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
	}
	return manifest, nil
}

// parseBackupKey extracts the timestamp from "<prefix>/backup-<ts>.tar.gz".
func parseBackupKey(key string) (time.Time, bool) {
	base := key
	if idx := strings.LastIndex(key, "/"); idx >= 0 {
		base = key[idx+1:]
	}
	if !strings.HasPrefix(base, "backup-") || !strings.HasSuffix(base, ".tar.gz") {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(base, "backup-"), ".tar.gz")
	ts, err := time.Parse(backupTimeFormat, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// fileChecksum calculates the SHA256 checksum of a file.
func fileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

// writeManifest writes the manifest to a JSON file.
func writeManifest(path string, manifest *Manifest) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(manifest)
}

// createArchive creates a tar.gz archive of the named files in sourceDir.
func createArchive(archivePath, sourceDir string, filenames []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer archiveFile.Close()

	gzipWriter := gzip.NewWriter(archiveFile)
	defer gzipWriter.Close()

	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	for _, filename := range filenames {
		if err := addFileToArchive(tarWriter, filepath.Join(sourceDir, filename), filename); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", filename, err)
		}
	}
	return nil
}

// addFileToArchive adds a single file to a tar archive.
func addFileToArchive(tarWriter *tar.Writer, filePath, nameInArchive string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}
	if _, err := io.Copy(tarWriter, file); err != nil {
		return err
	}
	return nil
}
