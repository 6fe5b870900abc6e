// Package cache stores derived read results in the cache database, keyed
// deterministically by query parameters. Entries drop eagerly when
// reconciliation moves a country and lazily on TTL expiry; a cold cache is
// only ever a latency cost, never a correctness one.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/shortwatch/shortwatch/internal/telemetry"
)

// Cache is a TTL key-value store over the cache database.
type Cache struct {
	db      *sql.DB
	ttl     time.Duration
	log     zerolog.Logger
	metrics *telemetry.Metrics
}

// New creates a new result cache with the given default TTL.
func New(db *sql.DB, ttl time.Duration, log zerolog.Logger) *Cache {
	return &Cache{
		db:  db,
		ttl: ttl,
		log: log.With().Str("service", "cache").Logger(),
	}
}

// SetMetrics enables hit/miss counters.
func (c *Cache) SetMetrics(m *telemetry.Metrics) {
	c.metrics = m
}

// Key builds a deterministic cache key. The country segment leads so that
// per-country invalidation is a prefix delete; an empty countryID marks a
// cross-country result, which every reconcile invalidates.
func Key(countryID, metric string, parts ...string) string {
	if countryID == "" {
		countryID = "all"
	}
	return strings.Join(append([]string{countryID, metric}, parts...), "|")
}

// Get loads a cached value into dest. Returns false on a miss or an expired
// entry; expired rows are left for the sweep job.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	var payload []byte
	var expiresAt int64
	err := c.db.QueryRowContext(ctx,
		"SELECT payload, expires_at FROM cache_entries WHERE cache_key = ?", key).
		Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		c.observe(false)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	if time.Now().Unix() >= expiresAt {
		c.observe(false)
		return false, nil
	}

	if err := msgpack.Unmarshal(payload, dest); err != nil {
		// A decode failure means the stored shape changed; treat as a miss
		// and drop the stale entry.
		c.log.Warn().Err(err).Str("key", key).Msg("Dropping undecodable cache entry")
		_ = c.Delete(ctx, key)
		c.observe(false)
		return false, nil
	}
	c.observe(true)
	return true, nil
}

func (c *Cache) observe(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHits.Inc()
	} else {
		c.metrics.CacheMisses.Inc()
	}
}

// Put stores a value under the default TTL.
func (c *Cache) Put(ctx context.Context, key string, value interface{}) error {
	payload, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	expiresAt := time.Now().Add(c.ttl).Unix()
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO cache_entries (cache_key, payload, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			payload = excluded.payload,
			expires_at = excluded.expires_at
	`, key, payload, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Delete removes one entry.
func (c *Cache) Delete(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE cache_key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// DeleteByPrefix removes every entry whose key starts with the prefix.
func (c *Cache) DeleteByPrefix(ctx context.Context, prefix string) error {
	_, err := c.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE cache_key LIKE ?", prefix+"%")
	if err != nil {
		return fmt.Errorf("failed to delete cache entries by prefix: %w", err)
	}
	return nil
}

// InvalidateCountry drops the country's results plus every cross-country
// result, which by construction might include the country.
func (c *Cache) InvalidateCountry(ctx context.Context, countryID string) error {
	if err := c.DeleteByPrefix(ctx, countryID+"|"); err != nil {
		return err
	}
	if err := c.DeleteByPrefix(ctx, "all|"); err != nil {
		return err
	}
	c.log.Debug().Str("country", countryID).Msg("Cache invalidated for country")
	return nil
}

// InvalidateAll empties the cache.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, "DELETE FROM cache_entries")
	if err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	c.log.Debug().Msg("Cache cleared")
	return nil
}

// DeleteExpired removes entries past their TTL. Runs on a schedule.
func (c *Cache) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE expires_at <= ?", time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired cache entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.log.Debug().Int64("removed", n).Msg("Swept expired cache entries")
	}
	return n, nil
}

// Stats returns entry counts for the system status endpoint.
func (c *Cache) Stats(ctx context.Context) (entries, expired int64, err error) {
	err = c.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(expires_at <= ?), 0) FROM cache_entries
	`, time.Now().Unix()).Scan(&entries, &expired)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read cache stats: %w", err)
	}
	return entries, expired, nil
}
