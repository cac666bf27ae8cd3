package sqlite

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/beacon/internal/models"
)

// CacheMetrics are the in-process hit/miss counters.
type CacheMetrics struct {
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	Stores         int64   `json:"stores"`
	HitRatePercent float64 `json:"hit_rate_percent"`
	TotalRequests  int64   `json:"total_requests"`
}

// CacheStats describes the cache contents and counters.
type CacheStats struct {
	TotalEntries   int          `json:"total_entries"`
	ValidEntries   int          `json:"valid_entries"`
	ExpiredEntries int          `json:"expired_entries"`
	DBSizeBytes    int64        `json:"db_size_bytes"`
	DBPath         string       `json:"db_path"`
	TTLSeconds     int          `json:"ttl_seconds"`
	Metrics        CacheMetrics `json:"metrics"`
}

// DatabaseHealth reports cache database reachability and integrity.
type DatabaseHealth struct {
	Connected   bool   `json:"connected"`
	Path        string `json:"path"`
	Integrity   string `json:"integrity"`
	JournalMode string `json:"journal_mode"`
	Error       string `json:"error,omitempty"`
}

// CacheStorage is the TTL result cache backed by the cache table. Reads that
// hit corruption count as misses and invalidate the database handle so the
// file is recreated; writes that fail are dropped silently since caching is
// best effort.
type CacheStorage struct {
	db         *DB
	ttlSeconds int
	logger     arbor.ILogger

	hits   atomic.Int64
	misses atomic.Int64
	stores atomic.Int64
}

// NewCacheStorage creates a cache storage with the given TTL.
func NewCacheStorage(logger arbor.ILogger, db *DB, ttlSeconds int) *CacheStorage {
	return &CacheStorage{
		db:         db,
		ttlSeconds: ttlSeconds,
		logger:     logger,
	}
}

// URLHash returns the cache key for a normalized URL.
func URLHash(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached report for a URL, or nil on miss, expiry, or any
// read error.
func (c *CacheStorage) Get(url string) *models.AuditResponse {
	db, err := c.db.Handle()
	if err != nil {
		c.misses.Add(1)
		return nil
	}

	var resultJSON string
	var createdAt float64
	var ttlSeconds int
	row := db.QueryRow(
		"SELECT result_json, created_at, ttl_seconds FROM cache WHERE url_hash = ?",
		URLHash(url),
	)
	if err := row.Scan(&resultJSON, &createdAt, &ttlSeconds); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			c.logger.Warn().Err(err).Msg("Cache read failed, invalidating database")
			c.db.Invalidate()
		}
		c.misses.Add(1)
		return nil
	}

	if float64(time.Now().Unix())-createdAt >= float64(ttlSeconds) {
		c.misses.Add(1)
		return nil
	}

	var result models.AuditResponse
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		c.logger.Warn().Err(err).Msg("Cache entry corrupted, invalidating database")
		c.db.Invalidate()
		c.misses.Add(1)
		return nil
	}

	c.hits.Add(1)
	return &result
}

// Put stores a report for a URL. Failures are logged and swallowed.
func (c *CacheStorage) Put(url string, result *models.AuditResponse) {
	db, err := c.db.Handle()
	if err != nil {
		return
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return
	}

	_, err = db.Exec(
		`INSERT OR REPLACE INTO cache (url_hash, normalized_url, result_json, created_at, ttl_seconds)
		 VALUES (?, ?, ?, ?, ?)`,
		URLHash(url), url, string(resultJSON), float64(time.Now().Unix()), c.ttlSeconds,
	)
	if err != nil {
		c.logger.Warn().Err(err).Str("url", url).Msg("Failed to store cache entry")
		return
	}
	c.stores.Add(1)
}

// CleanupExpired removes expired entries and returns the removed count.
func (c *CacheStorage) CleanupExpired() int {
	db, err := c.db.Handle()
	if err != nil {
		return 0
	}

	result, err := db.Exec(
		"DELETE FROM cache WHERE (? - created_at) >= ttl_seconds",
		float64(time.Now().Unix()),
	)
	if err != nil {
		return 0
	}
	removed, _ := result.RowsAffected()
	return int(removed)
}

// Clear removes the database file entirely. It is recreated on next use.
func (c *CacheStorage) Clear() {
	c.db.Remove()
	c.logger.Info().Str("path", c.db.Path()).Msg("Cache cleared")
}

// Stats returns cache contents and hit/miss counters.
func (c *CacheStorage) Stats() CacheStats {
	stats := CacheStats{
		DBPath:     c.db.Path(),
		TTLSeconds: c.ttlSeconds,
	}

	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses
	stats.Metrics = CacheMetrics{
		Hits:          hits,
		Misses:        misses,
		Stores:        c.stores.Load(),
		TotalRequests: total,
	}
	if total > 0 {
		stats.Metrics.HitRatePercent = float64(hits) / float64(total) * 100
	}

	db, err := c.db.Handle()
	if err != nil {
		return stats
	}

	now := float64(time.Now().Unix())
	db.QueryRow("SELECT COUNT(*) FROM cache").Scan(&stats.TotalEntries)
	db.QueryRow("SELECT COUNT(*) FROM cache WHERE (? - created_at) < ttl_seconds", now).Scan(&stats.ValidEntries)
	stats.ExpiredEntries = stats.TotalEntries - stats.ValidEntries
	stats.DBSizeBytes = c.db.SizeBytes()

	return stats
}

// Health checks that the database answers queries and reports its integrity
// and journal mode.
func (c *CacheStorage) Health() DatabaseHealth {
	health := DatabaseHealth{
		Path:        c.db.Path(),
		Integrity:   "unknown",
		JournalMode: "unknown",
	}

	db, err := c.db.Handle()
	if err != nil {
		health.Error = err.Error()
		return health
	}

	var one int
	if err := db.QueryRow("SELECT 1").Scan(&one); err != nil {
		health.Error = err.Error()
		return health
	}

	health.Connected = true
	db.QueryRow("PRAGMA integrity_check").Scan(&health.Integrity)
	db.QueryRow("PRAGMA journal_mode").Scan(&health.JournalMode)
	return health
}
