package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mikey/llm-phish-scanner/internal/core"
	"go.uber.org/zap"
)

// PostgresCache is a PostgreSQL implementation of the CacheRepository interface
type PostgresCache struct {
	pool    *pgxpool.Pool
	logger  *zap.Logger
	cleaner *cleaner
}

// NewPostgresCache creates a new PostgreSQL cache
func NewPostgresCache(ctx context.Context, dsn string, logger *zap.Logger, cleanupFreq time.Duration) (*PostgresCache, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + tableName + ` (
			fingerprint TEXT PRIMARY KEY,
			result JSONB NOT NULL,
			last_seen BIGINT NOT NULL,
			expires_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_cache_expires_at ON ` + tableName + ` (expires_at)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	cache := &PostgresCache{
		pool:    pool,
		logger:  logger,
		cleaner: newCleaner(cleanupFreq, logger),
	}
	cache.cleaner.start(cache.Cleanup)
	return cache, nil
}

// Get retrieves a cached entry for a message fingerprint
func (c *PostgresCache) Get(ctx context.Context, fingerprint string) (*core.CacheEntry, error) {
	var (
		data                []byte
		lastSeen, expiresAt int64
	)
	err := c.pool.QueryRow(ctx, `
		SELECT result, last_seen, expires_at
		FROM `+tableName+`
		WHERE fingerprint = $1
	`, fingerprint).Scan(&data, &lastSeen, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cache: %w", err)
	}
	if time.Now().Unix() > expiresAt {
		return nil, ErrExpired
	}
	return decodeEntry(fingerprint, data, lastSeen, expiresAt)
}

// Set stores a cache entry
func (c *PostgresCache) Set(ctx context.Context, entry *core.CacheEntry) error {
	data, err := encodeResult(entry.Result)
	if err != nil {
		return err
	}
	_, err = c.pool.Exec(ctx, `
		INSERT INTO `+tableName+` (fingerprint, result, last_seen, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (fingerprint) DO UPDATE SET
			result = EXCLUDED.result,
			last_seen = EXCLUDED.last_seen,
			expires_at = EXCLUDED.expires_at
	`, entry.Fingerprint, data, entry.LastSeen.Unix(), entry.ExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert cache entry: %w", err)
	}
	return nil
}

// Delete removes a cache entry
func (c *PostgresCache) Delete(ctx context.Context, fingerprint string) error {
	if _, err := c.pool.Exec(ctx, `DELETE FROM `+tableName+` WHERE fingerprint = $1`, fingerprint); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Cleanup removes expired entries
func (c *PostgresCache) Cleanup(ctx context.Context) error {
	tag, err := c.pool.Exec(ctx, `DELETE FROM `+tableName+` WHERE expires_at < $1`, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to clean up expired entries: %w", err)
	}
	c.logger.Debug("Cleaned up expired cache entries", zap.Int64("expired_count", tag.RowsAffected()))
	return nil
}

// Stop stops the background cleanup task and closes the pool
func (c *PostgresCache) Stop() {
	c.cleaner.stop()
	c.pool.Close()
}
