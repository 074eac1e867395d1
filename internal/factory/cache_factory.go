package factory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mikey/llm-phish-scanner/internal/adapters/cache"
	"github.com/mikey/llm-phish-scanner/internal/config"
	"github.com/mikey/llm-phish-scanner/internal/core"
	"go.uber.org/zap"
)

// CacheFactory creates cache repositories based on configuration
type CacheFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewCacheFactory creates a new cache factory
func NewCacheFactory(cfg *config.Config, logger *zap.Logger) *CacheFactory {
	return &CacheFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateCacheRepository creates a cache repository based on the configuration.
// A disabled cache yields a nil repository.
func (f *CacheFactory) CreateCacheRepository() (core.CacheRepository, error) {
	cc := f.cfg.GetCache()
	if !cc.Enabled {
		return nil, nil
	}

	switch cc.Type {
	case "", "memory":
		return cache.NewMemoryCache(f.logger, cc.CleanupFrequency), nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cc.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
		}
		return repository(cache.NewSQLiteCache(cc.SQLitePath, f.logger, cc.CleanupFrequency))
	case "mysql":
		if cc.MySQLDSN == "" {
			return nil, fmt.Errorf("cache.mysql_dsn is required for the mysql cache")
		}
		return repository(cache.NewMySQLCache(cc.MySQLDSN, f.logger, cc.CleanupFrequency))
	case "postgres":
		if cc.PostgresDSN == "" {
			return nil, fmt.Errorf("cache.postgres_dsn is required for the postgres cache")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return repository(cache.NewPostgresCache(ctx, cc.PostgresDSN, f.logger, cc.CleanupFrequency))
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cc.Type)
	}
}

// repository keeps a failed constructor from yielding a typed nil interface
func repository[T core.CacheRepository](repo T, err error) (core.CacheRepository, error) {
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// GetCacheTTL returns the configured cache TTL
func (f *CacheFactory) GetCacheTTL() time.Duration {
	return f.cfg.GetCache().TTL
}

// IsCacheEnabled returns whether caching is enabled
func (f *CacheFactory) IsCacheEnabled() bool {
	return f.cfg.GetCache().Enabled
}
