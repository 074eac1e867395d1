package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mikey/llm-phish-scanner/internal/core"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a cache entry is not found
	ErrNotFound = errors.New("cache entry not found")
	// ErrExpired is returned when a cache entry has expired
	ErrExpired = errors.New("cache entry expired")
)

const tableName = "scan_cache"

// encodeResult serializes a scan result for the SQL backends
func encodeResult(result *core.ScanResult) ([]byte, error) {
	if result == nil {
		return nil, errors.New("cache entry has no result")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode scan result: %w", err)
	}
	return data, nil
}

// decodeEntry rebuilds a cache entry from stored columns
func decodeEntry(fingerprint string, data []byte, lastSeen, expiresAt int64) (*core.CacheEntry, error) {
	var result core.ScanResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode scan result: %w", err)
	}
	return &core.CacheEntry{
		Fingerprint: fingerprint,
		Result:      &result,
		LastSeen:    time.Unix(lastSeen, 0),
		ExpiresAt:   time.Unix(expiresAt, 0),
	}, nil
}

// cleaner runs Cleanup periodically until stopped
type cleaner struct {
	freq   time.Duration
	stopCh chan struct{}
	logger *zap.Logger
}

func newCleaner(freq time.Duration, logger *zap.Logger) *cleaner {
	return &cleaner{freq: freq, stopCh: make(chan struct{}), logger: logger}
}

// start launches the cleanup loop; a non-positive frequency disables it
func (c *cleaner) start(cleanup func(ctx context.Context) error) {
	if c.freq <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(c.freq)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := cleanup(context.Background()); err != nil {
					c.logger.Error("Failed to clean up cache", zap.Error(err))
				}
			case <-c.stopCh:
				return
			}
		}
	}()
}

func (c *cleaner) stop() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
}
