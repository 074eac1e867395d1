package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ScanService is the entry point every frontend uses.
// It wraps the scanner with an optional result cache keyed by message fingerprint.
type ScanService struct {
	scanner      Scanner
	cache        CacheRepository
	logger       *zap.Logger
	cacheEnabled bool
	cacheTTL     time.Duration
	layers       LayerConfig
}

// NewScanService creates a new scan service
func NewScanService(
	scanner Scanner,
	cache CacheRepository,
	logger *zap.Logger,
	cacheEnabled bool,
	cacheTTL time.Duration,
	layers LayerConfig,
) *ScanService {
	return &ScanService{
		scanner:      scanner,
		cache:        cache,
		logger:       logger,
		cacheEnabled: cacheEnabled && cache != nil,
		cacheTTL:     cacheTTL,
		layers:       layers,
	}
}

// DefaultLayers returns the layer configuration used when a caller does not specify one
func (s *ScanService) DefaultLayers() LayerConfig {
	return s.layers
}

// ScanMessage scans a message with the service's default layer configuration
func (s *ScanService) ScanMessage(ctx context.Context, msg *Message) (*ScanResult, error) {
	return s.ScanMessageWithLayers(ctx, msg, s.layers)
}

// ScanMessageWithLayers scans a message, serving repeated messages from the cache if enabled.
// Degraded results are returned but never cached.
func (s *ScanService) ScanMessageWithLayers(ctx context.Context, msg *Message, layers LayerConfig) (*ScanResult, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}

	fingerprint := Fingerprint(msg, layers)

	if s.cacheEnabled {
		if entry, err := s.cache.Get(ctx, fingerprint); err == nil && entry.Result != nil {
			s.logger.Debug("Cache hit for message",
				zap.String("fingerprint", fingerprint),
				zap.String("sender", msg.SenderAddress))
			return entry.Result, nil
		}
	}

	result, err := s.scanner.Scan(ctx, msg, layers)
	if err != nil {
		return nil, err
	}

	if s.cacheEnabled && result.Degraded() {
		s.logger.Debug("Not caching degraded scan result",
			zap.String("fingerprint", fingerprint),
			zap.String("scan_id", result.ID))
	} else if s.cacheEnabled {
		now := time.Now()
		entry := &CacheEntry{
			Fingerprint: fingerprint,
			Result:      result,
			LastSeen:    now,
			ExpiresAt:   now.Add(s.cacheTTL),
		}
		if err := s.cache.Set(ctx, entry); err != nil {
			s.logger.Error("Failed to update cache", zap.Error(err))
		}
	}

	return result, nil
}

// Fingerprint derives a stable cache key from the message content and enabled layers
func Fingerprint(msg *Message, layers LayerConfig) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00",
		strings.ToLower(msg.SenderAddress),
		strings.ToLower(msg.SenderDomain),
		msg.Subject,
		msg.BodyText)
	for _, u := range msg.URLs {
		fmt.Fprintf(h, "%s\x00", u)
	}
	fmt.Fprintf(h, "%t%t%t", layers.Identity, layers.Reputation, layers.Intent)
	return hex.EncodeToString(h.Sum(nil))
}
