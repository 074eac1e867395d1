package core

import (
	"context"
	"errors"
	"time"
)

// ErrNilMessage is returned when Scan is called without a message
var ErrNilMessage = errors.New("scan called with nil message")

// LLMRequest is a two-segment prompt: a fixed instruction and a delimited data block
type LLMRequest struct {
	System     string
	User       string
	JSONOutput bool
}

// LLMResponse is the raw text produced by a model
type LLMResponse struct {
	Text  string
	Model string
	ID    string
}

// LLMClient defines the interface for interacting with LLM services
type LLMClient interface {
	// Complete sends the prompt and returns the raw model output
	Complete(ctx context.Context, req LLMRequest) (*LLMResponse, error)
}

// LLMPinger is implemented by LLM clients that can check their backend without a completion
type LLMPinger interface {
	Ping(ctx context.Context) error
}

// DNSResolver looks up TXT records.
// A name that does not exist or has no TXT records yields an empty slice and a nil error;
// timeouts, server failures and unreachable resolvers yield an error.
type DNSResolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// DomainAgeLookup returns the registration date of a registrable domain.
// found is false when the registry has no creation date for the domain.
type DomainAgeLookup interface {
	CreationDate(ctx context.Context, domain string) (created time.Time, found bool, err error)
}

// Scanner runs a complete scan of a message
type Scanner interface {
	Scan(ctx context.Context, msg *Message, layers LayerConfig) (*ScanResult, error)
}

// CacheRepository defines the interface for caching scan results
type CacheRepository interface {
	// Get retrieves a cached entry for a message fingerprint
	Get(ctx context.Context, fingerprint string) (*CacheEntry, error)

	// Set stores a cache entry
	Set(ctx context.Context, entry *CacheEntry) error

	// Delete removes a cache entry
	Delete(ctx context.Context, fingerprint string) error

	// Cleanup removes expired entries
	Cleanup(ctx context.Context) error
}
