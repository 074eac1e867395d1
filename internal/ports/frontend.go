package ports

import (
	"context"

	"github.com/mikey/llm-phish-scanner/internal/core"
)

// MessageScanner is what every frontend calls to scan a message
type MessageScanner interface {
	// ScanMessage scans with the default layer configuration
	ScanMessage(ctx context.Context, msg *core.Message) (*core.ScanResult, error)

	// ScanMessageWithLayers scans with an explicit layer configuration
	ScanMessageWithLayers(ctx context.Context, msg *core.Message, layers core.LayerConfig) (*core.ScanResult, error)
}

// Frontend is a long-running delivery surface for scans: the Postfix content
// filter, the HTTP API or the queue worker
type Frontend interface {
	// Start starts serving in the background
	Start() error

	// Stop stops the service
	Stop() error
}
