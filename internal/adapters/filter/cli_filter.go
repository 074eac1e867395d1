package filter

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mikey/llm-phish-scanner/internal/core"
	"github.com/mikey/llm-phish-scanner/internal/ports"
	"go.uber.org/zap"
)

// Output formats supported by the CLI
const (
	FormatText     = "text"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// CliFilter scans messages from files and prints a report
type CliFilter struct {
	service ports.MessageScanner
	logger  *zap.Logger
	format  string
	out     io.Writer
}

// NewCliFilter creates a new CLI filter
func NewCliFilter(service ports.MessageScanner, logger *zap.Logger, format string, out io.Writer) (*CliFilter, error) {
	switch format {
	case "":
		format = FormatText
	case FormatText, FormatJSON, FormatMarkdown:
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
	if out == nil {
		out = os.Stdout
	}
	return &CliFilter{
		service: service,
		logger:  logger,
		format:  format,
		out:     out,
	}, nil
}

// ProcessFile parses a raw message file and scans it
func (f *CliFilter) ProcessFile(ctx context.Context, path string, layers core.LayerConfig) (*core.ScanResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open message file: %w", err)
	}
	defer file.Close()

	msg, err := ParseMessage(file, "")
	if err != nil {
		return nil, err
	}
	return f.ProcessMessage(ctx, msg, layers)
}

// ProcessMessage scans a message and writes the report in the configured format
func (f *CliFilter) ProcessMessage(ctx context.Context, msg *core.Message, layers core.LayerConfig) (*core.ScanResult, error) {
	f.logger.Debug("Scanning message",
		zap.String("sender", msg.SenderAddress),
		zap.Int("urls", len(msg.URLs)),
		zap.Int("body_length", len(msg.BodyText)))

	result, err := f.service.ScanMessageWithLayers(ctx, msg, layers)
	if err != nil {
		f.logger.Error("Failed to scan message", zap.Error(err))
		return nil, err
	}

	if err := WriteReport(f.out, f.format, msg, result); err != nil {
		return nil, err
	}
	return result, nil
}
