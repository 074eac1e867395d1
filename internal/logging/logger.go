package logging

import (
	"fmt"
	"strings"

	"github.com/mikey/llm-phish-scanner/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger initializes the daemon logger from configuration
func InitLogger(cfg *config.Config) (*zap.Logger, error) {
	return NewLogger(cfg.GetString("logging.level"), cfg.GetString("logging.format"))
}

// NewLogger builds a logger for a level name and a json or console format.
// Unknown levels fall back to info.
func NewLogger(levelName, format string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(levelName)))
	if err != nil {
		level = zapcore.InfoLevel
	}
	return build(level, format == "json", "stderr")
}

// InitConsoleLogger initializes a logger for the CLI. It writes to stderr so
// that reports on stdout stay machine readable.
func InitConsoleLogger(verbose bool, jsonFormat bool) (*zap.Logger, error) {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	return build(level, jsonFormat, "stderr")
}

func build(level zapcore.Level, jsonFormat bool, output string) (*zap.Logger, error) {
	var logConfig zap.Config
	if jsonFormat {
		logConfig = zap.NewProductionConfig()
	} else {
		logConfig = zap.NewDevelopmentConfig()
		logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	logConfig.Level = zap.NewAtomicLevelAt(level)
	logConfig.OutputPaths = []string{output}
	logConfig.ErrorOutputPaths = []string{output}

	logger, err := logConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
