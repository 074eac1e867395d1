package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mikey/llm-phish-scanner/internal/core"
	"github.com/mikey/llm-phish-scanner/internal/di"
	"github.com/mikey/llm-phish-scanner/internal/intent"
	"github.com/mikey/llm-phish-scanner/internal/ports"
	"go.uber.org/zap"
)

func main() {
	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	logger *zap.Logger,
	frontends []ports.Frontend,
	llmClient core.LLMClient,
	analyzer *intent.Analyzer,
	cacheRepo core.CacheRepository,
) error {
	defer logger.Sync()

	switch health := analyzer.LLMHealth(context.Background()); health.Status {
	case core.LLMUnconfigured:
		logger.Warn("No LLM provider configured, intent analysis is degraded")
	case core.LLMUnreachable:
		logger.Warn("LLM backend is not reachable, intent analysis is degraded until it recovers",
			zap.String("error", health.Error))
	default:
		logger.Info("LLM backend status", zap.String("status", string(health.Status)))
	}

	// Start every enabled frontend; stop the ones already running if one fails
	started := make([]ports.Frontend, 0, len(frontends))
	for _, frontend := range frontends {
		if err := frontend.Start(); err != nil {
			logger.Error("Failed to start frontend", zap.String("frontend", fmt.Sprintf("%T", frontend)), zap.Error(err))
			stopFrontends(logger, started)
			return err
		}
		started = append(started, frontend)
	}
	logger.Info("Phishing scanner started", zap.Int("frontends", len(started)))

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("Shutting down...", zap.String("signal", sig.String()))

	stopFrontends(logger, started)

	// Close any resources that need closing
	if closer, ok := llmClient.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close LLM client", zap.Error(err))
		}
	}

	// Stop the cache if needed
	if stopper, ok := cacheRepo.(interface{ Stop() }); ok {
		stopper.Stop()
	}

	logger.Info("Shutdown complete")
	return nil
}

// stopFrontends stops frontends in reverse start order
func stopFrontends(logger *zap.Logger, frontends []ports.Frontend) {
	for i := len(frontends) - 1; i >= 0; i-- {
		if err := frontends[i].Stop(); err != nil {
			logger.Error("Failed to stop frontend", zap.String("frontend", fmt.Sprintf("%T", frontends[i])), zap.Error(err))
		}
	}
}
