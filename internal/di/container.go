package di

import (
	"go.uber.org/dig"

	"github.com/mikey/llm-phish-scanner/internal/config"
	"github.com/mikey/llm-phish-scanner/internal/core"
	"github.com/mikey/llm-phish-scanner/internal/factory"
	"github.com/mikey/llm-phish-scanner/internal/identity"
	"github.com/mikey/llm-phish-scanner/internal/intent"
	"github.com/mikey/llm-phish-scanner/internal/logging"
	"github.com/mikey/llm-phish-scanner/internal/ports"
	"github.com/mikey/llm-phish-scanner/internal/reputation"
	"github.com/mikey/llm-phish-scanner/internal/scan"
)

// BuildContainer creates and configures the dependency injection container of the daemon
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	if err := provideScanStack(container); err != nil {
		return nil, err
	}

	// Register frontends
	if err := container.Provide(factory.NewFilterFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(func(
		f *factory.FilterFactory,
		identityChecker *identity.Checker,
		reputationChecker *reputation.Checker,
		analyzer *intent.Analyzer,
	) ([]ports.Frontend, error) {
		return f.CreateFrontends(identityChecker, reputationChecker, analyzer)
	}); err != nil {
		return nil, err
	}

	return container, nil
}

// provideScanStack registers everything from the LLM client up to the scan service.
// The container must already provide *config.Config and *zap.Logger.
func provideScanStack(container *dig.Container) error {
	// Register factories
	for _, constructor := range []interface{}{
		factory.NewLLMFactory,
		factory.NewCacheFactory,
		factory.NewScanFactory,
	} {
		if err := container.Provide(constructor); err != nil {
			return err
		}
	}

	// Register LLM client
	if err := container.Provide(func(f *factory.LLMFactory) (core.LLMClient, error) {
		return f.CreateLLMClient()
	}); err != nil {
		return err
	}

	// Register cache repository
	if err := container.Provide(func(f *factory.CacheFactory) (core.CacheRepository, error) {
		return f.CreateCacheRepository()
	}); err != nil {
		return err
	}

	// Register layers
	if err := container.Provide(func(f *factory.ScanFactory) *identity.Checker {
		return f.CreateIdentityChecker()
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.ScanFactory) (*reputation.Checker, error) {
		return f.CreateReputationChecker()
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.ScanFactory, llm core.LLMClient) *intent.Analyzer {
		return f.CreateIntentAnalyzer(llm)
	}); err != nil {
		return err
	}

	// Register orchestrator and scan service
	if err := container.Provide(func(
		f *factory.ScanFactory,
		identityChecker *identity.Checker,
		reputationChecker *reputation.Checker,
		analyzer *intent.Analyzer,
	) *scan.Orchestrator {
		return f.CreateOrchestrator(identityChecker, reputationChecker, analyzer)
	}); err != nil {
		return err
	}
	return container.Provide(func(
		f *factory.ScanFactory,
		orchestrator *scan.Orchestrator,
		cache core.CacheRepository,
	) *core.ScanService {
		return f.CreateScanService(orchestrator, cache)
	})
}
