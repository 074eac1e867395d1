package factory

import (
	"fmt"

	"github.com/mikey/llm-phish-scanner/internal/adapters/bedrock"
	"github.com/mikey/llm-phish-scanner/internal/adapters/gemini"
	"github.com/mikey/llm-phish-scanner/internal/adapters/openai"
	"github.com/mikey/llm-phish-scanner/internal/adapters/vertex"
	"github.com/mikey/llm-phish-scanner/internal/config"
	"github.com/mikey/llm-phish-scanner/internal/core"
	"go.uber.org/zap"
)

// LLM providers selectable with llm.provider
const (
	ProviderOllama  = "ollama"
	ProviderOpenAI  = "openai"
	ProviderGemini  = "gemini"
	ProviderVertex  = "vertex"
	ProviderBedrock = "bedrock"
	ProviderNone    = "none"
)

// LLMFactory creates LLM clients
type LLMFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewLLMFactory creates a new LLM factory
func NewLLMFactory(cfg *config.Config, logger *zap.Logger) *LLMFactory {
	return &LLMFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateLLMClient creates a new LLM client based on the configuration.
// The none provider yields a nil client, which degrades the intent layer.
func (f *LLMFactory) CreateLLMClient() (core.LLMClient, error) {
	provider := f.cfg.GetLLM().Provider
	f.logger.Info("Creating LLM client", zap.String("provider", provider))

	switch provider {
	case "", ProviderOllama:
		return openai.NewFactory(f.cfg, f.logger).CreateOllamaClient()
	case ProviderOpenAI:
		return openai.NewFactory(f.cfg, f.logger).CreateLLMClient()
	case ProviderGemini:
		return gemini.NewFactory(f.cfg, f.logger).CreateLLMClient()
	case ProviderVertex:
		return vertex.NewFactory(f.cfg, f.logger).CreateLLMClient()
	case ProviderBedrock:
		return bedrock.NewFactory(f.cfg, f.logger).CreateLLMClient()
	case ProviderNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
}
