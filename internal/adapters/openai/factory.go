package openai

import (
	"fmt"

	"github.com/mikey/llm-phish-scanner/internal/config"
	"github.com/mikey/llm-phish-scanner/internal/core"
	"go.uber.org/zap"
)

// Factory creates OpenAI-compatible clients for the openai and ollama providers
type Factory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewFactory creates a new factory
func NewFactory(cfg *config.Config, logger *zap.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateLLMClient creates a client for api.openai.com or a compatible endpoint
func (f *Factory) CreateLLMClient() (core.LLMClient, error) {
	oc := f.cfg.GetOpenAI()
	if oc.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	return NewOpenAIClient(oc.APIKey, oc.BaseURL, oc.ModelName, oc.MaxTokens, oc.Temperature, oc.TopP, f.logger), nil
}

// CreateOllamaClient creates a client for a local Ollama server
func (f *Factory) CreateOllamaClient() (core.LLMClient, error) {
	oc := f.cfg.GetOllama()
	baseURL := oc.BaseURL
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	// Ollama ignores the key but go-openai always sends an Authorization header
	return NewOpenAIClient("ollama", baseURL, oc.ModelName, oc.MaxTokens, oc.Temperature, oc.TopP, f.logger), nil
}
