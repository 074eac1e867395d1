package gemini

import (
	"fmt"

	"github.com/mikey/llm-phish-scanner/internal/config"
	"github.com/mikey/llm-phish-scanner/internal/core"
	"go.uber.org/zap"
)

// Factory creates new instances of GeminiClient
type Factory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewFactory creates a new factory for GeminiClient instances
func NewFactory(cfg *config.Config, logger *zap.Logger) *Factory {
	return &Factory{cfg: cfg, logger: logger}
}

// CreateLLMClient creates a new GeminiClient
func (f *Factory) CreateLLMClient() (core.LLMClient, error) {
	gc := f.cfg.GetGemini()
	if gc.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := NewGeminiClient(gc.APIKey, gc.ModelName, gc.MaxTokens, gc.Temperature, gc.TopP, f.logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}
