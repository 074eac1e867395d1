package vertex

import (
	"context"
	"fmt"

	"github.com/mikey/llm-phish-scanner/internal/config"
	"github.com/mikey/llm-phish-scanner/internal/core"
	"go.uber.org/zap"
)

// Factory creates genai clients from configuration
type Factory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewFactory creates a new factory
func NewFactory(cfg *config.Config, logger *zap.Logger) *Factory {
	return &Factory{cfg: cfg, logger: logger}
}

// CreateLLMClient creates a client for Vertex AI or the Gemini API
func (f *Factory) CreateLLMClient() (core.LLMClient, error) {
	vc := f.cfg.GetVertex()
	if vc.Project == "" && vc.APIKey == "" {
		return nil, fmt.Errorf("vertex requires a project or an API key")
	}
	client, err := NewVertexClient(context.Background(), Options{
		APIKey:      vc.APIKey,
		Project:     vc.Project,
		Location:    vc.Location,
		ModelName:   vc.ModelName,
		MaxTokens:   vc.MaxTokens,
		Temperature: vc.Temperature,
		TopP:        vc.TopP,
	}, f.logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}
