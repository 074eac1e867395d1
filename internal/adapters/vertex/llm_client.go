package vertex

import (
	"context"
	"errors"
	"fmt"

	"github.com/mikey/llm-phish-scanner/internal/core"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// ErrEmptyResponse is returned when the model produces no text
var ErrEmptyResponse = errors.New("empty response from genai")

// Options configures the genai client
type Options struct {
	APIKey      string
	Project     string
	Location    string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	// BaseURL overrides the service endpoint
	BaseURL string
}

// VertexClient is an implementation of the LLMClient interface on the unified genai SDK.
// It talks to Vertex AI when a project is configured and to the Gemini API otherwise.
type VertexClient struct {
	client *genai.Client
	opts   Options
	logger *zap.Logger
}

// NewVertexClient creates a new client
func NewVertexClient(ctx context.Context, opts Options, logger *zap.Logger) (*VertexClient, error) {
	cc := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.Project != "" {
		cc.Backend = genai.BackendVertexAI
		cc.Project = opts.Project
		cc.Location = opts.Location
		cc.APIKey = ""
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &VertexClient{client: client, opts: opts, logger: logger}, nil
}

// Complete runs GenerateContent with the instruction as system content
func (c *VertexClient) Complete(ctx context.Context, req core.LLMRequest) (*core.LLMResponse, error) {
	gc := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
		Temperature:       genai.Ptr(c.opts.Temperature),
		TopP:              genai.Ptr(c.opts.TopP),
	}
	if c.opts.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(c.opts.MaxTokens)
	}
	if req.JSONOutput {
		gc.ResponseMIMEType = "application/json"
	}

	result, err := c.client.Models.GenerateContent(ctx, c.opts.ModelName, genai.Text(req.User), gc)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	text := result.Text()
	if text == "" {
		return nil, ErrEmptyResponse
	}
	model := result.ModelVersion
	if model == "" {
		model = c.opts.ModelName
	}
	c.logger.Debug("genai response received", zap.String("model", model), zap.String("id", result.ResponseID))

	return &core.LLMResponse{Text: text, Model: model, ID: result.ResponseID}, nil
}
