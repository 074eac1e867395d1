package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/mikey/llm-phish-scanner/internal/core"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// DefaultOllamaBaseURL is the OpenAI-compatible endpoint of a local Ollama server
const DefaultOllamaBaseURL = "http://localhost:11434/v1"

// ErrEmptyResponse is returned when the completion carries no choices
var ErrEmptyResponse = errors.New("empty response from chat completion")

// OpenAIClient is an implementation of the LLMClient interface for OpenAI-compatible chat APIs
type OpenAIClient struct {
	client      *openai.Client
	modelName   string
	maxTokens   int
	temperature float32
	topP        float32
	logger      *zap.Logger
}

// NewOpenAIClient creates a new client. An empty baseURL targets api.openai.com.
func NewOpenAIClient(
	apiKey string,
	baseURL string,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	logger *zap.Logger,
) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(cfg),
		modelName:   modelName,
		maxTokens:   maxTokens,
		temperature: temperature,
		topP:        topP,
		logger:      logger,
	}
}

// Complete sends the instruction and data block as separate chat messages
func (c *OpenAIClient) Complete(ctx context.Context, req core.LLMRequest) (*core.LLMResponse, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: c.modelName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		TopP:        c.topP,
	}
	if req.JSONOutput {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	model := resp.Model
	if model == "" {
		model = c.modelName
	}
	c.logger.Debug("Chat completion received",
		zap.String("model", model),
		zap.String("id", resp.ID),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)))

	return &core.LLMResponse{
		Text:  resp.Choices[0].Message.Content,
		Model: model,
		ID:    resp.ID,
	}, nil
}

// Ping lists the models the endpoint serves, which Ollama and OpenAI both answer cheaply
func (c *OpenAIClient) Ping(ctx context.Context) error {
	models, err := c.client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}
	c.logger.Debug("LLM endpoint reachable", zap.Int("models", len(models.Models)))
	return nil
}
