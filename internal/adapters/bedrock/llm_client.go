package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/mikey/llm-phish-scanner/internal/core"
	"go.uber.org/zap"
)

const anthropicVersion = "bedrock-2023-05-31"

// ErrEmptyResponse is returned when the model body carries no text
var ErrEmptyResponse = errors.New("empty response from Bedrock model")

// ModelInvoker is the subset of the bedrockruntime client used here
type ModelInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockClient is an implementation of the LLMClient interface using Amazon Bedrock
type BedrockClient struct {
	client      ModelInvoker
	modelID     string
	maxTokens   int
	temperature float32
	topP        float32
	logger      *zap.Logger
}

// NewBedrockClient creates a new Bedrock client
func NewBedrockClient(
	client ModelInvoker,
	modelID string,
	maxTokens int,
	temperature float32,
	topP float32,
	logger *zap.Logger,
) *BedrockClient {
	return &BedrockClient{
		client:      client,
		modelID:     modelID,
		maxTokens:   maxTokens,
		temperature: temperature,
		topP:        topP,
		logger:      logger,
	}
}

func (c *BedrockClient) isAnthropicModel() bool {
	return strings.Contains(c.modelID, "anthropic.")
}

func (c *BedrockClient) isAmazonTitanModel() bool {
	return strings.Contains(c.modelID, "amazon.titan")
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

// payload builds the model-family specific request body
func (c *BedrockClient) payload(req core.LLMRequest) ([]byte, error) {
	switch {
	case c.isAnthropicModel():
		// Messages API keeps the instruction in its own system field
		return json.Marshal(map[string]any{
			"anthropic_version": anthropicVersion,
			"max_tokens":        c.maxTokens,
			"system":            req.System,
			"messages": []anthropicMessage{{
				Role:    "user",
				Content: []anthropicContent{{Type: "text", Text: req.User}},
			}},
			"temperature": c.temperature,
			"top_p":       c.topP,
		})
	case c.isAmazonTitanModel():
		return json.Marshal(map[string]any{
			"inputText": req.System + "\n\n" + req.User,
			"textGenerationConfig": map[string]any{
				"maxTokenCount": c.maxTokens,
				"temperature":   c.temperature,
				"topP":          c.topP,
			},
		})
	default:
		return json.Marshal(map[string]any{
			"prompt":      req.System + "\n\n" + req.User,
			"max_gen_len": c.maxTokens,
			"temperature": c.temperature,
			"top_p":       c.topP,
		})
	}
}

// responseText extracts the generated text from the model-family specific body
func (c *BedrockClient) responseText(body []byte) (text, id string, err error) {
	switch {
	case c.isAnthropicModel():
		var resp struct {
			ID      string             `json:"id"`
			Content []anthropicContent `json:"content"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", "", fmt.Errorf("failed to unmarshal Claude response: %w", err)
		}
		var sb strings.Builder
		for _, part := range resp.Content {
			if part.Type == "text" {
				sb.WriteString(part.Text)
			}
		}
		return sb.String(), resp.ID, nil
	case c.isAmazonTitanModel():
		var resp struct {
			Results []struct {
				OutputText string `json:"outputText"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", "", fmt.Errorf("failed to unmarshal Titan response: %w", err)
		}
		if len(resp.Results) == 0 {
			return "", "", nil
		}
		return resp.Results[0].OutputText, "", nil
	default:
		var resp struct {
			Generation string `json:"generation"`
			Output     string `json:"output"`
			Text       string `json:"text"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", "", fmt.Errorf("failed to unmarshal model response: %w", err)
		}
		for _, s := range []string{resp.Generation, resp.Output, resp.Text} {
			if s != "" {
				return s, "", nil
			}
		}
		return "", "", nil
	}
}

// Complete invokes the configured model with the two-segment prompt
func (c *BedrockClient) Complete(ctx context.Context, req core.LLMRequest) (*core.LLMResponse, error) {
	payload, err := c.payload(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	resp, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		Body:        payload,
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke Bedrock model: %w", err)
	}

	text, id, err := c.responseText(resp.Body)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyResponse
	}
	c.logger.Debug("Bedrock response received", zap.String("model", c.modelID), zap.Int("length", len(text)))

	return &core.LLMResponse{Text: text, Model: c.modelID, ID: id}, nil
}
