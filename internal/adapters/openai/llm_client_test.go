package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mikey/llm-phish-scanner/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func chatServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCompleteSendsTwoSegmentPrompt(t *testing.T) {
	var seen map[string]any
	srv := chatServer(t, http.StatusOK, `{
		"id": "chatcmpl-1",
		"model": "llama3",
		"choices": [{"index": 0, "finish_reason": "stop",
			"message": {"role": "assistant", "content": "{\"authority\": 10}"}}],
		"usage": {"total_tokens": 42}
	}`, &seen)

	client := NewOpenAIClient("ollama", srv.URL+"/v1", "llama3", 256, 0.1, 0.9, zaptest.NewLogger(t))
	resp, err := client.Complete(context.Background(), core.LLMRequest{
		System:     "instruction",
		User:       "data",
		JSONOutput: true,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"authority": 10}`, resp.Text)
	assert.Equal(t, "llama3", resp.Model)
	assert.Equal(t, "chatcmpl-1", resp.ID)

	messages, ok := seen["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "instruction", messages[0].(map[string]any)["content"])
	assert.Equal(t, "user", messages[1].(map[string]any)["role"])
	assert.Equal(t, "data", messages[1].(map[string]any)["content"])
	assert.Equal(t, map[string]any{"type": "json_object"}, seen["response_format"])
}

func TestCompleteWithoutJSONHint(t *testing.T) {
	var seen map[string]any
	srv := chatServer(t, http.StatusOK, `{"id": "x", "choices": [{"message": {"role": "assistant", "content": "ok"}}]}`, &seen)

	client := NewOpenAIClient("key", srv.URL+"/v1", "gpt-4o-mini", 0, 0, 0, zaptest.NewLogger(t))
	resp, err := client.Complete(context.Background(), core.LLMRequest{System: "s", User: "u"})
	require.NoError(t, err)

	assert.NotContains(t, seen, "response_format")
	assert.Equal(t, "gpt-4o-mini", resp.Model)
}

func TestCompleteErrors(t *testing.T) {
	t.Run("no choices", func(t *testing.T) {
		srv := chatServer(t, http.StatusOK, `{"id": "x", "choices": []}`, nil)
		client := NewOpenAIClient("key", srv.URL+"/v1", "m", 0, 0, 0, zaptest.NewLogger(t))
		_, err := client.Complete(context.Background(), core.LLMRequest{})
		assert.ErrorIs(t, err, ErrEmptyResponse)
	})

	t.Run("server error", func(t *testing.T) {
		srv := chatServer(t, http.StatusInternalServerError, `{"error": {"message": "model not loaded"}}`, nil)
		client := NewOpenAIClient("key", srv.URL+"/v1", "m", 0, 0, 0, zaptest.NewLogger(t))
		_, err := client.Complete(context.Background(), core.LLMRequest{})
		assert.Error(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		srv := chatServer(t, http.StatusOK, `{}`, nil)
		client := NewOpenAIClient("key", srv.URL+"/v1", "m", 0, 0, 0, zaptest.NewLogger(t))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := client.Complete(ctx, core.LLMRequest{})
		assert.Error(t, err)
	})
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object": "list", "data": [{"id": "llama3", "object": "model"}]}`))
	}))
	t.Cleanup(srv.Close)

	client := NewOpenAIClient("ollama", srv.URL+"/v1", "llama3", 0, 0, 0, zaptest.NewLogger(t))
	var _ core.LLMPinger = client
	assert.NoError(t, client.Ping(context.Background()))

	down := NewOpenAIClient("ollama", srv.URL+"/missing", "llama3", 0, 0, 0, zaptest.NewLogger(t))
	assert.Error(t, down.Ping(context.Background()))
}
