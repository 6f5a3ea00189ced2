package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeerrkkaa/openrouter-kit/pkg/orkit"
)

func TestCreateChatCompletionNonStreaming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "example.com", r.Header.Get("HTTP-Referer"))
		resp := openai.ChatCompletionResponse{
			ID:    "req_1",
			Model: "gpt-4o",
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Role: "assistant", Content: "hi there"}, FinishReason: "stop"},
			},
			Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	tr, err := New(Config{APIKey: "test-key", BaseURL: server.URL, Referer: "example.com"})
	require.NoError(t, err)

	result, err := tr.CreateChatCompletion(context.Background(), Request{
		Model:    "gpt-4o",
		Messages: []orkit.Message{orkit.NewTextMessage(orkit.RoleUser, "hello")},
	})
	require.NoError(t, err)
	assert.Equal(t, "req_1", result.ID)
	assert.Equal(t, "hi there", result.Message.Text())
	assert.Equal(t, "stop", result.FinishReason)
	assert.Equal(t, 15, result.Usage.TotalTokens)
}

func TestCreateChatCompletionMapsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "slow down"}})
	}))
	defer server.Close()

	tr, err := New(Config{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = tr.CreateChatCompletion(context.Background(), Request{Model: "gpt-4o", Messages: []orkit.Message{orkit.NewTextMessage(orkit.RoleUser, "hi")}})
	require.Error(t, err)
	assert.Equal(t, orkit.CodeRateLimit, orkit.CodeOf(err))
	assert.True(t, IsRetryable(err))
}

func TestFetchModelPricesConvertsPerTokenToPerMillion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": "gpt-4o", "pricing": map[string]any{"prompt": "0.000005", "completion": "0.000015"}, "context_length": 128000},
			},
		})
	}))
	defer server.Close()

	tr, err := New(Config{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	prices, err := tr.FetchModelPrices(context.Background())
	require.NoError(t, err)
	require.Len(t, prices, 1)
	assert.Equal(t, "gpt-4o", prices[0].ModelID)
	assert.InDelta(t, 5.0, prices[0].PromptCostPerMillionTokens, 1e-6)
	assert.InDelta(t, 15.0, prices[0].CompletionCostPerMillionTokens, 1e-6)
}

func TestFetchCreditBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/credits", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"limit": 100.0, "usage": 12.5}})
	}))
	defer server.Close()

	tr, err := New(Config{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	balance, err := tr.FetchCreditBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100.0, balance.Limit)
	assert.Equal(t, 12.5, balance.Usage)
}

func TestCreateChatCompletionStreamAccumulatesToolCallArguments(t *testing.T) {
	frames := []string{
		`{"id":"req_1","model":"gpt-4o","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":"}}]},"finish_reason":null}]}`,
		`{"id":"req_1","model":"gpt-4o","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"NYC\"}"}}]},"finish_reason":null}]}`,
		`{"id":"req_1","model":"gpt-4o","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	tr, err := New(Config{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	events, err := tr.CreateChatCompletionStream(context.Background(), Request{
		Model:    "gpt-4o",
		Messages: []orkit.Message{orkit.NewTextMessage(orkit.RoleUser, "weather?")},
	})
	require.NoError(t, err)

	var toolCall *orkit.ToolCall
	var done bool
	for ev := range events {
		if ev.ToolCall != nil {
			toolCall = ev.ToolCall
		}
		if ev.Done {
			done = true
		}
		require.NoError(t, ev.Err)
	}
	require.True(t, done)
	require.NotNil(t, toolCall)
	assert.Equal(t, "get_weather", toolCall.Function.Name)
	assert.True(t, strings.Contains(toolCall.Function.Arguments, "NYC"))
}
