package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeerrkkaa/openrouter-kit/internal/tools"
	"github.com/mmeerrkkaa/openrouter-kit/internal/transport"
	"github.com/mmeerrkkaa/openrouter-kit/pkg/orkit"
)

func newTestTransport(t *testing.T, handler http.HandlerFunc) *transport.Transport {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	tr, err := transport.New(transport.Config{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)
	return tr
}

func TestChatPlainCompletionNoTools(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:      "req_1",
			Model:   "gpt-4o",
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Role: "assistant", Content: "hi"}, FinishReason: "stop"}},
			Usage:   openai.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
		})
	})

	o := New(tr, nil, nil, nil, nil, nil, Config{}, nil)
	result, err := o.Chat(context.Background(), ChatOptions{
		Model:    "gpt-4o",
		Messages: []orkit.Message{orkit.NewTextMessage(orkit.RoleUser, "hello")},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", *result.Content)
	assert.Equal(t, 0, result.ToolCallsCount)
	assert.Equal(t, "stop", result.FinishReason)
}

func TestChatExecutesToolCallThenReturnsFinalAnswer(t *testing.T) {
	var calls int32
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
				ID:    "req_1",
				Model: "gpt-4o",
				Choices: []openai.ChatCompletionChoice{{
					Message: openai.ChatCompletionMessage{
						Role: "assistant",
						ToolCalls: []openai.ToolCall{
							{ID: "call_1", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: "get_weather", Arguments: `{"city":"NYC"}`}},
						},
					},
					FinishReason: "tool_calls",
				}},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:      "req_2",
			Model:   "gpt-4o",
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Role: "assistant", Content: "it is sunny"}, FinishReason: "stop"}},
		})
	})

	registry := tools.New()
	require.NoError(t, registry.Register(orkit.Tool{
		Name: "get_weather",
		Execute: func(ctx orkit.ToolExecContext, args json.RawMessage) (any, error) {
			return "sunny", nil
		},
	}))

	o := New(tr, registry, nil, nil, nil, nil, Config{}, nil)
	result, err := o.Chat(context.Background(), ChatOptions{
		Model:    "gpt-4o",
		Messages: []orkit.Message{orkit.NewTextMessage(orkit.RoleUser, "weather?")},
	})
	require.NoError(t, err)
	assert.Equal(t, "it is sunny", *result.Content)
	assert.Equal(t, 1, result.ToolCallsCount)
	assert.EqualValues(t, 2, calls)
}

func TestChatUnknownToolProducesErrorMessageNotFatal(t *testing.T) {
	var calls int32
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
				ID:    "req_1",
				Model: "gpt-4o",
				Choices: []openai.ChatCompletionChoice{{
					Message: openai.ChatCompletionMessage{
						Role:      "assistant",
						ToolCalls: []openai.ToolCall{{ID: "call_1", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: "missing_tool", Arguments: `{}`}}},
					},
					FinishReason: "tool_calls",
				}},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:      "req_2",
			Model:   "gpt-4o",
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Role: "assistant", Content: "ok"}, FinishReason: "stop"}},
		})
	})

	registry := tools.New()
	o := New(tr, registry, nil, nil, nil, nil, Config{}, nil)
	result, err := o.Chat(context.Background(), ChatOptions{
		Model:    "gpt-4o",
		Messages: []orkit.Message{orkit.NewTextMessage(orkit.RoleUser, "hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", *result.Content)
	assert.Equal(t, 1, result.ToolCallsCount)
}

func TestChatExceedingMaxToolCallsIsTypedToolError(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:    "req_1",
			Model: "gpt-4o",
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{
					Role:      "assistant",
					Content:   "still working",
					ToolCalls: []openai.ToolCall{{ID: "call_1", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: "loop_tool", Arguments: `{}`}}},
				},
				FinishReason: "tool_calls",
			}},
		})
	})

	registry := tools.New()
	require.NoError(t, registry.Register(orkit.Tool{
		Name:    "loop_tool",
		Execute: func(ctx orkit.ToolExecContext, args json.RawMessage) (any, error) { return "done", nil },
	}))

	o := New(tr, registry, nil, nil, nil, nil, Config{MaxToolCalls: 1}, nil)
	_, err := o.Chat(context.Background(), ChatOptions{
		Model:    "gpt-4o",
		Messages: []orkit.Message{orkit.NewTextMessage(orkit.RoleUser, "go")},
	})
	require.Error(t, err)
	assert.Equal(t, orkit.CodeToolError, orkit.CodeOf(err))
}

func TestChatStreamDispatchesContentAndCompletes(t *testing.T) {
	frames := []string{
		`{"id":"req_1","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"hel"},"finish_reason":null}]}`,
		`{"id":"req_1","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":null}]}`,
		`{"id":"req_1","model":"gpt-4o","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
	}
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, f := range frames {
			w.Write([]byte("data: " + f + "\n\n"))
			flusher.Flush()
		}
		w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	})

	o := New(tr, nil, nil, nil, nil, nil, Config{}, nil)

	var gotContent string
	var completed *orkit.ChatCompletionResult
	result, err := o.ChatStream(context.Background(), ChatOptions{
		Model:    "gpt-4o",
		Messages: []orkit.Message{orkit.NewTextMessage(orkit.RoleUser, "hi")},
	}, StreamCallbacks{
		OnContent:  func(delta string) { gotContent += delta },
		OnComplete: func(r *orkit.ChatCompletionResult) { completed = r },
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", gotContent)
	assert.Equal(t, "hello", *result.Content)
	require.NotNil(t, completed)
	assert.Equal(t, "stop", completed.FinishReason)
}
