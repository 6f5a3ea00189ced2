// Package transport is the HTTP/SSE adapter (C14 support) wrapping
// sashabaranov/go-openai's Client with gateway-specific configuration:
// custom base URL, attribution headers, and proxy support.
package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mmeerrkkaa/openrouter-kit/pkg/orkit"
)

// ProxyConfig configures an upstream HTTP proxy, either as a full URL or
// as discrete host/port/credential fields.
type ProxyConfig struct {
	URL      string
	Host     string
	Port     int
	User     string
	Pass     string
	Insecure bool
}

func (p ProxyConfig) resolveURL() (*url.URL, error) {
	if p.URL != "" {
		return url.Parse(p.URL)
	}
	if p.Host == "" {
		return nil, nil
	}
	u := &url.URL{Scheme: "http", Host: fmt.Sprintf("%s:%d", p.Host, p.Port)}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Pass)
	}
	return u, nil
}

// Config configures a Transport.
type Config struct {
	APIKey  string
	BaseURL string

	// Referer and Title are sent as HTTP-Referer / X-Title attribution
	// headers on every request, per the gateway's convention.
	Referer string
	Title   string

	Proxy   *ProxyConfig
	Timeout time.Duration
}

// attributionTransport injects attribution headers on every outbound
// request without disturbing the caller's configured transport.
type attributionTransport struct {
	base    http.RoundTripper
	referer string
	title   string
}

func (t *attributionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.referer != "" {
		req.Header.Set("HTTP-Referer", t.referer)
	}
	if t.title != "" {
		req.Header.Set("X-Title", t.title)
	}
	return t.base.RoundTrip(req)
}

// Transport wraps an openai.Client configured for the gateway's
// OpenAI-compatible chat completions endpoint.
type Transport struct {
	client     *openai.Client
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// New builds a Transport from cfg.
func New(cfg Config) (*Transport, error) {
	oaiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaiCfg.BaseURL = cfg.BaseURL
	}

	base := http.DefaultTransport
	if cfg.Proxy != nil {
		proxyURL, err := cfg.Proxy.resolveURL()
		if err != nil {
			return nil, orkit.Wrap(orkit.CodeConfigError, err, "invalid proxy configuration")
		}
		httpTransport := &http.Transport{}
		if proxyURL != nil {
			httpTransport.Proxy = http.ProxyURL(proxyURL)
		}
		if cfg.Proxy.Insecure {
			httpTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		base = httpTransport
	}

	httpClient := &http.Client{
		Transport: &attributionTransport{base: base, referer: cfg.Referer, title: cfg.Title},
	}
	if cfg.Timeout > 0 {
		httpClient.Timeout = cfg.Timeout
	}
	oaiCfg.HTTPClient = httpClient

	return &Transport{
		client:     openai.NewClientWithConfig(oaiCfg),
		httpClient: httpClient,
		baseURL:    oaiCfg.BaseURL,
		apiKey:     cfg.APIKey,
	}, nil
}

// Request is a chat completion request in the gateway's vocabulary.
type Request struct {
	Model        string
	Messages     []orkit.Message
	Tools        []orkit.Tool
	ToolChoice   any
	Temperature  *float32
	MaxTokens    int
	JSONResponse bool
}

// Response is the consolidated outcome of a single non-streaming call.
type Response struct {
	ID           string
	Message      orkit.Message
	Usage        orkit.Usage
	FinishReason string
	Model        string
}

// CreateChatCompletion performs one non-streaming completion call.
func (t *Transport) CreateChatCompletion(ctx context.Context, req Request) (*Response, error) {
	oaiReq := toOpenAIRequest(req)
	resp, err := t.client.CreateChatCompletion(ctx, oaiReq)
	if err != nil {
		return nil, mapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, orkit.New(orkit.CodeAPIError, "completion response contained no choices")
	}
	choice := resp.Choices[0]
	return &Response{
		ID:           resp.ID,
		Message:      fromOpenAIMessage(choice.Message),
		Usage:        orkit.Usage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens, TotalTokens: resp.Usage.TotalTokens},
		FinishReason: string(choice.FinishReason),
		Model:        resp.Model,
	}, nil
}

// StreamEvent is one emission from a streaming completion: a content
// delta, a completed tool call, a usage frame, a finish reason, or the
// terminal frame (Done).
type StreamEvent struct {
	ContentDelta string
	ToolCall     *orkit.ToolCall
	Done         bool
	FinishReason string
	Usage        *orkit.Usage
	Model        string
	RequestID    string
	Err          error
}

// CreateChatCompletionStream opens a streaming completion call. Events
// are delivered on the returned channel, which is closed when the stream
// ends (successfully or with an error, carried in a final StreamEvent).
func (t *Transport) CreateChatCompletionStream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	oaiReq := toOpenAIRequest(req)
	oaiReq.Stream = true
	oaiReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := t.client.CreateChatCompletionStream(ctx, oaiReq)
	if err != nil {
		return nil, mapError(err)
	}

	events := make(chan StreamEvent)
	go processStream(ctx, stream, events)
	return events, nil
}

func processStream(ctx context.Context, stream *openai.ChatCompletionStream, events chan<- StreamEvent) {
	defer close(events)
	defer stream.Close()

	toolCalls := map[int]*orkit.ToolCall{}
	order := []int{}

	emitToolCalls := func() {
		for _, idx := range order {
			tc := toolCalls[idx]
			if tc != nil && tc.ID != "" && tc.Function.Name != "" {
				events <- StreamEvent{ToolCall: tc}
			}
		}
		toolCalls = map[int]*orkit.ToolCall{}
		order = nil
	}

	for {
		select {
		case <-ctx.Done():
			events <- StreamEvent{Err: orkit.Wrap(orkit.CodeCanceled, ctx.Err(), "stream canceled"), Done: true}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if isStreamEOF(err) {
				emitToolCalls()
				events <- StreamEvent{Done: true}
				return
			}
			events <- StreamEvent{Err: mapError(err), Done: true}
			return
		}

		if resp.Usage != nil {
			u := orkit.Usage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens, TotalTokens: resp.Usage.TotalTokens}
			events <- StreamEvent{Usage: &u, Model: resp.Model, RequestID: resp.ID}
		}

		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			events <- StreamEvent{ContentDelta: delta.Content, Model: resp.Model, RequestID: resp.ID}
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			if toolCalls[idx] == nil {
				toolCalls[idx] = &orkit.ToolCall{Type: "function"}
				order = append(order, idx)
			}
			if tc.ID != "" {
				toolCalls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Function.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[idx].Function.Arguments += tc.Function.Arguments
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			emitToolCalls()
		} else if choice.FinishReason != "" {
			events <- StreamEvent{Done: false, FinishReason: string(choice.FinishReason), Model: resp.Model, RequestID: resp.ID}
		}
	}
}

func isStreamEOF(err error) bool {
	return err != nil && err.Error() == "EOF"
}

func toOpenAIRequest(req Request) openai.ChatCompletionRequest {
	oaiReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		oaiReq.Messages = append(oaiReq.Messages, toOpenAIMessage(m))
	}
	if req.MaxTokens > 0 {
		oaiReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		oaiReq.Temperature = *req.Temperature
	}
	if req.ToolChoice != nil {
		oaiReq.ToolChoice = req.ToolChoice
	}
	if len(req.Tools) > 0 {
		oaiReq.Tools = toOpenAITools(req.Tools)
	}
	if req.JSONResponse {
		oaiReq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	return oaiReq
}

func toOpenAIMessage(m orkit.Message) openai.ChatCompletionMessage {
	out := openai.ChatCompletionMessage{
		Role:       string(m.Role),
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}
	if m.Content != nil {
		out.Content = *m.Content
	}
	if len(m.ToolCalls) > 0 {
		out.ToolCalls = make([]openai.ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			out.ToolCalls[i] = openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			}
		}
	}
	return out
}

func fromOpenAIMessage(m openai.ChatCompletionMessage) orkit.Message {
	out := orkit.Message{Role: orkit.Role(m.Role), Name: m.Name, ToolCallID: m.ToolCallID}
	if m.Content != "" {
		content := m.Content
		out.Content = &content
	}
	if len(m.ToolCalls) > 0 {
		out.ToolCalls = make([]orkit.ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			out.ToolCalls[i] = orkit.ToolCall{
				ID:   tc.ID,
				Type: string(tc.Type),
				Function: orkit.ToolCallFunction{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			}
		}
	}
	return out
}

func toOpenAITools(tools []orkit.Tool) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schema map[string]any
		if len(tool.ParametersSchema) > 0 {
			if err := json.Unmarshal(tool.ParametersSchema, &schema); err != nil {
				schema = map[string]any{"type": "object", "properties": map[string]any{}}
			}
		} else {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		}
	}
	return out
}

// mapError classifies a transport-level error into the typed taxonomy,
// distinguishing transient/retryable failures (network, timeout, 5xx,
// 429 rate limiting) from terminal ones (other 4xx, malformed request).
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if isAPIError(err, &apiErr) {
		code := orkit.CodeAPIError
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			code = orkit.CodeRateLimit
		case apiErr.HTTPStatusCode == http.StatusUnauthorized:
			code = orkit.CodeAuthentication
		case apiErr.HTTPStatusCode == http.StatusForbidden:
			code = orkit.CodeAuthorization
		case apiErr.HTTPStatusCode >= 500:
			code = orkit.CodeNetworkError
		}
		return orkit.Wrap(code, err, apiErr.Message).WithStatusCode(apiErr.HTTPStatusCode)
	}
	if err == context.DeadlineExceeded {
		return orkit.Wrap(orkit.CodeTimeout, err, "request timed out")
	}
	if err == context.Canceled {
		return orkit.Wrap(orkit.CodeCanceled, err, "request canceled")
	}
	return orkit.Wrap(orkit.CodeNetworkError, err, "")
}

func isAPIError(err error, target **openai.APIError) bool {
	apiErr, ok := err.(*openai.APIError)
	if ok {
		*target = apiErr
	}
	return ok
}

// IsRetryable reports whether err represents a transient transport
// failure safe to retry against a fallback model.
func IsRetryable(err error) bool {
	code := orkit.CodeOf(err)
	return code == orkit.CodeNetworkError || code == orkit.CodeTimeout || code == orkit.CodeRateLimit
}
