// Package orchestrator implements the chat loop (C13): the non-streaming
// and streaming tool-calling rounds that turn a message list and a set
// of registered tools into a consolidated chat completion result.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mmeerrkkaa/openrouter-kit/internal/bus"
	"github.com/mmeerrkkaa/openrouter-kit/internal/metrics"
	"github.com/mmeerrkkaa/openrouter-kit/internal/pricing"
	"github.com/mmeerrkkaa/openrouter-kit/internal/security"
	"github.com/mmeerrkkaa/openrouter-kit/internal/tools"
	"github.com/mmeerrkkaa/openrouter-kit/internal/transport"
	"github.com/mmeerrkkaa/openrouter-kit/pkg/orkit"
)

// DefaultMaxToolCalls is the default bound on tool-calling rounds per
// chat call.
const DefaultMaxToolCalls = 10

// Config configures an Orchestrator.
type Config struct {
	MaxToolCalls      int
	ModelFallbacks    []string
	ParallelToolCalls bool
	ToolConcurrency   int
	ToolTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxToolCalls <= 0 {
		c.MaxToolCalls = DefaultMaxToolCalls
	}
	if c.ToolConcurrency <= 0 {
		c.ToolConcurrency = DefaultToolConcurrency
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = DefaultToolTimeout
	}
	return c
}

// Orchestrator runs the tool-calling chat loop against a transport,
// tool registry, and security gate.
type Orchestrator struct {
	transport *transport.Transport
	registry  *tools.Registry
	gate      *security.Gate
	pricing   *pricing.Tracker
	bus       *bus.Bus
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cfg       Config
	executor  *toolExecutor
}

// New constructs an Orchestrator. registry, gate, priceTracker,
// eventBus, and metricsTracker may be nil to disable the corresponding
// feature.
func New(transportImpl *transport.Transport, registry *tools.Registry, gate *security.Gate, priceTracker *pricing.Tracker, eventBus *bus.Bus, metricsTracker *metrics.Metrics, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Orchestrator{
		transport: transportImpl,
		registry:  registry,
		gate:      gate,
		pricing:   priceTracker,
		bus:       eventBus,
		metrics:   metricsTracker,
		logger:    logger,
		cfg:       cfg,
		executor:  newToolExecutor(registry, gate, eventBus, metricsTracker, cfg.ToolConcurrency, cfg.ToolTimeout),
	}
}

// ChatOptions configures one chat call.
type ChatOptions struct {
	Model        string
	Messages     []orkit.Message
	ToolChoice   any
	MaxTokens    int
	Temperature  *float32
	JSONResponse bool

	StrictJSONParsing bool

	// Token and User identify the caller for the security gate.
	Token string
	User  *orkit.UserAuthInfo
}

// Chat runs the non-streaming tool-calling loop to completion.
func (o *Orchestrator) Chat(ctx context.Context, opts ChatOptions) (*orkit.ChatCompletionResult, error) {
	start := time.Now()
	messages := append([]orkit.Message(nil), opts.Messages...)
	modelList := append([]string{opts.Model}, o.cfg.ModelFallbacks...)

	var cumulativeUsage orkit.Usage
	toolCallsCount := 0
	roundsLeft := o.cfg.MaxToolCalls
	var lastModel, lastRequestID, lastFinishReason string
	var lastContent *string

	for {
		roundStart := time.Now()
		resp, modelUsed, err := o.sendWithFallback(ctx, modelList, transport.Request{
			Model:        opts.Model,
			Messages:     messages,
			ToolChoice:   opts.ToolChoice,
			MaxTokens:    opts.MaxTokens,
			Temperature:  opts.Temperature,
			Tools:        o.toolsForRequest(),
			JSONResponse: opts.JSONResponse,
		}, toolCallsCount == 0)
		if err != nil {
			o.metrics.RecordRequest(opts.Model, "error", time.Since(roundStart), orkit.Usage{})
			o.metrics.RecordError(orkit.CodeOf(err))
			return nil, err
		}
		o.metrics.RecordRequest(modelUsed, "success", time.Since(roundStart), resp.Usage)

		cumulativeUsage = cumulativeUsage.Add(resp.Usage)
		lastModel = modelUsed
		lastRequestID = resp.ID
		lastFinishReason = resp.FinishReason
		lastContent = resp.Message.Content

		if resp.FinishReason == "tool_calls" && len(resp.Message.ToolCalls) > 0 && roundsLeft > 0 {
			messages = append(messages, resp.Message)
			toolMessages := o.executor.execute(ctx, resp.Message.ToolCalls, opts.User, opts.Token, o.cfg.ParallelToolCalls, onToolEvent{})
			messages = append(messages, toolMessages...)
			toolCallsCount += len(resp.Message.ToolCalls)
			roundsLeft--
			continue
		}

		if resp.FinishReason == "tool_calls" && len(resp.Message.ToolCalls) > 0 && roundsLeft <= 0 {
			o.metrics.RecordError(orkit.CodeToolError)
			return nil, orkit.New(orkit.CodeToolError, "maximum tool call rounds exceeded").
				WithDetails(map[string]any{"maxToolCalls": o.cfg.MaxToolCalls, "lastContent": lastContent})
		}

		content, parseErr := parseContent(lastContent, opts.JSONResponse, opts.StrictJSONParsing)
		if parseErr != nil {
			return nil, parseErr
		}

		if lastRequestID == "" {
			lastRequestID = uuid.NewString()
		}
		result := &orkit.ChatCompletionResult{
			ID:             lastRequestID,
			Content:        content,
			Usage:          cumulativeUsage,
			Model:          lastModel,
			ToolCallsCount: toolCallsCount,
			FinishReason:   lastFinishReason,
			DurationMs:     time.Since(start).Milliseconds(),
		}
		if o.pricing != nil {
			result.Cost = o.pricing.ComputeCost(lastModel, cumulativeUsage)
			if result.Cost != nil {
				o.metrics.RecordCost(lastModel, *result.Cost)
			}
		}
		return result, nil
	}
}

// toolsForRequest returns the registered tools to advertise to the
// model, or nil if no registry is configured.
func (o *Orchestrator) toolsForRequest() []orkit.Tool {
	if o.registry == nil {
		return nil
	}
	return o.registry.List()
}

// sendWithFallback sends req against models[0], falling back to the next
// model on a retryable transport failure, but only while idempotent is
// true (no tool has run yet in this chat call).
func (o *Orchestrator) sendWithFallback(ctx context.Context, models []string, req transport.Request, idempotent bool) (*transport.Response, string, error) {
	var lastErr error
	for i, model := range models {
		req.Model = model
		resp, err := o.transport.CreateChatCompletion(ctx, req)
		if err == nil {
			return resp, model, nil
		}
		lastErr = err
		if !idempotent || !transport.IsRetryable(err) || i == len(models)-1 {
			return nil, "", err
		}
		o.logger.Warn("completion request failed, falling back to next model", "model", model, "next", models[i+1], "error", err)
	}
	return nil, "", lastErr
}

func parseContent(content *string, jsonResponse, strict bool) (*string, error) {
	if !jsonResponse || content == nil {
		return content, nil
	}
	if !isValidJSON(*content) {
		if strict {
			return nil, orkit.New(orkit.CodeValidationError, "response content is not valid JSON")
		}
		return nil, nil
	}
	return content, nil
}

func (o *Orchestrator) emitState(state StreamState) {
	if o.bus != nil {
		o.bus.Emit("stream:state", map[string]any{"state": state})
	}
}

func isValidJSON(s string) bool {
	var v any
	return json.Unmarshal([]byte(s), &v) == nil
}
