package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mmeerrkkaa/openrouter-kit/internal/transport"
	"github.com/mmeerrkkaa/openrouter-kit/pkg/orkit"
)

// StreamState names the streaming loop's current phase.
type StreamState string

const (
	StateIdle           StreamState = "IDLE"
	StateStreaming      StreamState = "STREAMING"
	StateExecutingTools StreamState = "EXECUTING_TOOLS"
	StateDone           StreamState = "DONE"
)

// StreamCallbacks are invoked as a streaming chat call progresses. Each
// is optional; nil callbacks are simply not invoked. Calls are
// serialized — a callback is never re-entered while a prior invocation
// for the same stream is still running.
type StreamCallbacks struct {
	OnContent           func(delta string)
	OnToolCallExecuting func(name, args string)
	OnToolCallResult    func(name string, result any, isError bool)
	OnComplete          func(*orkit.ChatCompletionResult)
	OnError             func(error)
}

// ChatStream runs the streaming tool-calling loop to completion,
// dispatching callbacks as content and tool-call events arrive. It
// returns the same consolidated result Chat would, once the terminal
// frame (or an error) is reached.
func (o *Orchestrator) ChatStream(ctx context.Context, opts ChatOptions, cb StreamCallbacks) (*orkit.ChatCompletionResult, error) {
	start := time.Now()
	messages := append([]orkit.Message(nil), opts.Messages...)
	modelList := append([]string{opts.Model}, o.cfg.ModelFallbacks...)

	var cumulativeUsage orkit.Usage
	var haveUsage bool
	toolCallsCount := 0
	roundsLeft := o.cfg.MaxToolCalls
	var lastModel, lastRequestID, lastFinishReason string

	state := StateIdle
	o.emitState(state)
	for {
		state = StateStreaming
		o.emitState(state)
		roundStart := time.Now()
		usageBefore := cumulativeUsage
		assistantMessage, finishReason, requestID, model, roundErr := o.streamOneRound(ctx, modelList, messages, opts, toolCallsCount == 0, cb, &cumulativeUsage, &haveUsage)
		if roundErr != nil {
			o.metrics.RecordRequest(opts.Model, "error", time.Since(roundStart), orkit.Usage{})
			o.metrics.RecordError(orkit.CodeOf(roundErr))
			if cb.OnError != nil {
				cb.OnError(roundErr)
			}
			return nil, roundErr
		}
		roundUsage := orkit.Usage{
			PromptTokens:     cumulativeUsage.PromptTokens - usageBefore.PromptTokens,
			CompletionTokens: cumulativeUsage.CompletionTokens - usageBefore.CompletionTokens,
			TotalTokens:      cumulativeUsage.TotalTokens - usageBefore.TotalTokens,
		}
		o.metrics.RecordRequest(model, "success", time.Since(roundStart), roundUsage)
		lastRequestID = requestID
		lastModel = model
		lastFinishReason = finishReason

		if finishReason == "tool_calls" && len(assistantMessage.ToolCalls) > 0 {
			if roundsLeft <= 0 {
				o.metrics.RecordError(orkit.CodeToolError)
				err := orkit.New(orkit.CodeToolError, "maximum tool call rounds exceeded").
					WithDetails(map[string]any{"maxToolCalls": o.cfg.MaxToolCalls})
				if cb.OnError != nil {
					cb.OnError(err)
				}
				return nil, err
			}

			state = StateExecutingTools
			o.emitState(state)
			messages = append(messages, assistantMessage)
			hooks := onToolEvent{executing: cb.OnToolCallExecuting, result: cb.OnToolCallResult}
			toolMessages := o.executor.execute(ctx, assistantMessage.ToolCalls, opts.User, opts.Token, o.cfg.ParallelToolCalls, hooks)
			messages = append(messages, toolMessages...)
			toolCallsCount += len(assistantMessage.ToolCalls)
			roundsLeft--

			select {
			case <-ctx.Done():
				err := orkit.Wrap(orkit.CodeCanceled, ctx.Err(), "chat stream canceled")
				if cb.OnError != nil {
					cb.OnError(err)
				}
				return nil, err
			default:
			}
			continue
		}

		state = StateDone
		o.emitState(state)

		content, parseErr := parseContent(assistantMessage.Content, opts.JSONResponse, opts.StrictJSONParsing)
		if parseErr != nil {
			if cb.OnError != nil {
				cb.OnError(parseErr)
			}
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
		if haveUsage && o.pricing != nil {
			result.Cost = o.pricing.ComputeCost(lastModel, cumulativeUsage)
			if result.Cost != nil {
				o.metrics.RecordCost(lastModel, *result.Cost)
			}
		}
		if cb.OnComplete != nil {
			cb.OnComplete(result)
		}
		return result, nil
	}
}

// streamOneRound consumes one SSE stream to completion, accumulating
// content and tool-call deltas, dispatching OnContent as deltas arrive,
// and falling back to the next model on a retryable failure when no
// tool has run yet in this chat call.
func (o *Orchestrator) streamOneRound(ctx context.Context, models []string, messages []orkit.Message, opts ChatOptions, idempotent bool, cb StreamCallbacks, cumulativeUsage *orkit.Usage, haveUsage *bool) (orkit.Message, string, string, string, error) {
	var lastErr error
	for i, model := range models {
		message, finishReason, requestID, err := o.consumeStream(ctx, model, messages, opts, cb, cumulativeUsage, haveUsage)
		if err == nil {
			return message, finishReason, requestID, model, nil
		}
		lastErr = err
		if !idempotent || !transport.IsRetryable(err) || i == len(models)-1 {
			return orkit.Message{}, "", "", "", err
		}
		o.logger.Warn("streaming completion failed, falling back to next model", "model", model, "next", models[i+1], "error", err)
	}
	return orkit.Message{}, "", "", "", lastErr
}

func (o *Orchestrator) consumeStream(ctx context.Context, model string, messages []orkit.Message, opts ChatOptions, cb StreamCallbacks, cumulativeUsage *orkit.Usage, haveUsage *bool) (orkit.Message, string, string, error) {
	events, err := o.transport.CreateChatCompletionStream(ctx, transport.Request{
		Model:        model,
		Messages:     messages,
		ToolChoice:   opts.ToolChoice,
		MaxTokens:    opts.MaxTokens,
		Temperature:  opts.Temperature,
		Tools:        o.toolsForRequest(),
		JSONResponse: opts.JSONResponse,
	})
	if err != nil {
		return orkit.Message{}, "", "", err
	}

	var contentBuilder []byte
	var toolCalls []orkit.ToolCall
	var finishReason, requestID string

	for ev := range events {
		if ev.Err != nil {
			return orkit.Message{}, "", "", ev.Err
		}
		if ev.RequestID != "" {
			requestID = ev.RequestID
		}
		if ev.ContentDelta != "" {
			contentBuilder = append(contentBuilder, ev.ContentDelta...)
			if cb.OnContent != nil {
				cb.OnContent(ev.ContentDelta)
			}
		}
		if ev.ToolCall != nil {
			toolCalls = append(toolCalls, *ev.ToolCall)
		}
		if ev.Usage != nil {
			*cumulativeUsage = cumulativeUsage.Add(*ev.Usage)
			*haveUsage = true
		}
		if ev.FinishReason != "" {
			finishReason = ev.FinishReason
		}
		if ev.Done {
			if len(toolCalls) > 0 {
				finishReason = "tool_calls"
			}
			break
		}
	}

	message := orkit.Message{Role: orkit.RoleAssistant, ToolCalls: toolCalls}
	if len(contentBuilder) > 0 {
		content := string(contentBuilder)
		message.Content = &content
	}
	return message, finishReason, requestID, nil
}
