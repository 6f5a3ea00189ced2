package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mmeerrkkaa/openrouter-kit/internal/metrics"
	"github.com/mmeerrkkaa/openrouter-kit/internal/security"
	"github.com/mmeerrkkaa/openrouter-kit/internal/tools"
	"github.com/mmeerrkkaa/openrouter-kit/pkg/orkit"
)

// DefaultToolTimeout bounds a single tool invocation; an earlier deadline
// on the caller's context still takes precedence.
const DefaultToolTimeout = 30 * time.Second

// DefaultToolConcurrency caps how many tool calls of one round run at
// once when parallel execution is enabled.
const DefaultToolConcurrency = 4

// toolExecResult is one tool call's outcome, keyed by its position in the
// round so results can be reassembled in request order regardless of
// completion order.
type toolExecResult struct {
	index    int
	toolCall orkit.ToolCall
	message  orkit.Message
	success  bool
}

// toolExecutor resolves, validates, gates, and invokes tool calls for one
// round of the chat loop.
type toolExecutor struct {
	registry    *tools.Registry
	gate        *security.Gate
	bus         eventEmitter
	metrics     *metrics.Metrics
	concurrency int
	timeout     time.Duration
}

type eventEmitter interface {
	Emit(topic string, payload any)
}

func newToolExecutor(registry *tools.Registry, gate *security.Gate, bus eventEmitter, m *metrics.Metrics, concurrency int, timeout time.Duration) *toolExecutor {
	if concurrency <= 0 {
		concurrency = DefaultToolConcurrency
	}
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	return &toolExecutor{registry: registry, gate: gate, bus: bus, metrics: m, concurrency: concurrency, timeout: timeout}
}

// onToolEvent carries the streaming callbacks' hooks, nil fields are
// skipped. The non-streaming path passes a zero value.
type onToolEvent struct {
	executing func(name, args string)
	result    func(name string, result any, isError bool)
}

// execute runs toolCalls against the registry, honoring parallel when
// true (bounded by e.concurrency) or sequentially otherwise. It returns
// one orkit.Message per call, in the same order as toolCalls. Hook
// invocations are serialized even when calls run in parallel.
func (e *toolExecutor) execute(ctx context.Context, toolCalls []orkit.ToolCall, user *orkit.UserAuthInfo, token string, parallel bool, hooks onToolEvent) []orkit.Message {
	results := make([]toolExecResult, len(toolCalls))

	var hookMu sync.Mutex
	if executing := hooks.executing; executing != nil {
		hooks.executing = func(name, args string) {
			hookMu.Lock()
			defer hookMu.Unlock()
			executing(name, args)
		}
	}
	if result := hooks.result; result != nil {
		hooks.result = func(name string, value any, isError bool) {
			hookMu.Lock()
			defer hookMu.Unlock()
			result(name, value, isError)
		}
	}

	run := func(idx int, tc orkit.ToolCall) {
		results[idx] = e.runOne(ctx, idx, tc, user, token, hooks)
	}

	if !parallel || len(toolCalls) <= 1 {
		for i, tc := range toolCalls {
			run(i, tc)
		}
	} else {
		sem := make(chan struct{}, e.concurrency)
		var wg sync.WaitGroup
		for i, tc := range toolCalls {
			wg.Add(1)
			go func(idx int, call orkit.ToolCall) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				run(idx, call)
			}(i, tc)
		}
		wg.Wait()
	}

	messages := make([]orkit.Message, len(results))
	for i, r := range results {
		messages[i] = r.message
	}
	return messages
}

func (e *toolExecutor) runOne(ctx context.Context, idx int, tc orkit.ToolCall, user *orkit.UserAuthInfo, token string, hooks onToolEvent) toolExecResult {
	if hooks.executing != nil {
		hooks.executing(tc.Function.Name, tc.Function.Arguments)
	}

	start := time.Now()
	message, success, resultValue := e.invoke(ctx, tc, user, token)

	status := "success"
	if !success {
		status = "error"
	}
	e.metrics.RecordToolExecution(tc.Function.Name, status, time.Since(start))

	if hooks.result != nil {
		hooks.result(tc.Function.Name, resultValue, !success)
	}
	return toolExecResult{index: idx, toolCall: tc, message: message, success: success}
}

func (e *toolExecutor) invoke(ctx context.Context, tc orkit.ToolCall, user *orkit.UserAuthInfo, token string) (orkit.Message, bool, any) {
	if e.registry == nil {
		return e.errorMessage(tc, "tool not found: "+tc.Function.Name), false, nil
	}
	tool, ok := e.registry.Get(tc.Function.Name)
	if !ok {
		return e.errorMessage(tc, "tool not found: "+tc.Function.Name), false, nil
	}

	var args json.RawMessage
	if tc.Function.Arguments != "" {
		args = json.RawMessage(tc.Function.Arguments)
	} else {
		args = json.RawMessage("{}")
	}
	var parsed any
	if err := json.Unmarshal(args, &parsed); err != nil {
		return e.errorMessage(tc, "tool arguments are not valid JSON: "+err.Error()), false, nil
	}

	if len(tool.ParametersSchema) > 0 {
		schema, err := compileSchema(string(tool.ParametersSchema))
		if err != nil {
			e.emitSecurityWarning(tc.Function.Name, err)
		} else if err := schema.Validate(parsed); err != nil {
			return e.errorMessage(tc, "tool arguments failed schema validation: "+err.Error()), false, nil
		}
	}

	if e.gate != nil {
		req := security.Request{
			Token:    token,
			ToolName: tc.Function.Name,
			Args:     args,
		}
		if tool.Security != nil {
			req.ToolReq.RequiredRole = tool.Security.RequiredRole
			req.ToolReq.RequiredScopes = tool.Security.RequiredScopes
			req.ToolMetaLimit = tool.Security.RateLimit
		}
		if _, err := e.gate.Check(req); err != nil {
			return e.errorMessage(tc, err.Error()), false, nil
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	toolExecCtx := orkit.ToolExecContext{Auth: user}
	if user != nil {
		toolExecCtx.UserID = user.UserID
	}

	resultCh := make(chan struct {
		value any
		err   error
	}, 1)
	go func() {
		value, err := tool.Execute(toolExecCtx, args)
		select {
		case resultCh <- struct {
			value any
			err   error
		}{value, err}:
		default:
		}
	}()

	select {
	case <-execCtx.Done():
		return e.errorMessage(tc, "tool execution timed out or was canceled"), false, nil
	case res := <-resultCh:
		if res.err != nil {
			return e.errorMessage(tc, res.err.Error()), false, nil
		}
		return e.successMessage(tc, res.value), true, res.value
	}
}

func (e *toolExecutor) emitSecurityWarning(toolName string, err error) {
	if e.bus != nil {
		e.bus.Emit("tool:schema_error", map[string]any{"tool": toolName, "error": err.Error()})
	}
}

func (e *toolExecutor) successMessage(tc orkit.ToolCall, value any) orkit.Message {
	content := stringifyResult(value)
	return orkit.Message{Role: orkit.RoleTool, Content: &content, ToolCallID: tc.ID}
}

func (e *toolExecutor) errorMessage(tc orkit.ToolCall, message string) orkit.Message {
	content := message
	return orkit.Message{Role: orkit.RoleTool, Content: &content, ToolCallID: tc.ID}
}

func stringifyResult(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return string(encoded)
}
