package orkit

import (
	"context"
	"log/slog"
	"time"

	"github.com/mmeerrkkaa/openrouter-kit/internal/access"
	"github.com/mmeerrkkaa/openrouter-kit/internal/authn"
	"github.com/mmeerrkkaa/openrouter-kit/internal/bus"
	"github.com/mmeerrkkaa/openrouter-kit/internal/history"
	"github.com/mmeerrkkaa/openrouter-kit/internal/messages"
	"github.com/mmeerrkkaa/openrouter-kit/internal/metrics"
	"github.com/mmeerrkkaa/openrouter-kit/internal/orchestrator"
	"github.com/mmeerrkkaa/openrouter-kit/internal/pricing"
	"github.com/mmeerrkkaa/openrouter-kit/internal/ratelimit"
	"github.com/mmeerrkkaa/openrouter-kit/internal/sanitize"
	"github.com/mmeerrkkaa/openrouter-kit/internal/security"
	"github.com/mmeerrkkaa/openrouter-kit/internal/tools"
	"github.com/mmeerrkkaa/openrouter-kit/internal/transport"
)

// HistoryBackend selects which Store implementation backs the history
// manager.
type HistoryBackend string

const (
	HistoryMemory HistoryBackend = "memory"
	HistoryDisk   HistoryBackend = "disk"
	HistoryRemote HistoryBackend = "remote"
)

// Config assembles every component the Client owns. Zero values give an
// in-memory history store, no authentication, the access evaluator's
// deny-all default policy (no tool runs until Access allows it), no rate
// limits, and argument sanitization against the built-in global patterns.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string

	Referer string
	Title   string
	Timeout time.Duration
	Proxy   *transport.ProxyConfig

	MaxToolCalls      int
	ModelFallbacks    []string
	ParallelToolCalls bool

	Auth              authn.Config
	Access            access.Config
	RequireAuth       bool
	AllowUnauth       bool
	RoleRateLimits    security.RoleRateLimits
	ToolRateLimits    security.ToolAccessRateLimits
	Sanitize          sanitize.Config
	RateLimitSweep    time.Duration

	HistoryBackend  HistoryBackend
	HistoryDiskDir  string
	HistoryRemoteURL string
	HistoryManager  history.ManagerConfig

	InitialModelPrices  []ModelPrice
	PriceRefreshInterval time.Duration

	// DisableMetrics makes this Client record no Prometheus metrics. When
	// unset, every Client in the process shares the single metrics.New
	// instance.
	DisableMetrics bool

	Logger *slog.Logger
}

// Plugin may wrap or extend a Client at construction time: subscribe to
// events, register additional tools, or otherwise observe the instance.
type Plugin interface {
	Init(client *Client) error
}

// MiddlewareNext invokes the remainder of the middleware chain (and,
// at the end of the chain, the underlying chat call).
type MiddlewareNext func(ctx context.Context, req *ChatRequest) (*ChatCompletionResult, error)

// Middleware wraps a chat call. It may mutate req before calling next,
// and inspect or replace the result after.
type Middleware func(ctx context.Context, req *ChatRequest, next MiddlewareNext) (*ChatCompletionResult, error)

// ChatRequest is the input to Chat/ChatStream.
type ChatRequest struct {
	Model        string
	CustomMessages []Message
	SystemPrompt string
	Prompt       string
	HistoryKey   *HistoryKey
	Tools        []Tool
	ToolChoice   any
	MaxTokens    int
	Temperature  *float32
	JSONResponse bool
	StrictJSONParsing bool

	Token string
	User  *UserAuthInfo
}

// Client is the public façade owning the lifecycle of every internal
// component: history, security, pricing, tool registry, transport, and
// the orchestrator.
type Client struct {
	cfg Config

	bus          *bus.Bus
	historyStore history.Store
	history      *history.Manager
	authMgr      *authn.Manager
	accessEval   *access.Evaluator
	limiter      *ratelimit.Limiter
	sanitizer    *sanitize.Sanitizer
	gate         *security.Gate
	priceTracker *pricing.Tracker
	toolRegistry *tools.Registry
	transport    *transport.Transport
	orch         *orchestrator.Orchestrator

	middlewares []Middleware
	logger      *slog.Logger
}

// NewClient constructs a Client from cfg, wiring every internal component.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	eventBus := bus.New(cfg.Logger)

	store, err := newHistoryStore(cfg)
	if err != nil {
		return nil, err
	}
	historyMgr := history.NewManager(store, cfg.HistoryManager, cfg.Logger)

	var authMgr *authn.Manager
	if cfg.Auth.Type != "" {
		authMgr, err = authn.New(cfg.Auth, eventBus, cfg.Logger)
		if err != nil {
			cfg.Logger.Warn("authentication manager configuration error", "error", err)
		}
	}

	accessEval := access.New(cfg.Access, eventBus, cfg.Logger)
	limiter := ratelimit.New(cfg.RateLimitSweep)
	sanitizer := sanitize.New(cfg.Sanitize, eventBus, cfg.Logger)

	gate := security.New(security.Config{
		RequireAuthentication:      cfg.RequireAuth,
		AllowUnauthenticatedAccess: cfg.AllowUnauth,
		RoleLimits:                 cfg.RoleRateLimits,
		ToolAccessLimits:           cfg.ToolRateLimits,
	}, authMgr, accessEval, limiter, sanitizer, cfg.Logger)

	tr, err := transport.New(transport.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Referer: cfg.Referer,
		Title:   cfg.Title,
		Proxy:   cfg.Proxy,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}

	var metricsTracker *metrics.Metrics
	if !cfg.DisableMetrics {
		metricsTracker = metrics.New()
	}

	priceTracker := pricing.New(ctx, cfg.InitialModelPrices, tr, cfg.PriceRefreshInterval, cfg.Logger)
	priceTracker.SetMetrics(metricsTracker)
	toolRegistry := tools.New()

	orch := orchestrator.New(tr, toolRegistry, gate, priceTracker, eventBus, metricsTracker, orchestrator.Config{
		MaxToolCalls:      cfg.MaxToolCalls,
		ModelFallbacks:    cfg.ModelFallbacks,
		ParallelToolCalls: cfg.ParallelToolCalls,
	}, cfg.Logger)

	return &Client{
		cfg:          cfg,
		bus:          eventBus,
		historyStore: store,
		history:      historyMgr,
		authMgr:      authMgr,
		accessEval:   accessEval,
		limiter:      limiter,
		sanitizer:    sanitizer,
		gate:         gate,
		priceTracker: priceTracker,
		toolRegistry: toolRegistry,
		transport:    tr,
		orch:         orch,
		logger:       cfg.Logger,
	}, nil
}

func newHistoryStore(cfg Config) (history.Store, error) {
	switch cfg.HistoryBackend {
	case HistoryDisk:
		return history.NewDiskStore(cfg.HistoryDiskDir, cfg.Logger), nil
	case HistoryRemote:
		return history.NewRemoteStore(cfg.HistoryRemoteURL, nil), nil
	default:
		return history.NewMemoryStore(), nil
	}
}

// RegisterTool adds tool to the client's tool registry, available to
// every subsequent Chat/ChatStream call.
func (c *Client) RegisterTool(tool Tool) error {
	return c.toolRegistry.Register(tool)
}

// Chat runs a single non-streaming chat completion, including any
// tool-calling rounds, and persists the resulting turns to history when
// req.HistoryKey is set.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatCompletionResult, error) {
	return c.runMiddlewareChain(ctx, &req, c.doChat)
}

func (c *Client) doChat(ctx context.Context, req *ChatRequest) (*ChatCompletionResult, error) {
	prepared, err := c.prepareMessages(ctx, req)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}

	result, err := c.orch.Chat(ctx, orchestrator.ChatOptions{
		Model:             model,
		Messages:          prepared,
		ToolChoice:        req.ToolChoice,
		MaxTokens:         req.MaxTokens,
		Temperature:       req.Temperature,
		JSONResponse:      req.JSONResponse,
		StrictJSONParsing: req.StrictJSONParsing,
		Token:             req.Token,
		User:              req.User,
	})
	if err != nil {
		return nil, err
	}

	c.persistTurn(ctx, req, result)
	return result, nil
}

// ChatStream runs a streaming chat completion, dispatching callbacks as
// the model and tools produce output.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest, cb orchestrator.StreamCallbacks) (*ChatCompletionResult, error) {
	return c.runMiddlewareChain(ctx, &req, func(ctx context.Context, req *ChatRequest) (*ChatCompletionResult, error) {
		return c.doChatStream(ctx, req, cb)
	})
}

func (c *Client) doChatStream(ctx context.Context, req *ChatRequest, cb orchestrator.StreamCallbacks) (*ChatCompletionResult, error) {
	prepared, err := c.prepareMessages(ctx, req)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}

	result, err := c.orch.ChatStream(ctx, orchestrator.ChatOptions{
		Model:             model,
		Messages:          prepared,
		ToolChoice:        req.ToolChoice,
		MaxTokens:         req.MaxTokens,
		Temperature:       req.Temperature,
		JSONResponse:      req.JSONResponse,
		StrictJSONParsing: req.StrictJSONParsing,
		Token:             req.Token,
		User:              req.User,
	}, cb)
	if err != nil {
		return nil, err
	}

	c.persistTurn(ctx, req, result)
	return result, nil
}

func (c *Client) prepareMessages(ctx context.Context, req *ChatRequest) ([]Message, error) {
	var entries []HistoryEntry
	if req.HistoryKey != nil {
		loaded, err := c.history.GetEntries(ctx, req.HistoryKey.String())
		if err != nil {
			return nil, err
		}
		entries = loaded
	}
	return messages.Prepare(messages.Input{
		CustomMessages: req.CustomMessages,
		SystemPrompt:   req.SystemPrompt,
		Prompt:         req.Prompt,
		History:        entries,
	}, c.logger)
}

func (c *Client) persistTurn(ctx context.Context, req *ChatRequest, result *ChatCompletionResult) {
	if req.HistoryKey == nil || result == nil {
		return
	}
	success := true
	entries := []HistoryEntry{}
	if req.Prompt != "" {
		entries = append(entries, HistoryEntry{Message: NewTextMessage(RoleUser, req.Prompt)})
	}
	entries = append(entries, HistoryEntry{
		Message: NewTextMessage(RoleAssistant, stringOrEmpty(result.Content)),
		Metadata: &ApiCallMetadata{
			ModelUsed:    result.Model,
			Usage:        result.Usage,
			Cost:         result.Cost,
			FinishReason: result.FinishReason,
			Timestamp:    time.Now(),
			RequestID:    result.ID,
			Success:      &success,
		},
	})
	if err := c.history.AddEntries(ctx, req.HistoryKey.String(), entries); err != nil {
		c.logger.Warn("failed to persist chat turn to history", "error", err)
	}
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Use invokes plugin.Init with this Client, letting it subscribe to
// events, register tools, or otherwise extend behavior.
func (c *Client) Use(plugin Plugin) error {
	if plugin == nil {
		return nil
	}
	return plugin.Init(c)
}

// UseMiddleware appends fn to the middleware chain wrapping every chat
// call, in registration order (first registered runs outermost).
func (c *Client) UseMiddleware(fn Middleware) {
	if fn == nil {
		return
	}
	c.middlewares = append(c.middlewares, fn)
}

func (c *Client) runMiddlewareChain(ctx context.Context, req *ChatRequest, final MiddlewareNext) (*ChatCompletionResult, error) {
	next := final
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		mw := c.middlewares[i]
		prevNext := next
		next = func(ctx context.Context, req *ChatRequest) (*ChatCompletionResult, error) {
			return mw(ctx, req, prevNext)
		}
	}
	return next(ctx, req)
}

// CreateAccessToken issues a JWT for payload, valid for expiresIn (or the
// configured default if zero). Requires Config.Auth.Type == authn.TypeJWT
// with a non-placeholder secret.
func (c *Client) CreateAccessToken(payload map[string]any, expiresIn time.Duration) (string, error) {
	if c.authMgr == nil {
		return "", New(CodeConfigError, "no authentication manager configured")
	}
	return c.authMgr.IssueToken(payload, expiresIn)
}

// GetCreditBalance performs a single read of the gateway's credits
// endpoint.
func (c *Client) GetCreditBalance(ctx context.Context) (CreditBalance, error) {
	return pricing.GetCreditBalance(ctx, c.transport)
}

// GetModelPrices returns the price for a single model, if known.
func (c *Client) GetModelPrices(modelID string) (ModelPrice, bool) {
	return c.priceTracker.Get(modelID)
}

// RefreshModelPrices forces an immediate catalog refresh.
func (c *Client) RefreshModelPrices(ctx context.Context) error {
	return c.priceTracker.Refresh(ctx)
}

// On subscribes to topic and returns a token usable with Off.
func (c *Client) On(topic string, handler func(payload any)) uint64 {
	return c.bus.On(topic, handler)
}

// Off removes the subscription identified by token from topic.
func (c *Client) Off(topic string, token uint64) {
	c.bus.Off(topic, token)
}

// Close stops every background goroutine (history sweep, rate-limit
// sweep, price refresh) and releases the history store.
func (c *Client) Close() error {
	c.limiter.Close()
	c.priceTracker.Close()
	return c.history.Close()
}
