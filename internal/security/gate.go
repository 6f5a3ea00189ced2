// Package security composes the auth manager, access control, rate
// limiter, and argument sanitizer into the single security gate (C9)
// the orchestrator consults before every tool invocation.
package security

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mmeerrkkaa/openrouter-kit/internal/access"
	"github.com/mmeerrkkaa/openrouter-kit/internal/authn"
	"github.com/mmeerrkkaa/openrouter-kit/internal/ratelimit"
	"github.com/mmeerrkkaa/openrouter-kit/internal/sanitize"
	"github.com/mmeerrkkaa/openrouter-kit/pkg/orkit"
)

// RateLimitRule pairs a limit with the source that produced it, used to
// report which configuration location is in effect.
type RateLimitRule struct {
	Limit  orkit.RateLimit
	Source string
}

// RoleRateLimits maps a role name to its rate limit, keyed additionally
// by tool name ("*" for the role's wildcard limit).
type RoleRateLimits map[string]map[string]orkit.RateLimit

// ToolAccessRateLimits maps a tool-access rule's scope (tool name or "*")
// to its rate limit.
type ToolAccessRateLimits map[string]orkit.RateLimit

// Config configures the Gate.
type Config struct {
	RequireAuthentication      bool
	AllowUnauthenticatedAccess bool

	RoleLimits       RoleRateLimits
	ToolAccessLimits ToolAccessRateLimits
}

// Gate is the composed security entry point.
type Gate struct {
	cfg       Config
	auth      *authn.Manager
	access    *access.Evaluator
	limiter   *ratelimit.Limiter
	sanitizer *sanitize.Sanitizer
	logger    *slog.Logger
}

// New constructs a Gate from its collaborators. Any of auth/access/
// limiter/sanitizer may be nil to disable that stage.
func New(cfg Config, auth *authn.Manager, accessEval *access.Evaluator, limiter *ratelimit.Limiter, sanitizer *sanitize.Sanitizer, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{cfg: cfg, auth: auth, access: accessEval, limiter: limiter, sanitizer: sanitizer, logger: logger}
}

// Request is everything the gate needs to check a single tool call.
type Request struct {
	Token      string
	ToolName   string
	ToolReq    access.ToolRequirements
	Args       json.RawMessage
	ToolMetaLimit *orkit.RateLimit
}

// Check runs authentication, access control, rate limiting, and
// argument sanitization, in that order, failing fast with a typed error
// at the first stage that rejects the call. It never invokes the tool
// itself.
func (g *Gate) Check(req Request) (*orkit.UserAuthInfo, error) {
	user, err := g.checkAuth(req.Token)
	if err != nil {
		return nil, err
	}

	if g.access != nil {
		decision := g.access.Evaluate(user, req.ToolName, req.ToolReq)
		if !decision.Allowed {
			return nil, orkit.New(orkit.CodeAccessDenied, decision.Reason).
				WithDetails(map[string]any{"tool": req.ToolName})
		}
	}

	if user != nil {
		if err := g.checkRateLimit(user, req); err != nil {
			return nil, err
		}
	}

	if len(req.Args) > 0 && g.sanitizer != nil {
		if _, err := g.sanitizer.Check(req.ToolName, req.Args); err != nil {
			return nil, err
		}
	}

	return user, nil
}

func (g *Gate) checkAuth(token string) (*orkit.UserAuthInfo, error) {
	if g.auth == nil {
		return nil, nil
	}
	user, err := g.auth.Authenticate(token)
	if err != nil {
		return nil, err
	}
	if user == nil && g.cfg.RequireAuthentication && !g.cfg.AllowUnauthenticatedAccess {
		return nil, orkit.New(orkit.CodeAuthentication, "authentication required")
	}
	return user, nil
}

// resolveRateLimit picks the applicable limit by priority: role+tool,
// role+wildcard, toolAccess+tool, toolAccess+wildcard, tool metadata.
func (g *Gate) resolveRateLimit(user *orkit.UserAuthInfo, req Request) (RateLimitRule, bool) {
	roles := append(append([]string(nil), user.Roles...), user.Role)
	for _, role := range roles {
		if byTool, ok := g.cfg.RoleLimits[role]; ok {
			if limit, ok := byTool[req.ToolName]; ok {
				return RateLimitRule{Limit: limit, Source: "role:" + role + ":" + req.ToolName}, true
			}
		}
	}
	for _, role := range roles {
		if byTool, ok := g.cfg.RoleLimits[role]; ok {
			if limit, ok := byTool["*"]; ok {
				return RateLimitRule{Limit: limit, Source: "role:" + role + ":*"}, true
			}
		}
	}
	if limit, ok := g.cfg.ToolAccessLimits[req.ToolName]; ok {
		return RateLimitRule{Limit: limit, Source: "toolAccess:" + req.ToolName}, true
	}
	if limit, ok := g.cfg.ToolAccessLimits["*"]; ok {
		return RateLimitRule{Limit: limit, Source: "toolAccess:*"}, true
	}
	if req.ToolMetaLimit != nil {
		return RateLimitRule{Limit: *req.ToolMetaLimit, Source: "toolMetadata"}, true
	}
	return RateLimitRule{}, false
}

func (g *Gate) checkRateLimit(user *orkit.UserAuthInfo, req Request) error {
	if g.limiter == nil {
		return nil
	}
	rule, ok := g.resolveRateLimit(user, req)
	if !ok {
		return nil
	}

	key := ratelimit.Key{UserID: user.UserID, Tool: req.ToolName, Source: rule.Source}
	result := g.limiter.Check(key, rule.Limit.Limit, rule.Limit.Window)
	if result.Allowed {
		return nil
	}

	retryAfter := result.TimeLeft
	if retryAfter < 0 {
		retryAfter = 0
	}
	return orkit.New(orkit.CodeRateLimit, "rate limit exceeded").WithDetails(map[string]any{
		"limit":             rule.Limit.Limit,
		"window":            rule.Limit.Window,
		"timeLeftMs":        retryAfter.Milliseconds(),
		"retryAfterSeconds": int(retryAfter / time.Second),
		"source":            rule.Source,
	})
}
