// Package access implements the access-control component (C6): deciding
// whether a (user, tool) pair is permitted under a configured policy.
package access

import (
	"log/slog"

	"github.com/mmeerrkkaa/openrouter-kit/internal/bus"
	"github.com/mmeerrkkaa/openrouter-kit/pkg/orkit"
)

// DefaultPolicy is the fallback decision when no rule fires.
type DefaultPolicy string

const (
	DenyAll  DefaultPolicy = "deny-all"
	AllowAll DefaultPolicy = "allow-all"
)

// AccessBlock is one allow rule: either a blanket allow, or an allow
// scoped to specific roles, scopes, or API keys.
type AccessBlock struct {
	Allow       bool
	Roles       []string
	Scopes      []string
	APIKeys     []string
}

func (b *AccessBlock) matches(user *orkit.UserAuthInfo) bool {
	if b == nil {
		return false
	}
	if b.Allow {
		return true
	}
	if user == nil {
		return false
	}
	for _, r := range b.Roles {
		if user.HasRole(r) {
			return true
		}
	}
	for _, s := range b.Scopes {
		if user.HasScope(s) {
			return true
		}
	}
	for _, k := range b.APIKeys {
		if k != "" && k == user.APIKey {
			return true
		}
	}
	return false
}

// RoleRule is a role's configured allowance, including which tools it
// grants blanket access to.
type RoleRule struct {
	AllowedTools []string
}

// Config configures the access-control evaluator.
type Config struct {
	DefaultPolicy DefaultPolicy
	// ToolAccess holds per-tool access blocks keyed by tool name. The
	// key "*" is the wildcard access block applied to every tool.
	ToolAccess map[string]*AccessBlock
	// RoleRules holds per-role rules keyed by role name.
	RoleRules map[string]*RoleRule
}

// ToolRequirements are the role/scope requirements a tool definition may
// declare; checked before any access block is consulted.
type ToolRequirements struct {
	RequiredRole   string
	RequiredScopes []string
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Allowed bool
	Reason  string
}

// Evaluator evaluates access-control decisions against a Config.
type Evaluator struct {
	cfg    Config
	bus    *bus.Bus
	logger *slog.Logger
}

// New constructs an Evaluator. A nil logger defaults to slog.Default().
func New(cfg Config, eventBus *bus.Bus, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultPolicy == "" {
		cfg.DefaultPolicy = DenyAll
	}
	return &Evaluator{cfg: cfg, bus: eventBus, logger: logger}
}

// Evaluate decides whether user may invoke toolName, which declares req.
func (e *Evaluator) Evaluate(user *orkit.UserAuthInfo, toolName string, req ToolRequirements) Decision {
	if decision := e.checkRequirements(user, req); !decision.Allowed {
		e.emit(toolName, decision)
		return decision
	}

	toolAllowed := e.cfg.ToolAccess[toolName].matches(user)
	wildcardAllowed := e.cfg.ToolAccess["*"].matches(user)
	roleAllowed := e.roleAllows(user, toolName)

	anySignal := toolAllowed || wildcardAllowed || roleAllowed

	var decision Decision
	switch e.cfg.DefaultPolicy {
	case AllowAll:
		if block, ok := e.cfg.ToolAccess[toolName]; ok && !block.Allow && !toolAllowed {
			decision = Decision{Allowed: false, Reason: "tool-specific rule explicitly denies this tool"}
		} else {
			decision = Decision{Allowed: true}
		}
	default: // DenyAll
		if anySignal {
			decision = Decision{Allowed: true}
		} else {
			decision = Decision{Allowed: false, Reason: "no allow rule matched under deny-all default policy"}
		}
	}

	e.emit(toolName, decision)
	return decision
}

func (e *Evaluator) checkRequirements(user *orkit.UserAuthInfo, req ToolRequirements) Decision {
	if req.RequiredRole == "" && len(req.RequiredScopes) == 0 {
		return Decision{Allowed: true}
	}
	if user == nil {
		return Decision{Allowed: false, Reason: "authentication required: tool declares role/scope requirements"}
	}
	if req.RequiredRole != "" && !user.HasRole(req.RequiredRole) {
		return Decision{Allowed: false, Reason: "missing required role: " + req.RequiredRole}
	}
	for _, scope := range req.RequiredScopes {
		if !user.HasScope(scope) {
			return Decision{Allowed: false, Reason: "missing required scope: " + scope}
		}
	}
	return Decision{Allowed: true}
}

func (e *Evaluator) roleAllows(user *orkit.UserAuthInfo, toolName string) bool {
	if user == nil {
		return false
	}
	roles := user.Roles
	if user.Role != "" {
		roles = append(append([]string(nil), roles...), user.Role)
	}
	for _, role := range roles {
		rule, ok := e.cfg.RoleRules[role]
		if !ok {
			continue
		}
		for _, t := range rule.AllowedTools {
			if t == "*" || t == toolName {
				return true
			}
		}
	}
	return false
}

func (e *Evaluator) emit(toolName string, decision Decision) {
	if e.bus == nil {
		return
	}
	if decision.Allowed {
		e.bus.Emit("access:granted", map[string]any{"tool": toolName})
	} else {
		e.bus.Emit("access:denied", map[string]any{"tool": toolName, "reason": decision.Reason})
	}
}
