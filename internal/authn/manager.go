// Package authn implements the auth manager (C5): token verification,
// issuance, and a validation cache shared across calls.
package authn

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mmeerrkkaa/openrouter-kit/internal/bus"
	"github.com/mmeerrkkaa/openrouter-kit/pkg/orkit"
)

// Type selects how tokens presented to Authenticate are checked.
type Type string

const (
	TypeJWT    Type = "jwt"
	TypeAPIKey Type = "api-key"
	TypeCustom Type = "custom"
)

// CustomAuthenticator validates an opaque token for Type custom.
type CustomAuthenticator func(token string) (*orkit.UserAuthInfo, error)

// Config configures the Manager.
type Config struct {
	Type                Type
	Secret              string
	CustomAuthenticator CustomAuthenticator
	// TokenExpiry is the default lifetime used by IssueToken when the
	// caller does not specify one.
	TokenExpiry time.Duration
}

// Manager authenticates tokens, issues JWTs, and caches successful
// validations until they expire or the cache is cleared.
type Manager struct {
	mu     sync.RWMutex
	cfg    Config
	jwtSvc *jwtService
	cache  map[string]cachedUser
	bus    *bus.Bus
	logger *slog.Logger
}

type cachedUser struct {
	user      *orkit.UserAuthInfo
	expiresAt *time.Time
}

// New constructs a Manager. Configuring type=jwt with a missing or
// placeholder secret is a loud configuration error: the manager is still
// returned (so non-token-issuing reads can proceed with everything
// disabled) but IssueToken will always fail.
func New(cfg Config, eventBus *bus.Bus, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{cfg: cfg, cache: make(map[string]cachedUser), bus: eventBus, logger: logger}

	if cfg.Type == TypeJWT {
		if IsPlaceholderSecret(cfg.Secret) {
			return m, orkit.New(orkit.CodeConfigError,
				"insecure JWT configuration: secret is missing or a known placeholder value")
		}
		m.jwtSvc = newJWTService(cfg.Secret)
	}
	return m, nil
}

// Authenticate validates token and returns the associated user, or nil
// if token is empty. It consults the validation cache first.
func (m *Manager) Authenticate(token string) (*orkit.UserAuthInfo, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}

	if cached, ok := m.cacheGet(token); ok {
		m.emit("user:authenticated", cached)
		return cached, nil
	}

	user, err := m.authenticateByType(token)
	if err != nil {
		m.emitFailure(err)
		return nil, err
	}

	m.cachePut(token, user)
	m.emit("user:authenticated", user)
	return user, nil
}

func (m *Manager) authenticateByType(token string) (*orkit.UserAuthInfo, error) {
	switch m.cfg.Type {
	case TypeJWT:
		if m.jwtSvc == nil {
			return nil, orkit.New(orkit.CodeAuthentication, "jwt auth not configured")
		}
		return m.jwtSvc.verify(token)
	case TypeCustom:
		if m.cfg.CustomAuthenticator == nil {
			return nil, orkit.New(orkit.CodeAuthentication, "custom authenticator not configured")
		}
		user, err := m.cfg.CustomAuthenticator(token)
		if err != nil {
			return nil, orkit.Wrap(orkit.CodeAuthentication, err, "custom authentication failed")
		}
		return user, nil
	case TypeAPIKey:
		return nil, orkit.New(orkit.CodeAuthentication, "api-key authentication is reserved and not implemented")
	default:
		return nil, orkit.New(orkit.CodeAuthentication, "no authentication type configured")
	}
}

func (m *Manager) emitFailure(err error) {
	if m.bus == nil {
		return
	}
	m.bus.Emit("auth:failed", map[string]any{"reason": err.Error()})
	m.bus.Emit(bus.ErrorTopic, err)
}

func (m *Manager) emit(topic string, payload any) {
	if m.bus != nil {
		m.bus.Emit(topic, payload)
	}
}

func (m *Manager) cacheGet(token string) (*orkit.UserAuthInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.cache[token]
	if !ok {
		return nil, false
	}
	if entry.expiresAt != nil && time.Now().After(*entry.expiresAt) {
		delete(m.cache, token)
		return nil, false
	}
	return entry.user, true
}

func (m *Manager) cachePut(token string, user *orkit.UserAuthInfo) {
	if user == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[token] = cachedUser{user: user, expiresAt: user.ExpiresAt}
}

// IssueToken signs a JWT for payload with the given lifetime. It only
// succeeds when the manager is configured for type=jwt with a
// non-placeholder secret.
func (m *Manager) IssueToken(payload map[string]any, expiresIn time.Duration) (string, error) {
	if m.cfg.Type != TypeJWT || m.jwtSvc == nil {
		return "", orkit.New(orkit.CodeConfigError, "token issuance requires type=jwt with a valid secret")
	}
	if expiresIn == 0 {
		expiresIn = m.cfg.TokenExpiry
	}
	return m.jwtSvc.issue(payload, expiresIn)
}

// ValidateResult is the outcome of Validate.
type ValidateResult struct {
	Valid bool
	User  *orkit.UserAuthInfo
	Error string
}

// Validate authenticates token and reports the outcome without raising
// an error for an invalid token.
func (m *Manager) Validate(token string) ValidateResult {
	user, err := m.Authenticate(token)
	if err != nil {
		return ValidateResult{Valid: false, Error: err.Error()}
	}
	if user == nil {
		return ValidateResult{Valid: false, Error: "missing token"}
	}
	return ValidateResult{Valid: true, User: user}
}

// ClearCache empties the token-validation cache.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string]cachedUser)
}

// UpdateSecret rotates the JWT secret and invalidates the validation
// cache, since tokens signed under the old secret should stop verifying.
func (m *Manager) UpdateSecret(newSecret string) error {
	if IsPlaceholderSecret(newSecret) {
		return orkit.New(orkit.CodeConfigError, "refusing to set a missing or placeholder JWT secret")
	}
	m.mu.Lock()
	m.cfg.Secret = newSecret
	m.jwtSvc = newJWTService(newSecret)
	m.cache = make(map[string]cachedUser)
	m.mu.Unlock()
	return nil
}
