package security

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mmeerrkkaa/openrouter-kit/internal/access"
	"github.com/mmeerrkkaa/openrouter-kit/internal/authn"
	"github.com/mmeerrkkaa/openrouter-kit/internal/ratelimit"
	"github.com/mmeerrkkaa/openrouter-kit/internal/sanitize"
	"github.com/mmeerrkkaa/openrouter-kit/pkg/orkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuth(t *testing.T) *authn.Manager {
	m, err := authn.New(authn.Config{Type: authn.TypeJWT, Secret: "a-real-secret-value"}, nil, nil)
	require.NoError(t, err)
	return m
}

func TestGateRequiresAuthenticationWhenConfigured(t *testing.T) {
	auth := newTestAuth(t)
	g := New(Config{RequireAuthentication: true}, auth, nil, nil, nil, nil)

	_, err := g.Check(Request{ToolName: "t"})
	require.Error(t, err)
	assert.Equal(t, orkit.CodeAuthentication, orkit.CodeOf(err))
}

func TestGateAllowsUnauthenticatedWhenPermitted(t *testing.T) {
	auth := newTestAuth(t)
	g := New(Config{RequireAuthentication: true, AllowUnauthenticatedAccess: true}, auth,
		access.New(access.Config{DefaultPolicy: access.AllowAll}, nil, nil), nil, nil, nil)

	user, err := g.Check(Request{ToolName: "t"})
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestGateDeniesByAccessControl(t *testing.T) {
	auth := newTestAuth(t)
	token, err := auth.IssueToken(map[string]any{"userId": "u1"}, time.Hour)
	require.NoError(t, err)

	accessEval := access.New(access.Config{DefaultPolicy: access.DenyAll}, nil, nil)
	g := New(Config{}, auth, accessEval, nil, nil, nil)

	_, err = g.Check(Request{Token: token, ToolName: "exec"})
	require.Error(t, err)
	assert.Equal(t, orkit.CodeAccessDenied, orkit.CodeOf(err))
}

func TestGateRateLimitsAuthenticatedUserOnly(t *testing.T) {
	auth := newTestAuth(t)
	token, err := auth.IssueToken(map[string]any{"userId": "u1"}, time.Hour)
	require.NoError(t, err)

	accessEval := access.New(access.Config{DefaultPolicy: access.AllowAll}, nil, nil)
	limiter := ratelimit.New(0)
	defer limiter.Close()
	g := New(Config{
		ToolAccessLimits: ToolAccessRateLimits{"exec": {Limit: 1, Window: time.Minute}},
	}, auth, accessEval, limiter, nil, nil)

	_, err = g.Check(Request{Token: token, ToolName: "exec"})
	require.NoError(t, err)
	_, err = g.Check(Request{Token: token, ToolName: "exec"})
	require.Error(t, err)
	assert.Equal(t, orkit.CodeRateLimit, orkit.CodeOf(err))
}

func TestGateSanitizesArgsWhenPresent(t *testing.T) {
	accessEval := access.New(access.Config{DefaultPolicy: access.AllowAll}, nil, nil)
	sanitizer := sanitize.New(sanitize.Config{}, nil, nil)
	g := New(Config{}, nil, accessEval, nil, sanitizer, nil)

	_, err := g.Check(Request{ToolName: "exec", Args: json.RawMessage(`{"cmd":"ls; rm -rf /"}`)})
	require.Error(t, err)
	assert.Equal(t, orkit.CodeDangerousArgs, orkit.CodeOf(err))
}

func TestGateRateLimitSourcePriority(t *testing.T) {
	auth := newTestAuth(t)
	token, err := auth.IssueToken(map[string]any{"userId": "u1", "role": "admin"}, time.Hour)
	require.NoError(t, err)

	accessEval := access.New(access.Config{DefaultPolicy: access.AllowAll}, nil, nil)
	limiter := ratelimit.New(0)
	defer limiter.Close()
	g := New(Config{
		RoleLimits:       RoleRateLimits{"admin": {"exec": {Limit: 5, Window: time.Minute}}},
		ToolAccessLimits: ToolAccessRateLimits{"exec": {Limit: 1, Window: time.Minute}},
	}, auth, accessEval, limiter, nil, nil)

	// Role-specific limit (5) takes priority over the lower toolAccess limit (1).
	for i := 0; i < 5; i++ {
		_, err := g.Check(Request{Token: token, ToolName: "exec"})
		require.NoError(t, err)
	}
	_, err = g.Check(Request{Token: token, ToolName: "exec"})
	require.Error(t, err)
}
