package authn

import (
	"testing"
	"time"

	"github.com/mmeerrkkaa/openrouter-kit/pkg/orkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidateRoundTrip(t *testing.T) {
	m, err := New(Config{Type: TypeJWT, Secret: "a-real-secret-value"}, nil, nil)
	require.NoError(t, err)

	token, err := m.IssueToken(map[string]any{"userId": "u1", "role": "admin"}, time.Hour)
	require.NoError(t, err)

	result := m.Validate(token)
	assert.True(t, result.Valid)
	require.NotNil(t, result.User)
	assert.Equal(t, "u1", result.User.UserID)
	assert.Equal(t, "admin", result.User.Role)
}

func TestExpiredTokenInvalid(t *testing.T) {
	m, err := New(Config{Type: TypeJWT, Secret: "a-real-secret-value"}, nil, nil)
	require.NoError(t, err)

	token, err := m.IssueToken(map[string]any{"userId": "u1"}, -time.Hour)
	require.NoError(t, err)

	result := m.Validate(token)
	assert.False(t, result.Valid)
}

func TestPlaceholderSecretRefused(t *testing.T) {
	_, err := New(Config{Type: TypeJWT, Secret: "changeme"}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, orkit.CodeConfigError, orkit.CodeOf(err))
}

func TestIssueTokenRequiresUserID(t *testing.T) {
	m, err := New(Config{Type: TypeJWT, Secret: "a-real-secret-value"}, nil, nil)
	require.NoError(t, err)
	_, err = m.IssueToken(map[string]any{}, time.Hour)
	require.Error(t, err)
	assert.Equal(t, orkit.CodeJWTSignError, orkit.CodeOf(err))
}

func TestAuthenticateEmptyTokenReturnsNil(t *testing.T) {
	m, err := New(Config{Type: TypeJWT, Secret: "a-real-secret-value"}, nil, nil)
	require.NoError(t, err)
	user, err := m.Authenticate("")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestCustomAuthenticator(t *testing.T) {
	m, err := New(Config{
		Type: TypeCustom,
		CustomAuthenticator: func(token string) (*orkit.UserAuthInfo, error) {
			return &orkit.UserAuthInfo{UserID: "custom-" + token}, nil
		},
	}, nil, nil)
	require.NoError(t, err)

	user, err := m.Authenticate("tok")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "custom-tok", user.UserID)
}

func TestClearCacheForcesRevalidation(t *testing.T) {
	calls := 0
	m, err := New(Config{
		Type: TypeCustom,
		CustomAuthenticator: func(token string) (*orkit.UserAuthInfo, error) {
			calls++
			return &orkit.UserAuthInfo{UserID: "u"}, nil
		},
	}, nil, nil)
	require.NoError(t, err)

	_, _ = m.Authenticate("tok")
	_, _ = m.Authenticate("tok")
	assert.Equal(t, 1, calls)

	m.ClearCache()
	_, _ = m.Authenticate("tok")
	assert.Equal(t, 2, calls)
}
