package authn

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mmeerrkkaa/openrouter-kit/pkg/orkit"
)

// placeholderSecrets are known-insecure values configuration must refuse.
var placeholderSecrets = map[string]bool{
	"":             true,
	"secret":       true,
	"changeme":     true,
	"your-secret":  true,
	"test-secret":  true,
	"placeholder":  true,
}

// IsPlaceholderSecret reports whether secret is empty or a well-known
// placeholder value that must never back real token issuance.
func IsPlaceholderSecret(secret string) bool {
	return placeholderSecrets[strings.ToLower(strings.TrimSpace(secret))]
}

type jwtService struct {
	secret []byte
}

func newJWTService(secret string) *jwtService {
	return &jwtService{secret: []byte(secret)}
}

type claims struct {
	UserID string         `json:"userId"`
	Role   string         `json:"role,omitempty"`
	Roles  []string       `json:"roles,omitempty"`
	Scopes []string       `json:"scopes,omitempty"`
	Meta   map[string]any `json:"metadata,omitempty"`
	jwt.RegisteredClaims
}

// issue signs a token carrying payload, with standard iat/exp claims set
// by the issuer. payload must contain a non-empty userId.
func (s *jwtService) issue(payload map[string]any, expiresIn time.Duration) (string, error) {
	userID, _ := payload["userId"].(string)
	if strings.TrimSpace(userID) == "" {
		return "", orkit.New(orkit.CodeJWTSignError, "payload.userId is required")
	}

	c := claims{UserID: userID}
	if role, ok := payload["role"].(string); ok {
		c.Role = role
	}
	if roles, ok := payload["roles"].([]string); ok {
		c.Roles = roles
	}
	if scopes, ok := payload["scopes"].([]string); ok {
		c.Scopes = scopes
	}
	if meta, ok := payload["metadata"].(map[string]any); ok {
		c.Meta = meta
	}
	c.RegisteredClaims = jwt.RegisteredClaims{
		Subject:  userID,
		IssuedAt: jwt.NewNumericDate(time.Now()),
	}
	if expiresIn != 0 {
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(expiresIn))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", orkit.Wrap(orkit.CodeJWTSignError, err, "failed to sign token")
	}
	return signed, nil
}

// verify parses and validates token, returning the embedded user info.
func (s *jwtService) verify(token string) (*orkit.UserAuthInfo, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, orkit.Wrap(orkit.CodeJWTValidation, err, "invalid token")
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || strings.TrimSpace(c.UserID) == "" {
		return nil, orkit.New(orkit.CodeJWTValidation, "invalid token")
	}

	info := &orkit.UserAuthInfo{
		UserID:   c.UserID,
		Role:     c.Role,
		Roles:    c.Roles,
		Scopes:   c.Scopes,
		Metadata: c.Meta,
	}
	if c.ExpiresAt != nil {
		t := c.ExpiresAt.Time
		info.ExpiresAt = &t
	}
	return info, nil
}
