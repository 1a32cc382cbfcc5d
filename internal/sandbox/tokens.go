package sandbox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Laudkyle/aptbooks/pkg/middleware"
)

const tokenIssuer = "aptbooks-sandbox"

// accessClaims are the JWT claims of an access token.
type accessClaims struct {
	Email       string   `json:"email"`
	OrgID       string   `json:"org_id,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// tokenManager signs and validates HS256 access tokens and mints opaque
// refresh tokens.
type tokenManager struct {
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
}

func newTokenManager(secret string, accessTTL time.Duration) *tokenManager {
	return &tokenManager{secret: []byte(secret), accessTTL: accessTTL, now: time.Now}
}

// issueAccess signs an access token scoped to one organization.
func (m *tokenManager) issueAccess(userID, email, orgID string, roles, permissions []string) (string, error) {
	now := m.now().UTC()
	claims := &accessClaims{
		Email:       email,
		OrgID:       orgID,
		Roles:       roles,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
			Issuer:    tokenIssuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// validate parses an access token. It satisfies middleware.TokenValidator.
func (m *tokenManager) validate(token string) (*middleware.Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &accessClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}

	claims, ok := parsed.Claims.(*accessClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid access token claims")
	}
	return &middleware.Claims{
		UserID:      claims.Subject,
		Email:       claims.Email,
		OrgID:       claims.OrgID,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
	}, nil
}

// newRefreshToken returns an opaque random token.
func newRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// hashToken returns the SHA256 hex digest of token. Only hashes are stored.
func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
