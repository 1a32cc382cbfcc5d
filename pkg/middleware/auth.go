package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"

	apierrors "github.com/Laudkyle/aptbooks/pkg/errors"
	"github.com/Laudkyle/aptbooks/pkg/httputil"
	"github.com/Laudkyle/aptbooks/pkg/logger"
)

type contextKeyType string

const claimsKey contextKeyType = "claims"

// Claims is the identity carried by a validated access token.
type Claims struct {
	UserID      string   `json:"sub"`
	Email       string   `json:"email"`
	OrgID       string   `json:"org_id,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// HasPermission reports whether the claims grant perm. The "*" permission
// grants everything.
func (c *Claims) HasPermission(perm string) bool {
	return slices.Contains(c.Permissions, perm) || slices.Contains(c.Permissions, "*")
}

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator func(token string) (*Claims, error)

// Auth validates the bearer token and injects the claims into context.
// Failures are written in the flat {"code","message"} shape.
func Auth(validate TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, r, "missing authorization header")
				return
			}

			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
				writeAuthError(w, r, "invalid authorization header format")
				return
			}

			claims, err := validate(token)
			if err != nil {
				writeAuthError(w, r, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			ctx = logger.WithUserID(ctx, claims.UserID)
			if claims.OrgID != "" {
				ctx = logger.WithOrgID(ctx, claims.OrgID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission rejects requests whose claims lack perm with 403.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil || !claims.HasPermission(perm) {
				httputil.WriteError(w, r, apierrors.Forbidden("missing permission "+perm), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClaimsFromContext returns the claims set by Auth, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey).(*Claims)
	return c
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if c := ClaimsFromContext(ctx); c != nil {
		return c.UserID
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, r *http.Request, message string) {
	httputil.WriteFlatError(w, r, apierrors.Unauthorized(message), nil)
}
