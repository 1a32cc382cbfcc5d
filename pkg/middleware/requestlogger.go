package middleware

import (
	"log/slog"
	"net/http"

	"github.com/Laudkyle/aptbooks/pkg/logger"
)

// RequestLogger returns middleware that builds a request-scoped logger enriched
// with request_id, user_id, org_id, trace_id and span_id, then stores it in
// context via logger.NewContext. Downstream handlers retrieve it with
// logger.FromContext(ctx).
//
// Mount it after RequestLogging and Tracing. Routes behind Auth see the
// user and organization of the token; Auth already placed them in context.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if c := ClaimsFromContext(ctx); c != nil {
				ctx = logger.WithUserID(ctx, c.UserID)
				if c.OrgID != "" {
					ctx = logger.WithOrgID(ctx, c.OrgID)
				}
			}

			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
