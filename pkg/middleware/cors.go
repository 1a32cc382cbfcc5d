package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Laudkyle/aptbooks/pkg/requestid"
)

var (
	defaultCORSMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	defaultCORSHeaders = []string{"Accept", "Authorization", "Content-Type", requestid.HeaderRequestID, requestid.HeaderIdempotencyKey}
)

// CORSConfig configures CORS. Empty method and header lists fall back to the
// defaults; a zero MaxAge means one hour.
type CORSConfig struct {
	// AllowedOrigins may contain "*", which allows any origin.
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	ExposedHeaders []string
	MaxAge         int

	// AllowCredentials lets browsers send the refresh cookie. Browsers
	// reject "*" with credentials, so a wildcard then echoes the origin.
	AllowCredentials bool

	// Environment "development" allows any origin regardless of the list.
	Environment string
}

// DefaultCORSConfig allows any origin and exposes the request ID and replay
// headers the client reads.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: defaultCORSMethods,
		AllowedHeaders: defaultCORSHeaders,
		ExposedHeaders: []string{requestid.HeaderRequestID, requestid.HeaderIdempotentReplay},
		MaxAge:         3600,
		Environment:    "development",
	}
}

type corsPolicy struct {
	anyOrigin   bool
	credentials bool
	origins     map[string]bool
	static      map[string]string
}

func newCORSPolicy(cfg CORSConfig) *corsPolicy {
	methods, headers, maxAge := cfg.AllowedMethods, cfg.AllowedHeaders, cfg.MaxAge
	if len(methods) == 0 {
		methods = defaultCORSMethods
	}
	if len(headers) == 0 {
		headers = defaultCORSHeaders
	}
	if maxAge == 0 {
		maxAge = 3600
	}

	p := &corsPolicy{
		anyOrigin:   cfg.Environment == "development",
		credentials: cfg.AllowCredentials,
		origins:     make(map[string]bool, len(cfg.AllowedOrigins)),
		static: map[string]string{
			"Access-Control-Allow-Methods": strings.Join(methods, ", "),
			"Access-Control-Allow-Headers": strings.Join(headers, ", "),
			"Access-Control-Max-Age":       strconv.Itoa(maxAge),
		},
	}
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			p.anyOrigin = true
		}
		p.origins[o] = true
	}
	if len(cfg.ExposedHeaders) > 0 {
		p.static["Access-Control-Expose-Headers"] = strings.Join(cfg.ExposedHeaders, ", ")
	}
	if cfg.AllowCredentials {
		p.static["Access-Control-Allow-Credentials"] = "true"
	}
	return p
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin and
// whether the answer depends on it.
func (p *corsPolicy) allowOrigin(origin string) (value string, varies bool) {
	switch {
	case p.anyOrigin && p.credentials && origin != "":
		return origin, true
	case p.anyOrigin:
		return "*", false
	case origin != "" && p.origins[origin]:
		return origin, true
	default:
		return "", false
	}
}

// CORS sets cross-origin headers and answers preflight OPTIONS requests with
// 204 without calling next.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	p := newCORSPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if value, varies := p.allowOrigin(r.Header.Get("Origin")); value != "" {
				h.Set("Access-Control-Allow-Origin", value)
				if varies {
					h.Add("Vary", "Origin")
				}
			}
			for k, v := range p.static {
				h.Set(k, v)
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
