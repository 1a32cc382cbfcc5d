package sandbox

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Laudkyle/aptbooks/pkg/health"
	"github.com/Laudkyle/aptbooks/pkg/middleware"
)

const serviceName = "aptbooks-sandbox"

// Deps is what NewRouter needs besides configuration.
type Deps struct {
	Store   *Store
	Replays ReplayStore
	Health  *health.Handler
	Logger  *slog.Logger

	// Events receives ledger events; nil drops them.
	Events     Publisher
	EventTopic string
}

// NewRouter creates the sandbox's chi router. ctx bounds the rate limiter's
// background cleanup.
func NewRouter(ctx context.Context, cfg *Config, deps Deps) http.Handler {
	tokens := newTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL)
	tokens.now = deps.Store.now
	auth := &authHandler{
		store:      deps.Store,
		tokens:     tokens,
		refreshTTL: cfg.RefreshTokenTTL,
		secure:     cfg.SecureCookies,
	}

	ev := newEventSink(deps.Events, deps.EventTopic)

	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.CORSAllowedOrigins
	cors.AllowCredentials = true
	cors.Environment = cfg.Environment

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestLogging(deps.Logger))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.PrometheusMetrics(serviceName))
	r.Use(middleware.CORS(cors))
	if cfg.RateLimitRPS > 0 {
		r.Use(middleware.RateLimit(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst, deps.Logger))
	}

	// Health check endpoints
	r.Get("/healthz", deps.Health.LivenessHandler())
	r.Get("/readyz", deps.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	if len(cfg.PprofAllowedCIDRs) > 0 {
		middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, deps.Logger)
	}

	// Auth endpoints (public)
	r.Route("/auth", func(r chi.Router) {
		r.Use(middleware.NoStore)
		auth.routes(r)
	})

	// Everything else requires an access token.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(tokens.validate))
		r.Use(middleware.RequestLogger(deps.Logger))
		r.Use(Idempotency(deps.Replays))

		r.With(middleware.NoStore).Get("/me", auth.Me)
		r.Get("/orgs", auth.ListOrgs)
		r.Post("/orgs/{id}/switch", auth.SwitchOrg)

		r.Route("/accounts", func(r chi.Router) { accountsResource().routes(r, deps.Store, ev) })
		r.Route("/assets", func(r chi.Router) { assetsResource().routes(r, deps.Store, ev) })
		r.Route("/inventory-items", func(r chi.Router) { inventoryResource().routes(r, deps.Store, ev) })
		r.Route("/invoices", func(r chi.Router) {
			invoicesResource().routes(r, deps.Store, ev)
			invoiceAction(r, deps.Store, ev, "post", "invoice.posted", postInvoice)
			invoiceAction(r, deps.Store, ev, "void", "invoice.voided", voidInvoice)
		})
		r.Route("/bills", func(r chi.Router) { billsResource().routes(r, deps.Store, ev) })
		r.Route("/payments", func(r chi.Router) { paymentsResource().routes(r, deps.Store, ev) })
		r.Route("/budgets", func(r chi.Router) { budgetsResource().routes(r, deps.Store, ev) })
		r.Route("/reports", func(r chi.Router) { reportRoutes(r, deps.Store) })
	})

	return r
}
