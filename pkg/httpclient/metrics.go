package httpclient

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aptbooks_client_requests_total",
			Help: "Requests sent to the Aptbooks API by method and status (0 = no response).",
		},
		[]string{"method", "status"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aptbooks_client_request_duration_seconds",
			Help:    "Round-trip latency of requests to the Aptbooks API.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aptbooks_client_token_refresh_total",
			Help: "Token refresh exchanges by outcome (success, failure, no_token).",
		},
		[]string{"outcome"},
	)

	authRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aptbooks_client_auth_retries_total",
			Help: "Requests reissued after a successful token refresh.",
		},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aptbooks_client_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, refreshTotal, authRetriesTotal, breakerState)
}

// newInstrumentedTransport records request metrics for every attempt and
// wraps it in an OpenTelemetry client span that propagates the trace context.
func newInstrumentedTransport(next http.RoundTripper) http.RoundTripper {
	return otelhttp.NewTransport(&metricsTransport{next: next},
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "HTTP " + r.Method
		}),
	)
}

type metricsTransport struct {
	next http.RoundTripper
}

func (t *metricsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	requestDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())

	if err != nil {
		requestsTotal.WithLabelValues(req.Method, "0").Inc()
		return nil, err
	}
	requestsTotal.WithLabelValues(req.Method, strconv.Itoa(resp.StatusCode)).Inc()
	return resp, nil
}
