package httpclient

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig configures the optional circuit breaker between the client
// and its transport.
type BreakerConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"false"`
	Name    string `env:"NAME" envDefault:"aptbooks-api"`

	// MaxRequests is how many probes are let through while half-open.
	MaxRequests uint32 `env:"MAX_REQUESTS" envDefault:"1"`

	// Interval clears the counts periodically while closed. 0 never clears.
	Interval time.Duration `env:"INTERVAL" envDefault:"60s"`

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`

	// FailureRatio trips the breaker once MinRequests have been seen.
	FailureRatio float64 `env:"FAILURE_RATIO" envDefault:"0.5"`
	MinRequests  uint32  `env:"MIN_REQUESTS" envDefault:"5"`
}

// DefaultBreakerConfig returns a disabled breaker with sensible thresholds.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

var (
	// ErrCircuitOpen is returned (wrapped in a TransportError) while the
	// breaker rejects requests.
	ErrCircuitOpen = gobreaker.ErrOpenState
	// ErrCircuitHalfOpenLimit is returned when half-open probes are exhausted.
	ErrCircuitHalfOpenLimit = gobreaker.ErrTooManyRequests

	errServerFailure = errors.New("server error")
)

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// breakerTransport counts transport errors and 5xx responses as failures.
// A 5xx response is still handed back unchanged so the caller sees the
// backend's error body.
type breakerTransport struct {
	next    http.RoundTripper
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

func newBreakerTransport(next http.RoundTripper, cfg BreakerConfig, logger *slog.Logger) *breakerTransport {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			breakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	}
	breakerState.WithLabelValues(cfg.Name).Set(0)

	return &breakerTransport{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](settings),
	}
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.breaker.Execute(func() (*http.Response, error) {
		resp, err := t.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, errServerFailure
		}
		return resp, nil
	})
	if errors.Is(err, errServerFailure) {
		return resp, nil
	}
	return resp, err
}

// BreakerState returns the breaker state, or StateClosed when no breaker is
// configured.
func (c *Client) BreakerState() gobreaker.State {
	if c.breaker == nil {
		return gobreaker.StateClosed
	}
	return c.breaker.breaker.State()
}
