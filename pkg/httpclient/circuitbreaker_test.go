package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/Laudkyle/aptbooks/pkg/errors"
)

func breakerClient(t *testing.T, url, name string) *Client {
	t.Helper()
	cfg := DefaultConfig(url)
	cfg.Timeout = 5 * time.Second
	cfg.Breaker = BreakerConfig{
		Enabled:      true,
		Name:         name,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      100 * time.Millisecond,
		FailureRatio: 0.5,
		MinRequests:  3,
	}
	return newTestClientWithConfig(t, cfg, nil)
}

func TestDefaultBreakerConfig(t *testing.T) {
	cfg := DefaultBreakerConfig("api")
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "api", cfg.Name)
	assert.Equal(t, uint32(1), cfg.MaxRequests)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 0.5, cfg.FailureRatio)
	assert.Equal(t, uint32(5), cfg.MinRequests)
}

func TestCircuitBreaker_ClosedState_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}))
	defer server.Close()

	c := breakerClient(t, server.URL, "test-closed")
	require.NoError(t, c.Get(context.Background(), "/accounts", nil))
	assert.Equal(t, gobreaker.StateClosed, c.BreakerState())
}

func TestCircuitBreaker_5xxStillReturnsBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"code": "LEDGER_LOCKED", "message": "period closed"})
	}))
	defer server.Close()

	c := breakerClient(t, server.URL, "test-5xx-body")
	err := c.Get(context.Background(), "/reports/balance-sheet", nil)

	n := apierrors.Normalize(err)
	assert.Equal(t, http.StatusInternalServerError, n.Status)
	assert.Equal(t, "LEDGER_LOCKED", n.Code)
}

func TestCircuitBreaker_TripsAndRejects(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := breakerClient(t, server.URL, "test-trip")
	for i := 0; i < 3; i++ {
		_ = c.Get(context.Background(), "/invoices", nil)
	}
	assert.Equal(t, gobreaker.StateOpen, c.BreakerState())

	err := c.Get(context.Background(), "/invoices", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	var transportErr *apierrors.TransportError
	assert.ErrorAs(t, err, &transportErr)
	assert.Equal(t, 0, apierrors.Normalize(err).Status)
	assert.Equal(t, int32(3), hits.Load(), "open breaker does not reach the backend")
}

func TestCircuitBreaker_4xxNotCountedAsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := breakerClient(t, server.URL, "test-4xx")
	for i := 0; i < 10; i++ {
		_ = c.Get(context.Background(), "/assets/none", nil)
	}
	assert.Equal(t, gobreaker.StateClosed, c.BreakerState())
}

func TestCircuitBreaker_HalfOpenToClosedRecovery(t *testing.T) {
	var healthy atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := breakerClient(t, server.URL, "test-recovery")
	for i := 0; i < 3; i++ {
		_ = c.Get(context.Background(), "/healthz", nil)
	}
	require.Equal(t, gobreaker.StateOpen, c.BreakerState())

	healthy.Store(true)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, c.BreakerState())

	require.NoError(t, c.Get(context.Background(), "/healthz", nil))
	assert.Equal(t, gobreaker.StateClosed, c.BreakerState())
}

func TestCircuitBreaker_DisabledReportsClosed(t *testing.T) {
	c := newTestClient(t, "http://localhost", nil)
	assert.Equal(t, gobreaker.StateClosed, c.BreakerState())
}

func TestStateToFloat(t *testing.T) {
	assert.Equal(t, 0.0, stateToFloat(gobreaker.StateClosed))
	assert.Equal(t, 1.0, stateToFloat(gobreaker.StateHalfOpen))
	assert.Equal(t, 2.0, stateToFloat(gobreaker.StateOpen))
	assert.Equal(t, -1.0, stateToFloat(gobreaker.State(42)))
}
