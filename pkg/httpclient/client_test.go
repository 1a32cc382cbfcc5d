package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	apierrors "github.com/Laudkyle/aptbooks/pkg/errors"
	"github.com/Laudkyle/aptbooks/pkg/requestid"
	"github.com/Laudkyle/aptbooks/pkg/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(t *testing.T, baseURL string, store *session.Store, opts ...Option) *Client {
	t.Helper()
	cfg := DefaultConfig(baseURL)
	cfg.Timeout = 5 * time.Second
	return newTestClientWithConfig(t, cfg, store, opts...)
}

func newTestClientWithConfig(t *testing.T, cfg Config, store *session.Store, opts ...Option) *Client {
	t.Helper()
	if store == nil {
		store = session.NewStore(nil)
	}
	c, err := New(cfg, store, append([]Option{WithLogger(testLogger())}, opts...)...)
	require.NoError(t, err)
	return c
}

func storeWith(access, refresh string) *session.Store {
	s := session.NewStore(nil)
	s.SetSession(context.Background(), session.Snapshot{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         &session.User{ID: "u1", Email: "ada@example.com"},
		Roles:        []string{"admin"},
		Permissions:  []string{"invoices:write"},
	})
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("https://api.example.com")
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, "/auth/refresh", cfg.RefreshPath)
	assert.Equal(t, []string{"/healthz", "/readyz", "/auth"}, cfg.ExemptPrefixes)
	assert.False(t, cfg.CookieRefreshMode)
	assert.False(t, cfg.Breaker.Enabled)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(DefaultConfig("http://localhost"), nil)
	assert.Error(t, err, "nil store")

	_, err = New(DefaultConfig("/relative"), session.NewStore(nil))
	assert.Error(t, err, "relative base url")

	c, err := New(DefaultConfig("http://localhost"), session.NewStore(nil))
	require.NoError(t, err)
	assert.Nil(t, c.Jar(), "no jar outside cookie mode")
}

func TestRequestID_TaggedOnEveryRequest(t *testing.T) {
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get(requestid.HeaderRequestID))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	var n int
	c := newTestClient(t, server.URL, nil, WithIDGenerator(func() string {
		n++
		return "rid-" + string(rune('0'+n))
	}))

	ctx := context.Background()
	require.NoError(t, c.Get(ctx, "/healthz", nil))
	require.NoError(t, c.Get(ctx, "/invoices", nil))
	require.NoError(t, c.Get(ctx, "/invoices", nil, WithHeader("x-request-id", "caller-id")))

	assert.Equal(t, []string{"rid-1", "rid-2", "caller-id"}, seen)
}

func TestInjectAuth(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		path   string
		header string
		want   string
	}{
		{"protected path gets token", "a1", "/invoices", "", "Bearer a1"},
		{"auth prefix exempt", "a1", "/auth/login", "", ""},
		{"auth prefix is literal", "a1", "/authors", "", ""},
		{"healthz exempt", "a1", "/healthz", "", ""},
		{"readyz exempt", "a1", "/readyz?verbose=1", "", ""},
		{"no token no header", "", "/invoices", "", ""},
		{"caller header wins", "a1", "/invoices", "Bearer mine", "Bearer mine"},
		{"caller header kept on exempt path", "a1", "/auth/me", "Bearer mine", "Bearer mine"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Get("Authorization")
				w.WriteHeader(http.StatusNoContent)
			}))
			defer server.Close()

			c := newTestClient(t, server.URL, storeWith(tt.token, "r1"))
			var opts []RequestOption
			if tt.header != "" {
				opts = append(opts, WithHeader("Authorization", tt.header))
			}
			require.NoError(t, c.Get(context.Background(), tt.path, nil, opts...))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInjectAuth_ExemptionRelativeToBasePath(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/auth/login", r.URL.Path)
		got = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL+"/v1/", storeWith("a1", "r1"))
	require.NoError(t, c.Post(context.Background(), "auth/login", map[string]string{}, nil))
	assert.Empty(t, got)
}

func TestNew_BareConfigExemptsAuthPaths(t *testing.T) {
	var got []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.URL.Path+" "+r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := newTestClientWithConfig(t, Config{BaseURL: server.URL}, storeWith("a1", "r1"))
	assert.Equal(t, DefaultExemptPrefixes(), c.Config().ExemptPrefixes)

	ctx := context.Background()
	require.NoError(t, c.Post(ctx, "/auth/login", map[string]string{}, nil))
	require.NoError(t, c.Get(ctx, "/healthz", nil))
	require.NoError(t, c.Get(ctx, "/invoices", nil))
	assert.Equal(t, []string{"/auth/login ", "/healthz ", "/invoices Bearer a1"}, got)
}

func TestNew_EmptyExemptPrefixesExemptNothing(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := newTestClientWithConfig(t, Config{BaseURL: server.URL, ExemptPrefixes: []string{}}, storeWith("a1", "r1"))
	require.NoError(t, c.Get(context.Background(), "/healthz", nil))
	assert.Equal(t, "Bearer a1", got)
}

func TestDo_DoesNotMutateCallerHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, storeWith("a1", "r1"))
	req, err := c.NewRequest(context.Background(), http.MethodGet, "/accounts", nil)
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Empty(t, req.Header.Get("Authorization"))
	assert.Empty(t, req.Header.Get(requestid.HeaderRequestID))
}

func TestDo_Non2xxBecomesResponseError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": map[string]any{
				"code":    "INVALID_INPUT",
				"message": "total must be positive",
				"details": map[string]any{"total": "min"},
			},
		})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, storeWith("a1", "r1"))
	err := c.Post(context.Background(), "/invoices", map[string]int{"total": -1}, nil)
	require.Error(t, err)

	var respErr *apierrors.ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, http.StatusUnprocessableEntity, respErr.Status)

	n := apierrors.Normalize(err)
	assert.Equal(t, 422, n.Status)
	assert.Equal(t, "INVALID_INPUT", n.Code)
	assert.Equal(t, "total must be positive", n.Message)
	assert.Equal(t, map[string]any{"total": "min"}, n.Details)
	assert.ErrorIs(t, n, apierrors.ErrInvalidInput)
}

func TestDo_TransportErrorNormalizesToStatusZero(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	c := newTestClient(t, addr, nil)
	err := c.Get(context.Background(), "/accounts", nil)
	require.Error(t, err)

	var transportErr *apierrors.TransportError
	require.ErrorAs(t, err, &transportErr)

	n := apierrors.Normalize(err)
	assert.Equal(t, 0, n.Status)
	assert.Equal(t, "NETWORK_ERROR", n.Code)
	assert.NotEmpty(t, n.Message)
}

func TestDo_TimeoutSurfacesAsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	cfg := DefaultConfig(server.URL)
	cfg.Timeout = 50 * time.Millisecond
	c := newTestClientWithConfig(t, cfg, nil)

	err := c.Get(context.Background(), "/reports/trial-balance", nil)
	require.Error(t, err)
	assert.Equal(t, "TIMEOUT", apierrors.Normalize(err).Code)
}

func TestDo_CallerCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Get(ctx, "/accounts", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDoJSON_QueryHeadersAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/accounts/acc_1", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "yes", r.URL.Query().Get("dry_run"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "org_1", r.Header.Get("X-Org-Id"))
		assert.Equal(t, "aptbooks-go", r.Header.Get("User-Agent"))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"name":"Cash"}`, string(body))
		writeJSON(w, http.StatusOK, map[string]string{"id": "acc_1", "name": "Cash"})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	var out struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	err := c.Put(context.Background(), "/accounts/acc_1?dry_run=yes", map[string]string{"name": "Cash"}, &out,
		WithQuery(url.Values{"page": {"2"}}),
		WithHeader("X-Org-Id", "org_1"),
	)
	require.NoError(t, err)
	assert.Equal(t, "acc_1", out.ID)
	assert.Equal(t, "Cash", out.Name)
}

func TestDoJSON_IdempotencyKey(t *testing.T) {
	var keys []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get(requestid.HeaderIdempotencyKey))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	ctx := context.Background()

	require.NoError(t, c.Post(ctx, "/invoices", map[string]int{}, nil, WithIdempotencyKey()))
	require.NoError(t, c.Post(ctx, "/invoices", map[string]int{}, nil, WithIdempotencyKey(), WithHeader("Idempotency-Key", "abc")))
	require.NoError(t, c.Post(requestid.WithIdempotencyKey(ctx, "pinned"), "/invoices", map[string]int{}, nil, WithIdempotencyKey()))
	require.NoError(t, c.Post(ctx, "/invoices", map[string]int{}, nil))

	require.Len(t, keys, 4)
	assert.NotEmpty(t, keys[0])
	assert.Equal(t, "abc", keys[1])
	assert.Equal(t, "pinned", keys[2])
	assert.Empty(t, keys[3], "no key unless requested")
}

func TestDoJSON_EmptyBodyDecodesNothing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	var out map[string]any
	require.NoError(t, c.Delete(context.Background(), "/bills/b1", &out))
	assert.Nil(t, out)
}

func TestDoJSON_DecodeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	var out map[string]any
	err := c.Get(context.Background(), "/accounts", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode GET /accounts response")
}

func TestCustomInterceptors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "org_9", r.Header.Get("X-Org-Id"))
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	var observed error
	c := newTestClient(t, server.URL, nil,
		WithRequestInterceptor(func(req *http.Request) error {
			req.Header.Set("X-Org-Id", "org_9")
			return nil
		}),
		WithResponseInterceptor(func(_ *http.Request, resp *http.Response, err error) (*http.Response, error) {
			observed = err
			return resp, err
		}),
	)

	err := c.Get(context.Background(), "/assets/missing", nil)
	require.Error(t, err)
	assert.Same(t, err, observed)
	assert.ErrorIs(t, apierrors.Normalize(err), apierrors.ErrNotFound)
}

func TestRequestInterceptorErrorAborts(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	boom := errors.New("no org selected")
	c := newTestClient(t, server.URL, nil, WithRequestInterceptor(func(*http.Request) error { return boom }))

	err := c.Get(context.Background(), "/accounts", nil)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, hits.Load())
}

func TestTracePropagation(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})

	var traceparent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("Traceparent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	require.NoError(t, c.Get(context.Background(), "/healthz", nil))

	assert.True(t, strings.HasPrefix(traceparent, "00-"), "traceparent %q", traceparent)
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "HTTP GET", spans[0].Name)
}
