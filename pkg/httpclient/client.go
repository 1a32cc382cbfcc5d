// Package httpclient is the authenticated HTTP client every Aptbooks API call
// goes through. It tags requests with an X-Request-Id, injects the bearer
// token from the session store, and recovers from an expired access token by
// refreshing once and retrying the request once.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	apierrors "github.com/Laudkyle/aptbooks/pkg/errors"
	"github.com/Laudkyle/aptbooks/pkg/requestid"
	"github.com/Laudkyle/aptbooks/pkg/session"
)

// Config holds HTTP client configuration. Tags are read with the APTBOOKS_
// prefix by pkg/config.
type Config struct {
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	// CookieRefreshMode sends the refresh token implicitly as a cookie instead
	// of in the refresh request body, and keeps a cookie jar for every request.
	CookieRefreshMode bool          `env:"COOKIE_REFRESH_MODE" envDefault:"false"`
	Timeout           time.Duration `env:"TIMEOUT" envDefault:"30s"`
	MaxConnsPerHost   int           `env:"MAX_CONNS_PER_HOST" envDefault:"16"`
	RefreshPath       string        `env:"REFRESH_PATH" envDefault:"/auth/refresh"`
	// ExemptPrefixes never receive an injected Authorization header. Matching
	// is a literal prefix test on the path relative to BaseURL.
	ExemptPrefixes []string      `env:"EXEMPT_PREFIXES" envDefault:"/healthz,/readyz,/auth" envSeparator:","`
	UserAgent      string        `env:"USER_AGENT" envDefault:"aptbooks-go"`
	Breaker        BreakerConfig `envPrefix:"BREAKER_"`
}

// DefaultConfig returns the reference configuration against baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:         baseURL,
		Timeout:         30 * time.Second,
		MaxConnsPerHost: 16,
		RefreshPath:     "/auth/refresh",
		ExemptPrefixes:  DefaultExemptPrefixes(),
		UserAgent:       "aptbooks-go",
		Breaker:         DefaultBreakerConfig("aptbooks-api"),
	}
}

// DefaultExemptPrefixes lists the unauthenticated path prefixes: health,
// readiness and everything under /auth. A nil Config.ExemptPrefixes means
// these; an empty non-nil slice exempts nothing.
func DefaultExemptPrefixes() []string {
	return []string{"/healthz", "/readyz", "/auth"}
}

// RequestInterceptor runs on every outbound request, in registration order,
// before it reaches the transport.
type RequestInterceptor func(req *http.Request) error

// ResponseInterceptor runs on every outcome, in registration order. It
// receives either a response or an error and returns the pair the next
// interceptor (and eventually the caller) sees.
type ResponseInterceptor func(req *http.Request, resp *http.Response, err error) (*http.Response, error)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTransport replaces the base RoundTripper under the breaker and
// instrumentation layers.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.base = rt }
}

// WithIDGenerator replaces the X-Request-Id generator.
func WithIDGenerator(fn func() string) Option {
	return func(c *Client) { c.newID = fn }
}

// WithRequestInterceptor appends fn after the built-in request interceptors.
func WithRequestInterceptor(fn RequestInterceptor) Option {
	return func(c *Client) { c.extraReq = append(c.extraReq, fn) }
}

// WithResponseInterceptor appends fn after the built-in response
// interceptors, so it observes the final outcome of the refresh-and-retry
// step. It runs once per Do call: the refresh POST is a call of its own, the
// retried request is not.
func WithResponseInterceptor(fn ResponseInterceptor) Option {
	return func(c *Client) { c.extraResp = append(c.extraResp, fn) }
}

// Client issues requests against one Aptbooks backend. It is safe for
// concurrent use.
type Client struct {
	cfg        Config
	baseURL    *url.URL
	httpClient *http.Client
	base       http.RoundTripper
	store      *session.Store
	refresher  *refresher
	breaker    *breakerTransport
	logger     *slog.Logger
	newID      func() string

	extraReq  []RequestInterceptor
	extraResp []ResponseInterceptor

	requestInterceptors  []RequestInterceptor
	responseInterceptors []ResponseInterceptor
}

// New builds a Client around store. The store is shared with whatever else
// mutates the session (login, logout, org switch) and must not be nil.
func New(cfg Config, store *session.Store, opts ...Option) (*Client, error) {
	if store == nil {
		return nil, fmt.Errorf("httpclient: session store is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RefreshPath == "" {
		cfg.RefreshPath = "/auth/refresh"
	}
	if cfg.ExemptPrefixes == nil {
		cfg.ExemptPrefixes = DefaultExemptPrefixes()
	}

	c := &Client{
		cfg:     cfg,
		baseURL: base,
		store:   store,
		logger:  slog.Default(),
		newID:   requestid.New,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.base == nil {
		c.base = defaultTransport(cfg.MaxConnsPerHost)
	}

	var transport http.RoundTripper = c.base
	if cfg.Breaker.Enabled {
		c.breaker = newBreakerTransport(transport, cfg.Breaker, c.logger)
		transport = c.breaker
	}
	transport = newInstrumentedTransport(transport)

	c.httpClient = &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
	if cfg.CookieRefreshMode {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		c.httpClient.Jar = jar
	}

	c.refresher = newRefresher(c)
	c.requestInterceptors = append([]RequestInterceptor{c.tagRequestID, c.injectAuth}, c.extraReq...)
	c.responseInterceptors = []ResponseInterceptor{checkStatus, c.refreshAndRetry}
	return c, nil
}

func defaultTransport(maxConnsPerHost int) *http.Transport {
	if maxConnsPerHost <= 0 {
		maxConnsPerHost = 16
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   maxConnsPerHost,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Store returns the session store the client reads tokens from.
func (c *Client) Store() *session.Store {
	return c.store
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Jar returns the cookie jar in cookie refresh mode, else nil.
func (c *Client) Jar() http.CookieJar {
	return c.httpClient.Jar
}

// Refresh obtains a new access token, sharing one backend call between all
// concurrent callers.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	return c.refresher.Refresh(ctx)
}

// Do sends req through the interceptor pipeline. req is not modified. On
// success the caller owns resp.Body; any non-2xx status comes back as an
// error (*errors.ResponseError) with the body already consumed.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.Clone(ctx)
	resp, err := c.send(req)
	for _, intercept := range c.extraResp {
		resp, err = intercept(req, resp, err)
	}
	return resp, err
}

// send runs req through the request interceptors, the transport and the
// built-in response interceptors. The retry after a refresh re-enters here.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	if err := makeReplayable(req); err != nil {
		return nil, err
	}

	for _, intercept := range c.requestInterceptors {
		if err := intercept(req); err != nil {
			return nil, err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		resp = nil
		err = &apierrors.TransportError{Method: req.Method, URL: req.URL.Redacted(), Err: err}
	}

	for _, intercept := range c.responseInterceptors {
		resp, err = intercept(req, resp, err)
	}
	return resp, err
}

// makeReplayable buffers a body that cannot be re-read so the request can be
// reissued after a token refresh.
func makeReplayable(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return fmt.Errorf("buffer request body: %w", err)
	}
	req.ContentLength = int64(len(data))
	req.Body = io.NopCloser(bytes.NewReader(data))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return nil
}

// relativePath strips the base URL's path prefix so exemption checks see the
// API path ("/auth/login") even when BaseURL carries a prefix ("/v1").
func (c *Client) relativePath(u *url.URL) string {
	prefix := strings.TrimSuffix(c.baseURL.Path, "/")
	if prefix == "" || !strings.HasPrefix(u.Path, prefix) {
		return u.Path
	}
	return u.Path[len(prefix):]
}

// IsExempt reports whether path literally starts with one of the configured
// unauthenticated prefixes.
func (c *Client) IsExempt(path string) bool {
	for _, p := range c.cfg.ExemptPrefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// setHeader replaces every spelling of name with a single canonical value.
func setHeader(h http.Header, name, value string) {
	for k := range h {
		if strings.EqualFold(k, name) {
			delete(h, k)
		}
	}
	h.Set(name, value)
}
