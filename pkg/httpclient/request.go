package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Laudkyle/aptbooks/pkg/requestid"
)

// NewRequest builds a request for path, resolved against BaseURL. path may
// carry a query string. Absolute URLs are used as-is.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", method, err)
	}
	return req, nil
}

func (c *Client) resolve(path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parse path %q: %w", path, err)
	}
	if ref.IsAbs() {
		return ref, nil
	}
	u := *c.baseURL
	u.Path = strings.TrimSuffix(c.baseURL.Path, "/") + "/" + strings.TrimPrefix(ref.Path, "/")
	u.RawPath = ""
	u.RawQuery = ref.RawQuery
	u.Fragment = ""
	return &u, nil
}

// RequestOption customizes a single DoJSON call.
type RequestOption func(*requestOptions)

type requestOptions struct {
	query      url.Values
	header     http.Header
	idempotent bool
	noRecovery bool
}

// WithQuery merges q into the request's query string.
func WithQuery(q url.Values) RequestOption {
	return func(o *requestOptions) {
		if o.query == nil {
			o.query = url.Values{}
		}
		for k, vs := range q {
			for _, v := range vs {
				o.query.Add(k, v)
			}
		}
	}
}

// WithHeader sets a request header. Setting Authorization here suppresses
// token injection.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.header == nil {
			o.header = http.Header{}
		}
		o.header.Set(key, value)
	}
}

// WithIdempotencyKey marks the call as a mutation the backend deduplicates.
// The key pinned on ctx with requestid.WithIdempotencyKey is used when
// present, then any Idempotency-Key header given through WithHeader, and a
// fresh one otherwise.
func WithIdempotencyKey() RequestOption {
	return func(o *requestOptions) { o.idempotent = true }
}

// WithoutRecovery sends the call already marked as retried, so a 401 is
// returned as is instead of starting a token refresh. Credential exchanges
// (login, registration) use it: their 401 means wrong credentials.
func WithoutRecovery() RequestOption {
	return func(o *requestOptions) { o.noRecovery = true }
}

// DoJSON encodes in (when non-nil) as the JSON body, sends the request and
// decodes a 2xx body into out (when non-nil).
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any, opts ...RequestOption) error {
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.noRecovery {
		ctx = markRetried(ctx)
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s body: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.NewRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range o.header {
		req.Header[k] = append([]string(nil), vs...)
	}
	if len(o.query) > 0 {
		q := req.URL.Query()
		for k, vs := range o.query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		req.URL.RawQuery = q.Encode()
	}
	if o.idempotent {
		if key := requestid.IdempotencyKeyFromContext(ctx); key != "" && !requestid.HasHeader(req.Header, requestid.HeaderIdempotencyKey) {
			req.Header.Set(requestid.HeaderIdempotencyKey, key)
		}
		requestid.EnsureIdempotencyKey(req.Header)
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// Get decodes the JSON response of GET path into out.
func (c *Client) Get(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.DoJSON(ctx, http.MethodGet, path, nil, out, opts...)
}

// Post sends in as JSON and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, in, out any, opts ...RequestOption) error {
	return c.DoJSON(ctx, http.MethodPost, path, in, out, opts...)
}

// Put sends in as JSON and decodes the response into out.
func (c *Client) Put(ctx context.Context, path string, in, out any, opts ...RequestOption) error {
	return c.DoJSON(ctx, http.MethodPut, path, in, out, opts...)
}

// Patch sends in as JSON and decodes the response into out.
func (c *Client) Patch(ctx context.Context, path string, in, out any, opts ...RequestOption) error {
	return c.DoJSON(ctx, http.MethodPatch, path, in, out, opts...)
}

// Delete issues DELETE path, decoding any response body into out.
func (c *Client) Delete(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.DoJSON(ctx, http.MethodDelete, path, nil, out, opts...)
}
