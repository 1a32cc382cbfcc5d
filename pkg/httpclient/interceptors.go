package httpclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	apierrors "github.com/Laudkyle/aptbooks/pkg/errors"
	"github.com/Laudkyle/aptbooks/pkg/requestid"
)

const headerAuthorization = "Authorization"

type retriedKey struct{}

// markRetried flags ctx so a 401 on the request it carries is not recovered
// again.
func markRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey{}, true)
}

func isRetried(ctx context.Context) bool {
	v, _ := ctx.Value(retriedKey{}).(bool)
	return v
}

// tagRequestID attaches X-Request-Id unless the caller supplied one. Exempt
// paths are tagged too.
func (c *Client) tagRequestID(req *http.Request) error {
	if !requestid.HasHeader(req.Header, requestid.HeaderRequestID) {
		req.Header.Set(requestid.HeaderRequestID, c.newID())
	}
	if c.cfg.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	return nil
}

// injectAuth adds the bearer token for non-exempt paths. A caller-supplied
// Authorization header always wins.
func (c *Client) injectAuth(req *http.Request) error {
	if c.IsExempt(c.relativePath(req.URL)) || requestid.HasHeader(req.Header, headerAuthorization) {
		return nil
	}
	if token := c.store.AccessToken(); token != "" {
		req.Header.Set(headerAuthorization, "Bearer "+token)
	}
	return nil
}

// checkStatus turns any non-2xx response into *errors.ResponseError.
func checkStatus(_ *http.Request, resp *http.Response, err error) (*http.Response, error) {
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apierrors.NewResponseError(resp)
	}
	return resp, nil
}

// refreshAndRetry recovers a 401 exactly once: refresh the token, set it
// explicitly on a copy of the request and reissue it through the same
// pipeline. A failed refresh surfaces as *errors.RefreshError instead of the
// 401. Exemption only governs token injection; a request opts out of recovery
// by being marked retried (the refresh POST, WithoutRecovery).
func (c *Client) refreshAndRetry(req *http.Request, resp *http.Response, err error) (*http.Response, error) {
	var respErr *apierrors.ResponseError
	if !errors.As(err, &respErr) || respErr.Status != http.StatusUnauthorized {
		return resp, err
	}
	rid := req.Header.Get(requestid.HeaderRequestID)
	if isRetried(req.Context()) {
		c.logger.DebugContext(req.Context(), "401 after retry, giving up",
			slog.String("request_id", rid),
			slog.String("path", req.URL.Path),
		)
		return resp, err
	}

	ctx := markRetried(req.Context())
	token, refreshErr := c.refresher.Refresh(ctx)
	if refreshErr != nil {
		return nil, refreshErr
	}

	retry := req.Clone(ctx)
	if req.GetBody != nil {
		body, bodyErr := req.GetBody()
		if bodyErr != nil {
			return nil, fmt.Errorf("replay request body: %w", bodyErr)
		}
		retry.Body = body
	}
	setHeader(retry.Header, headerAuthorization, "Bearer "+token)

	authRetriesTotal.Inc()
	c.logger.InfoContext(ctx, "retrying request with refreshed token",
		slog.String("request_id", rid),
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
	)
	return c.send(retry)
}
