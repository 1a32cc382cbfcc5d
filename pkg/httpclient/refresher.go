package httpclient

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"

	apierrors "github.com/Laudkyle/aptbooks/pkg/errors"
)

const refreshFlightKey = "refresh"

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// refresher exchanges the refresh token for a new access token. At most one
// exchange is in flight at a time; concurrent callers share its outcome, and
// the slot is freed as soon as it settles so the next 401 starts over.
type refresher struct {
	client *Client
	group  singleflight.Group
}

func newRefresher(c *Client) *refresher {
	return &refresher{client: c}
}

// Refresh joins the in-flight exchange or starts one. The exchange itself is
// detached from ctx so one impatient caller cannot fail it for everyone;
// ctx only bounds how long this caller waits.
func (r *refresher) Refresh(ctx context.Context) (string, error) {
	ch := r.group.DoChan(refreshFlightKey, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.client.cfg.Timeout)
		defer cancel()
		return r.exchange(shared)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *refresher) exchange(ctx context.Context) (string, error) {
	c := r.client
	store := c.store
	prior := store.RefreshToken()

	if !c.cfg.CookieRefreshMode && prior == "" {
		refreshTotal.WithLabelValues("no_token").Inc()
		return "", r.fail(ctx, apierrors.ErrNoRefreshToken)
	}

	c.logger.DebugContext(ctx, "refreshing access token", slog.Bool("cookie_mode", c.cfg.CookieRefreshMode))

	var body any
	if !c.cfg.CookieRefreshMode {
		body = refreshRequest{RefreshToken: prior}
	}

	// A 401 from the refresh endpoint must not trigger another refresh.
	var out refreshResponse
	if err := c.Post(markRetried(ctx), c.cfg.RefreshPath, body, &out); err != nil {
		refreshTotal.WithLabelValues("failure").Inc()
		return "", r.fail(ctx, err)
	}
	if out.AccessToken == "" {
		refreshTotal.WithLabelValues("failure").Inc()
		return "", r.fail(ctx, &apierrors.APIError{
			Code:    "INVALID_REFRESH_RESPONSE",
			Message: "refresh response did not include an access token",
			Err:     apierrors.ErrUnauthorized,
		})
	}

	next := out.RefreshToken
	if next == "" {
		next = prior
	}
	store.SetTokens(ctx, out.AccessToken, next)

	refreshTotal.WithLabelValues("success").Inc()
	c.logger.InfoContext(ctx, "access token refreshed", slog.Bool("rotated", out.RefreshToken != ""))
	return out.AccessToken, nil
}

// fail clears the whole session and wraps cause as the terminal refresh
// failure every waiter receives.
func (r *refresher) fail(ctx context.Context, cause error) error {
	refreshErr := apierrors.NewRefreshError(cause)
	r.client.store.Clear(ctx)
	r.client.logger.WarnContext(ctx, "token refresh failed, session cleared",
		slog.String("code", refreshErr.Cause.Code),
		slog.Int("status", refreshErr.Cause.Status),
	)
	return refreshErr
}
