package api

import (
	"context"
	"encoding/json"
	"errors"

	apierrors "github.com/Laudkyle/aptbooks/pkg/errors"
	"github.com/Laudkyle/aptbooks/pkg/health"
	"github.com/Laudkyle/aptbooks/pkg/httpclient"
)

// HealthService probes the backend's health endpoints. Both paths are exempt
// from token injection.
type HealthService struct {
	http *httpclient.Client
}

// Live reports whether the backend process is up.
func (s *HealthService) Live(ctx context.Context) (*health.Response, error) {
	return s.probe(ctx, "/healthz")
}

// Ready reports whether the backend can serve traffic. A 503 still yields the
// decoded response next to the error so callers can see which checks failed.
func (s *HealthService) Ready(ctx context.Context) (*health.Response, error) {
	return s.probe(ctx, "/readyz")
}

func (s *HealthService) probe(ctx context.Context, path string) (*health.Response, error) {
	var out health.Response
	err := s.http.Get(ctx, path, &out)
	if err == nil {
		return &out, nil
	}

	var respErr *apierrors.ResponseError
	if errors.As(err, &respErr) && len(respErr.Body) > 0 {
		if jerr := json.Unmarshal(respErr.Body, &out); jerr == nil && out.Status != "" {
			return &out, err
		}
	}
	return nil, err
}
