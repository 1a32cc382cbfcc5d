package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Laudkyle/aptbooks/pkg/api"
	"github.com/Laudkyle/aptbooks/pkg/database"
	"github.com/Laudkyle/aptbooks/pkg/httpclient"
	"github.com/Laudkyle/aptbooks/pkg/session"
	"github.com/Laudkyle/aptbooks/pkg/tracing"
)

const (
	serviceName       = "aptbooks-cli"
	redisSessionScope = "aptbooks:session:"
)

// runtime is what every command works against: the API services and the
// stores they keep the session in.
type runtime struct {
	api  *api.Client
	auth *session.Store
	orgs *session.OrgStore

	closers []func(context.Context) error
}

// openRuntime wires the session backend, tracing and the HTTP client. When
// persister is nil the backend named in cfg is opened.
func openRuntime(ctx context.Context, cfg *Config, persister session.Persister, log *slog.Logger) (*runtime, error) {
	rt := &runtime{}

	tracingCfg := cfg.Tracing
	tracingCfg.ServiceName = serviceName
	shutdown, err := tracing.InitTracer(ctx, tracingCfg)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	rt.closers = append(rt.closers, shutdown)

	if persister == nil {
		persister, err = rt.openPersister(ctx, cfg, log)
		if err != nil {
			_ = rt.close(ctx)
			return nil, err
		}
	}

	rt.auth = session.NewStore(persister, session.WithLogger(log))
	rt.orgs = session.NewOrgStore(persister, session.WithLogger(log))
	rt.auth.Hydrate(ctx)
	rt.orgs.Hydrate(ctx)

	hc, err := httpclient.New(cfg.HTTP, rt.auth, httpclient.WithLogger(log))
	if err != nil {
		_ = rt.close(ctx)
		return nil, fmt.Errorf("create http client: %w", err)
	}
	rt.api = api.New(hc, rt.orgs)
	return rt, nil
}

func (rt *runtime) openPersister(ctx context.Context, cfg *Config, log *slog.Logger) (session.Persister, error) {
	switch cfg.SessionBackend {
	case BackendMemory:
		return session.NewMemoryPersister(), nil

	case BackendRedis:
		client, err := database.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis session backend: %w", err)
		}
		rt.closers = append(rt.closers, func(context.Context) error { return client.Close() })
		return session.NewRedisPersister(client, redisSessionScope, cfg.SessionTTL), nil

	case BackendPostgres:
		database.SetSlowQueryLogging(cfg.Postgres.SlowQueryThreshold, log)
		pool, err := database.NewPostgresPool(ctx, &cfg.Postgres, log)
		if err != nil {
			return nil, fmt.Errorf("connect postgres session backend: %w", err)
		}
		rt.closers = append(rt.closers, func(context.Context) error { pool.Close(); return nil })
		if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, serviceName); err != nil {
			log.Warn("pool metrics not registered", slog.String("error", err.Error()))
		}
		if err := session.Migrate(ctx, pool, log); err != nil {
			return nil, fmt.Errorf("migrate session schema: %w", err)
		}
		return session.NewPostgresPersister(pool), nil

	default:
		dir := cfg.SessionDir
		if dir == "" {
			var err error
			if dir, err = session.DefaultDir(); err != nil {
				return nil, err
			}
		}
		return session.NewFilePersister(dir), nil
	}
}

// close runs the closers in reverse order and returns the first error.
func (rt *runtime) close(ctx context.Context) error {
	var first error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	rt.closers = nil
	return first
}
