package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Laudkyle/aptbooks/pkg/database"
	"github.com/Laudkyle/aptbooks/pkg/health"
	"github.com/Laudkyle/aptbooks/pkg/kafka"
	"github.com/Laudkyle/aptbooks/pkg/tracing"
)

// App wires together all dependencies and runs the sandbox backend.
type App struct {
	cfg            *Config
	logger         *slog.Logger
	store          *Store
	redis          *redis.Client
	producer       *kafka.Producer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
	stopBackground context.CancelFunc
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracingCfg := cfg.Tracing
	tracingCfg.ServiceName = serviceName
	tracingCfg.Environment = cfg.Environment
	tracerShutdown, err := tracing.InitTracer(ctx, tracingCfg)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	store := NewStore()
	if cfg.DemoEmail != "" {
		if err := SeedDemo(store, cfg.DemoEmail, cfg.DemoPassword); err != nil {
			return nil, fmt.Errorf("seed demo user: %w", err)
		}
		logger.Info("demo user seeded", slog.String("email", cfg.DemoEmail))
	}

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("store", store.Ping)

	var (
		replays     ReplayStore
		redisClient *redis.Client
	)
	switch cfg.IdempotencyBackend {
	case "redis":
		redisClient, err = database.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("connected to Redis", slog.String("addr", cfg.Redis.Addr()))
		replays = NewRedisReplayStore(redisClient, cfg.IdempotencyTTL)
		healthHandler.RegisterCritical("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	default:
		replays = NewMemoryReplayStore(cfg.IdempotencyTTL)
	}

	var (
		events   Publisher
		producer *kafka.Producer
	)
	if len(cfg.Kafka.Brokers) > 0 {
		producer = kafka.NewProducer(cfg.Kafka, logger)
		events = producer
		healthHandler.RegisterNonCritical("kafka", producer.Ping)
		logger.Info("publishing ledger events",
			slog.Any("brokers", cfg.Kafka.Brokers),
			slog.String("topic", cfg.Kafka.Topic),
		)
	} else {
		events = &MemoryPublisher{}
	}

	bgCtx, stopBackground := context.WithCancel(context.Background())
	router := NewRouter(bgCtx, cfg, Deps{
		Store:      store,
		Replays:    replays,
		Health:     healthHandler,
		Logger:     logger,
		Events:     events,
		EventTopic: cfg.Kafka.Topic,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		store:          store,
		redis:          redisClient,
		producer:       producer,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
		stopBackground: stopBackground,
	}, nil
}

// SeedDemo registers email as the owner of "Demo Company" and gives them a
// second organization, "Demo Branch", where they are an accountant.
func SeedDemo(s *Store, email, password string) error {
	u, _, err := s.CreateUser("Demo User", email, password, "Demo Company", "USD")
	if err != nil {
		return err
	}
	if _, err := s.AddOrganization(u.ID, "Demo Branch", "USD", RoleAccountant); err != nil {
		return err
	}
	return nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Kafka producer (flush events from drained requests)
// 3. Tracer (flush pending spans)
// 4. Redis client
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	a.stopBackground()

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
