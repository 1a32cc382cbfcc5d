package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Laudkyle/aptbooks/internal/sandbox"
	"github.com/Laudkyle/aptbooks/pkg/config"
	"github.com/Laudkyle/aptbooks/pkg/logger"
)

func main() {
	// Optional .env for local runs; real environment variables win.
	if err := config.LoadDotenv(); err != nil {
		slog.Warn("failed to load .env", slog.String("error", err.Error()))
	}

	cfg, err := sandbox.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.New("aptbooks-sandbox", cfg.LogLevel)
	log.Info("starting aptbooks sandbox",
		slog.String("environment", cfg.Environment),
		slog.Int("http_port", cfg.HTTPPort),
		slog.String("idempotency_backend", cfg.IdempotencyBackend),
	)

	application, err := sandbox.NewApp(cfg, log)
	if err != nil {
		log.Error("failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := application.Run(ctx); err != nil {
		log.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log.Info("aptbooks sandbox stopped")
}
