package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"quarry/features/ingestion"
	"quarry/internal/app"
	"quarry/internal/config"
	"quarry/internal/logger"
)

func main() {
	base := slog.NewJSONHandler(os.Stdout, nil)
	slog.SetDefault(slog.New(logger.NewContextHandler(base)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer deps.DB.Close()
	defer deps.NSQProducer.Stop()
	defer deps.Embedder.Close()

	repo := ingestion.NewPostgresRepo(deps.DB)

	a, err := app.New(cfg, repo, deps.Index, deps.NSQProducer)
	if err != nil {
		slog.Error("failed to build app", "error", err)
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
