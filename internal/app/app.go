package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"quarry/features/ingestion"
	"quarry/internal/config"
	"quarry/internal/extract"
	"quarry/internal/middleware"
	"quarry/internal/text"
)

type App struct {
	Handler     http.Handler
	Coordinator *ingestion.Coordinator
	port        int
}

// New wires the ingestion feature into an HTTP handler. The repository, index
// and publisher come from Bootstrap in production and from fakes in tests.
func New(cfg *config.Config, repo ingestion.Repository, index ingestion.Indexer, pub ingestion.EventPublisher) (*App, error) {
	crawler := extract.NewCrawler(
		time.Duration(cfg.CrawlRequestTimeoutSec)*time.Second,
		time.Duration(cfg.CrawlBudgetSec)*time.Second,
		cfg.CrawlMaxDepth,
		cfg.CrawlMaxBreadth,
	)
	docExtractor := extract.NewDocumentExtractor()
	chunker := text.NewChunker(cfg.ChunkMaxSize, cfg.ChunkOverlap)

	coordinator, err := ingestion.NewCoordinator(repo, index, crawler, docExtractor, chunker, pub, cfg.IngestionConcurrency)
	if err != nil {
		return nil, fmt.Errorf("coordinator init: %w", err)
	}
	handler := ingestion.NewHandler(coordinator, int(cfg.MaxUploadSizeMB))

	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	mux := http.NewServeMux()

	mux.Handle("POST /tenants/{tenantID}/ingestions", middleware.CorrelationID(enableCORS(handler.Submit)))
	mux.Handle("GET /tenants/{tenantID}/ingestions/status", middleware.CorrelationID(enableCORS(handler.GetStatus)))
	mux.Handle("POST /tenants/{tenantID}/query", middleware.CorrelationID(enableCORS(handler.Query)))
	mux.Handle("DELETE /tenants/{tenantID}/knowledge", middleware.CorrelationID(enableCORS(handler.DeleteKnowledge)))
	mux.Handle("GET /tenants/{tenantID}/knowledge/stats", middleware.CorrelationID(enableCORS(handler.GetStats)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:     mux,
		Coordinator: coordinator,
		port:        cfg.ServerPort,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.port),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
		a.Coordinator.Release()
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
