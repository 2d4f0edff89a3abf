package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"quarry/internal/adapter/gemini"
	wstore "quarry/internal/adapter/weaviate"
	"quarry/internal/config"
	"quarry/internal/knowledge"
)

type Dependencies struct {
	DB          *sql.DB
	Index       *knowledge.Index
	NSQProducer *nsq.Producer
	Embedder    *gemini.Embedder
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	// Database
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1)
		time.Sleep(retryDelay)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	// Migrations
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, fmt.Errorf("migration up error: %w", err)
	}

	// Weaviate
	wCfg := weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme}
	wClient, err := weaviate.NewClient(wCfg)
	if err != nil {
		return nil, fmt.Errorf("weaviate client error: %w", err)
	}
	vecStore := wstore.NewStore(wClient)

	if err := waitForWeaviate(ctx, wClient, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		return nil, fmt.Errorf("weaviate not reachable: %w", err)
	}

	// Gemini embedder
	embedder, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return nil, fmt.Errorf("gemini client error: %w", err)
	}

	index := knowledge.NewIndex(embedder, vecStore,
		time.Duration(cfg.EmbedTimeoutSec)*time.Second,
		time.Duration(cfg.WriteTimeoutSec)*time.Second)

	// NSQ Producer
	nsqCfg := nsq.NewConfig()
	producer, err := nsq.NewProducer(cfg.NSQDHost, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("nsq producer error: %w", err)
	}

	createTopics(cfg.NSQDHTTP)

	return &Dependencies{
		DB:          db,
		Index:       index,
		NSQProducer: producer,
		Embedder:    embedder,
	}, nil
}

// waitForWeaviate pings the live endpoint until it answers or the attempts
// run out. Collections are created lazily per tenant, so readiness is all the
// bootstrap needs.
func waitForWeaviate(ctx context.Context, client *weaviate.Client, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		var ready bool
		ready, err = client.Misc().ReadyChecker().Do(ctx)
		if err == nil && ready {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	if err == nil {
		err = fmt.Errorf("not ready after %d attempts", attempts)
	}
	return err
}

func createTopics(nsqdHTTP string) {
	create := func(topic string) {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		resp, err := http.Post(url, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}

	go func() {
		time.Sleep(2 * time.Second)
		create(config.TopicIngestStatus)
	}()
}
