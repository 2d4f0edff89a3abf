package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"quarry"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"quarry"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`

	// Chunking
	ChunkMaxSize int `envconfig:"CHUNK_MAX_SIZE" default:"1000"`
	ChunkOverlap int `envconfig:"CHUNK_OVERLAP" default:"200"`

	// Crawling
	CrawlMaxDepth          int `envconfig:"CRAWL_MAX_DEPTH" default:"1"`
	CrawlMaxBreadth        int `envconfig:"CRAWL_MAX_BREADTH" default:"8"`
	CrawlRequestTimeoutSec int `envconfig:"CRAWL_REQUEST_TIMEOUT_SECONDS" default:"20"`
	CrawlBudgetSec         int `envconfig:"CRAWL_BUDGET_SECONDS" default:"60"`

	// Embedding / index writes
	EmbedTimeoutSec int `envconfig:"EMBED_TIMEOUT_SECONDS" default:"60"`
	WriteTimeoutSec int `envconfig:"WRITE_TIMEOUT_SECONDS" default:"30"`

	IngestionConcurrency int    `envconfig:"INGESTION_CONCURRENCY" default:"8"`
	MigrationPath        string `envconfig:"MIGRATION_PATH" default:"file://migrations"`
	MaxUploadSizeMB      int64  `envconfig:"MAX_UPLOAD_SIZE_MB" default:"50"`

	// Server
	ServerPort int `envconfig:"SERVER_PORT" default:"8081"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root.
	// Ignore errors, as env vars might be set in the shell.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.ChunkOverlap >= c.ChunkMaxSize {
		return fmt.Errorf("%w: CHUNK_OVERLAP must be smaller than CHUNK_MAX_SIZE", ErrMissingRequired)
	}
	return nil
}
