package gemini

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	embeddingModel = "gemini-embedding-001"

	// gemini-embedding-001 returns 3072-dimensional vectors. The zero-vector
	// fallback needs the width without a live call, so it is pinned here.
	embeddingDimensions = 3072
)

type Embedder struct {
	client *genai.Client
	model  string
}

func NewEmbedder(ctx context.Context, apiKey string, opts ...option.ClientOption) (*Embedder, error) {
	opts = append(opts, option.WithAPIKey(apiKey))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Embedder{client: client, model: embeddingModel}, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	slog.DebugContext(ctx, "embedding content", "model", e.model, "length", len(text))
	em := e.client.EmbeddingModel(e.model)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		slog.ErrorContext(ctx, "embedding failed", "error", err)
		return nil, err
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, errors.New("empty embedding received")
	}
	return res.Embedding.Values, nil
}

func (e *Embedder) Dimensions() int {
	return embeddingDimensions
}

func (e *Embedder) Close() error {
	return e.client.Close()
}
