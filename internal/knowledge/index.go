package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"quarry/internal/text"
)

// Embedder turns text into a fixed-dimension vector via an external provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Object is one chunk ready for storage: deterministic id, vector, content
// and the metadata carried alongside it.
type Object struct {
	ID            string
	Vector        []float32
	Content       string
	SourceKind    string
	Origin        string
	ChunkIndex    int
	ContentLength int
}

// Hit is a raw nearest-neighbour match from the storage backend.
type Hit struct {
	Content  string
	Metadata map[string]interface{}
	Distance float32
}

type QueryResult struct {
	Content        string                 `json:"content"`
	Metadata       map[string]interface{} `json:"metadata"`
	Distance       float32                `json:"distance"`
	RelevanceScore float32                `json:"relevance_score"`
}

type Stats struct {
	CollectionName string `json:"collection_name"`
	DocumentCount  int64  `json:"document_count"`
}

// Store is the vector storage backend, keyed by collection name. Collections
// are strictly tenant-isolated: every operation names exactly one collection.
type Store interface {
	EnsureCollection(ctx context.Context, collection string) error
	PutObjects(ctx context.Context, collection string, objects []Object) error
	DeleteByOrigin(ctx context.Context, collection, sourceKind, origin string) error
	Query(ctx context.Context, collection string, vector []float32, limit int) ([]Hit, error)
	DeleteCollection(ctx context.Context, collection string) error
	Count(ctx context.Context, collection string) (int64, error)
}

// Index is the per-tenant embedding index. It must be safe under concurrent
// upserts for the same tenant: both source tasks of one ingestion may call
// Upsert at the same time.
type Index struct {
	embedder     Embedder
	store        Store
	embedTimeout time.Duration
	writeTimeout time.Duration
}

func NewIndex(e Embedder, s Store, embedTimeout, writeTimeout time.Duration) *Index {
	if embedTimeout <= 0 {
		embedTimeout = 60 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	return &Index{embedder: e, store: s, embedTimeout: embedTimeout, writeTimeout: writeTimeout}
}

// ChunkID derives the deterministic storage id for a chunk position. The same
// (tenant, source kind, index) always maps to the same id, so re-ingesting a
// source overwrites prior entries instead of duplicating them.
func ChunkID(tenantID, sourceKind string, index int) string {
	name := fmt.Sprintf("quarry://%s/%s/%05d", tenantID, sourceKind, index)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// EnsureCollection is an idempotent create-or-fetch of the tenant collection.
func (ix *Index) EnsureCollection(ctx context.Context, tenantID string) error {
	return ix.store.EnsureCollection(ctx, CollectionName(tenantID))
}

// Upsert writes one source's chunk batch into the tenant collection in chunk
// order. Prior chunks for the same (source kind, origin) are deleted first so
// a shorter re-ingestion leaves no stale tail behind. A failed embedding call
// degrades that chunk to the provider's zero vector instead of aborting the
// batch; only a storage failure fails the whole call.
func (ix *Index) Upsert(ctx context.Context, tenantID string, chunks []text.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	collection := CollectionName(tenantID)

	writeCtx, cancel := context.WithTimeout(ctx, ix.writeTimeout)
	defer cancel()

	if err := ix.store.EnsureCollection(writeCtx, collection); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	for _, group := range originGroups(chunks) {
		if err := ix.store.DeleteByOrigin(writeCtx, collection, group.sourceKind, group.origin); err != nil {
			return fmt.Errorf("delete stale chunks: %w", err)
		}
	}

	objects := make([]Object, 0, len(chunks))
	for _, ch := range chunks {
		objects = append(objects, Object{
			ID:            ChunkID(tenantID, ch.SourceKind, ch.Index),
			Vector:        ix.embed(ctx, ch.Content),
			Content:       ch.Content,
			SourceKind:    ch.SourceKind,
			Origin:        ch.Origin,
			ChunkIndex:    ch.Index,
			ContentLength: ch.Length,
		})
	}

	putCtx, cancel := context.WithTimeout(ctx, ix.writeTimeout)
	defer cancel()
	if err := ix.store.PutObjects(putCtx, collection, objects); err != nil {
		return fmt.Errorf("put objects: %w", err)
	}

	slog.InfoContext(ctx, "chunks upserted", "tenant_id", tenantID, "collection", collection, "count", len(objects))
	return nil
}

// Query embeds the query text and returns ranked nearest-neighbour matches
// restricted to the tenant's collection. A never-ingested tenant yields zero
// results, not an error.
func (ix *Index) Query(ctx context.Context, tenantID, query string, limit int) ([]QueryResult, error) {
	if limit <= 0 {
		limit = 5
	}

	hits, err := ix.store.Query(ctx, CollectionName(tenantID), ix.embed(ctx, query), limit)
	if err != nil {
		return nil, err
	}

	results := make([]QueryResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, QueryResult{
			Content:        h.Content,
			Metadata:       h.Metadata,
			Distance:       h.Distance,
			RelevanceScore: 1 - h.Distance,
		})
	}
	return results, nil
}

// DeleteCollection removes the tenant's entire collection. Absence is not an
// error: deleting twice in a row reports success both times.
func (ix *Index) DeleteCollection(ctx context.Context, tenantID string) error {
	return ix.store.DeleteCollection(ctx, CollectionName(tenantID))
}

func (ix *Index) Stats(ctx context.Context, tenantID string) (*Stats, error) {
	collection := CollectionName(tenantID)
	count, err := ix.store.Count(ctx, collection)
	if err != nil {
		return nil, err
	}
	return &Stats{CollectionName: collection, DocumentCount: count}, nil
}

// embed calls the provider with a bounded timeout. On failure it substitutes
// the provider's fixed-dimension zero vector: degraded but available.
func (ix *Index) embed(ctx context.Context, content string) []float32 {
	embedCtx, cancel := context.WithTimeout(ctx, ix.embedTimeout)
	defer cancel()

	vec, err := ix.embedder.Embed(embedCtx, content)
	if err != nil || len(vec) == 0 {
		slog.WarnContext(ctx, "embedding failed, substituting zero vector", "error", err, "length", len(content))
		return make([]float32, ix.embedder.Dimensions())
	}
	return vec
}

type originGroup struct {
	sourceKind string
	origin     string
}

// originGroups returns the distinct (source kind, origin) pairs of a batch in
// first-seen order.
func originGroups(chunks []text.Chunk) []originGroup {
	seen := make(map[originGroup]bool)
	var groups []originGroup
	for _, ch := range chunks {
		g := originGroup{sourceKind: ch.SourceKind, origin: ch.Origin}
		if !seen[g] {
			seen[g] = true
			groups = append(groups, g)
		}
	}
	return groups
}
