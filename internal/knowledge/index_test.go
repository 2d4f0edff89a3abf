package knowledge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quarry/internal/text"
)

type fakeEmbedder struct {
	dims    int
	failFor map[string]bool
	calls   []string
}

func (f *fakeEmbedder) Embed(_ context.Context, content string) ([]float32, error) {
	f.calls = append(f.calls, content)
	if f.failFor[content] {
		return nil, errors.New("provider unavailable")
	}
	vec := make([]float32, f.dims)
	for i := range vec {
		vec[i] = float32(len(content))
	}
	return vec, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

type fakeStore struct {
	ensured  []string
	deletes  []originGroup
	puts     map[string][]Object
	hits     []Hit
	count    int64
	putErr   error
	queryErr error
	ops      []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{puts: make(map[string][]Object)}
}

func (f *fakeStore) EnsureCollection(_ context.Context, collection string) error {
	f.ensured = append(f.ensured, collection)
	f.ops = append(f.ops, "ensure")
	return nil
}

func (f *fakeStore) PutObjects(_ context.Context, collection string, objects []Object) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.puts[collection] = append(f.puts[collection], objects...)
	f.ops = append(f.ops, "put")
	return nil
}

func (f *fakeStore) DeleteByOrigin(_ context.Context, _, sourceKind, origin string) error {
	f.deletes = append(f.deletes, originGroup{sourceKind: sourceKind, origin: origin})
	f.ops = append(f.ops, "delete")
	return nil
}

func (f *fakeStore) Query(_ context.Context, _ string, _ []float32, _ int) ([]Hit, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.hits, nil
}

func (f *fakeStore) DeleteCollection(_ context.Context, _ string) error { return nil }

func (f *fakeStore) Count(_ context.Context, _ string) (int64, error) { return f.count, nil }

func newTestIndex(e Embedder, s Store) *Index {
	return NewIndex(e, s, time.Second, time.Second)
}

func webChunks(origin string, contents ...string) []text.Chunk {
	chunks := make([]text.Chunk, 0, len(contents))
	for i, c := range contents {
		chunks = append(chunks, text.Chunk{SourceKind: "web", Origin: origin, Index: i + 1, Content: c, Length: len(c)})
	}
	return chunks
}

func TestChunkID(t *testing.T) {
	t.Run("Deterministic", func(t *testing.T) {
		assert.Equal(t, ChunkID("t1", "web", 0), ChunkID("t1", "web", 0))
	})

	t.Run("Distinct Per Tenant Kind And Index", func(t *testing.T) {
		ids := map[string]bool{
			ChunkID("t1", "web", 0):      true,
			ChunkID("t1", "web", 1):      true,
			ChunkID("t1", "document", 0): true,
			ChunkID("t2", "web", 0):      true,
		}
		assert.Len(t, ids, 4)
	})
}

func TestIndex_Upsert(t *testing.T) {
	t.Run("Writes Embedded Chunks In Order", func(t *testing.T) {
		store := newFakeStore()
		ix := newTestIndex(&fakeEmbedder{dims: 4}, store)

		err := ix.Upsert(context.Background(), "tenant-a", webChunks("https://a.test", "first chunk", "second chunk"))
		require.NoError(t, err)

		collection := CollectionName("tenant-a")
		require.Len(t, store.puts[collection], 2)
		assert.Equal(t, ChunkID("tenant-a", "web", 1), store.puts[collection][0].ID)
		assert.Equal(t, ChunkID("tenant-a", "web", 2), store.puts[collection][1].ID)
		assert.Equal(t, "first chunk", store.puts[collection][0].Content)
		assert.Equal(t, 1, store.puts[collection][0].ChunkIndex)
		assert.Equal(t, 2, store.puts[collection][1].ChunkIndex)
	})

	t.Run("Deletes Stale Origin Before Write", func(t *testing.T) {
		store := newFakeStore()
		ix := newTestIndex(&fakeEmbedder{dims: 4}, store)

		err := ix.Upsert(context.Background(), "tenant-a", webChunks("https://a.test", "only chunk"))
		require.NoError(t, err)

		assert.Equal(t, []string{"ensure", "delete", "put"}, store.ops)
		require.Len(t, store.deletes, 1)
		assert.Equal(t, originGroup{sourceKind: "web", origin: "https://a.test"}, store.deletes[0])
	})

	t.Run("Zero Vector On Embedding Failure", func(t *testing.T) {
		store := newFakeStore()
		embedder := &fakeEmbedder{dims: 3, failFor: map[string]bool{"bad chunk": true}}
		ix := newTestIndex(embedder, store)

		err := ix.Upsert(context.Background(), "tenant-a", webChunks("https://a.test", "good chunk", "bad chunk"))
		require.NoError(t, err)

		objects := store.puts[CollectionName("tenant-a")]
		require.Len(t, objects, 2)
		assert.NotEqual(t, []float32{0, 0, 0}, objects[0].Vector)
		assert.Equal(t, []float32{0, 0, 0}, objects[1].Vector)
	})

	t.Run("Storage Failure Propagates", func(t *testing.T) {
		store := newFakeStore()
		store.putErr = errors.New("batch rejected")
		ix := newTestIndex(&fakeEmbedder{dims: 3}, store)

		err := ix.Upsert(context.Background(), "tenant-a", webChunks("https://a.test", "chunk"))
		assert.ErrorContains(t, err, "batch rejected")
	})

	t.Run("Empty Batch Is No-Op", func(t *testing.T) {
		store := newFakeStore()
		ix := newTestIndex(&fakeEmbedder{dims: 3}, store)

		require.NoError(t, ix.Upsert(context.Background(), "tenant-a", nil))
		assert.Empty(t, store.ops)
	})
}

func TestIndex_Query(t *testing.T) {
	t.Run("Relevance Is One Minus Distance", func(t *testing.T) {
		store := newFakeStore()
		store.hits = []Hit{
			{Content: "closest", Distance: 0.1, Metadata: map[string]interface{}{"origin": "a"}},
			{Content: "further", Distance: 0.6},
		}
		ix := newTestIndex(&fakeEmbedder{dims: 3}, store)

		results, err := ix.Query(context.Background(), "tenant-a", "question", 5)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.InDelta(t, 0.9, results[0].RelevanceScore, 1e-6)
		assert.InDelta(t, 0.4, results[1].RelevanceScore, 1e-6)
		assert.Equal(t, "a", results[0].Metadata["origin"])
	})

	t.Run("Embedding Failure Falls Back To Zero Vector", func(t *testing.T) {
		store := newFakeStore()
		embedder := &fakeEmbedder{dims: 3, failFor: map[string]bool{"question": true}}
		ix := newTestIndex(embedder, store)

		_, err := ix.Query(context.Background(), "tenant-a", "question", 5)
		assert.NoError(t, err)
	})

	t.Run("Unknown Tenant Yields Empty", func(t *testing.T) {
		store := newFakeStore()
		ix := newTestIndex(&fakeEmbedder{dims: 3}, store)

		results, err := ix.Query(context.Background(), "never-seen", "question", 5)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestIndex_Stats(t *testing.T) {
	store := newFakeStore()
	store.count = 42
	ix := newTestIndex(&fakeEmbedder{dims: 3}, store)

	stats, err := ix.Stats(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, CollectionName("tenant-a"), stats.CollectionName)
	assert.Equal(t, int64(42), stats.DocumentCount)
}
