package ingestion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_Validate(t *testing.T) {
	t.Run("URL Only", func(t *testing.T) {
		req := &Request{TenantID: "t1", URL: "https://docs.example.com"}
		assert.NoError(t, req.Validate())
	})

	t.Run("Document Only", func(t *testing.T) {
		req := &Request{TenantID: "t1", Document: []byte("%PDF-1.7"), DocumentName: "guide.pdf"}
		assert.NoError(t, req.Validate())
	})

	t.Run("Both Sources", func(t *testing.T) {
		req := &Request{TenantID: "t1", URL: "https://docs.example.com", Document: []byte("%PDF-1.7")}
		assert.NoError(t, req.Validate())
	})

	t.Run("Neither Source", func(t *testing.T) {
		req := &Request{TenantID: "t1"}
		assert.ErrorIs(t, req.Validate(), ErrNoSource)
	})

	t.Run("Missing Tenant", func(t *testing.T) {
		req := &Request{URL: "https://docs.example.com"}
		assert.ErrorContains(t, req.Validate(), "tenant id")
	})

	t.Run("Relative URL", func(t *testing.T) {
		req := &Request{TenantID: "t1", URL: "/just/a/path"}
		assert.ErrorContains(t, req.Validate(), "http")
	})

	t.Run("Non-HTTP Scheme", func(t *testing.T) {
		req := &Request{TenantID: "t1", URL: "ftp://files.example.com"}
		assert.Error(t, req.Validate())
	})
}

func TestStage_CanTransition(t *testing.T) {
	assert.True(t, StagePending.CanTransition(StageInProgress))
	assert.True(t, StagePending.CanTransition(StageFailed))
	assert.True(t, StageInProgress.CanTransition(StageCompleted))
	assert.True(t, StageInProgress.CanTransition(StageFailed))

	assert.False(t, StagePending.CanTransition(StageCompleted))
	assert.False(t, StageCompleted.CanTransition(StageFailed))
	assert.False(t, StageFailed.CanTransition(StageInProgress))
	assert.False(t, StageSkipped.CanTransition(StageInProgress))
}

func TestMemoryRepo(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T) *MemoryRepo {
		r := NewMemoryRepo()
		require.NoError(t, r.Seed(ctx, &Status{
			TenantID:      "t1",
			CrawlStage:    StagePending,
			DocumentStage: StageSkipped,
			VectorStage:   StagePending,
		}))
		return r
	}

	t.Run("Seed And Get", func(t *testing.T) {
		r := seed(t)
		got, err := r.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, StagePending, got.CrawlStage)
		assert.Equal(t, StageSkipped, got.DocumentStage)
		assert.False(t, got.UpdatedAt.IsZero())
	})

	t.Run("Get Unknown Tenant", func(t *testing.T) {
		r := NewMemoryRepo()
		_, err := r.Get(ctx, "ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Legal Transition Applies", func(t *testing.T) {
		r := seed(t)
		require.NoError(t, r.UpdateStage(ctx, "t1", FieldCrawlStage, StageInProgress, ""))
		got, _ := r.Get(ctx, "t1")
		assert.Equal(t, StageInProgress, got.CrawlStage)
	})

	t.Run("Illegal Transition Is Dropped", func(t *testing.T) {
		r := seed(t)
		require.NoError(t, r.UpdateStage(ctx, "t1", FieldCrawlStage, StageInProgress, ""))
		require.NoError(t, r.UpdateStage(ctx, "t1", FieldCrawlStage, StageCompleted, ""))
		// Late failure after completion must not flip the stage.
		require.NoError(t, r.UpdateStage(ctx, "t1", FieldCrawlStage, StageFailed, "late"))
		got, _ := r.Get(ctx, "t1")
		assert.Equal(t, StageCompleted, got.CrawlStage)
	})

	t.Run("Skipped Never Moves", func(t *testing.T) {
		r := seed(t)
		require.NoError(t, r.UpdateStage(ctx, "t1", FieldDocumentStage, StageInProgress, ""))
		got, _ := r.Get(ctx, "t1")
		assert.Equal(t, StageSkipped, got.DocumentStage)
	})

	t.Run("Unknown Field Rejected", func(t *testing.T) {
		r := seed(t)
		assert.Error(t, r.UpdateStage(ctx, "t1", StageField("nope"), StageFailed, ""))
	})

	t.Run("Reseed Resets Terminal Stages", func(t *testing.T) {
		r := seed(t)
		require.NoError(t, r.UpdateStage(ctx, "t1", FieldCrawlStage, StageFailed, "boom"))
		require.NoError(t, r.Seed(ctx, &Status{
			TenantID:      "t1",
			CrawlStage:    StagePending,
			DocumentStage: StagePending,
			VectorStage:   StagePending,
		}))
		got, _ := r.Get(ctx, "t1")
		assert.Equal(t, StagePending, got.CrawlStage)
		assert.Equal(t, StagePending, got.DocumentStage)
	})
}
