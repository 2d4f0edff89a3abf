package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"

	"quarry/internal/config"
	"quarry/internal/extract"
	"quarry/internal/knowledge"
	"quarry/internal/middleware"
	"quarry/internal/text"
)

type WebExtractor interface {
	Extract(ctx context.Context, rawURL string) extract.SourceResult
}

type DocumentExtractor interface {
	Extract(data []byte, filename string) extract.SourceResult
}

// Indexer is the tenant-scoped embedding index the coordinator writes to and
// the facade reads from.
type Indexer interface {
	Upsert(ctx context.Context, tenantID string, chunks []text.Chunk) error
	Query(ctx context.Context, tenantID, query string, limit int) ([]knowledge.QueryResult, error)
	DeleteCollection(ctx context.Context, tenantID string) error
	Stats(ctx context.Context, tenantID string) (*knowledge.Stats, error)
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// Coordinator runs ingestions fire-and-forget: Submit seeds the status row,
// hands each requested source to the worker pool and returns. Source tasks
// report through the repository; the last one to finish settles the vector
// stage.
type Coordinator struct {
	repo    Repository
	index   Indexer
	web     WebExtractor
	doc     DocumentExtractor
	chunker *text.Chunker
	pub     EventPublisher
	pool    *ants.Pool
}

func NewCoordinator(repo Repository, index Indexer, web WebExtractor, doc DocumentExtractor, chunker *text.Chunker, pub EventPublisher, concurrency int) (*Coordinator, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		repo:    repo,
		index:   index,
		web:     web,
		doc:     doc,
		chunker: chunker,
		pub:     pub,
		pool:    pool,
	}, nil
}

// aggregate settles the vector stage once every source task of one submission
// has reported. At least one successful source completes it; all failing
// fails it.
type aggregate struct {
	remaining int32
	succeeded int32
}

func (a *aggregate) finish(ok bool) (done bool, anySucceeded bool) {
	if ok {
		atomic.AddInt32(&a.succeeded, 1)
	}
	if atomic.AddInt32(&a.remaining, -1) > 0 {
		return false, false
	}
	return true, atomic.LoadInt32(&a.succeeded) > 0
}

// Submit validates and enqueues one ingestion, replacing the tenant's prior
// status row. It returns before any extraction work happens; errors past this
// point surface only through the status endpoint.
func (c *Coordinator) Submit(ctx context.Context, req *Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	status := &Status{
		TenantID:      req.TenantID,
		CrawlStage:    StageSkipped,
		DocumentStage: StageSkipped,
		VectorStage:   StagePending,
	}
	if req.HasWeb() {
		status.CrawlStage = StagePending
	}
	if req.HasDocument() {
		status.DocumentStage = StagePending
	}
	if err := c.repo.Seed(ctx, status); err != nil {
		return fmt.Errorf("seed ingestion status: %w", err)
	}

	// Tasks outlive the request; carry only the correlation id forward.
	taskCtx := middleware.WithCorrelationID(context.Background(), middleware.GetCorrelationID(ctx))

	tasks := 0
	if req.HasWeb() {
		tasks++
	}
	if req.HasDocument() {
		tasks++
	}
	agg := &aggregate{remaining: int32(tasks)}

	if err := c.setStage(taskCtx, req.TenantID, FieldVectorStage, StageInProgress, ""); err != nil {
		return err
	}

	if req.HasWeb() {
		c.spawn(taskCtx, req.TenantID, FieldCrawlStage, agg, func(ctx context.Context) extract.SourceResult {
			return c.web.Extract(ctx, req.URL)
		})
	}
	if req.HasDocument() {
		c.spawn(taskCtx, req.TenantID, FieldDocumentStage, agg, func(ctx context.Context) extract.SourceResult {
			return c.doc.Extract(req.Document, req.DocumentName)
		})
	}

	slog.InfoContext(ctx, "ingestion accepted",
		"tenant_id", req.TenantID, "web", req.HasWeb(), "document", req.HasDocument())
	return nil
}

func (c *Coordinator) spawn(ctx context.Context, tenantID string, field StageField, agg *aggregate, run func(context.Context) extract.SourceResult) {
	err := c.pool.Submit(func() {
		c.runSource(ctx, tenantID, field, agg, run)
	})
	if err != nil {
		slog.ErrorContext(ctx, "worker pool rejected task", "tenant_id", tenantID, "stage", field, "error", err)
		c.setStage(ctx, tenantID, field, StageFailed, "worker pool unavailable")
		c.settle(ctx, tenantID, agg, false)
	}
}

func (c *Coordinator) runSource(ctx context.Context, tenantID string, field StageField, agg *aggregate, run func(context.Context) extract.SourceResult) {
	c.setStage(ctx, tenantID, field, StageInProgress, "")

	res := run(ctx)
	if !res.Success {
		slog.ErrorContext(ctx, "source extraction failed",
			"tenant_id", tenantID, "stage", field, "origin", res.Origin, "error", res.Err)
		c.setStage(ctx, tenantID, field, StageFailed, res.Err)
		c.settle(ctx, tenantID, agg, false)
		return
	}

	chunks := c.chunker.Chunk(text.CleanText(res.Text), string(res.Kind), res.Origin)
	if len(chunks) == 0 {
		// Extraction succeeded but yielded nothing usable. Benign: the
		// stage completes without touching the index.
		slog.InfoContext(ctx, "source produced no chunks", "tenant_id", tenantID, "origin", res.Origin)
		c.setStage(ctx, tenantID, field, StageCompleted, "")
		c.settle(ctx, tenantID, agg, true)
		return
	}

	if err := c.index.Upsert(ctx, tenantID, chunks); err != nil {
		slog.ErrorContext(ctx, "chunk indexing failed",
			"tenant_id", tenantID, "stage", field, "origin", res.Origin, "error", err)
		c.setStage(ctx, tenantID, field, StageFailed, err.Error())
		c.settle(ctx, tenantID, agg, false)
		return
	}

	slog.InfoContext(ctx, "source ingested",
		"tenant_id", tenantID, "stage", field, "origin", res.Origin, "chunks", len(chunks))
	c.setStage(ctx, tenantID, field, StageCompleted, "")
	c.settle(ctx, tenantID, agg, true)
}

func (c *Coordinator) settle(ctx context.Context, tenantID string, agg *aggregate, ok bool) {
	done, anySucceeded := agg.finish(ok)
	if !done {
		return
	}
	if anySucceeded {
		c.setStage(ctx, tenantID, FieldVectorStage, StageCompleted, "")
	} else {
		c.setStage(ctx, tenantID, FieldVectorStage, StageFailed, "all sources failed")
	}
}

func (c *Coordinator) setStage(ctx context.Context, tenantID string, field StageField, next Stage, detail string) error {
	if err := c.repo.UpdateStage(ctx, tenantID, field, next, detail); err != nil {
		slog.ErrorContext(ctx, "stage update failed",
			"tenant_id", tenantID, "stage", field, "next", next, "error", err)
		return err
	}
	c.publishStage(ctx, tenantID, field, next, detail)
	return nil
}

func (c *Coordinator) publishStage(ctx context.Context, tenantID string, field StageField, stage Stage, detail string) {
	if c.pub == nil {
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"tenant_id":      tenantID,
		"stage":          string(field),
		"value":          string(stage),
		"detail":         detail,
		"correlation_id": middleware.GetCorrelationID(ctx),
	})
	if err := c.pub.Publish(config.TopicIngestStatus, payload); err != nil {
		slog.WarnContext(ctx, "failed to publish status event", "tenant_id", tenantID, "error", err)
	}
}

// GetStatus returns the tenant's latest ingestion row.
func (c *Coordinator) GetStatus(ctx context.Context, tenantID string) (*Status, error) {
	return c.repo.Get(ctx, tenantID)
}

// Query runs a relevance search over the tenant's knowledge.
func (c *Coordinator) Query(ctx context.Context, tenantID, query string, limit int) ([]knowledge.QueryResult, error) {
	return c.index.Query(ctx, tenantID, query, limit)
}

// DeleteKnowledge drops the tenant's entire collection. Idempotent.
func (c *Coordinator) DeleteKnowledge(ctx context.Context, tenantID string) error {
	return c.index.DeleteCollection(ctx, tenantID)
}

func (c *Coordinator) Stats(ctx context.Context, tenantID string) (*knowledge.Stats, error) {
	return c.index.Stats(ctx, tenantID)
}

// Release drains the worker pool. The coordinator must not be used after.
func (c *Coordinator) Release() {
	c.pool.Release()
}
