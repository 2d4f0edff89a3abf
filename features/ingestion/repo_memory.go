package ingestion

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryRepo is a map-backed Repository with the same transition rules as the
// Postgres one. It backs tests and single-process deployments without a
// database.
type MemoryRepo struct {
	mu   sync.RWMutex
	rows map[string]*Status
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rows: make(map[string]*Status)}
}

func (r *MemoryRepo) Seed(_ context.Context, status *Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *status
	copied.UpdatedAt = time.Now()
	r.rows[status.TenantID] = &copied
	return nil
}

func (r *MemoryRepo) UpdateStage(_ context.Context, tenantID string, field StageField, next Stage, detail string) error {
	if !stageColumns[field] {
		return fmt.Errorf("unknown stage field %q", field)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[tenantID]
	if !ok {
		return ErrNotFound
	}

	current := r.stageOf(row, field)
	if !current.CanTransition(next) {
		// Same policy as the SQL repo: a late or illegal move is dropped.
		return nil
	}

	switch field {
	case FieldCrawlStage:
		row.CrawlStage = next
	case FieldDocumentStage:
		row.DocumentStage = next
	case FieldVectorStage:
		row.VectorStage = next
	}
	row.Detail = detail
	row.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, tenantID string) (*Status, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *row
	return &copied, nil
}

func (r *MemoryRepo) stageOf(row *Status, field StageField) Stage {
	switch field {
	case FieldCrawlStage:
		return row.CrawlStage
	case FieldDocumentStage:
		return row.DocumentStage
	default:
		return row.VectorStage
	}
}
