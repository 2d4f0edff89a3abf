package ingestion

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
)

var (
	ErrNoSource = errors.New("ingestion request must carry a url or a document")
	ErrNotFound = errors.New("ingestion not found")
)

// Stage is the lifecycle of one tracked column of an ingestion. A source
// stage that was never requested stays Skipped; the vector stage aggregates
// over whichever source stages ran.
type Stage string

const (
	StageSkipped    Stage = "skipped"
	StagePending    Stage = "pending"
	StageInProgress Stage = "in_progress"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
)

// CanTransition reports whether a stage may move to next. Terminal stages
// never move again within one ingestion; a fresh submission resets them by
// re-seeding the row instead.
func (s Stage) CanTransition(next Stage) bool {
	switch s {
	case StagePending:
		return next == StageInProgress || next == StageFailed
	case StageInProgress:
		return next == StageCompleted || next == StageFailed
	default:
		return false
	}
}

// StageField names one of the tracked stage columns.
type StageField string

const (
	FieldCrawlStage    StageField = "crawl_stage"
	FieldDocumentStage StageField = "document_stage"
	FieldVectorStage   StageField = "vector_stage"
)

// Request is one ingestion submission for a tenant. Either source alone is
// valid; both together run concurrently under the same ingestion.
type Request struct {
	TenantID     string
	URL          string
	DocumentName string
	Document     []byte
}

func (r *Request) Validate() error {
	if strings.TrimSpace(r.TenantID) == "" {
		return errors.New("tenant id is required")
	}
	if r.URL == "" && len(r.Document) == 0 {
		return ErrNoSource
	}
	if r.URL != "" {
		u, err := url.Parse(r.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.New("url must be absolute http or https")
		}
	}
	return nil
}

// HasWeb and HasDocument report which source tasks this request spawns.
func (r *Request) HasWeb() bool      { return r.URL != "" }
func (r *Request) HasDocument() bool { return len(r.Document) > 0 }

// Status is the tenant's latest ingestion as seen by the status endpoint.
type Status struct {
	TenantID      string    `json:"tenant_id"`
	CrawlStage    Stage     `json:"crawl_stage"`
	DocumentStage Stage     `json:"document_stage"`
	VectorStage   Stage     `json:"vector_stage"`
	Detail        string    `json:"detail,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Repository persists per-tenant ingestion status. Seed replaces the tenant's
// row wholesale; UpdateStage moves one column and must reject transitions the
// stage machine forbids.
type Repository interface {
	Seed(ctx context.Context, status *Status) error
	UpdateStage(ctx context.Context, tenantID string, field StageField, next Stage, detail string) error
	Get(ctx context.Context, tenantID string) (*Status, error)
}
