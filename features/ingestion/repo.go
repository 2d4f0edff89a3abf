package ingestion

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// stageColumns whitelists the columns UpdateStage may touch. The field name
// reaches SQL by interpolation, so anything outside this set is rejected.
var stageColumns = map[StageField]bool{
	FieldCrawlStage:    true,
	FieldDocumentStage: true,
	FieldVectorStage:   true,
}

// allowedFrom lists the stages a column may hold for a move to next to be
// legal. An update arriving after the column went terminal matches no row and
// is dropped, which keeps late task results from flipping a settled stage.
func allowedFrom(next Stage) []Stage {
	switch next {
	case StageInProgress:
		return []Stage{StagePending}
	case StageCompleted:
		return []Stage{StageInProgress}
	case StageFailed:
		return []Stage{StagePending, StageInProgress}
	default:
		return nil
	}
}

func (r *PostgresRepo) Seed(ctx context.Context, status *Status) error {
	query := `INSERT INTO ingestions (tenant_id, crawl_stage, document_stage, vector_stage, detail, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET
			crawl_stage = EXCLUDED.crawl_stage,
			document_stage = EXCLUDED.document_stage,
			vector_stage = EXCLUDED.vector_stage,
			detail = EXCLUDED.detail,
			updated_at = NOW()`
	_, err := r.db.ExecContext(ctx, query,
		status.TenantID, status.CrawlStage, status.DocumentStage, status.VectorStage, status.Detail)
	return err
}

func (r *PostgresRepo) UpdateStage(ctx context.Context, tenantID string, field StageField, next Stage, detail string) error {
	if !stageColumns[field] {
		return fmt.Errorf("unknown stage field %q", field)
	}
	from := allowedFrom(next)
	if from == nil {
		return fmt.Errorf("stage %q is not a valid transition target", next)
	}

	query := fmt.Sprintf(`UPDATE ingestions
		SET %[1]s = $1, detail = $2, updated_at = NOW()
		WHERE tenant_id = $3 AND %[1]s = ANY($4)`, field)

	args := make([]string, 0, len(from))
	for _, s := range from {
		args = append(args, string(s))
	}

	res, err := r.db.ExecContext(ctx, query, next, detail, tenantID, pq.Array(args))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Either the tenant is unknown or the transition was illegal. Only
		// the former is an error worth surfacing.
		if _, err := r.Get(ctx, tenantID); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, tenantID string) (*Status, error) {
	s := &Status{}
	query := `SELECT tenant_id, crawl_stage, document_stage, vector_stage, detail, updated_at
		FROM ingestions WHERE tenant_id = $1`
	err := r.db.QueryRowContext(ctx, query, tenantID).
		Scan(&s.TenantID, &s.CrawlStage, &s.DocumentStage, &s.VectorStage, &s.Detail, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
