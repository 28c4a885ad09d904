package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"tenant_gateway/internal/models"
)

// UsageRepository handles usage record database operations
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Re-inserting a request id is a no-op, so records replayed from the
// dead-letter queue are never counted twice.
const insertUsageQuery = `
	INSERT INTO usage_records (
		id, request_id, tenant_id, agent_id, model_name, request_type,
		prompt_tokens, completion_tokens, total_tokens, cost_usd, duration_ms, created_at
	) VALUES (
		:id, :request_id, :tenant_id, :agent_id, :model_name, :request_type,
		:prompt_tokens, :completion_tokens, :total_tokens, :cost_usd, :duration_ms, :created_at
	)
	ON CONFLICT (request_id) DO NOTHING
`

func prepareRecord(record *models.UsageRecord) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
}

// Create inserts a usage record
func (r *UsageRepository) Create(ctx context.Context, record *models.UsageRecord) error {
	return r.create(ctx, r.db.conn, record)
}

func (r *UsageRepository) create(ctx context.Context, ext sqlx.ExtContext, record *models.UsageRecord) error {
	prepareRecord(record)
	if _, err := sqlx.NamedExecContext(ctx, ext, insertUsageQuery, record); err != nil {
		return fmt.Errorf("failed to create usage record: %w", err)
	}
	return nil
}

// CreateBatch inserts records in a single transaction
func (r *UsageRepository) CreateBatch(ctx context.Context, records []*models.UsageRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, record := range records {
		if err := r.create(ctx, tx, record); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const selectUsageColumns = `
	SELECT id, request_id, tenant_id, agent_id, model_name, request_type,
	       prompt_tokens, completion_tokens, total_tokens, cost_usd, duration_ms, created_at
	FROM usage_records
`

// GetByRequestID retrieves the record of one request
func (r *UsageRepository) GetByRequestID(ctx context.Context, requestID string) (*models.UsageRecord, error) {
	var record models.UsageRecord
	err := r.db.conn.GetContext(ctx, &record, selectUsageColumns+` WHERE request_id = $1`, requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUsageRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage record: %w", err)
	}
	return &record, nil
}

// ListByTenant retrieves a tenant's records in [start, end), newest first
func (r *UsageRepository) ListByTenant(ctx context.Context, tenantID string, start, end time.Time, limit, offset int) ([]*models.UsageRecord, error) {
	query := selectUsageColumns + `
		WHERE tenant_id = $1
		  AND created_at >= $2
		  AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`

	var records []*models.UsageRecord
	if err := r.db.conn.SelectContext(ctx, &records, query, tenantID, start, end, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	return records, nil
}

// AgentSummaries aggregates a tenant's usage per agent in [start, end)
func (r *UsageRepository) AgentSummaries(ctx context.Context, tenantID string, start, end time.Time) ([]models.AgentUsageSummary, error) {
	query := `
		SELECT tenant_id, agent_id,
		       COUNT(*) AS requests,
		       COALESCE(SUM(total_tokens), 0) AS total_tokens,
		       COALESCE(SUM(cost_usd), 0)::float8 AS cost_usd
		FROM usage_records
		WHERE tenant_id = $1
		  AND created_at >= $2
		  AND created_at < $3
		GROUP BY tenant_id, agent_id
		ORDER BY agent_id
	`

	var summaries []models.AgentUsageSummary
	if err := r.db.conn.SelectContext(ctx, &summaries, query, tenantID, start, end); err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	return summaries, nil
}

// TotalCostByTenant sums a tenant's cost in [start, end)
func (r *UsageRepository) TotalCostByTenant(ctx context.Context, tenantID string, start, end time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost_usd), 0)::float8
		FROM usage_records
		WHERE tenant_id = $1
		  AND created_at >= $2
		  AND created_at < $3
	`

	var total float64
	if err := r.db.conn.GetContext(ctx, &total, query, tenantID, start, end); err != nil {
		return 0, fmt.Errorf("failed to get total cost: %w", err)
	}
	return total, nil
}
