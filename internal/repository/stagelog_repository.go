package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notaflow/notaflow/internal/domain"
)

// stageLogRepository implements StageLogRepository on Postgres.
type stageLogRepository struct {
	pool *pgxpool.Pool
}

// NewStageLogRepository creates a new stage log repository.
func NewStageLogRepository(pool *pgxpool.Pool) StageLogRepository {
	return &stageLogRepository{pool: pool}
}

func (r *stageLogRepository) Append(ctx context.Context, entry domain.StageLogEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO stage_logs (id, document_id, stage, attempt, status, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.DocumentID, string(entry.Stage), entry.Attempt,
		string(entry.Status), nullable(entry.Error), entry.StartedAt, entry.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to append stage log: %w", err)
	}
	return nil
}

func (r *stageLogRepository) Update(ctx context.Context, entry domain.StageLogEntry) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE stage_logs SET status = $2, error = $3, finished_at = $4 WHERE id = $1`,
		entry.ID, string(entry.Status), nullable(entry.Error), entry.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to update stage log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stage log %s: %w", entry.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *stageLogRepository) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]domain.StageLogEntry, error) {
	// ULID ids sort lexically in execution order.
	rows, err := r.pool.Query(ctx, `
		SELECT id, document_id, stage, attempt, status, error, started_at, finished_at
		FROM stage_logs WHERE document_id = $1 ORDER BY id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage logs: %w", err)
	}
	defer rows.Close()

	var entries []domain.StageLogEntry
	for rows.Next() {
		var (
			entry    domain.StageLogEntry
			stage    string
			status   string
			errField *string
		)
		if err := rows.Scan(&entry.ID, &entry.DocumentID, &stage, &entry.Attempt,
			&status, &errField, &entry.StartedAt, &entry.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stage log: %w", err)
		}
		entry.Stage = domain.Stage(stage)
		entry.Status = domain.StageStatus(status)
		if errField != nil {
			entry.Error = *errField
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
