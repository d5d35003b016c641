package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notaflow/notaflow/internal/domain"
)

// batchRepository implements BatchRepository on Postgres.
type batchRepository struct {
	pool *pgxpool.Pool
}

// NewBatchRepository creates a new batch repository.
func NewBatchRepository(pool *pgxpool.Pool) BatchRepository {
	return &batchRepository{pool: pool}
}

func (r *batchRepository) CreateBatch(ctx context.Context, batch domain.Batch) (domain.Batch, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO batches (id, name, origin, priority, status, enqueued_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		batch.ID, nullable(batch.Name), nullable(batch.Origin), batch.Priority,
		string(batch.Status), batch.EnqueuedAt, batch.StartedAt, batch.CompletedAt)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("failed to create batch: %w", err)
	}
	return batch, nil
}

func (r *batchRepository) GetBatch(ctx context.Context, id uuid.UUID) (domain.Batch, error) {
	batch, err := scanBatch(r.pool.QueryRow(ctx, `
		SELECT id, name, origin, priority, status, enqueued_at, started_at, completed_at
		FROM batches WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Batch{}, fmt.Errorf("batch %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Batch{}, fmt.Errorf("failed to get batch: %w", err)
	}
	return batch, nil
}

func (r *batchRepository) UpdateBatch(ctx context.Context, batch domain.Batch) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE batches SET status = $2, started_at = $3, completed_at = $4 WHERE id = $1`,
		batch.ID, string(batch.Status), batch.StartedAt, batch.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("batch %s: %w", batch.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *batchRepository) ListBatches(ctx context.Context, limit, offset int) ([]domain.Batch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, origin, priority, status, enqueued_at, started_at, completed_at
		FROM batches ORDER BY enqueued_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var batches []domain.Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

func scanBatch(row pgx.Row) (domain.Batch, error) {
	var (
		batch  domain.Batch
		name   *string
		origin *string
		status string
	)
	err := row.Scan(&batch.ID, &name, &origin, &batch.Priority, &status,
		&batch.EnqueuedAt, &batch.StartedAt, &batch.CompletedAt)
	if err != nil {
		return domain.Batch{}, err
	}
	if name != nil {
		batch.Name = *name
	}
	if origin != nil {
		batch.Origin = *origin
	}
	batch.Status = domain.BatchStatus(status)
	return batch, nil
}

func (r *batchRepository) CreateItem(ctx context.Context, item domain.QueueItem) (domain.QueueItem, error) {
	// sequence comes from the table so FIFO order survives restarts.
	err := r.pool.QueryRow(ctx, `
		INSERT INTO queue_items (id, batch_id, document_id, priority, status, enqueued_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING sequence`,
		item.ID, item.BatchID, item.DocumentID, item.Priority,
		string(item.Status), item.EnqueuedAt).Scan(&item.Sequence)
	if err != nil {
		return domain.QueueItem{}, fmt.Errorf("failed to create queue item: %w", err)
	}
	return item, nil
}

func (r *batchRepository) UpdateItem(ctx context.Context, item domain.QueueItem) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE queue_items SET status = $2, started_at = $3, finished_at = $4 WHERE id = $1`,
		item.ID, string(item.Status), item.StartedAt, item.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to update queue item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("queue item %s: %w", item.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *batchRepository) ListItems(ctx context.Context, batchID uuid.UUID) ([]domain.QueueItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, batch_id, document_id, priority, sequence, status, enqueued_at, started_at, finished_at
		FROM queue_items WHERE batch_id = $1 ORDER BY sequence`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

func (r *batchRepository) ListPendingItems(ctx context.Context) ([]domain.QueueItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, batch_id, document_id, priority, sequence, status, enqueued_at, started_at, finished_at
		FROM queue_items WHERE status IN ('QUEUED', 'RUNNING')
		ORDER BY priority DESC, sequence`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending queue items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

func collectItems(rows pgx.Rows) ([]domain.QueueItem, error) {
	var items []domain.QueueItem
	for rows.Next() {
		var (
			item   domain.QueueItem
			status string
		)
		if err := rows.Scan(&item.ID, &item.BatchID, &item.DocumentID, &item.Priority,
			&item.Sequence, &status, &item.EnqueuedAt, &item.StartedAt, &item.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		item.Status = domain.QueueItemStatus(status)
		items = append(items, item)
	}
	return items, rows.Err()
}
