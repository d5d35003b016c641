package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/notaflow/notaflow/internal/domain"
)

// DocumentRepository persists document records through their lifecycle.
type DocumentRepository interface {
	Create(ctx context.Context, doc domain.DocumentRecord) (domain.DocumentRecord, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.DocumentRecord, error)
	Update(ctx context.Context, doc domain.DocumentRecord) (domain.DocumentRecord, error)
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]domain.DocumentRecord, error)
	List(ctx context.Context, status *domain.DocumentStatus, limit, offset int) ([]domain.DocumentRecord, error)
}

// StageLogRepository stores the append-only stage trail of each document.
type StageLogRepository interface {
	Append(ctx context.Context, entry domain.StageLogEntry) error
	Update(ctx context.Context, entry domain.StageLogEntry) error
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]domain.StageLogEntry, error)
}

// BatchRepository persists batches and their queue items.
type BatchRepository interface {
	CreateBatch(ctx context.Context, batch domain.Batch) (domain.Batch, error)
	GetBatch(ctx context.Context, id uuid.UUID) (domain.Batch, error)
	UpdateBatch(ctx context.Context, batch domain.Batch) error
	ListBatches(ctx context.Context, limit, offset int) ([]domain.Batch, error)
	CreateItem(ctx context.Context, item domain.QueueItem) (domain.QueueItem, error)
	UpdateItem(ctx context.Context, item domain.QueueItem) error
	ListItems(ctx context.Context, batchID uuid.UUID) ([]domain.QueueItem, error)
	// ListPendingItems returns all queued and running items across batches in
	// dispatch order, used to repopulate the queue after a restart.
	ListPendingItems(ctx context.Context) ([]domain.QueueItem, error)
}

// CredentialRepository stores sealed certificate material and its metadata.
type CredentialRepository interface {
	Store(ctx context.Context, cert domain.Certificate) (domain.Certificate, error)
	GetByAlias(ctx context.Context, alias string) (domain.Certificate, error)
	List(ctx context.Context) ([]domain.Certificate, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
