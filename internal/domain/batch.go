package domain

import (
	"time"

	"github.com/google/uuid"
)

// BatchStatus is the aggregate lifecycle of a submitted batch. It is always
// recomputed from member queue item statuses, never stored authoritatively.
type BatchStatus string

const (
	BatchPending             BatchStatus = "PENDING"
	BatchProcessing          BatchStatus = "PROCESSING"
	BatchCompleted           BatchStatus = "COMPLETED"
	BatchCompletedWithErrors BatchStatus = "COMPLETED_WITH_ERRORS"
	BatchFailed              BatchStatus = "FAILED"
	BatchCancelled           BatchStatus = "CANCELLED"
)

// Batch groups documents submitted together for processing.
type Batch struct {
	ID          uuid.UUID   `json:"id"`
	Name        string      `json:"name,omitempty"`
	Origin      string      `json:"origin,omitempty"`
	Priority    int         `json:"priority"`
	Status      BatchStatus `json:"status"`
	EnqueuedAt  time.Time   `json:"enqueued_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// NewBatch creates a pending batch.
func NewBatch(name, origin string, priority int) Batch {
	return Batch{
		ID:         uuid.New(),
		Name:       name,
		Origin:     origin,
		Priority:   priority,
		Status:     BatchPending,
		EnqueuedAt: time.Now(),
	}
}

// QueueItemStatus is the lifecycle of one queued document.
type QueueItemStatus string

const (
	ItemQueued    QueueItemStatus = "QUEUED"
	ItemRunning   QueueItemStatus = "RUNNING"
	ItemCompleted QueueItemStatus = "COMPLETED"
	ItemFailed    QueueItemStatus = "FAILED"
	ItemCancelled QueueItemStatus = "CANCELLED"
)

// IsTerminal reports whether the item will not run again.
func (s QueueItemStatus) IsTerminal() bool {
	return s == ItemCompleted || s == ItemFailed || s == ItemCancelled
}

// QueueItem is one document's slot in the dispatch queue. Sequence preserves
// submission order for FIFO tie-breaking within a priority level.
type QueueItem struct {
	ID         uuid.UUID       `json:"id"`
	BatchID    uuid.UUID       `json:"batch_id"`
	DocumentID uuid.UUID       `json:"document_id"`
	Priority   int             `json:"priority"`
	Sequence   int64           `json:"sequence"`
	Status     QueueItemStatus `json:"status"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// AggregateBatchStatus derives a batch status from its member items.
func AggregateBatchStatus(items []QueueItem) BatchStatus {
	if len(items) == 0 {
		return BatchPending
	}
	var queued, running, completed, failed, cancelled int
	for _, it := range items {
		switch it.Status {
		case ItemQueued:
			queued++
		case ItemRunning:
			running++
		case ItemCompleted:
			completed++
		case ItemFailed:
			failed++
		case ItemCancelled:
			cancelled++
		}
	}
	switch {
	case running > 0:
		return BatchProcessing
	case queued > 0:
		if completed > 0 || failed > 0 {
			return BatchProcessing
		}
		return BatchPending
	case cancelled > 0:
		return BatchCancelled
	case failed == len(items):
		return BatchFailed
	case failed > 0:
		return BatchCompletedWithErrors
	default:
		return BatchCompleted
	}
}
