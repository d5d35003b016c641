// Package queue accepts document batches, persists their queue items and
// dispatches them to the pipeline with bounded worker concurrency. Items are
// picked by priority, submission order breaking ties, so a small urgent
// batch overtakes a large bulk import.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/notaflow/notaflow/internal/classifier"
	"github.com/notaflow/notaflow/internal/domain"
	"github.com/notaflow/notaflow/internal/pipeline"
	"github.com/notaflow/notaflow/internal/repository"
)

// Upload is one file handed to Submit.
type Upload struct {
	FileName string
	Payload  []byte
}

// Runner executes the pipeline for one document. Satisfied by
// *pipeline.Orchestrator.
type Runner interface {
	Run(ctx context.Context, documentID uuid.UUID, opts pipeline.RunOptions) (domain.DocumentRecord, error)
}

// SchemaSource yields the current tax schema snapshot. Each run binds one
// snapshot; registry edits apply to runs that start afterwards.
type SchemaSource interface {
	Snapshot() domain.TaxSchema
}

// Config tunes the dispatch loop.
type Config struct {
	Workers       int   `mapstructure:"workers"`
	MaxExtracting int64 `mapstructure:"max_extracting"`
	Integrate     bool  `mapstructure:"integrate"`
}

// DefaultConfig runs four workers with at most two documents extracting.
func DefaultConfig() Config {
	return Config{Workers: 4, MaxExtracting: 2}
}

// ExtractGate builds the extraction admission semaphore shared with the
// pipeline. A non-positive limit falls back to the default instead of
// blocking every extraction.
func (c Config) ExtractGate() *semaphore.Weighted {
	n := c.MaxExtracting
	if n <= 0 {
		n = DefaultConfig().MaxExtracting
	}
	return semaphore.NewWeighted(n)
}

// Manager owns the batch queue.
type Manager struct {
	batches   repository.BatchRepository
	docs      repository.DocumentRepository
	runner    Runner
	schema    SchemaSource
	integrate bool
	workers   int
	log       *slog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	pending   itemHeap
	cancelled map[uuid.UUID]bool
	closed    bool

	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewManager builds a manager; call Start before Submit.
func NewManager(batches repository.BatchRepository, docs repository.DocumentRepository, runner Runner, schema SchemaSource, cfg Config, log *slog.Logger) *Manager {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		batches:   batches,
		docs:      docs,
		runner:    runner,
		schema:    schema,
		integrate: cfg.Integrate,
		workers:   cfg.Workers,
		cancelled: map[uuid.UUID]bool{},
		log:       log,
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Start recovers persisted pending items and launches the worker pool. The
// context bounds the lifetime of all dispatched runs.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.recover(ctx); err != nil {
		return err
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < m.workers; i++ {
		m.group.Go(func() error {
			m.work(ctx)
			return nil
		})
	}
	return nil
}

// recover re-enqueues items that were queued or running when the previous
// process stopped. The pipeline resumes each document from its first stage
// without a completed attempt, so re-running is safe.
func (m *Manager) recover(ctx context.Context) error {
	items, err := m.batches.ListPendingItems(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover queue: %w", err)
	}
	for _, item := range items {
		if item.Status == domain.ItemRunning {
			item.Status = domain.ItemQueued
			item.StartedAt = nil
			if err := m.batches.UpdateItem(ctx, item); err != nil {
				return err
			}
		}
		m.push(item)
	}
	if len(items) > 0 {
		m.log.Info("recovered pending queue items", "count", len(items))
	}
	return nil
}

// Close stops accepting work and waits for in-flight runs to finish.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
	if m.group != nil {
		err := m.group.Wait()
		m.cancel()
		return err
	}
	return nil
}

// Submit persists a batch with one document and queue item per upload and
// makes the items eligible for dispatch.
func (m *Manager) Submit(ctx context.Context, uploads []Upload, name, origin string, priority int) (domain.Batch, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return domain.Batch{}, domain.ErrQueueClosed
	}
	if len(uploads) == 0 {
		return domain.Batch{}, errors.New("batch must contain at least one document")
	}

	batch, err := m.batches.CreateBatch(ctx, domain.NewBatch(name, origin, priority))
	if err != nil {
		return domain.Batch{}, err
	}
	for _, up := range uploads {
		doc := domain.NewDocumentRecord(up.FileName, classifier.SniffFormat(up.FileName, up.Payload), up.Payload)
		doc.BatchID = &batch.ID
		if doc, err = m.docs.Create(ctx, doc); err != nil {
			return batch, err
		}
		item := domain.QueueItem{
			ID:         uuid.New(),
			BatchID:    batch.ID,
			DocumentID: doc.ID,
			Priority:   priority,
			Status:     domain.ItemQueued,
			EnqueuedAt: time.Now(),
		}
		if item, err = m.batches.CreateItem(ctx, item); err != nil {
			return batch, err
		}
		m.push(item)
	}
	m.log.Info("batch submitted",
		"batch_id", batch.ID, "documents", len(uploads), "priority", priority)
	return batch, nil
}

// Cancel marks the batch's queued items cancelled and signals in-flight runs
// to stop at their next stage boundary. Finished items keep their outcome.
func (m *Manager) Cancel(ctx context.Context, batchID uuid.UUID) (domain.Batch, error) {
	if _, err := m.batches.GetBatch(ctx, batchID); err != nil {
		return domain.Batch{}, err
	}
	m.mu.Lock()
	m.cancelled[batchID] = true
	m.mu.Unlock()

	items, err := m.batches.ListItems(ctx, batchID)
	if err != nil {
		return domain.Batch{}, err
	}
	now := time.Now()
	for _, item := range items {
		if item.Status != domain.ItemQueued {
			continue
		}
		item.Status = domain.ItemCancelled
		item.FinishedAt = &now
		if err := m.batches.UpdateItem(ctx, item); err != nil {
			return domain.Batch{}, err
		}
		if doc, derr := m.docs.GetByID(ctx, item.DocumentID); derr == nil && !doc.Status.IsTerminal() {
			if _, derr = m.docs.Update(ctx, doc.WithStatus(domain.StatusCancelled)); derr != nil {
				m.log.Error("failed to cancel document", "document_id", item.DocumentID, "error", derr)
			}
		}
	}
	m.log.Info("batch cancelled", "batch_id", batchID)
	return m.refreshBatch(ctx, batchID)
}

// BatchStatus reloads the batch with its status recomputed from the current
// item states.
func (m *Manager) BatchStatus(ctx context.Context, batchID uuid.UUID) (domain.Batch, []domain.QueueItem, error) {
	batch, err := m.refreshBatch(ctx, batchID)
	if err != nil {
		return domain.Batch{}, nil, err
	}
	items, err := m.batches.ListItems(ctx, batchID)
	if err != nil {
		return domain.Batch{}, nil, err
	}
	return batch, items, nil
}

func (m *Manager) isCancelled(batchID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled[batchID]
}

func (m *Manager) push(item domain.QueueItem) {
	m.mu.Lock()
	heap.Push(&m.pending, item)
	m.cond.Signal()
	m.mu.Unlock()
}

// next blocks until an item is available or the manager closes.
func (m *Manager) next(ctx context.Context) (domain.QueueItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		if ctx.Err() != nil {
			return domain.QueueItem{}, false
		}
		if m.pending.Len() > 0 {
			return heap.Pop(&m.pending).(domain.QueueItem), true
		}
		if m.closed {
			return domain.QueueItem{}, false
		}
		m.cond.Wait()
	}
}

func (m *Manager) work(ctx context.Context) {
	// Wake waiters when the context ends so workers can observe it.
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	for {
		item, ok := m.next(ctx)
		if !ok {
			return
		}
		m.process(ctx, item)
	}
}

func (m *Manager) process(ctx context.Context, item domain.QueueItem) {
	if m.isCancelled(item.BatchID) {
		// Cancel already persisted the item's terminal state.
		return
	}

	now := time.Now()
	item.Status = domain.ItemRunning
	item.StartedAt = &now
	if err := m.batches.UpdateItem(ctx, item); err != nil {
		m.log.Error("failed to mark item running", "item_id", item.ID, "error", err)
		return
	}
	if _, err := m.refreshBatch(ctx, item.BatchID); err != nil {
		m.log.Error("failed to refresh batch", "batch_id", item.BatchID, "error", err)
	}

	batchID := item.BatchID
	opts := pipeline.RunOptions{
		Schema:    m.schema.Snapshot(),
		Integrate: m.integrate,
		Cancelled: func() bool { return m.isCancelled(batchID) },
	}
	_, runErr := m.runner.Run(ctx, item.DocumentID, opts)

	finished := time.Now()
	item.FinishedAt = &finished
	switch {
	case runErr == nil:
		item.Status = domain.ItemCompleted
	case errors.Is(runErr, domain.ErrBatchCancelled):
		item.Status = domain.ItemCancelled
	default:
		item.Status = domain.ItemFailed
	}
	if err := m.batches.UpdateItem(ctx, item); err != nil {
		m.log.Error("failed to finish item", "item_id", item.ID, "error", err)
	}
	if _, err := m.refreshBatch(ctx, item.BatchID); err != nil {
		m.log.Error("failed to refresh batch", "batch_id", item.BatchID, "error", err)
	}
}

// refreshBatch recomputes the batch status from its items and persists it.
func (m *Manager) refreshBatch(ctx context.Context, batchID uuid.UUID) (domain.Batch, error) {
	batch, err := m.batches.GetBatch(ctx, batchID)
	if err != nil {
		return domain.Batch{}, err
	}
	items, err := m.batches.ListItems(ctx, batchID)
	if err != nil {
		return domain.Batch{}, err
	}
	status := domain.AggregateBatchStatus(items)
	if status == batch.Status {
		return batch, nil
	}
	batch.Status = status
	now := time.Now()
	if batch.StartedAt == nil && status == domain.BatchProcessing {
		batch.StartedAt = &now
	}
	if batch.CompletedAt == nil && terminalBatch(status) {
		batch.CompletedAt = &now
	}
	if err := m.batches.UpdateBatch(ctx, batch); err != nil {
		return domain.Batch{}, err
	}
	return batch, nil
}

func terminalBatch(s domain.BatchStatus) bool {
	switch s {
	case domain.BatchCompleted, domain.BatchCompletedWithErrors, domain.BatchFailed, domain.BatchCancelled:
		return true
	}
	return false
}

// itemHeap orders items by priority descending, submission sequence
// ascending within a priority level.
type itemHeap []domain.QueueItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].Sequence < h[j].Sequence
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(domain.QueueItem)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
