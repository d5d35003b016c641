package queue

import (
	"container/heap"
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/notaflow/notaflow/internal/domain"
	"github.com/notaflow/notaflow/internal/pipeline"
)

type memBatches struct {
	mu      sync.Mutex
	batches map[uuid.UUID]domain.Batch
	items   map[uuid.UUID]domain.QueueItem
	seq     int64
}

func newMemBatches() *memBatches {
	return &memBatches{
		batches: map[uuid.UUID]domain.Batch{},
		items:   map[uuid.UUID]domain.QueueItem{},
	}
}

func (m *memBatches) CreateBatch(_ context.Context, batch domain.Batch) (domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[batch.ID] = batch
	return batch, nil
}

func (m *memBatches) GetBatch(_ context.Context, id uuid.UUID) (domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch, ok := m.batches[id]
	if !ok {
		return domain.Batch{}, domain.ErrNotFound
	}
	return batch, nil
}

func (m *memBatches) UpdateBatch(_ context.Context, batch domain.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[batch.ID]; !ok {
		return domain.ErrNotFound
	}
	m.batches[batch.ID] = batch
	return nil
}

func (m *memBatches) ListBatches(context.Context, int, int) ([]domain.Batch, error) {
	return nil, nil
}

func (m *memBatches) CreateItem(_ context.Context, item domain.QueueItem) (domain.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	item.Sequence = m.seq
	m.items[item.ID] = item
	return item, nil
}

func (m *memBatches) UpdateItem(_ context.Context, item domain.QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.ID]; !ok {
		return domain.ErrNotFound
	}
	m.items[item.ID] = item
	return nil
}

func (m *memBatches) ListItems(_ context.Context, batchID uuid.UUID) ([]domain.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.QueueItem
	for _, it := range m.items {
		if it.BatchID == batchID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (m *memBatches) ListPendingItems(context.Context) ([]domain.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.QueueItem
	for _, it := range m.items {
		if it.Status == domain.ItemQueued || it.Status == domain.ItemRunning {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

type memDocs struct {
	mu   sync.Mutex
	docs map[uuid.UUID]domain.DocumentRecord
}

func newMemDocs() *memDocs {
	return &memDocs{docs: map[uuid.UUID]domain.DocumentRecord{}}
}

func (m *memDocs) Create(_ context.Context, doc domain.DocumentRecord) (domain.DocumentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
	return doc, nil
}

func (m *memDocs) GetByID(_ context.Context, id uuid.UUID) (domain.DocumentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return domain.DocumentRecord{}, domain.ErrNotFound
	}
	return doc, nil
}

func (m *memDocs) Update(_ context.Context, doc domain.DocumentRecord) (domain.DocumentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
	return doc, nil
}

func (m *memDocs) ListByBatch(context.Context, uuid.UUID) ([]domain.DocumentRecord, error) {
	return nil, nil
}

func (m *memDocs) List(context.Context, *domain.DocumentStatus, int, int) ([]domain.DocumentRecord, error) {
	return nil, nil
}

// fakeRunner records dispatch order and optionally blocks until released so
// tests can interleave submissions with an in-flight run.
type fakeRunner struct {
	mu      sync.Mutex
	order   []uuid.UUID
	started chan uuid.UUID
	release chan struct{}
	fail    map[uuid.UUID]error
}

func (r *fakeRunner) Run(_ context.Context, documentID uuid.UUID, opts pipeline.RunOptions) (domain.DocumentRecord, error) {
	r.mu.Lock()
	r.order = append(r.order, documentID)
	r.mu.Unlock()
	if r.started != nil {
		r.started <- documentID
	}
	if r.release != nil {
		<-r.release
	}
	if opts.Cancelled != nil && opts.Cancelled() {
		return domain.DocumentRecord{}, domain.ErrBatchCancelled
	}
	if err := r.fail[documentID]; err != nil {
		return domain.DocumentRecord{}, err
	}
	return domain.DocumentRecord{ID: documentID, Status: domain.StatusCompleted}, nil
}

func (r *fakeRunner) ran() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.order...)
}

type fixedSchema struct{}

func (fixedSchema) Snapshot() domain.TaxSchema { return domain.TaxSchema{Revision: 1} }

func uploads(n int) []Upload {
	out := make([]Upload, n)
	for i := range out {
		out[i] = Upload{FileName: "doc.xml", Payload: []byte("<NFe/>")}
	}
	return out
}

func TestSubmitRunsBatchToCompletion(t *testing.T) {
	batches, docs := newMemBatches(), newMemDocs()
	runner := &fakeRunner{}
	m := NewManager(batches, docs, runner, fixedSchema{}, Config{Workers: 2}, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	batch, err := m.Submit(context.Background(), uploads(3), "august", "upload", 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := len(runner.ran()); got != 3 {
		t.Errorf("dispatched %d documents, want 3", got)
	}
	final, items, err := m.BatchStatus(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("BatchStatus: %v", err)
	}
	if final.Status != domain.BatchCompleted {
		t.Errorf("batch status = %s, want COMPLETED", final.Status)
	}
	if final.CompletedAt == nil {
		t.Error("completed batch must carry a completion time")
	}
	for _, it := range items {
		if it.Status != domain.ItemCompleted {
			t.Errorf("item %s status = %s", it.ID, it.Status)
		}
	}
}

func TestHigherPriorityOvertakesQueuedWork(t *testing.T) {
	batches, docs := newMemBatches(), newMemDocs()
	runner := &fakeRunner{started: make(chan uuid.UUID, 8), release: make(chan struct{})}
	m := NewManager(batches, docs, runner, fixedSchema{}, Config{Workers: 1}, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	bulk, err := m.Submit(context.Background(), uploads(3), "bulk", "upload", 0)
	if err != nil {
		t.Fatalf("Submit bulk: %v", err)
	}
	first := <-runner.started // worker is busy on the first bulk document

	urgent, err := m.Submit(context.Background(), uploads(1), "urgent", "upload", 5)
	if err != nil {
		t.Fatalf("Submit urgent: %v", err)
	}
	close(runner.release)
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	bulkItems, _ := batches.ListItems(context.Background(), bulk.ID)
	urgentItems, _ := batches.ListItems(context.Background(), urgent.ID)
	order := runner.ran()
	if len(order) != 4 {
		t.Fatalf("dispatched %d documents, want 4", len(order))
	}
	if order[0] != first {
		t.Fatalf("unexpected first dispatch %s", order[0])
	}
	// The urgent document jumps ahead of the two still-queued bulk ones.
	if order[1] != urgentItems[0].DocumentID {
		t.Errorf("second dispatch = %s, want the urgent document", order[1])
	}
	if order[2] != bulkItems[1].DocumentID || order[3] != bulkItems[2].DocumentID {
		t.Errorf("bulk documents dispatched out of submission order: %v", order[2:])
	}
}

func TestFailedDocumentYieldsCompletedWithErrors(t *testing.T) {
	batches, docs := newMemBatches(), newMemDocs()
	runner := &fakeRunner{
		started: make(chan uuid.UUID, 8),
		release: make(chan struct{}),
		fail:    map[uuid.UUID]error{},
	}
	m := NewManager(batches, docs, runner, fixedSchema{}, Config{Workers: 1}, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	batch, err := m.Submit(context.Background(), uploads(2), "", "", 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	first := <-runner.started
	runner.mu.Lock()
	runner.fail[first] = errors.New("extraction backend down")
	runner.mu.Unlock()
	close(runner.release)

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	final, _ := batches.GetBatch(context.Background(), batch.ID)
	if final.Status != domain.BatchCompletedWithErrors {
		t.Errorf("batch status = %s, want COMPLETED_WITH_ERRORS", final.Status)
	}
}

func TestCancelStopsQueuedAndInFlightWork(t *testing.T) {
	batches, docs := newMemBatches(), newMemDocs()
	runner := &fakeRunner{started: make(chan uuid.UUID, 8), release: make(chan struct{})}
	m := NewManager(batches, docs, runner, fixedSchema{}, Config{Workers: 1}, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	batch, err := m.Submit(context.Background(), uploads(3), "", "", 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	inFlight := <-runner.started

	if _, err := m.Cancel(context.Background(), batch.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(runner.release)
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if order := runner.ran(); len(order) != 1 || order[0] != inFlight {
		t.Errorf("cancelled queued documents must not dispatch, ran %v", order)
	}
	final, items, err := m.BatchStatus(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("BatchStatus: %v", err)
	}
	if final.Status != domain.BatchCancelled {
		t.Errorf("batch status = %s, want CANCELLED", final.Status)
	}
	for _, it := range items {
		if it.Status != domain.ItemCancelled {
			t.Errorf("item %s status = %s, want CANCELLED", it.ID, it.Status)
		}
		if it.DocumentID == inFlight {
			continue
		}
		doc, _ := docs.GetByID(context.Background(), it.DocumentID)
		if doc.Status != domain.StatusCancelled {
			t.Errorf("queued document %s status = %s, want CANCELLED", doc.ID, doc.Status)
		}
	}
}

func TestStartRecoversPendingItems(t *testing.T) {
	batches, docs := newMemBatches(), newMemDocs()
	ctx := context.Background()

	batch, _ := batches.CreateBatch(ctx, domain.NewBatch("interrupted", "", 0))
	var wantDocs []uuid.UUID
	for i, status := range []domain.QueueItemStatus{domain.ItemQueued, domain.ItemRunning, domain.ItemCompleted} {
		doc, _ := docs.Create(ctx, domain.NewDocumentRecord("doc.xml", domain.SourceFormatXML, []byte("<NFe/>")))
		item := domain.QueueItem{
			ID: uuid.New(), BatchID: batch.ID, DocumentID: doc.ID,
			Status: status, EnqueuedAt: time.Now(),
		}
		if _, err := batches.CreateItem(ctx, item); err != nil {
			t.Fatalf("CreateItem %d: %v", i, err)
		}
		if !status.IsTerminal() {
			wantDocs = append(wantDocs, doc.ID)
		}
	}

	runner := &fakeRunner{}
	m := NewManager(batches, docs, runner, fixedSchema{}, Config{Workers: 1}, nil)
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	order := runner.ran()
	if len(order) != len(wantDocs) {
		t.Fatalf("recovered %d runs, want %d", len(order), len(wantDocs))
	}
	for i, id := range wantDocs {
		if order[i] != id {
			t.Errorf("recovery dispatch %d = %s, want %s", i, order[i], id)
		}
	}
}

func TestSubmitRejections(t *testing.T) {
	batches, docs := newMemBatches(), newMemDocs()
	m := NewManager(batches, docs, &fakeRunner{}, fixedSchema{}, Config{Workers: 1}, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := m.Submit(context.Background(), nil, "", "", 0); err == nil {
		t.Error("empty batch must be rejected")
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := m.Submit(context.Background(), uploads(1), "", "", 0); !errors.Is(err, domain.ErrQueueClosed) {
		t.Errorf("submit after close err = %v, want ErrQueueClosed", err)
	}
}

func TestExtractGateClampsLimit(t *testing.T) {
	def := DefaultConfig().MaxExtracting
	for _, limit := range []int64{0, -3} {
		gate := Config{MaxExtracting: limit}.ExtractGate()
		if !gate.TryAcquire(def) {
			t.Errorf("limit %d: gate must clamp to the default capacity %d", limit, def)
		}
		if gate.TryAcquire(1) {
			t.Errorf("limit %d: gate admits beyond the default capacity", limit)
		}
	}

	gate := Config{MaxExtracting: 5}.ExtractGate()
	if !gate.TryAcquire(5) || gate.TryAcquire(1) {
		t.Error("configured limit not honored")
	}
}

func TestItemHeapOrdering(t *testing.T) {
	var h itemHeap
	push := func(priority int, seq int64) {
		heap.Push(&h, domain.QueueItem{ID: uuid.New(), Priority: priority, Sequence: seq})
	}
	push(0, 1)
	push(5, 4)
	push(0, 2)
	push(5, 3)

	var got [][2]int64
	for h.Len() > 0 {
		it := heap.Pop(&h).(domain.QueueItem)
		got = append(got, [2]int64{int64(it.Priority), it.Sequence})
	}
	want := [][2]int64{{5, 3}, {5, 4}, {0, 1}, {0, 2}}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pop %d = %v, want %v", i, got[i], want[i])
		}
	}
}
