package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	uuid "github.com/satori/go.uuid"

	"github.com/medplane/medplane/internal/app/ingestor/logger"
	"github.com/medplane/medplane/internal/app/ingestor/pipeline"
	"github.com/medplane/medplane/internal/pkg/medical"
)

//Config for the batch manager
type Config struct {
	Workers           int           `yaml:"workers"`
	QueueCapacity     int           `yaml:"queuecapacity"`
	MaxBatchTotalSize int64         `yaml:"maxbatchtotalsize"`
	CallTimeout       time.Duration `yaml:"calltimeout"`
}

//ItemSpec describes one requested upload within a batch
type ItemSpec struct {
	Name    string
	Request pipeline.Request
}

//Item is the externally visible state of one batch item
type Item struct {
	ID         string                  `json:"id"`
	Name       string                  `json:"name,omitempty"`
	Status     medical.ItemStatus      `json:"status"`
	Error      string                  `json:"error,omitempty"`
	Record     *medical.MetadataRecord `json:"record,omitempty"`
	EnqueuedAt time.Time               `json:"enqueuedAt"`
	StartedAt  time.Time               `json:"startedAt,omitempty"`
	FinishedAt time.Time               `json:"finishedAt,omitempty"`
}

//Job is a point-in-time snapshot of one batch
type Job struct {
	ID             string              `json:"id"`
	Status         medical.BatchStatus `json:"status"`
	Items          []Item              `json:"items"`
	CompletedCount int                 `json:"completedCount"`
	FailedCount    int                 `json:"failedCount"`
	CancelledCount int                 `json:"cancelledCount"`
	TotalCount     int                 `json:"totalCount"`
	StartedAt      time.Time           `json:"startedAt"`
	FinishedAt     time.Time           `json:"finishedAt,omitempty"`
}

type item struct {
	id         string
	name       string
	req        pipeline.Request
	status     medical.ItemStatus
	err        string
	record     *medical.MetadataRecord
	enqueuedAt time.Time
	startedAt  time.Time
	finishedAt time.Time
}

type job struct {
	mu              sync.Mutex
	id              string
	status          medical.BatchStatus
	items           []*item
	completed       int
	failed          int
	cancelled       int
	startedAt       time.Time
	finishedAt      time.Time
	cancelRequested atomic.Bool
}

type work struct {
	j  *job
	it *item
}

//Manager schedules upload pipeline invocations onto a bounded worker pool
//and tracks per-item and aggregate batch state. It is the sole dispatcher
//onto the pool; once the queue is full, CreateBatch blocks on enqueue.
type Manager struct {
	pipe   *pipeline.Pipeline
	cfg    *Config
	queue  chan work
	jobs   map[string]*job
	mu     sync.RWMutex
	wg     sync.WaitGroup
	closed atomic.Bool
}

//NewManager creates a batch manager and starts its worker pool
func NewManager(cfg *Config, pipe *pipeline.Pipeline) *Manager {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = workers
	}
	m := &Manager{
		pipe:  pipe,
		cfg:   cfg,
		queue: make(chan work, capacity),
		jobs:  make(map[string]*job),
	}
	m.wg.Add(workers)
	for n := 0; n < workers; n++ {
		go m.worker()
	}
	return m
}

//CreateBatch validates the request, registers a new batch and enqueues its
//items. Enqueueing blocks when the pool queue is saturated; the caller
//context bounds that wait.
func (m *Manager) CreateBatch(ctx context.Context, specs []ItemSpec) (string, error) {
	if m.closed.Load() {
		return "", &medical.ValidationError{Reason: "batch manager is shut down"}
	}
	if len(specs) == 0 {
		return "", &medical.ValidationError{Reason: "batch contains no items"}
	}
	if m.cfg.MaxBatchTotalSize > 0 {
		var total int64
		for _, s := range specs {
			total += int64(len(s.Request.Payload))
		}
		if total > m.cfg.MaxBatchTotalSize {
			return "", &medical.ValidationError{Reason: "batch exceeds maximum total size"}
		}
	}

	now := time.Now().UTC()
	j := &job{
		id:        xid.New().String(),
		status:    medical.BatchRunning,
		startedAt: now,
	}
	for _, s := range specs {
		j.items = append(j.items, &item{
			id:         uuid.NewV4().String(),
			name:       s.Name,
			req:        s.Request,
			status:     medical.ItemQueued,
			enqueuedAt: now,
		})
	}

	m.mu.Lock()
	m.jobs[j.id] = j
	m.mu.Unlock()

	logger.InfoWithFields(&logger.Context{BatchID: j.id}, "batch created", map[string]interface{}{
		"items": len(j.items),
	})

	for n, it := range j.items {
		select {
		case m.queue <- work{j: j, it: it}:
		case <-ctx.Done():
			// the caller gave up waiting for queue space: cancel the batch
			// and mark everything not yet enqueued
			j.cancelRequested.Store(true)
			j.mu.Lock()
			for _, rest := range j.items[n:] {
				rest.status = medical.ItemCancelled
				rest.finishedAt = time.Now().UTC()
				j.cancelled++
			}
			j.finalizeLocked()
			j.mu.Unlock()
			return j.id, medical.WrapTimeout("batch enqueue", ctx.Err())
		}
	}
	return j.id, nil
}

//Status returns a deep snapshot of a batch
func (m *Manager) Status(batchID string) (Job, error) {
	j, err := m.lookup(batchID)
	if err != nil {
		return Job{}, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	snapshot := Job{
		ID:             j.id,
		Status:         j.status,
		CompletedCount: j.completed,
		FailedCount:    j.failed,
		CancelledCount: j.cancelled,
		TotalCount:     len(j.items),
		StartedAt:      j.startedAt,
		FinishedAt:     j.finishedAt,
		Items:          make([]Item, 0, len(j.items)),
	}
	for _, it := range j.items {
		snap := Item{
			ID:         it.id,
			Name:       it.name,
			Status:     it.status,
			Error:      it.err,
			EnqueuedAt: it.enqueuedAt,
			StartedAt:  it.startedAt,
			FinishedAt: it.finishedAt,
		}
		if it.record != nil {
			rec := *it.record
			snap.Record = &rec
		}
		snapshot.Items = append(snapshot.Items, snap)
	}
	return snapshot, nil
}

//Cancel requests cooperative cancellation of a batch. Queued items are
//skipped; items already processing run to completion. Cancelling a batch
//that already reached a terminal state is a no-op.
func (m *Manager) Cancel(batchID string) error {
	j, err := m.lookup(batchID)
	if err != nil {
		return err
	}
	j.cancelRequested.Store(true)
	logger.Info(&logger.Context{BatchID: batchID}, "batch cancellation requested")
	return nil
}

//Close drains the worker pool. Batches already enqueued finish processing
//(or are skipped if cancelled) before Close returns.
func (m *Manager) Close() {
	if m.closed.Swap(true) {
		return
	}
	close(m.queue)
	m.wg.Wait()
}

func (m *Manager) lookup(batchID string) (*job, error) {
	m.mu.RLock()
	j, ok := m.jobs[batchID]
	m.mu.RUnlock()
	if !ok {
		return nil, &medical.NotFoundError{Kind: "batch", ID: batchID}
	}
	return j, nil
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for w := range m.queue {
		m.process(w)
	}
}

func (m *Manager) process(w work) {
	j, it := w.j, w.it
	lctx := &logger.Context{BatchID: j.id, ItemID: it.id, PatientID: it.req.Metadata.PatientID}

	if j.cancelRequested.Load() {
		j.mu.Lock()
		if it.status == medical.ItemQueued {
			it.status = medical.ItemCancelled
			it.finishedAt = time.Now().UTC()
			j.cancelled++
			j.finalizeLocked()
		}
		j.mu.Unlock()
		logger.Debug(lctx, "queued item skipped by cancellation")
		return
	}

	j.mu.Lock()
	it.status = medical.ItemProcessing
	it.startedAt = time.Now().UTC()
	j.mu.Unlock()

	ctx := context.Background()
	var cancel context.CancelFunc = func() {}
	if m.cfg.CallTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, m.cfg.CallTimeout)
	}
	record, err := m.pipe.Submit(ctx, it.req)
	cancel()

	j.mu.Lock()
	it.finishedAt = time.Now().UTC()
	if err != nil {
		it.status = medical.ItemFailed
		it.err = err.Error()
		j.failed++
	} else {
		it.status = medical.ItemCompleted
		it.record = &record
		j.completed++
	}
	j.finalizeLocked()
	j.mu.Unlock()

	if err != nil {
		logger.Error(lctx, "batch item failed", err)
	} else {
		logger.Debug(lctx, "batch item completed")
	}
}

// finalizeLocked derives the batch status once every item has reached a
// terminal state. Terminal batch statuses never revert; callers must hold
// j.mu.
func (j *job) finalizeLocked() {
	if j.status != medical.BatchRunning {
		return
	}
	if j.completed+j.failed+j.cancelled < len(j.items) {
		return
	}
	switch {
	case j.cancelRequested.Load() && j.cancelled > 0:
		j.status = medical.BatchCancelled
	case j.failed > 0:
		j.status = medical.BatchFailed
	default:
		j.status = medical.BatchCompleted
	}
	j.finishedAt = time.Now().UTC()
	logger.InfoWithFields(&logger.Context{BatchID: j.id}, "batch finished", map[string]interface{}{
		"status":    j.status,
		"completed": j.completed,
		"failed":    j.failed,
		"cancelled": j.cancelled,
	})
}
