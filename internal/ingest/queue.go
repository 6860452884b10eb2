package ingest

import (
	"context"
	"log/slog"
	"sync"

	"github.com/receiptflow/receiptflow/internal/common"
)

// Processor handles one task to completion.
type Processor interface {
	Process(ctx context.Context, task *Task)
}

// Queue is a bounded in-memory task queue with a fixed worker pool. Enqueue
// blocks once the queue is at depth; TryEnqueue fails fast instead. Suitable
// for single-instance deployments; the fingerprint dedup key makes restarts
// safe because a re-enqueued message replays idempotently.
type Queue struct {
	tasks      chan *Task
	closeChan  chan struct{}
	wg         sync.WaitGroup
	mu         sync.RWMutex
	pipeline   Processor
	logger     *slog.Logger
	onComplete func(*Task)
	workers    int
	closed     bool
}

// NewQueue creates a queue with the given depth and worker count.
// onComplete, if non-nil, is invoked after each task finishes processing.
func NewQueue(depth, workers int, pipeline Processor, logger *slog.Logger, onComplete func(*Task)) *Queue {
	if depth <= 0 {
		depth = 64
	}
	if workers <= 0 {
		workers = 4
	}
	return &Queue{
		tasks:      make(chan *Task, depth),
		closeChan:  make(chan struct{}),
		pipeline:   pipeline,
		logger:     logger,
		onComplete: onComplete,
		workers:    workers,
	}
}

// Start launches the worker pool. Workers exit when the context is cancelled
// or the queue is stopped.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return common.ErrQueueClosed
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}

	q.logger.Info("ingest queue started",
		"workers", q.workers,
		"depth", cap(q.tasks))

	return nil
}

// Enqueue submits a task, blocking while the queue is at depth.
func (q *Queue) Enqueue(ctx context.Context, task *Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return common.ErrQueueClosed
	}

	task.Stage = StageQueued

	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return common.ErrQueueClosed
	}
}

// TryEnqueue submits a task without blocking, failing with ErrQueueFull when
// the queue is at depth.
func (q *Queue) TryEnqueue(task *Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return common.ErrQueueClosed
	}

	task.Stage = StageQueued

	select {
	case q.tasks <- task:
		return nil
	default:
		return common.ErrQueueFull
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case task := <-q.tasks:
			if task == nil {
				return
			}

			q.pipeline.Process(ctx, task)

			if q.onComplete != nil {
				q.onComplete(task)
			}
		}
	}
}

// Stop closes the queue and waits for in-flight tasks to finish. Tasks still
// buffered when Stop is called are dropped; re-submitting them later is safe.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
