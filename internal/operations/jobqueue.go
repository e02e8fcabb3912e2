package operations

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "edustat/internal/errors"
	"edustat/internal/infrastructure"
)

// JobQueue runs queued tasks on a fixed pool of workers
type JobQueue struct {
	jobs     chan *taskRun
	workers  int
	handler  func(*taskRun)
	wg       sync.WaitGroup
	logger   *slog.Logger
	shutdown chan struct{}
	once     sync.Once

	mu      sync.Mutex
	started bool
	busy    int
}

// QueueStats describes queue occupancy
type QueueStats struct {
	Depth    int `json:"depth"`
	Capacity int `json:"capacity"`
	Workers  int `json:"workers"`
	Busy     int `json:"busy"`
}

// NewJobQueue creates a queue whose workers pass each task to handler
func NewJobQueue(workers, size int, handler func(*taskRun), logger *slog.Logger) *JobQueue {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = workers * 2
	}
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	return &JobQueue{
		jobs:     make(chan *taskRun, size),
		workers:  workers,
		handler:  handler,
		logger:   infrastructure.WithComponent(logger, "jobqueue"),
		shutdown: make(chan struct{}),
	}
}

// Start begins processing tasks. Calling it twice is a no-op.
func (q *JobQueue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	q.logger.InfoContext(ctx, "job_queue_started", slog.Int("workers", q.workers))
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

// Stop signals workers to exit and waits for running tasks up to timeout
func (q *JobQueue) Stop(timeout time.Duration) error {
	q.once.Do(func() { close(q.shutdown) })

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("job_queue_stopped")
		return nil
	case <-time.After(timeout):
		q.logger.Warn("job_queue_stop_timeout", slog.Duration("timeout", timeout))
		return fmt.Errorf("timeout waiting for workers to finish")
	}
}

// Enqueue adds a task without blocking. A full queue is a conflict.
func (q *JobQueue) Enqueue(run *taskRun) error {
	select {
	case <-q.shutdown:
		return apperrors.NewConflictError("task queue is shut down")
	default:
	}

	select {
	case q.jobs <- run:
		q.logger.Debug("task_enqueued",
			slog.String("task_id", run.state.ID),
			slog.Int("depth", len(q.jobs)))
		return nil
	default:
		return apperrors.NewConflictError(fmt.Sprintf("task queue is full (capacity %d)", cap(q.jobs)))
	}
}

// Stats returns the current queue occupancy
func (q *JobQueue) Stats() QueueStats {
	q.mu.Lock()
	busy := q.busy
	q.mu.Unlock()
	return QueueStats{Depth: len(q.jobs), Capacity: cap(q.jobs), Workers: q.workers, Busy: busy}
}

func (q *JobQueue) worker(ctx context.Context, workerID int) {
	defer q.wg.Done()

	logger := q.logger.With(slog.Int("worker_id", workerID))
	logger.Debug("worker_started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker_stopped", slog.String("reason", "context"))
			return
		case <-q.shutdown:
			logger.Debug("worker_stopped", slog.String("reason", "shutdown"))
			return
		case run := <-q.jobs:
			q.process(run, logger)
		}
	}
}

// process runs one task; a panic in the handler never kills the worker
func (q *JobQueue) process(run *taskRun, logger *slog.Logger) {
	q.mu.Lock()
	q.busy++
	q.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("task_processing_panicked",
				slog.String("task_id", run.state.ID),
				slog.Any("panic", r))
		}
		q.mu.Lock()
		q.busy--
		q.mu.Unlock()
	}()

	q.handler(run)
}
