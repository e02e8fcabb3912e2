package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	apperrors "edustat/internal/errors"
	"edustat/internal/infrastructure"
)

// Manager orchestrates cleaning and calculation tasks
type Manager struct {
	pipelines   map[TaskKind]*Registry
	config      *Config
	store       TaskStore
	broadcaster *StatusBroadcaster
	queue       *JobQueue
	validate    *validator.Validate
	metrics     *infrastructure.BusinessMetrics
	logger      *slog.Logger

	// Active (pending or running) tasks
	mu     sync.RWMutex
	tasks  map[string]*taskRun
	active map[string]string // request key -> task id
}

// taskRun is one scheduled execution
type taskRun struct {
	mu      sync.Mutex
	state   *TaskState
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	ended   bool
	done    chan struct{}
}

// NewManager creates a task manager. store and publisher may be nil; metrics may be nil.
func NewManager(cfg *Config, store TaskStore, publisher StatusPublisher, logger *slog.Logger, metrics *infrastructure.BusinessMetrics) *Manager {
	if cfg == nil {
		cfg = NewConfig()
	}
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	m := &Manager{
		pipelines:   make(map[TaskKind]*Registry),
		config:      cfg,
		store:       store,
		broadcaster: NewStatusBroadcaster(store, publisher, cfg.PersistInterval, logger),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		metrics:     metrics,
		logger:      infrastructure.WithComponent(logger, "operations"),
		tasks:       make(map[string]*taskRun),
		active:      make(map[string]string),
	}
	m.queue = NewJobQueue(cfg.Workers, cfg.QueueSize, m.execute, logger)
	return m
}

// RegisterStage appends a stage to the pipeline of a task kind
func (m *Manager) RegisterStage(kind TaskKind, stage Stage) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown task kind %q", kind)
	}
	registry, ok := m.pipelines[kind]
	if !ok {
		registry = NewRegistry()
		m.pipelines[kind] = registry
	}
	return registry.Register(stage)
}

// GetRegistry returns the stage registry of a task kind
func (m *Manager) GetRegistry(kind TaskKind) *Registry {
	return m.pipelines[kind]
}

// GetBroadcaster returns the status broadcaster
func (m *Manager) GetBroadcaster() *StatusBroadcaster {
	return m.broadcaster
}

// GetConfig returns the current configuration
func (m *Manager) GetConfig() *Config {
	return m.config
}

// Start starts the queue workers and the cache janitor
func (m *Manager) Start(ctx context.Context) {
	m.queue.Start(ctx)
	go m.janitor(ctx)
}

// Stop cancels active tasks and waits for workers up to timeout
func (m *Manager) Stop(timeout time.Duration) error {
	m.mu.RLock()
	for _, run := range m.tasks {
		run.cancel()
	}
	m.mu.RUnlock()

	err := m.queue.Stop(timeout)
	m.broadcaster.Stop()
	return err
}

// Submit validates and queues a task. A request matching an active task is
// coalesced into it or rejected, depending on the duplicate policy.
func (m *Manager) Submit(ctx context.Context, req TaskRequest) (*TaskSnapshot, error) {
	run, existing, err := m.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	if err := m.queue.Enqueue(run); err != nil {
		m.finish(run, func() {
			skipPending(run.state, "task not queued")
			run.state.Fail(err)
		}, "task could not be queued")
		return nil, err
	}
	snap, _ := m.broadcaster.GetSnapshot(run.state.ID)
	return snap, nil
}

// Execute runs a task on the calling goroutine and returns its final snapshot
func (m *Manager) Execute(ctx context.Context, req TaskRequest) (*TaskSnapshot, error) {
	run, existing, err := m.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return m.Wait(ctx, existing.TaskID)
	}

	if ctx.Err() != nil {
		run.cancel()
	}
	stop := context.AfterFunc(ctx, run.cancel)
	defer stop()

	m.execute(run)
	m.broadcaster.Flush()
	snap, _ := m.broadcaster.GetSnapshot(run.state.ID)
	return snap, nil
}

// prepare registers a pending task, or returns the active duplicate
func (m *Manager) prepare(ctx context.Context, req TaskRequest) (*taskRun, *TaskSnapshot, error) {
	if err := m.validate.Struct(req); err != nil {
		return nil, nil, apperrors.NewDataValidationError(fmt.Sprintf("invalid task request: %v", err))
	}
	registry, ok := m.pipelines[req.Kind]
	if !ok || registry.Count() == 0 {
		return nil, nil, apperrors.NewConfigError(fmt.Sprintf("no stages registered for %s tasks", req.Kind), nil)
	}

	m.mu.Lock()
	if id, busy := m.active[req.key()]; busy {
		m.mu.Unlock()
		if m.config.DuplicatePolicy == DuplicateReject {
			return nil, nil, apperrors.NewConflictError(fmt.Sprintf("%s task %s already active for batch %s", req.Kind, id, req.BatchCode)).
				WithContext("task_id", id)
		}
		m.logger.InfoContext(ctx, "task_coalesced",
			slog.String("task_id", id),
			slog.String("kind", string(req.Kind)),
			slog.String("batch_code", req.BatchCode))
		snap, _ := m.broadcaster.GetSnapshot(id)
		if snap == nil {
			snap = &TaskSnapshot{TaskID: id, Kind: req.Kind, BatchCode: req.BatchCode, SchoolID: req.SchoolID, Status: TaskStatusPending}
		}
		return nil, snap, nil
	}

	ctx = infrastructure.EnsureTraceID(ctx)
	state := NewTaskState(uuid.NewString(), req)
	state.TraceID = infrastructure.GetTraceID(ctx)
	for _, stage := range registry.List() {
		state.AddStage(NewStageState(stage.ID(), stage.Name()))
	}

	// Runs outlive the submitting request; only the trace id is carried over.
	runCtx, cancel := context.WithCancel(infrastructure.WithTraceID(context.Background(), state.TraceID))
	run := &taskRun{state: state, ctx: runCtx, cancel: cancel, done: make(chan struct{})}
	m.tasks[state.ID] = run
	m.active[req.key()] = state.ID
	m.mu.Unlock()

	m.broadcaster.Sync(state, "task queued")
	m.logger.InfoContext(ctx, "task_submitted",
		slog.String("task_id", state.ID),
		slog.String("kind", string(req.Kind)),
		slog.String("batch_code", req.BatchCode),
		slog.String("school_id", req.SchoolID))
	return run, nil, nil
}

// execute runs every stage of a task in order
func (m *Manager) execute(run *taskRun) {
	task := run.state
	ctx := run.ctx

	run.mu.Lock()
	if run.ended {
		run.mu.Unlock()
		return
	}
	run.started = true
	run.mu.Unlock()

	if ctx.Err() != nil {
		m.finish(run, func() {
			skipPending(task, "task cancelled")
			task.Cancel()
		}, "task cancelled before start")
		return
	}

	ctx, span := startTaskSpan(ctx, task)
	task.Start()
	m.metrics.RecordActiveTask(ctx, 1)
	m.broadcaster.Sync(task, "task started")
	m.logTaskStart(ctx, task)

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = NewFatalError(fmt.Sprintf("task panicked: %v", r), nil)
				for _, id := range task.StageOrder() {
					if st := task.GetStage(id); st != nil && st.GetStatus() == StageStatusActive {
						st.Fail(err)
					}
				}
				skipPending(task, "task failed")
			}
		}()
		err = m.runStages(ctx, task, m.pipelines[task.Request.Kind].List())
	}()

	m.metrics.RecordActiveTask(ctx, -1)
	switch {
	case err == nil:
		m.finish(run, task.Complete, "task completed")
	case IsCancellation(err):
		m.finish(run, task.Cancel, "task cancelled")
	default:
		m.finish(run, func() { task.Fail(err) }, "task failed")
	}
	endSpan(span, err)
}

// runStages executes stages sequentially. Cancellation is observed between stages.
func (m *Manager) runStages(ctx context.Context, task *TaskState, stages []Stage) error {
	for i, stage := range stages {
		if ctx.Err() != nil {
			m.logger.WarnContext(ctx, "task_cancelled",
				slog.String("task_id", task.ID),
				slog.String("stage", stage.ID()))
			m.skipRemaining(task, stages[i:], "task cancelled")
			return NewCancellationError(stage.ID())
		}

		m.logger.InfoContext(ctx, "executing_stage",
			slog.String("task_id", task.ID),
			slog.String("stage", stage.ID()),
			slog.Int("stage_number", i+1),
			slog.Int("total_stages", len(stages)))

		if err := m.executeStage(ctx, task, stage); err != nil {
			reason := fmt.Sprintf("previous stage %s did not complete", stage.ID())
			m.skipRemaining(task, stages[i+1:], reason)
			return err
		}
	}
	return nil
}

// executeStage executes a single stage with timeout and retry
func (m *Manager) executeStage(ctx context.Context, task *TaskState, stage Stage) error {
	stageState := task.GetStage(stage.ID())
	if stageState == nil {
		return NewFatalError("stage state not found", nil)
	}

	if err := stage.Validate(task); err != nil {
		m.logger.WarnContext(ctx, "stage_validation_failed",
			slog.String("task_id", task.ID),
			slog.String("stage", stage.ID()),
			slog.String("error", err.Error()))
		verr := NewValidationError(stage.ID(), err.Error())
		stageState.Fail(verr)
		m.broadcaster.Sync(task, "")
		return verr
	}

	timeout := m.config.GetStageTimeout(stage.ID())
	retry := m.config.RetryConfig
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}

	report := func(progress float64, message string) {
		p := stageState.UpdateProgress(progress, message)
		m.logStageProgress(ctx, task.ID, stage.ID(), p, message)
		m.broadcaster.Sync(task, "")
	}

	var lastErr error
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		stageCtx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			stageCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		stageCtx, span := startStageSpan(stageCtx, task, stage.ID(), attempt)

		stageState.Start()
		m.broadcaster.Sync(task, "")
		m.logStageStart(stageCtx, task.ID, stage.ID(), attempt)

		start := time.Now()
		err := stage.Execute(stageCtx, task, report)
		duration := time.Since(start)
		timedOut := timeout > 0 && errors.Is(stageCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()
		endSpan(span, err)
		m.metrics.RecordStage(ctx, string(task.Request.Kind), stage.ID(), duration, err == nil)

		if err == nil {
			stageState.Complete()
			m.broadcaster.Sync(task, "")
			m.logStageComplete(ctx, task.ID, stage.ID(), duration)
			return nil
		}

		m.logStageError(ctx, task.ID, stage.ID(), err)
		lastErr = err

		switch {
		case ctx.Err() != nil || IsCancellation(err):
			cerr := NewCancellationError(stage.ID())
			cerr.Cause = err
			stageState.Fail(cerr)
			m.broadcaster.Sync(task, "")
			return cerr
		case timedOut:
			terr := NewTimeoutError(stage.ID(), timeout.String())
			terr.Cause = err
			stageState.Fail(terr)
			m.broadcaster.Sync(task, "")
			return terr
		}

		if !IsRetryable(err) || attempt >= retry.MaxAttempts {
			break
		}

		delay := m.calculateRetryDelay(attempt, retry)
		m.logger.WarnContext(ctx, "stage_retry",
			slog.String("task_id", task.ID),
			slog.String("stage", stage.ID()),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", retry.MaxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			cerr := NewCancellationError(stage.ID())
			stageState.Fail(cerr)
			m.broadcaster.Sync(task, "")
			return cerr
		}
	}

	stageState.Fail(lastErr)
	m.broadcaster.Sync(task, "")
	return WrapError(lastErr, stage.ID(), "stage execution failed")
}

// skipRemaining marks stages that will not run
func (m *Manager) skipRemaining(task *TaskState, stages []Stage, reason string) {
	if len(stages) == 0 {
		return
	}
	for _, stage := range stages {
		if st := task.GetStage(stage.ID()); st != nil && st.GetStatus() == StageStatusPending {
			st.Skip(reason)
		}
	}
	m.broadcaster.Sync(task, "")
}

// skipPending marks every stage that has not run as skipped
func skipPending(task *TaskState, reason string) {
	for _, id := range task.StageOrder() {
		if st := task.GetStage(id); st != nil && st.GetStatus() == StageStatusPending {
			st.Skip(reason)
		}
	}
}

// calculateRetryDelay grows the delay linearly by the multiplier, capped at MaxDelay
func (m *Manager) calculateRetryDelay(attempt int, config RetryConfig) time.Duration {
	delay := time.Duration(float64(config.InitialDelay) * (1 + float64(attempt-1)*config.Multiplier))
	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}
	return delay
}

// finish applies the terminal transition exactly once and releases the task
func (m *Manager) finish(run *taskRun, transition func(), message string) {
	run.mu.Lock()
	if run.ended {
		run.mu.Unlock()
		return
	}
	run.ended = true
	run.mu.Unlock()

	task := run.state
	transition()
	m.broadcaster.Sync(task, message)

	status := task.GetStatus()
	m.metrics.RecordTask(run.ctx, string(task.Request.Kind), string(status), task.Duration())
	m.logTaskComplete(run.ctx, task, status)

	m.mu.Lock()
	delete(m.tasks, task.ID)
	if m.active[task.Request.key()] == task.ID {
		delete(m.active, task.Request.key())
	}
	m.mu.Unlock()

	run.cancel()
	close(run.done)
}

// Wait blocks until the task reaches a terminal status
func (m *Manager) Wait(ctx context.Context, id string) (*TaskSnapshot, error) {
	m.mu.RLock()
	run, ok := m.tasks[id]
	m.mu.RUnlock()
	if ok {
		select {
		case <-run.done:
		case <-ctx.Done():
			return nil, apperrors.NewCancelledError(fmt.Sprintf("waiting for task %s", id))
		}
	}
	return m.GetTask(ctx, id)
}

// GetTask returns the latest snapshot of a task
func (m *Manager) GetTask(ctx context.Context, id string) (*TaskSnapshot, error) {
	snap, err := m.broadcaster.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("task %s", id))
	}
	return snap, nil
}

// ListTasks returns snapshots matching filter, newest first. Cached snapshots
// take precedence over durable ones.
func (m *Manager) ListTasks(ctx context.Context, filter TaskFilter) ([]*TaskSnapshot, error) {
	byID := make(map[string]*TaskSnapshot)
	if m.store != nil {
		stored, err := m.store.ListTasks(ctx, TaskFilter{Status: filter.Status, Kind: filter.Kind, BatchCode: filter.BatchCode, Since: filter.Since})
		if err != nil {
			return nil, err
		}
		for _, s := range stored {
			byID[s.TaskID] = s
		}
	}
	for _, s := range m.broadcaster.GetAllSnapshots() {
		byID[s.TaskID] = s
	}

	out := make([]*TaskSnapshot, 0, len(byID))
	for _, s := range byID {
		if filter.Matches(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].TaskID < out[j].TaskID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Cancel requests cooperative cancellation. A pending task is cancelled at once;
// a running one stops before its next stage.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.RLock()
	run, ok := m.tasks[id]
	m.mu.RUnlock()
	if !ok {
		snap, err := m.GetTask(ctx, id)
		if err != nil {
			return err
		}
		return apperrors.NewConflictError(fmt.Sprintf("task %s already %s", id, snap.Status))
	}

	m.logger.InfoContext(ctx, "task_cancel_requested", slog.String("task_id", id))
	run.mu.Lock()
	started := run.started
	run.mu.Unlock()

	run.cancel()
	if !started {
		m.finish(run, func() {
			skipPending(run.state, "task cancelled")
			run.state.Cancel()
		}, "task cancelled before start")
	}
	return nil
}

// CancelBatch cancels every active task of a batch and returns how many were signalled
func (m *Manager) CancelBatch(ctx context.Context, batchCode string) int {
	m.mu.RLock()
	var ids []string
	for id, run := range m.tasks {
		if run.state.Request.BatchCode == batchCode {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	n := 0
	for _, id := range ids {
		if err := m.Cancel(ctx, id); err == nil {
			n++
		}
	}
	return n
}

// SystemStatus counts cached tasks by status
func (m *Manager) SystemStatus() SystemStatus {
	snaps := m.broadcaster.GetAllSnapshots()
	stats := m.queue.Stats()
	status := SystemStatus{CachedTasks: len(snaps), QueueDepth: stats.Depth, Workers: stats.Workers}
	for _, s := range snaps {
		switch s.Status {
		case TaskStatusPending:
			status.Pending++
		case TaskStatusRunning:
			status.Running++
		case TaskStatusCompleted:
			status.Completed++
		case TaskStatusFailed:
			status.Failed++
		case TaskStatusCancelled:
			status.Cancelled++
		}
	}
	return status
}

// Recover marks tasks left pending or running by a previous process as failed
func (m *Manager) Recover(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	var stale []*TaskSnapshot
	for _, status := range []TaskStatus{TaskStatusRunning, TaskStatusPending} {
		found, err := m.store.ListTasks(ctx, TaskFilter{Status: status})
		if err != nil {
			return 0, err
		}
		stale = append(stale, found...)
	}

	recovered := 0
	for _, s := range stale {
		m.mu.RLock()
		_, live := m.tasks[s.TaskID]
		m.mu.RUnlock()
		if live {
			continue
		}

		now := time.Now()
		s.Status = TaskStatusFailed
		s.Error = "interrupted by restart"
		s.CurrentStage = ""
		s.UpdatedAt = now
		s.CompletedAt = &now
		for i := range s.Stages {
			if s.Stages[i].Status == StageStatusActive {
				s.Stages[i].Status = StageStatusFailed
				s.Stages[i].Error = "interrupted by restart"
			}
		}
		if err := m.store.SaveTask(ctx, s); err != nil {
			return recovered, err
		}
		recovered++
		m.logger.WarnContext(ctx, "task_recovered",
			slog.String("task_id", s.TaskID),
			slog.String("kind", string(s.Kind)),
			slog.String("batch_code", s.BatchCode))
	}
	return recovered, nil
}

// janitor evicts finished tasks from the cache
func (m *Manager) janitor(ctx context.Context) {
	interval := m.config.RetainFinished / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.broadcaster.CleanupOldTasks(ctx, m.config.RetainFinished); n > 0 {
				m.logger.InfoContext(ctx, "task_cache_cleaned", slog.Int("removed", n))
			}
		}
	}
}
