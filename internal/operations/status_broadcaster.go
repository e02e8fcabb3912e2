package operations

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"edustat/internal/infrastructure"
)

// StatusBroadcaster is the single authority for task status. It keeps the latest
// snapshot of every task in memory and writes snapshots through to the TaskStore
// and StatusPublisher on a background goroutine. Non-terminal progress writes are
// throttled per task; status transitions are always written.
type StatusBroadcaster struct {
	mu       sync.RWMutex
	tasks    map[string]*TaskSnapshot
	limiters map[string]*rate.Limiter
	written  map[string]TaskStatus

	store     TaskStore
	publisher StatusPublisher
	interval  time.Duration
	logger    *slog.Logger

	updates  chan updateRequest
	persist  chan persistItem
	stop     chan struct{}
	loopDone chan struct{}
	saveDone chan struct{}
	stopOnce sync.Once
	// guards close(persist) against a concurrent Flush
	flushMu sync.RWMutex
	stopped bool
}

// TaskSnapshot is the published state of a task
type TaskSnapshot struct {
	TaskID       string                 `json:"task_id"`
	TraceID      string                 `json:"trace_id,omitempty"`
	Kind         TaskKind               `json:"kind"`
	BatchCode    string                 `json:"batch_code"`
	SchoolID     string                 `json:"school_id,omitempty"`
	Status       TaskStatus             `json:"status"`
	Progress     float64                `json:"overall_progress"`
	CurrentStage string                 `json:"current_stage,omitempty"`
	Stages       []StageSnapshot        `json:"stage_details"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	UpdatedAt    time.Time              `json:"updated_at"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Message      string                 `json:"message,omitempty"`
	Result       map[string]interface{} `json:"result,omitempty"`
}

// StageSnapshot is the published state of one stage
type StageSnapshot struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Status      StageStatus            `json:"status"`
	Progress    float64                `json:"progress"`
	Message     string                 `json:"message,omitempty"`
	Error       string                 `json:"error,omitempty"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	DurationMS  int64                  `json:"duration_ms"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Clone returns a deep copy
func (s *TaskSnapshot) Clone() *TaskSnapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Stages = make([]StageSnapshot, len(s.Stages))
	for i, st := range s.Stages {
		c.Stages[i] = st
		if st.Metadata != nil {
			c.Stages[i].Metadata = copyMap(st.Metadata)
		}
	}
	if s.Result != nil {
		c.Result = copyMap(s.Result)
	}
	return &c
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type updateRequest struct {
	taskID     string
	updateFunc func(*TaskSnapshot)
	done       chan struct{}
}

type persistItem struct {
	snapshot *TaskSnapshot
	flushed  chan struct{}
}

// NewStatusBroadcaster creates a broadcaster. store and publisher may be nil.
func NewStatusBroadcaster(store TaskStore, publisher StatusPublisher, persistInterval time.Duration, logger *slog.Logger) *StatusBroadcaster {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	sb := &StatusBroadcaster{
		tasks:     make(map[string]*TaskSnapshot),
		limiters:  make(map[string]*rate.Limiter),
		written:   make(map[string]TaskStatus),
		store:     store,
		publisher: publisher,
		interval:  persistInterval,
		logger:    infrastructure.WithComponent(logger, "status_broadcaster"),
		updates:   make(chan updateRequest, 100),
		persist:   make(chan persistItem, 256),
		stop:      make(chan struct{}),
		loopDone:  make(chan struct{}),
		saveDone:  make(chan struct{}),
	}

	go sb.processUpdates()
	go sb.processWrites()

	return sb
}

// processUpdates applies all updates sequentially
func (sb *StatusBroadcaster) processUpdates() {
	defer close(sb.loopDone)
	for {
		select {
		case <-sb.stop:
			return
		case req := <-sb.updates:
			sb.handleUpdate(req)
		}
	}
}

// handleUpdate processes a single update request
func (sb *StatusBroadcaster) handleUpdate(req updateRequest) {
	defer close(req.done)

	sb.mu.Lock()
	snapshot, exists := sb.tasks[req.taskID]
	if !exists {
		now := time.Now()
		snapshot = &TaskSnapshot{
			TaskID:    req.taskID,
			Status:    TaskStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
			Stages:    []StageSnapshot{},
		}
		sb.tasks[req.taskID] = snapshot
	}

	req.updateFunc(snapshot)
	snapshot.UpdatedAt = time.Now()
	snapshot.Progress = OverallProgress(snapshot.Stages)
	if snapshot.Status == TaskStatusCompleted {
		snapshot.Progress = 100
	}
	if snapshot.Status.Terminal() && snapshot.CompletedAt == nil {
		now := time.Now()
		snapshot.CompletedAt = &now
	}

	write := sb.shouldWrite(snapshot)
	var out *TaskSnapshot
	if write {
		out = snapshot.Clone()
	}
	sb.mu.Unlock()

	if write {
		sb.persist <- persistItem{snapshot: out}
	}
}

// shouldWrite decides whether a snapshot goes to durable storage. Caller holds mu.
func (sb *StatusBroadcaster) shouldWrite(s *TaskSnapshot) bool {
	if last, ok := sb.written[s.TaskID]; !ok || last != s.Status {
		sb.written[s.TaskID] = s.Status
		if s.Status.Terminal() {
			delete(sb.limiters, s.TaskID)
		}
		return true
	}
	if s.Status.Terminal() {
		return true
	}
	lim, ok := sb.limiters[s.TaskID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(sb.interval), 1)
		// the status-change write above already spent this window
		lim.Allow()
		sb.limiters[s.TaskID] = lim
	}
	return lim.Allow()
}

// processWrites saves and publishes snapshots in order
func (sb *StatusBroadcaster) processWrites() {
	defer close(sb.saveDone)
	for item := range sb.persist {
		if item.flushed != nil {
			close(item.flushed)
			continue
		}
		sb.write(item.snapshot)
	}
}

func (sb *StatusBroadcaster) write(s *TaskSnapshot) {
	ctx := context.Background()
	if s.TraceID != "" {
		ctx = infrastructure.WithTraceID(ctx, s.TraceID)
	}
	if sb.store != nil {
		if err := sb.store.SaveTask(ctx, s); err != nil {
			sb.logger.ErrorContext(ctx, "task_snapshot_save_failed",
				slog.String("task_id", s.TaskID),
				slog.String("error", err.Error()))
		}
	}
	if sb.publisher != nil {
		if err := sb.publisher.Publish(ctx, s); err != nil {
			sb.logger.WarnContext(ctx, "task_snapshot_publish_failed",
				slog.String("task_id", s.TaskID),
				slog.String("error", err.Error()))
		}
	}
	sb.logger.DebugContext(ctx, "task_snapshot_written",
		slog.String("task_id", s.TaskID),
		slog.String("status", string(s.Status)),
		slog.Float64("overall_progress", s.Progress))
}

// UpdateStatus applies updateFunc to the task's snapshot and waits for it
func (sb *StatusBroadcaster) UpdateStatus(taskID string, updateFunc func(*TaskSnapshot)) {
	req := updateRequest{
		taskID:     taskID,
		updateFunc: updateFunc,
		done:       make(chan struct{}),
	}

	select {
	case sb.updates <- req:
	case <-sb.stop:
		return
	}
	select {
	case <-req.done:
	case <-sb.loopDone:
	}
}

// Sync copies the runtime task state into its snapshot
func (sb *StatusBroadcaster) Sync(task *TaskState, message string) {
	task.mu.RLock()
	status := task.Status
	createdAt := task.CreatedAt
	startTime := task.StartTime
	var errMsg string
	if task.Error != nil {
		errMsg = task.Error.Error()
	}
	stages := make([]*StageState, 0, len(task.order))
	for _, id := range task.order {
		stages = append(stages, task.Stages[id])
	}
	var results map[string]interface{}
	if len(task.results) > 0 {
		results = copyMap(task.results)
	}
	task.mu.RUnlock()

	stageSnaps := make([]StageSnapshot, len(stages))
	current := ""
	for i, st := range stages {
		stageSnaps[i] = st.snapshot()
		if stageSnaps[i].Status == StageStatusActive {
			current = stageSnaps[i].ID
		}
	}

	sb.UpdateStatus(task.ID, func(s *TaskSnapshot) {
		s.TraceID = task.TraceID
		s.Kind = task.Request.Kind
		s.BatchCode = task.Request.BatchCode
		s.SchoolID = task.Request.SchoolID
		s.Status = status
		s.CreatedAt = createdAt
		if !startTime.IsZero() {
			st := startTime
			s.StartedAt = &st
		}
		s.Stages = stageSnaps
		s.CurrentStage = current
		s.Error = errMsg
		if results != nil {
			s.Result = results
		}
		if message != "" {
			s.Message = message
		}
	})
}

// GetSnapshot returns a copy of the cached snapshot
func (sb *StatusBroadcaster) GetSnapshot(taskID string) (*TaskSnapshot, bool) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	snapshot, exists := sb.tasks[taskID]
	if !exists {
		return nil, false
	}
	return snapshot.Clone(), true
}

// Load returns the cached snapshot or, on a miss, the durable one, caching it
func (sb *StatusBroadcaster) Load(ctx context.Context, taskID string) (*TaskSnapshot, error) {
	if s, ok := sb.GetSnapshot(taskID); ok {
		return s, nil
	}
	if sb.store == nil {
		return nil, nil
	}
	s, err := sb.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	if cached, ok := sb.tasks[taskID]; ok {
		return cached.Clone(), nil
	}
	sb.tasks[taskID] = s.Clone()
	sb.written[taskID] = s.Status
	return s, nil
}

// GetAllSnapshots returns copies of all cached snapshots
func (sb *StatusBroadcaster) GetAllSnapshots() []*TaskSnapshot {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	snapshots := make([]*TaskSnapshot, 0, len(sb.tasks))
	for _, snapshot := range sb.tasks {
		snapshots = append(snapshots, snapshot.Clone())
	}
	return snapshots
}

// CleanupOldTasks drops finished tasks older than maxAge from the cache
func (sb *StatusBroadcaster) CleanupOldTasks(ctx context.Context, maxAge time.Duration) int {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, snapshot := range sb.tasks {
		if !snapshot.Status.Terminal() || snapshot.CompletedAt == nil {
			continue
		}
		if age := now.Sub(*snapshot.CompletedAt); age > maxAge {
			delete(sb.tasks, id)
			delete(sb.written, id)
			delete(sb.limiters, id)
			removed++
			sb.logger.DebugContext(ctx, "task_evicted",
				slog.String("task_id", id),
				slog.String("status", string(snapshot.Status)),
				slog.Duration("age", age))
		}
	}
	return removed
}

// Flush waits until every queued write has reached the store and publisher
func (sb *StatusBroadcaster) Flush() {
	sb.flushMu.RLock()
	if sb.stopped {
		sb.flushMu.RUnlock()
		return
	}
	item := persistItem{flushed: make(chan struct{})}
	sb.persist <- item
	sb.flushMu.RUnlock()
	<-item.flushed
}

// Stop drains pending writes and shuts the broadcaster down
func (sb *StatusBroadcaster) Stop() {
	sb.stopOnce.Do(func() {
		close(sb.stop)
		<-sb.loopDone
		sb.flushMu.Lock()
		sb.stopped = true
		close(sb.persist)
		sb.flushMu.Unlock()
		<-sb.saveDone
	})
}
