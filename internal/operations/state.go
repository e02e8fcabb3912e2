package operations

import (
	"sync"
	"time"
)

// TaskStatus is the lifecycle status of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether no further transition is possible
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// TaskState is the in-process runtime state of one task. Stages read their inputs
// from Request and hand data to later stages through Context.
type TaskState struct {
	mu sync.RWMutex

	ID        string
	TraceID   string
	Request   TaskRequest
	Status    TaskStatus
	CreatedAt time.Time
	StartTime time.Time
	EndTime   *time.Time

	Stages  map[string]*StageState
	order   []string
	Context map[string]interface{}
	results map[string]interface{}

	Error error
}

// NewTaskState creates a pending task state
func NewTaskState(id string, req TaskRequest) *TaskState {
	return &TaskState{
		ID:        id,
		Request:   req,
		Status:    TaskStatusPending,
		CreatedAt: time.Now(),
		Stages:    make(map[string]*StageState),
		Context:   make(map[string]interface{}),
		results:   make(map[string]interface{}),
	}
}

// Start marks the task as running
func (t *TaskState) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Status = TaskStatusRunning
	t.StartTime = time.Now()
}

// Complete marks the task as completed
func (t *TaskState) Complete() {
	t.finish(TaskStatusCompleted, nil)
}

// Fail marks the task as failed
func (t *TaskState) Fail(err error) {
	t.finish(TaskStatusFailed, err)
}

// Cancel marks the task as cancelled
func (t *TaskState) Cancel() {
	t.finish(TaskStatusCancelled, nil)
}

func (t *TaskState) finish(status TaskStatus, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.EndTime = &now
	t.Status = status
	t.Error = err
}

// GetStatus returns the current status
func (t *TaskState) GetStatus() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Status
}

// AddStage appends a stage in execution order
func (t *TaskState) AddStage(state *StageState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.Stages[state.ID]; !exists {
		t.order = append(t.order, state.ID)
	}
	t.Stages[state.ID] = state
}

// GetStage returns the state of a specific stage
func (t *TaskState) GetStage(stageID string) *StageState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Stages[stageID]
}

// StageOrder returns the stage ids in execution order
func (t *TaskState) StageOrder() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.order...)
}

// GetContext retrieves a value handed over by an earlier stage
func (t *TaskState) GetContext(key string) (interface{}, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	val, ok := t.Context[key]
	return val, ok
}

// SetContext stores a value for later stages
func (t *TaskState) SetContext(key string, value interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Context[key] = value
}

// SetResult records a summary value published on the task snapshot
func (t *TaskState) SetResult(key string, value interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results[key] = value
}

// Duration returns the elapsed run time
func (t *TaskState) Duration() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.StartTime.IsZero() {
		return 0
	}
	if t.EndTime != nil {
		return t.EndTime.Sub(t.StartTime)
	}
	return time.Since(t.StartTime)
}

// ContextValue reads a typed value from the task context
func ContextValue[T any](t *TaskState, key string) (T, bool) {
	var zero T
	raw, ok := t.GetContext(key)
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	return v, ok
}
