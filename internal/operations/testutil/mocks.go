package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"edustat/internal/operations"
)

// MockStage is a configurable Stage
type MockStage struct {
	IDValue   string
	NameValue string

	ExecuteFunc  func(ctx context.Context, task *operations.TaskState, report operations.ProgressFunc) error
	ValidateFunc func(task *operations.TaskState) error

	mu            sync.Mutex
	ExecuteCalls  int
	ValidateCalls int
	StartedAt     []time.Time
}

// ID returns the stage ID
func (m *MockStage) ID() string {
	return m.IDValue
}

// Name returns the stage name
func (m *MockStage) Name() string {
	return m.NameValue
}

// Execute runs ExecuteFunc, or succeeds
func (m *MockStage) Execute(ctx context.Context, task *operations.TaskState, report operations.ProgressFunc) error {
	m.mu.Lock()
	m.ExecuteCalls++
	m.StartedAt = append(m.StartedAt, time.Now())
	m.mu.Unlock()

	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, task, report)
	}
	report(100, "done")
	return nil
}

// Validate runs ValidateFunc, or passes
func (m *MockStage) Validate(task *operations.TaskState) error {
	m.mu.Lock()
	m.ValidateCalls++
	m.mu.Unlock()

	if m.ValidateFunc != nil {
		return m.ValidateFunc(task)
	}
	return nil
}

// GetExecuteCalls returns the number of Execute calls
func (m *MockStage) GetExecuteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ExecuteCalls
}

// CreateSuccessfulStage returns a stage that reports 50 then 100 and succeeds
func CreateSuccessfulStage(id, name string) *MockStage {
	return &MockStage{
		IDValue:   id,
		NameValue: name,
		ExecuteFunc: func(ctx context.Context, task *operations.TaskState, report operations.ProgressFunc) error {
			report(50, "halfway")
			report(100, "done")
			return nil
		},
	}
}

// CreateFailingStage returns a stage that fails with err
func CreateFailingStage(id, name string, err error) *MockStage {
	if err == nil {
		err = errors.New("stage failed")
	}
	return &MockStage{
		IDValue:   id,
		NameValue: name,
		ExecuteFunc: func(ctx context.Context, task *operations.TaskState, report operations.ProgressFunc) error {
			return err
		},
	}
}

// CreateBlockingStage returns a stage that signals started, then waits for release.
// It does not watch its context, like a strategy call that cannot be interrupted.
func CreateBlockingStage(id, name string) (stage *MockStage, started <-chan struct{}, release chan<- struct{}) {
	s := make(chan struct{})
	r := make(chan struct{})
	var once sync.Once
	stage = &MockStage{
		IDValue:   id,
		NameValue: name,
		ExecuteFunc: func(ctx context.Context, task *operations.TaskState, report operations.ProgressFunc) error {
			once.Do(func() { close(s) })
			<-r
			report(100, "released")
			return nil
		},
	}
	return stage, s, r
}

// CreateFlakyStage returns a stage that fails with err for the first failures calls
func CreateFlakyStage(id, name string, failures int, err error) *MockStage {
	var calls int
	var mu sync.Mutex
	return &MockStage{
		IDValue:   id,
		NameValue: name,
		ExecuteFunc: func(ctx context.Context, task *operations.TaskState, report operations.ProgressFunc) error {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n <= failures {
				return err
			}
			report(100, "recovered")
			return nil
		},
	}
}

// MockPublisher records published snapshots
type MockPublisher struct {
	mu        sync.Mutex
	Snapshots []*operations.TaskSnapshot
	Err       error
}

// Publish records a copy of the snapshot
func (p *MockPublisher) Publish(ctx context.Context, snapshot *operations.TaskSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Snapshots = append(p.Snapshots, snapshot.Clone())
	return p.Err
}

// ForTask returns the snapshots published for one task, in order
func (p *MockPublisher) ForTask(taskID string) []*operations.TaskSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*operations.TaskSnapshot
	for _, s := range p.Snapshots {
		if s.TaskID == taskID {
			out = append(out, s)
		}
	}
	return out
}

// Statuses returns the sequence of distinct statuses published for a task
func (p *MockPublisher) Statuses(taskID string) []operations.TaskStatus {
	var out []operations.TaskStatus
	for _, s := range p.ForTask(taskID) {
		if len(out) == 0 || out[len(out)-1] != s.Status {
			out = append(out, s.Status)
		}
	}
	return out
}
