package operations

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Stage is one ordered step of a task pipeline
type Stage interface {
	// ID returns the unique identifier for this stage
	ID() string

	// Name returns the human-readable name for this stage
	Name() string

	// Execute runs the stage. report publishes progress in [0,100] scoped to this stage.
	Execute(ctx context.Context, task *TaskState, report ProgressFunc) error

	// Validate checks that the stage can run with the current task state
	Validate(task *TaskState) error
}

// ProgressFunc reports stage-scoped progress
type ProgressFunc func(progress float64, message string)

// StageStatus represents the current status of a stage
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusActive    StageStatus = "active"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
	StageStatusSkipped   StageStatus = "skipped"
)

// StageState represents the runtime state of a stage
type StageState struct {
	mu        sync.RWMutex
	ID        string
	Name      string
	Status    StageStatus
	StartTime *time.Time
	EndTime   *time.Time
	Progress  float64
	Message   string
	Error     error
	Metadata  map[string]interface{}
}

// NewStageState creates a pending stage state
func NewStageState(id, name string) *StageState {
	return &StageState{
		ID:       id,
		Name:     name,
		Status:   StageStatusPending,
		Metadata: make(map[string]interface{}),
	}
}

// Start marks the stage as active
func (s *StageState) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.StartTime = &now
	s.EndTime = nil
	s.Status = StageStatusActive
	s.Progress = 0
	s.Error = nil
}

// Complete marks the stage as completed
func (s *StageState) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.EndTime = &now
	s.Status = StageStatusCompleted
	s.Progress = 100
}

// Fail marks the stage as failed with the given error
func (s *StageState) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.EndTime = &now
	s.Status = StageStatusFailed
	s.Error = err
}

// Skip marks the stage as skipped with the given reason
func (s *StageState) Skip(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Status = StageStatusSkipped
	s.Message = reason
}

// UpdateProgress clamps progress to [0,100] and never moves it backwards
func (s *StageState) UpdateProgress(progress float64, message string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	progress = clampProgress(progress)
	if progress > s.Progress {
		s.Progress = progress
	}
	if message != "" {
		s.Message = message
	}
	return s.Progress
}

// SetMetadata records a value shown on the stage snapshot
func (s *StageState) SetMetadata(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Metadata[key] = value
}

// GetStatus returns the current status
func (s *StageState) GetStatus() StageStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status
}

// Duration returns the elapsed stage time
func (s *StageState) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.StartTime == nil {
		return 0
	}
	if s.EndTime != nil {
		return s.EndTime.Sub(*s.StartTime)
	}
	return time.Since(*s.StartTime)
}

// snapshot copies the stage into its published form
func (s *StageState) snapshot() StageSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := StageSnapshot{
		ID:          s.ID,
		Name:        s.Name,
		Status:      s.Status,
		Progress:    s.Progress,
		Message:     s.Message,
		StartedAt:   s.StartTime,
		CompletedAt: s.EndTime,
	}
	if s.StartTime != nil {
		end := time.Now()
		if s.EndTime != nil {
			end = *s.EndTime
		}
		snap.DurationMS = end.Sub(*s.StartTime).Milliseconds()
	}
	if s.Error != nil {
		snap.Error = s.Error.Error()
	}
	if len(s.Metadata) > 0 {
		snap.Metadata = make(map[string]interface{}, len(s.Metadata))
		for k, v := range s.Metadata {
			snap.Metadata[k] = v
		}
	}
	return snap
}

// BaseStage provides the identity half of a Stage
type BaseStage struct {
	id   string
	name string
}

// NewBaseStage creates a new base stage
func NewBaseStage(id, name string) BaseStage {
	return BaseStage{id: id, name: name}
}

// ID returns the stage ID
func (b *BaseStage) ID() string {
	if b == nil {
		return ""
	}
	return b.id
}

// Name returns the stage name
func (b *BaseStage) Name() string {
	if b == nil {
		return ""
	}
	return b.name
}

// Validate provides a default validation that always passes
func (b *BaseStage) Validate(task *TaskState) error {
	if b == nil {
		return fmt.Errorf("BaseStage is nil")
	}
	return nil
}

func clampProgress(p float64) float64 {
	switch {
	case p != p || p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
