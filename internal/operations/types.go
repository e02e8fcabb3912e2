package operations

import (
	"time"
)

// TaskKind selects the stage pipeline a task runs
type TaskKind string

const (
	KindCleaning    TaskKind = "cleaning"
	KindCalculation TaskKind = "calculation"
)

// Valid reports whether the kind is known
func (k TaskKind) Valid() bool {
	return k == KindCleaning || k == KindCalculation
}

// Stage identifiers
const (
	StageIDPrecheck     = "precheck"
	StageIDCleaning     = "cleaning"
	StageIDVerification = "verification"

	StageIDDataLoading       = "data_loading"
	StageIDStatistical       = "statistical_calculation"
	StageIDResultAggregation = "result_aggregation"
)

// Stage names
const (
	StageNamePrecheck     = "Configuration Check"
	StageNameCleaning     = "Record Cleaning"
	StageNameVerification = "Cleaned Data Verification"

	StageNameDataLoading       = "Data Loading"
	StageNameStatistical       = "Statistical Calculation"
	StageNameResultAggregation = "Result Aggregation"
)

// Context keys for data handed from one stage to the next
const (
	ContextKeySubjects     = "subjects"
	ContextKeyCleanReport  = "clean_report"
	ContextKeyVerification = "verification"
	ContextKeyInputs       = "inputs"
	ContextKeyLevelResult  = "level_result"
	ContextKeyFanOut       = "fan_out"
)

// Duplicate submission policies
const (
	DuplicateCoalesce = "coalesce"
	DuplicateReject   = "reject"
)

// Published event types
const (
	EventTypeTaskSnapshot = "task:snapshot"
)

// DefaultStageTimeout is used when no per-stage timeout is configured. Zero means none.
const DefaultStageTimeout time.Duration = 0

// RetryConfig defines retry behavior for stages
type RetryConfig struct {
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
}

// NewRetryConfig returns the default retry configuration: a single attempt
func NewRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  1,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// TaskRequest asks for one cleaning or calculation run
type TaskRequest struct {
	Kind      TaskKind `json:"kind" validate:"required,oneof=cleaning calculation"`
	BatchCode string   `json:"batch_code" validate:"required"`
	// SchoolID restricts a calculation to one school. Empty means region level.
	SchoolID string `json:"school_id,omitempty" validate:"excluded_if=Kind cleaning"`
	// IncludeSchools overrides the configured school fan-out for region calculations.
	IncludeSchools *bool `json:"include_schools,omitempty"`
}

// key identifies requests that must not run concurrently
func (r TaskRequest) key() string {
	return string(r.Kind) + "|" + r.BatchCode + "|" + r.SchoolID
}

// TaskFilter selects tasks for listing
type TaskFilter struct {
	Status    TaskStatus
	Kind      TaskKind
	BatchCode string
	Since     time.Time
	Limit     int
}

// Matches reports whether the snapshot satisfies the filter
func (f TaskFilter) Matches(s *TaskSnapshot) bool {
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.Kind != "" && s.Kind != f.Kind {
		return false
	}
	if f.BatchCode != "" && s.BatchCode != f.BatchCode {
		return false
	}
	if !f.Since.IsZero() && s.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// SystemStatus summarizes the orchestrator
type SystemStatus struct {
	Pending     int `json:"pending"`
	Running     int `json:"running"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	Cancelled   int `json:"cancelled"`
	CachedTasks int `json:"cached_tasks"`
	QueueDepth  int `json:"queue_depth"`
	Workers     int `json:"workers"`
}
