package operations

import (
	"time"

	"edustat/internal/config"
)

// Config represents the task orchestrator configuration
type Config struct {
	// Number of queue workers, each running one task at a time
	Workers int `json:"workers"`

	// Capacity of the pending-task queue
	QueueSize int `json:"queue_size"`

	// What to do when a task for the same (kind, batch, school) is already active
	DuplicatePolicy string `json:"duplicate_policy"`

	// Bounded concurrency of per-school sub-computations
	SchoolConcurrency int `json:"school_concurrency"`

	// Whether region calculations fan out to schools by default
	IncludeSchools bool `json:"include_schools"`

	// Stage-specific timeouts; zero disables the timeout
	StageTimeouts map[string]time.Duration `json:"stage_timeouts"`

	// Retry configuration for stages
	RetryConfig RetryConfig `json:"retry_config"`

	// Minimum interval between durable writes of non-terminal snapshots
	PersistInterval time.Duration `json:"persist_interval"`

	// How long finished tasks stay in the in-memory cache
	RetainFinished time.Duration `json:"retain_finished"`
}

// NewConfig returns the default orchestrator configuration
func NewConfig() *Config {
	return &Config{
		Workers:           2,
		QueueSize:         64,
		DuplicatePolicy:   DuplicateCoalesce,
		SchoolConcurrency: 4,
		IncludeSchools:    true,
		StageTimeouts:     make(map[string]time.Duration),
		RetryConfig:       NewRetryConfig(),
		PersistInterval:   time.Second,
		RetainFinished:    time.Hour,
	}
}

// ConfigFrom maps the application task settings onto a Config
func ConfigFrom(c config.TasksConfig) *Config {
	cfg := NewConfig()
	if c.QueueWorkers > 0 {
		cfg.Workers = c.QueueWorkers
	}
	if c.QueueSize > 0 {
		cfg.QueueSize = c.QueueSize
	}
	if c.DuplicatePolicy != "" {
		cfg.DuplicatePolicy = c.DuplicatePolicy
	}
	if c.SchoolConcurrency > 0 {
		cfg.SchoolConcurrency = c.SchoolConcurrency
	}
	cfg.IncludeSchools = c.IncludeSchools
	if c.MaxAttempts > 0 {
		cfg.RetryConfig.MaxAttempts = c.MaxAttempts
	}
	if c.RetryDelay > 0 {
		cfg.RetryConfig.InitialDelay = c.RetryDelay
	}
	if c.StageTimeout > 0 {
		for _, id := range []string{StageIDPrecheck, StageIDCleaning, StageIDVerification, StageIDDataLoading, StageIDStatistical, StageIDResultAggregation} {
			cfg.StageTimeouts[id] = c.StageTimeout
		}
	}
	if c.PersistInterval > 0 {
		cfg.PersistInterval = c.PersistInterval
	}
	if c.RetainFinished > 0 {
		cfg.RetainFinished = c.RetainFinished
	}
	return cfg
}

// GetStageTimeout returns the timeout for a specific stage
func (c *Config) GetStageTimeout(stageID string) time.Duration {
	if timeout, ok := c.StageTimeouts[stageID]; ok {
		return timeout
	}
	return DefaultStageTimeout
}

// SetStageTimeout sets the timeout for a specific stage
func (c *Config) SetStageTimeout(stageID string, timeout time.Duration) {
	if c.StageTimeouts == nil {
		c.StageTimeouts = make(map[string]time.Duration)
	}
	c.StageTimeouts[stageID] = timeout
}
