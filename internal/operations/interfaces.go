package operations

import (
	"context"

	"edustat/internal/aggregation"
	"edustat/internal/cleaning"
	"edustat/pkg/contracts/domain"
)

// TaskStore keeps task snapshots durably so status survives restarts
type TaskStore interface {
	SaveTask(ctx context.Context, snapshot *TaskSnapshot) error
	GetTask(ctx context.Context, id string) (*TaskSnapshot, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*TaskSnapshot, error)
}

// StatusPublisher pushes snapshots to pollers
type StatusPublisher interface {
	Publish(ctx context.Context, snapshot *TaskSnapshot) error
}

// BatchCleaner runs the cleaning pipeline of a batch
type BatchCleaner interface {
	CleanBatch(ctx context.Context, batchCode string, progress cleaning.ProgressFunc) (*cleaning.Report, error)
}

// ConfigSource reads batch configuration for the precheck stage
type ConfigSource interface {
	ListSubjectConfigs(ctx context.Context, batchCode string) ([]domain.SubjectConfig, error)
	ListDimensionConfigs(ctx context.Context, batchCode string) ([]domain.DimensionConfig, error)
}

// Aggregator computes and persists statistics for calculation tasks
type Aggregator interface {
	ListSchools(ctx context.Context, batchCode string) ([]domain.School, error)
	LoadInputs(ctx context.Context, target aggregation.Target) (*aggregation.Inputs, error)
	Compute(ctx context.Context, in *aggregation.Inputs, progress func(done, total int)) *aggregation.LevelResult
	Persist(ctx context.Context, res *aggregation.LevelResult) error
	FanOutSchools(ctx context.Context, batchCode string, concurrency int, progress func(done, total int)) (*aggregation.FanOutResult, error)
}
