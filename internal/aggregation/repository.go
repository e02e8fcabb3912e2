package aggregation

import (
	"context"

	"edustat/pkg/contracts/domain"
)

// ConfigReader reads a batch's subject and dimension configuration
type ConfigReader interface {
	ListSubjectConfigs(ctx context.Context, batchCode string) ([]domain.SubjectConfig, error)
	ListDimensionConfigs(ctx context.Context, batchCode string) ([]domain.DimensionConfig, error)
}

// CleanedReader reads cleaned records. Invalid records are excluded unless the
// filter asks for them.
type CleanedReader interface {
	LoadCleanedRecords(ctx context.Context, filter domain.CleanedFilter) ([]domain.CleanedRecord, error)
	ListSchools(ctx context.Context, batchCode string) ([]domain.School, error)
}

// ResultSink stores statistics. ReplaceStatistics drops every existing row of
// (batch, level, school) before writing.
type ResultSink interface {
	ReplaceStatistics(ctx context.Context, batchCode string, level domain.AggregationLevel, schoolID string, stats []domain.StatisticsRecord) error
}
