package cleaning

import (
	"context"

	"edustat/pkg/contracts/domain"
)

// SourceRepository reads a batch's configuration and raw responses
type SourceRepository interface {
	ListSubjectConfigs(ctx context.Context, batchCode string) ([]domain.SubjectConfig, error)
	ListDimensionConfigs(ctx context.Context, batchCode string) ([]domain.DimensionConfig, error)
	LoadRawResponses(ctx context.Context, batchCode, subjectName string) ([]domain.RawItemResponse, error)
}

// SubjectOutput is everything cleaning writes for one subject
type SubjectOutput struct {
	SubjectName  string
	Records      []domain.CleanedRecord
	Items        []domain.QuestionnaireItemRecord
	Distribution []domain.OptionDistribution
}

// BatchWriter writes one batch's cleaned data inside a replace transaction.
// WriteSubject is atomic per subject; nothing is visible to readers before Commit.
type BatchWriter interface {
	WriteSubject(ctx context.Context, out SubjectOutput) error
	Commit() error
	Rollback() error
}

// CleanedStore opens a replace transaction that has already discarded the
// batch's previously cleaned records.
type CleanedStore interface {
	BeginReplace(ctx context.Context, batchCode string) (BatchWriter, error)
}

// CleanedReader reads cleaned records back
type CleanedReader interface {
	LoadCleanedRecords(ctx context.Context, filter domain.CleanedFilter) ([]domain.CleanedRecord, error)
}
