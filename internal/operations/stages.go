package operations

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"edustat/internal/aggregation"
	"edustat/internal/cleaning"
	apperrors "edustat/internal/errors"
	"edustat/internal/infrastructure"
)

// PrecheckStage validates the batch's subject and dimension configuration
type PrecheckStage struct {
	BaseStage
	source    ConfigSource
	validator *cleaning.ConfigValidator
	logger    *slog.Logger
}

// NewPrecheckStage creates the first stage of a cleaning task
func NewPrecheckStage(source ConfigSource, logger *slog.Logger) *PrecheckStage {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &PrecheckStage{
		BaseStage: NewBaseStage(StageIDPrecheck, StageNamePrecheck),
		source:    source,
		validator: cleaning.NewConfigValidator(),
		logger:    logger,
	}
}

// Execute loads and validates configuration. Any problem aborts the task.
func (s *PrecheckStage) Execute(ctx context.Context, task *TaskState, report ProgressFunc) error {
	batch := task.Request.BatchCode
	report(0, "loading configuration")

	subjects, err := s.source.ListSubjectConfigs(ctx, batch)
	if err != nil {
		return err
	}
	if len(subjects) == 0 {
		return apperrors.NewConfigError(fmt.Sprintf("no subject configuration for batch %s", batch), nil)
	}
	dims, err := s.source.ListDimensionConfigs(ctx, batch)
	if err != nil {
		return err
	}
	report(50, fmt.Sprintf("validating %d subjects", len(subjects)))

	if err := s.validator.Validate(subjects, dims); err != nil {
		return err
	}

	task.SetContext(ContextKeySubjects, subjects)
	task.SetResult("subjects", len(subjects))
	task.SetResult("dimensions", len(dims))
	s.logger.InfoContext(ctx, "precheck_passed",
		slog.String("task_id", task.ID),
		slog.String("batch_code", batch),
		slog.Int("subjects", len(subjects)),
		slog.Int("dimensions", len(dims)))
	report(100, "configuration valid")
	return nil
}

// CleaningStage runs the record cleaner over the whole batch
type CleaningStage struct {
	BaseStage
	cleaner BatchCleaner
}

// NewCleaningStage creates the cleaning stage
func NewCleaningStage(cleaner BatchCleaner) *CleaningStage {
	return &CleaningStage{
		BaseStage: NewBaseStage(StageIDCleaning, StageNameCleaning),
		cleaner:   cleaner,
	}
}

// Execute cleans the batch. Per-subject failures are reported, not returned.
func (s *CleaningStage) Execute(ctx context.Context, task *TaskState, report ProgressFunc) error {
	tracker := NewProgressTracker(task.GetStage(s.ID()), report, 0, 100)
	rep, err := s.cleaner.CleanBatch(ctx, task.Request.BatchCode, func(done, total int, subject string) {
		tracker.Observe(done, total, "cleaned "+subject)
	})
	if err != nil {
		return err
	}

	task.SetContext(ContextKeyCleanReport, rep)
	task.SetResult("subjects_processed", rep.SubjectsProcessed)
	task.SetResult("subjects_failed", rep.SubjectsFailed)
	task.SetResult("raw_records", rep.RawRecords)
	task.SetResult("cleaned_records", rep.CleanedRecords)
	task.SetResult("anomalous_records", rep.AnomalousRecords)
	task.SetResult("unique_students", rep.UniqueStudents)
	if rep.SubjectsFailed > 0 {
		var failed []string
		for _, sr := range rep.Subjects {
			if sr.Failed() {
				failed = append(failed, sr.SubjectName+": "+sr.Error)
			}
		}
		task.SetResult("subject_failures", failed)
	}
	report(100, fmt.Sprintf("%d cleaned records", rep.CleanedRecords))
	return nil
}

// VerificationStage re-reads committed cleaned data and checks it against the report
type VerificationStage struct {
	BaseStage
	reader cleaning.CleanedReader
}

// NewVerificationStage creates the verification stage
func NewVerificationStage(reader cleaning.CleanedReader) *VerificationStage {
	return &VerificationStage{
		BaseStage: NewBaseStage(StageIDVerification, StageNameVerification),
		reader:    reader,
	}
}

// Validate requires the cleaning report
func (s *VerificationStage) Validate(task *TaskState) error {
	if _, ok := ContextValue[*cleaning.Report](task, ContextKeyCleanReport); !ok {
		return fmt.Errorf("cleaning report not available")
	}
	return nil
}

// Execute fails the task when stored data disagrees with the run
func (s *VerificationStage) Execute(ctx context.Context, task *TaskState, report ProgressFunc) error {
	rep, _ := ContextValue[*cleaning.Report](task, ContextKeyCleanReport)
	report(0, "reading cleaned records")

	v, err := cleaning.Verify(ctx, s.reader, task.Request.BatchCode, rep)
	if err != nil {
		return err
	}
	task.SetContext(ContextKeyVerification, v)
	task.SetResult("verified_records", v.Records)
	if !v.OK() {
		task.SetResult("verification_problems", v.Problems)
		return apperrors.NewDataValidationError(fmt.Sprintf("cleaned data verification failed: %s", strings.Join(v.Problems, "; "))).
			WithContext("problems", len(v.Problems))
	}
	report(100, fmt.Sprintf("%d records verified", v.Records))
	return nil
}

// DataLoadingStage resolves the aggregation target and loads its inputs
type DataLoadingStage struct {
	BaseStage
	agg Aggregator
}

// NewDataLoadingStage creates the first stage of a calculation task
func NewDataLoadingStage(agg Aggregator) *DataLoadingStage {
	return &DataLoadingStage{
		BaseStage: NewBaseStage(StageIDDataLoading, StageNameDataLoading),
		agg:       agg,
	}
}

// Execute loads configuration and valid cleaned records of the target
func (s *DataLoadingStage) Execute(ctx context.Context, task *TaskState, report ProgressFunc) error {
	batch := task.Request.BatchCode
	target := aggregation.RegionTarget(batch)

	if id := task.Request.SchoolID; id != "" {
		report(0, "resolving school")
		schools, err := s.agg.ListSchools(ctx, batch)
		if err != nil {
			return err
		}
		found := false
		for _, school := range schools {
			if school.SchoolID == id {
				target = aggregation.SchoolTarget(batch, school)
				found = true
				break
			}
		}
		if !found {
			return apperrors.NewNotFoundError(fmt.Sprintf("school %s in batch %s", id, batch))
		}
	}

	report(10, "loading cleaned records")
	in, err := s.agg.LoadInputs(ctx, target)
	if err != nil {
		return err
	}

	task.SetContext(ContextKeyInputs, in)
	task.SetResult("aggregation_level", string(target.Level))
	task.SetResult("records_loaded", in.RecordsLen)
	report(100, fmt.Sprintf("loaded %d records for %d subjects", in.RecordsLen, len(in.Subjects)))
	return nil
}

// StatisticalCalculationStage consolidates the statistics of every subject
type StatisticalCalculationStage struct {
	BaseStage
	agg Aggregator
}

// NewStatisticalCalculationStage creates the calculation stage
func NewStatisticalCalculationStage(agg Aggregator) *StatisticalCalculationStage {
	return &StatisticalCalculationStage{
		BaseStage: NewBaseStage(StageIDStatistical, StageNameStatistical),
		agg:       agg,
	}
}

// Validate requires loaded inputs
func (s *StatisticalCalculationStage) Validate(task *TaskState) error {
	if _, ok := ContextValue[*aggregation.Inputs](task, ContextKeyInputs); !ok {
		return fmt.Errorf("inputs not loaded")
	}
	return nil
}

// Execute computes statistics; nothing is persisted here
func (s *StatisticalCalculationStage) Execute(ctx context.Context, task *TaskState, report ProgressFunc) error {
	in, _ := ContextValue[*aggregation.Inputs](task, ContextKeyInputs)

	res := s.agg.Compute(ctx, in, func(done, total int) {
		report(float64(done)/float64(total)*100, fmt.Sprintf("calculated %d/%d subjects", done, total))
	})

	task.SetContext(ContextKeyLevelResult, res)
	task.SetResult("subjects_calculated", res.Subjects)
	task.SetResult("placeholder_subjects", res.Placeholders)
	report(100, fmt.Sprintf("%d subjects calculated", res.Subjects))
	return nil
}

// ResultAggregationStage persists the level result and, for region targets,
// fans out to per-school computations
type ResultAggregationStage struct {
	BaseStage
	agg            Aggregator
	concurrency    int
	includeSchools bool
}

// NewResultAggregationStage creates the persistence stage. includeSchools is the
// default fan-out, overridable per request.
func NewResultAggregationStage(agg Aggregator, concurrency int, includeSchools bool) *ResultAggregationStage {
	return &ResultAggregationStage{
		BaseStage:      NewBaseStage(StageIDResultAggregation, StageNameResultAggregation),
		agg:            agg,
		concurrency:    concurrency,
		includeSchools: includeSchools,
	}
}

// Validate requires a computed result
func (s *ResultAggregationStage) Validate(task *TaskState) error {
	if _, ok := ContextValue[*aggregation.LevelResult](task, ContextKeyLevelResult); !ok {
		return fmt.Errorf("statistics not calculated")
	}
	return nil
}

// Execute writes the result and reports successful_schools / total_schools.
// Individual school failures do not fail the stage.
func (s *ResultAggregationStage) Execute(ctx context.Context, task *TaskState, report ProgressFunc) error {
	res, _ := ContextValue[*aggregation.LevelResult](task, ContextKeyLevelResult)

	if err := s.agg.Persist(ctx, res); err != nil {
		return err
	}
	report(20, "statistics saved")

	fanOut := s.includeSchools
	if task.Request.IncludeSchools != nil {
		fanOut = *task.Request.IncludeSchools
	}
	if task.Request.SchoolID != "" || !fanOut {
		report(100, "statistics saved")
		return nil
	}

	tracker := NewProgressTracker(task.GetStage(s.ID()), report, 20, 100)
	out, err := s.agg.FanOutSchools(ctx, task.Request.BatchCode, s.concurrency, func(done, total int) {
		tracker.Observe(done, total, "schools")
	})
	if err != nil {
		return err
	}

	task.SetContext(ContextKeyFanOut, out)
	task.SetResult("total_schools", out.TotalSchools)
	task.SetResult("successful_schools", out.SuccessfulSchools)
	task.SetResult("failed_schools", out.FailedSchools)
	if len(out.Failures) > 0 {
		task.SetResult("school_failures", out.Failures)
	}
	if ctx.Err() != nil {
		return NewCancellationError(s.ID())
	}
	report(100, fmt.Sprintf("%d/%d schools calculated", out.SuccessfulSchools, out.TotalSchools))
	return nil
}

// RegisterCleaningPipeline registers precheck, cleaning and verification
func RegisterCleaningPipeline(m *Manager, source ConfigSource, cleaner BatchCleaner, reader cleaning.CleanedReader, logger *slog.Logger) error {
	for _, stage := range []Stage{
		NewPrecheckStage(source, logger),
		NewCleaningStage(cleaner),
		NewVerificationStage(reader),
	} {
		if err := m.RegisterStage(KindCleaning, stage); err != nil {
			return err
		}
	}
	return nil
}

// RegisterCalculationPipeline registers data loading, calculation and aggregation
func RegisterCalculationPipeline(m *Manager, agg Aggregator) error {
	cfg := m.GetConfig()
	for _, stage := range []Stage{
		NewDataLoadingStage(agg),
		NewStatisticalCalculationStage(agg),
		NewResultAggregationStage(agg, cfg.SchoolConcurrency, cfg.IncludeSchools),
	} {
		if err := m.RegisterStage(KindCalculation, stage); err != nil {
			return err
		}
	}
	return nil
}
