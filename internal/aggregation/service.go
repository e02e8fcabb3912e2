package aggregation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	apperrors "edustat/internal/errors"
	"edustat/internal/infrastructure"
	"edustat/pkg/contracts/domain"
)

// Target names one aggregation: the region, or one school of the batch
type Target struct {
	BatchCode  string                  `json:"batch_code"`
	Level      domain.AggregationLevel `json:"aggregation_level"`
	SchoolID   string                  `json:"school_id,omitempty"`
	SchoolName string                  `json:"school_name,omitempty"`
}

// RegionTarget returns the region-level target of a batch
func RegionTarget(batchCode string) Target {
	return Target{BatchCode: batchCode, Level: domain.LevelRegion}
}

// SchoolTarget returns a school-level target
func SchoolTarget(batchCode string, school domain.School) Target {
	return Target{BatchCode: batchCode, Level: domain.LevelSchool, SchoolID: school.SchoolID, SchoolName: school.SchoolName}
}

// Inputs is a batch's configuration plus the cleaned records of one target
type Inputs struct {
	Target     Target
	Subjects   []domain.SubjectConfig
	Dimensions []domain.DimensionConfig
	Records    map[string][]domain.CleanedRecord
	RecordsLen int
}

// LevelResult is the outcome of one target's computation
type LevelResult struct {
	Target       Target                    `json:"target"`
	Records      []domain.StatisticsRecord `json:"-"`
	Subjects     int                       `json:"subjects"`
	Placeholders int                       `json:"placeholders"`
}

// SchoolFailure records one failed school sub-computation
type SchoolFailure struct {
	SchoolID string `json:"school_id"`
	Error    string `json:"error"`
}

// FanOutResult summarizes per-school computations
type FanOutResult struct {
	TotalSchools      int             `json:"total_schools"`
	SuccessfulSchools int             `json:"successful_schools"`
	FailedSchools     int             `json:"failed_schools"`
	Failures          []SchoolFailure `json:"failures,omitempty"`
}

// Service loads inputs, consolidates statistics and persists them
type Service struct {
	configs      ConfigReader
	cleaned      CleanedReader
	sink         ResultSink
	consolidator *Consolidator
	logger       *slog.Logger
	metrics      *infrastructure.BusinessMetrics
	now          func() time.Time
}

// NewService creates an aggregation service. metrics may be nil.
func NewService(configs ConfigReader, cleaned CleanedReader, sink ResultSink, consolidator *Consolidator, logger *slog.Logger, metrics *infrastructure.BusinessMetrics) *Service {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Service{
		configs:      configs,
		cleaned:      cleaned,
		sink:         sink,
		consolidator: consolidator,
		logger:       infrastructure.WithComponent(logger, "aggregation"),
		metrics:      metrics,
		now:          time.Now,
	}
}

// LoadInputs reads configuration and the target's valid cleaned records
func (s *Service) LoadInputs(ctx context.Context, target Target) (*Inputs, error) {
	subjects, err := s.configs.ListSubjectConfigs(ctx, target.BatchCode)
	if err != nil {
		return nil, storageErr("list subject configs", err)
	}
	if len(subjects) == 0 {
		return nil, apperrors.NewConfigError(fmt.Sprintf("no subject configuration for batch %s", target.BatchCode), nil)
	}
	dims, err := s.configs.ListDimensionConfigs(ctx, target.BatchCode)
	if err != nil {
		return nil, storageErr("list dimension configs", err)
	}

	records, err := s.cleaned.LoadCleanedRecords(ctx, domain.CleanedFilter{BatchCode: target.BatchCode, SchoolID: target.SchoolID})
	if err != nil {
		return nil, storageErr("load cleaned records", err)
	}

	in := &Inputs{
		Target:     target,
		Subjects:   subjects,
		Dimensions: dims,
		Records:    make(map[string][]domain.CleanedRecord, len(subjects)),
		RecordsLen: len(records),
	}
	domain.SortSubjects(in.Subjects)
	for _, rec := range records {
		in.Records[rec.SubjectName] = append(in.Records[rec.SubjectName], rec)
	}
	return in, nil
}

// Compute consolidates every subject of the inputs. progress, if set, receives
// the number of subjects finished.
func (s *Service) Compute(ctx context.Context, in *Inputs, progress func(done, total int)) *LevelResult {
	ctx, span := infrastructure.StartSpan(ctx, "aggregation.compute",
		attribute.String("batch.code", in.Target.BatchCode),
		attribute.String("aggregation.level", string(in.Target.Level)),
		attribute.String("school.id", in.Target.SchoolID))
	defer span.End()

	res := &LevelResult{Target: in.Target, Records: make([]domain.StatisticsRecord, 0, len(in.Subjects))}
	calculatedAt := s.now().UTC()
	for i, subject := range in.Subjects {
		stats := s.consolidator.Subject(ctx, subject, domain.DimensionsFor(in.Dimensions, subject.SubjectName), in.Records[subject.SubjectName])
		if stats.Placeholder() {
			res.Placeholders++
		}
		res.Records = append(res.Records, domain.StatisticsRecord{
			BatchCode:    in.Target.BatchCode,
			Level:        in.Target.Level,
			SchoolID:     in.Target.SchoolID,
			SchoolName:   in.Target.SchoolName,
			Statistics:   stats,
			CalculatedAt: calculatedAt,
		})
		if progress != nil {
			progress(i+1, len(in.Subjects))
		}
	}
	res.Subjects = len(res.Records)
	return res
}

// Persist replaces the target's stored statistics with res
func (s *Service) Persist(ctx context.Context, res *LevelResult) error {
	t := res.Target
	if err := s.sink.ReplaceStatistics(ctx, t.BatchCode, t.Level, t.SchoolID, res.Records); err != nil {
		return storageErr("replace statistics", err)
	}
	s.logger.InfoContext(ctx, "statistics_persisted",
		slog.String("batch_code", t.BatchCode),
		slog.String("level", string(t.Level)),
		slog.String("school_id", t.SchoolID),
		slog.Int("subjects", res.Subjects),
		slog.Int("placeholders", res.Placeholders))
	return nil
}

// Run loads, computes and persists one target
func (s *Service) Run(ctx context.Context, target Target) (*LevelResult, error) {
	in, err := s.LoadInputs(ctx, target)
	if err != nil {
		return nil, err
	}
	res := s.Compute(ctx, in, nil)
	if err := s.Persist(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// ListSchools returns the schools with valid cleaned records in the batch
func (s *Service) ListSchools(ctx context.Context, batchCode string) ([]domain.School, error) {
	schools, err := s.cleaned.ListSchools(ctx, batchCode)
	if err != nil {
		return nil, storageErr("list schools", err)
	}
	return schools, nil
}

// FanOutSchools runs every school of the batch with bounded concurrency. A failing
// school is recorded and does not stop the others; only listing schools can fail.
func (s *Service) FanOutSchools(ctx context.Context, batchCode string, concurrency int, progress func(done, total int)) (*FanOutResult, error) {
	schools, err := s.ListSchools(ctx, batchCode)
	if err != nil {
		return nil, err
	}

	result := &FanOutResult{TotalSchools: len(schools)}
	if len(schools) == 0 {
		return result, nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	var (
		mu   sync.Mutex
		done int
		g    errgroup.Group
	)
	g.SetLimit(concurrency)
	for _, school := range schools {
		g.Go(func() error {
			var runErr error
			if ctx.Err() != nil {
				runErr = apperrors.NewCancelledError(fmt.Sprintf("school %s skipped", school.SchoolID))
			} else {
				_, runErr = s.Run(ctx, SchoolTarget(batchCode, school))
			}
			s.metrics.RecordSchool(ctx, runErr == nil)

			mu.Lock()
			defer mu.Unlock()
			done++
			if runErr != nil {
				result.FailedSchools++
				result.Failures = append(result.Failures, SchoolFailure{SchoolID: school.SchoolID, Error: runErr.Error()})
				s.logger.WarnContext(ctx, "school_statistics_failed",
					slog.String("batch_code", batchCode),
					slog.String("school_id", school.SchoolID),
					slog.String("error", runErr.Error()))
			} else {
				result.SuccessfulSchools++
			}
			if progress != nil {
				progress(done, len(schools))
			}
			return nil
		})
	}
	// workers never return errors
	_ = g.Wait()
	sort.Slice(result.Failures, func(i, j int) bool {
		return result.Failures[i].SchoolID < result.Failures[j].SchoolID
	})

	s.logger.InfoContext(ctx, "school_fan_out_completed",
		slog.String("batch_code", batchCode),
		slog.Int("total_schools", result.TotalSchools),
		slog.Int("successful_schools", result.SuccessfulSchools),
		slog.Int("failed_schools", result.FailedSchools))
	return result, nil
}

func storageErr(message string, err error) error {
	if apperrors.TypeOf(err) != "" {
		return err
	}
	return apperrors.NewStorageError(message, err)
}
