package cleaning

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	apperrors "edustat/internal/errors"
	"edustat/internal/infrastructure"
	"edustat/pkg/contracts/domain"
)

// RunState tracks a batch run through its lifecycle
type RunState string

const (
	RunStarted            RunState = "started"
	RunSubjectsDiscovered RunState = "subjects_discovered"
	RunCleaning           RunState = "cleaning"
	RunCompleted          RunState = "completed"
	RunFailed             RunState = "failed"
)

// ProgressFunc receives per-subject progress: done of total subjects finished
type ProgressFunc func(done, total int, subject string)

// SubjectReport summarizes the cleaning of one subject
type SubjectReport struct {
	SubjectName        string             `json:"subject_name"`
	Kind               domain.SubjectKind `json:"subject_kind"`
	RawRecords         int                `json:"raw_records"`
	CleanedRecords     int                `json:"cleaned_records"`
	AnomalousRecords   int                `json:"anomalous_records"`
	UniqueStudents     int                `json:"unique_students"`
	DuplicateRows      int                `json:"duplicate_rows"`
	QuestionnaireItems int                `json:"questionnaire_items,omitempty"`
	DistributionRows   int                `json:"distribution_rows,omitempty"`
	Scale              *Scale             `json:"scale,omitempty"`
	Duration           time.Duration      `json:"duration"`
	Error              string             `json:"error,omitempty"`
}

// Failed reports whether the subject was skipped because of an error
func (s SubjectReport) Failed() bool {
	return s.Error != ""
}

// Report summarizes a batch cleaning run
type Report struct {
	BatchCode         string          `json:"batch_code"`
	State             RunState        `json:"state"`
	RawRecords        int             `json:"raw_records"`
	CleanedRecords    int             `json:"cleaned_records"`
	AnomalousRecords  int             `json:"anomalous_records"`
	UniqueStudents    int             `json:"unique_students"`
	SubjectsProcessed int             `json:"subjects_processed"`
	SubjectsFailed    int             `json:"subjects_failed"`
	Subjects          []SubjectReport `json:"subjects"`
	StartedAt         time.Time       `json:"started_at"`
	Duration          time.Duration   `json:"duration"`
}

// Cleaner runs batch cleaning
type Cleaner struct {
	source    SourceRepository
	store     CleanedStore
	validator *ConfigValidator
	logger    *slog.Logger
	metrics   *infrastructure.BusinessMetrics
}

// NewCleaner creates a cleaner. metrics may be nil.
func NewCleaner(source SourceRepository, store CleanedStore, logger *slog.Logger, metrics *infrastructure.BusinessMetrics) *Cleaner {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Cleaner{
		source:    source,
		store:     store,
		validator: NewConfigValidator(),
		logger:    infrastructure.WithComponent(logger, "cleaning"),
		metrics:   metrics,
	}
}

// CleanBatch replaces the batch's cleaned data with a fresh run over its raw responses.
// Running it twice on unchanged input produces identical cleaned data.
func (c *Cleaner) CleanBatch(ctx context.Context, batchCode string, progress ProgressFunc) (*Report, error) {
	ctx, span := infrastructure.StartSpan(ctx, "cleaning.batch", attribute.String("batch.code", batchCode))
	defer span.End()

	report := &Report{BatchCode: batchCode, State: RunStarted, StartedAt: time.Now()}
	logger := c.logger.With(slog.String("batch_code", batchCode))
	logger.InfoContext(ctx, "cleaning_started")

	fail := func(err error) (*Report, error) {
		report.State = RunFailed
		report.Duration = time.Since(report.StartedAt)
		span.RecordError(err)
		logger.ErrorContext(ctx, "cleaning_failed", slog.String("error", err.Error()))
		return report, err
	}

	subjects, dims, err := c.discover(ctx, batchCode)
	if err != nil {
		return fail(err)
	}
	report.State = RunSubjectsDiscovered
	logger.InfoContext(ctx, "subjects_discovered", slog.Int("subjects", len(subjects)), slog.Int("dimensions", len(dims)))

	writer, err := c.store.BeginReplace(ctx, batchCode)
	if err != nil {
		return fail(apperrors.NewStorageError("clear cleaned data", err))
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := writer.Rollback(); rbErr != nil {
				logger.WarnContext(ctx, "cleaning_rollback_failed", slog.String("error", rbErr.Error()))
			}
		}
	}()

	report.State = RunCleaning
	students := make(map[string]struct{})
	for i, subject := range subjects {
		if err := ctx.Err(); err != nil {
			return fail(apperrors.NewCancelledError("cleaning cancelled before subject " + subject.SubjectName))
		}

		sr, ids, err := c.cleanOne(ctx, writer, subject, domain.DimensionsFor(dims, subject.SubjectName))
		if err != nil {
			report.Subjects = append(report.Subjects, sr)
			return fail(err)
		}
		report.Subjects = append(report.Subjects, sr)
		report.SubjectsProcessed++
		if sr.Failed() {
			report.SubjectsFailed++
		}
		report.RawRecords += sr.RawRecords
		report.CleanedRecords += sr.CleanedRecords
		report.AnomalousRecords += sr.AnomalousRecords
		for _, id := range ids {
			students[id] = struct{}{}
		}

		c.metrics.RecordCleaning(ctx, subject.SubjectName, sr.RawRecords, sr.CleanedRecords, sr.AnomalousRecords, sr.Failed())
		if progress != nil {
			progress(i+1, len(subjects), subject.SubjectName)
		}
	}

	if err := writer.Commit(); err != nil {
		return fail(apperrors.NewStorageError("commit cleaned data", err))
	}
	committed = true

	report.UniqueStudents = len(students)
	report.State = RunCompleted
	report.Duration = time.Since(report.StartedAt)
	logger.InfoContext(ctx, "cleaning_completed",
		slog.Int("raw_records", report.RawRecords),
		slog.Int("cleaned_records", report.CleanedRecords),
		slog.Int("anomalous_records", report.AnomalousRecords),
		slog.Int("unique_students", report.UniqueStudents),
		slog.Int("subjects_failed", report.SubjectsFailed),
		slog.Duration("duration", report.Duration))
	return report, nil
}

// discover loads and validates the batch configuration, subjects sorted by name
func (c *Cleaner) discover(ctx context.Context, batchCode string) ([]domain.SubjectConfig, []domain.DimensionConfig, error) {
	subjects, err := c.source.ListSubjectConfigs(ctx, batchCode)
	if err != nil {
		return nil, nil, wrapStorage("list subject configs", err)
	}
	if len(subjects) == 0 {
		return nil, nil, apperrors.NewConfigError(fmt.Sprintf("no subject configuration for batch %s", batchCode), nil)
	}
	dims, err := c.source.ListDimensionConfigs(ctx, batchCode)
	if err != nil {
		return nil, nil, wrapStorage("list dimension configs", err)
	}
	if err := c.validator.Validate(subjects, dims); err != nil {
		return nil, nil, err
	}

	domain.SortSubjects(subjects)
	return subjects, dims, nil
}

// cleanOne cleans and writes a single subject. Subject-scoped failures are recorded
// on the report; storage and configuration failures are returned.
func (c *Cleaner) cleanOne(ctx context.Context, writer BatchWriter, subject domain.SubjectConfig, dims []domain.DimensionConfig) (SubjectReport, []string, error) {
	start := time.Now()
	sr := SubjectReport{SubjectName: subject.SubjectName, Kind: subject.Kind}
	logger := c.logger.With(slog.String("batch_code", subject.BatchCode), slog.String("subject", subject.SubjectName))

	finish := func(err error) (SubjectReport, []string, error) {
		sr.Duration = time.Since(start)
		sr.Error = err.Error()
		logger.WarnContext(ctx, "subject_cleaning_failed", slog.String("error", err.Error()))
		if apperrors.IsFatal(err) {
			return sr, nil, err
		}
		return sr, nil, nil
	}

	raws, err := c.source.LoadRawResponses(ctx, subject.BatchCode, subject.SubjectName)
	if err != nil {
		return finish(wrapStorage("load raw responses", err))
	}
	sr.RawRecords = len(raws)

	var out SubjectOutput
	if subject.Kind.IsQuestionnaire() {
		scale := ResolveScale(subject.ScaleInstrument)
		sr.Scale = &scale
		if !scale.Recognized {
			logger.WarnContext(ctx, "scale_instrument_unrecognized",
				slog.String("instrument", subject.ScaleInstrument),
				slog.Int("fallback_level", scale.Level))
		}
		out, err = CleanQuestionnaire(subject, dims, scale, raws)
	} else {
		out, err = CleanExam(subject, dims, raws)
	}
	if err != nil {
		return finish(err)
	}

	if err := writer.WriteSubject(ctx, out); err != nil {
		return finish(wrapStorage("write cleaned records", err))
	}

	ids := make([]string, len(out.Records))
	for i, rec := range out.Records {
		ids[i] = rec.StudentID
		if !rec.IsValid {
			sr.AnomalousRecords++
		}
	}
	sr.CleanedRecords = len(out.Records)
	sr.UniqueStudents = len(out.Records)
	sr.DuplicateRows = sr.RawRecords - sr.UniqueStudents
	sr.QuestionnaireItems = len(out.Items)
	sr.DistributionRows = len(out.Distribution)
	sr.Duration = time.Since(start)

	logger.InfoContext(ctx, "subject_cleaned",
		slog.Int("raw_records", sr.RawRecords),
		slog.Int("cleaned_records", sr.CleanedRecords),
		slog.Int("anomalous_records", sr.AnomalousRecords),
		slog.Duration("duration", sr.Duration))
	return sr, ids, nil
}

// student is the merged view of one student's raw rows
type student struct {
	meta   domain.RawItemResponse
	scores map[string]float64
}

// mergeStudents groups raw rows by student id, summing duplicate item scores.
// Output is ordered by student id.
func mergeStudents(subject domain.SubjectConfig, raws []domain.RawItemResponse) ([]student, error) {
	if len(raws) == 0 {
		return nil, apperrors.NewDataValidationError(fmt.Sprintf("subject %s has no raw responses", subject.SubjectName))
	}

	scorable := subject.ItemMaxScores()
	byID := make(map[string]*student, len(raws))
	for _, raw := range raws {
		if raw.StudentID == "" {
			return nil, apperrors.NewDataValidationError(fmt.Sprintf("subject %s: response without student id", subject.SubjectName))
		}
		s, ok := byID[raw.StudentID]
		if !ok {
			s = &student{meta: raw, scores: make(map[string]float64, len(scorable))}
			byID[raw.StudentID] = s
		}
		for itemID, score := range raw.Scores {
			if _, ok := scorable[itemID]; !ok {
				continue
			}
			if math.IsNaN(score) || math.IsInf(score, 0) {
				return nil, apperrors.NewDataValidationError(
					fmt.Sprintf("subject %s: non-numeric score for student %s item %s", subject.SubjectName, raw.StudentID, itemID))
			}
			s.scores[itemID] += score
		}
	}

	out := make([]student, 0, len(byID))
	for _, s := range byID {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].meta.StudentID < out[j].meta.StudentID })
	return out, nil
}

func newRecord(subject domain.SubjectConfig, s student, total, max float64) domain.CleanedRecord {
	rec := domain.CleanedRecord{
		BatchCode:     subject.BatchCode,
		StudentID:     s.meta.StudentID,
		StudentName:   s.meta.StudentName,
		SchoolID:      s.meta.SchoolID,
		SchoolCode:    s.meta.SchoolCode,
		SchoolName:    s.meta.SchoolName,
		ClassName:     s.meta.ClassName,
		SubjectName:   subject.SubjectName,
		Kind:          subject.Kind,
		TotalScore:    total,
		MaxScore:      max,
		QuestionCount: len(subject.Items),
	}
	rec.IsValid = rec.InRange()
	return rec
}

// CleanExam builds one cleaned record per student. The total sums scorable items
// only and the maximum is the configured subject maximum.
func CleanExam(subject domain.SubjectConfig, dims []domain.DimensionConfig, raws []domain.RawItemResponse) (SubjectOutput, error) {
	students, err := mergeStudents(subject, raws)
	if err != nil {
		return SubjectOutput{}, err
	}

	maxScore := subject.CleanedMaxScore()
	dimMax := ComputeDimensionMax(dims, subject)
	out := SubjectOutput{SubjectName: subject.SubjectName, Records: make([]domain.CleanedRecord, 0, len(students))}
	for _, s := range students {
		rec := newRecord(subject, s, examTotal(subject, s.scores), maxScore)
		rec.DimensionScores = dimensionScores(s.scores, dims, dimMax)
		out.Records = append(out.Records, rec)
	}
	return out, nil
}

// examTotal sums item scores in configured item order so repeated runs add in the same sequence
func examTotal(subject domain.SubjectConfig, scores map[string]float64) float64 {
	var total float64
	for _, item := range subject.Items {
		if v, ok := scores[item.ItemID]; ok {
			total += v
		}
	}
	return total
}

// CleanQuestionnaire builds per-item option records, the option distribution and
// one summary record per student whose maximum is the sum of item maxima.
func CleanQuestionnaire(subject domain.SubjectConfig, dims []domain.DimensionConfig, scale Scale, raws []domain.RawItemResponse) (SubjectOutput, error) {
	students, err := mergeStudents(subject, raws)
	if err != nil {
		return SubjectOutput{}, err
	}

	maxScore := subject.CleanedMaxScore()
	dimMax := ComputeDimensionMax(dims, subject)
	counts := make(map[string]map[int]int, len(subject.Items))
	out := SubjectOutput{SubjectName: subject.SubjectName, Records: make([]domain.CleanedRecord, 0, len(students))}

	for _, s := range students {
		var total float64
		for _, item := range subject.Items {
			raw, ok := s.scores[item.ItemID]
			if !ok {
				continue
			}
			total += raw
			option := MapToOption(raw, item.MaxScore, scale.Level)
			out.Items = append(out.Items, domain.QuestionnaireItemRecord{
				BatchCode:    subject.BatchCode,
				StudentID:    s.meta.StudentID,
				SchoolID:     s.meta.SchoolID,
				SubjectName:  subject.SubjectName,
				ItemID:       item.ItemID,
				RawScore:     raw,
				ItemMaxScore: item.MaxScore,
				ScaleLevel:   scale.Level,
				OptionLevel:  option,
				IsReverse:    scale.Reverse,
			})
			if counts[item.ItemID] == nil {
				counts[item.ItemID] = make(map[int]int, scale.Level)
			}
			counts[item.ItemID][option]++
		}

		rec := newRecord(subject, s, total, maxScore)
		rec.DimensionScores = dimensionScores(s.scores, dims, dimMax)
		out.Records = append(out.Records, rec)
	}

	for _, item := range subject.Items {
		for option := 1; option <= scale.Level; option++ {
			if n := counts[item.ItemID][option]; n > 0 {
				out.Distribution = append(out.Distribution, domain.OptionDistribution{
					BatchCode:   subject.BatchCode,
					SubjectName: subject.SubjectName,
					ItemID:      item.ItemID,
					OptionLevel: option,
					Count:       n,
				})
			}
		}
	}
	return out, nil
}

func wrapStorage(message string, err error) error {
	if apperrors.TypeOf(err) != "" {
		return err
	}
	return apperrors.NewStorageError(message, err)
}
