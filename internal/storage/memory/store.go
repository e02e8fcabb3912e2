// Package memory is an in-process implementation of every edustat repository.
// It backs the "memory" storage driver and the package tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"edustat/internal/cleaning"
	apperrors "edustat/internal/errors"
	"edustat/pkg/contracts/domain"
)

type statsKey struct {
	batch    string
	level    domain.AggregationLevel
	schoolID string
	subject  string
}

type batchData struct {
	cleaned      []domain.CleanedRecord
	items        []domain.QuestionnaireItemRecord
	distribution []domain.OptionDistribution
}

// Store keeps configuration, raw responses, cleaned data and statistics in maps
type Store struct {
	mu         sync.RWMutex
	subjects   map[string]map[string]domain.SubjectConfig
	dimensions map[string][]domain.DimensionConfig
	raw        map[string]map[string][]domain.RawItemResponse
	batches    map[string]*batchData
	statistics map[statsKey]domain.StatisticsRecord

	// FailClear makes BeginReplace fail, for exercising abort paths
	FailClear error
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		subjects:   make(map[string]map[string]domain.SubjectConfig),
		dimensions: make(map[string][]domain.DimensionConfig),
		raw:        make(map[string]map[string][]domain.RawItemResponse),
		batches:    make(map[string]*batchData),
		statistics: make(map[statsKey]domain.StatisticsRecord),
	}
}

// UpsertSubjectConfigs stores subject configs keyed by (batch, subject)
func (s *Store) UpsertSubjectConfigs(_ context.Context, configs []domain.SubjectConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cfg := range configs {
		if s.subjects[cfg.BatchCode] == nil {
			s.subjects[cfg.BatchCode] = make(map[string]domain.SubjectConfig)
		}
		cfg.Items = append([]domain.ItemConfig(nil), cfg.Items...)
		s.subjects[cfg.BatchCode][cfg.SubjectName] = cfg
	}
	return nil
}

// UpsertDimensionConfigs stores dimension configs keyed by (batch, subject, code)
func (s *Store) UpsertDimensionConfigs(_ context.Context, dims []domain.DimensionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, dim := range dims {
		dim.ItemIDs = append([]string(nil), dim.ItemIDs...)
		existing := s.dimensions[dim.BatchCode]
		replaced := false
		for i := range existing {
			if existing[i].SubjectName == dim.SubjectName && existing[i].Code == dim.Code {
				existing[i] = dim
				replaced = true
			}
		}
		if !replaced {
			existing = append(existing, dim)
		}
		s.dimensions[dim.BatchCode] = existing
	}
	return nil
}

// ReplaceRawResponses replaces the raw responses of one (batch, subject)
func (s *Store) ReplaceRawResponses(_ context.Context, batchCode, subjectName string, rows []domain.RawItemResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.raw[batchCode] == nil {
		s.raw[batchCode] = make(map[string][]domain.RawItemResponse)
	}
	copied := make([]domain.RawItemResponse, len(rows))
	for i, row := range rows {
		copied[i] = cloneRaw(row)
	}
	s.raw[batchCode][subjectName] = copied
	return nil
}

// ListSubjectConfigs returns the batch's subject configs ordered by name
func (s *Store) ListSubjectConfigs(_ context.Context, batchCode string) ([]domain.SubjectConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SubjectConfig, 0, len(s.subjects[batchCode]))
	for _, cfg := range s.subjects[batchCode] {
		cfg.Items = append([]domain.ItemConfig(nil), cfg.Items...)
		out = append(out, cfg)
	}
	domain.SortSubjects(out)
	return out, nil
}

// ListDimensionConfigs returns the batch's dimension configs
func (s *Store) ListDimensionConfigs(_ context.Context, batchCode string) ([]domain.DimensionConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.DimensionConfig, len(s.dimensions[batchCode]))
	for i, dim := range s.dimensions[batchCode] {
		dim.ItemIDs = append([]string(nil), dim.ItemIDs...)
		out[i] = dim
	}
	return out, nil
}

// LoadRawResponses returns raw responses of one subject in insertion order
func (s *Store) LoadRawResponses(_ context.Context, batchCode, subjectName string) ([]domain.RawItemResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.raw[batchCode][subjectName]
	out := make([]domain.RawItemResponse, len(rows))
	for i, row := range rows {
		out[i] = cloneRaw(row)
	}
	return out, nil
}

// BeginReplace stages a new version of the batch's cleaned data
func (s *Store) BeginReplace(_ context.Context, batchCode string) (cleaning.BatchWriter, error) {
	if s.FailClear != nil {
		return nil, s.FailClear
	}
	return &batchWriter{store: s, batchCode: batchCode, staged: &batchData{}}, nil
}

type batchWriter struct {
	store     *Store
	batchCode string
	staged    *batchData
	done      bool
}

func (w *batchWriter) WriteSubject(_ context.Context, out cleaning.SubjectOutput) error {
	if w.done {
		return apperrors.NewStorageError("write after commit or rollback", nil)
	}
	for _, rec := range out.Records {
		w.staged.cleaned = append(w.staged.cleaned, cloneCleaned(rec))
	}
	w.staged.items = append(w.staged.items, out.Items...)
	w.staged.distribution = append(w.staged.distribution, out.Distribution...)
	return nil
}

func (w *batchWriter) Commit() error {
	if w.done {
		return apperrors.NewStorageError("transaction already finished", nil)
	}
	w.done = true
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.batches[w.batchCode] = w.staged
	return nil
}

func (w *batchWriter) Rollback() error {
	w.done = true
	return nil
}

// LoadCleanedRecords returns cleaned records ordered by (subject, student)
func (s *Store) LoadCleanedRecords(_ context.Context, filter domain.CleanedFilter) ([]domain.CleanedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data := s.batches[filter.BatchCode]
	if data == nil {
		return nil, nil
	}
	var out []domain.CleanedRecord
	for _, rec := range data.cleaned {
		if filter.SubjectName != "" && rec.SubjectName != filter.SubjectName {
			continue
		}
		if filter.SchoolID != "" && rec.SchoolID != filter.SchoolID {
			continue
		}
		if !filter.IncludeInvalid && !rec.IsValid {
			continue
		}
		out = append(out, cloneCleaned(rec))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SubjectName != out[j].SubjectName {
			return out[i].SubjectName < out[j].SubjectName
		}
		return out[i].StudentID < out[j].StudentID
	})
	return out, nil
}

// LoadQuestionnaireItems returns one subject's per-item questionnaire rows
func (s *Store) LoadQuestionnaireItems(_ context.Context, batchCode, subjectName string) ([]domain.QuestionnaireItemRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data := s.batches[batchCode]
	if data == nil {
		return nil, nil
	}
	var out []domain.QuestionnaireItemRecord
	for _, item := range data.items {
		if item.SubjectName == subjectName {
			out = append(out, item)
		}
	}
	return out, nil
}

// LoadOptionDistribution returns one subject's option counts
func (s *Store) LoadOptionDistribution(_ context.Context, batchCode, subjectName string) ([]domain.OptionDistribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data := s.batches[batchCode]
	if data == nil {
		return nil, nil
	}
	var out []domain.OptionDistribution
	for _, d := range data.distribution {
		if d.SubjectName == subjectName {
			out = append(out, d)
		}
	}
	return out, nil
}

// ListSchools returns the distinct schools with valid cleaned records, ordered by id
func (s *Store) ListSchools(_ context.Context, batchCode string) ([]domain.School, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data := s.batches[batchCode]
	if data == nil {
		return nil, nil
	}
	seen := make(map[string]domain.School)
	for _, rec := range data.cleaned {
		if !rec.IsValid || rec.SchoolID == "" {
			continue
		}
		if _, ok := seen[rec.SchoolID]; !ok {
			seen[rec.SchoolID] = domain.School{SchoolID: rec.SchoolID, SchoolCode: rec.SchoolCode, SchoolName: rec.SchoolName}
		}
	}
	out := make([]domain.School, 0, len(seen))
	for _, school := range seen {
		out = append(out, school)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SchoolID < out[j].SchoolID })
	return out, nil
}

// ReplaceStatistics drops every row of (batch, level, school) and stores stats in their place
func (s *Store) ReplaceStatistics(_ context.Context, batchCode string, level domain.AggregationLevel, schoolID string, stats []domain.StatisticsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if level == domain.LevelRegion {
		schoolID = ""
	}
	for key := range s.statistics {
		if key.batch == batchCode && key.level == level && key.schoolID == schoolID {
			delete(s.statistics, key)
		}
	}
	for _, rec := range stats {
		rec.BatchCode, rec.Level, rec.SchoolID = batchCode, level, schoolID
		s.statistics[keyOf(rec)] = rec
	}
	return nil
}

// LoadStatistics returns the statistics rows of one (batch, level, school), ordered by subject
func (s *Store) LoadStatistics(_ context.Context, batchCode string, level domain.AggregationLevel, schoolID string) ([]domain.StatisticsRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.StatisticsRecord
	for key, rec := range s.statistics {
		if key.batch == batchCode && key.level == level && key.schoolID == schoolID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Statistics.SubjectName < out[j].Statistics.SubjectName })
	return out, nil
}

func keyOf(rec domain.StatisticsRecord) statsKey {
	key := statsKey{batch: rec.BatchCode, level: rec.Level, subject: rec.Statistics.SubjectName}
	if rec.Level == domain.LevelSchool {
		key.schoolID = rec.SchoolID
	}
	return key
}

func cloneRaw(row domain.RawItemResponse) domain.RawItemResponse {
	scores := make(map[string]float64, len(row.Scores))
	for k, v := range row.Scores {
		scores[k] = v
	}
	row.Scores = scores
	return row
}

func cloneCleaned(rec domain.CleanedRecord) domain.CleanedRecord {
	dims := make(map[string]domain.DimensionScore, len(rec.DimensionScores))
	for k, v := range rec.DimensionScores {
		dims[k] = v
	}
	rec.DimensionScores = dims
	return rec
}
