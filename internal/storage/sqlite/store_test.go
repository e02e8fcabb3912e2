package sqlite

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edustat/internal/cleaning"
	apperrors "edustat/internal/errors"
	"edustat/internal/operations"
	"edustat/pkg/contracts/domain"
)

const batch = "B2026"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "edustat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func cleanedRecord(subject, student, school string, total float64, valid bool) domain.CleanedRecord {
	return domain.CleanedRecord{
		BatchCode:   batch,
		StudentID:   student,
		SchoolID:    school,
		SchoolName:  "School " + school,
		SubjectName: subject,
		Kind:        domain.SubjectKindExam,
		TotalScore:  total,
		MaxScore:    10,
		DimensionScores: map[string]domain.DimensionScore{
			"algebra": {Score: total / 2, MaxScore: 5, ItemCount: 1},
		},
		IsValid: valid,
	}
}

func TestOpen_MigratesTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edustat.db")

	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), path)
	require.NoError(t, err)
	defer s.Close()
	assert.NoError(t, s.Ping(context.Background()))
}

func TestStore_Configs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSubjectConfigs(ctx, []domain.SubjectConfig{
		{BatchCode: batch, SubjectName: "science", Kind: domain.SubjectKindExam, MaxScore: 20, Items: []domain.ItemConfig{{ItemID: "s1", MaxScore: 20}}},
		{BatchCode: batch, SubjectName: "math", Kind: domain.SubjectKindExam, MaxScore: 10, Items: []domain.ItemConfig{{ItemID: "q1", MaxScore: 10}}},
		{BatchCode: "OTHER", SubjectName: "art", Kind: domain.SubjectKindExam, MaxScore: 5, Items: []domain.ItemConfig{{ItemID: "a1", MaxScore: 5}}},
	}))
	// upsert replaces
	require.NoError(t, s.UpsertSubjectConfigs(ctx, []domain.SubjectConfig{
		{BatchCode: batch, SubjectName: "math", Kind: domain.SubjectKindExam, MaxScore: 12, Items: []domain.ItemConfig{{ItemID: "q1", MaxScore: 12}}},
	}))

	subjects, err := s.ListSubjectConfigs(ctx, batch)
	require.NoError(t, err)
	require.Len(t, subjects, 2)
	assert.Equal(t, "math", subjects[0].SubjectName)
	assert.Equal(t, 12.0, subjects[0].MaxScore)
	assert.Equal(t, "science", subjects[1].SubjectName)

	require.NoError(t, s.UpsertDimensionConfigs(ctx, []domain.DimensionConfig{
		{BatchCode: batch, SubjectName: "math", Code: "geometry", ItemIDs: []string{"q2"}},
		{BatchCode: batch, SubjectName: "math", Code: "algebra", ItemIDs: []string{"q1"}},
	}))
	dims, err := s.ListDimensionConfigs(ctx, batch)
	require.NoError(t, err)
	require.Len(t, dims, 2)
	assert.Equal(t, "algebra", dims[0].Code)
	assert.Equal(t, []string{"q1"}, dims[0].ItemIDs)
}

func TestStore_ReplaceRawResponses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := []domain.RawItemResponse{
		{StudentID: "s2", SchoolID: "A", Scores: map[string]float64{"q1": 3}},
		{StudentID: "s1", SchoolID: "A", Scores: map[string]float64{"q1": 4, "extra": 1}},
	}
	require.NoError(t, s.ReplaceRawResponses(ctx, batch, "math", first))
	require.NoError(t, s.ReplaceRawResponses(ctx, batch, "science", first[:1]))

	rows, err := s.LoadRawResponses(ctx, batch, "math")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "s2", rows[0].StudentID, "import order is kept")
	assert.Equal(t, map[string]float64{"q1": 4, "extra": 1}, rows[1].Scores)
	assert.Equal(t, batch, rows[1].BatchCode)

	require.NoError(t, s.ReplaceRawResponses(ctx, batch, "math", first[1:]))
	rows, err = s.LoadRawResponses(ctx, batch, "math")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	rows, err = s.LoadRawResponses(ctx, batch, "science")
	require.NoError(t, err)
	assert.Len(t, rows, 1, "other subjects are untouched")
}

func TestStore_BeginReplace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w, err := s.BeginReplace(ctx, batch)
	require.NoError(t, err)
	require.NoError(t, w.WriteSubject(ctx, cleaning.SubjectOutput{
		SubjectName: "math",
		Records: []domain.CleanedRecord{
			cleanedRecord("math", "s2", "B", 6, true),
			cleanedRecord("math", "s1", "A", 8, true),
			cleanedRecord("math", "s3", "A", 12, false),
		},
	}))

	recs, err := s.LoadCleanedRecords(ctx, domain.CleanedFilter{BatchCode: batch})
	require.NoError(t, err)
	assert.Empty(t, recs, "nothing is visible before commit")

	require.NoError(t, w.Commit())
	assert.NoError(t, w.Rollback(), "rollback after commit is a no-op")

	recs, err = s.LoadCleanedRecords(ctx, domain.CleanedFilter{BatchCode: batch})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "s1", recs[0].StudentID)
	assert.Equal(t, domain.DimensionScore{Score: 4, MaxScore: 5, ItemCount: 1}, recs[0].DimensionScores["algebra"])

	all, err := s.LoadCleanedRecords(ctx, domain.CleanedFilter{BatchCode: batch, IncludeInvalid: true})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	bySchool, err := s.LoadCleanedRecords(ctx, domain.CleanedFilter{BatchCode: batch, SchoolID: "B"})
	require.NoError(t, err)
	require.Len(t, bySchool, 1)
	assert.Equal(t, "s2", bySchool[0].StudentID)

	schools, err := s.ListSchools(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, []domain.School{
		{SchoolID: "A", SchoolName: "School A"},
		{SchoolID: "B", SchoolName: "School B"},
	}, schools)

	// a rolled back replace keeps the previous version
	w, err = s.BeginReplace(ctx, batch)
	require.NoError(t, err)
	require.NoError(t, w.Rollback())
	recs, err = s.LoadCleanedRecords(ctx, domain.CleanedFilter{BatchCode: batch})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	// a committed empty replace clears the batch
	w, err = s.BeginReplace(ctx, batch)
	require.NoError(t, err)
	require.NoError(t, w.Commit())
	recs, err = s.LoadCleanedRecords(ctx, domain.CleanedFilter{BatchCode: batch, IncludeInvalid: true})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStore_WriteSubjectIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w, err := s.BeginReplace(ctx, batch)
	require.NoError(t, err)

	err = w.WriteSubject(ctx, cleaning.SubjectOutput{
		SubjectName: "math",
		Records: []domain.CleanedRecord{
			cleanedRecord("math", "s1", "A", 8, true),
			cleanedRecord("math", "s1", "A", 7, true),
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrStorage)

	require.NoError(t, w.WriteSubject(ctx, cleaning.SubjectOutput{
		SubjectName: "science",
		Records:     []domain.CleanedRecord{cleanedRecord("science", "s1", "A", 5, true)},
	}))
	require.NoError(t, w.Commit())

	recs, err := s.LoadCleanedRecords(ctx, domain.CleanedFilter{BatchCode: batch})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "science", recs[0].SubjectName)
}

func TestStore_QuestionnaireRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w, err := s.BeginReplace(ctx, batch)
	require.NoError(t, err)
	require.NoError(t, w.WriteSubject(ctx, cleaning.SubjectOutput{
		SubjectName: "wellbeing",
		Items: []domain.QuestionnaireItemRecord{
			{StudentID: "s1", SchoolID: "A", SubjectName: "wellbeing", ItemID: "w2", RawScore: 2, ItemMaxScore: 4, ScaleLevel: 4, OptionLevel: 3, IsReverse: true},
			{StudentID: "s1", SchoolID: "A", SubjectName: "wellbeing", ItemID: "w1", RawScore: 4, ItemMaxScore: 4, ScaleLevel: 4, OptionLevel: 4},
		},
		Distribution: []domain.OptionDistribution{
			{SubjectName: "wellbeing", ItemID: "w2", OptionLevel: 3, Count: 1},
			{SubjectName: "wellbeing", ItemID: "w1", OptionLevel: 4, Count: 1},
		},
	}))
	require.NoError(t, w.Commit())

	items, err := s.LoadQuestionnaireItems(ctx, batch, "wellbeing")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "w1", items[0].ItemID)
	assert.True(t, items[1].IsReverse)
	assert.Equal(t, batch, items[1].BatchCode)

	dist, err := s.LoadOptionDistribution(ctx, batch, "wellbeing")
	require.NoError(t, err)
	require.Len(t, dist, 2)
	assert.Equal(t, domain.OptionDistribution{BatchCode: batch, SubjectName: "wellbeing", ItemID: "w1", OptionLevel: 4, Count: 1}, dist[0])
}

func TestStore_ReplaceStatistics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	stats := []domain.StatisticsRecord{
		{Statistics: domain.SubjectStatistics{SubjectName: "science", Count: 3, Avg: 7.5}, CalculatedAt: at},
		{Statistics: domain.SubjectStatistics{SubjectName: "math", Count: 4, Avg: 6}, CalculatedAt: at},
	}
	// region rows ignore the school id
	require.NoError(t, s.ReplaceStatistics(ctx, batch, domain.LevelRegion, "A", stats))
	require.NoError(t, s.ReplaceStatistics(ctx, batch, domain.LevelSchool, "A", stats[:1]))

	region, err := s.LoadStatistics(ctx, batch, domain.LevelRegion, "")
	require.NoError(t, err)
	require.Len(t, region, 2)
	assert.Equal(t, "math", region[0].Statistics.SubjectName)
	assert.Equal(t, 6.0, region[0].Statistics.Avg)
	assert.Equal(t, at, region[0].CalculatedAt)
	assert.Empty(t, region[0].SchoolID)

	// replacing drops subjects that are no longer present
	require.NoError(t, s.ReplaceStatistics(ctx, batch, domain.LevelRegion, "", stats[1:]))
	region, err = s.LoadStatistics(ctx, batch, domain.LevelRegion, "")
	require.NoError(t, err)
	require.Len(t, region, 1)
	assert.Equal(t, "math", region[0].Statistics.SubjectName)

	school, err := s.LoadStatistics(ctx, batch, domain.LevelSchool, "A")
	require.NoError(t, err)
	require.Len(t, school, 1)
	assert.Equal(t, "A", school[0].SchoolID)
}

func TestStore_Tasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	snapshots := []*operations.TaskSnapshot{
		{TaskID: "t1", Kind: operations.KindCleaning, BatchCode: batch, Status: operations.TaskStatusCompleted, CreatedAt: base, UpdatedAt: base},
		{TaskID: "t2", Kind: operations.KindCalculation, BatchCode: batch, Status: operations.TaskStatusRunning, CreatedAt: base.Add(time.Minute), UpdatedAt: base.Add(time.Minute)},
		{TaskID: "t3", Kind: operations.KindCalculation, BatchCode: "OTHER", Status: operations.TaskStatusPending, CreatedAt: base.Add(2 * time.Minute), UpdatedAt: base.Add(2 * time.Minute)},
	}
	for _, snap := range snapshots {
		require.NoError(t, s.SaveTask(ctx, snap))
	}

	got, err := s.GetTask(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, operations.TaskStatusRunning, got.Status)
	assert.True(t, got.CreatedAt.Equal(base.Add(time.Minute)))

	_, err = s.GetTask(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	err = s.SaveTask(ctx, &operations.TaskSnapshot{})
	assert.ErrorIs(t, err, apperrors.ErrDataValidation)

	tests := []struct {
		name   string
		filter operations.TaskFilter
		want   []string
	}{
		{"all newest first", operations.TaskFilter{}, []string{"t3", "t2", "t1"}},
		{"by batch", operations.TaskFilter{BatchCode: batch}, []string{"t2", "t1"}},
		{"by kind", operations.TaskFilter{Kind: operations.KindCleaning}, []string{"t1"}},
		{"by status", operations.TaskFilter{Status: operations.TaskStatusPending}, []string{"t3"}},
		{"since", operations.TaskFilter{Since: base.Add(30 * time.Second)}, []string{"t3", "t2"}},
		{"limit", operations.TaskFilter{Limit: 1}, []string{"t3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := s.ListTasks(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, len(list))
			for i, snap := range list {
				ids[i] = snap.TaskID
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	// upsert keeps one row per task
	snapshots[1].Status = operations.TaskStatusFailed
	snapshots[1].Error = "boom"
	require.NoError(t, s.SaveTask(ctx, snapshots[1]))
	got, err = s.GetTask(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, operations.TaskStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)

	removed, err := s.DeleteFinishedTasks(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	list, err := s.ListTasks(ctx, operations.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "t3", list[0].TaskID)
}

func TestStore_CleanBatchEndToEnd(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSubjectConfigs(ctx, []domain.SubjectConfig{{
		BatchCode:   batch,
		SubjectName: "math",
		Kind:        domain.SubjectKindExam,
		MaxScore:    10,
		Items:       []domain.ItemConfig{{ItemID: "q1", MaxScore: 5}, {ItemID: "q2", MaxScore: 5}},
	}}))
	require.NoError(t, s.ReplaceRawResponses(ctx, batch, "math", []domain.RawItemResponse{
		{StudentID: "s1", SchoolID: "A", Scores: map[string]float64{"q1": 4, "q2": 5, "ignored": 9}},
		{StudentID: "s2", SchoolID: "B", Scores: map[string]float64{"q1": 2}},
	}))

	cleaner := cleaning.NewCleaner(s, s, slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)), nil)
	report, err := cleaner.CleanBatch(ctx, batch, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.CleanedRecords)

	recs, err := s.LoadCleanedRecords(ctx, domain.CleanedFilter{BatchCode: batch})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 9.0, recs[0].TotalScore)
	assert.Equal(t, 2.0, recs[1].TotalScore)

	verification, err := cleaning.Verify(ctx, s, batch, report)
	require.NoError(t, err)
	assert.True(t, verification.OK(), verification.Problems)
}
