package cleaning_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edustat/internal/cleaning"
	apperrors "edustat/internal/errors"
	"edustat/internal/storage/memory"
	"edustat/pkg/contracts/domain"
)

const batch = "B2026"

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

func examSubject(name string, maxScore float64) domain.SubjectConfig {
	return domain.SubjectConfig{
		BatchCode:   batch,
		SubjectName: name,
		Kind:        domain.SubjectKindExam,
		MaxScore:    maxScore,
		Items: []domain.ItemConfig{
			{ItemID: "item_1", MaxScore: 5},
			{ItemID: "item_2", MaxScore: 5},
		},
	}
}

func raw(subject, studentID, schoolID string, scores map[string]float64) domain.RawItemResponse {
	return domain.RawItemResponse{
		BatchCode:   batch,
		StudentID:   studentID,
		SchoolID:    schoolID,
		SchoolName:  "School " + schoolID,
		SubjectName: subject,
		Scores:      scores,
	}
}

func seed(t *testing.T, store *memory.Store, subjects []domain.SubjectConfig, dims []domain.DimensionConfig, raws map[string][]domain.RawItemResponse) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.UpsertSubjectConfigs(ctx, subjects))
	require.NoError(t, store.UpsertDimensionConfigs(ctx, dims))
	for subject, rows := range raws {
		require.NoError(t, store.ReplaceRawResponses(ctx, batch, subject, rows))
	}
}

func cleanedBySubject(t *testing.T, store *memory.Store, subject string) map[string]domain.CleanedRecord {
	t.Helper()
	recs, err := store.LoadCleanedRecords(context.Background(), domain.CleanedFilter{BatchCode: batch, SubjectName: subject, IncludeInvalid: true})
	require.NoError(t, err)
	out := make(map[string]domain.CleanedRecord, len(recs))
	for _, r := range recs {
		out[r.StudentID] = r
	}
	return out
}

func TestCleanBatch_ExamTotals(t *testing.T) {
	tests := []struct {
		name      string
		maxScore  float64
		wantValid map[string]bool
		anomalous int
	}{
		{name: "all within range", maxScore: 10, wantValid: map[string]bool{"1": true, "2": true}},
		{name: "total above max is flagged", maxScore: 5, wantValid: map[string]bool{"1": false, "2": true}, anomalous: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewStore()
			seed(t, store, []domain.SubjectConfig{examSubject("math", tt.maxScore)}, nil, map[string][]domain.RawItemResponse{
				"math": {
					raw("math", "1", "S1", map[string]float64{"item_1": 3, "item_2": 4}),
					raw("math", "2", "S1", map[string]float64{"item_1": 1, "item_2": 1}),
				},
			})

			report, err := cleaning.NewCleaner(store, store, testLogger(), nil).CleanBatch(context.Background(), batch, nil)
			require.NoError(t, err)
			assert.Equal(t, cleaning.RunCompleted, report.State)
			assert.Equal(t, 2, report.CleanedRecords)
			assert.Equal(t, tt.anomalous, report.AnomalousRecords)

			got := cleanedBySubject(t, store, "math")
			require.Len(t, got, 2)
			assert.Equal(t, 7.0, got["1"].TotalScore)
			assert.Equal(t, 2.0, got["2"].TotalScore)
			for id, valid := range tt.wantValid {
				assert.Equal(t, valid, got[id].IsValid, "student %s", id)
				assert.Equal(t, tt.maxScore, got[id].MaxScore)
			}

			valid, err := store.LoadCleanedRecords(context.Background(), domain.CleanedFilter{BatchCode: batch})
			require.NoError(t, err)
			assert.Len(t, valid, 2-tt.anomalous, "invalid records are excluded by default")
		})
	}
}

func TestCleanBatch_IgnoresNonScorableItemsAndSumsDuplicates(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, []domain.SubjectConfig{examSubject("math", 20)}, nil, map[string][]domain.RawItemResponse{
		"math": {
			raw("math", "1", "S1", map[string]float64{"item_1": 2, "item_2": 3, "comment": 99}),
			raw("math", "1", "S1", map[string]float64{"item_1": 1}),
		},
	})

	report, err := cleaning.NewCleaner(store, store, testLogger(), nil).CleanBatch(context.Background(), batch, nil)
	require.NoError(t, err)

	got := cleanedBySubject(t, store, "math")
	require.Len(t, got, 1)
	assert.Equal(t, 6.0, got["1"].TotalScore)
	assert.Equal(t, 2, got["1"].QuestionCount)
	assert.Equal(t, 1, report.Subjects[0].DuplicateRows)
	assert.Equal(t, 1, report.UniqueStudents)
}

func TestCleanBatch_Idempotent(t *testing.T) {
	store := memory.NewStore()
	dims := []domain.DimensionConfig{{BatchCode: batch, SubjectName: "math", Code: "algebra", ItemIDs: []string{"item_1"}}}
	seed(t, store, []domain.SubjectConfig{examSubject("math", 10)}, dims, map[string][]domain.RawItemResponse{
		"math": {
			raw("math", "2", "S2", map[string]float64{"item_1": 1, "item_2": 1}),
			raw("math", "1", "S1", map[string]float64{"item_1": 3, "item_2": 4}),
		},
	})
	cleaner := cleaning.NewCleaner(store, store, testLogger(), nil)

	_, err := cleaner.CleanBatch(context.Background(), batch, nil)
	require.NoError(t, err)
	first, err := store.LoadCleanedRecords(context.Background(), domain.CleanedFilter{BatchCode: batch, IncludeInvalid: true})
	require.NoError(t, err)

	_, err = cleaner.CleanBatch(context.Background(), batch, nil)
	require.NoError(t, err)
	second, err := store.LoadCleanedRecords(context.Background(), domain.CleanedFilter{BatchCode: batch, IncludeInvalid: true})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, second, 2)
	assert.Equal(t, domain.DimensionScore{Score: 3, MaxScore: 5, ItemCount: 1}, second[0].DimensionScores["algebra"])
}

func TestCleanExam_FractionalTotalsAreStable(t *testing.T) {
	subject := domain.SubjectConfig{BatchCode: batch, SubjectName: "math", Kind: domain.SubjectKindExam, MaxScore: 11.7}
	scores := make(map[string]float64, 20)
	var want float64
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("item_%02d", i)
		v := 0.1*float64(i%7) + 0.3
		subject.Items = append(subject.Items, domain.ItemConfig{ItemID: id, MaxScore: 1})
		scores[id] = v
		want += v
	}
	raws := []domain.RawItemResponse{raw("math", "1", "S1", scores)}

	for run := 0; run < 200; run++ {
		out, err := cleaning.CleanExam(subject, nil, raws)
		require.NoError(t, err)
		require.Len(t, out.Records, 1)
		rec := out.Records[0]
		require.Equal(t, want, rec.TotalScore, "run %d", run)
		require.Equal(t, want <= 11.7, rec.IsValid, "run %d", run)
	}
}

func TestCleanBatch_Questionnaire(t *testing.T) {
	subject := domain.SubjectConfig{
		BatchCode:       batch,
		SubjectName:     "wellbeing",
		Kind:            domain.SubjectKindQuestionnaire,
		ScaleInstrument: cleaning.InstrumentLikert5Negative,
		Items: []domain.ItemConfig{
			{ItemID: "q1", MaxScore: 5},
			{ItemID: "q2", MaxScore: 5},
		},
	}
	store := memory.NewStore()
	seed(t, store, []domain.SubjectConfig{subject}, nil, map[string][]domain.RawItemResponse{
		"wellbeing": {
			raw("wellbeing", "1", "S1", map[string]float64{"q1": 4, "q2": 5}),
			raw("wellbeing", "2", "S1", map[string]float64{"q1": 4}),
		},
	})

	report, err := cleaning.NewCleaner(store, store, testLogger(), nil).CleanBatch(context.Background(), batch, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Subjects[0].QuestionnaireItems)

	items, err := store.LoadQuestionnaireItems(context.Background(), batch, "wellbeing")
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, 4, items[0].OptionLevel)
	assert.Equal(t, 5, items[0].ScaleLevel)
	assert.True(t, items[0].IsReverse)

	dist, err := store.LoadOptionDistribution(context.Background(), batch, "wellbeing")
	require.NoError(t, err)
	assert.Equal(t, []domain.OptionDistribution{
		{BatchCode: batch, SubjectName: "wellbeing", ItemID: "q1", OptionLevel: 4, Count: 2},
		{BatchCode: batch, SubjectName: "wellbeing", ItemID: "q2", OptionLevel: 5, Count: 1},
	}, dist)

	got := cleanedBySubject(t, store, "wellbeing")
	assert.Equal(t, 9.0, got["1"].TotalScore)
	assert.Equal(t, 10.0, got["1"].MaxScore)
	assert.Equal(t, 4.0, got["2"].TotalScore)
	assert.True(t, got["2"].IsValid)
}

func TestCleanBatch_UnrecognizedScaleFallsBack(t *testing.T) {
	subject := domain.SubjectConfig{
		BatchCode:       batch,
		SubjectName:     "habits",
		Kind:            domain.SubjectKindQuestionnaire,
		ScaleInstrument: "FREQUENCY",
		Items:           []domain.ItemConfig{{ItemID: "q1", MaxScore: 4}},
	}
	store := memory.NewStore()
	seed(t, store, []domain.SubjectConfig{subject}, nil, map[string][]domain.RawItemResponse{
		"habits": {raw("habits", "1", "S1", map[string]float64{"q1": 3})},
	})

	report, err := cleaning.NewCleaner(store, store, testLogger(), nil).CleanBatch(context.Background(), batch, nil)
	require.NoError(t, err)
	require.NotNil(t, report.Subjects[0].Scale)
	assert.False(t, report.Subjects[0].Scale.Recognized)
	assert.Equal(t, cleaning.DefaultScaleLevel, report.Subjects[0].Scale.Level)
	assert.False(t, report.Subjects[0].Failed())
}

func TestCleanBatch_SubjectFailureDoesNotAbortRun(t *testing.T) {
	store := memory.NewStore()
	seed(t, store,
		[]domain.SubjectConfig{examSubject("math", 10), examSubject("physics", 10), examSubject("art", 10)},
		nil,
		map[string][]domain.RawItemResponse{
			"math":    {raw("math", "1", "S1", map[string]float64{"item_1": 1})},
			"physics": {raw("physics", "1", "S1", map[string]float64{"item_1": math.NaN()})},
		})

	var order []string
	report, err := cleaning.NewCleaner(store, store, testLogger(), nil).CleanBatch(context.Background(), batch,
		func(done, total int, subject string) { order = append(order, subject) })
	require.NoError(t, err)

	assert.Equal(t, []string{"art", "math", "physics"}, order)
	assert.Equal(t, 3, report.SubjectsProcessed)
	assert.Equal(t, 2, report.SubjectsFailed, "art has no responses and physics has a non-numeric score")
	assert.Len(t, cleanedBySubject(t, store, "math"), 1)
	assert.Empty(t, cleanedBySubject(t, store, "physics"))
	for _, sr := range report.Subjects {
		if sr.SubjectName != "math" {
			assert.True(t, sr.Failed(), sr.SubjectName)
			assert.Zero(t, sr.CleanedRecords)
		}
	}
}

func TestCleanBatch_AbortsRun(t *testing.T) {
	t.Run("no subjects configured", func(t *testing.T) {
		store := memory.NewStore()
		report, err := cleaning.NewCleaner(store, store, testLogger(), nil).CleanBatch(context.Background(), batch, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrConfiguration)
		assert.Equal(t, cleaning.RunFailed, report.State)
	})

	t.Run("dimension references unknown item", func(t *testing.T) {
		store := memory.NewStore()
		seed(t, store, []domain.SubjectConfig{examSubject("math", 10)},
			[]domain.DimensionConfig{{BatchCode: batch, SubjectName: "math", Code: "geo", ItemIDs: []string{"item_9"}}},
			nil)
		_, err := cleaning.NewCleaner(store, store, testLogger(), nil).CleanBatch(context.Background(), batch, nil)
		assert.ErrorIs(t, err, apperrors.ErrConfiguration)
	})

	t.Run("clear fails and previous data survives", func(t *testing.T) {
		store := memory.NewStore()
		seed(t, store, []domain.SubjectConfig{examSubject("math", 10)}, nil, map[string][]domain.RawItemResponse{
			"math": {raw("math", "1", "S1", map[string]float64{"item_1": 1})},
		})
		cleaner := cleaning.NewCleaner(store, store, testLogger(), nil)
		_, err := cleaner.CleanBatch(context.Background(), batch, nil)
		require.NoError(t, err)

		store.FailClear = errors.New("database is locked")
		_, err = cleaner.CleanBatch(context.Background(), batch, nil)
		assert.ErrorIs(t, err, apperrors.ErrStorage)
		assert.Len(t, cleanedBySubject(t, store, "math"), 1)
	})

	t.Run("cancelled context", func(t *testing.T) {
		store := memory.NewStore()
		seed(t, store, []domain.SubjectConfig{examSubject("math", 10)}, nil, map[string][]domain.RawItemResponse{
			"math": {raw("math", "1", "S1", map[string]float64{"item_1": 1})},
		})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := cleaning.NewCleaner(store, store, testLogger(), nil).CleanBatch(ctx, batch, nil)
		assert.ErrorIs(t, err, apperrors.ErrCancelled)
		assert.Empty(t, cleanedBySubject(t, store, "math"))
	})
}

func TestVerify(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, []domain.SubjectConfig{examSubject("math", 5)}, nil, map[string][]domain.RawItemResponse{
		"math": {
			raw("math", "1", "S1", map[string]float64{"item_1": 3, "item_2": 4}),
			raw("math", "2", "S1", map[string]float64{"item_1": 1, "item_2": 1}),
		},
	})
	report, err := cleaning.NewCleaner(store, store, testLogger(), nil).CleanBatch(context.Background(), batch, nil)
	require.NoError(t, err)

	v, err := cleaning.Verify(context.Background(), store, batch, report)
	require.NoError(t, err)
	assert.True(t, v.OK())
	assert.Equal(t, 2, v.Records)
	assert.Equal(t, 1, v.InvalidRecords)

	report.Subjects[0].CleanedRecords = 3
	v, err = cleaning.Verify(context.Background(), store, batch, report)
	require.NoError(t, err)
	assert.False(t, v.OK())
	assert.Equal(t, []string{"math: expected 3 cleaned records, found 2"}, v.Problems)
}
