package statistics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "edustat/internal/errors"
	"edustat/pkg/contracts/domain"
)

func TestDifficulty(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		want   float64
		level  string
	}{
		{"easy", []float64{7, 8, 9}, 0.8, DifficultyEasy},
		{"medium", []float64{5}, 0.5, DifficultyMedium},
		{"hard", []float64{1, 2}, 0.15, DifficultyHard},
		{"upper bound is medium", []float64{7}, 0.7, DifficultyMedium},
		{"lower bound is medium", []float64{3}, 0.3, DifficultyMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Difficulty{}.Calculate(Dataset{Scores: tt.scores, MaxScore: 10}, DefaultConfig())
			require.NoError(t, err)
			got := v.(DifficultyResult)
			assert.InDelta(t, tt.want, got.Coefficient, 1e-12)
			assert.Equal(t, tt.level, got.Level)
		})
	}

	_, err := Difficulty{}.Calculate(Dataset{Scores: []float64{1}}, DefaultConfig())
	assert.ErrorIs(t, err, apperrors.ErrDataValidation)
}

func TestDiscrimination(t *testing.T) {
	t.Run("insufficient sample falls back to zero", func(t *testing.T) {
		v, err := Discrimination{}.Calculate(Dataset{Scores: []float64{1, 2, 3, 4, 5}, MaxScore: 10}, DefaultConfig())
		require.NoError(t, err)
		got := v.(DiscriminationResult)
		assert.Zero(t, got.Index)
		assert.Equal(t, DiscriminationUnknown, got.Level)
		assert.False(t, got.Sufficient)
		assert.Equal(t, 5, got.SampleSize)
	})

	t.Run("top and bottom 27 percent", func(t *testing.T) {
		scores := []float64{5, 1, 9, 3, 7, 10, 2, 8, 4, 6}
		v, err := Discrimination{}.Calculate(Dataset{Scores: scores, MaxScore: 10}, DefaultConfig())
		require.NoError(t, err)
		got := v.(DiscriminationResult)
		assert.Equal(t, 2, got.GroupSize)
		assert.Equal(t, 9.5, got.HighGroupMean)
		assert.Equal(t, 1.5, got.LowGroupMean)
		assert.InDelta(t, 0.8, got.Index, 1e-12)
		assert.Equal(t, DiscriminationExcellent, got.Level)
		assert.True(t, got.Sufficient)
	})

	t.Run("flat scores do not discriminate", func(t *testing.T) {
		scores := make([]float64, 20)
		for i := range scores {
			scores[i] = 6
		}
		v, err := Discrimination{}.Calculate(Dataset{Scores: scores, MaxScore: 10}, DefaultConfig())
		require.NoError(t, err)
		assert.Equal(t, DiscriminationPoor, v.(DiscriminationResult).Level)
	})
}

func TestDiscriminationLevel(t *testing.T) {
	assert.Equal(t, DiscriminationExcellent, DiscriminationLevel(0.4))
	assert.Equal(t, DiscriminationGood, DiscriminationLevel(0.3))
	assert.Equal(t, DiscriminationAcceptable, DiscriminationLevel(0.2))
	assert.Equal(t, DiscriminationPoor, DiscriminationLevel(0.19))
}

func TestGradeBands(t *testing.T) {
	tests := []struct {
		name       string
		gradeLevel string
		scores     []float64
		preset     string
		bands      []string
		counts     []int
		pass       float64
		excellent  float64
	}{
		{
			name:       "elementary",
			gradeLevel: "3rd_grade",
			scores:     []float64{95, 90, 85, 65, 50},
			preset:     PresetElementary,
			bands:      []string{domain.BandExcellent, domain.BandGood, domain.BandPass, domain.BandFail},
			counts:     []int{2, 1, 1, 1},
			pass:       0.8,
			excellent:  0.6,
		},
		{
			name:       "middle school",
			gradeLevel: "8th_grade",
			scores:     []float64{90, 75, 65, 10},
			preset:     PresetMiddle,
			bands:      []string{domain.BandA, domain.BandB, domain.BandC, domain.BandD},
			counts:     []int{1, 1, 1, 1},
			pass:       0.75,
			excellent:  0.25,
		},
		{
			name:       "unknown level uses elementary",
			gradeLevel: "university",
			scores:     []float64{100},
			preset:     PresetElementary,
			bands:      []string{domain.BandExcellent, domain.BandGood, domain.BandPass, domain.BandFail},
			counts:     []int{1, 0, 0, 0},
			pass:       1,
			excellent:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig().WithGradeLevel(tt.gradeLevel)
			v, err := GradeBands{}.Calculate(Dataset{Scores: tt.scores, MaxScore: 100}, cfg)
			require.NoError(t, err)
			got := v.(GradeResult)

			assert.Equal(t, tt.preset, got.Preset)
			require.Len(t, got.Bands, len(tt.bands))
			total := 0.0
			for i, band := range got.Bands {
				assert.Equal(t, tt.bands[i], band.Name)
				assert.Equal(t, tt.counts[i], band.Count, band.Name)
				total += band.Percentage
			}
			assert.InDelta(t, 1.0, total, 1e-12)
			assert.InDelta(t, tt.pass, got.PassRate, 1e-12)
			assert.InDelta(t, tt.excellent, got.ExcellentRate, 1e-12)
		})
	}
}

func TestDimensionAggregation(t *testing.T) {
	data := Dataset{Dimensions: []DimensionColumn{
		{Code: "a", Scores: []float64{1, 2, 3, 4}, MaxScore: 4, Weight: 1},
		{Code: "b", Scores: []float64{2, 4, 6, 8}, MaxScore: 8, Weight: 3},
		{Code: "c", Scores: []float64{4, 3, 2, 1}, MaxScore: 4},
	}}
	require.True(t, DimensionAggregation{}.ValidateInput(data, DefaultConfig()).Valid)

	v, err := DimensionAggregation{}.Calculate(data, DefaultConfig())
	require.NoError(t, err)
	got := v.(DimensionAggregationResult)

	require.Len(t, got.Dimensions, 3)
	assert.InDelta(t, 2.5, got.Dimensions[0].Mean, 1e-12)
	assert.InDelta(t, 0.625, got.Dimensions[0].ScoreRate, 1e-12)
	assert.True(t, got.Weighted)
	assert.InDelta(t, 0.625, got.WeightedScore, 1e-12)

	require.Len(t, got.Correlations, 3)
	assert.Equal(t, "a", got.Correlations[0].A)
	assert.Equal(t, "b", got.Correlations[0].B)
	assert.InDelta(t, 1, got.Correlations[0].R, 1e-12)
	assert.Equal(t, CorrelationStrong, got.Correlations[0].Strength)
	assert.InDelta(t, -1, got.Correlations[1].R, 1e-12)
	assert.Equal(t, CorrelationStrong, got.Correlations[1].Strength)
}

func TestDimensionAggregation_ValidateInput(t *testing.T) {
	misaligned := Dataset{Dimensions: []DimensionColumn{
		{Code: "a", Scores: []float64{1, 2}, MaxScore: 2},
		{Code: "b", Scores: []float64{1}, MaxScore: 2},
	}}
	assert.False(t, DimensionAggregation{}.ValidateInput(misaligned, DefaultConfig()).Valid)
	assert.False(t, DimensionAggregation{}.ValidateInput(Dataset{}, DefaultConfig()).Valid)
}

func TestCorrelationStrength(t *testing.T) {
	assert.Equal(t, CorrelationWeak, CorrelationStrength(0.29))
	assert.Equal(t, CorrelationModerate, CorrelationStrength(-0.3))
	assert.Equal(t, CorrelationModerate, CorrelationStrength(0.69))
	assert.Equal(t, CorrelationStrong, CorrelationStrength(0.7))
}
