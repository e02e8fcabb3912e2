package statistics

import (
	"gonum.org/v1/gonum/floats"

	apperrors "edustat/internal/errors"
)

// Difficulty levels
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// DifficultyResult is the mean score rate of a column
type DifficultyResult struct {
	Coefficient float64 `json:"coefficient"`
	Level       string  `json:"level"`
}

// DifficultyLevel buckets a coefficient: easy above 0.7, hard below 0.3
func DifficultyLevel(coefficient float64) string {
	switch {
	case coefficient > 0.7:
		return DifficultyEasy
	case coefficient < 0.3:
		return DifficultyHard
	default:
		return DifficultyMedium
	}
}

// countPartial carries only the additive valid-score count of a chunk
type countPartial struct {
	count int
}

// Difficulty computes mean(score) / max_score
type Difficulty struct{}

func (Difficulty) Name() string { return StrategyDifficulty }

func (Difficulty) Describe() AlgorithmInfo {
	return AlgorithmInfo{
		Name:        StrategyDifficulty,
		Version:     "1.0",
		Description: "difficulty coefficient",
		Formula:     "mean(score) / max_score",
		Chunkable:   true,
	}
}

func (Difficulty) ValidateInput(data Dataset, _ Config) ValidationResult {
	return validateColumn(data, true)
}

func (s Difficulty) Calculate(data Dataset, cfg Config) (any, error) {
	p, err := s.Partial(data.Scores, data, cfg)
	if err != nil {
		return nil, err
	}
	return s.Merge([]any{p}, data, cfg)
}

func (Difficulty) Partial(chunk []float64, _ Dataset, _ Config) (any, error) {
	return countPartial{count: len(finite(chunk))}, nil
}

func (Difficulty) Merge(partials []any, data Dataset, _ Config) (any, error) {
	if data.MaxScore <= 0 {
		return nil, apperrors.NewDataValidationError("max score must be positive")
	}
	var total countPartial
	for _, raw := range partials {
		if p, ok := raw.(countPartial); ok {
			total.count += p.count
		}
	}
	if total.count == 0 {
		return nil, apperrors.NewDataValidationError("no valid scores")
	}
	c := floats.Sum(finite(data.Scores)) / float64(total.count) / data.MaxScore
	return DifficultyResult{Coefficient: c, Level: DifficultyLevel(c)}, nil
}
