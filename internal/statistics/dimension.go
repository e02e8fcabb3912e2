package statistics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	apperrors "edustat/internal/errors"
	"edustat/pkg/contracts/domain"
)

// Correlation strength labels
const (
	CorrelationWeak     = "weak"
	CorrelationModerate = "moderate"
	CorrelationStrong   = "strong"
)

// CorrelationStrength labels |r|: weak below 0.3, moderate below 0.7, strong otherwise
func CorrelationStrength(r float64) string {
	switch a := math.Abs(r); {
	case a < 0.3:
		return CorrelationWeak
	case a < 0.7:
		return CorrelationModerate
	default:
		return CorrelationStrong
	}
}

// DimensionSummary describes one dimension column
type DimensionSummary struct {
	Code        string               `json:"code"`
	Name        string               `json:"name,omitempty"`
	MaxScore    float64              `json:"max_score"`
	Weight      float64              `json:"weight,omitempty"`
	Count       int                  `json:"count"`
	Mean        float64              `json:"mean"`
	StdDev      float64              `json:"std_dev"`
	ScoreRate   float64              `json:"score_rate"`
	Percentiles domain.PercentileSet `json:"percentiles"`
	Skewness    float64              `json:"skewness"`
	Kurtosis    float64              `json:"kurtosis"`
}

// DimensionAggregationResult summarizes every dimension of a subject
type DimensionAggregationResult struct {
	Dimensions    []DimensionSummary            `json:"dimensions"`
	Correlations  []domain.DimensionCorrelation `json:"correlations"`
	WeightedScore float64                       `json:"weighted_score"`
	Weighted      bool                          `json:"weighted"`
}

// DimensionAggregation summarizes aligned dimension columns and correlates them
type DimensionAggregation struct{}

func (DimensionAggregation) Name() string { return StrategyDimensions }

func (DimensionAggregation) Describe() AlgorithmInfo {
	return AlgorithmInfo{
		Name:        StrategyDimensions,
		Version:     "1.0",
		Description: "per-dimension summaries, Pearson correlation matrix and weighted score rate",
		Formula:     "weighted = sum(w_i * rate_i) / sum(w_i)",
	}
}

func (DimensionAggregation) ValidateInput(data Dataset, _ Config) ValidationResult {
	v := ValidationResult{Valid: true}
	if len(data.Dimensions) == 0 {
		v.fail("no dimensions")
		return v
	}
	n := len(data.Dimensions[0].Scores)
	for _, d := range data.Dimensions {
		if len(d.Scores) == 0 {
			v.fail(fmt.Sprintf("dimension %s has no scores", d.Code))
		}
		if len(d.Scores) != n {
			v.fail(fmt.Sprintf("dimension %s is not aligned with the other dimensions", d.Code))
		}
		if d.MaxScore <= 0 {
			v.fail(fmt.Sprintf("dimension %s max score must be positive", d.Code))
		}
		if d.Weight < 0 {
			v.fail(fmt.Sprintf("dimension %s has a negative weight", d.Code))
		}
	}
	return v
}

func (DimensionAggregation) Calculate(data Dataset, cfg Config) (any, error) {
	if len(data.Dimensions) == 0 {
		return nil, apperrors.NewDataValidationError("no dimensions")
	}

	res := DimensionAggregationResult{Dimensions: make([]DimensionSummary, 0, len(data.Dimensions))}
	var weightSum, weighted float64
	for _, d := range data.Dimensions {
		scores := finite(d.Scores)
		if len(scores) == 0 || d.MaxScore <= 0 {
			return nil, apperrors.NewDataValidationError(fmt.Sprintf("dimension %s has no usable scores", d.Code))
		}
		sorted := sortedCopy(scores)
		mean, std := MeanStdDev(scores)
		summary := DimensionSummary{
			Code:      d.Code,
			Name:      d.Name,
			MaxScore:  d.MaxScore,
			Weight:    d.Weight,
			Count:     len(scores),
			Mean:      mean,
			StdDev:    std,
			ScoreRate: mean / d.MaxScore,
			Percentiles: domain.PercentileSet{
				P10: Percentile(sorted, 10, cfg.Method),
				P25: Percentile(sorted, 25, cfg.Method),
				P50: Percentile(sorted, 50, cfg.Method),
				P75: Percentile(sorted, 75, cfg.Method),
				P90: Percentile(sorted, 90, cfg.Method),
			},
		}
		if std > 0 {
			if len(scores) >= 3 {
				summary.Skewness = stat.Skew(scores, nil)
			}
			if len(scores) >= 4 {
				summary.Kurtosis = stat.ExKurtosis(scores, nil)
			}
		}
		res.Dimensions = append(res.Dimensions, summary)

		if d.Weight > 0 {
			weightSum += d.Weight
			weighted += d.Weight * summary.ScoreRate
		}
	}
	if weightSum > 0 {
		res.WeightedScore = weighted / weightSum
		res.Weighted = true
	}

	for i := 0; i < len(data.Dimensions); i++ {
		for j := i + 1; j < len(data.Dimensions); j++ {
			a, b := data.Dimensions[i], data.Dimensions[j]
			r := pearson(a.Scores, b.Scores)
			res.Correlations = append(res.Correlations, domain.DimensionCorrelation{
				A: a.Code, B: b.Code, R: r, Strength: CorrelationStrength(r),
			})
		}
	}
	return res, nil
}

// pearson returns 0 when the correlation is undefined
func pearson(a, b []float64) float64 {
	if len(a) != len(b) || len(a) < 2 {
		return 0
	}
	r := stat.Correlation(a, b, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}
