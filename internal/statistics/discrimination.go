package statistics

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	apperrors "edustat/internal/errors"
)

// Discrimination levels
const (
	DiscriminationExcellent  = "excellent"
	DiscriminationGood       = "good"
	DiscriminationAcceptable = "acceptable"
	DiscriminationPoor       = "poor"
	DiscriminationUnknown    = "unknown"
)

// DiscriminationResult contrasts the top and bottom groups of a column
type DiscriminationResult struct {
	Index         float64 `json:"index"`
	Level         string  `json:"level"`
	HighGroupMean float64 `json:"high_group_mean"`
	LowGroupMean  float64 `json:"low_group_mean"`
	GroupSize     int     `json:"group_size"`
	SampleSize    int     `json:"sample_size"`
	Sufficient    bool    `json:"sufficient"`
}

// DiscriminationLevel labels an index
func DiscriminationLevel(index float64) string {
	switch {
	case index >= 0.4:
		return DiscriminationExcellent
	case index >= 0.3:
		return DiscriminationGood
	case index >= 0.2:
		return DiscriminationAcceptable
	default:
		return DiscriminationPoor
	}
}

// Discrimination computes (mean(top k) - mean(bottom k)) / max_score with
// k = max(1, floor(n * fraction)). Below the minimum sample size it reports 0 / unknown.
type Discrimination struct{}

func (Discrimination) Name() string { return StrategyDiscrimination }

func (Discrimination) Describe() AlgorithmInfo {
	return AlgorithmInfo{
		Name:        StrategyDiscrimination,
		Version:     "1.0",
		Description: "upper/lower 27% group discrimination",
		Formula:     "(mean(high group) - mean(low group)) / max_score",
	}
}

func (Discrimination) ValidateInput(data Dataset, cfg Config) ValidationResult {
	v := validateColumn(data, true)
	if n := len(finite(data.Scores)); n > 0 && n < cfg.MinDiscriminationSamples {
		v.warn(fmt.Sprintf("only %d samples, discrimination reported as 0", n))
	}
	return v
}

func (Discrimination) Calculate(data Dataset, cfg Config) (any, error) {
	if data.MaxScore <= 0 {
		return nil, apperrors.NewDataValidationError("max score must be positive")
	}
	scores := finite(data.Scores)
	n := len(scores)
	res := DiscriminationResult{SampleSize: n, Level: DiscriminationUnknown}
	if n == 0 || n < cfg.MinDiscriminationSamples {
		return res, nil
	}

	fraction := cfg.GroupFraction
	if fraction <= 0 {
		fraction = DefaultConfig().GroupFraction
	}
	k := int(float64(n) * fraction)
	if k < 1 {
		k = 1
	}

	ordered := append([]float64(nil), scores...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i] > ordered[j] })

	res.GroupSize = k
	res.HighGroupMean = stat.Mean(ordered[:k], nil)
	res.LowGroupMean = stat.Mean(ordered[n-k:], nil)
	res.Index = (res.HighGroupMean - res.LowGroupMean) / data.MaxScore
	res.Level = DiscriminationLevel(res.Index)
	res.Sufficient = true
	return res, nil
}
