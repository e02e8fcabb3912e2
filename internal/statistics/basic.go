package statistics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	apperrors "edustat/internal/errors"
)

// BasicResult holds descriptive statistics of a column
type BasicResult struct {
	Count    int     `json:"count"`
	Sum      float64 `json:"sum"`
	Mean     float64 `json:"mean"`
	Median   float64 `json:"median"`
	Mode     float64 `json:"mode"`
	StdDev   float64 `json:"std_dev"`
	Variance float64 `json:"variance"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Range    float64 `json:"range"`
	Skewness float64 `json:"skewness"`
	Kurtosis float64 `json:"kurtosis"`
}

type basicPartial struct {
	count    int
	min, max float64
}

// BasicStatistics computes count, mean, sample std-dev (ddof=1), min, max and shape
type BasicStatistics struct{}

func (BasicStatistics) Name() string { return StrategyBasic }

func (BasicStatistics) Describe() AlgorithmInfo {
	return AlgorithmInfo{
		Name:        StrategyBasic,
		Version:     "1.0",
		Description: "descriptive statistics over valid scores",
		Formula:     "sample std-dev, ddof=1",
		Chunkable:   true,
	}
}

func (BasicStatistics) ValidateInput(data Dataset, _ Config) ValidationResult {
	return validateColumn(data, false)
}

func (s BasicStatistics) Calculate(data Dataset, cfg Config) (any, error) {
	scores := finite(data.Scores)
	p, err := s.Partial(scores, data, cfg)
	if err != nil {
		return nil, err
	}
	return s.Merge([]any{p}, data, cfg)
}

func (BasicStatistics) Partial(chunk []float64, _ Dataset, _ Config) (any, error) {
	chunk = finite(chunk)
	if len(chunk) == 0 {
		return basicPartial{}, nil
	}
	return basicPartial{
		count: len(chunk),
		min:   floats.Min(chunk),
		max:   floats.Max(chunk),
	}, nil
}

// Merge adds counts and folds min/max. Sum, dispersion and shape come from the full column
// so chunked and unchunked runs agree exactly.
func (BasicStatistics) Merge(partials []any, data Dataset, _ Config) (any, error) {
	var total basicPartial
	for _, raw := range partials {
		p, ok := raw.(basicPartial)
		if !ok || p.count == 0 {
			continue
		}
		if total.count == 0 {
			total.min, total.max = p.min, p.max
		}
		total.count += p.count
		total.min = math.Min(total.min, p.min)
		total.max = math.Max(total.max, p.max)
	}
	if total.count == 0 {
		return nil, apperrors.NewDataValidationError("no valid scores")
	}

	scores := finite(data.Scores)
	sum := floats.Sum(scores)
	res := BasicResult{
		Count: total.count,
		Sum:   sum,
		Mean:  sum / float64(total.count),
		Min:   total.min,
		Max:   total.max,
		Range: total.max - total.min,
	}
	if total.count > 1 {
		res.Variance = stat.Variance(scores, nil)
		res.StdDev = math.Sqrt(res.Variance)
	}

	sorted := sortedCopy(scores)
	res.Median = median(sorted)
	res.Mode = mode(sorted)
	if res.StdDev > 0 {
		if total.count >= 3 {
			res.Skewness = stat.Skew(scores, nil)
		}
		if total.count >= 4 {
			res.Kurtosis = stat.ExKurtosis(scores, nil)
		}
	}
	return res, nil
}

// MeanStdDev returns the mean and sample std-dev; std-dev is 0 below two samples
func MeanStdDev(xs []float64) (mean, std float64) {
	xs = finite(xs)
	switch len(xs) {
	case 0:
		return 0, 0
	case 1:
		return xs[0], 0
	}
	return stat.MeanStdDev(xs, nil)
}

func sortedCopy(xs []float64) []float64 {
	out := append([]float64(nil), xs...)
	sort.Float64s(out)
	return out
}

// mode returns the smallest of the most frequent values
func mode(sorted []float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	best, bestRun := sorted[0], 0
	for i := 0; i < len(sorted); {
		j := i
		for j < len(sorted) && sorted[j] == sorted[i] {
			j++
		}
		if j-i > bestRun {
			best, bestRun = sorted[i], j-i
		}
		i = j
	}
	return best
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
