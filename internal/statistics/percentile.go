package statistics

import (
	"fmt"
	"math"
	"strconv"

	apperrors "edustat/internal/errors"
	"edustat/pkg/contracts/domain"
)

// StandardPercentiles are always reported in PercentileResult.Set
var StandardPercentiles = []float64{10, 25, 50, 75, 90}

// OutlierSummary counts values outside [P_low, P_high]
type OutlierSummary struct {
	LowerPercentile float64 `json:"lower_percentile"`
	UpperPercentile float64 `json:"upper_percentile"`
	LowerBound      float64 `json:"lower_bound"`
	UpperBound      float64 `json:"upper_bound"`
	Count           int     `json:"count"`
	Ratio           float64 `json:"ratio"`
}

// PercentileResult holds the requested percentiles and derived quartiles
type PercentileResult struct {
	Method   PercentileMethod     `json:"method"`
	Values   map[string]float64   `json:"values"`
	Set      domain.PercentileSet `json:"set"`
	Q1       float64              `json:"q1"`
	Q2       float64              `json:"q2"`
	Q3       float64              `json:"q3"`
	IQR      float64              `json:"iqr"`
	Outliers OutlierSummary       `json:"outliers"`
}

// PercentileKey formats p as "P10", "P2.5"
func PercentileKey(p float64) string {
	return "P" + strconv.FormatFloat(p, 'f', -1, 64)
}

// Percentile reads percentile p from an ascending-sorted column.
//
// nearest uses rank floor(n*p/100); the other methods place p at (n-1)*p/100 and
// take the lower or higher neighbour, their midpoint, or interpolate linearly.
// Ranks are clamped to [0, n-1].
func Percentile(sorted []float64, p float64, method PercentileMethod) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	clamp := func(i int) int {
		if i < 0 {
			return 0
		}
		if i > n-1 {
			return n - 1
		}
		return i
	}

	if method == MethodNearest || method == "" {
		return sorted[clamp(int(math.Floor(float64(n)*p/100)))]
	}

	pos := p / 100 * float64(n-1)
	lo, hi := clamp(int(math.Floor(pos))), clamp(int(math.Ceil(pos)))
	switch method {
	case MethodLower:
		return sorted[lo]
	case MethodHigher:
		return sorted[hi]
	case MethodMidpoint:
		return (sorted[lo] + sorted[hi]) / 2
	default:
		if lo == hi {
			return sorted[lo]
		}
		w := pos - float64(lo)
		return sorted[lo]*(1-w) + sorted[hi]*w
	}
}

// Percentiles computes a percentile family over the whole column. It never chunks.
type Percentiles struct{}

func (Percentiles) Name() string { return StrategyPercentiles }

func (Percentiles) Describe() AlgorithmInfo {
	return AlgorithmInfo{
		Name:        StrategyPercentiles,
		Version:     "1.0",
		Description: "educational percentiles with quartiles, IQR and percentile outliers",
		Formula:     "rank = floor(n * p / 100)",
	}
}

func (Percentiles) ValidateInput(data Dataset, cfg Config) ValidationResult {
	v := validateColumn(data, false)
	if cfg.Method != "" && !cfg.Method.Valid() {
		v.fail(fmt.Sprintf("unsupported percentile method %q", cfg.Method))
	}
	for _, p := range cfg.Percentiles {
		if p < 0 || p > 100 {
			v.fail(fmt.Sprintf("percentile %v outside [0, 100]", p))
		}
	}
	return v
}

func (Percentiles) Calculate(data Dataset, cfg Config) (any, error) {
	sorted := sortedCopy(finite(data.Scores))
	if len(sorted) == 0 {
		return nil, apperrors.NewDataValidationError("no valid scores")
	}
	method := cfg.Method
	if method == "" {
		method = MethodNearest
	}

	res := PercentileResult{Method: method, Values: make(map[string]float64, len(cfg.Percentiles))}
	for _, p := range cfg.Percentiles {
		res.Values[PercentileKey(p)] = Percentile(sorted, p, method)
	}
	res.Set = domain.PercentileSet{
		P10: Percentile(sorted, 10, method),
		P25: Percentile(sorted, 25, method),
		P50: Percentile(sorted, 50, method),
		P75: Percentile(sorted, 75, method),
		P90: Percentile(sorted, 90, method),
	}
	res.Q1, res.Q2, res.Q3 = res.Set.P25, res.Set.P50, res.Set.P75
	res.IQR = res.Q3 - res.Q1
	res.Outliers = detectOutliers(sorted, cfg.OutlierLow, cfg.OutlierHigh, method)
	return res, nil
}

// detectOutliers needs at least three values
func detectOutliers(sorted []float64, low, high float64, method PercentileMethod) OutlierSummary {
	out := OutlierSummary{LowerPercentile: low, UpperPercentile: high}
	if len(sorted) < 3 || low >= high {
		return out
	}
	out.LowerBound = Percentile(sorted, low, method)
	out.UpperBound = Percentile(sorted, high, method)
	for _, x := range sorted {
		if x < out.LowerBound || x > out.UpperBound {
			out.Count++
		}
	}
	out.Ratio = float64(out.Count) / float64(len(sorted))
	return out
}
