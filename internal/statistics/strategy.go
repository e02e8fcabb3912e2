package statistics

import (
	"math"
	"time"

	"edustat/internal/config"
)

// Built-in strategy names
const (
	StrategyBasic          = "basic_statistics"
	StrategyPercentiles    = "percentiles"
	StrategyDifficulty     = "difficulty"
	StrategyDiscrimination = "discrimination"
	StrategyGradeBands     = "grade_bands"
	StrategyDimensions     = "dimension_aggregation"
)

// PercentileMethod selects how a percentile rank maps onto the sorted column
type PercentileMethod string

const (
	MethodNearest  PercentileMethod = "nearest"
	MethodLinear   PercentileMethod = "linear"
	MethodLower    PercentileMethod = "lower"
	MethodHigher   PercentileMethod = "higher"
	MethodMidpoint PercentileMethod = "midpoint"
)

// Valid reports whether m is a supported method
func (m PercentileMethod) Valid() bool {
	switch m {
	case MethodNearest, MethodLinear, MethodLower, MethodHigher, MethodMidpoint:
		return true
	}
	return false
}

// DimensionColumn is one dimension's per-student scores, aligned with Dataset.Scores
type DimensionColumn struct {
	Code     string
	Name     string
	Scores   []float64
	MaxScore float64
	Weight   float64
}

// Dataset is the input of every strategy: a score column and its maximum
type Dataset struct {
	Scores     []float64
	MaxScore   float64
	Dimensions []DimensionColumn
}

// Config carries strategy parameters
type Config struct {
	Percentiles              []float64        `json:"percentiles"`
	Method                   PercentileMethod `json:"method"`
	OutlierLow               float64          `json:"outlier_low"`
	OutlierHigh              float64          `json:"outlier_high"`
	GradeLevel               string           `json:"grade_level"`
	GroupFraction            float64          `json:"group_fraction"`
	MinDiscriminationSamples int              `json:"min_discrimination_samples"`
}

// DefaultConfig returns the educational-statistics defaults
func DefaultConfig() Config {
	return Config{
		Percentiles:              []float64{10, 25, 50, 75, 90},
		Method:                   MethodNearest,
		OutlierLow:               1,
		OutlierHigh:              99,
		GradeLevel:               PresetElementary,
		GroupFraction:            0.27,
		MinDiscriminationSamples: 10,
	}
}

// ConfigFrom maps the application configuration onto a strategy Config
func ConfigFrom(c config.StatisticsConfig) Config {
	return Config{
		Percentiles:              append([]float64(nil), c.Percentiles...),
		Method:                   PercentileMethod(c.PercentileMethod),
		OutlierLow:               c.OutlierLow,
		OutlierHigh:              c.OutlierHigh,
		GradeLevel:               c.GradeLevel,
		GroupFraction:            c.GroupFraction,
		MinDiscriminationSamples: c.MinDiscrimination,
	}.withDefaults()
}

// WithGradeLevel returns a copy using the given grade level when it is set
func (c Config) WithGradeLevel(level string) Config {
	if level != "" {
		c.GradeLevel = level
	}
	return c
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if len(c.Percentiles) == 0 {
		c.Percentiles = d.Percentiles
	}
	if c.Method == "" {
		c.Method = d.Method
	}
	if c.OutlierLow == 0 && c.OutlierHigh == 0 {
		c.OutlierLow, c.OutlierHigh = d.OutlierLow, d.OutlierHigh
	}
	if c.GradeLevel == "" {
		c.GradeLevel = d.GradeLevel
	}
	if c.GroupFraction <= 0 {
		c.GroupFraction = d.GroupFraction
	}
	if c.MinDiscriminationSamples <= 0 {
		c.MinDiscriminationSamples = d.MinDiscriminationSamples
	}
	return c
}

// ValidationResult reports input problems. Errors make the input unusable.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (v *ValidationResult) fail(msg string) {
	v.Valid = false
	v.Errors = append(v.Errors, msg)
}

func (v *ValidationResult) warn(msg string) {
	v.Warnings = append(v.Warnings, msg)
}

// AlgorithmInfo describes a strategy
type AlgorithmInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Formula     string `json:"formula,omitempty"`
	Chunkable   bool   `json:"chunkable"`
}

// Strategy is a named, stateless calculation over a Dataset
type Strategy interface {
	Name() string
	Calculate(data Dataset, cfg Config) (any, error)
	ValidateInput(data Dataset, cfg Config) ValidationResult
	Describe() AlgorithmInfo
}

// ChunkStrategy can run over contiguous chunks of the score column.
// Merge receives the full dataset so non-additive figures are recomputed exactly.
type ChunkStrategy interface {
	Strategy
	Partial(chunk []float64, data Dataset, cfg Config) (any, error)
	Merge(partials []any, data Dataset, cfg Config) (any, error)
}

// Meta accompanies every engine result
type Meta struct {
	Algorithm string        `json:"algorithm"`
	DataSize  int           `json:"data_size"`
	Dropped   int           `json:"dropped"`
	Duration  time.Duration `json:"duration"`
	Chunked   bool          `json:"chunked"`
	Chunks    int           `json:"chunks,omitempty"`
	Warnings  []string      `json:"warnings,omitempty"`
}

// Result is a strategy value plus execution metadata
type Result struct {
	Value any  `json:"value"`
	Meta  Meta `json:"meta"`
}

// finite returns the finite values of xs, reusing xs when nothing is dropped
func finite(xs []float64) []float64 {
	for i, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			out := make([]float64, i, len(xs))
			copy(out, xs[:i])
			for _, y := range xs[i+1:] {
				if !math.IsNaN(y) && !math.IsInf(y, 0) {
					out = append(out, y)
				}
			}
			return out
		}
	}
	return xs
}

// validateColumn applies the checks shared by every single-column strategy
func validateColumn(data Dataset, needMax bool) ValidationResult {
	v := ValidationResult{Valid: true}
	if len(data.Scores) == 0 {
		v.fail("empty dataset")
		return v
	}
	valid := len(finite(data.Scores))
	if valid == 0 {
		v.fail("no valid scores")
	} else if dropped := len(data.Scores) - valid; dropped > 0 {
		v.warn("dropped non-numeric scores")
	}
	if needMax && data.MaxScore <= 0 {
		v.fail("max score must be positive")
	}
	return v
}
