package domain

// Grade band names. Elementary presets use the first four, middle school the letter grades.
const (
	BandExcellent = "excellent"
	BandGood      = "good"
	BandPass      = "pass"
	BandFail      = "fail"
	BandA         = "A"
	BandB         = "B"
	BandC         = "C"
	BandD         = "D"
)

// GradeBand reports the population of one grade band. Percentage is a fraction in [0, 1].
type GradeBand struct {
	Name       string  `json:"name"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// DimensionCorrelation is the Pearson correlation of two dimensions' scores
type DimensionCorrelation struct {
	A        string  `json:"a"`
	B        string  `json:"b"`
	R        float64 `json:"r"`
	Strength string  `json:"strength"`
}

// PercentileSet holds the standard educational percentiles
type PercentileSet struct {
	P10 float64 `json:"P10"`
	P25 float64 `json:"P25"`
	P50 float64 `json:"P50"`
	P75 float64 `json:"P75"`
	P90 float64 `json:"P90"`
}

// DimensionStatistics is the per-dimension subset of SubjectStatistics
type DimensionStatistics struct {
	DimensionCode  string        `json:"dimension_code"`
	DimensionName  string        `json:"dimension_name,omitempty"`
	MaxScore       float64       `json:"max_score"`
	Count          int           `json:"count"`
	Avg            float64       `json:"avg"`
	StdDev         float64       `json:"std_dev"`
	Min            float64       `json:"min"`
	Max            float64       `json:"max"`
	Percentiles    PercentileSet `json:"percentiles"`
	Difficulty     float64       `json:"difficulty"`
	Discrimination float64       `json:"discrimination"`
	ScoreRate      float64       `json:"score_rate"`
	GradeBands     []GradeBand   `json:"grade_bands"`
	Error          string        `json:"error,omitempty"`
}

// SubjectStatistics is the nested statistics result for one subject at one level
type SubjectStatistics struct {
	SubjectName         string                         `json:"subject_name"`
	Kind                SubjectKind                    `json:"subject_kind"`
	MaxScore            float64                        `json:"max_score"`
	Count               int                            `json:"count"`
	Avg                 float64                        `json:"avg"`
	StdDev              float64                        `json:"std_dev"`
	Min                 float64                        `json:"min"`
	Max                 float64                        `json:"max"`
	Percentiles         PercentileSet                  `json:"percentiles"`
	Difficulty          float64                        `json:"difficulty"`
	DifficultyLevel     string                         `json:"difficulty_level"`
	Discrimination      float64                        `json:"discrimination"`
	DiscriminationLevel string                         `json:"discrimination_level"`
	PassRate            float64                        `json:"pass_rate"`
	ExcellentRate       float64                        `json:"excellent_rate"`
	GradeBands          []GradeBand                    `json:"grade_bands"`
	Dimensions          map[string]DimensionStatistics `json:"dimensions,omitempty"`
	Correlations        []DimensionCorrelation         `json:"dimension_correlations,omitempty"`
	WeightedScoreRate   float64                        `json:"weighted_score_rate,omitempty"`
	// Error is set when this entry is a zero-valued placeholder for a failed computation.
	Error string `json:"error,omitempty"`
}

// Placeholder reports whether the statistics are a failure placeholder
func (s SubjectStatistics) Placeholder() bool {
	return s.Error != ""
}
