package statistics

import (
	"strings"

	"gonum.org/v1/gonum/floats"

	apperrors "edustat/internal/errors"
	"edustat/pkg/contracts/domain"
)

// Grade preset names
const (
	PresetElementary = "elementary"
	PresetMiddle     = "middle"
)

// Pass and excellent cut points as a fraction of max score
const (
	PassRatio      = 0.60
	ExcellentRatio = 0.85
)

// BandCutoff is the inclusive lower bound of a band as a fraction of max score
type BandCutoff struct {
	Band     string
	MinRatio float64
}

// GradePreset is an ordered list of bands, highest first. The last band takes
// everything below the previous cutoff.
type GradePreset struct {
	Name    string
	Cutoffs []BandCutoff
}

var (
	elementaryPreset = GradePreset{Name: PresetElementary, Cutoffs: []BandCutoff{
		{domain.BandExcellent, 0.90},
		{domain.BandGood, 0.80},
		{domain.BandPass, 0.60},
		{domain.BandFail, 0},
	}}
	middlePreset = GradePreset{Name: PresetMiddle, Cutoffs: []BandCutoff{
		{domain.BandA, 0.85},
		{domain.BandB, 0.70},
		{domain.BandC, 0.60},
		{domain.BandD, 0},
	}}
)

// ResolveGradePreset maps a grade level ("3rd_grade", "8th_grade", "middle") to its
// preset. Grades 7-9 use the A/B/C/D scheme; anything else the elementary scheme.
func ResolveGradePreset(gradeLevel string) GradePreset {
	level := strings.ToLower(strings.TrimSpace(gradeLevel))
	switch level {
	case PresetMiddle, "7th_grade", "8th_grade", "9th_grade":
		return middlePreset
	}
	return elementaryPreset
}

// Classify returns the band index of score
func (p GradePreset) Classify(score, maxScore float64) int {
	last := len(p.Cutoffs) - 1
	for i, c := range p.Cutoffs[:last] {
		if score >= c.MinRatio*maxScore {
			return i
		}
	}
	return last
}

// GradeResult is the band distribution of a column.
// Band percentages are fractions in [0, 1].
type GradeResult struct {
	Preset        string             `json:"preset"`
	Bands         []domain.GradeBand `json:"bands"`
	PassRate      float64            `json:"pass_rate"`
	ExcellentRate float64            `json:"excellent_rate"`
	ScoreRate     float64            `json:"score_rate"`
}

type gradePartial struct {
	counts    []int
	pass      int
	excellent int
	countPartial
}

// GradeBands distributes scores over the preset selected by Config.GradeLevel
type GradeBands struct{}

func (GradeBands) Name() string { return StrategyGradeBands }

func (GradeBands) Describe() AlgorithmInfo {
	return AlgorithmInfo{
		Name:        StrategyGradeBands,
		Version:     "1.0",
		Description: "grade band distribution with pass and excellent rates",
		Formula:     "elementary 90/80/60, middle 85/70/60 percent of max",
		Chunkable:   true,
	}
}

func (GradeBands) ValidateInput(data Dataset, _ Config) ValidationResult {
	return validateColumn(data, true)
}

func (s GradeBands) Calculate(data Dataset, cfg Config) (any, error) {
	p, err := s.Partial(data.Scores, data, cfg)
	if err != nil {
		return nil, err
	}
	return s.Merge([]any{p}, data, cfg)
}

func (GradeBands) Partial(chunk []float64, data Dataset, cfg Config) (any, error) {
	preset := ResolveGradePreset(cfg.GradeLevel)
	p := gradePartial{counts: make([]int, len(preset.Cutoffs))}
	for _, x := range finite(chunk) {
		p.counts[preset.Classify(x, data.MaxScore)]++
		if x >= PassRatio*data.MaxScore {
			p.pass++
		}
		if x >= ExcellentRatio*data.MaxScore {
			p.excellent++
		}
		p.count++
	}
	return p, nil
}

func (GradeBands) Merge(partials []any, data Dataset, cfg Config) (any, error) {
	if data.MaxScore <= 0 {
		return nil, apperrors.NewDataValidationError("max score must be positive")
	}
	preset := ResolveGradePreset(cfg.GradeLevel)
	total := gradePartial{counts: make([]int, len(preset.Cutoffs))}
	for _, raw := range partials {
		p, ok := raw.(gradePartial)
		if !ok {
			continue
		}
		for i, c := range p.counts {
			total.counts[i] += c
		}
		total.pass += p.pass
		total.excellent += p.excellent
		total.count += p.count
	}
	if total.count == 0 {
		return nil, apperrors.NewDataValidationError("no valid scores")
	}

	n := float64(total.count)
	res := GradeResult{
		Preset:        preset.Name,
		Bands:         make([]domain.GradeBand, len(preset.Cutoffs)),
		PassRate:      float64(total.pass) / n,
		ExcellentRate: float64(total.excellent) / n,
		ScoreRate:     floats.Sum(finite(data.Scores)) / n / data.MaxScore,
	}
	for i, c := range preset.Cutoffs {
		res.Bands[i] = domain.GradeBand{Name: c.Band, Count: total.counts[i], Percentage: float64(total.counts[i]) / n}
	}
	return res, nil
}
