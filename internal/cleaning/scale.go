package cleaning

import (
	"math"
	"strings"
)

// DefaultScaleLevel is used when the instrument id names no known scale
const DefaultScaleLevel = 4

// Known instrument identifiers.
const (
	InstrumentLikert4Positive = "LIKERT_4_POSITIV"
	InstrumentLikert4Negative = "LIKERT_4_NEGATIVE"
	InstrumentLikert5Positive = "LIKERT_5_POSITIV"
	InstrumentLikert5Negative = "LIKERT_5_NEGATIVE"
	InstrumentSatisfaction7   = "SATISFACTION_7"
	InstrumentSatisfaction10  = "SATISFACTION_10"
)

// Scale describes a resolved rating instrument
type Scale struct {
	Instrument string `json:"instrument"`
	Level      int    `json:"level"`
	Reverse    bool   `json:"reverse"`
	// Recognized is false when Level is the 4-point fallback for an unknown id.
	Recognized bool `json:"recognized"`
}

// ResolveScale derives the scale level from the instrument id by substring match,
// checked in the order 10, 7, 5, 4.
func ResolveScale(instrument string) Scale {
	id := strings.ToUpper(strings.TrimSpace(instrument))
	s := Scale{
		Instrument: instrument,
		Level:      DefaultScaleLevel,
		Reverse:    strings.Contains(id, "NEGATIVE"),
	}

	switch {
	case strings.Contains(id, "10"):
		s.Level, s.Recognized = 10, true
	case strings.Contains(id, "7"):
		s.Level, s.Recognized = 7, true
	case strings.Contains(id, "5"):
		s.Level, s.Recognized = 5, true
	case strings.Contains(id, "4"):
		s.Level, s.Recognized = 4, true
	}
	return s
}

// ScaleLevelForInstrument returns the number of options on the instrument's scale
func ScaleLevelForInstrument(instrument string) int {
	return ResolveScale(instrument).Level
}

// MapToOption maps a raw item score onto a discrete option in [1, scaleLevel]:
// round(raw / itemMax * scaleLevel), halves rounded to even.
func MapToOption(rawScore, itemMaxScore float64, scaleLevel int) int {
	if scaleLevel <= 0 {
		scaleLevel = DefaultScaleLevel
	}
	if itemMaxScore <= 0 || math.IsNaN(rawScore) {
		return 1
	}

	option := int(math.RoundToEven(rawScore / itemMaxScore * float64(scaleLevel)))
	if option < 1 {
		return 1
	}
	if option > scaleLevel {
		return scaleLevel
	}
	return option
}
