package domain

import "sort"

// SubjectKind classifies how a subject is scored
type SubjectKind string

const (
	SubjectKindExam          SubjectKind = "exam"
	SubjectKindInteractive   SubjectKind = "interactive"
	SubjectKindQuestionnaire SubjectKind = "questionnaire"
)

// IsQuestionnaire reports whether the subject is a rating-scale questionnaire
func (k SubjectKind) IsQuestionnaire() bool {
	return k == SubjectKindQuestionnaire
}

// ItemConfig describes a single scorable item of a subject
type ItemConfig struct {
	ItemID   string  `json:"item_id" yaml:"item_id" validate:"required"`
	MaxScore float64 `json:"max_score" yaml:"max_score" validate:"gt=0"`
	// Dimension is informational only; membership is driven by DimensionConfig.
	Dimension string `json:"dimension,omitempty" yaml:"dimension,omitempty"`
}

// SubjectConfig is the per-batch scoring configuration of a subject.
// Items lists scorable items only; anything else found in raw responses is ignored.
type SubjectConfig struct {
	BatchCode       string       `json:"batch_code" yaml:"batch_code" validate:"required"`
	SubjectName     string       `json:"subject_name" yaml:"subject_name" validate:"required"`
	Kind            SubjectKind  `json:"subject_kind" yaml:"subject_kind" validate:"required,oneof=exam interactive questionnaire"`
	MaxScore        float64      `json:"max_score" yaml:"max_score" validate:"gte=0"`
	Items           []ItemConfig `json:"items" yaml:"items" validate:"required,min=1,dive"`
	ScaleInstrument string       `json:"scale_instrument,omitempty" yaml:"scale_instrument,omitempty" validate:"required_if=Kind questionnaire"`
	GradeLevel      string       `json:"grade_level,omitempty" yaml:"grade_level,omitempty"`
}

// TotalMaxScore returns the configured subject maximum, or the sum of item maxima when unset
func (c SubjectConfig) TotalMaxScore() float64 {
	if c.MaxScore > 0 {
		return c.MaxScore
	}
	return c.ItemMaxSum()
}

// CleanedMaxScore is the max_score written on cleaned records: the subject maximum
// for exams, the sum of item maxima for questionnaires.
func (c SubjectConfig) CleanedMaxScore() float64 {
	if c.Kind.IsQuestionnaire() {
		return c.ItemMaxSum()
	}
	return c.TotalMaxScore()
}

// ItemMaxSum sums the configured maxima of all scorable items
func (c SubjectConfig) ItemMaxSum() float64 {
	var sum float64
	for _, item := range c.Items {
		sum += item.MaxScore
	}
	return sum
}

// ItemMaxScores returns item id -> max score
func (c SubjectConfig) ItemMaxScores() map[string]float64 {
	out := make(map[string]float64, len(c.Items))
	for _, item := range c.Items {
		out[item.ItemID] = item.MaxScore
	}
	return out
}

// ItemIDs returns the scorable item ids in configuration order
func (c SubjectConfig) ItemIDs() []string {
	ids := make([]string, len(c.Items))
	for i, item := range c.Items {
		ids[i] = item.ItemID
	}
	return ids
}

// DimensionConfig groups a subset of a subject's items into a named sub-construct.
// Items may belong to several dimensions.
type DimensionConfig struct {
	BatchCode   string   `json:"batch_code" yaml:"batch_code" validate:"required"`
	SubjectName string   `json:"subject_name" yaml:"subject_name" validate:"required"`
	Code        string   `json:"dimension_code" yaml:"dimension_code" validate:"required"`
	Name        string   `json:"dimension_name" yaml:"dimension_name"`
	ItemIDs     []string `json:"item_ids" yaml:"item_ids" validate:"required,min=1,dive,required"`
	Weight      float64  `json:"weight,omitempty" yaml:"weight,omitempty" validate:"gte=0"`
}

// SortSubjects orders subject configs by name, ascending
func SortSubjects(subjects []SubjectConfig) {
	sort.SliceStable(subjects, func(i, j int) bool {
		return subjects[i].SubjectName < subjects[j].SubjectName
	})
}

// DimensionsFor filters dimension configs belonging to the given subject
func DimensionsFor(dims []DimensionConfig, subject string) []DimensionConfig {
	var out []DimensionConfig
	for _, d := range dims {
		if d.SubjectName == subject {
			out = append(out, d)
		}
	}
	return out
}
