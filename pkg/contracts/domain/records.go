package domain

import "time"

// RawItemResponse is one student's sparse item-score map for one subject,
// as produced by ingestion. Scores may contain items outside the scorable set.
type RawItemResponse struct {
	BatchCode   string             `json:"batch_code" db:"batch_code"`
	StudentID   string             `json:"student_id" db:"student_id"`
	StudentName string             `json:"student_name,omitempty" db:"student_name"`
	SchoolID    string             `json:"school_id" db:"school_id"`
	SchoolCode  string             `json:"school_code,omitempty" db:"school_code"`
	SchoolName  string             `json:"school_name,omitempty" db:"school_name"`
	ClassName   string             `json:"class_name,omitempty" db:"class_name"`
	SubjectName string             `json:"subject_name" db:"subject_name"`
	Scores      map[string]float64 `json:"scores" db:"scores"`
}

// DimensionScore is a per-student dimension sub-total
type DimensionScore struct {
	Score     float64 `json:"score"`
	MaxScore  float64 `json:"max_score"`
	ItemCount int     `json:"item_count"`
}

// CleanedRecord is the authoritative per-student per-subject aggregate
type CleanedRecord struct {
	BatchCode       string                    `json:"batch_code" db:"batch_code"`
	StudentID       string                    `json:"student_id" db:"student_id"`
	StudentName     string                    `json:"student_name,omitempty" db:"student_name"`
	SchoolID        string                    `json:"school_id" db:"school_id"`
	SchoolCode      string                    `json:"school_code,omitempty" db:"school_code"`
	SchoolName      string                    `json:"school_name,omitempty" db:"school_name"`
	ClassName       string                    `json:"class_name,omitempty" db:"class_name"`
	SubjectName     string                    `json:"subject_name" db:"subject_name"`
	Kind            SubjectKind               `json:"subject_kind" db:"subject_kind"`
	TotalScore      float64                   `json:"total_score" db:"total_score"`
	MaxScore        float64                   `json:"max_score" db:"max_score"`
	QuestionCount   int                       `json:"question_count" db:"question_count"`
	DimensionScores map[string]DimensionScore `json:"dimension_scores" db:"dimension_scores"`
	IsValid         bool                      `json:"is_valid" db:"is_valid"`
}

// InRange reports whether the total lies in [0, max]
func (r CleanedRecord) InRange() bool {
	return r.TotalScore >= 0 && r.TotalScore <= r.MaxScore
}

// QuestionnaireItemRecord is one student's answer to one questionnaire item
type QuestionnaireItemRecord struct {
	BatchCode    string  `json:"batch_code" db:"batch_code"`
	StudentID    string  `json:"student_id" db:"student_id"`
	SchoolID     string  `json:"school_id" db:"school_id"`
	SubjectName  string  `json:"subject_name" db:"subject_name"`
	ItemID       string  `json:"item_id" db:"item_id"`
	RawScore     float64 `json:"raw_score" db:"raw_score"`
	ItemMaxScore float64 `json:"item_max_score" db:"item_max_score"`
	ScaleLevel   int     `json:"scale_level" db:"scale_level"`
	OptionLevel  int     `json:"option_level" db:"option_level"`
	IsReverse    bool    `json:"is_reverse" db:"is_reverse"`
}

// OptionDistribution counts how many students picked an option level for an item
type OptionDistribution struct {
	BatchCode   string `json:"batch_code" db:"batch_code"`
	SubjectName string `json:"subject_name" db:"subject_name"`
	ItemID      string `json:"item_id" db:"item_id"`
	OptionLevel int    `json:"option_level" db:"option_level"`
	Count       int    `json:"count" db:"count"`
}

// School identifies a school participating in a batch
type School struct {
	SchoolID   string `json:"school_id" db:"school_id"`
	SchoolCode string `json:"school_code,omitempty" db:"school_code"`
	SchoolName string `json:"school_name,omitempty" db:"school_name"`
}

// CleanedFilter selects cleaned records for statistics
type CleanedFilter struct {
	BatchCode      string
	SubjectName    string
	SchoolID       string
	IncludeInvalid bool
}

// AggregationLevel is the granularity a statistics row was computed at
type AggregationLevel string

const (
	LevelRegion AggregationLevel = "region"
	LevelSchool AggregationLevel = "school"
)

// StatisticsRecord is one persisted statistics row
type StatisticsRecord struct {
	BatchCode    string            `json:"batch_code" db:"batch_code"`
	Level        AggregationLevel  `json:"aggregation_level" db:"aggregation_level"`
	SchoolID     string            `json:"school_id,omitempty" db:"school_id"`
	SchoolName   string            `json:"school_name,omitempty" db:"school_name"`
	Statistics   SubjectStatistics `json:"statistics" db:"statistics"`
	CalculatedAt time.Time         `json:"calculated_at" db:"calculated_at"`
}
