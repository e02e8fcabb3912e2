package exporter

import (
	"sort"

	"edustat/pkg/contracts/domain"
)

// Table is a header plus rows of formatted cells
type Table struct {
	Name    string
	Headers []string
	Rows    [][]string
}

var subjectHeaders = []string{
	"batch_code", "aggregation_level", "school_id", "school_name",
	"subject_name", "subject_kind", "max_score", "count",
	"avg", "std_dev", "min", "max",
	"P10", "P25", "P50", "P75", "P90",
	"difficulty", "difficulty_level", "discrimination", "discrimination_level",
	"pass_rate_pct", "excellent_rate_pct", "error",
}

var dimensionHeaders = []string{
	"batch_code", "aggregation_level", "school_id", "subject_name",
	"dimension_code", "dimension_name", "max_score", "count",
	"avg", "std_dev", "min", "max", "P50",
	"difficulty", "discrimination", "score_rate_pct", "error",
}

// StatisticsTable flattens one row per subject statistics record
func StatisticsTable(records []domain.StatisticsRecord) Table {
	t := Table{Name: "subjects", Headers: subjectHeaders}
	for _, rec := range records {
		s := rec.Statistics
		t.Rows = append(t.Rows, []string{
			rec.BatchCode, string(rec.Level), rec.SchoolID, rec.SchoolName,
			s.SubjectName, string(s.Kind), formatFloat(s.MaxScore), formatInt(s.Count),
			formatFloat(s.Avg), formatFloat(s.StdDev), formatFloat(s.Min), formatFloat(s.Max),
			formatFloat(s.Percentiles.P10), formatFloat(s.Percentiles.P25), formatFloat(s.Percentiles.P50),
			formatFloat(s.Percentiles.P75), formatFloat(s.Percentiles.P90),
			formatFloat(s.Difficulty), s.DifficultyLevel, formatFloat(s.Discrimination), s.DiscriminationLevel,
			formatRate(s.PassRate), formatRate(s.ExcellentRate), s.Error,
		})
	}
	return t
}

// DimensionTable flattens one row per dimension, ordered by dimension code
func DimensionTable(records []domain.StatisticsRecord) Table {
	t := Table{Name: "dimensions", Headers: dimensionHeaders}
	for _, rec := range records {
		codes := make([]string, 0, len(rec.Statistics.Dimensions))
		for code := range rec.Statistics.Dimensions {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			d := rec.Statistics.Dimensions[code]
			t.Rows = append(t.Rows, []string{
				rec.BatchCode, string(rec.Level), rec.SchoolID, rec.Statistics.SubjectName,
				d.DimensionCode, d.DimensionName, formatFloat(d.MaxScore), formatInt(d.Count),
				formatFloat(d.Avg), formatFloat(d.StdDev), formatFloat(d.Min), formatFloat(d.Max), formatFloat(d.Percentiles.P50),
				formatFloat(d.Difficulty), formatFloat(d.Discrimination), formatRate(d.ScoreRate), d.Error,
			})
		}
	}
	return t
}
