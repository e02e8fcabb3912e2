package cleaning

import (
	"context"
	"fmt"

	"edustat/pkg/contracts/domain"
)

// Verification is the result of re-reading a batch's committed cleaned data
type Verification struct {
	BatchCode        string         `json:"batch_code"`
	Records          int            `json:"records"`
	InvalidRecords   int            `json:"invalid_records"`
	RecordsBySubject map[string]int `json:"records_by_subject"`
	Problems         []string       `json:"problems,omitempty"`
}

// OK reports whether verification found no problems
func (v *Verification) OK() bool {
	return len(v.Problems) == 0
}

// Verify checks committed cleaned records against the run report: per-subject
// record counts must match and is_valid must agree with the [0, max] range.
// report may be nil, in which case only the range invariant is checked.
// Mismatches are returned in Problems; the error is reserved for read failures.
func Verify(ctx context.Context, reader CleanedReader, batchCode string, report *Report) (*Verification, error) {
	records, err := reader.LoadCleanedRecords(ctx, domain.CleanedFilter{BatchCode: batchCode, IncludeInvalid: true})
	if err != nil {
		return nil, wrapStorage("load cleaned records", err)
	}

	v := &Verification{BatchCode: batchCode, RecordsBySubject: make(map[string]int)}
	for _, rec := range records {
		v.Records++
		v.RecordsBySubject[rec.SubjectName]++
		if !rec.IsValid {
			v.InvalidRecords++
		}
		if rec.IsValid != rec.InRange() {
			v.Problems = append(v.Problems, fmt.Sprintf("%s/%s: is_valid=%t but total %.2f of %.2f",
				rec.SubjectName, rec.StudentID, rec.IsValid, rec.TotalScore, rec.MaxScore))
		}
	}

	if report != nil {
		for _, sr := range report.Subjects {
			if sr.Failed() {
				continue
			}
			if got := v.RecordsBySubject[sr.SubjectName]; got != sr.CleanedRecords {
				v.Problems = append(v.Problems, fmt.Sprintf("%s: expected %d cleaned records, found %d",
					sr.SubjectName, sr.CleanedRecords, got))
			}
		}
		if v.InvalidRecords != report.AnomalousRecords {
			v.Problems = append(v.Problems, fmt.Sprintf("expected %d anomalous records, found %d",
				report.AnomalousRecords, v.InvalidRecords))
		}
	}

	return v, nil
}
