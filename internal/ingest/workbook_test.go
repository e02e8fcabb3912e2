package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	apperrors "edustat/internal/errors"
	"edustat/internal/storage/memory"
	"edustat/pkg/contracts/domain"
)

const batch = "B2026"

var header = []interface{}{"student_id", "student_name", "school_id", "school_code", "school_name", "class_name", "subject_name", "q1", "q2", "w1"}

// buildWorkbook writes each sheet's rows starting at A1
func buildWorkbook(t *testing.T, sheets map[string][][]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	first := true
	for name, rows := range sheets {
		if first {
			require.NoError(t, f.SetSheetName("Sheet1", name))
			first = false
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for i, row := range rows {
			row := row
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestParseWorkbook(t *testing.T) {
	buf := buildWorkbook(t, map[string][][]interface{}{
		"responses": {
			{"Exam 2026 responses"},
			header,
			{"s1", "Ana", "A", "A01", "School A", "3-1", "math", 4, 5, nil},
			{"s2", "Ben", "B", "B01", "School B", "3-2", "math", 2.5, nil, nil},
			{},
			{"s1", "Ana", "A", "A01", "School A", "3-1", "wellbeing", nil, nil, 3},
			{"", "", "A", "", "", "", "math", 1, 1, nil},
			{"s3", "Cy", "A", "", "", "", "math", "abc", 1, nil},
		},
	})

	wb, err := ParseWorkbook(buf, batch)
	require.NoError(t, err)

	assert.Equal(t, []string{"responses"}, wb.Report.Sheets)
	assert.Equal(t, 5, wb.Report.Rows)
	assert.Equal(t, 2, wb.Report.SkippedRows)
	assert.Len(t, wb.Report.Warnings, 2)
	assert.Equal(t, map[string]int{"math": 2, "wellbeing": 1}, wb.Report.RowsBySubject)
	assert.Equal(t, []string{"math", "wellbeing"}, wb.SubjectNames())

	math := wb.Subjects["math"]
	require.Len(t, math, 2)
	assert.Equal(t, domain.RawItemResponse{
		BatchCode:   batch,
		StudentID:   "s1",
		StudentName: "Ana",
		SchoolID:    "A",
		SchoolCode:  "A01",
		SchoolName:  "School A",
		ClassName:   "3-1",
		SubjectName: "math",
		Scores:      map[string]float64{"q1": 4, "q2": 5},
	}, math[0])
	assert.Equal(t, map[string]float64{"q1": 2.5}, math[1].Scores, "empty cells are not answers")
	assert.Equal(t, map[string]float64{"w1": 3}, wb.Subjects["wellbeing"][0].Scores)
}

func TestParseWorkbook_SheetsWithoutHeader(t *testing.T) {
	tests := []struct {
		name   string
		sheets map[string][][]interface{}
	}{
		{"no header", map[string][][]interface{}{"notes": {{"free text"}}}},
		{"no item columns", map[string][][]interface{}{"meta": {{"student_id", "subject_name"}, {"s1", "math"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWorkbook(buildWorkbook(t, tt.sheets), batch)
			assert.ErrorIs(t, err, apperrors.ErrDataValidation)
		})
	}

	_, err := ParseWorkbook(bytes.NewBufferString("not a workbook"), batch)
	assert.ErrorIs(t, err, apperrors.ErrDataValidation)
}

func TestParseWorkbook_MultipleSheets(t *testing.T) {
	buf := buildWorkbook(t, map[string][][]interface{}{
		"math":  {header, {"s1", "", "A", "", "", "", "math", 1, 2, nil}},
		"notes": {{"ignored"}},
	})

	wb, err := ParseWorkbook(buf, batch)
	require.NoError(t, err)
	assert.Equal(t, []string{"math"}, wb.Report.Sheets)
	assert.Len(t, wb.Report.Warnings, 1)
	assert.Len(t, wb.Subjects["math"], 1)
}

type failingWriter struct{ err error }

func (f failingWriter) ReplaceRawResponses(context.Context, string, string, []domain.RawItemResponse) error {
	return f.err
}

func TestImporter_ImportWorkbook(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))

	// existing rows of a subject absent from the workbook survive
	require.NoError(t, store.ReplaceRawResponses(ctx, batch, "science", []domain.RawItemResponse{{StudentID: "old"}}))

	rows := [][]interface{}{header}
	for i := 0; i < 3; i++ {
		rows = append(rows, []interface{}{fmt.Sprintf("s%d", i), "", "A", "", "", "", "math", i, 1, nil})
	}
	report, err := NewImporter(store, logger).ImportWorkbook(ctx, buildWorkbook(t, map[string][][]interface{}{"r": rows}), batch)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Rows)

	math, err := store.LoadRawResponses(ctx, batch, "math")
	require.NoError(t, err)
	require.Len(t, math, 3)
	assert.Equal(t, 2.0, math[2].Scores["q1"])

	science, err := store.LoadRawResponses(ctx, batch, "science")
	require.NoError(t, err)
	assert.Len(t, science, 1)

	_, err = NewImporter(failingWriter{err: errors.New("disk full")}, logger).
		ImportWorkbook(ctx, buildWorkbook(t, map[string][][]interface{}{"r": rows}), batch)
	assert.ErrorIs(t, err, apperrors.ErrStorage)
}
