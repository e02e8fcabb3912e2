package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	apperrors "edustat/internal/errors"
	"edustat/internal/infrastructure"
	"edustat/pkg/contracts/domain"
)

// Metadata column headers
const (
	ColStudentID   = "student_id"
	ColStudentName = "student_name"
	ColSchoolID    = "school_id"
	ColSchoolCode  = "school_code"
	ColSchoolName  = "school_name"
	ColClassName   = "class_name"
	ColSubjectName = "subject_name"
)

var metadataColumns = map[string]bool{
	ColStudentID: true, ColStudentName: true, ColSchoolID: true, ColSchoolCode: true,
	ColSchoolName: true, ColClassName: true, ColSubjectName: true,
}

// headerScanRows bounds how far down a sheet the header row is searched for
const headerScanRows = 10

// RawWriter is the part of the source store the importer writes to
type RawWriter interface {
	ReplaceRawResponses(ctx context.Context, batchCode, subjectName string, responses []domain.RawItemResponse) error
}

// Workbook is a parsed response workbook, grouped by subject
type Workbook struct {
	Subjects map[string][]domain.RawItemResponse
	Report   ParseReport
}

// ParseReport summarizes what was read from a workbook
type ParseReport struct {
	Sheets        []string       `json:"sheets"`
	Rows          int            `json:"rows"`
	SkippedRows   int            `json:"skipped_rows"`
	RowsBySubject map[string]int `json:"rows_by_subject"`
	Warnings      []string       `json:"warnings,omitempty"`
}

// SubjectNames returns the parsed subjects in name order
func (w *Workbook) SubjectNames() []string {
	names := make([]string, 0, len(w.Subjects))
	for name := range w.Subjects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type columnMap struct {
	meta  map[string]int
	items map[int]string
}

// ParseWorkbook reads every sheet of the workbook in r
func ParseWorkbook(r io.Reader, batchCode string) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, apperrors.NewDataValidationError(fmt.Sprintf("open workbook: %v", err))
	}
	defer f.Close()

	wb := &Workbook{
		Subjects: make(map[string][]domain.RawItemResponse),
		Report:   ParseReport{RowsBySubject: make(map[string]int)},
	}

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, apperrors.NewDataValidationError(fmt.Sprintf("read sheet %s: %v", sheet, err))
		}
		headerRow, cols := findHeader(rows)
		if headerRow < 0 {
			wb.Report.Warnings = append(wb.Report.Warnings, fmt.Sprintf("sheet %s: no header row, skipped", sheet))
			continue
		}
		if len(cols.items) == 0 {
			wb.Report.Warnings = append(wb.Report.Warnings, fmt.Sprintf("sheet %s: no item columns, skipped", sheet))
			continue
		}
		wb.Report.Sheets = append(wb.Report.Sheets, sheet)

		for i := headerRow + 1; i < len(rows); i++ {
			if blank(rows[i]) {
				continue
			}
			wb.Report.Rows++
			resp, err := parseRow(rows[i], cols, batchCode)
			if err != nil {
				wb.Report.SkippedRows++
				wb.Report.Warnings = append(wb.Report.Warnings, fmt.Sprintf("sheet %s row %d: %v", sheet, i+1, err))
				continue
			}
			wb.Subjects[resp.SubjectName] = append(wb.Subjects[resp.SubjectName], resp)
			wb.Report.RowsBySubject[resp.SubjectName]++
		}
	}

	if len(wb.Report.Sheets) == 0 {
		return nil, apperrors.NewDataValidationError("workbook has no sheet with a student_id/subject_name header")
	}
	return wb, nil
}

// findHeader locates the header row and maps column positions by name
func findHeader(rows [][]string) (int, columnMap) {
	for i, row := range rows {
		if i >= headerScanRows {
			break
		}
		cols := columnMap{meta: make(map[string]int), items: make(map[int]string)}
		for j, cell := range row {
			name := strings.ToLower(strings.TrimSpace(cell))
			if metadataColumns[name] {
				cols.meta[name] = j
			}
		}
		_, hasStudent := cols.meta[ColStudentID]
		_, hasSubject := cols.meta[ColSubjectName]
		if !hasStudent || !hasSubject {
			continue
		}
		for j, cell := range row {
			id := strings.TrimSpace(cell)
			if id != "" && !metadataColumns[strings.ToLower(id)] {
				cols.items[j] = id
			}
		}
		return i, cols
	}
	return -1, columnMap{}
}

func parseRow(row []string, cols columnMap, batchCode string) (domain.RawItemResponse, error) {
	cell := func(idx int) string {
		if idx < len(row) {
			return strings.TrimSpace(row[idx])
		}
		return ""
	}
	meta := func(name string) string {
		idx, ok := cols.meta[name]
		if !ok {
			return ""
		}
		return cell(idx)
	}

	resp := domain.RawItemResponse{
		BatchCode:   batchCode,
		StudentID:   meta(ColStudentID),
		StudentName: meta(ColStudentName),
		SchoolID:    meta(ColSchoolID),
		SchoolCode:  meta(ColSchoolCode),
		SchoolName:  meta(ColSchoolName),
		ClassName:   meta(ColClassName),
		SubjectName: meta(ColSubjectName),
		Scores:      make(map[string]float64),
	}
	if resp.StudentID == "" {
		return resp, fmt.Errorf("missing %s", ColStudentID)
	}
	if resp.SubjectName == "" {
		return resp, fmt.Errorf("missing %s", ColSubjectName)
	}

	for idx, itemID := range cols.items {
		raw := cell(idx)
		if raw == "" {
			continue
		}
		score, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return resp, fmt.Errorf("item %s: invalid score %q", itemID, raw)
		}
		resp.Scores[itemID] = score
	}
	return resp, nil
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// Importer writes parsed workbooks into the source store
type Importer struct {
	store  RawWriter
	logger *slog.Logger
}

// NewImporter creates an importer
func NewImporter(store RawWriter, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Importer{store: store, logger: infrastructure.WithComponent(logger, "ingest")}
}

// ImportWorkbook parses the workbook and replaces the raw responses of every
// subject it contains. Subjects absent from the workbook are left untouched.
func (im *Importer) ImportWorkbook(ctx context.Context, r io.Reader, batchCode string) (*ParseReport, error) {
	start := time.Now()
	logger := im.logger.With(slog.String("batch_code", batchCode))

	wb, err := ParseWorkbook(r, batchCode)
	if err != nil {
		logger.ErrorContext(ctx, "workbook_parse_failed", slog.String("error", err.Error()))
		return nil, err
	}
	for _, w := range wb.Report.Warnings {
		logger.WarnContext(ctx, "workbook_warning", slog.String("warning", w))
	}

	for _, subject := range wb.SubjectNames() {
		if err := ctx.Err(); err != nil {
			return &wb.Report, apperrors.NewCancelledError("import cancelled before subject " + subject)
		}
		if err := im.store.ReplaceRawResponses(ctx, batchCode, subject, wb.Subjects[subject]); err != nil {
			return &wb.Report, apperrors.NewStorageError("store raw responses of "+subject, err)
		}
		logger.InfoContext(ctx, "subject_imported",
			slog.String("subject", subject),
			slog.Int("rows", len(wb.Subjects[subject])))
	}

	logger.InfoContext(ctx, "workbook_imported",
		slog.Int("rows", wb.Report.Rows),
		slog.Int("skipped_rows", wb.Report.SkippedRows),
		slog.Int("subjects", len(wb.Subjects)),
		slog.Duration("duration", time.Since(start)))
	return &wb.Report, nil
}
