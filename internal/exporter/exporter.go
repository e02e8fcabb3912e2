package exporter

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	apperrors "edustat/internal/errors"
	"edustat/internal/infrastructure"
	"edustat/pkg/contracts/domain"
)

// Format selects the export encoding
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ContentType returns the MIME type of the format
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// ParseFormat accepts csv or xlsx; empty means csv
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", apperrors.NewDataValidationError(fmt.Sprintf("unsupported export format %q", s))
}

// Source reads what an export needs
type Source interface {
	ListSchools(ctx context.Context, batchCode string) ([]domain.School, error)
	LoadStatistics(ctx context.Context, batchCode string, level domain.AggregationLevel, schoolID string) ([]domain.StatisticsRecord, error)
}

// Exporter writes a batch's statistics
type Exporter struct {
	source Source
	csv    *CSVWriter
	logger *slog.Logger
}

// NewExporter creates an exporter
func NewExporter(source Source, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Exporter{
		source: source,
		csv:    NewCSVWriter(logger),
		logger: infrastructure.WithComponent(logger, "exporter"),
	}
}

// Collect loads the region rows followed by each school's rows
func (e *Exporter) Collect(ctx context.Context, batchCode string) ([]domain.StatisticsRecord, error) {
	records, err := e.source.LoadStatistics(ctx, batchCode, domain.LevelRegion, "")
	if err != nil {
		return nil, err
	}
	schools, err := e.source.ListSchools(ctx, batchCode)
	if err != nil {
		return nil, err
	}
	for _, school := range schools {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.NewCancelledError("export cancelled")
		}
		rows, err := e.source.LoadStatistics(ctx, batchCode, domain.LevelSchool, school.SchoolID)
		if err != nil {
			return nil, err
		}
		records = append(records, rows...)
	}
	if len(records) == 0 {
		return nil, apperrors.NewNotFoundError("statistics for batch " + batchCode)
	}
	return records, nil
}

// ExportBatch writes the batch's statistics to w. CSV carries the subject table
// only; XLSX adds a dimensions sheet.
func (e *Exporter) ExportBatch(ctx context.Context, batchCode string, format Format, w io.Writer) error {
	records, err := e.Collect(ctx, batchCode)
	if err != nil {
		return err
	}

	subjects := StatisticsTable(records)
	switch format {
	case FormatXLSX:
		err = WriteWorkbook(w, subjects, DimensionTable(records))
	default:
		err = e.csv.Write(w, WriteOptions{Headers: subjects.Headers, Records: subjects.Rows, BOMPrefix: true})
	}
	if err != nil {
		return fmt.Errorf("export %s: %w", batchCode, err)
	}

	e.logger.InfoContext(ctx, "statistics_exported",
		slog.String("batch_code", batchCode),
		slog.String("format", string(format)),
		slog.Int("rows", len(records)))
	return nil
}
