package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "edustat/internal/errors"
	"edustat/internal/exporter"
	"edustat/pkg/contracts/domain"
)

// StatisticsReader reads persisted statistics rows
type StatisticsReader interface {
	LoadStatistics(ctx context.Context, batchCode string, level domain.AggregationLevel, schoolID string) ([]domain.StatisticsRecord, error)
}

// BatchExporter writes a batch's statistics in a file format
type BatchExporter interface {
	ExportBatch(ctx context.Context, batchCode string, format exporter.Format, w io.Writer) error
}

// StatisticsHandler serves persisted statistics
type StatisticsHandler struct {
	reader   StatisticsReader
	exporter BatchExporter
	logger   *slog.Logger
}

// NewStatisticsHandler creates a statistics handler. exp may be nil.
func NewStatisticsHandler(reader StatisticsReader, exp BatchExporter, logger *slog.Logger) *StatisticsHandler {
	return &StatisticsHandler{
		reader:   reader,
		exporter: exp,
		logger:   logger.With(slog.String("handler", "statistics")),
	}
}

// Get handles GET /api/batches/{batch}/statistics?school_id=
func (h *StatisticsHandler) Get(w http.ResponseWriter, r *http.Request) {
	batch := chi.URLParam(r, "batch")
	schoolID := r.URL.Query().Get("school_id")
	level := domain.LevelRegion
	if schoolID != "" {
		level = domain.LevelSchool
	}

	stats, err := h.reader.LoadStatistics(r.Context(), batch, level, schoolID)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	if len(stats) == 0 {
		scope := "batch " + batch
		if schoolID != "" {
			scope += " school " + schoolID
		}
		respondError(w, r, h.logger, apperrors.NewNotFoundError("statistics for "+scope))
		return
	}
	respondData(w, r, http.StatusOK, stats)
}

// Export handles GET /api/batches/{batch}/export?format=csv|xlsx
func (h *StatisticsHandler) Export(w http.ResponseWriter, r *http.Request) {
	batch := chi.URLParam(r, "batch")
	format, err := exporter.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	// Buffer so a failure can still be rendered as a JSON error.
	var buf bytes.Buffer
	if err := h.exporter.ExportBatch(r.Context(), batch, format, &buf); err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", batch+"-statistics."+string(format)))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.WarnContext(r.Context(), "export_write_failed", slog.String("error", err.Error()))
	}
}
