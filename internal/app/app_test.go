package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"edustat/internal/config"
	apperrors "edustat/internal/errors"
	"edustat/internal/ingest"
	"edustat/internal/operations"
	"edustat/pkg/contracts/domain"
)

const testBatch = "G4-2026"

const testBatchYAML = `
batch_code: G4-2026
subjects:
  - subject_name: math
    subject_kind: exam
    max_score: 10
    items:
      - item_id: q1
        max_score: 5
      - item_id: q2
        max_score: 5
dimensions:
  - subject_name: math
    dimension_code: algebra
    dimension_name: Algebra
    item_ids: [q1]
`

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Driver = driver
	cfg.Storage.Path = filepath.Join(t.TempDir(), "data", "edustat.db")
	cfg.Telemetry.MetricExporter = "none"
	cfg.Telemetry.TraceExporter = "none"
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Tasks.SchoolConcurrency = 2
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// responsesWorkbook writes 24 students split over two schools
func responsesWorkbook(t *testing.T) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	rows := [][]interface{}{
		{"student_id", "student_name", "school_id", "school_code", "school_name", "class_name", "subject_name", "q1", "q2"},
	}
	for i := 0; i < 24; i++ {
		school := "S01"
		if i%2 == 1 {
			school = "S02"
		}
		rows = append(rows, []interface{}{
			fmt.Sprintf("st%02d", i), fmt.Sprintf("Student %d", i), school, school, "School " + school, "4-1", "math",
			i % 6, (i * 7) % 6,
		})
	}
	for i, row := range rows {
		row := row
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func newTestApp(t *testing.T, driver string) *Application {
	t.Helper()
	a, err := NewWithLogger(context.Background(), testConfig(t, driver), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return a
}

func seed(t *testing.T, a *Application) {
	t.Helper()
	ctx := context.Background()
	_, err := ingest.ImportBatchConfig(ctx, a.Store, strings.NewReader(testBatchYAML))
	require.NoError(t, err)
	report, err := a.Importer.ImportWorkbook(ctx, responsesWorkbook(t), testBatch)
	require.NoError(t, err)
	require.Equal(t, 24, report.RowsBySubject["math"])
}

func TestApplication_CleanThenCalculate(t *testing.T) {
	for _, driver := range []string{"memory", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			a := newTestApp(t, driver)
			seed(t, a)
			ctx := context.Background()

			snap, err := a.Manager.Execute(ctx, operations.TaskRequest{Kind: operations.KindCleaning, BatchCode: testBatch})
			require.NoError(t, err)
			require.Equal(t, operations.TaskStatusCompleted, snap.Status, snap.Error)

			cleaned, err := a.Store.LoadCleanedRecords(ctx, domain.CleanedFilter{BatchCode: testBatch})
			require.NoError(t, err)
			assert.Len(t, cleaned, 24)

			snap, err = a.Manager.Execute(ctx, operations.TaskRequest{Kind: operations.KindCalculation, BatchCode: testBatch})
			require.NoError(t, err)
			require.Equal(t, operations.TaskStatusCompleted, snap.Status, snap.Error)
			assert.Equal(t, 100.0, snap.Progress)

			region, err := a.Store.LoadStatistics(ctx, testBatch, domain.LevelRegion, "")
			require.NoError(t, err)
			require.Len(t, region, 1)
			assert.Equal(t, "math", region[0].Statistics.SubjectName)
			assert.Equal(t, 24, region[0].Statistics.Count)

			for _, school := range []string{"S01", "S02"} {
				rows, err := a.Store.LoadStatistics(ctx, testBatch, domain.LevelSchool, school)
				require.NoError(t, err)
				require.Len(t, rows, 1, school)
				assert.Equal(t, 12, rows[0].Statistics.Count)
			}

			stored, err := a.TaskStore.GetTask(ctx, snap.TaskID)
			require.NoError(t, err)
			assert.Equal(t, operations.TaskStatusCompleted, stored.Status)
		})
	}
}

func TestApplication_CalculateUnknownBatchFails(t *testing.T) {
	a := newTestApp(t, "memory")
	_, err := ingest.ImportBatchConfig(context.Background(), a.Store, strings.NewReader(testBatchYAML))
	require.NoError(t, err)

	snap, err := a.Manager.Execute(context.Background(), operations.TaskRequest{Kind: operations.KindCalculation, BatchCode: "unknown"})
	require.NoError(t, err)
	assert.Equal(t, operations.TaskStatusFailed, snap.Status)
	assert.NotEmpty(t, snap.Error)
}

func TestApplication_Router(t *testing.T) {
	a := newTestApp(t, "sqlite")
	seed(t, a)
	ctx := context.Background()
	a.StartWorkers(ctx)
	a.setupRouter()

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		a.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/healthz").Code)
	assert.Equal(t, http.StatusOK, get("/readyz").Code)
	assert.Equal(t, http.StatusNotFound, get("/api/batches/"+testBatch+"/statistics").Code)

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"kind":"cleaning","batch_code":"` + testBatch + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", body)
	req.Header.Set("Content-Type", "application/json")
	a.Router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	tasks, err := a.Manager.ListTasks(ctx, operations.TaskFilter{BatchCode: testBatch})
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	final, err := a.Manager.Wait(ctx, tasks[0].TaskID)
	require.NoError(t, err)
	assert.Equal(t, operations.TaskStatusCompleted, final.Status)
	assert.Equal(t, http.StatusOK, get("/api/tasks/"+final.TaskID).Code)
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
		target error
	}{
		{
			name: "redis unreachable",
			mutate: func(cfg *config.Config) {
				cfg.Redis.Enabled = true
				cfg.Redis.Addr = "127.0.0.1:1"
				cfg.Redis.DialTimeout = 200 * time.Millisecond
			},
			target: apperrors.ErrStorage,
		},
		{
			name: "bad trace exporter",
			mutate: func(cfg *config.Config) {
				cfg.Telemetry.TraceExporter = "zipkin"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, "memory")
			tt.mutate(cfg)
			_, err := NewWithLogger(context.Background(), cfg, testLogger())
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}
