package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"edustat/internal/operations"
)

const cliBatchYAML = `
batch_code: CLI-1
subjects:
  - subject_name: reading
    subject_kind: exam
    max_score: 6
    items:
      - item_id: r1
        max_score: 3
      - item_id: r2
        max_score: 3
`

// writeFixtures writes an app config, a batch config and a workbook into dir
func writeFixtures(t *testing.T, dir string) (cfgPath, batchPath, xlsxPath string) {
	t.Helper()
	cfgPath = filepath.Join(dir, "edustat.yaml")
	cfg := fmt.Sprintf(`
logging:
  level: error
storage:
  driver: sqlite
  path: %s
telemetry:
  metric_exporter: none
`, filepath.Join(dir, "edustat.db"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	batchPath = filepath.Join(dir, "batch.yaml")
	require.NoError(t, os.WriteFile(batchPath, []byte(cliBatchYAML), 0o644))

	f := excelize.NewFile()
	defer f.Close()
	rows := [][]interface{}{{"student_id", "school_id", "school_name", "subject_name", "r1", "r2"}}
	for i := 0; i < 12; i++ {
		rows = append(rows, []interface{}{fmt.Sprintf("p%02d", i), "S1", "First School", "reading", i % 4, (i + 1) % 4})
	}
	for i, row := range rows {
		row := row
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	xlsxPath = filepath.Join(dir, "responses.xlsx")
	require.NoError(t, f.SaveAs(xlsxPath))
	return cfgPath, batchPath, xlsxPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCLI_ImportCleanCalculate(t *testing.T) {
	dir := t.TempDir()
	cfgPath, batchPath, xlsxPath := writeFixtures(t, dir)

	out, err := run(t, "import", "-c", cfgPath, "--batch-config", batchPath, "--responses", xlsxPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, `"batch_code": "CLI-1"`)

	out, err = run(t, "clean", "-c", cfgPath, "--batch", "CLI-1")
	require.NoError(t, err, out)
	var snap operations.TaskSnapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, operations.TaskStatusCompleted, snap.Status)
	assert.Equal(t, operations.KindCleaning, snap.Kind)

	out, err = run(t, "calculate", "-c", cfgPath, "--batch", "CLI-1", "--include-schools=false")
	require.NoError(t, err, out)
	snap = operations.TaskSnapshot{}
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, operations.TaskStatusCompleted, snap.Status)

	out, err = run(t, "export", "-c", cfgPath, "--batch", "CLI-1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "batch_code,aggregation_level")
	assert.Contains(t, out, "CLI-1,region")

	xlsx := filepath.Join(dir, "stats.xlsx")
	_, err = run(t, "export", "-c", cfgPath, "--batch", "CLI-1", "-o", xlsx)
	require.NoError(t, err)
	wb, err := excelize.OpenFile(xlsx)
	require.NoError(t, err)
	assert.Equal(t, []string{"subjects", "dimensions"}, wb.GetSheetList())
	require.NoError(t, wb.Close())

	out, err = run(t, "status", "-c", cfgPath, snap.TaskID)
	require.NoError(t, err, out)
	assert.Contains(t, out, snap.TaskID)

	out, err = run(t, "status", "-c", cfgPath, "--batch", "CLI-1")
	require.NoError(t, err, out)
	var listed []operations.TaskSnapshot
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	assert.Len(t, listed, 2)
}

func TestCLI_Errors(t *testing.T) {
	dir := t.TempDir()
	cfgPath, _, _ := writeFixtures(t, dir)

	tests := []struct {
		name string
		args []string
	}{
		{"clean without batch", []string{"clean", "-c", cfgPath}},
		{"import nothing", []string{"import", "-c", cfgPath}},
		{"unknown batch", []string{"calculate", "-c", cfgPath, "--batch", "NOPE"}},
		{"missing config file", []string{"clean", "-c", filepath.Join(dir, "missing.yaml"), "--batch", "B"}},
		{"watch without redis", []string{"watch", "-c", cfgPath}},
		{"export unknown batch", []string{"export", "-c", cfgPath, "--batch", "NOPE"}},
		{"export bad format", []string{"export", "-c", cfgPath, "--batch", "CLI-1", "--format", "pdf"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestCLI_Version(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, `"version"`)
}
