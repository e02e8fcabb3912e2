package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "edustat/internal/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 10000, cfg.Statistics.ChunkThreshold)
	assert.Equal(t, []float64{10, 25, 50, 75, 90}, cfg.Statistics.Percentiles)
	assert.Equal(t, 1.0, cfg.Statistics.OutlierLow)
	assert.Equal(t, 99.0, cfg.Statistics.OutlierHigh)
	assert.Equal(t, "nearest", cfg.Statistics.PercentileMethod)
	assert.Equal(t, 0.27, cfg.Statistics.GroupFraction)
	assert.Equal(t, "coalesce", cfg.Tasks.DuplicatePolicy)
	assert.Equal(t, runtime.NumCPU(), cfg.Statistics.Workers)
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		file        string
		wantErr     bool
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "defaults only",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "data/edustat.db", cfg.Storage.Path)
				assert.False(t, cfg.Redis.Enabled)
			},
		},
		{
			name: "file overrides defaults",
			file: `
storage:
  driver: memory
statistics:
  chunk_threshold: 500
  percentiles: [5, 50, 95]
tasks:
  duplicate_policy: reject
  persist_interval: 250ms
`,
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "memory", cfg.Storage.Driver)
				assert.Equal(t, 500, cfg.Statistics.ChunkThreshold)
				assert.Equal(t, []float64{5, 50, 95}, cfg.Statistics.Percentiles)
				assert.Equal(t, "reject", cfg.Tasks.DuplicatePolicy)
				assert.Equal(t, 250*time.Millisecond, cfg.Tasks.PersistInterval)
				// untouched sections keep their defaults
				assert.Equal(t, 99.0, cfg.Statistics.OutlierHigh)
			},
		},
		{
			name: "env overrides file",
			file: "statistics:\n  chunk_threshold: 500\n",
			env: map[string]string{
				"EDUSTAT_STATISTICS_CHUNK_THRESHOLD": "2500",
				"EDUSTAT_STORAGE_PATH":               "/tmp/other.db",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 2500, cfg.Statistics.ChunkThreshold)
				assert.Equal(t, "/tmp/other.db", cfg.Storage.Path)
			},
		},
		{
			name:    "invalid duplicate policy",
			env:     map[string]string{"EDUSTAT_TASKS_DUPLICATE_POLICY": "ignore"},
			wantErr: true,
		},
		{
			name:    "outlier pair inverted",
			file:    "statistics:\n  outlier_low: 99\n  outlier_high: 1\n",
			wantErr: true,
		},
		{
			name:    "group fraction out of range",
			env:     map[string]string{"EDUSTAT_STATISTICS_GROUP_FRACTION": "0.8"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := filepath.Join(t.TempDir(), "edustat.yaml")
			if tt.file != "" {
				require.NoError(t, os.WriteFile(path, []byte(tt.file), 0644))
			} else {
				require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0644))
			}

			cfg, err := Load(path)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, apperrors.ErrConfiguration)
				return
			}
			require.NoError(t, err)
			if tt.validateCfg != nil {
				tt.validateCfg(t, cfg)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrTypeConfig, apperrors.TypeOf(err))
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "edustat.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Redis.SnapshotTTL)
	assert.Equal(t, 168*time.Hour, cfg.Tasks.PruneAfter)
	assert.Equal(t, runtime.NumCPU(), cfg.Statistics.Workers)
	assert.Equal(t, "edustat:tasks", cfg.Redis.Channel)
}
