package ingest

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v2"

	"edustat/internal/cleaning"
	apperrors "edustat/internal/errors"
	"edustat/pkg/contracts/domain"
)

// ConfigWriter is the part of the source store batch configuration is written to
type ConfigWriter interface {
	UpsertSubjectConfigs(ctx context.Context, configs []domain.SubjectConfig) error
	UpsertDimensionConfigs(ctx context.Context, dims []domain.DimensionConfig) error
}

// BatchConfig is the YAML layout of a batch configuration file. The top-level
// batch_code is applied to every subject and dimension that does not set one.
type BatchConfig struct {
	BatchCode  string                   `yaml:"batch_code"`
	Subjects   []domain.SubjectConfig   `yaml:"subjects"`
	Dimensions []domain.DimensionConfig `yaml:"dimensions"`
}

// ParseBatchConfig decodes and validates a batch configuration
func ParseBatchConfig(r io.Reader) (*BatchConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apperrors.NewConfigError("read batch config", err)
	}
	var cfg BatchConfig
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, apperrors.NewConfigError("decode batch config", err)
	}
	if cfg.BatchCode == "" {
		return nil, apperrors.NewConfigError("batch config has no batch_code", nil)
	}

	for i := range cfg.Subjects {
		if cfg.Subjects[i].BatchCode == "" {
			cfg.Subjects[i].BatchCode = cfg.BatchCode
		}
		if cfg.Subjects[i].BatchCode != cfg.BatchCode {
			return nil, apperrors.NewConfigError(fmt.Sprintf("subject %s belongs to batch %s, not %s",
				cfg.Subjects[i].SubjectName, cfg.Subjects[i].BatchCode, cfg.BatchCode), nil)
		}
	}
	for i := range cfg.Dimensions {
		if cfg.Dimensions[i].BatchCode == "" {
			cfg.Dimensions[i].BatchCode = cfg.BatchCode
		}
		if cfg.Dimensions[i].BatchCode != cfg.BatchCode {
			return nil, apperrors.NewConfigError(fmt.Sprintf("dimension %s belongs to batch %s, not %s",
				cfg.Dimensions[i].Code, cfg.Dimensions[i].BatchCode, cfg.BatchCode), nil)
		}
	}

	if err := cleaning.NewConfigValidator().Validate(cfg.Subjects, cfg.Dimensions); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ImportBatchConfig parses a batch configuration and upserts it
func ImportBatchConfig(ctx context.Context, store ConfigWriter, r io.Reader) (*BatchConfig, error) {
	cfg, err := ParseBatchConfig(r)
	if err != nil {
		return nil, err
	}
	if err := store.UpsertSubjectConfigs(ctx, cfg.Subjects); err != nil {
		return nil, apperrors.NewStorageError("store subject configs", err)
	}
	if err := store.UpsertDimensionConfigs(ctx, cfg.Dimensions); err != nil {
		return nil, apperrors.NewStorageError("store dimension configs", err)
	}
	return cfg, nil
}
