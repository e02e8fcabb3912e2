package aggregation

import (
	"context"
	"log/slog"
	"sort"

	"edustat/internal/cleaning"
	"edustat/internal/infrastructure"
	"edustat/internal/statistics"
	"edustat/pkg/contracts/domain"
)

// Consolidator turns cleaned records into SubjectStatistics using the engine
type Consolidator struct {
	engine *statistics.Engine
	cfg    statistics.Config
	logger *slog.Logger
}

// NewConsolidator creates a consolidator
func NewConsolidator(engine *statistics.Engine, cfg statistics.Config, logger *slog.Logger) *Consolidator {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Consolidator{engine: engine, cfg: cfg, logger: infrastructure.WithComponent(logger, "aggregation")}
}

// Subject computes the statistics of one subject over its valid cleaned records.
// It never fails: a computation error produces a placeholder with Error set.
func (c *Consolidator) Subject(ctx context.Context, subject domain.SubjectConfig, dims []domain.DimensionConfig, records []domain.CleanedRecord) domain.SubjectStatistics {
	cfg := c.cfg.WithGradeLevel(subject.GradeLevel)
	maxScore := subject.CleanedMaxScore()

	scores := make([]float64, 0, len(records))
	for _, rec := range records {
		if rec.IsValid {
			scores = append(scores, rec.TotalScore)
		}
	}

	out, err := c.column(ctx, statistics.Dataset{Scores: scores, MaxScore: maxScore}, cfg)
	if err != nil {
		c.logger.WarnContext(ctx, "subject_statistics_failed",
			slog.String("subject", subject.SubjectName),
			slog.Int("records", len(scores)),
			slog.String("error", err.Error()))
		return domain.SubjectStatistics{
			SubjectName: subject.SubjectName,
			Kind:        subject.Kind,
			MaxScore:    maxScore,
			Error:       err.Error(),
		}
	}

	stats := domain.SubjectStatistics{
		SubjectName:         subject.SubjectName,
		Kind:                subject.Kind,
		MaxScore:            maxScore,
		Count:               out.basic.Count,
		Avg:                 out.basic.Mean,
		StdDev:              out.basic.StdDev,
		Min:                 out.basic.Min,
		Max:                 out.basic.Max,
		Percentiles:         out.percentiles.Set,
		Difficulty:          out.difficulty.Coefficient,
		DifficultyLevel:     out.difficulty.Level,
		Discrimination:      out.discrimination.Index,
		DiscriminationLevel: out.discrimination.Level,
		PassRate:            out.grades.PassRate,
		ExcellentRate:       out.grades.ExcellentRate,
		GradeBands:          out.grades.Bands,
	}

	if len(dims) > 0 {
		c.attachDimensions(ctx, &stats, subject, dims, records, cfg)
	}
	return stats
}

type columnStats struct {
	basic          statistics.BasicResult
	percentiles    statistics.PercentileResult
	grades         statistics.GradeResult
	difficulty     statistics.DifficultyResult
	discrimination statistics.DiscriminationResult
}

// column runs the per-column strategy sequence
func (c *Consolidator) column(ctx context.Context, data statistics.Dataset, cfg statistics.Config) (columnStats, error) {
	var out columnStats
	var err error
	if out.basic, _, err = statistics.CalculateAs[statistics.BasicResult](ctx, c.engine, statistics.StrategyBasic, data, cfg); err != nil {
		return out, err
	}
	if out.percentiles, _, err = statistics.CalculateAs[statistics.PercentileResult](ctx, c.engine, statistics.StrategyPercentiles, data, cfg); err != nil {
		return out, err
	}
	if out.grades, _, err = statistics.CalculateAs[statistics.GradeResult](ctx, c.engine, statistics.StrategyGradeBands, data, cfg); err != nil {
		return out, err
	}
	if out.difficulty, _, err = statistics.CalculateAs[statistics.DifficultyResult](ctx, c.engine, statistics.StrategyDifficulty, data, cfg); err != nil {
		return out, err
	}
	if out.basic.Count >= cfg.MinDiscriminationSamples {
		if out.discrimination, _, err = statistics.CalculateAs[statistics.DiscriminationResult](ctx, c.engine, statistics.StrategyDiscrimination, data, cfg); err != nil {
			return out, err
		}
	} else {
		out.discrimination = statistics.DiscriminationResult{SampleSize: out.basic.Count, Level: statistics.DiscriminationUnknown}
	}
	return out, nil
}

func (c *Consolidator) attachDimensions(ctx context.Context, stats *domain.SubjectStatistics, subject domain.SubjectConfig, dims []domain.DimensionConfig, records []domain.CleanedRecord, cfg statistics.Config) {
	sorted := append([]domain.DimensionConfig(nil), dims...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Code < sorted[j].Code })
	maxima := cleaning.ComputeDimensionMax(sorted, subject)

	stats.Dimensions = make(map[string]domain.DimensionStatistics, len(sorted))
	columns := make([]statistics.DimensionColumn, 0, len(sorted))
	for _, dim := range sorted {
		col := statistics.DimensionColumn{Code: dim.Code, Name: dim.Name, MaxScore: maxima[dim.Code], Weight: dim.Weight}
		for _, rec := range records {
			if rec.IsValid {
				col.Scores = append(col.Scores, rec.DimensionScores[dim.Code].Score)
			}
		}

		ds := domain.DimensionStatistics{DimensionCode: dim.Code, DimensionName: dim.Name, MaxScore: col.MaxScore}
		out, err := c.column(ctx, statistics.Dataset{Scores: col.Scores, MaxScore: col.MaxScore}, cfg)
		if err != nil {
			c.logger.WarnContext(ctx, "dimension_statistics_failed",
				slog.String("subject", subject.SubjectName),
				slog.String("dimension", dim.Code),
				slog.String("error", err.Error()))
			ds.Error = err.Error()
			stats.Dimensions[dim.Code] = ds
			continue
		}
		ds.Count = out.basic.Count
		ds.Avg = out.basic.Mean
		ds.StdDev = out.basic.StdDev
		ds.Min = out.basic.Min
		ds.Max = out.basic.Max
		ds.Percentiles = out.percentiles.Set
		ds.Difficulty = out.difficulty.Coefficient
		ds.Discrimination = out.discrimination.Index
		ds.ScoreRate = out.grades.ScoreRate
		ds.GradeBands = out.grades.Bands
		stats.Dimensions[dim.Code] = ds
		columns = append(columns, col)
	}

	if len(columns) < 2 {
		return
	}
	agg, _, err := statistics.CalculateAs[statistics.DimensionAggregationResult](ctx, c.engine, statistics.StrategyDimensions,
		statistics.Dataset{Dimensions: columns}, cfg)
	if err != nil {
		c.logger.WarnContext(ctx, "dimension_aggregation_failed",
			slog.String("subject", subject.SubjectName),
			slog.String("error", err.Error()))
		return
	}
	stats.Correlations = agg.Correlations
	if agg.Weighted {
		stats.WeightedScoreRate = agg.WeightedScore
	}
}
