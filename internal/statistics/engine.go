package statistics

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	apperrors "edustat/internal/errors"
	"edustat/internal/infrastructure"
)

// DefaultChunkThreshold is the row count above which chunkable strategies are split
const DefaultChunkThreshold = 10000

// SlowThreshold returns how long a calculation over rows may take before it is flagged
func SlowThreshold(rows int) time.Duration {
	switch {
	case rows <= 10000:
		return 5 * time.Second
	case rows <= 50000:
		return 15 * time.Second
	default:
		return 30 * time.Second
	}
}

// PerformanceStats accumulates executions of one strategy
type PerformanceStats struct {
	Executions    int64         `json:"executions"`
	Successes     int64         `json:"successes"`
	Failures      int64         `json:"failures"`
	ChunkedRuns   int64         `json:"chunked_runs"`
	SlowRuns      int64         `json:"slow_runs"`
	RowsProcessed int64         `json:"rows_processed"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
	LastError     string        `json:"last_error,omitempty"`
}

// Engine runs registered strategies. It holds no package-level state; build one per process.
type Engine struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	order      []string
	perf       map[string]*PerformanceStats

	chunkThreshold int
	workers        int
	logger         *slog.Logger
	metrics        *infrastructure.BusinessMetrics
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithChunkThreshold sets the row count above which chunking applies
func WithChunkThreshold(rows int) EngineOption {
	return func(e *Engine) {
		if rows > 0 {
			e.chunkThreshold = rows
		}
	}
}

// WithWorkers bounds the number of chunks computed in parallel
func WithWorkers(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLogger sets the engine logger
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = infrastructure.WithComponent(logger, "statistics")
		}
	}
}

// WithMetrics records strategy executions
func WithMetrics(m *infrastructure.BusinessMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine with no strategies registered
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		strategies:     make(map[string]Strategy),
		perf:           make(map[string]*PerformanceStats),
		chunkThreshold: DefaultChunkThreshold,
		workers:        runtime.NumCPU(),
		logger:         infrastructure.WithComponent(infrastructure.GetLogger(), "statistics"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DefaultStrategies returns the built-in strategies in registration order
func DefaultStrategies() []Strategy {
	return []Strategy{
		BasicStatistics{},
		Percentiles{},
		Difficulty{},
		Discrimination{},
		GradeBands{},
		DimensionAggregation{},
	}
}

// NewDefaultEngine creates an engine with every built-in strategy registered
func NewDefaultEngine(opts ...EngineOption) *Engine {
	e := NewEngine(opts...)
	for _, s := range DefaultStrategies() {
		// names are distinct by construction
		_ = e.Register(s)
	}
	return e
}

// Register adds a strategy under its Name
func (e *Engine) Register(s Strategy) error {
	if s == nil {
		return apperrors.NewConfigError("cannot register nil strategy", nil)
	}
	name := s.Name()
	if name == "" {
		return apperrors.NewConfigError("strategy name cannot be empty", nil)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.strategies[name]; exists {
		return apperrors.NewConflictError(fmt.Sprintf("strategy %s already registered", name))
	}
	e.strategies[name] = s
	e.order = append(e.order, name)
	e.perf[name] = &PerformanceStats{}
	return nil
}

// Strategies describes the registered strategies in registration order
func (e *Engine) Strategies() []AlgorithmInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]AlgorithmInfo, 0, len(e.order))
	for _, name := range e.order {
		out = append(out, e.strategies[name].Describe())
	}
	return out
}

// Performance returns a copy of the per-strategy statistics
func (e *Engine) Performance() map[string]PerformanceStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]PerformanceStats, len(e.perf))
	for name, p := range e.perf {
		out[name] = *p
	}
	return out
}

func (e *Engine) lookup(name string) (Strategy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.strategies[name]
	if !ok {
		return nil, apperrors.NewNotFoundError("strategy " + name)
	}
	return s, nil
}

// Calculate validates the dataset and runs the named strategy. Non-finite scores
// are dropped first. A chunkable strategy is split when the column exceeds the
// chunk threshold.
func (e *Engine) Calculate(ctx context.Context, name string, data Dataset, cfg Config) (*Result, error) {
	s, err := e.lookup(name)
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	ctx, span := infrastructure.StartSpan(ctx, "statistics."+name, attribute.Int("rows", len(data.Scores)))
	defer span.End()

	start := time.Now()
	clean := data
	clean.Scores = finite(data.Scores)
	meta := Meta{Algorithm: name, DataSize: len(clean.Scores), Dropped: len(data.Scores) - len(clean.Scores)}

	validation := s.ValidateInput(data, cfg)
	meta.Warnings = validation.Warnings
	if !validation.Valid {
		err := apperrors.NewDataValidationError(fmt.Sprintf("%s: %s", name, strings.Join(validation.Errors, "; ")))
		e.record(ctx, name, meta, time.Since(start), err)
		return nil, err
	}

	var value any
	if cs, ok := s.(ChunkStrategy); ok && len(clean.Scores) > e.chunkThreshold {
		meta.Chunked = true
		value, meta.Chunks, err = e.runChunked(cs, clean, cfg)
	} else {
		value, err = s.Calculate(clean, cfg)
	}
	meta.Duration = time.Since(start)
	e.record(ctx, name, meta, meta.Duration, err)
	if err != nil {
		span.RecordError(err)
		if apperrors.TypeOf(err) == "" {
			err = apperrors.NewComputationError(name, err)
		}
		return nil, err
	}
	return &Result{Value: value, Meta: meta}, nil
}

// runChunked computes partials over contiguous chunks on a bounded worker pool
func (e *Engine) runChunked(s ChunkStrategy, data Dataset, cfg Config) (any, int, error) {
	chunks := splitChunks(data.Scores, e.chunkThreshold)
	partials := make([]any, len(chunks))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, chunk := range chunks {
		g.Go(func() error {
			p, err := s.Partial(chunk, data, cfg)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			partials[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, len(chunks), err
	}

	value, err := s.Merge(partials, data, cfg)
	return value, len(chunks), err
}

func splitChunks(xs []float64, size int) [][]float64 {
	if size <= 0 {
		size = DefaultChunkThreshold
	}
	chunks := make([][]float64, 0, (len(xs)+size-1)/size)
	for start := 0; start < len(xs); start += size {
		end := min(start+size, len(xs))
		chunks = append(chunks, xs[start:end])
	}
	return chunks
}

func (e *Engine) record(ctx context.Context, name string, meta Meta, d time.Duration, err error) {
	slow := d > SlowThreshold(meta.DataSize)

	e.mu.Lock()
	p := e.perf[name]
	p.Executions++
	p.RowsProcessed += int64(meta.DataSize)
	p.TotalDuration += d
	p.AvgDuration = p.TotalDuration / time.Duration(p.Executions)
	if d > p.MaxDuration {
		p.MaxDuration = d
	}
	if meta.Chunked {
		p.ChunkedRuns++
	}
	if slow {
		p.SlowRuns++
	}
	if err != nil {
		p.Failures++
		p.LastError = err.Error()
	} else {
		p.Successes++
	}
	e.mu.Unlock()

	e.metrics.RecordStrategy(ctx, name, meta.DataSize, d, meta.Chunked, err)

	if slow {
		e.logger.WarnContext(ctx, "slow_calculation",
			slog.String("strategy", name),
			slog.Int("rows", meta.DataSize),
			slog.Duration("duration", d),
			slog.Duration("threshold", SlowThreshold(meta.DataSize)))
	}
	if err != nil {
		e.logger.DebugContext(ctx, "strategy_failed", slog.String("strategy", name), slog.String("error", err.Error()))
		return
	}
	e.logger.DebugContext(ctx, "strategy_completed",
		slog.String("strategy", name),
		slog.Int("rows", meta.DataSize),
		slog.Bool("chunked", meta.Chunked),
		slog.Duration("duration", d))
}

// CalculateAs runs the named strategy and asserts its value type
func CalculateAs[T any](ctx context.Context, e *Engine, name string, data Dataset, cfg Config) (T, Meta, error) {
	var zero T
	res, err := e.Calculate(ctx, name, data, cfg)
	if err != nil {
		return zero, Meta{}, err
	}
	v, ok := res.Value.(T)
	if !ok {
		return zero, res.Meta, apperrors.NewComputationError(fmt.Sprintf("%s returned %T", name, res.Value), nil)
	}
	return v, res.Meta, nil
}
