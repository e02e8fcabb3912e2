package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	apperrors "edustat/internal/errors"
)

// EnvPrefix is the prefix of every environment override, e.g. EDUSTAT_STORAGE_PATH
const EnvPrefix = "EDUSTAT"

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" envconfig:"SERVER"`
	Logging    LoggingConfig    `yaml:"logging" envconfig:"LOGGING"`
	Storage    StorageConfig    `yaml:"storage" envconfig:"STORAGE"`
	Redis      RedisConfig      `yaml:"redis" envconfig:"REDIS"`
	Statistics StatisticsConfig `yaml:"statistics" envconfig:"STATISTICS"`
	Tasks      TasksConfig      `yaml:"tasks" envconfig:"TASKS"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ServerConfig contains the ops HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" split_words:"true"`
	ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `yaml:"write_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
	// RateLimitRPS of zero disables rate limiting
	RateLimitRPS   float64 `yaml:"rate_limit_rps" split_words:"true"`
	RateLimitBurst int     `yaml:"rate_limit_burst" split_words:"true"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" split_words:"true"`
	Output   string `yaml:"output" split_words:"true"`
	FilePath string `yaml:"file_path" split_words:"true"`
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	Driver string `yaml:"driver" split_words:"true"`
	Path   string `yaml:"path" split_words:"true"`
}

// RedisConfig configures the task status publisher
type RedisConfig struct {
	Enabled     bool          `yaml:"enabled" split_words:"true"`
	Addr        string        `yaml:"addr" split_words:"true"`
	Password    string        `yaml:"password" split_words:"true"`
	DB          int           `yaml:"db" split_words:"true"`
	Channel     string        `yaml:"channel" split_words:"true"`
	KeyPrefix   string        `yaml:"key_prefix" split_words:"true"`
	DialTimeout time.Duration `yaml:"dial_timeout" split_words:"true"`
	SnapshotTTL time.Duration `yaml:"snapshot_ttl" split_words:"true"`
}

// StatisticsConfig holds the statistics engine knobs
type StatisticsConfig struct {
	ChunkThreshold    int       `yaml:"chunk_threshold" split_words:"true"`
	Workers           int       `yaml:"workers" split_words:"true"`
	Percentiles       []float64 `yaml:"percentiles" split_words:"true"`
	PercentileMethod  string    `yaml:"percentile_method" split_words:"true"`
	OutlierLow        float64   `yaml:"outlier_low" split_words:"true"`
	OutlierHigh       float64   `yaml:"outlier_high" split_words:"true"`
	MinDiscrimination int       `yaml:"min_discrimination_samples" split_words:"true"`
	GroupFraction     float64   `yaml:"group_fraction" split_words:"true"`
	GradeLevel        string    `yaml:"default_grade_level" split_words:"true"`
}

// TasksConfig configures the task orchestrator
type TasksConfig struct {
	QueueWorkers      int           `yaml:"queue_workers" split_words:"true"`
	QueueSize         int           `yaml:"queue_size" split_words:"true"`
	DuplicatePolicy   string        `yaml:"duplicate_policy" split_words:"true"`
	SchoolConcurrency int           `yaml:"school_concurrency" split_words:"true"`
	IncludeSchools    bool          `yaml:"include_schools" split_words:"true"`
	MaxAttempts       int           `yaml:"max_attempts" split_words:"true"`
	RetryDelay        time.Duration `yaml:"retry_delay" split_words:"true"`
	StageTimeout      time.Duration `yaml:"stage_timeout" split_words:"true"`
	PersistInterval   time.Duration `yaml:"persist_interval" split_words:"true"`
	RetainFinished    time.Duration `yaml:"retain_finished" split_words:"true"`
	// PruneAfter bounds how long finished tasks stay in durable storage. Zero keeps them.
	PruneAfter time.Duration `yaml:"prune_after" split_words:"true"`
}

// TelemetryConfig configures OpenTelemetry
type TelemetryConfig struct {
	ServiceName    string  `yaml:"service_name" split_words:"true"`
	Environment    string  `yaml:"environment" split_words:"true"`
	TraceExporter  string  `yaml:"trace_exporter" split_words:"true"`
	MetricExporter string  `yaml:"metric_exporter" split_words:"true"`
	SampleRatio    float64 `yaml:"sample_ratio" split_words:"true"`
}

// Load builds the configuration from defaults, then the YAML file (if any), then
// EDUSTAT_* environment variables. Later sources win.
func Load(filePath string) (*Config, error) {
	cfg := Default()

	if filePath == "" {
		filePath = findConfigFile()
	}
	if filePath != "" {
		if err := loadFromFile(filePath, cfg); err != nil {
			return nil, apperrors.NewConfigError(fmt.Sprintf("load config file %s", filePath), err)
		}
	}

	// Leaf fields carry no default or explicit name tags: envconfig then only touches
	// fields whose EDUSTAT_<SECTION>_<FIELD> variable is set.
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, apperrors.NewConfigError("load config from env", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// findConfigFile returns the first config file found in the usual locations
func findConfigFile() string {
	for _, location := range []string{"edustat.yaml", "configs/edustat.yaml"} {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// validate checks the configuration and normalizes derived values
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return apperrors.NewConfigError(fmt.Sprintf("invalid server port: %d", c.Server.Port), nil)
	}

	switch strings.ToLower(c.Storage.Driver) {
	case "sqlite":
		if c.Storage.Path == "" {
			return apperrors.NewConfigError("storage path is required for the sqlite driver", nil)
		}
	case "memory":
	default:
		return apperrors.NewConfigError(fmt.Sprintf("unsupported storage driver: %s", c.Storage.Driver), nil)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return apperrors.NewConfigError("redis addr is required when redis is enabled", nil)
	}

	s := &c.Statistics
	if s.ChunkThreshold <= 0 {
		return apperrors.NewConfigError("statistics chunk_threshold must be positive", nil)
	}
	if s.Workers <= 0 {
		s.Workers = runtime.NumCPU()
	}
	if len(s.Percentiles) == 0 {
		return apperrors.NewConfigError("at least one percentile must be configured", nil)
	}
	for _, p := range s.Percentiles {
		if p < 0 || p > 100 {
			return apperrors.NewConfigError(fmt.Sprintf("percentile out of range: %v", p), nil)
		}
	}
	if s.OutlierLow < 0 || s.OutlierHigh > 100 || s.OutlierLow >= s.OutlierHigh {
		return apperrors.NewConfigError(fmt.Sprintf("invalid outlier percentiles: %v/%v", s.OutlierLow, s.OutlierHigh), nil)
	}
	if s.GroupFraction < 0.1 || s.GroupFraction > 0.5 {
		return apperrors.NewConfigError(fmt.Sprintf("group_fraction must be within [0.1, 0.5], got %v", s.GroupFraction), nil)
	}

	t := &c.Tasks
	if t.DuplicatePolicy != "coalesce" && t.DuplicatePolicy != "reject" {
		return apperrors.NewConfigError(fmt.Sprintf("unknown duplicate_policy: %s", t.DuplicatePolicy), nil)
	}
	if t.QueueWorkers <= 0 {
		t.QueueWorkers = 1
	}
	if t.SchoolConcurrency <= 0 {
		t.SchoolConcurrency = 1
	}
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = 1
	}

	if c.Logging.Output != "stdout" && c.Logging.Output != "file" && c.Logging.Output != "both" {
		c.Logging.Output = "stdout"
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/edustat.log"
	}

	return nil
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimitRPS:    50,
			RateLimitBurst:  100,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "stdout",
			FilePath: "logs/edustat.log",
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "data/edustat.db",
		},
		Redis: RedisConfig{
			Enabled:     false,
			Addr:        "localhost:6379",
			Channel:     "edustat:tasks",
			KeyPrefix:   "edustat:task:",
			DialTimeout: 5 * time.Second,
			SnapshotTTL: 24 * time.Hour,
		},
		Statistics: StatisticsConfig{
			ChunkThreshold:    10000,
			Workers:           runtime.NumCPU(),
			Percentiles:       []float64{10, 25, 50, 75, 90},
			PercentileMethod:  "nearest",
			OutlierLow:        1,
			OutlierHigh:       99,
			MinDiscrimination: 10,
			GroupFraction:     0.27,
			GradeLevel:        "elementary",
		},
		Tasks: TasksConfig{
			QueueWorkers:      2,
			QueueSize:         64,
			DuplicatePolicy:   "coalesce",
			SchoolConcurrency: 4,
			IncludeSchools:    true,
			MaxAttempts:       1,
			RetryDelay:        time.Second,
			PersistInterval:   time.Second,
			RetainFinished:    time.Hour,
			PruneAfter:        7 * 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "edustat",
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
	}
}
