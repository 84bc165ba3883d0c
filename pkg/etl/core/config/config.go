package config

// Package config provides structures and utilities for managing migration
// engine configuration.

// EmbeddedConfig holds the content of the configuration file, typically passed
// from main.go via go:embed or read from the path given on the command line.
type EmbeddedConfig []byte

// LogLevel defines the logging level for the application.
type LogLevel string

const (
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelSilent LogLevel = "SILENT"
)

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
	// File is an optional path; when set, log output is mirrored to the file.
	File string `yaml:"file"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC", "Asia/Tokyo").
	Timezone string `yaml:"timezone"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// TransformationConfig holds settings applied to every transformer run unless
// overridden per transformer.
type TransformationConfig struct {
	// BatchSize is the number of records processed per batch.
	BatchSize int `yaml:"batch_size"`
	// MaxRetries is the number of additional attempts after a failed batch.
	MaxRetries int `yaml:"max_retries"`
	// RetryDelayMs is the constant pause between batch attempts in milliseconds.
	RetryDelayMs int `yaml:"retry_delay_ms"`
	// ValidationMode selects how validation errors are treated: "strict"
	// aborts the run, "lenient" skips invalid records and records warnings.
	ValidationMode string `yaml:"validation_mode"`
	// DryRun routes all writes through a discard overlay when true.
	DryRun bool `yaml:"dry_run"`
}

// SnapshotConfig holds settings for pre-run snapshots and rollback.
type SnapshotConfig struct {
	// Enabled controls whether a snapshot is captured before a mutating run.
	Enabled bool `yaml:"enabled"`
	// EnableRollback controls whether a failed run triggers a rollback attempt.
	EnableRollback bool `yaml:"enable_rollback"`
	// StorageRef is the name of the storage adapter holding backup artifacts.
	StorageRef string `yaml:"storage_ref"`
	// RetentionDays is the age beyond which Prune removes old snapshots.
	RetentionDays int `yaml:"retention_days"`
	// Strategy is the default rollback strategy ("restore_backup" or
	// "delete_new_records").
	Strategy string `yaml:"strategy"`
}

// TracingConfig holds OpenTelemetry trace export settings.
type TracingConfig struct {
	// Enabled controls whether spans are exported. When false a no-op tracer
	// is installed.
	Enabled bool `yaml:"enabled"`
	// Exporter selects the OTLP transport: "grpc" or "http".
	Exporter string `yaml:"exporter"`
	// Endpoint is the collector endpoint (host:port).
	Endpoint string `yaml:"endpoint"`
	// ServiceName identifies this process in exported traces.
	ServiceName string `yaml:"service_name"`
	// SampleRatio is the trace sampling ratio in [0, 1].
	SampleRatio float64 `yaml:"sample_ratio"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	// Enabled controls whether the /metrics endpoint is served.
	Enabled bool `yaml:"enabled"`
	// ListenAddress is the address the metrics HTTP server binds to.
	ListenAddress string `yaml:"listen_address"`
}

// OutcomeConfig holds settings for persisted run outcomes.
type OutcomeConfig struct {
	// DBRef is the name of the database connection used for outcome records.
	DBRef string `yaml:"db_ref"`
	// ReportDir is the directory Parquet outcome reports are written to.
	// Empty disables report export.
	ReportDir string `yaml:"report_dir"`
}

// MigrataConfig holds all configuration under the "migrata" top-level key.
type MigrataConfig struct {
	// System contains system-wide configurations.
	System SystemConfig `yaml:"system"`
	// Transformation contains batch and validation configurations.
	Transformation TransformationConfig `yaml:"transformation"`
	// Snapshot contains snapshot and rollback configurations.
	Snapshot SnapshotConfig `yaml:"snapshot"`
	// Tracing contains trace export configurations.
	Tracing TracingConfig `yaml:"tracing"`
	// Metrics contains Prometheus exposition configurations.
	Metrics MetricsConfig `yaml:"metrics"`
	// Outcome contains run outcome persistence configurations.
	Outcome OutcomeConfig `yaml:"outcome"`
	// AdaptorConfigs holds configurations for database connections, keyed by
	// logical name.
	AdaptorConfigs map[string]interface{} `yaml:"database"`
	// StorageConfigs holds configurations for storage adapters, keyed by
	// logical name.
	StorageConfigs map[string]interface{} `yaml:"storage"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	Migrata MigrataConfig `yaml:"migrata"`
}

// NewConfig returns a new instance of Config with default values.
func NewConfig() *Config {
	cfg := &Config{
		Migrata: MigrataConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Transformation: TransformationConfig{
				BatchSize:      1000,
				MaxRetries:     3,
				RetryDelayMs:   1000,
				ValidationMode: "lenient",
			},
			Snapshot: SnapshotConfig{
				Enabled:       true,
				StorageRef:    "local",
				RetentionDays: 30,
				Strategy:      "restore_backup",
			},
			Tracing: TracingConfig{
				Exporter:    "grpc",
				ServiceName: "migrata",
				SampleRatio: 1.0,
			},
			Metrics: MetricsConfig{
				ListenAddress: ":9464",
			},
			Outcome: OutcomeConfig{
				DBRef: "metadata",
			},
		},
	}
	cfg.Migrata.AdaptorConfigs = map[string]interface{}{}
	cfg.Migrata.StorageConfigs = map[string]interface{}{}
	return cfg
}
