package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kurobane/migrata/pkg/etl/support/exception"
	logger "github.com/kurobane/migrata/pkg/etl/support/logger"

	"go.uber.org/fx"
)

// Package config provides utilities for loading and managing application
// configuration from YAML files and environment variables.

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	EnvFilePath    string `name:"envFilePath" optional:"true"`
}

// loadConfig loads configuration from raw YAML bytes and environment
// variables. This function is intended to be called only once during
// application startup.
func loadConfig(envFilePath string, raw EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	cfg := NewConfig()

	// Expand ${VAR} placeholders before parsing so secrets can live in the
	// environment rather than the file.
	expanded, err := NewOsEnvironmentExpander().Expand(raw)
	if err != nil {
		return nil, exception.NewMigrationError(moduleName, "failed to expand environment placeholders in config", err, false, false)
	}

	var yamlConfig Config
	if err := yaml.Unmarshal(expanded, &yamlConfig); err != nil {
		return nil, exception.NewMigrationError(moduleName, "failed to unmarshal config", err, false, false)
	}

	mergeConfig(cfg, &yamlConfig)

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewMigrationError(moduleName, "failed to load config from environment variables", err, false, false)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, exception.NewMigrationError(moduleName, "invalid configuration", err, false, false)
	}
	return cfg, nil
}

// LoadConfig loads configuration from raw YAML bytes and environment
// variables. It is expected to be called only once during application startup.
func LoadConfig(envFilePath string, raw EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, raw)
}

// LoadConfigFromFile reads the configuration file at path and loads it.
// A missing file yields the defaults with environment overrides applied.
func LoadConfigFromFile(envFilePath, path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warnf("Configuration file '%s' not found, using defaults.", path)
			return loadConfig(envFilePath, nil)
		}
		return nil, exception.NewMigrationError(moduleName, fmt.Sprintf("failed to read configuration file '%s'", path), err, false, false)
	}
	return loadConfig(envFilePath, raw)
}

// NewConfigProvider is an Fx provider that loads and provides *Config.
// It also applies the configured log level to the global logger.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := loadConfig(params.EnvFilePath, params.EmbeddedConfig)
	if err != nil {
		return nil, err
	}

	logger.SetLogLevel(cfg.Migrata.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Migrata.System.Logging.Level)

	return cfg, nil
}

// validateConfig rejects configurations the engine cannot run with.
func validateConfig(cfg *Config) error {
	t := cfg.Migrata.Transformation
	if t.BatchSize <= 0 {
		return fmt.Errorf("transformation.batch_size must be positive, got %d", t.BatchSize)
	}
	if t.MaxRetries < 0 {
		return fmt.Errorf("transformation.max_retries must not be negative, got %d", t.MaxRetries)
	}
	switch t.ValidationMode {
	case "strict", "lenient":
	default:
		return fmt.Errorf("transformation.validation_mode must be 'strict' or 'lenient', got '%s'", t.ValidationMode)
	}
	switch cfg.Migrata.Snapshot.Strategy {
	case "restore_backup", "delete_new_records":
	default:
		return fmt.Errorf("snapshot.strategy must be 'restore_backup' or 'delete_new_records', got '%s'", cfg.Migrata.Snapshot.Strategy)
	}
	if r := cfg.Migrata.Tracing.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1], got %v", r)
	}
	return nil
}

// mergeConfig performs a deep merge from sourceConfig into destConfig.
// Values in sourceConfig overwrite corresponding values in destConfig when
// they are not zero values for their type.
func mergeConfig(destConfig, sourceConfig *Config) {
	mergeMigrataConfig(&destConfig.Migrata, &sourceConfig.Migrata)
}

func mergeMigrataConfig(dest, source *MigrataConfig) {
	mergeSystemConfig(&dest.System, &source.System)
	mergeTransformationConfig(&dest.Transformation, &source.Transformation)
	mergeSnapshotConfig(&dest.Snapshot, &source.Snapshot)
	mergeTracingConfig(&dest.Tracing, &source.Tracing)
	mergeMetricsConfig(&dest.Metrics, &source.Metrics)
	mergeOutcomeConfig(&dest.Outcome, &source.Outcome)

	if source.AdaptorConfigs != nil {
		if dest.AdaptorConfigs == nil {
			dest.AdaptorConfigs = make(map[string]interface{})
		}
		for key, value := range source.AdaptorConfigs {
			dest.AdaptorConfigs[key] = value
		}
	}
	if source.StorageConfigs != nil {
		if dest.StorageConfigs == nil {
			dest.StorageConfigs = make(map[string]interface{})
		}
		for key, value := range source.StorageConfigs {
			dest.StorageConfigs[key] = value
		}
	}
}

func mergeSystemConfig(dest, source *SystemConfig) {
	if source.Timezone != "" {
		dest.Timezone = source.Timezone
	}
	if source.Logging.Level != "" {
		dest.Logging.Level = source.Logging.Level
	}
	if source.Logging.File != "" {
		dest.Logging.File = source.Logging.File
	}
}

func mergeTransformationConfig(dest, source *TransformationConfig) {
	if source.BatchSize != 0 {
		dest.BatchSize = source.BatchSize
	}
	if source.MaxRetries != 0 {
		dest.MaxRetries = source.MaxRetries
	}
	if source.RetryDelayMs != 0 {
		dest.RetryDelayMs = source.RetryDelayMs
	}
	if source.ValidationMode != "" {
		dest.ValidationMode = source.ValidationMode
	}
	if source.DryRun {
		dest.DryRun = source.DryRun
	}
}

func mergeSnapshotConfig(dest, source *SnapshotConfig) {
	// Enabled defaults to true; an explicit false in YAML cannot be told apart
	// from the zero value, so disabling snapshots is done via MIGRATA_SNAPSHOT_ENABLED.
	if source.EnableRollback {
		dest.EnableRollback = source.EnableRollback
	}
	if source.StorageRef != "" {
		dest.StorageRef = source.StorageRef
	}
	if source.RetentionDays != 0 {
		dest.RetentionDays = source.RetentionDays
	}
	if source.Strategy != "" {
		dest.Strategy = source.Strategy
	}
}

func mergeTracingConfig(dest, source *TracingConfig) {
	if source.Enabled {
		dest.Enabled = source.Enabled
	}
	if source.Exporter != "" {
		dest.Exporter = source.Exporter
	}
	if source.Endpoint != "" {
		dest.Endpoint = source.Endpoint
	}
	if source.ServiceName != "" {
		dest.ServiceName = source.ServiceName
	}
	if source.SampleRatio != 0 {
		dest.SampleRatio = source.SampleRatio
	}
}

func mergeMetricsConfig(dest, source *MetricsConfig) {
	if source.Enabled {
		dest.Enabled = source.Enabled
	}
	if source.ListenAddress != "" {
		dest.ListenAddress = source.ListenAddress
	}
}

func mergeOutcomeConfig(dest, source *OutcomeConfig) {
	if source.DBRef != "" {
		dest.DBRef = source.DBRef
	}
	if source.ReportDir != "" {
		dest.ReportDir = source.ReportDir
	}
}

// loadStructFromEnv recursively loads configuration values into a struct from
// environment variables, using the "yaml" tag to derive the variable name.
// Example: migrata.system.logging.level -> MIGRATA_SYSTEM_LOGGING_LEVEL.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := fieldType.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}

		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// setField sets the value of a reflect.Value field based on its kind.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	}
	return nil
}
