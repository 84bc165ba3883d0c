package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, "UTC", cfg.Migrata.System.Timezone)
	assert.Equal(t, "INFO", cfg.Migrata.System.Logging.Level)
	assert.Equal(t, 1000, cfg.Migrata.Transformation.BatchSize)
	assert.Equal(t, 3, cfg.Migrata.Transformation.MaxRetries)
	assert.Equal(t, "lenient", cfg.Migrata.Transformation.ValidationMode)
	assert.True(t, cfg.Migrata.Snapshot.Enabled)
	assert.Equal(t, "restore_backup", cfg.Migrata.Snapshot.Strategy)
	assert.Equal(t, 30, cfg.Migrata.Snapshot.RetentionDays)
	assert.Equal(t, "metadata", cfg.Migrata.Outcome.DBRef)
}

func TestLoadConfig_YAMLOverridesDefaults(t *testing.T) {
	raw := []byte(`
migrata:
  system:
    logging:
      level: DEBUG
  transformation:
    batch_size: 250
    max_retries: 5
    validation_mode: strict
  snapshot:
    strategy: delete_new_records
    retention_days: 7
  database:
    legacy:
      type: sqlite
      database: legacy.db
`)
	cfg, err := LoadConfig("", raw)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Migrata.System.Logging.Level)
	assert.Equal(t, 250, cfg.Migrata.Transformation.BatchSize)
	assert.Equal(t, 5, cfg.Migrata.Transformation.MaxRetries)
	assert.Equal(t, "strict", cfg.Migrata.Transformation.ValidationMode)
	assert.Equal(t, "delete_new_records", cfg.Migrata.Snapshot.Strategy)
	assert.Equal(t, 7, cfg.Migrata.Snapshot.RetentionDays)
	// Defaults that the YAML does not mention survive the merge.
	assert.Equal(t, 1000, cfg.Migrata.Transformation.RetryDelayMs)
	assert.Contains(t, cfg.Migrata.AdaptorConfigs, "legacy")
}

func TestLoadConfig_EnvOverridesYAML(t *testing.T) {
	t.Setenv("MIGRATA_TRANSFORMATION_BATCH_SIZE", "777")
	t.Setenv("MIGRATA_SYSTEM_LOGGING_LEVEL", "WARN")

	raw := []byte(`
migrata:
  transformation:
    batch_size: 250
`)
	cfg, err := LoadConfig("", raw)
	require.NoError(t, err)

	assert.Equal(t, 777, cfg.Migrata.Transformation.BatchSize)
	assert.Equal(t, "WARN", cfg.Migrata.System.Logging.Level)
}

func TestLoadConfig_ExpandsEnvPlaceholders(t *testing.T) {
	t.Setenv("LEGACY_DB_PATH", "/data/legacy.db")

	raw := []byte(`
migrata:
  database:
    legacy:
      type: sqlite
      database: ${LEGACY_DB_PATH}
`)
	cfg, err := LoadConfig("", raw)
	require.NoError(t, err)

	legacy, ok := cfg.Migrata.AdaptorConfigs["legacy"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "/data/legacy.db", legacy["database"])
}

func TestLoadConfig_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "negative batch size",
			raw:  "migrata:\n  transformation:\n    batch_size: -1\n",
			want: "batch_size",
		},
		{
			name: "unknown validation mode",
			raw:  "migrata:\n  transformation:\n    validation_mode: yolo\n",
			want: "validation_mode",
		},
		{
			name: "unknown rollback strategy",
			raw:  "migrata:\n  snapshot:\n    strategy: undo_everything\n",
			want: "strategy",
		},
		{
			name: "sample ratio out of range",
			raw:  "migrata:\n  tracing:\n    sample_ratio: 2.5\n",
			want: "sample_ratio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig("", []byte(tt.raw))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestOsEnvironmentExpander(t *testing.T) {
	t.Setenv("EXPAND_ME", "value")

	out, err := NewOsEnvironmentExpander().Expand([]byte("key: ${EXPAND_ME}"))
	require.NoError(t, err)
	assert.Equal(t, "key: value", string(out))
}
