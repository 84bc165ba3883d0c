// Package config provides core configuration structures and utilities for the
// migration engine. This module defines Fx providers for configuration-related
// components.
package config

import "go.uber.org/fx"

// NewLoggingConfigProvider extracts and provides *LoggingConfig from *Config.
// This allows other Fx components to depend only on the logging configuration.
func NewLoggingConfigProvider(cfg *Config) *LoggingConfig {
	return &cfg.Migrata.System.Logging
}

// NewTransformationConfigProvider extracts and provides *TransformationConfig.
func NewTransformationConfigProvider(cfg *Config) *TransformationConfig {
	return &cfg.Migrata.Transformation
}

// NewSnapshotConfigProvider extracts and provides *SnapshotConfig.
func NewSnapshotConfigProvider(cfg *Config) *SnapshotConfig {
	return &cfg.Migrata.Snapshot
}

// Module provides configuration-related components to Fx.
var Module = fx.Options(
	fx.Provide(NewConfigProvider),
	fx.Provide(NewLoggingConfigProvider),
	fx.Provide(NewTransformationConfigProvider),
	fx.Provide(NewSnapshotConfigProvider),
	fx.Provide(func() EnvironmentExpander {
		return NewOsEnvironmentExpander()
	}),
)
