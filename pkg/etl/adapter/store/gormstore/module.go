package gormstore

import "go.uber.org/fx"

// Module provides the database store provider to Fx. Dialector factories are
// registered by importing the driver subpackages.
var Module = fx.Options(
	fx.Provide(NewProvider),
)
