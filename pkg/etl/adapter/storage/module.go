package storage

import "go.uber.org/fx"

// Module provides the storage backend resolver to Fx. Backend factories are
// registered by importing the backend subpackages (local, gcs).
var Module = fx.Options(
	fx.Provide(NewResolver),
)
