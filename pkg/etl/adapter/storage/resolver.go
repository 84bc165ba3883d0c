package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/kurobane/migrata/pkg/etl/core/config"
	logger "github.com/kurobane/migrata/pkg/etl/support/logger"

	"github.com/mitchellh/mapstructure"
)

// BackendFactory creates a Backend from a decoded Config. Backend packages
// register their factory from init.
type BackendFactory func(ctx context.Context, cfg Config, name string) (Backend, error)

var (
	factoryRegistry = make(map[string]BackendFactory)
	factoryMutex    sync.RWMutex
)

// RegisterBackend registers a BackendFactory for the given storage type.
func RegisterBackend(storageType string, factory BackendFactory) {
	factoryMutex.Lock()
	defer factoryMutex.Unlock()
	if _, exists := factoryRegistry[storageType]; exists {
		logger.Warnf("Storage backend factory for type '%s' already registered. Overwriting.", storageType)
	}
	factoryRegistry[storageType] = factory
}

// Resolver opens and caches named storage backends from the application
// configuration, dispatching on the configured type.
type Resolver struct {
	cfg      *config.Config
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewResolver creates a Resolver over the application configuration.
func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{
		cfg:      cfg,
		backends: make(map[string]Backend),
	}
}

// Resolve retrieves an existing backend by its configuration name or creates
// a new one.
func (r *Resolver) Resolve(ctx context.Context, name string) (Backend, error) {
	r.mu.RLock()
	b, ok := r.backends[name]
	r.mu.RUnlock()
	if ok {
		return b, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.backends[name]; ok {
		return b, nil
	}

	rawConfig, ok := r.cfg.Migrata.StorageConfigs[name]
	if !ok {
		return nil, fmt.Errorf("storage configuration '%s' not found", name)
	}
	var storageCfg Config
	if err := mapstructure.Decode(rawConfig, &storageCfg); err != nil {
		return nil, fmt.Errorf("failed to decode storage config for '%s': %w", name, err)
	}

	factoryMutex.RLock()
	factory, ok := factoryRegistry[storageCfg.Type]
	factoryMutex.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no storage backend registered for type '%s' (connection '%s')", storageCfg.Type, name)
	}

	b, err := factory(ctx, storageCfg, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage backend '%s': %w", name, err)
	}
	r.backends[name] = b
	logger.Debugf("Created new storage connection '%s' (%s).", name, storageCfg.Type)
	return b, nil
}

// CloseAll closes every backend opened by this resolver.
func (r *Resolver) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, b := range r.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close storage connection '%s': %w", name, err))
		}
		delete(r.backends, name)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing storage connections: %v", errs)
	}
	return nil
}
