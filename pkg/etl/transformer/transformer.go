// Package transformer defines the transformer contract, the registry of
// available transformers and the lifecycle that executes one transformer run
// end to end: snapshot, transactional execution, completion bookkeeping and
// rollback on failure.
package transformer

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kurobane/migrata/pkg/etl/support/exception"
)

// Transformer migrates one slice of legacy data into the target store. The
// toolkit gives access to the stores, the validator and the batch executor
// for this run.
type Transformer interface {
	// Name identifies the transformer in the registry, run IDs and logs.
	Name() string
	// Run performs the migration. Returning an error fails the run.
	Run(ctx context.Context, tk *Toolkit) error
}

// CollectionAware is an optional interface for transformers that declare
// which target collections they mutate. Declared collections are snapshotted
// before a live run so a failed run can be rolled back.
type CollectionAware interface {
	AffectedCollections() []string
}

// Cleaner is an optional interface for transformers that hold temporary
// resources. Cleanup runs after every run, successful or not; its error is
// recorded as a warning.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// Factory creates a fresh Transformer instance for one run.
type Factory func() Transformer

// Registry is an explicit table of available transformers keyed by name.
// Transformers are registered at assembly time; there is no discovery scan.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a transformer factory under the given name. Registering a
// duplicate name is an error.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" {
		return exception.NewMigrationError("transformer", "transformer name must not be empty", nil, false, false)
	}
	if factory == nil {
		return exception.NewMigrationError("transformer", fmt.Sprintf("factory for '%s' must not be nil", name), nil, false, false)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return exception.NewMigrationError("transformer", fmt.Sprintf("transformer '%s' is already registered", name), nil, false, false)
	}
	r.factories[name] = factory
	return nil
}

// Get creates a new instance of the named transformer.
func (r *Registry) Get(name string) (Transformer, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, exception.NewMigrationError("transformer", fmt.Sprintf("unknown transformer '%s' (registered: %v)", name, r.Names()), nil, false, false)
	}
	return factory(), nil
}

// Names returns the registered transformer names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
