package view

import (
	"fmt"
	"sort"

	"github.com/chronolake/chronolake/internal/errors"
)

// Factory builds a view instance of one view set.
type Factory func(instanceID string) View

// Registry maps view set names to factories. It is populated once at
// startup and read-only afterwards, so lookups need no locking.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates a registry with the built-in view sets registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("log_entries", func(instanceID string) View { return NewLogEntriesView(instanceID) })
	r.Register("thread_spans", func(instanceID string) View { return NewThreadSpansView(instanceID) })
	r.Register("measures", func(instanceID string) View { return NewMeasuresView(instanceID) })
	return r
}

// Register adds a view set factory. Call before the registry is shared.
func (r *Registry) Register(viewSetName string, factory Factory) {
	r.factories[viewSetName] = factory
}

// MakeView instantiates a view of the named set.
func (r *Registry) MakeView(viewSetName, instanceID string) (View, error) {
	factory, ok := r.factories[viewSetName]
	if !ok {
		return nil, errors.NewValidationError(errors.CodeUnknownView,
			fmt.Sprintf("unknown view set %q", viewSetName))
	}
	return factory(instanceID), nil
}

// ViewSetNames returns the registered set names, sorted.
func (r *Registry) ViewSetNames() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
