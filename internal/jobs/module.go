package jobs

import (
	"context"
	"fmt"

	"github.com/loomworks/loom/internal/ir"
)

// Module is the computation contract a step implementation fulfills:
// declared input/output schemas and a process function over resolved
// payloads. The engine depends on nothing else about a module.
type Module interface {
	InputsSchema() map[string]ir.FieldSchema
	OutputsSchema() map[string]ir.FieldSchema
	Process(ctx context.Context, inputs map[string]ir.Datum) (map[string]ir.Datum, error)
}

// ModuleFactory builds a module instance from its manifest configuration.
type ModuleFactory func(config ir.Object) (Module, error)

// UnknownModuleError reports a manifest naming an unregistered module type.
type UnknownModuleError struct {
	ModuleType string
}

func (e *UnknownModuleError) Error() string {
	return fmt.Sprintf("unknown module type %q", e.ModuleType)
}

// ModuleSet is the explicit, statically-assembled module registry. It is
// populated once at process start from a list of (name, factory) pairs;
// there is no runtime discovery or reflection scanning.
type ModuleSet struct {
	factories map[string]ModuleFactory
}

// NewModuleSet creates an empty module set.
func NewModuleSet() *ModuleSet {
	return &ModuleSet{factories: make(map[string]ModuleFactory)}
}

// Register adds a module factory under a type name.
func (m *ModuleSet) Register(moduleType string, factory ModuleFactory) error {
	if _, exists := m.factories[moduleType]; exists {
		return fmt.Errorf("module type %q already registered", moduleType)
	}
	m.factories[moduleType] = factory
	return nil
}

// Instantiate builds the module a manifest names, configured with the
// manifest's module config.
func (m *ModuleSet) Instantiate(manifest ir.Manifest) (Module, error) {
	factory, ok := m.factories[manifest.ModuleType]
	if !ok {
		return nil, &UnknownModuleError{ModuleType: manifest.ModuleType}
	}
	mod, err := factory(manifest.ModuleConfig)
	if err != nil {
		return nil, fmt.Errorf("instantiate module %q: %w", manifest.ModuleType, err)
	}
	return mod, nil
}

// Known reports whether a module type is registered.
func (m *ModuleSet) Known(moduleType string) bool {
	_, ok := m.factories[moduleType]
	return ok
}
