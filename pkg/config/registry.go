package config

import "sync"

var (
	registryOnce sync.Once
	registry     *SchemaRegistry
)

// defaultRegistry returns the process-wide registry of built-in schemas.
func defaultRegistry() *SchemaRegistry {
	registryOnce.Do(func() {
		registry = NewSchemaRegistry()
	})
	return registry
}

// DefaultRegistry exposes the built-in schema registry to other packages.
func DefaultRegistry() *SchemaRegistry {
	return defaultRegistry()
}
