package plugin

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hostprep/hostprep/internal/logger"
)

// PluginRegistry manages plugin registration and dependency validation.
type PluginRegistry struct {
	mu       sync.RWMutex
	plugins  map[string]Plugin
	metadata map[string]PluginMetadata
	logger   *logger.Logger
}

// NewPluginRegistry returns a new registry instance.
func NewPluginRegistry(log *logger.Logger) *PluginRegistry {
	return &PluginRegistry{
		plugins:  make(map[string]Plugin),
		metadata: make(map[string]PluginMetadata),
		logger:   log,
	}
}

// Register adds a plugin to the registry keyed by its metadata name.
func (r *PluginRegistry) Register(p Plugin) error {
	if p == nil {
		return fmt.Errorf("plugin is nil")
	}

	meta := p.PluginMetadata()
	if err := meta.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[meta.Name]; exists {
		return fmt.Errorf("plugin '%s' already registered", meta.Name)
	}

	r.plugins[meta.Name] = p
	r.metadata[meta.Name] = meta
	return nil
}

// Get retrieves a plugin by step type.
func (r *PluginRegistry) Get(stepType string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[stepType]
	if !ok {
		return nil, ErrPluginNotFound{Name: stepType}
	}
	return p, nil
}

// Names returns the registered plugin names in sorted order.
func (r *PluginRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Metadata returns the metadata recorded for a registered plugin.
func (r *PluginRegistry) Metadata(name string) (PluginMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.metadata[name]
	return meta, ok
}

// ValidateDependencies verifies every declared plugin dependency is
// registered and that declarations are acyclic.
func (r *PluginRegistry) ValidateDependencies() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, meta := range r.metadata {
		for _, dep := range meta.Dependencies {
			if _, exists := r.plugins[dep]; !exists {
				return ErrMissingDependency{Plugin: name, Dependency: dep}
			}
		}
	}

	if cycle := r.detectCycleLocked(); len(cycle) > 0 {
		return ErrCircularDependency{Cycle: cycle}
	}

	return nil
}

func (r *PluginRegistry) detectCycleLocked() []string {
	visiting := make(map[string]bool, len(r.metadata))
	visited := make(map[string]bool, len(r.metadata))
	var stack []string
	var cycle []string

	var dfs func(string) bool
	dfs = func(node string) bool {
		visiting[node] = true
		stack = append(stack, node)

		for _, dep := range r.metadata[node].Dependencies {
			if visited[dep] {
				continue
			}
			if visiting[dep] {
				for i, v := range stack {
					if v == dep {
						cycle = append([]string{}, stack[i:]...)
						break
					}
				}
				return true
			}
			if dfs(dep) {
				return true
			}
		}

		visiting[node] = false
		visited[node] = true
		stack = stack[:len(stack)-1]
		return false
	}

	names := make([]string, 0, len(r.metadata))
	for name := range r.metadata {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if visited[name] {
			continue
		}
		if dfs(name) {
			break
		}
	}

	return cycle
}
