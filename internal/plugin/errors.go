package plugin

import (
	"fmt"
	"strings"
)

// ManifestError reports a single malformed manifest. Discovery collects
// these and keeps going; one bad plugin never hides the rest.
type ManifestError struct {
	Path   string
	Reason string
}

func (e *ManifestError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid manifest: %s", e.Reason)
	}
	return fmt.Sprintf("invalid manifest %s: %s", e.Path, e.Reason)
}

// PluginLoadError reports a plugin whose manifest was valid but whose
// implementation could not be constructed or initialized.
type PluginLoadError struct {
	Plugin string
	Err    error
}

func (e *PluginLoadError) Error() string {
	return fmt.Sprintf("load plugin %q: %v", e.Plugin, e.Err)
}

func (e *PluginLoadError) Unwrap() error { return e.Err }

// DependencyCycleError names the plugins caught in a dependency cycle.
// Only these plugins fail to load; the acyclic remainder loads normally.
type DependencyCycleError struct {
	Members []string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("dependency cycle among plugins: %s", strings.Join(e.Members, ", "))
}

// DependencyVersionError reports a dependency present at an incompatible
// version, or missing entirely.
type DependencyVersionError struct {
	Plugin     string
	Dependency string
	Constraint string
	Found      string // empty when the dependency is absent
}

func (e *DependencyVersionError) Error() string {
	if e.Found == "" {
		return fmt.Sprintf("plugin %q requires %s %s: dependency not found", e.Plugin, e.Dependency, e.Constraint)
	}
	return fmt.Sprintf("plugin %q requires %s %s: found %s", e.Plugin, e.Dependency, e.Constraint, e.Found)
}
