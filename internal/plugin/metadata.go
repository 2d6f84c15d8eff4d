package plugin

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
	apiverPattern = regexp.MustCompile(`^\d+\.x$`)
)

// PluginMetadata describes plugin identity and dependency requirements.
type PluginMetadata struct {
	// Name is the step type this plugin serves, e.g. "package" or "firewall".
	Name       string
	Version    string
	APIVersion string
	// Dependencies names other plugins whose resources this plugin's steps
	// typically require first (the firewall plugin depends on package, since
	// ufw arrives via apt). The registry verifies every declared dependency
	// is registered.
	Dependencies []string
	Description  string
}

// Validate ensures metadata is well-formed.
func (m PluginMetadata) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("plugin metadata requires a non-empty Name")
	}
	if strings.TrimSpace(m.Version) == "" {
		return fmt.Errorf("plugin '%s' metadata requires Version", m.Name)
	}
	if !semverPattern.MatchString(m.Version) {
		return fmt.Errorf("plugin '%s' has invalid Version '%s' (expected format: X.Y.Z)", m.Name, m.Version)
	}
	if strings.TrimSpace(m.APIVersion) == "" {
		return fmt.Errorf("plugin '%s' metadata requires APIVersion", m.Name)
	}
	if !apiverPattern.MatchString(m.APIVersion) {
		return fmt.Errorf("plugin '%s' has invalid APIVersion '%s' (expected format: N.x)", m.Name, m.APIVersion)
	}

	seen := map[string]struct{}{}
	for _, dep := range m.Dependencies {
		if strings.TrimSpace(dep) == "" {
			return fmt.Errorf("plugin '%s' declares dependency with empty name", m.Name)
		}
		if dep == m.Name {
			return fmt.Errorf("plugin '%s' cannot depend on itself", m.Name)
		}
		if _, exists := seen[dep]; exists {
			return fmt.Errorf("plugin '%s' lists dependency '%s' more than once", m.Name, dep)
		}
		seen[dep] = struct{}{}
	}

	return nil
}
