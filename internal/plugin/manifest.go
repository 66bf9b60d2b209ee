package plugin

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/capability"
)

const manifestFilename = "manifest.yaml"

// Dependency names another plugin this one needs, with an acceptable
// version range ("^1.0.0", ">=1.2.0 <2.0.0", or an exact "1.0.0").
type Dependency struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// Capability declares one named capability the plugin provides and what
// kind of work it does.
type Capability struct {
	Name string          `yaml:"name"`
	Kind capability.Kind `yaml:"kind"`
}

// ConfigKeys declares which configuration keys a plugin needs from the
// `plugins` section of the main config document.
type ConfigKeys struct {
	Required []string `yaml:"required,omitempty"`
	Optional []string `yaml:"optional,omitempty"`
}

// Manifest describes one plugin version. Manifests are immutable once
// loaded; a new version is a new manifest, never an in-place edit.
type Manifest struct {
	Name         string       `yaml:"name"`
	Version      string       `yaml:"version"`
	Driver       string       `yaml:"driver"`
	Description  string       `yaml:"description,omitempty"`
	Dependencies []Dependency `yaml:"dependencies,omitempty"`
	Capabilities []Capability `yaml:"capabilities"`
	ConfigKeys   *ConfigKeys  `yaml:"config_keys,omitempty"`

	// Path is the directory the manifest was discovered in. Empty for
	// manifests supplied directly, such as a hot-reload request body.
	Path string `yaml:"-"`

	parsedVersion Version
}

// ParseManifest decodes and validates a manifest document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestError{Reason: fmt.Sprintf("parse YAML: %v", err)}
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return &ManifestError{Path: m.Path, Reason: "name is required"}
	}
	v, err := ParseVersion(m.Version)
	if err != nil {
		return &ManifestError{Path: m.Path, Reason: err.Error()}
	}
	m.parsedVersion = v
	if strings.TrimSpace(m.Driver) == "" {
		return &ManifestError{Path: m.Path, Reason: "driver is required"}
	}
	if len(m.Capabilities) == 0 {
		return &ManifestError{Path: m.Path, Reason: "at least one capability is required"}
	}
	seen := make(map[string]struct{}, len(m.Capabilities))
	for _, c := range m.Capabilities {
		if strings.TrimSpace(c.Name) == "" {
			return &ManifestError{Path: m.Path, Reason: "capability name is required"}
		}
		if !c.Kind.Valid() {
			return &ManifestError{Path: m.Path, Reason: fmt.Sprintf("capability %q has unknown kind %q", c.Name, c.Kind)}
		}
		if _, dup := seen[c.Name]; dup {
			return &ManifestError{Path: m.Path, Reason: fmt.Sprintf("duplicate capability %q", c.Name)}
		}
		seen[c.Name] = struct{}{}
	}
	for _, d := range m.Dependencies {
		if strings.TrimSpace(d.Name) == "" {
			return &ManifestError{Path: m.Path, Reason: "dependency name is required"}
		}
		if d.Name == m.Name {
			return &ManifestError{Path: m.Path, Reason: "plugin cannot depend on itself"}
		}
		if _, err := ParseConstraint(d.Version); err != nil {
			return &ManifestError{Path: m.Path, Reason: fmt.Sprintf("dependency %q: %v", d.Name, err)}
		}
	}
	return nil
}

// ParsedVersion returns the version triple validated by ParseManifest.
func (m *Manifest) ParsedVersion() Version { return m.parsedVersion }

// Provides reports whether the manifest declares the named capability and
// returns its kind.
func (m *Manifest) Provides(name string) (capability.Kind, bool) {
	for _, c := range m.Capabilities {
		if c.Name == name {
			return c.Kind, true
		}
	}
	return "", false
}

// MissingConfigKeys returns the declared required keys absent from conf.
func (m *Manifest) MissingConfigKeys(conf map[string]any) []string {
	if m.ConfigKeys == nil {
		return nil
	}
	var missing []string
	for _, key := range m.ConfigKeys.Required {
		if _, ok := conf[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}
