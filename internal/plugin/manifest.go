// Package plugin loads plugin manifests and registers their collectors with
// the scheduler. Each manifest describes one plugin instance: a named group
// of collectors plus the other plugins it depends on.
package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest describes one plugin instance.
type Manifest struct {
	Name       string          `yaml:"name"`
	DependsOn  []string        `yaml:"depends_on"`
	Collectors []CollectorSpec `yaml:"collectors"`
}

// CollectorSpec describes one collector of a plugin. Exactly one of Builtin
// (the name of a compiled-in collector) or Script (JavaScript source
// defining collect(records)) must be set.
type CollectorSpec struct {
	Name    string `yaml:"name"`
	Builtin string `yaml:"builtin,omitempty"`
	Script  string `yaml:"script,omitempty"`
}

// ParseManifest parses and validates a YAML manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks structural constraints the loader relies on.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("manifest: plugin name is required")
	}
	if len(m.Collectors) == 0 {
		return fmt.Errorf("manifest %s: at least one collector is required", m.Name)
	}
	seen := make(map[string]bool, len(m.Collectors))
	for i, cs := range m.Collectors {
		if cs.Name == "" {
			return fmt.Errorf("manifest %s: collector %d has no name", m.Name, i)
		}
		if seen[cs.Name] {
			return fmt.Errorf("manifest %s: duplicate collector name %q", m.Name, cs.Name)
		}
		seen[cs.Name] = true
		if (cs.Builtin == "") == (cs.Script == "") {
			return fmt.Errorf("manifest %s: collector %q must set exactly one of builtin or script", m.Name, cs.Name)
		}
	}
	for _, dep := range m.DependsOn {
		if dep == m.Name {
			return fmt.Errorf("manifest %s: plugin depends on itself", m.Name)
		}
	}
	return nil
}

// LoadDir reads every *.yaml / *.yml manifest in dir, sorted by filename so
// registration order is stable across runs.
func LoadDir(dir string) ([]*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read plugin dir %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	var manifests []*Manifest
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read manifest %s: %w", path, err)
		}
		m, err := ParseManifest(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}
