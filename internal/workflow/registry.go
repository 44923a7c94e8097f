package workflow

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Registry indexes workflow definitions loaded from a directory of
// <name>/workflow.yaml + instructions.md pairs.
type Registry struct {
	byName map[string]*Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Definition)}
}

// LoadDir scans dir for one subdirectory per workflow and indexes each
// one's workflow.yaml. A workflow.yaml that fails to parse stops the load
// with an error. A subdirectory missing workflow.yaml is skipped, not an
// error — the directory may hold other artifacts.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read workflow directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		defPath := filepath.Join(dir, entry.Name(), "workflow.yaml")
		if _, err := os.Stat(defPath); os.IsNotExist(err) {
			continue
		}

		def, err := loadDefinition(defPath)
		if err != nil {
			return fmt.Errorf("load workflow %q: %w", entry.Name(), err)
		}
		r.byName[def.Name] = def
	}
	return nil
}

func loadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	def.InstalledPath = filepath.Dir(path)
	return &def, nil
}

// Lookup returns the definition registered under name, or false if none.
func (r *Registry) Lookup(name string) (*Definition, bool) {
	def, ok := r.byName[name]
	return def, ok
}

// Names returns every registered workflow name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

func readInstructions(installedPath, fallback string) (string, error) {
	if installedPath == "" {
		return fallback, nil
	}
	path := filepath.Join(installedPath, "instructions.md")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fallback, nil
		}
		return "", fmt.Errorf("read instructions: %w", err)
	}
	return string(data), nil
}
