// Package workflow loads workflow definitions from disk and resolves the
// variables each instance of a workflow is run with.
package workflow

// Variable declares a single variable a workflow's template may reference.
type Variable struct {
	Name     string `yaml:"name"`
	Default  string `yaml:"default,omitempty"`
	Required bool   `yaml:"required,omitempty"`
}

// Definition is the static, on-disk description of a workflow: its name,
// declared variables, required tools, and instructions template. Definitions
// are data, never code — there is no scripting API for user-authored
// workflow graphs.
type Definition struct {
	Name               string     `yaml:"name"`
	Description        string     `yaml:"description"`
	Phase              int        `yaml:"phase"` // 1-4
	Variables          []Variable `yaml:"variables"`
	RequiredTools      []string   `yaml:"required_tools"`
	TemplateFiles      []string   `yaml:"template_files,omitempty"`
	OutputPathTemplate string     `yaml:"output_path_template,omitempty"`
	RequiresFeature    bool       `yaml:"requires_feature,omitempty"`

	// InstalledPath is the directory this definition was loaded from; it
	// contains instructions.md. Set by the loader, not read from YAML.
	InstalledPath string `yaml:"-"`
}

// InstructionsTemplate returns the raw contents of this definition's
// instructions.md, falling back to its Description if the file is absent.
func (d *Definition) InstructionsTemplate() (string, error) {
	return readInstructions(d.InstalledPath, d.Description)
}
