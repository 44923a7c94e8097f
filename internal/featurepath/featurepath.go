// Package featurepath resolves which feature a workflow instance is scoped
// to, and generates the family of document paths associated with that
// feature, epic, and story.
package featurepath

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vinayprograms/agent/internal/workflow"
)

// FeatureStore is the subset of the state store this package needs: the list
// of known feature names.
type FeatureStore interface {
	FeatureNames() ([]string, error)
}

// AmbiguousFeatureError is returned when no priority resolves a unique
// feature and more than one candidate exists.
type AmbiguousFeatureError struct {
	Candidates []string
}

func (e *AmbiguousFeatureError) Error() string {
	return fmt.Sprintf("ambiguous feature: candidates are %s", strings.Join(e.Candidates, ", "))
}

// UnknownFeatureError is returned when an explicitly named feature is not
// registered in the state store.
type UnknownFeatureError struct {
	Requested  string
	Candidates []string
}

func (e *UnknownFeatureError) Error() string {
	return fmt.Sprintf("unknown feature %q; available: %s", e.Requested, strings.Join(e.Candidates, ", "))
}

// UnknownPathTypeError is returned by Path for an unsupported path type.
type UnknownPathTypeError struct {
	Requested string
}

func (e *UnknownPathTypeError) Error() string {
	return fmt.Sprintf("unknown path type %q; supported: %s", e.Requested, strings.Join(pathTypeNames(), ", "))
}

// Resolver resolves feature names and generates feature-scoped document paths.
type Resolver struct {
	Store   FeatureStore
	Getwd   func() (string, error) // overridable for tests
	DocsDir string                 // relative to project root, default "docs/features"
}

// NewResolver creates a Resolver backed by store.
func NewResolver(store FeatureStore) *Resolver {
	return &Resolver{Store: store, Getwd: os.Getwd, DocsDir: "docs/features"}
}

// ResolveFeatureName resolves a feature name by the six-priority rule
// described in the specification: explicit param, context metadata, CWD
// scoping, the sole non-MVP feature, the sole MVP feature, or ambiguity.
func (r *Resolver) ResolveFeatureName(params map[string]string, contextMeta map[string]string) (string, error) {
	if name, ok := params["feature_name"]; ok && name != "" {
		return r.validateKnown(name)
	}
	if name, ok := contextMeta["feature_name"]; ok && name != "" {
		return r.validateKnown(name)
	}
	if name, ok := r.featureFromCWD(); ok {
		return r.validateKnown(name)
	}

	names, err := r.Store.FeatureNames()
	if err != nil {
		return "", fmt.Errorf("list features: %w", err)
	}

	nonMVP := make([]string, 0, len(names))
	hasMVP := false
	for _, n := range names {
		if n == "mvp" {
			hasMVP = true
			continue
		}
		nonMVP = append(nonMVP, n)
	}

	if len(nonMVP) == 1 {
		return nonMVP[0], nil
	}
	if len(nonMVP) == 0 && hasMVP {
		return "mvp", nil
	}
	return "", &AmbiguousFeatureError{Candidates: names}
}

func (r *Resolver) validateKnown(name string) (string, error) {
	names, err := r.Store.FeatureNames()
	if err != nil {
		return "", fmt.Errorf("list features: %w", err)
	}
	for _, n := range names {
		if n == name {
			return name, nil
		}
	}
	return "", &UnknownFeatureError{Requested: name, Candidates: names}
}

func (r *Resolver) featureFromCWD() (string, bool) {
	cwd, err := r.Getwd()
	if err != nil {
		return "", false
	}
	marker := string(filepath.Separator) + filepath.FromSlash(r.DocsDir) + string(filepath.Separator)
	idx := strings.Index(cwd, marker)
	if idx < 0 {
		return "", false
	}
	rest := cwd[idx+len(marker):]
	parts := strings.SplitN(rest, string(filepath.Separator), 2)
	if parts[0] == "" {
		return "", false
	}
	return parts[0], true
}

// ResolveVariables implements workflow.FeatureResolver: it resolves the
// feature name and returns it as both "feature" and "feature_name", plus any
// epic, epic_name, story and date values passed in params. No paths are
// returned.
func (r *Resolver) ResolveVariables(params map[string]string) (map[string]string, error) {
	name, err := r.ResolveFeatureName(params, nil)
	if err != nil {
		return nil, err
	}
	vars := map[string]string{"feature": name, "feature_name": name}
	for k, v := range params {
		if k == "epic" || k == "epic_name" || k == "story" || k == "date" {
			vars[k] = v
		}
	}
	return vars, nil
}

// pathType enumerates the closed set of document path types this resolver
// knows how to generate.
type pathType string

const (
	PathPRD                  pathType = "prd"
	PathArchitecture         pathType = "architecture"
	PathReadme               pathType = "readme"
	PathEpicsOverview        pathType = "epics_overview"
	PathQAFolder             pathType = "qa_folder"
	PathRetrospectivesFolder pathType = "retrospectives_folder"
	PathStandupsFolder       pathType = "standups_folder"
	PathEpicFolder           pathType = "epic_folder"
	PathEpicLocation         pathType = "epic_location"
	PathStoryFolder          pathType = "story_folder"
	PathStoryLocation        pathType = "story_location"
	PathContextXMLFolder     pathType = "context_xml_folder"
	PathRetrospectiveLoc     pathType = "retrospective_location"
	PathStandupLocation      pathType = "standup_location"
	PathFeatureDir           pathType = "feature_dir"
)

var pathTemplates = map[pathType]string{
	PathPRD:                  "docs/features/{{feature}}/prd.md",
	PathArchitecture:         "docs/features/{{feature}}/architecture.md",
	PathReadme:               "docs/features/{{feature}}/README.md",
	PathEpicsOverview:        "docs/features/{{feature}}/epics.md",
	PathQAFolder:             "docs/features/{{feature}}/qa",
	PathRetrospectivesFolder: "docs/features/{{feature}}/retrospectives",
	PathStandupsFolder:       "docs/features/{{feature}}/standups",
	PathEpicFolder:           "docs/features/{{feature}}/epics/{{epic}}",
	PathEpicLocation:         "docs/features/{{feature}}/epics/{{epic}}/epic.md",
	PathStoryFolder:          "docs/features/{{feature}}/epics/{{epic}}/stories",
	PathStoryLocation:        "docs/features/{{feature}}/epics/{{epic}}/stories/{{story}}.md",
	PathContextXMLFolder:     "docs/features/{{feature}}/context",
	PathRetrospectiveLoc:     "docs/features/{{feature}}/retrospectives/epic-{{epic}}-{{date}}.md",
	PathStandupLocation:      "docs/features/{{feature}}/standups/{{date}}.md",
	PathFeatureDir:           "docs/features/{{feature}}",
}

func pathTypeNames() []string {
	names := make([]string, 0, len(pathTemplates))
	for t := range pathTemplates {
		names = append(names, string(t))
	}
	return names
}

// Path expands the named path type using feature and the optional
// epic/story/date values.
func (r *Resolver) Path(requested string, feature, epic, story, date string) (string, error) {
	tmpl, ok := pathTemplates[pathType(requested)]
	if !ok {
		return "", &UnknownPathTypeError{Requested: requested}
	}
	return workflow.RenderTemplate(tmpl, map[string]string{
		"feature": feature,
		"epic":    epic,
		"story":   story,
		"date":    date,
	}), nil
}
