// Package artifacts snapshots tracked project directories and detects what
// changed between two snapshots, so the coordinator can register newly
// produced files against the state store.
package artifacts

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// defaultTrackedDirs are the top-level directories walked for snapshots
// unless the caller overrides them.
var defaultTrackedDirs = []string{"docs", "src"}

// denyList names directories never descended into, regardless of where they
// appear in the tree.
var denyList = map[string]bool{
	".git":         true,
	".orchestrator": true,
	"node_modules": true,
	"vendor":       true,
	".cache":       true,
	"dist":         true,
	"build":        true,
}

// fileState is one tracked file's observed metadata.
type fileState struct {
	ModTime time.Time
	Size    int64
}

// Snapshot is a point-in-time map of relative path to observed file state.
type Snapshot map[string]fileState

// Manager snapshots and diffs a project's tracked directories.
type Manager struct {
	root    string
	tracked []string
	store   ArtifactStore
}

// ArtifactStore is the subset of the state store this package writes to.
type ArtifactStore interface {
	RegisterArtifact(path, workflowName string, epicNum, storyNum *int, agent string, phase int, artifactType string) error
}

// New creates a Manager rooted at projectRoot, tracking the given
// directories (relative to root). An empty trackedDirs uses the default
// (docs, src).
func New(projectRoot string, trackedDirs []string, store ArtifactStore) *Manager {
	if len(trackedDirs) == 0 {
		trackedDirs = defaultTrackedDirs
	}
	return &Manager{root: projectRoot, tracked: trackedDirs, store: store}
}

// Snapshot walks every tracked directory and returns the set of
// (relative_path, mtime, size) tuples observed. The concrete return type is
// Snapshot, boxed as `any` to satisfy coordinator.ArtifactManager.
func (m *Manager) Snapshot() (any, error) {
	snap := make(Snapshot)
	for _, dir := range m.tracked {
		root := filepath.Join(m.root, dir)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if d.IsDir() {
				if denyList[d.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(m.root, path)
			if err != nil {
				return err
			}
			snap[filepath.ToSlash(rel)] = fileState{ModTime: info.ModTime(), Size: info.Size()}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return snap, nil
}

// Detect returns the paths present (or changed) in after relative to
// before: after \ before, covering both creation and modification. before
// and after must be Snapshot values as returned by Snapshot (or nil, treated
// as empty).
func (m *Manager) Detect(before, after any) []string {
	beforeSnap, _ := before.(Snapshot)
	afterSnap, _ := after.(Snapshot)

	var changed []string
	for path, afterState := range afterSnap {
		beforeState, existed := beforeSnap[path]
		if !existed || beforeState != afterState {
			changed = append(changed, path)
		}
	}
	return changed
}

// artifactType is the closed set of artifact kinds InferType maps to.
type artifactType string

const (
	TypePRD        artifactType = "prd"
	TypeArchitecture artifactType = "architecture"
	TypeEpic       artifactType = "epic"
	TypeStory      artifactType = "story"
	TypeADR        artifactType = "adr"
	TypePostmortem artifactType = "postmortem"
	TypeRunbook    artifactType = "runbook"
	TypeQAReport   artifactType = "qa_report"
	TypeTestReport artifactType = "test_report"
)

var workflowTypeHints = map[string]artifactType{
	"prd":               TypePRD,
	"architecture":      TypeArchitecture,
	"create-story":      TypeStory,
	"dev-story":         TypeStory,
	"tech-spec":         TypeArchitecture,
	"tech-spec-jit":     TypeArchitecture,
	"retrospective":     TypePostmortem,
}

var pathSubstringHints = []struct {
	substr string
	typ    artifactType
}{
	{"prd", TypePRD},
	{"architecture", TypeArchitecture},
	{"adr", TypeADR},
	{"epics", TypeEpic},
	{"stories", TypeStory},
	{"retrospective", TypePostmortem},
	{"runbook", TypeRunbook},
	{"qa", TypeQAReport},
	{"test", TypeTestReport},
}

// InferType classifies path's artifact kind, checking workflowName first and
// falling back to path substrings, defaulting to TypeStory.
func InferType(path, workflowName string) artifactType {
	if typ, ok := workflowTypeHints[workflowName]; ok {
		return typ
	}
	lower := strings.ToLower(path)
	for _, hint := range pathSubstringHints {
		if strings.Contains(lower, hint.substr) {
			return hint.typ
		}
	}
	return TypeStory
}

// Register stores metadata for each artifact in the state store. A failure
// registering one artifact is collected as a warning-level error and does
// not stop registration of the rest.
func (m *Manager) Register(artifacts []string, workflowName string, epicNum, storyNum *int) []error {
	var errs []error
	for _, path := range artifacts {
		typ := InferType(path, workflowName)
		if err := m.store.RegisterArtifact(path, workflowName, epicNum, storyNum, "", 0, string(typ)); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
