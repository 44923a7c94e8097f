// Package qualitygate validates that a workflow step produced the artifacts
// it was expected to, deciding whether the sequence should continue,
// silently adapt to what it actually got, or retry the step.
package qualitygate

import (
	"os"
	"path/filepath"
	"time"

	"github.com/vinayprograms/agent/internal/coordinator"
	"github.com/vinayprograms/agent/internal/eventbus"
)

// Gate validates a step's actual artifacts against a configured expected
// set, per workflow name.
type Gate struct {
	expected    map[string][]string
	projectRoot string
	bus         *eventbus.Bus
}

// New creates a Gate. expected maps a workflow name to the list of
// project-root-relative paths it should produce; a name with no entry has no
// gate configured. projectRoot anchors relative path checks.
func New(expected map[string][]string, projectRoot string, bus *eventbus.Bus) *Gate {
	return &Gate{expected: expected, projectRoot: projectRoot, bus: bus}
}

// Evaluate implements coordinator.QualityGate.
func (g *Gate) Evaluate(workflowName string, artifacts []string) (coordinator.GateResult, error) {
	g.publish("QualityGateStarted", map[string]any{"workflow": workflowName})

	want, configured := g.expected[workflowName]
	if !configured || len(want) == 0 {
		return g.pass(workflowName, coordinator.GatePassed)
	}

	var missing []string
	for _, rel := range want {
		if !g.exists(rel) {
			missing = append(missing, rel)
		}
	}
	if len(missing) == 0 {
		return g.pass(workflowName, coordinator.GatePassed)
	}

	if workflowName == "create-story" && g.storiesDirEmpty() {
		result := coordinator.GateResult{
			Status: coordinator.GateFailed,
			Action: coordinator.ActionRetry,
			Detail: "create-story expected a non-empty stories directory",
		}
		g.publish("QualityGateFailed", map[string]any{"workflow": workflowName, "detail": result.Detail})
		return result, nil
	}

	if containsPRD(missing) && g.exists("epics.md") {
		result := coordinator.GateResult{
			Status: coordinator.GateAdapted,
			Action: coordinator.ActionAdapt,
			Detail: "prd.md missing but epics.md present, treating as adapted",
		}
		g.publish("QualityGatePassed", map[string]any{"workflow": workflowName, "status": string(result.Status)})
		return result, nil
	}

	result := coordinator.GateResult{
		Status: coordinator.GateAdapted,
		Action: coordinator.ActionAdapt,
		Detail: "missing artifacts: " + joinMissing(missing),
	}
	g.publish("QualityGatePassed", map[string]any{"workflow": workflowName, "status": string(result.Status), "missing": missing})
	return result, nil
}

func (g *Gate) pass(workflowName string, status coordinator.GateStatus) (coordinator.GateResult, error) {
	result := coordinator.GateResult{Status: status, Action: coordinator.ActionContinue}
	g.publish("QualityGatePassed", map[string]any{"workflow": workflowName, "status": string(status)})
	return result, nil
}

func (g *Gate) exists(rel string) bool {
	_, err := os.Stat(filepath.Join(g.projectRoot, rel))
	return err == nil
}

func (g *Gate) storiesDirEmpty() bool {
	entries, err := os.ReadDir(filepath.Join(g.projectRoot, "docs", "features"))
	if err != nil {
		return true
	}
	for _, e := range entries {
		if e.IsDir() {
			storiesDir := filepath.Join(g.projectRoot, "docs", "features", e.Name(), "epics")
			if dirHasAnyFile(storiesDir) {
				return false
			}
		}
	}
	return true
}

func dirHasAnyFile(dir string) bool {
	var found bool
	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			found = true
		}
		return nil
	})
	return found
}

func containsPRD(paths []string) bool {
	for _, p := range paths {
		if filepath.Base(p) == "prd.md" {
			return true
		}
	}
	return false
}

func joinMissing(paths []string) string {
	out := ""
	for i, p := range paths {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

func (g *Gate) publish(eventType string, data map[string]any) {
	if g.bus == nil {
		return
	}
	g.bus.Publish(eventbus.Event{Type: eventType, Data: data, Timestamp: time.Now()})
}
