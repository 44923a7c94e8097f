package scaleplanner

// WorkflowSequence is the ordered list of workflow names the coordinator
// should run: a one-shot setup phase followed by a repeating story loop.
type WorkflowSequence struct {
	Setup       []string
	StoryLoop   []string
	JITTechSpec bool
}

// WorkflowFilter reports whether a workflow name is registered and runnable.
// The scale planner depends on this rather than a concrete registry type so
// it stays decoupled from the workflow package's loading mechanics.
type WorkflowFilter interface {
	Lookup(name string) (ok bool)
}

// LookupFunc adapts a concrete *workflow.Registry-shaped Lookup (which
// returns (def, bool)) down to the simpler WorkflowFilter this package needs,
// without importing the workflow package and creating a dependency cycle
// risk as the planner grows.
type LookupFunc func(name string) bool

func (f LookupFunc) Lookup(name string) bool { return f(name) }

// sequenceFor builds the raw (pre-filter) sequence for a classification,
// following the fixed routing table by scale level with brownfield and game
// overrides layered on top.
func sequenceFor(a PromptAnalysis) WorkflowSequence {
	if a.Type == ProjectGame {
		return gameSequence(a.Level)
	}

	var seq WorkflowSequence
	switch a.Level {
	case LevelAtomic:
		seq = WorkflowSequence{
			Setup:     []string{"tech-spec"},
			StoryLoop: []string{"create-story", "dev-story", "story-done"},
		}
	case LevelSmall:
		seq = WorkflowSequence{
			Setup:     []string{"tech-spec"},
			StoryLoop: []string{"create-story", "dev-story", "story-done"},
		}
	case LevelMedium:
		seq = WorkflowSequence{
			Setup:     []string{"prd", "tech-spec"},
			StoryLoop: []string{"create-story", "dev-story", "story-done"},
		}
	case LevelLarge:
		seq = WorkflowSequence{
			Setup:       []string{"prd", "architecture"},
			StoryLoop:   []string{"tech-spec-jit", "create-story", "dev-story", "story-done"},
			JITTechSpec: true,
		}
	case LevelEnterprise:
		seq = WorkflowSequence{
			Setup:       []string{"prd", "architecture"},
			StoryLoop:   []string{"tech-spec-jit", "create-story", "dev-story", "story-done"},
			JITTechSpec: true,
		}
	default:
		seq = WorkflowSequence{
			Setup:     []string{"prd", "tech-spec"},
			StoryLoop: []string{"create-story", "dev-story", "story-done"},
		}
	}

	if a.Type == ProjectBrownfield {
		seq.Setup = append([]string{"document-project"}, seq.Setup...)
	}
	return seq
}

// gameSequence is the parallel track for game projects: brief and GDD
// replace PRD/tech-spec, with architecture joining only at large scale and
// above.
func gameSequence(level ScaleLevel) WorkflowSequence {
	setup := []string{"game-brief", "gdd"}
	if level >= LevelLarge {
		setup = append(setup, "architecture")
	}
	return WorkflowSequence{
		Setup:     setup,
		StoryLoop: []string{"create-story", "dev-story", "story-done"},
	}
}

// filterMissing drops workflow names not present in filter, returning the
// filtered sequence plus the names that were dropped (so the caller can
// warn).
func filterMissing(names []string, filter WorkflowFilter) (kept []string, dropped []string) {
	for _, name := range names {
		if filter.Lookup(name) {
			kept = append(kept, name)
		} else {
			dropped = append(dropped, name)
		}
	}
	return kept, dropped
}
