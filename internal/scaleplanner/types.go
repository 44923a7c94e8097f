// Package scaleplanner classifies an incoming project prompt into a scale
// level and project type, then builds the ordered workflow sequence that
// scale calls for.
package scaleplanner

import "context"

// ScaleLevel is the size classification of a project, from a single fix
// (atomic) to a multi-team initiative (enterprise).
type ScaleLevel int

const (
	LevelAtomic     ScaleLevel = 0
	LevelSmall      ScaleLevel = 1
	LevelMedium     ScaleLevel = 2
	LevelLarge      ScaleLevel = 3
	LevelEnterprise ScaleLevel = 4
)

func (l ScaleLevel) String() string {
	switch l {
	case LevelAtomic:
		return "atomic"
	case LevelSmall:
		return "small"
	case LevelMedium:
		return "medium"
	case LevelLarge:
		return "large"
	case LevelEnterprise:
		return "enterprise"
	default:
		return "unknown"
	}
}

// ProjectType is the shape of the work being planned.
type ProjectType string

const (
	ProjectGreenfield  ProjectType = "greenfield"
	ProjectBrownfield  ProjectType = "brownfield"
	ProjectGame        ProjectType = "game"
	ProjectSoftware    ProjectType = "software"
	ProjectBugFix      ProjectType = "bug_fix"
	ProjectEnhancement ProjectType = "enhancement"
)

// PromptAnalysis is the classification produced for one incoming prompt.
type PromptAnalysis struct {
	Level              ScaleLevel
	Type               ProjectType
	EstimatedStories   int
	EstimatedEpics     int
	Confidence         float64
	NeedsClarification bool
	Questions          []string
}

// AnalysisService classifies a free-form project prompt. It is an injected
// boundary, analogous to the agent-executor callback: the planner never
// knows or cares how the classification is produced.
type AnalysisService interface {
	Analyze(ctx context.Context, prompt string) (PromptAnalysis, error)
}

// fallbackAnalysis is returned whenever the injected AnalysisService fails.
// It is deliberately conservative: mid-size scope, explicit request for
// clarification rather than a silent guess.
func fallbackAnalysis() PromptAnalysis {
	return PromptAnalysis{
		Level:              LevelMedium,
		Type:               ProjectSoftware,
		EstimatedStories:   10,
		EstimatedEpics:     2,
		Confidence:         0.5,
		NeedsClarification: true,
		Questions: []string{
			"Is this a new (greenfield) project or an addition to an existing codebase?",
			"Roughly how many distinct features or user-facing capabilities does this involve?",
			"Are there any hard technical constraints (language, platform, existing architecture) to respect?",
		},
	}
}
