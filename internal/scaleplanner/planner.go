package scaleplanner

import (
	"context"
	"fmt"
	"log/slog"
)

// Planner classifies prompts and turns the classification into a concrete
// workflow sequence, filtered against what the workflow registry actually
// has loaded.
type Planner struct {
	analysis AnalysisService
	registry WorkflowFilter
	logger   *slog.Logger
}

// New creates a Planner backed by analysis for classification and registry
// for filtering unavailable workflows out of the resulting sequence.
func New(analysis AnalysisService, registry WorkflowFilter, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{analysis: analysis, registry: registry, logger: logger}
}

// PlanResult is the outcome of a Plan call: either a ready-to-run sequence,
// or a classification that still needs clarifying answers before planning
// can continue.
type PlanResult struct {
	Analysis PromptAnalysis
	Sequence WorkflowSequence
}

// Plan classifies prompt and, unless clarification is needed, returns the
// workflow sequence to run. Workflow names the registry doesn't know about
// are dropped with a logged warning rather than failing the whole plan.
func (p *Planner) Plan(ctx context.Context, prompt string) (PlanResult, error) {
	analysis, err := p.analysis.Analyze(ctx, prompt)
	if err != nil {
		p.logger.Warn("prompt analysis failed, falling back to conservative default",
			slog.String("error", err.Error()))
		analysis = fallbackAnalysis()
	}

	if analysis.NeedsClarification {
		return PlanResult{Analysis: analysis}, nil
	}

	raw := sequenceFor(analysis)

	setup, droppedSetup := filterMissing(raw.Setup, p.registry)
	loop, droppedLoop := filterMissing(raw.StoryLoop, p.registry)
	for _, name := range append(droppedSetup, droppedLoop...) {
		p.logger.Warn("workflow missing from registry, dropping from sequence",
			slog.String("workflow", name),
			slog.String("scale_level", analysis.Level.String()))
	}

	return PlanResult{
		Analysis: analysis,
		Sequence: WorkflowSequence{Setup: setup, StoryLoop: loop, JITTechSpec: raw.JITTechSpec},
	}, nil
}

// ErrNeedsClarification is returned by callers that choose to treat a
// clarification request as an error rather than inspecting PlanResult
// directly.
type ErrNeedsClarification struct {
	Questions []string
}

func (e *ErrNeedsClarification) Error() string {
	return fmt.Sprintf("prompt analysis needs clarification: %d question(s) pending", len(e.Questions))
}
