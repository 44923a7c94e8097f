package agentrunner

import (
	"context"
	"fmt"

	"github.com/vinayprograms/agent/internal/scaleplanner"
)

// StubWorkflowExecutor is the minimal in-repo implementation of
// coordinator.AgentExecutor: it produces a deterministic, canned
// transcript instead of calling out to a model. It exists so the
// orchestrator is runnable — for tests and local dry runs — without any
// external agent runtime wired in; a real deployment constructs its own
// AgentExecutor (for example one backed by a model provider) and passes
// it to factory.Build instead of this one.
type StubWorkflowExecutor struct{}

// NewStubWorkflowExecutor returns a StubWorkflowExecutor. It holds no state.
func NewStubWorkflowExecutor() *StubWorkflowExecutor { return &StubWorkflowExecutor{} }

// Execute emits a single canned line naming the workflow and the
// story/epic it was asked to run, then closes both channels.
func (StubWorkflowExecutor) Execute(ctx context.Context, workflowName string, epicNum, storyNum *int, params map[string]string) (<-chan string, <-chan error) {
	out := make(chan string, 1)
	errCh := make(chan error, 1)
	out <- fmt.Sprintf("[stub] workflow %q complete (epic=%s, story=%s)", workflowName, refStr(epicNum), refStr(storyNum))
	close(out)
	close(errCh)
	return out, errCh
}

// StubCeremonyExecutor is the minimal in-repo implementation of
// ceremony.AgentExecutor, analogous to StubWorkflowExecutor.
type StubCeremonyExecutor struct{}

// NewStubCeremonyExecutor returns a StubCeremonyExecutor. It holds no state.
func NewStubCeremonyExecutor() *StubCeremonyExecutor { return &StubCeremonyExecutor{} }

// Execute emits a single canned line naming the ceremony and its
// participant count, then closes both channels.
func (StubCeremonyExecutor) Execute(ctx context.Context, ceremonyType string, epicNum int, storyNum *int, participants []string, additionalContext map[string]string) (<-chan string, <-chan error) {
	out := make(chan string, 1)
	errCh := make(chan error, 1)
	out <- fmt.Sprintf("[stub] ceremony %q complete (%d participant(s))", ceremonyType, len(participants))
	close(out)
	close(errCh)
	return out, errCh
}

// StubAnalysisService is the minimal in-repo implementation of
// scaleplanner.AnalysisService: a fixed medium-scale, single-story
// classification, since a stub has no basis to guess scope from the prompt
// text.
type StubAnalysisService struct{}

// NewStubAnalysisService returns a StubAnalysisService. It holds no state.
func NewStubAnalysisService() *StubAnalysisService { return &StubAnalysisService{} }

// Analyze always returns the same single-story classification.
func (StubAnalysisService) Analyze(ctx context.Context, prompt string) (scaleplanner.PromptAnalysis, error) {
	return scaleplanner.PromptAnalysis{
		Level:              scaleplanner.LevelMedium,
		Type:               scaleplanner.ProjectSoftware,
		EstimatedStories:   1,
		EstimatedEpics:     1,
		Confidence:         1,
		NeedsClarification: false,
	}, nil
}

func refStr(n *int) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *n)
}
