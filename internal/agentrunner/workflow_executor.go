package agentrunner

import (
	"context"
	"fmt"

	"github.com/vinayprograms/agent/internal/workflow"
)

// WorkflowExecutor satisfies coordinator.AgentExecutor: it resolves a named
// workflow step's instructions and runs them through the shared Runner.
type WorkflowExecutor struct {
	runner   *Runner
	registry *workflow.Registry
	resolver *workflow.Resolver
}

// NewWorkflowExecutor builds a WorkflowExecutor over registry/resolver,
// which must already be loaded with the installed workflow definitions.
func NewWorkflowExecutor(runner *Runner, registry *workflow.Registry, resolver *workflow.Resolver) *WorkflowExecutor {
	return &WorkflowExecutor{runner: runner, registry: registry, resolver: resolver}
}

// Execute looks up workflowName, resolves its variables against params, and
// streams the rendered instructions through the runner as a single chat
// turn. epicNum/storyNum are folded into params so the instructions
// template (and the model) can reference them like any other variable.
func (w *WorkflowExecutor) Execute(ctx context.Context, workflowName string, epicNum, storyNum *int, params map[string]string) (<-chan string, <-chan error) {
	def, ok := w.registry.Lookup(workflowName)
	if !ok {
		errCh := make(chan error, 1)
		out := make(chan string)
		close(out)
		errCh <- fmt.Errorf("agentrunner: unknown workflow %q", workflowName)
		close(errCh)
		return out, errCh
	}

	bound := mergeEpicStory(params, epicNum, storyNum)
	vars, err := w.resolver.Resolve(def, bound)
	if err != nil {
		errCh := make(chan error, 1)
		out := make(chan string)
		close(out)
		errCh <- fmt.Errorf("agentrunner: resolving %q: %w", workflowName, err)
		close(errCh)
		return out, errCh
	}

	template, err := def.InstructionsTemplate()
	if err != nil {
		errCh := make(chan error, 1)
		out := make(chan string)
		close(out)
		errCh <- fmt.Errorf("agentrunner: loading instructions for %q: %w", workflowName, err)
		close(errCh)
		return out, errCh
	}

	systemPrompt := fmt.Sprintf("You are executing the %q workflow step.", workflowName)
	userPrompt := workflow.RenderTemplate(template, vars)
	return w.runner.runPrompt(ctx, systemPrompt, userPrompt)
}

func mergeEpicStory(params map[string]string, epicNum, storyNum *int) map[string]string {
	merged := make(map[string]string, len(params)+2)
	for k, v := range params {
		merged[k] = v
	}
	if epicNum != nil {
		merged["epic_num"] = fmt.Sprintf("%d", *epicNum)
	}
	if storyNum != nil {
		merged["story_num"] = fmt.Sprintf("%d", *storyNum)
	}
	return merged
}
