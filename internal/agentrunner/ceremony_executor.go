package agentrunner

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// CeremonyExecutor satisfies ceremony.AgentExecutor: it turns a ceremony's
// type, participants, and context into a single chat turn through the
// shared Runner. There is no workflow definition to resolve here — the
// prompt is built directly from what the caller passes in.
type CeremonyExecutor struct {
	runner *Runner
}

// NewCeremonyExecutor wraps runner for ceremony-shaped calls.
func NewCeremonyExecutor(runner *Runner) *CeremonyExecutor {
	return &CeremonyExecutor{runner: runner}
}

// Execute renders a ceremony system prompt naming the ceremony type and
// participants, and a user prompt carrying the epic/story identifiers plus
// any additional context, then streams the result.
func (c *CeremonyExecutor) Execute(ctx context.Context, ceremonyType string, epicNum int, storyNum *int, participants []string, additionalContext map[string]string) (<-chan string, <-chan error) {
	systemPrompt := fmt.Sprintf("You are facilitating a %s ceremony with participants: %s.",
		ceremonyType, strings.Join(participants, ", "))

	var b strings.Builder
	fmt.Fprintf(&b, "Epic %d", epicNum)
	if storyNum != nil {
		fmt.Fprintf(&b, ", story %d", *storyNum)
	}
	b.WriteString(".\n")

	keys := make([]string, 0, len(additionalContext))
	for k := range additionalContext {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, additionalContext[k])
	}

	return c.runner.runPrompt(ctx, systemPrompt, b.String())
}
