// Package agentrunner holds agent-executor implementations that a cmd/
// binary may construct and pass into internal/factory.Build — never
// something the factory wires in on its own. Runner is the model-backed
// one: it turns a workflow step or a ceremony into an llm.Provider chat
// call and streams the response back chunk by chunk, in the channel
// shape both coordinator.AgentExecutor and ceremony.AgentExecutor
// expect. Stub* (stub.go) is the minimal in-repo fallback factory.Build
// uses when no callback is supplied, meant for tests and local dry runs
// only.
package agentrunner

import (
	"context"
	"log/slog"

	"github.com/vinayprograms/agentkit/llm"
)

const streamBufferSize = 64

// Runner owns the llm.Provider invocation shared by WorkflowExecutor and
// CeremonyExecutor. It does not know about workflows or ceremonies; callers
// build the system/user prompt and hand it runPrompt.
type Runner struct {
	provider llm.Provider
	logger   *slog.Logger
}

// NewRunner wraps provider. logger defaults to slog.Default.
func NewRunner(provider llm.Provider, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{provider: provider, logger: logger}
}

// runPrompt streams a single chat turn: the output channel receives content
// chunks as the provider emits them, and closes alongside the error channel
// once the call completes. Exactly one error is sent on failure, none on
// success, matching the AgentExecutor contract both callers implement.
func (r *Runner) runPrompt(ctx context.Context, systemPrompt, userPrompt string) (<-chan string, <-chan error) {
	out := make(chan string, streamBufferSize)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		req := llm.ChatRequest{
			Messages: []llm.Message{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: userPrompt},
			},
		}

		_, err := r.provider.ChatStream(ctx, req, func(chunk string) {
			select {
			case out <- chunk:
			case <-ctx.Done():
			}
		})
		if err != nil {
			r.logger.Warn("agent_execution_failed", slog.String("error", err.Error()))
			errCh <- err
			return
		}
	}()

	return out, errCh
}
