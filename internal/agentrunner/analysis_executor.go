package agentrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vinayprograms/agent/internal/scaleplanner"
)

const classificationSystemPrompt = `You classify a software project request.
Respond with a single JSON object, no prose, shaped exactly as:
{"level":0-4,"type":"greenfield|brownfield|game|software|bug_fix|enhancement","estimated_stories":int,"estimated_epics":int,"confidence":0-1,"needs_clarification":bool,"questions":["..."]}`

// AnalysisExecutor satisfies scaleplanner.AnalysisService by asking the
// shared Runner's provider to classify the prompt and decoding its JSON
// reply. A malformed or truncated reply is a classification failure, not a
// panic — scaleplanner.Planner already falls back conservatively on error.
type AnalysisExecutor struct {
	runner *Runner
}

// NewAnalysisExecutor wraps runner for prompt classification.
func NewAnalysisExecutor(runner *Runner) *AnalysisExecutor {
	return &AnalysisExecutor{runner: runner}
}

type classificationReply struct {
	Level              int      `json:"level"`
	Type               string   `json:"type"`
	EstimatedStories   int      `json:"estimated_stories"`
	EstimatedEpics     int      `json:"estimated_epics"`
	Confidence         float64  `json:"confidence"`
	NeedsClarification bool     `json:"needs_clarification"`
	Questions          []string `json:"questions"`
}

// Analyze runs a single classification chat turn and decodes the result.
func (a *AnalysisExecutor) Analyze(ctx context.Context, prompt string) (scaleplanner.PromptAnalysis, error) {
	out, errCh := a.runner.runPrompt(ctx, classificationSystemPrompt, prompt)
	var raw strings.Builder
	var runErr error
	for out != nil || errCh != nil {
		select {
		case chunk, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			raw.WriteString(chunk)
		case e, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			runErr = e
		}
	}
	if runErr != nil {
		return scaleplanner.PromptAnalysis{}, fmt.Errorf("agentrunner: classification call: %w", runErr)
	}

	var reply classificationReply
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw.String())), &reply); err != nil {
		return scaleplanner.PromptAnalysis{}, fmt.Errorf("agentrunner: decoding classification reply: %w", err)
	}

	return scaleplanner.PromptAnalysis{
		Level:              scaleplanner.ScaleLevel(reply.Level),
		Type:               scaleplanner.ProjectType(reply.Type),
		EstimatedStories:   reply.EstimatedStories,
		EstimatedEpics:     reply.EstimatedEpics,
		Confidence:         reply.Confidence,
		NeedsClarification: reply.NeedsClarification,
		Questions:          reply.Questions,
	}, nil
}
