package agentrunner

import (
	"context"
	"testing"
)

func TestStubWorkflowExecutorClosesCleanly(t *testing.T) {
	s := NewStubWorkflowExecutor()
	epic := 3
	out, errCh := s.Execute(context.Background(), "planning", &epic, nil, nil)
	result, err := drain(out, errCh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == "" {
		t.Fatalf("expected a non-empty canned response")
	}
}

func TestStubCeremonyExecutorClosesCleanly(t *testing.T) {
	s := NewStubCeremonyExecutor()
	out, errCh := s.Execute(context.Background(), "standup", 1, nil, []string{"pm", "dev"}, nil)
	result, err := drain(out, errCh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == "" {
		t.Fatalf("expected a non-empty canned response")
	}
}

func TestStubAnalysisServiceReturnsFixedClassification(t *testing.T) {
	s := NewStubAnalysisService()
	analysis, err := s.Analyze(context.Background(), "anything")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analysis.NeedsClarification {
		t.Fatalf("stub analysis should never request clarification")
	}
	if analysis.EstimatedStories != 1 {
		t.Fatalf("expected 1 estimated story, got %d", analysis.EstimatedStories)
	}
}
