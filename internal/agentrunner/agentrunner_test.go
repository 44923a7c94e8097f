package agentrunner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vinayprograms/agent/internal/workflow"
	"github.com/vinayprograms/agentkit/llm"
)

type fakeProvider struct {
	chunks  []string
	failErr error
}

func (f *fakeProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Content: joinChunks(f.chunks)}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req llm.ChatRequest, callback func(string)) (*llm.ChatResponse, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	for _, c := range f.chunks {
		callback(c)
	}
	return &llm.ChatResponse{Content: joinChunks(f.chunks)}, nil
}

func (f *fakeProvider) Name() string { return "fake" }

func joinChunks(chunks []string) string {
	out := ""
	for _, c := range chunks {
		out += c
	}
	return out
}

func drain(out <-chan string, errCh <-chan error) (string, error) {
	var result string
	var outOpen, errOpen = true, true
	var err error
	for outOpen || errOpen {
		select {
		case chunk, ok := <-out:
			if !ok {
				outOpen = false
				out = nil
				continue
			}
			result += chunk
		case e, ok := <-errCh:
			if !ok {
				errOpen = false
				errCh = nil
				continue
			}
			err = e
		}
	}
	return result, err
}

func TestRunPromptStreamsChunksAndClosesCleanly(t *testing.T) {
	r := NewRunner(&fakeProvider{chunks: []string{"hello ", "world"}}, nil)
	out, errCh := r.runPrompt(context.Background(), "sys", "user")
	result, err := drain(out, errCh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "hello world" {
		t.Fatalf("expected %q, got %q", "hello world", result)
	}
}

func TestRunPromptPropagatesProviderError(t *testing.T) {
	boom := errors.New("boom")
	r := NewRunner(&fakeProvider{failErr: boom}, nil)
	out, errCh := r.runPrompt(context.Background(), "sys", "user")
	_, err := drain(out, errCh)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func newTestRegistry(t *testing.T) *workflow.Registry {
	t.Helper()
	dir := t.TempDir()
	wfDir := filepath.Join(dir, "planning")
	if err := os.MkdirAll(wfDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	yaml := "name: planning\ndescription: plan the epic\n"
	if err := os.WriteFile(filepath.Join(wfDir, "workflow.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write workflow.yaml: %v", err)
	}
	if err := os.WriteFile(filepath.Join(wfDir, "instructions.md"), []byte("Plan epic {{epic_num}}"), 0o644); err != nil {
		t.Fatalf("write instructions.md: %v", err)
	}
	reg := workflow.NewRegistry()
	if err := reg.LoadDir(dir); err != nil {
		t.Fatalf("load dir: %v", err)
	}
	return reg
}

func TestWorkflowExecutorRendersAndStreams(t *testing.T) {
	reg := newTestRegistry(t)
	resolver := workflow.NewResolver(nil, nil, nil)
	r := NewRunner(&fakeProvider{chunks: []string{"done"}}, nil)
	w := NewWorkflowExecutor(r, reg, resolver)

	epic := 7
	out, errCh := w.Execute(context.Background(), "planning", &epic, nil, nil)
	result, err := drain(out, errCh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "done" {
		t.Fatalf("expected %q, got %q", "done", result)
	}
}

func TestWorkflowExecutorUnknownWorkflowErrors(t *testing.T) {
	reg := newTestRegistry(t)
	resolver := workflow.NewResolver(nil, nil, nil)
	r := NewRunner(&fakeProvider{}, nil)
	w := NewWorkflowExecutor(r, reg, resolver)

	out, errCh := w.Execute(context.Background(), "nonexistent", nil, nil, nil)
	_, err := drain(out, errCh)
	if err == nil {
		t.Fatalf("expected error for unknown workflow")
	}
}

func TestAnalysisExecutorDecodesClassification(t *testing.T) {
	reply := `{"level":2,"type":"software","estimated_stories":8,"estimated_epics":2,"confidence":0.75,"needs_clarification":false,"questions":[]}`
	r := NewRunner(&fakeProvider{chunks: []string{reply}}, nil)
	a := NewAnalysisExecutor(r)

	analysis, err := a.Analyze(context.Background(), "build a todo app")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analysis.EstimatedStories != 8 || analysis.Confidence != 0.75 {
		t.Fatalf("unexpected analysis: %+v", analysis)
	}
}

func TestAnalysisExecutorPropagatesMalformedReplyAsError(t *testing.T) {
	r := NewRunner(&fakeProvider{chunks: []string{"not json"}}, nil)
	a := NewAnalysisExecutor(r)

	if _, err := a.Analyze(context.Background(), "build a todo app"); err == nil {
		t.Fatalf("expected error decoding malformed reply")
	}
}

func TestCeremonyExecutorStreamsResponse(t *testing.T) {
	r := NewRunner(&fakeProvider{chunks: []string{"retro notes"}}, nil)
	c := NewCeremonyExecutor(r)

	out, errCh := c.Execute(context.Background(), "retrospective", 3, nil, []string{"pm", "dev"}, map[string]string{"sprint": "4"})
	result, err := drain(out, errCh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "retro notes" {
		t.Fatalf("expected %q, got %q", "retro notes", result)
	}
}
