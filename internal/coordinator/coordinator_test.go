package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/vinayprograms/agent/internal/eventbus"
)

type scriptedExecutor struct {
	mu       sync.Mutex
	failN    map[string]int // workflow name -> number of times to fail before succeeding
	attempts map[string]int
	calls    []string
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{failN: map[string]int{}, attempts: map[string]int{}}
}

func (e *scriptedExecutor) Execute(ctx context.Context, name string, epicNum, storyNum *int, params map[string]string) (<-chan string, <-chan error) {
	out := make(chan string, 1)
	errc := make(chan error, 1)

	e.mu.Lock()
	e.calls = append(e.calls, name)
	e.attempts[name]++
	attempt := e.attempts[name]
	failBudget := e.failN[name]
	e.mu.Unlock()

	if attempt <= failBudget {
		close(out)
		errc <- errors.New("transient failure")
		close(errc)
		return out, errc
	}

	out <- "ok"
	close(out)
	close(errc)
	return out, errc
}

type noopGate struct{}

func (noopGate) Evaluate(name string, artifacts []string) (GateResult, error) {
	return GateResult{Status: GatePassed, Action: ActionContinue}, nil
}

type failingGate struct{ failStep string }

func (g failingGate) Evaluate(name string, artifacts []string) (GateResult, error) {
	if name == g.failStep {
		return GateResult{Status: GateFailed, Action: ActionRetry, Detail: "missing expected artifact"}, nil
	}
	return GateResult{Status: GatePassed, Action: ActionContinue}, nil
}

type noopArtifacts struct{}

func (noopArtifacts) Snapshot() (any, error)                  { return nil, nil }
func (noopArtifacts) Detect(before, after any) []string       { return nil }
func (noopArtifacts) Register(paths []string, name string, e, s *int) []error { return nil }

type noopTrigger struct{}

func (noopTrigger) Evaluate(ctx TriggerContext) []CeremonyKind            { return nil }
func (noopTrigger) RecordOutcome(kind CeremonyKind, epic int, ok bool) error { return nil }

type countingTrigger struct {
	kinds   []CeremonyKind
	calls   int
	records int
}

func (t *countingTrigger) Evaluate(ctx TriggerContext) []CeremonyKind {
	t.calls++
	return t.kinds
}

func (t *countingTrigger) RecordOutcome(kind CeremonyKind, epic int, ok bool) error {
	t.records++
	return nil
}

type noopCeremonies struct{ held []CeremonyKind }

func (c *noopCeremonies) Hold(ctx context.Context, kind CeremonyKind, epicNum int, storyNum *int) (CeremonyOutcome, error) {
	c.held = append(c.held, kind)
	return CeremonyOutcome{Kind: kind, TranscriptPath: "transcript.md"}, nil
}

type fakeStore struct {
	mu      sync.Mutex
	epics   []string // status per upsert, in order
	stories []string // "storyNum:status"
	runs    []WorkflowRunRecord
}

func (f *fakeStore) UpsertEpic(epicNum int, title, feature, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.epics = append(f.epics, status)
	return nil
}

func (f *fakeStore) UpsertStory(epicNum, storyNum int, title, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stories = append(f.stories, status)
	return nil
}

func (f *fakeStore) SaveWorkflowRun(r WorkflowRunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, r)
	return nil
}

func recordingBus() (*eventbus.Bus, *[]string) {
	bus := eventbus.New(nil)
	var types []string
	var mu sync.Mutex
	bus.Subscribe("*", func(e eventbus.Event) error {
		mu.Lock()
		types = append(types, e.Type)
		mu.Unlock()
		return nil
	})
	return bus, &types
}

func TestRunEmptySequenceFailsImmediately(t *testing.T) {
	bus, types := recordingBus()
	c := New(newScriptedExecutor(), noopGate{}, noopArtifacts{}, noopTrigger{}, &noopCeremonies{}, bus, nil)

	result := c.Run(context.Background(), Sequence{}, 0, nil)
	if result.Status != SequenceFailed {
		t.Fatalf("expected SequenceFailed, got %v", result.Status)
	}
	if result.ErrorMsg != "Empty workflow sequence" {
		t.Fatalf("expected exact empty-sequence message, got %q", result.ErrorMsg)
	}
	found := false
	for _, typ := range *types {
		if typ == "WorkflowSequenceFailed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected WorkflowSequenceFailed event, got %v", *types)
	}
}

func TestRunHappyPathCompletesAllSteps(t *testing.T) {
	exec := newScriptedExecutor()
	bus, _ := recordingBus()
	c := New(exec, noopGate{}, noopArtifacts{}, noopTrigger{}, &noopCeremonies{}, bus, nil)

	seq := Sequence{
		Setup:     []string{"tech-spec"},
		StoryLoop: []string{"create-story", "dev-story", "story-done"},
	}
	result := c.Run(context.Background(), seq, 2, nil)
	if result.Status != SequenceCompleted {
		t.Fatalf("expected SequenceCompleted, got %v (%s)", result.Status, result.ErrorMsg)
	}
	// 1 setup + 2 stories * 3 steps = 7
	if len(result.Steps) != 7 {
		t.Fatalf("expected 7 step results, got %d", len(result.Steps))
	}
}

func TestRunPersistsEpicStoryAndWorkflowRun(t *testing.T) {
	exec := newScriptedExecutor()
	bus, _ := recordingBus()
	store := &fakeStore{}
	c := New(exec, noopGate{}, noopArtifacts{}, noopTrigger{}, &noopCeremonies{}, bus, nil, WithPersistenceStore(store))

	seq := Sequence{
		Setup:     []string{"tech-spec"},
		StoryLoop: []string{"create-story", "dev-story", "story-done"},
	}
	result := c.Run(context.Background(), seq, 2, map[string]string{"prompt": "build a thing", "feature_name": "thing"})
	if result.Status != SequenceCompleted {
		t.Fatalf("expected SequenceCompleted, got %v (%s)", result.Status, result.ErrorMsg)
	}

	if len(store.epics) < 2 || store.epics[0] != "in_progress" || store.epics[len(store.epics)-1] != "done" {
		t.Fatalf("expected epic upserted in_progress then done, got %v", store.epics)
	}
	if len(store.stories) != 4 { // 2 stories, each upserted in_progress then done
		t.Fatalf("expected 4 story upserts, got %d: %v", len(store.stories), store.stories)
	}
	if len(store.runs) != 1 {
		t.Fatalf("expected exactly one workflow run saved, got %d", len(store.runs))
	}
	if store.runs[0].Status != SequenceCompleted || store.runs[0].EpicNum != 0 {
		t.Fatalf("unexpected workflow run record: %+v", store.runs[0])
	}
	if len(store.runs[0].Steps) != 7 {
		t.Fatalf("expected 7 steps on the saved run, got %d", len(store.runs[0].Steps))
	}
}

func TestRunRetriesTransientFailureThenSucceeds(t *testing.T) {
	exec := newScriptedExecutor()
	exec.failN["tech-spec"] = 2 // fails twice, succeeds on 3rd attempt
	bus, _ := recordingBus()
	c := New(exec, noopGate{}, noopArtifacts{}, noopTrigger{}, &noopCeremonies{}, bus, nil, WithMaxRetries(3))

	seq := Sequence{Setup: []string{"tech-spec"}}
	result := c.Run(context.Background(), seq, 0, nil)
	if result.Status != SequenceCompleted {
		t.Fatalf("expected SequenceCompleted after retries, got %v (%s)", result.Status, result.ErrorMsg)
	}
	if result.Steps[0].Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", result.Steps[0].Attempts)
	}
}

func TestRunSetupFailureAbortsSequence(t *testing.T) {
	exec := newScriptedExecutor()
	exec.failN["prd"] = 100 // never succeeds
	bus, _ := recordingBus()
	c := New(exec, noopGate{}, noopArtifacts{}, noopTrigger{}, &noopCeremonies{}, bus, nil, WithMaxRetries(1))

	seq := Sequence{Setup: []string{"prd"}, StoryLoop: []string{"create-story", "dev-story", "story-done"}}
	result := c.Run(context.Background(), seq, 5, nil)
	if result.Status != SequenceFailed {
		t.Fatalf("expected SequenceFailed, got %v", result.Status)
	}
	for _, call := range exec.calls {
		if call == "create-story" || call == "dev-story" {
			t.Fatalf("story loop should not run after setup failure, got calls %v", exec.calls)
		}
	}
}

func TestRunStoryDoneFailureIsNonFatalForFirstStory(t *testing.T) {
	exec := newScriptedExecutor()
	exec.failN["story-done"] = 100
	bus, _ := recordingBus()
	c := New(exec, noopGate{}, noopArtifacts{}, noopTrigger{}, &noopCeremonies{}, bus, nil, WithMaxRetries(0))

	seq := Sequence{StoryLoop: []string{"create-story", "dev-story", "story-done"}}
	result := c.Run(context.Background(), seq, 1, nil)
	if result.Status != SequenceCompleted {
		t.Fatalf("expected SequenceCompleted despite story-done failure, got %v (%s)", result.Status, result.ErrorMsg)
	}
}

func TestRunSafetyCapBoundsStoryLoop(t *testing.T) {
	exec := newScriptedExecutor()
	bus, _ := recordingBus()
	c := New(exec, noopGate{}, noopArtifacts{}, noopTrigger{}, &noopCeremonies{}, bus, nil, WithSafetyCap(2))

	seq := Sequence{StoryLoop: []string{"create-story", "dev-story", "story-done"}}
	result := c.Run(context.Background(), seq, 1000, nil)
	if result.Status != SequenceCompleted {
		t.Fatalf("expected SequenceCompleted, got %v", result.Status)
	}
	if len(result.Steps) != 6 {
		t.Fatalf("expected steps bounded to safety cap (2*3=6), got %d", len(result.Steps))
	}
}

func TestRunConsultsCeremonyTriggerAfterEachStory(t *testing.T) {
	exec := newScriptedExecutor()
	bus, _ := recordingBus()
	trigger := &countingTrigger{kinds: []CeremonyKind{"standup"}}
	ceremonies := &noopCeremonies{}
	c := New(exec, noopGate{}, noopArtifacts{}, trigger, ceremonies, bus, nil)

	seq := Sequence{StoryLoop: []string{"create-story", "dev-story", "story-done"}}
	result := c.Run(context.Background(), seq, 3, nil)
	if result.Status != SequenceCompleted {
		t.Fatalf("expected SequenceCompleted, got %v", result.Status)
	}
	if trigger.calls != 3 {
		t.Fatalf("expected trigger consulted once per story (3), got %d", trigger.calls)
	}
	if len(ceremonies.held) != 3 {
		t.Fatalf("expected 3 ceremonies held, got %d", len(ceremonies.held))
	}
	if len(result.Ceremonies) != 3 {
		t.Fatalf("expected 3 ceremony outcomes attached to result, got %d", len(result.Ceremonies))
	}
}

func TestRunQualityGateFailureFailsStep(t *testing.T) {
	exec := newScriptedExecutor()
	bus, _ := recordingBus()
	c := New(exec, failingGate{failStep: "tech-spec"}, noopArtifacts{}, noopTrigger{}, &noopCeremonies{}, bus, nil)

	seq := Sequence{Setup: []string{"tech-spec"}}
	result := c.Run(context.Background(), seq, 0, nil)
	if result.Status != SequenceFailed {
		t.Fatalf("expected SequenceFailed due to quality gate, got %v", result.Status)
	}
}

func TestRunCancellationStopsBeforeNextStep(t *testing.T) {
	exec := newScriptedExecutor()
	bus, _ := recordingBus()
	c := New(exec, noopGate{}, noopArtifacts{}, noopTrigger{}, &noopCeremonies{}, bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	seq := Sequence{Setup: []string{"tech-spec"}, StoryLoop: []string{"create-story", "dev-story", "story-done"}}

	result := c.Run(ctx, seq, 1, nil)
	if result.Status != SequenceCancelled {
		t.Fatalf("expected SequenceCancelled, got %v", result.Status)
	}
}

type erroringCeremonies struct{ err error }

func (c erroringCeremonies) Hold(ctx context.Context, kind CeremonyKind, epicNum int, storyNum *int) (CeremonyOutcome, error) {
	return CeremonyOutcome{}, c.err
}

type abortingFailureHandler struct{ abortKind CeremonyKind }

func (h abortingFailureHandler) HandleFailure(kind CeremonyKind, epicNum int, err error) FailureAction {
	if kind == h.abortKind {
		return FailureAbort
	}
	return FailureContinue
}

func (h abortingFailureHandler) ResetFailures(kind CeremonyKind, epicNum int) {}

func TestRunAbortsWhenFailureHandlerDemandsIt(t *testing.T) {
	exec := newScriptedExecutor()
	bus, _ := recordingBus()
	trigger := &countingTrigger{kinds: []CeremonyKind{"planning"}}
	ceremonies := erroringCeremonies{err: errors.New("ceremony exploded")}
	c := New(exec, noopGate{}, noopArtifacts{}, trigger, ceremonies, bus, nil, WithFailureHandler(abortingFailureHandler{abortKind: "planning"}))

	seq := Sequence{StoryLoop: []string{"create-story", "dev-story", "story-done"}}
	result := c.Run(context.Background(), seq, 3, nil)
	if result.Status != SequenceFailed {
		t.Fatalf("expected SequenceFailed when failure handler aborts, got %v", result.Status)
	}
	if trigger.calls != 1 {
		t.Fatalf("expected sequence to stop after the first story's ceremony failure, got %d trigger calls", trigger.calls)
	}
}

func TestRunContinuesWhenFailureHandlerAllowsIt(t *testing.T) {
	exec := newScriptedExecutor()
	bus, _ := recordingBus()
	trigger := &countingTrigger{kinds: []CeremonyKind{"standup"}}
	ceremonies := erroringCeremonies{err: errors.New("ceremony exploded")}
	c := New(exec, noopGate{}, noopArtifacts{}, trigger, ceremonies, bus, nil, WithFailureHandler(abortingFailureHandler{abortKind: "planning"}))

	seq := Sequence{StoryLoop: []string{"create-story", "dev-story", "story-done"}}
	result := c.Run(context.Background(), seq, 3, nil)
	if result.Status != SequenceCompleted {
		t.Fatalf("expected SequenceCompleted when policy is continue, got %v (%s)", result.Status, result.ErrorMsg)
	}
	if trigger.calls != 3 {
		t.Fatalf("expected all 3 stories to run, got %d trigger calls", trigger.calls)
	}
}

func TestRunMaxRetriesZeroMakesExactlyOneAttempt(t *testing.T) {
	exec := newScriptedExecutor()
	exec.failN["tech-spec"] = 100
	bus, _ := recordingBus()
	c := New(exec, noopGate{}, noopArtifacts{}, noopTrigger{}, &noopCeremonies{}, bus, nil, WithMaxRetries(0))

	seq := Sequence{Setup: []string{"tech-spec"}}
	result := c.Run(context.Background(), seq, 0, nil)
	if result.Status != SequenceFailed {
		t.Fatalf("expected SequenceFailed, got %v", result.Status)
	}
	if result.Steps[0].Attempts != 1 {
		t.Fatalf("expected exactly 1 attempt with max_retries=0, got %d", result.Steps[0].Attempts)
	}
}
