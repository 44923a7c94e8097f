// Package coordinator executes a workflow sequence end to end: a one-shot
// setup phase followed by a story loop, each step run through an injected
// agent-executor callback with retry, artifact detection, and ceremony
// consultation layered on top.
package coordinator

import (
	"context"
	"time"
)

// AgentExecutor is the single boundary to the external agent runtime. It
// streams output chunks on the first channel and terminates either by
// closing both channels (success) or by sending exactly one error on the
// second (failure).
type AgentExecutor interface {
	Execute(ctx context.Context, workflowName string, epicNum, storyNum *int, params map[string]string) (<-chan string, <-chan error)
}

// QualityGate validates a step's expected artifacts against what actually
// landed on disk.
type QualityGate interface {
	Evaluate(workflowName string, artifacts []string) (GateResult, error)
}

// GateResult is the quality gate's verdict for one step.
type GateResult struct {
	Status GateStatus
	Action GateAction
	Detail string
}

type GateStatus string

const (
	GatePassed  GateStatus = "passed"
	GateAdapted GateStatus = "adapted"
	GateFailed  GateStatus = "failed"
)

type GateAction string

const (
	ActionContinue GateAction = "continue"
	ActionAdapt    GateAction = "adapt"
	ActionRetry    GateAction = "retry"
)

// ArtifactManager snapshots a tracked directory before and after a step and
// reports what changed. Snapshot values are opaque to the coordinator (plain
// `any`, not a named type) so any concrete snapshot representation the
// implementation chooses satisfies this interface structurally.
type ArtifactManager interface {
	Snapshot() (any, error)
	Detect(before, after any) []string
	Register(paths []string, workflowName string, epicNum, storyNum *int) []error
}

// CeremonyTrigger decides which ceremonies fire after a story completes, and
// records each firing so the same trigger never fires twice for the same
// (type, epic).
type CeremonyTrigger interface {
	Evaluate(ctx TriggerContext) []CeremonyKind
	RecordOutcome(kind CeremonyKind, epicNum int, success bool) error
}

// CeremonyKind names one ceremony type the trigger engine selected.
type CeremonyKind string

// TriggerContext is the input to the ceremony trigger engine after a story
// finishes; fields mirror §4.J's TriggerContext shape.
type TriggerContext struct {
	EpicNum            int
	StoryNum           *int
	ScaleLevel         int
	StoriesCompleted   int
	TotalStories       int
	QualityGatesPassed bool
	FailureCount       int
	ProjectType        string
	LastStandup        *time.Time
}

// CeremonyRunner holds the ceremony named by kind for the given context and
// reports what happened.
type CeremonyRunner interface {
	Hold(ctx context.Context, kind CeremonyKind, epicNum int, storyNum *int) (CeremonyOutcome, error)
}

// FailureAction is what to do with the sequence after a ceremony attempt
// fails, per the per-ceremony-type failure policy.
type FailureAction string

const (
	FailureAbort    FailureAction = "abort"
	FailureContinue FailureAction = "continue"
	FailureRetry    FailureAction = "retry"
	FailureSkip     FailureAction = "skip"
)

// FailureHandler applies the per-ceremony-type failure policy, gated by a
// circuit breaker keyed on (kind, epicNum).
type FailureHandler interface {
	HandleFailure(kind CeremonyKind, epicNum int, err error) FailureAction
	ResetFailures(kind CeremonyKind, epicNum int)
}

// CeremonyOutcome is the result surfaced back into the workflow context's
// ceremonies[] list.
type CeremonyOutcome struct {
	Kind           CeremonyKind
	TranscriptPath string
	ActionItems    []string
}

// Sequence is the ordered list of workflow names to execute: a one-shot
// setup phase followed by a repeating story loop. Coordinator accepts this
// shape rather than importing the scale planner's type, keeping the two
// packages decoupled — cmd/orchestrator's toCoordinatorSequence converts one
// into the other.
type Sequence struct {
	Setup     []string
	StoryLoop []string
}

// StepResult is the outcome of one executed workflow step.
type StepResult struct {
	Name        string
	Status      string
	Attempts    int
	DurationMS  int64
	Artifacts   []string
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

// SequenceStatus is the terminal state of a whole sequence run.
type SequenceStatus string

const (
	SequenceCompleted SequenceStatus = "completed"
	SequenceFailed    SequenceStatus = "failed"
	SequenceCancelled SequenceStatus = "cancelled"
)

// SequenceResult is the outcome of a full coordinator run.
type SequenceResult struct {
	SequenceID string
	Status     SequenceStatus
	Steps      []StepResult
	Ceremonies []CeremonyOutcome
	ErrorMsg   string
}

// WorkflowRunRecord is what Run persists through PersistenceStore once a
// sequence finishes. It stays in the coordinator's own shape rather than
// statestore.WorkflowRun's, for the same reason Sequence stays decoupled
// from the scale planner's type — the factory bridges between them.
type WorkflowRunRecord struct {
	WorkflowID   string
	EpicNum      int
	Status       SequenceStatus
	StartedAt    time.Time
	CompletedAt  time.Time
	Steps        []StepResult
	Variables    map[string]string
	Artifacts    []string
	ErrorMessage string
}

// PersistenceStore is the slice of the state store the coordinator uses to
// keep epic, story, and workflow-run rows in sync with a sequence as it
// runs. Optional: a Coordinator built without one (WithPersistenceStore
// never called) simply skips persistence, exactly as ArtifactManager and
// QualityGate are already allowed to be nil.
type PersistenceStore interface {
	UpsertEpic(epicNum int, title, feature, status string) error
	UpsertStory(epicNum, storyNum int, title, status string) error
	SaveWorkflowRun(r WorkflowRunRecord) error
}
