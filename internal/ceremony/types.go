// Package ceremony holds a collaborative multi-agent ceremony as a single
// prepare → execute → record transaction spanning the filesystem, the state
// store, and version control, undoing all three on any failure.
package ceremony

import (
	"context"

	"github.com/vinayprograms/agent/internal/coordinator"
	"github.com/vinayprograms/agent/internal/statestore"
)

// AgentExecutor is the external agent runtime boundary a ceremony invokes to
// produce its transcript. Shaped like coordinator.AgentExecutor but kept as
// its own interface so this package never needs to import workflow-step
// concepts (epicNum/storyNum/params) it doesn't use.
type AgentExecutor interface {
	Execute(ctx context.Context, ceremonyType string, epicNum int, storyNum *int, participants []string, additionalContext map[string]string) (<-chan string, <-chan error)
}

// StateStore is the slice of statestore.Store a ceremony transaction needs.
type StateStore interface {
	RecordCeremony(c statestore.Ceremony) error
	DeleteCeremony(id string) error
}

// TranscriptWriter persists and removes a ceremony's transcript file.
type TranscriptWriter interface {
	Write(path, content string) error
	Remove(path string) error
}

// VCS is the version-control boundary: recording a rollback point, undoing
// back to it, and committing on success.
type VCS interface {
	Head(ctx context.Context) (string, error)
	ResetHard(ctx context.Context, head string) error
	CleanUntracked(ctx context.Context) error
	AddCommit(ctx context.Context, paths []string, message string) error
}

// CeremonyContext is what Prepare assembles for Execute to consume.
type CeremonyContext struct {
	Type               coordinator.CeremonyKind
	EpicNum            int
	StoryNum           *int
	Participants       []string
	Agenda             []string
	RecentContext      string
	AdditionalContext  map[string]string
}

// ExecutionResult is what Execute produces for Record to persist.
type ExecutionResult struct {
	Transcript  string
	ActionItems []string
	Learnings   []string
	Decisions   []string
}

// State is the ceremony transaction's lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StatePreparing  State = "preparing"
	StateExecuting  State = "executing"
	StateRecording  State = "recording"
	StateDone       State = "done"
	StateRolledBack State = "rolled_back"
)
