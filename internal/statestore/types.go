// Package statestore is the embedded, schema-versioned relational store for
// epics, stories, workflow runs, ceremonies, and conversation threads.
package statestore

import "time"

// EpicStatus is the lifecycle state of an Epic.
type EpicStatus string

const (
	EpicPlanned    EpicStatus = "planned"
	EpicInProgress EpicStatus = "in_progress"
	EpicDone       EpicStatus = "done"
)

// Epic tracks a unit of planned work grouping stories.
type Epic struct {
	EpicNum         int
	Title           string
	Feature         string
	Status          EpicStatus
	TotalPoints     int
	CompletedPoints int
}

// StoryStatus is the lifecycle state of a Story. Transitions are monotonic
// forward except for an explicit rework counter.
type StoryStatus string

const (
	StoryPending    StoryStatus = "pending"
	StoryInProgress StoryStatus = "in_progress"
	StoryInReview   StoryStatus = "in_review"
	StoryDone       StoryStatus = "done"
)

// Story is a single unit of implementable work within an Epic.
type Story struct {
	EpicNum      int
	StoryNum     int
	Title        string
	Status       StoryStatus
	Owner        string
	Points       int
	Priority     int
	ReworkCount  int
}

// WorkflowRunStatus is the lifecycle state of a WorkflowRun.
type WorkflowRunStatus string

const (
	RunPending   WorkflowRunStatus = "pending"
	RunRunning   WorkflowRunStatus = "running"
	RunCompleted WorkflowRunStatus = "completed"
	RunFailed    WorkflowRunStatus = "failed"
	RunCancelled WorkflowRunStatus = "cancelled"
)

// StepResult captures the outcome of one executed workflow step.
type StepResult struct {
	Name          string
	Status        string
	DurationMS    int64
	ToolCalls     int
	Outputs       []string
	StartedAt     time.Time
	CompletedAt   time.Time
}

// WorkflowRun is one execution of a named workflow, optionally scoped to an
// epic/story.
type WorkflowRun struct {
	WorkflowID   string
	WorkflowName string
	EpicNum      *int
	StoryNum     *int
	Status       WorkflowRunStatus
	StartedAt    time.Time
	CompletedAt  *time.Time
	Steps        []StepResult
	Variables    map[string]string
	Artifacts    []string
	Errors       []string
	ErrorMessage string
}

// DurationMS returns the run's duration in milliseconds, or -1 if not completed.
func (r *WorkflowRun) DurationMS() int64 {
	if r.CompletedAt == nil {
		return -1
	}
	return r.CompletedAt.Sub(r.StartedAt).Milliseconds()
}

// CeremonyType is the kind of ceremony held.
type CeremonyType string

const (
	CeremonyPlanning      CeremonyType = "planning"
	CeremonyStandup       CeremonyType = "standup"
	CeremonyRetrospective CeremonyType = "retrospective"
)

// Ceremony is a completed, recorded collaborative session.
type Ceremony struct {
	ID             string
	Type           CeremonyType
	EpicNum        int
	StoryNum       *int
	TranscriptPath string
	ActionItems    []string
	Learnings      []string
	Participants   []string
	CreatedAt      time.Time
}

// ConversationType distinguishes a direct message thread from a channel thread.
type ConversationType string

const (
	ConversationDM      ConversationType = "dm"
	ConversationChannel ConversationType = "channel"
)

// Thread groups replies to a parent message.
type Thread struct {
	ID                string
	ParentMessageID   string
	ConversationID    string
	ConversationType  ConversationType
	ReplyCount        int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// MessageRole distinguishes user-authored from agent-authored messages.
type MessageRole string

const (
	RoleUser  MessageRole = "user"
	RoleAgent MessageRole = "agent"
)

// Message is a single entry in a conversation, optionally part of a Thread.
type Message struct {
	ID               string
	ConversationID   string
	ConversationType ConversationType
	Content          string
	Role             MessageRole
	AgentID          string
	ThreadID         string
	ReplyToMessageID string
	ThreadCount      int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
