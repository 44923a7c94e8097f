package ceremony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/vinayprograms/agent/internal/coordinator"
	"github.com/vinayprograms/agent/internal/statestore"
)

// ErrCeremonyExecution wraps a permanent (non-retried) ceremony failure.
var ErrCeremonyExecution = errors.New("ceremony execution failed")

// defaultParticipants is the fallback roster per ceremony type when the
// caller (the coordinator, via CeremonyRunner.Hold) doesn't supply one.
var defaultParticipants = map[coordinator.CeremonyKind][]string{
	coordinator.CeremonyKind(statestore.CeremonyPlanning):      {"pm", "architect", "dev"},
	coordinator.CeremonyKind(statestore.CeremonyStandup):       {"dev", "qa"},
	coordinator.CeremonyKind(statestore.CeremonyRetrospective): {"pm", "architect", "dev", "qa"},
}

var agendaByType = map[coordinator.CeremonyKind][]string{
	coordinator.CeremonyKind(statestore.CeremonyPlanning): {
		"Story estimation", "Sprint commitment", "Risk identification", "Story sequencing",
	},
	coordinator.CeremonyKind(statestore.CeremonyStandup): {
		"Accomplished since last sync", "Planned next", "Blockers and impediments",
	},
	coordinator.CeremonyKind(statestore.CeremonyRetrospective): {
		"What went well", "What could improve", "Action items", "Team health check",
	},
}

// Orchestrator holds ceremonies as a three-phase prepare/execute/record
// transaction, retrying the whole transaction a bounded number of times and
// undoing every partial effect on failure.
type Orchestrator struct {
	executor   AgentExecutor
	store      StateStore
	transcript TranscriptWriter
	vcs        VCS
	autoCommit bool
	transcriptDir string
	maxRetries int
	logger     *slog.Logger
}

// Option configures an Orchestrator beyond its required collaborators.
type Option func(*Orchestrator)

// WithAutoCommit enables committing the ceremony transcript to version
// control on success.
func WithAutoCommit(enabled bool) Option {
	return func(o *Orchestrator) { o.autoCommit = enabled }
}

// WithMaxRetries overrides the default number of HoldCeremony attempts.
func WithMaxRetries(n int) Option {
	return func(o *Orchestrator) { o.maxRetries = n }
}

// WithTranscriptDir overrides where transcript files are written.
func WithTranscriptDir(dir string) Option {
	return func(o *Orchestrator) { o.transcriptDir = dir }
}

const defaultMaxRetries = 3
const defaultTranscriptDir = "docs/ceremonies"

// New builds an Orchestrator. executor, store, transcript, and vcs are all
// required collaborators.
func New(executor AgentExecutor, store StateStore, transcript TranscriptWriter, vcs VCS, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		executor:      executor,
		store:         store,
		transcript:    transcript,
		vcs:           vcs,
		logger:        logger,
		maxRetries:    defaultMaxRetries,
		transcriptDir: defaultTranscriptDir,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Hold implements coordinator.CeremonyRunner, defaulting participants and
// additional context since the coordinator's call site doesn't carry them.
func (o *Orchestrator) Hold(ctx context.Context, kind coordinator.CeremonyKind, epicNum int, storyNum *int) (coordinator.CeremonyOutcome, error) {
	participants := defaultParticipants[kind]
	if participants == nil {
		participants = []string{"dev"}
	}
	return o.HoldCeremony(ctx, kind, epicNum, participants, storyNum, nil)
}

// ceremonyDeadline bounds the total time HoldCeremony spends across attempts.
const ceremonyDeadline = 10 * time.Minute

// HoldCeremony is the single entry point for holding a ceremony. It wraps the
// prepare/execute/record transaction in a retry loop for transient failures;
// a permanent failure (including context cancellation) escapes immediately.
// All attempts together are bounded by ceremonyDeadline.
func (o *Orchestrator) HoldCeremony(ctx context.Context, kind coordinator.CeremonyKind, epicNum int, participants []string, storyNum *int, additionalContext map[string]string) (coordinator.CeremonyOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, ceremonyDeadline)
	defer cancel()
	op := func() (coordinator.CeremonyOutcome, error) {
		return o.attempt(ctx, kind, epicNum, participants, storyNum, additionalContext)
	}
	backoffPolicy := backoff.NewExponentialBackOff()
	outcome, err := backoff.Retry(ctx, op, backoff.WithBackOff(backoffPolicy), backoff.WithMaxTries(uint(o.maxRetries)))
	if err != nil {
		return coordinator.CeremonyOutcome{}, fmt.Errorf("%w: %s", ErrCeremonyExecution, err)
	}
	return outcome, nil
}

// attempt runs one full prepare → execute → record cycle, undoing every
// partial effect if any phase fails.
func (o *Orchestrator) attempt(ctx context.Context, kind coordinator.CeremonyKind, epicNum int, participants []string, storyNum *int, additionalContext map[string]string) (coordinator.CeremonyOutcome, error) {
	if err := ctx.Err(); err != nil {
		return coordinator.CeremonyOutcome{}, backoff.Permanent(err)
	}

	cctx := o.prepare(kind, epicNum, storyNum, participants, additionalContext)

	head := ""
	if o.vcs != nil {
		h, err := o.vcs.Head(ctx)
		if err != nil {
			return coordinator.CeremonyOutcome{}, backoff.Permanent(fmt.Errorf("recording vcs head: %w", err))
		}
		head = h
	}

	result, err := o.execute(ctx, cctx)
	if err != nil {
		return coordinator.CeremonyOutcome{}, err
	}

	outcome, recErr := o.record(ctx, cctx, result, head)
	if recErr != nil {
		return coordinator.CeremonyOutcome{}, recErr
	}
	return outcome, nil
}

func (o *Orchestrator) prepare(kind coordinator.CeremonyKind, epicNum int, storyNum *int, participants []string, additionalContext map[string]string) CeremonyContext {
	return CeremonyContext{
		Type:              kind,
		EpicNum:           epicNum,
		StoryNum:          storyNum,
		Participants:      participants,
		Agenda:            agendaByType[kind],
		AdditionalContext: additionalContext,
	}
}

func (o *Orchestrator) execute(ctx context.Context, cctx CeremonyContext) (ExecutionResult, error) {
	out, errc := o.executor.Execute(ctx, string(cctx.Type), cctx.EpicNum, cctx.StoryNum, cctx.Participants, cctx.AdditionalContext)

	var sb strings.Builder
	for out != nil || errc != nil {
		select {
		case chunk, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			sb.WriteString(chunk)
		case err, ok := <-errc:
			if !ok {
				errc = nil
				continue
			}
			if err != nil {
				return ExecutionResult{}, err
			}
		case <-ctx.Done():
			return ExecutionResult{}, backoff.Permanent(ctx.Err())
		}
	}

	return ExecutionResult{Transcript: sb.String()}, nil
}

// record persists the transcript, the ceremony row, and (optionally) a VCS
// commit as a single atomic unit: undo all three on any step's failure.
func (o *Orchestrator) record(ctx context.Context, cctx CeremonyContext, result ExecutionResult, head string) (coordinator.CeremonyOutcome, error) {
	id := newCeremonyID()
	transcriptPath := filepath.Join(o.transcriptDir, fmt.Sprintf("%s-epic%d-%s.md", cctx.Type, cctx.EpicNum, id))

	if err := o.transcript.Write(transcriptPath, result.Transcript); err != nil {
		return coordinator.CeremonyOutcome{}, fmt.Errorf("writing transcript: %w", err)
	}

	ceremony := statestore.Ceremony{
		ID:             id,
		Type:           statestore.CeremonyType(cctx.Type),
		EpicNum:        cctx.EpicNum,
		StoryNum:       cctx.StoryNum,
		TranscriptPath: transcriptPath,
		ActionItems:    result.ActionItems,
		Learnings:      result.Learnings,
		Participants:   cctx.Participants,
	}

	if err := o.store.RecordCeremony(ceremony); err != nil {
		o.undoTranscript(transcriptPath)
		return coordinator.CeremonyOutcome{}, fmt.Errorf("recording ceremony: %w", err)
	}

	if o.vcs != nil && o.autoCommit {
		msg := fmt.Sprintf("ceremony: %s for epic %d", cctx.Type, cctx.EpicNum)
		if err := o.vcs.AddCommit(ctx, []string{transcriptPath}, msg); err != nil {
			o.undoDB(id)
			o.undoTranscript(transcriptPath)
			o.undoVCS(ctx, head)
			return coordinator.CeremonyOutcome{}, fmt.Errorf("committing ceremony: %w", err)
		}
	}

	return coordinator.CeremonyOutcome{
		Kind:           cctx.Type,
		TranscriptPath: transcriptPath,
		ActionItems:    result.ActionItems,
	}, nil
}

func (o *Orchestrator) undoTranscript(path string) {
	if err := o.transcript.Remove(path); err != nil {
		o.logger.Warn("failed to remove transcript during rollback", slog.String("path", path), slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) undoDB(id string) {
	if err := o.store.DeleteCeremony(id); err != nil {
		o.logger.Warn("failed to delete ceremony row during rollback", slog.String("id", id), slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) undoVCS(ctx context.Context, head string) {
	if head == "" {
		return
	}
	if err := o.vcs.ResetHard(ctx, head); err != nil {
		o.logger.Warn("failed to reset vcs during rollback", slog.String("error", err.Error()))
		return
	}
	if err := o.vcs.CleanUntracked(ctx); err != nil {
		o.logger.Warn("failed to clean untracked files during rollback", slog.String("error", err.Error()))
	}
}

func newCeremonyID() string {
	return uuid.NewString()
}

// HoldStandup is a legacy convenience wrapper delegating to HoldCeremony.
func (o *Orchestrator) HoldStandup(ctx context.Context, epicNum int, participants []string, storyNum *int) (coordinator.CeremonyOutcome, error) {
	return o.HoldCeremony(ctx, coordinator.CeremonyKind(statestore.CeremonyStandup), epicNum, participants, storyNum, nil)
}

// HoldRetrospective is a legacy convenience wrapper delegating to HoldCeremony.
func (o *Orchestrator) HoldRetrospective(ctx context.Context, epicNum int, participants []string) (coordinator.CeremonyOutcome, error) {
	return o.HoldCeremony(ctx, coordinator.CeremonyKind(statestore.CeremonyRetrospective), epicNum, participants, nil, nil)
}

// HoldPlanning is a legacy convenience wrapper delegating to HoldCeremony.
func (o *Orchestrator) HoldPlanning(ctx context.Context, epicNum int, participants []string) (coordinator.CeremonyOutcome, error) {
	return o.HoldCeremony(ctx, coordinator.CeremonyKind(statestore.CeremonyPlanning), epicNum, participants, nil, nil)
}
