// Package ceremonytrigger decides which ceremonies fire after a story
// completes, by a fixed per-scale-level table, and tracks once-only
// execution against the state store so a planning or retrospective ceremony
// is never fired twice for the same epic. Standups are not once-only: they
// fire every N completed stories.
package ceremonytrigger

import (
	"github.com/vinayprograms/agent/internal/coordinator"
	"github.com/vinayprograms/agent/internal/statestore"
)

const (
	KindPlanning      coordinator.CeremonyKind = "planning"
	KindStandup       coordinator.CeremonyKind = "standup"
	KindRetrospective coordinator.CeremonyKind = "retrospective"
)

// ExecutionTracker is the subset of the state store this package needs: a
// once-only check and a record for each ceremony firing.
type ExecutionTracker interface {
	HasCeremonyExecuted(ceremonyType statestore.CeremonyType, epicNum int) (bool, error)
	RecordCeremonyExecution(ceremonyType statestore.CeremonyType, epicNum int, success bool) error
}

// Engine evaluates the trigger table against a TriggerContext.
type Engine struct {
	tracker ExecutionTracker
}

// New creates an Engine backed by tracker for once-only execution bookkeeping.
func New(tracker ExecutionTracker) *Engine {
	return &Engine{tracker: tracker}
}

// standupInterval returns the number of completed stories between standups
// at scaleLevel, or 0 if standups never fire at that level.
func standupInterval(scaleLevel int) int {
	switch scaleLevel {
	case 3:
		return 2
	case 4:
		return 5
	default:
		return 0
	}
}

// Evaluate implements coordinator.CeremonyTrigger.
func (e *Engine) Evaluate(ctx coordinator.TriggerContext) []coordinator.CeremonyKind {
	var kinds []coordinator.CeremonyKind

	if ctx.ScaleLevel >= 3 && e.notYetFired(statestore.CeremonyPlanning, ctx.EpicNum) {
		kinds = append(kinds, KindPlanning)
	}

	if interval := standupInterval(ctx.ScaleLevel); interval > 0 &&
		ctx.StoriesCompleted > 0 && ctx.StoriesCompleted%interval == 0 {
		kinds = append(kinds, KindStandup)
	}

	if ctx.TotalStories > 0 && ctx.StoriesCompleted == ctx.TotalStories &&
		e.notYetFired(statestore.CeremonyRetrospective, ctx.EpicNum) {
		kinds = append(kinds, KindRetrospective)
	}

	return kinds
}

func (e *Engine) notYetFired(typ statestore.CeremonyType, epicNum int) bool {
	if e.tracker == nil {
		return true
	}
	fired, err := e.tracker.HasCeremonyExecuted(typ, epicNum)
	if err != nil {
		return true
	}
	return !fired
}

// RecordOutcome tells the tracker a ceremony of kind fired for epicNum, with
// success recording whether it completed without error. The coordinator
// invokes this once the ceremony orchestrator returns, so a planning/retrospective firing is recorded
// exactly once regardless of success.
func (e *Engine) RecordOutcome(kind coordinator.CeremonyKind, epicNum int, success bool) error {
	if e.tracker == nil {
		return nil
	}
	return e.tracker.RecordCeremonyExecution(statestore.CeremonyType(kind), epicNum, success)
}
