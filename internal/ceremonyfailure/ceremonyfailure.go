// Package ceremonyfailure decides what a failed ceremony attempt should do
// next — abort the workflow, log and continue, or retry — backed by a
// per-(type, epic) circuit breaker that forces skip after repeated failures.
package ceremonyfailure

import (
	"sync"

	"github.com/vinayprograms/agent/internal/coordinator"
)

// policyTable is the closed, per-ceremony-type failure policy.
var policyTable = map[coordinator.CeremonyKind]coordinator.FailureAction{
	coordinator.CeremonyKind("planning"):      coordinator.FailureAbort,
	coordinator.CeremonyKind("standup"):       coordinator.FailureContinue,
	coordinator.CeremonyKind("retrospective"): coordinator.FailureRetry,
}

// breakerThreshold is the number of consecutive failures that opens the
// circuit for a (type, epic) pair.
const breakerThreshold = 3

type breakerKey struct {
	kind    coordinator.CeremonyKind
	epicNum int
}

// CircuitBreaker tracks consecutive-failure counts per (ceremony type, epic)
// and whether each pair's circuit is open. It is an explicitly constructed
// value owned by a Handler, never package-level mutable state.
type CircuitBreaker struct {
	mu     sync.Mutex
	counts map[breakerKey]int
	open   map[breakerKey]bool
}

// NewCircuitBreaker creates an empty breaker.
func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{counts: map[breakerKey]int{}, open: map[breakerKey]bool{}}
}

func (b *CircuitBreaker) isOpen(k breakerKey) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open[k]
}

// recordFailure increments the failure count for k and opens the circuit if
// it reaches breakerThreshold, returning whether the circuit is (now) open.
func (b *CircuitBreaker) recordFailure(k breakerKey) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts[k]++
	if b.counts[k] >= breakerThreshold {
		b.open[k] = true
	}
	return b.open[k]
}

func (b *CircuitBreaker) reset(k breakerKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.counts, k)
	delete(b.open, k)
}

// Handler applies the per-ceremony-type policy table, gated by a circuit
// breaker. It implements coordinator.FailureHandler.
type Handler struct {
	breaker *CircuitBreaker
}

// New creates a Handler with its own CircuitBreaker.
func New() *Handler {
	return &Handler{breaker: NewCircuitBreaker()}
}

// HandleFailure decides the policy for one failed ceremony attempt. If the
// circuit for (kind, epicNum) is already open, it returns FailureSkip without
// incrementing anything further.
func (h *Handler) HandleFailure(kind coordinator.CeremonyKind, epicNum int, _ error) coordinator.FailureAction {
	k := breakerKey{kind: kind, epicNum: epicNum}
	if h.breaker.isOpen(k) {
		return coordinator.FailureSkip
	}
	if h.breaker.recordFailure(k) {
		return coordinator.FailureSkip
	}
	if policy, ok := policyTable[kind]; ok {
		return policy
	}
	return coordinator.FailureContinue
}

// ResetFailures clears the consecutive-failure counter and closes the
// circuit for (kind, epicNum). Called on a successful ceremony.
func (h *Handler) ResetFailures(kind coordinator.CeremonyKind, epicNum int) {
	h.breaker.reset(breakerKey{kind: kind, epicNum: epicNum})
}
