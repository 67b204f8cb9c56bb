// Package runstate tracks the orchestrator's runtime phase. The machine is
// an observability and bookkeeping structure, not a gatekeeper: it enforces
// no transition table, because any phase reachable from the orchestrator's
// control flow is legal. It records transition history with timestamps and
// notifies subscribers on change.
package runstate

import (
	"sync"
	"time"
)

// State is a runtime phase of one orchestrator invocation.
type State string

const (
	// StateInit is the phase before the first source is opened.
	StateInit State = "init"

	// StateWaitingForToken is the phase between opening a source and
	// receiving its first token, bounded by the initial-token timeout.
	StateWaitingForToken State = "waiting_for_token"

	// StateStreaming is the normal token-delivery phase, bounded between
	// tokens by the inter-token timeout.
	StateStreaming State = "streaming"

	// StateContinuationMatching is the phase after a checkpoint resume in
	// which incoming tokens are buffered and deduplicated against the
	// checkpoint tail before emission resumes.
	StateContinuationMatching State = "continuation_matching"

	// StateCheckpointVerifying is the phase in which a checkpoint is
	// re-validated before being used to re-prime the buffer.
	StateCheckpointVerifying State = "checkpoint_verifying"

	// StateRetrying is the backoff sleep before re-entering the source
	// attempt loop.
	StateRetrying State = "retrying"

	// StateFallback is the switch to the next fallback source.
	StateFallback State = "fallback"

	// StateFinalizing is the terminal content validation phase on success.
	StateFinalizing State = "finalizing"

	// StateComplete is the successful terminal phase.
	StateComplete State = "complete"

	// StateError is the failed terminal phase.
	StateError State = "error"
)

// Terminal reports whether the state is one of the two terminal phases.
func (s State) Terminal() bool { return s == StateComplete || s == StateError }

// Transition records one state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Machine is a finite-state tracker with transition history and change
// notification. Safe for concurrent use; the orchestrator writes, observers
// read.
type Machine struct {
	mu      sync.RWMutex
	current State
	history []Transition
	subs    []func(Transition)
	now     func() time.Time
}

// NewMachine constructs a machine in StateInit.
func NewMachine() *Machine {
	return &Machine{current: StateInit, now: time.Now}
}

// Current returns the active state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves the machine to next. A transition to the current state is
// a no-op: no history entry is recorded and no subscriber fires. Subscribers
// are invoked synchronously in registration order; a panicking subscriber is
// swallowed so observers can never derail the run.
func (m *Machine) Transition(next State) {
	m.mu.Lock()
	if next == m.current {
		m.mu.Unlock()
		return
	}
	tr := Transition{From: m.current, To: next, At: m.now()}
	m.current = next
	m.history = append(m.history, tr)
	subs := make([]func(Transition), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, fn := range subs {
		notify(fn, tr)
	}
}

func notify(fn func(Transition), tr Transition) {
	defer func() { _ = recover() }()
	fn(tr)
}

// Reset returns the machine to StateInit and clears the history. Subscribers
// remain registered.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = StateInit
	m.history = nil
}

// History returns a copy of the recorded transitions in order.
func (m *Machine) History() []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Subscribe registers a change listener invoked on every effective
// transition.
func (m *Machine) Subscribe(fn func(Transition)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}
