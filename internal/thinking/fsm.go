// Package thinking implements the ThinkingFSM (spec.md C9 / §4.9): derives
// the outbound *thinking* indicator from transport events, with the
// essential invariant that it never clears while a turn is in flight.
package thinking

import "sync"

// State is one of the three ThinkingFSM states.
type State int

const (
	Idle State = iota
	Pending
	InFlight
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case InFlight:
		return "inFlight"
	default:
		return "idle"
	}
}

// FSM tracks thinking/state for one session loop iteration. Every method
// takes the FSM's lock, so each call is safe from any goroutine; the order in
// which concurrent transitions apply is whatever order they take the lock.
type FSM struct {
	mu       sync.RWMutex
	state    State
	thinking bool
}

// New constructs an FSM in the idle state.
func New() *FSM {
	return &FSM{state: Idle}
}

// UserMessageAccepted transitions pending on an accepted user message and
// sets thinking=true immediately, satisfying invariant I3 (thinking is
// observed before the first transport request that follows).
func (f *FSM) UserMessageAccepted() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thinking = true
	f.state = Pending
}

// TurnStarted transitions to inFlight, keeping thinking=true. Called from
// either a task-started event or a resolved startTurn call; both set
// inFlight idempotently per spec.md §9's open question on their race.
func (f *FSM) TurnStarted() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thinking = true
	f.state = InFlight
}

// TurnTerminal transitions to idle on task-complete | turn-aborted | task-failed.
func (f *FSM) TurnTerminal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thinking = false
	f.state = Idle
}

// Abort transitions to idle on a user/launcher-initiated abort.
func (f *FSM) Abort() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thinking = false
	f.state = Idle
}

// IsolatedCommand transitions to idle on /new | /clear | /model.
func (f *FSM) IsolatedCommand() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thinking = false
	f.state = Idle
}

// FinalizeParams are the conditions the idle finalizer checks before
// emitting a ready event (spec.md §4.9).
type FinalizeParams struct {
	PendingMessageStaged bool
	QueueEmpty           bool
	ShutdownRequested    bool
}

// Finalize runs after each loop-body finally. It MUST NOT clear thinking
// while inFlight — this is invariant I4. It reports whether a ready event
// should be emitted.
func (f *FSM) Finalize(p FinalizeParams) (shouldEmitReady bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == InFlight {
		return false
	}

	f.thinking = false
	if p.PendingMessageStaged || !p.QueueEmpty || p.ShutdownRequested {
		return false
	}
	return true
}

// Thinking reports the current thinking indicator.
func (f *FSM) Thinking() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.thinking
}

// State reports the current FSM state.
func (f *FSM) State() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}
