// Package queue implements the FIFO message queue shared between the
// SessionLoop and the active launcher (spec.md §5): FIFO ordering, dedup by
// localId at admission time, and a pushIsolateAndClear operation that drops
// everything already queued and injects a /new | /clear | /model sentinel.
package queue

import (
	"sync"

	"github.com/agenthub/hub/internal/config"
	"github.com/agenthub/hub/internal/model"
)

// OnMessage is the callback a launcher installs to observe admissions.
// The launcher owns install/remove of this callback (spec.md §5).
type OnMessage func(model.QueuedMessage)

// Queue is a FIFO of model.QueuedMessage with localId dedup at admission.
type Queue struct {
	mu       sync.Mutex
	items    []entry
	seenIDs  map[string]struct{}
	onMsg    OnMessage
}

type entry struct {
	localID string
	msg     model.QueuedMessage
}

// New constructs an empty Queue.
func New() *Queue {
	return &Queue{seenIDs: make(map[string]struct{})}
}

// SetOnMessage installs (or, with nil, removes) the admission callback.
func (q *Queue) SetOnMessage(cb OnMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onMsg = cb
}

// Push admits text under mode, assigning the deterministic mode hash and
// isolate flag. localID, if non-empty, dedups: a repeat is a silent no-op.
// Returns true if the message was newly admitted.
func (q *Queue) Push(localID, text string, mode model.Mode) bool {
	q.mu.Lock()
	if localID != "" {
		if _, dup := q.seenIDs[localID]; dup {
			q.mu.Unlock()
			return false
		}
		q.seenIDs[localID] = struct{}{}
	}

	msg := model.QueuedMessage{
		Text:    text,
		Mode:    mode,
		Isolate: model.IsolateCommand(text) != "",
		Hash:    config.ModeHash(mode),
	}
	q.items = append(q.items, entry{localID: localID, msg: msg})
	cb := q.onMsg
	q.mu.Unlock()

	if cb != nil {
		cb(msg)
	}
	return true
}

// PushIsolateAndClear drops everything currently queued and pushes a single
// isolated command (/new, /clear, or /model) at the front, per spec.md §5.
func (q *Queue) PushIsolateAndClear(command string, mode model.Mode) {
	q.mu.Lock()
	q.items = []entry{{msg: model.QueuedMessage{
		Text:    command,
		Mode:    mode,
		Isolate: true,
		Hash:    config.ModeHash(mode),
	}}}
	cb := q.onMsg
	msg := q.items[0].msg
	q.mu.Unlock()

	if cb != nil {
		cb(msg)
	}
}

// PushFront re-queues text at the front of the queue without disturbing
// anything already queued behind it, unlike PushIsolateAndClear. Used by
// launcher-level retries (a forced mode restart, a disconnected-transport
// retry) that re-admit an ordinary message rather than a reset sentinel.
func (q *Queue) PushFront(text string, mode model.Mode) {
	q.mu.Lock()
	msg := model.QueuedMessage{
		Text:    text,
		Mode:    mode,
		Isolate: model.IsolateCommand(text) != "",
		Hash:    config.ModeHash(mode),
	}
	q.items = append([]entry{{msg: msg}}, q.items...)
	cb := q.onMsg
	q.mu.Unlock()

	if cb != nil {
		cb(msg)
	}
}

// Peek returns the head of the queue without removing it.
func (q *Queue) Peek() (model.QueuedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return model.QueuedMessage{}, false
	}
	return q.items[0].msg, true
}

// Pop removes and returns the head of the queue.
func (q *Queue) Pop() (model.QueuedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return model.QueuedMessage{}, false
	}
	e := q.items[0]
	q.items = q.items[1:]
	return e.msg, true
}

// Remove deletes the head if it equals msg (by identity of fields); used by
// LocalLauncher's interceptor to consume a reset sentinel mid-inspection.
func (q *Queue) Remove(msg model.QueuedMessage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.items[0].msg != msg {
		return false
	}
	q.items = q.items[1:]
	return true
}

// Len reports the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Empty reports whether the queue has no pending messages.
func (q *Queue) Empty() bool {
	return q.Len() == 0
}
