// Package model defines the hub's core data types: sessions, messages, the
// agent event union, and permission requests/decisions.
package model

import "time"

// Session is the hub's persistent identity for a conversation across
// restarts. A Session is exclusively owned by one SessionLoop for its
// lifetime and is published to collaborators by identity only.
type Session struct {
	ID        string
	Namespace string
	Active    bool

	MetadataVersion  int64
	AgentStateVersion int64

	// Metadata carries at least Path (workspace), Flavor (which agent),
	// and a resume token (Codex thread/session id).
	Metadata   SessionMetadata
	AgentState AgentState

	Todos           []Todo
	TodosUpdatedAt  time.Time
}

// SessionMetadata is the free-form metadata bag described in spec.md §3.
type SessionMetadata struct {
	Path        string            // workspace root
	Flavor      string            // which agent, e.g. "codex"
	ResumeToken string            // codexSessionId / threadId, opaque to the store
	Extra       map[string]string
}

// AgentState holds the published permission-request bookkeeping for a
// session, per the invariant in spec.md §3: a PermissionRequest is in the
// pending map iff it is also present here, under Requests.
type AgentState struct {
	Requests          map[string]PermissionRequest
	CompletedRequests map[string]CompletedRequest
}

// Todo is a single agent-maintained todo item.
type Todo struct {
	Text string
	Done bool
}

// Message is immutable once admitted. Seq is monotonically assigned per
// session; LocalID is a caller-supplied dedup key — admission with a
// previously seen LocalID returns the existing row (invariant I1).
type Message struct {
	ID        string
	Seq       int64
	LocalID   string // empty if not supplied
	CreatedAt time.Time
	Content   any // opaque structured value
}

// VersionResult is the outcome of an optimistic-concurrency store update.
// Exactly one of Success, Conflict, Err is meaningful, matching spec.md §6:
// "{success, version, value} | {version-mismatch, version, value} | {error}".
type VersionResult struct {
	Success  bool
	Conflict bool
	Version  int64
	Value    any
	Err      error
}
