package model

import "time"

// PermissionKind classifies a PermissionRequest.
type PermissionKind string

const (
	PermissionExec        PermissionKind = "exec"
	PermissionFileChange   PermissionKind = "fileChange"
	PermissionUserInput    PermissionKind = "userInput"
	PermissionDynamicTool  PermissionKind = "dynamicTool"
)

// PermissionRequest is created when the agent transport delivers an
// approval request. It is held in a pending map and removed exactly once,
// when a PermissionDecision resolves it or the session resets.
type PermissionRequest struct {
	ID        string
	ToolName  string
	Input     map[string]any
	CreatedAt time.Time
	Kind      PermissionKind
}

// DecisionKind is the resolved outcome of a PermissionRequest.
type DecisionKind string

const (
	DecisionApproved           DecisionKind = "approved"
	DecisionApprovedForSession DecisionKind = "approved_for_session"
	DecisionDenied             DecisionKind = "denied"
	DecisionAbort              DecisionKind = "abort"
)

// PermissionDecision resolves a pending PermissionRequest. Answers is
// populated only for PermissionUserInput kinds: a mapping from question id
// to an ordered list of string answers.
type PermissionDecision struct {
	Decision DecisionKind
	Reason   string
	Answers  map[string][]string
}

// RequestStatus is the terminal status recorded for a completed request.
type RequestStatus string

const (
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusDenied   RequestStatus = "denied"
	RequestStatusCanceled RequestStatus = "canceled"
)

// CompletedRequest is the finalized record moved from agent_state.requests
// to agent_state.completedRequests.
type CompletedRequest struct {
	Request     PermissionRequest
	CompletedAt time.Time
	Status      RequestStatus
	Decision    PermissionDecision
	Reason      string
}

// ThreadIdentity is late-bound: set on first successful start, cleared on
// reset. App-server transports populate ThreadID/TurnID; MCP transports
// populate SessionID/ConversationID/ThreadID.
type ThreadIdentity struct {
	ThreadID       string
	TurnID         string
	SessionID      string
	ConversationID string
}

// IsZero reports whether no identity has been established yet.
func (t ThreadIdentity) IsZero() bool {
	return t.ThreadID == "" && t.SessionID == "" && t.ConversationID == ""
}
