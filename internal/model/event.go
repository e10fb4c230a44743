package model

// EventType enumerates the closed set of AgentEvent variants from spec.md
// §3. Converters and processors switch exhaustively over these; an unknown
// value is never constructed by this package.
type EventType string

const (
	EventMessage          EventType = "message"
	EventReasoning        EventType = "reasoning"
	EventReasoningDelta   EventType = "reasoning-delta"
	EventReasoningBreak   EventType = "reasoning-section-break"
	EventToolCall         EventType = "tool-call"
	EventToolCallResult   EventType = "tool-call-result"
	EventTaskStarted      EventType = "task-started"
	EventTaskComplete     EventType = "task-complete"
	EventTurnAborted      EventType = "turn-aborted"
	EventTaskFailed       EventType = "task-failed"
	EventPatchBegin       EventType = "patch-begin"
	EventPatchEnd         EventType = "patch-end"
	EventExecBegin        EventType = "exec-begin"
	EventExecEnd          EventType = "exec-end"
	EventTurnDiff         EventType = "turn-diff"
	EventPlanUpdated      EventType = "plan-updated"
	EventTokenCount       EventType = "token-count"
	EventThreadStarted    EventType = "thread-started"
	EventMCPStartupUpdate EventType = "mcp-startup-update"
	EventMCPStartupDone   EventType = "mcp-startup-complete"
	EventContextCompacted EventType = "context-compacted"
)

// ToolCallStatus is the status carried by a tool-call-result event.
type ToolCallStatus string

const (
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallCanceled  ToolCallStatus = "canceled"
	ToolCallFailed    ToolCallStatus = "failed"
)

// AgentEvent is the uniform internal representation every raw agent event is
// converted to by EventConverter, before StreamProcessors and the
// PermissionPipeline act on it. Only the fields relevant to Type are
// populated; the rest are left at their zero value.
type AgentEvent struct {
	Type EventType

	// message / reasoning / reasoning-delta
	Text string

	// tool-call / tool-call-result
	ToolName string
	CallID   string
	Input    map[string]any
	Output   any
	IsError  bool
	Status   ToolCallStatus

	// task-started / task-complete / turn-aborted / task-failed
	TurnID string
	Error  string

	// patch-begin / patch-end
	Changes []FileChange
	Stdout  string
	Stderr  string
	Success bool

	// exec-begin / exec-end
	Command []string

	// turn-diff
	UnifiedDiff string

	// plan-updated
	PlanEntries []PlanEntry

	// token-count
	TokenInfo *TokenCountInfo

	// thread-started
	ThreadID string

	// context-compacted has no payload
}

// FileChange is one file touched by a patch.
type FileChange struct {
	Path   string
	Kind   string // "add" | "modify" | "delete"
	Diff   string
}

// PlanEntry is one step in the agent's reported plan.
type PlanEntry struct {
	Step   string
	Status string // "pending" | "in_progress" | "completed"
}

// TokenCountInfo is the expanded shape of the token-count event (see
// SPEC_FULL.md "Token-usage / context-window accounting").
type TokenCountInfo struct {
	InputTokens      int64
	OutputTokens     int64
	TotalTokens      int64
	ContextWindow    int64
	RemainingTokens  int64
	EfficiencyPct    float64
}
