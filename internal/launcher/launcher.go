// Package launcher implements LocalLauncher (C6) and RemoteLauncher (C7):
// the two session drivers SessionLoop alternates between.
package launcher

import "github.com/agenthub/hub/internal/model"

// ExitReason is what a launcher's Run loop returns when it stops.
type ExitReason string

const (
	// ExitSwitch hands control to the other launcher.
	ExitSwitch ExitReason = "switch"
	// ExitExit tears the session down entirely.
	ExitExit ExitReason = "exit"
)

// StatusEmitter publishes a user-facing status message (the session event
// sink's {type:'message'} shape).
type StatusEmitter interface {
	EmitStatus(sessionID, text string)
	EmitReady(sessionID string)
	EmitEvent(sessionID string, evt model.AgentEvent)
}

// MCPBridge is the small MCP server the child agent calls back into for
// things like change_title/spawn_session (spec.md §4.7). It is started
// alongside LocalLauncher and torn down on exit.
type MCPBridge interface {
	Start() error
	Stop() error
}
