package streamproc

import (
	"github.com/google/uuid"

	"github.com/agenthub/hub/internal/model"
)

// DiffProcessor stores the last observed unified diff and publishes a
// tool-call/tool-call-result pair whenever a new turn_diff differs from it
// (spec.md §4.5).
type DiffProcessor struct {
	lastDiff string
}

// NewDiffProcessor constructs an empty DiffProcessor.
func NewDiffProcessor() *DiffProcessor {
	return &DiffProcessor{}
}

// TurnDiff feeds one turn-diff event's unified diff text.
func (p *DiffProcessor) TurnDiff(diff string) []model.AgentEvent {
	if diff == p.lastDiff {
		return nil
	}
	p.lastDiff = diff
	callID := uuid.NewString()
	return []model.AgentEvent{
		{Type: model.EventToolCall, CallID: callID, ToolName: toolNameDiff},
		{Type: model.EventToolCallResult, CallID: callID, Status: model.ToolCallCompleted, Output: diff},
	}
}

// Reset clears the stored diff on a terminal turn event.
func (p *DiffProcessor) Reset() {
	p.lastDiff = ""
}
