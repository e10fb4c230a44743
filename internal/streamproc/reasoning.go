// Package streamproc implements StreamProcessors (spec.md C3 / §4.5): the
// reasoning-delta assembler and diff accumulator, each turning a run of raw
// deltas into begin/end-framed outbound events.
package streamproc

import (
	"strings"

	"github.com/google/uuid"

	"github.com/agenthub/hub/internal/model"
)

const (
	toolNameReasoning = "CodexReasoning"
	toolNameDiff      = "CodexDiff"
)

type reasoningState int

const (
	reasoningIdle reasoningState = iota
	reasoningTitleCapture
	reasoningBody
)

// ReasoningProcessor accumulates reasoning deltas, detecting a `**title**`
// prefix that, once closed, is published as a titled tool-call instead of a
// plain reasoning event (spec.md §4.5).
type ReasoningProcessor struct {
	state      reasoningState
	accumText  string
	content    strings.Builder
	callID     string
}

// NewReasoningProcessor constructs an idle processor.
func NewReasoningProcessor() *ReasoningProcessor {
	return &ReasoningProcessor{}
}

// Delta feeds one reasoning-delta chunk, returning any outbound events it
// produces (zero or one: a tool-call begin when the title closes, then
// nothing further until completion).
func (p *ReasoningProcessor) Delta(text string) []model.AgentEvent {
	switch p.state {
	case reasoningIdle:
		p.accumText += text
		if strings.HasPrefix(p.accumText, "**") {
			if idx := strings.Index(p.accumText[2:], "**"); idx >= 0 {
				// Both markers arrived in the same delta: emit immediately.
				return p.enterTitleCaptureComplete(idx)
			}
			p.state = reasoningTitleCapture
			return nil
		}
		return nil

	case reasoningTitleCapture:
		p.accumText += text
		if idx := strings.Index(p.accumText[2:], "**"); idx >= 0 {
			return p.enterTitleCaptureComplete(idx)
		}
		return nil

	default: // reasoningBody
		p.content.WriteString(text)
		return nil
	}
}

func (p *ReasoningProcessor) enterTitleCaptureComplete(idxAfterPrefix int) []model.AgentEvent {
	p.callID = uuid.NewString()
	rest := p.accumText[2+idxAfterPrefix+2:]
	p.content.WriteString(rest)
	p.state = reasoningBody
	return []model.AgentEvent{{
		Type: model.EventToolCall, CallID: p.callID, ToolName: toolNameReasoning,
	}}
}

// SectionBreak ends the current accumulation with a completed status; a
// non-titled accumulation instead yields a single reasoning event.
func (p *ReasoningProcessor) SectionBreak() []model.AgentEvent {
	return p.finish(model.ToolCallCompleted)
}

// Complete is equivalent to SectionBreak with explicit trailing text.
func (p *ReasoningProcessor) Complete(text string) []model.AgentEvent {
	if text != "" {
		p.Delta(text)
	}
	return p.finish(model.ToolCallCompleted)
}

// Abort ends the current accumulation with a canceled status.
func (p *ReasoningProcessor) Abort() []model.AgentEvent {
	return p.finish(model.ToolCallCanceled)
}

func (p *ReasoningProcessor) finish(status model.ToolCallStatus) []model.AgentEvent {
	defer p.reset()

	if p.state == reasoningBody && p.callID != "" {
		return []model.AgentEvent{{
			Type: model.EventToolCallResult, CallID: p.callID, Status: status,
			Output: p.content.String(),
		}}
	}
	if p.accumText == "" && p.content.Len() == 0 {
		return nil
	}
	text := p.accumText + p.content.String()
	return []model.AgentEvent{{Type: model.EventReasoning, Text: text}}
}

func (p *ReasoningProcessor) reset() {
	p.state = reasoningIdle
	p.accumText = ""
	p.content.Reset()
	p.callID = ""
}

// Reset clears accumulated state without emitting, used on turn boundaries
// and session resets.
func (p *ReasoningProcessor) Reset() {
	p.reset()
}
