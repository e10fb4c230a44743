package eventconv

import (
	"encoding/json"

	"github.com/agenthub/hub/internal/model"
)

// MCPEnvelope is the `{type, payload}` shape carried by MCP-wrapped journal
// events (spec.md §4.3). Three envelope types are recognized; unknown types
// return nothing.
type MCPEnvelope struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// SessionMetaResult is returned when the envelope is a session_meta record,
// so callers (the SessionScanner) can bind a file to a session id.
type SessionMetaResult struct {
	SessionID string
}

// ConvertMCPEnvelope converts one MCP journal envelope. ok is false for
// unrecognized envelope types or event_msg subtypes with no AgentEvent
// representation (including `user_message`, treated as a no-op per spec.md §9).
func ConvertMCPEnvelope(env MCPEnvelope) (evt model.AgentEvent, meta *SessionMetaResult, ok bool) {
	switch env.Type {
	case "session_meta":
		sid := getString(env.Payload, "sessionId", "session_id")
		if sid == "" {
			return model.AgentEvent{}, nil, false
		}
		return model.AgentEvent{}, &SessionMetaResult{SessionID: sid}, false

	case "event_msg":
		e, matched := convertEventMsg(env.Payload)
		return e, nil, matched

	case "response_item":
		e, matched := convertResponseItem(env.Payload)
		return e, nil, matched

	default:
		return model.AgentEvent{}, nil, false
	}
}

func convertEventMsg(payload map[string]any) (model.AgentEvent, bool) {
	kind := getString(payload, "type")
	switch kind {
	case "agent_message":
		return model.AgentEvent{Type: model.EventMessage, Text: getString(payload, "message", "text")}, true
	case "agent_reasoning":
		return model.AgentEvent{Type: model.EventReasoning, Text: getString(payload, "text")}, true
	case "agent_reasoning_delta":
		return model.AgentEvent{Type: model.EventReasoningDelta, Text: getString(payload, "delta", "text")}, true
	case "token_count":
		return model.AgentEvent{Type: model.EventTokenCount, TokenInfo: decodeTokenInfo(payload)}, true
	case "user_message":
		// No-op per spec.md §9's open question; not surfaced to scanners.
		return model.AgentEvent{}, false
	default:
		return model.AgentEvent{}, false
	}
}

func convertResponseItem(payload map[string]any) (model.AgentEvent, bool) {
	kind := getString(payload, "type")
	switch kind {
	case "function_call":
		callID := ExtractCallID(payload)
		var input map[string]any
		if raw, ok := payload["arguments"].(string); ok {
			_ = json.Unmarshal([]byte(raw), &input)
		} else if m, ok := payload["arguments"].(map[string]any); ok {
			input = m
		}
		return model.AgentEvent{
			Type: model.EventToolCall, CallID: callID,
			ToolName: getString(payload, "name"), Input: input,
		}, true

	case "function_call_output":
		callID := ExtractCallID(payload)
		return model.AgentEvent{
			Type: model.EventToolCallResult, CallID: callID,
			Output: payload["output"], Status: model.ToolCallCompleted,
		}, true

	default:
		return model.AgentEvent{}, false
	}
}
