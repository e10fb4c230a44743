// Package eventconv implements the EventConverter (spec.md C2 / §4.3): pure,
// deterministic functions that turn the two raw event shapes — typed
// app-server notifications and MCP-wrapped journal records — into the
// uniform model.AgentEvent union. The package performs no I/O.
package eventconv

import (
	"encoding/json"
	"strconv"

	"github.com/agenthub/hub/internal/model"
)

// DecoderState is the small piece of memory the converter maintains to
// populate fields absent on individual child events (spec.md §4.3: "a small
// decoder state (current threadId/turnId)"). Callers keep one State per
// transport connection.
type DecoderState struct {
	ThreadID string
	TurnID   string

	// seenThreadTokenUsage guards the legacy token_count de-duplication
	// described in SPEC_FULL.md: once thread/tokenUsageUpdated has fired for
	// the current thread, legacy token_count notifications are dropped.
	seenThreadTokenUsage bool
}

// callIDKeys is the fixed, ordered key list spec.md §4.3 and §9 call for,
// replacing the source's reflection-based scan.
var callIDKeys = []string{"call_id", "callId", "tool_call_id", "toolCallId", "id"}

// ExtractCallID scans m for the first populated key in callIDKeys.
func ExtractCallID(m map[string]any) string {
	for _, key := range callIDKeys {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func getBool(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if b, ok := v.(bool); ok {
				return b
			}
		}
	}
	return false
}

func getMap(m map[string]any, keys ...string) map[string]any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if mm, ok := v.(map[string]any); ok {
				return mm
			}
		}
	}
	return nil
}

// ConvertAppServer normalizes one already-typed app-server notification
// (method + params, snake_case or camelCase) into an AgentEvent. It returns
// ok=false for notifications with no AgentEvent representation (e.g. a
// legacy token_count once the newer notification has fired).
func ConvertAppServer(state *DecoderState, method string, params map[string]any) (model.AgentEvent, bool) {
	if tid := getString(params, "threadId", "thread_id"); tid != "" {
		if tid != state.ThreadID {
			state.seenThreadTokenUsage = false
		}
		state.ThreadID = tid
	}
	if tid := getString(params, "turnId", "turn_id"); tid != "" {
		state.TurnID = tid
	}

	switch method {
	case "item/agentMessageDelta":
		return model.AgentEvent{Type: model.EventMessage, Text: getString(params, "delta", "text")}, true

	case "item/reasoningTextDelta", "item/reasoningSummaryDelta":
		return model.AgentEvent{Type: model.EventReasoningDelta, Text: getString(params, "delta", "text")}, true

	case "turn/completed":
		status := getString(params, "status")
		switch status {
		case "aborted":
			return model.AgentEvent{Type: model.EventTurnAborted, TurnID: state.TurnID}, true
		case "failed":
			return model.AgentEvent{Type: model.EventTaskFailed, TurnID: state.TurnID, Error: getString(params, "error")}, true
		default:
			return model.AgentEvent{Type: model.EventTaskComplete, TurnID: state.TurnID}, true
		}

	case "turn/diffUpdated":
		return model.AgentEvent{Type: model.EventTurnDiff, UnifiedDiff: getString(params, "unifiedDiff", "unified_diff")}, true

	case "turn/planUpdated":
		return model.AgentEvent{Type: model.EventPlanUpdated, PlanEntries: decodePlanEntries(params)}, true

	case "error":
		return model.AgentEvent{Type: model.EventTaskFailed, Error: getString(params, "message")}, true

	case "item/started":
		return convertItemStarted(params)

	case "item/completed":
		return convertItemCompleted(params)

	case "item/cmdExecOutputDelta":
		return model.AgentEvent{
			Type:   model.EventExecBegin,
			CallID: ExtractCallID(params),
			Stdout: getString(params, "chunk", "delta"),
		}, true

	case "thread/tokenUsageUpdated":
		state.seenThreadTokenUsage = true
		return model.AgentEvent{Type: model.EventTokenCount, TokenInfo: decodeTokenInfo(params)}, true

	case "token_count":
		if state.seenThreadTokenUsage {
			return model.AgentEvent{}, false
		}
		return model.AgentEvent{Type: model.EventTokenCount, TokenInfo: decodeTokenInfo(params)}, true

	case "context/compacted":
		return model.AgentEvent{Type: model.EventContextCompacted}, true

	default:
		return model.AgentEvent{}, false
	}
}

func convertItemStarted(params map[string]any) (model.AgentEvent, bool) {
	itemType := getString(params, "item_type", "itemType")
	callID := ExtractCallID(params)
	switch itemType {
	case "file_change", "patch":
		return model.AgentEvent{Type: model.EventPatchBegin, CallID: callID, Changes: decodeFileChanges(params)}, true
	case "command_execution", "exec":
		return model.AgentEvent{Type: model.EventExecBegin, CallID: callID, Command: decodeCommand(params)}, true
	case "mcp_tool_call":
		return model.AgentEvent{Type: model.EventToolCall, CallID: callID, ToolName: getString(params, "tool", "name"), Input: getMap(params, "input", "arguments")}, true
	default:
		return model.AgentEvent{Type: model.EventTaskStarted}, true
	}
}

func convertItemCompleted(params map[string]any) (model.AgentEvent, bool) {
	itemType := getString(params, "item_type", "itemType")
	callID := ExtractCallID(params)
	switch itemType {
	case "file_change", "patch":
		return model.AgentEvent{
			Type: model.EventPatchEnd, CallID: callID,
			Stdout: getString(params, "stdout"), Stderr: getString(params, "stderr"),
			Success: !getBool(params, "error", "is_error"),
		}, true
	case "command_execution", "exec":
		return model.AgentEvent{
			Type: model.EventExecEnd, CallID: callID,
			Output: getString(params, "output"), Error: getString(params, "error"),
		}, true
	default:
		return model.AgentEvent{
			Type: model.EventToolCallResult, CallID: callID,
			Output: params["output"], IsError: getBool(params, "error", "is_error"),
			Status: model.ToolCallCompleted,
		}, true
	}
}

func decodePlanEntries(params map[string]any) []model.PlanEntry {
	raw, ok := params["entries"].([]any)
	if !ok {
		return nil
	}
	out := make([]model.PlanEntry, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, model.PlanEntry{Step: getString(m, "step", "text"), Status: getString(m, "status")})
	}
	return out
}

func decodeFileChanges(params map[string]any) []model.FileChange {
	raw, ok := params["changes"].([]any)
	if !ok {
		return nil
	}
	out := make([]model.FileChange, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, model.FileChange{Path: getString(m, "path"), Kind: getString(m, "kind"), Diff: getString(m, "diff")})
	}
	return out
}

func decodeCommand(params map[string]any) []string {
	raw, ok := params["command"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func decodeTokenInfo(params map[string]any) *model.TokenCountInfo {
	info := &model.TokenCountInfo{
		InputTokens:   asInt64(params["input_tokens"], params["inputTokens"]),
		OutputTokens:  asInt64(params["output_tokens"], params["outputTokens"]),
		TotalTokens:   asInt64(params["total_tokens"], params["totalTokens"]),
		ContextWindow: asInt64(params["context_window"], params["contextWindow"]),
	}
	info.RemainingTokens = info.ContextWindow - info.TotalTokens
	if info.ContextWindow > 0 {
		info.EfficiencyPct = float64(info.RemainingTokens) / float64(info.ContextWindow) * 100
	}
	return info
}

func asInt64(vs ...any) int64 {
	for _, v := range vs {
		switch n := v.(type) {
		case float64:
			return int64(n)
		case int64:
			return n
		case int:
			return int64(n)
		case json.Number:
			i, err := n.Int64()
			if err == nil {
				return i
			}
		case string:
			i, err := strconv.ParseInt(n, 10, 64)
			if err == nil {
				return i
			}
		}
	}
	return 0
}
