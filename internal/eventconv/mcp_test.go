package eventconv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthub/hub/internal/model"
)

func TestConvertMCPEnvelopeSessionMeta(t *testing.T) {
	evt, meta, ok := ConvertMCPEnvelope(MCPEnvelope{Type: "session_meta", Payload: map[string]any{"sessionId": "s1"}})
	assert.False(t, ok, "session_meta carries no AgentEvent")
	require.NotNil(t, meta)
	assert.Equal(t, "s1", meta.SessionID)
	assert.Equal(t, model.AgentEvent{}, evt)
}

func TestConvertMCPEnvelopeSessionMetaMissingIDIgnored(t *testing.T) {
	_, meta, ok := ConvertMCPEnvelope(MCPEnvelope{Type: "session_meta", Payload: map[string]any{}})
	assert.False(t, ok)
	assert.Nil(t, meta)
}

func TestConvertMCPEnvelopeAgentMessage(t *testing.T) {
	evt, meta, ok := ConvertMCPEnvelope(MCPEnvelope{Type: "event_msg", Payload: map[string]any{"type": "agent_message", "message": "hi"}})
	require.True(t, ok)
	assert.Nil(t, meta)
	assert.Equal(t, model.EventMessage, evt.Type)
	assert.Equal(t, "hi", evt.Text)
}

func TestConvertMCPEnvelopeUserMessageIsNoOp(t *testing.T) {
	_, _, ok := ConvertMCPEnvelope(MCPEnvelope{Type: "event_msg", Payload: map[string]any{"type": "user_message"}})
	assert.False(t, ok, "user_message echoes the hub's own outbound message and must not be surfaced")
}

func TestConvertMCPEnvelopeFunctionCall(t *testing.T) {
	evt, _, ok := ConvertMCPEnvelope(MCPEnvelope{Type: "response_item", Payload: map[string]any{
		"type": "function_call", "call_id": "c1", "name": "search", "arguments": `{"q":"x"}`,
	}})
	require.True(t, ok)
	assert.Equal(t, model.EventToolCall, evt.Type)
	assert.Equal(t, "c1", evt.CallID)
	assert.Equal(t, "search", evt.ToolName)
	assert.Equal(t, "x", evt.Input["q"])
}

func TestConvertMCPEnvelopeFunctionCallOutput(t *testing.T) {
	evt, _, ok := ConvertMCPEnvelope(MCPEnvelope{Type: "response_item", Payload: map[string]any{
		"type": "function_call_output", "call_id": "c1", "output": "result",
	}})
	require.True(t, ok)
	assert.Equal(t, model.EventToolCallResult, evt.Type)
	assert.Equal(t, "result", evt.Output)
	assert.Equal(t, model.ToolCallCompleted, evt.Status)
}

func TestConvertMCPEnvelopeUnknownTypeIgnored(t *testing.T) {
	_, meta, ok := ConvertMCPEnvelope(MCPEnvelope{Type: "something_else"})
	assert.False(t, ok)
	assert.Nil(t, meta)
}

func TestConvertMCPEnvelopeUnknownEventMsgKindIgnored(t *testing.T) {
	_, _, ok := ConvertMCPEnvelope(MCPEnvelope{Type: "event_msg", Payload: map[string]any{"type": "something_new"}})
	assert.False(t, ok)
}
