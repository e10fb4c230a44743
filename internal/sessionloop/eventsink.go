package sessionloop

import (
	"context"

	"github.com/agenthub/hub/internal/eventbus"
	"github.com/agenthub/hub/internal/model"
	"github.com/agenthub/hub/internal/store"
)

// eventSink adapts the session event sink contract of spec.md §6
// (`{type: 'message' | 'ready', message?}`) to an eventbus.EventBus, and
// doubles as the permission pipeline's RequestStore by persisting pending
// and completed requests into the session's agent_state.
type eventSink struct {
	sessionID string
	bus       eventbus.EventBus
	store     store.Store
}

var _ interface {
	EmitStatus(sessionID, text string)
	EmitReady(sessionID string)
	EmitEvent(sessionID string, evt model.AgentEvent)
	Emit(sessionID string, evt model.AgentEvent)
} = (*eventSink)(nil)

func (s *eventSink) EmitStatus(sessionID, text string) {
	ctx := context.Background()
	_ = s.bus.Publish(ctx, eventbus.Subject(sessionID), &eventbus.Event{
		Type: eventbus.EventTypeMessage, SessionID: sessionID, Message: text,
	})
}

func (s *eventSink) EmitReady(sessionID string) {
	ctx := context.Background()
	_ = s.bus.Publish(ctx, eventbus.Subject(sessionID), &eventbus.Event{
		Type: eventbus.EventTypeReady, SessionID: sessionID,
	})
}

// EmitEvent and Emit are the same operation under the two interface names
// the launcher and permission packages each declare for it.
func (s *eventSink) EmitEvent(sessionID string, evt model.AgentEvent) {
	ctx := context.Background()
	_ = s.bus.Publish(ctx, eventbus.Subject(sessionID), &eventbus.Event{
		Type: eventbus.EventTypeMessage, SessionID: sessionID, Data: agentEventToData(evt),
	})
}

func (s *eventSink) Emit(sessionID string, evt model.AgentEvent) {
	s.EmitEvent(sessionID, evt)
}

// PublishRequest records a newly pending approval request in agent_state.
func (s *eventSink) PublishRequest(sessionID string, req model.PermissionRequest) {
	state := model.AgentState{Requests: map[string]model.PermissionRequest{req.ID: req}}
	s.updateAgentState(sessionID, state)
}

// CompleteRequest moves a request from pending to completed in agent_state.
func (s *eventSink) CompleteRequest(sessionID string, id string, completed model.CompletedRequest) {
	state := model.AgentState{CompletedRequests: map[string]model.CompletedRequest{id: completed}}
	s.updateAgentState(sessionID, state)
}

// updateAgentState retries once on a version conflict, re-reading the
// current version, per the store's optimistic-concurrency contract.
func (s *eventSink) updateAgentState(sessionID string, state model.AgentState) {
	ctx := context.Background()
	sess, err := s.store.GetOrCreateSession(ctx, sessionID, "")
	if err != nil {
		return
	}
	result := s.store.UpdateSessionAgentState(ctx, sessionID, sess.AgentStateVersion, state)
	if result.Conflict {
		if sess2, err := s.store.GetOrCreateSession(ctx, sessionID, ""); err == nil {
			s.store.UpdateSessionAgentState(ctx, sessionID, sess2.AgentStateVersion, state)
		}
	}
}

// agentEventToData flattens an AgentEvent into the map shape the event sink
// carries on the wire; only fields relevant to evt.Type are populated in
// the source struct, so the map naturally omits the rest.
func agentEventToData(evt model.AgentEvent) map[string]any {
	m := map[string]any{"type": string(evt.Type)}
	if evt.Text != "" {
		m["text"] = evt.Text
	}
	if evt.ToolName != "" {
		m["toolName"] = evt.ToolName
	}
	if evt.CallID != "" {
		m["callId"] = evt.CallID
	}
	if evt.Input != nil {
		m["input"] = evt.Input
	}
	if evt.Output != nil {
		m["output"] = evt.Output
	}
	if evt.IsError {
		m["isError"] = evt.IsError
	}
	if evt.Status != "" {
		m["status"] = string(evt.Status)
	}
	if evt.TurnID != "" {
		m["turnId"] = evt.TurnID
	}
	if evt.Error != "" {
		m["error"] = evt.Error
	}
	if evt.Changes != nil {
		m["changes"] = evt.Changes
	}
	if evt.Stdout != "" {
		m["stdout"] = evt.Stdout
	}
	if evt.Stderr != "" {
		m["stderr"] = evt.Stderr
	}
	if evt.Command != nil {
		m["command"] = evt.Command
	}
	if evt.UnifiedDiff != "" {
		m["unifiedDiff"] = evt.UnifiedDiff
	}
	if evt.PlanEntries != nil {
		m["entries"] = evt.PlanEntries
	}
	if evt.TokenInfo != nil {
		m["tokenInfo"] = evt.TokenInfo
	}
	if evt.ThreadID != "" {
		m["threadId"] = evt.ThreadID
	}
	return m
}
