// Package permission implements the PermissionPipeline (spec.md C4 / §4.4):
// elicit, decide, and reply for agent-originated approval requests.
package permission

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agenthub/hub/internal/model"
)

// RequestStore is the narrow slice of the Store/session the pipeline needs
// to publish agent_state.requests/completedRequests. The SessionLoop
// supplies an implementation backed by the real Store.
type RequestStore interface {
	PublishRequest(sessionID string, req model.PermissionRequest)
	CompleteRequest(sessionID string, id string, completed model.CompletedRequest)
}

// EventSink receives the outbound tool-call event synthesized for the
// elicitation (invariant I6's "in agent_state.requests" companion: the
// user-visible side of the same fact).
type EventSink interface {
	Emit(sessionID string, evt model.AgentEvent)
}

// toolNameForKind picks the outbound tool-call name by request kind
// (spec.md §4.4 step 1).
func toolNameForKind(kind model.PermissionKind, originalToolName string) string {
	switch kind {
	case model.PermissionExec:
		return "CodexBash"
	case model.PermissionFileChange:
		return "CodexPatch"
	case model.PermissionUserInput:
		return originalToolName
	default:
		return "CodexPermission"
	}
}

type pending struct {
	req    model.PermissionRequest
	result chan model.PermissionDecision
}

// Pipeline implements elicit/decide/reply for one session. Construct one
// per active RemoteLauncher/LocalLauncher run.
type Pipeline struct {
	sessionID string
	store     RequestStore
	sink      EventSink

	mu             sync.Mutex
	pendingByID    map[string]*pending
	clientAttached bool
	mode           model.PermissionMode
	extraAllow     []string
	extraWrite     []string
}

// New constructs a Pipeline for sessionID.
func New(sessionID string, store RequestStore, sink EventSink, mode model.PermissionMode) *Pipeline {
	return &Pipeline{
		sessionID:   sessionID,
		store:       store,
		sink:        sink,
		pendingByID: make(map[string]*pending),
		mode:        mode,
	}
}

// SetClientAttached records whether an RPC "permission" handler is
// currently registered by a connected client; auto-approval rules only
// apply when it is false (spec.md §4.4 "Decide").
func (p *Pipeline) SetClientAttached(attached bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientAttached = attached
}

// SetMode updates the permission mode used for auto-approval.
func (p *Pipeline) SetMode(mode model.PermissionMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = mode
}

// SetOverrideHints extends the read-only mode's allow/write lists
// (spec.md §4.4 "Override hints").
func (p *Pipeline) SetOverrideHints(allow, write []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.extraAllow = allow
	p.extraWrite = write
}

// Elicit synthesizes a PermissionRequest for an agent approval request,
// publishes it, and blocks for its resolution — either from a client
// response via Resolve, an auto-approval rule, or ctx cancellation (session
// reset).
func (p *Pipeline) Elicit(ctx context.Context, id, toolName string, input map[string]any, kind model.PermissionKind) (model.PermissionDecision, error) {
	if id == "" {
		id = uuid.NewString()
	}

	req := model.PermissionRequest{ID: id, ToolName: toolName, Input: input, CreatedAt: time.Now().UTC(), Kind: kind}

	p.mu.Lock()
	clientAttached := p.clientAttached
	p.mu.Unlock()

	if !clientAttached {
		if decision, ok := p.autoApprove(toolName, kind); ok {
			p.finalize(req, decision, "")
			return decision, nil
		}
		// Falls through to await the client (default mode, or a read-only
		// mode tool that matches no allow-list hint).
	}

	p.sink.Emit(p.sessionID, model.AgentEvent{
		Type: model.EventToolCall, ToolName: toolNameForKind(kind, toolName), CallID: id, Input: input,
	})
	p.store.PublishRequest(p.sessionID, req)

	pend := &pending{req: req, result: make(chan model.PermissionDecision, 1)}
	p.mu.Lock()
	p.pendingByID[id] = pend
	p.mu.Unlock()

	select {
	case decision := <-pend.result:
		p.finalize(req, decision, "")
		return decision, nil
	case <-ctx.Done():
		p.removePending(id)
		decision := model.PermissionDecision{Decision: model.DecisionAbort, Reason: "Session reset"}
		p.finalize(req, decision, "Session reset")
		return decision, ctx.Err()
	}
}

// Resolve delivers a client response (RPC handler "permission") for a
// pending request. Returns an error if id is not pending.
func (p *Pipeline) Resolve(id string, decision model.PermissionDecision) error {
	p.mu.Lock()
	pend, ok := p.pendingByID[id]
	delete(p.pendingByID, id)
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("permission: no pending request %s", id)
	}
	pend.result <- decision
	return nil
}

// ResetAll cancels every pending request with "Session reset", per
// spec.md §4.4 "Finalization" — called when the session resets.
func (p *Pipeline) ResetAll() {
	p.mu.Lock()
	pending := p.pendingByID
	p.pendingByID = make(map[string]*pending)
	p.mu.Unlock()

	for _, pend := range pending {
		decision := model.PermissionDecision{Decision: model.DecisionAbort, Reason: "Session reset"}
		pend.result <- decision
	}
}

func (p *Pipeline) removePending(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pendingByID, id)
}

func (p *Pipeline) finalize(req model.PermissionRequest, decision model.PermissionDecision, reasonOverride string) {
	status := model.RequestStatusApproved
	switch decision.Decision {
	case model.DecisionDenied:
		status = model.RequestStatusDenied
	case model.DecisionAbort:
		status = model.RequestStatusCanceled
	}
	reason := decision.Reason
	if reasonOverride != "" {
		reason = reasonOverride
	}
	p.store.CompleteRequest(p.sessionID, req.ID, model.CompletedRequest{
		Request: req, CompletedAt: time.Now().UTC(), Status: status, Decision: decision, Reason: reason,
	})
}

// hubTitleToolNames identifies the hub's own title-change tool across both
// transport dialects (spec.md §4.4 step "In any mode").
var hubTitleToolNames = map[string]bool{
	"change_title":         true,
	"happy__change_title":  true,
}

// readOnlyAllowlist and readOnlyWritelist are the curated tool-name hints
// for read-only mode (spec.md §4.4 step 3); extended per-call via
// SetOverrideHints.
var readOnlyAllowlist = []string{"read", "cat", "ls", "grep", "find", "list_", "get_", "search"}
var readOnlyWritelist = []string{"write", "edit", "patch", "delete", "rm", "mkdir", "exec", "bash", "shell"}

// autoApprove applies the rules in spec.md §4.4 "Decide" step 2. ok is
// false when the request must await a client response: in default mode,
// and in read-only mode for a tool that matches no allow-list hint (whether
// it matches a write-list hint or is unrecognized).
func (p *Pipeline) autoApprove(toolName string, kind model.PermissionKind) (model.PermissionDecision, bool) {
	p.mu.Lock()
	mode := p.mode
	extraAllow := p.extraAllow
	extraWrite := p.extraWrite
	p.mu.Unlock()

	if hubTitleToolNames[toolName] {
		if mode == model.PermissionModeYolo {
			return model.PermissionDecision{Decision: model.DecisionApprovedForSession}, true
		}
		return model.PermissionDecision{Decision: model.DecisionApproved}, true
	}

	switch mode {
	case model.PermissionModeYolo:
		return model.PermissionDecision{Decision: model.DecisionApprovedForSession}, true
	case model.PermissionModeSafeYolo:
		return model.PermissionDecision{Decision: model.DecisionApproved}, true
	case model.PermissionModeReadOnly:
		if matchesAny(toolName, readOnlyAllowlist) || matchesAny(toolName, extraAllow) {
			return model.PermissionDecision{Decision: model.DecisionApproved}, true
		}
		if matchesAny(toolName, readOnlyWritelist) || matchesAny(toolName, extraWrite) {
			return model.PermissionDecision{}, false
		}
		// Unrecognized tool in read-only mode: await the client.
		return model.PermissionDecision{}, false
	default:
		return model.PermissionDecision{}, false
	}
}

func matchesAny(toolName string, hints []string) bool {
	lower := strings.ToLower(toolName)
	for _, h := range hints {
		if h == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(h)) {
			return true
		}
	}
	return false
}
