package sessionloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthub/hub/internal/eventbus"
	"github.com/agenthub/hub/internal/model"
	"github.com/agenthub/hub/internal/rpc"
)

type fakeRegistry struct {
	handlers map[string]rpc.Handler
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{handlers: make(map[string]rpc.Handler)}
}

func (r *fakeRegistry) Register(key string, h rpc.Handler) { r.handlers[key] = h }
func (r *fakeRegistry) Replace(key string, h rpc.Handler)  { r.handlers[key] = h }

func newTestLoop(t *testing.T, reg *fakeRegistry) (*Loop, *fakeStore) {
	t.Helper()
	fs := newFakeStore(model.Session{ID: "s1", AgentState: model.AgentState{
		Requests: map[string]model.PermissionRequest{}, CompletedRequests: map[string]model.CompletedRequest{},
	}})
	deps := Deps{
		Store:    fs,
		Bus:      eventbus.NewMemoryBus(),
		Registry: reg,
	}
	return New("s1", "ns", deps, ModeLocal), fs
}

func TestOtherModeToggles(t *testing.T) {
	assert.Equal(t, ModeRemote, otherMode(ModeLocal))
	assert.Equal(t, ModeLocal, otherMode(ModeRemote))
}

func TestNewRegistersAllSessionRPCMethods(t *testing.T) {
	reg := newFakeRegistry()
	newTestLoop(t, reg)

	for _, m := range []string{rpc.MethodAbort, rpc.MethodSwitch, rpc.MethodPermission, rpc.MethodSetSessionConfig} {
		key := rpc.SessionKey("s1", m)
		_, ok := reg.handlers[key]
		assert.True(t, ok, "expected a handler registered for %s", key)
	}
}

func TestPermissionRPCResolvesPendingElicit(t *testing.T) {
	reg := newFakeRegistry()
	loop, fs := newTestLoop(t, reg)

	resultCh := make(chan model.PermissionDecision, 1)
	go func() {
		d, _ := loop.perm.Elicit(context.Background(), "req-1", "bash", nil, model.PermissionExec)
		resultCh <- d
	}()

	require.Eventually(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		_, ok := fs.sess.AgentState.Requests["req-1"]
		return ok
	}, time.Second, time.Millisecond, "elicit must publish the request before it blocks on a reply")

	handler := reg.handlers[rpc.SessionKey("s1", rpc.MethodPermission)]
	require.NotNil(t, handler)

	_, err := handler(context.Background(), rpc.PermissionReplyParams{ID: "req-1", Decision: string(model.DecisionApproved)})
	require.NoError(t, err)

	select {
	case d := <-resultCh:
		assert.Equal(t, model.DecisionApproved, d.Decision)
	case <-time.After(time.Second):
		t.Fatal("permission RPC handler did not resolve the pending elicit")
	}
}

func TestSetSessionConfigRPCUpdatesPermissionMode(t *testing.T) {
	reg := newFakeRegistry()
	loop, _ := newTestLoop(t, reg)

	handler := reg.handlers[rpc.SessionKey("s1", rpc.MethodSetSessionConfig)]
	require.NotNil(t, handler)

	_, err := handler(context.Background(), model.PermissionModeYolo)
	require.NoError(t, err)

	decision, err := loop.perm.Elicit(context.Background(), "", "anything", nil, model.PermissionExec)
	require.NoError(t, err)
	assert.Equal(t, model.DecisionApprovedForSession, decision.Decision, "yolo mode must auto-approve without blocking")
}

func TestTeardownReplacesHandlersWithNoOps(t *testing.T) {
	reg := newFakeRegistry()
	loop, _ := newTestLoop(t, reg)

	loop.teardown()

	for _, m := range []string{rpc.MethodAbort, rpc.MethodSwitch, rpc.MethodPermission, rpc.MethodSetSessionConfig, rpc.MethodKillSession, rpc.MethodResumeSession} {
		key := rpc.SessionKey("s1", m)
		h, ok := reg.handlers[key]
		require.True(t, ok)
		result, err := h(context.Background(), nil)
		assert.NoError(t, err)
		assert.Nil(t, result)
	}
}
