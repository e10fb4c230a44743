package appserver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthub/hub/internal/logging"
	"github.com/agenthub/hub/internal/model"
	"github.com/agenthub/hub/internal/transport"
)

func TestIsDisconnectedErrorNil(t *testing.T) {
	assert.False(t, IsDisconnectedError(nil))
}

func TestIsDisconnectedErrorMatchesSubstring(t *testing.T) {
	assert.True(t, IsDisconnectedError(errors.New("appserver: child exited: disconnected transport")))
	assert.False(t, IsDisconnectedError(errors.New("some other failure")))
}

func TestAdapterHandleNotificationPublishesConvertedEventAndForwards(t *testing.T) {
	a := New("codex", logging.Default())

	var forwardedMethod string
	var forwardedParams map[string]any
	a.SetNotificationHandler(transport.NotificationHandlerFunc(func(method string, params map[string]any) {
		forwardedMethod = method
		forwardedParams = params
	}))

	raw, _ := json.Marshal(map[string]any{"delta": "hello"})
	a.handleNotification("item/agentMessageDelta", raw)

	select {
	case evt := <-a.Updates():
		assert.Equal(t, model.EventMessage, evt.Type)
		assert.Equal(t, "hello", evt.Text)
	default:
		t.Fatal("expected a converted event on Updates()")
	}

	assert.Equal(t, "item/agentMessageDelta", forwardedMethod)
	assert.Equal(t, "hello", forwardedParams["delta"])
}

func TestAdapterHandleNotificationDropsUnconvertibleMethod(t *testing.T) {
	a := New("codex", logging.Default())
	a.handleNotification("some/unknown-method", nil)

	select {
	case evt := <-a.Updates():
		t.Fatalf("expected no event, got %+v", evt)
	default:
	}
}

func TestAdapterHandleNotificationUnparseableParamsIsDropped(t *testing.T) {
	a := New("codex", logging.Default())
	a.handleNotification("item/agentMessageDelta", json.RawMessage(`{not json`))

	select {
	case evt := <-a.Updates():
		t.Fatalf("expected no event for unparseable params, got %+v", evt)
	default:
	}
}

func TestAdapterHandleRequestDispatchesToRegisteredHandler(t *testing.T) {
	a := New("codex", logging.Default())

	var gotMethod string
	a.RegisterRequestHandler("item/cmdExecRequestApproval", transport.RequestHandlerFunc(
		func(ctx context.Context, method string, params map[string]any) (any, error) {
			gotMethod = method
			return "approved", nil
		}))

	raw, _ := json.Marshal(map[string]any{"toolName": "bash"})
	result, err := a.handleRequest("item/cmdExecRequestApproval", raw)

	require.NoError(t, err)
	assert.Equal(t, "approved", result)
	assert.Equal(t, "item/cmdExecRequestApproval", gotMethod)
}

func TestAdapterHandleRequestUnknownMethodErrors(t *testing.T) {
	a := New("codex", logging.Default())
	_, err := a.handleRequest("no/such/method", nil)
	require.Error(t, err)
}

func TestAdapterConnectFailsForMissingBinary(t *testing.T) {
	a := New("/no/such/agent-binary-for-tests", logging.Default())
	err := a.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrSpawnFailed)
}

func TestAdapterRecentStderrReflectsCapturedOutput(t *testing.T) {
	a := New("codex", logging.Default())
	a.stderrBuf.write([]byte("bash: codex: command not found"))

	var _ StderrReporter = a
	assert.Equal(t, "agent binary not found on PATH", ParseStderrLines(a.RecentStderr()))
}

func TestAdapterSendUpdateDropsWhenChannelFull(t *testing.T) {
	a := New("codex", logging.Default())
	for i := 0; i < cap(a.updatesCh); i++ {
		a.sendUpdate(model.AgentEvent{Type: model.EventMessage})
	}
	// One more send must not block even though the channel is full.
	a.sendUpdate(model.AgentEvent{Type: model.EventMessage})
	assert.Equal(t, cap(a.updatesCh), len(a.updatesCh))
}
