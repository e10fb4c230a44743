package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestHandlerFuncAdapts(t *testing.T) {
	var called string
	var h RequestHandler = RequestHandlerFunc(func(ctx context.Context, method string, params map[string]any) (any, error) {
		called = method
		return "ok", nil
	})

	result, err := h.Handle(context.Background(), "item/cmdExecRequestApproval", nil)
	assert.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, "item/cmdExecRequestApproval", called)
}

func TestNotificationHandlerFuncAdapts(t *testing.T) {
	var gotMethod string
	var gotParams map[string]any
	var h NotificationHandler = NotificationHandlerFunc(func(method string, params map[string]any) {
		gotMethod = method
		gotParams = params
	})

	h.Notify("item/agentMessageDelta", map[string]any{"delta": "hi"})
	assert.Equal(t, "item/agentMessageDelta", gotMethod)
	assert.Equal(t, "hi", gotParams["delta"])
}
