package eventbus

import (
	"context"
	"encoding/json"
	"testing"

	natslib "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthub/hub/internal/logging"
)

func TestNATSBusWrapDeliversParsedEvent(t *testing.T) {
	b := &NATSBus{log: logging.Default()}

	var got *Event
	handler := b.wrap(func(ctx context.Context, evt *Event) error {
		got = evt
		return nil
	})

	data, err := json.Marshal(&Event{Type: EventTypeReady, SessionID: "s1"})
	require.NoError(t, err)

	handler(&natslib.Msg{Data: data})

	require.NotNil(t, got)
	assert.Equal(t, EventTypeReady, got.Type)
	assert.Equal(t, "s1", got.SessionID)
}

func TestNATSBusWrapDropsUnparseableMessage(t *testing.T) {
	b := &NATSBus{log: logging.Default()}

	called := false
	handler := b.wrap(func(ctx context.Context, evt *Event) error {
		called = true
		return nil
	})

	handler(&natslib.Msg{Data: []byte("{not json")})
	assert.False(t, called)
}

func TestSubjectFormat(t *testing.T) {
	assert.Equal(t, "session.abc.events", Subject("abc"))
}
