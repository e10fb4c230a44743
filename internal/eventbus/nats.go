package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/agenthub/hub/internal/logging"
)

// NATSBus is an EventBus backed by a NATS connection, for deployments where
// multiple hub processes share session event delivery.
type NATSBus struct {
	conn *nats.Conn
	log  *logging.Logger
}

// DialNATS connects to url and returns a ready NATSBus.
func DialNATS(url string, log *logging.Logger) (*NATSBus, error) {
	conn, err := nats.Connect(url,
		nats.ReconnectWait(nats.DefaultReconnectWait),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect nats %s: %w", url, err)
	}
	return &NATSBus{conn: conn, log: log}, nil
}

func (b *NATSBus) Publish(ctx context.Context, subject string, evt *Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("eventbus: marshal event: %w", err)
	}
	return b.conn.Publish(subject, data)
}

func (b *NATSBus) Subscribe(subject string, h Handler) (Subscription, error) {
	sub, err := b.conn.Subscribe(subject, b.wrap(h))
	if err != nil {
		return nil, err
	}
	return &natsSub{sub: sub}, nil
}

func (b *NATSBus) QueueSubscribe(subject, queue string, h Handler) (Subscription, error) {
	sub, err := b.conn.QueueSubscribe(subject, queue, b.wrap(h))
	if err != nil {
		return nil, err
	}
	return &natsSub{sub: sub}, nil
}

func (b *NATSBus) wrap(h Handler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var evt Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			b.log.WithError(err).Warn("eventbus: dropping unparseable nats message")
			return
		}
		if err := h(context.Background(), &evt); err != nil {
			b.log.WithError(err).Debug("eventbus: handler returned error")
		}
	}
}

func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}

func (b *NATSBus) IsConnected() bool {
	return b.conn.IsConnected()
}

type natsSub struct {
	sub *nats.Subscription
}

func (s *natsSub) Unsubscribe() error { return s.sub.Unsubscribe() }
func (s *natsSub) IsValid() bool      { return s.sub.IsValid() }
