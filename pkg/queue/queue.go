// Package queue wraps a NATS JetStream connection with the explicit
// connect/close lifecycle and durable-queue semantics the identity lookup
// protocol relies on: named durable streams, per-message acknowledgement,
// and a correlation id carried as a message header.
package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// HeaderCorrelationID is the message header carrying the requester's
// correlation identifier.
const HeaderCorrelationID = "Correlation-Id"

type Bus struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

func Connect(url string) (*Bus, error) {
	conn, err := nats.Connect(url,
		nats.Name("nexom-backend"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open JetStream context: %w", err)
	}

	return &Bus{conn: conn, js: js}, nil
}

func (b *Bus) Close() error {
	b.conn.Close()
	return nil
}

// DeclareQueue idempotently creates a durable stream whose single subject is
// the queue name itself. Messages age out after maxAge.
func (b *Bus) DeclareQueue(name string, maxAge time.Duration) error {
	_, err := b.js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: []string{name},
		Storage:  nats.FileStorage,
		MaxAge:   maxAge,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	return nil
}

// Publish sends data to a queue, tagging it with the correlation id.
func (b *Bus) Publish(queueName string, data []byte, correlationID string) error {
	msg := &nats.Msg{
		Subject: queueName,
		Data:    data,
		Header:  nats.Header{},
	}
	if correlationID != "" {
		msg.Header.Set(HeaderCorrelationID, correlationID)
	}
	_, err := b.js.PublishMsg(msg)
	return err
}

// Consume attaches a durable consumer to a queue. Handlers must ack or nak
// every delivery; messages are dispatched one at a time.
func (b *Bus) Consume(queueName, durable string, handler func(msg *nats.Msg)) (*nats.Subscription, error) {
	return b.js.Subscribe(queueName, handler,
		nats.Durable(durable),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.MaxAckPending(1),
		nats.AckWait(30*time.Second),
	)
}

// Observe opens an ephemeral, auto-acknowledged subscription that sees every
// new message on a queue. Used by requesters waiting for a correlated reply.
func (b *Bus) Observe(queueName string) (*nats.Subscription, error) {
	return b.js.SubscribeSync(queueName,
		nats.DeliverNew(),
		nats.AckNone(),
	)
}
