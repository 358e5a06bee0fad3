// Package bus publishes domain events to NATS JetStream.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	StreamName = "UNDERNEATH"

	SubjectInvitationCreated    = "underneath.invitations.created"
	SubjectConnectionCreated    = "underneath.connections.created"
	SubjectConnectionTerminated = "underneath.connections.terminated"
	SubjectInvitationMail       = "underneath.mail.invitations"
)

// Publisher is what services depend on. *Bus and Nop satisfy it.
type Publisher interface {
	Publish(ctx context.Context, subj string, v any) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }

// Bus wraps a NATS JetStream connection for publishing events.
type Bus struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// New creates a Bus connected to the provided NATS endpoint and makes sure
// the UNDERNEATH stream exists.
func New(url string, opts ...nats.Option) (*Bus, error) {
	opts = append([]nats.Option{nats.Name("underneath-backend"), nats.MaxReconnects(-1)}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	b := &Bus{conn: nc, js: js}
	if err := b.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return b, nil
}

func (b *Bus) ensureStream() error {
	_, err := b.js.StreamInfo(StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = b.js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{"underneath.>"},
		MaxAge:   7 * 24 * time.Hour,
	})
	return err
}

// Close shuts down the underlying NATS connection.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// Publish encodes v as JSON and publishes it to the given subject.
func (b *Bus) Publish(ctx context.Context, subj string, v any) error {
	if b == nil {
		return errors.New("nil bus")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	_, err = b.js.Publish(subj, data, nats.Context(ctx))
	return err
}

// Healthy reports whether the connection is up.
func (b *Bus) Healthy() bool {
	return b != nil && b.conn.IsConnected()
}
