package nats

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/potluck-hub/potluck-hub/internal/domain/session"
)

const (
	StreamName    = "AUTH_SESSIONS"
	SubjectPrefix = "auth.session."
)

// jetStream is the part of nats.JetStreamContext the publisher needs.
type jetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher sends session events to JetStream as JSON on auth.session.<type>.
type Publisher struct {
	conn *nats.Conn
	js   jetStream
}

// Connect dials NATS, makes sure the session stream exists and returns a publisher.
func Connect(url string, opts ...nats.Option) (*Publisher, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}
	if err := ensureStream(js); err != nil {
		nc.Close()
		return nil, err
	}
	return &Publisher{conn: nc, js: js}, nil
}

func ensureStream(js nats.JetStreamContext) error {
	_, err := js.StreamInfo(StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectPrefix + ">"},
	})
	return err
}

// Publish implements session.EventPublisher.
func (p *Publisher) Publish(ctx context.Context, event session.Event) error {
	if p == nil {
		return errors.New("nil publisher")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(Subject(event.Type), data, nats.Context(ctx))
	return err
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

func Subject(t session.EventType) string {
	return SubjectPrefix + string(t)
}
