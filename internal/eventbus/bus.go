// Package eventbus publishes daemon events to NATS so other services can
// follow fuzzing sessions without reading the journal.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/cifuzz/internal/eventstore"
	"git.home.luguber.info/inful/cifuzz/internal/logfields"
)

// Message is the JSON document published for every event.
type Message struct {
	SessionID string            `json:"session_id,omitempty"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type publisher interface {
	Publish(subject string, data []byte) error
}

// Bus publishes events under <subject>.<event type>.
type Bus struct {
	conn    *nats.Conn
	pub     publisher
	subject string
}

// Connect dials the NATS server at url.
func Connect(url, subject string) (*Bus, error) {
	conn, err := nats.Connect(url,
		nats.Name("cifuzz"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", logfields.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("NATS reconnected", logfields.URL(c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	slog.Info("NATS event bus connected", logfields.URL(url), slog.String("subject", subject))
	return &Bus{conn: conn, pub: conn, subject: subject}, nil
}

// Subject returns the subject an event of eventType is published on.
func (b *Bus) Subject(eventType string) string { return b.subject + "." + eventType }

// Publish sends ev. NATS buffers while disconnected, so this does not block
// on the network.
func (b *Bus) Publish(_ context.Context, ev eventstore.Event) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := b.pub.Publish(b.Subject(ev.Type()), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (b *Bus) Close() error {
	if b.conn == nil {
		return nil
	}
	if err := b.conn.FlushTimeout(2 * time.Second); err != nil {
		slog.Warn("NATS flush failed", logfields.Error(err))
	}
	b.conn.Close()
	return nil
}

// Encode renders ev as a Message.
func Encode(ev eventstore.Event) ([]byte, error) {
	payload := ev.Payload()
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	data, err := json.Marshal(Message{
		SessionID: ev.SessionID(),
		Type:      ev.Type(),
		Timestamp: ev.Timestamp(),
		Payload:   payload,
		Metadata:  ev.Metadata(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}
