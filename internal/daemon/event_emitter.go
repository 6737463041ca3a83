package daemon

import (
	"context"
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/cifuzz/internal/eventstore"
	"git.home.luguber.info/inful/cifuzz/internal/logfields"
)

// Sink receives daemon events. The SQLite journal and the NATS bus both
// implement it.
type Sink interface {
	Publish(ctx context.Context, ev eventstore.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev eventstore.Event) error

func (f SinkFunc) Publish(ctx context.Context, ev eventstore.Event) error { return f(ctx, ev) }

// EventEmitter fans events out to the configured sinks and keeps the
// session history projection current.
type EventEmitter struct {
	mu         sync.Mutex
	sinks      []Sink
	projection *eventstore.SessionHistoryProjection
}

// NewEventEmitter creates an emitter without sinks.
func NewEventEmitter(sinks ...Sink) *EventEmitter {
	return &EventEmitter{sinks: sinks}
}

// AddSink registers s.
func (e *EventEmitter) AddSink(s Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, s)
}

// Emit delivers ev to every sink. Sink failures are logged, not returned.
func (e *EventEmitter) Emit(ctx context.Context, ev eventstore.Event) {
	e.mu.Lock()
	sinks := append([]Sink(nil), e.sinks...)
	e.mu.Unlock()

	for _, s := range sinks {
		if err := s.Publish(ctx, ev); err != nil {
			slog.Warn("Failed to publish event",
				slog.String("type", ev.Type()),
				logfields.Session(ev.SessionID()),
				logfields.Error(err))
		}
	}
	if e.projection != nil {
		e.projection.Apply(ev)
	}
}
