// Package dispatch delivers tracking events to subscribers over websockets,
// Kafka, NATS and HTTP webhooks. Delivery is best-effort everywhere.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/example/green-route/internal/observability"
)

// Sink publishes one event on a topic such as "route:<id>".
type Sink interface {
	Publish(ctx context.Context, topic, event string, payload any) error
}

// Envelope is the wire form used by the broker and webhook sinks.
type Envelope struct {
	Topic     string    `json:"topic"`
	Event     string    `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

func newEnvelope(topic, event string, payload any) Envelope {
	return Envelope{Topic: topic, Event: event, Data: payload, Timestamp: time.Now().UTC()}
}

// Fanout publishes to every sink and joins their errors; one failing sink
// does not stop the others.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, topic, event string, payload any) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, topic, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func record(sink, event string, err error) {
	if err != nil {
		observability.EventPublishErrorsTotal.WithLabelValues(sink).Inc()
		return
	}
	observability.EventsPublishedTotal.WithLabelValues(event, sink).Inc()
}
