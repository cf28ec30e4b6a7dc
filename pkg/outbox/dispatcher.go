package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/dmehra2102/Library-Reservation-System/pkg/tracing"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) error
}

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaDispatcher publishes events to a single topic keyed by aggregate id.
type KafkaDispatcher struct {
	log      *slog.Logger
	producer Producer
	topic    string
}

func NewKafkaDispatcher(log *slog.Logger, producer Producer, topic string) *KafkaDispatcher {
	return &KafkaDispatcher{log: log, producer: producer, topic: topic}
}

func (d *KafkaDispatcher) Dispatch(ctx context.Context, event Event) error {
	headers := make([]kafka.Header, 0, len(event.Headers)+2)

	for k, v := range event.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	headers = append(headers, kafka.Header{Key: EventTypeHeader, Value: []byte(event.Type)})
	// Continue the trace of the request that wrote the event, not the relay's.
	headers = tracing.InjectKafkaHeaders(tracing.WithTraceparent(ctx, event.Traceparent), headers)

	msg := kafka.Message{
		Topic:   d.topic,
		Key:     []byte(event.AggregateID),
		Value:   event.Payload,
		Headers: headers,
	}
	if err := d.producer.WriteMessages(ctx, msg); err != nil {
		d.log.Error("outbox dispatch failed", "event_id", event.ID, "err", err)
		return err
	}
	d.log.Info("outbox dispatched", "event_id", event.ID, "type", event.Type)
	return nil
}

const EventTypeHeader = "event_type"

// LogDispatcher stands in for Kafka when no broker is configured.
type LogDispatcher struct {
	log *slog.Logger
}

func NewLogDispatcher(log *slog.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Dispatch(_ context.Context, event Event) error {
	d.log.Info("outbox event (no broker)", "event_id", event.ID, "type", event.Type, "aggregate_id", event.AggregateID)
	return nil
}

// Router sends each event type to its own dispatcher, falling back to def.
type Router struct {
	routes map[string]Dispatcher
	def    Dispatcher
}

func NewRouter(def Dispatcher) *Router {
	return &Router{routes: map[string]Dispatcher{}, def: def}
}

func (r *Router) Handle(eventType string, d Dispatcher) *Router {
	r.routes[eventType] = d
	return r
}

func (r *Router) Dispatch(ctx context.Context, event Event) error {
	if d, ok := r.routes[event.Type]; ok {
		return d.Dispatch(ctx, event)
	}
	if r.def == nil {
		return fmt.Errorf("%w: no dispatcher for %q", ErrPermanent, event.Type)
	}
	return r.def.Dispatch(ctx, event)
}

// DeadLetter forwards to the routed dispatcher when it handles dead letters.
func (r *Router) DeadLetter(ctx context.Context, event Event, cause error) {
	d, ok := r.routes[event.Type]
	if !ok {
		d = r.def
	}
	if h, ok := d.(DeadLetterHandler); ok {
		h.DeadLetter(ctx, event, cause)
	}
}

// ErrPermanent marks a dispatch failure that must not be retried.
var ErrPermanent = errors.New("permanent")
