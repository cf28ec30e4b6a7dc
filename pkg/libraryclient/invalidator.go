package libraryclient

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/Library-Reservation-System/pkg/idempotency"
	"github.com/dmehra2102/Library-Reservation-System/pkg/tracing"
)

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
}

// Invalidator marks projection entries stale as book events arrive. Messages
// are de-duplicated by topic, partition and offset when idem is set.
type Invalidator struct {
	log    *slog.Logger
	reader MessageReader
	proj   *Projection
	idem   *idempotency.Store
	tracer trace.Tracer
}

func NewInvalidator(log *slog.Logger, reader MessageReader, proj *Projection, idem *idempotency.Store) *Invalidator {
	return &Invalidator{
		log:    log,
		reader: reader,
		proj:   proj,
		idem:   idem,
		tracer: otel.Tracer("projection-invalidator"),
	}
}

type bookEvent struct {
	BookID string `json:"bookId"`
}

func (i *Invalidator) Run(ctx context.Context) error {
	defer i.reader.Close()

	for {
		msg, err := i.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if i.idem != nil {
			key := i.idem.Key(msg.Topic, msg.Partition, msg.Offset)
			seen, err := i.idem.Seen(ctx, key)
			if err != nil {
				i.log.Error("idempotency check failed", "err", err)
			} else if seen {
				i.log.Debug("duplicate message skipped", "key", key)
				_ = i.reader.CommitMessages(ctx, msg)
				continue
			}
		}

		msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
		_, span := i.tracer.Start(msgCtx, "InvalidateBook")

		var ev bookEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil || ev.BookID == "" {
			i.log.Error("unreadable book event", "offset", msg.Offset, "err", err)
		} else {
			i.proj.Invalidate(ev.BookID)
			i.log.Debug("projection entry invalidated", "book_id", ev.BookID, "type", headerValue(msg.Headers, "event_type"))
		}
		span.End()
		_ = i.reader.CommitMessages(ctx, msg)
	}
}

func headerValue(h []kafka.Header, key string) string {
	for _, hh := range h {
		if hh.Key == key {
			return string(hh.Value)
		}
	}
	return ""
}
