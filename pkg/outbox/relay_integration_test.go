//go:build integration

package outbox_test

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/Library-Reservation-System/pkg/logging"
	"github.com/dmehra2102/Library-Reservation-System/pkg/outbox"
	"github.com/dmehra2102/Library-Reservation-System/test/integration"
)

func TestRelay_PostgresToKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	log := logging.Discard()

	pool := integration.Postgres(t)
	brokers := integration.Kafka(t)

	store := outbox.NewPgStore(log, pool, 3)
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Enqueue(ctx, outbox.Event{
		AggregateType: "book",
		AggregateID:   "b1",
		Type:          "BookStatusChanged",
		Payload:       []byte(`{"bookId":"b1","status":"reserved","previous":"available"}`),
		Headers:       map[string]string{"source": "book-service"},
	}))

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
	}
	defer writer.Close()

	relay := outbox.NewRelay(log, store, outbox.NewKafkaDispatcher(log, writer, "book.events"), "it-relay")
	require.Eventually(t, func() bool {
		n, err := relay.RunOnce(ctx)
		return err == nil && n == 1
	}, 30*time.Second, time.Second)

	reader := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: "book.events", Partition: 0})
	defer reader.Close()
	msg, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b1", string(msg.Key))

	var eventType string
	for _, h := range msg.Headers {
		if h.Key == outbox.EventTypeHeader {
			eventType = string(h.Value)
		}
	}
	assert.Equal(t, "BookStatusChanged", eventType)

	n, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
