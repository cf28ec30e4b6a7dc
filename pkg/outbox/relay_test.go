package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/dmehra2102/Library-Reservation-System/pkg/logging"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	seen []Event
	fail map[string]error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, ev Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = append(d.seen, ev)
	if err, ok := d.fail[ev.Type]; ok {
		return err
	}
	return nil
}

func enqueue(t *testing.T, s *MemoryStore, typ string) {
	t.Helper()
	require.NoError(t, s.Enqueue(context.Background(), Event{AggregateType: "book", AggregateID: "b1", Type: typ, Payload: []byte(`{}`)}))
}

func TestRelay_RunOnce_MarksSent(t *testing.T) {
	store := NewMemoryStore(3)
	enqueue(t, store, "BookStatusChanged")
	enqueue(t, store, "BookDeleted")
	d := &recordingDispatcher{}

	relay := NewRelay(logging.Discard(), store, d, "test")
	n, err := relay.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for _, ev := range store.Events() {
		assert.Equal(t, StatusSent, ev.Status)
	}

	n, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

type deadLetterDispatcher struct {
	recordingDispatcher
	dead []Event
}

func (d *deadLetterDispatcher) DeadLetter(_ context.Context, ev Event, _ error) {
	d.dead = append(d.dead, ev)
}

func TestRelay_RunOnce_RetriesUntilBudgetSpent(t *testing.T) {
	store := NewMemoryStore(2)
	now := time.Now()
	store.SetClock(func() time.Time { return now })
	enqueue(t, store, "BookStatusRequested")
	d := &deadLetterDispatcher{recordingDispatcher: recordingDispatcher{fail: map[string]error{"BookStatusRequested": errors.New("book service down")}}}
	relay := NewRelay(logging.Discard(), store, d, "test")

	_, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	ev := store.Events()[0]
	assert.Equal(t, StatusPending, ev.Status)
	assert.Equal(t, 1, ev.RetryCount)
	require.NotNil(t, ev.LastError)
	assert.Equal(t, "book service down", *ev.LastError)
	assert.Equal(t, now.Add(BackoffBase), ev.NextAttemptAt)
	assert.Empty(t, d.dead)

	now = now.Add(BackoffBase)
	_, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, store.Events()[0].Status)
	assert.Len(t, d.seen, 2)
	require.Len(t, d.dead, 1)
	assert.Equal(t, "BookStatusRequested", d.dead[0].Type)
}

func TestRelay_RunOnce_BacksOffBetweenAttempts(t *testing.T) {
	store := NewMemoryStore(10)
	now := time.Now()
	store.SetClock(func() time.Time { return now })
	enqueue(t, store, "BookStatusRequested")
	d := &recordingDispatcher{fail: map[string]error{"BookStatusRequested": errors.New("connection refused")}}
	relay := NewRelay(logging.Discard(), store, d, "test")

	// Tick every 500ms for a minute; attempts land at 0, 1, 3, 7, 15, 31s.
	var attemptsAt []time.Duration
	start := now
	for tick := 0; tick < 120; tick++ {
		before := len(d.seen)
		_, err := relay.RunOnce(context.Background())
		require.NoError(t, err)
		if len(d.seen) > before {
			attemptsAt = append(attemptsAt, now.Sub(start))
		}
		now = now.Add(500 * time.Millisecond)
	}

	want := []time.Duration{0, time.Second, 3 * time.Second, 7 * time.Second, 15 * time.Second, 31 * time.Second}
	assert.Equal(t, want, attemptsAt)
	assert.Equal(t, StatusPending, store.Events()[0].Status)
}

func TestRetryBackoff(t *testing.T) {
	assert.Zero(t, RetryBackoff(0))
	assert.Equal(t, time.Second, RetryBackoff(1))
	assert.Equal(t, 8*time.Second, RetryBackoff(4))
	assert.Equal(t, 256*time.Second, RetryBackoff(9))
	assert.Equal(t, BackoffMax, RetryBackoff(10))
	assert.Equal(t, BackoffMax, RetryBackoff(64))
}

func TestRelay_RunOnce_PermanentFailureIsNotRetried(t *testing.T) {
	store := NewMemoryStore(5)
	enqueue(t, store, "Unknown")
	relay := NewRelay(logging.Discard(), store, NewRouter(nil), "test")

	_, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, store.Events()[0].Status)
}

func TestMemoryStore_LockBatch_ReclaimsExpiredLease(t *testing.T) {
	store := NewMemoryStore(3)
	now := time.Now()
	store.now = func() time.Time { return now }
	enqueue(t, store, "BookDeleted")

	first, err := store.LockBatch(context.Background(), "r1", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, first, 1)

	again, err := store.LockBatch(context.Background(), "r2", 10, time.Second)
	require.NoError(t, err)
	assert.Empty(t, again)

	now = now.Add(2 * time.Second)
	reclaimed, err := store.LockBatch(context.Background(), "r2", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, "r2", reclaimed[0].RelayID)
}

func TestRouter_Dispatch(t *testing.T) {
	def := &recordingDispatcher{}
	special := &recordingDispatcher{}
	r := NewRouter(def).Handle("BookStatusRequested", special)

	require.NoError(t, r.Dispatch(context.Background(), Event{Type: "BookStatusRequested"}))
	require.NoError(t, r.Dispatch(context.Background(), Event{Type: "ReservationCreated"}))

	assert.Len(t, special.seen, 1)
	assert.Len(t, def.seen, 1)
	assert.Equal(t, "ReservationCreated", def.seen[0].Type)
}

type fakeProducer struct {
	msgs []kafka.Message
	err  error
}

func (p *fakeProducer) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

const storedTraceparent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

func TestKafkaDispatcher_Dispatch(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	p := &fakeProducer{}
	d := NewKafkaDispatcher(logging.Discard(), p, "reservation.events")

	err := d.Dispatch(context.Background(), Event{
		ID:          7,
		AggregateID: "r1",
		Type:        "ReservationCreated",
		Payload:     []byte(`{"id":"r1"}`),
		Headers:     map[string]string{"source": "reservation-service"},
		Traceparent: storedTraceparent,
	})
	require.NoError(t, err)
	require.Len(t, p.msgs, 1)

	msg := p.msgs[0]
	assert.Equal(t, "reservation.events", msg.Topic)
	assert.Equal(t, []byte("r1"), msg.Key)
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "ReservationCreated", headers[EventTypeHeader])
	assert.Equal(t, storedTraceparent, headers["traceparent"])
	assert.Equal(t, "reservation-service", headers["source"])
}

func TestKafkaDispatcher_NoTraceparentWithoutStoredTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	p := &fakeProducer{}
	d := NewKafkaDispatcher(logging.Discard(), p, "book.events")

	require.NoError(t, d.Dispatch(context.Background(), Event{AggregateID: "b1", Type: "BookDeleted"}))
	for _, h := range p.msgs[0].Headers {
		assert.NotEqual(t, "traceparent", h.Key)
	}
}

func TestKafkaDispatcher_PropagatesError(t *testing.T) {
	d := NewKafkaDispatcher(logging.Discard(), &fakeProducer{err: fmt.Errorf("broker down")}, "t")
	assert.Error(t, d.Dispatch(context.Background(), Event{Type: "X"}))
}
