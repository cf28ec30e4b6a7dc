package outbox

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the outbox in process. Used by the memory storage driver
// and by tests.
type MemoryStore struct {
	mu         sync.Mutex
	nextID     int64
	events     []Event
	maxRetries int
	now        func() time.Time
}

func NewMemoryStore(maxRetries int) *MemoryStore {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &MemoryStore{maxRetries: maxRetries, now: time.Now}
}

func (s *MemoryStore) Enqueue(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ev.ID = s.nextID
	ev.Status = StatusPending
	ev.CreatedAt = s.now().UTC()
	s.events = append(s.events, ev)
	return nil
}

func (s *MemoryStore) LockBatch(_ context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []Event
	for i := range s.events {
		if len(out) >= batchSize {
			break
		}
		ev := &s.events[i]
		expired := ev.Status == StatusInProgress && now.After(ev.LeaseUntil)
		due := ev.Status == StatusPending && !now.Before(ev.NextAttemptAt)
		if !due && !expired {
			continue
		}
		ev.Status = StatusInProgress
		ev.RelayID = relayID
		ev.LeaseUntil = now.Add(lease)
		out = append(out, *ev)
	}
	return out, nil
}

func (s *MemoryStore) MarkSent(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if ev := s.find(id); ev != nil {
			ev.Status = StatusSent
		}
	}
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id int64, errMsg string, permanent bool) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := s.find(id)
	if ev == nil {
		return "", nil
	}
	ev.RetryCount++
	ev.LastError = &errMsg
	if permanent || ev.RetryCount >= s.maxRetries {
		ev.Status = StatusFailed
	} else {
		ev.Status = StatusPending
		ev.NextAttemptAt = s.now().Add(RetryBackoff(ev.RetryCount))
	}
	return ev.Status, nil
}

// SetClock replaces the store's time source.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Events returns a snapshot of every event ever enqueued.
func (s *MemoryStore) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *MemoryStore) find(id int64) *Event {
	for i := range s.events {
		if s.events[i].ID == id {
			return &s.events[i]
		}
	}
	return nil
}
