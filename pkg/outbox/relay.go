package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type Store interface {
	LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error)
	MarkSent(ctx context.Context, ids []int64) error
	// MarkFailed returns the event to pending, held back by RetryBackoff,
	// unless permanent is set or its retry budget is spent. It reports the
	// status the event ended in.
	MarkFailed(ctx context.Context, id int64, errMsg string, permanent bool) (Status, error)
}

// DeadLetterHandler is implemented by dispatchers that must react when one of
// their events is given up on.
type DeadLetterHandler interface {
	DeadLetter(ctx context.Context, event Event, cause error)
}

type Relay struct {
	log       *slog.Logger
	store     Store
	dispatch  Dispatcher
	relayID   string
	batchSize int
	interval  time.Duration
	lease     time.Duration
}

type RelayOption func(*Relay)

func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithLease(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.lease = d
		}
	}
}

func NewRelay(log *slog.Logger, store Store, dispatch Dispatcher, relayID string, opts ...RelayOption) *Relay {
	r := &Relay{
		log:       log,
		store:     store,
		dispatch:  dispatch,
		relayID:   relayID,
		batchSize: 100,
		interval:  500 * time.Millisecond,
		lease:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("relay stopping", "relay_id", r.relayID)
			return nil
		case <-t.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.log.Error("relay batch error", "relay_id", r.relayID, "err", err)
			}
		}
	}
}

// RunOnce dispatches a single batch and reports how many events were sent.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.store.LockBatch(ctx, r.relayID, r.batchSize, r.lease)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(events))
	for _, e := range events {
		if err := r.dispatch.Dispatch(ctx, e); err != nil {
			permanent := errors.Is(err, ErrPermanent)
			r.log.Warn("relay dispatch failed", "event_id", e.ID, "type", e.Type, "permanent", permanent, "err", err)
			status, mErr := r.store.MarkFailed(ctx, e.ID, err.Error(), permanent)
			if mErr != nil {
				r.log.Error("relay mark failed error", "event_id", e.ID, "err", mErr)
				continue
			}
			if status == StatusFailed {
				r.deadLetter(ctx, e, err)
			}
			continue
		}
		ids = append(ids, e.ID)
	}
	if len(ids) > 0 {
		if err := r.store.MarkSent(ctx, ids); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func (r *Relay) deadLetter(ctx context.Context, e Event, cause error) {
	r.log.Error("outbox event abandoned",
		"event_id", e.ID,
		"type", e.Type,
		"aggregate_id", e.AggregateID,
		"attempts", e.RetryCount+1,
		"err", cause,
	)
	if h, ok := r.dispatch.(DeadLetterHandler); ok {
		h.DeadLetter(ctx, e, cause)
	}
}
