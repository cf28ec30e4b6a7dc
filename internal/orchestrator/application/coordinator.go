package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmehra2102/Library-Reservation-System/internal/reservation/domain"
	"github.com/dmehra2102/Library-Reservation-System/pkg/outbox"
	"github.com/dmehra2102/Library-Reservation-System/pkg/tracing"
)

type BookStatusSetter interface {
	SetStatus(ctx context.Context, id string, status domain.BookStatus) error
}

type ReservationFinder interface {
	Get(ctx context.Context, id string) (domain.Reservation, error)
}

type TaskQueue interface {
	Enqueue(ctx context.Context, ev outbox.Event) error
}

// Coordinator replays queued book status changes against the book service.
// The relay calls it for every BookStatusRequested event, so a transient
// failure is retried with backoff until the relay's retry budget runs out.
type Coordinator struct {
	log          *slog.Logger
	books        BookStatusSetter
	reservations ReservationFinder
	queue        TaskQueue
}

func NewCoordinator(log *slog.Logger, books BookStatusSetter, reservations ReservationFinder, queue TaskQueue) *Coordinator {
	return &Coordinator{log: log, books: books, reservations: reservations, queue: queue}
}

func (c *Coordinator) Dispatch(ctx context.Context, ev outbox.Event) error {
	req, err := decodeTask(ev)
	if err != nil {
		return err
	}

	// A reservation cancelled before the retry landed must not re-reserve
	// the book.
	if req.Status == domain.BookReserved {
		gone, err := c.reservationGone(ctx, req.ReservationID)
		if err != nil {
			return err
		}
		if gone {
			c.log.Info("compensation obsolete, reservation gone", "reservation_id", req.ReservationID, "book_id", req.BookID)
			return nil
		}
	}

	if err := c.books.SetStatus(ctx, req.BookID, req.Status); err != nil {
		if errors.Is(err, domain.ErrBookNotFound) {
			return fmt.Errorf("%w: %w", outbox.ErrPermanent, err)
		}
		return err
	}
	c.log.Info("book status compensated",
		"book_id", req.BookID,
		"reservation_id", req.ReservationID,
		"status", req.Status,
		"attempt", ev.RetryCount+1,
	)

	if req.Status == domain.BookReserved {
		c.correctAfterCancel(ctx, req)
	}
	return nil
}

// correctAfterCancel closes the window between the existence check and
// SetStatus: a cancel that freed the book in between was just overwritten,
// so the book is freed again. Any cancel after this check frees the book
// itself, after our write.
func (c *Coordinator) correctAfterCancel(ctx context.Context, req domain.BookStatusRequested) {
	gone, err := c.reservationGone(ctx, req.ReservationID)
	if err != nil {
		c.log.Warn("post-compensation check failed", "reservation_id", req.ReservationID, "err", err)
		return
	}
	if !gone {
		return
	}
	c.log.Warn("reservation cancelled during compensation, freeing book", "reservation_id", req.ReservationID, "book_id", req.BookID)
	err = c.books.SetStatus(ctx, req.BookID, domain.BookAvailable)
	if err == nil {
		return
	}

	payload, _ := json.Marshal(domain.BookStatusRequested{
		ReservationID: req.ReservationID,
		BookID:        req.BookID,
		Status:        domain.BookAvailable,
		Cause:         err.Error(),
	})
	qerr := c.queue.Enqueue(ctx, outbox.Event{
		AggregateType: domain.AggregateBook,
		AggregateID:   req.BookID,
		Type:          domain.EventBookStatusRequested,
		Payload:       payload,
		Headers:       map[string]string{"source": "reservation-service"},
		Traceparent:   tracing.Traceparent(ctx),
	})
	if qerr != nil {
		c.log.Error("CRITICAL: book left reserved without reservation, manual intervention required",
			"err", qerr,
			"reservation_id", req.ReservationID,
			"book_id", req.BookID,
			"want_status", domain.BookAvailable,
		)
	}
}

// DeadLetter is called by the relay once a task will not be retried again.
func (c *Coordinator) DeadLetter(_ context.Context, ev outbox.Event, cause error) {
	req, err := decodeTask(ev)
	if err != nil {
		c.log.Error("CRITICAL: unreadable book status compensation abandoned, manual intervention required",
			"err", cause,
			"event_id", ev.ID,
			"aggregate_id", ev.AggregateID,
		)
		return
	}
	c.log.Error("CRITICAL: book status compensation abandoned, manual intervention required",
		"err", domain.ErrInconsistentState,
		"cause", cause,
		"reservation_id", req.ReservationID,
		"book_id", req.BookID,
		"want_status", req.Status,
		"attempts", ev.RetryCount+1,
	)
}

func (c *Coordinator) reservationGone(ctx context.Context, id string) (bool, error) {
	_, err := c.reservations.Get(ctx, id)
	if errors.Is(err, domain.ErrReservationNotFound) {
		return true, nil
	}
	return false, err
}

func decodeTask(ev outbox.Event) (domain.BookStatusRequested, error) {
	var req domain.BookStatusRequested
	if ev.Type != domain.EventBookStatusRequested {
		return req, fmt.Errorf("%w: coordinator cannot handle %s", outbox.ErrPermanent, ev.Type)
	}
	if err := json.Unmarshal(ev.Payload, &req); err != nil {
		return req, fmt.Errorf("%w: decode %s: %v", outbox.ErrPermanent, ev.Type, err)
	}
	return req, nil
}
