package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	saga "github.com/dmehra2102/Library-Reservation-System/internal/orchestrator/domain"
	"github.com/dmehra2102/Library-Reservation-System/internal/reservation/domain"
	"github.com/dmehra2102/Library-Reservation-System/pkg/outbox"
	"github.com/dmehra2102/Library-Reservation-System/pkg/tracing"
)

type CreateCommand struct {
	UserID      string
	BookID      string
	DataReserva string
}

type Result struct {
	Reservation domain.Reservation
	BookSync    domain.SyncState
}

// Workflow runs the reservation saga against the book service. Check and act
// are not serialized: two concurrent creates for one available book can both
// succeed.
type Workflow struct {
	log    *slog.Logger
	repo   ReservationRepository
	books  BookGateway
	queue  CompensationQueue
	tracer trace.Tracer
}

func NewWorkflow(log *slog.Logger, repo ReservationRepository, books BookGateway, queue CompensationQueue) *Workflow {
	return &Workflow{
		log:    log,
		repo:   repo,
		books:  books,
		queue:  queue,
		tracer: otel.Tracer("reservation-workflow"),
	}
}

func (w *Workflow) Create(ctx context.Context, cmd CreateCommand) (Result, error) {
	ctx, span := w.tracer.Start(ctx, "Workflow.Create", trace.WithAttributes(
		attribute.String("book_id", cmd.BookID),
		attribute.String("user_id", cmd.UserID),
	))
	defer span.End()

	s := saga.New(saga.KindCreateReservation, cmd.BookID)
	defer w.logSaga(s)

	r, err := domain.NewReservation(cmd.UserID, cmd.BookID, cmd.DataReserva)
	if err != nil {
		_ = s.Fail(err)
		return Result{}, err
	}
	s.ReservationID = r.ID

	book, err := w.books.Get(ctx, cmd.BookID)
	if err != nil {
		err = upstream(err)
		_ = s.Fail(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("check book %s: %w", cmd.BookID, err)
	}
	if book.Status != domain.BookAvailable {
		err := fmt.Errorf("%w: book %q is %s", domain.ErrBookUnavailable, book.ID, book.Status)
		_ = s.Fail(err)
		return Result{}, err
	}
	_ = s.Advance(saga.StateChecked)

	ev, err := w.event(ctx, domain.AggregateReservation, r.ID, domain.EventReservationCreated, domain.ReservationCreated{
		ID:          r.ID,
		UserID:      r.UserID,
		BookID:      r.BookID,
		DataReserva: r.DataReserva,
		Status:      r.Status,
	})
	if err != nil {
		_ = s.Fail(err)
		return Result{}, err
	}
	if err := w.repo.CreateWithOutbox(ctx, r, ev); err != nil {
		_ = s.Fail(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("persist reservation: %w", err)
	}
	_ = s.Advance(saga.StatePersisted)

	// The reservation is committed; a cancelled request must not stop the
	// book from being marked.
	sync := w.propagate(context.WithoutCancel(ctx), s, r, domain.BookReserved)
	span.SetAttributes(attribute.String("book_sync", string(sync)))
	return Result{Reservation: r, BookSync: sync}, nil
}

// Cancel deletes the reservation and, if it was active, frees the book. A
// failure to free the book does not fail the cancellation.
func (w *Workflow) Cancel(ctx context.Context, id string) (Result, error) {
	ctx, span := w.tracer.Start(ctx, "Workflow.Cancel", trace.WithAttributes(attribute.String("reservation_id", id)))
	defer span.End()

	deleted, err := w.repo.DeleteWithOutbox(ctx, id, func(r domain.Reservation) (outbox.Event, error) {
		return w.event(ctx, domain.AggregateReservation, r.ID, domain.EventReservationCancelled, domain.ReservationCancelled{
			ID:             r.ID,
			UserID:         r.UserID,
			BookID:         r.BookID,
			PreviousStatus: r.Status,
		})
	})
	if err != nil {
		return Result{}, fmt.Errorf("delete reservation: %w", err)
	}

	s := saga.New(saga.KindCancelReservation, deleted.BookID)
	s.ReservationID = deleted.ID
	defer w.logSaga(s)
	_ = s.Advance(saga.StatePersisted)

	if deleted.Status != domain.StatusActive {
		return Result{Reservation: deleted, BookSync: domain.SyncSkipped}, nil
	}
	sync := w.propagate(context.WithoutCancel(ctx), s, deleted, domain.BookAvailable)
	return Result{Reservation: deleted, BookSync: sync}, nil
}

func (w *Workflow) Get(ctx context.Context, id string) (domain.Reservation, error) {
	return w.repo.Get(ctx, id)
}

func (w *Workflow) ListByUser(ctx context.Context, userID string) ([]domain.Reservation, error) {
	return w.repo.ListByUser(ctx, userID)
}

func (w *Workflow) propagate(ctx context.Context, s *saga.Saga, r domain.Reservation, status domain.BookStatus) domain.SyncState {
	err := w.books.SetStatus(ctx, r.BookID, status)
	if err == nil {
		_ = s.Advance(saga.StatePropagated)
		return domain.SyncSynced
	}

	w.log.Error("book status not propagated",
		"err", domain.ErrInconsistentState,
		"cause", err,
		"reservation_id", r.ID,
		"book_id", r.BookID,
		"want_status", status,
	)

	ev, qerr := w.event(ctx, domain.AggregateBook, r.BookID, domain.EventBookStatusRequested, domain.BookStatusRequested{
		ReservationID: r.ID,
		BookID:        r.BookID,
		Status:        status,
		Cause:         err.Error(),
	})
	if qerr == nil {
		qerr = w.queue.Enqueue(ctx, ev)
	}
	if qerr != nil {
		_ = s.Fail(fmt.Errorf("%w: %w", domain.ErrInconsistentState, qerr))
		w.log.Error("CRITICAL: book status compensation not queued, manual intervention required",
			"err", qerr,
			"reservation_id", r.ID,
			"book_id", r.BookID,
			"want_status", status,
		)
		return domain.SyncFailed
	}
	_ = s.Advance(saga.StateCompensationQueued)
	return domain.SyncPending
}

func (w *Workflow) logSaga(s *saga.Saga) {
	level := slog.LevelInfo
	if s.State == saga.StateFailed && s.Inconsistent() {
		level = slog.LevelError
	} else if s.Inconsistent() {
		level = slog.LevelWarn
	}
	w.log.Log(context.Background(), level, "saga finished", s.LogAttrs()...)
}

func (w *Workflow) event(ctx context.Context, aggregate, aggregateID, eventType string, body any) (outbox.Event, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return outbox.Event{}, err
	}
	return outbox.Event{
		AggregateType: aggregate,
		AggregateID:   aggregateID,
		Type:          eventType,
		Payload:       payload,
		Headers:       map[string]string{"source": "reservation-service"},
		Traceparent:   tracing.Traceparent(ctx),
	}, nil
}

// upstream folds gateway errors that are not already classified into
// ErrUpstreamUnavailable.
func upstream(err error) error {
	if errors.Is(err, domain.ErrBookNotFound) || errors.Is(err, domain.ErrUpstreamUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
}
