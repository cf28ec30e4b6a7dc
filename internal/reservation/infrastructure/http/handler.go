package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/Library-Reservation-System/internal/reservation/application"
	"github.com/dmehra2102/Library-Reservation-System/internal/reservation/domain"
	"github.com/dmehra2102/Library-Reservation-System/pkg/httpx"
	"github.com/dmehra2102/Library-Reservation-System/pkg/idempotency"
)

const (
	HeaderBookSync = "X-Book-Status-Sync"

	warnPending = `199 - "book status propagation pending"`
	warnFailed  = `199 - "book status propagation failed"`
)

type Handler struct {
	log      *slog.Logger
	workflow *application.Workflow
	idem     *idempotency.Store
	tracer   trace.Tracer
}

type Option func(*Handler)

// WithIdempotency replays POST /reservations responses for a repeated
// Idempotency-Key.
func WithIdempotency(store *idempotency.Store) Option {
	return func(h *Handler) { h.idem = store }
}

func NewHandler(log *slog.Logger, workflow *application.Workflow, opts ...Option) *Handler {
	h := &Handler{
		log:      log,
		workflow: workflow,
		tracer:   otel.Tracer("reservation-http"),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

type createReservationReq struct {
	UserID      string `json:"userId" validate:"required"`
	BookID      string `json:"bookId" validate:"required"`
	DataReserva string `json:"dataReserva" validate:"required,datetime=2006-01-02"`
}

type reservationResp struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	BookID      string `json:"bookId"`
	DataReserva string `json:"dataReserva"`
	Status      string `json:"status"`
}

func toResp(r domain.Reservation) reservationResp {
	return reservationResp{
		ID:          r.ID,
		UserID:      r.UserID,
		BookID:      r.BookID,
		DataReserva: r.DataReserva,
		Status:      string(r.Status),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		if h.idem != nil {
			r.Use(h.idem.Middleware(h.log))
		}
		r.Post("/reservations", h.createReservation)
	})
	r.Get("/reservations/user/{userId}", h.listByUser)
	r.Get("/reservations/{id}", h.getReservation)
	r.Delete("/reservations/{id}", h.cancelReservation)

	return r
}

func (h *Handler) createReservation(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateReservation")
	defer span.End()

	var req createReservationReq
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	span.SetAttributes(attribute.String("book.id", req.BookID), attribute.String("user.id", req.UserID))

	res, err := h.workflow.Create(ctx, application.CreateCommand{
		UserID:      req.UserID,
		BookID:      req.BookID,
		DataReserva: req.DataReserva,
	})
	if err != nil {
		h.writeErr(w, req.BookID, err)
		return
	}
	writeSync(w, res.BookSync)
	w.Header().Set("Location", "/reservations/"+res.Reservation.ID)
	httpx.WriteJSON(w, http.StatusCreated, toResp(res.Reservation))
}

func (h *Handler) listByUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	list, err := h.workflow.ListByUser(r.Context(), userID)
	if err != nil {
		h.writeErr(w, "", err)
		return
	}
	out := make([]reservationResp, 0, len(list))
	for _, res := range list {
		out = append(out, toResp(res))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) getReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.workflow.Get(r.Context(), id)
	if err != nil {
		h.writeErr(w, id, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResp(res))
}

func (h *Handler) cancelReservation(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CancelReservation")
	defer span.End()

	id := chi.URLParam(r, "id")
	res, err := h.workflow.Cancel(ctx, id)
	if err != nil {
		h.writeErr(w, id, err)
		return
	}
	writeSync(w, res.BookSync)
	w.WriteHeader(http.StatusNoContent)
}

// writeSync flags responses whose paired book status change has not landed.
func writeSync(w http.ResponseWriter, s domain.SyncState) {
	switch s {
	case domain.SyncPending:
		w.Header().Set("Warning", warnPending)
	case domain.SyncFailed:
		w.Header().Set("Warning", warnFailed)
	default:
		return
	}
	w.Header().Set(HeaderBookSync, string(s))
}

// writeErr maps workflow errors to status codes. id names the resource the
// message refers to: the book on create, the reservation otherwise.
func (h *Handler) writeErr(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, domain.ErrReservationNotFound):
		httpx.WriteError(w, http.StatusNotFound, fmt.Sprintf("Reservation with ID %q not found", id))
	case errors.Is(err, domain.ErrBookNotFound):
		httpx.WriteError(w, http.StatusNotFound, fmt.Sprintf("Book with ID %q not found", id))
	case errors.Is(err, domain.ErrBookUnavailable):
		httpx.WriteError(w, http.StatusConflict, "Book is not available for reservation")
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		h.log.Warn("book service unavailable", "book_id", id, "err", err)
		httpx.WriteError(w, http.StatusBadGateway, "Book service unavailable")
	case errors.Is(err, domain.ErrInvalidReservation):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("reservation request failed", "id", id, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
