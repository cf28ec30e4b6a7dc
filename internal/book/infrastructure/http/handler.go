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

	"github.com/dmehra2102/Library-Reservation-System/internal/book/application"
	"github.com/dmehra2102/Library-Reservation-System/internal/book/domain"
	"github.com/dmehra2102/Library-Reservation-System/pkg/httpx"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("book-http"),
	}
}

type createBookReq struct {
	Title  string `json:"title" validate:"required"`
	Author string `json:"author" validate:"required"`
}

type updateBookReq struct {
	Title  *string `json:"title" validate:"omitempty,min=1"`
	Author *string `json:"author" validate:"omitempty,min=1"`
	Status *string `json:"status" validate:"omitempty,oneof=available reserved borrowed lost"`
}

type updateStatusReq struct {
	Status string `json:"status" validate:"required,oneof=available reserved borrowed lost"`
}

type bookResp struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
	Status string `json:"status"`
}

func toResp(b domain.Book) bookResp {
	return bookResp{ID: b.ID, Title: b.Title, Author: b.Author, Status: string(b.Status)}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/books", h.createBook)
	r.Get("/books", h.listBooks)
	r.Get("/books/{id}", h.getBook)
	r.Put("/books/{id}", h.updateBook)
	r.Patch("/books/{id}/status", h.updateStatus)
	r.Delete("/books/{id}", h.deleteBook)

	return r
}

func (h *Handler) createBook(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateBook")
	defer span.End()

	var req createBookReq
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	b, err := h.service.Create(ctx, req.Title, req.Author)
	if err != nil {
		h.writeErr(w, "", err)
		return
	}
	span.SetAttributes(attribute.String("book.id", b.ID))
	httpx.WriteJSON(w, http.StatusCreated, toResp(b))
}

func (h *Handler) listBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.List(r.Context())
	if err != nil {
		h.writeErr(w, "", err)
		return
	}
	out := make([]bookResp, 0, len(books))
	for _, b := range books {
		out = append(out, toResp(b))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) getBook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeErr(w, id, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResp(b))
}

func (h *Handler) updateBook(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateBook")
	defer span.End()

	id := chi.URLParam(r, "id")
	var req updateBookReq
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	patch := domain.Patch{Title: req.Title, Author: req.Author}
	if req.Status != nil {
		s := domain.Status(*req.Status)
		patch.Status = &s
	}

	b, err := h.service.Update(ctx, id, patch)
	if err != nil {
		h.writeErr(w, id, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResp(b))
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateBookStatus")
	defer span.End()

	id := chi.URLParam(r, "id")
	var req updateStatusReq
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	span.SetAttributes(attribute.String("book.id", id), attribute.String("book.status", req.Status))

	b, err := h.service.UpdateStatus(ctx, id, domain.Status(req.Status))
	if err != nil {
		h.writeErr(w, id, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResp(b))
}

func (h *Handler) deleteBook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.writeErr(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeErr(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, fmt.Sprintf("Book with ID %q not found", id))
	case errors.Is(err, domain.ErrInvalidBook), errors.Is(err, domain.ErrInvalidStatus):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("book request failed", "book_id", id, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
