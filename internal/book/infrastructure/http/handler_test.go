package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/Library-Reservation-System/internal/book/application"
	"github.com/dmehra2102/Library-Reservation-System/internal/book/infrastructure/memory"
	"github.com/dmehra2102/Library-Reservation-System/pkg/logging"
	"github.com/dmehra2102/Library-Reservation-System/pkg/outbox"
)

func setupRouter(t *testing.T) http.Handler {
	t.Helper()
	svc := application.NewService(logging.Discard(), memory.NewRepository(outbox.NewMemoryStore(0)))
	return NewHandler(logging.Discard(), svc).Routes()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func createBook(t *testing.T, h http.Handler) bookResp {
	t.Helper()
	w := do(t, h, http.MethodPost, "/books", `{"title":"Dune","author":"Herbert"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var b bookResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b))
	return b
}

func TestHandler_CreateBook(t *testing.T) {
	h := setupRouter(t)
	b := createBook(t, h)

	assert.NotEmpty(t, b.ID)
	assert.Equal(t, "Dune", b.Title)
	assert.Equal(t, "Herbert", b.Author)
	assert.Equal(t, "available", b.Status)
}

func TestHandler_CreateBook_BadRequest(t *testing.T) {
	h := setupRouter(t)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/books", `{"title":""}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/books", `not json`).Code)
}

func TestHandler_ListBooks(t *testing.T) {
	h := setupRouter(t)

	w := do(t, h, http.MethodGet, "/books", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	b := createBook(t, h)
	w = do(t, h, http.MethodGet, "/books", "")
	var books []bookResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &books))
	require.Len(t, books, 1)
	assert.Equal(t, b, books[0])
}

func TestHandler_GetBook(t *testing.T) {
	h := setupRouter(t)
	b := createBook(t, h)

	w := do(t, h, http.MethodGet, "/books/"+b.ID, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/books/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "missing")
}

func TestHandler_UpdateBook_Partial(t *testing.T) {
	h := setupRouter(t)
	b := createBook(t, h)

	w := do(t, h, http.MethodPut, "/books/"+b.ID, `{"status":"borrowed"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var got bookResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "borrowed", got.Status)
	assert.Equal(t, "Dune", got.Title)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPut, "/books/missing", `{"title":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/books/"+b.ID, `{"status":"gone"}`).Code)
}

func TestHandler_UpdateStatus(t *testing.T) {
	h := setupRouter(t)
	b := createBook(t, h)

	w := do(t, h, http.MethodPatch, "/books/"+b.ID+"/status", `{"status":"reserved"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"`+b.ID+`","title":"Dune","author":"Herbert","status":"reserved"}`, w.Body.String())

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPatch, "/books/missing/status", `{"status":"reserved"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPatch, "/books/"+b.ID+"/status", `{}`).Code)
}

func TestHandler_DeleteBook(t *testing.T) {
	h := setupRouter(t)
	b := createBook(t, h)

	w := do(t, h, http.MethodDelete, "/books/"+b.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/books/"+b.ID, "").Code)
}
