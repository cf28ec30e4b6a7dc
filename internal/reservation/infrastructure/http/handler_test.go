package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bookapp "github.com/dmehra2102/Library-Reservation-System/internal/book/application"
	bookmemory "github.com/dmehra2102/Library-Reservation-System/internal/book/infrastructure/memory"
	bookhttp "github.com/dmehra2102/Library-Reservation-System/internal/book/infrastructure/http"
	"github.com/dmehra2102/Library-Reservation-System/internal/reservation/application"
	"github.com/dmehra2102/Library-Reservation-System/internal/reservation/infrastructure/bookclient"
	"github.com/dmehra2102/Library-Reservation-System/internal/reservation/infrastructure/memory"
	"github.com/dmehra2102/Library-Reservation-System/pkg/idempotency"
	"github.com/dmehra2102/Library-Reservation-System/pkg/logging"
	"github.com/dmehra2102/Library-Reservation-System/pkg/outbox"
)

type env struct {
	books        *httptest.Server
	reservations http.Handler
	queue        *outbox.MemoryStore
	failPatch    atomic.Bool
	down         atomic.Bool
}

// newEnv wires the reservation handler to a real in-process book service.
func newEnv(t *testing.T, opts ...Option) *env {
	t.Helper()
	e := &env{}

	bookSvc := bookapp.NewService(logging.Discard(), bookmemory.NewRepository(nil))
	bookRoutes := bookhttp.NewHandler(logging.Discard(), bookSvc).Routes()
	e.books = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if e.down.Load() || (e.failPatch.Load() && r.Method == http.MethodPatch) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		bookRoutes.ServeHTTP(w, r)
	}))
	t.Cleanup(e.books.Close)

	e.queue = outbox.NewMemoryStore(0)
	gw := bookclient.NewBookClient(logging.Discard(), e.books.URL, time.Second)
	wf := application.NewWorkflow(logging.Discard(), memory.NewRepository(e.queue), gw, e.queue)
	e.reservations = NewHandler(logging.Discard(), wf, opts...).Routes()
	return e
}

func (e *env) createBook(t *testing.T, title, author string) string {
	t.Helper()
	resp, err := http.Post(e.books.URL+"/books", "application/json",
		strings.NewReader(`{"title":"`+title+`","author":"`+author+`"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var b struct{ ID string }
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&b))
	return b.ID
}

func (e *env) bookStatus(t *testing.T, id string) string {
	t.Helper()
	resp, err := http.Get(e.books.URL + "/books/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var b struct{ Status string }
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&b))
	return b.Status
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func reserveBody(bookID string) string {
	return `{"userId":"u1","bookId":"` + bookID + `","dataReserva":"2024-05-01"}`
}

func TestHandler_ReserveAndCancelScenario(t *testing.T) {
	e := newEnv(t)
	b1 := e.createBook(t, "Dune", "Herbert")
	require.Equal(t, "available", e.bookStatus(t, b1))

	w := do(t, e.reservations, http.MethodPost, "/reservations", reserveBody(b1))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Empty(t, w.Header().Get(HeaderBookSync))

	var r reservationResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r))
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, reservationResp{ID: r.ID, UserID: "u1", BookID: b1, DataReserva: "2024-05-01", Status: "active"}, r)
	assert.Equal(t, "/reservations/"+r.ID, w.Header().Get("Location"))
	assert.Equal(t, "reserved", e.bookStatus(t, b1))

	w = do(t, e.reservations, http.MethodGet, "/reservations/"+r.ID, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, e.reservations, http.MethodDelete, "/reservations/"+r.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "available", e.bookStatus(t, b1))

	w = do(t, e.reservations, http.MethodGet, "/reservations/"+r.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_CreateReservation_Conflict(t *testing.T) {
	e := newEnv(t)
	b1 := e.createBook(t, "Dune", "Herbert")
	require.Equal(t, http.StatusCreated, do(t, e.reservations, http.MethodPost, "/reservations", reserveBody(b1)).Code)

	w := do(t, e.reservations, http.MethodPost, "/reservations", reserveBody(b1))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"message":"Book is not available for reservation"}`, w.Body.String())
}

func TestHandler_CreateReservation_Errors(t *testing.T) {
	e := newEnv(t)

	w := do(t, e.reservations, http.MethodPost, "/reservations", reserveBody("missing"))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "missing")

	for _, body := range []string{
		`{"userId":"u1","bookId":"b1"}`,
		`{"userId":"u1","bookId":"b1","dataReserva":"05/01/2024"}`,
		`{"bookId":"b1","dataReserva":"2024-05-01"}`,
		`nope`,
	} {
		assert.Equal(t, http.StatusBadRequest, do(t, e.reservations, http.MethodPost, "/reservations", body).Code, body)
	}

	e.down.Store(true)
	w = do(t, e.reservations, http.MethodPost, "/reservations", reserveBody("b1"))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHandler_CreateReservation_PendingSync(t *testing.T) {
	e := newEnv(t)
	b1 := e.createBook(t, "Dune", "Herbert")
	e.failPatch.Store(true)

	w := do(t, e.reservations, http.MethodPost, "/reservations", reserveBody(b1))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "pending", w.Header().Get(HeaderBookSync))
	assert.Equal(t, warnPending, w.Header().Get("Warning"))
	assert.Equal(t, "available", e.bookStatus(t, b1))
	assert.Len(t, e.queue.Events(), 2)
}

func TestHandler_CancelReservation_PendingSync(t *testing.T) {
	e := newEnv(t)
	b1 := e.createBook(t, "Dune", "Herbert")
	w := do(t, e.reservations, http.MethodPost, "/reservations", reserveBody(b1))
	require.Equal(t, http.StatusCreated, w.Code)
	var r reservationResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r))

	e.failPatch.Store(true)
	w = do(t, e.reservations, http.MethodDelete, "/reservations/"+r.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "pending", w.Header().Get(HeaderBookSync))
	assert.Equal(t, "reserved", e.bookStatus(t, b1))
}

func TestHandler_CancelReservation_NotFound(t *testing.T) {
	e := newEnv(t)
	w := do(t, e.reservations, http.MethodDelete, "/reservations/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"message":"Reservation with ID \"nope\" not found"}`, w.Body.String())
}

func TestHandler_ListByUser(t *testing.T) {
	e := newEnv(t)

	w := do(t, e.reservations, http.MethodGet, "/reservations/user/u1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	for _, title := range []string{"Dune", "Emma"} {
		id := e.createBook(t, title, "x")
		require.Equal(t, http.StatusCreated, do(t, e.reservations, http.MethodPost, "/reservations", reserveBody(id)).Code)
	}

	w = do(t, e.reservations, http.MethodGet, "/reservations/user/u1", "")
	var list []reservationResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 2)
}

// memRedis is a single-process stand-in for the idempotency backend.
type memRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memRedis) SetNX(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = toString(value)
	return redis.NewBoolResult(true, nil)
}

func (m *memRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = toString(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *memRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func toString(v interface{}) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v.(string)
}

func TestHandler_CreateReservation_IdempotencyKeyReplays(t *testing.T) {
	store := idempotency.NewStore(&memRedis{data: map[string]string{}}, time.Minute)
	e := newEnv(t, WithIdempotency(store))
	b1 := e.createBook(t, "Dune", "Herbert")

	first := do(t, e.reservations, http.MethodPost, "/reservations", reserveBody(b1), idempotency.HeaderKey, "k1")
	require.Equal(t, http.StatusCreated, first.Code)

	second := do(t, e.reservations, http.MethodPost, "/reservations", reserveBody(b1), idempotency.HeaderKey, "k1")
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(idempotency.HeaderReplayed))

	// Without a key the retry runs the workflow again and hits the reserved book.
	third := do(t, e.reservations, http.MethodPost, "/reservations", reserveBody(b1))
	assert.Equal(t, http.StatusConflict, third.Code)
}
