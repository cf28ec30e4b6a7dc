package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmehra2102/Library-Reservation-System/pkg/httpx"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"

	pendingMarker = "pending"
)

// Backend is the subset of redis.Cmdable the store relies on.
type Backend interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type Store struct {
	rdb Backend
	ttl time.Duration
}

func NewStore(rdb Backend, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) Key(topic string, partition int, offset int64) string {
	return fmt.Sprintf("idem:%s:%d:%d", topic, partition, offset)
}

// Seen atomically claims key and reports whether it had been claimed before.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, "1", s.ttl).Result()
	if err != nil {
		return false, err
	}

	return !ok, nil
}

type storedResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body"`
}

// replayedHeaders are copied into the stored response.
var replayedHeaders = []string{"Content-Type", "Location", "Warning", "X-Book-Status-Sync"}

// Middleware replays the first response for requests carrying the same
// Idempotency-Key. Requests without the header pass through. Redis errors fail
// open so the store never blocks writes.
func (s *Store) Middleware(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			redisKey := fmt.Sprintf("idem:http:%s:%s:%s", r.Method, r.URL.Path, key)

			claimed, err := s.rdb.SetNX(ctx, redisKey, pendingMarker, s.ttl).Result()
			if err != nil {
				log.Error("idempotency claim failed", "key", key, "err", err)
				next.ServeHTTP(w, r)
				return
			}
			if !claimed {
				s.replay(ctx, log, w, redisKey, key)
				return
			}

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// The client may be gone by now; the outcome still has to be
			// recorded or the key stays pending until the TTL.
			bg := context.WithoutCancel(ctx)
			if rec.status >= http.StatusInternalServerError {
				if err := s.rdb.Del(bg, redisKey).Err(); err != nil {
					log.Error("idempotency release failed", "key", key, "err", err)
				}
				return
			}
			stored := storedResponse{Status: rec.status, Headers: map[string]string{}, Body: rec.body.Bytes()}
			for _, h := range replayedHeaders {
				if v := rec.Header().Get(h); v != "" {
					stored.Headers[h] = v
				}
			}
			raw, _ := json.Marshal(stored)
			if err := s.rdb.Set(bg, redisKey, raw, s.ttl).Err(); err != nil {
				log.Error("idempotency store failed", "key", key, "err", err)
			}
		})
	}
}

func (s *Store) replay(ctx context.Context, log *slog.Logger, w http.ResponseWriter, redisKey, key string) {
	val, err := s.rdb.Get(ctx, redisKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		log.Error("idempotency lookup failed", "key", key, "err", err)
		httpx.WriteError(w, http.StatusServiceUnavailable, "idempotency store unavailable")
		return
	}
	if errors.Is(err, redis.Nil) || val == pendingMarker {
		httpx.WriteError(w, http.StatusConflict, "a request with this Idempotency-Key is still in progress")
		return
	}

	var stored storedResponse
	if err := json.Unmarshal([]byte(val), &stored); err != nil {
		log.Error("idempotency record corrupt", "key", key, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "idempotency record corrupt")
		return
	}
	for k, v := range stored.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set(HeaderReplayed, "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}

type recorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *recorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
