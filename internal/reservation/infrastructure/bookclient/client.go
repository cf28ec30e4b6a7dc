package bookclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/Library-Reservation-System/internal/reservation/domain"
	"github.com/dmehra2102/Library-Reservation-System/pkg/tracing"
)

const DefaultTimeout = 5 * time.Second

// BookClient reaches the book service over HTTP. Every call is bounded by a
// fixed client timeout and is never retried.
type BookClient struct {
	log    *slog.Logger
	base   string
	hc     *http.Client
	tracer trace.Tracer
}

func NewBookClient(log *slog.Logger, baseURL string, timeout time.Duration) *BookClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &BookClient{
		log:  log,
		base: normalizeBase(baseURL),
		hc: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		tracer: otel.Tracer("book-client"),
	}
}

type bookDTO struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
	Status string `json:"status"`
}

func (c *BookClient) Get(ctx context.Context, id string) (domain.BookSnapshot, error) {
	ctx, span := c.tracer.Start(ctx, "BookClient.Get", trace.WithAttributes(attribute.String("book_id", id)))
	defer span.End()

	var b bookDTO
	if err := c.do(ctx, http.MethodGet, "/books/"+url.PathEscape(id), nil, &b); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return domain.BookSnapshot{}, err
	}
	if b.ID == "" {
		return domain.BookSnapshot{}, domain.ErrBookNotFound
	}
	return domain.BookSnapshot{ID: b.ID, Title: b.Title, Author: b.Author, Status: domain.BookStatus(b.Status)}, nil
}

func (c *BookClient) SetStatus(ctx context.Context, id string, status domain.BookStatus) error {
	ctx, span := c.tracer.Start(ctx, "BookClient.SetStatus", trace.WithAttributes(
		attribute.String("book_id", id),
		attribute.String("status", string(status)),
	))
	defer span.End()

	body := map[string]string{"status": string(status)}
	if err := c.do(ctx, http.MethodPatch, "/books/"+url.PathEscape(id)+"/status", body, nil); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// do maps every transport and protocol failure to ErrUpstreamUnavailable,
// except 404 which is ErrBookNotFound.
func (c *BookClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	tracing.InjectHTTPHeaders(ctx, req.Header)

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		c.log.Warn("book service call failed", "method", method, "path", path, "err", err)
		return fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	c.log.Debug("book service call", "method", method, "path", path, "status", resp.StatusCode, "took", time.Since(start))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrBookNotFound
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: %s %s returned %s", domain.ErrUpstreamUnavailable, method, path, resp.Status)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %w", domain.ErrUpstreamUnavailable, method, path, err)
	}
	return nil
}

// normalizeBase accepts both the service root and the collection URL
// (".../books").
func normalizeBase(raw string) string {
	base := strings.TrimRight(raw, "/")
	return strings.TrimSuffix(base, "/books")
}
