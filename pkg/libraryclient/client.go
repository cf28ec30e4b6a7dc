// Package libraryclient talks to the book and reservation services and keeps
// a local, optimistically updated mirror of book availability.
package libraryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmehra2102/Library-Reservation-System/pkg/tracing"
)

const (
	StatusAvailable = "available"
	StatusReserved  = "reserved"

	headerBookSync = "X-Book-Status-Sync"
)

type Book struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
	Status string `json:"status"`
}

type Reservation struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	BookID      string `json:"bookId"`
	DataReserva string `json:"dataReserva"`
	Status      string `json:"status"`
}

// APIError is a non-2xx answer from either service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("library api: %d %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from either service.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type Client struct {
	bookURL        string
	reservationURL string
	hc             *http.Client
}

func NewClient(bookURL, reservationURL string, timeout time.Duration) *Client {
	return &Client{
		bookURL:        strings.TrimRight(bookURL, "/"),
		reservationURL: strings.TrimRight(reservationURL, "/"),
		hc:             &http.Client{Timeout: timeout},
	}
}

func (c *Client) ListBooks(ctx context.Context) ([]Book, error) {
	var out []Book
	_, err := c.do(ctx, http.MethodGet, c.bookURL+"/books", nil, &out)
	return out, err
}

func (c *Client) GetBook(ctx context.Context, id string) (Book, error) {
	var out Book
	_, err := c.do(ctx, http.MethodGet, c.bookURL+"/books/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) CreateBook(ctx context.Context, title, author string) (Book, error) {
	var out Book
	_, err := c.do(ctx, http.MethodPost, c.bookURL+"/books", map[string]string{"title": title, "author": author}, &out)
	return out, err
}

// Reserve reports pending when the server accepted the reservation but could
// not yet mark the book reserved.
func (c *Client) Reserve(ctx context.Context, userID, bookID, date string) (Reservation, bool, error) {
	var out Reservation
	body := map[string]string{"userId": userID, "bookId": bookID, "dataReserva": date}
	h, err := c.do(ctx, http.MethodPost, c.reservationURL+"/reservations", body, &out)
	if err != nil {
		return Reservation{}, false, err
	}
	return out, h.Get(headerBookSync) != "", nil
}

func (c *Client) Cancel(ctx context.Context, id string) (bool, error) {
	h, err := c.do(ctx, http.MethodDelete, c.reservationURL+"/reservations/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return false, err
	}
	return h.Get(headerBookSync) != "", nil
}

func (c *Client) ListReservations(ctx context.Context, userID string) ([]Reservation, error) {
	var out []Reservation
	_, err := c.do(ctx, http.MethodGet, c.reservationURL+"/reservations/user/"+url.PathEscape(userID), nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, u string, in, out any) (http.Header, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	tracing.InjectHTTPHeaders(ctx, req.Header)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return resp.Header, &APIError{StatusCode: resp.StatusCode, Message: e.Message}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.Header, fmt.Errorf("decode %s %s: %w", method, u, err)
		}
	}
	return resp.Header, nil
}
