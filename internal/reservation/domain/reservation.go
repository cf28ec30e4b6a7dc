package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	// StatusCompleted and StatusExpired are stored and served but no
	// workflow transition produces them yet.
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// DateLayout is the wire and storage format of DataReserva.
const DateLayout = "2006-01-02"

type Reservation struct {
	ID          string
	UserID      string
	BookID      string
	DataReserva string
	Status      Status
	CreatedAt   time.Time
}

func NewReservation(userID, bookID, date string) (Reservation, error) {
	if userID == "" || bookID == "" {
		return Reservation{}, fmt.Errorf("%w: userId and bookId are required", ErrInvalidReservation)
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return Reservation{}, fmt.Errorf("%w: dataReserva must be YYYY-MM-DD", ErrInvalidReservation)
	}
	return Reservation{
		ID:          uuid.NewString(),
		UserID:      userID,
		BookID:      bookID,
		DataReserva: date,
		Status:      StatusActive,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// BookStatus mirrors the book service's status vocabulary.
type BookStatus string

const (
	BookAvailable BookStatus = "available"
	BookReserved  BookStatus = "reserved"
	BookBorrowed  BookStatus = "borrowed"
	BookLost      BookStatus = "lost"
)

// BookSnapshot is what the gateway reads from the book service.
type BookSnapshot struct {
	ID     string
	Title  string
	Author string
	Status BookStatus
}

// SyncState reports whether the paired book status change reached the book service.
type SyncState string

const (
	SyncSynced  SyncState = "synced"
	SyncPending SyncState = "pending"
	SyncFailed  SyncState = "failed"
	SyncSkipped SyncState = "skipped"
)
