package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusAvailable Status = "available"
	StatusReserved  Status = "reserved"
	StatusBorrowed  Status = "borrowed"
	StatusLost      Status = "lost"
)

var Statuses = []Status{StatusAvailable, StatusReserved, StatusBorrowed, StatusLost}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

var (
	ErrNotFound      = errors.New("book not found")
	ErrInvalidStatus = errors.New("invalid book status")
	ErrInvalidBook   = errors.New("title and author must not be empty")
)

type Book struct {
	ID        string
	Title     string
	Author    string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewBook(title, author string) (Book, error) {
	if title == "" || author == "" {
		return Book{}, ErrInvalidBook
	}
	now := time.Now().UTC()
	return Book{
		ID:        uuid.NewString(),
		Title:     title,
		Author:    author,
		Status:    StatusAvailable,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Patch is a partial update; nil fields are left untouched.
type Patch struct {
	Title  *string
	Author *string
	Status *Status
}

func (p Patch) Validate() error {
	if p.Title != nil && *p.Title == "" {
		return ErrInvalidBook
	}
	if p.Author != nil && *p.Author == "" {
		return ErrInvalidBook
	}
	if p.Status != nil && !p.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

// Apply mutates b and returns the status it had before.
func (b *Book) Apply(p Patch) (previous Status) {
	previous = b.Status
	if p.Title != nil {
		b.Title = *p.Title
	}
	if p.Author != nil {
		b.Author = *p.Author
	}
	if p.Status != nil {
		b.Status = *p.Status
	}
	b.UpdatedAt = time.Now().UTC()
	return previous
}
