package application

import (
	"context"

	"github.com/dmehra2102/Library-Reservation-System/internal/book/domain"
	"github.com/dmehra2102/Library-Reservation-System/pkg/outbox"
)

// BookRepository persists books. Save and Delete write the given outbox events
// in the same transaction as the record.
type BookRepository interface {
	Create(ctx context.Context, b domain.Book) error
	Get(ctx context.Context, id string) (domain.Book, error)
	List(ctx context.Context) ([]domain.Book, error)
	Save(ctx context.Context, b domain.Book, events ...outbox.Event) error
	Delete(ctx context.Context, id string, events ...outbox.Event) error
}
