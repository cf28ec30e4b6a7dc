package application

import (
	"context"

	"github.com/dmehra2102/Library-Reservation-System/internal/reservation/domain"
	"github.com/dmehra2102/Library-Reservation-System/pkg/outbox"
)

// EventFor builds the outbox event for a record inside the store's write,
// once the record being deleted is known.
type EventFor func(domain.Reservation) (outbox.Event, error)

type ReservationRepository interface {
	CreateWithOutbox(ctx context.Context, r domain.Reservation, ev outbox.Event) error
	Get(ctx context.Context, id string) (domain.Reservation, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Reservation, error)
	// DeleteWithOutbox removes the record and returns it as it was.
	DeleteWithOutbox(ctx context.Context, id string, ev EventFor) (domain.Reservation, error)
}

type BookGateway interface {
	Get(ctx context.Context, id string) (domain.BookSnapshot, error)
	SetStatus(ctx context.Context, id string, status domain.BookStatus) error
}

// CompensationQueue durably records book status changes still owed to the
// book service.
type CompensationQueue interface {
	Enqueue(ctx context.Context, ev outbox.Event) error
}
