package memory

import (
	"context"
	"sync"

	"github.com/dmehra2102/Library-Reservation-System/internal/reservation/application"
	"github.com/dmehra2102/Library-Reservation-System/internal/reservation/domain"
	"github.com/dmehra2102/Library-Reservation-System/pkg/outbox"
)

type Repository struct {
	mu           sync.RWMutex
	reservations map[string]domain.Reservation
	order        []string
	outbox       *outbox.MemoryStore
}

func NewRepository(ob *outbox.MemoryStore) *Repository {
	return &Repository{reservations: map[string]domain.Reservation{}, outbox: ob}
}

func (r *Repository) CreateWithOutbox(ctx context.Context, res domain.Reservation, ev outbox.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reservations[res.ID] = res
	r.order = append(r.order, res.ID)
	return r.enqueue(ctx, ev)
}

// Seed stores a reservation as is, without an event.
func (r *Repository) Seed(res domain.Reservation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reservations[res.ID] = res
	r.order = append(r.order, res.ID)
}

func (r *Repository) Get(_ context.Context, id string) (domain.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.reservations[id]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return res, nil
}

func (r *Repository) ListByUser(_ context.Context, userID string) ([]domain.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.Reservation{}
	for _, id := range r.order {
		if res := r.reservations[id]; res.UserID == userID {
			out = append(out, res)
		}
	}
	return out, nil
}

func (r *Repository) DeleteWithOutbox(ctx context.Context, id string, eventFor application.EventFor) (domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.reservations[id]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	ev, err := eventFor(res)
	if err != nil {
		return domain.Reservation{}, err
	}
	if err := r.enqueue(ctx, ev); err != nil {
		return domain.Reservation{}, err
	}
	delete(r.reservations, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return res, nil
}

// ActiveForBook counts active reservations of a book.
func (r *Repository) ActiveForBook(bookID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, res := range r.reservations {
		if res.BookID == bookID && res.Status == domain.StatusActive {
			n++
		}
	}
	return n
}

func (r *Repository) enqueue(ctx context.Context, ev outbox.Event) error {
	if r.outbox == nil {
		return nil
	}
	return r.outbox.Enqueue(ctx, ev)
}
