package memory

import (
	"context"
	"sync"

	"github.com/dmehra2102/Library-Reservation-System/internal/book/domain"
	"github.com/dmehra2102/Library-Reservation-System/pkg/outbox"
)

// Repository is an in-process book store; List keeps insertion order.
type Repository struct {
	mu     sync.RWMutex
	books  map[string]domain.Book
	order  []string
	outbox *outbox.MemoryStore
}

func NewRepository(ob *outbox.MemoryStore) *Repository {
	return &Repository{books: map[string]domain.Book{}, outbox: ob}
}

func (r *Repository) Create(_ context.Context, b domain.Book) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.books[b.ID] = b
	r.order = append(r.order, b.ID)
	return nil
}

func (r *Repository) Get(_ context.Context, id string) (domain.Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.books[id]
	if !ok {
		return domain.Book{}, domain.ErrNotFound
	}
	return b, nil
}

func (r *Repository) List(_ context.Context) ([]domain.Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Book, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.books[id])
	}
	return out, nil
}

func (r *Repository) Save(ctx context.Context, b domain.Book, events ...outbox.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.books[b.ID]; !ok {
		return domain.ErrNotFound
	}
	r.books[b.ID] = b
	return r.enqueue(ctx, events)
}

func (r *Repository) Delete(ctx context.Context, id string, events ...outbox.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.books[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.books, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return r.enqueue(ctx, events)
}

func (r *Repository) enqueue(ctx context.Context, events []outbox.Event) error {
	if r.outbox == nil {
		return nil
	}
	for _, ev := range events {
		if err := r.outbox.Enqueue(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
