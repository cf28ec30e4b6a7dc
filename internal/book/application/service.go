package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dmehra2102/Library-Reservation-System/internal/book/domain"
	"github.com/dmehra2102/Library-Reservation-System/pkg/outbox"
	"github.com/dmehra2102/Library-Reservation-System/pkg/tracing"
)

type Service struct {
	log  *slog.Logger
	repo BookRepository
}

func NewService(log *slog.Logger, repo BookRepository) *Service {
	return &Service{log: log, repo: repo}
}

func (s *Service) Create(ctx context.Context, title, author string) (domain.Book, error) {
	b, err := domain.NewBook(title, author)
	if err != nil {
		return domain.Book{}, err
	}
	if err := s.repo.Create(ctx, b); err != nil {
		return domain.Book{}, fmt.Errorf("create book: %w", err)
	}
	s.log.Info("book created", "book_id", b.ID, "title", b.Title)
	return b, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Book, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]domain.Book, error) {
	return s.repo.List(ctx)
}

// Update applies a partial patch. There is no version check: the last
// writer wins against concurrent edits and reservation status changes.
func (s *Service) Update(ctx context.Context, id string, patch domain.Patch) (domain.Book, error) {
	if err := patch.Validate(); err != nil {
		return domain.Book{}, err
	}
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Book{}, err
	}

	prev := b.Apply(patch)

	var events []outbox.Event
	if prev != b.Status {
		ev, err := s.event(ctx, b.ID, domain.EventBookStatusChanged, domain.BookStatusChanged{
			BookID:   b.ID,
			Status:   b.Status,
			Previous: prev,
		})
		if err != nil {
			return domain.Book{}, err
		}
		events = append(events, ev)
	}

	if err := s.repo.Save(ctx, b, events...); err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	if prev != b.Status {
		s.log.Info("book status changed", "book_id", b.ID, "from", prev, "to", b.Status)
	}
	return b, nil
}

// UpdateStatus is the operation the reservation service calls remotely.
func (s *Service) UpdateStatus(ctx context.Context, id string, status domain.Status) (domain.Book, error) {
	return s.Update(ctx, id, domain.Patch{Status: &status})
}

func (s *Service) Delete(ctx context.Context, id string) error {
	ev, err := s.event(ctx, id, domain.EventBookDeleted, domain.BookDeleted{BookID: id})
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id, ev); err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	s.log.Info("book deleted", "book_id", id)
	return nil
}

func (s *Service) event(ctx context.Context, bookID, eventType string, body any) (outbox.Event, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return outbox.Event{}, err
	}
	return outbox.Event{
		AggregateType: domain.AggregateType,
		AggregateID:   bookID,
		Type:          eventType,
		Payload:       payload,
		Headers:       map[string]string{"source": "book-service"},
		Traceparent:   tracing.Traceparent(ctx),
	}, nil
}
