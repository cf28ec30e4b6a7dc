package libraryclient

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultMaxOptimisticAge bounds how long a local status write is trusted
// without confirmation from the book service.
const DefaultMaxOptimisticAge = 30 * time.Second

type BookSource interface {
	ListBooks(ctx context.Context) ([]Book, error)
	GetBook(ctx context.Context, id string) (Book, error)
}

type entry struct {
	book Book
	// stampedAt is set by optimistic writes and cleared by confirmed reads.
	stampedAt time.Time
	stale     bool
}

// Projection mirrors book availability locally. Writes after a reservation
// or cancellation are applied optimistically; an entry becomes stale when
// its optimistic write outlives MaxOptimisticAge, when the server reported
// a pending status sync, or when an invalidation arrives. Reconcile refetches
// stale entries.
type Projection struct {
	log    *slog.Logger
	source BookSource
	maxAge time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	entries  map[string]*entry
	order    []string
	selected string
}

func NewProjection(log *slog.Logger, source BookSource, maxAge time.Duration) *Projection {
	if maxAge <= 0 {
		maxAge = DefaultMaxOptimisticAge
	}
	return &Projection{
		log:     log,
		source:  source,
		maxAge:  maxAge,
		now:     time.Now,
		entries: map[string]*entry{},
	}
}

// Load replaces the mirror with the server's list.
func (p *Projection) Load(ctx context.Context) error {
	books, err := p.source.ListBooks(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[string]*entry, len(books))
	p.order = p.order[:0]
	for _, b := range books {
		p.entries[b.ID] = &entry{book: b}
		p.order = append(p.order, b.ID)
	}
	return nil
}

func (p *Projection) Books() []Book {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Book, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.entries[id].book)
	}
	return out
}

func (p *Projection) Book(id string) (Book, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[id]
	if !ok {
		return Book{}, false
	}
	return e.book, true
}

func (p *Projection) Select(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selected = id
}

// Selected returns the selected book as the mirror currently sees it.
func (p *Projection) Selected() (Book, bool) {
	p.mu.RLock()
	id := p.selected
	p.mu.RUnlock()
	if id == "" {
		return Book{}, false
	}
	return p.Book(id)
}

// SetStatus applies an optimistic status change. pending marks the entry
// stale at once.
func (p *Projection) SetStatus(id, status string, pending bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok {
		return
	}
	e.book.Status = status
	e.stampedAt = p.now()
	e.stale = e.stale || pending
}

// Invalidate marks an entry for refetch. Unknown ids are added so a book
// created elsewhere shows up on the next Reconcile.
func (p *Projection) Invalidate(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok {
		e = &entry{book: Book{ID: id}}
		p.entries[id] = e
		p.order = append(p.order, id)
	}
	e.stale = true
}

// Stale lists ids that need a refetch.
func (p *Projection) Stale() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	now := p.now()
	var ids []string
	for _, id := range p.order {
		e := p.entries[id]
		if e.stale || (!e.stampedAt.IsZero() && now.Sub(e.stampedAt) > p.maxAge) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Reconcile refetches stale entries and reports how many were refreshed.
// Books the server no longer has are dropped. Other fetch errors leave the
// entry stale for the next round.
func (p *Projection) Reconcile(ctx context.Context) (int, error) {
	var (
		refreshed int
		firstErr  error
	)
	for _, id := range p.Stale() {
		b, err := p.source.GetBook(ctx, id)
		switch {
		case IsNotFound(err):
			p.remove(id)
			refreshed++
		case err != nil:
			p.log.Warn("projection refresh failed", "book_id", id, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		default:
			p.confirm(b)
			refreshed++
		}
	}
	return refreshed, firstErr
}

// Run reconciles every interval until ctx is done.
func (p *Projection) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if n, err := p.Reconcile(ctx); err != nil {
				p.log.Warn("projection reconcile incomplete", "refreshed", n, "err", err)
			} else if n > 0 {
				p.log.Debug("projection reconciled", "refreshed", n)
			}
		}
	}
}

func (p *Projection) confirm(b Book) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[b.ID]
	if !ok {
		return
	}
	e.book = b
	e.stampedAt = time.Time{}
	e.stale = false
}

func (p *Projection) remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, id)
	for i, v := range p.order {
		if v == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	if p.selected == id {
		p.selected = ""
	}
}
