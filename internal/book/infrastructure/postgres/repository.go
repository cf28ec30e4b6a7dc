package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/Library-Reservation-System/internal/book/domain"
	"github.com/dmehra2102/Library-Reservation-System/pkg/outbox"
)

const schema = `
CREATE TABLE IF NOT EXISTS books (
	id         TEXT PRIMARY KEY,
	title      TEXT        NOT NULL,
	author     TEXT        NOT NULL,
	status     TEXT        NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);`

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return err
}

func (r *Repository) Create(ctx context.Context, b domain.Book) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO books (id, title, author, status, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		b.ID, b.Title, b.Author, b.Status, b.CreatedAt, b.UpdatedAt)
	return err
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Book, error) {
	var b domain.Book
	err := r.pool.QueryRow(ctx, `SELECT id, title, author, status, created_at, updated_at FROM books WHERE id=$1`, id).
		Scan(&b.ID, &b.Title, &b.Author, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Book{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Book{}, err
	}
	return b, nil
}

func (r *Repository) List(ctx context.Context) ([]domain.Book, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, title, author, status, created_at, updated_at FROM books ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	books := []domain.Book{}
	for rows.Next() {
		var b domain.Book
		if err := rows.Scan(&b.ID, &b.Title, &b.Author, &b.Status, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

func (r *Repository) Save(ctx context.Context, b domain.Book, events ...outbox.Event) error {
	return r.withOutbox(ctx, events, func(tx pgx.Tx) (int64, error) {
		ct, err := tx.Exec(ctx, `UPDATE books SET title=$2, author=$3, status=$4, updated_at=$5 WHERE id=$1`,
			b.ID, b.Title, b.Author, b.Status, b.UpdatedAt)
		return ct.RowsAffected(), err
	})
}

func (r *Repository) Delete(ctx context.Context, id string, events ...outbox.Event) error {
	return r.withOutbox(ctx, events, func(tx pgx.Tx) (int64, error) {
		ct, err := tx.Exec(ctx, `DELETE FROM books WHERE id=$1`, id)
		return ct.RowsAffected(), err
	})
}

// withOutbox runs write and the outbox inserts in one transaction. A write
// touching no rows yields ErrNotFound.
func (r *Repository) withOutbox(ctx context.Context, events []outbox.Event, write func(pgx.Tx) (int64, error)) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	n, err := write(tx)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	for _, ev := range events {
		if err := outbox.Insert(ctx, tx, ev); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
