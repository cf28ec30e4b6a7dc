package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/Library-Reservation-System/internal/reservation/application"
	"github.com/dmehra2102/Library-Reservation-System/internal/reservation/domain"
	"github.com/dmehra2102/Library-Reservation-System/pkg/outbox"
)

const schema = `
CREATE TABLE IF NOT EXISTS reservations (
	id           TEXT PRIMARY KEY,
	user_id      TEXT        NOT NULL,
	book_id      TEXT        NOT NULL,
	data_reserva TEXT        NOT NULL CHECK (data_reserva ~ '^[0-9]{4}-[0-9]{2}-[0-9]{2}$'),
	status       TEXT        NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reservations_user ON reservations(user_id);
CREATE INDEX IF NOT EXISTS idx_reservations_book ON reservations(book_id);`

const columns = `id, user_id, book_id, data_reserva, status, created_at`

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

func (r *Repository) CreateWithOutbox(ctx context.Context, res domain.Reservation, ev outbox.Event) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `INSERT INTO reservations (`+columns+`) VALUES ($1,$2,$3,$4,$5,$6)`,
		res.ID, res.UserID, res.BookID, res.DataReserva, res.Status, res.CreatedAt)
	if err != nil {
		return err
	}
	if err := outbox.Insert(ctx, tx, ev); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Reservation, error) {
	res, err := scan(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM reservations WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return res, err
}

func (r *Repository) ListByUser(ctx context.Context, userID string) ([]domain.Reservation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM reservations WHERE user_id=$1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Reservation{}
	for rows.Next() {
		res, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *Repository) DeleteWithOutbox(ctx context.Context, id string, eventFor application.EventFor) (domain.Reservation, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Reservation{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	res, err := scan(tx.QueryRow(ctx, `DELETE FROM reservations WHERE id=$1 RETURNING `+columns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	if err != nil {
		return domain.Reservation{}, err
	}

	ev, err := eventFor(res)
	if err != nil {
		return domain.Reservation{}, err
	}
	if err := outbox.Insert(ctx, tx, ev); err != nil {
		return domain.Reservation{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Reservation{}, err
	}
	return res, nil
}

func scan(row pgx.Row) (domain.Reservation, error) {
	var res domain.Reservation
	err := row.Scan(&res.ID, &res.UserID, &res.BookID, &res.DataReserva, &res.Status, &res.CreatedAt)
	return res, err
}
