package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/eventora/ticketing-core/internal/domain"
	"github.com/eventora/ticketing-core/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	SerializationFailureCode = "40001"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, so repository
// methods can run standalone or composed into a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Pool() Querier {
	return r.pool
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() {
		observability.DBTxDuration.Observe(time.Since(start).Seconds())
	}()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	err = fn(tx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
			return domain.ErrSerializationFailure
		}
		return err
	}

	return tx.Commit(ctx)
}

// --- capacity ledger ---

// TryHoldCategory claims quantity units of a category. The availability
// check and the held increment are one statement; zero rows affected means
// the remaining capacity was insufficient (or the category is unknown).
func (r *Repository) TryHoldCategory(ctx context.Context, q Querier, categoryID uuid.UUID, quantity int) error {
	tag, err := q.Exec(ctx, `
		UPDATE ticket_categories SET held = held + $2
		WHERE id = $1 AND total - sold - held >= $2
	`, categoryID, quantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCapacityExceeded
	}
	return nil
}

// ConfirmCategory moves quantity from held to sold. The caller must own the
// hold; a zero-row result indicates the counters are out of step.
func (r *Repository) ConfirmCategory(ctx context.Context, q Querier, categoryID uuid.UUID, quantity int) error {
	tag, err := q.Exec(ctx, `
		UPDATE ticket_categories SET held = held - $2, sold = sold + $2
		WHERE id = $1 AND held >= $2
	`, categoryID, quantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.Newf("confirm category %s: held counter below %d", categoryID, quantity)
	}
	return nil
}

// ReleaseCategory returns quantity held units to the available pool.
func (r *Repository) ReleaseCategory(ctx context.Context, q Querier, categoryID uuid.UUID, quantity int) error {
	tag, err := q.Exec(ctx, `
		UPDATE ticket_categories SET held = held - $2
		WHERE id = $1 AND held >= $2
	`, categoryID, quantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.Newf("release category %s: held counter below %d", categoryID, quantity)
	}
	return nil
}

func (r *Repository) GetCategory(ctx context.Context, q Querier, categoryID uuid.UUID) (*domain.TicketCategory, error) {
	var c domain.TicketCategory
	err := q.QueryRow(ctx, `
		SELECT id, event_id, name, unit_price, total, sold, held
		FROM ticket_categories WHERE id = $1
	`, categoryID).Scan(&c.ID, &c.EventID, &c.Name, &c.UnitPrice, &c.Total, &c.Sold, &c.Held)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) CreateCategory(ctx context.Context, q Querier, c domain.TicketCategory) error {
	_, err := q.Exec(ctx, `
		INSERT INTO ticket_categories (id, event_id, name, unit_price, total, sold, held)
		VALUES ($1, $2, $3, $4, $5, 0, 0)
	`, c.ID, c.EventID, c.Name, c.UnitPrice, c.Total)
	return err
}

// Event-aggregate counters, the fallback for events without categories.

func (r *Repository) TryHoldEvent(ctx context.Context, q Querier, eventID uuid.UUID, quantity int) error {
	tag, err := q.Exec(ctx, `
		UPDATE event_capacity SET held = held + $2
		WHERE event_id = $1 AND total - sold - held >= $2
	`, eventID, quantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCapacityExceeded
	}
	return nil
}

func (r *Repository) ConfirmEvent(ctx context.Context, q Querier, eventID uuid.UUID, quantity int) error {
	tag, err := q.Exec(ctx, `
		UPDATE event_capacity SET held = held - $2, sold = sold + $2
		WHERE event_id = $1 AND held >= $2
	`, eventID, quantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.Newf("confirm event %s: held counter below %d", eventID, quantity)
	}
	return nil
}

func (r *Repository) ReleaseEvent(ctx context.Context, q Querier, eventID uuid.UUID, quantity int) error {
	tag, err := q.Exec(ctx, `
		UPDATE event_capacity SET held = held - $2
		WHERE event_id = $1 AND held >= $2
	`, eventID, quantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.Newf("release event %s: held counter below %d", eventID, quantity)
	}
	return nil
}

func (r *Repository) CreateEventCapacity(ctx context.Context, q Querier, eventID uuid.UUID, total int) error {
	_, err := q.Exec(ctx, `
		INSERT INTO event_capacity (event_id, total, sold, held)
		VALUES ($1, $2, 0, 0)
	`, eventID, total)
	return err
}
