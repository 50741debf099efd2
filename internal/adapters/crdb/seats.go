package crdb

import (
	"context"
	"time"

	"github.com/eventora/ticketing-core/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SeatRequest names one seat a caller wants to hold.
type SeatRequest struct {
	SeatID     string
	CategoryID uuid.UUID
}

// ReleasedSeat is one (seat, category) pair freed by an expiry reap, so the
// caller can decrement the matching category held counters.
type ReleasedSeat struct {
	SeatID     string
	CategoryID uuid.UUID
}

// TryHoldSeats inserts a HELD lock per seat. The unique index on
// (event_id, seat_id) rejects seats already locked; the insert itself is the
// availability check, there is no separate read. All requested seats are
// attempted so the caller gets the full rejected list. When any seat is
// rejected the surrounding transaction is rolled back, which undoes the
// accepted subset.
func (r *Repository) TryHoldSeats(ctx context.Context, q Querier, eventID uuid.UUID, seats []SeatRequest, bookingID uuid.UUID, expiresAt time.Time) (accepted, rejected []string, err error) {
	for _, seat := range seats {
		tag, execErr := q.Exec(ctx, `
			INSERT INTO seat_locks (event_id, seat_id, category_id, booking_id, status, expires_at)
			VALUES ($1, $2, $3, $4, 'HELD', $5)
			ON CONFLICT (event_id, seat_id) DO NOTHING
		`, eventID, seat.SeatID, seat.CategoryID, bookingID, expiresAt)
		if execErr != nil {
			return nil, nil, execErr
		}
		if tag.RowsAffected() == 0 {
			rejected = append(rejected, seat.SeatID)
		} else {
			accepted = append(accepted, seat.SeatID)
		}
	}
	return accepted, rejected, nil
}

// ConfirmSeats flips every HELD lock of a booking to SOLD and clears the
// expiry. Returns the number of locks converted.
func (r *Repository) ConfirmSeats(ctx context.Context, q Querier, bookingID uuid.UUID) (int, error) {
	tag, err := q.Exec(ctx, `
		UPDATE seat_locks SET status = 'SOLD', expires_at = NULL
		WHERE booking_id = $1 AND status = 'HELD'
	`, bookingID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ReleaseSeatsForBooking deletes a booking's HELD locks (cancellation or
// expiry of that booking) and reports which seats were freed.
func (r *Repository) ReleaseSeatsForBooking(ctx context.Context, q Querier, bookingID uuid.UUID) ([]ReleasedSeat, error) {
	rows, err := q.Query(ctx, `
		DELETE FROM seat_locks
		WHERE booking_id = $1 AND status = 'HELD'
		RETURNING seat_id, category_id
	`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReleased(rows)
}

// ReleaseExpiredSeats deletes every HELD lock of an event whose expiry has
// passed, returning the freed pairs.
func (r *Repository) ReleaseExpiredSeats(ctx context.Context, q Querier, eventID uuid.UUID, now time.Time) ([]ReleasedSeat, error) {
	rows, err := q.Query(ctx, `
		DELETE FROM seat_locks
		WHERE event_id = $1 AND status = 'HELD' AND expires_at <= $2
		RETURNING seat_id, category_id
	`, eventID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReleased(rows)
}

func scanReleased(rows pgx.Rows) ([]ReleasedSeat, error) {
	var released []ReleasedSeat
	for rows.Next() {
		var rel ReleasedSeat
		if err := rows.Scan(&rel.SeatID, &rel.CategoryID); err != nil {
			return nil, err
		}
		released = append(released, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return released, nil
}

// SeatStatus lists the sold and held seat ids of an event. Callers reap
// expired locks first so held reflects only live holds.
func (r *Repository) SeatStatus(ctx context.Context, q Querier, eventID uuid.UUID) (sold, held []string, err error) {
	rows, err := q.Query(ctx, `
		SELECT seat_id, status FROM seat_locks WHERE event_id = $1
	`, eventID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seatID string
		var status domain.SeatStatus
		if err := rows.Scan(&seatID, &status); err != nil {
			return nil, nil, err
		}
		switch status {
		case domain.SeatSold:
			sold = append(sold, seatID)
		case domain.SeatHeld:
			held = append(held, seatID)
		}
	}
	return sold, held, rows.Err()
}
