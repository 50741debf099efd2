package crdb

import (
	"context"
	"time"

	"github.com/eventora/ticketing-core/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (r *Repository) CreateBooking(ctx context.Context, q Querier, b domain.Booking) error {
	var categoryID *uuid.UUID
	if b.CategoryID != uuid.Nil {
		categoryID = &b.CategoryID
	}
	_, err := q.Exec(ctx, `
		INSERT INTO bookings (id, user_id, event_id, mode, category_id, quantity, total_amount, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'PENDING', $8, $9)
	`, b.ID, b.UserID, b.EventID, b.Mode, categoryID, b.Quantity, b.TotalAmount, b.ExpiresAt, b.CreatedAt)
	if err != nil {
		return err
	}

	for _, item := range b.Items {
		_, err := q.Exec(ctx, `
			INSERT INTO booking_items (booking_id, seat_id, category_id, unit_price)
			VALUES ($1, $2, $3, $4)
		`, b.ID, item.SeatID, item.CategoryID, item.UnitPrice)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) GetBooking(ctx context.Context, q Querier, bookingID uuid.UUID) (*domain.Booking, error) {
	var b domain.Booking
	var categoryID *uuid.UUID
	var expiresAt, paidAt *time.Time
	var paymentRef *string
	err := q.QueryRow(ctx, `
		SELECT id, user_id, event_id, mode, category_id, quantity, total_amount, status, expires_at, payment_ref, paid_at, created_at
		FROM bookings WHERE id = $1
	`, bookingID).Scan(&b.ID, &b.UserID, &b.EventID, &b.Mode, &categoryID, &b.Quantity,
		&b.TotalAmount, &b.Status, &expiresAt, &paymentRef, &paidAt, &b.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if categoryID != nil {
		b.CategoryID = *categoryID
	}
	if expiresAt != nil {
		b.ExpiresAt = *expiresAt
	}
	if paidAt != nil {
		b.PaidAt = *paidAt
	}
	if paymentRef != nil {
		b.PaymentRef = *paymentRef
	}

	rows, err := q.Query(ctx, `
		SELECT seat_id, category_id, unit_price
		FROM booking_items WHERE booking_id = $1
	`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.BookingItem
		if err := rows.Scan(&item.SeatID, &item.CategoryID, &item.UnitPrice); err != nil {
			return nil, err
		}
		b.Items = append(b.Items, item)
	}
	return &b, rows.Err()
}

// SettleBooking is the settlement primitive: one conditional update whose
// filter encodes every precondition (pending, not expired, amount matches
// when supplied). Exactly one of any number of concurrent callers observes
// a row mutation; everyone else gets false.
func (r *Repository) SettleBooking(ctx context.Context, q Querier, bookingID uuid.UUID, paymentRef string, expectedAmount *float64, now time.Time) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE bookings SET status = 'PAID', paid_at = $2, payment_ref = $3
		WHERE id = $1 AND status = 'PENDING'
		  AND (expires_at IS NULL OR expires_at > $2)
		  AND ($4::FLOAT8 IS NULL OR round(total_amount) = round($4::FLOAT8))
	`, bookingID, now, paymentRef, expectedAmount)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireBooking transitions an overdue pending booking to EXPIRED. Returns
// false when the booking already left PENDING or is not yet overdue.
func (r *Repository) ExpireBooking(ctx context.Context, q Querier, bookingID uuid.UUID, now time.Time) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE bookings SET status = 'EXPIRED'
		WHERE id = $1 AND status = 'PENDING' AND expires_at <= $2
	`, bookingID, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CancelBooking transitions a pending booking to CANCELLED.
func (r *Repository) CancelBooking(ctx context.Context, q Querier, bookingID uuid.UUID) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE bookings SET status = 'CANCELLED'
		WHERE id = $1 AND status = 'PENDING'
	`, bookingID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FailBooking transitions a pending booking to FAILED.
func (r *Repository) FailBooking(ctx context.Context, q Querier, bookingID uuid.UUID) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE bookings SET status = 'FAILED'
		WHERE id = $1 AND status = 'PENDING'
	`, bookingID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// GetOverdueBookings lists pending bookings whose hold window has passed,
// for the active expiry sweep.
func (r *Repository) GetOverdueBookings(ctx context.Context, q Querier, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := q.Query(ctx, `
		SELECT id FROM bookings
		WHERE status = 'PENDING' AND expires_at <= $1
		ORDER BY expires_at ASC LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
