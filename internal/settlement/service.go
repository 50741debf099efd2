package settlement

import (
	"context"
	"encoding/json"
	"time"

	"github.com/eventora/ticketing-core/internal/adapters/crdb"
	mongoadapter "github.com/eventora/ticketing-core/internal/adapters/mongo"
	"github.com/eventora/ticketing-core/internal/domain"
	"github.com/eventora/ticketing-core/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Service converts holds into sales exactly once. Both entry points — the
// admin confirmation and the payment webhook — funnel into TrySettle, whose
// single conditional update decides the winner of any race.
type Service struct {
	repo   *crdb.Repository
	audit  *mongoadapter.AuditLogger
	logger observability.Logger
}

func NewService(repo *crdb.Repository, audit *mongoadapter.AuditLogger, logger observability.Logger) *Service {
	return &Service{repo: repo, audit: audit, logger: logger}
}

// Result reports what a settlement attempt observed. Settled is true only
// for the call that owned the PENDING→PAID transition; a losing racer gets
// Settled=false with the booking's current state and no error.
type Result struct {
	Booking *domain.Booking
	Settled bool
}

type outcome int

const (
	outcomeSettled outcome = iota
	outcomeAlreadyPaid
	outcomeNotPending
	outcomeExpired
	outcomeAmountMismatch
)

// TrySettle attempts the PENDING→PAID transition for a booking. The update
// matches only a pending, unexpired booking whose snapshotted total equals
// the expected amount (when one is supplied); if it matches, the same
// transaction converts the booking's holds to sales. A zero-row match is
// classified from the booking's current state and never mutates anything —
// except a pending booking discovered past its hold window, which is
// transitioned to EXPIRED and released.
func (s *Service) TrySettle(ctx context.Context, bookingID uuid.UUID, expectedAmount *float64, paymentRef, source string) (*Result, error) {
	now := time.Now().UTC()
	var (
		result Result
		oc     outcome
	)

	err := s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		won, err := s.repo.SettleBooking(ctx, tx, bookingID, paymentRef, expectedAmount, now)
		if err != nil {
			return err
		}

		b, err := s.repo.GetBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		result.Booking = b

		if won {
			oc = outcomeSettled
			result.Settled = true
			if err := s.confirmHolds(ctx, tx, b); err != nil {
				return err
			}
			return s.insertBookingOutbox(ctx, tx, *b, "booking.paid")
		}

		switch {
		case b.Status == domain.StatusPaid:
			oc = outcomeAlreadyPaid
		case b.Status.Terminal():
			oc = outcomeNotPending
		case b.Expired(now):
			oc = outcomeExpired
			ok, err := s.repo.ExpireBooking(ctx, tx, b.ID, now)
			if err != nil {
				return err
			}
			if ok {
				if err := s.releaseHolds(ctx, tx, b); err != nil {
					return err
				}
				b.Status = domain.StatusExpired
				if err := s.insertBookingOutbox(ctx, tx, *b, "booking.expired"); err != nil {
					return err
				}
			}
		default:
			// Pending and unexpired, so the amount filter was what failed.
			oc = outcomeAmountMismatch
		}
		return nil
	})
	if err != nil {
		observability.SettlementsTotal.WithLabelValues(source, "error").Inc()
		return nil, err
	}

	switch oc {
	case outcomeSettled:
		observability.SettlementsTotal.WithLabelValues(source, "settled").Inc()
		if err := s.audit.LogSettlement(ctx, *result.Booking, source); err != nil {
			s.logger.Warn("audit log failed: ", err)
		}
		return &result, nil
	case outcomeAlreadyPaid:
		observability.SettlementsTotal.WithLabelValues(source, "already_paid").Inc()
		return &result, nil
	case outcomeExpired:
		observability.SettlementsTotal.WithLabelValues(source, "expired").Inc()
		return &result, domain.ErrExpired
	case outcomeAmountMismatch:
		observability.SettlementsTotal.WithLabelValues(source, "amount_mismatch").Inc()
		return &result, domain.ErrAmountMismatch
	default:
		observability.SettlementsTotal.WithLabelValues(source, "not_pending").Inc()
		return &result, domain.ErrNotPending
	}
}

// confirmHolds moves the booking's held inventory to sold, grouped by
// category to batch the counter updates.
func (s *Service) confirmHolds(ctx context.Context, tx pgx.Tx, b *domain.Booking) error {
	switch b.Mode {
	case domain.ModeSeat:
		if _, err := s.repo.ConfirmSeats(ctx, tx, b.ID); err != nil {
			return err
		}
		counts := make(map[uuid.UUID]int)
		for _, item := range b.Items {
			counts[item.CategoryID]++
		}
		for categoryID, count := range counts {
			if err := s.repo.ConfirmCategory(ctx, tx, categoryID, count); err != nil {
				return err
			}
		}
	case domain.ModeCategory:
		if b.CategoryID != uuid.Nil {
			return s.repo.ConfirmCategory(ctx, tx, b.CategoryID, b.Quantity)
		}
		return s.repo.ConfirmEvent(ctx, tx, b.EventID, b.Quantity)
	}
	return nil
}

func (s *Service) releaseHolds(ctx context.Context, tx pgx.Tx, b *domain.Booking) error {
	switch b.Mode {
	case domain.ModeSeat:
		released, err := s.repo.ReleaseSeatsForBooking(ctx, tx, b.ID)
		if err != nil {
			return err
		}
		counts := make(map[uuid.UUID]int)
		for _, rel := range released {
			counts[rel.CategoryID]++
		}
		for categoryID, count := range counts {
			if err := s.repo.ReleaseCategory(ctx, tx, categoryID, count); err != nil {
				return err
			}
		}
	case domain.ModeCategory:
		if b.CategoryID != uuid.Nil {
			return s.repo.ReleaseCategory(ctx, tx, b.CategoryID, b.Quantity)
		}
		return s.repo.ReleaseEvent(ctx, tx, b.EventID, b.Quantity)
	}
	return nil
}

func (s *Service) insertBookingOutbox(ctx context.Context, tx pgx.Tx, b domain.Booking, eventType string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"booking_id":   b.ID,
		"user_id":      b.UserID,
		"event_id":     b.EventID,
		"status":       b.Status,
		"total_amount": b.TotalAmount,
		"payment_ref":  b.PaymentRef,
	})
	if err != nil {
		return err
	}
	return s.repo.InsertOutbox(ctx, tx, crdb.OutboxRecord{
		ID:            uuid.New(),
		AggregateType: "booking",
		AggregateID:   b.ID,
		EventType:     eventType,
		Payload:       payload,
		DedupeKey:     b.ID.String() + ":" + eventType,
	})
}
