package booking

import (
	"context"
	"time"

	"github.com/eventora/ticketing-core/internal/adapters/crdb"
	"github.com/eventora/ticketing-core/internal/domain"
	"github.com/eventora/ticketing-core/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SeatStatusResult is the seat availability view of one event.
type SeatStatusResult struct {
	SoldSeatIDs []string `json:"soldSeatIds"`
	HeldSeatIDs []string `json:"heldSeatIds"`
}

// SeatStatus returns the sold and held seat ids of an event, reaping expired
// holds first so abandoned checkouts never show up as held.
func (s *Service) SeatStatus(ctx context.Context, eventID uuid.UUID) (*SeatStatusResult, error) {
	if err := s.ReapEventHolds(ctx, eventID); err != nil {
		return nil, err
	}
	sold, held, err := s.repo.SeatStatus(ctx, s.repo.Pool(), eventID)
	if err != nil {
		return nil, err
	}
	return &SeatStatusResult{SoldSeatIDs: sold, HeldSeatIDs: held}, nil
}

// ReapEventHolds releases every expired seat hold of an event and returns
// the freed capacity to the matching category counters, all in one
// transaction.
func (s *Service) ReapEventHolds(ctx context.Context, eventID uuid.UUID) error {
	now := time.Now().UTC()
	var released []crdb.ReleasedSeat
	err := s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		released, err = s.repo.ReleaseExpiredSeats(ctx, tx, eventID, now)
		if err != nil {
			return err
		}
		for categoryID, count := range countReleased(released) {
			if err := s.repo.ReleaseCategory(ctx, tx, categoryID, count); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(released) > 0 {
		observability.HoldsReaped.WithLabelValues("lazy").Add(float64(len(released)))
		for _, rel := range released {
			if err := s.cache.ReleaseSeatPreLock(ctx, eventID.String(), rel.SeatID); err != nil {
				s.logger.Warn("seat pre-lock release failed: ", err)
			}
		}
	}
	return nil
}

// GetBooking reads a booking, lazily transitioning it to EXPIRED and
// releasing its holds when the hold window has passed.
func (s *Service) GetBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	b, err := s.repo.GetBooking(ctx, s.repo.Pool(), bookingID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if !b.Expired(now) {
		return b, nil
	}
	if err := s.expireBooking(ctx, b, now, "lazy"); err != nil {
		return nil, err
	}
	b.Status = domain.StatusExpired
	return b, nil
}

// Cancel moves a pending booking to CANCELLED and releases its holds.
func (s *Service) Cancel(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	b, err := s.repo.GetBooking(ctx, s.repo.Pool(), bookingID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if b.Expired(now) {
		if err := s.expireBooking(ctx, b, now, "lazy"); err != nil {
			return nil, err
		}
		return nil, domain.ErrExpired
	}

	err = s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		ok, err := s.repo.CancelBooking(ctx, tx, b.ID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrNotPending
		}
		if err := s.releaseHolds(ctx, tx, b); err != nil {
			return err
		}
		cancelled := *b
		cancelled.Status = domain.StatusCancelled
		return s.insertBookingOutbox(ctx, tx, cancelled, "booking.cancelled")
	})
	if err != nil {
		return nil, err
	}
	b.Status = domain.StatusCancelled
	s.clearSeatPreLocks(ctx, b)
	return b, nil
}

// ExpireBooking is the sweep entry point: transition one overdue booking and
// release whatever it still holds.
func (s *Service) ExpireBooking(ctx context.Context, bookingID uuid.UUID) error {
	b, err := s.repo.GetBooking(ctx, s.repo.Pool(), bookingID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if !b.Expired(now) {
		return nil
	}
	return s.expireBooking(ctx, b, now, "sweep")
}

func (s *Service) expireBooking(ctx context.Context, b *domain.Booking, now time.Time, trigger string) error {
	err := s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		ok, err := s.repo.ExpireBooking(ctx, tx, b.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			// Someone else already moved it out of PENDING.
			return nil
		}
		if err := s.releaseHolds(ctx, tx, b); err != nil {
			return err
		}
		expired := *b
		expired.Status = domain.StatusExpired
		return s.insertBookingOutbox(ctx, tx, expired, "booking.expired")
	})
	if err != nil {
		return err
	}
	observability.HoldsReaped.WithLabelValues(trigger).Inc()
	s.clearSeatPreLocks(ctx, b)
	return nil
}

// clearSeatPreLocks drops the redis pre-locks of a seat booking whose store
// rows are gone. Without this a cancelled booking's seats would stay
// short-circuited until the original hold TTL ran out.
func (s *Service) clearSeatPreLocks(ctx context.Context, b *domain.Booking) {
	if b.Mode != domain.ModeSeat {
		return
	}
	for _, item := range b.Items {
		if err := s.cache.ReleaseSeatPreLock(ctx, b.EventID.String(), item.SeatID); err != nil {
			s.logger.Warn("seat pre-lock release failed: ", err)
		}
	}
}

// releaseHolds returns a booking's held inventory to the pool. Seat-mode
// deletions report what they actually freed, so counters stay aligned even
// when an event-level reap got to some seats first.
func (s *Service) releaseHolds(ctx context.Context, tx pgx.Tx, b *domain.Booking) error {
	switch b.Mode {
	case domain.ModeSeat:
		released, err := s.repo.ReleaseSeatsForBooking(ctx, tx, b.ID)
		if err != nil {
			return err
		}
		for categoryID, count := range countReleased(released) {
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

func countReleased(released []crdb.ReleasedSeat) map[uuid.UUID]int {
	counts := make(map[uuid.UUID]int)
	for _, rel := range released {
		counts[rel.CategoryID]++
	}
	return counts
}
