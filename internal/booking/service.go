package booking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/eventora/ticketing-core/internal/adapters/crdb"
	mongoadapter "github.com/eventora/ticketing-core/internal/adapters/mongo"
	redisadapter "github.com/eventora/ticketing-core/internal/adapters/redis"
	"github.com/eventora/ticketing-core/internal/domain"
	"github.com/eventora/ticketing-core/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Service validates reservation requests against the capacity ledger and
// seat registry and creates pending bookings with their holds in one
// transaction. It also carries the lazy expiry-reaping entry points that
// read paths invoke.
type Service struct {
	repo    *crdb.Repository
	catalog *mongoadapter.CatalogRepository
	cache   *redisadapter.Cache
	audit   *mongoadapter.AuditLogger
	logger  observability.Logger
	holdTTL time.Duration
}

func NewService(repo *crdb.Repository, catalog *mongoadapter.CatalogRepository, cache *redisadapter.Cache, audit *mongoadapter.AuditLogger, logger observability.Logger, holdTTL time.Duration) *Service {
	return &Service{
		repo:    repo,
		catalog: catalog,
		cache:   cache,
		audit:   audit,
		logger:  logger,
		holdTTL: holdTTL,
	}
}

type CategoryRequest struct {
	UserID     uuid.UUID
	EventID    uuid.UUID
	CategoryID uuid.UUID
	Quantity   int
}

type SeatChoice struct {
	SeatID     string
	CategoryID uuid.UUID
}

type SeatRequest struct {
	UserID  uuid.UUID
	EventID uuid.UUID
	Seats   []SeatChoice
}

// ReserveCategory claims quantity units of one ticket category. The
// availability check and held increment are a single conditional update; a
// zero-capacity loss surfaces as ErrCapacityExceeded with no state left
// behind.
func (s *Service) ReserveCategory(ctx context.Context, req CategoryRequest) (*domain.Booking, error) {
	if req.Quantity < 1 {
		return nil, errors.Wrap(domain.ErrValidation, "quantity must be at least 1")
	}
	event, err := s.catalog.GetEvent(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	if req.CategoryID == uuid.Nil {
		// Uncategorized events sell one pool of general admission tickets
		// against the event aggregate counters.
		return s.ReserveEventCapacity(ctx, req.UserID, req.EventID, req.Quantity, event.BasePrice)
	}

	var booking domain.Booking
	err = s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		cat, err := s.repo.GetCategory(ctx, tx, req.CategoryID)
		if err != nil {
			return err
		}
		if cat.EventID != req.EventID {
			return errors.Wrap(domain.ErrValidation, "category does not belong to event")
		}
		if err := s.repo.TryHoldCategory(ctx, tx, req.CategoryID, req.Quantity); err != nil {
			return err
		}
		booking = domain.NewCategoryBooking(req.UserID, *cat, req.Quantity, s.holdTTL)
		if err := s.repo.CreateBooking(ctx, tx, booking); err != nil {
			return err
		}
		return s.insertBookingOutbox(ctx, tx, booking, "booking.created")
	})
	if err != nil {
		observability.ReservationsTotal.WithLabelValues("category", "denied").Inc()
		return nil, err
	}

	observability.ReservationsTotal.WithLabelValues("category", "created").Inc()
	if err := s.audit.LogBookingCreated(ctx, booking); err != nil {
		s.logger.Warn("audit log failed: ", err)
	}
	return &booking, nil
}

// ReserveEventCapacity is the fallback for events that sell a single pool of
// tickets with no categories; it holds against the event aggregate counters.
func (s *Service) ReserveEventCapacity(ctx context.Context, userID, eventID uuid.UUID, quantity int, unitPrice float64) (*domain.Booking, error) {
	if quantity < 1 {
		return nil, errors.Wrap(domain.ErrValidation, "quantity must be at least 1")
	}
	if _, err := s.catalog.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	booking := domain.Booking{
		ID:          uuid.New(),
		UserID:      userID,
		EventID:     eventID,
		Mode:        domain.ModeCategory,
		Quantity:    quantity,
		TotalAmount: unitPrice * float64(quantity),
		Status:      domain.StatusPending,
		ExpiresAt:   now.Add(s.holdTTL),
		CreatedAt:   now,
	}

	err := s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.TryHoldEvent(ctx, tx, eventID, quantity); err != nil {
			return err
		}
		if err := s.repo.CreateBooking(ctx, tx, booking); err != nil {
			return err
		}
		return s.insertBookingOutbox(ctx, tx, booking, "booking.created")
	})
	if err != nil {
		observability.ReservationsTotal.WithLabelValues("category", "denied").Inc()
		return nil, err
	}

	observability.ReservationsTotal.WithLabelValues("category", "created").Inc()
	if err := s.audit.LogBookingCreated(ctx, booking); err != nil {
		s.logger.Warn("audit log failed: ", err)
	}
	return &booking, nil
}

// ReserveSeats claims a specific set of seats. Seat exclusivity comes from
// the unique (event, seat) index: the insert is the check. Any rejected seat
// rolls back the whole attempt and the rejected ids are reported so the
// caller can re-render.
func (s *Service) ReserveSeats(ctx context.Context, req SeatRequest) (*domain.Booking, error) {
	if len(req.Seats) == 0 {
		return nil, errors.Wrap(domain.ErrValidation, "no seats requested")
	}
	seen := make(map[string]bool, len(req.Seats))
	for _, seat := range req.Seats {
		if seat.SeatID == "" {
			return nil, errors.Wrap(domain.ErrValidation, "empty seat id")
		}
		if seen[seat.SeatID] {
			return nil, errors.Wrapf(domain.ErrValidation, "duplicate seat %s", seat.SeatID)
		}
		seen[seat.SeatID] = true
	}

	event, err := s.catalog.GetEvent(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	if len(event.Seats) > 0 {
		for _, seat := range req.Seats {
			if !event.HasSeat(seat.SeatID) {
				return nil, errors.Wrapf(domain.ErrValidation, "unknown seat %s", seat.SeatID)
			}
		}
	}

	// Expired locks from abandoned checkouts must not block new buyers, so
	// reap before inserting. Separate transaction: a rejected reservation
	// should not roll the reap back.
	if err := s.ReapEventHolds(ctx, req.EventID); err != nil {
		return nil, err
	}

	bookingID := uuid.New()
	preLocked := s.preLockSeats(ctx, req, bookingID)
	if len(preLocked) < len(req.Seats) {
		s.unlockSeats(ctx, req.EventID, preLocked)
		return nil, &domain.CapacityError{Seats: missingSeats(req.Seats, preLocked)}
	}

	seatReqs := make([]crdb.SeatRequest, len(req.Seats))
	for i, seat := range req.Seats {
		seatReqs[i] = crdb.SeatRequest{SeatID: seat.SeatID, CategoryID: seat.CategoryID}
	}

	var booking domain.Booking
	now := time.Now().UTC()
	err = s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		_, rejected, err := s.repo.TryHoldSeats(ctx, tx, req.EventID, seatReqs, bookingID, now.Add(s.holdTTL))
		if err != nil {
			return err
		}
		if len(rejected) > 0 {
			return &domain.CapacityError{Seats: rejected}
		}

		items := make([]domain.BookingItem, 0, len(req.Seats))
		prices := make(map[uuid.UUID]float64)
		for _, seat := range req.Seats {
			price, ok := prices[seat.CategoryID]
			if !ok {
				cat, err := s.repo.GetCategory(ctx, tx, seat.CategoryID)
				if err != nil {
					return err
				}
				if cat.EventID != req.EventID {
					return errors.Wrapf(domain.ErrValidation, "category %s does not belong to event", seat.CategoryID)
				}
				price = cat.UnitPrice
				prices[seat.CategoryID] = price
			}
			items = append(items, domain.BookingItem{SeatID: seat.SeatID, CategoryID: seat.CategoryID, UnitPrice: price})
		}

		// Seat holds count against their category's held counter too.
		for categoryID, count := range countByCategory(items) {
			if err := s.repo.TryHoldCategory(ctx, tx, categoryID, count); err != nil {
				return err
			}
		}

		booking = domain.NewSeatBooking(req.UserID, req.EventID, items, s.holdTTL)
		booking.ID = bookingID
		if err := s.repo.CreateBooking(ctx, tx, booking); err != nil {
			return err
		}
		return s.insertBookingOutbox(ctx, tx, booking, "booking.created")
	})
	if err != nil {
		s.unlockSeats(ctx, req.EventID, preLocked)
		observability.ReservationsTotal.WithLabelValues("seat", "denied").Inc()
		return nil, err
	}

	observability.ReservationsTotal.WithLabelValues("seat", "created").Inc()
	if err := s.audit.LogBookingCreated(ctx, booking); err != nil {
		s.logger.Warn("audit log failed: ", err)
	}
	return &booking, nil
}

func (s *Service) preLockSeats(ctx context.Context, req SeatRequest, bookingID uuid.UUID) []string {
	locked := make([]string, 0, len(req.Seats))
	for _, seat := range req.Seats {
		ok, err := s.cache.SetSeatPreLock(ctx, req.EventID.String(), seat.SeatID, bookingID.String(), s.holdTTL)
		if err != nil {
			// Redis being down must not block sales; the store stays
			// authoritative.
			s.logger.Warn("seat pre-lock unavailable: ", err)
			locked = append(locked, seat.SeatID)
			continue
		}
		if !ok {
			return locked
		}
		locked = append(locked, seat.SeatID)
	}
	return locked
}

func (s *Service) unlockSeats(ctx context.Context, eventID uuid.UUID, seats []string) {
	for _, seat := range seats {
		if err := s.cache.ReleaseSeatPreLock(ctx, eventID.String(), seat); err != nil {
			s.logger.Warn("seat pre-lock release failed: ", err)
		}
	}
}

func missingSeats(requested []SeatChoice, locked []string) []string {
	have := make(map[string]bool, len(locked))
	for _, seat := range locked {
		have[seat] = true
	}
	var missing []string
	for _, seat := range requested {
		if !have[seat.SeatID] {
			missing = append(missing, seat.SeatID)
		}
	}
	return missing
}

func countByCategory(items []domain.BookingItem) map[uuid.UUID]int {
	counts := make(map[uuid.UUID]int)
	for _, item := range items {
		counts[item.CategoryID]++
	}
	return counts
}

func (s *Service) insertBookingOutbox(ctx context.Context, tx pgx.Tx, b domain.Booking, eventType string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"booking_id":   b.ID,
		"user_id":      b.UserID,
		"event_id":     b.EventID,
		"mode":         b.Mode,
		"status":       b.Status,
		"total_amount": b.TotalAmount,
		"expires_at":   b.ExpiresAt,
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
