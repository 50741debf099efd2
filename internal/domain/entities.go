package domain

import (
	"time"

	"github.com/google/uuid"
)

// BookingMode selects which kind of inventory a booking claims.
type BookingMode string

const (
	ModeCategory BookingMode = "CATEGORY"
	ModeSeat     BookingMode = "SEAT"
)

// BookingStatus values. PENDING is the only non-terminal state.
type BookingStatus string

const (
	StatusPending   BookingStatus = "PENDING"
	StatusPaid      BookingStatus = "PAID"
	StatusFailed    BookingStatus = "FAILED"
	StatusCancelled BookingStatus = "CANCELLED"
	StatusExpired   BookingStatus = "EXPIRED"
)

// Terminal reports whether a booking in this status rejects further
// transitions.
func (s BookingStatus) Terminal() bool {
	return s != StatusPending
}

type SeatStatus string

const (
	SeatHeld SeatStatus = "HELD"
	SeatSold SeatStatus = "SOLD"
)

// TicketCategory carries the capacity counters for one price tier of an
// event. The invariant 0 <= sold+held <= total is maintained by the store:
// every mutation is a conditional update that re-checks it.
type TicketCategory struct {
	ID        uuid.UUID
	EventID   uuid.UUID
	Name      string
	UnitPrice float64
	Total     int
	Sold      int
	Held      int
}

// Available is the number of units a new hold may still claim.
func (c TicketCategory) Available() int {
	return c.Total - c.Sold - c.Held
}

// SeatLock is the per-seat claim record. At most one row exists per
// (event, seat); the unique index on that pair is what keeps two bookings
// from claiming the same seat. ExpiresAt is zero once the lock is SOLD.
type SeatLock struct {
	EventID    uuid.UUID
	SeatID     string
	CategoryID uuid.UUID
	BookingID  uuid.UUID
	Status     SeatStatus
	ExpiresAt  time.Time
}

// BookingItem is the price snapshot for one seat of a seat-mode booking.
type BookingItem struct {
	SeatID     string
	CategoryID uuid.UUID
	UnitPrice  float64
}

// Booking is one checkout attempt. TotalAmount is fixed at creation and is
// never revalued on settlement.
type Booking struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	EventID     uuid.UUID
	Mode        BookingMode
	CategoryID  uuid.UUID
	Quantity    int
	Items       []BookingItem
	TotalAmount float64
	Status      BookingStatus
	ExpiresAt   time.Time
	PaymentRef  string
	PaidAt      time.Time
	CreatedAt   time.Time
}

// Expired reports whether a pending booking's hold window has passed.
// Terminal bookings are never considered expired; they already settled.
func (b Booking) Expired(now time.Time) bool {
	return b.Status == StatusPending && !b.ExpiresAt.IsZero() && !b.ExpiresAt.After(now)
}
