package domain

import (
	"time"

	"github.com/google/uuid"
)

// NewCategoryBooking builds a pending category-mode booking, snapshotting the
// category's unit price at this instant.
func NewCategoryBooking(userID uuid.UUID, cat TicketCategory, quantity int, ttl time.Duration) Booking {
	now := time.Now().UTC()
	return Booking{
		ID:          uuid.New(),
		UserID:      userID,
		EventID:     cat.EventID,
		Mode:        ModeCategory,
		CategoryID:  cat.ID,
		Quantity:    quantity,
		TotalAmount: cat.UnitPrice * float64(quantity),
		Status:      StatusPending,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}
}

// NewSeatBooking builds a pending seat-mode booking from the requested seats
// and the current unit price of each seat's category. The items slice is the
// booking's own snapshot; later price changes do not affect it.
func NewSeatBooking(userID, eventID uuid.UUID, items []BookingItem, ttl time.Duration) Booking {
	now := time.Now().UTC()
	var total float64
	for _, it := range items {
		total += it.UnitPrice
	}
	return Booking{
		ID:          uuid.New(),
		UserID:      userID,
		EventID:     eventID,
		Mode:        ModeSeat,
		Quantity:    len(items),
		Items:       items,
		TotalAmount: total,
		Status:      StatusPending,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}
}
