package domain

import "errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrValidation           = errors.New("invalid input")
	ErrCapacityExceeded     = errors.New("capacity exceeded")
	ErrExpired              = errors.New("booking expired")
	ErrNotPending           = errors.New("booking not pending")
	ErrAmountMismatch       = errors.New("amount mismatch")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrForbidden            = errors.New("forbidden")
)

// CapacityError is returned when a reservation is denied. Seats lists the
// seat ids that were unavailable; empty for category-mode denials.
type CapacityError struct {
	Seats []string
}

func (e *CapacityError) Error() string { return ErrCapacityExceeded.Error() }

func (e *CapacityError) Unwrap() error { return ErrCapacityExceeded }
