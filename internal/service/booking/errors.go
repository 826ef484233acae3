package booking

import (
	"errors"
	"fmt"
)

var (
	ErrNoSeatsSelected      = errors.New("no seats selected")
	ErrShowNotFound         = errors.New("show not found")
	ErrShowNotBookable      = errors.New("show is not open for booking")
	ErrSeatNotFound         = errors.New("seat not found")
	ErrSeatUnavailable      = errors.New("seat is not available")
	ErrSeatLockFailure      = errors.New("unable to lock seats, some may already be selected by others")
	ErrServiceUnavailable   = errors.New("service temporarily unavailable")
	ErrBookingNotFound      = errors.New("booking not found")
	ErrPermissionDenied     = errors.New("booking belongs to another user")
	ErrInvalidBookingState  = errors.New("booking is not in a valid state for this operation")
	ErrBookingExpired       = errors.New("booking has expired")
	ErrBookingConflict      = errors.New("booking was modified concurrently")
	ErrPaymentFailed        = errors.New("payment failed")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
)

// SeatsUnavailableError lists the seats that could not be reserved.
type SeatsUnavailableError struct {
	Labels []string
}

func (e SeatsUnavailableError) Error() string {
	return fmt.Sprintf("seats not available: %v", e.Labels)
}

func (e SeatsUnavailableError) Unwrap() error {
	return ErrSeatUnavailable
}
