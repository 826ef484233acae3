package ledger

import "errors"

var (
	ErrShowNotFound     = errors.New("show not found")
	ErrShowNotBookable  = errors.New("show is not open for booking")
	ErrSeatsNotFound    = errors.New("some seats do not belong to the show")
	ErrSeatUnavailable  = errors.New("some seats are not available")
	ErrNoSeatsSelected  = errors.New("no seats selected")
	ErrBookingRefNeeded = errors.New("booking reference is required")
)
