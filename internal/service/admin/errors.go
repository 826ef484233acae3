package admin

import (
	"errors"
)

var (
	ErrVenueConflict     = errors.New("venue already exists")
	ErrVenueNotFound     = errors.New("venue not found")
	ErrVenueHasNoSeats   = errors.New("venue has no seats")
	ErrShowConflict      = errors.New("venue already has a show at that time")
	ErrShowNotFound      = errors.New("show not found")
	ErrInvalidShow       = errors.New("invalid show")
	ErrInvalidSeats      = errors.New("invalid seats")
	ErrCategoryNotPriced = errors.New("seat category has no price")
	ErrInvalidShowStatus = errors.New("invalid show status")
)
