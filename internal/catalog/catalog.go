// Package catalog adapts the seat ledger for the booking saga, either
// in-process or over HTTP against a remote seat service.
package catalog

import (
	"errors"
	"time"
)

var (
	// ErrNotFound means the show or one of the seats does not exist.
	ErrNotFound = errors.New("catalog: not found")
	// ErrConflict means the seats are not in a state that allows the call.
	ErrConflict = errors.New("catalog: conflict")
	// ErrInvalid means the request was rejected as malformed.
	ErrInvalid = errors.New("catalog: invalid request")
	// ErrUnavailable means the seat service could not be reached or failed.
	ErrUnavailable = errors.New("catalog: unavailable")
)

type LockResult struct {
	LockedSeatIDs    []int64
	LockedSeatLabels []string
	LockExpiresAt    time.Time
	TotalPriceCents  int64
}

type ConfirmResult struct {
	Confirmed []int64
	Rejected  []int64
}
