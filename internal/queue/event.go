// Package queue carries seat confirmations that failed after a successful
// payment to a background consumer over RabbitMQ.
package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// SeatConfirmationQueue is the durable queue holding pending retries.
const SeatConfirmationQueue = "booking.seat-confirmation.retry"

// SeatConfirmationRetry asks for the seats of a confirmed booking to be
// booked in the ledger again.
type SeatConfirmationRetry struct {
	BookingNumber string    `json:"booking_number"`
	ShowID        int64     `json:"show_id"`
	UserID        int64     `json:"user_id"`
	SeatIDs       []int64   `json:"seat_ids"`
	Attempt       int       `json:"attempt"`
	Reason        string    `json:"reason,omitempty"`
	NotBefore     time.Time `json:"not_before"`
}

func encode(ev SeatConfirmationRetry) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return b, nil
}

func decode(body []byte) (SeatConfirmationRetry, error) {
	var ev SeatConfirmationRetry
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("unmarshal: %w", err)
	}
	if ev.BookingNumber == "" || len(ev.SeatIDs) == 0 {
		return ev, fmt.Errorf("unmarshal: incomplete retry for %q", ev.BookingNumber)
	}
	return ev, nil
}
