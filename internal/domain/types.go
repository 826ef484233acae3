package domain

import (
	"time"
)

type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE"
	SeatLocked    SeatStatus = "LOCKED"
	SeatBooked    SeatStatus = "BOOKED"
	SeatBlocked   SeatStatus = "BLOCKED"
)

type ShowStatus string

const (
	ShowScheduled   ShowStatus = "SCHEDULED"
	ShowOpen        ShowStatus = "OPEN"
	ShowFastFilling ShowStatus = "FAST_FILLING"
	ShowSoldOut     ShowStatus = "SOLD_OUT"
	ShowCancelled   ShowStatus = "CANCELLED"
	ShowCompleted   ShowStatus = "COMPLETED"
)

func (s ShowStatus) Valid() bool {
	switch s {
	case ShowScheduled, ShowOpen, ShowFastFilling, ShowSoldOut, ShowCancelled, ShowCompleted:
		return true
	}
	return false
}

type Show struct {
	ID        int64      `json:"id"`
	EventID   int64      `json:"event_id"`
	VenueID   int64      `json:"venue_id"`
	Title     string     `json:"title"`
	VenueName string     `json:"venue_name"`
	ShowTime  time.Time  `json:"show_time"`
	Status    ShowStatus `json:"status"`
}

// Bookable reports whether seats of the show can be reserved at now.
func (s *Show) Bookable(now time.Time) bool {
	switch s.Status {
	case ShowCancelled, ShowCompleted, ShowSoldOut:
		return false
	}

	return s.ShowTime.After(now)
}

type Seat struct {
	ID       int64  `json:"id"`
	VenueID  int64  `json:"venue_id"`
	Row      string `json:"row"`
	Number   int    `json:"number"`
	Label    string `json:"label"`
	Category string `json:"category"`
}

// ShowSeat is one venue seat's status for one show.
type ShowSeat struct {
	ID             int64      `json:"id"`
	ShowID         int64      `json:"show_id"`
	SeatID         int64      `json:"seat_id"`
	Row            string     `json:"row"`
	Number         int        `json:"number"`
	Label          string     `json:"label"`
	Category       string     `json:"category"`
	Status         SeatStatus `json:"status"`
	PriceCents     int64      `json:"price_cents"`
	LockedByUserID *int64     `json:"locked_by_user_id,omitempty"`
	LockedAt       *time.Time `json:"locked_at,omitempty"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
	BookedByUserID *int64     `json:"booked_by_user_id,omitempty"`
	BookingRef     *string    `json:"booking_ref,omitempty"`
	HoldRef        *string    `json:"-"`
}

// Available reports whether the seat can be locked at now. A lock whose
// deadline has passed counts as available even before a sweeper clears it.
func (s *ShowSeat) Available(now time.Time) bool {
	if s.Status == SeatAvailable {
		return true
	}

	return s.Status == SeatLocked && s.LockedUntil != nil && now.After(*s.LockedUntil)
}

type ShowSnapshot struct {
	Show  Show       `json:"show"`
	Seats []ShowSeat `json:"seats"`
}

// Seat returns the seat with the given show seat ID.
func (s *ShowSnapshot) Seat(id int64) (ShowSeat, bool) {
	for _, seat := range s.Seats {
		if seat.ID == id {
			return seat, true
		}
	}

	return ShowSeat{}, false
}

type SeatCounts struct {
	Available int64 `json:"available"`
	Locked    int64 `json:"locked"`
	Booked    int64 `json:"booked"`
	Blocked   int64 `json:"blocked"`
	Total     int64 `json:"total"`
}

// CountSeats counts seats by effective status at now. Expired locks are
// counted as available.
func CountSeats(seats []ShowSeat, now time.Time) SeatCounts {
	var c SeatCounts
	for i := range seats {
		switch {
		case seats[i].Available(now):
			c.Available++
		case seats[i].Status == SeatLocked:
			c.Locked++
		case seats[i].Status == SeatBooked:
			c.Booked++
		case seats[i].Status == SeatBlocked:
			c.Blocked++
		}
	}

	c.Total = int64(len(seats))

	return c
}

type SeatRow struct {
	Row   string     `json:"row"`
	Seats []ShowSeat `json:"seats"`
}

type SeatLayout struct {
	Show   Show       `json:"show"`
	Rows   []SeatRow  `json:"rows"`
	Counts SeatCounts `json:"counts"`
}

// BuildLayout groups seats by row, keeping the input order inside each row.
func BuildLayout(snap *ShowSnapshot, now time.Time) SeatLayout {
	layout := SeatLayout{
		Show:   snap.Show,
		Counts: CountSeats(snap.Seats, now),
	}

	idx := make(map[string]int)
	for _, s := range snap.Seats {
		i, ok := idx[s.Row]
		if !ok {
			i = len(layout.Rows)
			idx[s.Row] = i
			layout.Rows = append(layout.Rows, SeatRow{Row: s.Row})
		}
		layout.Rows[i].Seats = append(layout.Rows[i].Seats, s)
	}

	return layout
}
