package httpgin

import (
	"time"

	"github.com/kirinyoku/showbook/internal/domain"
)

type ErrorResponse struct {
	Error            string   `json:"error"`
	UnavailableSeats []string `json:"unavailable_seats,omitempty"`
}

type LockSeatsRequest struct {
	SeatIDs    []int64 `json:"seat_ids" binding:"required,min=1,dive,gt=0"`
	UserID     int64   `json:"user_id"`
	TTLSeconds int64   `json:"ttl_seconds" binding:"gte=0"`
	HoldRef    string  `json:"hold_ref" binding:"max=64"`
}

type LockSeatsResponse struct {
	ShowID           int64     `json:"show_id"`
	LockedSeatIDs    []int64   `json:"locked_seat_ids"`
	LockedSeatLabels []string  `json:"locked_seat_labels"`
	LockExpiresAt    time.Time `json:"lock_expires_at"`
	TotalPriceCents  int64     `json:"total_price_cents"`
	TotalPrice       float64   `json:"total_price"`
}

type SeatsRequest struct {
	SeatIDs    []int64 `json:"seat_ids" binding:"required,min=1,dive,gt=0"`
	BookingRef string  `json:"booking_ref"`
	HoldRef    string  `json:"hold_ref" binding:"max=64"`
}

type ConfirmSeatsResponse struct {
	ConfirmedSeatIDs []int64 `json:"confirmed_seat_ids"`
	RejectedSeatIDs  []int64 `json:"rejected_seat_ids"`
}

type AvailableSeatsResponse struct {
	ShowID int64             `json:"show_id"`
	Seats  []domain.ShowSeat `json:"seats"`
}

type InitiateBookingRequest struct {
	ShowID    int64   `json:"show_id" binding:"required,gt=0"`
	SeatIDs   []int64 `json:"seat_ids" binding:"required,min=1,dive,gt=0"`
	UserID    int64   `json:"user_id"`
	UserEmail string  `json:"user_email" binding:"omitempty,email"`
	UserPhone string  `json:"user_phone"`
}

type ConfirmPaymentRequest struct {
	BookingNumber string `json:"booking_number" binding:"required"`
	UserID        int64  `json:"user_id"`
	PaymentMethod string `json:"payment_method" binding:"required"`
	PaymentToken  string `json:"payment_token"`
}

type CancelBookingRequest struct {
	BookingNumber string `json:"booking_number" binding:"required"`
	UserID        int64  `json:"user_id"`
	Reason        string `json:"reason" binding:"max=500"`
}

type BookingSeat struct {
	ShowSeatID int64   `json:"show_seat_id"`
	Label      string  `json:"label"`
	Category   string  `json:"category"`
	Price      float64 `json:"price"`
}

type BookingResponse struct {
	BookingNumber      string        `json:"booking_number"`
	Status             string        `json:"status"`
	PaymentStatus      string        `json:"payment_status"`
	PaymentMethod      string        `json:"payment_method,omitempty"`
	TransactionID      string        `json:"transaction_id,omitempty"`
	UserID             int64         `json:"user_id"`
	ShowID             int64         `json:"show_id"`
	EventTitle         string        `json:"event_title"`
	VenueName          string        `json:"venue_name"`
	ShowTime           time.Time     `json:"show_time"`
	Seats              []BookingSeat `json:"seats"`
	TotalSeats         int           `json:"total_seats"`
	SubtotalAmount     float64       `json:"subtotal_amount"`
	ConvenienceFee     float64       `json:"convenience_fee"`
	TaxAmount          float64       `json:"tax_amount"`
	TotalAmount        float64       `json:"total_amount"`
	LockExpiresAt      time.Time     `json:"lock_expires_at"`
	PaidAt             *time.Time    `json:"paid_at,omitempty"`
	CancelledAt        *time.Time    `json:"cancelled_at,omitempty"`
	CancellationReason string        `json:"cancellation_reason,omitempty"`
	RefundAmount       float64       `json:"refund_amount"`
	CreatedAt          time.Time     `json:"created_at"`
}

func newBookingResponse(b *domain.Booking) BookingResponse {
	resp := BookingResponse{
		BookingNumber:  b.BookingNumber,
		Status:         string(b.Status),
		PaymentStatus:  string(b.PaymentStatus),
		PaymentMethod:  string(b.PaymentMethod),
		UserID:         b.UserID,
		ShowID:         b.ShowID,
		EventTitle:     b.EventTitle,
		VenueName:      b.VenueName,
		ShowTime:       b.ShowTime,
		Seats:          make([]BookingSeat, 0, len(b.Items)),
		TotalSeats:     b.TotalSeats,
		SubtotalAmount: domain.CentsToAmount(b.SubtotalCents),
		ConvenienceFee: domain.CentsToAmount(b.FeeCents),
		TaxAmount:      domain.CentsToAmount(b.TaxCents),
		TotalAmount:    domain.CentsToAmount(b.TotalCents),
		LockExpiresAt:  b.LockExpiresAt,
		PaidAt:         b.PaidAt,
		CancelledAt:    b.CancelledAt,
		RefundAmount:   domain.CentsToAmount(b.RefundCents),
		CreatedAt:      b.CreatedAt,
	}

	if b.PaymentTransactionID != nil {
		resp.TransactionID = *b.PaymentTransactionID
	}
	if b.CancellationReason != nil {
		resp.CancellationReason = *b.CancellationReason
	}

	for _, it := range b.Items {
		resp.Seats = append(resp.Seats, BookingSeat{
			ShowSeatID: it.ShowSeatID,
			Label:      it.Label,
			Category:   it.Category,
			Price:      domain.CentsToAmount(it.PriceCents),
		})
	}

	return resp
}

type SeatInput struct {
	Row      string `json:"row" binding:"required"`
	Number   int    `json:"number" binding:"required,gt=0"`
	Label    string `json:"label"`
	Category string `json:"category" binding:"required"`
}

type CreateVenueRequest struct {
	Name  string      `json:"name" binding:"required"`
	Seats []SeatInput `json:"seats" binding:"required,min=1,dive"`
}

type CreateVenueResponse struct {
	VenueID int64 `json:"venue_id"`
}

type ScheduleShowRequest struct {
	EventID         int64            `json:"event_id"`
	VenueID         int64            `json:"venue_id" binding:"required,gt=0"`
	Title           string           `json:"title" binding:"required"`
	VenueName       string           `json:"venue_name"`
	ShowTime        string           `json:"show_time" binding:"required"`
	Status          string           `json:"status"`
	PriceByCategory map[string]int64 `json:"price_by_category" binding:"required,min=1"`
}

type ScheduleShowResponse struct {
	Show         domain.Show `json:"show"`
	SeatsCreated int64       `json:"seats_created"`
}

type UpdateShowStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func parseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
