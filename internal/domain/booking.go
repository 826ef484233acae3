package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingExpired   BookingStatus = "EXPIRED"
	BookingFailed    BookingStatus = "FAILED"

	// BookingCancelling marks a cancellation that has been claimed but whose
	// seat release and refund have not finished yet.
	BookingCancelling BookingStatus = "CANCELLING"
)

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingCancelled, BookingExpired, BookingFailed, BookingCancelling:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentCompleted  PaymentStatus = "COMPLETED"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentRefunded   PaymentStatus = "REFUNDED"
)

type PaymentMethod string

const (
	MethodCreditCard PaymentMethod = "CREDIT_CARD"
	MethodDebitCard  PaymentMethod = "DEBIT_CARD"
	MethodUPI        PaymentMethod = "UPI"
	MethodNetBanking PaymentMethod = "NET_BANKING"
	MethodWallet     PaymentMethod = "WALLET"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCreditCard, MethodDebitCard, MethodUPI, MethodNetBanking, MethodWallet:
		return true
	}
	return false
}

type Booking struct {
	ID                   int64         `json:"id"`
	BookingNumber        string        `json:"booking_number"`
	UserID               int64         `json:"user_id"`
	ShowID               int64         `json:"show_id"`
	EventID              int64         `json:"event_id"`
	VenueID              int64         `json:"venue_id"`
	EventTitle           string        `json:"event_title"`
	VenueName            string        `json:"venue_name"`
	ShowTime             time.Time     `json:"show_time"`
	Status               BookingStatus `json:"status"`
	PaymentStatus        PaymentStatus `json:"payment_status"`
	PaymentMethod        PaymentMethod `json:"payment_method,omitempty"`
	PaymentTransactionID *string       `json:"payment_transaction_id,omitempty"`
	PaidAt               *time.Time    `json:"paid_at,omitempty"`
	Items                []BookingItem `json:"items"`
	TotalSeats           int           `json:"total_seats"`
	SubtotalCents        int64         `json:"subtotal_cents"`
	FeeCents             int64         `json:"fee_cents"`
	TaxCents             int64         `json:"tax_cents"`
	TotalCents           int64         `json:"total_cents"`
	LockToken            string        `json:"-"`
	LockExpiresAt        time.Time     `json:"lock_expires_at"`
	UserEmail            string        `json:"user_email,omitempty"`
	UserPhone            string        `json:"user_phone,omitempty"`
	CancelledAt          *time.Time    `json:"cancelled_at,omitempty"`
	CancellationReason   *string       `json:"cancellation_reason,omitempty"`
	RefundCents          int64         `json:"refund_cents"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

type BookingItem struct {
	ID         int64  `json:"id"`
	BookingID  int64  `json:"booking_id"`
	ShowSeatID int64  `json:"show_seat_id"`
	SeatID     int64  `json:"seat_id"`
	Label      string `json:"label"`
	Row        string `json:"row"`
	Number     int    `json:"number"`
	Category   string `json:"category"`
	PriceCents int64  `json:"price_cents"`
}

// ShowSeatIDs returns the show seat IDs of the booking items in order.
func (b *Booking) ShowSeatIDs() []int64 {
	ids := make([]int64, len(b.Items))
	for i, it := range b.Items {
		ids[i] = it.ShowSeatID
	}
	return ids
}

// LockExpired reports whether the seat hold behind a pending booking has
// lapsed at now.
func (b *Booking) LockExpired(now time.Time) bool {
	return now.After(b.LockExpiresAt)
}

func (b *Booking) Cancellable() bool {
	return b.Status == BookingPending || b.Status == BookingConfirmed
}

// NewBookingNumber returns a BMS-YYYYMMDD-XXXXXXXX reference for a booking
// created at now.
func NewBookingNumber(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("BMS-%s-%s", now.Format("20060102"), strings.ToUpper(suffix))
}
