// Package payment provides the payment gateway used by the booking flow.
// Only a simulator exists; it never moves real money.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/showbook/internal/domain"
	"go.uber.org/zap"
)

var (
	// ErrDeclined means the payment instrument was refused.
	ErrDeclined = errors.New("payment declined")
	// ErrInvalidRequest means the charge or refund could not be attempted.
	ErrInvalidRequest = errors.New("invalid payment request")
)

// DeclinePrefix marks test tokens that the simulator refuses.
const DeclinePrefix = "tok_decline"

type ChargeRequest struct {
	BookingNumber string
	AmountCents   int64
	Method        domain.PaymentMethod
	Token         string
}

type RefundRequest struct {
	BookingNumber string
	TransactionID string
	AmountCents   int64
}

type Result struct {
	TransactionID string
	AmountCents   int64
	ProcessedAt   time.Time
}

// Simulator approves every charge except tokens carrying DeclinePrefix,
// after waiting Latency. A context that ends first aborts the call.
type Simulator struct {
	latency time.Duration
	log     *zap.Logger
	now     func() time.Time
}

func NewSimulator(latency time.Duration, log *zap.Logger) *Simulator {
	return &Simulator{
		latency: latency,
		log:     log.With(zap.String("service", "payment")),
		now:     time.Now,
	}
}

func (s *Simulator) Charge(ctx context.Context, req ChargeRequest) (*Result, error) {
	const op = "payment.Simulator.Charge"

	if req.AmountCents <= 0 || !req.Method.Valid() {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidRequest)
	}

	if err := s.wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if strings.HasPrefix(req.Token, DeclinePrefix) {
		s.log.Info("charge declined", zap.String("booking_number", req.BookingNumber))
		return nil, fmt.Errorf("%s: %w", op, ErrDeclined)
	}

	res := &Result{
		TransactionID: methodPrefix(req.Method) + randomHex(),
		AmountCents:   req.AmountCents,
		ProcessedAt:   s.now(),
	}

	s.log.Info("charge approved",
		zap.String("booking_number", req.BookingNumber),
		zap.String("transaction_id", res.TransactionID),
		zap.Int64("amount_cents", req.AmountCents),
	)

	return res, nil
}

func (s *Simulator) Refund(ctx context.Context, req RefundRequest) (*Result, error) {
	const op = "payment.Simulator.Refund"

	if req.AmountCents <= 0 || req.TransactionID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidRequest)
	}

	if err := s.wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	res := &Result{
		TransactionID: "REF-" + randomHex(),
		AmountCents:   req.AmountCents,
		ProcessedAt:   s.now(),
	}

	s.log.Info("refund issued",
		zap.String("booking_number", req.BookingNumber),
		zap.String("original_transaction_id", req.TransactionID),
		zap.String("refund_id", res.TransactionID),
	)

	return res, nil
}

func (s *Simulator) wait(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(s.latency)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func methodPrefix(m domain.PaymentMethod) string {
	switch m {
	case domain.MethodCreditCard:
		return "CC"
	case domain.MethodDebitCard:
		return "DC"
	case domain.MethodUPI:
		return "UPI"
	case domain.MethodNetBanking:
		return "NB"
	case domain.MethodWallet:
		return "WAL"
	}
	return "TXN"
}

// randomHex returns 12 upper-case hex characters.
func randomHex() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}
