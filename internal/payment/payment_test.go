package payment

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/kirinyoku/showbook/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestChargeTransactionIDs(t *testing.T) {
	s := NewSimulator(0, zap.NewNop())

	cases := map[domain.PaymentMethod]string{
		domain.MethodCreditCard: `^CC[0-9A-F]{12}$`,
		domain.MethodDebitCard:  `^DC[0-9A-F]{12}$`,
		domain.MethodUPI:        `^UPI[0-9A-F]{12}$`,
		domain.MethodNetBanking: `^NB[0-9A-F]{12}$`,
		domain.MethodWallet:     `^WAL[0-9A-F]{12}$`,
	}

	for method, pattern := range cases {
		res, err := s.Charge(context.Background(), ChargeRequest{
			BookingNumber: "BMS-20260101-AAAAAAAA",
			AmountCents:   1000,
			Method:        method,
			Token:         "tok_visa",
		})
		require.NoError(t, err)
		assert.Regexp(t, regexp.MustCompile(pattern), res.TransactionID)
		assert.EqualValues(t, 1000, res.AmountCents)
	}
}

func TestChargeDeclined(t *testing.T) {
	s := NewSimulator(0, zap.NewNop())

	_, err := s.Charge(context.Background(), ChargeRequest{
		AmountCents: 1000,
		Method:      domain.MethodCreditCard,
		Token:       "tok_decline_insufficient_funds",
	})
	require.ErrorIs(t, err, ErrDeclined)
}

func TestChargeInvalid(t *testing.T) {
	s := NewSimulator(0, zap.NewNop())

	_, err := s.Charge(context.Background(), ChargeRequest{AmountCents: 0, Method: domain.MethodUPI})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = s.Charge(context.Background(), ChargeRequest{AmountCents: 10, Method: "CHEQUE"})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestChargeHonoursDeadline(t *testing.T) {
	s := NewSimulator(time.Second, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Charge(ctx, ChargeRequest{AmountCents: 1000, Method: domain.MethodUPI, Token: "tok"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRefund(t *testing.T) {
	s := NewSimulator(0, zap.NewNop())

	res, err := s.Refund(context.Background(), RefundRequest{
		BookingNumber: "BMS-20260101-AAAAAAAA",
		TransactionID: "UPI0123456789AB",
		AmountCents:   2500,
	})
	require.NoError(t, err)
	assert.Regexp(t, `^REF-[0-9A-F]{12}$`, res.TransactionID)

	_, err = s.Refund(context.Background(), RefundRequest{AmountCents: 2500})
	require.ErrorIs(t, err, ErrInvalidRequest)
}
