package domain

import "math"

// Pricing holds percentages as basis points so that fee and tax are computed
// in integer cents.
type Pricing struct {
	FeeBasisPoints int64
	TaxBasisPoints int64
}

// NewPricing converts percentages (2 for 2%) to basis points.
func NewPricing(feePercent, taxPercent float64) Pricing {
	return Pricing{
		FeeBasisPoints: int64(math.Round(feePercent * 100)),
		TaxBasisPoints: int64(math.Round(taxPercent * 100)),
	}
}

type PriceBreakdown struct {
	SubtotalCents int64 `json:"subtotal_cents"`
	FeeCents      int64 `json:"fee_cents"`
	TaxCents      int64 `json:"tax_cents"`
	TotalCents    int64 `json:"total_cents"`
}

// Quote prices a set of seats. The fee is applied to the subtotal first and
// tax is charged on subtotal+fee.
func (p Pricing) Quote(seatPrices []int64) PriceBreakdown {
	var subtotal int64
	for _, c := range seatPrices {
		subtotal += c
	}

	fee := percentOf(subtotal, p.FeeBasisPoints)
	tax := percentOf(subtotal+fee, p.TaxBasisPoints)

	return PriceBreakdown{
		SubtotalCents: subtotal,
		FeeCents:      fee,
		TaxCents:      tax,
		TotalCents:    subtotal + fee + tax,
	}
}

// percentOf rounds half up to the nearest cent.
func percentOf(cents, bp int64) int64 {
	return (cents*bp + 5000) / 10000
}

// CentsToAmount renders cents as a currency amount for API responses.
func CentsToAmount(cents int64) float64 {
	return float64(cents) / 100
}
