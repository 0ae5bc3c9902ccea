package paystack

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Converter quotes USD escrow amounts in kobo for the NGN-denominated gateway.
type Converter struct {
	rate decimal.Decimal
}

// NewConverter parses the configured NGN-per-USD rate.
func NewConverter(usdToNGN string) (*Converter, error) {
	rate, err := decimal.NewFromString(usdToNGN)
	if err != nil {
		return nil, fmt.Errorf("parsing usd/ngn rate %q: %w", usdToNGN, err)
	}
	if rate.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("usd/ngn rate must be positive, got %s", rate)
	}
	return &Converter{rate: rate}, nil
}

// USDCentsToKobo converts an amount in USD cents to NGN kobo, rounding up so
// the escrow never undercharges.
func (c *Converter) USDCentsToKobo(amountCents int) (int64, error) {
	if amountCents <= 0 {
		return 0, fmt.Errorf("amount must be positive, got %d", amountCents)
	}
	// cents -> USD -> NGN -> kobo
	usd := decimal.NewFromInt(int64(amountCents)).Div(decimal.NewFromInt(100))
	kobo := usd.Mul(c.rate).Mul(decimal.NewFromInt(100))
	return kobo.Ceil().IntPart(), nil
}

// Rate exposes the configured NGN-per-USD rate.
func (c *Converter) Rate() decimal.Decimal {
	return c.rate
}
