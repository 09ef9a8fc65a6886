// Package money provides decimal amount handling for stablecoin payments.
//
// Amounts are denominated in whole tokens (e.g. "1.50" USDC) and carried as
// arbitrary-precision decimals. Float64 never touches a balance.
package money

import (
	"github.com/shopspring/decimal"

	"agentpay/pkg/payerr"
)

// USDCDecimals is the subunit precision of USDC on every supported chain.
const USDCDecimals = 6

// Zero is the zero amount.
var Zero = decimal.Zero

// Parse validates and parses a payment amount. The amount must be a positive
// decimal with at most USDCDecimals fractional digits.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, payerr.Wrap(err, payerr.KindValidation, "invalid amount %q", s)
	}
	return Validate(d)
}

// Validate checks that d is a usable payment amount.
func Validate(d decimal.Decimal) (decimal.Decimal, error) {
	if !d.IsPositive() {
		return decimal.Zero, payerr.E(payerr.KindValidation, "amount must be positive, got %s", d)
	}
	if d.Exponent() < -USDCDecimals {
		return decimal.Zero, payerr.E(payerr.KindValidation, "amount %s exceeds %d decimal places", d, USDCDecimals)
	}
	return d, nil
}

// ToSubunits converts a token amount to integer subunits (10^6 per token).
func ToSubunits(d decimal.Decimal) int64 {
	return d.Shift(USDCDecimals).IntPart()
}

// FromSubunits converts integer subunits back to a token amount.
func FromSubunits(n int64) decimal.Decimal {
	return decimal.New(n, -USDCDecimals)
}
