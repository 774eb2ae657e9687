// Package fees computes the platform fee split for a trade. The split is
// asymmetric: half the fee is priced into the fiat leg both parties see,
// while the full fee is taken from the crypto leg the buyer receives. Both
// formulas are business rules and must be reproduced exactly.
package fees

import "math"

// Breakdown is the fee decomposition of a trade at a given notional amount,
// fiat rate, and platform fee fraction.
type Breakdown struct {
	// SellerLocks is the token amount escrowed: the full notional.
	SellerLocks float64 `json:"seller_locks"`
	// FiatSettled is the fiat value exchanged, with half the platform fee
	// absorbed into the effective rate.
	FiatSettled float64 `json:"fiat_settled"`
	// FeeAmount is the total fee in token units.
	FeeAmount float64 `json:"fee_amount"`
	// BuyerReceives is the net token amount after the full fee is taken
	// from the crypto leg.
	BuyerReceives float64 `json:"buyer_receives"`
}

// Calculate derives the fee breakdown. amount is in token units, rate in fiat
// per token, feePercent a fraction (0.01 for 1%). Fiat figures are rounded to
// 2 decimal places, token figures to 4, and no other rounding is applied.
func Calculate(amount, rate, feePercent float64) Breakdown {
	return Breakdown{
		SellerLocks:   roundToken(amount),
		FiatSettled:   roundFiat(amount * (1 - feePercent/2) * rate),
		FeeAmount:     roundToken(amount * feePercent),
		BuyerReceives: roundToken(amount * (1 - feePercent)),
	}
}

// roundFiat rounds to 2 decimal places, half away from zero.
func roundFiat(v float64) float64 {
	return math.Round(v*100) / 100
}

// roundToken rounds to 4 decimal places, half away from zero.
func roundToken(v float64) float64 {
	return math.Round(v*10000) / 10000
}
