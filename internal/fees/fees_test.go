package fees

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculate(t *testing.T) {
	tests := []struct {
		name       string
		amount     float64
		rate       float64
		feePercent float64
		want       Breakdown
	}{
		{
			name:       "reference trade 100 USDC at 90 with 1 percent fee",
			amount:     100,
			rate:       90,
			feePercent: 0.01,
			want: Breakdown{
				SellerLocks:   100,
				FiatSettled:   8955.00, // 100 * 0.995 * 90
				FeeAmount:     1,
				BuyerReceives: 99.00,
			},
		},
		{
			name:       "fractional amount rounds fiat to paise",
			amount:     33.3333,
			rate:       88.5,
			feePercent: 0.01,
			want: Breakdown{
				SellerLocks:   33.3333,
				FiatSettled:   2935.25, // 33.3333 * 0.995 * 88.5 = 2935.24706...
				FeeAmount:     0.3333,
				BuyerReceives: 33.0,
			},
		},
		{
			name:       "zero fee is a straight conversion",
			amount:     50,
			rate:       91,
			feePercent: 0,
			want: Breakdown{
				SellerLocks:   50,
				FiatSettled:   4550,
				FeeAmount:     0,
				BuyerReceives: 50,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate(tt.amount, tt.rate, tt.feePercent)
			assert.InDelta(t, tt.want.SellerLocks, got.SellerLocks, 1e-9)
			assert.InDelta(t, tt.want.FiatSettled, got.FiatSettled, 1e-9)
			assert.InDelta(t, tt.want.FeeAmount, got.FeeAmount, 1e-9)
			assert.InDelta(t, tt.want.BuyerReceives, got.BuyerReceives, 1e-9)
		})
	}
}

func TestCalculateLegsDiffer(t *testing.T) {
	// The fiat leg absorbs only half the fee while the token leg pays all of
	// it; the two sides must not be computed symmetrically.
	b := Calculate(200, 85, 0.02)
	assert.InDelta(t, 200*(1-0.01)*85, b.FiatSettled, 1e-9)
	assert.InDelta(t, 200*(1-0.02), b.BuyerReceives, 1e-9)
}
