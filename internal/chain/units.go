package chain

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// toWei converts a display-unit amount into the token's smallest unit. The
// amount is first formatted at the token's full precision so binary float
// noise beyond the representable decimals never leaks into the integer.
func toWei(amount float64, decimals int) (*big.Int, error) {
	if amount < 0 {
		return nil, fmt.Errorf("chain: negative amount %v", amount)
	}

	s := strconv.FormatFloat(amount, 'f', decimals, 64)
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) < decimals {
		frac += strings.Repeat("0", decimals-len(frac))
	}

	wei, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("chain: cannot convert %v to wei", amount)
	}
	return wei, nil
}

// fromWei converts a smallest-unit integer back to display units.
func fromWei(wei *big.Int, decimals int) float64 {
	if wei == nil {
		return 0
	}
	f := new(big.Float).SetInt(wei)
	div := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(f, div).Float64()
	return out
}
