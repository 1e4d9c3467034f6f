package core

import "math/big"

// PriceDecimals is the fixed-point precision of Order.Price0.
const PriceDecimals = 18

var PriceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(PriceDecimals), nil)

// MulDiv returns floor(a*b/c). c must be non-zero.
func MulDiv(a, b, c *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, c)
}

// RatioBelow reports whether got/gotUnit < want/wantUnit, i.e.
// got*wantUnit < want*gotUnit, without rounding.
func RatioBelow(got, gotUnit, want, wantUnit *big.Int) bool {
	lhs := new(big.Int).Mul(got, wantUnit)
	rhs := new(big.Int).Mul(want, gotUnit)
	return lhs.Cmp(rhs) < 0
}

// Normalize rescales a value quoted with the given decimals to PriceScale.
func Normalize(v *big.Int, decimals uint8) *big.Int {
	if v == nil {
		return nil
	}
	switch {
	case decimals == PriceDecimals:
		return new(big.Int).Set(v)
	case decimals < PriceDecimals:
		f := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(PriceDecimals-decimals)), nil)
		return f.Mul(f, v)
	default:
		f := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-PriceDecimals)), nil)
		return new(big.Int).Quo(v, f)
	}
}
