package lending

import (
	"math"
	"math/big"
)

var (
	// Wad is the 1e18 scale used for LLTV and fee values.
	Wad = mustBigInt("1000000000000000000")
	// OracleScale is the 1e36 scale of oracle prices: a price of
	// OracleScale means one collateral base unit is worth one loan base unit.
	OracleScale = mustBigInt("1000000000000000000000000000000000000")

	safeNumerator   = big.NewInt(67)
	safeDenominator = big.NewInt(100)
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func mulDivDown(x, y, d *big.Int) *big.Int {
	if d == nil || d.Sign() == 0 {
		return new(big.Int)
	}
	product := new(big.Int).Mul(orZero(x), orZero(y))
	return product.Quo(product, d)
}

func mulDivUp(x, y, d *big.Int) *big.Int {
	if d == nil || d.Sign() == 0 {
		return new(big.Int)
	}
	product := new(big.Int).Mul(orZero(x), orZero(y))
	product.Add(product, d)
	product.Sub(product, big.NewInt(1))
	return product.Quo(product, d)
}

func subFloor(a, b *big.Int) *big.Int {
	diff := new(big.Int).Sub(orZero(a), orZero(b))
	if diff.Sign() < 0 {
		return diff.SetInt64(0)
	}
	return diff
}

// ToAssetsUp converts borrow shares into the asset amount owed, rounding up
// so debt is never understated. It returns zero when totalShares is zero.
func ToAssetsUp(shares, totalAssets, totalShares *big.Int) *big.Int {
	return mulDivUp(shares, totalAssets, totalShares)
}

// WadToFloat converts a 1e18 scaled value into a float ratio.
func WadToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Rat).SetFrac(v, Wad).Float64()
	return f
}

// FloatToWad converts a ratio into its 1e18 scaled representation using
// float64 arithmetic, so FloatToWad(0.67) is exactly 67e16.
func FloatToWad(v float64) *big.Int {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return new(big.Int)
	}
	out, _ := big.NewFloat(math.Floor(v * 1e18)).Int(nil)
	return out
}

func ratio(num, den *big.Int) float64 {
	if den == nil || den.Sign() == 0 {
		return 0
	}
	f, _ := new(big.Rat).SetFrac(orZero(num), den).Float64()
	return f
}
