package swap

import (
	"errors"
	"fmt"
	"math"
	"math/big"
)

const (
	// DefaultSlippage is the tolerance applied when the caller supplies none.
	DefaultSlippage = 0.005

	bpsDenominator = 10_000
)

// ErrInvalidTolerance reports a slippage tolerance outside [0, 1).
var ErrInvalidTolerance = errors.New("swap: slippage tolerance must be within [0, 1)")

// ToleranceBps validates tol and converts it to basis points, rounding half
// away from zero.
func ToleranceBps(tol float64) (int64, error) {
	if math.IsNaN(tol) || tol < 0 || tol >= 1 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidTolerance, tol)
	}
	bps := int64(math.Round(tol * bpsDenominator))
	if bps >= bpsDenominator {
		return 0, fmt.Errorf("%w: %v", ErrInvalidTolerance, tol)
	}
	return bps, nil
}

// MinAmountOut applies tol to an estimated output in integer arithmetic:
// estimated * (10000 - bps) / 10000. It equals estimated at zero tolerance
// and never increases as tolerance grows.
func MinAmountOut(estimated *big.Int, tol float64) (*big.Int, error) {
	bps, err := ToleranceBps(tol)
	if err != nil {
		return nil, err
	}
	return MinAmountOutBps(estimated, bps), nil
}

// MinAmountOutBps is MinAmountOut for a tolerance already expressed in basis
// points. bps is clamped to [0, 10000].
func MinAmountOutBps(estimated *big.Int, bps int64) *big.Int {
	if estimated == nil || estimated.Sign() <= 0 {
		return new(big.Int)
	}
	if bps < 0 {
		bps = 0
	}
	if bps > bpsDenominator {
		bps = bpsDenominator
	}
	out := new(big.Int).Mul(estimated, big.NewInt(bpsDenominator-bps))
	return out.Quo(out, big.NewInt(bpsDenominator))
}
