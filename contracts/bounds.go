package contracts

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	maxUint256 = new(uint256.Int).SetAllOne()
	maxUint160 = new(uint256.Int).Rsh(maxUint256, 96)
	maxUint128 = new(uint256.Int).Rsh(maxUint256, 128)
	maxUint48  = new(uint256.Int).Rsh(maxUint256, 208)
)

// MaxUint256 returns 2^256-1, the unlimited ERC20 approval amount.
func MaxUint256() *big.Int { return maxUint256.ToBig() }

// MaxUint160 returns 2^160-1, the unlimited Permit2 allowance.
func MaxUint160() *big.Int { return maxUint160.ToBig() }

// MaxUint128 returns 2^128-1, the largest amount the V4 pool accepts.
func MaxUint128() *big.Int { return maxUint128.ToBig() }

// checkBound verifies v is non-negative and at most 2^bits-1.
func checkBound(name string, v *big.Int, bits int) error {
	if v == nil {
		return nil
	}
	if v.Sign() < 0 {
		return fmt.Errorf("%w: %s=%s", ErrNegativeAmount, name, v)
	}
	u, overflow := uint256.FromBig(v)
	if overflow || u.BitLen() > bits {
		return fmt.Errorf("%w: %s does not fit uint%d", ErrAmountOverflow, name, bits)
	}
	return nil
}

// FitsUint128 reports whether v can be passed as a uint128 argument.
func FitsUint128(v *big.Int) bool {
	return checkBound("amount", v, 128) == nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
