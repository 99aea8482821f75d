package contracts

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Permit2Allowance is the router's allowance over a token held in Permit2.
type Permit2Allowance struct {
	Amount     *big.Int
	Expiration uint64
	Nonce      uint64
}

// EncodePermit2Approve builds approve(token, spender, amount, expiration).
func EncodePermit2Approve(token, spender common.Address, amount *big.Int, expiration uint64) ([]byte, error) {
	if err := checkBound("amount", amount, 160); err != nil {
		return nil, err
	}
	exp := new(big.Int).SetUint64(expiration)
	if err := checkBound("expiration", exp, 48); err != nil {
		return nil, err
	}
	return pack(Permit2ABI, "approve", token, spender, orZero(amount), exp)
}

// EncodePermit2Allowance builds allowance(owner, token, spender) calldata.
func EncodePermit2Allowance(owner, token, spender common.Address) ([]byte, error) {
	return pack(Permit2ABI, "allowance", owner, token, spender)
}

// DecodePermit2Allowance unpacks allowance(owner, token, spender).
func DecodePermit2Allowance(data []byte) (Permit2Allowance, error) {
	out, err := unpack(Permit2ABI, "allowance", data)
	if err != nil {
		return Permit2Allowance{}, err
	}
	return Permit2Allowance{
		Amount:     out[0].(*big.Int),
		Expiration: out[1].(*big.Int).Uint64(),
		Nonce:      out[2].(*big.Int).Uint64(),
	}, nil
}
