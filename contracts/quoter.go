package contracts

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type quoteParamsTuple struct {
	PoolKey     poolKeyTuple
	ZeroForOne  bool
	ExactAmount *big.Int
	HookData    []byte
}

// EncodeQuoteExactInputSingle builds quoteExactInputSingle calldata for an
// exact-input quote of amount of tokenIn.
func EncodeQuoteExactInputSingle(pool PoolKey, tokenIn common.Address, amount *big.Int) ([]byte, error) {
	if err := checkBound("exactAmount", amount, 128); err != nil {
		return nil, err
	}
	zeroForOne, err := pool.ZeroForOne(tokenIn)
	if err != nil {
		return nil, err
	}
	return pack(QuoterABI, "quoteExactInputSingle", quoteParamsTuple{
		PoolKey:     pool.tuple(),
		ZeroForOne:  zeroForOne,
		ExactAmount: orZero(amount),
		HookData:    []byte{},
	})
}

// DecodeQuoteExactInputSingle unpacks (amountOut, gasEstimate).
func DecodeQuoteExactInputSingle(data []byte) (amountOut, gasEstimate *big.Int, err error) {
	out, err := unpack(QuoterABI, "quoteExactInputSingle", data)
	if err != nil {
		return nil, nil, err
	}
	return out[0].(*big.Int), out[1].(*big.Int), nil
}

// DecodeQuoteSwapRevert extracts the amount from a QuoteSwap(uint256)
// revert. Quoters report their result this way when simulating through a
// reverting call.
func DecodeQuoteSwapRevert(data []byte) (*big.Int, bool) {
	quoteSwap, ok := QuoterABI.Errors["QuoteSwap"]
	if !ok || len(data) < 4 || !bytes.Equal(data[:4], quoteSwap.ID[:4]) {
		return nil, false
	}
	out, err := quoteSwap.Inputs.Unpack(data[4:])
	if err != nil || len(out) != 1 {
		return nil, false
	}
	amount, ok := out[0].(*big.Int)
	return amount, ok
}
