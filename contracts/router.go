package contracts

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Universal Router command and V4 router action identifiers.
const (
	CommandV4Swap byte = 0x10

	ActionSwapExactInSingle byte = 0x06
	ActionSettle            byte = 0x0b
	ActionTake              byte = 0x0e
)

// ErrTokenNotInPool reports a swap whose input token is not a pool currency.
var ErrTokenNotInPool = errors.New("contracts: token not in pool")

// PoolKey identifies a V4 pool. Currency0 sorts before Currency1.
type PoolKey struct {
	Currency0   common.Address
	Currency1   common.Address
	Fee         uint32
	TickSpacing int32
	Hooks       common.Address
}

// NewPoolKey orders the pair by address.
func NewPoolKey(tokenA, tokenB common.Address, fee uint32, tickSpacing int32, hooks common.Address) PoolKey {
	if bytes.Compare(tokenB.Bytes(), tokenA.Bytes()) < 0 {
		tokenA, tokenB = tokenB, tokenA
	}
	return PoolKey{Currency0: tokenA, Currency1: tokenB, Fee: fee, TickSpacing: tickSpacing, Hooks: hooks}
}

// ZeroForOne reports the swap direction for tokenIn.
func (k PoolKey) ZeroForOne(tokenIn common.Address) (bool, error) {
	switch tokenIn {
	case k.Currency0:
		return true, nil
	case k.Currency1:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s", ErrTokenNotInPool, tokenIn.Hex())
	}
}

// Other returns the pool currency opposite tokenIn.
func (k PoolKey) Other(tokenIn common.Address) common.Address {
	if tokenIn == k.Currency0 {
		return k.Currency1
	}
	return k.Currency0
}

type poolKeyTuple struct {
	Currency0   common.Address
	Currency1   common.Address
	Fee         *big.Int
	TickSpacing *big.Int
	Hooks       common.Address
}

func (k PoolKey) tuple() poolKeyTuple {
	return poolKeyTuple{
		Currency0:   k.Currency0,
		Currency1:   k.Currency1,
		Fee:         new(big.Int).SetUint64(uint64(k.Fee)),
		TickSpacing: big.NewInt(int64(k.TickSpacing)),
		Hooks:       k.Hooks,
	}
}

type exactInSingleTuple struct {
	PoolKey          poolKeyTuple
	ZeroForOne       bool
	AmountIn         *big.Int
	AmountOutMinimum *big.Int
	HookData         []byte
}

var poolKeyMarshaling = []abi.ArgumentMarshaling{
	{Name: "currency0", Type: "address"},
	{Name: "currency1", Type: "address"},
	{Name: "fee", Type: "uint24"},
	{Name: "tickSpacing", Type: "int24"},
	{Name: "hooks", Type: "address"},
}

var (
	exactInSingleArgs = abi.Arguments{{Name: "params", Type: mustType("tuple", []abi.ArgumentMarshaling{
		{Name: "poolKey", Type: "tuple", Components: poolKeyMarshaling},
		{Name: "zeroForOne", Type: "bool"},
		{Name: "amountIn", Type: "uint128"},
		{Name: "amountOutMinimum", Type: "uint128"},
		{Name: "hookData", Type: "bytes"},
	})}}
	settleArgs = abi.Arguments{
		{Name: "currency", Type: mustType("address", nil)},
		{Name: "amount", Type: mustType("uint256", nil)},
		{Name: "payerIsUser", Type: mustType("bool", nil)},
	}
	takeArgs = abi.Arguments{
		{Name: "currency", Type: mustType("address", nil)},
		{Name: "recipient", Type: mustType("address", nil)},
		{Name: "amount", Type: mustType("uint256", nil)},
	}
	v4SwapArgs = abi.Arguments{
		{Name: "actions", Type: mustType("bytes", nil)},
		{Name: "params", Type: mustType("bytes[]", nil)},
	}
)

func mustType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(fmt.Sprintf("abi type %s: %v", t, err))
	}
	return typ
}

// ExactInSingle is a single-pool exact-input swap. The output is taken to
// Recipient; the input is settled from the caller's Permit2 allowance.
type ExactInSingle struct {
	Pool             PoolKey
	TokenIn          common.Address
	AmountIn         *big.Int
	AmountOutMinimum *big.Int
	Recipient        common.Address
	HookData         []byte
}

// EncodeV4SwapInput encodes the V4_SWAP command input: a swap action
// followed by SETTLE of the input and TAKE of the output, both for the open
// delta.
func EncodeV4SwapInput(swap ExactInSingle) ([]byte, error) {
	if err := checkBound("amountIn", swap.AmountIn, 128); err != nil {
		return nil, err
	}
	if err := checkBound("amountOutMinimum", swap.AmountOutMinimum, 128); err != nil {
		return nil, err
	}
	zeroForOne, err := swap.Pool.ZeroForOne(swap.TokenIn)
	if err != nil {
		return nil, err
	}
	hookData := swap.HookData
	if hookData == nil {
		hookData = []byte{}
	}
	swapParams, err := exactInSingleArgs.Pack(exactInSingleTuple{
		PoolKey:          swap.Pool.tuple(),
		ZeroForOne:       zeroForOne,
		AmountIn:         orZero(swap.AmountIn),
		AmountOutMinimum: orZero(swap.AmountOutMinimum),
		HookData:         hookData,
	})
	if err != nil {
		return nil, fmt.Errorf("pack swap params: %w", err)
	}
	settleParams, err := settleArgs.Pack(swap.TokenIn, new(big.Int), true)
	if err != nil {
		return nil, fmt.Errorf("pack settle params: %w", err)
	}
	takeParams, err := takeArgs.Pack(swap.Pool.Other(swap.TokenIn), swap.Recipient, new(big.Int))
	if err != nil {
		return nil, fmt.Errorf("pack take params: %w", err)
	}
	actions := []byte{ActionSwapExactInSingle, ActionSettle, ActionTake}
	input, err := v4SwapArgs.Pack(actions, [][]byte{swapParams, settleParams, takeParams})
	if err != nil {
		return nil, fmt.Errorf("pack v4 swap: %w", err)
	}
	return input, nil
}

// EncodeExecute builds Universal Router execute(commands, inputs, deadline).
func EncodeExecute(commands []byte, inputs [][]byte, deadline *big.Int) ([]byte, error) {
	if len(commands) != len(inputs) {
		return nil, fmt.Errorf("execute: %d commands but %d inputs", len(commands), len(inputs))
	}
	return pack(RouterABI, "execute", commands, inputs, orZero(deadline))
}

// EncodeSwapExactInSingle builds the complete router call for one swap.
func EncodeSwapExactInSingle(swap ExactInSingle, deadline *big.Int) ([]byte, error) {
	input, err := EncodeV4SwapInput(swap)
	if err != nil {
		return nil, err
	}
	return EncodeExecute([]byte{CommandV4Swap}, [][]byte{input}, deadline)
}

// DecodedSwap is the swap recovered from router calldata.
type DecodedSwap struct {
	Commands         []byte
	Actions          []byte
	Deadline         *big.Int
	ZeroForOne       bool
	AmountIn         *big.Int
	AmountOutMinimum *big.Int
	Pool             PoolKey
	Recipient        common.Address
}

// DecodeSwapExactInSingle reverses EncodeSwapExactInSingle.
func DecodeSwapExactInSingle(data []byte) (DecodedSwap, error) {
	method, err := RouterABI.MethodById(data)
	if err != nil || method.Name != "execute" {
		return DecodedSwap{}, fmt.Errorf("%w: not an execute call", ErrUnknownMethod)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return DecodedSwap{}, fmt.Errorf("unpack execute: %w", err)
	}
	out := DecodedSwap{
		Commands: args[0].([]byte),
		Deadline: args[2].(*big.Int),
	}
	inputs := args[1].([][]byte)
	if len(inputs) != 1 {
		return DecodedSwap{}, fmt.Errorf("decode swap: expected one input, got %d", len(inputs))
	}
	v4, err := v4SwapArgs.Unpack(inputs[0])
	if err != nil {
		return DecodedSwap{}, fmt.Errorf("unpack v4 swap: %w", err)
	}
	out.Actions = v4[0].([]byte)
	params := v4[1].([][]byte)
	if len(params) != 3 {
		return DecodedSwap{}, fmt.Errorf("decode swap: expected 3 action params, got %d", len(params))
	}
	swapArgs, err := exactInSingleArgs.Unpack(params[0])
	if err != nil {
		return DecodedSwap{}, fmt.Errorf("unpack swap params: %w", err)
	}
	tuple := abi.ConvertType(swapArgs[0], new(exactInSingleTuple)).(*exactInSingleTuple)
	out.ZeroForOne = tuple.ZeroForOne
	out.AmountIn = tuple.AmountIn
	out.AmountOutMinimum = tuple.AmountOutMinimum
	out.Pool = PoolKey{
		Currency0:   tuple.PoolKey.Currency0,
		Currency1:   tuple.PoolKey.Currency1,
		Fee:         uint32(tuple.PoolKey.Fee.Uint64()),
		TickSpacing: int32(tuple.PoolKey.TickSpacing.Int64()),
		Hooks:       tuple.PoolKey.Hooks,
	}
	take, err := takeArgs.Unpack(params[2])
	if err != nil {
		return DecodedSwap{}, fmt.Errorf("unpack take params: %w", err)
	}
	out.Recipient = take[1].(common.Address)
	return out, nil
}
