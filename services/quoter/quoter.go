// Package quoter estimates swap outputs against the concentrated liquidity
// pool through the on-chain quoter contract.
package quoter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"goldlend/config"
	"goldlend/contracts"
	"goldlend/native/swap"
)

var (
	ErrInvalidAmount = errors.New("quoter: amount must be positive")
	ErrNoLiquidity   = errors.New("quoter: pool returned no output")
	ErrQuoteFailed   = errors.New("quoter: quote failed")
)

// Quoter simulates exact-input swaps through the quoter contract.
type Quoter struct {
	caller  ethereum.ContractCaller
	address common.Address
	pool    contracts.PoolKey
	stable  common.Address
	gold    common.Address
	logger  *slog.Logger
}

// New builds a quoter for the network's pool.
func New(caller ethereum.ContractCaller, network config.Network, logger *slog.Logger) (*Quoter, error) {
	if caller == nil {
		return nil, fmt.Errorf("quoter: contract caller required")
	}
	if network.Contracts.Quoter == (common.Address{}) {
		return nil, fmt.Errorf("quoter: quoter address required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Quoter{
		caller:  caller,
		address: network.Contracts.Quoter,
		pool:    contracts.NewPoolKey(network.Stable.Address, network.Gold.Address, network.Pool.Fee, network.Pool.TickSpacing, network.Pool.Hooks),
		stable:  network.Stable.Address,
		gold:    network.Gold.Address,
		logger:  logger,
	}, nil
}

func (q *Quoter) tokenIn(direction swap.Direction) (common.Address, error) {
	switch direction {
	case swap.StableToGold:
		return q.stable, nil
	case swap.GoldToStable:
		return q.gold, nil
	default:
		return common.Address{}, fmt.Errorf("quoter: unknown direction %q", direction)
	}
}

// Estimate returns the expected output for amountIn.
func (q *Quoter) Estimate(ctx context.Context, direction swap.Direction, amountIn *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	token, err := q.tokenIn(direction)
	if err != nil {
		return nil, err
	}
	data, err := contracts.EncodeQuoteExactInputSingle(q.pool, token, amountIn)
	if err != nil {
		return nil, err
	}
	to := q.address
	out, err := q.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		if amount, ok := quoteFromRevert(err); ok {
			return checkOutput(amount)
		}
		return nil, fmt.Errorf("%w: %v", ErrQuoteFailed, err)
	}
	amount, _, err := contracts.DecodeQuoteExactInputSingle(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuoteFailed, err)
	}
	return checkOutput(amount)
}

func checkOutput(amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrNoLiquidity
	}
	return amount, nil
}

// quoteFromRevert recovers the amount from quoters that report through a
// QuoteSwap revert.
func quoteFromRevert(err error) (*big.Int, bool) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return nil, false
	}
	raw, ok := dataErr.ErrorData().(string)
	if !ok {
		return nil, false
	}
	data, decodeErr := hexutil.Decode(raw)
	if decodeErr != nil {
		return nil, false
	}
	return contracts.DecodeQuoteSwapRevert(data)
}

// Quote estimates the output and applies the slippage tolerance.
func (q *Quoter) Quote(ctx context.Context, direction swap.Direction, amountIn *big.Int, slippage float64) (swap.Quote, error) {
	if _, err := swap.ToleranceBps(slippage); err != nil {
		return swap.Quote{}, err
	}
	out, err := q.Estimate(ctx, direction, amountIn)
	if err != nil {
		return swap.Quote{}, err
	}
	q.logger.Debug("swap quoted",
		slog.String("direction", string(direction)),
		slog.String("amount_in", amountIn.String()),
		slog.String("amount_out", out.String()))
	return swap.NewQuote(direction, amountIn, out, slippage)
}
