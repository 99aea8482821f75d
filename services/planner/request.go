package planner

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Request carries the parameters of any intent. Only the fields relevant to
// Intent are read.
type Request struct {
	Intent  Intent
	Account common.Address

	// IntentSupplyBorrow
	Collateral *big.Int
	Borrow     *big.Int

	// IntentRepay, IntentWithdraw, IntentTransfer
	Amount *big.Int

	// IntentSwap
	Swap SwapRequest

	// IntentTransfer
	Token common.Address
	To    common.Address
}

// Plan dispatches a request to the matching intent planner.
func (p *Planner) Plan(ctx context.Context, req Request) (Batch, error) {
	switch req.Intent {
	case IntentSupplyBorrow:
		return p.SupplyAndBorrow(ctx, req.Account, req.Collateral, req.Borrow)
	case IntentRepay:
		return p.Repay(ctx, req.Account, req.Amount)
	case IntentRepayFull:
		return p.RepayFull(ctx, req.Account)
	case IntentWithdraw:
		return p.WithdrawCollateral(ctx, req.Account, req.Amount)
	case IntentSwap:
		return p.Swap(ctx, req.Account, req.Swap)
	case IntentTransfer:
		return p.Transfer(ctx, req.Account, req.Token, req.To, req.Amount)
	default:
		return Batch{}, fmt.Errorf("%w: %q", ErrUnknownIntent, req.Intent)
	}
}
