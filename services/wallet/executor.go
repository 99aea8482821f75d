// Package wallet submits planned call batches through a smart account and
// tracks their outcome.
package wallet

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"goldlend/services/planner"
)

var (
	ErrNothingToSubmit = errors.New("wallet: nothing to submit")
	ErrNoDebt          = errors.New("wallet: no debt to repay")
	ErrNotConfigured   = errors.New("wallet: executor not configured")
)

// Receipt is the confirmed result of a batch.
type Receipt struct {
	Hash        common.Hash `json:"hash"`
	BlockNumber uint64      `json:"blockNumber"`
}

// Executor submits a batch atomically on behalf of account and blocks until
// it is confirmed or fails.
type Executor interface {
	SendBatch(ctx context.Context, account common.Address, calls []planner.Call) (Receipt, error)
}

// FuncExecutor adapts a callback to the Executor interface.
type FuncExecutor struct {
	SendFunc func(ctx context.Context, account common.Address, calls []planner.Call) (Receipt, error)
}

// SendBatch delegates to the configured callback.
func (f FuncExecutor) SendBatch(ctx context.Context, account common.Address, calls []planner.Call) (Receipt, error) {
	if f.SendFunc == nil {
		return Receipt{}, ErrNotConfigured
	}
	return f.SendFunc(ctx, account, calls)
}
