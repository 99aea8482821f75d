package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"goldlend/observability/metrics"
	"goldlend/services/planner"
)

// Invalidator drops cached snapshots of an account after it changed on
// chain.
type Invalidator interface {
	InvalidateAccount(ctx context.Context, account common.Address)
}

// Observer receives every state an action passes through.
type Observer func(State)

// Action is one user request: the intent and how to plan it.
type Action struct {
	Intent  planner.Intent
	Account common.Address
	Plan    func(ctx context.Context) (planner.Batch, error)
}

// Runner drives actions through pending → confirming → success | error.
type Runner struct {
	executor    Executor
	invalidator Invalidator
	logger      *slog.Logger
	metrics     *metrics.GoldlendMetrics
	now         func() time.Time
}

// RunnerOption customises a Runner.
type RunnerOption func(*Runner)

func WithInvalidator(inv Invalidator) RunnerOption {
	return func(r *Runner) { r.invalidator = inv }
}

func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithRunnerMetrics(m *metrics.GoldlendMetrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner binds an executor.
func NewRunner(executor Executor, opts ...RunnerOption) (*Runner, error) {
	if executor == nil {
		return nil, ErrNotConfigured
	}
	r := &Runner{executor: executor, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Run plans and submits the action, reporting each state to observe, and
// returns the terminal state. Planning honours ctx; once the batch is
// handed to the executor the submission runs to completion even if ctx is
// cancelled.
func (r *Runner) Run(ctx context.Context, action Action, observe Observer) State {
	if observe == nil {
		observe = func(State) {}
	}
	state, _ := State{Status: StatusIdle}.Pending(r.now())
	observe(state)

	if action.Plan == nil {
		return r.fail(action, state, fmt.Errorf("%w: no planner for %s", ErrNotConfigured, action.Intent), observe)
	}
	batch, err := action.Plan(ctx)
	if err != nil {
		return r.fail(action, state, err, observe)
	}
	if batch.Empty() {
		if action.Intent == planner.IntentRepay || action.Intent == planner.IntentRepayFull {
			return r.fail(action, state, ErrNoDebt, observe)
		}
		return r.fail(action, state, ErrNothingToSubmit, observe)
	}

	state, _ = state.Confirming(r.now())
	observe(state)

	submitCtx := context.WithoutCancel(ctx)
	receipt, err := r.executor.SendBatch(submitCtx, action.Account, batch.Calls)
	if err != nil {
		return r.fail(action, state, err, observe)
	}
	state, _ = state.Succeeded(receipt.Hash, r.now())
	if r.invalidator != nil {
		r.invalidator.InvalidateAccount(submitCtx, action.Account)
	}
	r.logger.Info("action confirmed",
		slog.String("intent", string(action.Intent)),
		slog.String("account", action.Account.Hex()),
		slog.String("tx", receipt.Hash.Hex()),
		slog.Uint64("block", receipt.BlockNumber))
	r.metrics.ObserveAction(string(action.Intent), string(StatusSuccess), "")
	observe(state)
	return state
}

func (r *Runner) fail(action Action, state State, err error, observe Observer) State {
	failure := Classify(err)
	next, _ := state.Failed(failure, r.now())
	r.logger.Warn("action failed",
		slog.String("intent", string(action.Intent)),
		slog.String("account", action.Account.Hex()),
		slog.String("code", string(failure.Code)),
		slog.Any("error", err))
	r.metrics.ObserveAction(string(action.Intent), string(StatusError), string(failure.Code))
	observe(next)
	return next
}
