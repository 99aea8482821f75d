package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"goldlend/config"
	"goldlend/contracts"
	"goldlend/native/lending"
	"goldlend/native/swap"
)

const (
	// DefaultDeadline bounds how long a planned swap stays executable.
	DefaultDeadline = 30 * time.Minute
	// PermitLifetime is the validity of the router's Permit2 allowance.
	PermitLifetime = 4 * 365 * 24 * time.Hour
)

var (
	ErrInvalidAmount   = errors.New("planner: amount must be positive")
	ErrInvalidAccount  = errors.New("planner: account required")
	ErrUnknownIntent   = errors.New("planner: unknown intent")
	ErrUnsupportedPair = errors.New("planner: unsupported token")
	ErrMarketMismatch  = errors.New("planner: market does not match configured tokens")
	ErrExpired         = errors.New("planner: deadline already passed")
)

// Reader supplies the live on-chain state planning depends on. Positions
// must be read fresh rather than from a display cache.
type Reader interface {
	MarketParams(ctx context.Context) (lending.MarketParams, error)
	LivePosition(ctx context.Context, account common.Address) (lending.Position, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	Permit2Allowance(ctx context.Context, owner, token, spender common.Address) (*big.Int, error)
}

// Planner turns user intents into ordered call batches, including only the
// approvals the observed allowances require.
type Planner struct {
	network config.Network
	reader  Reader
	pool    contracts.PoolKey
	now     func() time.Time
	logger  *slog.Logger
}

// Option customises a Planner.
type Option func(*Planner)

// WithClock overrides the time source used for deadlines and expirations.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Planner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New constructs a planner over the network registry.
func New(network config.Network, reader Reader, opts ...Option) (*Planner, error) {
	if reader == nil {
		return nil, fmt.Errorf("planner: reader required")
	}
	if err := network.Validate(); err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	p := &Planner{
		network: network,
		reader:  reader,
		pool:    contracts.NewPoolKey(network.Stable.Address, network.Gold.Address, network.Pool.Fee, network.Pool.TickSpacing, network.Pool.Hooks),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Pool returns the swap pool key derived from the registry.
func (p *Planner) Pool() contracts.PoolKey { return p.pool }

func positive(v *big.Int) bool { return v != nil && v.Sign() > 0 }

func (p *Planner) marketParams(ctx context.Context) (lending.MarketParams, error) {
	params, err := p.reader.MarketParams(ctx)
	if err != nil {
		return lending.MarketParams{}, fmt.Errorf("read market params: %w", err)
	}
	if params.LoanToken != p.network.Stable.Address || params.CollateralToken != p.network.Gold.Address {
		return lending.MarketParams{}, fmt.Errorf("%w: loan %s collateral %s", ErrMarketMismatch, params.LoanToken.Hex(), params.CollateralToken.Hex())
	}
	return params, nil
}

// SupplyAndBorrow plans approve → supplyCollateral → borrow. The borrow call
// is omitted when borrow is zero.
func (p *Planner) SupplyAndBorrow(ctx context.Context, account common.Address, collateral, borrow *big.Int) (Batch, error) {
	if account == (common.Address{}) {
		return Batch{}, ErrInvalidAccount
	}
	if !positive(collateral) {
		return Batch{}, fmt.Errorf("%w: collateral", ErrInvalidAmount)
	}
	if borrow != nil && borrow.Sign() < 0 {
		return Batch{}, fmt.Errorf("%w: borrow", ErrInvalidAmount)
	}
	params, err := p.marketParams(ctx)
	if err != nil {
		return Batch{}, err
	}
	lendingAddr := p.network.Contracts.Lending
	batch := Batch{Intent: IntentSupplyBorrow, Account: account}

	approve, err := contracts.EncodeApprove(lendingAddr, collateral)
	if err != nil {
		return Batch{}, err
	}
	batch.add(params.CollateralToken, approve)

	supply, err := contracts.EncodeSupplyCollateral(params, collateral, account)
	if err != nil {
		return Batch{}, err
	}
	batch.add(lendingAddr, supply)

	if positive(borrow) {
		borrowData, err := contracts.EncodeBorrow(params, borrow, nil, account, account)
		if err != nil {
			return Batch{}, err
		}
		batch.add(lendingAddr, borrowData)
	}
	return batch, nil
}

// Repay plans repayment of amount. When amount covers the current debt the
// share-denominated full repayment is planned instead and the batch carries
// IntentRepayFull; a position without debt yields an empty batch.
func (p *Planner) Repay(ctx context.Context, account common.Address, amount *big.Int) (Batch, error) {
	if account == (common.Address{}) {
		return Batch{}, ErrInvalidAccount
	}
	if !positive(amount) {
		return Batch{}, fmt.Errorf("%w: repay", ErrInvalidAmount)
	}
	params, pos, err := p.paramsAndPosition(ctx, account)
	if err != nil {
		return Batch{}, err
	}
	if !pos.HasDebt() || amount.Cmp(pos.BorrowedAssets) >= 0 {
		return p.repayShares(params, account, pos.BorrowShares)
	}

	lendingAddr := p.network.Contracts.Lending
	batch := Batch{Intent: IntentRepay, Account: account}
	approve, err := contracts.EncodeApprove(lendingAddr, amount)
	if err != nil {
		return Batch{}, err
	}
	batch.add(params.LoanToken, approve)
	repay, err := contracts.EncodeRepay(params, amount, nil, account)
	if err != nil {
		return Batch{}, err
	}
	batch.add(lendingAddr, repay)
	return batch, nil
}

// RepayFull plans an exact debt clearance by shares with an unlimited
// approval, tolerating interest accrued before execution.
func (p *Planner) RepayFull(ctx context.Context, account common.Address) (Batch, error) {
	if account == (common.Address{}) {
		return Batch{}, ErrInvalidAccount
	}
	params, pos, err := p.paramsAndPosition(ctx, account)
	if err != nil {
		return Batch{}, err
	}
	return p.repayShares(params, account, pos.BorrowShares)
}

func (p *Planner) repayShares(params lending.MarketParams, account common.Address, shares *big.Int) (Batch, error) {
	batch := Batch{Intent: IntentRepayFull, Account: account}
	if !positive(shares) {
		return batch, nil
	}
	lendingAddr := p.network.Contracts.Lending
	approve, err := contracts.EncodeApprove(lendingAddr, contracts.MaxUint256())
	if err != nil {
		return Batch{}, err
	}
	batch.add(params.LoanToken, approve)
	repay, err := contracts.EncodeRepay(params, nil, shares, account)
	if err != nil {
		return Batch{}, err
	}
	batch.add(lendingAddr, repay)
	return batch, nil
}

func (p *Planner) paramsAndPosition(ctx context.Context, account common.Address) (lending.MarketParams, lending.Position, error) {
	var (
		params lending.MarketParams
		pos    lending.Position
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		params, err = p.marketParams(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		pos, err = p.reader.LivePosition(gctx, account)
		if err != nil {
			return fmt.Errorf("read position: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return lending.MarketParams{}, lending.Position{}, err
	}
	return params, pos, nil
}

// WithdrawCollateral plans a collateral withdrawal to the account itself.
func (p *Planner) WithdrawCollateral(ctx context.Context, account common.Address, amount *big.Int) (Batch, error) {
	if account == (common.Address{}) {
		return Batch{}, ErrInvalidAccount
	}
	if !positive(amount) {
		return Batch{}, fmt.Errorf("%w: withdraw", ErrInvalidAmount)
	}
	params, err := p.marketParams(ctx)
	if err != nil {
		return Batch{}, err
	}
	data, err := contracts.EncodeWithdrawCollateral(params, amount, account, account)
	if err != nil {
		return Batch{}, err
	}
	batch := Batch{Intent: IntentWithdraw, Account: account}
	batch.add(p.network.Contracts.Lending, data)
	return batch, nil
}

// SwapRequest describes an exact-input swap.
type SwapRequest struct {
	Direction    swap.Direction
	AmountIn     *big.Int
	// MinAmountOut is the slippage floor; it must be positive.
	MinAmountOut *big.Int
	// Deadline defaults to DefaultDeadline from now when zero.
	Deadline time.Time
}

// TokenIn resolves the input token of a direction.
func (p *Planner) TokenIn(direction swap.Direction) (config.Token, error) {
	switch direction {
	case swap.StableToGold:
		return p.network.Stable, nil
	case swap.GoldToStable:
		return p.network.Gold, nil
	default:
		return config.Token{}, fmt.Errorf("%w: direction %q", ErrUnsupportedPair, direction)
	}
}

// Swap plans [approve(tokenIn → Permit2)?, permit2.approve(router)?,
// router.execute]. Each approval is included only when the observed
// allowance is below AmountIn.
func (p *Planner) Swap(ctx context.Context, account common.Address, req SwapRequest) (Batch, error) {
	if account == (common.Address{}) {
		return Batch{}, ErrInvalidAccount
	}
	if !positive(req.AmountIn) {
		return Batch{}, fmt.Errorf("%w: amount in", ErrInvalidAmount)
	}
	if !contracts.FitsUint128(req.AmountIn) {
		return Batch{}, fmt.Errorf("%w: amount in exceeds uint128", contracts.ErrAmountOverflow)
	}
	if !positive(req.MinAmountOut) {
		return Batch{}, fmt.Errorf("%w: minimum out must be a positive floor", ErrInvalidAmount)
	}
	tokenIn, err := p.TokenIn(req.Direction)
	if err != nil {
		return Batch{}, err
	}
	now := p.now()
	deadline := req.Deadline
	if deadline.IsZero() {
		deadline = now.Add(DefaultDeadline)
	}
	if !deadline.After(now) {
		return Batch{}, ErrExpired
	}

	permit2 := p.network.Contracts.Permit2
	router := p.network.Contracts.UniversalRouter
	var tokenAllowance, routerAllowance *big.Int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tokenAllowance, err = p.reader.Allowance(gctx, tokenIn.Address, account, permit2)
		if err != nil {
			return fmt.Errorf("read token allowance: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		routerAllowance, err = p.reader.Permit2Allowance(gctx, account, tokenIn.Address, router)
		if err != nil {
			return fmt.Errorf("read permit2 allowance: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Batch{}, err
	}

	batch := Batch{Intent: IntentSwap, Account: account}
	if tokenAllowance == nil || tokenAllowance.Cmp(req.AmountIn) < 0 {
		approve, err := contracts.EncodeApprove(permit2, req.AmountIn)
		if err != nil {
			return Batch{}, err
		}
		batch.add(tokenIn.Address, approve)
	}
	if routerAllowance == nil || routerAllowance.Cmp(req.AmountIn) < 0 {
		expiration := uint64(now.Add(PermitLifetime).Unix())
		permit, err := contracts.EncodePermit2Approve(tokenIn.Address, router, contracts.MaxUint160(), expiration)
		if err != nil {
			return Batch{}, err
		}
		batch.add(permit2, permit)
	}
	execute, err := contracts.EncodeSwapExactInSingle(contracts.ExactInSingle{
		Pool:             p.pool,
		TokenIn:          tokenIn.Address,
		AmountIn:         req.AmountIn,
		AmountOutMinimum: req.MinAmountOut,
		Recipient:        account,
	}, big.NewInt(deadline.Unix()))
	if err != nil {
		return Batch{}, err
	}
	batch.add(router, execute)
	p.logger.Debug("planned swap",
		slog.String("account", account.Hex()),
		slog.String("direction", string(req.Direction)),
		slog.Int("calls", len(batch.Calls)))
	return batch, nil
}

// Transfer plans an ERC20 transfer of a registry token out of the account.
func (p *Planner) Transfer(ctx context.Context, account common.Address, token common.Address, to common.Address, amount *big.Int) (Batch, error) {
	if account == (common.Address{}) || to == (common.Address{}) {
		return Batch{}, ErrInvalidAccount
	}
	if !positive(amount) {
		return Batch{}, fmt.Errorf("%w: transfer", ErrInvalidAmount)
	}
	if _, ok := p.network.Token(token.Hex()); !ok {
		return Batch{}, fmt.Errorf("%w: %s", ErrUnsupportedPair, token.Hex())
	}
	data, err := contracts.EncodeTransfer(to, amount)
	if err != nil {
		return Batch{}, err
	}
	batch := Batch{Intent: IntentTransfer, Account: account}
	batch.add(token, data)
	return batch, nil
}
