package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"goldlend/contracts"
	"goldlend/native/lending"
	"goldlend/observability/metrics"
)

// ChainSource reads directly from the lending contract through an RPC node.
type ChainSource struct {
	caller  ethereum.ContractCaller
	lending common.Address
	logger  *slog.Logger
	metrics *metrics.GoldlendMetrics
	now     func() time.Time
}

// ChainOption customises a ChainSource.
type ChainOption func(*ChainSource)

func WithChainLogger(logger *slog.Logger) ChainOption {
	return func(c *ChainSource) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithChainMetrics(m *metrics.GoldlendMetrics) ChainOption {
	return func(c *ChainSource) { c.metrics = m }
}

// NewChainSource binds a contract caller, typically an *ethclient.Client,
// to the lending contract address.
func NewChainSource(caller ethereum.ContractCaller, lendingAddr common.Address, opts ...ChainOption) (*ChainSource, error) {
	if caller == nil {
		return nil, fmt.Errorf("%w: contract caller required", ErrNotConfigured)
	}
	if lendingAddr == (common.Address{}) {
		return nil, fmt.Errorf("%w: lending address required", ErrNotConfigured)
	}
	c := &ChainSource{caller: caller, lending: lendingAddr, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func (c *ChainSource) Name() string { return string(lending.SourceChain) }

func (c *ChainSource) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("eth_call %s: %w", to.Hex(), err)
	}
	return out, nil
}

func (c *ChainSource) MarketParams(ctx context.Context, id lending.MarketID) (lending.MarketParams, error) {
	data, err := contracts.EncodeIDToMarketParams(id)
	if err != nil {
		return lending.MarketParams{}, err
	}
	out, err := c.call(ctx, c.lending, data)
	if err != nil {
		return lending.MarketParams{}, err
	}
	params, err := contracts.DecodeMarketParams(out)
	if err != nil {
		return lending.MarketParams{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if params.IsZero() {
		return lending.MarketParams{}, fmt.Errorf("%w: market %s", ErrNotFound, id.Hex())
	}
	return params, nil
}

// OraclePrice reads the oracle's collateral price. A failed read yields the
// unit price 1e36 so consumers can still render a snapshot.
func (c *ChainSource) OraclePrice(ctx context.Context, oracle common.Address) *big.Int {
	unit := new(big.Int).Set(lending.OracleScale)
	if oracle == (common.Address{}) {
		return unit
	}
	data, err := contracts.EncodeOraclePrice()
	if err == nil {
		var out []byte
		out, err = c.call(ctx, oracle, data)
		if err == nil {
			var price *big.Int
			price, err = contracts.DecodeUint256("price", out)
			if err == nil {
				return price
			}
		}
	}
	c.logger.Warn("oracle price unavailable, using unit price",
		slog.String("oracle", oracle.Hex()),
		slog.Any("error", err))
	c.metrics.IncOracleFallback()
	return unit
}

func (c *ChainSource) Market(ctx context.Context, id lending.MarketID) (lending.Market, error) {
	var (
		params lending.MarketParams
		raw    contracts.RawMarket
		price  *big.Int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		params, err = c.MarketParams(gctx, id)
		if err != nil {
			return err
		}
		price = c.OraclePrice(gctx, params.Oracle)
		return nil
	})
	g.Go(func() error {
		data, err := contracts.EncodeMarket(id)
		if err != nil {
			return err
		}
		out, err := c.call(gctx, c.lending, data)
		if err != nil {
			return err
		}
		raw, err = contracts.DecodeMarket(out)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return lending.Market{}, err
	}
	if raw.LastUpdate == nil || raw.LastUpdate.Sign() == 0 {
		return lending.Market{}, fmt.Errorf("%w: market %s not created", ErrNotFound, id.Hex())
	}
	market := lending.NewMarket(id, params,
		raw.TotalSupplyAssets, raw.TotalSupplyShares,
		raw.TotalBorrowAssets, raw.TotalBorrowShares,
		raw.LastUpdate.Uint64(), raw.Fee, price)
	market.Source = lending.SourceChain
	market.FetchedAt = c.now()
	return market, nil
}

// Position reads the account's balances. Debt shares are converted against
// the contract's own share totals: when the supplied market came from another
// source, or carries no borrow share totals, market() is read again.
func (c *ChainSource) Position(ctx context.Context, market lending.Market, account common.Address) (lending.Position, error) {
	data, err := contracts.EncodePosition(market.ID, account)
	if err != nil {
		return lending.Position{}, err
	}
	out, err := c.call(ctx, c.lending, data)
	if err != nil {
		return lending.Position{}, err
	}
	raw, err := contracts.DecodePosition(out)
	if err != nil {
		return lending.Position{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	totals := market
	if hasShares(raw.BorrowShares) && !hasBorrowTotals(market) {
		totals, err = c.shareTotals(ctx, market)
		if err != nil {
			return lending.Position{}, fmt.Errorf("read share totals: %w", err)
		}
	}
	pos := lending.NewPosition(account, totals, raw.SupplyShares, raw.BorrowShares, raw.Collateral)
	if pos.HasDebt() && pos.BorrowedAssets.Sign() == 0 {
		return lending.Position{}, fmt.Errorf("%w: %s holds borrow shares without assets", ErrBadResponse, account.Hex())
	}
	pos.Source = lending.SourceChain
	pos.FetchedAt = c.now()
	return pos, nil
}

func hasShares(v *big.Int) bool { return v != nil && v.Sign() > 0 }

func hasBorrowTotals(market lending.Market) bool {
	return market.Source == lending.SourceChain && hasShares(market.TotalBorrowShares)
}

// shareTotals returns market with its supply and borrow totals replaced by
// the contract's current values.
func (c *ChainSource) shareTotals(ctx context.Context, market lending.Market) (lending.Market, error) {
	data, err := contracts.EncodeMarket(market.ID)
	if err != nil {
		return lending.Market{}, err
	}
	out, err := c.call(ctx, c.lending, data)
	if err != nil {
		return lending.Market{}, err
	}
	raw, err := contracts.DecodeMarket(out)
	if err != nil {
		return lending.Market{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	market.TotalSupplyAssets = raw.TotalSupplyAssets
	market.TotalSupplyShares = raw.TotalSupplyShares
	market.TotalBorrowAssets = raw.TotalBorrowAssets
	market.TotalBorrowShares = raw.TotalBorrowShares
	return market, nil
}

// Allowance reads the ERC20 allowance granted by owner to spender.
func (c *ChainSource) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := contracts.EncodeAllowance(owner, spender)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, token, data)
	if err != nil {
		return nil, err
	}
	return contracts.DecodeUint256("allowance", out)
}

// BalanceOf reads an ERC20 balance.
func (c *ChainSource) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	data, err := contracts.EncodeBalanceOf(account)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, token, data)
	if err != nil {
		return nil, err
	}
	return contracts.DecodeUint256("balanceOf", out)
}

// Permit2Allowance reads the Permit2 allowance owner granted spender for
// token. Expired allowances read as zero.
func (c *ChainSource) Permit2Allowance(ctx context.Context, permit2, owner, token, spender common.Address) (*big.Int, error) {
	data, err := contracts.EncodePermit2Allowance(owner, token, spender)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, permit2, data)
	if err != nil {
		return nil, err
	}
	allowance, err := contracts.DecodePermit2Allowance(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if allowance.Expiration != 0 && int64(allowance.Expiration) <= c.now().Unix() {
		return new(big.Int), nil
	}
	return allowance.Amount, nil
}
