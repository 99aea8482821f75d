package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"goldlend/native/lending"
	"goldlend/observability/metrics"
)

const (
	DefaultMarketTTL   = 30 * time.Second
	DefaultPositionTTL = 15 * time.Second
)

// TokenReader reads ERC20 and Permit2 state. ChainSource implements it.
type TokenReader interface {
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	Permit2Allowance(ctx context.Context, permit2, owner, token, spender common.Address) (*big.Int, error)
	BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error)
}

// HistoryReader reads indexed history. IndexerSource implements it.
type HistoryReader interface {
	Transactions(ctx context.Context, id lending.MarketID, account common.Address) ([]Transaction, error)
	MarketHistory(ctx context.Context, id lending.MarketID, from, to time.Time) ([]HistoricalState, error)
}

// Config wires a Service.
type Config struct {
	MarketID    lending.MarketID
	Permit2     common.Address
	Tokens      []common.Address
	Source      Source
	Reader      TokenReader
	History     HistoryReader
	Cache       Cache
	MarketTTL   time.Duration
	PositionTTL time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.GoldlendMetrics
}

// Service serves market and position snapshots for one market. It owns the
// market parameter cache for the session and a TTL cache of snapshots;
// both are cleared explicitly through Invalidate and InvalidateAccount.
type Service struct {
	id          lending.MarketID
	permit2     common.Address
	tokens      []common.Address
	source      Source
	reader      TokenReader
	history     HistoryReader
	cache       Cache
	marketTTL   time.Duration
	positionTTL time.Duration
	logger      *slog.Logger
	metrics     *metrics.GoldlendMetrics

	mu       sync.Mutex
	params   *lending.MarketParams
	accounts map[common.Address]struct{}
}

// NewService validates the configuration and builds a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("%w: snapshot source required", ErrNotConfigured)
	}
	if cfg.MarketID == (lending.MarketID{}) {
		return nil, fmt.Errorf("%w: market id required", ErrNotConfigured)
	}
	if cfg.Cache == nil {
		cache, err := NewMemoryCache(0)
		if err != nil {
			return nil, err
		}
		cfg.Cache = cache
	}
	if cfg.MarketTTL <= 0 {
		cfg.MarketTTL = DefaultMarketTTL
	}
	if cfg.PositionTTL <= 0 {
		cfg.PositionTTL = DefaultPositionTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		id:          cfg.MarketID,
		permit2:     cfg.Permit2,
		tokens:      append([]common.Address(nil), cfg.Tokens...),
		source:      cfg.Source,
		reader:      cfg.Reader,
		history:     cfg.History,
		cache:       cfg.Cache,
		marketTTL:   cfg.MarketTTL,
		positionTTL: cfg.PositionTTL,
		logger:      logger,
		metrics:     cfg.Metrics,
		accounts:    make(map[common.Address]struct{}),
	}, nil
}

// MarketID returns the served market.
func (s *Service) MarketID() lending.MarketID { return s.id }

func marketKey(id lending.MarketID) string { return "market:" + strings.ToLower(id.Hex()) }

func positionKey(id lending.MarketID, account common.Address) string {
	return "position:" + strings.ToLower(id.Hex()) + ":" + strings.ToLower(account.Hex())
}

// MarketParams returns the market parameters, reading them once per session.
func (s *Service) MarketParams(ctx context.Context) (lending.MarketParams, error) {
	s.mu.Lock()
	cached := s.params
	s.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}
	params, err := s.source.MarketParams(ctx, s.id)
	if err != nil {
		return lending.MarketParams{}, fmt.Errorf("read market params: %w", err)
	}
	s.mu.Lock()
	s.params = &params
	s.mu.Unlock()
	return params, nil
}

// Market returns the market snapshot, served from cache within its TTL.
func (s *Service) Market(ctx context.Context) (lending.Market, error) {
	var market lending.Market
	if s.lookup(ctx, "market", marketKey(s.id), &market) {
		return market, nil
	}
	return s.RefreshMarket(ctx)
}

// RefreshMarket reads the market from the source and replaces the cached
// snapshot.
func (s *Service) RefreshMarket(ctx context.Context) (lending.Market, error) {
	market, err := s.source.Market(ctx, s.id)
	if err != nil {
		return lending.Market{}, fmt.Errorf("read market: %w", err)
	}
	s.store(ctx, marketKey(s.id), market, s.marketTTL)
	return market, nil
}

// Position returns the account's snapshot, served from cache within its TTL.
func (s *Service) Position(ctx context.Context, account common.Address) (lending.Position, error) {
	var pos lending.Position
	if s.lookup(ctx, "position", positionKey(s.id, account), &pos) {
		return pos, nil
	}
	market, err := s.Market(ctx)
	if err != nil {
		return lending.Position{}, err
	}
	return s.readPosition(ctx, market, account)
}

// LivePosition bypasses the caches and reads the market and position fresh.
// Planning uses it so debt figures are never stale.
func (s *Service) LivePosition(ctx context.Context, account common.Address) (lending.Position, error) {
	market, err := s.RefreshMarket(ctx)
	if err != nil {
		return lending.Position{}, err
	}
	return s.readPosition(ctx, market, account)
}

// RefreshPosition reads the account against market and replaces its cached
// snapshot.
func (s *Service) RefreshPosition(ctx context.Context, market lending.Market, account common.Address) (lending.Position, error) {
	return s.readPosition(ctx, market, account)
}

func (s *Service) readPosition(ctx context.Context, market lending.Market, account common.Address) (lending.Position, error) {
	pos, err := s.source.Position(ctx, market, account)
	if err != nil {
		return lending.Position{}, fmt.Errorf("read position %s: %w", account.Hex(), err)
	}
	s.mu.Lock()
	s.accounts[account] = struct{}{}
	s.mu.Unlock()
	s.store(ctx, positionKey(s.id, account), pos, s.positionTTL)
	return pos, nil
}

// Snapshot pairs a market and a position read together.
type Snapshot struct {
	Market   lending.Market
	Position lending.Position
	Balances map[common.Address]*big.Int
}

// Snapshot reads the account's position and token balances concurrently.
func (s *Service) Snapshot(ctx context.Context, account common.Address) (Snapshot, error) {
	market, err := s.Market(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Market: market, Balances: make(map[common.Address]*big.Int, len(s.tokens))}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var pos lending.Position
		if s.lookup(gctx, "position", positionKey(s.id, account), &pos) {
			snap.Position = pos
			return nil
		}
		pos, err := s.readPosition(gctx, market, account)
		snap.Position = pos
		return err
	})
	if s.reader != nil {
		for _, token := range s.tokens {
			token := token
			g.Go(func() error {
				balance, err := s.reader.BalanceOf(gctx, token, account)
				if err != nil {
					return fmt.Errorf("read balance %s: %w", token.Hex(), err)
				}
				mu.Lock()
				snap.Balances[token] = balance
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Allowance reads an ERC20 allowance from the chain.
func (s *Service) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	if s.reader == nil {
		return nil, fmt.Errorf("%w: token reader", ErrNotConfigured)
	}
	return s.reader.Allowance(ctx, token, owner, spender)
}

// Permit2Allowance reads the router allowance held in Permit2.
func (s *Service) Permit2Allowance(ctx context.Context, owner, token, spender common.Address) (*big.Int, error) {
	if s.reader == nil {
		return nil, fmt.Errorf("%w: token reader", ErrNotConfigured)
	}
	return s.reader.Permit2Allowance(ctx, s.permit2, owner, token, spender)
}

// History lists the account's position transactions.
func (s *Service) History(ctx context.Context, account common.Address) ([]Transaction, error) {
	if s.history == nil {
		return nil, fmt.Errorf("%w: history reader", ErrNotConfigured)
	}
	return s.history.Transactions(ctx, s.id, account)
}

// MarketHistory lists the market's indexed states between from and to.
func (s *Service) MarketHistory(ctx context.Context, from, to time.Time) ([]HistoricalState, error) {
	if s.history == nil {
		return nil, fmt.Errorf("%w: history reader", ErrNotConfigured)
	}
	return s.history.MarketHistory(ctx, s.id, from, to)
}

// InvalidateAccount drops the account's cached position and the market
// snapshot it affects.
func (s *Service) InvalidateAccount(ctx context.Context, account common.Address) {
	if err := s.cache.Delete(ctx, marketKey(s.id), positionKey(s.id, account)); err != nil {
		s.logger.Warn("cache invalidation failed", slog.String("account", account.Hex()), slog.Any("error", err))
	}
}

// Invalidate clears the parameter cache and every snapshot the service has
// stored, ending the session.
func (s *Service) Invalidate(ctx context.Context) {
	s.mu.Lock()
	s.params = nil
	keys := make([]string, 0, len(s.accounts)+1)
	keys = append(keys, marketKey(s.id))
	for account := range s.accounts {
		keys = append(keys, positionKey(s.id, account))
	}
	s.accounts = make(map[common.Address]struct{})
	s.mu.Unlock()
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("cache invalidation failed", slog.Any("error", err))
	}
}

func (s *Service) lookup(ctx context.Context, kind, key string, out any) bool {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache read failed", slog.String("key", key), slog.Any("error", err))
		return false
	}
	if ok {
		if err := json.Unmarshal(raw, out); err != nil {
			s.logger.Warn("discarding undecodable cache entry", slog.String("key", key), slog.Any("error", err))
			ok = false
		}
	}
	s.metrics.ObserveCacheLookup(kind, ok)
	return ok
}

func (s *Service) store(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("cache encode failed", slog.String("key", key), slog.Any("error", err))
		return
	}
	if err := s.cache.Set(ctx, key, raw, ttl); err != nil {
		s.logger.Warn("cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}
