package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"goldlend/native/lending"
	"goldlend/observability/metrics"
)

// Source refreshes snapshots, replacing whatever is cached.
type Source interface {
	RefreshMarket(ctx context.Context) (lending.Market, error)
	RefreshPosition(ctx context.Context, market lending.Market, account common.Address) (lending.Position, error)
}

// Update is a refreshed position with its risk against the same market
// snapshot.
type Update struct {
	Position lending.Position `json:"position"`
	Risk     lending.Risk     `json:"risk"`
	At       time.Time        `json:"at"`
}

// Poller keeps the market and watched positions warm in the cache and fans
// position refreshes out to subscribers.
type Poller struct {
	source           Source
	logger           *slog.Logger
	metrics          *metrics.GoldlendMetrics
	marketInterval   time.Duration
	positionInterval time.Duration
	now              func() time.Time
	once             sync.Once
	watchers         sync.WaitGroup

	mu      sync.Mutex
	market  *lending.Market
	watched map[common.Address]int
	subs    map[common.Address]map[uint64]chan Update
	nextID  uint64
}

// Option configures a Poller.
type Option func(*Poller)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics publishes market and band gauges.
func WithMetrics(m *metrics.GoldlendMetrics) Option {
	return func(p *Poller) { p.metrics = m }
}

// WithAccounts watches accounts for the poller's lifetime.
func WithAccounts(accounts ...common.Address) Option {
	return func(p *Poller) {
		for _, account := range accounts {
			p.watched[account]++
		}
	}
}

// WithClock overrides the update timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// New constructs a poller.
func New(source Source, marketInterval, positionInterval time.Duration, opts ...Option) (*Poller, error) {
	if source == nil {
		return nil, fmt.Errorf("poller: source required")
	}
	if marketInterval <= 0 || positionInterval <= 0 {
		return nil, fmt.Errorf("poller: intervals must be positive")
	}
	p := &Poller{
		source:           source,
		logger:           slog.Default(),
		marketInterval:   marketInterval,
		positionInterval: positionInterval,
		now:              time.Now,
		watched:          make(map[common.Address]int),
		subs:             make(map[common.Address]map[uint64]chan Update),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Run blocks, refreshing the market and watched positions on their own
// intervals until the context is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	if p == nil {
		return fmt.Errorf("poller not configured")
	}
	marketTicker := time.NewTicker(p.marketInterval)
	defer marketTicker.Stop()
	positionTicker := time.NewTicker(p.positionInterval)
	defer positionTicker.Stop()
	p.once.Do(func() {
		p.logger.Info("poller started",
			slog.Duration("market_interval", p.marketInterval),
			slog.Duration("position_interval", p.positionInterval))
	})

	tick := func(fn func(context.Context) error, target string) {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("poll failed", slog.String("target", target), slog.Any("error", err))
		}
	}
	tick(p.TickMarket, "market")
	tick(p.TickPositions, "positions")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-marketTicker.C:
			tick(p.TickMarket, "market")
		case <-positionTicker.C:
			tick(p.TickPositions, "positions")
		}
	}
}

// TickMarket refreshes the market snapshot once.
func (p *Poller) TickMarket(ctx context.Context) error {
	start := time.Now()
	defer func() { p.metrics.ObservePoll("market", time.Since(start)) }()

	market, err := p.source.RefreshMarket(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.market = &market
	p.mu.Unlock()
	liquidity := decimal.NewFromBigInt(market.AvailableLiquidity, 0).InexactFloat64()
	p.metrics.SetMarket(market.Utilization(), liquidity)
	return nil
}

// TickPositions refreshes every watched position against the latest market
// snapshot and publishes each one to its subscribers.
func (p *Poller) TickPositions(ctx context.Context) error {
	start := time.Now()
	defer func() { p.metrics.ObservePoll("positions", time.Since(start)) }()

	market, ok := p.Market()
	if !ok {
		if err := p.TickMarket(ctx); err != nil {
			return err
		}
		market, _ = p.Market()
	}

	var errs []error
	bands := map[string]int{
		string(lending.BandHealthy): 0,
		string(lending.BandWarning): 0,
		string(lending.BandDanger):  0,
	}
	for _, account := range p.Watched() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		pos, err := p.source.RefreshPosition(ctx, market, account)
		if err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", account.Hex(), err))
			continue
		}
		risk := lending.AssessPosition(market, pos)
		bands[string(risk.HealthBand)]++
		p.publish(account, Update{Position: pos, Risk: risk, At: p.now()})
	}
	p.metrics.SetHealthBands(bands)
	return errors.Join(errs...)
}

// Market returns the latest refreshed snapshot.
func (p *Poller) Market() (lending.Market, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.market == nil {
		return lending.Market{}, false
	}
	return *p.market, true
}

// Watched lists the accounts refreshed on every position tick.
func (p *Poller) Watched() []common.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]common.Address, 0, len(p.watched))
	for account := range p.watched {
		out = append(out, account)
	}
	return out
}

// Subscribe watches account until the returned cancel is called or ctx is
// done. Updates are dropped for a subscriber whose buffer is full.
func (p *Poller) Subscribe(ctx context.Context, account common.Address) (<-chan Update, func()) {
	updates := make(chan Update, 8)

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	if p.subs[account] == nil {
		p.subs[account] = make(map[uint64]chan Update)
	}
	p.subs[account][id] = updates
	p.watched[account]++
	p.mu.Unlock()

	var once sync.Once
	done := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			close(done)
			p.mu.Lock()
			if sub, ok := p.subs[account][id]; ok {
				delete(p.subs[account], id)
				close(sub)
			}
			if len(p.subs[account]) == 0 {
				delete(p.subs, account)
			}
			if p.watched[account]--; p.watched[account] <= 0 {
				delete(p.watched, account)
			}
			p.mu.Unlock()
		})
	}
	if ctx != nil {
		p.watchers.Add(1)
		go func() {
			defer p.watchers.Done()
			select {
			case <-ctx.Done():
				cancel()
			case <-done:
			}
		}()
	}
	return updates, cancel
}

func (p *Poller) publish(account common.Address, update Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subs[account] {
		select {
		case ch <- update:
		default:
		}
	}
}
