// Package fetcher reads market and position snapshots from the lending
// contract or the protocol indexer and serves them through a TTL cache.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"goldlend/native/lending"
	"goldlend/observability/metrics"
)

var (
	ErrNotFound      = errors.New("fetcher: not found")
	ErrBadResponse   = errors.New("fetcher: malformed response")
	ErrNotConfigured = errors.New("fetcher: source not configured")
)

// Source reads snapshots from one upstream. Position converts raw balances
// using the supplied market snapshot.
type Source interface {
	Name() string
	MarketParams(ctx context.Context, id lending.MarketID) (lending.MarketParams, error)
	Market(ctx context.Context, id lending.MarketID) (lending.Market, error)
	Position(ctx context.Context, market lending.Market, account common.Address) (lending.Position, error)
}

// Fallback tries Primary first and delegates to Secondary when it fails.
// When both fail the errors are joined.
type Fallback struct {
	Primary   Source
	Secondary Source
	Logger    *slog.Logger
	Metrics   *metrics.GoldlendMetrics
}

func (f *Fallback) Name() string {
	return fmt.Sprintf("%s|%s", name(f.Primary), name(f.Secondary))
}

func name(s Source) string {
	if s == nil {
		return "none"
	}
	return s.Name()
}

func (f *Fallback) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

func (f *Fallback) MarketParams(ctx context.Context, id lending.MarketID) (lending.MarketParams, error) {
	return fallback(ctx, f, "market_params", func(s Source) (lending.MarketParams, error) {
		return s.MarketParams(ctx, id)
	})
}

func (f *Fallback) Market(ctx context.Context, id lending.MarketID) (lending.Market, error) {
	return fallback(ctx, f, "market", func(s Source) (lending.Market, error) {
		return s.Market(ctx, id)
	})
}

func (f *Fallback) Position(ctx context.Context, market lending.Market, account common.Address) (lending.Position, error) {
	return fallback(ctx, f, "position", func(s Source) (lending.Position, error) {
		return s.Position(ctx, market, account)
	})
}

func fallback[T any](ctx context.Context, f *Fallback, kind string, read func(Source) (T, error)) (T, error) {
	var zero T
	if f.Primary == nil {
		if f.Secondary == nil {
			return zero, ErrNotConfigured
		}
		return read(f.Secondary)
	}
	out, primaryErr := read(f.Primary)
	if primaryErr == nil {
		return out, nil
	}
	if f.Secondary == nil || ctx.Err() != nil {
		return zero, primaryErr
	}
	f.logger().Warn("primary source failed, using fallback",
		slog.String("kind", kind),
		slog.String("primary", f.Primary.Name()),
		slog.String("secondary", f.Secondary.Name()),
		slog.Any("error", primaryErr))
	f.Metrics.IncFetchFallback(kind)
	out, secondaryErr := read(f.Secondary)
	if secondaryErr != nil {
		return zero, errors.Join(
			fmt.Errorf("%s: %w", f.Primary.Name(), primaryErr),
			fmt.Errorf("%s: %w", f.Secondary.Name(), secondaryErr),
		)
	}
	return out, nil
}
