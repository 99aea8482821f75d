// Package server exposes market and position snapshots, risk projections,
// swap quotes and batch planning over HTTP, and submits actions through the
// wallet runner.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"goldlend/config"
	"goldlend/native/lending"
	"goldlend/native/swap"
	"goldlend/observability/metrics"
	"goldlend/services/fetcher"
	"goldlend/services/lendingd/journal"
	"goldlend/services/lendingd/poller"
	"goldlend/services/planner"
	"goldlend/services/wallet"
)

// Fetcher serves cached snapshots.
type Fetcher interface {
	Market(ctx context.Context) (lending.Market, error)
	Position(ctx context.Context, account common.Address) (lending.Position, error)
	Snapshot(ctx context.Context, account common.Address) (fetcher.Snapshot, error)
	History(ctx context.Context, account common.Address) ([]fetcher.Transaction, error)
	MarketHistory(ctx context.Context, from, to time.Time) ([]fetcher.HistoricalState, error)
}

// Quoter estimates swap outputs.
type Quoter interface {
	Quote(ctx context.Context, direction swap.Direction, amountIn *big.Int, slippage float64) (swap.Quote, error)
}

// Planner turns requests into call batches.
type Planner interface {
	Plan(ctx context.Context, req planner.Request) (planner.Batch, error)
}

// Runner submits planned actions.
type Runner interface {
	Run(ctx context.Context, action wallet.Action, observe wallet.Observer) wallet.State
}

// Journal persists action states.
type Journal interface {
	Create(ctx context.Context, intent planner.Intent, account common.Address) (journal.Action, error)
	Observer(ctx context.Context, id uuid.UUID) wallet.Observer
	Get(ctx context.Context, id uuid.UUID) (journal.Action, error)
	Transitions(ctx context.Context, id uuid.UUID) ([]journal.Transition, error)
	Recent(ctx context.Context, account common.Address, limit int) ([]journal.Action, error)
}

// Streamer fans out refreshed positions.
type Streamer interface {
	Subscribe(ctx context.Context, account common.Address) (<-chan poller.Update, func())
}

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress   string
	Network         config.Network
	DefaultSlippage float64
	RequestTimeout  time.Duration
	ActionTimeout   time.Duration
	Auth            AuthConfig
	RateLimit       RateLimit
}

// Deps are the collaborators behind the handlers. Runner, Journal and
// Stream are optional; their routes answer 501 when unset.
type Deps struct {
	Fetcher Fetcher
	Quoter  Quoter
	Planner Planner
	Runner  Runner
	Journal Journal
	Stream  Streamer
	Metrics *metrics.GoldlendMetrics
	Logger  *slog.Logger
}

// Server hosts the goldlend HTTP API.
type Server struct {
	cfg     Config
	deps    Deps
	logger  *slog.Logger
	auth    *Authenticator
	limiter *RateLimiter
	actions sync.WaitGroup
	now     func() time.Time
}

// New constructs a server.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("server: fetcher required")
	}
	if deps.Planner == nil {
		return nil, fmt.Errorf("server: planner required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if cfg.DefaultSlippage <= 0 {
		cfg.DefaultSlippage = swap.DefaultSlippage
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 5 * time.Minute
	}
	return &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  deps.Logger,
		auth:    NewAuthenticator(cfg.Auth, deps.Logger),
		limiter: NewRateLimiter(cfg.RateLimit),
		now:     time.Now,
	}, nil
}

// Handler builds the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.limiter.Middleware)
		api.Get("/market", s.withTimeout(s.handleMarket))
		api.Get("/market/history", s.withTimeout(s.handleMarketHistory))
		api.Get("/positions/{account}", s.withTimeout(s.handlePosition))
		api.Get("/positions/{account}/history", s.withTimeout(s.handleHistory))
		api.Get("/positions/{account}/actions", s.withTimeout(s.handleAccountActions))
		api.Get("/positions/{account}/stream", s.handleStream)
		api.Post("/risk/project", s.withTimeout(s.handleProject))
		api.Post("/swap/quote", s.withTimeout(s.handleQuote))
		api.Post("/plans/{intent}", s.withTimeout(s.handlePlan))
		api.Get("/actions/{id}", s.withTimeout(s.handleAction))
		api.Group(func(protected chi.Router) {
			protected.Use(s.auth.Middleware)
			protected.Post("/actions/{intent}", s.handleSubmit)
		})
	})
	return otelhttp.NewHandler(r, "goldlend.api")
}

// Run starts the HTTP server and blocks until context cancellation, then
// waits for in-flight actions to finish recording.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", slog.String("addr", s.cfg.ListenAddress))
	err := srv.ListenAndServe()
	s.actions.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) withTimeout(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
		defer cancel()
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.deps.Metrics.ObserveRequest(route, status, time.Since(start))
	})
}
