package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"goldlend/config"
	"goldlend/observability/logging"
	"goldlend/observability/metrics"
	telemetry "goldlend/observability/otel"
	"goldlend/services/fetcher"
	lendingconfig "goldlend/services/lendingd/config"
	"goldlend/services/lendingd/journal"
	"goldlend/services/lendingd/poller"
	"goldlend/services/lendingd/server"
	"goldlend/services/planner"
	"goldlend/services/quoter"
	"goldlend/services/wallet"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		slog.Error("lendingd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := lendingconfig.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("GOLDLEND_ENV"))
	logOpts := logging.Options{Level: logging.ParseLevel(os.Getenv("GOLDLEND_LOG_LEVEL"))}
	if cfg.Log.File != "" {
		logOpts.File = &logging.FileOptions{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		}
	}
	logger, logCloser := logging.SetupWithOptions("lendingd", env, logOpts)
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv("lendingd", env, os.Getenv))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	network, err := config.LoadNetwork(cfg.NetworkPath)
	if err != nil {
		return fmt.Errorf("load network: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.Goldlend()

	rpcURL, err := cfg.RPC.URL.Resolve()
	if err != nil {
		return fmt.Errorf("resolve rpc url: %w", err)
	}
	client, err := wallet.DialEVMClient(rpcURL)
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}
	defer client.Close()

	chain, err := fetcher.NewChainSource(client, network.Contracts.Lending,
		fetcher.WithChainLogger(logger), fetcher.WithChainMetrics(m))
	if err != nil {
		return err
	}
	var (
		source  fetcher.Source = chain
		history fetcher.HistoryReader
	)
	if !cfg.Indexer.Disabled {
		indexerURL := cfg.Indexer.URL
		if indexerURL == "" {
			indexerURL = network.IndexerURL
		}
		indexer, err := fetcher.NewIndexerSource(fetcher.IndexerConfig{
			URL:       indexerURL,
			ChainID:   network.ChainID,
			RateLimit: cfg.Indexer.RateLimit,
			Burst:     cfg.Indexer.Burst,
			Timeout:   cfg.Indexer.Timeout.Duration,
		}, nil)
		if err != nil {
			return fmt.Errorf("indexer: %w", err)
		}
		source = &fetcher.Fallback{Primary: chain, Secondary: indexer, Logger: logger, Metrics: m}
		history = indexer
	}

	cache, err := openCache(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	defer cache.Close()

	snapshots, err := fetcher.NewService(fetcher.Config{
		MarketID:    network.MarketID,
		Permit2:     network.Contracts.Permit2,
		Tokens:      []common.Address{network.Stable.Address, network.Gold.Address},
		Source:      source,
		Reader:      chain,
		History:     history,
		Cache:       cache,
		MarketTTL:   cfg.Cache.MarketTTL.Duration,
		PositionTTL: cfg.Cache.PositionTTL.Duration,
		Logger:      logger,
		Metrics:     m,
	})
	if err != nil {
		return fmt.Errorf("fetcher: %w", err)
	}

	plans, err := planner.New(network, snapshots, planner.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("planner: %w", err)
	}
	quotes, err := quoter.New(client, network, logger)
	if err != nil {
		return fmt.Errorf("quoter: %w", err)
	}

	deps := server.Deps{
		Fetcher: snapshots,
		Quoter:  quotes,
		Planner: plans,
		Metrics: m,
		Logger:  logger,
	}

	if cfg.Relay.Endpoint != "" {
		apiKey, err := cfg.Relay.APIKey.Resolve()
		if err != nil {
			return fmt.Errorf("resolve relay api key: %w", err)
		}
		executor, err := wallet.NewRelayExecutor(wallet.RelayConfig{
			Endpoint: cfg.Relay.Endpoint,
			APIKey:   apiKey,
			ChainID:  network.ChainID,
			Timeout:  cfg.Relay.Timeout.Duration,
		}, wallet.NewEVMConfirmer(client, cfg.Relay.Confirmations, cfg.Relay.PollInterval.Duration), nil)
		if err != nil {
			return fmt.Errorf("relay: %w", err)
		}
		runner, err := wallet.NewRunner(executor,
			wallet.WithInvalidator(snapshots),
			wallet.WithRunnerLogger(logger),
			wallet.WithRunnerMetrics(m))
		if err != nil {
			return err
		}
		dsn, err := cfg.Journal.DSN.Resolve()
		if err != nil {
			return fmt.Errorf("resolve journal dsn: %w", err)
		}
		db, err := journal.Open(cfg.Journal.Driver, dsn)
		if err != nil {
			return err
		}
		actions, err := journal.New(db, logger)
		if err != nil {
			return err
		}
		defer actions.Close()
		deps.Runner = runner
		deps.Journal = actions
	} else {
		logger.Warn("relay endpoint not configured; action submission disabled")
	}

	positions, err := poller.New(snapshots, cfg.Poller.MarketInterval.Duration, cfg.Poller.PositionInterval.Duration,
		poller.WithLogger(logger),
		poller.WithMetrics(m),
		poller.WithAccounts(cfg.WatchedAccounts()...))
	if err != nil {
		return fmt.Errorf("poller: %w", err)
	}
	deps.Stream = positions

	authCfg, err := authConfig(cfg.Auth)
	if err != nil {
		return err
	}
	srv, err := server.New(server.Config{
		ListenAddress:   cfg.ListenAddress,
		Network:         network,
		DefaultSlippage: cfg.API.DefaultSlippage,
		RequestTimeout:  cfg.API.RequestTimeout.Duration,
		ActionTimeout:   cfg.API.ActionTimeout.Duration,
		Auth:            authCfg,
		RateLimit: server.RateLimit{
			RequestsPerMinute: float64(cfg.RateLimit.RequestsPerMinute),
			Burst:             cfg.RateLimit.Burst,
		},
	}, deps)
	if err != nil {
		return err
	}

	logger.Info("lendingd starting",
		slog.String("listen", cfg.ListenAddress),
		slog.String("network", network.Name),
		slog.String("market", network.MarketID.Hex()),
		slog.String("source", source.Name()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return positions.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("lendingd stopped")
	return nil
}

func openCache(ctx context.Context, cfg lendingconfig.CacheConfig) (fetcher.Cache, error) {
	switch cfg.Backend {
	case lendingconfig.CacheRedis:
		password, err := cfg.Redis.Password.Resolve()
		if err != nil {
			return nil, fmt.Errorf("resolve redis password: %w", err)
		}
		cache, err := fetcher.NewRedisCache(ctx, fetcher.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		return cache, nil
	default:
		cache, err := fetcher.NewMemoryCache(cfg.MaxBytes)
		if err != nil {
			return nil, fmt.Errorf("memory cache: %w", err)
		}
		return cache, nil
	}
}

func authConfig(cfg lendingconfig.AuthConfig) (server.AuthConfig, error) {
	if cfg.Disabled {
		return server.AuthConfig{}, nil
	}
	secret, err := cfg.JWTSecret.Resolve()
	if err != nil {
		return server.AuthConfig{}, fmt.Errorf("resolve jwt secret: %w", err)
	}
	return server.AuthConfig{
		Enabled:   true,
		Secret:    secret,
		Issuer:    cfg.Issuer,
		Audience:  cfg.Audience,
		ClockSkew: cfg.ClockSkew.Duration,
	}, nil
}
