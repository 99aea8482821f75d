package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"goldlend/native/swap"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Secret is a value given inline, through an environment variable or in a
// file. Resolution order is inline, env, file.
type Secret struct {
	Value string `yaml:"value"`
	Env   string `yaml:"env"`
	File  string `yaml:"file"`
}

// Resolve returns the secret material, or an empty string when none of the
// sources are configured.
func (s Secret) Resolve() (string, error) {
	if value := strings.TrimSpace(s.Value); value != "" {
		return value, nil
	}
	if name := strings.TrimSpace(s.Env); name != "" {
		value := strings.TrimSpace(os.Getenv(name))
		if value == "" {
			return "", fmt.Errorf("environment variable %s is empty", name)
		}
		return value, nil
	}
	if path := strings.TrimSpace(s.File); path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read secret file: %w", err)
		}
		return strings.TrimSpace(string(contents)), nil
	}
	return "", nil
}

// Configured reports whether any source is set.
func (s Secret) Configured() bool {
	return strings.TrimSpace(s.Value) != "" || strings.TrimSpace(s.Env) != "" || strings.TrimSpace(s.File) != ""
}

// Config captures the runtime settings for the lending daemon.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	NetworkPath   string          `yaml:"network"`
	API           APIConfig       `yaml:"api"`
	RPC           RPCConfig       `yaml:"rpc"`
	Indexer       IndexerConfig   `yaml:"indexer"`
	Relay         RelayConfig     `yaml:"relay"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Cache         CacheConfig     `yaml:"cache"`
	Journal       JournalConfig   `yaml:"journal"`
	Poller        PollerConfig    `yaml:"poller"`
	Log           LogConfig       `yaml:"log"`
}

// APIConfig tunes request handling. A zero slippage selects the 0.5%
// default.
type APIConfig struct {
	DefaultSlippage float64  `yaml:"default_slippage"`
	RequestTimeout  Duration `yaml:"request_timeout"`
	ActionTimeout   Duration `yaml:"action_timeout"`
}

// RPCConfig points at the chain's JSON-RPC endpoint.
type RPCConfig struct {
	URL Secret `yaml:"url"`
}

// IndexerConfig tunes the GraphQL indexer client. An empty URL falls back to
// the network registry's indexer.
type IndexerConfig struct {
	URL       string   `yaml:"url"`
	Disabled  bool     `yaml:"disabled"`
	RateLimit float64  `yaml:"rate_limit"`
	Burst     int      `yaml:"burst"`
	Timeout   Duration `yaml:"timeout"`
}

// RelayConfig describes the smart-account relay used to submit batches.
type RelayConfig struct {
	Endpoint      string   `yaml:"endpoint"`
	APIKey        Secret   `yaml:"api_key"`
	Timeout       Duration `yaml:"timeout"`
	Confirmations uint64   `yaml:"confirmations"`
	PollInterval  Duration `yaml:"poll_interval"`
}

// AuthConfig guards the action endpoints with HMAC-signed bearer tokens.
type AuthConfig struct {
	Disabled  bool     `yaml:"disabled"`
	JWTSecret Secret   `yaml:"jwt_secret"`
	Issuer    string   `yaml:"issuer"`
	Audience  string   `yaml:"audience"`
	ClockSkew Duration `yaml:"clock_skew"`
}

// RateLimitConfig bounds per-client request rates.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// CacheConfig selects the snapshot cache backend.
type CacheConfig struct {
	Backend     string      `yaml:"backend"`
	MaxBytes    int64       `yaml:"max_bytes"`
	MarketTTL   Duration    `yaml:"market_ttl"`
	PositionTTL Duration    `yaml:"position_ttl"`
	Redis       RedisConfig `yaml:"redis"`
}

// RedisConfig addresses a shared redis instance.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password Secret `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// JournalConfig selects the action journal database.
type JournalConfig struct {
	Driver string `yaml:"driver"`
	DSN    Secret `yaml:"dsn"`
}

// PollerConfig tunes the background refresh loops.
type PollerConfig struct {
	MarketInterval   Duration `yaml:"market_interval"`
	PositionInterval Duration `yaml:"position_interval"`
	Accounts         []string `yaml:"accounts"`
}

// LogConfig optionally mirrors logs into a rotated file.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

const (
	CacheMemory = "memory"
	CacheRedis  = "redis"

	JournalSQLite   = "sqlite"
	JournalPostgres = "postgres"
)

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	var cfg Config
	if strings.TrimSpace(path) == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8080"
	}
	cfg.NetworkPath = strings.TrimSpace(cfg.NetworkPath)

	if cfg.API.DefaultSlippage == 0 {
		cfg.API.DefaultSlippage = swap.DefaultSlippage
	}
	if cfg.API.RequestTimeout.Duration <= 0 {
		cfg.API.RequestTimeout.Duration = 15 * time.Second
	}
	if cfg.API.ActionTimeout.Duration <= 0 {
		cfg.API.ActionTimeout.Duration = 5 * time.Minute
	}

	cfg.Indexer.URL = strings.TrimSpace(cfg.Indexer.URL)
	if cfg.Indexer.RateLimit <= 0 {
		cfg.Indexer.RateLimit = 5
	}
	if cfg.Indexer.Burst <= 0 {
		cfg.Indexer.Burst = 10
	}
	if cfg.Indexer.Timeout.Duration <= 0 {
		cfg.Indexer.Timeout.Duration = 10 * time.Second
	}

	cfg.Relay.Endpoint = strings.TrimSpace(cfg.Relay.Endpoint)
	if cfg.Relay.Timeout.Duration <= 0 {
		cfg.Relay.Timeout.Duration = 30 * time.Second
	}
	if cfg.Relay.Confirmations == 0 {
		cfg.Relay.Confirmations = 1
	}
	if cfg.Relay.PollInterval.Duration <= 0 {
		cfg.Relay.PollInterval.Duration = 2 * time.Second
	}

	if cfg.Auth.ClockSkew.Duration <= 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}

	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}

	cfg.Cache.Backend = strings.ToLower(strings.TrimSpace(cfg.Cache.Backend))
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = CacheMemory
	}
	if cfg.Cache.MarketTTL.Duration <= 0 {
		cfg.Cache.MarketTTL.Duration = 30 * time.Second
	}
	if cfg.Cache.PositionTTL.Duration <= 0 {
		cfg.Cache.PositionTTL.Duration = 15 * time.Second
	}
	cfg.Cache.Redis.Addr = strings.TrimSpace(cfg.Cache.Redis.Addr)

	cfg.Journal.Driver = strings.ToLower(strings.TrimSpace(cfg.Journal.Driver))
	if cfg.Journal.Driver == "" {
		cfg.Journal.Driver = JournalSQLite
	}
	if cfg.Journal.Driver == JournalSQLite && !cfg.Journal.DSN.Configured() {
		cfg.Journal.DSN.Value = "goldlend.db"
	}

	if cfg.Poller.MarketInterval.Duration <= 0 {
		cfg.Poller.MarketInterval.Duration = time.Minute
	}
	if cfg.Poller.PositionInterval.Duration <= 0 {
		cfg.Poller.PositionInterval.Duration = 15 * time.Second
	}
	accounts := make([]string, 0, len(cfg.Poller.Accounts))
	for _, account := range cfg.Poller.Accounts {
		if trimmed := strings.TrimSpace(account); trimmed != "" {
			accounts = append(accounts, trimmed)
		}
	}
	cfg.Poller.Accounts = accounts

	cfg.Log.File = strings.TrimSpace(cfg.Log.File)
	if cfg.Log.File != "" {
		if cfg.Log.MaxSizeMB <= 0 {
			cfg.Log.MaxSizeMB = 100
		}
		if cfg.Log.MaxBackups <= 0 {
			cfg.Log.MaxBackups = 5
		}
		if cfg.Log.MaxAgeDays <= 0 {
			cfg.Log.MaxAgeDays = 28
		}
	}
}

func (cfg Config) validate() error {
	if !cfg.RPC.URL.Configured() {
		return fmt.Errorf("rpc: url is required")
	}
	if _, err := swap.ToleranceBps(cfg.API.DefaultSlippage); err != nil || cfg.API.DefaultSlippage == 0 {
		return fmt.Errorf("api: default_slippage must be within (0, 1)")
	}
	if !cfg.Auth.Disabled && !cfg.Auth.JWTSecret.Configured() {
		return fmt.Errorf("auth: jwt_secret is required unless disabled=true")
	}
	switch cfg.Cache.Backend {
	case CacheMemory:
	case CacheRedis:
		if cfg.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache: redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache: unsupported backend %q", cfg.Cache.Backend)
	}
	switch cfg.Journal.Driver {
	case JournalSQLite:
	case JournalPostgres:
		if !cfg.Journal.DSN.Configured() {
			return fmt.Errorf("journal: dsn is required for postgres")
		}
	default:
		return fmt.Errorf("journal: unsupported driver %q", cfg.Journal.Driver)
	}
	for _, account := range cfg.Poller.Accounts {
		if !common.IsHexAddress(account) {
			return fmt.Errorf("poller: invalid account %q", account)
		}
	}
	return nil
}

// WatchedAccounts returns the poller accounts as addresses.
func (cfg Config) WatchedAccounts() []common.Address {
	out := make([]common.Address, 0, len(cfg.Poller.Accounts))
	for _, account := range cfg.Poller.Accounts {
		out = append(out, common.HexToAddress(account))
	}
	return out
}
