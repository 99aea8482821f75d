package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Token describes an ERC20 asset the application moves.
type Token struct {
	Symbol   string         `toml:"Symbol"`
	Name     string         `toml:"Name"`
	Address  common.Address `toml:"Address"`
	Decimals uint8          `toml:"Decimals"`
}

// Contracts lists the protocol deployments the application calls.
type Contracts struct {
	Lending         common.Address `toml:"Lending"`
	UniversalRouter common.Address `toml:"UniversalRouter"`
	Quoter          common.Address `toml:"Quoter"`
	Permit2         common.Address `toml:"Permit2"`
}

// Pool identifies the concentrated liquidity pool used for swaps. The pool's
// currency pair is the stable and gold tokens ordered by address.
type Pool struct {
	Fee         uint32         `toml:"Fee"`
	TickSpacing int32          `toml:"TickSpacing"`
	Hooks       common.Address `toml:"Hooks"`
}

// Network is the static registry of chain, tokens, contracts and market the
// service operates on.
type Network struct {
	Name        string      `toml:"Name"`
	ChainID     uint64      `toml:"ChainID"`
	ExplorerURL string      `toml:"ExplorerURL"`
	IndexerURL  string      `toml:"IndexerURL"`
	MarketID    common.Hash `toml:"MarketID"`
	Stable      Token       `toml:"Stable"`
	Gold        Token       `toml:"Gold"`
	Contracts   Contracts   `toml:"Contracts"`
	Pool        Pool        `toml:"Pool"`
}

// Arbitrum returns the production deployment on Arbitrum One.
func Arbitrum() Network {
	return Network{
		Name:        "arbitrum",
		ChainID:     42161,
		ExplorerURL: "https://arbiscan.io",
		IndexerURL:  "https://blue-api.morpho.org/graphql",
		MarketID:    common.HexToHash("0x1d094624063756fc61aaf061c7da056aebe3b3ad0ae0395b22e00db6c074de7c"),
		Stable: Token{
			Symbol:   "USDT0",
			Name:     "Tether USD0",
			Address:  common.HexToAddress("0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9"),
			Decimals: 6,
		},
		Gold: Token{
			Symbol:   "XAUT0",
			Name:     "Tether Gold0",
			Address:  common.HexToAddress("0x40461291347e1eCbb09499F3371D3f17f10d7159"),
			Decimals: 6,
		},
		Contracts: Contracts{
			Lending:         common.HexToAddress("0x6c247b1F6182318877311737BaC0844bAa518F5e"),
			UniversalRouter: common.HexToAddress("0xa51afafe0263b40edaef0df8781ea9aa03e381a3"),
			Quoter:          common.HexToAddress("0x3972c00f7ed4885e145823eb7c655375d275a1c5"),
			Permit2:         common.HexToAddress("0x000000000022D473030F116dDEE9F6B43aC78BA3"),
		},
		Pool: Pool{
			Fee:         6000,
			TickSpacing: 120,
		},
	}
}

// LoadNetwork decodes a network registry from a TOML file. An empty path
// selects the built-in Arbitrum registry; a missing file is created with it.
func LoadNetwork(path string) (Network, error) {
	if strings.TrimSpace(path) == "" {
		return Arbitrum(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		network := Arbitrum()
		if err := persist(path, network); err != nil {
			return Network{}, fmt.Errorf("write default network: %w", err)
		}
		return network, nil
	}
	var network Network
	meta, err := toml.DecodeFile(path, &network)
	if err != nil {
		return Network{}, fmt.Errorf("decode network %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Network{}, fmt.Errorf("network %s: unknown key %s", path, undecoded[0])
	}
	network.normalize()
	if err := network.Validate(); err != nil {
		return Network{}, fmt.Errorf("network %s: %w", path, err)
	}
	return network, nil
}

func persist(path string, network Network) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(network)
}

func (n *Network) normalize() {
	n.Name = strings.TrimSpace(n.Name)
	n.ExplorerURL = strings.TrimRight(strings.TrimSpace(n.ExplorerURL), "/")
	n.IndexerURL = strings.TrimSpace(n.IndexerURL)
	n.Stable.Symbol = strings.ToUpper(strings.TrimSpace(n.Stable.Symbol))
	n.Gold.Symbol = strings.ToUpper(strings.TrimSpace(n.Gold.Symbol))
}

// Validate checks the registry is complete enough to plan and read.
func (n Network) Validate() error {
	if n.ChainID == 0 {
		return fmt.Errorf("chain id required")
	}
	if n.MarketID == (common.Hash{}) {
		return fmt.Errorf("market id required")
	}
	for _, token := range []Token{n.Stable, n.Gold} {
		if token.Symbol == "" {
			return fmt.Errorf("token symbol required")
		}
		if token.Address == (common.Address{}) {
			return fmt.Errorf("token %s: address required", token.Symbol)
		}
	}
	if n.Stable.Address == n.Gold.Address {
		return fmt.Errorf("stable and gold tokens must differ")
	}
	contracts := map[string]common.Address{
		"lending":          n.Contracts.Lending,
		"universal router": n.Contracts.UniversalRouter,
		"quoter":           n.Contracts.Quoter,
		"permit2":          n.Contracts.Permit2,
	}
	for name, addr := range contracts {
		if addr == (common.Address{}) {
			return fmt.Errorf("%s contract address required", name)
		}
	}
	if n.Pool.Fee == 0 || n.Pool.Fee >= 1<<24 {
		return fmt.Errorf("pool fee must fit in uint24 and be non-zero")
	}
	if n.Pool.TickSpacing <= 0 || n.Pool.TickSpacing >= 1<<23 {
		return fmt.Errorf("pool tick spacing must be a positive int24")
	}
	return nil
}

// Token looks a registry token up by symbol or address.
func (n Network) Token(key string) (Token, bool) {
	key = strings.TrimSpace(key)
	for _, token := range []Token{n.Stable, n.Gold} {
		if token.Symbol == "" {
			continue
		}
		if strings.EqualFold(token.Symbol, key) {
			return token, true
		}
		if common.IsHexAddress(key) && common.HexToAddress(key) == token.Address {
			return token, true
		}
	}
	return Token{}, false
}

// TxURL links to a transaction on the block explorer.
func (n Network) TxURL(hash string) string {
	return n.ExplorerURL + "/tx/" + hash
}
