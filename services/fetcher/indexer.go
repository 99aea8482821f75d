package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"goldlend/native/lending"
)

const (
	marketQuery = `query GetMarket($marketId: String!, $chainId: Int!) {
  marketByUniqueKey(uniqueKey: $marketId, chainId: $chainId) {
    uniqueKey
    lltv
    irmAddress
    state { borrowApy supplyApy borrowAssets supplyAssets fee price }
    collateralAsset { address symbol decimals priceUsd }
    loanAsset { address symbol decimals priceUsd }
    oracle { address }
  }
}`
	positionQuery = `query GetPosition($marketId: String!, $userAddress: String!, $chainId: Int!) {
  position(marketUniqueKey: $marketId, userAddress: $userAddress, chainId: $chainId) {
    borrowShares borrowAssets supplyShares supplyAssets collateral healthFactor
  }
}`
	historyQuery = `query GetMarketHistory($marketId: String!, $chainId: Int!, $startTimestamp: Int, $endTimestamp: Int) {
  marketByUniqueKey(uniqueKey: $marketId, chainId: $chainId) {
    historicalState(options: { startTimestamp: $startTimestamp, endTimestamp: $endTimestamp }) {
      timestamp totalBorrowAssets totalSupplyAssets borrowApy supplyApy
    }
  }
}`
	transactionsQuery = `query GetPositionTransactions($marketId: String!, $userAddress: String!, $chainId: Int!) {
  transactions(where: { marketUniqueKey_in: [$marketId], userAddress_in: [$userAddress], chainId_in: [$chainId] }, orderBy: Timestamp, orderDirection: Desc) {
    items { id hash timestamp type data { ... on MarketTransferTransactionData { assets shares } ... on MarketCollateralTransferTransactionData { assets } ... on MarketLiquidationTransactionData { seizedAssets repaidAssets repaidShares } } }
  }
}`
)

// IndexerConfig configures the GraphQL indexer client.
type IndexerConfig struct {
	URL       string
	ChainID   uint64
	RateLimit float64
	Burst     int
	Timeout   time.Duration
}

// IndexerSource reads snapshots from the protocol's hosted GraphQL API.
// Its position snapshots carry no collateral valuation.
type IndexerSource struct {
	url     string
	chainID uint64
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// NewIndexerSource constructs an indexer client. A nil client gets an
// instrumented default.
func NewIndexerSource(cfg IndexerConfig, client *http.Client) (*IndexerSource, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, fmt.Errorf("%w: indexer url required", ErrNotConfigured)
	}
	if cfg.ChainID == 0 {
		return nil, fmt.Errorf("%w: chain id required", ErrNotConfigured)
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &IndexerSource{
		url:     url,
		chainID: cfg.ChainID,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
	}, nil
}

func (s *IndexerSource) Name() string { return string(lending.SourceIndexer) }

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (s *IndexerSource) query(ctx context.Context, query string, vars map[string]any, out any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("indexer request: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("indexer read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("indexer status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	var envelope graphQLResponse
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if len(envelope.Errors) > 0 {
		messages := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			messages = append(messages, e.Message)
		}
		msg := strings.Join(messages, "; ")
		if strings.Contains(strings.ToLower(msg), "no results") || strings.Contains(strings.ToLower(msg), "not found") {
			return fmt.Errorf("%w: %s", ErrNotFound, msg)
		}
		return fmt.Errorf("indexer: %s", msg)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return fmt.Errorf("%w: empty data", ErrBadResponse)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}

// bigint decodes integers the API renders either as JSON numbers or strings.
// Exponent and fractional forms are parsed at 256-bit precision and
// truncated.
type bigint struct{ *big.Int }

func (b *bigint) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		b.Int = nil
		return nil
	}
	if i := strings.IndexAny(raw, ".eE"); i >= 0 {
		f, ok := new(big.Float).SetPrec(256).SetString(raw)
		if !ok {
			return fmt.Errorf("invalid integer %q", raw)
		}
		b.Int, _ = f.Int(nil)
		return nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return fmt.Errorf("invalid integer %q", raw)
	}
	b.Int = v
	return nil
}

func (b bigint) value() *big.Int {
	if b.Int == nil {
		return new(big.Int)
	}
	return b.Int
}

type apiAsset struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
	PriceUSD *float64       `json:"priceUsd"`
}

type apiMarket struct {
	UniqueKey  common.Hash    `json:"uniqueKey"`
	LLTV       bigint         `json:"lltv"`
	IRMAddress common.Address `json:"irmAddress"`
	State      *struct {
		BorrowAPY    float64 `json:"borrowApy"`
		SupplyAPY    float64 `json:"supplyApy"`
		BorrowAssets bigint  `json:"borrowAssets"`
		SupplyAssets bigint  `json:"supplyAssets"`
		Fee          float64 `json:"fee"`
		Price        bigint  `json:"price"`
	} `json:"state"`
	CollateralAsset *apiAsset `json:"collateralAsset"`
	LoanAsset       *apiAsset `json:"loanAsset"`
	Oracle          *struct {
		Address common.Address `json:"address"`
	} `json:"oracle"`
}

func (m apiMarket) params() lending.MarketParams {
	params := lending.MarketParams{IRM: m.IRMAddress, LLTV: m.LLTV.value()}
	if m.LoanAsset != nil {
		params.LoanToken = m.LoanAsset.Address
	}
	if m.CollateralAsset != nil {
		params.CollateralToken = m.CollateralAsset.Address
	}
	if m.Oracle != nil {
		params.Oracle = m.Oracle.Address
	}
	return params
}

func (s *IndexerSource) market(ctx context.Context, id lending.MarketID) (apiMarket, error) {
	var resp struct {
		Market *apiMarket `json:"marketByUniqueKey"`
	}
	vars := map[string]any{"marketId": id.Hex(), "chainId": s.chainID}
	if err := s.query(ctx, marketQuery, vars, &resp); err != nil {
		return apiMarket{}, err
	}
	if resp.Market == nil {
		return apiMarket{}, fmt.Errorf("%w: market %s", ErrNotFound, id.Hex())
	}
	return *resp.Market, nil
}

func (s *IndexerSource) MarketParams(ctx context.Context, id lending.MarketID) (lending.MarketParams, error) {
	m, err := s.market(ctx, id)
	if err != nil {
		return lending.MarketParams{}, err
	}
	params := m.params()
	if params.IsZero() {
		return lending.MarketParams{}, fmt.Errorf("%w: market %s has no parameters", ErrBadResponse, id.Hex())
	}
	return params, nil
}

// Market returns the indexer's view of the market. Share totals are not
// published by the API and stay zero; the oracle price defaults to the unit
// price when omitted.
func (s *IndexerSource) Market(ctx context.Context, id lending.MarketID) (lending.Market, error) {
	m, err := s.market(ctx, id)
	if err != nil {
		return lending.Market{}, err
	}
	if m.State == nil {
		return lending.Market{}, fmt.Errorf("%w: market %s has no state", ErrBadResponse, id.Hex())
	}
	price := m.State.Price.Int
	if price == nil || price.Sign() == 0 {
		price = new(big.Int).Set(lending.OracleScale)
	}
	market := lending.NewMarket(id, m.params(),
		m.State.SupplyAssets.value(), nil,
		m.State.BorrowAssets.value(), nil,
		0, lending.FloatToWad(m.State.Fee), price)
	market.BorrowAPR = m.State.BorrowAPY
	market.SupplyAPR = m.State.SupplyAPY
	market.Source = lending.SourceIndexer
	market.FetchedAt = s.now()
	return market, nil
}

// Position returns a partially populated snapshot: balances and debt come
// from the indexer, collateral value and LTV stay zero.
func (s *IndexerSource) Position(ctx context.Context, market lending.Market, account common.Address) (lending.Position, error) {
	var resp struct {
		Position *struct {
			BorrowShares bigint   `json:"borrowShares"`
			BorrowAssets bigint   `json:"borrowAssets"`
			SupplyShares bigint   `json:"supplyShares"`
			SupplyAssets bigint   `json:"supplyAssets"`
			Collateral   bigint   `json:"collateral"`
			HealthFactor *float64 `json:"healthFactor"`
		} `json:"position"`
	}
	vars := map[string]any{
		"marketId":    market.ID.Hex(),
		"userAddress": strings.ToLower(account.Hex()),
		"chainId":     s.chainID,
	}
	if err := s.query(ctx, positionQuery, vars, &resp); err != nil {
		return lending.Position{}, err
	}
	pos := lending.Position{
		Market:          market.ID,
		Account:         account,
		SupplyShares:    new(big.Int),
		BorrowShares:    new(big.Int),
		Collateral:      new(big.Int),
		BorrowedAssets:  new(big.Int),
		CollateralValue: new(big.Int),
		HealthFactor:    lending.InfiniteHealth(),
		Source:          lending.SourceIndexer,
		FetchedAt:       s.now(),
	}
	if resp.Position == nil {
		return pos, nil
	}
	p := resp.Position
	pos.SupplyShares = p.SupplyShares.value()
	pos.BorrowShares = p.BorrowShares.value()
	pos.Collateral = p.Collateral.value()
	pos.BorrowedAssets = p.BorrowAssets.value()
	if p.HealthFactor != nil && pos.BorrowedAssets.Sign() > 0 {
		pos.HealthFactor = lending.FiniteHealth(*p.HealthFactor)
	}
	return pos, nil
}

// HistoricalState is one point of the market's indexed history.
type HistoricalState struct {
	Timestamp         time.Time `json:"timestamp"`
	TotalBorrowAssets *big.Int  `json:"totalBorrowAssets"`
	TotalSupplyAssets *big.Int  `json:"totalSupplyAssets"`
	BorrowAPY         float64   `json:"borrowApy"`
	SupplyAPY         float64   `json:"supplyApy"`
}

// MarketHistory returns the market's historical states between from and to.
// Zero bounds are left open.
func (s *IndexerSource) MarketHistory(ctx context.Context, id lending.MarketID, from, to time.Time) ([]HistoricalState, error) {
	vars := map[string]any{"marketId": id.Hex(), "chainId": s.chainID}
	if !from.IsZero() {
		vars["startTimestamp"] = from.Unix()
	}
	if !to.IsZero() {
		vars["endTimestamp"] = to.Unix()
	}
	var resp struct {
		Market *struct {
			HistoricalState []struct {
				Timestamp         int64   `json:"timestamp"`
				TotalBorrowAssets bigint  `json:"totalBorrowAssets"`
				TotalSupplyAssets bigint  `json:"totalSupplyAssets"`
				BorrowAPY         float64 `json:"borrowApy"`
				SupplyAPY         float64 `json:"supplyApy"`
			} `json:"historicalState"`
		} `json:"marketByUniqueKey"`
	}
	if err := s.query(ctx, historyQuery, vars, &resp); err != nil {
		return nil, err
	}
	if resp.Market == nil {
		return nil, nil
	}
	out := make([]HistoricalState, 0, len(resp.Market.HistoricalState))
	for _, h := range resp.Market.HistoricalState {
		out = append(out, HistoricalState{
			Timestamp:         time.Unix(h.Timestamp, 0).UTC(),
			TotalBorrowAssets: h.TotalBorrowAssets.value(),
			TotalSupplyAssets: h.TotalSupplyAssets.value(),
			BorrowAPY:         h.BorrowAPY,
			SupplyAPY:         h.SupplyAPY,
		})
	}
	return out, nil
}

// TransactionType is the indexer's classification of a position event.
type TransactionType string

const (
	TxSupplyCollateral   TransactionType = "MarketSupplyCollateral"
	TxWithdrawCollateral TransactionType = "MarketWithdrawCollateral"
	TxBorrow             TransactionType = "MarketBorrow"
	TxRepay              TransactionType = "MarketRepay"
	TxLiquidation        TransactionType = "MarketLiquidation"
)

// Transaction is one historical event affecting an account's position.
// Liquidations report the seized collateral as Assets.
type Transaction struct {
	ID        string          `json:"id"`
	Hash      common.Hash     `json:"hash"`
	Timestamp time.Time       `json:"timestamp"`
	Type      TransactionType `json:"type"`
	Assets    *big.Int        `json:"assets"`
	Shares    *big.Int        `json:"shares"`
	Account   common.Address  `json:"account"`
}

// Transactions lists the account's position events in the market, newest
// first.
func (s *IndexerSource) Transactions(ctx context.Context, id lending.MarketID, account common.Address) ([]Transaction, error) {
	vars := map[string]any{
		"marketId":    id.Hex(),
		"userAddress": strings.ToLower(account.Hex()),
		"chainId":     s.chainID,
	}
	var resp struct {
		Transactions *struct {
			Items []struct {
				ID        string      `json:"id"`
				Hash      common.Hash `json:"hash"`
				Timestamp int64       `json:"timestamp"`
				Type      string      `json:"type"`
				Data      *struct {
					Assets       bigint `json:"assets"`
					Shares       bigint `json:"shares"`
					SeizedAssets bigint `json:"seizedAssets"`
				} `json:"data"`
			} `json:"items"`
		} `json:"transactions"`
	}
	if err := s.query(ctx, transactionsQuery, vars, &resp); err != nil {
		return nil, err
	}
	if resp.Transactions == nil {
		return nil, nil
	}
	out := make([]Transaction, 0, len(resp.Transactions.Items))
	for _, item := range resp.Transactions.Items {
		tx := Transaction{
			ID:        item.ID,
			Hash:      item.Hash,
			Timestamp: time.Unix(item.Timestamp, 0).UTC(),
			Type:      TransactionType(item.Type),
			Assets:    new(big.Int),
			Shares:    new(big.Int),
			Account:   account,
		}
		if item.Data != nil {
			tx.Assets = item.Data.Assets.value()
			tx.Shares = item.Data.Shares.value()
			if item.Data.SeizedAssets.Int != nil {
				tx.Assets = item.Data.SeizedAssets.Int
			}
		}
		out = append(out, tx)
	}
	return out, nil
}
