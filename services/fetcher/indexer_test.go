package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"goldlend/native/lending"
)

func newIndexer(t *testing.T, handler func(query string, vars map[string]any) string) *IndexerSource {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(handler(req.Query, req.Variables)))
	}))
	t.Cleanup(srv.Close)
	src, err := NewIndexerSource(IndexerConfig{URL: srv.URL, ChainID: 42161}, srv.Client())
	require.NoError(t, err)
	src.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return src
}

const marketResponse = `{"data":{"marketByUniqueKey":{
  "uniqueKey":"0x1d094624063756fc61aaf061c7da056aebe3b3ad0ae0395b22e00db6c074de7c",
  "lltv":"770000000000000000",
  "irmAddress":"0x000000000000000000000000000000000000000d",
  "state":{"borrowApy":0.051,"supplyApy":0.032,"borrowAssets":40000000,"supplyAssets":"100000000","fee":0,"price":null},
  "collateralAsset":{"address":"0x40461291347e1ecbb09499f3371d3f17f10d7159","symbol":"XAUT0","decimals":6,"priceUsd":2650.1},
  "loanAsset":{"address":"0xfd086bc7cd5c481dcc9c85ebe478a1c0b69fcbb9","symbol":"USDT0","decimals":6,"priceUsd":1},
  "oracle":{"address":"0x00000000000000000000000000000000000000c0"}}}}`

func TestIndexerMarket(t *testing.T) {
	src := newIndexer(t, func(query string, vars map[string]any) string {
		require.Contains(t, query, "marketByUniqueKey")
		require.EqualValues(t, 42161, vars["chainId"])
		return marketResponse
	})
	market, err := src.Market(context.Background(), testMarketID)
	require.NoError(t, err)
	require.Equal(t, lending.SourceIndexer, market.Source)
	require.Equal(t, goldAddr, market.Params.CollateralToken)
	require.Equal(t, stableAddr, market.Params.LoanToken)
	require.Zero(t, market.Params.LLTV.Cmp(lltv77))
	require.Zero(t, market.OraclePrice.Cmp(unitPrice), "missing price defaults to the unit price")
	require.Equal(t, int64(60_000000), market.AvailableLiquidity.Int64())
	require.InDelta(t, 0.051, market.BorrowAPR, 1e-12)

	params, err := src.MarketParams(context.Background(), testMarketID)
	require.NoError(t, err)
	require.Equal(t, oracleAddr, params.Oracle)
}

func TestIndexerPositionIsPartial(t *testing.T) {
	src := newIndexer(t, func(query string, vars map[string]any) string {
		require.Contains(t, query, "position(")
		require.Equal(t, strings.ToLower(testAccount.Hex()), vars["userAddress"])
		return `{"data":{"position":{"borrowShares":"3000000000000","borrowAssets":"4000000","supplyShares":"0","supplyAssets":"0","collateral":"10000000","healthFactor":1.925}}}`
	})
	pos, err := src.Position(context.Background(), lending.Market{ID: testMarketID}, testAccount)
	require.NoError(t, err)
	require.Equal(t, int64(4_000000), pos.BorrowedAssets.Int64())
	require.Equal(t, int64(10_000000), pos.Collateral.Int64())
	require.Zero(t, pos.CollateralValue.Sign(), "indexer positions carry no valuation")
	require.Zero(t, pos.LTV)
	hf, ok := pos.HealthFactor.Value()
	require.True(t, ok)
	require.InDelta(t, 1.925, hf, 1e-12)
}

func TestIndexerMissingPosition(t *testing.T) {
	src := newIndexer(t, func(string, map[string]any) string {
		return `{"data":{"position":null}}`
	})
	pos, err := src.Position(context.Background(), lending.Market{ID: testMarketID}, testAccount)
	require.NoError(t, err)
	require.False(t, pos.HasDebt())
	require.True(t, pos.HealthFactor.IsInfinite())
}

func TestIndexerErrors(t *testing.T) {
	src := newIndexer(t, func(string, map[string]any) string {
		return `{"errors":[{"message":"No results matching given parameters"}]}`
	})
	_, err := src.Market(context.Background(), testMarketID)
	require.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	src = newIndexer(t, func(string, map[string]any) string { return `{"data":null}` })
	_, err = src.Market(context.Background(), testMarketID)
	require.ErrorIs(t, err, ErrBadResponse)
}

func TestIndexerTransactions(t *testing.T) {
	src := newIndexer(t, func(query string, vars map[string]any) string {
		require.Contains(t, query, "transactions(")
		return `{"data":{"transactions":{"items":[
		  {"id":"b","hash":"0x00000000000000000000000000000000000000000000000000000000000000bb","timestamp":1700000200,"type":"MarketLiquidation","data":{"seizedAssets":"2500000","repaidAssets":"1000000"}},
		  {"id":"a","hash":"0x00000000000000000000000000000000000000000000000000000000000000aa","timestamp":1700000100,"type":"MarketBorrow","data":{"assets":"5000000","shares":"4900000000000"}},
		  {"id":"c","hash":"0x00000000000000000000000000000000000000000000000000000000000000cc","timestamp":1700000000,"type":"MarketSupplyCollateral","data":null}]}}}`
	})
	txs, err := src.Transactions(context.Background(), testMarketID, testAccount)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	require.Equal(t, TxLiquidation, txs[0].Type)
	require.Equal(t, int64(2_500000), txs[0].Assets.Int64(), "liquidations report seized collateral")
	require.Equal(t, int64(4_900000_000000), txs[1].Shares.Int64())
	require.Zero(t, txs[2].Assets.Sign())
	require.Equal(t, testAccount, txs[1].Account)
	require.Equal(t, int64(1_700_000_100), txs[1].Timestamp.Unix())
}

func TestIndexerMarketHistory(t *testing.T) {
	src := newIndexer(t, func(query string, vars map[string]any) string {
		require.Contains(t, query, "historicalState")
		require.EqualValues(t, 1_700_000_000, vars["startTimestamp"])
		_, hasEnd := vars["endTimestamp"]
		require.False(t, hasEnd)
		return `{"data":{"marketByUniqueKey":{"historicalState":[{"timestamp":1700000000,"totalBorrowAssets":"1","totalSupplyAssets":"2","borrowApy":0.1,"supplyApy":0.05}]}}}`
	})
	states, err := src.MarketHistory(context.Background(), testMarketID, time.Unix(1_700_000_000, 0), time.Time{})
	require.NoError(t, err)
	require.Len(t, states, 1)
	require.Equal(t, int64(2), states[0].TotalSupplyAssets.Int64())
}

func TestBigintExponentPrecision(t *testing.T) {
	tests := map[string]string{
		`1e36`:                  "1000000000000000000000000000000000000",
		`"2650.5e36"`:           "2650500000000000000000000000000000000000",
		`"770000000000000000"`:  "770000000000000000",
		`1.5`:                   "1",
		`123456789012345678e20`: "12345678901234567800000000000000000000",
	}
	for raw, want := range tests {
		var b bigint
		require.NoError(t, json.Unmarshal([]byte(raw), &b), raw)
		require.Equal(t, want, b.value().String(), raw)
	}
}

func TestIndexerDefaultClientIsInstrumented(t *testing.T) {
	src, err := NewIndexerSource(IndexerConfig{URL: "https://indexer.example/graphql", ChainID: 42161, Timeout: 7 * time.Second}, nil)
	require.NoError(t, err)
	require.Equal(t, 7*time.Second, src.client.Timeout)
	_, instrumented := src.client.Transport.(*otelhttp.Transport)
	require.True(t, instrumented, "default indexer client must trace requests")
}
