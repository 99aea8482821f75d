package lending

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func testPosition(collateral, borrowed int64) Position {
	return Position{
		Account:        common.HexToAddress("0xabc"),
		BorrowShares:   big.NewInt(borrowed),
		Collateral:     big.NewInt(collateral),
		BorrowedAssets: big.NewInt(borrowed),
	}
}

func TestProjectSupplyBorrow(t *testing.T) {
	market := testMarket(OracleScale, lltv77)
	risk := ProjectSupplyBorrow(market, testPosition(0, 0), big.NewInt(10_000000), big.NewInt(5_000000))
	if risk.LTV != 0.5 || risk.LTVBand != BandHealthy {
		t.Fatalf("unexpected projection %+v", risk)
	}
	if risk.MaxBorrow.Int64() != 7_700000 || risk.SafeBorrow.Int64() != 5_159000 {
		t.Fatalf("unexpected capacity %s/%s", risk.MaxBorrow, risk.SafeBorrow)
	}
	if risk.LLTV != 0.77 {
		t.Fatalf("unexpected lltv %v", risk.LLTV)
	}
}

func TestProjectRepayFloorsAtZero(t *testing.T) {
	market := testMarket(OracleScale, lltv77)
	risk := ProjectRepay(market, testPosition(10_000000, 5_000000), big.NewInt(9_000000))
	if risk.Borrowed.Sign() != 0 {
		t.Fatalf("debt must floor at zero, got %s", risk.Borrowed)
	}
	if !risk.HealthFactor.IsInfinite() || risk.LTV != 0 {
		t.Fatalf("debt-free projection should be infinite health, got %+v", risk)
	}
}

func TestProjectWithdraw(t *testing.T) {
	market := testMarket(OracleScale, lltv77)
	risk := ProjectWithdraw(market, testPosition(10_000000, 5_000000), big.NewInt(4_000000))
	if risk.Collateral.Int64() != 6_000000 {
		t.Fatalf("unexpected collateral %s", risk.Collateral)
	}
	if risk.LTVBand != BandDanger {
		t.Fatalf("5/6 ltv exceeds lltv, got band %s (ltv %v)", risk.LTVBand, risk.LTV)
	}
	risk = ProjectWithdraw(market, testPosition(10_000000, 5_000000), big.NewInt(20_000000))
	if risk.Collateral.Sign() != 0 || risk.LTV != 0 {
		t.Fatalf("collateral must floor at zero, got %+v", risk)
	}
}

func TestAdditionalBorrow(t *testing.T) {
	market := testMarket(OracleScale, lltv77)
	pos := testPosition(10_000000, 5_000000)
	if got := MaxAdditionalBorrow(market, pos, nil); got.Int64() != 2_700000 {
		t.Fatalf("max additional: want 2700000 got %s", got)
	}
	if got := SafeAdditionalBorrow(market, pos, nil); got.Int64() != 1_700000 {
		t.Fatalf("safe additional: want 1700000 got %s", got)
	}
	if got := SafeAdditionalBorrow(market, testPosition(10_000000, 8_000000), nil); got.Sign() != 0 {
		t.Fatalf("over-borrowed position has no safe capacity, got %s", got)
	}
	if got := MaxAdditionalBorrow(market, testPosition(0, 0), big.NewInt(10_000000)); got.Int64() != 7_700000 {
		t.Fatalf("capacity with new collateral: got %s", got)
	}
}

func TestMaxSafeWithdraw(t *testing.T) {
	market := testMarket(OracleScale, lltv77)
	if got := MaxSafeWithdraw(market, testPosition(10_000000, 0)); got.Int64() != 10_000000 {
		t.Fatalf("debt-free position can withdraw everything, got %s", got)
	}
	// 6.7 debt needs 10 collateral at 67% ltv
	if got := MaxSafeWithdraw(market, testPosition(10_000000, 6_700000)); got.Sign() != 0 {
		t.Fatalf("position at safe ltv cannot withdraw, got %s", got)
	}
	// 3.35 debt needs 5 collateral
	if got := MaxSafeWithdraw(market, testPosition(10_000000, 3_350000)); got.Int64() != 5_000000 {
		t.Fatalf("want 5000000 got %s", got)
	}
	noPrice := testMarket(new(big.Int), lltv77)
	if got := MaxSafeWithdraw(noPrice, testPosition(10_000000, 1)); got.Sign() != 0 {
		t.Fatalf("no withdrawal without a price, got %s", got)
	}
}

func TestMarketDerivedFields(t *testing.T) {
	market := testMarket(OracleScale, lltv77)
	if market.AvailableLiquidity.Int64() != 600_000_000000 {
		t.Fatalf("unexpected liquidity %s", market.AvailableLiquidity)
	}
	if u := market.Utilization(); u != 0.4 {
		t.Fatalf("unexpected utilization %v", u)
	}
	borrow, supply := EstimateRates(big.NewInt(100), big.NewInt(50), mustBigInt("100000000000000000"))
	if borrow != 0.05 {
		t.Fatalf("unexpected borrow apr %v", borrow)
	}
	if supply < 0.02249 || supply > 0.02251 {
		t.Fatalf("unexpected supply apr %v", supply)
	}
	inverted := NewMarket(market.ID, market.Params, big.NewInt(1), nil, big.NewInt(5), nil, 0, nil, nil)
	if inverted.AvailableLiquidity.Sign() != 0 {
		t.Fatalf("liquidity must clamp at zero, got %s", inverted.AvailableLiquidity)
	}
}

func TestMarketParamsID(t *testing.T) {
	params := MarketParams{LoanToken: common.HexToAddress("0x1"), LLTV: lltv77}
	other := params
	other.LLTV = mustBigInt("860000000000000000")
	if params.ID() == other.ID() {
		t.Fatalf("distinct params must hash differently")
	}
	if params.ID() != params.ID() {
		t.Fatalf("id must be deterministic")
	}
}
