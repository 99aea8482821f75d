package lending

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func testMarket(price, lltv *big.Int) Market {
	params := MarketParams{
		LoanToken:       common.HexToAddress("0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9"),
		CollateralToken: common.HexToAddress("0x40461291347e1eCbb09499F3371D3f17f10d7159"),
		LLTV:            lltv,
	}
	return NewMarket(params.ID(), params,
		big.NewInt(1_000_000_000000), big.NewInt(1_000_000_000000),
		big.NewInt(400_000_000000), big.NewInt(390_000_000000),
		0, new(big.Int), price)
}

var lltv77 = mustBigInt("770000000000000000")

func TestCollateralValueTruncates(t *testing.T) {
	price := mustBigInt("1500000000000000000000000000000000000") // 1.5
	if got := CollateralValue(big.NewInt(3), price); got.Int64() != 4 {
		t.Fatalf("expected floor(4.5)=4, got %s", got)
	}
	if got := CollateralValue(big.NewInt(0), price); got.Sign() != 0 {
		t.Fatalf("zero collateral must have zero value, got %s", got)
	}
	if got := CollateralValue(nil, nil); got.Sign() != 0 {
		t.Fatalf("nil inputs must be zero, got %s", got)
	}
}

func TestSafeBorrowBelowMaxBorrow(t *testing.T) {
	for _, cv := range []int64{1, 2, 100, 10_000000, 987_654_321} {
		value := big.NewInt(cv)
		max := MaxBorrow(value, lltv77)
		safe := SafeBorrow(value, lltv77)
		if safe.Cmp(max) > 0 {
			t.Fatalf("cv %d: safe %s exceeds max %s", cv, safe, max)
		}
		if max.Sign() > 0 && safe.Cmp(max) == 0 {
			t.Fatalf("cv %d: safe borrow must sit strictly below max %s", cv, max)
		}
	}
}

func TestHealthFactorMonotonic(t *testing.T) {
	value := big.NewInt(10_000000)
	if hf := ComputeHealthFactor(value, big.NewInt(0), lltv77); !hf.IsInfinite() {
		t.Fatalf("expected infinite health factor without debt, got %v", hf)
	}
	prev := ComputeHealthFactor(value, big.NewInt(1), lltv77)
	if prev.IsInfinite() {
		t.Fatalf("debt must produce a finite health factor")
	}
	for debt := int64(2); debt < 20_000000; debt *= 3 {
		hf := ComputeHealthFactor(value, big.NewInt(debt), lltv77)
		current, _ := hf.Value()
		previous, _ := prev.Value()
		if current >= previous {
			t.Fatalf("health factor must decrease with debt: %v then %v at %d", prev, hf, debt)
		}
		prev = hf
	}
}

func TestProjectedLTVZeroCollateral(t *testing.T) {
	for _, borrowed := range []int64{0, 1, 1_000000} {
		if ltv := ProjectedLTV(big.NewInt(borrowed), big.NewInt(0)); ltv != 0 {
			t.Fatalf("expected zero ltv without collateral value, got %v", ltv)
		}
	}
}

func TestScenarioTenGoldAtParity(t *testing.T) {
	value := CollateralValue(big.NewInt(10_000000), OracleScale)
	if value.Int64() != 10_000000 {
		t.Fatalf("collateral value: want 10000000 got %s", value)
	}
	if max := MaxBorrow(value, lltv77); max.Int64() != 7_700000 {
		t.Fatalf("max borrow: want 7700000 got %s", max)
	}
	if safe := SafeBorrow(value, lltv77); safe.Int64() != 5_159000 {
		t.Fatalf("safe borrow: want 5159000 got %s", safe)
	}
}

func TestScenarioHalfLTVIsHealthy(t *testing.T) {
	ltv := ProjectedLTV(big.NewInt(5_000000), big.NewInt(10_000000))
	if ltv != 0.5 {
		t.Fatalf("want ltv 0.5 got %v", ltv)
	}
	if band := LTVBand(ltv, 0.77); band != BandHealthy {
		t.Fatalf("want healthy band got %s", band)
	}
	if band := LTVBand(0.75, 0.77); band != BandWarning {
		t.Fatalf("want warning band got %s", band)
	}
	if band := LTVBand(0.8, 0.77); band != BandDanger {
		t.Fatalf("want danger band got %s", band)
	}
}

func TestHealthBands(t *testing.T) {
	tests := []struct {
		hf   HealthFactor
		want Band
	}{
		{InfiniteHealth(), BandHealthy},
		{FiniteHealth(2), BandHealthy},
		{FiniteHealth(1.31), BandHealthy},
		{FiniteHealth(1.3), BandWarning},
		{FiniteHealth(1.2), BandWarning},
		{FiniteHealth(1.1), BandDanger},
		{FiniteHealth(0.9), BandDanger},
	}
	for _, tc := range tests {
		if got := tc.hf.Band(); got != tc.want {
			t.Fatalf("hf %v: want %s got %s", tc.hf, tc.want, got)
		}
	}
}

func TestHealthFactorString(t *testing.T) {
	if InfiniteHealth().String() != "∞" || FiniteHealth(150).String() != "∞" {
		t.Fatalf("expected infinity glyph for debt-free and very large values")
	}
	if FiniteHealth(0.001).String() != "< 0.01" {
		t.Fatalf("expected floor marker for tiny values")
	}
	if got := FiniteHealth(1.544).String(); got != "1.54" {
		t.Fatalf("unexpected rendering %q", got)
	}
}

func TestHealthFactorJSON(t *testing.T) {
	raw, err := json.Marshal(InfiniteHealth())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"infinite":true}` {
		t.Fatalf("unexpected infinite encoding %s", raw)
	}
	raw, err = json.Marshal(FiniteHealth(1.5))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"value":1.5}` {
		t.Fatalf("unexpected finite encoding %s", raw)
	}

	var hf HealthFactor
	if err := json.Unmarshal([]byte(`null`), &hf); err != nil || !hf.IsInfinite() {
		t.Fatalf("null should decode as infinite: %v %v", hf, err)
	}
	if err := json.Unmarshal([]byte(`1.25`), &hf); err != nil {
		t.Fatalf("decode bare number: %v", err)
	}
	if v, ok := hf.Value(); !ok || v != 1.25 {
		t.Fatalf("unexpected decoded value %v", hf)
	}
}

func TestToAssetsUpRoundsUp(t *testing.T) {
	got := ToAssetsUp(big.NewInt(10), big.NewInt(101), big.NewInt(100))
	if got.Int64() != 11 {
		t.Fatalf("expected ceil(10.1)=11, got %s", got)
	}
	got = ToAssetsUp(big.NewInt(10), big.NewInt(100), big.NewInt(100))
	if got.Int64() != 10 {
		t.Fatalf("exact conversion must not round, got %s", got)
	}
	if got := ToAssetsUp(big.NewInt(10), big.NewInt(100), big.NewInt(0)); got.Sign() != 0 {
		t.Fatalf("expected zero without total shares, got %s", got)
	}
}

func TestNewPositionDerivesRisk(t *testing.T) {
	market := testMarket(OracleScale, lltv77)
	account := common.HexToAddress("0x1")
	pos := NewPosition(account, market, nil, big.NewInt(3_900000), big.NewInt(10_000000))
	// 3.9 shares * 400/390 rounds up to 4.0
	if pos.BorrowedAssets.Int64() != 4_000000 {
		t.Fatalf("unexpected borrowed assets %s", pos.BorrowedAssets)
	}
	if pos.CollateralValue.Int64() != 10_000000 {
		t.Fatalf("unexpected collateral value %s", pos.CollateralValue)
	}
	if pos.LTV != 0.4 {
		t.Fatalf("unexpected ltv %v", pos.LTV)
	}
	hf, ok := pos.HealthFactor.Value()
	if !ok || hf < 1.92 || hf > 1.93 {
		t.Fatalf("unexpected health factor %v", pos.HealthFactor)
	}
	again := pos.Derive(market)
	if again.LTV != pos.LTV || again.HealthFactor != pos.HealthFactor {
		t.Fatalf("derivation must be deterministic")
	}
}

func TestLLTVOrDefault(t *testing.T) {
	if got := LLTVOrDefault(nil); got != DefaultLLTV {
		t.Fatalf("expected display fallback, got %v", got)
	}
	if got := LLTVOrDefault(&MarketParams{LLTV: mustBigInt("860000000000000000")}); got != 0.86 {
		t.Fatalf("expected market lltv, got %v", got)
	}
}
