package lending

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
)

const (
	// SafeLTV is the recommended borrowing ceiling.
	SafeLTV = 0.67
	// WarningLTV is where positions are flagged before reaching LLTV.
	WarningLTV = 0.72
	// DefaultLLTV is the display fallback used only while market parameters
	// are unknown. It never feeds planning.
	DefaultLLTV = 0.77

	// HealthDangerThreshold and HealthWarningThreshold bound the health
	// factor bands: HF <= 1.1 is danger, HF <= 1.3 is warning.
	HealthDangerThreshold  = 1.1
	HealthWarningThreshold = 1.3
)

// SafeLTVWad is SafeLTV scaled by Wad.
var SafeLTVWad = FloatToWad(SafeLTV)

// Band classifies a risk metric for display and alerting.
type Band string

const (
	BandHealthy Band = "healthy"
	BandWarning Band = "warning"
	BandDanger  Band = "danger"
)

// CollateralValue prices collateral in loan token base units, truncating.
func CollateralValue(collateral, oraclePrice *big.Int) *big.Int {
	return mulDivDown(collateral, oraclePrice, OracleScale)
}

// MaxBorrow is the debt at which the position reaches its liquidation LTV.
func MaxBorrow(collateralValue, lltv *big.Int) *big.Int {
	return mulDivDown(collateralValue, lltv, Wad)
}

// SafeBorrow is 67% of MaxBorrow in integer arithmetic.
func SafeBorrow(collateralValue, lltv *big.Int) *big.Int {
	return mulDivDown(MaxBorrow(collateralValue, lltv), safeNumerator, safeDenominator)
}

// ProjectedLTV is borrowed over collateral value, or zero when there is no
// collateral value.
func ProjectedLTV(borrowed, collateralValue *big.Int) float64 {
	if orZero(collateralValue).Sign() == 0 {
		return 0
	}
	return ratio(borrowed, collateralValue)
}

// LLTVOrDefault returns the market's LLTV ratio or DefaultLLTV when the
// parameters are not yet known.
func LLTVOrDefault(params *MarketParams) float64 {
	if params == nil || orZero(params.LLTV).Sign() == 0 {
		return DefaultLLTV
	}
	return WadToFloat(params.LLTV)
}

// LTVBand classifies an LTV against the warning threshold and the market's
// liquidation LTV.
func LTVBand(ltv, lltv float64) Band {
	switch {
	case ltv > lltv:
		return BandDanger
	case ltv > WarningLTV:
		return BandWarning
	default:
		return BandHealthy
	}
}

// HealthFactor is the ratio of borrow capacity at LLTV to current debt. A
// position without debt has an infinite health factor, which is modelled as
// a tag rather than a float sentinel.
type HealthFactor struct {
	infinite bool
	value    float64
}

// InfiniteHealth is the health factor of a debt-free position.
func InfiniteHealth() HealthFactor {
	return HealthFactor{infinite: true}
}

// FiniteHealth wraps a finite health factor. Non-finite inputs are treated
// as infinite.
func FiniteHealth(v float64) HealthFactor {
	if math.IsInf(v, 1) || math.IsNaN(v) {
		return InfiniteHealth()
	}
	return HealthFactor{value: v}
}

// ComputeHealthFactor returns MaxBorrow/borrowed, or infinite when there is
// no debt.
func ComputeHealthFactor(collateralValue, borrowed, lltv *big.Int) HealthFactor {
	if orZero(borrowed).Sign() == 0 {
		return InfiniteHealth()
	}
	return FiniteHealth(ratio(MaxBorrow(collateralValue, lltv), borrowed))
}

// IsInfinite reports whether the position carries no debt.
func (h HealthFactor) IsInfinite() bool { return h.infinite }

// Value returns the finite health factor and false when infinite.
func (h HealthFactor) Value() (float64, bool) {
	if h.infinite {
		return 0, false
	}
	return h.value, true
}

// Band classifies the health factor.
func (h HealthFactor) Band() Band {
	switch {
	case h.infinite || h.value > HealthWarningThreshold:
		return BandHealthy
	case h.value > HealthDangerThreshold:
		return BandWarning
	default:
		return BandDanger
	}
}

// String renders the health factor for display.
func (h HealthFactor) String() string {
	switch {
	case h.infinite || h.value > 100:
		return "∞"
	case h.value < 0.01:
		return "< 0.01"
	default:
		return fmt.Sprintf("%.2f", h.value)
	}
}

type healthFactorJSON struct {
	Infinite bool     `json:"infinite,omitempty"`
	Value    *float64 `json:"value,omitempty"`
}

// MarshalJSON encodes {"infinite":true} or {"value":1.5}.
func (h HealthFactor) MarshalJSON() ([]byte, error) {
	if h.infinite {
		return json.Marshal(healthFactorJSON{Infinite: true})
	}
	v := h.value
	return json.Marshal(healthFactorJSON{Value: &v})
}

// UnmarshalJSON accepts the object form as well as a bare number or null,
// which is how indexers report debt-free positions.
func (h *HealthFactor) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*h = InfiniteHealth()
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] != '{' {
		var v float64
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return fmt.Errorf("decode health factor: %w", err)
		}
		*h = FiniteHealth(v)
		return nil
	}
	var raw healthFactorJSON
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return fmt.Errorf("decode health factor: %w", err)
	}
	if raw.Infinite || raw.Value == nil {
		*h = InfiniteHealth()
		return nil
	}
	*h = FiniteHealth(*raw.Value)
	return nil
}
