package lending

import "math/big"

// Risk summarises a position's exposure against a market snapshot.
type Risk struct {
	Collateral      *big.Int     `json:"collateral"`
	CollateralValue *big.Int     `json:"collateralValue"`
	Borrowed        *big.Int     `json:"borrowed"`
	MaxBorrow       *big.Int     `json:"maxBorrow"`
	SafeBorrow      *big.Int     `json:"safeBorrow"`
	LTV             float64      `json:"ltv"`
	LLTV            float64      `json:"lltv"`
	HealthFactor    HealthFactor `json:"healthFactor"`
	HealthBand      Band         `json:"healthBand"`
	LTVBand         Band         `json:"ltvBand"`
}

// Assess evaluates collateral and debt at the market's oracle price and LLTV.
func Assess(market Market, collateral, borrowed *big.Int) Risk {
	collateral = orZero(collateral)
	borrowed = orZero(borrowed)
	value := CollateralValue(collateral, market.OraclePrice)
	hf := ComputeHealthFactor(value, borrowed, market.Params.LLTV)
	ltv := ProjectedLTV(borrowed, value)
	lltv := LLTVOrDefault(&market.Params)
	return Risk{
		Collateral:      new(big.Int).Set(collateral),
		CollateralValue: value,
		Borrowed:        new(big.Int).Set(borrowed),
		MaxBorrow:       MaxBorrow(value, market.Params.LLTV),
		SafeBorrow:      SafeBorrow(value, market.Params.LLTV),
		LTV:             ltv,
		LLTV:            lltv,
		HealthFactor:    hf,
		HealthBand:      hf.Band(),
		LTVBand:         LTVBand(ltv, lltv),
	}
}

// AssessPosition evaluates the position's current state.
func AssessPosition(market Market, pos Position) Risk {
	return Assess(market, pos.Collateral, pos.BorrowedAssets)
}

// ProjectSupplyBorrow evaluates the position after adding collateral and
// borrowing more.
func ProjectSupplyBorrow(market Market, pos Position, addCollateral, addBorrow *big.Int) Risk {
	collateral := new(big.Int).Add(orZero(pos.Collateral), orZero(addCollateral))
	borrowed := new(big.Int).Add(orZero(pos.BorrowedAssets), orZero(addBorrow))
	return Assess(market, collateral, borrowed)
}

// ProjectRepay evaluates the position after repaying; debt floors at zero.
func ProjectRepay(market Market, pos Position, repay *big.Int) Risk {
	return Assess(market, pos.Collateral, subFloor(pos.BorrowedAssets, repay))
}

// ProjectWithdraw evaluates the position after withdrawing collateral;
// collateral floors at zero.
func ProjectWithdraw(market Market, pos Position, withdraw *big.Int) Risk {
	return Assess(market, subFloor(pos.Collateral, withdraw), pos.BorrowedAssets)
}

// MaxAdditionalBorrow is the extra debt the position can take before
// reaching LLTV, floored at zero.
func MaxAdditionalBorrow(market Market, pos Position, addCollateral *big.Int) *big.Int {
	collateral := new(big.Int).Add(orZero(pos.Collateral), orZero(addCollateral))
	capacity := MaxBorrow(CollateralValue(collateral, market.OraclePrice), market.Params.LLTV)
	return subFloor(capacity, pos.BorrowedAssets)
}

// SafeAdditionalBorrow is the extra debt that keeps the position's LTV at or
// below SafeLTV, floored at zero.
func SafeAdditionalBorrow(market Market, pos Position, addCollateral *big.Int) *big.Int {
	collateral := new(big.Int).Add(orZero(pos.Collateral), orZero(addCollateral))
	capacity := mulDivDown(CollateralValue(collateral, market.OraclePrice), SafeLTVWad, Wad)
	return subFloor(capacity, pos.BorrowedAssets)
}

// MaxSafeWithdraw is the collateral that can be withdrawn while keeping the
// position's LTV at or below SafeLTV. All collateral is withdrawable without
// debt; nothing is withdrawable without a price.
func MaxSafeWithdraw(market Market, pos Position) *big.Int {
	collateral := orZero(pos.Collateral)
	if collateral.Sign() == 0 {
		return new(big.Int)
	}
	debt := orZero(pos.BorrowedAssets)
	if debt.Sign() == 0 {
		return new(big.Int).Set(collateral)
	}
	if orZero(market.OraclePrice).Sign() == 0 {
		return new(big.Int)
	}
	requiredValue := mulDivDown(debt, Wad, SafeLTVWad)
	required := mulDivDown(requiredValue, OracleScale, market.OraclePrice)
	return subFloor(collateral, required)
}
