package lending

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// MarketID identifies an isolated lending market. It is the keccak256 hash
// of the ABI encoded MarketParams.
type MarketID = common.Hash

// Source records where a snapshot was read from.
type Source string

const (
	SourceChain   Source = "chain"
	SourceIndexer Source = "indexer"
)

// MarketParams describes the immutable configuration of a lending market.
type MarketParams struct {
	// LoanToken is the asset lenders supply and borrowers draw.
	LoanToken common.Address `json:"loanToken"`
	// CollateralToken is the asset borrowers post.
	CollateralToken common.Address `json:"collateralToken"`
	// Oracle prices one collateral base unit in loan base units, scaled by
	// OracleScale.
	Oracle common.Address `json:"oracle"`
	// IRM is the interest rate model contract.
	IRM common.Address `json:"irm"`
	// LLTV is the liquidation loan-to-value scaled by Wad.
	LLTV *big.Int `json:"lltv"`
}

// ID derives the market identifier from the parameters.
func (p MarketParams) ID() MarketID {
	buf := make([]byte, 0, 5*32)
	buf = append(buf, common.LeftPadBytes(p.LoanToken.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(p.CollateralToken.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(p.Oracle.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(p.IRM.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(orZero(p.LLTV).Bytes(), 32)...)
	return crypto.Keccak256Hash(buf)
}

// IsZero reports whether the parameters are unset.
func (p MarketParams) IsZero() bool {
	return p.LoanToken == (common.Address{}) && p.CollateralToken == (common.Address{}) && orZero(p.LLTV).Sign() == 0
}

// Market is a point-in-time snapshot of a lending market. Snapshots are
// replaced wholesale on refresh and never mutated.
type Market struct {
	ID                 MarketID     `json:"id"`
	Params             MarketParams `json:"params"`
	TotalSupplyAssets  *big.Int     `json:"totalSupplyAssets"`
	TotalSupplyShares  *big.Int     `json:"totalSupplyShares"`
	TotalBorrowAssets  *big.Int     `json:"totalBorrowAssets"`
	TotalBorrowShares  *big.Int     `json:"totalBorrowShares"`
	LastUpdate         uint64       `json:"lastUpdate"`
	Fee                *big.Int     `json:"fee"`
	OraclePrice        *big.Int     `json:"oraclePrice"`
	BorrowAPR          float64      `json:"borrowApr"`
	SupplyAPR          float64      `json:"supplyApr"`
	AvailableLiquidity *big.Int     `json:"availableLiquidity"`
	Source             Source       `json:"source"`
	FetchedAt          time.Time    `json:"fetchedAt"`
}

// LLTV returns the liquidation LTV as a ratio.
func (m Market) LLTV() float64 {
	return WadToFloat(m.Params.LLTV)
}

// Utilization is the borrowed share of supplied assets.
func (m Market) Utilization() float64 {
	if orZero(m.TotalSupplyAssets).Sign() == 0 {
		return 0
	}
	return ratio(m.TotalBorrowAssets, m.TotalSupplyAssets)
}

// EstimateRates derives indicative borrow and supply APRs from utilization.
// The borrow rate scales linearly to 10% at full utilization.
func EstimateRates(totalSupplyAssets, totalBorrowAssets, fee *big.Int) (borrowAPR, supplyAPR float64) {
	utilization := ratio(totalBorrowAssets, totalSupplyAssets)
	borrowAPR = utilization * 0.1
	supplyAPR = borrowAPR * utilization * (1 - WadToFloat(fee))
	return borrowAPR, supplyAPR
}

// NewMarket assembles a snapshot from raw market totals, deriving liquidity
// and rate estimates.
func NewMarket(id MarketID, params MarketParams, totalSupplyAssets, totalSupplyShares, totalBorrowAssets, totalBorrowShares *big.Int, lastUpdate uint64, fee, oraclePrice *big.Int) Market {
	borrowAPR, supplyAPR := EstimateRates(totalSupplyAssets, totalBorrowAssets, fee)
	return Market{
		ID:                 id,
		Params:             params,
		TotalSupplyAssets:  orZero(totalSupplyAssets),
		TotalSupplyShares:  orZero(totalSupplyShares),
		TotalBorrowAssets:  orZero(totalBorrowAssets),
		TotalBorrowShares:  orZero(totalBorrowShares),
		LastUpdate:         lastUpdate,
		Fee:                orZero(fee),
		OraclePrice:        orZero(oraclePrice),
		BorrowAPR:          borrowAPR,
		SupplyAPR:          supplyAPR,
		AvailableLiquidity: subFloor(totalSupplyAssets, totalBorrowAssets),
	}
}

// Position is a point-in-time snapshot of one account in one market. The
// risk fields are always derived from the market snapshot via Derive.
type Position struct {
	Market          MarketID       `json:"market"`
	Account         common.Address `json:"account"`
	SupplyShares    *big.Int       `json:"supplyShares"`
	BorrowShares    *big.Int       `json:"borrowShares"`
	Collateral      *big.Int       `json:"collateral"`
	BorrowedAssets  *big.Int       `json:"borrowedAssets"`
	CollateralValue *big.Int       `json:"collateralValue"`
	HealthFactor    HealthFactor   `json:"healthFactor"`
	LTV             float64        `json:"ltv"`
	Source          Source         `json:"source"`
	FetchedAt       time.Time      `json:"fetchedAt"`
}

// NewPosition converts raw share balances into a snapshot using the market
// totals. Borrowed assets round up.
func NewPosition(account common.Address, market Market, supplyShares, borrowShares, collateral *big.Int) Position {
	pos := Position{
		Market:       market.ID,
		Account:      account,
		SupplyShares: orZero(supplyShares),
		BorrowShares: orZero(borrowShares),
		Collateral:   orZero(collateral),
	}
	pos.BorrowedAssets = ToAssetsUp(pos.BorrowShares, market.TotalBorrowAssets, market.TotalBorrowShares)
	return pos.Derive(market)
}

// Derive returns a copy of the position with collateral value, LTV and
// health factor computed from the market's oracle price and LLTV.
func (p Position) Derive(market Market) Position {
	out := p
	out.SupplyShares = orZero(p.SupplyShares)
	out.BorrowShares = orZero(p.BorrowShares)
	out.Collateral = orZero(p.Collateral)
	out.BorrowedAssets = orZero(p.BorrowedAssets)
	out.CollateralValue = CollateralValue(out.Collateral, market.OraclePrice)
	out.LTV = ProjectedLTV(out.BorrowedAssets, out.CollateralValue)
	out.HealthFactor = ComputeHealthFactor(out.CollateralValue, out.BorrowedAssets, market.Params.LLTV)
	return out
}

// HasDebt reports whether the position holds borrow shares.
func (p Position) HasDebt() bool {
	return orZero(p.BorrowShares).Sign() > 0
}
