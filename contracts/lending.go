package contracts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"goldlend/native/lending"
)

type marketParamsTuple struct {
	LoanToken       common.Address
	CollateralToken common.Address
	Oracle          common.Address
	Irm             common.Address
	Lltv            *big.Int
}

func toTuple(p lending.MarketParams) marketParamsTuple {
	return marketParamsTuple{
		LoanToken:       p.LoanToken,
		CollateralToken: p.CollateralToken,
		Oracle:          p.Oracle,
		Irm:             p.IRM,
		Lltv:            orZero(p.LLTV),
	}
}

// EncodeSupplyCollateral builds supplyCollateral(params, assets, onBehalf, "").
func EncodeSupplyCollateral(params lending.MarketParams, assets *big.Int, onBehalf common.Address) ([]byte, error) {
	if err := checkBound("assets", assets, 256); err != nil {
		return nil, err
	}
	return pack(LendingABI, "supplyCollateral", toTuple(params), orZero(assets), onBehalf, []byte{})
}

// EncodeBorrow builds borrow(params, assets, shares, onBehalf, receiver).
func EncodeBorrow(params lending.MarketParams, assets, shares *big.Int, onBehalf, receiver common.Address) ([]byte, error) {
	if err := checkBound("assets", assets, 256); err != nil {
		return nil, err
	}
	if err := checkBound("shares", shares, 256); err != nil {
		return nil, err
	}
	return pack(LendingABI, "borrow", toTuple(params), orZero(assets), orZero(shares), onBehalf, receiver)
}

// EncodeRepay builds repay(params, assets, shares, onBehalf, ""). Exactly
// one of assets and shares is expected to be non-zero.
func EncodeRepay(params lending.MarketParams, assets, shares *big.Int, onBehalf common.Address) ([]byte, error) {
	if err := checkBound("assets", assets, 256); err != nil {
		return nil, err
	}
	if err := checkBound("shares", shares, 256); err != nil {
		return nil, err
	}
	return pack(LendingABI, "repay", toTuple(params), orZero(assets), orZero(shares), onBehalf, []byte{})
}

// EncodeWithdrawCollateral builds withdrawCollateral(params, assets,
// onBehalf, receiver).
func EncodeWithdrawCollateral(params lending.MarketParams, assets *big.Int, onBehalf, receiver common.Address) ([]byte, error) {
	if err := checkBound("assets", assets, 256); err != nil {
		return nil, err
	}
	return pack(LendingABI, "withdrawCollateral", toTuple(params), orZero(assets), onBehalf, receiver)
}

// EncodePosition builds position(id, user) calldata.
func EncodePosition(id lending.MarketID, user common.Address) ([]byte, error) {
	return pack(LendingABI, "position", [32]byte(id), user)
}

// RawPosition is the position tuple as stored by the lending contract.
type RawPosition struct {
	SupplyShares *big.Int
	BorrowShares *big.Int
	Collateral   *big.Int
}

// DecodePosition unpacks the position(id, user) return data.
func DecodePosition(data []byte) (RawPosition, error) {
	out, err := unpack(LendingABI, "position", data)
	if err != nil {
		return RawPosition{}, err
	}
	return RawPosition{
		SupplyShares: out[0].(*big.Int),
		BorrowShares: out[1].(*big.Int),
		Collateral:   out[2].(*big.Int),
	}, nil
}

// EncodeMarket builds market(id) calldata.
func EncodeMarket(id lending.MarketID) ([]byte, error) {
	return pack(LendingABI, "market", [32]byte(id))
}

// RawMarket is the market accounting tuple.
type RawMarket struct {
	TotalSupplyAssets *big.Int
	TotalSupplyShares *big.Int
	TotalBorrowAssets *big.Int
	TotalBorrowShares *big.Int
	LastUpdate        *big.Int
	Fee               *big.Int
}

// DecodeMarket unpacks the market(id) return data.
func DecodeMarket(data []byte) (RawMarket, error) {
	out, err := unpack(LendingABI, "market", data)
	if err != nil {
		return RawMarket{}, err
	}
	return RawMarket{
		TotalSupplyAssets: out[0].(*big.Int),
		TotalSupplyShares: out[1].(*big.Int),
		TotalBorrowAssets: out[2].(*big.Int),
		TotalBorrowShares: out[3].(*big.Int),
		LastUpdate:        out[4].(*big.Int),
		Fee:               out[5].(*big.Int),
	}, nil
}

// EncodeIDToMarketParams builds idToMarketParams(id) calldata.
func EncodeIDToMarketParams(id lending.MarketID) ([]byte, error) {
	return pack(LendingABI, "idToMarketParams", [32]byte(id))
}

// DecodeMarketParams unpacks idToMarketParams(id) return data.
func DecodeMarketParams(data []byte) (lending.MarketParams, error) {
	out, err := unpack(LendingABI, "idToMarketParams", data)
	if err != nil {
		return lending.MarketParams{}, err
	}
	if len(out) != 5 {
		return lending.MarketParams{}, fmt.Errorf("unpack idToMarketParams: expected 5 values, got %d", len(out))
	}
	return lending.MarketParams{
		LoanToken:       out[0].(common.Address),
		CollateralToken: out[1].(common.Address),
		Oracle:          out[2].(common.Address),
		IRM:             out[3].(common.Address),
		LLTV:            out[4].(*big.Int),
	}, nil
}

// EncodeOraclePrice builds price() calldata.
func EncodeOraclePrice() ([]byte, error) {
	return pack(OracleABI, "price")
}
