package swap

import (
	"fmt"
	"math/big"
	"strings"
)

// Direction names the supported swap legs between the stablecoin and the
// gold token.
type Direction string

const (
	StableToGold Direction = "USDT0_TO_XAUT0"
	GoldToStable Direction = "XAUT0_TO_USDT0"
)

// ParseDirection accepts the canonical names case-insensitively.
func ParseDirection(raw string) (Direction, error) {
	switch Direction(strings.ToUpper(strings.TrimSpace(raw))) {
	case StableToGold:
		return StableToGold, nil
	case GoldToStable:
		return GoldToStable, nil
	default:
		return "", fmt.Errorf("swap: unknown direction %q", raw)
	}
}

// Quote is an estimated swap outcome with its slippage-adjusted floor.
type Quote struct {
	Direction        Direction `json:"direction"`
	AmountIn         *big.Int  `json:"amountIn"`
	AmountOut        *big.Int  `json:"amountOut"`
	MinimumAmountOut *big.Int  `json:"minimumAmountOut"`
	Slippage         float64   `json:"slippage"`
}

// NewQuote derives the minimum output for an estimate.
func NewQuote(direction Direction, amountIn, amountOut *big.Int, slippage float64) (Quote, error) {
	min, err := MinAmountOut(amountOut, slippage)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Direction:        direction,
		AmountIn:         amountIn,
		AmountOut:        amountOut,
		MinimumAmountOut: min,
		Slippage:         slippage,
	}, nil
}
