package units

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyAmount   = errors.New("units: empty amount")
	ErrInvalidAmount = errors.New("units: invalid amount")
)

// DustThreshold is the smallest non-zero amount rendered as a number by
// FormatTokenAmount.
var DustThreshold = decimal.New(1, -5)

var amountPattern = regexp.MustCompile(`^\d*\.?\d*$`)

// ParseTokenInput converts user supplied decimal text into base units of a
// token with the given decimals. Thousands separators are ignored and
// fractional digits beyond the token precision are truncated.
func ParseTokenInput(input string, decimals uint8) (*big.Int, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(input), ",", "")
	if cleaned == "" {
		return nil, ErrEmptyAmount
	}
	if !amountPattern.MatchString(cleaned) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, input)
	}
	whole, fraction, _ := strings.Cut(cleaned, ".")
	if whole == "" {
		whole = "0"
	}
	width := int(decimals)
	if len(fraction) > width {
		fraction = fraction[:width]
	} else {
		fraction += strings.Repeat("0", width-len(fraction))
	}
	value, ok := new(big.Int).SetString(whole+fraction, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, input)
	}
	return value, nil
}

// ToDecimal interprets amount as base units of a token with the given
// decimals. A nil amount is zero.
func ToDecimal(amount *big.Int, decimals uint8) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

// FormatUnits renders amount exactly, without trailing zeros. It is the
// inverse of ParseTokenInput for every non-negative amount.
func FormatUnits(amount *big.Int, decimals uint8) string {
	return ToDecimal(amount, decimals).String()
}

// FormatTokenAmount renders amount for display with at most maxDecimals
// fractional digits and en-US digit grouping. Non-zero amounts below
// DustThreshold render as "< 0.00001".
func FormatTokenAmount(amount *big.Int, decimals uint8, maxDecimals int) string {
	value := ToDecimal(amount, decimals)
	if value.IsZero() {
		return "0"
	}
	if value.Abs().LessThan(DustThreshold) {
		return "< 0.00001"
	}
	if maxDecimals < 0 {
		maxDecimals = 0
	}
	return group(value.Round(int32(maxDecimals)).String())
}

// FormatUSD renders value as US dollars with two fractional digits.
func FormatUSD(value decimal.Decimal) string {
	sign := ""
	if value.IsNegative() {
		sign = "-"
		value = value.Neg()
	}
	return sign + "$" + group(value.StringFixed(2))
}

// FormatUSDAmount renders base units of a dollar-pegged token.
func FormatUSDAmount(amount *big.Int, decimals uint8) string {
	return FormatUSD(ToDecimal(amount, decimals))
}

// FormatPercent renders a ratio (0.5 = 50%) as a percentage string.
func FormatPercent(value float64, decimals int) string {
	if decimals < 0 {
		decimals = 0
	}
	return fmt.Sprintf("%.*f%%", decimals, value*100)
}

// FormatAPR renders an annual rate with two fractional digits.
func FormatAPR(apr float64) string {
	return FormatPercent(apr, 2)
}

// TruncateAddress shortens a hex address or hash to its prefix and suffix.
func TruncateAddress(address string, chars int) string {
	if chars <= 0 || len(address) <= 2*chars+2 {
		return address
	}
	return address[:chars+2] + "..." + address[len(address)-chars:]
}

// FormatTxHash shortens a transaction hash for display.
func FormatTxHash(hash string) string {
	return TruncateAddress(hash, 6)
}

func group(number string) string {
	sign := ""
	if strings.HasPrefix(number, "-") {
		sign = "-"
		number = number[1:]
	}
	whole, fraction, hasFraction := strings.Cut(number, ".")
	if len(whole) > 3 {
		var b strings.Builder
		lead := len(whole) % 3
		if lead > 0 {
			b.WriteString(whole[:lead])
		}
		for i := lead; i < len(whole); i += 3 {
			if b.Len() > 0 {
				b.WriteByte(',')
			}
			b.WriteString(whole[i : i+3])
		}
		whole = b.String()
	}
	if hasFraction {
		return sign + whole + "." + fraction
	}
	return sign + whole
}
