package wallet

import "strings"

// ErrorCode is the user-facing category of a failed action.
type ErrorCode string

const (
	CodeUserRejected          ErrorCode = "USER_REJECTED"
	CodeInsufficientBalance   ErrorCode = "INSUFFICIENT_BALANCE"
	CodeInsufficientAllowance ErrorCode = "INSUFFICIENT_ALLOWANCE"
	CodeSlippageTooHigh       ErrorCode = "SLIPPAGE_TOO_HIGH"
	CodePositionUnhealthy     ErrorCode = "POSITION_UNHEALTHY"
	CodeExceedsLTV            ErrorCode = "EXCEEDS_LTV"
	CodeInsufficientLiquidity ErrorCode = "INSUFFICIENT_LIQUIDITY"
	CodeNetworkError          ErrorCode = "NETWORK_ERROR"
	CodeContractError         ErrorCode = "CONTRACT_ERROR"
	CodeUnknown               ErrorCode = "UNKNOWN"
)

// Classified is a failure rendered for display. Details carries the raw
// provider text only for contract and unknown failures.
type Classified struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

type rule struct {
	code     ErrorCode
	message  string
	needles  []string
	withText bool
}

// Order matters: the first matching rule wins.
var rules = []rule{
	{CodeUserRejected, "Transaction was cancelled", []string{"user rejected", "user denied", "cancelled"}, false},
	{CodeInsufficientBalance, "Insufficient token balance", []string{"insufficient balance", "exceeds balance", "transfer amount exceeds balance"}, false},
	{CodeInsufficientAllowance, "Token approval required", []string{"insufficient allowance", "exceeds allowance"}, false},
	{CodeSlippageTooHigh, "Price changed too much. Try increasing slippage tolerance.", []string{"slippage", "too little received", "price moved"}, false},
	{CodePositionUnhealthy, "This would make your position unhealthy", []string{"unhealthy", "insufficient collateral", "exceeds borrow"}, false},
	{CodeExceedsLTV, "Borrow amount exceeds maximum LTV", []string{"ltv", "loan-to-value"}, false},
	{CodeInsufficientLiquidity, "Not enough liquidity available", []string{"insufficient liquidity", "not enough liquidity"}, false},
	{CodeNetworkError, "Network error. Please try again.", []string{"network", "timeout", "failed to fetch"}, false},
	{CodeContractError, "Transaction failed", []string{"execution reverted", "revert"}, true},
}

// Classify maps an executor or planning failure to a display category by
// case-insensitive substring match.
func Classify(err error) Classified {
	if err == nil {
		return Classified{Code: CodeUnknown, Message: "An unexpected error occurred"}
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage classifies raw provider text.
func ClassifyMessage(text string) Classified {
	lower := strings.ToLower(text)
	for _, r := range rules {
		for _, needle := range r.needles {
			if strings.Contains(lower, needle) {
				out := Classified{Code: r.code, Message: r.message}
				if r.withText {
					out.Details = text
				}
				return out
			}
		}
	}
	return Classified{Code: CodeUnknown, Message: "An unexpected error occurred", Details: text}
}
