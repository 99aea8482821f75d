package wallet

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		code    ErrorCode
		message string
		details bool
	}{
		{"rejected", "User rejected the request.", CodeUserRejected, "Transaction was cancelled", false},
		{"denied", "MetaMask Tx Signature: User denied transaction signature", CodeUserRejected, "Transaction was cancelled", false},
		{"balance", "ERC20: transfer amount exceeds balance", CodeInsufficientBalance, "Insufficient token balance", false},
		{"allowance", "ERC20: insufficient allowance", CodeInsufficientAllowance, "Token approval required", false},
		{"slippage", "V4TooLittleReceived: too little received", CodeSlippageTooHigh, "Price changed too much. Try increasing slippage tolerance.", false},
		{"unhealthy", "execution reverted: insufficient collateral", CodePositionUnhealthy, "This would make your position unhealthy", false},
		{"ltv", "max LTV exceeded", CodeExceedsLTV, "Borrow amount exceeds maximum LTV", false},
		{"liquidity", "execution reverted: insufficient liquidity", CodeInsufficientLiquidity, "Not enough liquidity available", false},
		{"network", "dial tcp 10.0.0.1:8545: i/o timeout", CodeNetworkError, "Network error. Please try again.", false},
		{"revert", "execution reverted: 0x1234", CodeContractError, "Transaction failed", true},
		{"unknown", "something odd", CodeUnknown, "An unexpected error occurred", true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Classify(errors.New(tc.text))
			if got.Code != tc.code || got.Message != tc.message {
				t.Fatalf("classify %q: got %+v", tc.text, got)
			}
			if tc.details && got.Details != tc.text {
				t.Fatalf("expected raw details, got %q", got.Details)
			}
			if !tc.details && got.Details != "" {
				t.Fatalf("details must stay internal, got %q", got.Details)
			}
		})
	}
}

func TestClassifyPriority(t *testing.T) {
	// Cancellation outranks every later rule, including network.
	if got := Classify(errors.New("network request cancelled")); got.Code != CodeUserRejected {
		t.Fatalf("expected user rejected, got %s", got.Code)
	}
	// Balance outranks revert.
	if got := Classify(errors.New("execution reverted: transfer amount exceeds balance")); got.Code != CodeInsufficientBalance {
		t.Fatalf("expected insufficient balance, got %s", got.Code)
	}
	if got := Classify(nil); got.Code != CodeUnknown {
		t.Fatalf("nil error must be unknown")
	}
}
