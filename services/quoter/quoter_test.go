package quoter

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"goldlend/config"
	"goldlend/contracts"
	"goldlend/native/swap"
)

type callerFunc func(ethereum.CallMsg) ([]byte, error)

func (f callerFunc) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return f(msg)
}

type revertError struct{ data string }

func (e revertError) Error() string          { return "execution reverted" }
func (e revertError) ErrorCode() int         { return 3 }
func (e revertError) ErrorData() interface{} { return e.data }

func newQuoter(t *testing.T, fn callerFunc) *Quoter {
	t.Helper()
	q, err := New(fn, config.Arbitrum(), nil)
	if err != nil {
		t.Fatalf("new quoter: %v", err)
	}
	return q
}

func TestQuoteReturnsMinimum(t *testing.T) {
	network := config.Arbitrum()
	q := newQuoter(t, func(msg ethereum.CallMsg) ([]byte, error) {
		if *msg.To != network.Contracts.Quoter {
			t.Fatalf("unexpected target %s", msg.To.Hex())
		}
		args, err := contracts.QuoterABI.Methods["quoteExactInputSingle"].Inputs.Unpack(msg.Data[4:])
		if err != nil {
			t.Fatalf("unpack: %v", err)
		}
		if len(args) != 1 {
			t.Fatalf("unexpected args %v", args)
		}
		return contracts.QuoterABI.Methods["quoteExactInputSingle"].Outputs.Pack(big.NewInt(1_000000), big.NewInt(90000))
	})
	quote, err := q.Quote(context.Background(), swap.StableToGold, big.NewInt(2650_000000), 0.005)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.AmountOut.Int64() != 1_000000 || quote.MinimumAmountOut.Int64() != 995000 {
		t.Fatalf("unexpected quote %+v", quote)
	}
}

func TestQuoteFromRevert(t *testing.T) {
	quoteSwap := contracts.QuoterABI.Errors["QuoteSwap"]
	body, err := quoteSwap.Inputs.Pack(big.NewInt(42))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	data := hexutil.Encode(append(append([]byte{}, quoteSwap.ID[:4]...), body...))
	q := newQuoter(t, func(ethereum.CallMsg) ([]byte, error) {
		return nil, revertError{data: data}
	})
	out, err := q.Estimate(context.Background(), swap.GoldToStable, big.NewInt(1))
	if err != nil || out.Int64() != 42 {
		t.Fatalf("unexpected estimate %v %v", out, err)
	}
}

func TestQuoteFailures(t *testing.T) {
	q := newQuoter(t, func(ethereum.CallMsg) ([]byte, error) {
		return nil, errors.New("dial tcp: timeout")
	})
	if _, err := q.Estimate(context.Background(), swap.StableToGold, big.NewInt(1)); !errors.Is(err, ErrQuoteFailed) {
		t.Fatalf("expected quote failure, got %v", err)
	}
	if _, err := q.Estimate(context.Background(), swap.StableToGold, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := q.Quote(context.Background(), swap.StableToGold, big.NewInt(1), 1.5); !errors.Is(err, swap.ErrInvalidTolerance) {
		t.Fatalf("expected invalid tolerance, got %v", err)
	}
	tooBig := new(big.Int).Add(contracts.MaxUint128(), big.NewInt(1))
	if _, err := q.Estimate(context.Background(), swap.StableToGold, tooBig); !errors.Is(err, contracts.ErrAmountOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}

	empty := newQuoter(t, func(ethereum.CallMsg) ([]byte, error) {
		return contracts.QuoterABI.Methods["quoteExactInputSingle"].Outputs.Pack(big.NewInt(0), big.NewInt(0))
	})
	if _, err := empty.Estimate(context.Background(), swap.StableToGold, big.NewInt(1)); !errors.Is(err, ErrNoLiquidity) {
		t.Fatalf("expected no liquidity, got %v", err)
	}
}
