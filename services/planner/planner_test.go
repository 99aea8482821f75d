package planner

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"goldlend/config"
	"goldlend/contracts"
	"goldlend/native/lending"
	"goldlend/native/swap"
)

var account = common.HexToAddress("0x00000000000000000000000000000000000000aa")

type fakeReader struct {
	params          lending.MarketParams
	position        lending.Position
	allowance       *big.Int
	permitAllowance *big.Int
	err             error
}

func (f *fakeReader) MarketParams(context.Context) (lending.MarketParams, error) {
	return f.params, f.err
}

func (f *fakeReader) LivePosition(context.Context, common.Address) (lending.Position, error) {
	return f.position, f.err
}

func (f *fakeReader) Allowance(context.Context, common.Address, common.Address, common.Address) (*big.Int, error) {
	return f.allowance, f.err
}

func (f *fakeReader) Permit2Allowance(context.Context, common.Address, common.Address, common.Address) (*big.Int, error) {
	return f.permitAllowance, f.err
}

func newTestPlanner(t *testing.T, reader *fakeReader) (*Planner, config.Network) {
	t.Helper()
	network := config.Arbitrum()
	if reader.params.IsZero() {
		reader.params = lending.MarketParams{
			LoanToken:       network.Stable.Address,
			CollateralToken: network.Gold.Address,
			Oracle:          common.HexToAddress("0x0c"),
			IRM:             common.HexToAddress("0x0d"),
			LLTV:            big.NewInt(770000000000000000),
		}
	}
	clock := func() time.Time { return time.Unix(1_700_000_000, 0) }
	p, err := New(network, reader, WithClock(clock))
	if err != nil {
		t.Fatalf("new planner: %v", err)
	}
	return p, network
}

func decode(t *testing.T, call Call) contracts.DecodedCall {
	t.Helper()
	decoded, err := contracts.DecodeCall(call.Data)
	if err != nil {
		t.Fatalf("decode call to %s: %v", call.To.Hex(), err)
	}
	return decoded
}

func bigArg(t *testing.T, call contracts.DecodedCall, name string) *big.Int {
	t.Helper()
	v, ok := call.Args[name].(*big.Int)
	if !ok {
		t.Fatalf("%s.%s: missing %s", call.Contract, call.Method, name)
	}
	return v
}

func TestSupplyAndBorrow(t *testing.T) {
	p, network := newTestPlanner(t, &fakeReader{})
	batch, err := p.SupplyAndBorrow(context.Background(), account, big.NewInt(10_000000), big.NewInt(5_000000))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(batch.Calls) != 3 {
		t.Fatalf("expected approve, supply, borrow; got %d calls", len(batch.Calls))
	}
	approve := decode(t, batch.Calls[0])
	if batch.Calls[0].To != network.Gold.Address || approve.Method != "approve" {
		t.Fatalf("first call must approve collateral, got %s on %s", approve.Method, batch.Calls[0].To.Hex())
	}
	if approve.Args["spender"].(common.Address) != network.Contracts.Lending || bigArg(t, approve, "amount").Int64() != 10_000000 {
		t.Fatalf("unexpected approval %v", approve.Args)
	}
	if m := decode(t, batch.Calls[1]).Method; m != "supplyCollateral" {
		t.Fatalf("second call must supply collateral, got %s", m)
	}
	borrow := decode(t, batch.Calls[2])
	if borrow.Method != "borrow" || bigArg(t, borrow, "assets").Int64() != 5_000000 || bigArg(t, borrow, "shares").Sign() != 0 {
		t.Fatalf("unexpected borrow %s %v", borrow.Method, borrow.Args)
	}
	if borrow.Args["receiver"].(common.Address) != account {
		t.Fatalf("borrowed funds must go to the account")
	}
}

func TestSupplyWithoutBorrow(t *testing.T) {
	p, _ := newTestPlanner(t, &fakeReader{})
	batch, err := p.SupplyAndBorrow(context.Background(), account, big.NewInt(1), big.NewInt(0))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(batch.Calls) != 2 {
		t.Fatalf("borrow must be omitted for zero amount, got %d calls", len(batch.Calls))
	}
	if _, err := p.SupplyAndBorrow(context.Background(), account, big.NewInt(0), nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestRepayPartial(t *testing.T) {
	reader := &fakeReader{position: lending.Position{
		BorrowShares:   big.NewInt(4_900000_000000),
		BorrowedAssets: big.NewInt(5_000000),
	}}
	p, network := newTestPlanner(t, reader)
	batch, err := p.Repay(context.Background(), account, big.NewInt(2_000000))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if batch.Intent != IntentRepay || len(batch.Calls) != 2 {
		t.Fatalf("unexpected batch %+v", batch)
	}
	approve := decode(t, batch.Calls[0])
	if batch.Calls[0].To != network.Stable.Address || bigArg(t, approve, "amount").Int64() != 2_000000 {
		t.Fatalf("approval must be exactly the repay amount, got %v", approve.Args)
	}
	repay := decode(t, batch.Calls[1])
	if bigArg(t, repay, "assets").Int64() != 2_000000 || bigArg(t, repay, "shares").Sign() != 0 {
		t.Fatalf("partial repay must be asset denominated, got %v", repay.Args)
	}
}

func TestRepayFullByShares(t *testing.T) {
	shares := big.NewInt(4_900000_000000)
	reader := &fakeReader{position: lending.Position{BorrowShares: shares, BorrowedAssets: big.NewInt(5_000000)}}
	p, _ := newTestPlanner(t, reader)

	for name, plan := range map[string]func() (Batch, error){
		"explicit": func() (Batch, error) { return p.RepayFull(context.Background(), account) },
		"covering": func() (Batch, error) { return p.Repay(context.Background(), account, big.NewInt(5_000000)) },
		"exceeding": func() (Batch, error) {
			return p.Repay(context.Background(), account, big.NewInt(9_000000))
		},
	} {
		batch, err := plan()
		if err != nil {
			t.Fatalf("%s: plan: %v", name, err)
		}
		if batch.Intent != IntentRepayFull || len(batch.Calls) != 2 {
			t.Fatalf("%s: unexpected batch %+v", name, batch)
		}
		approve := decode(t, batch.Calls[0])
		if bigArg(t, approve, "amount").Cmp(contracts.MaxUint256()) != 0 {
			t.Fatalf("%s: full repay must approve unlimited", name)
		}
		last := decode(t, batch.Calls[len(batch.Calls)-1])
		if bigArg(t, last, "shares").Cmp(shares) != 0 || bigArg(t, last, "assets").Sign() != 0 {
			t.Fatalf("%s: final call must repay shares=%s assets=0, got %v", name, shares, last.Args)
		}
	}
}

func TestRepayWithoutDebtIsEmpty(t *testing.T) {
	reader := &fakeReader{position: lending.Position{BorrowShares: big.NewInt(0), BorrowedAssets: big.NewInt(0)}}
	p, _ := newTestPlanner(t, reader)
	batch, err := p.RepayFull(context.Background(), account)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !batch.Empty() {
		t.Fatalf("expected empty batch, got %d calls", len(batch.Calls))
	}
	batch, err = p.Repay(context.Background(), account, big.NewInt(1))
	if err != nil || !batch.Empty() {
		t.Fatalf("repay without debt must be an empty batch, got %+v %v", batch, err)
	}
}

func TestWithdrawCollateral(t *testing.T) {
	p, network := newTestPlanner(t, &fakeReader{})
	batch, err := p.WithdrawCollateral(context.Background(), account, big.NewInt(3_000000))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(batch.Calls) != 1 || batch.Calls[0].To != network.Contracts.Lending {
		t.Fatalf("withdraw needs a single lending call, got %+v", batch)
	}
	call := decode(t, batch.Calls[0])
	if call.Method != "withdrawCollateral" || call.Args["receiver"].(common.Address) != account {
		t.Fatalf("unexpected withdraw %v", call.Args)
	}
}

func TestSwapApprovalsIndependent(t *testing.T) {
	amountIn := big.NewInt(3000_000000)
	tests := []struct {
		name      string
		token     *big.Int
		permit    *big.Int
		wantCalls []string
	}{
		{"both missing", big.NewInt(0), big.NewInt(0), []string{"erc20.approve", "permit2.approve", "router.execute"}},
		{"token covered", amountIn, big.NewInt(0), []string{"permit2.approve", "router.execute"}},
		{"permit covered", big.NewInt(10), contracts.MaxUint160(), []string{"erc20.approve", "router.execute"}},
		{"both covered", new(big.Int).Add(amountIn, big.NewInt(1)), amountIn, []string{"router.execute"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, network := newTestPlanner(t, &fakeReader{allowance: tc.token, permitAllowance: tc.permit})
			batch, err := p.Swap(context.Background(), account, SwapRequest{
				Direction:    swap.StableToGold,
				AmountIn:     amountIn,
				MinAmountOut: big.NewInt(995000),
			})
			if err != nil {
				t.Fatalf("plan: %v", err)
			}
			if len(batch.Calls) != len(tc.wantCalls) {
				t.Fatalf("want %v, got %d calls", tc.wantCalls, len(batch.Calls))
			}
			for i, call := range batch.Calls {
				decoded := decode(t, call)
				if got := decoded.Contract + "." + decoded.Method; got != tc.wantCalls[i] {
					t.Fatalf("call %d: want %s got %s", i, tc.wantCalls[i], got)
				}
				if decoded.Contract == "erc20" && call.To != network.Stable.Address {
					t.Fatalf("approval must target the input token")
				}
			}
			last := batch.Calls[len(batch.Calls)-1]
			if last.To != network.Contracts.UniversalRouter {
				t.Fatalf("swap must be executed by the router")
			}
			swapped, err := contracts.DecodeSwapExactInSingle(last.Data)
			if err != nil {
				t.Fatalf("decode swap: %v", err)
			}
			if swapped.AmountIn.Cmp(amountIn) != 0 || swapped.AmountOutMinimum.Int64() != 995000 || swapped.Recipient != account {
				t.Fatalf("unexpected swap %+v", swapped)
			}
			if swapped.Deadline.Int64() != 1_700_000_000+1800 {
				t.Fatalf("unexpected deadline %s", swapped.Deadline)
			}
		})
	}
}

func TestSwapPermitExpiration(t *testing.T) {
	p, _ := newTestPlanner(t, &fakeReader{allowance: big.NewInt(0), permitAllowance: big.NewInt(0)})
	batch, err := p.Swap(context.Background(), account, SwapRequest{Direction: swap.GoldToStable, AmountIn: big.NewInt(1_000000), MinAmountOut: big.NewInt(1)})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	permit := decode(t, batch.Calls[1])
	if bigArg(t, permit, "amount").Cmp(contracts.MaxUint160()) != 0 {
		t.Fatalf("router allowance must be unlimited uint160")
	}
	want := time.Unix(1_700_000_000, 0).Add(PermitLifetime).Unix()
	if bigArg(t, permit, "expiration").Int64() != want {
		t.Fatalf("unexpected expiration %s", bigArg(t, permit, "expiration"))
	}
}

func TestSwapValidation(t *testing.T) {
	p, _ := newTestPlanner(t, &fakeReader{allowance: big.NewInt(0), permitAllowance: big.NewInt(0)})
	tooBig := new(big.Int).Add(contracts.MaxUint128(), big.NewInt(1))
	if _, err := p.Swap(context.Background(), account, SwapRequest{Direction: swap.StableToGold, AmountIn: tooBig, MinAmountOut: big.NewInt(1)}); !errors.Is(err, contracts.ErrAmountOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := p.Swap(context.Background(), account, SwapRequest{Direction: "ETH_TO_BTC", AmountIn: big.NewInt(1), MinAmountOut: big.NewInt(1)}); !errors.Is(err, ErrUnsupportedPair) {
		t.Fatalf("expected unsupported pair, got %v", err)
	}
	past := time.Unix(1_600_000_000, 0)
	if _, err := p.Swap(context.Background(), account, SwapRequest{Direction: swap.StableToGold, AmountIn: big.NewInt(1), MinAmountOut: big.NewInt(1), Deadline: past}); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected expired deadline, got %v", err)
	}
	for _, floor := range []*big.Int{nil, big.NewInt(0), big.NewInt(-1)} {
		if _, err := p.Swap(context.Background(), account, SwapRequest{Direction: swap.StableToGold, AmountIn: big.NewInt(1), MinAmountOut: floor}); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("expected missing floor %v to be rejected, got %v", floor, err)
		}
	}
}

func TestReadFailuresPropagate(t *testing.T) {
	boom := errors.New("rpc down")
	p, _ := newTestPlanner(t, &fakeReader{err: boom})
	if _, err := p.RepayFull(context.Background(), account); !errors.Is(err, boom) {
		t.Fatalf("expected read failure, got %v", err)
	}
	if _, err := p.Swap(context.Background(), account, SwapRequest{Direction: swap.StableToGold, AmountIn: big.NewInt(1), MinAmountOut: big.NewInt(1)}); !errors.Is(err, boom) {
		t.Fatalf("expected read failure, got %v", err)
	}
}

func TestMarketMismatch(t *testing.T) {
	reader := &fakeReader{params: lending.MarketParams{
		LoanToken:       common.HexToAddress("0x01"),
		CollateralToken: common.HexToAddress("0x02"),
		LLTV:            big.NewInt(1),
	}}
	p, _ := newTestPlanner(t, reader)
	if _, err := p.WithdrawCollateral(context.Background(), account, big.NewInt(1)); !errors.Is(err, ErrMarketMismatch) {
		t.Fatalf("expected market mismatch, got %v", err)
	}
}

func TestTransferAndDispatch(t *testing.T) {
	p, network := newTestPlanner(t, &fakeReader{})
	to := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	batch, err := p.Plan(context.Background(), Request{
		Intent:  IntentTransfer,
		Account: account,
		Token:   network.Stable.Address,
		To:      to,
		Amount:  big.NewInt(42),
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	call := decode(t, batch.Calls[0])
	if call.Method != "transfer" || call.Args["to"].(common.Address) != to || bigArg(t, call, "amount").Int64() != 42 {
		t.Fatalf("unexpected transfer %v", call.Args)
	}
	if _, err := p.Transfer(context.Background(), account, common.HexToAddress("0x99"), to, big.NewInt(1)); !errors.Is(err, ErrUnsupportedPair) {
		t.Fatalf("expected unsupported token, got %v", err)
	}
	if _, err := p.Plan(context.Background(), Request{Intent: "lever-up"}); !errors.Is(err, ErrUnknownIntent) {
		t.Fatalf("expected unknown intent, got %v", err)
	}
	if intent, err := ParseIntent("repay-full"); err != nil || intent != IntentRepayFull {
		t.Fatalf("unexpected parse %q %v", intent, err)
	}
}
