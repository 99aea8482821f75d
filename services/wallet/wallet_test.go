package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"goldlend/services/planner"
)

var (
	account = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	txHash  = common.HexToHash("0xabc")
)

type recordingInvalidator struct {
	mu       sync.Mutex
	accounts []common.Address
}

func (r *recordingInvalidator) InvalidateAccount(_ context.Context, a common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts = append(r.accounts, a)
}

func batchOf(n int) planner.Batch {
	b := planner.Batch{Intent: planner.IntentSwap, Account: account}
	for i := 0; i < n; i++ {
		b.Calls = append(b.Calls, planner.Call{To: common.HexToAddress("0x01"), Data: []byte{0x01}, Value: new(big.Int)})
	}
	return b
}

func collect() (*[]Status, Observer) {
	var seen []Status
	return &seen, func(s State) { seen = append(seen, s.Status) }
}

func TestRunnerSuccess(t *testing.T) {
	inv := &recordingInvalidator{}
	exec := FuncExecutor{SendFunc: func(ctx context.Context, a common.Address, calls []planner.Call) (Receipt, error) {
		require.Equal(t, account, a)
		require.Len(t, calls, 2)
		return Receipt{Hash: txHash, BlockNumber: 7}, nil
	}}
	runner, err := NewRunner(exec, WithInvalidator(inv))
	require.NoError(t, err)

	seen, observe := collect()
	state := runner.Run(context.Background(), Action{
		Intent:  planner.IntentSwap,
		Account: account,
		Plan:    func(context.Context) (planner.Batch, error) { return batchOf(2), nil },
	}, observe)

	require.Equal(t, StatusSuccess, state.Status)
	require.Equal(t, txHash, *state.Hash)
	require.Nil(t, state.Error)
	require.Equal(t, []Status{StatusPending, StatusConfirming, StatusSuccess}, *seen)
	require.Equal(t, []common.Address{account}, inv.accounts)
}

func TestRunnerClassifiesFailures(t *testing.T) {
	exec := FuncExecutor{SendFunc: func(context.Context, common.Address, []planner.Call) (Receipt, error) {
		return Receipt{}, errors.New("User rejected the request")
	}}
	inv := &recordingInvalidator{}
	runner, err := NewRunner(exec, WithInvalidator(inv))
	require.NoError(t, err)

	seen, observe := collect()
	state := runner.Run(context.Background(), Action{
		Intent:  planner.IntentSwap,
		Account: account,
		Plan:    func(context.Context) (planner.Batch, error) { return batchOf(1), nil },
	}, observe)
	require.Equal(t, StatusError, state.Status)
	require.Equal(t, CodeUserRejected, state.Error.Code)
	require.Equal(t, "Transaction was cancelled", state.Error.Message)
	require.Nil(t, state.Hash)
	require.Equal(t, []Status{StatusPending, StatusConfirming, StatusError}, *seen)
	require.Empty(t, inv.accounts, "failed actions must not invalidate")
}

func TestRunnerEmptyRepay(t *testing.T) {
	runner, err := NewRunner(FuncExecutor{SendFunc: func(context.Context, common.Address, []planner.Call) (Receipt, error) {
		t.Fatalf("empty batch must not be submitted")
		return Receipt{}, nil
	}})
	require.NoError(t, err)
	seen, observe := collect()
	state := runner.Run(context.Background(), Action{
		Intent:  planner.IntentRepayFull,
		Account: account,
		Plan:    func(context.Context) (planner.Batch, error) { return planner.Batch{}, nil },
	}, observe)
	require.Equal(t, StatusError, state.Status)
	require.Equal(t, CodeUnknown, state.Error.Code)
	require.Contains(t, state.Error.Details, "no debt to repay")
	require.Equal(t, []Status{StatusPending, StatusError}, *seen)
}

func TestRunnerSubmissionSurvivesCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := FuncExecutor{SendFunc: func(ctx context.Context, _ common.Address, _ []planner.Call) (Receipt, error) {
		cancel()
		if ctx.Err() != nil {
			return Receipt{}, ctx.Err()
		}
		return Receipt{Hash: txHash}, nil
	}}
	runner, err := NewRunner(exec)
	require.NoError(t, err)
	state := runner.Run(ctx, Action{
		Intent:  planner.IntentWithdraw,
		Account: account,
		Plan:    func(context.Context) (planner.Batch, error) { return batchOf(1), nil },
	}, nil)
	require.Equal(t, StatusSuccess, state.Status)
}

func TestStateTransitions(t *testing.T) {
	now := time.Unix(1, 0)
	idle := State{Status: StatusIdle}
	_, err := idle.Confirming(now)
	require.ErrorIs(t, err, ErrInvalidTransition)
	pending, err := idle.Pending(now)
	require.NoError(t, err)
	_, err = pending.Succeeded(txHash, now)
	require.ErrorIs(t, err, ErrInvalidTransition, "success requires confirming")
	failed, err := pending.Failed(Classify(errors.New("timeout")), now)
	require.NoError(t, err)
	require.True(t, failed.Status.Terminal())
	_, err = failed.Pending(now)
	require.ErrorIs(t, err, ErrInvalidTransition)

	raw, err := json.Marshal(failed)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"NETWORK_ERROR"`)
	require.NotContains(t, string(raw), `"hash"`)
}

type fakeReceipts struct {
	mu      sync.Mutex
	pending int
	status  uint64
}

func (f *fakeReceipts) TransactionReceipt(context.Context, common.Hash) (*gethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending > 0 {
		f.pending--
		return nil, ethereum.NotFound
	}
	return &gethtypes.Receipt{Status: f.status, BlockNumber: big.NewInt(100)}, nil
}

func (f *fakeReceipts) HeaderByNumber(context.Context, *big.Int) (*gethtypes.Header, error) {
	return &gethtypes.Header{Number: big.NewInt(101)}, nil
}

func TestRelayExecutor(t *testing.T) {
	var got relayRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]string{"hash": txHash.Hex()})
	}))
	defer srv.Close()

	confirmer := NewEVMConfirmer(&fakeReceipts{pending: 1, status: gethtypes.ReceiptStatusSuccessful}, 2, time.Millisecond)
	exec, err := NewRelayExecutor(RelayConfig{Endpoint: srv.URL, APIKey: "secret", ChainID: 42161}, confirmer, srv.Client())
	require.NoError(t, err)

	receipt, err := exec.SendBatch(context.Background(), account, batchOf(3).Calls)
	require.NoError(t, err)
	require.Equal(t, txHash, receipt.Hash)
	require.Equal(t, uint64(100), receipt.BlockNumber)
	require.Equal(t, account, got.Account)
	require.Len(t, got.Calls, 3)
	require.True(t, got.Sponsored)
}

func TestRelayExecutorErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "ERC20: transfer amount exceeds balance"})
	}))
	defer srv.Close()
	confirmer := NewEVMConfirmer(&fakeReceipts{status: gethtypes.ReceiptStatusSuccessful}, 0, time.Millisecond)
	exec, err := NewRelayExecutor(RelayConfig{Endpoint: srv.URL}, confirmer, srv.Client())
	require.NoError(t, err)
	_, err = exec.SendBatch(context.Background(), account, batchOf(1).Calls)
	require.Error(t, err)
	require.Equal(t, CodeInsufficientBalance, Classify(err).Code)

	_, err = exec.SendBatch(context.Background(), account, nil)
	require.ErrorIs(t, err, ErrNothingToSubmit)
}

func TestConfirmerReverted(t *testing.T) {
	confirmer := NewEVMConfirmer(&fakeReceipts{status: gethtypes.ReceiptStatusFailed}, 0, time.Millisecond)
	_, err := confirmer.Confirm(context.Background(), txHash)
	require.Error(t, err)
	require.Equal(t, CodeContractError, Classify(err).Code)
}
