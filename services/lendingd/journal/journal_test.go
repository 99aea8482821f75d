package journal

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"goldlend/services/planner"
	"goldlend/services/wallet"
)

var account = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func setupJournal(t *testing.T) *Journal {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	j, err := New(db, nil)
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	return j
}

func TestJournalLifecycle(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()

	action, err := j.Create(ctx, planner.IntentRepay, account)
	require.NoError(t, err)
	require.Equal(t, string(wallet.StatusIdle), action.Status)

	at := time.Unix(1_700_000_000, 0).UTC()
	observe := j.Observer(ctx, action.ID)
	pending, err := wallet.State{Status: wallet.StatusIdle}.Pending(at)
	require.NoError(t, err)
	observe(pending)
	confirming, err := pending.Confirming(at.Add(time.Second))
	require.NoError(t, err)
	observe(confirming)
	hash := common.HexToHash("0xabc")
	done, err := confirming.Succeeded(hash, at.Add(2*time.Second))
	require.NoError(t, err)
	observe(done)

	stored, err := j.Get(ctx, action.ID)
	require.NoError(t, err)
	state := stored.State()
	require.Equal(t, wallet.StatusSuccess, state.Status)
	require.NotNil(t, state.Hash)
	require.Equal(t, hash, *state.Hash)
	require.Nil(t, state.Error)

	transitions, err := j.Transitions(ctx, action.ID)
	require.NoError(t, err)
	require.Len(t, transitions, 3)
	require.Equal(t, string(wallet.StatusPending), transitions[0].Status)
	require.Equal(t, string(wallet.StatusSuccess), transitions[2].Status)
}

func TestJournalRecordsFailure(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()

	action, err := j.Create(ctx, planner.IntentSwap, account)
	require.NoError(t, err)
	pending, _ := wallet.State{Status: wallet.StatusIdle}.Pending(time.Now())
	failed, err := pending.Failed(wallet.ClassifyMessage("execution reverted: boom"), time.Now())
	require.NoError(t, err)
	require.NoError(t, j.Record(ctx, action.ID, failed))

	stored, err := j.Get(ctx, action.ID)
	require.NoError(t, err)
	state := stored.State()
	require.Equal(t, wallet.StatusError, state.Status)
	require.NotNil(t, state.Error)
	require.Equal(t, wallet.CodeContractError, state.Error.Code)
	require.Contains(t, state.Error.Details, "boom")
	require.Nil(t, state.Hash)
}

func TestJournalNotFound(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()

	_, err := j.Get(ctx, uuid.New())
	require.True(t, errors.Is(err, ErrNotFound))

	err = j.Record(ctx, uuid.New(), wallet.State{Status: wallet.StatusPending})
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestJournalRecent(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < 3; i++ {
		offset := time.Duration(i) * time.Minute
		j.now = func() time.Time { return base.Add(offset) }
		_, err := j.Create(ctx, planner.IntentWithdraw, account)
		require.NoError(t, err)
	}
	_, err := j.Create(ctx, planner.IntentWithdraw, common.HexToAddress("0xbb"))
	require.NoError(t, err)

	actions, err := j.Recent(ctx, account, 2)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	require.True(t, actions[0].CreatedAt.After(actions[1].CreatedAt))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "dsn"); err == nil {
		t.Fatal("expected unsupported driver error")
	}
}
