package memory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Eiad-Soufan/zakati-backend/ledger"
	"github.com/Eiad-Soufan/zakati-backend/money"
	"github.com/Eiad-Soufan/zakati-backend/store/memory"
	"github.com/Eiad-Soufan/zakati-backend/valuation"
	"github.com/Eiad-Soufan/zakati-backend/zakat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_ConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	// GIVEN: 50 USD
	// WHEN: 20 goroutines each withdraw 10 USD at once
	// THEN: exactly 5 succeed and the balance ends at 0

	l := ledger.NewLedger(memory.New())
	ctx := context.Background()
	_, err := l.Record(ctx, ledger.Entry{UserID: "u1", Asset: ledger.AssetCash, SubKey: "USD", Operation: ledger.OpAdd, Quantity: money.FromInt(50)})
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		ok       atomic.Int32
		rejected atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Record(ctx, ledger.Entry{UserID: "u1", Asset: ledger.AssetCash, SubKey: "USD", Operation: ledger.OpWithdraw, Quantity: money.FromInt(10)})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ledger.ErrInsufficientBalance):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), ok.Load())
	assert.Equal(t, int32(15), rejected.Load())

	bal, err := l.Balance(ctx, "u1", ledger.AssetCash, "USD")
	require.NoError(t, err)
	assert.Equal(t, "0", bal.String())
}

func TestStore_ConcurrentDeleteAndWithdrawKeepBalanceNonNegative(t *testing.T) {
	// GIVEN: ADD 100 USD
	// WHEN: deleting that ADD races a 60 USD withdrawal
	// THEN: at most one wins and the balance never goes negative

	l := ledger.NewLedger(memory.New())
	ctx := context.Background()
	add, err := l.Record(ctx, ledger.Entry{UserID: "u1", Asset: ledger.AssetCash, SubKey: "USD", Operation: ledger.OpAdd, Quantity: money.FromInt(100)})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var deleteErr, withdrawErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, deleteErr = l.Delete(ctx, "u1", add.ID, "duplicate")
	}()
	go func() {
		defer wg.Done()
		_, withdrawErr = l.Record(ctx, ledger.Entry{UserID: "u1", Asset: ledger.AssetCash, SubKey: "USD", Operation: ledger.OpWithdraw, Quantity: money.FromInt(60)})
	}()
	wg.Wait()

	assert.False(t, deleteErr == nil && withdrawErr == nil, "both writes passed the check")
	assert.True(t, deleteErr == nil || withdrawErr == nil, "one write must win")

	bal, err := l.Balance(ctx, "u1", ledger.AssetCash, "USD")
	require.NoError(t, err)
	assert.False(t, bal.IsNegative(), "balance %s", bal)
}

func TestStore_SnapshotVersion(t *testing.T) {
	// GIVEN: a fresh user
	// WHEN: the ledger, settings and notifications change
	// THEN: each change bumps the version once; a failed WithTx restores it

	s := memory.New()
	ctx := context.Background()
	version := func() int64 {
		v, err := s.SnapshotVersion(ctx, "u1")
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, int64(1), version())

	l := ledger.NewLedger(s)
	_, err := l.Record(ctx, ledger.Entry{UserID: "u1", Asset: ledger.AssetCash, SubKey: "USD", Operation: ledger.OpAdd, Quantity: money.FromInt(10)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), version())

	require.NoError(t, s.SaveSettings(ctx, "u1", valuation.DefaultSettings()))
	assert.Equal(t, int64(3), version())

	_, err = s.InsertIfAbsent(ctx, zakat.Notification{ID: "n1", UserID: "u1", DedupKey: "k", CreatedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, s.MarkRead(ctx, "u1", "n1", time.Now()))
	require.NoError(t, s.MarkRead(ctx, "u1", "n1", time.Now()))
	assert.Equal(t, int64(4), version())

	boom := errors.New("boom")
	err = s.WithTx(ctx, func(tx ledger.Store) error {
		_, err := tx.(ledger.Versioned).BumpVersion(ctx, "u1")
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(4), version())
}

func TestStore_NotificationsAfter(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	for _, id := range []string{"n3", "n2", "n1"} {
		_, err := s.InsertIfAbsent(ctx, zakat.Notification{ID: id, UserID: "u1", DedupKey: id, CreatedAt: time.Now()})
		require.NoError(t, err)
	}

	after, err := s.NotificationsAfter(ctx, "u1", "n3", 0)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, "n2", after[0].ID)
	assert.Equal(t, "n1", after[1].ID)

	_, err = s.NotificationsAfter(ctx, "u1", "missing", 0)
	assert.ErrorIs(t, err, zakat.ErrNotificationNotFound)
}
