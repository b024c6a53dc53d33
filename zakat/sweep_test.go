package zakat_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Eiad-Soufan/zakati-backend/ledger"
	"github.com/Eiad-Soufan/zakati-backend/money"
	"github.com/Eiad-Soufan/zakati-backend/observability"
	"github.com/Eiad-Soufan/zakati-backend/store/memory"
	"github.com/Eiad-Soufan/zakati-backend/valuation"
	"github.com/Eiad-Soufan/zakati-backend/zakat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// brokenSettings fails for one user and delegates the rest.
type brokenSettings struct {
	*memory.Store
	broken string
}

func (b brokenSettings) GetSettings(ctx context.Context, userID string) (valuation.Settings, error) {
	if userID == b.broken {
		return valuation.Settings{}, errors.New("corrupt settings row")
	}
	return b.Store.GetSettings(ctx, userID)
}

func seedSilver(t *testing.T, l *ledger.Ledger, userID ledger.UserID, grams string) {
	t.Helper()
	_, err := l.Record(context.Background(), ledger.Entry{
		UserID: userID, Asset: ledger.AssetSilver, Operation: ledger.OpAdd, Quantity: money.MustParse(grams),
	})
	require.NoError(t, err)
}

func TestSweep_OneFailingUserDoesNotStopTheBatch(t *testing.T) {
	// GIVEN: three users above the silver nisab, one with broken settings
	// WHEN: the sweep runs
	// THEN: two anchors start, the failure is logged and counted

	store := memory.New()
	l := ledger.NewLedger(store)
	for _, u := range []ledger.UserID{"alice", "bob", "carol"} {
		seedSilver(t, l, u, "600")
	}

	core, logs := observer.New(zapcore.InfoLevel)
	metrics := observability.NewMetrics()
	now := time.Date(2024, time.March, 11, 8, 0, 0, 0, time.UTC)
	engine := &zakat.Engine{
		Holdings:  l,
		Valuation: valuation.NewPipeline(store),
		Settings:  brokenSettings{Store: store, broken: "bob"},
		Anchors:   store,
		Reminders: zakat.NewEmitter(store, zakat.DefaultConfig()),
		Config:    zakat.DefaultConfig(),
		Now:       func() time.Time { return now },
	}
	sweeper := &zakat.Sweeper{
		Engine:      engine,
		Users:       store,
		Concurrency: 2,
		Logger:      zap.New(core),
		Metrics:     metrics,
	}

	result, err := sweeper.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Users)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Contains(t, result.Failures["bob"], "corrupt settings row")

	for _, u := range []ledger.UserID{"alice", "carol"} {
		a, err := store.GetOrCreateAnchor(context.Background(), u, zakat.GroupSilver)
		require.NoError(t, err)
		assert.Equal(t, zakat.StatusActive, a.Status, u)
	}

	failed := logs.FilterMessage("zakat sweep: user failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "bob", failed[0].ContextMap()["user_id"])
	assert.Equal(t, 1, logs.FilterMessage("zakat sweep completed").Len())
}

type failingLister struct{}

func (failingLister) ListUsers(context.Context) ([]ledger.UserID, error) {
	return nil, errors.New("db down")
}

func TestSweep_ListUsersFailure(t *testing.T) {
	sweeper := &zakat.Sweeper{Engine: &zakat.Engine{}, Users: failingLister{}}
	_, err := sweeper.Run(context.Background())
	assert.ErrorContains(t, err, "db down")
}

func TestSweep_NoUsers(t *testing.T) {
	store := memory.New()
	sweeper := &zakat.Sweeper{Engine: &zakat.Engine{}, Users: store}

	result, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Users)
	assert.Empty(t, result.Failures)
}
