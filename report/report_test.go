package report_test

import (
	"context"
	"testing"
	"time"

	"github.com/Eiad-Soufan/zakati-backend/ledger"
	"github.com/Eiad-Soufan/zakati-backend/money"
	"github.com/Eiad-Soufan/zakati-backend/report"
	"github.com/Eiad-Soufan/zakati-backend/store/memory"
	"github.com/Eiad-Soufan/zakati-backend/valuation"
	"github.com/Eiad-Soufan/zakati-backend/zakat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const user = ledger.UserID("user-1")

var now = time.Date(2024, time.March, 11, 8, 0, 0, 0, time.UTC) // 1 Ramadan 1445

type fixture struct {
	store    *memory.Store
	ledger   *ledger.Ledger
	engine   *zakat.Engine
	reporter *report.Reporter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	l := ledger.NewLedger(store)
	l.Now = func() time.Time { return now }
	clock := func() time.Time { return now }

	pipeline := valuation.NewPipeline(store)
	engine := &zakat.Engine{
		Holdings:  l,
		Valuation: pipeline,
		Settings:  store,
		Anchors:   store,
		Config:    zakat.DefaultConfig(),
		Now:       clock,
	}
	return &fixture{
		store:  store,
		ledger: l,
		engine: engine,
		reporter: &report.Reporter{
			Ledger:    l,
			Valuation: pipeline,
			Settings:  store,
			Engine:    engine,
			Anchors:   store,
			Now:       clock,
		},
	}
}

func (f *fixture) record(t *testing.T, asset ledger.AssetClass, subKey string, op ledger.Operation, qty string, on time.Time) {
	t.Helper()
	_, err := f.ledger.Record(context.Background(), ledger.Entry{
		UserID: user, Asset: asset, SubKey: subKey, Operation: op, Quantity: money.MustParse(qty), OccurredOn: on,
	})
	require.NoError(t, err)
}

func (f *fixture) prices(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.AppendMetalPrice(ctx, valuation.MetalPrice{Metal: valuation.Gold, PricePerGram: money.FromInt(80), Currency: "USD", FetchedAt: now}))
	require.NoError(t, f.store.AppendMetalPrice(ctx, valuation.MetalPrice{Metal: valuation.Silver, PricePerGram: money.FromInt(1), Currency: "USD", FetchedAt: now}))
}

// =============================================================================
// PORTFOLIO AND OVERVIEW
// =============================================================================

func TestPortfolio_ValuesEveryHolding(t *testing.T) {
	// GIVEN: 100g 21K (87.5g pure) at 80/g, 600g silver at 1/g,
	//        5000 USD and 10 EUR (no EUR rate)
	// THEN: 7000 + 600 + 5000 = 12600 USD

	f := newFixture(t)
	f.prices(t)
	f.record(t, ledger.AssetGold, "21", ledger.OpAdd, "100", now)
	f.record(t, ledger.AssetSilver, "", ledger.OpAdd, "600", now)
	f.record(t, ledger.AssetCash, "USD", ledger.OpAdd, "5000", now)
	f.record(t, ledger.AssetCash, "EUR", ledger.OpAdd, "10", now)

	p, err := f.reporter.Portfolio(context.Background(), user)
	require.NoError(t, err)

	assert.Equal(t, "USD", p.DisplayCurrency)
	assert.Equal(t, "87.5", p.Gold.Grams.String())
	require.NotNil(t, p.Gold.Value)
	assert.Equal(t, "7000.00", p.Gold.Value.StringFixed(2))
	require.NotNil(t, p.Silver.Value)
	assert.Equal(t, "600", p.Silver.Value.String())
	assert.Equal(t, "5000", p.Cash.String())
	assert.Equal(t, "12600", p.Total.String())
	assert.Len(t, p.Holdings.Wallets, 2)
}

func TestPortfolio_UnpricedMetalsHaveNoValue(t *testing.T) {
	f := newFixture(t)
	f.prices(t)
	require.NoError(t, f.store.SaveSettings(context.Background(), string(user), valuation.Settings{DisplayCurrency: "SYP"}))
	f.record(t, ledger.AssetGold, "24", ledger.OpAdd, "10", now)
	f.record(t, ledger.AssetCash, "SYP", ledger.OpAdd, "1000000", now)

	p, err := f.reporter.Portfolio(context.Background(), user)
	require.NoError(t, err)

	assert.Nil(t, p.Gold.Value, "no USD->SYP rate")
	assert.Nil(t, p.Gold.PricePerGram)
	assert.Equal(t, "10", p.Gold.Grams.String())
	assert.Equal(t, "1000000", p.Total.String())
}

func TestOverview_EstimatesAndAnchors(t *testing.T) {
	f := newFixture(t)
	f.prices(t)
	f.record(t, ledger.AssetGold, "21", ledger.OpAdd, "100", now)
	f.record(t, ledger.AssetSilver, "", ledger.OpAdd, "600", now)
	f.record(t, ledger.AssetCash, "USD", ledger.OpAdd, "5000", now)

	_, err := f.engine.Evaluate(context.Background(), user)
	require.NoError(t, err)

	o, err := f.reporter.Overview(context.Background(), user)
	require.NoError(t, err)

	require.NotNil(t, o.GoldEstimate)
	assert.Equal(t, "175", o.GoldEstimate.String())
	require.NotNil(t, o.SilverEstimate)
	assert.Equal(t, "15", o.SilverEstimate.String())
	assert.Equal(t, "125", o.CashEstimate.String())
	assert.Equal(t, "315", o.TotalEstimate.String())

	require.Len(t, o.Anchors, 3)
	gold := o.Anchors[0]
	assert.Equal(t, zakat.GroupGoldPure, gold.Group)
	require.NotNil(t, gold.Remaining)
	// 1 Ramadan 1445 to 1 Ramadan 1446 spans the 30-day Dhu al-Hijjah of 1445.
	assert.Equal(t, zakat.Remaining{Value: 355, Unit: zakat.UnitDays}, *gold.Remaining)

	cash := o.Anchors[2]
	assert.Equal(t, zakat.GroupCashPool, cash.Group)
	assert.Nil(t, cash.Remaining, "5000 is below the 6800 cash nisab")
}

// =============================================================================
// DASHBOARD
// =============================================================================

func day(m time.Month, d int) time.Time { return time.Date(2025, m, d, 0, 0, 0, 0, time.UTC) }

func TestDashboard_SectionsOverPeriod(t *testing.T) {
	f := newFixture(t)
	f.prices(t)
	f.record(t, ledger.AssetSilver, "", ledger.OpAdd, "100", time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC))
	f.record(t, ledger.AssetCash, "USD", ledger.OpAdd, "1000", day(time.January, 5))
	f.record(t, ledger.AssetGold, "21", ledger.OpAdd, "24", day(time.January, 10))
	f.record(t, ledger.AssetCash, "USD", ledger.OpZakat, "25", day(time.January, 15))
	f.record(t, ledger.AssetGold, "21", ledger.OpWithdraw, "4", day(time.January, 20))

	period, err := report.ParsePeriod(report.PresetCustom, "2025-01-01", "2025-01-31", day(time.March, 1))
	require.NoError(t, err)

	d, err := f.reporter.Dashboard(context.Background(), user, period, "")
	require.NoError(t, err)

	assert.Equal(t, "USD", d.DisplayCurrency)
	assert.Equal(t, "21", d.Added.GoldPureGrams.String())
	assert.Equal(t, "1680", d.Added.GoldValue.String())
	assert.Equal(t, "1000", d.Added.CashValue.String())
	assert.Equal(t, "2680", d.Added.Total.String())
	assert.True(t, d.Added.SilverGrams.IsZero(), "December silver is outside the period")

	assert.Equal(t, "3.5", d.Withdrawn.GoldPureGrams.String())
	assert.Equal(t, "280", d.Withdrawn.Total.String())

	assert.Equal(t, "25", d.ZakatPaid.CashValue.String())
	assert.Equal(t, "25", d.ZakatPaid.Total.String())
}

func TestDashboard_InvalidDisplayCurrency(t *testing.T) {
	f := newFixture(t)
	period, err := report.ParsePeriod(report.PresetLastYear, "", "", now)
	require.NoError(t, err)

	_, err = f.reporter.Dashboard(context.Background(), user, period, "dollars")
	assert.ErrorIs(t, err, valuation.ErrInvalidCurrency)
}

// =============================================================================
// PERIODS
// =============================================================================

func TestParsePeriod(t *testing.T) {
	today := time.Date(2025, time.March, 18, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		preset, from, to string
		wantPreset       string
		wantFrom         time.Time
	}{
		{report.PresetLastMonth, "", "", report.PresetLastMonth, day(time.March, 1)},
		{report.PresetLast6Months, "", "", report.PresetLast6Months, time.Date(2024, time.September, 19, 0, 0, 0, 0, time.UTC)},
		{report.PresetLastYear, "", "", report.PresetLastYear, day(time.January, 1)},
		{"", "", "", report.PresetLastMonth, day(time.March, 1)},
		{"", "2025-02-01", "2025-02-10", report.PresetCustom, day(time.February, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.wantPreset+tt.from, func(t *testing.T) {
			p, err := report.ParsePeriod(tt.preset, tt.from, tt.to, today)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPreset, p.Preset)
			assert.True(t, tt.wantFrom.Equal(p.From), p.From)
		})
	}
}

func TestParsePeriod_Rejections(t *testing.T) {
	today := day(time.March, 18)
	for name, args := range map[string][3]string{
		"unknown preset":  {"last_decade", "", ""},
		"custom no dates": {report.PresetCustom, "2025-01-01", ""},
		"bad date":        {"", "2025-13-01", "2025-01-31"},
		"reversed":        {"", "2025-02-01", "2025-01-01"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := report.ParsePeriod(args[0], args[1], args[2], today)
			assert.ErrorIs(t, err, report.ErrInvalidPeriod)
		})
	}
}
