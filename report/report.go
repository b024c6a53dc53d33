/*
Package report builds read-only views of a user's holdings valued in their
display currency.

VIEWS:
  Portfolio:  current value of pure gold, silver and cash, and the total
  Overview:   the portfolio plus a zakat estimate per group and every anchor
              with its remaining time
  Dashboard:  what was added, withdrawn and paid as zakat over a period

PRICING:
  A metal without a price in the display currency has no value (nil), not
  a zero value. Wallets without a rate are left out of cash sums. Money
  values are rounded half-up to 2 places, weights to 6.

SEE ALSO:
  - period.go:  dashboard period parsing
  - valuation:  rates and metal prices
*/
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/Eiad-Soufan/zakati-backend/ledger"
	"github.com/Eiad-Soufan/zakati-backend/money"
	"github.com/Eiad-Soufan/zakati-backend/valuation"
	"github.com/Eiad-Soufan/zakati-backend/zakat"
)

// Reporter reads the ledger, the price pipeline and the zakat engine.
type Reporter struct {
	Ledger    *ledger.Ledger
	Valuation *valuation.Pipeline
	Settings  valuation.SettingsStore
	Engine    *zakat.Engine
	Anchors   zakat.AnchorStore
	Now       func() time.Time
}

// =============================================================================
// PORTFOLIO
// =============================================================================

// MetalValue is a metal holding with its price. PricePerGram and Value are
// nil when no price is known in the display currency.
type MetalValue struct {
	Grams        money.Money
	PricePerGram *money.Money
	Value        *money.Money
}

type Portfolio struct {
	DisplayCurrency string
	Gold            MetalValue // pure (24K equivalent) grams
	Silver          MetalValue
	Cash            money.Money
	Total           money.Money
	Holdings        ledger.Holdings
}

// Portfolio values the user's holdings in their display currency.
func (r *Reporter) Portfolio(ctx context.Context, userID ledger.UserID) (Portfolio, error) {
	settings, err := r.Settings.GetSettings(ctx, string(userID))
	if err != nil {
		return Portfolio{}, fmt.Errorf("failed to load settings: %w", err)
	}
	return r.portfolio(ctx, userID, settings)
}

func (r *Reporter) portfolio(ctx context.Context, userID ledger.UserID, settings valuation.Settings) (Portfolio, error) {
	holdings, err := r.Ledger.Holdings(ctx, userID)
	if err != nil {
		return Portfolio{}, err
	}

	p := Portfolio{DisplayCurrency: settings.DisplayCurrency, Holdings: holdings}

	if p.Gold, err = r.metalValue(ctx, valuation.Gold, holdings.PureGoldGrams, settings); err != nil {
		return Portfolio{}, err
	}
	if p.Silver, err = r.metalValue(ctx, valuation.Silver, holdings.SilverGrams, settings); err != nil {
		return Portfolio{}, err
	}

	cash, err := r.Engine.TotalCash(ctx, userID, settings)
	if err != nil {
		return Portfolio{}, err
	}

	total := cash
	if p.Gold.Value != nil {
		total = total.Add(*p.Gold.Value)
	}
	if p.Silver.Value != nil {
		total = total.Add(*p.Silver.Value)
	}
	p.Cash = cash.Quantize(money.DisplayMoney)
	p.Total = total.Quantize(money.DisplayMoney)
	roundValue(&p.Gold)
	roundValue(&p.Silver)
	return p, nil
}

func (r *Reporter) metalValue(ctx context.Context, metal valuation.Metal, grams money.Money, settings valuation.Settings) (MetalValue, error) {
	mv := MetalValue{Grams: grams.Quantize(money.DisplayWeight)}
	price, ok, err := r.Valuation.MetalPricePerGramIn(ctx, metal, settings.DisplayCurrency, settings.Overrides)
	if err != nil {
		return MetalValue{}, err
	}
	if !ok {
		return mv, nil
	}
	value := grams.Mul(price)
	mv.PricePerGram = &price
	mv.Value = &value
	return mv, nil
}

// roundValue is applied after totals are summed from exact values.
func roundValue(mv *MetalValue) {
	if mv.Value != nil {
		v := mv.Value.Quantize(money.DisplayMoney)
		mv.Value = &v
	}
}

// =============================================================================
// ZAKAT OVERVIEW
// =============================================================================

// AnchorView is an anchor and, when it has dates, the time left.
type AnchorView struct {
	zakat.Anchor
	Remaining *zakat.Remaining
}

// Overview holds zakat estimates at the configured rate. An estimate is nil
// when the holding has no price.
type Overview struct {
	Portfolio      Portfolio
	GoldEstimate   *money.Money
	SilverEstimate *money.Money
	CashEstimate   money.Money
	TotalEstimate  money.Money
	Anchors        []AnchorView
}

// Overview estimates what would be due if today were the due date, and
// lists the user's anchors. It reads anchors but never moves them.
func (r *Reporter) Overview(ctx context.Context, userID ledger.UserID) (Overview, error) {
	p, err := r.Portfolio(ctx, userID)
	if err != nil {
		return Overview{}, err
	}

	rate := r.Engine.Config.ZakatRate
	estimate := func(v money.Money) money.Money { return v.Mul(rate).Quantize(money.DisplayMoney) }

	o := Overview{Portfolio: p, CashEstimate: estimate(p.Cash)}
	o.TotalEstimate = o.CashEstimate
	if p.Gold.Value != nil {
		e := estimate(*p.Gold.Value)
		o.GoldEstimate = &e
		o.TotalEstimate = o.TotalEstimate.Add(e)
	}
	if p.Silver.Value != nil {
		e := estimate(*p.Silver.Value)
		o.SilverEstimate = &e
		o.TotalEstimate = o.TotalEstimate.Add(e)
	}

	anchors, err := r.Anchors.ListAnchors(ctx, userID)
	if err != nil {
		return Overview{}, fmt.Errorf("failed to list anchors: %w", err)
	}
	now := r.now()
	for _, a := range anchors {
		view := AnchorView{Anchor: a}
		if rem, ok := r.Engine.Remaining(a, now); ok {
			view.Remaining = &rem
		}
		o.Anchors = append(o.Anchors, view)
	}
	return o, nil
}

// =============================================================================
// DASHBOARD
// =============================================================================

// Section totals one kind of operation over a period.
type Section struct {
	GoldValue     money.Money
	SilverValue   money.Money
	CashValue     money.Money
	Total         money.Money
	GoldPureGrams money.Money
	SilverGrams   money.Money
}

type Dashboard struct {
	DisplayCurrency string
	Period          Period
	Added           Section
	Withdrawn       Section
	ZakatPaid       Section
	GeneratedAt     time.Time
}

// Dashboard sums active transactions dated within the period. Metals are
// valued at today's price; cash at today's rate. displayCurrency overrides
// the user's setting when not empty.
func (r *Reporter) Dashboard(ctx context.Context, userID ledger.UserID, period Period, displayCurrency string) (Dashboard, error) {
	settings, err := r.Settings.GetSettings(ctx, string(userID))
	if err != nil {
		return Dashboard{}, fmt.Errorf("failed to load settings: %w", err)
	}
	if displayCurrency != "" {
		if settings.DisplayCurrency, err = valuation.NormalizeCurrency(displayCurrency); err != nil {
			return Dashboard{}, err
		}
	}

	txs, err := r.Ledger.Matching(ctx, userID, ledger.Filter{From: period.From, To: period.To})
	if err != nil {
		return Dashboard{}, err
	}

	goldPrice, goldOK, err := r.Valuation.MetalPricePerGramIn(ctx, valuation.Gold, settings.DisplayCurrency, settings.Overrides)
	if err != nil {
		return Dashboard{}, err
	}
	silverPrice, silverOK, err := r.Valuation.MetalPricePerGramIn(ctx, valuation.Silver, settings.DisplayCurrency, settings.Overrides)
	if err != nil {
		return Dashboard{}, err
	}

	sections := map[ledger.Operation]*Section{
		ledger.OpAdd:      {},
		ledger.OpWithdraw: {},
		ledger.OpZakat:    {},
	}
	for _, tx := range txs {
		s := sections[tx.Operation]
		if s == nil {
			continue
		}
		switch tx.Asset {
		case ledger.AssetCash:
			v, ok, err := r.Valuation.Convert(ctx, tx.Quantity, tx.SubKey, settings.DisplayCurrency, settings.Overrides)
			if err != nil {
				return Dashboard{}, err
			}
			if ok {
				s.CashValue = s.CashValue.Add(v)
			}
		case ledger.AssetGold:
			pure := tx.PureGrams()
			s.GoldPureGrams = s.GoldPureGrams.Add(pure)
			if goldOK {
				s.GoldValue = s.GoldValue.Add(pure.Mul(goldPrice))
			}
		case ledger.AssetSilver:
			s.SilverGrams = s.SilverGrams.Add(tx.Quantity)
			if silverOK {
				s.SilverValue = s.SilverValue.Add(tx.Quantity.Mul(silverPrice))
			}
		}
	}

	return Dashboard{
		DisplayCurrency: settings.DisplayCurrency,
		Period:          period,
		Added:           sections[ledger.OpAdd].rounded(),
		Withdrawn:       sections[ledger.OpWithdraw].rounded(),
		ZakatPaid:       sections[ledger.OpZakat].rounded(),
		GeneratedAt:     r.now(),
	}, nil
}

func (s *Section) rounded() Section {
	return Section{
		GoldValue:     s.GoldValue.Quantize(money.DisplayMoney),
		SilverValue:   s.SilverValue.Quantize(money.DisplayMoney),
		CashValue:     s.CashValue.Quantize(money.DisplayMoney),
		Total:         s.GoldValue.Add(s.SilverValue).Add(s.CashValue).Quantize(money.DisplayMoney),
		GoldPureGrams: s.GoldPureGrams.Quantize(money.DisplayWeight),
		SilverGrams:   s.SilverGrams.Quantize(money.DisplayWeight),
	}
}

func (r *Reporter) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}
