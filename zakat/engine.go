package zakat

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/Eiad-Soufan/zakati-backend/ledger"
	"github.com/Eiad-Soufan/zakati-backend/lunar"
	"github.com/Eiad-Soufan/zakati-backend/money"
	"github.com/Eiad-Soufan/zakati-backend/observability"
	"github.com/Eiad-Soufan/zakati-backend/valuation"
	"go.uber.org/zap"
)

// HoldingsReader is the part of the ledger the engine reads.
type HoldingsReader interface {
	PureGoldGrams(ctx context.Context, userID ledger.UserID) (money.Money, error)
	SilverGrams(ctx context.Context, userID ledger.UserID) (money.Money, error)
	Wallets(ctx context.Context, userID ledger.UserID) ([]ledger.Wallet, error)
}

// Engine evaluates nisab thresholds and moves anchors between states.
type Engine struct {
	Holdings  HoldingsReader
	Valuation *valuation.Pipeline
	Settings  valuation.SettingsStore
	Anchors   AnchorStore
	Reminders *Emitter
	Config    Config
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	Now       func() time.Time
}

// Evaluation is the outcome of one pass over a user.
type Evaluation struct {
	UserID        ledger.UserID
	Anchors       []Anchor
	Changed       []Group // anchors saved by this pass
	Notifications []Notification
}

// Evaluate runs the state machine for every group of the user, then emits
// reminders for every anchor that has a due date. Any failure aborts this
// user's pass; anchors already saved stay saved.
func (e *Engine) Evaluate(ctx context.Context, userID ledger.UserID) (Evaluation, error) {
	settings, err := e.Settings.GetSettings(ctx, string(userID))
	if err != nil {
		return Evaluation{}, fmt.Errorf("failed to load settings: %w", err)
	}

	now := e.now()
	today := lunar.ToLunar(now)
	result := Evaluation{UserID: userID}

	for _, group := range Groups {
		met, err := e.ThresholdMet(ctx, userID, group, settings)
		if err != nil {
			return result, fmt.Errorf("failed to evaluate %s threshold: %w", group, err)
		}

		anchor, err := e.Anchors.GetOrCreateAnchor(ctx, userID, group)
		if err != nil {
			return result, fmt.Errorf("failed to load %s anchor: %w", group, err)
		}

		next, changed := Transition(anchor, met, today)
		if changed {
			next.UpdatedAt = now
			if err := e.Anchors.SaveAnchor(ctx, next); err != nil {
				return result, fmt.Errorf("failed to save %s anchor: %w", group, err)
			}
			result.Changed = append(result.Changed, group)
			e.Metrics.IncrAnchorTransition(string(group), string(next.Status))
			e.logger().Info("zakat anchor changed",
				zap.String("user_id", string(userID)),
				zap.String("group", string(group)),
				zap.String("status", string(next.Status)),
				zap.Stringer("start", next.Start),
				zap.Stringer("due", next.Due))
		}
		result.Anchors = append(result.Anchors, next)
	}

	if e.Reminders == nil {
		return result, nil
	}
	for _, a := range result.Anchors {
		remaining, ok := e.Remaining(a, now)
		if !ok {
			continue
		}
		n, err := e.Reminders.Emit(ctx, a, remaining, now)
		if err != nil {
			return result, fmt.Errorf("failed to emit %s reminder: %w", a.Group, err)
		}
		if n != nil {
			result.Notifications = append(result.Notifications, *n)
		}
	}
	return result, nil
}

// Transition applies the anchor state machine. It reports whether the
// anchor changed and must be saved.
func Transition(a Anchor, met bool, today lunar.Date) (Anchor, bool) {
	switch {
	case met && !a.HasDates():
		a.Status = StatusActive
		a.Start = today
		a.Due = lunar.AddOneYear(today)
		return a, true
	case !met && a.HasDates():
		a.Status = StatusReset
		a.Start = lunar.Date{}
		a.Due = lunar.Date{}
		return a, true
	}
	return a, false
}

// ThresholdMet reports whether a group meets its nisab right now.
func (e *Engine) ThresholdMet(ctx context.Context, userID ledger.UserID, group Group, settings valuation.Settings) (bool, error) {
	switch group {
	case GroupGoldPure:
		grams, err := e.Holdings.PureGoldGrams(ctx, userID)
		if err != nil {
			return false, err
		}
		return grams.GreaterThanOrEqual(e.Config.GoldNisabGrams), nil

	case GroupSilver:
		grams, err := e.Holdings.SilverGrams(ctx, userID)
		if err != nil {
			return false, err
		}
		return grams.GreaterThanOrEqual(e.Config.SilverNisabGrams), nil

	case GroupCashPool:
		nisab, ok, err := e.CashNisab(ctx, settings)
		if err != nil || !ok {
			// No gold price means no cash nisab: fail safe, never start a year.
			return false, err
		}
		total, err := e.TotalCash(ctx, userID, settings)
		if err != nil {
			return false, err
		}
		return total.GreaterThanOrEqual(nisab), nil
	}
	return false, fmt.Errorf("unknown group %q", group)
}

// CashNisab is the value of GoldNisabGrams of gold in the display currency.
func (e *Engine) CashNisab(ctx context.Context, settings valuation.Settings) (money.Money, bool, error) {
	price, ok, err := e.Valuation.MetalPricePerGramIn(ctx, valuation.Gold, settings.DisplayCurrency, settings.Overrides)
	if err != nil || !ok || !price.IsPositive() {
		return money.Zero, false, err
	}
	return e.Config.GoldNisabGrams.Mul(price), true, nil
}

// TotalCash sums every wallet converted to the display currency. Wallets
// without a rate are left out.
func (e *Engine) TotalCash(ctx context.Context, userID ledger.UserID, settings valuation.Settings) (money.Money, error) {
	wallets, err := e.Holdings.Wallets(ctx, userID)
	if err != nil {
		return money.Zero, err
	}

	total := money.Zero
	for _, w := range wallets {
		v, ok, err := e.Valuation.Convert(ctx, w.Balance, w.Currency, settings.DisplayCurrency, settings.Overrides)
		if err != nil {
			return money.Zero, err
		}
		if ok {
			total = total.Add(v)
		}
	}
	return total, nil
}

// =============================================================================
// REMAINING TIME
// =============================================================================

const (
	UnitDays  = "days"
	UnitHours = "hours"
)

// Remaining is the time left until an anchor falls due. Negative values
// mean overdue.
type Remaining struct {
	Value int
	Unit  string
}

// Remaining computes days to the due date, or in test mode hours to the end
// of the shortened cycle. ok is false for anchors without dates.
func (e *Engine) Remaining(a Anchor, now time.Time) (Remaining, bool) {
	if !a.HasDates() {
		return Remaining{}, false
	}

	if e.Config.TestMode {
		start, err := lunar.ToSolar(a.Start)
		if err != nil {
			return Remaining{}, false
		}
		due := start.AddDate(0, 0, e.Config.TestCycleDays)
		hours := math.Floor(due.Sub(now).Hours())
		return Remaining{Value: int(hours), Unit: UnitHours}, true
	}

	due, err := lunar.ToSolar(a.Due)
	if err != nil {
		return Remaining{}, false
	}
	days := int(due.Sub(ledger.DateOf(now)).Hours() / 24)
	return Remaining{Value: days, Unit: UnitDays}, true
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}
