/*
Package valuation answers "what is this worth in that currency?".

PURPOSE:
  Price samples (metal prices per gram and FX rates) arrive from the price
  feed and are stored append-only. The Pipeline reads the latest sample per
  key and combines it with the user's own manual overrides.

RATE PRECEDENCE (Pipeline.Rate):
  1. base == target         → exactly 1
  2. user override          → "BASE->TARGET" if present and positive
  3. latest stored FX rate  → exact pair only, no inversion or cross rates
  4. otherwise              → absent

ABSENT IS NOT ZERO:
  A missing rate or price is reported with ok=false and must propagate as
  absent. Callers decide whether to skip (cash totals) or fail safe (nisab
  checks). Only storage failures are errors.

SEE ALSO:
  - pipeline.go:  Rate, Convert, MetalPricePerGramIn
  - overrides.go: eager parsing of user overrides
  - pricefeed/:   where samples come from
*/
package valuation

import (
	"context"
	"time"

	"github.com/Eiad-Soufan/zakati-backend/money"
)

// DefaultDisplayCurrency is used until a user picks one.
const DefaultDisplayCurrency = "USD"

type Metal string

const (
	Gold   Metal = "GOLD"
	Silver Metal = "SILVER"
)

// MetalPrice is one observed price per gram.
type MetalPrice struct {
	Metal        Metal
	PricePerGram money.Money
	Currency     string
	Source       string
	FetchedAt    time.Time
}

// FXRate is one observed rate: 1 Base = Rate Quote.
type FXRate struct {
	Base      string
	Quote     string
	Rate      money.Money
	Source    string
	FetchedAt time.Time
}

// PriceReader returns the most recent sample per key.
type PriceReader interface {
	LatestMetalPrice(ctx context.Context, metal Metal) (MetalPrice, bool, error)
	LatestFXRate(ctx context.Context, base, quote string) (FXRate, bool, error)
}

// PriceWriter appends samples. Samples are never updated.
type PriceWriter interface {
	AppendMetalPrice(ctx context.Context, p MetalPrice) error
	AppendFXRate(ctx context.Context, r FXRate) error
}

// Settings are a user's valuation preferences.
type Settings struct {
	DisplayCurrency string
	Overrides       Overrides
}

// DefaultSettings is what a user without saved settings gets.
func DefaultSettings() Settings {
	return Settings{DisplayCurrency: DefaultDisplayCurrency, Overrides: Overrides{}}
}

// SettingsStore persists Settings per user id. GetSettings returns
// DefaultSettings for users who never saved any.
type SettingsStore interface {
	GetSettings(ctx context.Context, userID string) (Settings, error)
	SaveSettings(ctx context.Context, userID string, s Settings) error
}
