package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Eiad-Soufan/zakati-backend/observability"
	"github.com/Eiad-Soufan/zakati-backend/valuation"
	"go.uber.org/zap"
)

// Refresher runs one fetch-and-store pass over the configured providers.
// A nil provider is skipped.
type Refresher struct {
	FX     FXProvider
	Metals MetalsProvider
	Writer valuation.PriceWriter

	// BaseCurrency is the FX base and the currency metal prices are asked in.
	BaseCurrency string
	Targets      []string

	Logger  *zap.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// RefreshResult counts what one pass stored.
type RefreshResult struct {
	FXRates     int
	MetalPrices int
}

// Refresh fetches FX rates and metal prices. A failing provider does not
// stop the other; their errors are joined.
func (r *Refresher) Refresh(ctx context.Context) (RefreshResult, error) {
	var (
		result RefreshResult
		errs   []error
	)

	if r.FX != nil {
		n, err := r.refreshFX(ctx)
		result.FXRates = n
		r.record(r.FX.Name(), err)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if r.Metals != nil {
		n, err := r.refreshMetals(ctx)
		result.MetalPrices = n
		r.record(r.Metals.Name(), err)
		if err != nil {
			errs = append(errs, err)
		}
	}

	r.logger().Info("price refresh completed",
		zap.Int("fx_rates", result.FXRates),
		zap.Int("metal_prices", result.MetalPrices),
		zap.Int("errors", len(errs)))
	return result, errors.Join(errs...)
}

func (r *Refresher) refreshFX(ctx context.Context) (int, error) {
	rates, err := r.FX.FetchFX(ctx, r.base(), r.Targets)
	if err != nil {
		return 0, err
	}
	for i, rate := range rates {
		if err := r.Writer.AppendFXRate(ctx, rate); err != nil {
			return i, fmt.Errorf("failed to store fx rate %s->%s: %w", rate.Base, rate.Quote, err)
		}
	}
	return len(rates), nil
}

func (r *Refresher) refreshMetals(ctx context.Context) (int, error) {
	quote, err := r.Metals.FetchMetals(ctx, r.base())
	if err != nil {
		return 0, err
	}

	fetched := r.now()
	samples := []valuation.MetalPrice{
		{Metal: valuation.Gold, PricePerGram: quote.GoldPerGram},
		{Metal: valuation.Silver, PricePerGram: quote.SilverPerGram},
	}
	stored := 0
	for _, s := range samples {
		if !s.PricePerGram.IsPositive() {
			continue
		}
		s.Currency = strings.ToUpper(quote.Currency)
		s.Source = r.Metals.Name()
		s.FetchedAt = fetched
		if err := r.Writer.AppendMetalPrice(ctx, s); err != nil {
			return stored, fmt.Errorf("failed to store %s price: %w", s.Metal, err)
		}
		stored++
	}
	return stored, nil
}

func (r *Refresher) record(provider string, err error) {
	if err != nil {
		r.Metrics.IncrPriceFetch(provider, "error")
		r.logger().Warn("price provider failed", zap.String("provider", provider), zap.Error(err))
		return
	}
	r.Metrics.IncrPriceFetch(provider, "ok")
}

func (r *Refresher) base() string {
	if r.BaseCurrency == "" {
		return valuation.DefaultDisplayCurrency
	}
	return strings.ToUpper(r.BaseCurrency)
}

func (r *Refresher) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Refresher) logger() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop()
}
