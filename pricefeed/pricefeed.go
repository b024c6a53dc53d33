/*
Package pricefeed fetches FX rates and metal prices from external providers
and stores them as samples for the valuation pipeline.

KEY CONCEPTS:
  - FXProvider:     base currency → quote rates (exchangerate.host)
  - MetalsProvider: gold and silver per gram (goldapi.io, metals-api.com)
  - Refresher:      one refresh pass writing samples via valuation.PriceWriter

Providers are chosen once, by name, when the service is wired. Nothing in
the valuation path calls a provider directly; it only reads stored samples.

OUNCES:
  Providers quote troy ounces. Prices are divided by 31.1034768 and
  rounded half-up to 6 decimal places before storage.

SEE ALSO:
  - providers.go:  provider implementations
  - client.go:     breaker + retry + tracing around HTTP
  - refresher.go:  the refresh job
*/
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Eiad-Soufan/zakati-backend/money"
	"github.com/Eiad-Soufan/zakati-backend/valuation"
)

// TroyOunceGrams converts provider ounce prices to grams.
var TroyOunceGrams = money.MustParse("31.1034768")

var (
	ErrUnknownProvider = errors.New("unknown price provider")
	ErrMissingQuote    = errors.New("provider response is missing a quote")
)

// ProviderError wraps any failure talking to a provider.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("price provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// =============================================================================
// CAPABILITIES
// =============================================================================

// FXProvider returns base→target rates for the targets it knows.
type FXProvider interface {
	Name() string
	FetchFX(ctx context.Context, base string, targets []string) ([]valuation.FXRate, error)
}

// MetalQuote is one provider answer, per gram, in Currency.
type MetalQuote struct {
	Currency      string
	GoldPerGram   money.Money
	SilverPerGram money.Money
}

// MetalsProvider returns gold and silver prices. The quote's currency may
// differ from the one asked for; the valuation pipeline converts later.
type MetalsProvider interface {
	Name() string
	FetchMetals(ctx context.Context, currency string) (MetalQuote, error)
}

// PerGram converts an ounce price to a per-gram price at storage precision.
func PerGram(perOunce money.Money) money.Money {
	return perOunce.Div(TroyOunceGrams).Quantize(valuation.MetalPriceScale)
}

// =============================================================================
// SELECTION
// =============================================================================

const (
	ProviderExchangerateHost = "exchangerate_host"
	ProviderGoldAPI          = "goldapi"
	ProviderMetalsAPI        = "metalsapi"
	ProviderNone             = "none"
)

// Options configures a provider.
type Options struct {
	// BaseURL replaces the provider's public endpoint (used by tests).
	BaseURL    string
	APIKey     string
	Base       string // metals-api base currency
	HTTPClient *http.Client
	Timeout    time.Duration
	Retry      *RetryConfig
}

func (o Options) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return 10 * time.Second
}

func (o Options) retry() RetryConfig {
	if o.Retry != nil {
		return *o.Retry
	}
	return DefaultRetryConfig()
}

func (o Options) baseURL(def string) string {
	if o.BaseURL != "" {
		return strings.TrimRight(o.BaseURL, "/")
	}
	return def
}

// NewFXProvider selects an FX provider by name. An empty name or "none"
// returns nil, meaning FX refresh is disabled.
func NewFXProvider(name string, opts Options) (FXProvider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ProviderNone:
		return nil, nil
	case ProviderExchangerateHost:
		return NewExchangerateHost(opts), nil
	}
	return nil, fmt.Errorf("%w: fx %q", ErrUnknownProvider, name)
}

// NewMetalsProvider selects a metals provider by name. An empty name or
// "none" returns nil.
func NewMetalsProvider(name string, opts Options) (MetalsProvider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ProviderNone:
		return nil, nil
	case ProviderGoldAPI:
		return NewGoldAPI(opts), nil
	case ProviderMetalsAPI:
		return NewMetalsAPI(opts), nil
	}
	return nil, fmt.Errorf("%w: metals %q", ErrUnknownProvider, name)
}
