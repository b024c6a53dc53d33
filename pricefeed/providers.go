package pricefeed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Eiad-Soufan/zakati-backend/money"
	"github.com/Eiad-Soufan/zakati-backend/valuation"
	"github.com/shopspring/decimal"
)

// =============================================================================
// EXCHANGERATE.HOST
// =============================================================================

// ExchangerateHost reads GET /latest?base=USD&symbols=SYP,MYR.
type ExchangerateHost struct {
	baseURL string
	client  *httpClient
	now     func() time.Time
}

func NewExchangerateHost(opts Options) *ExchangerateHost {
	return &ExchangerateHost{
		baseURL: opts.baseURL("https://api.exchangerate.host"),
		client:  newHTTPClient(ProviderExchangerateHost, opts),
		now:     time.Now,
	}
}

func (p *ExchangerateHost) Name() string { return ProviderExchangerateHost }

type latestRatesResponse struct {
	Base  string                     `json:"base"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// FetchFX returns one rate per target the provider answered with a
// positive value. Targets equal to base are skipped.
func (p *ExchangerateHost) FetchFX(ctx context.Context, base string, targets []string) ([]valuation.FXRate, error) {
	base = strings.ToUpper(base)
	var symbols []string
	for _, t := range targets {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t != "" && t != base {
			symbols = append(symbols, t)
		}
	}
	if len(symbols) == 0 {
		return nil, nil
	}

	var body latestRatesResponse
	q := url.Values{"base": {base}, "symbols": {strings.Join(symbols, ",")}}
	if err := p.client.getJSON(ctx, p.baseURL+"/latest", q, nil, &body); err != nil {
		return nil, err
	}

	fetched := p.now().UTC()
	var rates []valuation.FXRate
	for _, sym := range symbols {
		r, ok := body.Rates[sym]
		if !ok || !r.IsPositive() {
			continue
		}
		rates = append(rates, valuation.FXRate{
			Base: base, Quote: sym, Rate: money.New(r), Source: p.Name(), FetchedAt: fetched,
		})
	}
	return rates, nil
}

// =============================================================================
// GOLDAPI.IO
// =============================================================================

// GoldAPI reads GET /api/XAU/{currency} and /api/XAG/{currency}, each an
// ounce price, authenticated with the x-access-token header.
type GoldAPI struct {
	baseURL string
	apiKey  string
	client  *httpClient
}

func NewGoldAPI(opts Options) *GoldAPI {
	return &GoldAPI{
		baseURL: opts.baseURL("https://www.goldapi.io"),
		apiKey:  opts.APIKey,
		client:  newHTTPClient(ProviderGoldAPI, opts),
	}
}

func (p *GoldAPI) Name() string { return ProviderGoldAPI }

type goldAPIResponse struct {
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
}

func (p *GoldAPI) FetchMetals(ctx context.Context, currency string) (MetalQuote, error) {
	currency = strings.ToUpper(currency)
	gold, err := p.ouncePrice(ctx, "XAU", currency)
	if err != nil {
		return MetalQuote{}, err
	}
	silver, err := p.ouncePrice(ctx, "XAG", currency)
	if err != nil {
		return MetalQuote{}, err
	}
	return MetalQuote{
		Currency:      currency,
		GoldPerGram:   PerGram(gold),
		SilverPerGram: PerGram(silver),
	}, nil
}

func (p *GoldAPI) ouncePrice(ctx context.Context, symbol, currency string) (money.Money, error) {
	header := http.Header{}
	if p.apiKey != "" {
		header.Set("x-access-token", p.apiKey)
	}

	var body goldAPIResponse
	if err := p.client.getJSON(ctx, fmt.Sprintf("%s/api/%s/%s", p.baseURL, symbol, currency), nil, header, &body); err != nil {
		return money.Zero, err
	}
	if !body.Price.IsPositive() {
		return money.Zero, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("%w: %s/%s", ErrMissingQuote, symbol, currency)}
	}
	return money.New(body.Price), nil
}

// =============================================================================
// METALS-API.COM
// =============================================================================

// MetalsAPI reads GET /api/latest?access_key=..&base=USD&symbols=XAU,XAG.
// Rates are read as base currency per ounce, and quotes are returned in
// the configured base whatever currency is asked for.
type MetalsAPI struct {
	baseURL   string
	accessKey string
	base      string
	client    *httpClient
}

func NewMetalsAPI(opts Options) *MetalsAPI {
	base := strings.ToUpper(opts.Base)
	if base == "" {
		base = valuation.DefaultDisplayCurrency
	}
	return &MetalsAPI{
		baseURL:   opts.baseURL("https://metals-api.com"),
		accessKey: opts.APIKey,
		base:      base,
		client:    newHTTPClient(ProviderMetalsAPI, opts),
	}
}

func (p *MetalsAPI) Name() string { return ProviderMetalsAPI }

func (p *MetalsAPI) FetchMetals(ctx context.Context, _ string) (MetalQuote, error) {
	var body latestRatesResponse
	q := url.Values{"access_key": {p.accessKey}, "base": {p.base}, "symbols": {"XAU,XAG"}}
	if err := p.client.getJSON(ctx, p.baseURL+"/api/latest", q, nil, &body); err != nil {
		return MetalQuote{}, err
	}

	gold, okGold := body.Rates["XAU"]
	silver, okSilver := body.Rates["XAG"]
	if !okGold || !okSilver || !gold.IsPositive() || !silver.IsPositive() {
		return MetalQuote{}, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("%w: XAU/XAG", ErrMissingQuote)}
	}

	return MetalQuote{
		Currency:      p.base,
		GoldPerGram:   PerGram(money.New(gold)),
		SilverPerGram: PerGram(money.New(silver)),
	}, nil
}
