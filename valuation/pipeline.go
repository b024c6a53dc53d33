package valuation

import (
	"context"
	"fmt"
	"strings"

	"github.com/Eiad-Soufan/zakati-backend/money"
)

const (
	// MetalPriceScale is the precision of a converted price per gram.
	MetalPriceScale int32 = 6
	// ConvertScale is the precision of a converted amount.
	ConvertScale int32 = 7
)

// Pipeline resolves rates and prices from stored samples and overrides.
type Pipeline struct {
	Prices PriceReader
}

func NewPipeline(prices PriceReader) *Pipeline {
	return &Pipeline{Prices: prices}
}

// Rate returns how many target units one base unit buys.
func (p *Pipeline) Rate(ctx context.Context, base, target string, overrides Overrides) (money.Money, bool, error) {
	base, target = strings.ToUpper(base), strings.ToUpper(target)
	if base == target {
		return money.One, true, nil
	}

	if r, ok := overrides[Pair{Base: base, Target: target}]; ok && r.IsPositive() {
		return r, true, nil
	}

	fx, ok, err := p.Prices.LatestFXRate(ctx, base, target)
	if err != nil {
		return money.Zero, false, fmt.Errorf("failed to read fx rate %s->%s: %w", base, target, err)
	}
	if !ok || !fx.Rate.IsPositive() {
		return money.Zero, false, nil
	}
	return fx.Rate, true, nil
}

// MetalPricePerGramIn prices one gram of metal in target. A price already in
// target is returned as stored; a converted one is quantized to 6 places.
func (p *Pipeline) MetalPricePerGramIn(ctx context.Context, metal Metal, target string, overrides Overrides) (money.Money, bool, error) {
	sample, ok, err := p.Prices.LatestMetalPrice(ctx, metal)
	if err != nil {
		return money.Zero, false, fmt.Errorf("failed to read %s price: %w", metal, err)
	}
	if !ok {
		return money.Zero, false, nil
	}

	target = strings.ToUpper(target)
	if sample.Currency == target {
		return sample.PricePerGram, true, nil
	}

	rate, ok, err := p.Rate(ctx, sample.Currency, target, overrides)
	if err != nil || !ok {
		return money.Zero, false, err
	}
	return sample.PricePerGram.Mul(rate).Quantize(MetalPriceScale), true, nil
}

// Convert expresses amount of base in target, quantized to 7 places.
// Same-currency amounts are returned unchanged.
func (p *Pipeline) Convert(ctx context.Context, amount money.Money, base, target string, overrides Overrides) (money.Money, bool, error) {
	if strings.EqualFold(base, target) {
		return amount, true, nil
	}

	rate, ok, err := p.Rate(ctx, base, target, overrides)
	if err != nil || !ok {
		return money.Zero, false, err
	}
	return amount.Mul(rate).Quantize(ConvertScale), true, nil
}
