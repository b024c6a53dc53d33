package valuation

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Eiad-Soufan/zakati-backend/money"
)

// ErrInvalidOverride is wrapped by every OverrideError.
var ErrInvalidOverride = errors.New("invalid rate override")

// ErrInvalidCurrency is returned for a display currency that is not a
// 3-letter code.
var ErrInvalidCurrency = errors.New("invalid currency code")

// OverrideError reports one rejected override entry.
type OverrideError struct {
	Key     string
	Message string
}

func (e *OverrideError) Error() string {
	return fmt.Sprintf("override %q: %s", e.Key, e.Message)
}

func (e *OverrideError) Unwrap() error {
	return ErrInvalidOverride
}

var code = regexp.MustCompile(`^[A-Z]{3}$`)

// Pair is a directed currency pair: 1 Base = rate Target.
type Pair struct {
	Base   string
	Target string
}

func (p Pair) String() string { return p.Base + "->" + p.Target }

// ParsePair reads "usd->syp" style keys, case-insensitively.
func ParsePair(key string) (Pair, error) {
	base, target, ok := strings.Cut(strings.ToUpper(strings.TrimSpace(key)), "->")
	if !ok {
		return Pair{}, &OverrideError{Key: key, Message: "key must look like BASE->TARGET"}
	}
	base, target = strings.TrimSpace(base), strings.TrimSpace(target)
	if !code.MatchString(base) || !code.MatchString(target) {
		return Pair{}, &OverrideError{Key: key, Message: "currency codes must be 3 letters"}
	}
	return Pair{Base: base, Target: target}, nil
}

// NormalizeCurrency upper-cases and validates a currency code.
func NormalizeCurrency(c string) (string, error) {
	c = strings.ToUpper(strings.TrimSpace(c))
	if !code.MatchString(c) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, c)
	}
	return c, nil
}

// Overrides are user-supplied rates keyed by pair. Every value is positive.
type Overrides map[Pair]money.Money

// ParseOverrides validates raw "BASE->TARGET": "rate" entries. Any bad entry
// rejects the whole set.
func ParseOverrides(raw map[string]string) (Overrides, error) {
	out := make(Overrides, len(raw))
	for key, value := range raw {
		pair, err := ParsePair(key)
		if err != nil {
			return nil, err
		}
		rate, err := money.Parse(strings.TrimSpace(value))
		if err != nil {
			return nil, &OverrideError{Key: key, Message: "rate is not a number"}
		}
		if !rate.IsPositive() {
			return nil, &OverrideError{Key: key, Message: "rate must be greater than zero"}
		}
		out[pair] = rate
	}
	return out, nil
}

// Raw renders the overrides back to their string form for storage.
func (o Overrides) Raw() map[string]string {
	raw := make(map[string]string, len(o))
	for pair, rate := range o {
		raw[pair.String()] = rate.String()
	}
	return raw
}

// Pairs returns the override pairs sorted by key.
func (o Overrides) Pairs() []Pair {
	pairs := make([]Pair, 0, len(o))
	for p := range o {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].String() < pairs[j].String() })
	return pairs
}
