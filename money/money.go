/*
Package money provides the exact decimal quantity used for every weight,
rate and cash amount in the ledger.

PURPOSE:
  Gold grams, silver grams, cash balances and exchange rates all flow
  through Money. Nothing in the system is allowed to round-trip through a
  float, so accumulation stays exact and rounding only happens where a
  caller asks for it with Quantize.

SCALES:
  WeightScale (6):  grams and exchange rates as stored
  CashScale (10):   cash amounts as stored
  DisplayMoney (2): money values shown to users
  DisplayWeight(6): weights shown to users

ROUNDING:
  Quantize rounds half-up (ties away from zero). Callers quantize at
  presentation or at the documented valuation points, never while summing.

SEE ALSO:
  - ledger/ledger.go: balance accumulation
  - valuation/pipeline.go: rate and metal price quantization
*/
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	WeightScale   int32 = 6
	CashScale     int32 = 10
	DisplayMoney  int32 = 2
	DisplayWeight int32 = 6
)

// Money is an immutable arbitrary-precision decimal.
type Money struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Money{d: decimal.Zero}

// One is the multiplicative identity.
var One = Money{d: decimal.NewFromInt(1)}

func New(d decimal.Decimal) Money { return Money{d: d} }

func FromInt(i int64) Money { return Money{d: decimal.NewFromInt(i)} }

// Parse reads a decimal string such as "85" or "0.0125".
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return Money{d: d}, nil
}

// MustParse is Parse for constants and tests. It panics on bad input.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }
func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d)} }
func (m Money) Mul(o Money) Money { return Money{d: m.d.Mul(o.d)} }
func (m Money) Neg() Money { return Money{d: m.d.Neg()} }
func (m Money) MulInt(i int64) Money { return Money{d: m.d.Mul(decimal.NewFromInt(i))} }

// Div divides with decimal.DivisionPrecision fractional digits.
// Division by zero panics, same as decimal.
func (m Money) Div(o Money) Money { return Money{d: m.d.Div(o.d)} }

func (m Money) Cmp(o Money) int { return m.d.Cmp(o.d) }
func (m Money) Equal(o Money) bool { return m.d.Equal(o.d) }
func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }
func (m Money) GreaterThanOrEqual(o Money) bool { return m.d.GreaterThanOrEqual(o.d) }
func (m Money) LessThan(o Money) bool { return m.d.LessThan(o.d) }
func (m Money) IsZero() bool { return m.d.IsZero() }
func (m Money) IsPositive() bool { return m.d.IsPositive() }
func (m Money) IsNegative() bool { return m.d.IsNegative() }

// Scale returns the number of fractional digits carried by m.
// Trailing zeros count: "1.50" has scale 2.
func (m Money) Scale() int32 {
	if exp := m.d.Exponent(); exp < 0 {
		return -exp
	}
	return 0
}

// Quantize rounds to places fractional digits, half-up.
func (m Money) Quantize(places int32) Money {
	return Money{d: m.d.Round(places)}
}

// StringFixed renders with exactly places fractional digits, half-up.
func (m Money) StringFixed(places int32) string {
	return m.d.StringFixed(places)
}

func (m Money) String() string { return m.d.String() }

// MarshalJSON encodes as a JSON string so no client parses it as a float.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.d.String() + `"`), nil
}

// UnmarshalJSON accepts both JSON strings and numbers.
func (m *Money) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	m.d = d
	return nil
}

// Value stores Money as TEXT.
func (m Money) Value() (driver.Value, error) {
	return m.d.String(), nil
}

// Scan reads TEXT, numeric or NULL (as zero) columns.
func (m *Money) Scan(src any) error {
	if src == nil {
		m.d = decimal.Zero
		return nil
	}
	return m.d.Scan(src)
}

// Sum adds all values exactly.
func Sum(values ...Money) Money {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
