/*
Package ledger is the per-user, append-only record of gold, silver and cash
movements.

PURPOSE:
  Every change to a user's holdings is a Transaction. Balances are never
  stored: they are derived by summing the active transactions of a sub-key.
  Corrections do not rewrite history. An edit appends a replacement that
  points back at the original, and the original is voided. A delete only
  voids.

KEY CONCEPTS IN THIS FILE (types.go):
  - AssetClass: GOLD, SILVER or CASH
  - Sub-key:    karat for gold ("18", "21", "24"), ISO currency for cash,
                empty for silver
  - Operation:  ADD (+), WITHDRAW (-), ZAKAT (-)
  - Transaction: one immutable ledger entry, active or voided

ACTIVE VS VOIDED:
  A transaction is active until it is voided. Voiding records when, why and,
  for edits, which transaction superseded it. Only active transactions count
  toward balances and projections; voided ones stay for the audit trail.

SEE ALSO:
  - ledger.go: balance queries and mutations
  - guard.go:  balance checks that gate every mutation
  - store.go:  persistence contract
*/
package ledger

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Eiad-Soufan/zakati-backend/money"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type TransactionID string

// =============================================================================
// ASSET CLASSES AND SUB-KEYS
// =============================================================================

type AssetClass string

const (
	AssetGold   AssetClass = "GOLD"
	AssetSilver AssetClass = "SILVER"
	AssetCash   AssetClass = "CASH"
)

func (a AssetClass) Valid() bool {
	switch a {
	case AssetGold, AssetSilver, AssetCash:
		return true
	}
	return false
}

// StorageScale is the number of fractional digits a quantity of this class
// may carry.
func (a AssetClass) StorageScale() int32 {
	if a == AssetCash {
		return money.CashScale
	}
	return money.WeightScale
}

// Karats accepted for gold, in ascending order.
var Karats = []int{18, 21, 24}

// PureKarat is the karat of pure gold.
const PureKarat = 24

var currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

// IsCurrencyCode reports whether s is three upper-case ASCII letters.
func IsCurrencyCode(s string) bool {
	return currencyCode.MatchString(s)
}

// NormalizeSubKey trims and upper-cases a sub-key the way it is stored.
func NormalizeSubKey(asset AssetClass, subKey string) string {
	subKey = strings.TrimSpace(subKey)
	if asset == AssetCash {
		return strings.ToUpper(subKey)
	}
	return subKey
}

// ValidateSubKey checks that subKey is legal for the asset class.
func ValidateSubKey(asset AssetClass, subKey string) error {
	switch asset {
	case AssetGold:
		k, err := strconv.Atoi(subKey)
		if err != nil || !validKarat(k) {
			return &ValidationError{Field: "karat", Message: "invalid karat " + strconv.Quote(subKey) + ", expected 18, 21 or 24"}
		}
	case AssetCash:
		if !IsCurrencyCode(subKey) {
			return &ValidationError{Field: "currency_code", Message: "invalid currency code " + strconv.Quote(subKey) + ", expected 3 letters"}
		}
	case AssetSilver:
		if subKey != "" {
			return &ValidationError{Field: "sub_key", Message: "silver has no sub-key"}
		}
	default:
		return &ValidationError{Field: "asset_type", Message: "invalid asset type " + strconv.Quote(string(asset))}
	}
	return nil
}

func validKarat(k int) bool {
	for _, v := range Karats {
		if v == k {
			return true
		}
	}
	return false
}

// KaratSubKey renders a karat as its sub-key.
func KaratSubKey(k int) string { return strconv.Itoa(k) }

// =============================================================================
// OPERATIONS
// =============================================================================

type Operation string

const (
	OpAdd      Operation = "ADD"
	OpWithdraw Operation = "WITHDRAW"
	OpZakat    Operation = "ZAKAT"
)

func (o Operation) Valid() bool {
	switch o {
	case OpAdd, OpWithdraw, OpZakat:
		return true
	}
	return false
}

// Sign is +1 for ADD and -1 for WITHDRAW and ZAKAT.
func (o Operation) Sign() int64 {
	if o == OpAdd {
		return 1
	}
	return -1
}

// Signed applies the operation's sign to quantity.
func (o Operation) Signed(quantity money.Money) money.Money {
	if o == OpAdd {
		return quantity
	}
	return quantity.Neg()
}

// =============================================================================
// TRANSACTION
// =============================================================================

// Voiding describes why a transaction stopped counting.
type Voiding struct {
	At           time.Time
	Reason       string
	SupersededBy TransactionID // empty for a plain delete
}

type Transaction struct {
	ID         TransactionID
	UserID     UserID
	Asset      AssetClass
	SubKey     string
	Operation  Operation
	Quantity   money.Money // always positive; sign comes from Operation
	OccurredOn time.Time   // calendar date, UTC midnight
	Notes      string
	InvoiceURL string

	// Supersedes is set on the replacement written by an edit.
	Supersedes TransactionID
	IsEdited   bool
	EditReason string

	// Voided is nil while the transaction is active.
	Voided *Voiding

	CreatedAt time.Time
}

func (t Transaction) IsActive() bool { return t.Voided == nil }

// Signed is the transaction's contribution to its sub-key balance.
func (t Transaction) Signed() money.Money {
	return t.Operation.Signed(t.Quantity)
}

// PureGrams is the 24K equivalent weight of a gold transaction. Other
// assets return their quantity unchanged.
func (t Transaction) PureGrams() money.Money {
	if t.Asset != AssetGold {
		return t.Quantity
	}
	k, err := strconv.Atoi(t.SubKey)
	if err != nil {
		return money.Zero
	}
	return t.Quantity.MulInt(int64(k)).Div(money.FromInt(PureKarat))
}

// Entry is a request to record a new transaction.
type Entry struct {
	UserID     UserID
	Asset      AssetClass
	SubKey     string
	Operation  Operation
	Quantity   money.Money
	OccurredOn time.Time
	Notes      string
	InvoiceURL string
}

// Changes lists the fields an edit may replace. Nil means unchanged.
// The asset class of a transaction never changes.
type Changes struct {
	Operation  *Operation
	SubKey     *string
	Quantity   *money.Money
	OccurredOn *time.Time
	Notes      *string
	InvoiceURL *string
}

// Apply returns the transaction old would become under c. Identity and
// voiding fields are not carried over.
func (c Changes) Apply(old Transaction) Transaction {
	next := Transaction{
		UserID:     old.UserID,
		Asset:      old.Asset,
		SubKey:     old.SubKey,
		Operation:  old.Operation,
		Quantity:   old.Quantity,
		OccurredOn: old.OccurredOn,
		Notes:      old.Notes,
		InvoiceURL: old.InvoiceURL,
	}
	if c.Operation != nil {
		next.Operation = *c.Operation
	}
	if c.SubKey != nil {
		next.SubKey = NormalizeSubKey(old.Asset, *c.SubKey)
	}
	if c.Quantity != nil {
		next.Quantity = *c.Quantity
	}
	if c.OccurredOn != nil {
		next.OccurredOn = DateOf(*c.OccurredOn)
	}
	if c.Notes != nil {
		next.Notes = *c.Notes
	}
	if c.InvoiceURL != nil {
		next.InvoiceURL = *c.InvoiceURL
	}
	return next
}

// DateOf truncates t to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// HOLDINGS
// =============================================================================

// Wallet is a positive cash balance in one currency.
type Wallet struct {
	Currency string
	Balance  money.Money
}

// KaratBalance is the gross gold weight held at one karat.
type KaratBalance struct {
	Karat   int
	Balance money.Money
}

// Holdings is a point-in-time snapshot of everything a user holds.
type Holdings struct {
	Gold          []KaratBalance
	PureGoldGrams money.Money
	SilverGrams   money.Money
	Wallets       []Wallet
}
