/*
ledger.go - Balance queries and guarded mutations over a Store

PURPOSE:
  The Ledger turns the raw transaction log into balances and views, and is
  the only way transactions get written. Every write goes through the
  Guard first.

BALANCE RULE:
  balance(user, asset, subKey) = sum of +qty for ADD and -qty for WITHDRAW
  and ZAKAT, over active transactions with that asset and sub-key.

DERIVED VIEWS:
  Wallets:        cash balances > 0, sorted by currency code
  PureGoldGrams:  sum over karats of balance(GOLD, k) * k / 24
  SilverGrams:    balance(SILVER, "")
  Recent/Filtered: newest-first listings of active transactions

MUTATIONS:
  Record: validate, check WITHDRAW/ZAKAT against the current balance, append
  Edit:   check, append replacement (Supersedes=old), void old
  Delete: check, void
  When the Store is a TxStore the check and the writes share one store
  transaction, so two concurrent withdrawals cannot both pass the check.
  A Versioned store also gets the user's snapshot version bumped in that
  transaction.

SEE ALSO:
  - guard.go: the checks
  - filter.go: listing criteria
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Eiad-Soufan/zakati-backend/money"
	"github.com/Eiad-Soufan/zakati-backend/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ledger reads and writes one Store.
type Ledger struct {
	Store   Store
	Logger  *zap.Logger
	Metrics *observability.Metrics

	// Now and NewID are replaceable in tests.
	Now   func() time.Time
	NewID func() TransactionID
}

// NewLedger creates a ledger over store with a no-op logger.
func NewLedger(store Store) *Ledger {
	return &Ledger{
		Store:  store,
		Logger: zap.NewNop(),
		Now:    func() time.Time { return time.Now().UTC() },
		NewID:  func() TransactionID { return TransactionID(uuid.NewString()) },
	}
}

// =============================================================================
// BALANCES
// =============================================================================

// Balance returns the signed sum of active transactions for one sub-key.
func (l *Ledger) Balance(ctx context.Context, userID UserID, asset AssetClass, subKey string) (money.Money, error) {
	txs, err := l.Store.Load(ctx, userID)
	if err != nil {
		return money.Zero, fmt.Errorf("failed to load transactions: %w", err)
	}
	return balanceOf(txs, asset, NormalizeSubKey(asset, subKey)), nil
}

// Wallets returns every cash balance above zero, sorted by currency.
func (l *Ledger) Wallets(ctx context.Context, userID UserID) ([]Wallet, error) {
	txs, err := l.Store.Load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	return wallets(txs), nil
}

// PureGoldGrams converts every karat balance to 24K equivalent grams.
func (l *Ledger) PureGoldGrams(ctx context.Context, userID UserID) (money.Money, error) {
	txs, err := l.Store.Load(ctx, userID)
	if err != nil {
		return money.Zero, fmt.Errorf("failed to load transactions: %w", err)
	}
	return pureGold(txs), nil
}

// SilverGrams returns the silver balance.
func (l *Ledger) SilverGrams(ctx context.Context, userID UserID) (money.Money, error) {
	return l.Balance(ctx, userID, AssetSilver, "")
}

// Holdings computes every balance of the user from a single load.
func (l *Ledger) Holdings(ctx context.Context, userID UserID) (Holdings, error) {
	txs, err := l.Store.Load(ctx, userID)
	if err != nil {
		return Holdings{}, fmt.Errorf("failed to load transactions: %w", err)
	}

	h := Holdings{
		PureGoldGrams: pureGold(txs),
		SilverGrams:   balanceOf(txs, AssetSilver, ""),
		Wallets:       wallets(txs),
	}
	for _, k := range Karats {
		h.Gold = append(h.Gold, KaratBalance{Karat: k, Balance: balanceOf(txs, AssetGold, KaratSubKey(k))})
	}
	return h, nil
}

func balanceOf(txs []Transaction, asset AssetClass, subKey string) money.Money {
	total := money.Zero
	for _, tx := range txs {
		if tx.IsActive() && tx.Asset == asset && tx.SubKey == subKey {
			total = total.Add(tx.Signed())
		}
	}
	return total
}

func wallets(txs []Transaction) []Wallet {
	byCurrency := make(map[string]money.Money)
	for _, tx := range txs {
		if tx.IsActive() && tx.Asset == AssetCash {
			byCurrency[tx.SubKey] = byCurrency[tx.SubKey].Add(tx.Signed())
		}
	}

	result := make([]Wallet, 0, len(byCurrency))
	for currency, bal := range byCurrency {
		if bal.IsPositive() {
			result = append(result, Wallet{Currency: currency, Balance: bal})
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Currency < result[j].Currency })
	return result
}

func pureGold(txs []Transaction) money.Money {
	total := money.Zero
	for _, k := range Karats {
		bal := balanceOf(txs, AssetGold, KaratSubKey(k))
		if !bal.IsPositive() {
			continue
		}
		total = total.Add(bal.MulInt(int64(k)).Div(money.FromInt(PureKarat)))
	}
	return total
}

// =============================================================================
// PROJECTIONS
// =============================================================================

// Get returns one transaction, active or voided.
func (l *Ledger) Get(ctx context.Context, userID UserID, id TransactionID) (Transaction, error) {
	return l.Store.Get(ctx, userID, id)
}

// Active returns the user's active transactions, newest first.
func (l *Ledger) Active(ctx context.Context, userID UserID) ([]Transaction, error) {
	txs, err := l.Store.Load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}

	var active []Transaction
	for _, tx := range txs {
		if tx.IsActive() {
			active = append(active, tx)
		}
	}
	sortNewestFirst(active)
	return active, nil
}

// Recent returns at most limit active transactions, newest first.
func (l *Ledger) Recent(ctx context.Context, userID UserID, limit int) ([]Transaction, error) {
	active, err := l.Active(ctx, userID)
	if err != nil {
		return nil, err
	}
	if limit >= 0 && len(active) > limit {
		active = active[:limit]
	}
	return active, nil
}

func sortNewestFirst(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].OccurredOn.Equal(txs[j].OccurredOn) {
			return txs[i].OccurredOn.After(txs[j].OccurredOn)
		}
		return txs[i].CreatedAt.After(txs[j].CreatedAt)
	})
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Record validates and appends a new transaction. WITHDRAW and ZAKAT may not
// exceed the current balance of their sub-key.
func (l *Ledger) Record(ctx context.Context, e Entry) (Transaction, error) {
	e.SubKey = NormalizeSubKey(e.Asset, e.SubKey)
	if e.OccurredOn.IsZero() {
		e.OccurredOn = l.Now()
	}

	tx := Transaction{
		ID:         l.NewID(),
		UserID:     e.UserID,
		Asset:      e.Asset,
		SubKey:     e.SubKey,
		Operation:  e.Operation,
		Quantity:   e.Quantity,
		OccurredOn: DateOf(e.OccurredOn),
		Notes:      e.Notes,
		InvoiceURL: e.InvoiceURL,
		CreatedAt:  l.Now(),
	}

	err := l.atomically(ctx, func(s Store) error {
		if err := l.guardOver(s).CanCreate(ctx, e); err != nil {
			return err
		}
		if err := s.Append(ctx, tx); err != nil {
			return err
		}
		return bumpVersion(ctx, s, tx.UserID)
	})
	if err != nil {
		l.rejected(e.Operation, err)
		return Transaction{}, err
	}

	l.Logger.Debug("transaction recorded",
		zap.String("user_id", string(tx.UserID)),
		zap.String("transaction_id", string(tx.ID)),
		zap.String("asset", string(tx.Asset)),
		zap.String("operation", string(tx.Operation)))
	return tx, nil
}

// Edit replaces an active transaction. The replacement points back at the
// original through Supersedes and the original is voided with the reason.
func (l *Ledger) Edit(ctx context.Context, userID UserID, id TransactionID, c Changes, reason string) (Transaction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Transaction{}, &ValidationError{Field: "edit_reason", Message: "edit reason is required"}
	}

	var replacement Transaction
	op := OpAdd
	if c.Operation != nil {
		op = *c.Operation
	}
	err := l.atomically(ctx, func(s Store) error {
		old, err := activeTransaction(ctx, s, userID, id)
		if c.Operation == nil && old.Operation != "" {
			op = old.Operation
		}
		if err != nil {
			return err
		}
		if err := l.guardOver(s).CanEdit(ctx, old, c); err != nil {
			return err
		}

		now := l.Now()
		replacement = c.Apply(old)
		replacement.ID = l.NewID()
		replacement.Supersedes = old.ID
		replacement.IsEdited = true
		replacement.EditReason = reason
		replacement.CreatedAt = now

		if err := s.Append(ctx, replacement); err != nil {
			return err
		}
		if err := s.Void(ctx, userID, old.ID, Voiding{At: now, Reason: reason, SupersededBy: replacement.ID}); err != nil {
			return err
		}
		return bumpVersion(ctx, s, userID)
	})
	if err != nil {
		l.rejected(op, err)
		return Transaction{}, err
	}

	l.Logger.Debug("transaction edited",
		zap.String("user_id", string(userID)),
		zap.String("transaction_id", string(id)),
		zap.String("replacement_id", string(replacement.ID)))
	return replacement, nil
}

// Delete voids an active transaction. Deleting an ADD must not leave its
// sub-key negative.
func (l *Ledger) Delete(ctx context.Context, userID UserID, id TransactionID, reason string) (Transaction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Transaction{}, &ValidationError{Field: "edit_reason", Message: "delete reason is required"}
	}

	var voided Transaction
	var op Operation
	err := l.atomically(ctx, func(s Store) error {
		old, err := activeTransaction(ctx, s, userID, id)
		op = old.Operation
		if err != nil {
			return err
		}
		if err := l.guardOver(s).CanDelete(ctx, old); err != nil {
			return err
		}

		v := Voiding{At: l.Now(), Reason: reason}
		if err := s.Void(ctx, userID, id, v); err != nil {
			return err
		}
		old.Voided = &v
		voided = old
		return bumpVersion(ctx, s, userID)
	})
	if err != nil {
		l.rejected(op, err)
		return Transaction{}, err
	}

	l.Logger.Debug("transaction deleted",
		zap.String("user_id", string(userID)),
		zap.String("transaction_id", string(id)))
	return voided, nil
}

// activeTransaction returns the loaded transaction alongside ErrAlreadyVoided
// so callers can still label the rejection.
func activeTransaction(ctx context.Context, s Store, userID UserID, id TransactionID) (Transaction, error) {
	tx, err := s.Get(ctx, userID, id)
	if err != nil {
		return Transaction{}, err
	}
	if !tx.IsActive() {
		return tx, ErrAlreadyVoided
	}
	return tx, nil
}

func (l *Ledger) atomically(ctx context.Context, fn func(Store) error) error {
	if ts, ok := l.Store.(TxStore); ok {
		return ts.WithTx(ctx, fn)
	}
	return fn(l.Store)
}

func bumpVersion(ctx context.Context, s Store, userID UserID) error {
	v, ok := s.(Versioned)
	if !ok {
		return nil
	}
	if _, err := v.BumpVersion(ctx, userID); err != nil {
		return fmt.Errorf("failed to bump snapshot version: %w", err)
	}
	return nil
}

// guardOver builds a Guard that reads balances through s, so checks made
// inside a store transaction see that transaction's writes.
func (l *Ledger) guardOver(s Store) *Guard {
	return NewGuard(&Ledger{Store: s})
}

func (l *Ledger) rejected(op Operation, err error) {
	switch {
	case IsClientError(err):
		reason := "validation"
		if _, ok := asInsufficient(err); ok {
			reason = "insufficient_balance"
		}
		l.Metrics.IncrGuardRejection(string(op), reason)
	case IsNotFound(err):
	default:
		l.Logger.Error("ledger write failed", zap.String("operation", string(op)), zap.Error(err))
	}
}
