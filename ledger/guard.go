/*
guard.go - Balance Guard: no mutation may drive a sub-key below zero

CHECKS:
  CanCreate: input validation, and for WITHDRAW/ZAKAT
               current(subKey) - qty >= 0
  CanDelete: ADD             current(subKey) - qty >= 0
             WITHDRAW/ZAKAT  always allowed (the balance only grows)
  CanEdit:   same sub-key    current - oldSigned + newSigned >= 0
             moved sub-key   current(old) - oldSigned >= 0   (vacated)
                             current(new) + newSigned >= 0   (target)
             The two sides of a moved edit are checked independently: a
             surplus on one sub-key never covers a deficit on another.

The guard only reads. It is handed a BalanceReader so the Ledger can point
it at a store transaction.
*/
package ledger

import (
	"context"
	"errors"

	"github.com/Eiad-Soufan/zakati-backend/money"
)

// BalanceReader returns the current balance of one sub-key.
type BalanceReader interface {
	Balance(ctx context.Context, userID UserID, asset AssetClass, subKey string) (money.Money, error)
}

type Guard struct {
	Balances BalanceReader
}

func NewGuard(balances BalanceReader) *Guard {
	return &Guard{Balances: balances}
}

// CanCreate validates a new entry and checks that a WITHDRAW or ZAKAT is
// covered by the current balance.
func (g *Guard) CanCreate(ctx context.Context, e Entry) error {
	if err := validate(e.Asset, NormalizeSubKey(e.Asset, e.SubKey), e.Operation, e.Quantity); err != nil {
		return err
	}
	if e.Operation == OpAdd {
		return nil
	}

	subKey := NormalizeSubKey(e.Asset, e.SubKey)
	current, err := g.Balances.Balance(ctx, e.UserID, e.Asset, subKey)
	if err != nil {
		return err
	}
	projected := current.Sub(e.Quantity)
	if projected.IsNegative() {
		return &InsufficientBalanceError{
			Asset:     e.Asset,
			SubKey:    subKey,
			Current:   current,
			Projected: projected,
			Reason:    "insufficient " + subKeyLabel(e.Asset, subKey) + " balance",
		}
	}
	return nil
}

// CanDelete checks that voiding tx leaves its sub-key non-negative.
func (g *Guard) CanDelete(ctx context.Context, tx Transaction) error {
	if tx.Operation != OpAdd {
		return nil
	}

	current, err := g.Balances.Balance(ctx, tx.UserID, tx.Asset, tx.SubKey)
	if err != nil {
		return err
	}
	projected := current.Sub(tx.Quantity)
	if projected.IsNegative() {
		return &InsufficientBalanceError{
			Asset:     tx.Asset,
			SubKey:    tx.SubKey,
			Current:   current,
			Projected: projected,
			Reason:    "cannot delete: " + subKeyLabel(tx.Asset, tx.SubKey) + " balance would become negative",
		}
	}
	return nil
}

// CanEdit checks that replacing old with old+changes keeps every affected
// sub-key non-negative.
func (g *Guard) CanEdit(ctx context.Context, old Transaction, c Changes) error {
	next := c.Apply(old)
	if err := validate(next.Asset, next.SubKey, next.Operation, next.Quantity); err != nil {
		return err
	}

	oldSigned := old.Signed()
	newSigned := next.Signed()

	if next.SubKey == old.SubKey {
		current, err := g.Balances.Balance(ctx, old.UserID, old.Asset, old.SubKey)
		if err != nil {
			return err
		}
		projected := current.Sub(oldSigned).Add(newSigned)
		if projected.IsNegative() {
			return &InsufficientBalanceError{
				Asset:     old.Asset,
				SubKey:    old.SubKey,
				Current:   current,
				Projected: projected,
				Reason:    "edit would make " + subKeyLabel(old.Asset, old.SubKey) + " balance negative",
			}
		}
		return nil
	}

	vacated, err := g.Balances.Balance(ctx, old.UserID, old.Asset, old.SubKey)
	if err != nil {
		return err
	}
	if projected := vacated.Sub(oldSigned); projected.IsNegative() {
		return &InsufficientBalanceError{
			Asset:     old.Asset,
			SubKey:    old.SubKey,
			Current:   vacated,
			Projected: projected,
			Reason:    "edit would make previous " + subKeyLabel(old.Asset, old.SubKey) + " balance negative",
		}
	}

	target, err := g.Balances.Balance(ctx, old.UserID, next.Asset, next.SubKey)
	if err != nil {
		return err
	}
	if projected := target.Add(newSigned); projected.IsNegative() {
		return &InsufficientBalanceError{
			Asset:     next.Asset,
			SubKey:    next.SubKey,
			Current:   target,
			Projected: projected,
			Reason:    "insufficient " + subKeyLabel(next.Asset, next.SubKey) + " balance for this edit",
		}
	}
	return nil
}

func validate(asset AssetClass, subKey string, op Operation, quantity money.Money) error {
	if !asset.Valid() {
		return &ValidationError{Field: "asset_type", Message: "invalid asset type " + string(asset)}
	}
	if !op.Valid() {
		return &ValidationError{Field: "operation_type", Message: "invalid operation " + string(op)}
	}
	if err := ValidateSubKey(asset, subKey); err != nil {
		return err
	}
	if !quantity.IsPositive() {
		return &ValidationError{Field: "quantity", Message: "quantity must be greater than zero"}
	}
	if quantity.Scale() > asset.StorageScale() {
		return &ValidationError{Field: "quantity", Message: "quantity has too many decimal places"}
	}
	return nil
}

func asInsufficient(err error) (*InsufficientBalanceError, bool) {
	var ibe *InsufficientBalanceError
	ok := errors.As(err, &ibe)
	return ibe, ok
}
