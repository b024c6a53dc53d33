package ledger_test

import (
	"context"
	"testing"

	"github.com/Eiad-Soufan/zakati-backend/ledger"
	"github.com/Eiad-Soufan/zakati-backend/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func opPtr(o ledger.Operation) *ledger.Operation { return &o }

func moneyPtr(s string) *money.Money {
	m := money.MustParse(s)
	return &m
}

func TestGuard_EditSameSubKeyUsesNetEffect(t *testing.T) {
	// GIVEN: 18K has ADD 10 and WITHDRAW 4 (balance 6)
	// WHEN: the withdrawal is edited to 9
	// THEN: 6 - (-4) + (-9) = 1 >= 0, allowed

	l := newTestLedger(t)
	record(t, l, ledger.AssetGold, "18", ledger.OpAdd, "10")
	w := record(t, l, ledger.AssetGold, "18", ledger.OpWithdraw, "4")

	g := ledger.NewGuard(l)
	err := g.CanEdit(context.Background(), w, ledger.Changes{Quantity: moneyPtr("9")})
	assert.NoError(t, err)

	err = g.CanEdit(context.Background(), w, ledger.Changes{Quantity: moneyPtr("11")})
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestGuard_EditMovedSubKeyChecksVacatedSide(t *testing.T) {
	// GIVEN: 18K has ADD 10 and WITHDRAW 4; 21K is empty
	// WHEN: the ADD is moved to 21K
	// THEN: rejected, because 18K would drop to -4

	l := newTestLedger(t)
	add := record(t, l, ledger.AssetGold, "18", ledger.OpAdd, "10")
	record(t, l, ledger.AssetGold, "18", ledger.OpWithdraw, "4")

	err := ledger.NewGuard(l).CanEdit(context.Background(), add, ledger.Changes{SubKey: strPtr("21")})

	var ibe *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assert.Equal(t, "18", ibe.SubKey)
	assert.Equal(t, "6", ibe.Current.String())
	assert.Equal(t, "-4", ibe.Projected.String())
}

func TestGuard_EditMovedSubKeyChecksTargetSide(t *testing.T) {
	// GIVEN: 100 USD and 5 EUR, a WITHDRAW of 20 USD
	// WHEN: the withdrawal is moved to EUR
	// THEN: USD is fine (it grows) but EUR would go to -15, rejected

	l := newTestLedger(t)
	record(t, l, ledger.AssetCash, "USD", ledger.OpAdd, "100")
	record(t, l, ledger.AssetCash, "EUR", ledger.OpAdd, "5")
	w := record(t, l, ledger.AssetCash, "USD", ledger.OpWithdraw, "20")

	err := ledger.NewGuard(l).CanEdit(context.Background(), w, ledger.Changes{SubKey: strPtr("eur")})

	var ibe *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assert.Equal(t, "EUR", ibe.SubKey)
	assert.Equal(t, "5", ibe.Current.String())
}

func TestGuard_EditSurplusOnOneSideNeverCoversTheOther(t *testing.T) {
	// GIVEN: 21K holds ADD 10, WITHDRAW 10 (balance 0); 24K holds 50
	// WHEN: the 21K ADD is moved to 24K
	// THEN: 21K would be -10; 24K's surplus does not help, rejected

	l := newTestLedger(t)
	add := record(t, l, ledger.AssetGold, "21", ledger.OpAdd, "10")
	record(t, l, ledger.AssetGold, "21", ledger.OpWithdraw, "10")
	record(t, l, ledger.AssetGold, "24", ledger.OpAdd, "50")

	err := ledger.NewGuard(l).CanEdit(context.Background(), add, ledger.Changes{SubKey: strPtr("24")})
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestGuard_EditFlipsOperation(t *testing.T) {
	// GIVEN: silver ADD 100 and ADD 30 (balance 130)
	// WHEN: the 30 ADD becomes a 30 WITHDRAW
	// THEN: 130 - 30 - 30 = 70, allowed

	l := newTestLedger(t)
	record(t, l, ledger.AssetSilver, "", ledger.OpAdd, "100")
	small := record(t, l, ledger.AssetSilver, "", ledger.OpAdd, "30")

	err := ledger.NewGuard(l).CanEdit(context.Background(), small, ledger.Changes{Operation: opPtr(ledger.OpWithdraw)})
	assert.NoError(t, err)
}

func TestGuard_EditValidation(t *testing.T) {
	l := newTestLedger(t)
	gold := record(t, l, ledger.AssetGold, "21", ledger.OpAdd, "10")
	silver := record(t, l, ledger.AssetSilver, "", ledger.OpAdd, "10")
	g := ledger.NewGuard(l)
	ctx := context.Background()

	var ve *ledger.ValidationError

	require.ErrorAs(t, g.CanEdit(ctx, gold, ledger.Changes{SubKey: strPtr("14")}), &ve)
	assert.Equal(t, "karat", ve.Field)

	require.ErrorAs(t, g.CanEdit(ctx, gold, ledger.Changes{Quantity: moneyPtr("0")}), &ve)
	assert.Equal(t, "quantity", ve.Field)

	require.ErrorAs(t, g.CanEdit(ctx, gold, ledger.Changes{Operation: opPtr("SELL")}), &ve)
	assert.Equal(t, "operation_type", ve.Field)

	require.ErrorAs(t, g.CanEdit(ctx, silver, ledger.Changes{SubKey: strPtr("21")}), &ve)
	assert.Equal(t, "sub_key", ve.Field)
}

func TestGuard_CanDelete(t *testing.T) {
	l := newTestLedger(t)
	add := record(t, l, ledger.AssetCash, "SYP", ledger.OpAdd, "1000")
	zakat := record(t, l, ledger.AssetCash, "SYP", ledger.OpZakat, "25")
	g := ledger.NewGuard(l)
	ctx := context.Background()

	assert.ErrorIs(t, g.CanDelete(ctx, add), ledger.ErrInsufficientBalance)
	assert.NoError(t, g.CanDelete(ctx, zakat))
}

func TestGuard_CanCreateCashIsCaseInsensitive(t *testing.T) {
	l := newTestLedger(t)
	record(t, l, ledger.AssetCash, "usd", ledger.OpAdd, "10")

	err := ledger.NewGuard(l).CanCreate(context.Background(), ledger.Entry{
		UserID: user, Asset: ledger.AssetCash, SubKey: "Usd",
		Operation: ledger.OpWithdraw, Quantity: money.FromInt(10),
	})
	assert.NoError(t, err)
}
