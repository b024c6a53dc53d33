/*
errors.go - Error types for the ledger and balance guard

ERROR CATEGORIES:
  1. Validation errors - malformed input (quantity, karat, currency, operation)
  2. Balance errors    - a mutation would drive a sub-key negative
  3. Store errors      - missing or already voided transactions

USAGE:
  if errors.Is(err, ledger.ErrInsufficientBalance) {
      var ibe *ledger.InsufficientBalanceError
      errors.As(err, &ibe) // ibe.Current is the balance before the change
  }

SEE ALSO:
  - guard.go: produces validation and balance errors
  - api/handlers.go: maps them to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/Eiad-Soufan/zakati-backend/money"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is wrapped by every ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientBalance is wrapped by every InsufficientBalanceError.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrTransactionNotFound is returned when no transaction has the given id
	// for the given user.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrAlreadyVoided is returned when editing or deleting a voided transaction.
	ErrAlreadyVoided = errors.New("transaction already voided")

	// ErrDuplicateTransaction is returned when an id is appended twice.
	ErrDuplicateTransaction = errors.New("duplicate transaction id")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError reports malformed input on a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// InsufficientBalanceError reports a mutation that would take a sub-key
// below zero.
type InsufficientBalanceError struct {
	Asset     AssetClass
	SubKey    string
	Current   money.Money // balance before the mutation
	Projected money.Money // balance the mutation would leave
	Reason    string
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("%s: current balance %s, would become %s",
		e.Reason, e.Current, e.Projected)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrAlreadyVoided)
}

// IsNotFound returns true if the error indicates a missing transaction.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTransactionNotFound)
}

func subKeyLabel(asset AssetClass, subKey string) string {
	switch asset {
	case AssetGold:
		return "gold " + subKey + "K"
	case AssetCash:
		return "cash " + subKey
	default:
		return "silver"
	}
}
