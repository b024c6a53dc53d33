/*
store.go - Persistence contract for ledger transactions

APPEND-MOSTLY CONTRACT:
  - Append(): writes a new transaction
  - Void():   the only mutation of an existing row; it flips a transaction
              from active to voided and can never be undone
  - No Update() or Delete() methods exist

ATOMIC EDITS:
  An edit appends the replacement and voids the original. TxStore.WithTx
  runs both writes, and the balance check in front of them, as one unit.

SNAPSHOT VERSION:
  A Store that also implements Versioned gets its per-user version bumped
  inside the same unit as every successful Record, Edit and Delete.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - store/memory/memory.go: in-memory for tests and development
*/
package ledger

import "context"

// Store handles persistence of transactions.
type Store interface {
	// Append persists a new transaction. Returns ErrDuplicateTransaction if
	// the id exists.
	Append(ctx context.Context, tx Transaction) error

	// Get returns one transaction of the user, active or voided.
	// Returns ErrTransactionNotFound if it does not exist.
	Get(ctx context.Context, userID UserID, id TransactionID) (Transaction, error)

	// Load returns every transaction of the user, active and voided,
	// ordered by CreatedAt.
	Load(ctx context.Context, userID UserID) ([]Transaction, error)

	// Void marks an active transaction as voided.
	// Returns ErrAlreadyVoided if it was voided before.
	Void(ctx context.Context, userID UserID, id TransactionID, v Voiding) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the given Store is
	// rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// Versioned is implemented by stores that keep a per-user snapshot version.
// Clients compare it to detect that anything they cached has changed.
type Versioned interface {
	// BumpVersion increments the user's version and returns the new value.
	BumpVersion(ctx context.Context, userID UserID) (int64, error)
}
