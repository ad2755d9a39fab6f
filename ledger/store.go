/*
store.go - Persistence interfaces for the credits ledger

PURPOSE:
  Defines the boundary between the ledger service and the database.
  The service never touches SQL; it composes the statement-level
  primitives below inside a single atomic transaction.

ATOMICITY CONTRACT:
  Every public ledger operation runs inside ONE Store.WithTx call.
  Either every statement in the closure commits, or none do. The
  store serializes writers, so the idempotency check, sufficiency
  check, and mutation can never interleave across two calls.

IDEMPOTENCY CONTRACT:
  AppendTransaction must fail with ledger.ErrDuplicateKey when the
  transaction's idempotency key already exists. The uniqueness
  constraint lives in the store so that the store, not application
  code, adjudicates concurrent duplicates.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store (WAL + busy timeout)

SEE ALSO:
  - service.go: The only consumer of these interfaces
*/
package ledger

import (
	"context"
	"time"
)

// Store opens atomic units of work against the durable store.
type Store interface {
	// WithTx executes fn within one transaction.
	// If fn returns an error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Queries) error) error
}

// Queries is the statement-level surface available inside a transaction.
type Queries interface {
	// GetAccount returns the balance row, or nil if the account is unseen.
	GetAccount(ctx context.Context, accountID string) (*Account, error)

	// CreateAccount inserts a balance row if absent.
	// Reports whether this call created the row.
	CreateAccount(ctx context.Context, accountID string, total int64, now time.Time) (bool, error)

	// AddToTotal increments total and bumps updated_at.
	AddToTotal(ctx context.Context, accountID string, amount int64, now time.Time) error

	// AddToUsed increments used and bumps updated_at.
	AddToUsed(ctx context.Context, accountID string, amount int64, now time.Time) error

	// AppendTransaction writes one immutable log row.
	// Returns ErrDuplicateKey if the idempotency key already exists.
	AppendTransaction(ctx context.Context, tx Transaction) error

	// KeyExists checks whether an idempotency key has been recorded.
	KeyExists(ctx context.Context, key string) (bool, error)

	// ListTransactions returns the account's log, newest first.
	ListTransactions(ctx context.Context, accountID string, limit int) ([]Transaction, error)
}

// PragmaStore is implemented by drivers that accept post-open tuning.
// Configuration code uses it without depending on a concrete driver.
type PragmaStore interface {
	Pragma(name, value string) error
}
