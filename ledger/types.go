/*
types.go - Core types for the credits ledger

PURPOSE:
  Defines the domain vocabulary: accounts, balances, transactions.
  An Account tracks cumulative totals; a Transaction records a single
  grant or consume; a Balance is the derived view callers see.

KEY INVARIANT:
  total >= used >= 0 after every committed operation.
  Remaining is derived (total - used), floored at zero defensively.

SEE ALSO:
  - service.go: Operations over these types
  - store.go: Persistence interfaces
*/
package ledger

import "time"

// TxType identifies the direction of a ledger transaction.
type TxType string

const (
	// TxGrant increases an account's total (purchase, refund, initial allocation).
	TxGrant TxType = "grant"

	// TxConsume increases an account's used counter (translation debit).
	TxConsume TxType = "consume"
)

// DefaultInitialAllowance is the starting grant seeded into every new account.
const DefaultInitialAllowance = 20

// Account is one balance row: cumulative totals for a pseudonymous session.
type Account struct {
	ID        string
	Total     int64 // sum of all grants ever applied
	Used      int64 // sum of all consumptions ever applied
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Balance is the caller-facing view of an account.
type Balance struct {
	Total     int64
	Used      int64
	Remaining int64
}

// Balance derives the view, flooring Remaining at zero.
// The invariant makes the floor unreachable, but the read is cheap to defend.
func (a Account) Balance() Balance {
	remaining := a.Total - a.Used
	if remaining < 0 {
		remaining = 0
	}
	return Balance{Total: a.Total, Used: a.Used, Remaining: remaining}
}

// Transaction is one immutable row in the append-only log.
type Transaction struct {
	ID             string
	AccountID      string
	Type           TxType
	Amount         int64 // always positive; Type carries the direction
	Source         string
	IdempotencyKey string // optional; globally unique when present
	CreatedAt      time.Time
}

// ConsumeResult is the structured outcome of a Consume call.
//
//	OK=true,  Charged=true:  debit applied this call
//	OK=true,  Charged=false: deduplicated replay, nothing changed
//	OK=false, Charged=false: insufficient balance, nothing changed
type ConsumeResult struct {
	OK      bool
	Charged bool
	Balance Balance
}
