/*
service.go - Grant, consume, and balance operations

PURPOSE:
  The ledger service owns the read-modify-write sequences over the
  durable store. Each public operation is one atomic transaction:
  bootstrap the account, apply the idempotency and sufficiency checks,
  mutate, return the resulting balance.

CRITICAL INVARIANTS:
  1. total >= used >= 0 after every committed operation
  2. At most one effective application per idempotency key
  3. No partial application is ever visible (all-or-nothing commit)

IDEMPOTENCY:
  A supplied key is checked inside the same transaction as the mutation.
  If two calls race, the store's uniqueness constraint on the key makes
  the loser a no-op replay instead of a second application. Never split
  the check and the insert across transactions - that reintroduces the
  race the key exists to prevent.

BOOTSTRAP:
  Every operation starts by ensuring the balance row exists, seeded with
  the initial allowance. The seed grant carries the deterministic key
  "initial:<account>" so two requests racing on a brand-new account
  cannot double-seed.

REFUNDS:
  There is no refund primitive. A refund is a Grant with a source like
  "translate_refund" and a key derived from the original operation, so
  the caller's own retries stay idempotent.

SEE ALSO:
  - store.go: Interfaces this service composes
  - store/sqlite: The store implementation
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// initialKeyPrefix namespaces the deterministic bootstrap keys.
const initialKeyPrefix = "initial:"

// Service exposes the three ledger operations over a Store.
// Safe for concurrent use by any number of goroutines or processes;
// all shared state lives in the store.
type Service struct {
	store            Store
	initialAllowance int64
	now              func() time.Time
}

// NewService creates a ledger service.
// initialAllowance is the grant seeded into new accounts; values below
// zero fall back to DefaultInitialAllowance.
func NewService(store Store, initialAllowance int64) *Service {
	if initialAllowance < 0 {
		initialAllowance = DefaultInitialAllowance
	}
	return &Service{
		store:            store,
		initialAllowance: initialAllowance,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// READ BALANCE
// =============================================================================

// GetBalance returns the committed balance, bootstrapping the account
// if it has never been seen.
func (s *Service) GetBalance(ctx context.Context, accountID string) (Balance, error) {
	if accountID == "" {
		return Balance{}, ErrEmptyAccountID
	}

	var balance Balance
	err := s.store.WithTx(ctx, func(q Queries) error {
		acct, err := s.bootstrap(ctx, q, accountID)
		if err != nil {
			return err
		}
		balance = acct.Balance()
		return nil
	})
	return balance, err
}

// =============================================================================
// GRANT (CREDIT)
// =============================================================================

// Grant credits amount to the account and returns the resulting balance.
// A repeated call with the same idempotency key returns the current
// balance unchanged. This is what makes payment-webhook retries and
// refund-on-failure retries safe.
func (s *Service) Grant(ctx context.Context, accountID string, amount int64, source, idempotencyKey string) (Balance, error) {
	if err := validate(accountID, amount); err != nil {
		return Balance{}, err
	}

	var balance Balance
	err := s.store.WithTx(ctx, func(q Queries) error {
		acct, err := s.bootstrap(ctx, q, accountID)
		if err != nil {
			return err
		}

		if idempotencyKey != "" {
			seen, err := q.KeyExists(ctx, idempotencyKey)
			if err != nil {
				return err
			}
			if seen {
				balance = acct.Balance()
				return nil
			}
		}

		now := s.now()
		err = q.AppendTransaction(ctx, Transaction{
			ID:             uuid.NewString(),
			AccountID:      accountID,
			Type:           TxGrant,
			Amount:         amount,
			Source:         source,
			IdempotencyKey: idempotencyKey,
			CreatedAt:      now,
		})
		if errors.Is(err, ErrDuplicateKey) {
			// Lost a race on the key: the grant is already applied.
			balance = acct.Balance()
			return nil
		}
		if err != nil {
			return err
		}

		if err := q.AddToTotal(ctx, accountID, amount, now); err != nil {
			return err
		}

		balance = Balance{
			Total:     acct.Total + amount,
			Used:      acct.Used,
			Remaining: acct.Total + amount - acct.Used,
		}
		return nil
	})
	return balance, err
}

// =============================================================================
// CONSUME (DEBIT)
// =============================================================================

// Consume debits amount from the account if sufficient credits remain.
// The idempotency check, the sufficiency check, and the mutation share
// one transaction: two concurrent consumes against an exact balance can
// never both debit.
func (s *Service) Consume(ctx context.Context, accountID string, amount int64, source, idempotencyKey string) (ConsumeResult, error) {
	if err := validate(accountID, amount); err != nil {
		return ConsumeResult{}, err
	}

	var result ConsumeResult
	err := s.store.WithTx(ctx, func(q Queries) error {
		acct, err := s.bootstrap(ctx, q, accountID)
		if err != nil {
			return err
		}

		if idempotencyKey != "" {
			seen, err := q.KeyExists(ctx, idempotencyKey)
			if err != nil {
				return err
			}
			if seen {
				// Applied by an earlier call (or an ambiguous timeout
				// that did commit). Report success without charging.
				result = ConsumeResult{OK: true, Charged: false, Balance: acct.Balance()}
				return nil
			}
		}

		if acct.Total-acct.Used < amount {
			result = ConsumeResult{OK: false, Charged: false, Balance: acct.Balance()}
			return nil
		}

		now := s.now()
		err = q.AppendTransaction(ctx, Transaction{
			ID:             uuid.NewString(),
			AccountID:      accountID,
			Type:           TxConsume,
			Amount:         amount,
			Source:         source,
			IdempotencyKey: idempotencyKey,
			CreatedAt:      now,
		})
		if errors.Is(err, ErrDuplicateKey) {
			result = ConsumeResult{OK: true, Charged: false, Balance: acct.Balance()}
			return nil
		}
		if err != nil {
			return err
		}

		if err := q.AddToUsed(ctx, accountID, amount, now); err != nil {
			return err
		}

		result = ConsumeResult{
			OK:      true,
			Charged: true,
			Balance: Balance{
				Total:     acct.Total,
				Used:      acct.Used + amount,
				Remaining: acct.Total - acct.Used - amount,
			},
		}
		return nil
	})
	return result, err
}

// =============================================================================
// TRANSACTION HISTORY
// =============================================================================

// History returns the account's transaction log, newest first.
func (s *Service) History(ctx context.Context, accountID string, limit int) ([]Transaction, error) {
	if accountID == "" {
		return nil, ErrEmptyAccountID
	}
	if limit <= 0 {
		limit = 50
	}

	var txs []Transaction
	err := s.store.WithTx(ctx, func(q Queries) error {
		if _, err := s.bootstrap(ctx, q, accountID); err != nil {
			return err
		}
		var err error
		txs, err = q.ListTransactions(ctx, accountID, limit)
		return err
	})
	return txs, err
}

// =============================================================================
// BOOTSTRAP
// =============================================================================

// bootstrap ensures the balance row exists, seeding the initial allowance
// exactly once. Must run inside the caller's transaction.
func (s *Service) bootstrap(ctx context.Context, q Queries, accountID string) (*Account, error) {
	now := s.now()

	created, err := q.CreateAccount(ctx, accountID, s.initialAllowance, now)
	if err != nil {
		return nil, err
	}

	if created && s.initialAllowance > 0 {
		err := q.AppendTransaction(ctx, Transaction{
			ID:             uuid.NewString(),
			AccountID:      accountID,
			Type:           TxGrant,
			Amount:         s.initialAllowance,
			Source:         "initial_allocation",
			IdempotencyKey: initialKeyPrefix + accountID,
			CreatedAt:      now,
		})
		// A duplicate here means another transaction seeded first and
		// ours lost the row insert too; the balance row already exists.
		if err != nil && !errors.Is(err, ErrDuplicateKey) {
			return nil, err
		}
	}

	acct, err := q.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, fmt.Errorf("account %q missing after bootstrap", accountID)
	}
	return acct, nil
}

func validate(accountID string, amount int64) error {
	if accountID == "" {
		return ErrEmptyAccountID
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
