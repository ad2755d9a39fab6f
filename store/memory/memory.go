// Package memory provides an in-memory ledger.Store for testing and dev.
//
// Not for production: state lives in one process, which breaks the
// multiple-worker deployment model the durable store exists for.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lumen/credits-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Store implements ledger.Store with a single mutex standing in for the
// database write lock. WithTx snapshots state so a failed closure rolls
// back, matching the durable store's all-or-nothing contract.
type Store struct {
	mu       sync.Mutex
	accounts map[string]ledger.Account
	log      []ledger.Transaction
	keys     map[string]bool
}

var _ ledger.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		accounts: make(map[string]ledger.Account),
		keys:     make(map[string]bool),
	}
}

// WithTx executes fn with the store lock held. On error, every change
// fn made is discarded.
func (s *Store) WithTx(_ context.Context, fn func(ledger.Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.clone()
	if err := fn(&queries{s: s}); err != nil {
		s.accounts, s.log, s.keys = snapshot.accounts, snapshot.log, snapshot.keys
		return err
	}
	return nil
}

func (s *Store) clone() *Store {
	c := &Store{
		accounts: make(map[string]ledger.Account, len(s.accounts)),
		log:      make([]ledger.Transaction, len(s.log)),
		keys:     make(map[string]bool, len(s.keys)),
	}
	for id, a := range s.accounts {
		c.accounts[id] = a
	}
	copy(c.log, s.log)
	for k := range s.keys {
		c.keys[k] = true
	}
	return c
}

// queries implements ledger.Queries under the store lock.
type queries struct {
	s *Store
}

func (q *queries) GetAccount(_ context.Context, accountID string) (*ledger.Account, error) {
	acct, ok := q.s.accounts[accountID]
	if !ok {
		return nil, nil
	}
	return &acct, nil
}

func (q *queries) CreateAccount(_ context.Context, accountID string, total int64, now time.Time) (bool, error) {
	if _, ok := q.s.accounts[accountID]; ok {
		return false, nil
	}
	q.s.accounts[accountID] = ledger.Account{
		ID:        accountID,
		Total:     total,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return true, nil
}

func (q *queries) AddToTotal(_ context.Context, accountID string, amount int64, now time.Time) error {
	acct := q.s.accounts[accountID]
	acct.Total += amount
	acct.UpdatedAt = now
	q.s.accounts[accountID] = acct
	return nil
}

func (q *queries) AddToUsed(_ context.Context, accountID string, amount int64, now time.Time) error {
	acct := q.s.accounts[accountID]
	acct.Used += amount
	acct.UpdatedAt = now
	q.s.accounts[accountID] = acct
	return nil
}

func (q *queries) AppendTransaction(_ context.Context, tx ledger.Transaction) error {
	if tx.IdempotencyKey != "" && q.s.keys[tx.IdempotencyKey] {
		return fmt.Errorf("%w: %s", ledger.ErrDuplicateKey, tx.IdempotencyKey)
	}
	q.s.log = append(q.s.log, tx)
	if tx.IdempotencyKey != "" {
		q.s.keys[tx.IdempotencyKey] = true
	}
	return nil
}

func (q *queries) KeyExists(_ context.Context, key string) (bool, error) {
	return q.s.keys[key], nil
}

func (q *queries) ListTransactions(_ context.Context, accountID string, limit int) ([]ledger.Transaction, error) {
	var result []ledger.Transaction
	// Log is append-ordered; walk backwards for newest-first.
	for i := len(q.s.log) - 1; i >= 0 && len(result) < limit; i-- {
		if q.s.log[i].AccountID == accountID {
			result = append(result, q.s.log[i])
		}
	}
	return result, nil
}
