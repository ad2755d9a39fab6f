/*
Package sqlite provides the SQLite-backed durable store for the ledger.

PURPOSE:
  Implements ledger.Store and ledger.Queries over a single file-backed
  SQLite database. Owns the physical schema, connection configuration,
  and the mapping from driver errors to ledger error classes.

KEY TABLES:
  balances:     One row per account, materialized running totals
  transactions: Append-only log of every grant/consume

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements ever touch the transactions table.
  The balances row is a cache derived from the log; the log is truth.

IDEMPOTENCY:
  transactions.idempotency_key carries a UNIQUE constraint. A colliding
  insert surfaces as ledger.ErrDuplicateKey, letting the database - not
  application code - adjudicate concurrent duplicates.

WAL MODE & LOCKING:
  Opened with WAL so readers never block on a writer. Transactions take
  the write lock up front (_txlock=immediate), and a contended writer
  waits up to the busy timeout before failing with ledger.ErrLocked,
  which callers treat as retryable.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

USAGE:
  store, err := sqlite.New("./data/credits.db", sqlite.Options{})
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := ledger.NewService(store, ledger.DefaultInitialAllowance)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/service.go: The consumer of this store
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/lumen/credits-engine/ledger"
)

// DefaultBusyTimeout bounds how long a contended writer waits for the
// lock before the call fails with ledger.ErrLocked.
const DefaultBusyTimeout = 5 * time.Second

// Options tunes the store at open time.
type Options struct {
	// BusyTimeout overrides DefaultBusyTimeout when positive.
	BusyTimeout time.Duration
}

// Store implements ledger.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

var (
	_ ledger.Store       = (*Store)(nil)
	_ ledger.PragmaStore = (*Store)(nil)
)

// New opens (creating if necessary) the database at path.
// Use ":memory:" for an in-memory database (tests, demos).
// The parent directory is created if it does not exist.
func New(path string, opts Options) (*Store, error) {
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}

	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate",
		path, busy.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A plain in-memory database exists per connection.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Pragma applies a post-open tuning pragma (implements ledger.PragmaStore).
func (s *Store) Pragma(name, value string) error {
	_, err := s.db.Exec(fmt.Sprintf("PRAGMA %s = %s", name, value))
	return err
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Balances (materialized running totals, one row per account)
	CREATE TABLE IF NOT EXISTS balances (
		account_id TEXT PRIMARY KEY,
		total      INTEGER NOT NULL DEFAULT 0,
		used       INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (total >= used AND used >= 0)
	);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		transaction_id  TEXT PRIMARY KEY,
		account_id      TEXT NOT NULL REFERENCES balances(account_id),
		type            TEXT NOT NULL CHECK (type IN ('grant', 'consume')),
		amount          INTEGER NOT NULL CHECK (amount > 0),
		source          TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		created_at      TEXT NOT NULL
	);

	-- Per-account history scans (hot path for the transactions endpoint)
	CREATE INDEX IF NOT EXISTS idx_transactions_account_created
		ON transactions(account_id, created_at);

	CREATE INDEX IF NOT EXISTS idx_transactions_idempotency
		ON transactions(idempotency_key) WHERE idempotency_key IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL EXECUTION (ledger.Store interface)
// =============================================================================

// WithTx executes fn within a single database transaction.
// The transaction acquires the write lock immediately, so everything fn
// does is serialized against other writers.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback()

	if err := fn(&queries{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

// queries implements ledger.Queries over one open transaction.
type queries struct {
	tx *sql.Tx
}

// GetAccount returns the balance row, or nil if the account is unseen.
func (q *queries) GetAccount(ctx context.Context, accountID string) (*ledger.Account, error) {
	var (
		acct                 ledger.Account
		createdAt, updatedAt string
	)

	err := q.tx.QueryRowContext(ctx,
		"SELECT account_id, total, used, created_at, updated_at FROM balances WHERE account_id = ?",
		accountID,
	).Scan(&acct.ID, &acct.Total, &acct.Used, &createdAt, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}

	acct.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	acct.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &acct, nil
}

// CreateAccount inserts a balance row if absent.
func (q *queries) CreateAccount(ctx context.Context, accountID string, total int64, now time.Time) (bool, error) {
	res, err := q.tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO balances (account_id, total, used, created_at, updated_at) VALUES (?, ?, 0, ?, ?)",
		accountID, total, now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return false, mapError(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, mapError(err)
	}
	return n == 1, nil
}

// AddToTotal increments the cumulative grant counter.
func (q *queries) AddToTotal(ctx context.Context, accountID string, amount int64, now time.Time) error {
	_, err := q.tx.ExecContext(ctx,
		"UPDATE balances SET total = total + ?, updated_at = ? WHERE account_id = ?",
		amount, now.Format(time.RFC3339), accountID,
	)
	return mapError(err)
}

// AddToUsed increments the cumulative consumption counter.
func (q *queries) AddToUsed(ctx context.Context, accountID string, amount int64, now time.Time) error {
	_, err := q.tx.ExecContext(ctx,
		"UPDATE balances SET used = used + ?, updated_at = ? WHERE account_id = ?",
		amount, now.Format(time.RFC3339), accountID,
	)
	return mapError(err)
}

// AppendTransaction writes one immutable log row.
func (q *queries) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	_, err := q.tx.ExecContext(ctx, `
		INSERT INTO transactions
		(transaction_id, account_id, type, amount, source, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		tx.AccountID,
		string(tx.Type),
		tx.Amount,
		tx.Source,
		nullString(tx.IdempotencyKey),
		tx.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraint(err) {
			return fmt.Errorf("%w: %s", ledger.ErrDuplicateKey, tx.IdempotencyKey)
		}
		return mapError(err)
	}
	return nil
}

// KeyExists checks whether an idempotency key has been recorded.
func (q *queries) KeyExists(ctx context.Context, key string) (bool, error) {
	var count int
	err := q.tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?",
		key,
	).Scan(&count)
	if err != nil {
		return false, mapError(err)
	}
	return count > 0, nil
}

// ListTransactions returns the account's log, newest first.
func (q *queries) ListTransactions(ctx context.Context, accountID string, limit int) ([]ledger.Transaction, error) {
	rows, err := q.tx.QueryContext(ctx, `
		SELECT transaction_id, account_id, type, amount, source, idempotency_key, created_at
		FROM transactions
		WHERE account_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`,
		accountID, limit,
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		var (
			tx        ledger.Transaction
			txType    string
			key       sql.NullString
			createdAt string
		)
		if err := rows.Scan(&tx.ID, &tx.AccountID, &txType, &tx.Amount, &tx.Source, &key, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Type = ledger.TxType(txType)
		tx.IdempotencyKey = key.String
		tx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// mapError translates driver errors into ledger error classes.
// Busy/locked becomes the retryable ledger.ErrLocked; everything else
// propagates unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		if se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked {
			return fmt.Errorf("%w: %v", ledger.ErrLocked, err)
		}
	}
	return err
}

func isUniqueConstraint(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
