/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All error values in one place. Callers classify with errors.Is and the
  helpers below; the API layer translates classes into HTTP statuses.

ERROR CATEGORIES:
  1. Invalid input  - rejected before any storage access, never retried
  2. Contention     - transient, retry with backoff and the SAME key
  3. Storage        - propagated as-is, operation had no visible effect

NOTE:
  Insufficient balance is NOT an error. It is a normal outcome reported
  through ConsumeResult.OK so callers surface "out of credits" themselves.
*/
package ledger

import "errors"

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrEmptyAccountID is returned when an operation names no account.
	ErrEmptyAccountID = errors.New("account id is empty")

	// ErrInvalidAmount is returned for non-positive amounts.
	// Rejected before touching storage.
	ErrInvalidAmount = errors.New("amount must be a positive integer")

	// ErrLocked is returned when the store's busy timeout elapsed while
	// waiting for a writer lock. Transient: retry with backoff, reusing
	// the same idempotency key.
	ErrLocked = errors.New("store is locked")

	// ErrDuplicateKey is returned by the store when an insert collides on
	// idempotency_key. The service treats it as a replay, not a failure.
	ErrDuplicateKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
// Callers must reuse the same idempotency key when they do.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLocked)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrEmptyAccountID) ||
		errors.Is(err, ErrInvalidAmount)
}
