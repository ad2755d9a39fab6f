/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the internal domain
  model from the external contract.

AMOUNT HANDLING:
  Request amounts decode as decimal.Decimal rather than float64, so a
  fractional or out-of-range amount is rejected outright instead of
  being silently truncated on the way to an integer column.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/lumen/credits-engine/ledger"
)

var (
	errAmountNotInteger = errors.New("amount must be an integer")
	errAmountOutOfRange = errors.New("amount out of range")
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// GrantRequest is the body of POST /api/accounts/{id}/grant.
type GrantRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Source         string          `json:"source"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// ConsumeRequest is the body of POST /api/accounts/{id}/consume.
type ConsumeRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Source         string          `json:"source"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// intAmount narrows a decoded amount to int64, rejecting fractional and
// out-of-range values.
func intAmount(d decimal.Decimal) (int64, error) {
	if !d.IsInteger() {
		return 0, errAmountNotInteger
	}
	bi := d.BigInt()
	if !bi.IsInt64() {
		return 0, errAmountOutOfRange
	}
	return bi.Int64(), nil
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// BalanceDTO represents an account balance in API responses.
type BalanceDTO struct {
	Total     int64 `json:"total"`
	Used      int64 `json:"used"`
	Remaining int64 `json:"remaining"`
}

// ConsumeResponse is the structured outcome of a consume call.
type ConsumeResponse struct {
	OK      bool       `json:"ok"`
	Charged bool       `json:"charged"`
	Balance BalanceDTO `json:"balance"`
}

// TransactionDTO represents one ledger entry in API responses.
type TransactionDTO struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Amount         int64  `json:"amount"`
	Source         string `json:"source"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toBalanceDTO(b ledger.Balance) BalanceDTO {
	return BalanceDTO{Total: b.Total, Used: b.Used, Remaining: b.Remaining}
}
