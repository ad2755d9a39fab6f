/*
handlers.go - HTTP handlers for the credits ledger

PURPOSE:
  Exposes the ledger via REST. Handles request parsing, input
  validation, and translation of ledger outcomes into HTTP responses.
  All correctness lives in the ledger; this layer is glue.

ENDPOINTS:
  GET  /api/accounts/{id}/balance       Current balance
  POST /api/accounts/{id}/grant         Credit the account
  POST /api/accounts/{id}/consume       Debit the account
  GET  /api/accounts/{id}/transactions  Per-account history
  GET  /api/healthz                     Liveness probe

ERROR HANDLING:
  - 400: Invalid input (empty account, non-positive/fractional amount)
  - 503: Store contention; Retry-After advises backing off. Retries must
         reuse the original idempotency key.
  - 500: Storage failures
  Insufficient balance is NOT an error: it is ok:false with status 200,
  for the caller to surface as "out of credits".

SEE ALSO:
  - dto.go: Request/response structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lumen/credits-engine/ledger"
)

// Handler holds the handler dependencies.
type Handler struct {
	Ledger *ledger.Service
}

// NewHandler creates a handler backed by the given ledger service.
func NewHandler(svc *ledger.Service) *Handler {
	return &Handler{Ledger: svc}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// GetBalance returns the account's committed balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")

	balance, err := h.Ledger.GetBalance(r.Context(), accountID)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBalanceDTO(balance))
}

// Grant credits the account.
func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")

	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := intAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	balance, err := h.Ledger.Grant(r.Context(), accountID, amount, req.Source, req.IdempotencyKey)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBalanceDTO(balance))
}

// Consume debits the account if credits remain.
func (h *Handler) Consume(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")

	var req ConsumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := intAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	result, err := h.Ledger.Consume(r.Context(), accountID, amount, req.Source, req.IdempotencyKey)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ConsumeResponse{
		OK:      result.OK,
		Charged: result.Charged,
		Balance: toBalanceDTO(result.Balance),
	})
}

// ListTransactions returns the account's history, newest first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	txs, err := h.Ledger.History(r.Context(), accountID, limit)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = TransactionDTO{
			ID:             tx.ID,
			Type:           string(tx.Type),
			Amount:         tx.Amount,
			Source:         tx.Source,
			IdempotencyKey: tx.IdempotencyKey,
			CreatedAt:      tx.CreatedAt.Format(time.RFC3339),
		}
	}

	writeJSON(w, http.StatusOK, dtos)
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func (h *Handler) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid input", err)
	case ledger.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "Ledger busy, retry with the same idempotency key", err)
	default:
		writeError(w, http.StatusInternalServerError, "Ledger operation failed", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := ErrorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
