package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/taskora/marketplace/internal/market"
)

// Stable machine-readable codes so the UI can route "someone else got
// there first" differently from "upgrade your plan".
const (
	codeConflict               = "conflict"
	codeAlreadyAccepted        = "already_accepted"
	codeExpired                = "expired"
	codeNotEntitled            = "not_entitled"
	codeNotFound               = "not_found"
	codeWithdrawn              = "withdrawn"
	codeInvalidRequest         = "invalid_request"
	codeInvalidSignature       = "invalid_signature"
	codeOrderClosed            = "order_closed"
	codeReconciliationRequired = "reconciliation_required"
	codeInternalError          = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// writeServiceError maps core sentinels onto the HTTP surface. Internal
// detail never leaks: unknown errors become a generic 500.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, market.ErrConflict):
		writeError(w, http.StatusConflict, codeConflict, "someone else got there first")
	case errors.Is(err, market.ErrAlreadyAccepted):
		writeError(w, http.StatusConflict, codeAlreadyAccepted, "lead already accepted by another freelancer")
	case errors.Is(err, market.ErrExpired):
		writeError(w, http.StatusGone, codeExpired, "expired")
	case errors.Is(err, market.ErrNotEntitled):
		writeError(w, http.StatusForbidden, codeNotEntitled, "an active plan is required")
	case errors.Is(err, market.ErrLeadNotFound), errors.Is(err, market.ErrOrderNotFound), errors.Is(err, market.ErrReservationNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
	case errors.Is(err, market.ErrLeadWithdrawn):
		writeError(w, http.StatusGone, codeWithdrawn, "lead withdrawn")
	case errors.Is(err, market.ErrInvalidRank), errors.Is(err, market.ErrInvalidPurpose):
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
	case errors.Is(err, market.ErrSignatureMismatch):
		writeError(w, http.StatusBadRequest, codeInvalidSignature, "payment verification failed")
	case errors.Is(err, market.ErrOrderClosed):
		writeError(w, http.StatusGone, codeOrderClosed, "payment order already closed")
	case errors.Is(err, market.ErrReconciliationRequired):
		writeError(w, http.StatusInternalServerError, codeReconciliationRequired, "payment received, fulfilment pending review")
	default:
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}
