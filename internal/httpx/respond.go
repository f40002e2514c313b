package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/beatsgarage/beatstore/internal/orders"
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

// writeDomainError maps domain sentinels to status + machine-readable code.
func writeDomainError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	msg := err.Error()
	switch {
	case errors.Is(err, orders.ErrBuyerRequired):
		status, code = http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, orders.ErrEmptyCart), errors.Is(err, orders.ErrRefRequired):
		status, code = http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, orders.ErrOrderInProgress):
		status, code = http.StatusConflict, "already_exists"
	case errors.Is(err, orders.ErrAlreadyPurchased):
		status, code = http.StatusConflict, "already_purchased"
	case errors.Is(err, orders.ErrBeatUnavailable):
		status, code = http.StatusConflict, "beat_unavailable"
	case errors.Is(err, orders.ErrBeatNotFound):
		status, code = http.StatusNotFound, "beat_not_found"
	case errors.Is(err, orders.ErrOrderNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, orders.ErrNotCompleted):
		status, code = http.StatusConflict, "not_completed"
	default:
		msg = "internal error"
	}
	writeError(w, status, code, msg)
}
