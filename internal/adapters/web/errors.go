package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"fulfillment-core/internal/core"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`

	// Populated for INSUFFICIENT_STOCK only.
	Available string `json:"available,omitempty"`
	Requested string `json:"requested,omitempty"`
	Shortfall string `json:"shortfall,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeDomainError maps the core error taxonomy onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *core.InsufficientStockError
	var invalidState *core.InvalidStateError

	switch {
	case errors.Is(err, core.ErrNotFound):
		writeError(w, r, err.Error(), "NOT_FOUND", http.StatusNotFound)
	case errors.Is(err, core.ErrDuplicateCode):
		writeError(w, r, err.Error(), "DUPLICATE_CODE", http.StatusConflict)
	case errors.Is(err, core.ErrSameWarehouse):
		writeError(w, r, err.Error(), "SAME_WAREHOUSE", http.StatusBadRequest)
	case errors.Is(err, core.ErrProductMismatch):
		writeError(w, r, err.Error(), "PRODUCT_MISMATCH", http.StatusBadRequest)
	case errors.As(err, &insufficient):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(errorResponse{
			Error:     insufficient.Error(),
			Code:      "INSUFFICIENT_STOCK",
			RequestID: requestIDFromContext(r.Context()),
			Available: insufficient.Available.String(),
			Requested: insufficient.Requested.String(),
			Shortfall: insufficient.Shortfall().String(),
		})
	case errors.As(err, &invalidState):
		writeError(w, r, err.Error(), "INVALID_STATE", http.StatusConflict)
	default:
		writeError(w, r, err.Error(), "INTERNAL_ERROR", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
