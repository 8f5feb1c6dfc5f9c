// Package httpapi exposes the ledger over JSON HTTP.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/sheikh-saqib/tayacoins-ledger/internal/ledger"
)

type jsonError struct {
	Error string `json:"error"`
}

// writeJSONError writes {"error": message} with the given status code.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, jsonError{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusFor maps a ledger refusal to its HTTP status. Internal errors are 500.
func statusFor(kind ledger.Kind) int {
	switch kind {
	case ledger.NotFound:
		return http.StatusNotFound
	case ledger.Unavailable, ledger.InsufficientStock:
		return http.StatusConflict
	case ledger.InsufficientBalance:
		return http.StatusPaymentRequired
	case ledger.EmptyCart:
		return http.StatusBadRequest
	case ledger.Transient:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
