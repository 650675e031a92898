// Package api provides response helpers shared by the control plane's
// route-group services (configapi, nodesapi, acmeapi).
package api

import (
	"encoding/json"
	"net/http"
)

// Deterministic reason codes for stable error classification across the
// admin surface (spec.md §6/§7).
const (
	ReasonBadRequest     = "bad_request"
	ReasonValidationFailed = "validation_failed"
	ReasonNotFound       = "not_found"
	ReasonConflict       = "conflict"
	ReasonInternalError  = "internal_error"
)

// ErrorEnvelope is the standard error response body.
type ErrorEnvelope struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error classification and, for validation
// failures, the validator's error kind strings (spec.md §4.1).
type ErrorDetail struct {
	Code       string   `json:"code"`
	ReasonCode string   `json:"reason_code"`
	Message    string   `json:"message"`
	Errors     []string `json:"errors,omitempty"`
}

// WriteJSON writes v as a JSON response body with statusCode.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes a standardized JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, reasonCode, message string, errs ...string) {
	WriteJSON(w, statusCode, ErrorEnvelope{
		Error: ErrorDetail{
			Code:       http.StatusText(statusCode),
			ReasonCode: reasonCode,
			Message:    message,
			Errors:     errs,
		},
	})
}

// WriteBadRequest writes a 400 Bad Request error.
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, ReasonBadRequest, message)
}

// WriteValidationFailed writes a 422 Unprocessable Entity error carrying
// the validator's error kinds (spec.md §4.2 "fail with ValidationFailed").
func WriteValidationFailed(w http.ResponseWriter, kinds []string) {
	WriteError(w, http.StatusUnprocessableEntity, ReasonValidationFailed, "snapshot failed validation", kinds...)
}

// WriteNotFound writes a 404 Not Found error.
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, ReasonNotFound, message)
}

// WriteConflict writes a 409 Conflict error.
func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, ReasonConflict, message)
}

// WriteInternalError writes a 500 Internal Server Error.
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, ReasonInternalError, message)
}
