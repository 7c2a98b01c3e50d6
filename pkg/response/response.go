// Package response provides common HTTP response helpers.
package response

import (
	"encoding/json"
	"net/http"
	"strings"

	commonerrors "github.com/exchange/brokerage/pkg/errors"
)

// RequestIDFromRequest extracts request ID from headers.
func RequestIDFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if reqID := RequestIDFromContext(r.Context()); reqID != "" {
		return reqID
	}
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

// JSON writes payload with the given status.
func JSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// NoContent writes 204.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteError maps any error to a structured error response.
// Errors without a business code are reported as INTERNAL without leaking the cause.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	if w == nil || err == nil {
		return
	}
	ce := commonerrors.From(err)
	payload := commonerrors.Error{Code: ce.Code, Message: ce.Message}
	if ce.Code == commonerrors.CodeInternal || ce.Code == commonerrors.CodeConsistency {
		payload.Message = "internal server error"
	}
	if reqID := RequestIDFromRequest(r); reqID != "" {
		payload.RequestID = reqID
	}
	JSON(w, ce.HTTPStatus(), &payload)
}

// WriteErrorCode writes an error response using error code and message.
func WriteErrorCode(w http.ResponseWriter, r *http.Request, code commonerrors.Code, message string) {
	WriteError(w, r, commonerrors.New(code, message))
}
