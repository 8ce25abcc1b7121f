package middleware

import (
	"encoding/json"
	"net/http"
)

// Error codes produced before a request reaches a handler.
const (
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeForbiddenOrigin   = "FORBIDDEN_ORIGIN"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeInternal          = "INTERNAL_ERROR"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	Mode      Mode   `json:"mode"`
	RequestID string `json:"request_id"`
	Required  *int64 `json:"required,omitempty"`
	Available *int64 `json:"available,omitempty"`
}

// NewErrorBody fills the correlation fields from the request.
func NewErrorBody(r *http.Request, code, msg string) ErrorBody {
	return ErrorBody{
		Error:     code,
		Message:   msg,
		Mode:      RequestMode(r),
		RequestID: RequestIDFromContext(r.Context()),
	}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes an error body with the request's mode and id.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	WriteJSON(w, status, NewErrorBody(r, code, msg))
}
