package models

import (
	"encoding/json"
	"net/http"
)

// Client-facing error messages shared by middleware and handlers.
const (
	MsgInvalidOrigin         = "Forbidden: Invalid Origin"
	MsgOriginRequired        = "Forbidden: Origin header required"
	MsgMethodNotAllowed      = "Method Not Allowed"
	MsgTLSRequired           = "This endpoint requires HTTPS"
	MsgRateLimited           = "Rate limit exceeded. Please try again later."
	MsgInternal              = "An unexpected error occurred"
	MsgMissingURL            = `Missing "url" query parameter.`
	MsgStationIDUndetermined = "Could not determine station ID from request path"
)

// ErrorResponse is the body of every error reply: {"error": "<message>"}.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewError creates an ErrorResponse with the given message.
func NewError(message string) *ErrorResponse {
	return &ErrorResponse{Error: message}
}

// Write writes the error as JSON with the given status code.
func (e *ErrorResponse) Write(w http.ResponseWriter, status int, requestID string) {
	if requestID != "" {
		w.Header().Set("X-Request-Id", requestID)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(e)
}
