// Package apierr models the error kinds from the service's error handling
// design: BadRequest, Unauthorized, NotFound, RateLimited, Unhealthy, and
// Internal, each with a fixed HTTP status.
package apierr

import "net/http"

// Error is a classified API error with an HTTP status and optional detail
// carried through to the response envelope.
type Error struct {
	Status     int
	Message    string
	Validation string
	Details    string
}

func (e *Error) Error() string { return e.Message }

// BadRequest builds a 400 error: schema/shape mismatch, card mismatch,
// missing endpoint.
func BadRequest(msg string) *Error {
	return &Error{Status: http.StatusBadRequest, Message: msg}
}

// BadRequestValidation builds a 400 error carrying a validation detail
// string (e.g. a JSON-schema validation failure).
func BadRequestValidation(msg, validation string) *Error {
	return &Error{Status: http.StatusBadRequest, Message: msg, Validation: validation}
}

// Unauthorized builds a 401 error: missing/wrong API key, invalid card
// signature.
func Unauthorized(msg string) *Error {
	return &Error{Status: http.StatusUnauthorized, Message: msg}
}

// NotFound builds a 404 error: capability schema lookup miss.
func NotFound(msg string) *Error {
	return &Error{Status: http.StatusNotFound, Message: msg}
}

// RateLimited builds a 429 error. Callers must also set the Retry-After
// header; this type only carries the envelope.
func RateLimited(msg string) *Error {
	return &Error{Status: http.StatusTooManyRequests, Message: msg}
}

// Unhealthy builds a 503 error: health probe failed.
func Unhealthy(msg string) *Error {
	return &Error{Status: http.StatusServiceUnavailable, Message: msg}
}

// Internal builds a 500 error: store/vector/embedder failure mid-write.
// details preserves the underlying engine's message for operational
// diagnosis without leaking it into Message.
func Internal(msg, details string) *Error {
	return &Error{Status: http.StatusInternalServerError, Message: msg, Details: details}
}
