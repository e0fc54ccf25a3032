// Package httpjson centralizes the JSON response and error-envelope shape
// used by every handler: {error, statusCode, validation?, details?} on
// failure, a bare JSON body on success.
package httpjson

import (
	"encoding/json"
	"net/http"

	"github.com/agentindex/agentindexd/internal/apierr"
)

// Write encodes v as the JSON response body with the given status.
func Write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorEnvelope struct {
	Error      string `json:"error"`
	StatusCode int    `json:"statusCode"`
	Validation string `json:"validation,omitempty"`
	Details    string `json:"details,omitempty"`
}

// WriteError renders err as the standard envelope. A plain error (not an
// *apierr.Error) is treated as an unclassified 500.
func WriteError(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*apierr.Error)
	if !ok {
		apiErr = apierr.Internal("internal error", err.Error())
	}
	Write(w, apiErr.Status, errorEnvelope{
		Error:      apiErr.Message,
		StatusCode: apiErr.Status,
		Validation: apiErr.Validation,
		Details:    apiErr.Details,
	})
}
