package registry

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/agentindex/agentindexd/internal/apierr"
	"github.com/agentindex/agentindexd/internal/httpjson"
	"github.com/agentindex/agentindexd/internal/store"
)

// RegisterHandler serves POST /v1/agent/register. Schema validation runs
// before any card logic.
func RegisterHandler(svc *Service, validator *Validator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			httpjson.WriteError(w, apierr.BadRequest("failed to read request body"))
			return
		}

		if err := validator.ValidateRegisterBody(body); err != nil {
			httpjson.WriteError(w, apierr.BadRequestValidation("request does not match register schema", err.Error()))
			return
		}

		n, err := svc.Register(r.Context(), body)
		if err != nil {
			httpjson.WriteError(w, err)
			return
		}
		httpjson.Write(w, http.StatusOK, map[string]any{"ok": true, "registered": n})
	}
}

// LineageHandler serves GET /v1/agent/{did}/lineage.
func LineageHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		did := r.PathValue("did")
		if did == "" {
			httpjson.WriteError(w, apierr.BadRequest("did is required"))
			return
		}
		chain, err := svc.Lineage(r.Context(), did)
		if err != nil {
			httpjson.WriteError(w, err)
			return
		}
		httpjson.Write(w, http.StatusOK, map[string]any{"did": did, "lineage": chain})
	}
}

// ReputationHandler serves POST /v1/agent/reputation.
func ReputationHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			DID        string  `json:"did"`
			Reputation float64 `json:"reputation"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpjson.WriteError(w, apierr.BadRequest("invalid JSON body"))
			return
		}
		if body.DID == "" || body.Reputation < 0 || body.Reputation > 1 {
			httpjson.WriteError(w, apierr.BadRequest("did is required and reputation must be in [0,1]"))
			return
		}
		if err := st.UpdateReputation(r.Context(), body.DID, body.Reputation); err != nil {
			writeStoreErr(w, err, "did not found")
			return
		}
		httpjson.Write(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// AvailabilityHandler serves POST /v1/agent/availability.
func AvailabilityHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			DID          string  `json:"did"`
			Availability float64 `json:"availability"`
			LastSeen     string  `json:"last_seen"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpjson.WriteError(w, apierr.BadRequest("invalid JSON body"))
			return
		}
		if body.DID == "" || body.Availability < 0 || body.Availability > 1 {
			httpjson.WriteError(w, apierr.BadRequest("did is required and availability must be in [0,1]"))
			return
		}
		var lastSeen time.Time
		if body.LastSeen != "" {
			t, err := time.Parse(time.RFC3339, body.LastSeen)
			if err != nil {
				httpjson.WriteError(w, apierr.BadRequest("last_seen must be RFC3339"))
				return
			}
			lastSeen = t
		}
		if err := st.UpdateAvailability(r.Context(), body.DID, body.Availability, lastSeen); err != nil {
			writeStoreErr(w, err, "did not found")
			return
		}
		httpjson.Write(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// CapabilitySchemaHandler serves GET /v1/capability/{id}/schema.
func CapabilitySchemaHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		schema, err := st.GetCapabilityOutputSchema(r.Context(), id)
		if err != nil {
			writeStoreErr(w, err, "capability not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if len(schema) == 0 {
			w.Write([]byte("null"))
			return
		}
		w.Write(schema)
	}
}

func writeStoreErr(w http.ResponseWriter, err error, notFoundMsg string) {
	if errors.Is(err, store.ErrAgentNotFound) || errors.Is(err, store.ErrCapabilityNotFound) {
		httpjson.WriteError(w, apierr.NotFound(notFoundMsg))
		return
	}
	httpjson.WriteError(w, apierr.Internal("store operation failed", err.Error()))
}
