package discovery

import (
	"encoding/json"
	"net/http"

	"github.com/agentindex/agentindexd/internal/apierr"
	"github.com/agentindex/agentindexd/internal/httpjson"
)

type requestBody struct {
	Query         string   `json:"query"`
	Limit         *int     `json:"limit,omitempty"`
	MinReputation *float64 `json:"minReputation,omitempty"`
	TagsAny       []string `json:"tagsAny,omitempty"`
}

// Handler serves POST /v1/agent/discovery.
func Handler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body requestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpjson.WriteError(w, apierr.BadRequest("invalid JSON body"))
			return
		}
		if body.Query == "" {
			httpjson.WriteError(w, apierr.BadRequest("query is required"))
			return
		}

		req := Request{Query: body.Query, TagsAny: body.TagsAny}
		if body.Limit != nil {
			req.Limit = *body.Limit
		} else {
			req.Limit = 5
		}
		if req.Limit < 1 || req.Limit > 50 {
			httpjson.WriteError(w, apierr.BadRequest("limit must be between 1 and 50"))
			return
		}
		if body.MinReputation != nil {
			req.MinReputation = *body.MinReputation
		} else {
			req.MinReputation = svc.DefaultMinReputation
		}

		results, err := svc.Discover(r.Context(), req)
		if err != nil {
			httpjson.WriteError(w, err)
			return
		}
		httpjson.Write(w, http.StatusOK, results)
	}
}
