// Package discovery implements the hybrid vector+lexical discovery
// pipeline: embed the query, search the vector index best-effort, always
// run a lexical fallback, merge/dedupe, join agent metadata, gate on
// availability, score, filter, and sort. Ranking clamps reputation to
// [0,1], combines the three sub-scores linearly, and stable-sorts by the
// result.
package discovery

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/agentindex/agentindexd/internal/apierr"
	"github.com/agentindex/agentindexd/internal/models"
)

// Weights holds the independently configurable score coefficients.
type Weights struct {
	Sim   float64
	Rep   float64
	Avail float64
}

// Embedder is the subset of internal/embedding.Embedder the pipeline needs.
type Embedder interface {
	Embed(ctx context.Context, text string) []float32
}

// VectorIndex is the subset of internal/vectorindex.Index the pipeline needs.
type VectorIndex interface {
	Search(ctx context.Context, vector []float32, limit int) ([]VectorHit, error)
}

// VectorHit is one ANN search result.
type VectorHit struct {
	Score        float64
	AgentDID     string
	CapabilityID string
	Description  string
	Tags         []string
}

// MetadataStore is the subset of internal/store.Store the pipeline needs.
type MetadataStore interface {
	SearchCapabilitiesByKeyword(ctx context.Context, pattern string) ([]models.Capability, error)
	FindAgentsByDids(ctx context.Context, dids []string) (map[string]models.Agent, error)
}

// defaultLexicalScore is the stand-in score assigned to every lexical hit
// so it can be merged onto the same numeric axis as cosine similarity,
// used when Service.LexicalScore is zero. Service.LexicalScore exposes it
// as a configuration knob since a fixed constant fits any given
// deployment's embedding model only approximately.
const defaultLexicalScore = 0.45

// Request is the discovery request body.
type Request struct {
	Query         string
	Limit         int
	MinReputation float64
	TagsAny       []string // additive post-filter: keep only hits matching at least one tag
}

// Result is one ranked discovery hit.
type Result struct {
	Score             float64       `json:"score"`
	VectorScore       float64       `json:"vectorScore"`
	ReputationScore   float64       `json:"reputationScore"`
	AvailabilityScore float64       `json:"availabilityScore"`
	AgentDID          string        `json:"agentDid"`
	CapabilityID      string        `json:"capabilityId"`
	Description       string        `json:"description"`
	Tags              []string      `json:"tags"`
	Reputation        float64       `json:"reputation"`
	Agent             *models.Agent `json:"agent"`
}

// Service wires the pipeline's dependencies.
type Service struct {
	Embedder      Embedder
	VectorIndex   VectorIndex
	Store         MetadataStore
	Weights       Weights
	HeartbeatTTL  time.Duration
	LexicalScore  float64
	Logger        *slog.Logger

	// DefaultMinReputation is applied by Handler when a request omits
	// minReputation.
	DefaultMinReputation float64
}

// hit is the pipeline's merge-stage intermediate representation, before
// the agent join.
type hit struct {
	sim          float64
	agentDID     string
	capabilityID string
	description  string
	tags         []string
}

// Discover runs the full pipeline for req and returns ranked results.
func (s *Service) Discover(ctx context.Context, req Request) ([]Result, error) {
	if req.Limit <= 0 {
		req.Limit = 5
	}
	if req.Limit > 50 {
		return nil, apierr.BadRequest("limit must be <= 50")
	}

	var hits []hit
	seen := make(map[string]bool) // composite key agentDID+"\x00"+capabilityID

	vec := s.Embedder.Embed(ctx, req.Query)
	vhits, err := s.VectorIndex.Search(ctx, vec, req.Limit)
	if err != nil {
		s.log().Warn("vector search failed, continuing lexical-only", "error", err)
	} else {
		for _, v := range vhits {
			key := v.AgentDID + "\x00" + v.CapabilityID
			if seen[key] {
				continue
			}
			seen[key] = true
			hits = append(hits, hit{sim: v.Score, agentDID: v.AgentDID, capabilityID: v.CapabilityID, description: v.Description, tags: v.Tags})
		}
	}

	lexicalScore := s.LexicalScore
	if lexicalScore == 0 {
		lexicalScore = defaultLexicalScore
	}
	lexHits, err := s.Store.SearchCapabilitiesByKeyword(ctx, req.Query)
	if err != nil {
		return nil, apierr.Internal("lexical search failed", err.Error())
	}
	for _, c := range lexHits {
		key := c.AgentDID + "\x00" + c.CapabilityID
		if seen[key] {
			continue
		}
		seen[key] = true
		hits = append(hits, hit{sim: lexicalScore, agentDID: c.AgentDID, capabilityID: c.CapabilityID, description: c.Description, tags: c.Tags})
	}

	dids := make([]string, 0, len(hits))
	didSeen := make(map[string]bool)
	for _, h := range hits {
		if !didSeen[h.agentDID] {
			didSeen[h.agentDID] = true
			dids = append(dids, h.agentDID)
		}
	}
	agents, err := s.Store.FindAgentsByDids(ctx, dids)
	if err != nil {
		return nil, apierr.Internal("agent lookup failed", err.Error())
	}

	now := time.Now()
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		agent, ok := agents[h.agentDID]

		rep := 0.0
		avail := 0.0
		availKnown := false
		var agentPtr *models.Agent
		if ok {
			agentPtr = &agent
			rep = clamp01(agent.Reputation)
			if agent.LastSeen != nil {
				availKnown = true
				stale := now.Sub(*agent.LastSeen) > 2*s.HeartbeatTTL
				if stale {
					avail = 0
				} else {
					avail = agent.AvailabilityScore
				}
			}
		}
		effectiveAvail := avail
		if !availKnown {
			effectiveAvail = 0
		}

		score := s.Weights.Sim*h.sim + s.Weights.Rep*rep + s.Weights.Avail*avail

		if effectiveAvail <= 0 || rep < req.MinReputation {
			continue
		}
		if !matchesTagsAny(h.tags, req.TagsAny) {
			continue
		}

		results = append(results, Result{
			Score:             score,
			VectorScore:       h.sim,
			ReputationScore:   rep,
			AvailabilityScore: avail,
			AgentDID:          h.agentDID,
			CapabilityID:      h.capabilityID,
			Description:       h.description,
			Tags:              h.tags,
			Reputation:        rep,
			Agent:             agentPtr,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > req.Limit {
		results = results[:req.Limit]
	}

	return results, nil
}

func matchesTagsAny(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(w, h) {
				return true
			}
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (s *Service) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
