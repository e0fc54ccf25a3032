// Package registry implements the registration pipeline: schema-validate
// the request, verify the optional signed card against the submitted
// capabilities, then atomically replace the agent's capability set
// across the relational store and the vector index. Schema validation
// hard-rejects before any card logic runs.
package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentindex/agentindexd/internal/apierr"
	"github.com/agentindex/agentindexd/internal/card"
	"github.com/agentindex/agentindexd/internal/models"
)

// Embedder is the subset of internal/embedding.Embedder the pipeline needs.
type Embedder interface {
	Embed(ctx context.Context, text string) []float32
}

// VectorIndex is the subset of internal/vectorindex.Index the pipeline needs.
type VectorIndex interface {
	UpsertPoint(ctx context.Context, p VectorPoint) error
	DeleteByAgent(ctx context.Context, did string) error
}

// VectorPoint mirrors vectorindex.Point, decoupling this package from the
// concrete adapter type.
type VectorPoint struct {
	AgentDID     string
	CapabilityID string
	Description  string
	Tags         []string
	Vector       []float32
}

// Store is the subset of internal/store.Store the pipeline needs.
type Store interface {
	UpsertAgent(ctx context.Context, p StoreUpsertAgentParams) error
	DeleteCapabilities(ctx context.Context, did string) error
	InsertCapability(ctx context.Context, c models.Capability) error
	CardLineageChain(ctx context.Context, did string, maxDepth int) ([]string, error)
}

// StoreUpsertAgentParams mirrors store.UpsertAgentParams.
type StoreUpsertAgentParams struct {
	DID           string
	Name          string
	Endpoint      string
	PublicKey     string
	WalletAddress string
	CardVersion   *int
	CardLineage   string
	CardSignature string
	CardRaw       []byte
}

// capabilityRequest is one entry of the register request's capabilities
// array, tolerating both the camelCase and snake_case id aliases.
type capabilityRequest struct {
	CapabilityID  string          `json:"capabilityId"`
	CapabilityID2 string          `json:"capability_id"`
	Description   string          `json:"description"`
	Tags          []string        `json:"tags"`
	InputSchema   json.RawMessage `json:"input_schema"`
	OutputSchema  json.RawMessage `json:"output_schema"`
}

func (c capabilityRequest) id() string {
	if c.CapabilityID != "" {
		return c.CapabilityID
	}
	return c.CapabilityID2
}

// registerRequest is the register request body, post schema validation.
type registerRequest struct {
	DID           string              `json:"did"`
	Name          string              `json:"name"`
	Endpoint      string              `json:"endpoint"`
	WalletAddress string              `json:"walletAddress"`
	Capabilities  []capabilityRequest `json:"capabilities"`
	Card          *card.Card          `json:"card"`
	CardSignature string              `json:"card_signature"`
}

// Service wires the registration pipeline's dependencies.
type Service struct {
	Store       Store
	VectorIndex VectorIndex
	Embedder    Embedder
}

// Register runs the full pipeline over a schema-validated body and
// returns the number of capabilities registered.
func (s *Service) Register(ctx context.Context, body []byte) (int, error) {
	var req registerRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return 0, apierr.BadRequest("invalid JSON body")
	}

	hasCard := req.Card != nil
	hasSignature := req.CardSignature != ""
	if hasCard != hasSignature {
		return 0, apierr.BadRequest("card and card_signature must both be present or both absent")
	}

	var (
		normalizedEndpoint string
		publicKey          string
		cardVersion        *int
		cardLineage        string
		cardSignature      string
		cardRaw            []byte
		allowedCapIDs      map[string]bool
	)

	if hasCard {
		normalizedEndpoint = card.NormalizeEndpoint(firstNonEmpty(req.Endpoint, req.Card.Endpoint))
		if normalizedEndpoint == "" {
			return 0, apierr.BadRequest("endpoint is required")
		}
		if req.Card.DID != req.DID {
			return 0, apierr.BadRequest("card.did does not match did")
		}
		if card.NormalizeEndpoint(req.Card.Endpoint) != normalizedEndpoint {
			return 0, apierr.BadRequest("card.endpoint does not match normalized endpoint")
		}
		if !card.Verify(*req.Card, req.CardSignature) {
			return 0, apierr.Unauthorized("card signature verification failed")
		}

		allowedCapIDs = make(map[string]bool, len(req.Card.Capabilities))
		for _, c := range req.Card.Capabilities {
			allowedCapIDs[c.ID] = true
		}
		for _, c := range req.Capabilities {
			id := c.id()
			if id != "" && !allowedCapIDs[id] {
				return 0, apierr.BadRequest(fmt.Sprintf("capability %q is not present in card", id))
			}
		}

		publicKey = req.Card.PublicKey
		cardVersion = &req.Card.Version
		if req.Card.Lineage != nil {
			cardLineage = *req.Card.Lineage
		}
		cardSignature = req.CardSignature
		cardRaw = card.Canonicalize(*req.Card)
	} else {
		normalizedEndpoint = card.NormalizeEndpoint(req.Endpoint)
		if normalizedEndpoint == "" {
			return 0, apierr.BadRequest("endpoint is required")
		}
	}

	if err := s.Store.UpsertAgent(ctx, StoreUpsertAgentParams{
		DID:           req.DID,
		Name:          req.Name,
		Endpoint:      normalizedEndpoint,
		PublicKey:     publicKey,
		WalletAddress: req.WalletAddress,
		CardVersion:   cardVersion,
		CardLineage:   cardLineage,
		CardSignature: cardSignature,
		CardRaw:       cardRaw,
	}); err != nil {
		return 0, apierr.Internal("failed to persist agent", err.Error())
	}

	if err := s.Store.DeleteCapabilities(ctx, req.DID); err != nil {
		return 0, apierr.Internal("failed to clear existing capabilities", err.Error())
	}
	if err := s.VectorIndex.DeleteByAgent(ctx, req.DID); err != nil {
		return 0, apierr.Internal("failed to clear existing vector points", err.Error())
	}

	for _, c := range req.Capabilities {
		id := c.id()
		if id == "" {
			id = uuid.NewString()
		}

		embedInput := models.EmbeddingInput(id, c.Description, c.OutputSchema, c.Tags)
		vec := s.Embedder.Embed(ctx, embedInput)

		if err := s.VectorIndex.UpsertPoint(ctx, VectorPoint{
			AgentDID:     req.DID,
			CapabilityID: id,
			Description:  c.Description,
			Tags:         c.Tags,
			Vector:       vec,
		}); err != nil {
			return 0, apierr.Internal("failed to upsert vector point", err.Error())
		}

		if err := s.Store.InsertCapability(ctx, models.Capability{
			AgentDID:     req.DID,
			CapabilityID: id,
			Description:  c.Description,
			Tags:         c.Tags,
			OutputSchema: c.OutputSchema,
		}); err != nil {
			return 0, apierr.Internal("failed to persist capability", err.Error())
		}
	}

	return len(req.Capabilities), nil
}

// Lineage returns the card_lineage chain for did, newest first.
func (s *Service) Lineage(ctx context.Context, did string) ([]string, error) {
	chain, err := s.Store.CardLineageChain(ctx, did, 16)
	if err != nil {
		return nil, apierr.Internal("failed to walk lineage", err.Error())
	}
	return chain, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
