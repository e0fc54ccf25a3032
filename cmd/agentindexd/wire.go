package main

import (
	"context"

	"github.com/agentindex/agentindexd/internal/discovery"
	"github.com/agentindex/agentindexd/internal/health"
	"github.com/agentindex/agentindexd/internal/models"
	"github.com/agentindex/agentindexd/internal/registry"
	"github.com/agentindex/agentindexd/internal/store"
	"github.com/agentindex/agentindexd/internal/vectorindex"
)

// storeAdapter narrows *store.Store to the interfaces each pipeline
// package declares for itself (registry.Store, discovery.MetadataStore),
// translating between each package's own parameter types at the one
// place the concrete store and the pipelines actually meet.
type storeAdapter struct{ s *store.Store }

func (a storeAdapter) UpsertAgent(ctx context.Context, p registry.StoreUpsertAgentParams) error {
	return a.s.UpsertAgent(ctx, store.UpsertAgentParams{
		DID: p.DID, Name: p.Name, Endpoint: p.Endpoint, PublicKey: p.PublicKey,
		WalletAddress: p.WalletAddress, CardVersion: p.CardVersion, CardLineage: p.CardLineage,
		CardSignature: p.CardSignature, CardRaw: p.CardRaw,
	})
}

func (a storeAdapter) DeleteCapabilities(ctx context.Context, did string) error {
	return a.s.DeleteCapabilities(ctx, did)
}

func (a storeAdapter) InsertCapability(ctx context.Context, c models.Capability) error {
	return a.s.InsertCapability(ctx, c)
}

func (a storeAdapter) CardLineageChain(ctx context.Context, did string, maxDepth int) ([]string, error) {
	return a.s.CardLineageChain(ctx, did, maxDepth)
}

func (a storeAdapter) SearchCapabilitiesByKeyword(ctx context.Context, pattern string) ([]models.Capability, error) {
	return a.s.SearchCapabilitiesByKeyword(ctx, pattern)
}

func (a storeAdapter) FindAgentsByDids(ctx context.Context, dids []string) (map[string]models.Agent, error) {
	return a.s.FindAgentsByDids(ctx, dids)
}

// vectorIndexAdapter narrows *vectorindex.Index to the interfaces
// registry.VectorIndex, discovery.VectorIndex, and health.Pinger
// declare for themselves.
type vectorIndexAdapter struct{ idx *vectorindex.Index }

func (a vectorIndexAdapter) UpsertPoint(ctx context.Context, p registry.VectorPoint) error {
	return a.idx.UpsertPoint(ctx, vectorindex.Point{
		AgentDID: p.AgentDID, CapabilityID: p.CapabilityID, Description: p.Description, Tags: p.Tags, Vector: p.Vector,
	})
}

func (a vectorIndexAdapter) DeleteByAgent(ctx context.Context, did string) error {
	return a.idx.DeleteByAgent(ctx, did)
}

func (a vectorIndexAdapter) Search(ctx context.Context, vector []float32, limit int) ([]discovery.VectorHit, error) {
	hits, err := a.idx.Search(ctx, vector, limit)
	if err != nil {
		return nil, err
	}
	out := make([]discovery.VectorHit, len(hits))
	for i, h := range hits {
		out[i] = discovery.VectorHit{
			Score: h.Score, AgentDID: h.AgentDID, CapabilityID: h.CapabilityID, Description: h.Description, Tags: h.Tags,
		}
	}
	return out, nil
}

func (a vectorIndexAdapter) Ping(ctx context.Context) error {
	return a.idx.Ping(ctx)
}

// reindexVectorIndexAdapter narrows *vectorindex.Index to health.VectorIndex's
// reindex-only upsert shape.
type reindexVectorIndexAdapter struct{ idx *vectorindex.Index }

func (a reindexVectorIndexAdapter) UpsertPoint(ctx context.Context, p health.ReindexPoint) error {
	return a.idx.UpsertPoint(ctx, vectorindex.Point{
		AgentDID: p.AgentDID, CapabilityID: p.CapabilityID, Description: p.Description, Tags: p.Tags, Vector: p.Vector,
	})
}
