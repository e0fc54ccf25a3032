// Package vectorindex implements the vector index adapter over Qdrant: a
// fixed "capabilities" collection (size 384, cosine distance), point
// upsert/search/delete-by-agent.
package vectorindex

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// CollectionName is the single fixed collection this service uses.
const CollectionName = "capabilities"

// VectorSize is the fixed embedding dimension, matching internal/embedding.Dim.
const VectorSize = 384

// Point is one capability's upsert payload.
type Point struct {
	AgentDID     string
	CapabilityID string
	Description  string
	Tags         []string
	Vector       []float32
}

// Hit is one search result, decoded back from a Qdrant scored point.
type Hit struct {
	Score        float64
	AgentDID     string
	CapabilityID string
	Description  string
	Tags         []string
}

// Index wraps a Qdrant client with the capability-index operations the
// registration and discovery pipelines need.
type Index struct {
	client *qdrant.Client
}

// New wraps an already-connected Qdrant client.
func New(client *qdrant.Client) *Index {
	return &Index{client: client}
}

// Ping satisfies the health probe contract.
func (idx *Index) Ping(ctx context.Context) error {
	_, err := idx.client.HealthCheck(ctx)
	return err
}

// EnsureCollection creates the capabilities collection if absent.
// Idempotent: an existing collection is left as it is, whatever its
// vector size and distance; it is not reconfigured.
func (idx *Index) EnsureCollection(ctx context.Context) error {
	_, err := idx.client.GetCollectionInfo(ctx, CollectionName)
	if err == nil {
		return nil
	}
	return idx.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: CollectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

// UpsertPoint inserts or replaces one point under a freshly generated
// random point id: points are never reused across re-registrations.
func (idx *Index) UpsertPoint(ctx context.Context, p Point) error {
	wait := true
	_, err := idx.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: CollectionName,
		Wait:           &wait,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewID(uuid.NewString()),
				Vectors: qdrant.NewVectors(p.Vector...),
				Payload: qdrant.NewValueMap(map[string]any{
					"agentDid":     p.AgentDID,
					"capabilityId": p.CapabilityID,
					"description":  p.Description,
					"tags":         tagsToAny(p.Tags),
				}),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

// Search returns at most limit nearest neighbors to vector by cosine
// similarity. A vector-index failure is the caller's to catch locally:
// this method returns the error verbatim, leaving the fallback decision
// to the caller.
func (idx *Index) Search(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	lim := uint64(limit)
	withPayload := true
	resp, err := idx.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: CollectionName,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &lim,
		WithPayload:    qdrant.NewWithPayload(withPayload),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	hits := make([]Hit, 0, len(resp))
	for _, sp := range resp {
		hits = append(hits, Hit{
			Score:        float64(sp.GetScore()),
			AgentDID:     payloadString(sp.GetPayload(), "agentDid"),
			CapabilityID: payloadString(sp.GetPayload(), "capabilityId"),
			Description:  payloadString(sp.GetPayload(), "description"),
			Tags:         payloadTags(sp.GetPayload(), "tags"),
		})
	}
	return hits, nil
}

// DeleteByAgent deletes every point whose payload's agentDid matches did.
func (idx *Index) DeleteByAgent(ctx context.Context, did string) error {
	_, err := idx.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: CollectionName,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("agentDid", did),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}

func tagsToAny(tags []string) []any {
	out := make([]any, len(tags))
	for i, t := range tags {
		out[i] = t
	}
	return out
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	return v.GetStringValue()
}

func payloadTags(payload map[string]*qdrant.Value, key string) []string {
	v, ok := payload[key]
	if !ok || v == nil {
		return nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil
	}
	out := make([]string, 0, len(list.GetValues()))
	for _, item := range list.GetValues() {
		out = append(out, item.GetStringValue())
	}
	return out
}
