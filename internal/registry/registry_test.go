package registry

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentindex/agentindexd/internal/apierr"
	"github.com/agentindex/agentindexd/internal/card"
	"github.com/agentindex/agentindexd/internal/models"
	"github.com/mr-tron/base58"
)

type fakeStore struct {
	upserted    *StoreUpsertAgentParams
	deleted     []string
	inserted    []models.Capability
	upsertErr   error
	deleteErr   error
	insertErr   error
	lineage     []string
	lineageErr  error
}

func (f *fakeStore) UpsertAgent(ctx context.Context, p StoreUpsertAgentParams) error {
	f.upserted = &p
	return f.upsertErr
}

func (f *fakeStore) DeleteCapabilities(ctx context.Context, did string) error {
	f.deleted = append(f.deleted, did)
	return f.deleteErr
}

func (f *fakeStore) InsertCapability(ctx context.Context, c models.Capability) error {
	f.inserted = append(f.inserted, c)
	return f.insertErr
}

func (f *fakeStore) CardLineageChain(ctx context.Context, did string, maxDepth int) ([]string, error) {
	return f.lineage, f.lineageErr
}

type fakeVectorIndex struct {
	upserted  []VectorPoint
	deleted   []string
	upsertErr error
	deleteErr error
}

func (f *fakeVectorIndex) UpsertPoint(ctx context.Context, p VectorPoint) error {
	f.upserted = append(f.upserted, p)
	return f.upsertErr
}

func (f *fakeVectorIndex) DeleteByAgent(ctx context.Context, did string) error {
	f.deleted = append(f.deleted, did)
	return f.deleteErr
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) []float32 { return []float32{1, 0} }

func newTestService() (*Service, *fakeStore, *fakeVectorIndex) {
	st := &fakeStore{}
	vi := &fakeVectorIndex{}
	return &Service{Store: st, VectorIndex: vi, Embedder: fakeEmbedder{}}, st, vi
}

func TestRegister_NoCard_Succeeds(t *testing.T) {
	svc, st, vi := newTestService()
	body := []byte(`{
		"did": "did:x:a",
		"endpoint": "http://h/",
		"capabilities": [{"capability_id": "echo", "description": "echoes input"}]
	}`)

	n, err := svc.Register(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "http://h", st.upserted.Endpoint)
	assert.Equal(t, []string{"did:x:a"}, st.deleted)
	assert.Equal(t, []string{"did:x:a"}, vi.deleted)
	require.Len(t, st.inserted, 1)
	assert.Equal(t, "echo", st.inserted[0].CapabilityID)
}

func TestRegister_NoCard_MissingEndpoint_Rejected(t *testing.T) {
	svc, _, _ := newTestService()
	body := []byte(`{"did": "did:x:a", "capabilities": [{"description": "x"}]}`)
	_, err := svc.Register(context.Background(), body)
	require.Error(t, err)
	assert.Equal(t, 400, err.(*apierr.Error).Status)
}

func TestRegister_CapabilityWithoutID_GetsGeneratedUUID(t *testing.T) {
	svc, st, _ := newTestService()
	body := []byte(`{"did": "did:x:a", "endpoint": "http://h", "capabilities": [{"description": "x"}]}`)
	n, err := svc.Register(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotEmpty(t, st.inserted[0].CapabilityID)
}

func signedCard(t *testing.T, pub ed25519.PublicKey, priv ed25519.PrivateKey, did, endpoint string) (*card.Card, string) {
	t.Helper()
	c := card.Card{
		DID:       did,
		Endpoint:  endpoint,
		PublicKey: base58.Encode(pub),
		Version:   1,
		Capabilities: []card.Capability{
			{ID: "echo", Description: "echoes input"},
		},
	}
	sig := card.Sign(c, priv)
	return &c, sig
}

func registerBodyWithCard(t *testing.T, c *card.Card, sig string) []byte {
	t.Helper()
	body := map[string]any{
		"did":            c.DID,
		"endpoint":       c.Endpoint,
		"card":           c,
		"card_signature": sig,
		"capabilities":   []map[string]any{{"capability_id": "echo", "description": "echoes input"}},
	}
	b, err := json.Marshal(body)
	require.NoError(t, err)
	return b
}

func TestRegister_ValidCard_Succeeds(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	c, sig := signedCard(t, pub, priv, "did:x:a", "http://h")

	svc, st, _ := newTestService()
	n, err := svc.Register(context.Background(), registerBodyWithCard(t, c, sig))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, c.PublicKey, st.upserted.PublicKey)
}

func TestRegister_CardDIDMismatch_Rejected(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	c, sig := signedCard(t, pub, priv, "did:x:other", "http://h")

	svc, _, _ := newTestService()
	body := map[string]any{
		"did":            "did:x:a",
		"endpoint":       "http://h",
		"card":           c,
		"card_signature": sig,
		"capabilities":   []map[string]any{{"capability_id": "echo", "description": "d"}},
	}
	b, _ := json.Marshal(body)

	_, err = svc.Register(context.Background(), b)
	require.Error(t, err)
	assert.Equal(t, 400, err.(*apierr.Error).Status)
}

func TestRegister_TamperedSignature_Rejected(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	c, sig := signedCard(t, pub, priv, "did:x:a", "http://h")
	c.Capabilities[0].Description = "tampered after signing"

	svc, _, _ := newTestService()
	_, err = svc.Register(context.Background(), registerBodyWithCard(t, c, sig))
	require.Error(t, err)
	assert.Equal(t, 401, err.(*apierr.Error).Status)
}

func TestRegister_CapabilityNotInCard_Rejected(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	c, sig := signedCard(t, pub, priv, "did:x:a", "http://h")

	svc, _, _ := newTestService()
	body := map[string]any{
		"did":            c.DID,
		"endpoint":       c.Endpoint,
		"card":           c,
		"card_signature": sig,
		"capabilities":   []map[string]any{{"capability_id": "not-in-card", "description": "d"}},
	}
	b, _ := json.Marshal(body)

	_, err = svc.Register(context.Background(), b)
	require.Error(t, err)
	assert.Equal(t, 400, err.(*apierr.Error).Status)
}

func TestRegister_CardAndSignatureBothOrNeither(t *testing.T) {
	svc, _, _ := newTestService()
	body := []byte(`{
		"did": "did:x:a",
		"endpoint": "http://h",
		"card_signature": "abc",
		"capabilities": [{"description": "d"}]
	}`)
	_, err := svc.Register(context.Background(), body)
	require.Error(t, err)
	assert.Equal(t, 400, err.(*apierr.Error).Status)
}

func TestRegister_UpsertFailure_SurfacesInternal(t *testing.T) {
	svc, st, _ := newTestService()
	st.upsertErr = assertError("boom")
	body := []byte(`{"did": "did:x:a", "endpoint": "http://h", "capabilities": [{"description": "d"}]}`)
	_, err := svc.Register(context.Background(), body)
	require.Error(t, err)
	assert.Equal(t, 500, err.(*apierr.Error).Status)
}

func TestLineage_ReturnsChain(t *testing.T) {
	svc, st, _ := newTestService()
	st.lineage = []string{"did:x:c", "did:x:b", "did:x:a"}
	chain, err := svc.Lineage(context.Background(), "did:x:c")
	require.NoError(t, err)
	assert.Equal(t, st.lineage, chain)
}

type assertError string

func (e assertError) Error() string { return string(e) }
