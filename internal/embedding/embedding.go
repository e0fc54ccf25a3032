// Package embedding implements the text-to-vector abstraction: a
// deterministic fallback path always available, and an optional
// model-backed primary path. The choice of path is a process-wide
// decision latched at first use — once the model fails, the process
// falls back permanently; an operator must restart to retry.
package embedding

import (
	"context"
	"crypto/sha256"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Dim is the fixed output dimension, D=384.
const Dim = 384

var caser = cases.Lower(language.Und)

// modelClient is the subset of the OpenAI embeddings API the primary path
// needs. Satisfied by *openai.Client; mocked in tests.
type modelClient interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Embedder embeds preprocessed text into a unit vector of length Dim.
// Safe for concurrent use. model is immutable after construction; the
// latch is a separate atomic flag so the happy-path read never races with
// the one-time transition to fallback-only.
type Embedder struct {
	model     modelClient
	modelName string
	latchOnce sync.Once

	fallbackOnly atomic.Bool // true once latched to the hash-only path

	cache *lru.Cache[string, []float32]
}

// New returns an Embedder. model may be nil, in which case the embedder
// never attempts the primary path and latches to fallback immediately.
// cacheSize <= 0 disables memoization.
func New(model modelClient, modelName string, cacheSize int) *Embedder {
	e := &Embedder{model: model, modelName: modelName}
	if cacheSize > 0 {
		c, err := lru.New[string, []float32](cacheSize)
		if err == nil {
			e.cache = c
		}
	}
	if model == nil {
		e.fallbackOnly.Store(true)
	}
	return e
}

// ModelActive reports whether the model-backed primary path is still
// live (true) or has latched to the deterministic fallback (false).
func (e *Embedder) ModelActive() bool {
	return !e.fallbackOnly.Load()
}

// Embed returns the Dim-length unit vector for text. Empty (after
// preprocessing) input returns the zero vector, not an error.
func (e *Embedder) Embed(ctx context.Context, text string) []float32 {
	prepped := preprocess(text)
	if prepped == "" {
		return make([]float32, Dim)
	}

	if e.cache != nil {
		if v, ok := e.cache.Get(prepped); ok {
			return v
		}
	}

	vec := e.embedLatched(ctx, prepped)

	if e.cache != nil {
		e.cache.Add(prepped, vec)
	}
	return vec
}

func preprocess(text string) string {
	return strings.TrimSpace(caser.String(text))
}

// embedLatched tries the model path while it is still considered live; on
// any failure it latches to the fallback path permanently — the decision
// is not reconsidered on a later call.
func (e *Embedder) embedLatched(ctx context.Context, prepped string) []float32 {
	if e.fallbackOnly.Load() {
		return fallbackEmbed(prepped)
	}
	if vec, ok := e.tryModel(ctx, prepped); ok {
		return vec
	}
	return fallbackEmbed(prepped)
}

func (e *Embedder) tryModel(ctx context.Context, prepped string) ([]float32, bool) {
	resp, err := e.model.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{prepped},
		Model: openai.EmbeddingModel(e.modelName),
	})
	if err != nil || len(resp.Data) == 0 {
		e.latchOnce.Do(func() {
			e.fallbackOnly.Store(true)
		})
		return nil, false
	}
	return resizeAndNormalize(resp.Data[0].Embedding), true
}

// resizeAndNormalize truncates or zero-pads a model's native-dimension
// embedding to Dim, then re-normalizes to unit length.
func resizeAndNormalize(v []float32) []float32 {
	out := make([]float32, Dim)
	copy(out, v) // copies min(len(v), Dim) elements; rest stay zero
	return normalize(out)
}

// fallbackEmbed implements the deterministic SHA-256-based path: byte i of
// the hash (mod 32) maps to v[i] = (b/127.5) - 1, then the vector is
// L2-normalized.
func fallbackEmbed(prepped string) []float32 {
	sum := sha256.Sum256([]byte(prepped))
	v := make([]float32, Dim)
	for i := range v {
		b := sum[i%len(sum)]
		v[i] = float32(b)/127.5 - 1
	}
	return normalize(v)
}

// normalize divides v by its Euclidean norm, guarding against a zero norm
// by returning the zero vector unchanged.
func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
