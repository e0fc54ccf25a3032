// Package health implements the liveness probe and the protected reindex
// endpoint.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/agentindex/agentindexd/internal/apierr"
	"github.com/agentindex/agentindexd/internal/httpjson"
	"github.com/agentindex/agentindexd/internal/models"
)

// Pinger is satisfied by both the metadata store and the vector index
// adapter's own health check, whatever shape each takes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Embedder is the subset of internal/embedding.Embedder reindex needs.
type Embedder interface {
	Embed(ctx context.Context, text string) []float32
}

// VectorIndex is the subset of internal/vectorindex.Index reindex needs.
type VectorIndex interface {
	UpsertPoint(ctx context.Context, p ReindexPoint) error
}

// ReindexPoint mirrors vectorindex.Point.
type ReindexPoint struct {
	AgentDID     string
	CapabilityID string
	Description  string
	Tags         []string
	Vector       []float32
}

// CapabilityIterator is the subset of internal/store.Store reindex needs.
type CapabilityIterator interface {
	IterateAllCapabilities(ctx context.Context, fn func(models.Capability) error) error
}

// Handler serves GET /health: pings both stores concurrently and reports
// the first error.
func Handler(store, vectorIndex Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var wg sync.WaitGroup
		errs := make(chan error, 2)

		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := store.Ping(r.Context()); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			if err := vectorIndex.Ping(r.Context()); err != nil {
				errs <- err
			}
		}()
		wg.Wait()
		close(errs)

		if err, ok := <-errs; ok {
			httpjson.WriteError(w, apierr.Unhealthy(err.Error()))
			return
		}
		httpjson.Write(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// ReindexHandler serves POST /admin/reindex: re-embeds every capability
// in the relational store and upserts it into the vector index. Not
// transactional; a failure mid-way leaves the index partially updated
// and is corrected by re-running.
func ReindexHandler(store CapabilityIterator, embedder Embedder, index VectorIndex, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := 0
		err := store.IterateAllCapabilities(r.Context(), func(c models.Capability) error {
			input := models.EmbeddingInput(c.CapabilityID, c.Description, c.OutputSchema, c.Tags)
			vec := embedder.Embed(r.Context(), input)
			if err := index.UpsertPoint(r.Context(), ReindexPoint{
				AgentDID:     c.AgentDID,
				CapabilityID: c.CapabilityID,
				Description:  c.Description,
				Tags:         c.Tags,
				Vector:       vec,
			}); err != nil {
				return err
			}
			n++
			if n%500 == 0 {
				logger.Info("reindex progress", "processed", n)
			}
			return nil
		})
		if err != nil {
			httpjson.WriteError(w, apierr.Internal("reindex failed partway through", err.Error()))
			return
		}
		httpjson.Write(w, http.StatusOK, map[string]any{"ok": true, "reindexed": n})
	}
}
