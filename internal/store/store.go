// Package store implements the metadata store adapter: typed CRUD over
// agents and capabilities in a relational engine, keyed on a DID-based
// agent/capability schema, over a pgxpool.Pool-holding repository shape.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentindex/agentindexd/internal/models"
)

// Store wraps a Postgres connection pool with the operations the
// registration and discovery pipelines need.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store over an already-connected pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping satisfies the health probe contract.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies the idempotent schema migration: create tables if
// absent, add every listed column if not exists, create the wallet
// index (conditional on non-null) if not exists. Safe to run on an
// already-migrated database.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range migrateStatements() {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func migrateStatements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS agents (
			did TEXT PRIMARY KEY
		)`,
		`ALTER TABLE agents ADD COLUMN IF NOT EXISTS name TEXT`,
		`ALTER TABLE agents ADD COLUMN IF NOT EXISTS endpoint TEXT`,
		`ALTER TABLE agents ADD COLUMN IF NOT EXISTS public_key TEXT`,
		`ALTER TABLE agents ADD COLUMN IF NOT EXISTS wallet_address TEXT`,
		`ALTER TABLE agents ADD COLUMN IF NOT EXISTS reputation DOUBLE PRECISION NOT NULL DEFAULT 0`,
		`ALTER TABLE agents ADD COLUMN IF NOT EXISTS availability_score DOUBLE PRECISION NOT NULL DEFAULT 0`,
		`ALTER TABLE agents ADD COLUMN IF NOT EXISTS last_seen TIMESTAMPTZ`,
		`ALTER TABLE agents ADD COLUMN IF NOT EXISTS card_version INTEGER`,
		`ALTER TABLE agents ADD COLUMN IF NOT EXISTS card_lineage TEXT`,
		`ALTER TABLE agents ADD COLUMN IF NOT EXISTS card_signature TEXT`,
		`ALTER TABLE agents ADD COLUMN IF NOT EXISTS card_raw JSONB`,
		`ALTER TABLE agents ADD COLUMN IF NOT EXISTS created_at TIMESTAMPTZ NOT NULL DEFAULT now()`,
		`CREATE INDEX IF NOT EXISTS idx_agents_wallet_address ON agents (wallet_address) WHERE wallet_address IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS capabilities (
			id BIGSERIAL PRIMARY KEY,
			agent_did TEXT NOT NULL REFERENCES agents(did) ON DELETE CASCADE
		)`,
		`ALTER TABLE capabilities ADD COLUMN IF NOT EXISTS capability_id TEXT`,
		`ALTER TABLE capabilities ADD COLUMN IF NOT EXISTS description TEXT`,
		`ALTER TABLE capabilities ADD COLUMN IF NOT EXISTS tags TEXT[]`,
		`ALTER TABLE capabilities ADD COLUMN IF NOT EXISTS output_schema JSONB`,
		`ALTER TABLE capabilities ADD COLUMN IF NOT EXISTS price_cents INTEGER NOT NULL DEFAULT 10`,
		`ALTER TABLE capabilities ADD COLUMN IF NOT EXISTS created_at TIMESTAMPTZ NOT NULL DEFAULT now()`,
		`CREATE INDEX IF NOT EXISTS idx_capabilities_agent_did ON capabilities (agent_did)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_capabilities_agent_capability ON capabilities (agent_did, capability_id)`,
	}
}

// queryer is satisfied by both *pgxpool.Pool and pgx.Tx, so capability
// inserts can run either standalone or inside ReplaceCapabilities' own
// transaction.
type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// UpsertAgentParams is the insert-or-update payload for UpsertAgent.
// WalletAddress == "" means "no new value supplied"; the existing stored
// wallet (if any) is preserved, never overwritten with null.
// Every other field is overwritten unconditionally.
type UpsertAgentParams struct {
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

// UpsertAgent inserts or updates the agent row keyed on DID.
func (s *Store) UpsertAgent(ctx context.Context, p UpsertAgentParams) error {
	var cardRaw any
	if len(p.CardRaw) > 0 {
		cardRaw = p.CardRaw
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agents (
			did, name, endpoint, public_key, wallet_address,
			card_version, card_lineage, card_signature, card_raw, created_at
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), NULLIF($8, ''), $9, now())
		ON CONFLICT (did) DO UPDATE SET
			name = EXCLUDED.name,
			endpoint = EXCLUDED.endpoint,
			public_key = EXCLUDED.public_key,
			wallet_address = COALESCE(EXCLUDED.wallet_address, agents.wallet_address),
			card_version = EXCLUDED.card_version,
			card_lineage = EXCLUDED.card_lineage,
			card_signature = EXCLUDED.card_signature,
			card_raw = EXCLUDED.card_raw
	`, p.DID, p.Name, p.Endpoint, p.PublicKey, p.WalletAddress, p.CardVersion, p.CardLineage, p.CardSignature, cardRaw)
	return err
}

// ReplaceCapabilities deletes all capability rows for did, then inserts
// each of list, inside one transaction. It touches only the relational
// store, and no vector-index call can run between its delete and its
// inserts; the registration pipeline, which must interleave the
// vector-index calls, uses DeleteCapabilities and InsertCapability below
// instead.
func (s *Store) ReplaceCapabilities(ctx context.Context, did string, list []models.Capability) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM capabilities WHERE agent_did = $1`, did); err != nil {
		return err
	}
	for _, c := range list {
		if err := insertCapability(ctx, tx, c); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// DeleteCapabilities deletes all capability rows for did without
// inserting replacements. Exposed so the registration pipeline can
// perform the relational delete before calling the vector index's
// deleteByAgent, as part of the same atomic-replacement sequence.
func (s *Store) DeleteCapabilities(ctx context.Context, did string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM capabilities WHERE agent_did = $1`, did)
	return err
}

// InsertCapability inserts a single capability row. Used by the
// registration pipeline's per-capability loop, after the vector point
// for that capability has already been upserted.
func (s *Store) InsertCapability(ctx context.Context, c models.Capability) error {
	return insertCapability(ctx, s.pool, c)
}

func insertCapability(ctx context.Context, q queryer, c models.Capability) error {
	price := c.PriceCents
	if price == 0 {
		price = models.DefaultPriceCents
	}
	var outputSchema any
	if len(c.OutputSchema) > 0 {
		outputSchema = []byte(c.OutputSchema)
	}
	_, err := q.Exec(ctx, `
		INSERT INTO capabilities (agent_did, capability_id, description, tags, output_schema, price_cents, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`, c.AgentDID, c.CapabilityID, c.Description, c.Tags, outputSchema, price)
	return err
}

// FindAgentsByDids batch-fetches agent metadata for the discovery
// pipeline's join step. Missing DIDs are silently omitted from the
// result map.
func (s *Store) FindAgentsByDids(ctx context.Context, dids []string) (map[string]models.Agent, error) {
	out := make(map[string]models.Agent, len(dids))
	if len(dids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT did, name, endpoint, reputation, availability_score, last_seen
		FROM agents WHERE did = ANY($1)
	`, dids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var a models.Agent
		if err := rows.Scan(&a.DID, &a.Name, &a.Endpoint, &a.Reputation, &a.AvailabilityScore, &a.LastSeen); err != nil {
			return nil, err
		}
		out[a.DID] = a
	}
	return out, rows.Err()
}

// SearchCapabilitiesByKeyword performs a case-insensitive substring match
// against both capability_id and description. The result is unbounded
// by contract; callers cap the merged result.
func (s *Store) SearchCapabilitiesByKeyword(ctx context.Context, pattern string) ([]models.Capability, error) {
	like := "%" + pattern + "%"
	rows, err := s.pool.Query(ctx, `
		SELECT agent_did, capability_id, description, tags
		FROM capabilities
		WHERE capability_id ILIKE $1 OR description ILIKE $1
	`, like)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Capability
	for rows.Next() {
		var c models.Capability
		if err := rows.Scan(&c.AgentDID, &c.CapabilityID, &c.Description, &c.Tags); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateReputation sets an agent's reputation score, used by
// POST /v1/agent/reputation.
func (s *Store) UpdateReputation(ctx context.Context, did string, r float64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE agents SET reputation = $2 WHERE did = $1`, did, r)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// UpdateAvailability sets an agent's availability score and last-seen
// heartbeat timestamp, used by POST /v1/agent/availability. A zero
// lastSeen means "use the current wall-clock time."
func (s *Store) UpdateAvailability(ctx context.Context, did string, availability float64, lastSeen time.Time) error {
	if lastSeen.IsZero() {
		lastSeen = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents SET availability_score = $2, last_seen = $3 WHERE did = $1
	`, did, availability, lastSeen)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// GetCapabilityOutputSchema looks up a capability's output_schema by its
// agent-namespaced capability_id, used by GET /v1/capability/{id}/schema.
// Because capability_id is only unique per-agent, the first match is
// returned.
func (s *Store) GetCapabilityOutputSchema(ctx context.Context, capabilityID string) ([]byte, error) {
	var schema []byte
	err := s.pool.QueryRow(ctx, `
		SELECT output_schema FROM capabilities WHERE capability_id = $1 LIMIT 1
	`, capabilityID).Scan(&schema)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCapabilityNotFound
	}
	return schema, err
}

// IterateAllCapabilities streams every capability row to fn, used by the
// admin reindex endpoint. Iteration stops at the first error fn
// returns.
func (s *Store) IterateAllCapabilities(ctx context.Context, fn func(models.Capability) error) error {
	rows, err := s.pool.Query(ctx, `
		SELECT agent_did, capability_id, description, tags, output_schema, price_cents
		FROM capabilities ORDER BY agent_did, capability_id
	`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var c models.Capability
		if err := rows.Scan(&c.AgentDID, &c.CapabilityID, &c.Description, &c.Tags, &c.OutputSchema, &c.PriceCents); err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CardLineageChain walks card_lineage starting at did, newest first, up
// to maxDepth hops, guarding against cycles.
func (s *Store) CardLineageChain(ctx context.Context, did string, maxDepth int) ([]string, error) {
	chain := []string{did}
	visited := map[string]bool{did: true}
	current := did
	for i := 0; i < maxDepth; i++ {
		var lineage *string
		err := s.pool.QueryRow(ctx, `SELECT card_lineage FROM agents WHERE did = $1`, current).Scan(&lineage)
		if errors.Is(err, pgx.ErrNoRows) || lineage == nil || *lineage == "" {
			break
		}
		if err != nil {
			return nil, err
		}
		if visited[*lineage] {
			break // cycle guard
		}
		visited[*lineage] = true
		chain = append(chain, *lineage)
		current = *lineage
	}
	return chain, nil
}

// ErrAgentNotFound is returned by update operations targeting an unknown DID.
var ErrAgentNotFound = errors.New("agent not found")

// ErrCapabilityNotFound is returned by GetCapabilityOutputSchema when no
// capability matches.
var ErrCapabilityNotFound = errors.New("capability not found")
