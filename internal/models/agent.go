// Package models holds the registry's two first-class rows, Agent and
// Capability.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Agent is the relational metadata row for a registered agent, keyed by
// DID. Every field except DID, Endpoint, and CreatedAt may be zero/nil
// for an agent that registered without a signed card.
type Agent struct {
	DID               string          `json:"did"`
	Name              string          `json:"name"`
	Endpoint          string          `json:"endpoint"`
	PublicKey         string          `json:"publicKey"` // base58 Ed25519 public key
	WalletAddress     string          `json:"walletAddress,omitempty"` // lowercased 0x-prefixed 40-hex, opaque to the core
	Reputation        float64         `json:"reputation"`
	AvailabilityScore float64         `json:"availabilityScore"`
	LastSeen          *time.Time      `json:"lastSeen,omitempty"`
	CardVersion       *int            `json:"cardVersion,omitempty"`
	CardLineage       string          `json:"cardLineage,omitempty"`
	CardSignature     string          `json:"cardSignature,omitempty"` // base58 detached Ed25519 signature
	CardRaw           json.RawMessage `json:"cardRaw,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// Capability is one capability a registered agent offers.
type Capability struct {
	ID           int64           `json:"id"`
	AgentDID     string          `json:"agentDid"`
	CapabilityID string          `json:"capabilityId"` // agent-namespaced, unique per agent
	Description  string          `json:"description"`
	Tags         []string        `json:"tags,omitempty"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
	PriceCents   int             `json:"priceCents"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// DefaultPriceCents is stored for a capability whose PriceCents is zero.
// Register requests carry no price, so every registered capability gets
// this value.
const DefaultPriceCents = 10

// EmbeddingInput builds the text embedded for a capability, shared by the
// registration pipeline and the reindex path so both produce the same
// vector for the same capability.
func EmbeddingInput(capabilityID, description string, outputSchema json.RawMessage, tags []string) string {
	var schema string
	if len(outputSchema) > 0 {
		schema = string(outputSchema)
	}
	return strings.TrimSpace(strings.Join([]string{
		capabilityID, description, schema, strings.Join(tags, " "),
	}, " "))
}
