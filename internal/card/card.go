// Package card implements the canonical serialization and Ed25519
// signature verification of an agent card: a self-described, signed
// metadata object enumerating an agent's capabilities and endpoint.
//
// The canonical serialization pins field order explicitly rather than
// relying on map iteration, so the signing domain is bit-identical across
// implementations.
package card

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"

	"github.com/mr-tron/base58"
)

// Capability is one entry in Card.Capabilities. Field order on the wire is
// id, description, inputSchema, outputSchema, embeddingDim.
type Capability struct {
	ID           string          `json:"id"`
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"inputSchema"`
	OutputSchema json.RawMessage `json:"outputSchema"`
	EmbeddingDim *int            `json:"embeddingDim"`
}

// Card is the signed agent metadata object. Field order on the wire is
// did, endpoint, publicKey, version, lineage, capabilities, metadata.
type Card struct {
	DID          string          `json:"did"`
	Endpoint     string          `json:"endpoint"`
	PublicKey    string          `json:"publicKey"`
	Version      int             `json:"version"`
	Lineage      *string         `json:"lineage"`
	Capabilities []Capability    `json:"capabilities"`
	Metadata     json.RawMessage `json:"metadata"`
}

// Canonicalize renders card as the minimal JSON-compatible form used as
// the signing domain: fixed field order, absent optionals rendered as
// explicit null, no extra whitespace. The same function is used for
// signing and verification and must be bit-identical across
// implementations, so it is hand-rolled rather than delegated to
// encoding/json struct marshaling (whose null-vs-omitted behavior for
// *string depends on tag options we don't control field by field here).
func Canonicalize(c Card) []byte {
	var buf bytes.Buffer
	buf.WriteByte('{')

	writeField(&buf, "did", true, jsonString(c.DID))
	writeField(&buf, "endpoint", false, jsonString(c.Endpoint))
	writeField(&buf, "publicKey", false, jsonString(c.PublicKey))
	writeField(&buf, "version", false, jsonInt(c.Version))
	writeField(&buf, "lineage", false, nullableString(c.Lineage))
	writeField(&buf, "capabilities", false, canonicalCapabilities(c.Capabilities))
	writeField(&buf, "metadata", false, nullableRaw(c.Metadata))

	buf.WriteByte('}')
	return buf.Bytes()
}

func writeField(buf *bytes.Buffer, name string, first bool, value []byte) {
	if !first {
		buf.WriteByte(',')
	}
	buf.Write(jsonString(name))
	buf.WriteByte(':')
	buf.Write(value)
}

func canonicalCapabilities(caps []Capability) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, cp := range caps {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		writeField(&buf, "id", true, jsonString(cp.ID))
		writeField(&buf, "description", false, jsonString(cp.Description))
		writeField(&buf, "inputSchema", false, nullableRaw(cp.InputSchema))
		writeField(&buf, "outputSchema", false, nullableRaw(cp.OutputSchema))
		writeField(&buf, "embeddingDim", false, nullableInt(cp.EmbeddingDim))
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

func jsonString(s string) []byte {
	b, _ := json.Marshal(s)
	return b
}

func jsonInt(n int) []byte {
	b, _ := json.Marshal(n)
	return b
}

func nullableString(s *string) []byte {
	if s == nil {
		return []byte("null")
	}
	return jsonString(*s)
}

func nullableInt(n *int) []byte {
	if n == nil {
		return []byte("null")
	}
	return jsonInt(*n)
}

func nullableRaw(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return []byte("null")
	}
	return compact.Bytes()
}

// Verify base58-decodes card.PublicKey and signatureB58, then checks the
// detached Ed25519 signature over the UTF-8 canonical serialization of
// card. Any decode failure or length mismatch returns false; it never
// panics or returns an error.
func Verify(c Card, signatureB58 string) bool {
	pubBytes, err := base58.Decode(c.PublicKey)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return false
	}
	sigBytes, err := base58.Decode(signatureB58)
	if err != nil || len(sigBytes) != ed25519.SignatureSize {
		return false
	}
	message := Canonicalize(c)
	return ed25519.Verify(ed25519.PublicKey(pubBytes), message, sigBytes)
}

// Sign produces the base58 detached Ed25519 signature of card's canonical
// serialization. Not part of the service's external contract (agents sign
// their own cards before submitting them) but used by tests and by the
// agentindexd "cardsign" debug subcommand operators use to produce a test
// card.
func Sign(c Card, priv ed25519.PrivateKey) string {
	sig := ed25519.Sign(priv, Canonicalize(c))
	return base58.Encode(sig)
}

// NormalizeEndpoint canonicalizes an endpoint URL for equality comparison:
// null/empty stays empty, a single trailing slash is stripped, anything
// else passes through unchanged. Not a full URL canonicalizer.
func NormalizeEndpoint(url string) string {
	if url == "" {
		return ""
	}
	if len(url) > 0 && url[len(url)-1] == '/' {
		return url[:len(url)-1]
	}
	return url
}
