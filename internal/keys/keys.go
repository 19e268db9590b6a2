// Package keys implements the active/rotating signing key set (C2): JWKS
// publication and the decrypted-key cache consumed by the AC token endpoints.
package keys

import (
	"crypto/ed25519"
	"time"

	"github.com/darktower/control-plane/internal/crypto"
)

// Status values for a SigningKey row. Exactly one row is "active" at any
// transactionally consistent snapshot; at most one is "rotating".
const (
	StatusActive   = "active"
	StatusRotating = "rotating"
	StatusRetired  = "retired"
)

// SigningKey is the persisted representation of an Ed25519 signing key, per
// spec's data model: public key in the clear, private key sealed in an
// AES-256-GCM envelope under the process-wide master key.
type SigningKey struct {
	KeyID     string
	PublicKey ed25519.PublicKey
	Envelope  crypto.Envelope
	Status    string
	CreatedAt time.Time
	RotatedAt *time.Time
	RetiredAt *time.Time
}

// JWK is one entry of the `/.well-known/jwks.json` response body.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
}

// JWKSDocument is the full `/.well-known/jwks.json` response body.
type JWKSDocument struct {
	Keys []JWK `json:"keys"`
}
