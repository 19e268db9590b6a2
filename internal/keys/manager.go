package keys

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/darktower/control-plane/internal/crypto"
	"github.com/darktower/control-plane/internal/telemetry"
)

// DefaultRotationGrace is how long an outgoing active key remains verifiable
// (as "retired") after PromoteRotating retires it, absent an explicit grace
// window from config.
const DefaultRotationGrace = 24 * time.Hour

// currentSigner is the key Manager currently signs new tokens with. It may
// be the active key, or — immediately after Rotate — the rotating key.
type currentSigner struct {
	kid  string
	priv ed25519.PrivateKey
}

// Manager owns the active/rotating signing key set: it caches decrypted
// private keys for signing and public keys for JWKS/verification behind a
// read-mostly lock, swapping the cache atomically on Initialize/Rotate/
// PromoteRotating.
type Manager struct {
	store     Store
	masterKey []byte

	mu      sync.RWMutex
	signer  currentSigner
	pubKeys map[string]ed25519.PublicKey // kid -> public key, for verification
}

// NewManager constructs a Manager bound to store, decrypting/encrypting
// private key material with masterKey (must be 32 bytes).
func NewManager(store Store, masterKey []byte) *Manager {
	return &Manager{
		store:     store,
		masterKey: masterKey,
		pubKeys:   make(map[string]ed25519.PublicKey),
	}
}

// Initialize loads the current active key, creating one if none exists, and
// populates the signing and verification caches.
func (m *Manager) Initialize(ctx context.Context) error {
	active, err := m.store.Active(ctx)
	if err != nil {
		if err != ErrNotFound {
			return fmt.Errorf("loading active signing key: %w", err)
		}

		kp, err := crypto.GenerateSigningKeypair(m.masterKey)
		if err != nil {
			return fmt.Errorf("generating initial signing key: %w", err)
		}
		active = SigningKey{
			KeyID:     newKeyID(),
			PublicKey: kp.PublicKey,
			Envelope:  kp.EncryptedPrivate,
			Status:    StatusActive,
			CreatedAt: timeNow(),
		}
		if err := m.store.Insert(ctx, active); err != nil {
			return fmt.Errorf("persisting initial signing key: %w", err)
		}
	}

	priv, err := crypto.DecryptSigningKey(active.Envelope, m.masterKey)
	if err != nil {
		return fmt.Errorf("decrypting active signing key %s: %w", active.KeyID, err)
	}

	m.mu.Lock()
	m.signer = currentSigner{kid: active.KeyID, priv: priv}
	m.mu.Unlock()

	return m.refreshVerificationCache(ctx, DefaultRotationGrace)
}

// Rotate generates a fresh keypair, persists it with status "rotating", and
// immediately starts signing new tokens with it. The outgoing active key
// keeps verifying until a later PromoteRotating call retires it.
func (m *Manager) Rotate(ctx context.Context) (string, error) {
	kp, err := crypto.GenerateSigningKeypair(m.masterKey)
	if err != nil {
		return "", fmt.Errorf("generating rotated signing key: %w", err)
	}

	next := SigningKey{
		KeyID:     newKeyID(),
		PublicKey: kp.PublicKey,
		Envelope:  kp.EncryptedPrivate,
		Status:    StatusRotating,
		CreatedAt: timeNow(),
	}
	if err := m.store.Insert(ctx, next); err != nil {
		return "", fmt.Errorf("persisting rotated signing key: %w", err)
	}

	priv, err := crypto.DecryptSigningKey(next.Envelope, m.masterKey)
	if err != nil {
		return "", fmt.Errorf("decrypting rotated signing key %s: %w", next.KeyID, err)
	}

	m.mu.Lock()
	m.signer = currentSigner{kid: next.KeyID, priv: priv}
	m.mu.Unlock()

	telemetry.KeyRotationsTotal.Inc()

	if err := m.refreshVerificationCache(ctx, DefaultRotationGrace); err != nil {
		return next.KeyID, err
	}
	return next.KeyID, nil
}

// PromoteRotating retires the current active key and promotes the rotating
// key to active, once one exists. It is a no-op returning nil if there is
// no rotating key. It runs only when a caller invokes it; no periodic sweep
// in this module calls it. The grace window before a retired key drops out
// of the verification cache is applied separately in
// refreshVerificationCache.
func (m *Manager) PromoteRotating(ctx context.Context) error {
	rotating, err := m.store.Rotating(ctx)
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		return fmt.Errorf("loading rotating signing key: %w", err)
	}

	active, err := m.store.Active(ctx)
	if err != nil && err != ErrNotFound {
		return fmt.Errorf("loading active signing key: %w", err)
	}

	now := timeNow()
	if err := m.store.PromoteRotating(ctx, active.KeyID, rotating.KeyID, now); err != nil {
		return fmt.Errorf("promoting rotating key %s: %w", rotating.KeyID, err)
	}

	return m.refreshVerificationCache(ctx, DefaultRotationGrace)
}

// refreshVerificationCache reloads every key whose signature a verifier must
// still accept: active, rotating, and retired keys within grace of their
// retired_at.
func (m *Manager) refreshVerificationCache(ctx context.Context, grace time.Duration) error {
	keys, err := m.store.Verifiable(ctx, timeNow().Add(-grace))
	if err != nil {
		return fmt.Errorf("loading verifiable signing keys: %w", err)
	}

	next := make(map[string]ed25519.PublicKey, len(keys))
	for _, k := range keys {
		next[k.KeyID] = k.PublicKey
	}

	m.mu.Lock()
	m.pubKeys = next
	m.mu.Unlock()
	return nil
}

// CurrentSigningKey returns the kid and private key Manager currently uses
// to sign new tokens.
func (m *Manager) CurrentSigningKey() (kid string, priv ed25519.PrivateKey) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.signer.kid, m.signer.priv
}

// PublicKey implements crypto.KeyResolver against the cached verification
// key set.
func (m *Manager) PublicKey(kid string) (ed25519.PublicKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pub, ok := m.pubKeys[kid]
	return pub, ok
}

// JWKS renders the current verification key set (active + rotating + grace
// window of retired) as a JWKSDocument.
func (m *Manager) JWKS() JWKSDocument {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc := JWKSDocument{Keys: make([]JWK, 0, len(m.pubKeys))}
	for kid, pub := range m.pubKeys {
		doc.Keys = append(doc.Keys, JWK{
			Kty: "OKP",
			Crv: "Ed25519",
			X:   base64.RawURLEncoding.EncodeToString(pub),
			Kid: kid,
			Alg: "EdDSA",
			Use: "sig",
		})
	}
	return doc
}

func newKeyID() string {
	b, err := crypto.RandomBytes(16)
	if err != nil {
		// CSPRNG failure is unrecoverable; a predictable fallback would
		// violate the no-non-CSPRNG-randomness invariant, so panic instead
		// of silently degrading.
		panic(fmt.Sprintf("keys: generating key id: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

var timeNow = time.Now
