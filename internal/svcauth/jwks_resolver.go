// Package svcauth lets GC and MC authenticate callers bearing an
// AC-issued service token without sharing AC's in-process key manager:
// a remote JWKS resolver fetches and caches AC's public keys over HTTP,
// and a signing transport lets GC and MC make authenticated calls to each
// other's HTTP/JSON surfaces.
package svcauth

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/darktower/control-plane/internal/keys"
)

// defaultJWKSCacheTTL bounds how long a fetched key set is trusted before
// the next verification triggers a refetch.
const defaultJWKSCacheTTL = 5 * time.Minute

// JWKSResolver implements crypto.KeyResolver by fetching and caching AC's
// published JWKS document. It uses the same read-mostly cache-with-RWMutex
// shape as keys.Manager's verification cache, since both guard the same
// kind of rarely-changing, frequently-read key material.
type JWKSResolver struct {
	jwksURL string
	client  *http.Client
	ttl     time.Duration

	mu         sync.RWMutex
	keysByKid  map[string]ed25519.PublicKey
	fetchedAt  time.Time
	lastErr    error
}

// NewJWKSResolver builds a resolver that fetches acBaseURL + "/.well-known/jwks.json".
func NewJWKSResolver(acBaseURL string, httpClient *http.Client) *JWKSResolver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &JWKSResolver{
		jwksURL: acBaseURL + "/.well-known/jwks.json",
		client:  httpClient,
		ttl:     defaultJWKSCacheTTL,
	}
}

// PublicKey implements crypto.KeyResolver. It refreshes the cache when
// stale or when the kid is unknown in the current cache (to pick up a
// just-rotated key without waiting out the full TTL).
func (r *JWKSResolver) PublicKey(kid string) (ed25519.PublicKey, bool) {
	if pub, ok := r.cached(kid); ok {
		return pub, true
	}

	if err := r.refresh(context.Background()); err != nil {
		return nil, false
	}

	return r.cached(kid)
}

func (r *JWKSResolver) cached(kid string) (ed25519.PublicKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if time.Since(r.fetchedAt) > r.ttl {
		return nil, false
	}
	pub, ok := r.keysByKid[kid]
	return pub, ok
}

func (r *JWKSResolver) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.jwksURL, nil)
	if err != nil {
		return fmt.Errorf("building jwks request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.recordErr(err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("jwks fetch returned status %d", resp.StatusCode)
		r.recordErr(err)
		return err
	}

	var doc keys.JWKSDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		r.recordErr(err)
		return fmt.Errorf("decoding jwks document: %w", err)
	}

	parsed := make(map[string]ed25519.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "OKP" || k.Crv != "Ed25519" {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			continue
		}
		parsed[k.Kid] = ed25519.PublicKey(raw)
	}

	r.mu.Lock()
	r.keysByKid = parsed
	r.fetchedAt = time.Now()
	r.lastErr = nil
	r.mu.Unlock()
	return nil
}

func (r *JWKSResolver) recordErr(err error) {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
}
