package svcauth

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/darktower/control-plane/internal/crypto"
)

func testMasterKey() []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = byte(i + 3)
	}
	return k
}

func encodeB64URL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// staticResolver implements crypto.KeyResolver over a fixed kid->key map.
type staticResolver map[string]ed25519.PublicKey

func (s staticResolver) PublicKey(kid string) (ed25519.PublicKey, bool) {
	pub, ok := s[kid]
	return pub, ok
}

func TestJWKSResolverFetchesAndCachesKeys(t *testing.T) {
	kp, err := crypto.GenerateSigningKeypair(testMasterKey())
	if err != nil {
		t.Fatalf("generating keypair: %v", err)
	}

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "OKP",
				"crv": "Ed25519",
				"x":   encodeB64URL(kp.PublicKey),
				"kid": "test-kid",
				"alg": "EdDSA",
				"use": "sig",
			}},
		})
	}))
	defer srv.Close()

	resolver := NewJWKSResolver(srv.URL, nil)

	pub, ok := resolver.PublicKey("test-kid")
	if !ok {
		t.Fatal("expected key to resolve")
	}
	if len(pub) != 32 {
		t.Fatalf("expected 32-byte public key, got %d", len(pub))
	}

	// Second lookup for the same kid should be served from cache.
	if _, ok := resolver.PublicKey("test-kid"); !ok {
		t.Fatal("expected cached lookup to succeed")
	}
	if hits != 1 {
		t.Fatalf("expected exactly one HTTP fetch, got %d", hits)
	}
}

func TestJWKSResolverReturnsFalseForUnknownKid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"keys":[]}`))
	}))
	defer srv.Close()

	resolver := NewJWKSResolver(srv.URL, nil)
	if _, ok := resolver.PublicKey("missing"); ok {
		t.Fatal("expected unknown kid to fail resolution")
	}
}

func TestRequireBearerTokenRejectsMissingScope(t *testing.T) {
	kp, err := crypto.GenerateSigningKeypair(testMasterKey())
	if err != nil {
		t.Fatalf("generating keypair: %v", err)
	}
	priv, err := crypto.DecryptSigningKey(kp.EncryptedPrivate, testMasterKey())
	if err != nil {
		t.Fatalf("decrypting signing key: %v", err)
	}
	resolver := staticResolver{"kid-1": kp.PublicKey}

	now := time.Now()
	claims := crypto.Claims{Issuer: "ac", Audience: "ac", Subject: "mc-1", Scopes: []string{"mc:register"}, IssuedAt: now.Unix(), Expiry: now.Add(time.Minute).Unix()}
	jws, err := crypto.SignJWT(claims, priv, "kid-1")
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}

	handler := RequireBearerToken(resolver, DefaultPolicy("ac", 60*time.Second, time.Hour), "placement:write")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+jws)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing scope, got %d", rec.Code)
	}
}

func TestRequireBearerTokenAllowsMatchingScope(t *testing.T) {
	kp, err := crypto.GenerateSigningKeypair(testMasterKey())
	if err != nil {
		t.Fatalf("generating keypair: %v", err)
	}
	priv, err := crypto.DecryptSigningKey(kp.EncryptedPrivate, testMasterKey())
	if err != nil {
		t.Fatalf("decrypting signing key: %v", err)
	}
	resolver := staticResolver{"kid-1": kp.PublicKey}

	now := time.Now()
	claims := crypto.Claims{Issuer: "ac", Audience: "ac", Subject: "mc-1", Scopes: []string{"mc:register"}, IssuedAt: now.Unix(), Expiry: now.Add(time.Minute).Unix()}
	jws, err := crypto.SignJWT(claims, priv, "kid-1")
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}

	var reached bool
	handler := RequireBearerToken(resolver, DefaultPolicy("ac", 60*time.Second, time.Hour), "mc:register")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+jws)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !reached || rec.Code != http.StatusOK {
		t.Fatalf("expected request to reach the handler, code=%d reached=%v", rec.Code, reached)
	}
}
