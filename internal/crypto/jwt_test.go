package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"
)

type staticResolver struct {
	keys map[string]ed25519.PublicKey
}

func (r staticResolver) PublicKey(kid string) (ed25519.PublicKey, bool) {
	k, ok := r.keys[kid]
	return k, ok
}

func generateTestKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating test key: %v", err)
	}
	return pub, priv
}

func basicClaims(now time.Time) Claims {
	return Claims{
		Issuer:   "dark-tower-ac",
		Audience: "dark-tower-gc",
		Subject:  "client-123",
		Scopes:   []string{"meeting:read"},
		IssuedAt: now.Unix(),
		Expiry:   now.Add(5 * time.Minute).Unix(),
	}
}

func TestSignAndVerifyJWTRoundTrip(t *testing.T) {
	pub, priv := generateTestKey(t)
	resolver := staticResolver{keys: map[string]ed25519.PublicKey{"kid-1": pub}}

	now := time.Now()
	claims := basicClaims(now)

	token, err := SignJWT(claims, priv, "kid-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	policy := Policy{Issuer: "dark-tower-ac", Audience: "dark-tower-gc", ClockSkew: 60 * time.Second, MaxLifetime: time.Hour}
	got, err := VerifyJWT(token, resolver, policy)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.Subject != claims.Subject {
		t.Fatalf("subject mismatch: got %q want %q", got.Subject, claims.Subject)
	}
}

func TestSignJWTRejectsEmptyKid(t *testing.T) {
	_, priv := generateTestKey(t)
	if _, err := SignJWT(basicClaims(time.Now()), priv, ""); !IsKind(err, KindBadKid) {
		t.Fatalf("expected KindBadKid, got %v", err)
	}
}

func TestVerifyJWTRejectsOversizedToken(t *testing.T) {
	pub, _ := generateTestKey(t)
	resolver := staticResolver{keys: map[string]ed25519.PublicKey{"kid-1": pub}}

	huge := make([]byte, MaxTokenBytes+1)
	for i := range huge {
		huge[i] = 'a'
	}

	_, err := VerifyJWT(string(huge), resolver, Policy{})
	if !IsKind(err, KindTokenTooLarge) {
		t.Fatalf("expected KindTokenTooLarge, got %v", err)
	}
}

func TestVerifyJWTRejectsUnknownKid(t *testing.T) {
	pub, priv := generateTestKey(t)
	_ = pub
	resolver := staticResolver{keys: map[string]ed25519.PublicKey{}}

	token, err := SignJWT(basicClaims(time.Now()), priv, "kid-missing")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := VerifyJWT(token, resolver, Policy{}); !IsKind(err, KindKeyNotFound) {
		t.Fatalf("expected KindKeyNotFound, got %v", err)
	}
}

func TestVerifyJWTRejectsExpiredToken(t *testing.T) {
	pub, priv := generateTestKey(t)
	resolver := staticResolver{keys: map[string]ed25519.PublicKey{"kid-1": pub}}

	past := time.Now().Add(-time.Hour)
	claims := Claims{
		Issuer:   "dark-tower-ac",
		Audience: "dark-tower-gc",
		Subject:  "client-123",
		IssuedAt: past.Unix(),
		Expiry:   past.Add(time.Minute).Unix(),
	}

	token, err := SignJWT(claims, priv, "kid-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	policy := Policy{Issuer: "dark-tower-ac", Audience: "dark-tower-gc", ClockSkew: 10 * time.Second}
	if _, err := VerifyJWT(token, resolver, policy); !IsKind(err, KindExpired) {
		t.Fatalf("expected KindExpired, got %v", err)
	}
}

func TestVerifyJWTRejectsLifetimeExceeded(t *testing.T) {
	pub, priv := generateTestKey(t)
	resolver := staticResolver{keys: map[string]ed25519.PublicKey{"kid-1": pub}}

	now := time.Now()
	claims := Claims{
		Issuer:   "dark-tower-ac",
		Audience: "dark-tower-gc",
		Subject:  "client-123",
		IssuedAt: now.Unix(),
		Expiry:   now.Add(2 * time.Hour).Unix(),
	}

	token, err := SignJWT(claims, priv, "kid-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	policy := Policy{Issuer: "dark-tower-ac", Audience: "dark-tower-gc", ClockSkew: 10 * time.Second, MaxLifetime: time.Hour}
	if _, err := VerifyJWT(token, resolver, policy); !IsKind(err, KindLifetimeExceeded) {
		t.Fatalf("expected KindLifetimeExceeded, got %v", err)
	}
}

func TestVerifyJWTRejectsIssuerAndAudienceMismatch(t *testing.T) {
	pub, priv := generateTestKey(t)
	resolver := staticResolver{keys: map[string]ed25519.PublicKey{"kid-1": pub}}

	token, err := SignJWT(basicClaims(time.Now()), priv, "kid-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := VerifyJWT(token, resolver, Policy{Issuer: "someone-else", Audience: "dark-tower-gc"}); !IsKind(err, KindIssuerMismatch) {
		t.Fatalf("expected KindIssuerMismatch, got %v", err)
	}
	if _, err := VerifyJWT(token, resolver, Policy{Issuer: "dark-tower-ac", Audience: "someone-else"}); !IsKind(err, KindAudienceMismatch) {
		t.Fatalf("expected KindAudienceMismatch, got %v", err)
	}
}
