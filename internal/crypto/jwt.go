package crypto

import (
	"crypto/ed25519"
	"fmt"
	"time"

	josejwt "github.com/go-jose/go-jose/v4/jwt"

	jose "github.com/go-jose/go-jose/v4"
)

// MaxTokenBytes bounds the size of a compact JWS accepted for verification,
// per spec §4.1 ("reject tokens > 8 KiB").
const MaxTokenBytes = 8 * 1024

// Claims are the token claims issued and verified by Dark Tower's AC. The
// ServiceType field is a pointer so that omitting it for user tokens drops
// the key from the serialized JSON entirely (spec §3: "must drop, not emit
// null").
type Claims struct {
	Issuer      string   `json:"iss"`
	Audience    string   `json:"aud"`
	Subject     string   `json:"sub"`
	Scopes      []string `json:"scopes"`
	ServiceType *string  `json:"service_type,omitempty"`
	IssuedAt    int64    `json:"iat"`
	Expiry      int64    `json:"exp"`
}

// Policy bounds the verification of a Claims set.
type Policy struct {
	Issuer      string
	Audience    string
	ClockSkew   time.Duration
	MaxLifetime time.Duration
}

// SignJWT signs claims with an EdDSA (Ed25519) key identified by kid,
// producing a compact JWS. The caller is responsible for ensuring
// claims.Expiry - claims.IssuedAt <= the configured policy max lifetime
// before calling this function.
func SignJWT(claims Claims, priv ed25519.PrivateKey, kid string) (string, error) {
	if kid == "" {
		return "", newErr(KindBadKid, fmt.Errorf("kid must not be empty"))
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.EdDSA, Key: priv},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", kid),
	)
	if err != nil {
		return "", fmt.Errorf("creating signer: %w", err)
	}

	token, err := josejwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}

// KeyResolver looks up the public key for a given kid, e.g. from a JWKS
// cache. It reports false when kid is unknown; VerifyJWT turns that into a
// KindKeyNotFound error.
type KeyResolver interface {
	PublicKey(kid string) (ed25519.PublicKey, bool)
}

// VerifyJWT validates a compact JWS against policy and resolver, enforcing
// EdDSA-only, a present kid, size bound, issuer/audience match, iat/exp skew
// tolerance, and the max-lifetime invariant.
func VerifyJWT(token string, resolver KeyResolver, policy Policy) (Claims, error) {
	if len(token) > MaxTokenBytes {
		return Claims{}, newErr(KindTokenTooLarge, fmt.Errorf("token is %d bytes, max %d", len(token), MaxTokenBytes))
	}

	parsed, err := josejwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.EdDSA})
	if err != nil {
		return Claims{}, newErr(KindBadAlgorithm, err)
	}

	if len(parsed.Headers) == 0 {
		return Claims{}, newErr(KindBadKid, fmt.Errorf("token has no headers"))
	}
	kid := parsed.Headers[0].KeyID
	if kid == "" {
		return Claims{}, newErr(KindBadKid, fmt.Errorf("token missing kid header"))
	}

	pub, ok := resolver.PublicKey(kid)
	if !ok {
		return Claims{}, newErr(KindKeyNotFound, fmt.Errorf("no key for kid %q", kid))
	}

	var claims Claims
	if err := parsed.Claims(pub, &claims); err != nil {
		return Claims{}, newErr(KindAEADReject, err)
	}

	now := time.Now()
	skew := policy.ClockSkew
	if skew <= 0 {
		skew = 60 * time.Second
	}

	iat := time.Unix(claims.IssuedAt, 0)
	exp := time.Unix(claims.Expiry, 0)

	if iat.After(now.Add(skew)) {
		return Claims{}, newErr(KindNotYetValid, fmt.Errorf("iat %s is in the future", iat))
	}
	if exp.Before(now.Add(-skew)) {
		return Claims{}, newErr(KindExpired, fmt.Errorf("token expired at %s", exp))
	}
	if policy.MaxLifetime > 0 && exp.Sub(iat) > policy.MaxLifetime {
		return Claims{}, newErr(KindLifetimeExceeded, fmt.Errorf("exp-iat %s exceeds max lifetime %s", exp.Sub(iat), policy.MaxLifetime))
	}
	if policy.Issuer != "" && claims.Issuer != policy.Issuer {
		return Claims{}, newErr(KindIssuerMismatch, fmt.Errorf("iss %q != %q", claims.Issuer, policy.Issuer))
	}
	if policy.Audience != "" && claims.Audience != policy.Audience {
		return Claims{}, newErr(KindAudienceMismatch, fmt.Errorf("aud %q != %q", claims.Audience, policy.Audience))
	}

	return claims, nil
}
