package svcauth

import (
	"context"
	"net/http"
	"time"

	dtcrypto "github.com/darktower/control-plane/internal/crypto"
	"github.com/darktower/control-plane/internal/httpserver"
)

type contextKey string

const claimsKey contextKey = "svcauth_claims"

// ClaimsFromContext returns the verified caller claims stashed by
// RequireBearerToken, if any.
func ClaimsFromContext(ctx context.Context) (dtcrypto.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(dtcrypto.Claims)
	return c, ok
}

// RequireBearerToken builds middleware that verifies an AC-issued service
// bearer token against resolver and requires it carry requiredScope. A
// missing scope yields 403 PermissionDenied, per spec §4.5.
func RequireBearerToken(resolver dtcrypto.KeyResolver, policy dtcrypto.Policy, requiredScope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				httpserver.RespondError(w, http.StatusUnauthorized, "invalid_token", "bearer token required")
				return
			}

			claims, err := dtcrypto.VerifyJWT(token, resolver, policy)
			if err != nil {
				httpserver.RespondError(w, http.StatusUnauthorized, "invalid_token", "token is invalid or expired")
				return
			}

			if requiredScope != "" && !hasScope(claims.Scopes, requiredScope) {
				httpserver.RespondError(w, http.StatusForbidden, "permission_denied", "token lacks required scope")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		return ""
	}
	return h[len(prefix):]
}

// DefaultPolicy builds a verification policy shared by GC and MC for
// tokens issued by AC.
func DefaultPolicy(issuer string, clockSkew, maxLifetime time.Duration) dtcrypto.Policy {
	return dtcrypto.Policy{
		Issuer:      issuer,
		Audience:    issuer,
		ClockSkew:   clockSkew,
		MaxLifetime: maxLifetime,
	}
}
