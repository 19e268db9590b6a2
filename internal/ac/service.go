// Package ac implements the AC Service (C3): client registration, token
// issuance, JWKS publication, and admin operations.
package ac

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/darktower/control-plane/internal/audit"
	"github.com/darktower/control-plane/internal/config"
	dtcrypto "github.com/darktower/control-plane/internal/crypto"
	"github.com/darktower/control-plane/internal/httpserver"
	"github.com/darktower/control-plane/internal/keys"
	"github.com/darktower/control-plane/internal/telemetry"
)

// Limiter is the subset of RateLimiter's behavior Service depends on,
// broken out so tests can inject a fake instead of a live Redis client.
type Limiter interface {
	Check(ctx context.Context, key string) (*RateLimitResult, error)
	Record(ctx context.Context, key string) error
}

// Service holds the AC's dependencies and implements its HTTP handlers.
type Service struct {
	cfg     *config.ACConfig
	clients ClientStore
	keys    *keys.Manager
	audit   *audit.Writer
	limiter Limiter
	logger  *slog.Logger
}

// NewService constructs an AC Service.
func NewService(cfg *config.ACConfig, clients ClientStore, km *keys.Manager, w *audit.Writer, limiter Limiter, logger *slog.Logger) *Service {
	return &Service{cfg: cfg, clients: clients, keys: km, audit: w, limiter: limiter, logger: logger}
}

// Mount registers AC's routes on r.
func (s *Service) Mount(r chi.Router) {
	r.Post("/oauth/token", s.handleToken)
	r.Get("/.well-known/jwks.json", s.handleJWKS)

	r.Route("/admin/clients", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Post("/", s.handleRegisterClient)
		r.Post("/{id}/rotate", s.handleRotateClientSecret)
		r.Post("/{id}/disable", s.handleDisableClient)
		r.Delete("/{id}", s.handleDeleteClient)
	})

	r.Route("/internal/tokens", func(r chi.Router) {
		r.Use(s.requireBearerToken)
		r.Post("/meeting", s.handleIssueMeetingToken)
		r.Post("/guest", s.handleIssueGuestToken)
	})
}

func (s *Service) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
			httpserver.RespondError(w, http.StatusUnauthorized, "invalid_client", "admin authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireBearerToken validates a caller-presented JWT against the key
// manager's JWKS cache, for the internal service-to-service token mint
// endpoints. This is the same verification path downstream services use.
func (s *Service) requireBearerToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			httpserver.RespondError(w, http.StatusUnauthorized, "invalid_token", "bearer token required")
			return
		}

		policy := dtcrypto.Policy{
			Issuer:      s.cfg.Issuer,
			Audience:    s.cfg.Issuer,
			ClockSkew:   time.Duration(s.cfg.ClockSkewSecs) * time.Second,
			MaxLifetime: time.Duration(s.cfg.TokenMaxLifetimeSecs) * time.Second,
		}
		claims, err := dtcrypto.VerifyJWT(token, s.keys, policy)
		if err != nil {
			telemetry.AuthFailuresTotal.WithLabelValues("invalid_token").Inc()
			httpserver.RespondError(w, http.StatusUnauthorized, "invalid_token", "token is invalid or expired")
			return
		}

		ctx := context.WithValue(r.Context(), callerClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type contextKey string

const callerClaimsKey contextKey = "ac_caller_claims"

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		return ""
	}
	return h[len(prefix):]
}
