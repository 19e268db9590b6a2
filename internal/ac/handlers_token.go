package ac

import (
	"net/http"
	"strings"
	"time"

	"github.com/darktower/control-plane/internal/crypto"
	"github.com/darktower/control-plane/internal/httpserver"
	"github.com/darktower/control-plane/internal/telemetry"
)

// tokenResponse is the body of a successful /oauth/token response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// handleToken implements POST /oauth/token: grant_type=client_credentials,
// form-encoded, per spec §6.1.
func (s *Service) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	grantType := r.PostForm.Get("grant_type")
	clientID := r.PostForm.Get("client_id")
	clientSecret := r.PostForm.Get("client_secret")
	scope := r.PostForm.Get("scope")

	if grantType != "client_credentials" || clientID == "" || clientSecret == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_request", "grant_type, client_id and client_secret are required")
		return
	}

	limitKey := "client:" + clientID
	if result, err := s.limiter.Check(r.Context(), limitKey); err != nil {
		s.logger.Error("checking rate limit", "error", err)
	} else if !result.Allowed {
		httpserver.RespondRetryAfter(w, result.RetryAfterSecs)
		return
	}

	client, err := s.clients.ByID(r.Context(), clientID)
	if err != nil {
		_ = s.limiter.Record(r.Context(), limitKey)
		telemetry.AuthFailuresTotal.WithLabelValues("invalid_client").Inc()
		s.auditFailure(r, clientID, "token_issue", "invalid_client")
		httpserver.RespondError(w, http.StatusUnauthorized, "invalid_client", "invalid client credentials")
		return
	}

	if client.DisabledAt != nil {
		_ = s.limiter.Record(r.Context(), limitKey)
		telemetry.AuthFailuresTotal.WithLabelValues("client_disabled").Inc()
		s.auditFailure(r, clientID, "token_issue", "client_disabled")
		httpserver.RespondError(w, http.StatusUnauthorized, "invalid_client", "invalid client credentials")
		return
	}

	if !crypto.VerifyClientSecret(clientSecret, client.ClientSecretHash) {
		_ = s.limiter.Record(r.Context(), limitKey)
		telemetry.AuthFailuresTotal.WithLabelValues("bad_secret").Inc()
		s.auditFailure(r, clientID, "token_issue", "bad_secret")
		httpserver.RespondError(w, http.StatusUnauthorized, "invalid_client", "invalid client credentials")
		return
	}

	grantedScopes := intersectScopes(client.Scopes, splitScope(scope))
	if scope != "" && len(grantedScopes) == 0 {
		telemetry.AuthFailuresTotal.WithLabelValues("insufficient_scope").Inc()
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_scope", "client is not authorized for the requested scope")
		return
	}

	jws, expiresIn, err := s.issueToken(clientID, grantedScopes, nil)
	if err != nil {
		s.logger.Error("signing client credentials token", "error", err, "client_id", clientID)
		httpserver.RespondError(w, http.StatusInternalServerError, "server_error", "An internal error occurred")
		return
	}

	telemetry.AuthTokensIssuedTotal.WithLabelValues("client_credentials").Inc()
	s.auditSuccess(r, clientID, "token_issue")

	httpserver.Respond(w, http.StatusOK, tokenResponse{
		AccessToken: jws,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn,
		Scope:       strings.Join(grantedScopes, " "),
	})
}

// issueToken signs a JWT for subject (the client_id or, for internal mint
// endpoints, a propagated user/meeting subject) with the current signing
// key.
func (s *Service) issueToken(subject string, scopes []string, serviceType *string) (string, int, error) {
	kid, priv := s.keys.CurrentSigningKey()
	if priv == nil {
		return "", 0, errNoSigningKey
	}

	now := time.Now()
	ttl := time.Duration(s.cfg.TokenDefaultTTLSecs) * time.Second

	claims := crypto.Claims{
		Issuer:      s.cfg.Issuer,
		Audience:    s.cfg.Issuer,
		Subject:     subject,
		Scopes:      scopes,
		ServiceType: serviceType,
		IssuedAt:    now.Unix(),
		Expiry:      now.Add(ttl).Unix(),
	}

	jws, err := crypto.SignJWT(claims, priv, kid)
	if err != nil {
		return "", 0, err
	}
	return jws, int(ttl.Seconds()), nil
}

func (s *Service) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	httpserver.Respond(w, http.StatusOK, s.keys.JWKS())
}

func (s *Service) auditSuccess(r *http.Request, clientID, action string) {
	s.audit.LogFromRequest(r, clientID, action, "success", "", nil)
}

func (s *Service) auditFailure(r *http.Request, clientID, action, reason string) {
	s.audit.LogFromRequest(r, clientID, action, "failure", reason, nil)
}

func splitScope(scope string) []string {
	if scope == "" {
		return nil
	}
	return strings.Fields(scope)
}

func intersectScopes(allowed, requested []string) []string {
	if len(requested) == 0 {
		return append([]string(nil), allowed...)
	}
	allowedSet := make(map[string]bool, len(allowed))
	for _, s := range allowed {
		allowedSet[s] = true
	}
	var out []string
	for _, s := range requested {
		if allowedSet[s] {
			out = append(out, s)
		}
	}
	return out
}
