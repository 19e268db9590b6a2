package ac

import (
	"net/http"

	"github.com/darktower/control-plane/internal/httpserver"
)

// issueTokenRequest is the shared body shape of /internal/tokens/meeting
// and /internal/tokens/guest: propagate a scoped, short-lived JWT for a
// subject the calling service has already authenticated by other means
// (e.g. a user session, or an anonymous guest join).
type issueTokenRequest struct {
	Subject     string   `json:"subject" validate:"required,min=1,max=255"`
	Scopes      []string `json:"scopes" validate:"required,min=1,dive,required"`
	ServiceType string   `json:"service_type" validate:"omitempty,max=50"`
}

type issueTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// handleIssueMeetingToken implements POST /internal/tokens/meeting: issues
// a scoped JWT for a user about to join a meeting, for downstream
// propagation to the MC.
func (s *Service) handleIssueMeetingToken(w http.ResponseWriter, r *http.Request) {
	s.issueScopedToken(w, r, "meeting")
}

// handleIssueGuestToken implements POST /internal/tokens/guest: issues a
// scoped JWT for an unauthenticated guest participant.
func (s *Service) handleIssueGuestToken(w http.ResponseWriter, r *http.Request) {
	s.issueScopedToken(w, r, "guest")
}

func (s *Service) issueScopedToken(w http.ResponseWriter, r *http.Request, kind string) {
	var req issueTokenRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	var serviceType *string
	if req.ServiceType != "" {
		st := req.ServiceType
		serviceType = &st
	}

	jws, expiresIn, err := s.issueToken(req.Subject, req.Scopes, serviceType)
	if err != nil {
		// PKCS#8 key validation / signing errors return a generic 500 with
		// server-side context preserved in logs, per spec §6.1.
		s.logger.Error("issuing internal token", "error", err, "kind", kind, "subject", req.Subject)
		httpserver.RespondError(w, http.StatusInternalServerError, "server_error", "An internal error occurred")
		return
	}

	httpserver.Respond(w, http.StatusOK, issueTokenResponse{
		AccessToken: jws,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn,
	})
}
