package ac

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/darktower/control-plane/internal/crypto"
	"github.com/darktower/control-plane/internal/httpserver"
)

// disableClientResponse confirms a client has been disabled.
type disableClientResponse struct {
	ClientID string `json:"client_id"`
}

// registerClientRequest is the body of POST /admin/clients.
type registerClientRequest struct {
	Name   string   `json:"name" validate:"required,min=1,max=255"`
	Scopes []string `json:"scopes" validate:"required,min=1,dive,required"`
	OrgID  string   `json:"org_id"`
}

// registerClientResponse exposes the one-time client_secret. Per spec
// §6.1, this and the rotate-secret response are the only responses that
// ever carry the raw secret — it is not persisted and cannot be recovered
// afterward.
type registerClientResponse struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

func (s *Service) handleRegisterClient(w http.ResponseWriter, r *http.Request) {
	var req registerClientRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	clientID := "client-" + randomSuffix()

	secret, err := crypto.GenerateClientSecret()
	if err != nil {
		s.logger.Error("generating client secret", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "server_error", "An internal error occurred")
		return
	}

	hash, err := crypto.HashClientSecret(secret.Expose(), s.cfg.BcryptCost)
	if err != nil {
		s.logger.Error("hashing client secret", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "server_error", "An internal error occurred")
		return
	}

	client := ServiceClient{
		ClientID:         clientID,
		ClientSecretHash: hash,
		Scopes:           req.Scopes,
		OrgID:            req.OrgID,
		CreatedAt:        time.Now(),
	}
	if err := s.clients.Insert(r.Context(), client); err != nil {
		s.logger.Error("inserting service client", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "server_error", "An internal error occurred")
		return
	}

	s.auditSuccess(r, clientID, "client_register")

	httpserver.Respond(w, http.StatusCreated, registerClientResponse{
		ClientID:     clientID,
		ClientSecret: secret.Expose(),
	})
}

func (s *Service) handleRotateClientSecret(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "id")

	secret, err := crypto.GenerateClientSecret()
	if err != nil {
		s.logger.Error("generating rotated client secret", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "server_error", "An internal error occurred")
		return
	}

	hash, err := crypto.HashClientSecret(secret.Expose(), s.cfg.BcryptCost)
	if err != nil {
		s.logger.Error("hashing rotated client secret", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "server_error", "An internal error occurred")
		return
	}

	if err := s.clients.UpdateSecretHash(r.Context(), clientID, hash); err != nil {
		if err == ErrNotFound {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "client not found")
			return
		}
		s.logger.Error("rotating client secret", "error", err, "client_id", clientID)
		httpserver.RespondError(w, http.StatusInternalServerError, "server_error", "An internal error occurred")
		return
	}

	s.auditSuccess(r, clientID, "client_rotate_secret")

	httpserver.Respond(w, http.StatusOK, registerClientResponse{
		ClientID:     clientID,
		ClientSecret: secret.Expose(),
	})
}

func (s *Service) handleDisableClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "id")

	if err := s.clients.Disable(r.Context(), clientID, time.Now()); err != nil {
		if err == ErrNotFound {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "client not found")
			return
		}
		s.logger.Error("disabling client", "error", err, "client_id", clientID)
		httpserver.RespondError(w, http.StatusInternalServerError, "server_error", "An internal error occurred")
		return
	}

	s.auditSuccess(r, clientID, "client_disable")
	httpserver.Respond(w, http.StatusOK, disableClientResponse{ClientID: clientID})
}

func (s *Service) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "id")

	if err := s.clients.Delete(r.Context(), clientID); err != nil {
		if err == ErrNotFound {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "client not found")
			return
		}
		s.logger.Error("deleting client", "error", err, "client_id", clientID)
		httpserver.RespondError(w, http.StatusInternalServerError, "server_error", "An internal error occurred")
		return
	}

	s.auditSuccess(r, clientID, "client_delete")
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func randomSuffix() string {
	b, err := crypto.RandomBytes(9)
	if err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
