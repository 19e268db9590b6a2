package mc

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/darktower/control-plane/internal/httpserver"
	"github.com/darktower/control-plane/internal/svcauth"
)

// Service holds MC's dependencies and implements its HTTP handlers: the
// client-facing session surface (spec §4.8) and the GC-facing assignment
// surface (spec §6.3, carried over the HTTP/JSON transport deviation).
type Service struct {
	controller  *Controller
	maxMeetings int
	logger      *slog.Logger
}

// NewService constructs an MC Service.
func NewService(controller *Controller, maxMeetings int, logger *slog.Logger) *Service {
	return &Service{controller: controller, maxMeetings: maxMeetings, logger: logger}
}

// Mount registers MC's routes on r. requireToken/requireSignature are built
// by the caller (app.go) since they close over the verification policy.
func (s *Service) Mount(r chi.Router, requireToken func(scope string) func(http.Handler) http.Handler, requireSignature func(http.Handler) http.Handler) {
	r.Route("/api/v1/sessions/{meeting_id}", func(r chi.Router) {
		r.Use(requireToken("meeting:join"))
		r.Post("/join", s.handleJoin)
		r.Post("/reconnect", s.handleReconnect)
		r.Post("/disconnect", s.handleDisconnect)
		r.Post("/host/mute", s.handleHostMute)
		r.Post("/host/kick", s.handleHostKick)
		r.Post("/host/end", s.handleHostEnd)
		r.Get("/connect", s.handleConnect)
	})

	r.Route("/internal/mc", func(r chi.Router) {
		r.Use(requireToken("mc:assign"))
		r.Use(requireSignature)
		r.Post("/assign_meeting", s.handleAssignMeeting)
	})
}

func subjectFrom(r *http.Request) (string, bool) {
	claims, ok := svcauth.ClaimsFromContext(r.Context())
	if !ok {
		return "", false
	}
	return claims.Subject, true
}

func hasHostScope(r *http.Request) bool {
	claims, ok := svcauth.ClaimsFromContext(r.Context())
	if !ok {
		return false
	}
	for _, scope := range claims.Scopes {
		if scope == "meeting:host" {
			return true
		}
	}
	return false
}

type assignMeetingRequest struct {
	MeetingID            string `json:"meeting_id" validate:"required"`
	ParticipantsExpected int32  `json:"participants_expected" validate:"gte=0"`
}

type assignMeetingResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

func (s *Service) handleAssignMeeting(w http.ResponseWriter, r *http.Request) {
	var req assignMeetingRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	count, err := s.controller.Count(r.Context())
	if err != nil {
		s.logger.Error("counting meetings for assignment", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "server_error", "An internal error occurred")
		return
	}
	if count >= s.maxMeetings {
		httpserver.Respond(w, http.StatusOK, assignMeetingResponse{Accepted: false, Reason: "at_capacity"})
		return
	}

	if _, err := s.controller.CreateMeeting(r.Context(), req.MeetingID); err != nil {
		s.logger.Error("creating meeting for assignment", "error", err, "meeting_id", req.MeetingID)
		httpserver.Respond(w, http.StatusOK, assignMeetingResponse{Accepted: false, Reason: "server_error"})
		return
	}

	httpserver.Respond(w, http.StatusOK, assignMeetingResponse{Accepted: true})
}

type joinResponse struct {
	CorrelationID string `json:"correlation_id"`
	Token         string `json:"token"`
}

func (s *Service) handleJoin(w http.ResponseWriter, r *http.Request) {
	meetingID := chi.URLParam(r, "meeting_id")
	subject, ok := subjectFrom(r)
	if !ok || subject == "" {
		httpserver.RespondError(w, http.StatusUnauthorized, "invalid_token", "bearer token required")
		return
	}

	actor, err := s.controller.GetMeeting(r.Context(), meetingID)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "meeting not found on this controller")
		return
	}

	correlationID, token, err := actor.Join(r.Context(), subject, hasHostScope(r))
	if err != nil {
		s.respondActorError(w, err, meetingID)
		return
	}

	httpserver.Respond(w, http.StatusOK, joinResponse{CorrelationID: correlationID, Token: token})
}

type reconnectRequest struct {
	CorrelationID string `json:"correlation_id" validate:"required"`
	Token         string `json:"token" validate:"required"`
}

func (s *Service) handleReconnect(w http.ResponseWriter, r *http.Request) {
	meetingID := chi.URLParam(r, "meeting_id")
	var req reconnectRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	actor, err := s.controller.GetMeeting(r.Context(), meetingID)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "meeting not found on this controller")
		return
	}

	correlationID, token, err := actor.Reconnect(r.Context(), req.CorrelationID, req.Token)
	if err != nil {
		s.respondActorError(w, err, meetingID)
		return
	}

	httpserver.Respond(w, http.StatusOK, joinResponse{CorrelationID: correlationID, Token: token})
}

func (s *Service) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	meetingID := chi.URLParam(r, "meeting_id")
	subject, ok := subjectFrom(r)
	if !ok || subject == "" {
		httpserver.RespondError(w, http.StatusUnauthorized, "invalid_token", "bearer token required")
		return
	}

	actor, err := s.controller.GetMeeting(r.Context(), meetingID)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "meeting not found on this controller")
		return
	}

	if err := actor.Disconnect(r.Context(), subject); err != nil {
		s.respondActorError(w, err, meetingID)
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]bool{"accepted": true})
}

type hostActionRequest struct {
	TargetParticipantID string `json:"target_participant_id" validate:"required"`
}

func (s *Service) handleHostMute(w http.ResponseWriter, r *http.Request) {
	s.hostAction(w, r, func(actor *MeetingActor, ctx context.Context, subject, target string) error {
		return actor.HostMute(ctx, subject, target)
	})
}

func (s *Service) handleHostKick(w http.ResponseWriter, r *http.Request) {
	s.hostAction(w, r, func(actor *MeetingActor, ctx context.Context, subject, target string) error {
		return actor.Kick(ctx, subject, target)
	})
}

func (s *Service) handleHostEnd(w http.ResponseWriter, r *http.Request) {
	meetingID := chi.URLParam(r, "meeting_id")
	subject, ok := subjectFrom(r)
	if !ok || subject == "" {
		httpserver.RespondError(w, http.StatusUnauthorized, "invalid_token", "bearer token required")
		return
	}

	actor, err := s.controller.GetMeeting(r.Context(), meetingID)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "meeting not found on this controller")
		return
	}

	if err := actor.EndMeeting(r.Context(), subject); err != nil {
		s.respondActorError(w, err, meetingID)
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]bool{"accepted": true})
}

func (s *Service) hostAction(w http.ResponseWriter, r *http.Request, fn func(actor *MeetingActor, ctx context.Context, subject, target string) error) {
	meetingID := chi.URLParam(r, "meeting_id")
	subject, ok := subjectFrom(r)
	if !ok || subject == "" {
		httpserver.RespondError(w, http.StatusUnauthorized, "invalid_token", "bearer token required")
		return
	}

	var req hostActionRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	actor, err := s.controller.GetMeeting(r.Context(), meetingID)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "meeting not found on this controller")
		return
	}

	if err := fn(actor, r.Context(), subject, req.TargetParticipantID); err != nil {
		s.respondActorError(w, err, meetingID)
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]bool{"accepted": true})
}

func (s *Service) respondActorError(w http.ResponseWriter, err error, meetingID string) {
	switch {
	case errors.Is(err, ErrMeetingEnded):
		httpserver.RespondError(w, http.StatusGone, "meeting_ended", "meeting has ended")
	case errors.Is(err, ErrPermissionDenied):
		httpserver.RespondError(w, http.StatusForbidden, "permission_denied", "caller is not the meeting host")
	case errors.Is(err, ErrParticipantNotFound):
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "participant not found")
	case errors.Is(err, ErrInvalidBinding):
		httpserver.RespondError(w, http.StatusUnauthorized, "invalid_token", "binding token invalid or expired")
	case errors.Is(err, ErrMailboxFull):
		s.logger.Error("meeting mailbox full", "meeting_id", meetingID)
		httpserver.RespondError(w, http.StatusServiceUnavailable, "unavailable", "meeting controller overloaded")
	default:
		s.logger.Error("meeting actor command failed", "error", err, "meeting_id", meetingID)
		httpserver.RespondError(w, http.StatusInternalServerError, "server_error", "An internal error occurred")
	}
}
