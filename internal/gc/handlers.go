package gc

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/darktower/control-plane/internal/httpserver"
	"github.com/darktower/control-plane/internal/svcauth"
)

// Service holds GC's dependencies and implements its HTTP handlers: the
// public meetings API (spec §6.2) and the MC-facing registration/heartbeat
// surface (spec §6.3, carried over the HTTP/JSON transport deviation).
type Service struct {
	registry  *Registry
	placement *PlacementEngine
	meetings  *MeetingService
	logger    *slog.Logger
}

// NewService constructs a GC Service.
func NewService(registry *Registry, placement *PlacementEngine, meetings *MeetingService, logger *slog.Logger) *Service {
	return &Service{registry: registry, placement: placement, meetings: meetings, logger: logger}
}

// Mount registers GC's routes on r. requireToken/requireSignature are built
// by the caller (app.go) since they close over the verification policy.
func (s *Service) Mount(r chi.Router, requireToken func(scope string) func(http.Handler) http.Handler, requireSignature func(http.Handler) http.Handler) {
	r.Route("/api/v1/meetings", func(r chi.Router) {
		r.With(requireToken("meeting:create")).Post("/", s.handleCreateMeeting)
		r.With(requireToken("meeting:join")).Post("/{code}/join", s.handleJoinMeeting)
	})

	r.Route("/internal/gc", func(r chi.Router) {
		r.Use(requireToken("mc:register"))
		r.Use(requireSignature)
		r.Post("/register_mc", s.handleRegisterMC)
		r.Post("/fast_heartbeat", s.handleFastHeartbeat)
		r.Post("/comprehensive_heartbeat", s.handleComprehensiveHeartbeat)
	})
}

type createMeetingRequest struct {
	Region string `json:"region" validate:"omitempty,max=50"`
}

type createMeetingResponse struct {
	MeetingCode string `json:"meeting_code"`
}

func (s *Service) handleCreateMeeting(w http.ResponseWriter, r *http.Request) {
	var req createMeetingRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	subject := ""
	if claims, ok := svcauth.ClaimsFromContext(r.Context()); ok {
		subject = claims.Subject
	}

	code, err := s.meetings.CreateMeeting(r.Context(), subject, req.Region)
	if err != nil {
		s.logger.Error("creating meeting", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "server_error", "An internal error occurred")
		return
	}

	httpserver.Respond(w, http.StatusOK, createMeetingResponse{MeetingCode: code})
}

type joinMeetingResponse struct {
	MCWebTransportEndpoint string `json:"mc_webtransport_endpoint"`
	MeetingToken           string `json:"meeting_token"`
	PrimaryMH              string `json:"primary_mh,omitempty"`
	BackupMH               string `json:"backup_mh,omitempty"`
}

func (s *Service) handleJoinMeeting(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	subject := ""
	if claims, ok := svcauth.ClaimsFromContext(r.Context()); ok {
		subject = claims.Subject
	}

	result, err := s.meetings.Join(r.Context(), code, subject)
	if err != nil {
		s.logger.Error("joining meeting", "error", err, "meeting_code", code)
		httpserver.RespondError(w, http.StatusInternalServerError, "server_error", "An internal error occurred")
		return
	}

	switch result.Reason {
	case JoinReasonUnknownCode:
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "unknown meeting code")
		return
	case JoinReasonNoneAvailable:
		httpserver.RespondError(w, http.StatusServiceUnavailable, "unavailable", "no meeting controllers available")
		return
	case JoinReasonTokenIssuance:
		httpserver.RespondError(w, http.StatusInternalServerError, "server_error", "An internal error occurred")
		return
	}

	httpserver.Respond(w, http.StatusOK, joinMeetingResponse{
		MCWebTransportEndpoint: result.MCWebTransportEndpoint,
		MeetingToken:           result.MeetingToken,
		PrimaryMH:              result.PrimaryMH,
		BackupMH:               result.BackupMH,
	})
}

type registerMCRequest struct {
	ID              string `json:"id" validate:"required,max=255"`
	Region          string `json:"region" validate:"required,max=50"`
	Endpoint        string `json:"endpoint" validate:"required,max=255"`
	MaxMeetings     int64  `json:"max_meetings" validate:"required,gt=0"`
	MaxParticipants int64  `json:"max_participants" validate:"required,gt=0"`
}

func (s *Service) handleRegisterMC(w http.ResponseWriter, r *http.Request) {
	var req registerMCRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := s.registry.RegisterMC(r.Context(), RegisterMCRequest{
		ID:              req.ID,
		Region:          req.Region,
		Endpoint:        req.Endpoint,
		MaxMeetings:     req.MaxMeetings,
		MaxParticipants: req.MaxParticipants,
	})
	if err != nil {
		s.logger.Error("registering mc", "error", err, "mc_id", req.ID)
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	httpserver.Respond(w, http.StatusOK, resp)
}

type fastHeartbeatRequest struct {
	ID              string  `json:"id" validate:"required,max=255"`
	CurrentMeetings int64   `json:"current_meetings" validate:"gte=0"`
	LoadScore       float64 `json:"load_score" validate:"gte=0"`
}

func (s *Service) handleFastHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req fastHeartbeatRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := s.registry.FastHeartbeat(r.Context(), req.ID, req.CurrentMeetings, req.LoadScore); err != nil {
		if err == ErrNotFound {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "mc not registered")
			return
		}
		s.logger.Error("recording fast heartbeat", "error", err, "mc_id", req.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, "server_error", "An internal error occurred")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]bool{"accepted": true})
}

type comprehensiveHeartbeatRequest struct {
	ID                  string  `json:"id" validate:"required,max=255"`
	HealthStatus        string  `json:"health_status" validate:"required,oneof=pending healthy degraded unhealthy draining"`
	CurrentMeetings     int64   `json:"current_meetings" validate:"gte=0"`
	MaxMeetings         int64   `json:"max_meetings" validate:"required,gt=0"`
	CurrentParticipants int64   `json:"current_participants" validate:"gte=0"`
	MaxParticipants     int64   `json:"max_participants" validate:"required,gt=0"`
	LoadScore           float64 `json:"load_score" validate:"gte=0"`
}

func (s *Service) handleComprehensiveHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req comprehensiveHeartbeatRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	err := s.registry.ComprehensiveHeartbeat(r.Context(), req.ID, req.HealthStatus,
		req.CurrentMeetings, req.MaxMeetings, req.CurrentParticipants, req.MaxParticipants, req.LoadScore)
	if err != nil {
		if err == ErrNotFound {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "mc not registered")
			return
		}
		s.logger.Error("recording comprehensive heartbeat", "error", err, "mc_id", req.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, "server_error", "An internal error occurred")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]bool{"accepted": true})
}
