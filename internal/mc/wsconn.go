package mc

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/darktower/control-plane/internal/httpserver"
)

// upgrader performs the WebSocket handshake for the signaling connection.
// Origin is enforced by the bearer-token check the route already requires,
// not by Sec-Fetch-Site, since browsers don't send CORS preflights for
// WebSocket upgrades.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsSignalHandler adapts a gorilla/websocket connection to SignalHandler.
// Writes are serialized with a mutex because ConnectionActor's mailbox
// guarantees ordering of Forward calls but gorilla's Conn forbids
// concurrent writers from other code paths (e.g. a future ping ticker).
type wsSignalHandler struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (h *wsSignalHandler) Send(frame []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// handleConnect upgrades the request to a WebSocket and spawns a
// ConnectionActor; each inbound frame is queued on that actor's mailbox and
// handed, in order, to the wsSignalHandler, which writes it back down the
// socket. The actor terminates, and the
// participant's disconnect grace period begins, as soon as the socket
// closes for any reason.
func (s *Service) handleConnect(w http.ResponseWriter, r *http.Request) {
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

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "meeting_id", meetingID, "error", err)
		return
	}

	connID := uuid.NewString()
	handler := &wsSignalHandler{conn: conn}
	connActor := NewConnectionActor(connID, meetingID, subject, handler, s.controller.Config(), s.logger, func(_, participantID string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = actor.Disconnect(ctx, participantID)
		_ = conn.Close()
	})

	go connActor.Run(r.Context())

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			connActor.Close()
			return
		}
		if err := connActor.Forward(frame); err != nil {
			s.logger.Warn("dropping inbound signaling frame", "meeting_id", meetingID, "error", err)
		}
	}
}
