package mc

import (
	"context"
	"errors"
	"log/slog"
)

// ErrConnectionClosed is returned by Forward once a ConnectionActor has
// terminated.
var ErrConnectionClosed = errors.New("mc: connection closed")

// SignalHandler delivers outbound signaling frames to a client's transport
// session. The WebTransport session itself lives outside this package;
// ConnectionActor only owns the per-connection actor state and message
// ordering guarantees described by the actor runtime.
type SignalHandler interface {
	Send(frame []byte) error
}

// ConnectionActor is one per client connection: it serializes inbound
// signaling frames onto its own goroutine and reports its own termination
// so the Meeting actor can start the participant's disconnect grace
// period.
type ConnectionActor struct {
	id            string
	meetingID     string
	participantID string

	mailbox *Mailbox
	handler SignalHandler

	onTerminate func(connectionID, participantID string)
	logger      *slog.Logger

	cancel context.CancelFunc
}

// NewConnectionActor constructs a ConnectionActor for participantID in
// meetingID, delivering outbound frames through handler.
func NewConnectionActor(id, meetingID, participantID string, handler SignalHandler, cfg ControllerConfig, logger *slog.Logger, onTerminate func(connectionID, participantID string)) *ConnectionActor {
	return &ConnectionActor{
		id:            id,
		meetingID:     meetingID,
		participantID: participantID,
		mailbox:       NewMailbox(ActorConnection, cfg.ConnectionMailboxWarn, cfg.ConnectionMailboxCritical, logger),
		handler:       handler,
		onTerminate:   onTerminate,
		logger:        logger,
	}
}

// Run drains the connection's mailbox until ctx is cancelled, Close is
// called, or a panic terminates this actor. Termination notifies the
// Meeting actor so it can begin the participant's disconnect grace
// period; the supervisor (the session transport handler) is responsible
// for re-spawning a fresh ConnectionActor on the client's next frame.
func (c *ConnectionActor) Run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel

	c.mailbox.Run(ctx, func() {
		if c.onTerminate != nil {
			c.onTerminate(c.id, c.participantID)
		}
	})
}

// Forward enqueues an inbound signaling frame for processing on the
// connection's own goroutine. Frame interpretation (mute/kick/chat/etc.)
// is delegated to the session transport layer; this actor's job is purely
// ordering and backpressure, matching the Meeting/Controller actors.
func (c *ConnectionActor) Forward(frame []byte) error {
	ok := c.mailbox.Send(func() {
		if c.handler != nil {
			if err := c.handler.Send(frame); err != nil {
				c.logger.Warn("signal delivery failed", "meeting_id", c.meetingID, "error", err)
			}
		}
	})
	if !ok {
		if c.mailbox.Closed() {
			return ErrConnectionClosed
		}
		return ErrMailboxFull
	}
	return nil
}

// Close ends the connection actor's run loop, as if its transport session
// had ended.
func (c *ConnectionActor) Close() {
	if c.cancel != nil {
		c.cancel()
	}
}
