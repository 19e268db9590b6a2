package mc

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrMeetingNotFound is returned by GetMeeting/EndMeeting for an unknown
// meeting id.
var ErrMeetingNotFound = errors.New("mc: meeting not found")

// ControllerConfig bounds the meeting actors a Controller spawns.
type ControllerConfig struct {
	MeetingMailboxWarn        int
	MeetingMailboxCritical    int
	ConnectionMailboxWarn     int
	ConnectionMailboxCritical int
	DisconnectGrace           time.Duration
	DrainTimeout              time.Duration
	SweepInterval             time.Duration
}

// Controller is C8's singleton actor: it owns the meetings map and is the
// only goroutine that ever mutates it, driven by its own bounded mailbox.
type Controller struct {
	mailbox  *Mailbox
	meetings map[string]*MeetingActor
	cfg      ControllerConfig
	bindings *BindingManager
	fencer   *Fencer
	logger   *slog.Logger

	// runCtx is the long-lived context spawned meeting actors run under.
	// It is set once, before Run's loop starts, and read only from the
	// controller's own goroutine thereafter — no synchronization needed.
	runCtx context.Context
}

// NewController constructs a Controller. Call Run to start its mailbox
// loop before issuing any CreateMeeting/GetMeeting/EndMeeting calls.
func NewController(cfg ControllerConfig, bindings *BindingManager, fencer *Fencer, logger *slog.Logger) *Controller {
	return &Controller{
		mailbox:  NewMailbox(ActorController, 1000, 4000, logger),
		meetings: make(map[string]*MeetingActor),
		cfg:      cfg,
		bindings: bindings,
		fencer:   fencer,
		logger:   logger,
	}
}

// Run drains the controller's mailbox until ctx is cancelled. Every
// meeting actor it spawns runs under ctx too, so cancelling ctx tears down
// the whole runtime.
func (c *Controller) Run(ctx context.Context) {
	c.runCtx = ctx
	c.mailbox.Run(ctx, nil)
}

// CreateMeeting implements the Controller actor's CreateMeeting message:
// idempotent — a second call for an already-live meeting id returns the
// existing actor rather than taking over again.
func (c *Controller) CreateMeeting(ctx context.Context, meetingID string) (*MeetingActor, error) {
	type result struct {
		actor *MeetingActor
		err   error
	}
	reply := make(chan result, 1)

	ok := c.mailbox.Send(func() {
		if existing, found := c.meetings[meetingID]; found {
			reply <- result{actor: existing}
			return
		}

		gen, err := c.fencer.Takeover(c.runCtx, meetingID)
		if err != nil {
			reply <- result{err: err}
			return
		}

		actor := newMeetingActor(meetingID, gen, c.bindings, c.fencer, c.cfg, c.logger, c.onMeetingEnded)
		c.meetings[meetingID] = actor
		go actor.run(c.runCtx)
		reply <- result{actor: actor}
	})
	if !ok {
		return nil, ErrMailboxFull
	}

	select {
	case r := <-reply:
		return r.actor, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetMeeting implements the Controller actor's GetMeeting message.
func (c *Controller) GetMeeting(ctx context.Context, meetingID string) (*MeetingActor, error) {
	type result struct {
		actor *MeetingActor
		found bool
	}
	reply := make(chan result, 1)

	ok := c.mailbox.Send(func() {
		a, found := c.meetings[meetingID]
		reply <- result{actor: a, found: found}
	})
	if !ok {
		return nil, ErrMailboxFull
	}

	select {
	case r := <-reply:
		if !r.found {
			return nil, ErrMeetingNotFound
		}
		return r.actor, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// EndMeeting implements the Controller actor's EndMeeting message: it
// requests a graceful drain-and-end of one meeting without a host check
// (this is a system-initiated command, not a client one).
func (c *Controller) EndMeeting(ctx context.Context, meetingID string) error {
	actor, err := c.GetMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	return actor.RequestShutdown(ctx)
}

// Config returns the ControllerConfig this Controller was built with, so
// callers that spawn their own actors (the connection transport handler)
// size their mailboxes consistently with the rest of the runtime.
func (c *Controller) Config() ControllerConfig {
	return c.cfg
}

// Count reports the number of meetings currently live on this MC, used by
// the HTTP handler to decide at_capacity rejections.
func (c *Controller) Count(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	ok := c.mailbox.Send(func() {
		reply <- len(c.meetings)
	})
	if !ok {
		return 0, ErrMailboxFull
	}
	select {
	case n := <-reply:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Shutdown implements the Controller actor's Shutdown message: it requests
// every live meeting drain and end, then returns once all requests have
// been issued (it does not wait for drains to complete).
func (c *Controller) Shutdown(ctx context.Context) error {
	reply := make(chan []*MeetingActor, 1)
	ok := c.mailbox.Send(func() {
		actors := make([]*MeetingActor, 0, len(c.meetings))
		for _, a := range c.meetings {
			actors = append(actors, a)
		}
		reply <- actors
	})
	if !ok {
		return ErrMailboxFull
	}

	var actors []*MeetingActor
	select {
	case actors = <-reply:
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, a := range actors {
		_ = a.RequestShutdown(ctx)
	}
	return nil
}

// onMeetingEnded is the supervisor hook a MeetingActor calls (via its
// mailbox onTerminate) once its run loop exits. It is dispatched back
// through the controller's own mailbox so the map mutation stays
// single-writer even though the call arrives from the meeting's goroutine.
func (c *Controller) onMeetingEnded(meetingID string) {
	if !c.mailbox.Send(func() { delete(c.meetings, meetingID) }) {
		c.logger.Error("dropping meeting cleanup, controller mailbox full", "meeting_id", meetingID)
	}
}
