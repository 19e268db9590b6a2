package mc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrMeetingEnded is returned by operations against a meeting that has
// already transitioned to Ended.
var ErrMeetingEnded = errors.New("mc: meeting has ended")

// ErrPermissionDenied is returned when a non-host caller attempts a
// host-only action, per spec §4.8.
var ErrPermissionDenied = errors.New("mc: caller is not the meeting host")

// ErrParticipantNotFound is returned by host actions targeting an unknown
// participant.
var ErrParticipantNotFound = errors.New("mc: participant not found")

// MeetingActor is C8's per-meeting actor: it owns participant state and
// the binding manager for one live meeting, and is the only goroutine that
// mutates either.
type MeetingActor struct {
	id         string
	generation int64
	state      MeetingState

	participants map[string]*Participant

	mailbox *Mailbox

	bindings *BindingManager
	fencer   *Fencer

	disconnectGrace time.Duration
	drainTimeout    time.Duration
	drainDeadline   time.Time

	cancel  context.CancelFunc
	onEnded func(meetingID string)
	logger  *slog.Logger
}

func newMeetingActor(id string, generation int64, bindings *BindingManager, fencer *Fencer, cfg ControllerConfig, logger *slog.Logger, onEnded func(string)) *MeetingActor {
	return &MeetingActor{
		id:              id,
		generation:      generation,
		state:           StateLive,
		participants:    make(map[string]*Participant),
		mailbox:         NewMailbox(ActorMeeting, cfg.MeetingMailboxWarn, cfg.MeetingMailboxCritical, logger),
		bindings:        bindings,
		fencer:          fencer,
		disconnectGrace: cfg.DisconnectGrace,
		drainTimeout:    cfg.DrainTimeout,
		onEnded:         onEnded,
		logger:          logger,
	}
}

// run drains the meeting's mailbox and its disconnect/drain sweep ticker
// until ctx is cancelled or the actor panics, then notifies the Controller.
func (m *MeetingActor) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel

	sweepInterval := m.disconnectGrace
	if m.drainTimeout < sweepInterval {
		sweepInterval = m.drainTimeout
	}
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Second
	}
	go m.sweepLoop(ctx, sweepInterval)

	m.mailbox.Run(ctx, func() {
		cancel()
		if m.onEnded != nil {
			m.onEnded(m.id)
		}
	})
}

func (m *MeetingActor) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mailbox.Send(m.sweep)
		}
	}
}

// sweep expires disconnected participants past their grace deadline and
// advances Draining -> Ended once the meeting is empty or the drain
// timeout elapses.
func (m *MeetingActor) sweep() {
	now := time.Now()
	for pid, p := range m.participants {
		if p.Disconnected && now.After(p.DisconnectDeadline) {
			delete(m.participants, pid)
		}
	}

	if m.state == StateDraining {
		if len(m.participants) == 0 || now.After(m.drainDeadline) {
			m.state = StateEnded
			if m.cancel != nil {
				m.cancel()
			}
		}
	}
}

func (m *MeetingActor) beginDraining() {
	if m.state != StateLive {
		return
	}
	m.state = StateDraining
	m.drainDeadline = time.Now().Add(m.drainTimeout)
}

func (m *MeetingActor) requireHost(callerID string) error {
	caller, exists := m.participants[callerID]
	if !exists || !caller.IsHost {
		m.logger.Warn("permission denied for host action", "meeting_id", m.id)
		return ErrPermissionDenied
	}
	return nil
}

// command runs fn on the actor's own goroutine and returns its result.
func (m *MeetingActor) command(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	ok := m.mailbox.Send(func() { reply <- fn() })
	if !ok {
		return ErrMailboxFull
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join implements a participant's first join or a rejoin while still
// within its disconnect grace period: it (re)registers the participant and
// issues a fresh binding token.
func (m *MeetingActor) Join(ctx context.Context, participantID string, isHost bool) (correlationID, token string, err error) {
	type result struct {
		correlationID, token string
		err                  error
	}
	reply := make(chan result, 1)

	ok := m.mailbox.Send(func() {
		if m.state != StateLive {
			reply <- result{err: ErrMeetingEnded}
			return
		}

		p, exists := m.participants[participantID]
		if !exists {
			p = &Participant{ID: participantID, IsHost: isHost}
			m.participants[participantID] = p
		}
		p.Disconnected = false

		correlationID, token, issueErr := m.bindings.Issue(ctx, m.id, participantID)
		if issueErr == nil {
			p.CorrelationID = correlationID
		}
		reply <- result{correlationID: correlationID, token: token, err: issueErr}
	})
	if !ok {
		return "", "", ErrMailboxFull
	}

	select {
	case r := <-reply:
		return r.correlationID, r.token, r.err
	case <-ctx.Done():
		return "", "", ctx.Err()
	}
}

// Reconnect redeems a prior binding token and restores the participant
// without incrementing/decrementing participant counters, per spec §4.8.
func (m *MeetingActor) Reconnect(ctx context.Context, correlationID, token string) (newCorrelationID, newToken string, err error) {
	type result struct {
		correlationID, token string
		err                  error
	}
	reply := make(chan result, 1)

	ok := m.mailbox.Send(func() {
		newCorrelationID, newToken, participantID, verifyErr := m.bindings.VerifyAndRotate(ctx, m.id, correlationID, token)
		if verifyErr != nil {
			reply <- result{err: verifyErr}
			return
		}

		p, exists := m.participants[participantID]
		if !exists {
			p = &Participant{ID: participantID}
			m.participants[participantID] = p
		}
		p.Disconnected = false
		p.CorrelationID = newCorrelationID

		reply <- result{correlationID: newCorrelationID, token: newToken}
	})
	if !ok {
		return "", "", ErrMailboxFull
	}

	select {
	case r := <-reply:
		return r.correlationID, r.token, r.err
	case <-ctx.Done():
		return "", "", ctx.Err()
	}
}

// Disconnect marks participantID disconnected with a grace deadline; the
// periodic sweep removes it once the deadline passes unless Reconnect
// restores it first.
func (m *MeetingActor) Disconnect(ctx context.Context, participantID string) error {
	return m.command(ctx, func() error {
		if p, exists := m.participants[participantID]; exists {
			p.Disconnected = true
			p.DisconnectDeadline = time.Now().Add(m.disconnectGrace)
		}
		return nil
	})
}

// HostMute authorizes a host mute command; the actual mute signal delivery
// is outside this actor's owned state (it belongs to the session/transport
// layer), so this only enforces the authorization boundary.
func (m *MeetingActor) HostMute(ctx context.Context, callerID, targetID string) error {
	return m.command(ctx, func() error {
		if err := m.requireHost(callerID); err != nil {
			return err
		}
		if _, exists := m.participants[targetID]; !exists {
			return ErrParticipantNotFound
		}
		return nil
	})
}

// Kick authorizes and performs a host kick: the target participant is
// removed immediately, without waiting out its disconnect grace period.
func (m *MeetingActor) Kick(ctx context.Context, callerID, targetID string) error {
	return m.command(ctx, func() error {
		if err := m.requireHost(callerID); err != nil {
			return err
		}
		target, exists := m.participants[targetID]
		if !exists {
			return ErrParticipantNotFound
		}
		if err := m.bindings.Revoke(ctx, m.id, target.CorrelationID); err != nil {
			m.logger.Error("revoking binding for kicked participant", "meeting_id", m.id, "error", err)
		}
		delete(m.participants, targetID)
		return nil
	})
}

// EndMeeting authorizes and begins draining the meeting on a host's
// request.
func (m *MeetingActor) EndMeeting(ctx context.Context, callerID string) error {
	return m.command(ctx, func() error {
		if err := m.requireHost(callerID); err != nil {
			return err
		}
		m.beginDraining()
		return nil
	})
}

// RequestShutdown begins draining the meeting without a host check; it is
// used for system-initiated shutdown (process-wide cancellation, or GC
// ending a stale assignment).
func (m *MeetingActor) RequestShutdown(ctx context.Context) error {
	return m.command(ctx, func() error {
		m.beginDraining()
		return nil
	})
}

// State reports the meeting's current lifecycle state.
func (m *MeetingActor) State(ctx context.Context) (MeetingState, error) {
	reply := make(chan MeetingState, 1)
	ok := m.mailbox.Send(func() { reply <- m.state })
	if !ok {
		return "", ErrMailboxFull
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ParticipantCount reports the number of currently tracked participants
// (including those in their disconnect grace period).
func (m *MeetingActor) ParticipantCount(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	ok := m.mailbox.Send(func() { reply <- len(m.participants) })
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

// WriteState persists the meeting's lifecycle state to Redis through the
// fencing guard, so a replica that has been superseded cannot clobber the
// current owner's view after a takeover.
func (m *MeetingActor) WriteState(ctx context.Context, state MeetingState) error {
	if err := m.fencer.GuardedHSet(ctx, m.id, m.generation, string(state), ReasonStaleGeneration); err != nil {
		var fenced *FencedError
		if errors.As(err, &fenced) {
			return fmt.Errorf("fenced writing meeting state: %w", err)
		}
		return err
	}
	return nil
}
