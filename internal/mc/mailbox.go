package mc

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/darktower/control-plane/internal/telemetry"
)

// ErrMailboxFull is returned when a send is dropped because the mailbox has
// reached its critical depth, per spec §4.8.
var ErrMailboxFull = errors.New("mc: mailbox at critical depth, message dropped")

// Mailbox is the bounded, single-consumer inbox an actor drains on its own
// goroutine. Every mutation of actor-owned state happens inside a closure
// sent through a Mailbox, which is what makes that state single-writer
// without a lock.
type Mailbox struct {
	actorType ActorType
	ch        chan func()
	warn      int
	critical  int
	logger    *slog.Logger
	closed    atomic.Bool
}

// NewMailbox builds a Mailbox with the given warn/critical depth thresholds.
func NewMailbox(actorType ActorType, warn, critical int, logger *slog.Logger) *Mailbox {
	return &Mailbox{
		actorType: actorType,
		ch:        make(chan func(), critical),
		warn:      warn,
		critical:  critical,
		logger:    logger,
	}
}

// Closed reports whether Run has already returned for this mailbox.
func (m *Mailbox) Closed() bool {
	return m.closed.Load()
}

// Send enqueues fn for execution on the actor's own goroutine. It reports
// false, without blocking, if the mailbox is at or beyond its critical
// threshold — the caller should treat this as spec's "backpressure" drop.
func (m *Mailbox) Send(fn func()) bool {
	if m.closed.Load() {
		return false
	}

	depth := len(m.ch)
	telemetry.MailboxDepth.WithLabelValues(string(m.actorType)).Set(float64(depth))

	if depth >= m.critical {
		telemetry.MessagesDroppedTotal.WithLabelValues(string(m.actorType)).Inc()
		m.logger.Warn("mailbox at critical depth, dropping message", "actor_type", m.actorType, "depth", depth)
		return false
	}
	if depth >= m.warn {
		m.logger.Warn("mailbox depth exceeds warn threshold", "actor_type", m.actorType, "depth", depth)
	}

	select {
	case m.ch <- fn:
		return true
	default:
		telemetry.MessagesDroppedTotal.WithLabelValues(string(m.actorType)).Inc()
		return false
	}
}

// Run drains the mailbox until ctx is cancelled or the actor panics. A
// panic is recovered exactly once: it terminates the Run loop (the actor
// dies) after counting it and calling onTerminate, which the supervisor
// uses to decide whether to re-spawn (Connection) or end the owning
// meeting (Meeting).
func (m *Mailbox) Run(ctx context.Context, onTerminate func()) {
	defer func() {
		m.closed.Store(true)
		if r := recover(); r != nil {
			telemetry.ActorPanicsTotal.WithLabelValues(string(m.actorType)).Inc()
			m.logger.Error("actor panicked, terminating", "actor_type", m.actorType, "panic", r)
		}
		if onTerminate != nil {
			onTerminate()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-m.ch:
			fn()
		}
	}
}
