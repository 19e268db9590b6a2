// Package mc implements the Meeting Controller's actor runtime (C8),
// session binding (C9), and fencing layer (C10): a per-meeting actor
// system that terminates client sessions, maintains participant state,
// and survives split-brain via Redis generation counters.
package mc

import "time"

// MeetingState is the lifecycle state of a Meeting actor.
type MeetingState string

const (
	StateLive     MeetingState = "live"
	StateDraining MeetingState = "draining"
	StateEnded    MeetingState = "ended"
)

// Participant is one joined client, tracked by the Meeting actor that owns
// it. Participant state is single-writer: only the owning Meeting actor's
// goroutine ever mutates it.
type Participant struct {
	ID                 string
	IsHost             bool
	Disconnected       bool
	DisconnectDeadline time.Time
	CorrelationID      string
}

// ActorType labels a mailbox for metrics and log lines.
type ActorType string

const (
	ActorController ActorType = "controller"
	ActorMeeting    ActorType = "meeting"
	ActorConnection ActorType = "connection"
)
