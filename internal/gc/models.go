// Package gc implements the Global Controller (C5 MC Registry, C6 MH
// Registry, C7 Placement Engine): tracking MC/MH fleet health and placing
// meetings onto a healthy MC.
package gc

import "time"

// Health status values shared by MeetingController and MediaHandler rows.
const (
	HealthPending   = "pending"
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
	HealthDraining  = "draining"
)

// MeetingController is the persisted registration of one MC process.
type MeetingController struct {
	ID                  string
	Region              string
	Endpoint            string // stands in for grpc_endpoint under the HTTP/JSON transport deviation
	HealthStatus        string
	CurrentMeetings     int32
	MaxMeetings         int32
	CurrentParticipants int32
	MaxParticipants     int32
	CurrentLoadScore    float64
	LastHeartbeatAt     time.Time
	CreatedAt           time.Time
}

// MediaHandler is the persisted registration of one MH process.
type MediaHandler struct {
	ID              string
	Region          string
	Endpoint        string
	HealthStatus    string
	Capacity        int32
	LoadScore       float64
	LastHeartbeatAt time.Time
	CreatedAt       time.Time
}

// MeetingAssignment binds a meeting to the MC currently hosting it.
type MeetingAssignment struct {
	ID          string
	MeetingID   string
	MCID        string
	PrimaryMHID *string
	BackupMHID  *string
	AssignedAt  time.Time
	EndedAt     *time.Time
}

// PlacementRejectionReason enumerates why assign_meeting failed, per
// spec §4.7/§7.
type PlacementRejectionReason string

const (
	RejectionNoneAvailable PlacementRejectionReason = "none_available"
	RejectionAtCapacity    PlacementRejectionReason = "at_capacity"
	RejectionDraining      PlacementRejectionReason = "draining"
	RejectionUnhealthy     PlacementRejectionReason = "unhealthy"
	RejectionRPCFailed     PlacementRejectionReason = "rpc_failed"
)

// AssignmentInfo is returned on a successful placement.
type AssignmentInfo struct {
	MeetingID string
	MCID      string
	Endpoint  string
}

// PlacementResult is the outcome of assign_meeting: exactly one of
// Assignment or Reason is set.
type PlacementResult struct {
	Assignment *AssignmentInfo
	Reason     PlacementRejectionReason
}
