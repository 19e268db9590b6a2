package gc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/darktower/control-plane/internal/telemetry"
)

// Default heartbeat cadences returned to a registering MC, per spec §4.5.
const (
	DefaultFastIntervalMS          = 10_000
	DefaultComprehensiveIntervalMS = 30_000
)

// RegisterMCRequest is the body of RegisterMC.
type RegisterMCRequest struct {
	ID              string
	Region          string
	Endpoint        string
	MaxMeetings     int64
	MaxParticipants int64
}

// RegisterMCResponse is the result of a successful registration.
type RegisterMCResponse struct {
	Accepted                bool `json:"accepted"`
	FastIntervalMS          int  `json:"fast_heartbeat_interval_ms"`
	ComprehensiveIntervalMS int  `json:"comprehensive_heartbeat_interval_ms"`
}

// Registry implements C5, the MC fleet registry: registration, heartbeat
// ingestion, and the background staleness sweeper.
type Registry struct {
	store  MCStore
	logger *slog.Logger
}

// NewRegistry constructs a Registry.
func NewRegistry(store MCStore, logger *slog.Logger) *Registry {
	return &Registry{store: store, logger: logger}
}

// RegisterMC upserts an MC registration, per spec §4.5. Registration is
// idempotent: re-registering the same id updates its row in place.
func (r *Registry) RegisterMC(ctx context.Context, req RegisterMCRequest) (RegisterMCResponse, error) {
	if err := validateID(req.ID); err != nil {
		return RegisterMCResponse{}, fmt.Errorf("invalid id: %w", err)
	}
	if err := validateRegion(req.Region); err != nil {
		return RegisterMCResponse{}, fmt.Errorf("invalid region: %w", err)
	}
	if err := validateEndpoint(req.Endpoint); err != nil {
		return RegisterMCResponse{}, fmt.Errorf("invalid endpoint: %w", err)
	}

	now := time.Now()
	mc := MeetingController{
		ID:              req.ID,
		Region:          req.Region,
		Endpoint:        req.Endpoint,
		HealthStatus:    HealthPending,
		MaxMeetings:     clampInt32(req.MaxMeetings),
		MaxParticipants: clampInt32(req.MaxParticipants),
		LastHeartbeatAt: now,
	}
	// Re-registration keeps the load figures from the latest heartbeat.
	if existing, err := r.store.ByID(ctx, req.ID); err == nil {
		mc.CurrentMeetings = existing.CurrentMeetings
		mc.CurrentParticipants = existing.CurrentParticipants
		mc.CurrentLoadScore = existing.CurrentLoadScore
	}
	err := r.store.Upsert(ctx, mc)
	if err != nil {
		return RegisterMCResponse{}, fmt.Errorf("registering mc: %w", err)
	}

	return RegisterMCResponse{
		Accepted:                true,
		FastIntervalMS:          DefaultFastIntervalMS,
		ComprehensiveIntervalMS: DefaultComprehensiveIntervalMS,
	}, nil
}

// FastHeartbeat ingests a capacity-delta-only heartbeat. It is idempotent
// under replay: re-applying the same values leaves the row unchanged.
func (r *Registry) FastHeartbeat(ctx context.Context, id string, currentMeetings int64, loadScore float64) error {
	if err := r.store.FastHeartbeat(ctx, id, clampInt32(currentMeetings), loadScore, time.Now()); err != nil {
		return fmt.Errorf("recording fast heartbeat for %s: %w", id, err)
	}
	telemetry.MCHeartbeatsTotal.WithLabelValues("fast").Inc()
	return nil
}

// ComprehensiveHeartbeat ingests a full metrics report, including an
// explicit health status transition.
func (r *Registry) ComprehensiveHeartbeat(ctx context.Context, id, healthStatus string, currentMeetings, maxMeetings, currentParticipants, maxParticipants int64, loadScore float64) error {
	err := r.store.ComprehensiveHeartbeat(ctx, MeetingController{
		ID:                  id,
		HealthStatus:        healthStatus,
		CurrentMeetings:     clampInt32(currentMeetings),
		MaxMeetings:         clampInt32(maxMeetings),
		CurrentParticipants: clampInt32(currentParticipants),
		MaxParticipants:     clampInt32(maxParticipants),
		CurrentLoadScore:    loadScore,
		LastHeartbeatAt:     time.Now(),
	})
	if err != nil {
		return fmt.Errorf("recording comprehensive heartbeat for %s: %w", id, err)
	}
	telemetry.MCHeartbeatsTotal.WithLabelValues("comprehensive").Inc()
	return nil
}

// RunStalenessSweeper runs the background task from spec §4.5: every
// interval, demote any MC whose last heartbeat predates the staleness
// threshold to unhealthy. It never returns an error to the caller — failed
// sweeps are logged and retried on the next tick, since the sweeper is
// explicitly eventually-consistent and must never be fatal to the process.
func (r *Registry) RunStalenessSweeper(ctx context.Context, interval, staleness time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-staleness)
			n, err := r.store.MarkStale(ctx, cutoff)
			if err != nil {
				r.logger.Error("staleness sweep failed", "error", err)
				continue
			}
			if n > 0 {
				telemetry.MCStaleTransitionsTotal.Add(float64(n))
				r.logger.Info("staleness sweep demoted controllers", "count", n)
			}
		}
	}
}
