package gc

import (
	"context"
	"log/slog"
	"time"

	"github.com/darktower/control-plane/internal/telemetry"
)

// AssignMeetingCaller issues the GC->MC AssignMeeting call (spec §6.4).
// Implemented over the HTTP/JSON transport in transport.go; abstracted so
// the placement algorithm can be tested without a live MC.
type AssignMeetingCaller interface {
	AssignMeeting(ctx context.Context, mc MeetingController, meetingID string, participantsExpected int32) (accepted bool, reason PlacementRejectionReason, err error)
}

// PlacementEngine implements C7: assign_meeting and the assignment cleanup
// task.
type PlacementEngine struct {
	assignments AssignmentStore
	mcStore     MCStore
	mhRegistry  *MHRegistry
	caller      AssignMeetingCaller
	audit       *PlacementWriter
	logger      *slog.Logger
}

// NewPlacementEngine constructs a PlacementEngine. audit may be nil, in
// which case placement decisions are not persisted (used by tests that
// don't wire Postgres).
func NewPlacementEngine(assignments AssignmentStore, mcStore MCStore, mhRegistry *MHRegistry, caller AssignMeetingCaller, audit *PlacementWriter, logger *slog.Logger) *PlacementEngine {
	return &PlacementEngine{assignments: assignments, mcStore: mcStore, mhRegistry: mhRegistry, caller: caller, audit: audit, logger: logger}
}

func (p *PlacementEngine) logPlacement(meetingID, mcID, outcome, reason string) {
	if p.audit == nil {
		return
	}
	p.audit.Log(PlacementEvent{MeetingID: meetingID, MCID: mcID, Outcome: outcome, Reason: reason})
}

// AssignMeeting implements the algorithm in spec §4.7.
func (p *PlacementEngine) AssignMeeting(ctx context.Context, meetingID, region string, participantsExpected int32) PlacementResult {
	if existing, err := p.assignments.Live(ctx, meetingID); err == nil {
		if mc, mcErr := p.mcStore.ByID(ctx, existing.MCID); mcErr == nil && (mc.HealthStatus == HealthHealthy || mc.HealthStatus == HealthDegraded) {
			telemetry.PlacementAttemptsTotal.WithLabelValues("reused").Inc()
			p.logPlacement(meetingID, mc.ID, "reused", "")
			return PlacementResult{Assignment: &AssignmentInfo{MeetingID: meetingID, MCID: mc.ID, Endpoint: mc.Endpoint}}
		}
	}

	candidates, err := p.mcStore.Candidates(ctx, region)
	if err != nil {
		p.logger.Error("querying placement candidates", "error", err, "region", region)
		telemetry.PlacementAttemptsTotal.WithLabelValues("error").Inc()
		p.logPlacement(meetingID, "", "error", "querying_candidates_failed")
		return PlacementResult{Reason: RejectionNoneAvailable}
	}

	for _, mc := range candidates {
		accepted, reason, err := p.caller.AssignMeeting(ctx, mc, meetingID, participantsExpected)
		if err != nil {
			p.logger.Warn("assign_meeting rpc failed, trying next candidate", "mc_id", mc.ID, "error", err)
			telemetry.PlacementRejectionsTotal.WithLabelValues(string(RejectionRPCFailed)).Inc()
			continue
		}
		if !accepted {
			p.logger.Info("mc rejected assignment", "mc_id", mc.ID, "reason", reason)
			telemetry.PlacementRejectionsTotal.WithLabelValues(string(reason)).Inc()
			continue
		}

		var primaryMHID, backupMHID *string
		if p.mhRegistry != nil {
			selection, mhErr := p.mhRegistry.Select(ctx, region)
			if mhErr != nil {
				p.logger.Warn("selecting media handler failed, proceeding without one", "error", mhErr, "meeting_id", meetingID)
			} else if selection.Success {
				primaryMHID = &selection.Primary.ID
				if selection.Backup != nil {
					backupMHID = &selection.Backup.ID
				}
			}
		}

		assignment, won, err := p.assignments.Insert(ctx, meetingID, mc.ID, primaryMHID, backupMHID, time.Now())
		if err != nil {
			p.logger.Error("writing assignment record", "error", err, "meeting_id", meetingID, "mc_id", mc.ID)
			telemetry.PlacementAttemptsTotal.WithLabelValues("error").Inc()
			p.logPlacement(meetingID, mc.ID, "error", "writing_assignment_failed")
			return PlacementResult{Reason: RejectionNoneAvailable}
		}
		if !won {
			// A concurrent GC replica already placed this meeting; honor
			// that assignment instead of the one we just negotiated.
			telemetry.PlacementAttemptsTotal.WithLabelValues("race_resolved").Inc()
			if existingMC, mcErr := p.mcStore.ByID(ctx, assignment.MCID); mcErr == nil {
				p.logPlacement(meetingID, existingMC.ID, "reused", "race_resolved")
				return PlacementResult{Assignment: &AssignmentInfo{MeetingID: meetingID, MCID: existingMC.ID, Endpoint: existingMC.Endpoint}}
			}
		}

		telemetry.PlacementAttemptsTotal.WithLabelValues("assigned").Inc()
		p.logPlacement(meetingID, mc.ID, "assigned", "")
		return PlacementResult{Assignment: &AssignmentInfo{MeetingID: meetingID, MCID: mc.ID, Endpoint: mc.Endpoint}}
	}

	telemetry.PlacementAttemptsTotal.WithLabelValues("rejected").Inc()
	telemetry.PlacementRejectionsTotal.WithLabelValues(string(RejectionNoneAvailable)).Inc()
	p.logPlacement(meetingID, "", "rejected", string(RejectionNoneAvailable))
	return PlacementResult{Reason: RejectionNoneAvailable}
}

// RunCleanup runs the background task from spec §4.7: end assignments whose
// MC has been unhealthy past staleThreshold, and purge rows ended longer
// than purgeAfter ago.
func (p *PlacementEngine) RunCleanup(ctx context.Context, interval, staleThreshold, purgeAfter time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ended, err := p.assignments.EndStaleAssignments(ctx, time.Now().Add(-staleThreshold))
			if err != nil {
				p.logger.Error("ending stale assignments", "error", err)
			} else if ended > 0 {
				telemetry.AssignmentsCleanedTotal.WithLabelValues("ended").Add(float64(ended))
			}

			purged, err := p.assignments.PurgeEnded(ctx, time.Now().Add(-purgeAfter))
			if err != nil {
				p.logger.Error("purging ended assignments", "error", err)
			} else if purged > 0 {
				telemetry.AssignmentsCleanedTotal.WithLabelValues("purged").Add(float64(purged))
			}
		}
	}
}
