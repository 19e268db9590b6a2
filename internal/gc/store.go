package gc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned by store lookups that find no matching row.
var ErrNotFound = errors.New("gc: not found")

// MCStore abstracts meeting_controllers persistence.
type MCStore interface {
	Upsert(ctx context.Context, mc MeetingController) error
	FastHeartbeat(ctx context.Context, id string, currentMeetings int32, loadScore float64, at time.Time) error
	ComprehensiveHeartbeat(ctx context.Context, mc MeetingController) error
	ByID(ctx context.Context, id string) (MeetingController, error)
	Candidates(ctx context.Context, region string) ([]MeetingController, error)
	MarkStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// MHStore abstracts media_handlers persistence.
type MHStore interface {
	Upsert(ctx context.Context, mh MediaHandler) error
	ByID(ctx context.Context, id string) (MediaHandler, error)
	Candidates(ctx context.Context, region string) ([]MediaHandler, error)
}

// AssignmentStore abstracts meeting_assignments persistence.
type AssignmentStore interface {
	Live(ctx context.Context, meetingID string) (MeetingAssignment, error)
	Insert(ctx context.Context, meetingID, mcID string, primaryMHID, backupMHID *string, at time.Time) (MeetingAssignment, bool, error)
	EndStaleAssignments(ctx context.Context, staleSince time.Time) (int64, error)
	PurgeEnded(ctx context.Context, endedBefore time.Time) (int64, error)
}

// PGMCStore is the Postgres-backed MCStore implementation.
type PGMCStore struct {
	Pool *pgxpool.Pool
}

func (s *PGMCStore) Upsert(ctx context.Context, mc MeetingController) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO meeting_controllers (id, region, endpoint, health_status, current_meetings, max_meetings, current_participants, max_participants, current_load_score, last_heartbeat_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (id) DO UPDATE SET
			region = EXCLUDED.region,
			endpoint = EXCLUDED.endpoint,
			health_status = EXCLUDED.health_status,
			current_meetings = EXCLUDED.current_meetings,
			max_meetings = EXCLUDED.max_meetings,
			current_participants = EXCLUDED.current_participants,
			max_participants = EXCLUDED.max_participants,
			current_load_score = EXCLUDED.current_load_score,
			last_heartbeat_at = EXCLUDED.last_heartbeat_at`,
		mc.ID, mc.Region, mc.Endpoint, mc.HealthStatus, mc.CurrentMeetings, mc.MaxMeetings, mc.CurrentParticipants, mc.MaxParticipants, mc.CurrentLoadScore, mc.LastHeartbeatAt,
	)
	if err != nil {
		return fmt.Errorf("upserting meeting controller: %w", err)
	}
	return nil
}

func (s *PGMCStore) FastHeartbeat(ctx context.Context, id string, currentMeetings int32, loadScore float64, at time.Time) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE meeting_controllers
		SET current_meetings = $2, current_load_score = $3, last_heartbeat_at = $4,
		    health_status = CASE WHEN health_status = 'unhealthy' THEN 'healthy' ELSE health_status END
		WHERE id = $1`,
		id, currentMeetings, loadScore, at,
	)
	if err != nil {
		return fmt.Errorf("recording fast heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGMCStore) ComprehensiveHeartbeat(ctx context.Context, mc MeetingController) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE meeting_controllers
		SET current_meetings = $2, max_meetings = $3, current_participants = $4, max_participants = $5,
		    current_load_score = $6, health_status = $7, last_heartbeat_at = $8
		WHERE id = $1`,
		mc.ID, mc.CurrentMeetings, mc.MaxMeetings, mc.CurrentParticipants, mc.MaxParticipants, mc.CurrentLoadScore, mc.HealthStatus, mc.LastHeartbeatAt,
	)
	if err != nil {
		return fmt.Errorf("recording comprehensive heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGMCStore) ByID(ctx context.Context, id string) (MeetingController, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, region, endpoint, health_status, current_meetings, max_meetings, current_participants, max_participants, current_load_score, last_heartbeat_at, created_at
		FROM meeting_controllers WHERE id = $1`, id)
	return scanMC(row)
}

func (s *PGMCStore) Candidates(ctx context.Context, region string) ([]MeetingController, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, region, endpoint, health_status, current_meetings, max_meetings, current_participants, max_participants, current_load_score, last_heartbeat_at, created_at
		FROM meeting_controllers
		WHERE region = $1 AND health_status IN ('healthy', 'degraded') AND current_meetings < max_meetings
		ORDER BY (current_meetings::float8 / NULLIF(max_meetings, 0)) ASC`, region)
	if err != nil {
		return nil, fmt.Errorf("querying mc candidates: %w", err)
	}
	defer rows.Close()

	var out []MeetingController
	for rows.Next() {
		mc, err := scanMC(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning mc candidate: %w", err)
		}
		out = append(out, mc)
	}
	return out, rows.Err()
}

func (s *PGMCStore) MarkStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE meeting_controllers
		SET health_status = 'unhealthy'
		WHERE last_heartbeat_at < $1 AND health_status NOT IN ('draining', 'unhealthy')`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("marking stale controllers unhealthy: %w", err)
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMC(row rowScanner) (MeetingController, error) {
	var mc MeetingController
	if err := row.Scan(&mc.ID, &mc.Region, &mc.Endpoint, &mc.HealthStatus, &mc.CurrentMeetings, &mc.MaxMeetings, &mc.CurrentParticipants, &mc.MaxParticipants, &mc.CurrentLoadScore, &mc.LastHeartbeatAt, &mc.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MeetingController{}, ErrNotFound
		}
		return MeetingController{}, err
	}
	return mc, nil
}

// PGMHStore is the Postgres-backed MHStore implementation.
type PGMHStore struct {
	Pool *pgxpool.Pool
}

func (s *PGMHStore) Upsert(ctx context.Context, mh MediaHandler) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO media_handlers (id, region, endpoint, health_status, capacity, load_score, last_heartbeat_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (id) DO UPDATE SET
			region = EXCLUDED.region,
			endpoint = EXCLUDED.endpoint,
			health_status = EXCLUDED.health_status,
			capacity = EXCLUDED.capacity,
			load_score = EXCLUDED.load_score,
			last_heartbeat_at = EXCLUDED.last_heartbeat_at`,
		mh.ID, mh.Region, mh.Endpoint, mh.HealthStatus, mh.Capacity, mh.LoadScore, mh.LastHeartbeatAt,
	)
	if err != nil {
		return fmt.Errorf("upserting media handler: %w", err)
	}
	return nil
}

func (s *PGMHStore) ByID(ctx context.Context, id string) (MediaHandler, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, region, endpoint, health_status, capacity, load_score, last_heartbeat_at, created_at
		FROM media_handlers WHERE id = $1`, id)

	var mh MediaHandler
	if err := row.Scan(&mh.ID, &mh.Region, &mh.Endpoint, &mh.HealthStatus, &mh.Capacity, &mh.LoadScore, &mh.LastHeartbeatAt, &mh.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MediaHandler{}, ErrNotFound
		}
		return MediaHandler{}, err
	}
	return mh, nil
}

func (s *PGMHStore) Candidates(ctx context.Context, region string) ([]MediaHandler, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, region, endpoint, health_status, capacity, load_score, last_heartbeat_at, created_at
		FROM media_handlers
		WHERE region = $1 AND health_status IN ('healthy', 'degraded')`, region)
	if err != nil {
		return nil, fmt.Errorf("querying mh candidates: %w", err)
	}
	defer rows.Close()

	var out []MediaHandler
	for rows.Next() {
		var mh MediaHandler
		if err := rows.Scan(&mh.ID, &mh.Region, &mh.Endpoint, &mh.HealthStatus, &mh.Capacity, &mh.LoadScore, &mh.LastHeartbeatAt, &mh.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning mh candidate: %w", err)
		}
		out = append(out, mh)
	}
	return out, rows.Err()
}

// PGAssignmentStore is the Postgres-backed AssignmentStore implementation.
type PGAssignmentStore struct {
	Pool *pgxpool.Pool
}

func (s *PGAssignmentStore) Live(ctx context.Context, meetingID string) (MeetingAssignment, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, meeting_id, mc_id, primary_mh_id, backup_mh_id, assigned_at, ended_at
		FROM meeting_assignments WHERE meeting_id = $1 AND ended_at IS NULL`, meetingID)
	return scanAssignment(row)
}

// Insert performs the atomic placement write: it only inserts a row if no
// live assignment already exists for meeting_id. The second return value
// reports whether this call performed the insert (false means a concurrent
// writer won the race and the returned assignment is the pre-existing one).
func (s *PGAssignmentStore) Insert(ctx context.Context, meetingID, mcID string, primaryMHID, backupMHID *string, at time.Time) (MeetingAssignment, bool, error) {
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO meeting_assignments (id, meeting_id, mc_id, primary_mh_id, backup_mh_id, assigned_at)
		SELECT gen_random_uuid(), $1, $2, $3, $4, $5
		WHERE NOT EXISTS (
			SELECT 1 FROM meeting_assignments WHERE meeting_id = $1 AND ended_at IS NULL
		)
		RETURNING id, meeting_id, mc_id, primary_mh_id, backup_mh_id, assigned_at, ended_at`,
		meetingID, mcID, primaryMHID, backupMHID, at,
	)
	assignment, err := scanAssignment(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			existing, liveErr := s.Live(ctx, meetingID)
			if liveErr != nil {
				return MeetingAssignment{}, false, fmt.Errorf("re-reading assignment after race: %w", liveErr)
			}
			return existing, false, nil
		}
		return MeetingAssignment{}, false, fmt.Errorf("inserting meeting assignment: %w", err)
	}
	return assignment, true, nil
}

func (s *PGAssignmentStore) EndStaleAssignments(ctx context.Context, staleSince time.Time) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE meeting_assignments a
		SET ended_at = now()
		FROM meeting_controllers mc
		WHERE a.mc_id = mc.id AND a.ended_at IS NULL
		  AND mc.health_status = 'unhealthy' AND mc.last_heartbeat_at < $1`, staleSince)
	if err != nil {
		return 0, fmt.Errorf("ending stale assignments: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PGAssignmentStore) PurgeEnded(ctx context.Context, endedBefore time.Time) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM meeting_assignments WHERE ended_at IS NOT NULL AND ended_at < $1`, endedBefore)
	if err != nil {
		return 0, fmt.Errorf("purging ended assignments: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanAssignment(row rowScanner) (MeetingAssignment, error) {
	var a MeetingAssignment
	if err := row.Scan(&a.ID, &a.MeetingID, &a.MCID, &a.PrimaryMHID, &a.BackupMHID, &a.AssignedAt, &a.EndedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MeetingAssignment{}, ErrNotFound
		}
		return MeetingAssignment{}, err
	}
	return a, nil
}
