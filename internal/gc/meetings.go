package gc

import (
	"context"
	"encoding/base32"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	dtcrypto "github.com/darktower/control-plane/internal/crypto"
)

// Meeting is the persisted row backing a human-shareable meeting code,
// created by POST /api/v1/meetings ahead of any MC placement.
type Meeting struct {
	ID        string
	Code      string
	Region    string
	CreatedBy string
	CreatedAt time.Time
}

// MeetingStore abstracts the meetings table.
type MeetingStore interface {
	Create(ctx context.Context, m Meeting) error
	ByCode(ctx context.Context, code string) (Meeting, error)
}

// PGMeetingStore is the Postgres-backed MeetingStore implementation.
type PGMeetingStore struct {
	Pool *pgxpool.Pool
}

func (s *PGMeetingStore) Create(ctx context.Context, m Meeting) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO meetings (id, code, region, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.Code, m.Region, m.CreatedBy, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting meeting: %w", err)
	}
	return nil
}

func (s *PGMeetingStore) ByCode(ctx context.Context, code string) (Meeting, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, code, region, created_by, created_at FROM meetings WHERE code = $1`, code)

	var m Meeting
	if err := row.Scan(&m.ID, &m.Code, &m.Region, &m.CreatedBy, &m.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Meeting{}, ErrNotFound
		}
		return Meeting{}, err
	}
	return m, nil
}

// meetingCodeAlphabet excludes visually ambiguous characters (0/O, 1/I), per
// the same "human-facing identifier" concern client_id suffixes don't have
// to account for.
const meetingCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var meetingCodeEncoding = base32.NewEncoding(meetingCodeAlphabet).WithPadding(base32.NoPadding)

func generateMeetingCode() (string, error) {
	b, err := dtcrypto.RandomBytes(5)
	if err != nil {
		return "", fmt.Errorf("generating meeting code: %w", err)
	}
	code := meetingCodeEncoding.EncodeToString(b)
	// Render as two dash-separated groups for readability, e.g. "AB3K-9ZQR".
	return strings.Join([]string{code[:4], code[4:]}, "-"), nil
}

// TokenIssuer issues a scoped meeting JWT for a participant about to join,
// implemented by an AC client over the signed internal transport.
type TokenIssuer interface {
	IssueMeetingToken(ctx context.Context, subject string, scopes []string) (token string, expiresIn int, err error)
}

// MeetingService implements the public GC surface of spec §6.2: meeting
// creation and join, tying together the meeting registry, the placement
// engine, the MH registry, and AC-issued participant tokens.
type MeetingService struct {
	meetings   MeetingStore
	placement  *PlacementEngine
	mcStore    MCStore
	mhStore    MHStore
	tokens     TokenIssuer
	defaultReg string
	logger     *slog.Logger
}

// NewMeetingService constructs a MeetingService.
func NewMeetingService(meetings MeetingStore, placement *PlacementEngine, mcStore MCStore, mhStore MHStore, tokens TokenIssuer, defaultRegion string, logger *slog.Logger) *MeetingService {
	return &MeetingService{
		meetings:   meetings,
		placement:  placement,
		mcStore:    mcStore,
		mhStore:    mhStore,
		tokens:     tokens,
		defaultReg: defaultRegion,
		logger:     logger,
	}
}

// CreateMeeting allocates a new meeting code. region is optional; when
// empty, the service's configured default region is used.
func (m *MeetingService) CreateMeeting(ctx context.Context, createdBy, region string) (string, error) {
	if region == "" {
		region = m.defaultReg
	}
	if err := validateRegion(region); err != nil {
		return "", fmt.Errorf("invalid region: %w", err)
	}

	code, err := generateMeetingCode()
	if err != nil {
		return "", err
	}

	meeting := Meeting{
		ID:        uuid.NewString(),
		Code:      code,
		Region:    region,
		CreatedBy: createdBy,
		CreatedAt: time.Now(),
	}
	if err := m.meetings.Create(ctx, meeting); err != nil {
		return "", fmt.Errorf("persisting meeting: %w", err)
	}
	return code, nil
}

// JoinReason enumerates why Join failed, mirrored onto HTTP status in the
// handler layer per spec §6.2.
type JoinReason string

const (
	JoinReasonUnknownCode   JoinReason = "unknown_code"
	JoinReasonNoneAvailable JoinReason = "none_available"
	JoinReasonTokenIssuance JoinReason = "token_issuance_failed"
)

// JoinResult is the outcome of Join.
type JoinResult struct {
	MCWebTransportEndpoint string
	MeetingToken           string
	PrimaryMH              string
	BackupMH               string
	Reason                 JoinReason
}

// Join implements POST /api/v1/meetings/{code}/join: resolves the meeting
// code to a region, places (or reuses a placement for) the meeting on an
// MC, and mints a scoped meeting token for the joining subject.
func (m *MeetingService) Join(ctx context.Context, code, subject string) (JoinResult, error) {
	meeting, err := m.meetings.ByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return JoinResult{Reason: JoinReasonUnknownCode}, nil
		}
		return JoinResult{}, fmt.Errorf("looking up meeting by code: %w", err)
	}

	result := m.placement.AssignMeeting(ctx, meeting.ID, meeting.Region, 1)
	if result.Assignment == nil {
		return JoinResult{Reason: JoinReasonNoneAvailable}, nil
	}

	scopes := []string{"meeting:join"}
	if subject != "" && subject == meeting.CreatedBy {
		scopes = append(scopes, "meeting:host")
	}
	token, expiresIn, err := m.tokens.IssueMeetingToken(ctx, subject, scopes)
	if err != nil {
		m.logger.Error("issuing meeting token", "error", err, "meeting_code", code)
		return JoinResult{Reason: JoinReasonTokenIssuance}, nil
	}
	_ = expiresIn

	join := JoinResult{
		MCWebTransportEndpoint: result.Assignment.Endpoint,
		MeetingToken:           token,
	}

	assignment, err := m.assignmentForMeeting(ctx, meeting.ID)
	if err == nil {
		if assignment.PrimaryMHID != nil {
			if mh, mhErr := m.mhEndpoint(ctx, *assignment.PrimaryMHID); mhErr == nil {
				join.PrimaryMH = mh
			}
		}
		if assignment.BackupMHID != nil {
			if mh, mhErr := m.mhEndpoint(ctx, *assignment.BackupMHID); mhErr == nil {
				join.BackupMH = mh
			}
		}
	}

	return join, nil
}

func (m *MeetingService) assignmentForMeeting(ctx context.Context, meetingID string) (MeetingAssignment, error) {
	return m.placement.assignments.Live(ctx, meetingID)
}

func (m *MeetingService) mhEndpoint(ctx context.Context, mhID string) (string, error) {
	mh, err := m.mhStore.ByID(ctx, mhID)
	if err != nil {
		return "", err
	}
	return mh.Endpoint, nil
}
