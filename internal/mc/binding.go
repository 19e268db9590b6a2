package mc

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	dtcrypto "github.com/darktower/control-plane/internal/crypto"
	"github.com/darktower/control-plane/internal/telemetry"
)

// ErrInvalidBinding is returned for every binding-verification failure —
// absent record, expired record, malformed token, and tag mismatch are all
// folded into this one generic error so the failing field is never
// disclosed to the caller, per spec §4.9.
var ErrInvalidBinding = errors.New("mc: invalid binding")

// BindingRecord is the state persisted between issuing a binding token and
// a client redeeming it to reconnect.
type BindingRecord struct {
	CorrelationID string
	ParticipantID string
	Nonce         []byte
	IssuedAt      time.Time
}

// BindingStore persists BindingRecords with a TTL. The Redis-backed
// implementation lives in redis_store.go; tests use an in-memory fake so
// binding-manager logic can be exercised without a live Redis.
type BindingStore interface {
	Put(ctx context.Context, meetingID string, rec BindingRecord, ttl time.Duration) error
	Take(ctx context.Context, meetingID, correlationID string) (BindingRecord, bool, error)
}

// BindingManager implements C9: per-meeting HKDF key derivation, tag
// issuance, and constant-time verification with single-use rotation.
type BindingManager struct {
	master []byte
	store  BindingStore
	ttl    time.Duration
}

// NewBindingManager constructs a BindingManager. master must be >= 32
// bytes; see internal/crypto.DeriveKey.
func NewBindingManager(master []byte, store BindingStore, ttl time.Duration) *BindingManager {
	return &BindingManager{master: master, store: store, ttl: ttl}
}

func (b *BindingManager) meetingKey(meetingID string) ([]byte, error) {
	return dtcrypto.DeriveKey(b.master, []byte(meetingID), "session-binding", 32)
}

func tagFor(key []byte, correlationID, participantID string, nonce []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(correlationID))
	mac.Write([]byte(participantID))
	mac.Write(nonce)
	return hex.EncodeToString(mac.Sum(nil))
}

// Issue mints a fresh correlation_id/binding_token pair for participantID
// joining meetingID.
func (b *BindingManager) Issue(ctx context.Context, meetingID, participantID string) (correlationID, token string, err error) {
	key, err := b.meetingKey(meetingID)
	if err != nil {
		return "", "", fmt.Errorf("deriving meeting key: %w", err)
	}

	nonce, err := dtcrypto.RandomBytes(16)
	if err != nil {
		return "", "", fmt.Errorf("generating nonce: %w", err)
	}

	correlationID = uuid.NewString()
	tag := tagFor(key, correlationID, participantID, nonce)

	rec := BindingRecord{
		CorrelationID: correlationID,
		ParticipantID: participantID,
		Nonce:         nonce,
		IssuedAt:      time.Now(),
	}
	if err := b.store.Put(ctx, meetingID, rec, b.ttl); err != nil {
		return "", "", fmt.Errorf("persisting binding record: %w", err)
	}

	return correlationID, tag, nil
}

// Revoke invalidates a previously issued binding record so it can never be
// redeemed via VerifyAndRotate again — used when a participant is kicked,
// so a pre-kick correlation_id/token pair can't be used to rejoin.
func (b *BindingManager) Revoke(ctx context.Context, meetingID, correlationID string) error {
	if correlationID == "" {
		return nil
	}
	if _, _, err := b.store.Take(ctx, meetingID, correlationID); err != nil {
		return fmt.Errorf("revoking binding record: %w", err)
	}
	return nil
}

// VerifyAndRotate redeems {correlationID, token} on reconnect: the record
// is single-use, so a successful verification deletes it and issues a new
// pair in the same call (the "rotation" spec §4.9 requires).
func (b *BindingManager) VerifyAndRotate(ctx context.Context, meetingID, correlationID, token string) (newCorrelationID, newToken, participantID string, err error) {
	if len(token) != hex.EncodedLen(sha256.Size) {
		telemetry.BindingVerificationsTotal.WithLabelValues("malformed").Inc()
		return "", "", "", ErrInvalidBinding
	}
	if _, err := hex.DecodeString(token); err != nil {
		telemetry.BindingVerificationsTotal.WithLabelValues("malformed").Inc()
		return "", "", "", ErrInvalidBinding
	}

	rec, ok, err := b.store.Take(ctx, meetingID, correlationID)
	if err != nil {
		return "", "", "", fmt.Errorf("loading binding record: %w", err)
	}
	if !ok {
		telemetry.BindingVerificationsTotal.WithLabelValues("not_found").Inc()
		return "", "", "", ErrInvalidBinding
	}

	key, err := b.meetingKey(meetingID)
	if err != nil {
		return "", "", "", fmt.Errorf("deriving meeting key: %w", err)
	}

	expected := tagFor(key, rec.CorrelationID, rec.ParticipantID, rec.Nonce)
	if !hmac.Equal([]byte(expected), []byte(token)) {
		telemetry.BindingVerificationsTotal.WithLabelValues("mismatch").Inc()
		return "", "", "", ErrInvalidBinding
	}

	telemetry.BindingVerificationsTotal.WithLabelValues("ok").Inc()

	newCorrelationID, newToken, err = b.Issue(ctx, meetingID, rec.ParticipantID)
	if err != nil {
		return "", "", "", err
	}
	return newCorrelationID, newToken, rec.ParticipantID, nil
}
