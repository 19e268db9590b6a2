package keys

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darktower/control-plane/internal/crypto"
)

// ErrNotFound is returned by Store lookups that find no matching row.
var ErrNotFound = errors.New("keys: not found")

// Store abstracts signing_keys persistence so Manager can be tested against
// an in-memory fake instead of a live Postgres instance.
type Store interface {
	Insert(ctx context.Context, key SigningKey) error
	Active(ctx context.Context) (SigningKey, error)
	Rotating(ctx context.Context) (SigningKey, error)
	Verifiable(ctx context.Context, retiredCutoff time.Time) ([]SigningKey, error)
	PromoteRotating(ctx context.Context, retiringKeyID, promotingKeyID string, now time.Time) error
}

// PGStore is the Postgres-backed Store implementation.
type PGStore struct {
	Pool *pgxpool.Pool
}

func (s *PGStore) Insert(ctx context.Context, key SigningKey) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO signing_keys (key_id, algorithm, public_key, ciphertext, nonce, tag, status, created_at)
		VALUES ($1, 'Ed25519', $2, $3, $4, $5, $6, $7)`,
		key.KeyID, []byte(key.PublicKey), key.Envelope.Ciphertext, key.Envelope.Nonce, key.Envelope.Tag, key.Status, key.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting signing key: %w", err)
	}
	return nil
}

func (s *PGStore) Active(ctx context.Context) (SigningKey, error) {
	return s.queryOne(ctx, `
		SELECT key_id, public_key, ciphertext, nonce, tag, status, created_at, rotated_at, retired_at
		FROM signing_keys WHERE status = 'active'`)
}

func (s *PGStore) Rotating(ctx context.Context) (SigningKey, error) {
	return s.queryOne(ctx, `
		SELECT key_id, public_key, ciphertext, nonce, tag, status, created_at, rotated_at, retired_at
		FROM signing_keys WHERE status = 'rotating'`)
}

func (s *PGStore) queryOne(ctx context.Context, query string, args ...any) (SigningKey, error) {
	row := s.Pool.QueryRow(ctx, query, args...)
	key, err := scanKey(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SigningKey{}, ErrNotFound
		}
		return SigningKey{}, fmt.Errorf("querying signing key: %w", err)
	}
	return key, nil
}

func (s *PGStore) Verifiable(ctx context.Context, retiredCutoff time.Time) ([]SigningKey, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT key_id, public_key, ciphertext, nonce, tag, status, created_at, rotated_at, retired_at
		FROM signing_keys
		WHERE status IN ('active', 'rotating')
		   OR (status = 'retired' AND retired_at > $1)`, retiredCutoff)
	if err != nil {
		return nil, fmt.Errorf("querying verifiable signing keys: %w", err)
	}
	defer rows.Close()

	var out []SigningKey
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning signing key: %w", err)
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

func (s *PGStore) PromoteRotating(ctx context.Context, retiringKeyID, promotingKeyID string, now time.Time) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning promote transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE signing_keys SET status = 'retired', retired_at = $1 WHERE key_id = $2 AND status = 'active'`,
		now, retiringKeyID,
	); err != nil {
		return fmt.Errorf("retiring old active key: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE signing_keys SET status = 'active', rotated_at = $1 WHERE key_id = $2 AND status = 'rotating'`,
		now, promotingKeyID,
	); err != nil {
		return fmt.Errorf("promoting rotating key: %w", err)
	}

	return tx.Commit(ctx)
}

// rowScanner is satisfied by both pgx.Row (QueryRow) and pgx.Rows (Query).
type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (SigningKey, error) {
	var (
		key        SigningKey
		pub        []byte
		ciphertext []byte
		nonce      []byte
		tag        []byte
	)
	if err := row.Scan(&key.KeyID, &pub, &ciphertext, &nonce, &tag, &key.Status, &key.CreatedAt, &key.RotatedAt, &key.RetiredAt); err != nil {
		return SigningKey{}, err
	}
	key.PublicKey = pub
	key.Envelope = crypto.Envelope{Ciphertext: ciphertext, Nonce: nonce, Tag: tag}
	return key, nil
}
