package ac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a client_id has no matching row.
var ErrNotFound = errors.New("ac: not found")

// ServiceClient is the persisted ServiceClient entity from spec §3.
type ServiceClient struct {
	ClientID          string
	ClientSecretHash  string
	Scopes            []string
	OrgID             string
	DisabledAt        *time.Time
	CreatedAt         time.Time
}

// ClientStore abstracts service_clients persistence.
type ClientStore interface {
	Insert(ctx context.Context, c ServiceClient) error
	ByID(ctx context.Context, clientID string) (ServiceClient, error)
	UpdateSecretHash(ctx context.Context, clientID, hash string) error
	Disable(ctx context.Context, clientID string, at time.Time) error
	Delete(ctx context.Context, clientID string) error
}

// PGClientStore is the Postgres-backed ClientStore implementation.
type PGClientStore struct {
	Pool *pgxpool.Pool
}

func (s *PGClientStore) Insert(ctx context.Context, c ServiceClient) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO service_clients (client_id, client_secret_hash, scopes, org_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		c.ClientID, c.ClientSecretHash, c.Scopes, c.OrgID, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting service client: %w", err)
	}
	return nil
}

func (s *PGClientStore) ByID(ctx context.Context, clientID string) (ServiceClient, error) {
	var c ServiceClient
	err := s.Pool.QueryRow(ctx, `
		SELECT client_id, client_secret_hash, scopes, org_id, disabled_at, created_at
		FROM service_clients WHERE client_id = $1`, clientID,
	).Scan(&c.ClientID, &c.ClientSecretHash, &c.Scopes, &c.OrgID, &c.DisabledAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ServiceClient{}, ErrNotFound
		}
		return ServiceClient{}, fmt.Errorf("querying service client: %w", err)
	}
	return c, nil
}

func (s *PGClientStore) UpdateSecretHash(ctx context.Context, clientID, hash string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE service_clients SET client_secret_hash = $1 WHERE client_id = $2`, hash, clientID)
	if err != nil {
		return fmt.Errorf("rotating service client secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGClientStore) Disable(ctx context.Context, clientID string, at time.Time) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE service_clients SET disabled_at = $1 WHERE client_id = $2`, at, clientID)
	if err != nil {
		return fmt.Errorf("disabling service client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGClientStore) Delete(ctx context.Context, clientID string) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM service_clients WHERE client_id = $1`, clientID)
	if err != nil {
		return fmt.Errorf("deleting service client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
