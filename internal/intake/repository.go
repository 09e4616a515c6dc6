// Package intake is the public submission surface: API-key authenticated
// endpoints where external channels (web forms, call-center tooling,
// partner systems) submit service requests and damage photos.
package intake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fieldserve_backend/platform/apperr"
)

// APIKey identifies one intake channel. Keys are stored hashed; the label
// becomes the transaction's source.
type APIKey struct {
	ID         uuid.UUID
	Label      string
	IsActive   bool
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// Repository persists intake API keys in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new intake repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// HashKey returns the hex SHA-256 of a raw API key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// FindActiveByHash looks up an active API key by its hash.
func (r *Repository) FindActiveByHash(ctx context.Context, hash string) (APIKey, error) {
	var key APIKey
	err := r.pool.QueryRow(ctx, `
		SELECT id, label, is_active, created_at, last_used_at
		FROM intake_api_keys
		WHERE key_hash = $1 AND is_active`,
		hash,
	).Scan(&key.ID, &key.Label, &key.IsActive, &key.CreatedAt, &key.LastUsedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return APIKey{}, apperr.Unauthorized("invalid API key")
	}
	if err != nil {
		return APIKey{}, fmt.Errorf("find api key: %w", err)
	}
	return key, nil
}

// TouchLastUsed records key usage. Best effort; callers ignore the error.
func (r *Repository) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE intake_api_keys SET last_used_at = now() WHERE id = $1`, id)
	return err
}
