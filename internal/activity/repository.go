// Package activity is the append-only audit trail plus the live notification
// fan-out. Every module records what happened here; connected observers get
// the same records pushed over a streaming connection in publish order.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is what callers record; the repository adds identity and timestamp.
type Entry struct {
	Type          string         `json:"type"`
	Message       string         `json:"message"`
	TransactionID *uuid.UUID     `json:"transactionId,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// Record is a persisted audit row.
type Record struct {
	ID            uuid.UUID      `json:"id"`
	Type          string         `json:"type"`
	Message       string         `json:"message"`
	TransactionID *uuid.UUID     `json:"transactionId,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// Repository persists activity log rows. Append-only: no update or delete
// statements exist here.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new activity repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends one audit row and returns it with identity and timestamp.
func (r *Repository) Insert(ctx context.Context, e Entry) (Record, error) {
	var detailsJSON []byte
	if e.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(e.Details)
		if err != nil {
			return Record{}, fmt.Errorf("marshal activity details: %w", err)
		}
	}

	rec := Record{
		Type:          e.Type,
		Message:       e.Message,
		TransactionID: e.TransactionID,
		Details:       e.Details,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO activity_log (type, message, transaction_id, details)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		e.Type, e.Message, e.TransactionID, detailsJSON,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("insert activity: %w", err)
	}
	return rec, nil
}

// ListParams filters the activity listing.
type ListParams struct {
	TransactionID *uuid.UUID
	Type          string
	Limit         int
}

// List returns audit rows, newest first.
func (r *Repository) List(ctx context.Context, p ListParams) ([]Record, error) {
	limit := p.Limit
	if limit < 1 || limit > 500 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, type, message, transaction_id, details, created_at
		FROM activity_log
		WHERE ($1::uuid IS NULL OR transaction_id = $1)
		  AND ($2 = '' OR type = $2)
		ORDER BY created_at DESC
		LIMIT $3`,
		p.TransactionID, p.Type, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var rec Record
		var detailsJSON []byte
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.Message, &rec.TransactionID, &detailsJSON, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity row: %w", err)
		}
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &rec.Details); err != nil {
				return nil, fmt.Errorf("unmarshal activity details: %w", err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity rows: %w", err)
	}
	return records, nil
}
