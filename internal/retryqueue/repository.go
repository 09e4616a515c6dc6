package retryqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fieldserve_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Status tracks an entry through the claim cycle.
type Status string

const (
	// StatusPending entries are claimable once due.
	StatusPending Status = "pending"
	// StatusClaimed entries are in flight with a dispatcher/worker.
	StatusClaimed Status = "claimed"
	// StatusSucceeded entries are retired after a successful redrive.
	StatusSucceeded Status = "succeeded"
	// StatusDeadLetter entries have exhausted their attempt budget. Kept for
	// audit, never claimed again.
	StatusDeadLetter Status = "dead_letter"
)

// Entry is one pending redrive.
type Entry struct {
	ID            uuid.UUID       `json:"id"`
	Operation     string          `json:"operation"`
	Payload       json.RawMessage `json:"payload"`
	TransactionID *uuid.UUID      `json:"transactionId,omitempty"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"maxAttempts"`
	NextAttemptAt time.Time       `json:"nextAttemptAt"`
	LastError     *string         `json:"lastError,omitempty"`
	IsDeadLetter  bool            `json:"isDeadLetter"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// InsertParams describes a new retry entry.
type InsertParams struct {
	Operation     string
	Payload       any
	TransactionID *uuid.UUID
	MaxAttempts   int
	Delay         time.Duration
	LastError     string
}

// Repository persists retry queue entries in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new retry queue repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert adds a pending entry due after p.Delay.
func (r *Repository) Insert(ctx context.Context, p InsertParams) (uuid.UUID, error) {
	if p.Operation == "" {
		return uuid.Nil, fmt.Errorf("operation is required")
	}
	if p.MaxAttempts < 1 {
		return uuid.Nil, fmt.Errorf("maxAttempts must be at least 1")
	}

	payloadBytes, err := json.Marshal(p.Payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal payload: %w", err)
	}

	var lastError *string
	if p.LastError != "" {
		lastError = &p.LastError
	}

	var id uuid.UUID
	err = r.pool.QueryRow(ctx, `
		INSERT INTO retry_queue
			(operation, payload, transaction_id, max_attempts, next_attempt_at, last_error, status)
		VALUES ($1, $2, $3, $4, now() + $5::interval, $6, 'pending')
		RETURNING id`,
		p.Operation, payloadBytes, p.TransactionID, p.MaxAttempts, p.Delay.String(), lastError,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert retry entry: %w", err)
	}
	return id, nil
}

// ClaimDue atomically claims up to limit due entries, oldest-due first so no
// entry starves. FOR UPDATE SKIP LOCKED plus the status flip guarantees two
// pollers never claim the same row: a double redrive could create two
// external jobs for one transaction.
func (r *Repository) ClaimDue(ctx context.Context, limit int) ([]Entry, error) {
	if limit < 1 {
		limit = 50
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `WITH cte AS (
		SELECT id
		FROM retry_queue
		WHERE status = 'pending' AND NOT is_dead_letter AND next_attempt_at <= now()
		ORDER BY next_attempt_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	)
	UPDATE retry_queue q
	SET status = 'claimed', updated_at = now()
	FROM cte
	WHERE q.id = cte.id
	RETURNING q.id, q.operation, q.payload, q.transaction_id, q.attempts, q.max_attempts,
	          q.next_attempt_at, q.last_error, q.is_dead_letter, q.status, q.created_at`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return results, nil
}

// GetByID retrieves one entry.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Entry, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, operation, payload, transaction_id, attempts, max_attempts,
		       next_attempt_at, last_error, is_dead_letter, status, created_at
		FROM retry_queue
		WHERE id = $1`,
		id,
	)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, apperr.NotFound("retry entry not found")
		}
		return Entry{}, fmt.Errorf("get retry entry: %w", err)
	}
	return entry, nil
}

// MarkAttempt increments the attempt counter for a claimed entry and returns
// the new count.
func (r *Repository) MarkAttempt(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	err := r.pool.QueryRow(ctx, `
		UPDATE retry_queue
		SET attempts = attempts + 1, updated_at = now()
		WHERE id = $1 AND status = 'claimed'
		RETURNING attempts`,
		id,
	).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperr.Conflict("retry entry is not claimed")
		}
		return 0, fmt.Errorf("mark attempt: %w", err)
	}
	return attempts, nil
}

// Retire marks a claimed entry as succeeded.
func (r *Repository) Retire(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE retry_queue
		SET status = 'succeeded', last_error = NULL, updated_at = now()
		WHERE id = $1 AND status = 'claimed'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("retire retry entry: %w", err)
	}
	return nil
}

// Reschedule releases a claimed entry back to pending with a new due time.
func (r *Repository) Reschedule(ctx context.Context, id uuid.UUID, delay time.Duration, lastError string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE retry_queue
		SET status = 'pending', next_attempt_at = now() + $2::interval,
		    last_error = $3, updated_at = now()
		WHERE id = $1 AND status = 'claimed' AND NOT is_dead_letter`,
		id, delay.String(), lastError,
	)
	if err != nil {
		return fmt.Errorf("reschedule retry entry: %w", err)
	}
	return nil
}

// MarkDeadLetter parks an entry permanently. Attempts are floored at
// max_attempts so an entry parked early (an unroutable operation, for
// example) still satisfies is_dead_letter => attempts >= max_attempts
// in the table itself, not only in service code.
func (r *Repository) MarkDeadLetter(ctx context.Context, id uuid.UUID, lastError string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE retry_queue
		SET status = 'dead_letter', is_dead_letter = TRUE,
			attempts = GREATEST(attempts, max_attempts),
			last_error = $2, updated_at = now()
		WHERE id = $1 AND is_dead_letter = FALSE`,
		id, lastError,
	)
	if err != nil {
		return fmt.Errorf("mark dead letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("retry entry not found or already dead-lettered")
	}
	return nil
}

// ListDeadLetters returns dead-lettered entries, newest first.
func (r *Repository) ListDeadLetters(ctx context.Context, limit int) ([]Entry, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, operation, payload, transaction_id, attempts, max_attempts,
		       next_attempt_at, last_error, is_dead_letter, status, created_at
		FROM retry_queue
		WHERE is_dead_letter
		ORDER BY updated_at DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var results []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return results, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var entry Entry
	var status string
	err := row.Scan(
		&entry.ID, &entry.Operation, &entry.Payload, &entry.TransactionID,
		&entry.Attempts, &entry.MaxAttempts, &entry.NextAttemptAt,
		&entry.LastError, &entry.IsDeadLetter, &status, &entry.CreatedAt,
	)
	if err != nil {
		return Entry{}, err
	}
	entry.Status = Status(status)
	return entry, nil
}
