package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fieldserve_backend/internal/transaction/domain"
	"fieldserve_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const transactionNotFoundMessage = "transaction not found"

// Repository persists transactions and their append-only status history.
// Every status change and its history entry are written in one database
// transaction; no method rewrites an existing history row.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new transaction repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateParams holds the fields captured at intake time.
type CreateParams struct {
	CustomerName  string
	CustomerPhone string
	CustomerEmail string
	VehicleInfo   string
	Source        string
	RawPayload    map[string]string
}

// Create inserts a new transaction in pending and appends the initial
// history entry.
func (r *Repository) Create(ctx context.Context, p CreateParams) (domain.Transaction, error) {
	rawJSON, err := json.Marshal(p.RawPayload)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("marshal raw payload: %w", err)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Transaction{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var txn domain.Transaction
	err = tx.QueryRow(ctx, `
		INSERT INTO transactions
			(customer_name, customer_phone, customer_email, vehicle_info, source, raw_payload, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')
		RETURNING id, status, retry_count, created_at, updated_at`,
		p.CustomerName, p.CustomerPhone, p.CustomerEmail, p.VehicleInfo, p.Source, rawJSON,
	).Scan(&txn.ID, &txn.Status, &txn.RetryCount, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	if err := appendHistory(ctx, tx, txn.ID, domain.StatusPending, "intake"); err != nil {
		return domain.Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Transaction{}, err
	}

	txn.CustomerName = p.CustomerName
	txn.CustomerPhone = p.CustomerPhone
	txn.CustomerEmail = p.CustomerEmail
	txn.VehicleInfo = p.VehicleInfo
	txn.Source = p.Source
	txn.RawPayload = p.RawPayload
	return txn, nil
}

// GetByID retrieves a transaction.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	var txn domain.Transaction
	var rawJSON []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, customer_name, customer_phone, customer_email, vehicle_info, source,
		       raw_payload, status, retry_count, last_retry_at, error_message,
		       external_job_id, archived_at, created_at, updated_at
		FROM transactions
		WHERE id = $1`,
		id,
	).Scan(
		&txn.ID, &txn.CustomerName, &txn.CustomerPhone, &txn.CustomerEmail, &txn.VehicleInfo,
		&txn.Source, &rawJSON, &txn.Status, &txn.RetryCount, &txn.LastRetryAt,
		&txn.ErrorMessage, &txn.ExternalJobID, &txn.ArchivedAt, &txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, apperr.NotFound(transactionNotFoundMessage)
		}
		return domain.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}

	if len(rawJSON) > 0 {
		if err := json.Unmarshal(rawJSON, &txn.RawPayload); err != nil {
			return domain.Transaction{}, fmt.Errorf("unmarshal raw payload: %w", err)
		}
	}
	return txn, nil
}

// ClaimProcessing atomically moves a pending transaction to processing.
// Returns false when the transaction is not pending: another worker already
// claimed it, or it has finished. The conditional UPDATE is the only path
// out of pending, so concurrent workers race safely.
func (r *Repository) ClaimProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.transition(ctx, id, domain.StatusPending, domain.StatusProcessing, "worker")
}

// MarkSucceeded finishes a processing transaction and stores the ERP job id.
func (r *Repository) MarkSucceeded(ctx context.Context, id uuid.UUID, externalJobID string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE transactions
		SET status = 'success', external_job_id = $2, error_message = NULL, updated_at = now()
		WHERE id = $1 AND status = 'processing'`,
		id, externalJobID,
	)
	if err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("transaction is not processing")
	}

	if err := appendHistory(ctx, tx, id, domain.StatusSuccess, "worker"); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// MarkFailed finishes a processing transaction with an error message.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE transactions
		SET status = 'failed', error_message = $2, updated_at = now()
		WHERE id = $1 AND status = 'processing'`,
		id, errorMessage,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("transaction is not processing")
	}

	if err := appendHistory(ctx, tx, id, domain.StatusFailed, "worker"); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Requeue atomically re-enters a failed transaction into pending,
// incrementing retry_count and clearing the error message. The conditional
// UPDATE guarantees concurrent requeues of the same transaction never
// double-increment: only the caller that observes status='failed' wins.
// Returns the new retry count.
func (r *Repository) Requeue(ctx context.Context, id uuid.UUID, triggeredBy string) (int, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var retryCount int
	err = tx.QueryRow(ctx, `
		UPDATE transactions
		SET status = 'pending', retry_count = retry_count + 1,
		    last_retry_at = now(), error_message = NULL, updated_at = now()
		WHERE id = $1 AND status = 'failed'
		RETURNING retry_count`,
		id,
	).Scan(&retryCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperr.Conflict("transaction is not failed")
		}
		return 0, fmt.Errorf("requeue transaction: %w", err)
	}

	if err := appendHistory(ctx, tx, id, domain.StatusPending, triggeredBy); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return retryCount, nil
}

// Archive soft-archives a transaction. Administrative reset only; rows are
// never deleted.
func (r *Repository) Archive(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions SET archived_at = now(), updated_at = now()
		WHERE id = $1 AND archived_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("archive transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(transactionNotFoundMessage)
	}
	return nil
}

// ListHistory returns the status history, oldest first.
func (r *Repository) ListHistory(ctx context.Context, id uuid.UUID) ([]domain.HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, status, triggered_by, created_at
		FROM transaction_status_history
		WHERE transaction_id = $1
		ORDER BY created_at ASC, id ASC`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.HistoryEntry, 0)
	for rows.Next() {
		var entry domain.HistoryEntry
		if err := rows.Scan(&entry.ID, &entry.Status, &entry.TriggeredBy, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// FindRecentDuplicate returns the id of a transaction with the same phone or
// email created within the window, if any. Used by intake to suppress
// double-submitted forms.
func (r *Repository) FindRecentDuplicate(ctx context.Context, phone, email string, window time.Duration) (*uuid.UUID, error) {
	if phone == "" && email == "" {
		return nil, nil
	}

	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		SELECT id FROM transactions
		WHERE created_at > now() - $3::interval
		  AND (($1 <> '' AND customer_phone = $1) OR ($2 <> '' AND customer_email = $2))
		ORDER BY created_at DESC
		LIMIT 1`,
		phone, email, window.String(),
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find recent duplicate: %w", err)
	}
	return &id, nil
}

// transition performs a compare-and-swap status change. The transition
// table is checked first so an illegal move fails loudly instead of
// silently matching zero rows.
func (r *Repository) transition(ctx context.Context, id uuid.UUID, from, to domain.Status, triggeredBy string) (bool, error) {
	if !from.Valid() || !to.Valid() {
		return false, apperr.Internal(fmt.Sprintf("unknown transaction status %q -> %q", from, to))
	}
	if !domain.CanTransition(from, to) {
		return false, apperr.Conflict(fmt.Sprintf("illegal status transition %s -> %s", from, to))
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE transactions SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return false, fmt.Errorf("transition %s->%s: %w", from, to, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if err := appendHistory(ctx, tx, id, to, triggeredBy); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func appendHistory(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.Status, triggeredBy string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO transaction_status_history (transaction_id, status, triggered_by)
		VALUES ($1, $2, $3)`,
		id, string(status), triggeredBy,
	)
	if err != nil {
		return fmt.Errorf("append status history: %w", err)
	}
	return nil
}
