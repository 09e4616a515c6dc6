package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fieldserve_backend/platform/apperr"
)

// Repository persists job requests and subcontractor responses in
// PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new dispatch repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const jobRequestColumns = `id, transaction_id, customer_name, customer_phone, address, area_code,
	service_type, vehicle_info, preferred_date, preferred_time_slot, status,
	assigned_subcontractor_id, assigned_date, assigned_time_slot,
	estimated_duration_mins, created_at, updated_at`

func scanJobRequest(row pgx.Row) (JobRequest, error) {
	var jr JobRequest
	err := row.Scan(&jr.ID, &jr.TransactionID, &jr.CustomerName, &jr.CustomerPhone,
		&jr.Address, &jr.AreaCode, &jr.ServiceType, &jr.VehicleInfo,
		&jr.PreferredDate, &jr.PreferredTimeSlot, &jr.Status,
		&jr.AssignedSubcontractorID, &jr.AssignedDate, &jr.AssignedTimeSlot,
		&jr.EstimatedDurationMins, &jr.CreatedAt, &jr.UpdatedAt)
	return jr, err
}

// CreateParams holds the fields for a new job request.
type CreateParams struct {
	TransactionID         *uuid.UUID
	CustomerName          string
	CustomerPhone         string
	Address               string
	AreaCode              string
	ServiceType           string
	VehicleInfo           string
	PreferredDate         string
	PreferredTimeSlot     string
	EstimatedDurationMins int
}

// Create inserts a new job request in the pending state.
func (r *Repository) Create(ctx context.Context, p CreateParams) (JobRequest, error) {
	jr, err := scanJobRequest(r.pool.QueryRow(ctx, `
		INSERT INTO job_requests (transaction_id, customer_name, customer_phone, address,
			area_code, service_type, vehicle_info, preferred_date, preferred_time_slot,
			status, estimated_duration_mins)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+jobRequestColumns,
		p.TransactionID, p.CustomerName, p.CustomerPhone, p.Address, p.AreaCode,
		p.ServiceType, p.VehicleInfo, p.PreferredDate, p.PreferredTimeSlot,
		StatusPending, p.EstimatedDurationMins,
	))
	if err != nil {
		return JobRequest{}, fmt.Errorf("create job request: %w", err)
	}
	return jr, nil
}

// GetByID fetches one job request.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (JobRequest, error) {
	jr, err := scanJobRequest(r.pool.QueryRow(ctx,
		`SELECT `+jobRequestColumns+` FROM job_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return JobRequest{}, apperr.NotFound("job request not found")
	}
	if err != nil {
		return JobRequest{}, fmt.Errorf("get job request: %w", err)
	}
	return jr, nil
}

// List returns recent job requests, optionally filtered by status.
func (r *Repository) List(ctx context.Context, status Status, limit int) ([]JobRequest, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobRequestColumns+`
		FROM job_requests
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2`,
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list job requests: %w", err)
	}
	defer rows.Close()

	var out []JobRequest
	for rows.Next() {
		jr, err := scanJobRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job request: %w", err)
		}
		out = append(out, jr)
	}
	return out, rows.Err()
}

// AssignIfPending transitions a pending request to assigned. Returns false
// when the request was already assigned or expired, which is how concurrent
// acceptances lose the race.
func (r *Repository) AssignIfPending(ctx context.Context, id, subcontractorID uuid.UUID, day, timeSlot string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE job_requests
		SET status = $2, assigned_subcontractor_id = $3, assigned_date = $4,
		    assigned_time_slot = $5, updated_at = now()
		WHERE id = $1 AND status = $6`,
		id, StatusAssigned, subcontractorID, day, timeSlot, StatusPending)
	if err != nil {
		return false, fmt.Errorf("assign job request: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListPendingBefore returns pending requests created before the cutoff, for
// the expiry sweep.
func (r *Repository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]JobRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobRequestColumns+`
		FROM job_requests
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3`,
		StatusPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending job requests: %w", err)
	}
	defer rows.Close()

	var out []JobRequest
	for rows.Next() {
		jr, err := scanJobRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job request: %w", err)
		}
		out = append(out, jr)
	}
	return out, rows.Err()
}

// MarkExpired transitions a pending request to expired. Returns false when
// the request was assigned in the meantime.
func (r *Repository) MarkExpired(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE job_requests
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`,
		id, StatusExpired, StatusPending)
	if err != nil {
		return false, fmt.Errorf("expire job request: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ResponseParams holds the fields for a new subcontractor response.
type ResponseParams struct {
	JobRequestID       uuid.UUID
	SubcontractorID    uuid.UUID
	Response           ResponseKind
	AvailableTimeSlots []string
	ProposedDate       *string
	Reason             string
}

// InsertResponse appends a subcontractor's reply. The table is append-only;
// a subcontractor changing their mind produces a second row.
func (r *Repository) InsertResponse(ctx context.Context, p ResponseParams) (Response, error) {
	resp := Response{
		JobRequestID:       p.JobRequestID,
		SubcontractorID:    p.SubcontractorID,
		Response:           p.Response,
		AvailableTimeSlots: p.AvailableTimeSlots,
		ProposedDate:       p.ProposedDate,
		Reason:             p.Reason,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO subcontractor_responses (job_request_id, subcontractor_id, response,
			available_time_slots, proposed_date, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, responded_at`,
		p.JobRequestID, p.SubcontractorID, p.Response, p.AvailableTimeSlots,
		p.ProposedDate, p.Reason,
	).Scan(&resp.ID, &resp.RespondedAt)
	if err != nil {
		return Response{}, fmt.Errorf("insert response: %w", err)
	}
	return resp, nil
}

// ListResponses returns every reply for a job request, oldest first.
func (r *Repository) ListResponses(ctx context.Context, jobRequestID uuid.UUID) ([]Response, error) {
	return r.listResponses(ctx, jobRequestID, "")
}

// ListAvailableResponses returns only acceptances, oldest first. Order
// matters: the earliest acceptance wins the assignment.
func (r *Repository) ListAvailableResponses(ctx context.Context, jobRequestID uuid.UUID) ([]Response, error) {
	return r.listResponses(ctx, jobRequestID, ResponseAvailable)
}

func (r *Repository) listResponses(ctx context.Context, jobRequestID uuid.UUID, kind ResponseKind) ([]Response, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, job_request_id, subcontractor_id, response, available_time_slots,
		       proposed_date, reason, responded_at
		FROM subcontractor_responses
		WHERE job_request_id = $1 AND ($2 = '' OR response = $2)
		ORDER BY responded_at`,
		jobRequestID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	var out []Response
	for rows.Next() {
		var resp Response
		if err := rows.Scan(&resp.ID, &resp.JobRequestID, &resp.SubcontractorID,
			&resp.Response, &resp.AvailableTimeSlots, &resp.ProposedDate,
			&resp.Reason, &resp.RespondedAt); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		out = append(out, resp)
	}
	return out, rows.Err()
}
