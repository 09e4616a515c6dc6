package subcontractor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fieldserve_backend/platform/apperr"
)

// Repository persists the subcontractor directory in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new subcontractor repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateParams holds the fields for a new subcontractor.
type CreateParams struct {
	Name          string
	Phone         string
	Email         string
	ServiceAreas  []string
	Specialties   []string
	Rating        float64
	MaxJobsPerDay int
}

// Create inserts a new active subcontractor.
func (r *Repository) Create(ctx context.Context, p CreateParams) (Subcontractor, error) {
	var sub Subcontractor
	err := r.pool.QueryRow(ctx, `
		INSERT INTO subcontractors (name, phone, email, service_areas, specialties, rating, max_jobs_per_day)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, name, phone, email, service_areas, specialties, rating,
		          is_active, max_jobs_per_day, deactivated_at, created_at, updated_at`,
		p.Name, p.Phone, p.Email, p.ServiceAreas, p.Specialties, p.Rating, p.MaxJobsPerDay,
	).Scan(&sub.ID, &sub.Name, &sub.Phone, &sub.Email, &sub.ServiceAreas, &sub.Specialties,
		&sub.Rating, &sub.IsActive, &sub.MaxJobsPerDay, &sub.DeactivatedAt, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return Subcontractor{}, fmt.Errorf("create subcontractor: %w", err)
	}
	return sub, nil
}

// UpdateParams holds the mutable directory fields.
type UpdateParams struct {
	Name          string
	Phone         string
	Email         string
	ServiceAreas  []string
	Specialties   []string
	Rating        float64
	MaxJobsPerDay int
}

// Update replaces the directory fields of one subcontractor.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, p UpdateParams) (Subcontractor, error) {
	var sub Subcontractor
	err := r.pool.QueryRow(ctx, `
		UPDATE subcontractors
		SET name = $2, phone = $3, email = $4, service_areas = $5,
		    specialties = $6, rating = $7, max_jobs_per_day = $8, updated_at = now()
		WHERE id = $1
		RETURNING id, name, phone, email, service_areas, specialties, rating,
		          is_active, max_jobs_per_day, deactivated_at, created_at, updated_at`,
		id, p.Name, p.Phone, p.Email, p.ServiceAreas, p.Specialties, p.Rating, p.MaxJobsPerDay,
	).Scan(&sub.ID, &sub.Name, &sub.Phone, &sub.Email, &sub.ServiceAreas, &sub.Specialties,
		&sub.Rating, &sub.IsActive, &sub.MaxJobsPerDay, &sub.DeactivatedAt, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Subcontractor{}, apperr.NotFound("subcontractor not found")
	}
	if err != nil {
		return Subcontractor{}, fmt.Errorf("update subcontractor: %w", err)
	}
	return sub, nil
}

// Deactivate removes a partner from dispatch without deleting history.
func (r *Repository) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE subcontractors
		SET is_active = false, deactivated_at = now(), updated_at = now()
		WHERE id = $1 AND is_active`,
		id,
	)
	if err != nil {
		return fmt.Errorf("deactivate subcontractor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("active subcontractor not found")
	}
	return nil
}

// GetByID returns one subcontractor.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Subcontractor, error) {
	var sub Subcontractor
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, phone, email, service_areas, specialties, rating,
		       is_active, max_jobs_per_day, deactivated_at, created_at, updated_at
		FROM subcontractors
		WHERE id = $1`,
		id,
	).Scan(&sub.ID, &sub.Name, &sub.Phone, &sub.Email, &sub.ServiceAreas, &sub.Specialties,
		&sub.Rating, &sub.IsActive, &sub.MaxJobsPerDay, &sub.DeactivatedAt, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Subcontractor{}, apperr.NotFound("subcontractor not found")
	}
	if err != nil {
		return Subcontractor{}, fmt.Errorf("get subcontractor: %w", err)
	}
	return sub, nil
}

// List returns all subcontractors, active first, newest first within each.
func (r *Repository) List(ctx context.Context) ([]Subcontractor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, phone, email, service_areas, specialties, rating,
		       is_active, max_jobs_per_day, deactivated_at, created_at, updated_at
		FROM subcontractors
		ORDER BY is_active DESC, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list subcontractors: %w", err)
	}
	defer rows.Close()
	return collectSubs(rows)
}

// ListActive returns the active directory for eligibility filtering.
func (r *Repository) ListActive(ctx context.Context) ([]Subcontractor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, phone, email, service_areas, specialties, rating,
		       is_active, max_jobs_per_day, deactivated_at, created_at, updated_at
		FROM subcontractors
		WHERE is_active`)
	if err != nil {
		return nil, fmt.Errorf("list active subcontractors: %w", err)
	}
	defer rows.Close()
	return collectSubs(rows)
}

func collectSubs(rows pgx.Rows) ([]Subcontractor, error) {
	subs := make([]Subcontractor, 0)
	for rows.Next() {
		var sub Subcontractor
		if err := rows.Scan(&sub.ID, &sub.Name, &sub.Phone, &sub.Email, &sub.ServiceAreas,
			&sub.Specialties, &sub.Rating, &sub.IsActive, &sub.MaxJobsPerDay,
			&sub.DeactivatedAt, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan subcontractor: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subcontractors: %w", err)
	}
	return subs, nil
}

// SetAvailability upserts one subcontractor's capacity for one day.
func (r *Repository) SetAvailability(ctx context.Context, a Availability) (Availability, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO subcontractor_availability (subcontractor_id, day, time_slots, max_jobs, current_jobs, is_available)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (subcontractor_id, day) DO UPDATE
		SET time_slots = EXCLUDED.time_slots,
		    max_jobs = EXCLUDED.max_jobs,
		    is_available = EXCLUDED.is_available
		RETURNING id, current_jobs`,
		a.SubcontractorID, a.Day, a.TimeSlots, a.MaxJobs, a.CurrentJobs, a.IsAvailable,
	).Scan(&a.ID, &a.CurrentJobs)
	if err != nil {
		return Availability{}, fmt.Errorf("set availability: %w", err)
	}
	return a, nil
}

// GetAvailabilityFor returns the availability rows for the given partners on
// one day. Partners without a row for that day simply have none to offer.
func (r *Repository) GetAvailabilityFor(ctx context.Context, subIDs []uuid.UUID, day string) ([]Availability, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, subcontractor_id, day::text, time_slots, max_jobs, current_jobs, is_available
		FROM subcontractor_availability
		WHERE subcontractor_id = ANY($1) AND day = $2`,
		subIDs, day,
	)
	if err != nil {
		return nil, fmt.Errorf("get availability: %w", err)
	}
	defer rows.Close()

	avail := make([]Availability, 0)
	for rows.Next() {
		var a Availability
		if err := rows.Scan(&a.ID, &a.SubcontractorID, &a.Day, &a.TimeSlots,
			&a.MaxJobs, &a.CurrentJobs, &a.IsAvailable); err != nil {
			return nil, fmt.Errorf("scan availability: %w", err)
		}
		avail = append(avail, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate availability: %w", err)
	}
	return avail, nil
}

// ReserveDaySlot takes one job slot for a partner on a day. The conditional
// UPDATE is the overbooking guard: current_jobs can never pass max_jobs no
// matter how many assignments race.
func (r *Repository) ReserveDaySlot(ctx context.Context, subID uuid.UUID, day string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE subcontractor_availability
		SET current_jobs = current_jobs + 1
		WHERE subcontractor_id = $1 AND day = $2
		  AND is_available AND current_jobs < max_jobs`,
		subID, day,
	)
	if err != nil {
		return fmt.Errorf("reserve day slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Capacity(fmt.Sprintf("subcontractor %s has no capacity on %s", subID, day))
	}
	return nil
}

// ReleaseDaySlot returns a previously reserved slot, floored at zero.
func (r *Repository) ReleaseDaySlot(ctx context.Context, subID uuid.UUID, day string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE subcontractor_availability
		SET current_jobs = current_jobs - 1
		WHERE subcontractor_id = $1 AND day = $2 AND current_jobs > 0`,
		subID, day,
	)
	if err != nil {
		return fmt.Errorf("release day slot: %w", err)
	}
	return nil
}
