// Package subcontractor is the fulfillment partner directory: who exists,
// where they work, what they install, and their per-day capacity. Scoring is
// deliberately absent; the dispatch scheduler owns that.
package subcontractor

import (
	"time"

	"github.com/google/uuid"
)

// Subcontractor is one fulfillment partner.
type Subcontractor struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	Phone         string     `json:"phone"`
	Email         string     `json:"email,omitempty"`
	ServiceAreas  []string   `json:"serviceAreas"`
	Specialties   []string   `json:"specialties"`
	Rating        float64    `json:"rating"`
	IsActive      bool       `json:"isActive"`
	MaxJobsPerDay int        `json:"maxJobsPerDay"`
	DeactivatedAt *time.Time `json:"deactivatedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Availability is one subcontractor's capacity for one calendar day.
// A day is offerable iff IsAvailable && CurrentJobs < MaxJobs.
type Availability struct {
	ID              uuid.UUID `json:"id"`
	SubcontractorID uuid.UUID `json:"subcontractorId"`
	Day             string    `json:"day"` // YYYY-MM-DD
	TimeSlots       []string  `json:"timeSlots"`
	MaxJobs         int       `json:"maxJobs"`
	CurrentJobs     int       `json:"currentJobs"`
	IsAvailable     bool      `json:"isAvailable"`
}

// Offerable reports whether the day can take another job.
func (a Availability) Offerable() bool {
	return a.IsAvailable && a.CurrentJobs < a.MaxJobs
}
