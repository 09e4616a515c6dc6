// Package dispatch schedules third-party fulfillment: it filters the
// directory for eligible partners, scores their open slots, fans dispatch
// messages out over SMS and assigns the job to the first partner that
// accepts.
package dispatch

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle of a job request.
type Status string

const (
	// StatusPending means the request is dispatched and awaiting responses.
	StatusPending Status = "pending_contractor"
	// StatusAssigned means a subcontractor committed to the job.
	StatusAssigned Status = "assigned"
	// StatusExpired means the response window closed with no acceptance.
	StatusExpired Status = "expired"
)

// JobRequest is one unit of work needing subcontractor fulfillment,
// optionally linked to the transaction that produced it.
type JobRequest struct {
	ID                      uuid.UUID  `json:"id"`
	TransactionID           *uuid.UUID `json:"transactionId,omitempty"`
	CustomerName            string     `json:"customerName"`
	CustomerPhone           string     `json:"customerPhone"`
	Address                 string     `json:"address,omitempty"`
	AreaCode                string     `json:"areaCode"`
	ServiceType             string     `json:"serviceType"`
	VehicleInfo             string     `json:"vehicleInfo,omitempty"`
	PreferredDate           string     `json:"preferredDate,omitempty"` // YYYY-MM-DD
	PreferredTimeSlot       string     `json:"preferredTimeSlot,omitempty"`
	Status                  Status     `json:"status"`
	AssignedSubcontractorID *uuid.UUID `json:"assignedSubcontractorId,omitempty"`
	AssignedDate            string     `json:"assignedDate,omitempty"`
	AssignedTimeSlot        string     `json:"assignedTimeSlot,omitempty"`
	EstimatedDurationMins   int        `json:"estimatedDurationMins"`
	CreatedAt               time.Time  `json:"createdAt"`
	UpdatedAt               time.Time  `json:"updatedAt"`
}

// ResponseKind is what a subcontractor replied.
type ResponseKind string

const (
	ResponseAvailable    ResponseKind = "available"
	ResponseDeclined     ResponseKind = "declined"
	ResponseCounterOffer ResponseKind = "counter_offer"
)

// Valid reports whether the kind is one of the accepted replies.
func (k ResponseKind) Valid() bool {
	switch k {
	case ResponseAvailable, ResponseDeclined, ResponseCounterOffer:
		return true
	}
	return false
}

// Response is one subcontractor's reply to a dispatch notification.
// Append-only; never mutated after creation.
type Response struct {
	ID                 uuid.UUID    `json:"id"`
	JobRequestID       uuid.UUID    `json:"jobRequestId"`
	SubcontractorID    uuid.UUID    `json:"subcontractorId"`
	Response           ResponseKind `json:"response"`
	AvailableTimeSlots []string     `json:"availableTimeSlots,omitempty"`
	ProposedDate       *string      `json:"proposedDate,omitempty"`
	Reason             string       `json:"reason,omitempty"`
	RespondedAt        time.Time    `json:"respondedAt"`
}

// CandidateSlot is one offerable (subcontractor, day, time) option.
type CandidateSlot struct {
	SubcontractorID   uuid.UUID `json:"subcontractorId"`
	SubcontractorName string    `json:"subcontractorName"`
	Rating            float64   `json:"rating"`
	DistanceMiles     float64   `json:"distanceMiles"`
	Day               string    `json:"day"`
	TimeSlot          string    `json:"timeSlot"`
	Score             float64   `json:"score"`
}

// SchedulingResult is what createJobRequest returns to the caller.
type SchedulingResult struct {
	JobRequest        JobRequest     `json:"jobRequest"`
	Candidates        []CandidateSlot `json:"candidates"`
	Recommended       *CandidateSlot  `json:"recommended,omitempty"`
	NotifiedCount     int             `json:"notifiedCount"`
	EstimatedResponse time.Duration   `json:"estimatedResponseSeconds"`
}
