// Package domain holds the transaction lifecycle types: the closed status
// enum, its transition table, and the append-only status history. Status and
// history are always written together in one database transaction so the two
// can never drift.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

// transitions is the closed set of legal status changes.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusSuccess, StatusFailed},
	StatusFailed:     {StatusPending}, // automatic or manual retry re-entry
	StatusSuccess:    {},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further automatic transitions exist.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess
}

// Valid reports whether the status is a known enum member.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// HistoryEntry is one append-only record of a status change.
type HistoryEntry struct {
	ID          uuid.UUID `json:"id"`
	Status      Status    `json:"status"`
	TriggeredBy string    `json:"triggeredBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Transaction is one customer service request tracked end-to-end.
type Transaction struct {
	ID            uuid.UUID         `json:"id"`
	CustomerName  string            `json:"customerName"`
	CustomerPhone string            `json:"customerPhone"`
	CustomerEmail string            `json:"customerEmail,omitempty"`
	VehicleInfo   string            `json:"vehicleInfo,omitempty"`
	Source        string            `json:"source"`
	RawPayload    map[string]string `json:"rawPayload"`
	Status        Status            `json:"status"`
	RetryCount    int               `json:"retryCount"`
	LastRetryAt   *time.Time        `json:"lastRetryAt,omitempty"`
	ErrorMessage  *string           `json:"errorMessage,omitempty"`
	ExternalJobID *string           `json:"externalJobId,omitempty"`
	ArchivedAt    *time.Time        `json:"archivedAt,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}
