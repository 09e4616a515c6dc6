// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"fieldserve_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Transaction Lifecycle Events
// =============================================================================

// TransactionReceived is published when an intake submission creates a
// transaction.
type TransactionReceived struct {
	BaseEvent
	TransactionID uuid.UUID `json:"transactionId"`
	Source        string    `json:"source"`
	CustomerPhone string    `json:"customerPhone,omitempty"`
}

func (e TransactionReceived) EventName() string { return "transaction.received" }

// TransactionSucceeded is published when the pipeline creates the external job.
type TransactionSucceeded struct {
	BaseEvent
	TransactionID uuid.UUID `json:"transactionId"`
	ExternalJobID string    `json:"externalJobId"`
}

func (e TransactionSucceeded) EventName() string { return "transaction.succeeded" }

// TransactionFailed is published on every failed processing attempt.
type TransactionFailed struct {
	BaseEvent
	TransactionID uuid.UUID `json:"transactionId"`
	Reason        string    `json:"reason"`
	RetryCount    int       `json:"retryCount"`
	WillRetry     bool      `json:"willRetry"`
}

func (e TransactionFailed) EventName() string { return "transaction.failed" }

// TransactionRetried is published when an operator manually re-enqueues a
// failed transaction.
type TransactionRetried struct {
	BaseEvent
	TransactionID uuid.UUID `json:"transactionId"`
	RetryCount    int       `json:"retryCount"`
}

func (e TransactionRetried) EventName() string { return "transaction.retried" }

// RetryEntryDeadLettered is published when a retry queue entry exhausts its
// attempt budget and is parked for operator attention.
type RetryEntryDeadLettered struct {
	BaseEvent
	EntryID       uuid.UUID  `json:"entryId"`
	TransactionID *uuid.UUID `json:"transactionId,omitempty"`
	Operation     string     `json:"operation"`
	LastError     string     `json:"lastError"`
	Attempts      int        `json:"attempts"`
}

func (e RetryEntryDeadLettered) EventName() string { return "retryqueue.entry.dead_lettered" }

// =============================================================================
// Dispatch Events
// =============================================================================

// JobRequestCreated is published when a transaction hands off third-party
// work to the dispatch scheduler.
type JobRequestCreated struct {
	BaseEvent
	JobRequestID   uuid.UUID  `json:"jobRequestId"`
	TransactionID  *uuid.UUID `json:"transactionId,omitempty"`
	ServiceType    string     `json:"serviceType"`
	AreaCode       string     `json:"areaCode"`
	CandidateCount int        `json:"candidateCount"`
}

func (e JobRequestCreated) EventName() string { return "dispatch.job_request.created" }

// DispatchNotified is published per subcontractor notified of a job request.
type DispatchNotified struct {
	BaseEvent
	JobRequestID    uuid.UUID `json:"jobRequestId"`
	SubcontractorID uuid.UUID `json:"subcontractorId"`
	Delivered       bool      `json:"delivered"`
}

func (e DispatchNotified) EventName() string { return "dispatch.notified" }

// SubcontractorAssigned is published when a job request is auto-assigned.
type SubcontractorAssigned struct {
	BaseEvent
	JobRequestID    uuid.UUID  `json:"jobRequestId"`
	TransactionID   *uuid.UUID `json:"transactionId,omitempty"`
	SubcontractorID uuid.UUID  `json:"subcontractorId"`
	ScheduledDate   string     `json:"scheduledDate"`
	TimeSlot        string     `json:"timeSlot,omitempty"`
}

func (e SubcontractorAssigned) EventName() string { return "dispatch.assigned" }

// JobRequestExpired is published when no subcontractor accepted within the
// response window.
type JobRequestExpired struct {
	BaseEvent
	JobRequestID  uuid.UUID  `json:"jobRequestId"`
	TransactionID *uuid.UUID `json:"transactionId,omitempty"`
}

func (e JobRequestExpired) EventName() string { return "dispatch.job_request.expired" }
