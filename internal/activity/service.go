package activity

import (
	"context"
	"fmt"

	"fieldserve_backend/internal/events"
	"fieldserve_backend/platform/logger"
)

// Broadcaster pushes a recorded entry to live observers. Implemented by the
// stream package; kept as an interface so the service does not depend on the
// transport.
type Broadcaster interface {
	BroadcastRecord(rec Record)
}

// Store persists audit entries.
type Store interface {
	Insert(ctx context.Context, e Entry) (Record, error)
	List(ctx context.Context, p ListParams) ([]Record, error)
}

// Service records activity entries and forwards them to live observers.
type Service struct {
	repo        Store
	broadcaster Broadcaster
	log         *logger.Logger
}

// NewService creates a new activity service.
func NewService(repo Store, log *logger.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// SetBroadcaster injects the live stream fan-out. Optional; without it
// entries are persisted but not pushed.
func (s *Service) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// Record persists an entry and pushes it to connected observers. A broadcast
// problem never fails the record; the audit row is the source of truth.
func (s *Service) Record(ctx context.Context, e Entry) error {
	rec, err := s.repo.Insert(ctx, e)
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	if s.broadcaster != nil {
		s.broadcaster.BroadcastRecord(rec)
	}
	return nil
}

// List returns recorded entries, newest first.
func (s *Service) List(ctx context.Context, p ListParams) ([]Record, error) {
	return s.repo.List(ctx, p)
}

// RegisterHandlers subscribes the service to the domain events it mirrors
// into the audit trail.
func (s *Service) RegisterHandlers(bus *events.InMemoryBus) {
	bus.Subscribe(events.TransactionReceived{}.EventName(), s)
	bus.Subscribe(events.TransactionSucceeded{}.EventName(), s)
	bus.Subscribe(events.TransactionFailed{}.EventName(), s)
	bus.Subscribe(events.TransactionRetried{}.EventName(), s)
	bus.Subscribe(events.JobRequestCreated{}.EventName(), s)
	bus.Subscribe(events.DispatchNotified{}.EventName(), s)
	bus.Subscribe(events.SubcontractorAssigned{}.EventName(), s)
	bus.Subscribe(events.JobRequestExpired{}.EventName(), s)

	s.log.Info("activity service registered event handlers")
}

// Handle turns a domain event into an audit entry.
func (s *Service) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.TransactionReceived:
		return s.Record(ctx, Entry{
			Type:          "form_received",
			Message:       fmt.Sprintf("Service request received from %s", e.Source),
			TransactionID: &e.TransactionID,
			Details:       map[string]any{"source": e.Source},
		})
	case events.TransactionSucceeded:
		return s.Record(ctx, Entry{
			Type:          "transaction_succeeded",
			Message:       fmt.Sprintf("Job %s created in dispatch system", e.ExternalJobID),
			TransactionID: &e.TransactionID,
			Details:       map[string]any{"externalJobId": e.ExternalJobID},
		})
	case events.TransactionFailed:
		msg := "Transaction failed; no further retries"
		if e.WillRetry {
			msg = "Transaction failed; retry scheduled"
		}
		return s.Record(ctx, Entry{
			Type:          "transaction_failed",
			Message:       msg,
			TransactionID: &e.TransactionID,
			Details: map[string]any{
				"reason":     e.Reason,
				"retryCount": e.RetryCount,
				"willRetry":  e.WillRetry,
			},
		})
	case events.TransactionRetried:
		return s.Record(ctx, Entry{
			Type:          "transaction_retried",
			Message:       fmt.Sprintf("Retry attempt %d started", e.RetryCount),
			TransactionID: &e.TransactionID,
			Details:       map[string]any{"retryCount": e.RetryCount},
		})
	case events.JobRequestCreated:
		return s.Record(ctx, Entry{
			Type:          "job_request_created",
			Message:       fmt.Sprintf("Dispatch opened for %s work in area %s", e.ServiceType, e.AreaCode),
			TransactionID: e.TransactionID,
			Details: map[string]any{
				"jobRequestId": e.JobRequestID.String(),
				"serviceType":  e.ServiceType,
				"areaCode":     e.AreaCode,
			},
		})
	case events.DispatchNotified:
		msg := "Subcontractor notified of job request"
		if !e.Delivered {
			msg = "Subcontractor notification failed"
		}
		return s.Record(ctx, Entry{
			Type:    "dispatch_notified",
			Message: msg,
			Details: map[string]any{
				"jobRequestId":    e.JobRequestID.String(),
				"subcontractorId": e.SubcontractorID.String(),
				"delivered":       e.Delivered,
			},
		})
	case events.SubcontractorAssigned:
		return s.Record(ctx, Entry{
			Type:          "subcontractor_assigned",
			Message:       fmt.Sprintf("Job assigned for %s", e.ScheduledDate),
			TransactionID: e.TransactionID,
			Details: map[string]any{
				"jobRequestId":    e.JobRequestID.String(),
				"subcontractorId": e.SubcontractorID.String(),
				"scheduledDate":   e.ScheduledDate,
				"timeSlot":        e.TimeSlot,
			},
		})
	case events.JobRequestExpired:
		return s.Record(ctx, Entry{
			Type:          "job_request_expired",
			Message:       "Dispatch window closed without acceptance",
			TransactionID: e.TransactionID,
			Details:       map[string]any{"jobRequestId": e.JobRequestID.String()},
		})
	default:
		s.log.Warn("unhandled event type", "event", event.EventName())
		return nil
	}
}
