package retryqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"fieldserve_backend/internal/activity"
	"fieldserve_backend/internal/events"
	"fieldserve_backend/platform/logger"

	"github.com/google/uuid"
)

// Store is the persistence contract the service needs. Satisfied by *Repository.
type Store interface {
	Insert(ctx context.Context, p InsertParams) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (Entry, error)
	ClaimDue(ctx context.Context, limit int) ([]Entry, error)
	MarkAttempt(ctx context.Context, id uuid.UUID) (int, error)
	Retire(ctx context.Context, id uuid.UUID) error
	Reschedule(ctx context.Context, id uuid.UUID, delay time.Duration, lastError string) error
	MarkDeadLetter(ctx context.Context, id uuid.UUID, lastError string) error
	ListDeadLetters(ctx context.Context, limit int) ([]Entry, error)
}

// ActivityRecorder appends entries to the audit trail. Satisfied by
// activity.Service.
type ActivityRecorder interface {
	Record(ctx context.Context, e activity.Entry) error
}

// OperatorNotifier raises dead-letter notifications for operator attention.
// Satisfied by the email module's operator sender.
type OperatorNotifier interface {
	NotifyDeadLetter(ctx context.Context, entry Entry)
}

// HandlerFunc re-runs one pipeline operation from its stored payload.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

// Service routes claimed retry entries to registered operation handlers and
// owns the reschedule/dead-letter bookkeeping.
type Service struct {
	store     Store
	baseDelay time.Duration
	maxDelay  time.Duration
	activity  ActivityRecorder
	notifier  OperatorNotifier
	bus       events.Bus
	log       *logger.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewService creates the retry queue service.
func NewService(store Store, baseDelay, maxDelay time.Duration, act ActivityRecorder, bus events.Bus, log *logger.Logger) *Service {
	return &Service{
		store:     store,
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		activity:  act,
		bus:       bus,
		log:       log,
		handlers:  make(map[string]HandlerFunc),
	}
}

// SetOperatorNotifier wires the dead-letter notifier. Optional; set after
// construction to keep module wiring acyclic.
func (s *Service) SetOperatorNotifier(n OperatorNotifier) {
	s.notifier = n
}

// Register binds an operation name to its redrive handler.
func (s *Service) Register(operation string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[operation] = fn
}

// Enqueue inserts a retry entry due after delay.
func (s *Service) Enqueue(ctx context.Context, p InsertParams) (uuid.UUID, error) {
	id, err := s.store.Insert(ctx, p)
	if err != nil {
		return uuid.Nil, err
	}

	s.log.Info("retry entry enqueued",
		"entryId", id,
		"operation", p.Operation,
		"delay", p.Delay.String(),
	)
	return id, nil
}

// ClaimDue exposes the store claim for the dispatcher loop.
func (s *Service) ClaimDue(ctx context.Context, limit int) ([]Entry, error) {
	return s.store.ClaimDue(ctx, limit)
}

// Release puts a claimed entry back to pending without counting an
// attempt, for when the redrive could not even be started.
func (s *Service) Release(ctx context.Context, entryID uuid.UUID, delay time.Duration, reason string) error {
	return s.store.Reschedule(ctx, entryID, delay, reason)
}

// ListDeadLetters exposes parked entries for the operator endpoint.
func (s *Service) ListDeadLetters(ctx context.Context, limit int) ([]Entry, error) {
	return s.store.ListDeadLetters(ctx, limit)
}

// HandleEntry redrives one claimed entry. Exactly one of retire, reschedule
// or dead-letter happens per invocation. Once an entry is dead-lettered no
// call path mutates its attempts or due time again.
func (s *Service) HandleEntry(ctx context.Context, entryID uuid.UUID) error {
	entry, err := s.store.GetByID(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.IsDeadLetter {
		return nil
	}

	handler := s.handlerFor(entry.Operation)
	if handler == nil {
		err := fmt.Errorf("no handler registered for operation %q", entry.Operation)
		s.log.Error("retry entry unroutable", "entryId", entry.ID, "operation", entry.Operation)
		return s.deadLetter(ctx, entry, err.Error())
	}

	attempts, err := s.store.MarkAttempt(ctx, entry.ID)
	if err != nil {
		return err
	}
	entry.Attempts = attempts

	redriveErr := handler(ctx, entry.Payload)
	if redriveErr == nil {
		if err := s.store.Retire(ctx, entry.ID); err != nil {
			return err
		}
		if err := s.activity.Record(ctx, activity.Entry{
			Type:          "retry_succeeded",
			Message:       fmt.Sprintf("retry attempt %d succeeded for %s", attempts, entry.Operation),
			TransactionID: entry.TransactionID,
		}); err != nil {
			s.log.Warn("failed to record retry activity", "entryId", entry.ID, "error", err)
		}
		return nil
	}

	if attempts >= entry.MaxAttempts {
		return s.deadLetter(ctx, entry, redriveErr.Error())
	}

	delay := Backoff(s.baseDelay, s.maxDelay, attempts)
	if err := s.store.Reschedule(ctx, entry.ID, delay, redriveErr.Error()); err != nil {
		return err
	}
	s.log.Warn("retry attempt failed, rescheduled",
		"entryId", entry.ID,
		"operation", entry.Operation,
		"attempts", attempts,
		"nextDelay", delay.String(),
		"error", redriveErr,
	)
	return nil
}

func (s *Service) deadLetter(ctx context.Context, entry Entry, lastError string) error {
	if err := s.store.MarkDeadLetter(ctx, entry.ID, lastError); err != nil {
		return err
	}

	entry.IsDeadLetter = true
	entry.LastError = &lastError

	if err := s.activity.Record(ctx, activity.Entry{
		Type:          "dead_letter",
		Message:       fmt.Sprintf("%s exhausted %d attempts: %s", entry.Operation, entry.Attempts, lastError),
		TransactionID: entry.TransactionID,
		Details: map[string]any{
			"entryId":   entry.ID.String(),
			"operation": entry.Operation,
			"attempts":  entry.Attempts,
		},
	}); err != nil {
		s.log.Warn("failed to record dead letter activity", "entryId", entry.ID, "error", err)
	}

	s.bus.Publish(ctx, events.RetryEntryDeadLettered{
		BaseEvent:     events.NewBaseEvent(),
		EntryID:       entry.ID,
		TransactionID: entry.TransactionID,
		Operation:     entry.Operation,
		LastError:     lastError,
		Attempts:      entry.Attempts,
	})

	if s.notifier != nil {
		s.notifier.NotifyDeadLetter(ctx, entry)
	}
	return nil
}

func (s *Service) handlerFor(operation string) HandlerFunc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handlers[operation]
}
