// Package service implements the transaction lifecycle: intake submission,
// the mapping/ERP processing pipeline, bounded retries and manual redrives.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"fieldserve_backend/internal/events"
	"fieldserve_backend/internal/mapping"
	"fieldserve_backend/internal/retryqueue"
	"fieldserve_backend/internal/transaction/domain"
	"fieldserve_backend/internal/transaction/repository"
	"fieldserve_backend/platform/apperr"
	"fieldserve_backend/platform/logger"
)

// OperationProcess is the retry queue operation name for the processing
// pipeline. Entries carry a retryPayload.
const OperationProcess = "transaction.process"

// Store is the persistence contract the service needs. Satisfied by
// *repository.Repository.
type Store interface {
	Create(ctx context.Context, p repository.CreateParams) (domain.Transaction, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Transaction, error)
	ClaimProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID, externalJobID string) error
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error
	Requeue(ctx context.Context, id uuid.UUID, triggeredBy string) (int, error)
	ListHistory(ctx context.Context, id uuid.UUID) ([]domain.HistoryEntry, error)
	Archive(ctx context.Context, id uuid.UUID) error
}

// RuleLoader resolves the active field mapping rule set for a source.
type RuleLoader interface {
	GetRuleSet(ctx context.Context, source string) (mapping.RuleSet, error)
}

// JobCreator creates jobs in the external quoting system. The idempotency
// key is the transaction id, so redrives cannot create duplicate jobs.
type JobCreator interface {
	CreateJob(ctx context.Context, idempotencyKey string, payload map[string]string) (string, error)
}

// RetryEnqueuer inserts durable retry entries.
type RetryEnqueuer interface {
	Enqueue(ctx context.Context, p retryqueue.InsertParams) (uuid.UUID, error)
}

// ProcessEnqueuer pushes a processing task onto the background queue.
type ProcessEnqueuer interface {
	EnqueueProcess(ctx context.Context, transactionID uuid.UUID) error
}

// JobRequestCreator opens subcontractor dispatch for a created job.
// Wired after construction to keep the transaction and dispatch modules
// acyclic.
type JobRequestCreator interface {
	CreateFromTransaction(ctx context.Context, txn domain.Transaction, mapped map[string]string) error
}

// Service drives transactions through their lifecycle.
type Service struct {
	store      Store
	rules      RuleLoader
	erp        JobCreator
	retry      RetryEnqueuer
	tasks      ProcessEnqueuer
	dispatch   JobRequestCreator
	bus        events.Bus
	log        *logger.Logger
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// Config carries the retry tuning for the service.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// New creates the transaction service.
func New(store Store, rules RuleLoader, erp JobCreator, retry RetryEnqueuer, tasks ProcessEnqueuer, bus events.Bus, log *logger.Logger, cfg Config) *Service {
	return &Service{
		store:      store,
		rules:      rules,
		erp:        erp,
		retry:      retry,
		tasks:      tasks,
		bus:        bus,
		log:        log,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
	}
}

// SetJobRequestCreator wires the dispatch hand-off.
func (s *Service) SetJobRequestCreator(d JobRequestCreator) { s.dispatch = d }

// retryPayload is the stored payload for OperationProcess entries.
type retryPayload struct {
	TransactionID uuid.UUID `json:"transactionId"`
}

// Submit records a new service request and schedules its processing.
// Intake acknowledges the customer before the pipeline runs.
func (s *Service) Submit(ctx context.Context, p repository.CreateParams) (domain.Transaction, error) {
	txn, err := s.store.Create(ctx, p)
	if err != nil {
		return domain.Transaction{}, err
	}

	s.bus.Publish(ctx, events.TransactionReceived{
		BaseEvent:     events.NewBaseEvent(),
		TransactionID: txn.ID,
		Source:        txn.Source,
		CustomerPhone: txn.CustomerPhone,
	})

	if err := s.tasks.EnqueueProcess(ctx, txn.ID); err != nil {
		// The request is already durable; fall back to the retry queue so
		// a broken broker cannot lose it.
		s.log.Error("failed to enqueue processing task, deferring to retry queue",
			"transactionId", txn.ID, "error", err)
		if _, qErr := s.retry.Enqueue(ctx, retryqueue.InsertParams{
			Operation:     OperationProcess,
			Payload:       retryPayload{TransactionID: txn.ID},
			TransactionID: &txn.ID,
			MaxAttempts:   s.maxRetries,
			Delay:         s.baseDelay,
			LastError:     "task enqueue failed: " + err.Error(),
		}); qErr != nil {
			s.log.Error("failed to defer processing to retry queue",
				"transactionId", txn.ID, "error", qErr)
		}
	}

	return txn, nil
}

// Process runs the pipeline for a freshly submitted transaction. Failure
// bookkeeping (status, retry entry, events) happens inside the pipeline, so
// the background task itself only errors on infrastructure problems.
func (s *Service) Process(ctx context.Context, id uuid.UUID) error {
	txn, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}

	claimed, err := s.store.ClaimProcessing(ctx, id)
	if err != nil {
		return err
	}
	if !claimed {
		s.log.Warn("transaction not claimable, skipping",
			"transactionId", id, "status", txn.Status)
		return nil
	}

	if err := s.runPipeline(ctx, txn, true); err != nil {
		s.log.Warn("transaction processing failed",
			"transactionId", id, "error", err)
	}
	return nil
}

// HandleRetryEntry is the retry queue handler for OperationProcess. It moves
// the failed transaction back to pending, reclaims it and re-runs the
// pipeline. The returned error feeds the retry queue's reschedule or
// dead-letter decision, so this path never enqueues a second entry.
func (s *Service) HandleRetryEntry(ctx context.Context, payload json.RawMessage) error {
	var p retryPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return apperr.Wrap(apperr.KindBadRequest, "invalid retry payload", err)
	}

	retryCount, err := s.store.Requeue(ctx, p.TransactionID, "retry_queue")
	if err != nil {
		// Retire the entry when the transaction already succeeded elsewhere.
		if txn, getErr := s.store.GetByID(ctx, p.TransactionID); getErr == nil && txn.Status.IsTerminal() {
			s.log.Info("transaction already terminal, retiring retry entry",
				"transactionId", p.TransactionID, "status", txn.Status)
			return nil
		}
		return err
	}

	s.bus.Publish(ctx, events.TransactionRetried{
		BaseEvent:     events.NewBaseEvent(),
		TransactionID: p.TransactionID,
		RetryCount:    retryCount,
	})

	claimed, err := s.store.ClaimProcessing(ctx, p.TransactionID)
	if err != nil {
		return err
	}
	if !claimed {
		return apperr.Conflict(fmt.Sprintf("transaction %s claimed elsewhere", p.TransactionID))
	}

	txn, err := s.store.GetByID(ctx, p.TransactionID)
	if err != nil {
		return err
	}

	return s.runPipeline(ctx, txn, false)
}

// Retry is the operator-facing manual retry for a failed transaction. It
// starts a fresh processing cycle; a previously dead-lettered entry stays
// parked.
func (s *Service) Retry(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	txn, err := s.store.GetByID(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if !domain.CanTransition(txn.Status, domain.StatusPending) {
		return domain.Transaction{}, apperr.Conflict(
			fmt.Sprintf("cannot retry a transaction in status %q", txn.Status),
		)
	}

	retryCount, err := s.store.Requeue(ctx, id, "operator")
	if err != nil {
		return domain.Transaction{}, err
	}

	s.bus.Publish(ctx, events.TransactionRetried{
		BaseEvent:     events.NewBaseEvent(),
		TransactionID: id,
		RetryCount:    retryCount,
	})

	if err := s.tasks.EnqueueProcess(ctx, id); err != nil {
		return domain.Transaction{}, apperr.Wrap(apperr.KindTransient, "failed to enqueue processing task", err)
	}

	return s.store.GetByID(ctx, id)
}

// Get returns one transaction.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	return s.store.GetByID(ctx, id)
}

// History returns the status audit trail, oldest first.
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]domain.HistoryEntry, error) {
	return s.store.ListHistory(ctx, id)
}

// Archive soft-deletes a transaction.
func (s *Service) Archive(ctx context.Context, id uuid.UUID) error {
	return s.store.Archive(ctx, id)
}

// runPipeline executes mapping and ERP job creation for a transaction that
// is already in processing. enqueueRetry controls whether a transient
// failure creates a new retry entry; redrives reuse their existing one.
func (s *Service) runPipeline(ctx context.Context, txn domain.Transaction, enqueueRetry bool) error {
	set, err := s.rules.GetRuleSet(ctx, txn.Source)
	if err != nil {
		return s.fail(ctx, txn, enqueueRetry, err)
	}

	mapped, err := mapping.Apply(set, txn.RawPayload)
	if err != nil {
		return s.fail(ctx, txn, enqueueRetry, err)
	}

	jobID, err := s.erp.CreateJob(ctx, txn.ID.String(), mapped)
	if err != nil {
		return s.fail(ctx, txn, enqueueRetry, err)
	}

	if err := s.store.MarkSucceeded(ctx, txn.ID, jobID); err != nil {
		return err
	}

	s.bus.Publish(ctx, events.TransactionSucceeded{
		BaseEvent:     events.NewBaseEvent(),
		TransactionID: txn.ID,
		ExternalJobID: jobID,
	})
	s.log.Info("transaction succeeded", "transactionId", txn.ID, "externalJobId", jobID)

	// Dispatch hand-off is best effort: the job exists either way, and the
	// operator can dispatch manually if this fails.
	if s.dispatch != nil && needsDispatch(txn, mapped) {
		if err := s.dispatch.CreateFromTransaction(ctx, txn, mapped); err != nil {
			s.log.Error("failed to open dispatch for transaction",
				"transactionId", txn.ID, "error", err)
		}
	}

	return nil
}

// needsDispatch reports whether the request asks for third-party
// fulfillment and should open a subcontractor job request.
func needsDispatch(txn domain.Transaction, mapped map[string]string) bool {
	for _, key := range []string{"fulfillment", "fulfillment_type"} {
		if v, ok := mapped[key]; ok {
			return strings.EqualFold(v, "subcontractor")
		}
		if v, ok := txn.RawPayload[key]; ok {
			return strings.EqualFold(v, "subcontractor")
		}
	}
	return false
}

// fail records the failure and, for fresh processing runs, enqueues the
// durable retry entry when the cause is retryable.
func (s *Service) fail(ctx context.Context, txn domain.Transaction, enqueueRetry bool, cause error) error {
	msg := cause.Error()
	if err := s.store.MarkFailed(ctx, txn.ID, msg); err != nil {
		s.log.Error("failed to mark transaction failed",
			"transactionId", txn.ID, "error", err)
	}

	// A transaction past its automatic budget fails terminally; a manual
	// retry re-runs the pipeline once, it does not grant a fresh budget.
	willRetry := enqueueRetry && apperr.Retryable(cause) && txn.RetryCount < s.maxRetries
	if willRetry {
		delay := retryqueue.Backoff(s.baseDelay, s.maxDelay, txn.RetryCount)
		if _, err := s.retry.Enqueue(ctx, retryqueue.InsertParams{
			Operation:     OperationProcess,
			Payload:       retryPayload{TransactionID: txn.ID},
			TransactionID: &txn.ID,
			MaxAttempts:   s.maxRetries,
			Delay:         delay,
			LastError:     msg,
		}); err != nil {
			s.log.Error("failed to enqueue retry entry",
				"transactionId", txn.ID, "error", err)
			willRetry = false
		}
	}

	s.bus.Publish(ctx, events.TransactionFailed{
		BaseEvent:     events.NewBaseEvent(),
		TransactionID: txn.ID,
		Reason:        msg,
		RetryCount:    txn.RetryCount,
		WillRetry:     willRetry,
	})

	return cause
}
