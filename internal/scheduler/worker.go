package scheduler

import (
	"context"
	"fmt"

	"fieldserve_backend/platform/config"
	"fieldserve_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TransactionProcessor runs the pipeline for one transaction.
type TransactionProcessor interface {
	Process(ctx context.Context, id uuid.UUID) error
}

// RetryRedriver re-attempts one claimed retry queue entry.
type RetryRedriver interface {
	HandleEntry(ctx context.Context, entryID uuid.UUID) error
}

// DispatchExpirer sweeps pending job requests past their response window.
type DispatchExpirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// Worker consumes background tasks from redis.
type Worker struct {
	server       *asynq.Server
	mux          *asynq.ServeMux
	transactions TransactionProcessor
	retries      RetryRedriver
	dispatch     DispatchExpirer
	log          *logger.Logger
}

// NewWorker creates the asynq consumer.
func NewWorker(cfg config.SchedulerConfig, transactions TransactionProcessor, retries RetryRedriver, dispatch DispatchExpirer, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:       server,
		mux:          mux,
		transactions: transactions,
		retries:      retries,
		dispatch:     dispatch,
		log:          log,
	}

	mux.HandleFunc(TaskTransactionProcess, w.handleTransactionProcess)
	mux.HandleFunc(TaskRetryRedrive, w.handleRetryRedrive)
	mux.HandleFunc(TaskDispatchExpire, w.handleDispatchExpire)

	return w, nil
}

func (w *Worker) handleTransactionProcess(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseTransactionProcessPayload(task)
	if err != nil {
		return err
	}

	id, err := uuid.Parse(payload.TransactionID)
	if err != nil {
		return err
	}

	return w.transactions.Process(ctx, id)
}

func (w *Worker) handleRetryRedrive(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseRetryRedrivePayload(task)
	if err != nil {
		return err
	}

	id, err := uuid.Parse(payload.EntryID)
	if err != nil {
		return err
	}

	return w.retries.HandleEntry(ctx, id)
}

func (w *Worker) handleDispatchExpire(ctx context.Context, _ *asynq.Task) error {
	_, err := w.dispatch.ExpireStale(ctx)
	return err
}

// Run serves tasks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
