package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldserve_backend/internal/activity"
	"fieldserve_backend/internal/adapters"
	"fieldserve_backend/internal/dispatch"
	"fieldserve_backend/internal/email"
	"fieldserve_backend/internal/erp"
	"fieldserve_backend/internal/events"
	"fieldserve_backend/internal/mapping"
	"fieldserve_backend/internal/retryqueue"
	"fieldserve_backend/internal/scheduler"
	"fieldserve_backend/internal/sms"
	"fieldserve_backend/internal/subcontractor"
	"fieldserve_backend/internal/transaction"
	txnservice "fieldserve_backend/internal/transaction/service"
	"fieldserve_backend/platform/config"
	"fieldserve_backend/platform/db"
	"fieldserve_backend/platform/logger"
	"fieldserve_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

const mappingCacheTTL = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	eventBus := events.NewInMemoryBus(log)

	taskClient, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize task client", "error", err)
		panic("failed to initialize task client: " + err.Error())
	}
	defer func() { _ = taskClient.Close() }()

	sender := email.NewSender(cfg, log)
	val := validator.New()

	// Worker-side module wiring (no HTTP handlers required).
	activityModule := activity.NewModule(pool, nil, log)
	activityModule.RegisterHandlers(eventBus)
	defer activityModule.Close()

	retryModule := retryqueue.NewModule(pool, cfg.GetRetryBaseDelay(), cfg.GetRetryMaxDelay(),
		activityModule.Service(), eventBus, log)
	retryModule.Service().SetOperatorNotifier(adapters.NewDeadLetterNotifier(sender, log))

	erpClient, err := erp.NewClient(cfg, log)
	if err != nil {
		log.Error("failed to initialize ERP client", "error", err)
		panic("failed to initialize ERP client: " + err.Error())
	}

	ruleLoader := mapping.NewCachedLoader(mapping.New(pool), mappingCacheTTL)

	transactionModule := transaction.NewModule(pool, ruleLoader, erpClient,
		retryModule.Service(), taskClient, eventBus, log, txnservice.Config{
			MaxRetries: cfg.GetMaxRetries(),
			BaseDelay:  cfg.GetRetryBaseDelay(),
			MaxDelay:   cfg.GetRetryMaxDelay(),
		})
	retryModule.Service().Register(txnservice.OperationProcess, transactionModule.Service().HandleRetryEntry)

	subcontractorModule := subcontractor.NewModule(pool, val)
	dispatchModule := dispatch.NewModule(pool, subcontractorModule.Repository(),
		sms.NewClient(cfg, log), eventBus, val, log, cfg)
	dispatchModule.Service().SetOperatorNotifier(sender)
	transactionModule.Service().SetJobRequestCreator(dispatchModule.Service())

	dispatcher := scheduler.NewRetryDispatcher(retryModule.Service(), taskClient, log)
	go dispatcher.Run(ctx)

	worker, err := scheduler.NewWorker(cfg, transactionModule.Service(), retryModule.Service(),
		dispatchModule.Service(), log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("%s: %w", name, lastErr)
}
