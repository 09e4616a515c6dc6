package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldserve_backend/internal/activity"
	"fieldserve_backend/internal/activity/stream"
	"fieldserve_backend/internal/adapters"
	"fieldserve_backend/internal/dispatch"
	"fieldserve_backend/internal/email"
	"fieldserve_backend/internal/erp"
	"fieldserve_backend/internal/events"
	apphttp "fieldserve_backend/internal/http"
	"fieldserve_backend/internal/http/router"
	"fieldserve_backend/internal/intake"
	"fieldserve_backend/internal/mapping"
	"fieldserve_backend/internal/retryqueue"
	"fieldserve_backend/internal/scheduler"
	"fieldserve_backend/internal/sms"
	"fieldserve_backend/internal/storage"
	"fieldserve_backend/internal/subcontractor"
	"fieldserve_backend/internal/transaction"
	txnservice "fieldserve_backend/internal/transaction/service"
	"fieldserve_backend/platform/config"
	"fieldserve_backend/platform/db"
	"fieldserve_backend/platform/logger"
	"fieldserve_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// mappingCacheTTL bounds how stale the cached field mapping rules may get.
const mappingCacheTTL = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, "migrations")
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

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
	log.Info("database connection established")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	// Task client for handing pipeline work to the scheduler process.
	taskClient, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize task client", "error", err)
		panic("failed to initialize task client: " + err.Error())
	}
	defer func() { _ = taskClient.Close() }()

	sender := email.NewSender(cfg, log)

	// Shared validator instance for dependency injection
	val := validator.New()

	// Object storage for intake damage photos (optional)
	var photoStore storage.PhotoStore
	if cfg.IsMinIOEnabled() {
		minioSvc, err := storage.NewMinIOService(cfg)
		if err != nil {
			log.Error("failed to initialize storage service", "error", err)
			panic("failed to initialize storage service: " + err.Error())
		}
		if err := withRetry(ctx, log, "ensure photo bucket", 5, 2*time.Second, func() error {
			return minioSvc.EnsureBucketExists(ctx, cfg.GetMinioBucketIntakePhotos())
		}); err != nil {
			log.Error("failed to ensure photo bucket", "error", err)
			panic("failed to ensure photo bucket: " + err.Error())
		}
		photoStore = minioSvc
		log.Info("storage service initialized", "bucket", cfg.GetMinioBucketIntakePhotos())
	} else {
		log.Warn("MinIO not configured; photo uploads disabled")
	}

	erpClient, err := erp.NewClient(cfg, log)
	if err != nil {
		log.Error("failed to initialize ERP client", "error", err)
		panic("failed to initialize ERP client: " + err.Error())
	}

	smsClient := sms.NewClient(cfg, log)

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	activityModule := activity.NewModule(pool, stream.New(log), log)
	activityModule.RegisterHandlers(eventBus)
	defer activityModule.Close()

	retryModule := retryqueue.NewModule(pool, cfg.GetRetryBaseDelay(), cfg.GetRetryMaxDelay(),
		activityModule.Service(), eventBus, log)
	retryModule.Service().SetOperatorNotifier(adapters.NewDeadLetterNotifier(sender, log))

	ruleLoader := mapping.NewCachedLoader(mapping.New(pool), mappingCacheTTL)

	transactionModule := transaction.NewModule(pool, ruleLoader, erpClient,
		retryModule.Service(), taskClient, eventBus, log, txnservice.Config{
			MaxRetries: cfg.GetMaxRetries(),
			BaseDelay:  cfg.GetRetryBaseDelay(),
			MaxDelay:   cfg.GetRetryMaxDelay(),
		})

	// The retry queue routes redrives back into the pipeline.
	retryModule.Service().Register(txnservice.OperationProcess, transactionModule.Service().HandleRetryEntry)

	subcontractorModule := subcontractor.NewModule(pool, val)

	dispatchModule := dispatch.NewModule(pool, subcontractorModule.Repository(),
		smsClient, eventBus, val, log, cfg)
	dispatchModule.Service().SetOperatorNotifier(sender)

	// Successful transactions hand fulfillment off to the dispatch scheduler.
	transactionModule.Service().SetJobRequestCreator(dispatchModule.Service())

	intakeModule := intake.NewModule(pool, transactionModule.Service(),
		transactionModule.Repository(), photoStore, cfg.GetMinioBucketIntakePhotos(), val, log)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules: []apphttp.Module{
			intakeModule,
			transactionModule,
			retryModule,
			subcontractorModule,
			dispatchModule,
			activityModule,
		},
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = shutdownCtx
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
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
