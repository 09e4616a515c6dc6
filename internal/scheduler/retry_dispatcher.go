package scheduler

import (
	"context"
	"time"

	"fieldserve_backend/internal/retryqueue"
	"fieldserve_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	claimInterval  = 2 * time.Second
	claimBatchSize = 50
	// expireInterval paces the dispatch expiry sweep. The sweep itself is
	// cheap; a finer interval only tightens how promptly requests expire.
	expireInterval = 15 * time.Minute
)

// EntryClaimer claims due retry entries for redriving and takes back the
// ones that could not be handed to the task queue.
type EntryClaimer interface {
	ClaimDue(ctx context.Context, limit int) ([]retryqueue.Entry, error)
	Release(ctx context.Context, entryID uuid.UUID, delay time.Duration, reason string) error
}

// Redriver enqueues the redrive task for a claimed entry.
type Redriver interface {
	EnqueueRedrive(ctx context.Context, entryID uuid.UUID) error
}

// ExpireEnqueuer enqueues the periodic dispatch expiry sweep.
type ExpireEnqueuer interface {
	EnqueueDispatchExpire(ctx context.Context) error
}

// RetryDispatcher polls the retry queue and moves due entries onto the task
// queue. One instance runs alongside the worker; the SKIP LOCKED claim makes
// extra instances safe but redundant.
type RetryDispatcher struct {
	claimer EntryClaimer
	client  interface {
		Redriver
		ExpireEnqueuer
	}
	log *logger.Logger
}

// NewRetryDispatcher creates the polling dispatcher.
func NewRetryDispatcher(claimer EntryClaimer, client *Client, log *logger.Logger) *RetryDispatcher {
	return &RetryDispatcher{claimer: claimer, client: client, log: log}
}

// Run polls until the context is cancelled.
func (d *RetryDispatcher) Run(ctx context.Context) {
	if d == nil || d.claimer == nil || d.client == nil {
		return
	}

	claim := time.NewTicker(claimInterval)
	defer claim.Stop()
	expire := time.NewTicker(expireInterval)
	defer expire.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-expire.C:
			if err := d.client.EnqueueDispatchExpire(ctx); err != nil {
				d.log.Warn("expiry sweep enqueue failed", "error", err)
			}
		case <-claim.C:
			d.dispatchDue(ctx)
		}
	}
}

func (d *RetryDispatcher) dispatchDue(ctx context.Context) {
	entries, err := d.claimer.ClaimDue(ctx, claimBatchSize)
	if err != nil {
		d.log.Warn("retry claim failed", "error", err)
		return
	}

	for _, entry := range entries {
		if err := d.client.EnqueueRedrive(ctx, entry.ID); err != nil {
			d.log.Error("redrive enqueue failed", "entryId", entry.ID, "error", err)
			// Put the claim back so a broker outage delays the redrive
			// instead of stranding the entry in the claimed state.
			if relErr := d.claimer.Release(ctx, entry.ID, claimInterval, "redrive enqueue failed"); relErr != nil {
				d.log.Error("claim release failed", "entryId", entry.ID, "error", relErr)
			}
		}
	}
	if len(entries) > 0 {
		d.log.Info("redrives dispatched", "count", len(entries))
	}
}
