// Package adapters contains thin cross-module glue so modules depend on
// their own narrow interfaces instead of each other's concrete types.
package adapters

import (
	"context"

	"fieldserve_backend/internal/email"
	"fieldserve_backend/internal/retryqueue"
	"fieldserve_backend/platform/logger"
)

// DeadLetterNotifier forwards dead-lettered retry entries to the operator
// email channel.
type DeadLetterNotifier struct {
	sender email.Sender
	log    *logger.Logger
}

// NewDeadLetterNotifier creates the retry queue → email adapter.
func NewDeadLetterNotifier(sender email.Sender, log *logger.Logger) *DeadLetterNotifier {
	return &DeadLetterNotifier{sender: sender, log: log}
}

// NotifyDeadLetter sends the operator alert. Delivery failures are logged;
// the dead-letter record itself is already durable.
func (n *DeadLetterNotifier) NotifyDeadLetter(ctx context.Context, entry retryqueue.Entry) {
	notice := email.DeadLetterNotice{
		EntryID:   entry.ID.String(),
		Operation: entry.Operation,
		Attempts:  entry.Attempts,
	}
	if entry.TransactionID != nil {
		notice.TransactionID = entry.TransactionID.String()
	}
	if entry.LastError != nil {
		notice.LastError = *entry.LastError
	}

	if err := n.sender.SendDeadLetterAlert(ctx, notice); err != nil {
		n.log.Warn("dead letter alert failed", "entryId", entry.ID, "error", err)
	}
}
