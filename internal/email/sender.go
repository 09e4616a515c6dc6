// Package email sends operator notifications over SMTP.
package email

import (
	"context"

	"fieldserve_backend/platform/config"
	"fieldserve_backend/platform/logger"
)

// DeadLetterNotice carries the details of a parked retry queue entry.
type DeadLetterNotice struct {
	EntryID       string
	TransactionID string
	Operation     string
	LastError     string
	Attempts      int
}

// DispatchExpiredNotice carries the details of a job request that closed
// without any subcontractor accepting.
type DispatchExpiredNotice struct {
	JobRequestID string
	ServiceType  string
	AreaCode     string
}

// Sender delivers operator notification emails.
type Sender interface {
	SendDeadLetterAlert(ctx context.Context, notice DeadLetterNotice) error
	SendDispatchExpiredAlert(ctx context.Context, notice DispatchExpiredNotice) error
}

// NewSender returns the configured sender, or a no-op sender when email is
// disabled so callers never need nil checks.
func NewSender(cfg config.EmailConfig, log *logger.Logger) Sender {
	if !cfg.IsEmailEnabled() || cfg.GetOperatorEmail() == "" {
		log.Warn("operator email disabled; alerts will be logged only")
		return &noopSender{log: log}
	}
	return NewSMTPSender(cfg)
}

type noopSender struct {
	log *logger.Logger
}

func (n *noopSender) SendDeadLetterAlert(_ context.Context, notice DeadLetterNotice) error {
	n.log.Warn("dead letter alert suppressed (email disabled)",
		"entryId", notice.EntryID, "operation", notice.Operation)
	return nil
}

func (n *noopSender) SendDispatchExpiredAlert(_ context.Context, notice DispatchExpiredNotice) error {
	n.log.Warn("dispatch expiry alert suppressed (email disabled)",
		"jobRequestId", notice.JobRequestID)
	return nil
}
