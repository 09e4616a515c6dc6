package intake

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"fieldserve_backend/internal/storage"
	"fieldserve_backend/internal/transaction/domain"
	"fieldserve_backend/internal/transaction/repository"
	"fieldserve_backend/platform/apperr"
	"fieldserve_backend/platform/logger"
	"fieldserve_backend/platform/phone"
)

// dedupeWindow suppresses double-submitted forms: a second request with the
// same phone or email inside this window returns the original transaction
// instead of creating a new one.
const dedupeWindow = 10 * time.Minute

// Submitter starts the transaction pipeline for an accepted submission.
type Submitter interface {
	Submit(ctx context.Context, p repository.CreateParams) (domain.Transaction, error)
}

// Deduper finds a recently created transaction for the same customer.
type Deduper interface {
	FindRecentDuplicate(ctx context.Context, phone, email string, window time.Duration) (*uuid.UUID, error)
}

// Service accepts public service-request submissions.
type Service struct {
	submitter Submitter
	deduper   Deduper
	photos    storage.PhotoStore // nil when object storage is disabled
	bucket    string
	log       *logger.Logger
}

// NewService creates the intake service. photos may be nil.
func NewService(submitter Submitter, deduper Deduper, photos storage.PhotoStore, bucket string, log *logger.Logger) *Service {
	return &Service{
		submitter: submitter,
		deduper:   deduper,
		photos:    photos,
		bucket:    bucket,
		log:       log.With("component", "intake"),
	}
}

// Request is one service-request submission from an intake channel.
type Request struct {
	CustomerName  string
	CustomerPhone string
	CustomerEmail string
	VehicleInfo   string
	Source        string
	Payload       map[string]string
}

// Result tells the caller which transaction now tracks their request.
type Result struct {
	TransactionID uuid.UUID `json:"transactionId"`
	Duplicate     bool      `json:"duplicate,omitempty"`
}

// Submit accepts a service request. Duplicate submissions inside the dedupe
// window return the original transaction id rather than creating a second
// transaction.
func (s *Service) Submit(ctx context.Context, req Request) (Result, error) {
	req.CustomerPhone = phone.NormalizeE164(req.CustomerPhone)

	if dup, err := s.deduper.FindRecentDuplicate(ctx, req.CustomerPhone, req.CustomerEmail, dedupeWindow); err != nil {
		s.log.Warn("duplicate check failed", "error", err)
	} else if dup != nil {
		s.log.Info("duplicate submission suppressed",
			"transactionId", *dup, "source", req.Source)
		return Result{TransactionID: *dup, Duplicate: true}, nil
	}

	txn, err := s.submitter.Submit(ctx, repository.CreateParams{
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		CustomerEmail: req.CustomerEmail,
		VehicleInfo:   req.VehicleInfo,
		Source:        req.Source,
		RawPayload:    req.Payload,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{TransactionID: txn.ID}, nil
}

// AttachPhoto stores a damage photo for a transaction and returns its file
// key.
func (s *Service) AttachPhoto(ctx context.Context, transactionID uuid.UUID, fileName, contentType string, reader io.Reader, size int64) (string, error) {
	if s.photos == nil {
		return "", apperr.Configuration("photo storage is not enabled")
	}
	if err := s.photos.ValidateContentType(contentType); err != nil {
		return "", err
	}
	if err := s.photos.ValidateFileSize(size); err != nil {
		return "", err
	}
	return s.photos.UploadPhoto(ctx, s.bucket, transactionID.String(), fileName, contentType, reader, size)
}

// PhotoURL creates a presigned download link for a stored photo.
func (s *Service) PhotoURL(ctx context.Context, fileKey string) (*storage.PresignedURL, error) {
	if s.photos == nil {
		return nil, apperr.Configuration("photo storage is not enabled")
	}
	return s.photos.GenerateDownloadURL(ctx, s.bucket, fileKey)
}
