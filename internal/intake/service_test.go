package intake

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"fieldserve_backend/internal/transaction/domain"
	"fieldserve_backend/internal/transaction/repository"
	"fieldserve_backend/platform/apperr"
	"fieldserve_backend/platform/logger"
)

type captureSubmitter struct {
	params []repository.CreateParams
	err    error
}

func (s *captureSubmitter) Submit(_ context.Context, p repository.CreateParams) (domain.Transaction, error) {
	s.params = append(s.params, p)
	if s.err != nil {
		return domain.Transaction{}, s.err
	}
	return domain.Transaction{ID: uuid.New(), CustomerPhone: p.CustomerPhone}, nil
}

type staticDeduper struct {
	dup *uuid.UUID
	err error
}

func (d staticDeduper) FindRecentDuplicate(context.Context, string, string, time.Duration) (*uuid.UUID, error) {
	return d.dup, d.err
}

func sampleRequest() Request {
	return Request{
		CustomerName:  "Jan de Vries",
		CustomerPhone: "(212) 867-5309",
		CustomerEmail: "jan@example.com",
		Source:        "web_form",
		Payload:       map[string]string{"service": "windshield_replacement"},
	}
}

func TestSubmit_NormalizesPhoneBeforeDedupeAndSubmit(t *testing.T) {
	submitter := &captureSubmitter{}
	svc := NewService(submitter, staticDeduper{}, nil, "", logger.New("test"))

	res, err := svc.Submit(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Duplicate {
		t.Error("fresh submission flagged as duplicate")
	}
	if len(submitter.params) != 1 {
		t.Fatalf("submitter called %d times, want 1", len(submitter.params))
	}
	if got := submitter.params[0].CustomerPhone; got != "+12128675309" {
		t.Errorf("submitted phone = %q, want normalized +12128675309", got)
	}
}

func TestSubmit_DuplicateReturnsOriginalTransaction(t *testing.T) {
	original := uuid.New()
	submitter := &captureSubmitter{}
	svc := NewService(submitter, staticDeduper{dup: &original}, nil, "", logger.New("test"))

	res, err := svc.Submit(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.Duplicate {
		t.Error("duplicate not flagged")
	}
	if res.TransactionID != original {
		t.Errorf("transactionId = %s, want original %s", res.TransactionID, original)
	}
	if len(submitter.params) != 0 {
		t.Errorf("submitter called %d times for a duplicate, want 0", len(submitter.params))
	}
}

func TestSubmit_DedupeErrorDoesNotBlockIntake(t *testing.T) {
	submitter := &captureSubmitter{}
	svc := NewService(submitter, staticDeduper{err: errors.New("db down")}, nil, "", logger.New("test"))

	res, err := svc.Submit(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.TransactionID == uuid.Nil {
		t.Error("no transaction created when duplicate check failed")
	}
}

func TestAttachPhoto_DisabledStorageIsConfigurationError(t *testing.T) {
	svc := NewService(&captureSubmitter{}, staticDeduper{}, nil, "", logger.New("test"))

	_, err := svc.AttachPhoto(context.Background(), uuid.New(), "crack.jpg", "image/jpeg", strings.NewReader("x"), 1)
	if !apperr.Is(err, apperr.KindConfiguration) {
		t.Fatalf("err = %v, want KindConfiguration", err)
	}
	if _, err := svc.PhotoURL(context.Background(), "any"); !apperr.Is(err, apperr.KindConfiguration) {
		t.Fatalf("PhotoURL err = %v, want KindConfiguration", err)
	}
}
