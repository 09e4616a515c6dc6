package activity

import (
	"context"
	"testing"
	"time"

	"fieldserve_backend/internal/events"
	"fieldserve_backend/platform/logger"

	"github.com/google/uuid"
)

type memActivityStore struct {
	inserted []Entry
}

func (s *memActivityStore) Insert(_ context.Context, e Entry) (Record, error) {
	s.inserted = append(s.inserted, e)
	return Record{
		ID:            uuid.New(),
		Type:          e.Type,
		Message:       e.Message,
		TransactionID: e.TransactionID,
		Details:       e.Details,
		CreatedAt:     time.Now(),
	}, nil
}

func (s *memActivityStore) List(context.Context, ListParams) ([]Record, error) {
	return nil, nil
}

func TestHandle_ReceivedEventRecordsFormReceived(t *testing.T) {
	store := &memActivityStore{}
	svc := NewService(store, logger.New("test"))
	txnID := uuid.New()

	err := svc.Handle(context.Background(), events.TransactionReceived{
		BaseEvent:     events.NewBaseEvent(),
		TransactionID: txnID,
		Source:        "website_form",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(store.inserted) != 1 {
		t.Fatalf("inserted %d entries, want 1", len(store.inserted))
	}
	got := store.inserted[0]
	if got.Type != "form_received" {
		t.Errorf("entry type = %q, want form_received", got.Type)
	}
	if got.TransactionID == nil || *got.TransactionID != txnID {
		t.Errorf("entry transaction id = %v, want %s", got.TransactionID, txnID)
	}
	if got.Details["source"] != "website_form" {
		t.Errorf("details source = %v, want website_form", got.Details["source"])
	}
}

func TestHandle_LifecycleEventEntryTypes(t *testing.T) {
	txnID := uuid.New()
	tests := []struct {
		event events.Event
		want  string
	}{
		{events.TransactionSucceeded{BaseEvent: events.NewBaseEvent(), TransactionID: txnID, ExternalJobID: "JOB-1"}, "transaction_succeeded"},
		{events.TransactionFailed{BaseEvent: events.NewBaseEvent(), TransactionID: txnID, Reason: "erp timeout", WillRetry: true}, "transaction_failed"},
		{events.TransactionRetried{BaseEvent: events.NewBaseEvent(), TransactionID: txnID, RetryCount: 2}, "transaction_retried"},
	}
	for _, tt := range tests {
		store := &memActivityStore{}
		svc := NewService(store, logger.New("test"))
		if err := svc.Handle(context.Background(), tt.event); err != nil {
			t.Fatalf("Handle(%s): %v", tt.event.EventName(), err)
		}
		if len(store.inserted) != 1 || store.inserted[0].Type != tt.want {
			t.Errorf("%s: recorded %+v, want one %q entry", tt.event.EventName(), store.inserted, tt.want)
		}
	}
}
