package retryqueue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"fieldserve_backend/internal/activity"
	"fieldserve_backend/internal/events"
	"fieldserve_backend/platform/apperr"
	"fieldserve_backend/platform/logger"

	"github.com/google/uuid"
)

func TestBackoff_DoublesPerAttempt(t *testing.T) {
	base := 30 * time.Second
	max := 30 * time.Minute

	want := []time.Duration{
		30 * time.Second,
		time.Minute,
		2 * time.Minute,
		4 * time.Minute,
		8 * time.Minute,
		16 * time.Minute,
		30 * time.Minute, // capped
		30 * time.Minute,
	}
	for attempt, exp := range want {
		if got := Backoff(base, max, attempt); got != exp {
			t.Errorf("Backoff(attempt=%d) = %s, want %s", attempt, got, exp)
		}
	}
}

func TestBackoff_EdgeCases(t *testing.T) {
	if got := Backoff(0, time.Minute, 3); got != 0 {
		t.Errorf("zero base: got %s, want 0", got)
	}
	if got := Backoff(time.Second, time.Minute, -2); got != time.Second {
		t.Errorf("negative attempt: got %s, want %s", got, time.Second)
	}
	// No cap when max is non-positive.
	if got := Backoff(time.Second, 0, 10); got != 1024*time.Second {
		t.Errorf("uncapped: got %s, want %s", got, 1024*time.Second)
	}
}

// memEntryStore keeps entries in memory with the same state transitions the
// SQL repository enforces.
type memEntryStore struct {
	entries map[uuid.UUID]*Entry

	retired     []uuid.UUID
	rescheduled []time.Duration
}

func newMemEntryStore() *memEntryStore {
	return &memEntryStore{entries: make(map[uuid.UUID]*Entry)}
}

func (s *memEntryStore) add(operation string, attempts, maxAttempts int) uuid.UUID {
	id := uuid.New()
	s.entries[id] = &Entry{
		ID:          id,
		Operation:   operation,
		Payload:     json.RawMessage(`{}`),
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		Status:      StatusClaimed,
	}
	return id
}

func (s *memEntryStore) Insert(_ context.Context, p InsertParams) (uuid.UUID, error) {
	id := uuid.New()
	s.entries[id] = &Entry{ID: id, Operation: p.Operation, MaxAttempts: p.MaxAttempts, Status: StatusPending}
	return id, nil
}

func (s *memEntryStore) GetByID(_ context.Context, id uuid.UUID) (Entry, error) {
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, apperr.NotFound("retry entry not found")
	}
	return *e, nil
}

func (s *memEntryStore) ClaimDue(_ context.Context, limit int) ([]Entry, error) {
	return nil, nil
}

func (s *memEntryStore) MarkAttempt(_ context.Context, id uuid.UUID) (int, error) {
	e := s.entries[id]
	e.Attempts++
	return e.Attempts, nil
}

func (s *memEntryStore) Retire(_ context.Context, id uuid.UUID) error {
	s.entries[id].Status = StatusSucceeded
	s.retired = append(s.retired, id)
	return nil
}

func (s *memEntryStore) Reschedule(_ context.Context, id uuid.UUID, delay time.Duration, lastError string) error {
	e := s.entries[id]
	e.Status = StatusPending
	e.LastError = &lastError
	e.NextAttemptAt = time.Now().Add(delay)
	s.rescheduled = append(s.rescheduled, delay)
	return nil
}

// MarkDeadLetter mirrors the repository: attempts are floored at
// MaxAttempts and an already-parked entry is not rewritten.
func (s *memEntryStore) MarkDeadLetter(_ context.Context, id uuid.UUID, lastError string) error {
	e := s.entries[id]
	if e == nil || e.IsDeadLetter {
		return apperr.NotFound("retry entry not found or already dead-lettered")
	}
	if e.Attempts < e.MaxAttempts {
		e.Attempts = e.MaxAttempts
	}
	e.IsDeadLetter = true
	e.Status = StatusDeadLetter
	e.LastError = &lastError
	return nil
}

func (s *memEntryStore) ListDeadLetters(_ context.Context, limit int) ([]Entry, error) {
	var out []Entry
	for _, e := range s.entries {
		if e.IsDeadLetter {
			out = append(out, *e)
		}
	}
	return out, nil
}

type memActivity struct {
	entries []activity.Entry
}

func (a *memActivity) Record(_ context.Context, e activity.Entry) error {
	a.entries = append(a.entries, e)
	return nil
}

type captureBus struct {
	events []events.Event
}

func (b *captureBus) Publish(_ context.Context, e events.Event)           { b.events = append(b.events, e) }
func (b *captureBus) PublishSync(_ context.Context, e events.Event) error { b.events = append(b.events, e); return nil }
func (b *captureBus) Subscribe(string, events.Handler)                    {}

type captureNotifier struct {
	notified []Entry
}

func (n *captureNotifier) NotifyDeadLetter(_ context.Context, entry Entry) {
	n.notified = append(n.notified, entry)
}

func newTestService(store *memEntryStore) (*Service, *memActivity, *captureBus, *captureNotifier) {
	act := &memActivity{}
	bus := &captureBus{}
	notifier := &captureNotifier{}
	svc := NewService(store, time.Second, time.Minute, act, bus, logger.New("test"))
	svc.SetOperatorNotifier(notifier)
	return svc, act, bus, notifier
}

func TestHandleEntry_SuccessRetires(t *testing.T) {
	store := newMemEntryStore()
	id := store.add("transaction.process", 0, 3)
	svc, act, _, _ := newTestService(store)
	svc.Register("transaction.process", func(context.Context, json.RawMessage) error { return nil })

	if err := svc.HandleEntry(context.Background(), id); err != nil {
		t.Fatalf("HandleEntry: %v", err)
	}

	if got := store.entries[id].Status; got != StatusSucceeded {
		t.Errorf("status = %q, want %q", got, StatusSucceeded)
	}
	if len(store.retired) != 1 {
		t.Errorf("retired %d entries, want 1", len(store.retired))
	}
	if len(act.entries) != 1 || act.entries[0].Type != "retry_succeeded" {
		t.Errorf("activity entries = %+v, want one retry_succeeded", act.entries)
	}
}

func TestHandleEntry_FailureUnderBudgetReschedules(t *testing.T) {
	store := newMemEntryStore()
	id := store.add("transaction.process", 0, 3)
	svc, _, bus, _ := newTestService(store)
	svc.Register("transaction.process", func(context.Context, json.RawMessage) error {
		return errors.New("erp unreachable")
	})

	if err := svc.HandleEntry(context.Background(), id); err != nil {
		t.Fatalf("HandleEntry: %v", err)
	}

	e := store.entries[id]
	if e.IsDeadLetter {
		t.Fatal("entry dead-lettered before exhausting attempts")
	}
	if e.Status != StatusPending {
		t.Errorf("status = %q, want %q", e.Status, StatusPending)
	}
	if e.LastError == nil || *e.LastError != "erp unreachable" {
		t.Errorf("lastError = %v, want erp unreachable", e.LastError)
	}
	// First failed attempt reschedules with base*2^1.
	if len(store.rescheduled) != 1 || store.rescheduled[0] != 2*time.Second {
		t.Errorf("reschedule delays = %v, want [2s]", store.rescheduled)
	}
	if len(bus.events) != 0 {
		t.Errorf("published %d events on a reschedule, want 0", len(bus.events))
	}
}

func TestHandleEntry_ExhaustedBudgetDeadLetters(t *testing.T) {
	store := newMemEntryStore()
	id := store.add("transaction.process", 2, 3)
	svc, act, bus, notifier := newTestService(store)
	svc.Register("transaction.process", func(context.Context, json.RawMessage) error {
		return errors.New("still failing")
	})

	if err := svc.HandleEntry(context.Background(), id); err != nil {
		t.Fatalf("HandleEntry: %v", err)
	}

	e := store.entries[id]
	if !e.IsDeadLetter || e.Status != StatusDeadLetter {
		t.Fatalf("entry = %+v, want dead-lettered", e)
	}
	if len(store.rescheduled) != 0 {
		t.Errorf("rescheduled %v, want none", store.rescheduled)
	}

	var found bool
	for _, ev := range bus.events {
		if dl, ok := ev.(events.RetryEntryDeadLettered); ok {
			found = true
			if dl.Attempts != 3 || dl.LastError != "still failing" {
				t.Errorf("event = %+v, want attempts=3 lastError=still failing", dl)
			}
		}
	}
	if !found {
		t.Error("no RetryEntryDeadLettered event published")
	}
	if len(notifier.notified) != 1 {
		t.Errorf("notified %d times, want 1", len(notifier.notified))
	}
	if len(act.entries) != 1 || act.entries[0].Type != "dead_letter" {
		t.Errorf("activity entries = %+v, want one dead_letter", act.entries)
	}
}

func TestHandleEntry_DeadLetterIsTerminal(t *testing.T) {
	store := newMemEntryStore()
	id := store.add("transaction.process", 3, 3)
	store.entries[id].IsDeadLetter = true
	store.entries[id].Status = StatusDeadLetter

	var calls int
	svc, _, _, notifier := newTestService(store)
	svc.Register("transaction.process", func(context.Context, json.RawMessage) error {
		calls++
		return nil
	})

	if err := svc.HandleEntry(context.Background(), id); err != nil {
		t.Fatalf("HandleEntry: %v", err)
	}
	if calls != 0 {
		t.Errorf("handler called %d times on a dead letter, want 0", calls)
	}
	if got := store.entries[id].Attempts; got != 3 {
		t.Errorf("attempts mutated to %d on a dead letter", got)
	}
	if len(notifier.notified) != 0 {
		t.Error("dead letter re-notified on redundant delivery")
	}
}

func TestHandleEntry_UnroutableOperationDeadLetters(t *testing.T) {
	store := newMemEntryStore()
	id := store.add("unknown.operation", 0, 3)
	svc, _, _, notifier := newTestService(store)

	if err := svc.HandleEntry(context.Background(), id); err != nil {
		t.Fatalf("HandleEntry: %v", err)
	}
	e := store.entries[id]
	if !e.IsDeadLetter {
		t.Fatal("unroutable entry not dead-lettered")
	}
	if e.Attempts < e.MaxAttempts {
		t.Errorf("attempts = %d, want >= %d after dead-lettering", e.Attempts, e.MaxAttempts)
	}
	if len(notifier.notified) != 1 {
		t.Errorf("notified %d times, want 1", len(notifier.notified))
	}
}

func TestRelease_ReturnsClaimedEntryToPending(t *testing.T) {
	store := newMemEntryStore()
	id := store.add("transaction.process", 1, 3)
	svc, _, _, _ := newTestService(store)

	if err := svc.Release(context.Background(), id, 5*time.Second, "broker unavailable"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	e := store.entries[id]
	if e.Status != StatusPending {
		t.Errorf("status = %q, want %q", e.Status, StatusPending)
	}
	if e.Attempts != 1 {
		t.Errorf("attempts = %d, release must not count an attempt", e.Attempts)
	}
}
