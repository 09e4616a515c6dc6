package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"fieldserve_backend/internal/events"
	"fieldserve_backend/internal/mapping"
	"fieldserve_backend/internal/retryqueue"
	"fieldserve_backend/internal/transaction/domain"
	"fieldserve_backend/internal/transaction/repository"
	"fieldserve_backend/platform/apperr"
	"fieldserve_backend/platform/logger"
)

// ---------------------------------------------------------------------------
// fakes

type memStore struct {
	mu   sync.Mutex
	txns map[uuid.UUID]domain.Transaction
	hist map[uuid.UUID][]domain.HistoryEntry
}

func newMemStore() *memStore {
	return &memStore{
		txns: make(map[uuid.UUID]domain.Transaction),
		hist: make(map[uuid.UUID][]domain.HistoryEntry),
	}
}

func (m *memStore) append(id uuid.UUID, status domain.Status, by string) {
	m.hist[id] = append(m.hist[id], domain.HistoryEntry{
		Status:      status,
		TriggeredBy: by,
		CreatedAt:   time.Now(),
	})
}

func (m *memStore) Create(_ context.Context, p repository.CreateParams) (domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn := domain.Transaction{
		ID:            uuid.New(),
		CustomerName:  p.CustomerName,
		CustomerPhone: p.CustomerPhone,
		CustomerEmail: p.CustomerEmail,
		VehicleInfo:   p.VehicleInfo,
		Source:        p.Source,
		RawPayload:    p.RawPayload,
		Status:        domain.StatusPending,
		CreatedAt:     time.Now(),
	}
	m.txns[txn.ID] = txn
	m.append(txn.ID, domain.StatusPending, "intake")
	return txn, nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.txns[id]
	if !ok {
		return domain.Transaction{}, apperr.NotFound("transaction not found")
	}
	return txn, nil
}

func (m *memStore) ClaimProcessing(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.txns[id]
	if !ok || txn.Status != domain.StatusPending {
		return false, nil
	}
	txn.Status = domain.StatusProcessing
	m.txns[id] = txn
	m.append(id, domain.StatusProcessing, "pipeline")
	return true, nil
}

func (m *memStore) MarkSucceeded(_ context.Context, id uuid.UUID, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn := m.txns[id]
	txn.Status = domain.StatusSuccess
	txn.ExternalJobID = &jobID
	txn.ErrorMessage = nil
	m.txns[id] = txn
	m.append(id, domain.StatusSuccess, "pipeline")
	return nil
}

func (m *memStore) MarkFailed(_ context.Context, id uuid.UUID, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn := m.txns[id]
	txn.Status = domain.StatusFailed
	txn.ErrorMessage = &msg
	m.txns[id] = txn
	m.append(id, domain.StatusFailed, "pipeline")
	return nil
}

func (m *memStore) Requeue(_ context.Context, id uuid.UUID, by string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.txns[id]
	if !ok {
		return 0, apperr.NotFound("transaction not found")
	}
	if txn.Status != domain.StatusFailed {
		return 0, apperr.Conflict("only failed transactions can be retried")
	}
	txn.Status = domain.StatusPending
	txn.RetryCount++
	now := time.Now()
	txn.LastRetryAt = &now
	m.txns[id] = txn
	m.append(id, domain.StatusPending, by)
	return txn.RetryCount, nil
}

func (m *memStore) ListHistory(_ context.Context, id uuid.UUID) ([]domain.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.HistoryEntry(nil), m.hist[id]...), nil
}

func (m *memStore) Archive(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn := m.txns[id]
	now := time.Now()
	txn.ArchivedAt = &now
	m.txns[id] = txn
	return nil
}

type staticRules struct {
	set mapping.RuleSet
	err error
}

func (r staticRules) GetRuleSet(context.Context, string) (mapping.RuleSet, error) {
	return r.set, r.err
}

type fakeERP struct {
	mu    sync.Mutex
	calls int
	jobID string
	errs  []error // consumed in order; nil entry means success
}

func (f *fakeERP) CreateJob(context.Context, string, map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if f.calls < len(f.errs) {
		err = f.errs[f.calls]
	}
	f.calls++
	if err != nil {
		return "", err
	}
	if f.jobID == "" {
		return "JOB-1", nil
	}
	return f.jobID, nil
}

type captureRetry struct {
	mu      sync.Mutex
	entries []retryqueue.InsertParams
}

func (c *captureRetry) Enqueue(_ context.Context, p retryqueue.InsertParams) (uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, p)
	return uuid.New(), nil
}

type captureTasks struct {
	mu  sync.Mutex
	ids []uuid.UUID
	err error
}

func (c *captureTasks) EnqueueProcess(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.ids = append(c.ids, id)
	return nil
}

type nopBus struct{}

func (nopBus) Publish(context.Context, events.Event)          {}
func (nopBus) PublishSync(context.Context, events.Event) error { return nil }
func (nopBus) Subscribe(string, events.Handler)               {}

func passthroughRules() staticRules {
	return staticRules{set: mapping.RuleSet{
		Source: "web_form",
		Rules: []mapping.Rule{
			{SourceField: "service", TargetField: "service_type", Transform: mapping.TransformLowercase, Required: true},
		},
	}}
}

func newService(store Store, rules RuleLoader, erp JobCreator, retry RetryEnqueuer, tasks ProcessEnqueuer) *Service {
	return New(store, rules, erp, retry, tasks, nopBus{}, logger.New("test"), Config{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
	})
}

func submitParams() repository.CreateParams {
	return repository.CreateParams{
		CustomerName:  "Dana Smith",
		CustomerPhone: "+12065550123",
		Source:        "web_form",
		RawPayload:    map[string]string{"service": "Windshield"},
	}
}

// ---------------------------------------------------------------------------
// tests

func TestSubmit_EnqueuesProcessingTask(t *testing.T) {
	store := newMemStore()
	tasks := &captureTasks{}
	svc := newService(store, passthroughRules(), &fakeERP{}, &captureRetry{}, tasks)

	txn, err := svc.Submit(context.Background(), submitParams())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if txn.Status != domain.StatusPending {
		t.Fatalf("submitted transaction should be pending, got %s", txn.Status)
	}
	if len(tasks.ids) != 1 || tasks.ids[0] != txn.ID {
		t.Fatalf("expected one processing task for %s, got %v", txn.ID, tasks.ids)
	}
}

func TestSubmit_BrokerFailureFallsBackToRetryQueue(t *testing.T) {
	store := newMemStore()
	retry := &captureRetry{}
	tasks := &captureTasks{err: errors.New("redis down")}
	svc := newService(store, passthroughRules(), &fakeERP{}, retry, tasks)

	txn, err := svc.Submit(context.Background(), submitParams())
	if err != nil {
		t.Fatalf("submit must not fail on broker outage: %v", err)
	}
	if len(retry.entries) != 1 {
		t.Fatalf("expected 1 retry queue fallback entry, got %d", len(retry.entries))
	}
	entry := retry.entries[0]
	if entry.Operation != OperationProcess || *entry.TransactionID != txn.ID {
		t.Fatalf("fallback entry mismatched: %+v", entry)
	}
}

func TestProcess_HappyPath(t *testing.T) {
	store := newMemStore()
	svc := newService(store, passthroughRules(), &fakeERP{jobID: "JOB-42"}, &captureRetry{}, &captureTasks{})

	txn, _ := svc.Submit(context.Background(), submitParams())
	if err := svc.Process(context.Background(), txn.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, _ := svc.Get(context.Background(), txn.ID)
	if got.Status != domain.StatusSuccess {
		t.Fatalf("expected succeeded, got %s", got.Status)
	}
	if got.ExternalJobID == nil || *got.ExternalJobID != "JOB-42" {
		t.Fatalf("external job id not recorded: %+v", got)
	}
}

func TestProcess_ValidationFailureIsTerminal(t *testing.T) {
	store := newMemStore()
	retry := &captureRetry{}
	// Required field missing: mapping fails with a validation error.
	rules := staticRules{set: mapping.RuleSet{
		Source: "web_form",
		Rules: []mapping.Rule{
			{SourceField: "vin", TargetField: "vehicle_vin", Required: true},
		},
	}}
	erp := &fakeERP{}
	svc := newService(store, rules, erp, retry, &captureTasks{})

	txn, _ := svc.Submit(context.Background(), submitParams())
	if err := svc.Process(context.Background(), txn.ID); err != nil {
		t.Fatalf("process returns nil even on pipeline failure: %v", err)
	}

	got, _ := svc.Get(context.Background(), txn.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.ErrorMessage == nil {
		t.Fatal("failure reason must be recorded")
	}
	if len(retry.entries) != 0 {
		t.Fatal("validation failures must never create retry entries")
	}
	if erp.calls != 0 {
		t.Fatal("pipeline must stop before the ERP call")
	}
}

func TestProcess_TransientFailureEnqueuesOneRetryEntry(t *testing.T) {
	store := newMemStore()
	retry := &captureRetry{}
	erp := &fakeERP{errs: []error{apperr.Transient("erp 503")}}
	svc := newService(store, passthroughRules(), erp, retry, &captureTasks{})

	txn, _ := svc.Submit(context.Background(), submitParams())
	if err := svc.Process(context.Background(), txn.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, _ := svc.Get(context.Background(), txn.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if len(retry.entries) != 1 {
		t.Fatalf("expected exactly 1 retry entry, got %d", len(retry.entries))
	}
	if retry.entries[0].MaxAttempts != 3 {
		t.Fatalf("retry entry must carry the configured attempt cap, got %d", retry.entries[0].MaxAttempts)
	}
}

func TestProcess_UnclaimableIsSkipped(t *testing.T) {
	store := newMemStore()
	erp := &fakeERP{}
	svc := newService(store, passthroughRules(), erp, &captureRetry{}, &captureTasks{})

	txn, _ := svc.Submit(context.Background(), submitParams())
	if err := svc.Process(context.Background(), txn.ID); err != nil {
		t.Fatalf("first process: %v", err)
	}
	// Duplicate task delivery: the transaction is already terminal.
	if err := svc.Process(context.Background(), txn.ID); err != nil {
		t.Fatalf("duplicate process must be a no-op: %v", err)
	}
	if erp.calls != 1 {
		t.Fatalf("duplicate delivery must not create a second job, got %d calls", erp.calls)
	}
}

func TestHandleRetryEntry_SucceedsWithoutNewEntry(t *testing.T) {
	store := newMemStore()
	retry := &captureRetry{}
	erp := &fakeERP{errs: []error{apperr.Transient("erp 503"), nil}}
	svc := newService(store, passthroughRules(), erp, retry, &captureTasks{})

	txn, _ := svc.Submit(context.Background(), submitParams())
	_ = svc.Process(context.Background(), txn.ID) // fails, enqueues entry

	payload, _ := json.Marshal(retryPayload{TransactionID: txn.ID})
	if err := svc.HandleRetryEntry(context.Background(), payload); err != nil {
		t.Fatalf("redrive should succeed: %v", err)
	}

	got, _ := svc.Get(context.Background(), txn.ID)
	if got.Status != domain.StatusSuccess {
		t.Fatalf("expected succeeded after redrive, got %s", got.Status)
	}
	if got.RetryCount != 1 {
		t.Fatalf("retry count should be 1, got %d", got.RetryCount)
	}
	// The redrive reuses its entry; only the original failure enqueued one.
	if len(retry.entries) != 1 {
		t.Fatalf("expected 1 retry entry total, got %d", len(retry.entries))
	}
}

func TestHandleRetryEntry_FailureReturnsErrorWithoutNewEntry(t *testing.T) {
	store := newMemStore()
	retry := &captureRetry{}
	erp := &fakeERP{errs: []error{apperr.Transient("erp 503"), apperr.Transient("erp 503 again")}}
	svc := newService(store, passthroughRules(), erp, retry, &captureTasks{})

	txn, _ := svc.Submit(context.Background(), submitParams())
	_ = svc.Process(context.Background(), txn.ID)

	payload, _ := json.Marshal(retryPayload{TransactionID: txn.ID})
	err := svc.HandleRetryEntry(context.Background(), payload)
	if err == nil {
		t.Fatal("redrive failure must propagate to the retry queue")
	}
	if len(retry.entries) != 1 {
		t.Fatalf("redrive failures must not enqueue additional entries, got %d", len(retry.entries))
	}
}

func TestHandleRetryEntry_TerminalTransactionRetiresEntry(t *testing.T) {
	store := newMemStore()
	erp := &fakeERP{}
	svc := newService(store, passthroughRules(), erp, &captureRetry{}, &captureTasks{})

	txn, _ := svc.Submit(context.Background(), submitParams())
	_ = svc.Process(context.Background(), txn.ID) // succeeds

	payload, _ := json.Marshal(retryPayload{TransactionID: txn.ID})
	if err := svc.HandleRetryEntry(context.Background(), payload); err != nil {
		t.Fatalf("stale entry against a succeeded transaction must retire quietly: %v", err)
	}
	if erp.calls != 1 {
		t.Fatalf("stale redrive must not re-run the pipeline, got %d calls", erp.calls)
	}
}

func TestRetry_ManualOperatorRetry(t *testing.T) {
	store := newMemStore()
	tasks := &captureTasks{}
	erp := &fakeERP{errs: []error{apperr.Transient("down")}}
	svc := newService(store, passthroughRules(), erp, &captureRetry{}, tasks)

	txn, _ := svc.Submit(context.Background(), submitParams())
	_ = svc.Process(context.Background(), txn.ID)

	got, err := svc.Retry(context.Background(), txn.ID)
	if err != nil {
		t.Fatalf("manual retry: %v", err)
	}
	if got.Status != domain.StatusPending {
		t.Fatalf("manual retry must repend the transaction, got %s", got.Status)
	}
	if got.RetryCount != 1 {
		t.Fatalf("retry count should increment, got %d", got.RetryCount)
	}
	if len(tasks.ids) != 2 {
		t.Fatalf("manual retry must enqueue a new processing task, got %d", len(tasks.ids))
	}
}

func TestRetry_RejectsNonFailedTransaction(t *testing.T) {
	store := newMemStore()
	svc := newService(store, passthroughRules(), &fakeERP{}, &captureRetry{}, &captureTasks{})

	txn, _ := svc.Submit(context.Background(), submitParams())
	_ = svc.Process(context.Background(), txn.ID) // succeeded

	if _, err := svc.Retry(context.Background(), txn.ID); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict for non-failed transaction, got %v", err)
	}
}

func TestHistory_TracksLifecycle(t *testing.T) {
	store := newMemStore()
	erp := &fakeERP{errs: []error{apperr.Transient("down"), nil}}
	svc := newService(store, passthroughRules(), erp, &captureRetry{}, &captureTasks{})

	txn, _ := svc.Submit(context.Background(), submitParams())
	_ = svc.Process(context.Background(), txn.ID)

	payload, _ := json.Marshal(retryPayload{TransactionID: txn.ID})
	_ = svc.HandleRetryEntry(context.Background(), payload)

	hist, err := svc.History(context.Background(), txn.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	want := []domain.Status{
		domain.StatusPending, domain.StatusProcessing, domain.StatusFailed,
		domain.StatusPending, domain.StatusProcessing, domain.StatusSuccess,
	}
	if len(hist) != len(want) {
		t.Fatalf("expected %d history entries, got %d", len(want), len(hist))
	}
	for i, status := range want {
		if hist[i].Status != status {
			t.Fatalf("history[%d] = %s, want %s", i, hist[i].Status, status)
		}
	}
}

type captureDispatch struct {
	calls []map[string]string
}

func (c *captureDispatch) CreateFromTransaction(_ context.Context, _ domain.Transaction, mapped map[string]string) error {
	c.calls = append(c.calls, mapped)
	return nil
}

func TestProcess_SubcontractorFulfillmentOpensDispatch(t *testing.T) {
	store := newMemStore()
	svc := newService(store, passthroughRules(), &fakeERP{}, &captureRetry{}, &captureTasks{})
	creator := &captureDispatch{}
	svc.SetJobRequestCreator(creator)

	params := submitParams()
	params.RawPayload["fulfillment"] = "subcontractor"
	txn, _ := svc.Submit(context.Background(), params)

	if err := svc.Process(context.Background(), txn.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(creator.calls) != 1 {
		t.Fatalf("dispatch opened %d times, want 1", len(creator.calls))
	}
}

func TestProcess_InHouseFulfillmentSkipsDispatch(t *testing.T) {
	store := newMemStore()
	svc := newService(store, passthroughRules(), &fakeERP{}, &captureRetry{}, &captureTasks{})
	creator := &captureDispatch{}
	svc.SetJobRequestCreator(creator)

	txn, _ := svc.Submit(context.Background(), submitParams())

	if err := svc.Process(context.Background(), txn.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(creator.calls) != 0 {
		t.Fatalf("dispatch opened %d times for in-house work, want 0", len(creator.calls))
	}
}

func TestRetry_ExhaustedBudgetDoesNotReopenAutomaticRetries(t *testing.T) {
	store := newMemStore()
	retry := &captureRetry{}
	erp := &fakeERP{errs: []error{apperr.Transient("erp timeout")}}
	svc := newService(store, passthroughRules(), erp, retry, &captureTasks{})

	txn, _ := svc.Submit(context.Background(), submitParams())

	// Automatic attempts already spent.
	store.mu.Lock()
	failed := store.txns[txn.ID]
	failed.Status = domain.StatusFailed
	failed.RetryCount = 3
	store.txns[txn.ID] = failed
	store.mu.Unlock()

	if _, err := svc.Retry(context.Background(), txn.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if err := svc.Process(context.Background(), txn.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, _ := store.GetByID(context.Background(), txn.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want %s", got.Status, domain.StatusFailed)
	}
	if len(retry.entries) != 0 {
		t.Fatalf("enqueued %d retry entries past the budget, want 0", len(retry.entries))
	}
}
