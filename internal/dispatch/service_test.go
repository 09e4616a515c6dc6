package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"fieldserve_backend/internal/email"
	"fieldserve_backend/internal/events"
	"fieldserve_backend/internal/subcontractor"
	"fieldserve_backend/platform/apperr"
	"fieldserve_backend/platform/logger"
)

// ---------------------------------------------------------------------------
// fakes

type fakeStore struct {
	mu        sync.Mutex
	requests  map[uuid.UUID]JobRequest
	responses []Response
}

func newFakeStore() *fakeStore {
	return &fakeStore{requests: make(map[uuid.UUID]JobRequest)}
}

func (f *fakeStore) Create(_ context.Context, p CreateParams) (JobRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	jr := JobRequest{
		ID:                uuid.New(),
		TransactionID:     p.TransactionID,
		CustomerName:      p.CustomerName,
		CustomerPhone:     p.CustomerPhone,
		AreaCode:          p.AreaCode,
		ServiceType:       p.ServiceType,
		PreferredDate:     p.PreferredDate,
		PreferredTimeSlot: p.PreferredTimeSlot,
		Status:            StatusPending,
		CreatedAt:         time.Now(),
	}
	f.requests[jr.ID] = jr
	return jr, nil
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (JobRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	jr, ok := f.requests[id]
	if !ok {
		return JobRequest{}, apperr.NotFound("job request not found")
	}
	return jr, nil
}

func (f *fakeStore) List(_ context.Context, status Status, _ int) ([]JobRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []JobRequest
	for _, jr := range f.requests {
		if status == "" || jr.Status == status {
			out = append(out, jr)
		}
	}
	return out, nil
}

func (f *fakeStore) AssignIfPending(_ context.Context, id, subID uuid.UUID, day, slot string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	jr, ok := f.requests[id]
	if !ok || jr.Status != StatusPending {
		return false, nil
	}
	jr.Status = StatusAssigned
	jr.AssignedSubcontractorID = &subID
	jr.AssignedDate = day
	jr.AssignedTimeSlot = slot
	f.requests[id] = jr
	return true, nil
}

func (f *fakeStore) ListPendingBefore(_ context.Context, cutoff time.Time, _ int) ([]JobRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []JobRequest
	for _, jr := range f.requests {
		if jr.Status == StatusPending && jr.CreatedAt.Before(cutoff) {
			out = append(out, jr)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkExpired(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	jr, ok := f.requests[id]
	if !ok || jr.Status != StatusPending {
		return false, nil
	}
	jr.Status = StatusExpired
	f.requests[id] = jr
	return true, nil
}

func (f *fakeStore) InsertResponse(_ context.Context, p ResponseParams) (Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := Response{
		ID:                 uuid.New(),
		JobRequestID:       p.JobRequestID,
		SubcontractorID:    p.SubcontractorID,
		Response:           p.Response,
		AvailableTimeSlots: p.AvailableTimeSlots,
		ProposedDate:       p.ProposedDate,
		RespondedAt:        time.Now(),
	}
	f.responses = append(f.responses, resp)
	return resp, nil
}

func (f *fakeStore) ListResponses(_ context.Context, id uuid.UUID) ([]Response, error) {
	return f.listResponses(id, "")
}

func (f *fakeStore) ListAvailableResponses(_ context.Context, id uuid.UUID) ([]Response, error) {
	return f.listResponses(id, ResponseAvailable)
}

func (f *fakeStore) listResponses(id uuid.UUID, kind ResponseKind) ([]Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Response
	for _, r := range f.responses {
		if r.JobRequestID == id && (kind == "" || r.Response == kind) {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeDirectory struct {
	mu       sync.Mutex
	subs     []subcontractor.Subcontractor
	days     map[uuid.UUID]subcontractor.Availability
	reserved map[uuid.UUID]int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		days:     make(map[uuid.UUID]subcontractor.Availability),
		reserved: make(map[uuid.UUID]int),
	}
}

func (f *fakeDirectory) addSub(name string, rating float64, areas []string, slots []string, maxJobs int) subcontractor.Subcontractor {
	sub := subcontractor.Subcontractor{
		ID:           uuid.New(),
		Name:         name,
		Phone:        "+1206555" + fmt.Sprintf("%04d", len(f.subs)),
		ServiceAreas: areas,
		Rating:       rating,
		IsActive:     true,
	}
	f.subs = append(f.subs, sub)
	f.days[sub.ID] = subcontractor.Availability{
		SubcontractorID: sub.ID,
		Day:             "2026-09-01",
		TimeSlots:       slots,
		MaxJobs:         maxJobs,
		IsAvailable:     true,
	}
	return sub
}

func (f *fakeDirectory) ListActive(context.Context) ([]subcontractor.Subcontractor, error) {
	return f.subs, nil
}

func (f *fakeDirectory) GetAvailabilityFor(_ context.Context, subIDs []uuid.UUID, day string) ([]subcontractor.Availability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []subcontractor.Availability
	for _, id := range subIDs {
		if a, ok := f.days[id]; ok && a.Day == day {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeDirectory) ReserveDaySlot(_ context.Context, subID uuid.UUID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.days[subID]
	if !ok || !a.IsAvailable || a.CurrentJobs >= a.MaxJobs {
		return apperr.Capacity("day is full")
	}
	a.CurrentJobs++
	f.days[subID] = a
	f.reserved[subID]++
	return nil
}

func (f *fakeDirectory) ReleaseDaySlot(_ context.Context, subID uuid.UUID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.days[subID]
	if a.CurrentJobs > 0 {
		a.CurrentJobs--
	}
	f.days[subID] = a
	f.reserved[subID]--
	return nil
}

type fakeSMS struct {
	mu     sync.Mutex
	sent   []string
	failFor map[string]bool
}

func newFakeSMS() *fakeSMS {
	return &fakeSMS{failFor: make(map[string]bool)}
}

func (f *fakeSMS) Send(_ context.Context, phoneNumber, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[phoneNumber] {
		return "", errors.New("gateway timeout")
	}
	f.sent = append(f.sent, phoneNumber)
	return "msg-" + phoneNumber, nil
}

// recordingBus captures published events synchronously.
type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) PublishSync(ctx context.Context, e events.Event) error {
	b.Publish(ctx, e)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) byName(name string) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Event
	for _, e := range b.events {
		if e.EventName() == name {
			out = append(out, e)
		}
	}
	return out
}

type dispatchFixture struct {
	svc   *Service
	store *fakeStore
	dir   *fakeDirectory
	sms   *fakeSMS
	bus   *recordingBus
}

func newFixture() *dispatchFixture {
	store := newFakeStore()
	dir := newFakeDirectory()
	sms := newFakeSMS()
	bus := &recordingBus{}
	svc := &Service{
		store:          store,
		directory:      dir,
		sms:            sms,
		bus:            bus,
		log:            logger.New("test"),
		weights:        testWeights,
		responseWindow: 24 * time.Hour,
	}
	return &dispatchFixture{svc: svc, store: store, dir: dir, sms: sms, bus: bus}
}

func jobParams() CreateParams {
	return CreateParams{
		CustomerName:      "Dana Smith",
		CustomerPhone:     "+12065550123",
		AreaCode:          "206",
		ServiceType:       "windshield",
		PreferredDate:     "2026-09-01",
		PreferredTimeSlot: "morning",
	}
}

// ---------------------------------------------------------------------------
// tests

func TestCreateJobRequest_ScoresAndNotifiesEligible(t *testing.T) {
	f := newFixture()
	best := f.dir.addSub("best", 5.0, []string{"206"}, []string{"morning", "afternoon"}, 3)
	f.dir.addSub("okay", 3.5, []string{"206"}, []string{"afternoon"}, 3)
	f.dir.addSub("elsewhere", 4.9, []string{"425"}, []string{"morning"}, 3)

	result, err := f.svc.CreateJobRequest(context.Background(), jobParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// "elsewhere" is filtered on area, so: best offers 2 slots, okay 1.
	if len(result.Candidates) != 3 {
		t.Fatalf("expected 3 candidate slots, got %d", len(result.Candidates))
	}
	if result.Recommended == nil {
		t.Fatal("expected a recommendation")
	}
	if result.Recommended.SubcontractorID != best.ID || result.Recommended.TimeSlot != "morning" {
		t.Fatalf("expected best/morning recommended, got %s/%s",
			result.Recommended.SubcontractorName, result.Recommended.TimeSlot)
	}
	if result.NotifiedCount != 2 {
		t.Fatalf("expected 2 notifications, got %d", result.NotifiedCount)
	}
	if result.JobRequest.Status != StatusPending {
		t.Fatalf("new request should be pending, got %s", result.JobRequest.Status)
	}
	if got := len(f.bus.byName("dispatch.notified")); got != 2 {
		t.Fatalf("expected 2 notified events, got %d", got)
	}
}

func TestCreateJobRequest_SendFailureDoesNotBlockFanOut(t *testing.T) {
	f := newFixture()
	first := f.dir.addSub("first", 4.0, []string{"206"}, []string{"morning"}, 3)
	second := f.dir.addSub("second", 4.0, []string{"206"}, []string{"morning"}, 3)
	f.sms.failFor[first.Phone] = true

	result, err := f.svc.CreateJobRequest(context.Background(), jobParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.NotifiedCount != 1 {
		t.Fatalf("expected 1 delivered notification, got %d", result.NotifiedCount)
	}
	if len(f.sms.sent) != 1 || f.sms.sent[0] != second.Phone {
		t.Fatalf("second partner should still be notified, sent=%v", f.sms.sent)
	}

	// Both attempts raise an event, with delivery status on each.
	notified := f.bus.byName("dispatch.notified")
	if len(notified) != 2 {
		t.Fatalf("expected 2 notified events, got %d", len(notified))
	}
	delivered := 0
	for _, e := range notified {
		if e.(events.DispatchNotified).Delivered {
			delivered++
		}
	}
	if delivered != 1 {
		t.Fatalf("expected exactly 1 delivered=true event, got %d", delivered)
	}
}

func TestCreateJobRequest_NoEligiblePartnersStaysPending(t *testing.T) {
	f := newFixture()
	f.dir.addSub("elsewhere", 4.9, []string{"425"}, []string{"morning"}, 3)

	result, err := f.svc.CreateJobRequest(context.Background(), jobParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Candidates) != 0 || result.NotifiedCount != 0 {
		t.Fatalf("expected empty scheduling result, got %+v", result)
	}
	if result.JobRequest.Status != StatusPending {
		t.Fatal("request must stay pending for the expiry sweep")
	}
}

func TestRecordResponse_FirstAcceptWins(t *testing.T) {
	f := newFixture()
	early := f.dir.addSub("early", 4.0, []string{"206"}, []string{"morning"}, 3)
	late := f.dir.addSub("late", 5.0, []string{"206"}, []string{"morning"}, 3)

	result, err := f.svc.CreateJobRequest(context.Background(), jobParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	jrID := result.JobRequest.ID

	if _, err := f.svc.RecordResponse(context.Background(), ResponseParams{
		JobRequestID:       jrID,
		SubcontractorID:    early.ID,
		Response:           ResponseAvailable,
		AvailableTimeSlots: []string{"morning"},
	}); err != nil {
		t.Fatalf("first response: %v", err)
	}

	jr, _, err := f.svc.Get(context.Background(), jrID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if jr.Status != StatusAssigned || jr.AssignedSubcontractorID == nil || *jr.AssignedSubcontractorID != early.ID {
		t.Fatalf("expected early responder assigned, got %+v", jr)
	}
	if f.dir.reserved[early.ID] != 1 {
		t.Fatal("winner's day slot must be reserved")
	}

	// A later acceptance is recorded but changes nothing.
	if _, err := f.svc.RecordResponse(context.Background(), ResponseParams{
		JobRequestID:       jrID,
		SubcontractorID:    late.ID,
		Response:           ResponseAvailable,
		AvailableTimeSlots: []string{"morning"},
	}); err != nil {
		t.Fatalf("late response: %v", err)
	}

	jr, responses, err := f.svc.Get(context.Background(), jrID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if *jr.AssignedSubcontractorID != early.ID {
		t.Fatal("assignment must not move to a later responder")
	}
	if len(responses) != 2 {
		t.Fatalf("both responses must be kept, got %d", len(responses))
	}
	if f.dir.reserved[late.ID] != 0 {
		t.Fatal("loser must not hold a reservation")
	}

	assigned := f.bus.byName("dispatch.assigned")
	if len(assigned) != 1 {
		t.Fatalf("expected exactly 1 assigned event, got %d", len(assigned))
	}
}

func TestRecordResponse_CapacityFullMovesToNextResponder(t *testing.T) {
	f := newFixture()
	full := f.dir.addSub("full", 5.0, []string{"206"}, []string{"morning"}, 1)
	open := f.dir.addSub("open", 4.0, []string{"206"}, []string{"morning"}, 3)

	result, err := f.svc.CreateJobRequest(context.Background(), jobParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	jrID := result.JobRequest.ID

	// The full partner's last slot goes to another job before they reply.
	if err := f.dir.ReserveDaySlot(context.Background(), full.ID, "2026-09-01"); err != nil {
		t.Fatalf("pre-reserve: %v", err)
	}

	for _, sub := range []uuid.UUID{full.ID, open.ID} {
		if _, err := f.svc.RecordResponse(context.Background(), ResponseParams{
			JobRequestID:       jrID,
			SubcontractorID:    sub,
			Response:           ResponseAvailable,
			AvailableTimeSlots: []string{"morning"},
		}); err != nil {
			t.Fatalf("response from %v: %v", sub, err)
		}
	}

	jr, _, err := f.svc.Get(context.Background(), jrID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if jr.Status != StatusAssigned || *jr.AssignedSubcontractorID != open.ID {
		t.Fatalf("expected open partner to win after capacity rejection, got %+v", jr)
	}
}

func TestRecordResponse_DeclineDoesNotAssign(t *testing.T) {
	f := newFixture()
	sub := f.dir.addSub("declines", 4.0, []string{"206"}, []string{"morning"}, 3)

	result, err := f.svc.CreateJobRequest(context.Background(), jobParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := f.svc.RecordResponse(context.Background(), ResponseParams{
		JobRequestID:    result.JobRequest.ID,
		SubcontractorID: sub.ID,
		Response:        ResponseDeclined,
		Reason:          "booked solid",
	}); err != nil {
		t.Fatalf("decline: %v", err)
	}

	jr, _, _ := f.svc.Get(context.Background(), result.JobRequest.ID)
	if jr.Status != StatusPending {
		t.Fatalf("decline must leave request pending, got %s", jr.Status)
	}
}

func TestRecordResponse_RejectsUnknownKind(t *testing.T) {
	f := newFixture()
	_, err := f.svc.RecordResponse(context.Background(), ResponseParams{
		JobRequestID:    uuid.New(),
		SubcontractorID: uuid.New(),
		Response:        "maybe",
	})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExpireStale_ExpiresAndNotifies(t *testing.T) {
	f := newFixture()
	f.dir.addSub("quiet", 4.0, []string{"206"}, []string{"morning"}, 3)

	result, err := f.svc.CreateJobRequest(context.Background(), jobParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Age the request past the response window.
	f.store.mu.Lock()
	jr := f.store.requests[result.JobRequest.ID]
	jr.CreatedAt = time.Now().Add(-25 * time.Hour)
	f.store.requests[jr.ID] = jr
	f.store.mu.Unlock()

	notices := &expiredNotices{}
	f.svc.SetOperatorNotifier(notices)

	count, err := f.svc.ExpireStale(context.Background())
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 expired, got %d", count)
	}

	got, _, _ := f.svc.Get(context.Background(), jr.ID)
	if got.Status != StatusExpired {
		t.Fatalf("expected expired status, got %s", got.Status)
	}
	if notices.count() != 1 {
		t.Fatalf("expected 1 operator notice, got %d", notices.count())
	}
	if len(f.bus.byName("dispatch.job_request.expired")) != 1 {
		t.Fatal("expected 1 expired event")
	}

	// A second sweep is a no-op.
	count, err = f.svc.ExpireStale(context.Background())
	if err != nil || count != 0 {
		t.Fatalf("second sweep should expire nothing, got %d, %v", count, err)
	}
}

type expiredNotices struct {
	mu sync.Mutex
	n  int
}

func (e *expiredNotices) SendDispatchExpiredAlert(context.Context, email.DispatchExpiredNotice) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.n++
	return nil
}

func (e *expiredNotices) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.n
}

func TestCreateJobRequest_DefaultsPreferredDateToToday(t *testing.T) {
	f := newFixture()

	p := jobParams()
	p.PreferredDate = ""
	result, err := f.svc.CreateJobRequest(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	today := time.Now().Format("2006-01-02")
	if result.JobRequest.PreferredDate != today {
		t.Fatalf("preferred date = %q, want today %q", result.JobRequest.PreferredDate, today)
	}
}
