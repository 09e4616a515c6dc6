package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fieldserve_backend/internal/email"
	"fieldserve_backend/internal/events"
	"fieldserve_backend/internal/subcontractor"
	"fieldserve_backend/internal/transaction/domain"
	"fieldserve_backend/platform/apperr"
	"fieldserve_backend/platform/config"
	"fieldserve_backend/platform/logger"
	"fieldserve_backend/platform/phone"
)

// Store is the persistence surface the scheduler needs.
type Store interface {
	Create(ctx context.Context, p CreateParams) (JobRequest, error)
	GetByID(ctx context.Context, id uuid.UUID) (JobRequest, error)
	List(ctx context.Context, status Status, limit int) ([]JobRequest, error)
	AssignIfPending(ctx context.Context, id, subcontractorID uuid.UUID, day, timeSlot string) (bool, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]JobRequest, error)
	MarkExpired(ctx context.Context, id uuid.UUID) (bool, error)
	InsertResponse(ctx context.Context, p ResponseParams) (Response, error)
	ListResponses(ctx context.Context, jobRequestID uuid.UUID) ([]Response, error)
	ListAvailableResponses(ctx context.Context, jobRequestID uuid.UUID) ([]Response, error)
}

// Directory is the slice of the subcontractor module the scheduler uses.
type Directory interface {
	ListActive(ctx context.Context) ([]subcontractor.Subcontractor, error)
	GetAvailabilityFor(ctx context.Context, subIDs []uuid.UUID, day string) ([]subcontractor.Availability, error)
	ReserveDaySlot(ctx context.Context, subID uuid.UUID, day string) error
	ReleaseDaySlot(ctx context.Context, subID uuid.UUID, day string) error
}

// SMSSender delivers dispatch notifications.
type SMSSender interface {
	Send(ctx context.Context, phoneNumber string, message string) (string, error)
}

// OperatorNotifier alerts a human when a job request expires unanswered.
type OperatorNotifier interface {
	SendDispatchExpiredAlert(ctx context.Context, notice email.DispatchExpiredNotice) error
}

// Service runs the dispatch scheduling flow.
type Service struct {
	store     Store
	directory Directory
	sms       SMSSender
	notifier  OperatorNotifier
	bus       events.Bus
	log       *logger.Logger

	weights        Weights
	responseWindow time.Duration
}

// NewService creates the dispatch scheduler.
func NewService(store Store, directory Directory, sms SMSSender, bus events.Bus, log *logger.Logger, cfg config.DispatchConfig) *Service {
	return &Service{
		store:     store,
		directory: directory,
		sms:       sms,
		bus:       bus,
		log:       log.With("component", "dispatch"),
		weights: Weights{
			Rating:         cfg.GetScoreRatingWeight(),
			Distance:       cfg.GetScoreDistanceWeight(),
			PreferredBonus: cfg.GetScorePreferredBonus(),
		},
		responseWindow: cfg.GetDispatchResponseWindow(),
	}
}

// SetOperatorNotifier wires the expiry alert channel after construction.
func (s *Service) SetOperatorNotifier(n OperatorNotifier) { s.notifier = n }

// CreateJobRequest persists a job request, finds eligible subcontractors
// with open capacity on the requested day, scores their slots and notifies
// each of them over SMS. The request stays pending until a subcontractor
// accepts or the response window closes.
func (s *Service) CreateJobRequest(ctx context.Context, p CreateParams) (SchedulingResult, error) {
	if p.AreaCode == "" {
		p.AreaCode = phone.AreaCode(p.CustomerPhone)
	}
	if p.AreaCode == "" {
		return SchedulingResult{}, apperr.Validation("area code is required for dispatch")
	}
	if p.PreferredDate == "" {
		// No customer preference: expand availability for today.
		p.PreferredDate = time.Now().Format("2006-01-02")
	}

	jr, err := s.store.Create(ctx, p)
	if err != nil {
		return SchedulingResult{}, err
	}

	subs, err := s.directory.ListActive(ctx)
	if err != nil {
		return SchedulingResult{}, err
	}
	eligible := subcontractor.FilterEligible(subs, jr.AreaCode, jr.ServiceType)

	candidates, offerable, err := s.buildCandidates(ctx, jr, eligible)
	if err != nil {
		return SchedulingResult{}, err
	}
	SortCandidates(candidates)
	recommended := Recommend(candidates)

	s.bus.Publish(ctx, events.JobRequestCreated{
		BaseEvent:      events.NewBaseEvent(),
		JobRequestID:   jr.ID,
		TransactionID:  jr.TransactionID,
		ServiceType:    jr.ServiceType,
		AreaCode:       jr.AreaCode,
		CandidateCount: len(candidates),
	})

	if len(offerable) == 0 {
		s.log.Warn("no eligible subcontractors for job request",
			"jobRequestId", jr.ID, "areaCode", jr.AreaCode, "serviceType", jr.ServiceType)
		return SchedulingResult{JobRequest: jr, EstimatedResponse: s.responseWindow}, nil
	}

	notified := s.notifyAll(ctx, jr, offerable)

	return SchedulingResult{
		JobRequest:        jr,
		Candidates:        candidates,
		Recommended:       recommended,
		NotifiedCount:     notified,
		EstimatedResponse: s.responseWindow,
	}, nil
}

// buildCandidates joins eligible subcontractors with their availability on
// the preferred day and scores every offerable time slot. It also returns
// the subset of subcontractors with at least one open slot, which is the
// notification fan-out list.
func (s *Service) buildCandidates(ctx context.Context, jr JobRequest, eligible []subcontractor.Subcontractor) ([]CandidateSlot, []subcontractor.Subcontractor, error) {
	if len(eligible) == 0 {
		return nil, nil, nil
	}

	ids := make([]uuid.UUID, len(eligible))
	byID := make(map[uuid.UUID]subcontractor.Subcontractor, len(eligible))
	for i, sub := range eligible {
		ids[i] = sub.ID
		byID[sub.ID] = sub
	}

	days, err := s.directory.GetAvailabilityFor(ctx, ids, jr.PreferredDate)
	if err != nil {
		return nil, nil, err
	}

	var candidates []CandidateSlot
	var offerable []subcontractor.Subcontractor
	for _, day := range days {
		if !day.Offerable() {
			continue
		}
		sub, ok := byID[day.SubcontractorID]
		if !ok {
			continue
		}
		offerable = append(offerable, sub)

		distance := nearestAreaDistance(sub.ServiceAreas, jr.AreaCode)
		for _, slot := range day.TimeSlots {
			preferred := jr.PreferredTimeSlot != "" && slot == jr.PreferredTimeSlot
			candidates = append(candidates, CandidateSlot{
				SubcontractorID:   sub.ID,
				SubcontractorName: sub.Name,
				Rating:            sub.Rating,
				DistanceMiles:     distance,
				Day:               day.Day,
				TimeSlot:          slot,
				Score:             Score(sub.Rating, distance, preferred, s.weights),
			})
		}
	}
	return candidates, offerable, nil
}

// nearestAreaDistance takes the best (smallest) estimate across the
// subcontractor's service areas.
func nearestAreaDistance(serviceAreas []string, areaCode string) float64 {
	best := unknownDistance
	for _, area := range serviceAreas {
		if d := EstimateDistanceMiles(area, areaCode); d < best {
			best = d
		}
	}
	return best
}

// notifyAll sends the dispatch SMS to every offerable subcontractor. Sends
// are independent: one gateway failure never blocks the rest of the fan-out.
func (s *Service) notifyAll(ctx context.Context, jr JobRequest, subs []subcontractor.Subcontractor) int {
	message := s.composeMessage(jr)

	var mu sync.Mutex
	notified := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(5)

	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			_, err := s.sms.Send(gctx, sub.Phone, message)
			if err != nil {
				s.log.Error("dispatch notification failed",
					"jobRequestId", jr.ID, "subcontractorId", sub.ID, "error", err)
			} else {
				mu.Lock()
				notified++
				mu.Unlock()
			}
			s.bus.Publish(gctx, events.DispatchNotified{
				BaseEvent:       events.NewBaseEvent(),
				JobRequestID:    jr.ID,
				SubcontractorID: sub.ID,
				Delivered:       err == nil,
			})
			return nil
		})
	}
	_ = g.Wait()

	s.log.Info("dispatch fan-out complete",
		"jobRequestId", jr.ID, "notified", notified, "total", len(subs))
	return notified
}

func (s *Service) composeMessage(jr JobRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FieldServe job %s: %s", shortID(jr.ID), jr.ServiceType)
	if jr.VehicleInfo != "" {
		fmt.Fprintf(&b, " for %s", jr.VehicleInfo)
	}
	if jr.Address != "" {
		fmt.Fprintf(&b, " at %s", jr.Address)
	} else {
		fmt.Fprintf(&b, " in area %s", jr.AreaCode)
	}
	fmt.Fprintf(&b, " on %s", jr.PreferredDate)
	if jr.PreferredTimeSlot != "" {
		fmt.Fprintf(&b, " (%s)", jr.PreferredTimeSlot)
	}
	if jr.EstimatedDurationMins > 0 {
		fmt.Fprintf(&b, ", est. %d min", jr.EstimatedDurationMins)
	}
	fmt.Fprintf(&b, ". Reply via portal within %s.", formatWindow(s.responseWindow))
	return b.String()
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

func formatWindow(d time.Duration) string {
	if h := int(d.Hours()); h >= 1 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dm", int(d.Minutes()))
}

// RecordResponse appends a subcontractor's reply. An acceptance on a still
// pending request triggers assignment evaluation; replies that arrive after
// assignment are kept for the audit trail but change nothing.
func (s *Service) RecordResponse(ctx context.Context, p ResponseParams) (Response, error) {
	if !p.Response.Valid() {
		return Response{}, apperr.Validation(fmt.Sprintf("unknown response %q", p.Response))
	}

	jr, err := s.store.GetByID(ctx, p.JobRequestID)
	if err != nil {
		return Response{}, err
	}

	resp, err := s.store.InsertResponse(ctx, p)
	if err != nil {
		return Response{}, err
	}
	s.log.Info("subcontractor response recorded",
		"jobRequestId", jr.ID, "subcontractorId", p.SubcontractorID, "response", p.Response)

	if p.Response == ResponseAvailable && jr.Status == StatusPending {
		if err := s.evaluate(ctx, jr); err != nil {
			s.log.Error("assignment evaluation failed", "jobRequestId", jr.ID, "error", err)
		}
	}
	return resp, nil
}

// evaluate walks acceptances oldest first and assigns the job to the first
// subcontractor whose day still has capacity. The capacity reservation runs
// before the assignment so two concurrent acceptances cannot both land on a
// full day; a lost assignment race releases the reservation.
func (s *Service) evaluate(ctx context.Context, jr JobRequest) error {
	acceptances, err := s.store.ListAvailableResponses(ctx, jr.ID)
	if err != nil {
		return err
	}

	for _, acc := range acceptances {
		day := jr.PreferredDate
		if acc.ProposedDate != nil && *acc.ProposedDate != "" {
			day = *acc.ProposedDate
		}
		slot := pickSlot(acc.AvailableTimeSlots, jr.PreferredTimeSlot)

		err := s.directory.ReserveDaySlot(ctx, acc.SubcontractorID, day)
		if apperr.Is(err, apperr.KindCapacity) {
			// This responder filled up since replying; try the next one.
			continue
		}
		if err != nil {
			return err
		}

		assigned, err := s.store.AssignIfPending(ctx, jr.ID, acc.SubcontractorID, day, slot)
		if err != nil || !assigned {
			if relErr := s.directory.ReleaseDaySlot(ctx, acc.SubcontractorID, day); relErr != nil {
				s.log.Error("slot release failed",
					"subcontractorId", acc.SubcontractorID, "day", day, "error", relErr)
			}
			return err
		}

		s.bus.Publish(ctx, events.SubcontractorAssigned{
			BaseEvent:       events.NewBaseEvent(),
			JobRequestID:    jr.ID,
			TransactionID:   jr.TransactionID,
			SubcontractorID: acc.SubcontractorID,
			ScheduledDate:   day,
			TimeSlot:        slot,
		})
		s.log.Info("job request assigned",
			"jobRequestId", jr.ID, "subcontractorId", acc.SubcontractorID,
			"day", day, "timeSlot", slot)
		return nil
	}
	return nil
}

// pickSlot prefers the customer's slot when the responder offered it,
// otherwise takes the responder's first offered slot.
func pickSlot(offered []string, preferred string) string {
	for _, slot := range offered {
		if preferred != "" && slot == preferred {
			return slot
		}
	}
	if len(offered) > 0 {
		return offered[0]
	}
	return preferred
}

// ExpireStale closes pending job requests whose response window has passed.
// Each expiry raises an event and an operator email so a human can follow up
// manually. Returns the number of requests expired.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.responseWindow)
	stale, err := s.store.ListPendingBefore(ctx, cutoff, 200)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, jr := range stale {
		ok, err := s.store.MarkExpired(ctx, jr.ID)
		if err != nil {
			return expired, err
		}
		if !ok {
			// Assigned between the sweep query and the update.
			continue
		}
		expired++

		s.bus.Publish(ctx, events.JobRequestExpired{
			BaseEvent:     events.NewBaseEvent(),
			JobRequestID:  jr.ID,
			TransactionID: jr.TransactionID,
		})
		if s.notifier != nil {
			if err := s.notifier.SendDispatchExpiredAlert(ctx, email.DispatchExpiredNotice{
				JobRequestID: jr.ID.String(),
				ServiceType:  jr.ServiceType,
				AreaCode:     jr.AreaCode,
			}); err != nil {
				s.log.Warn("expiry alert failed", "jobRequestId", jr.ID, "error", err)
			}
		}
	}
	if expired > 0 {
		s.log.Info("expired stale job requests", "count", expired)
	}
	return expired, nil
}

// Get returns one job request with its responses.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (JobRequest, []Response, error) {
	jr, err := s.store.GetByID(ctx, id)
	if err != nil {
		return JobRequest{}, nil, err
	}
	responses, err := s.store.ListResponses(ctx, id)
	if err != nil {
		return JobRequest{}, nil, err
	}
	return jr, responses, nil
}

// List returns recent job requests, optionally filtered by status.
func (s *Service) List(ctx context.Context, status Status, limit int) ([]JobRequest, error) {
	return s.store.List(ctx, status, limit)
}

// CreateFromTransaction hands a completed transaction off to the scheduler.
// Mapped fields take precedence over the raw intake payload.
func (s *Service) CreateFromTransaction(ctx context.Context, txn domain.Transaction, mapped map[string]string) error {
	pick := func(keys ...string) string {
		for _, k := range keys {
			if v := mapped[k]; v != "" {
				return v
			}
		}
		for _, k := range keys {
			if v := txn.RawPayload[k]; v != "" {
				return v
			}
		}
		return ""
	}

	serviceType := pick("service_type", "serviceType", "job_type")
	if serviceType == "" {
		serviceType = "glass_replacement"
	}

	id := txn.ID
	_, err := s.CreateJobRequest(ctx, CreateParams{
		TransactionID:     &id,
		CustomerName:      txn.CustomerName,
		CustomerPhone:     txn.CustomerPhone,
		Address:           pick("address", "service_address", "location"),
		AreaCode:          phone.AreaCode(txn.CustomerPhone),
		ServiceType:       serviceType,
		VehicleInfo:       txn.VehicleInfo,
		PreferredDate:     pick("preferred_date", "preferredDate", "appointment_date"),
		PreferredTimeSlot: pick("preferred_time_slot", "preferredTimeSlot"),
	})
	return err
}
