package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/clinicore/clinic-scheduling/internal/redis"
)

const (
	// unitMinutes is the billable unit: claim quantity is
	// ceil(actual minutes / unitMinutes).
	unitMinutes = 15
	// minBillableMinutes is the floor below which a session cannot be billed
	// and completion is refused.
	minBillableMinutes = 8
	// lateCancelWindow is how close to the scheduled start a patient
	// cancellation incurs a fee.
	lateCancelWindow = 24 * time.Hour
)

var (
	ErrInsuranceNotAuthorized  = errors.New("insurance not authorized")
	ErrRegulatoryLimitExceeded = errors.New("regulatory limit exceeded")
	ErrScheduleConflict        = errors.New("schedule conflict")
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrBelowMinimumBillable    = errors.New("actual duration below minimum billable threshold")
	// ErrBillingHandoff is surfaced separately from the completed state: a
	// finished clinical session is never reverted because the claim failed.
	ErrBillingHandoff = errors.New("claim handoff failed")
)

// Actor identifies who requested a lifecycle operation. Late-cancellation
// fees only apply to patient-initiated cancellations.
type Actor string

const (
	ActorPatient      Actor = "patient"
	ActorProfessional Actor = "professional"
	ActorStaff        Actor = "staff"
	ActorSystem       Actor = "system"
)

// defaultDurations gives each appointment kind its usual session length.
var defaultDurations = map[AppointmentKind]int{
	KindEvaluation:   90,
	KindIndividual:   60,
	KindGroup:        60,
	KindTeletherapy:  45,
	KindConsultation: 30,
	KindAssessment:   90,
}

// defaultUnitRates is the fallback per-unit fee schedule by CPT code, used
// when the appointment carries no estimated reimbursement.
var defaultUnitRates = map[string]float64{
	"92507": 42.50, // individual treatment
	"92508": 21.25, // group treatment
	"92521": 55.00, // evaluation of speech fluency
	"92523": 57.75, // speech sound + language evaluation
	"92606": 48.00, // non-speech device service
}

const fallbackUnitRate = 40.0

// BookingRequest is the input to appointment creation; it never becomes a
// partially created appointment on any rejection path.
type BookingRequest struct {
	ProfessionalID  uuid.UUID
	PatientID       uuid.UUID
	Kind            AppointmentKind
	Date            time.Time
	StartMinute     int
	DurationMinutes int
	Location        Location
	Billing         BillingInfo
	Clinical        ClinicalInfo
	Reminders       ReminderConfig
	Notes           string
}

// CompletionData carries what the professional records when a session ends.
type CompletionData struct {
	ActualDurationMinutes int
	ClinicalNotes         string
	GoalsAddressed        []string
}

// ClaimHandoff is the output contract to the billing collaborator, produced
// only on completion.
type ClaimHandoff struct {
	AppointmentID uuid.UUID
	ClaimID       string
	Units         int
	Amount        float64
}

// Options bundles the injectable pieces with sane defaults so tests can
// swap any of them.
type Options struct {
	Grid     GridConfig
	Clock    Clock
	Holidays HolidayCalendar
	Metrics  *Metrics
}

// Service owns the canonical appointment records, the slot grids and every
// valid lifecycle transition. All state flows through the injected
// Repository; all external effects go through the collaborator interfaces.
type Service struct {
	repo      Repository
	locker    redisclient.Locker
	gate      *EligibilityGate
	billing   BillingClient
	sessions  SessionLogger
	reminders *ReminderScheduler
	holidays  HolidayCalendar
	clock     Clock
	metrics   *Metrics
	grid      GridConfig
}

func NewService(repo Repository, locker redisclient.Locker, verifier InsuranceVerifier, billing BillingClient, sessions SessionLogger, dispatcher ReminderDispatcher, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Holidays == nil {
		opts.Holidays = USHolidays{}
	}
	if opts.Grid.SlotMinutes == 0 {
		opts.Grid = DefaultGridConfig()
	}
	if locker == nil {
		locker = redisclient.NewLocalLocker()
	}
	return &Service{
		repo:      repo,
		locker:    locker,
		gate:      NewEligibilityGate(repo, verifier),
		billing:   billing,
		sessions:  sessions,
		reminders: NewReminderScheduler(dispatcher, opts.Clock, opts.Metrics),
		holidays:  opts.Holidays,
		clock:     opts.Clock,
		metrics:   opts.Metrics,
		grid:      opts.Grid,
	}
}

// Reminders exposes the side-effect driver so callers can tear it down on
// shutdown.
func (s *Service) Reminders() *ReminderScheduler { return s.reminders }

// GetAppointment loads one appointment by identity.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointment(ctx, id)
}

// GetProfessionalSchedule returns the professional's slot grid for a date,
// synthesizing it from working hours on first access.
func (s *Service) GetProfessionalSchedule(ctx context.Context, professionalID uuid.UUID, date time.Time) (*ProfessionalSchedule, error) {
	return s.getOrCreateSchedule(ctx, professionalID, date)
}

// GetAvailableTimeSlots returns the open slots that can begin an appointment
// of the requested kind and duration. A zero duration falls back to the
// kind's default session length.
func (s *Service) GetAvailableTimeSlots(ctx context.Context, professionalID uuid.UUID, date time.Time, kind AppointmentKind, durationMinutes int) ([]TimeSlot, error) {
	if durationMinutes <= 0 {
		durationMinutes = defaultDurations[kind]
		if durationMinutes == 0 {
			durationMinutes = s.grid.SlotMinutes
		}
	}
	sched, err := s.getOrCreateSchedule(ctx, professionalID, date)
	if err != nil {
		return nil, err
	}
	return sched.AvailableSlots(durationMinutes), nil
}

// CreateAppointment runs the full booking pipeline: insurance eligibility,
// regulatory limits, conflict detection, slot reservation and persistence.
// The rejection paths return a bare error and leave no state behind. The
// insurance round-trip happens before the per-professional lock is taken so
// the lock is never held across an external call.
func (s *Service) CreateAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if err := validateRequest(&req); err != nil {
		s.metrics.ObserveBooking("invalid")
		return nil, err
	}

	verified, priorAuthRequired, err := s.verifyInsurance(ctx, req)
	if err != nil {
		if errors.Is(err, ErrInsuranceNotAuthorized) {
			s.metrics.ObserveBooking("rejected_insurance")
		} else {
			s.metrics.ObserveBooking("error")
		}
		return nil, err
	}

	var created *Appointment
	err = s.locker.WithProfessionalLock(ctx, req.ProfessionalID, func(lockCtx context.Context) error {
		ok, err := s.gate.CheckRegulatoryLimit(lockCtx, req.PatientID, req.Kind, req.Date)
		if err != nil {
			return err
		}
		if !ok {
			return ErrRegulatoryLimitExceeded
		}

		conflict, err := s.HasConflict(lockCtx, req.ProfessionalID, req.Date, req.StartMinute, req.DurationMinutes)
		if err != nil {
			return err
		}
		if conflict {
			return ErrScheduleConflict
		}

		appt := s.newAppointment(req)
		appt.Billing.InsuranceVerified = verified
		appt.Billing.PriorAuthRequired = priorAuthRequired
		if priorAuthRequired && appt.Billing.PriorAuthStatus == "" {
			appt.Billing.PriorAuthStatus = PriorAuthPending
		}

		if err := s.reserve(lockCtx, appt); err != nil {
			return err
		}
		if err := s.repo.SaveAppointment(lockCtx, appt); err != nil {
			// Local recovery: never leave a reservation behind a rejection.
			s.releaseBestEffort(lockCtx, appt)
			return fmt.Errorf("save appointment: %w", err)
		}
		created = appt
		return nil
	})
	if err != nil {
		s.observeRejection(err)
		return nil, err
	}

	s.reminders.Schedule(created)
	s.metrics.ObserveBooking("created")
	return created, nil
}

// verifyInsurance runs the insurance round-trip for a booking and resolves
// the prior-authorization flag. It happens before the per-professional lock
// is taken so the lock is never held across the external call.
func (s *Service) verifyInsurance(ctx context.Context, req BookingRequest) (verified, priorAuthRequired bool, err error) {
	priorAuthRequired = req.Billing.PriorAuthRequired
	if s.gate.verifier == nil {
		return false, priorAuthRequired, nil
	}
	elig, err := s.gate.CheckEligibility(ctx, req.PatientID, req.Billing.CPTCode, req.Date)
	if err != nil {
		return false, false, err
	}
	if !elig.Authorized {
		if elig.Reason != "" {
			return false, false, fmt.Errorf("%w: %s", ErrInsuranceNotAuthorized, elig.Reason)
		}
		return false, false, ErrInsuranceNotAuthorized
	}
	return true, priorAuthRequired || elig.PriorAuthRequired, nil
}

// bookSeriesInstance is the creation path recurrence expansion uses; it
// attaches the series tag before persisting.
func (s *Service) bookSeriesInstance(ctx context.Context, req BookingRequest, ref *SeriesRef) (*Appointment, error) {
	appt, err := s.CreateAppointment(ctx, req)
	if err != nil {
		return nil, err
	}
	appt.Series = ref
	appt.UpdatedAt = s.clock.Now()
	if err := s.repo.SaveAppointment(ctx, appt); err != nil {
		return nil, fmt.Errorf("tag series instance: %w", err)
	}
	return appt, nil
}

// ConfirmAppointment moves scheduled to confirmed.
func (s *Service) ConfirmAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusConfirmed, StatusScheduled)
}

// StartAppointment moves confirmed to in_progress and opens the correlated
// session log.
func (s *Service) StartAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.transition(ctx, id, StatusInProgress, StatusConfirmed)
	if err != nil {
		return nil, err
	}

	if s.sessions != nil {
		description := fmt.Sprintf("%s session", appt.Kind)
		sessionID, err := s.sessions.StartSession(ctx, appt.PatientID, description, appt.Clinical.Goals)
		if err != nil {
			log.Printf("session log start failed appointment=%s: %v", appt.ID, err)
		} else {
			appt.Clinical.SessionID = sessionID
			appt.UpdatedAt = s.clock.Now()
			if err := s.repo.SaveAppointment(ctx, appt); err != nil {
				return nil, fmt.Errorf("save session id: %w", err)
			}
		}
	}
	return appt, nil
}

// CompleteAppointment closes an in-progress session, computes billable units
// and hands the claim to the billing collaborator. A failed handoff leaves
// the appointment completed and is surfaced as ErrBillingHandoff for retry.
func (s *Service) CompleteAppointment(ctx context.Context, id uuid.UUID, data CompletionData) (*Appointment, *ClaimHandoff, error) {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if appt.Status != StatusInProgress {
		return nil, nil, fmt.Errorf("%w: complete from %s", ErrInvalidTransition, appt.Status)
	}
	if data.ActualDurationMinutes < minBillableMinutes {
		return nil, nil, fmt.Errorf("%w: %d minutes", ErrBelowMinimumBillable, data.ActualDurationMinutes)
	}

	units := (data.ActualDurationMinutes + unitMinutes - 1) / unitMinutes
	amount := float64(units) * s.unitRate(appt)

	appt.Status = StatusCompleted
	if data.ClinicalNotes != "" {
		appt.Notes = joinNotes(appt.Notes, data.ClinicalNotes)
	}
	appt.UpdatedAt = s.clock.Now()
	if err := s.repo.SaveAppointment(ctx, appt); err != nil {
		return nil, nil, fmt.Errorf("save completed appointment: %w", err)
	}

	s.reminders.Cancel(appt.ID)

	if s.sessions != nil && appt.Clinical.SessionID != "" {
		if err := s.sessions.EndSession(ctx, appt.Clinical.SessionID, data.ClinicalNotes, data.GoalsAddressed); err != nil {
			log.Printf("session log end failed appointment=%s: %v", appt.ID, err)
		}
	}

	if appt.Series != nil {
		s.extendSeries(ctx, appt)
	}

	handoff := &ClaimHandoff{AppointmentID: appt.ID, Units: units, Amount: amount}
	if s.billing != nil {
		claimID, err := s.billing.CreateClaim(ctx, appt.ID, units, amount, data.ClinicalNotes)
		if err != nil {
			s.metrics.ObserveClaim("failed")
			return appt, handoff, fmt.Errorf("%w: %v", ErrBillingHandoff, err)
		}
		handoff.ClaimID = claimID
		s.metrics.ObserveClaim("created")
	}
	return appt, handoff, nil
}

// CancelAppointment cancels any non-terminal appointment, releases its
// reserved slots and tears down its reminder timer. A patient cancellation
// within 24 hours of the scheduled start flags a late-cancellation fee.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, reason string, actor Actor) (*Appointment, bool, error) {
	var cancelled *Appointment
	feeApplied := false

	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, false, err
	}

	err = s.locker.WithProfessionalLock(ctx, appt.ProfessionalID, func(lockCtx context.Context) error {
		appt, err := s.repo.GetAppointment(lockCtx, id)
		if err != nil {
			return err
		}
		if appt.Status.IsTerminal() {
			return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, appt.Status)
		}

		if err := s.release(lockCtx, appt); err != nil {
			return err
		}

		appt.Status = StatusCancelled
		appt.CancelReason = reason
		appt.UpdatedAt = s.clock.Now()
		if err := s.repo.SaveAppointment(lockCtx, appt); err != nil {
			return fmt.Errorf("save cancelled appointment: %w", err)
		}
		cancelled = appt
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	s.reminders.Cancel(id)

	if actor == ActorPatient {
		now := s.clock.Now()
		start := cancelled.StartAt()
		if now.After(start.Add(-lateCancelWindow)) && now.Before(start) {
			feeApplied = true
			if s.billing != nil {
				if err := s.billing.ApplyLateCancellationFee(ctx, id); err != nil {
					log.Printf("late cancellation fee failed appointment=%s: %v", id, err)
				}
			}
		}
	}
	return cancelled, feeApplied, nil
}

// MarkNoShow records a patient no-show from confirmed or in_progress.
func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.transition(ctx, id, StatusNoShow, StatusConfirmed, StatusInProgress)
	if err != nil {
		return nil, err
	}
	s.reminders.Cancel(id)
	return appt, nil
}

// RescheduleAppointment moves an appointment to a new date/time. The
// original record is kept with status rescheduled for audit history and a
// fresh appointment carries all clinical and billing metadata; its reminder
// times are re-derived.
func (s *Service) RescheduleAppointment(ctx context.Context, id uuid.UUID, newDate time.Time, newStartMinute int) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}

	var moved *Appointment
	err = s.locker.WithProfessionalLock(ctx, appt.ProfessionalID, func(lockCtx context.Context) error {
		old, err := s.repo.GetAppointment(lockCtx, id)
		if err != nil {
			return err
		}
		if old.Status != StatusScheduled && old.Status != StatusConfirmed {
			return fmt.Errorf("%w: reschedule from %s", ErrInvalidTransition, old.Status)
		}

		conflict, err := s.hasConflictExcluding(lockCtx, old.ProfessionalID, newDate, newStartMinute, old.DurationMinutes, old.ID)
		if err != nil {
			return err
		}
		if conflict {
			return ErrScheduleConflict
		}

		replacement := copyAppointment(old)
		replacement.ID = uuid.New()
		replacement.Date = DateOf(newDate)
		replacement.StartMinute = newStartMinute
		replacement.Status = StatusScheduled
		replacement.CreatedAt = s.clock.Now()
		replacement.UpdatedAt = replacement.CreatedAt

		// Release before reserving so a move into an interval that
		// overlaps the appointment's own current slots is accepted.
		if err := s.release(lockCtx, old); err != nil {
			return err
		}
		if err := s.reserve(lockCtx, replacement); err != nil {
			if rerr := s.reserve(lockCtx, old); rerr != nil {
				log.Printf("restore reservation failed appointment=%s: %v", old.ID, rerr)
			}
			return err
		}

		old.Status = StatusRescheduled
		old.UpdatedAt = s.clock.Now()
		if err := s.repo.SaveAppointment(lockCtx, old); err != nil {
			return fmt.Errorf("save rescheduled appointment: %w", err)
		}
		if err := s.repo.SaveAppointment(lockCtx, replacement); err != nil {
			return fmt.Errorf("save replacement appointment: %w", err)
		}
		moved = replacement
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.reminders.Cancel(id)
	s.reminders.Schedule(moved)
	return moved, nil
}

// transition performs a simple status move guarded by the allowed source
// states, with no side effects on rejection.
func (s *Service) transition(ctx context.Context, id uuid.UUID, to AppointmentStatus, from ...AppointmentStatus) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, f := range from {
		if appt.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, to, appt.Status)
	}
	appt.Status = to
	appt.UpdatedAt = s.clock.Now()
	if err := s.repo.SaveAppointment(ctx, appt); err != nil {
		return nil, fmt.Errorf("save appointment transition: %w", err)
	}
	return appt, nil
}

func (s *Service) newAppointment(req BookingRequest) *Appointment {
	now := s.clock.Now()
	return &Appointment{
		ID:              uuid.New(),
		ProfessionalID:  req.ProfessionalID,
		PatientID:       req.PatientID,
		Kind:            req.Kind,
		Date:            DateOf(req.Date),
		StartMinute:     req.StartMinute,
		DurationMinutes: req.DurationMinutes,
		Status:          StatusScheduled,
		Location:        req.Location,
		Billing:         req.Billing,
		Clinical:        req.Clinical,
		Reminders:       req.Reminders,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (s *Service) getOrCreateSchedule(ctx context.Context, professionalID uuid.UUID, date time.Time) (*ProfessionalSchedule, error) {
	sched, err := s.repo.GetSchedule(ctx, professionalID, date)
	if err == nil {
		return sched, nil
	}
	if !errors.Is(err, ErrScheduleNotFound) {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	sched = NewDaySchedule(professionalID, date, s.grid)
	if err := s.repo.SaveSchedule(ctx, sched); err != nil {
		return nil, fmt.Errorf("save new schedule: %w", err)
	}
	return sched, nil
}

func (s *Service) reserve(ctx context.Context, appt *Appointment) error {
	sched, err := s.getOrCreateSchedule(ctx, appt.ProfessionalID, appt.Date)
	if err != nil {
		return err
	}
	if err := sched.Reserve(appt.StartMinute, appt.DurationMinutes, appt.ID, s.unitRate(appt)); err != nil {
		if errors.Is(err, ErrSlotUnavailable) {
			return ErrScheduleConflict
		}
		return err
	}
	if err := s.repo.SaveSchedule(ctx, sched); err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

func (s *Service) release(ctx context.Context, appt *Appointment) error {
	sched, err := s.getOrCreateSchedule(ctx, appt.ProfessionalID, appt.Date)
	if err != nil {
		return err
	}
	sched.Release(appt.StartMinute, appt.DurationMinutes, appt.ID, s.unitRate(appt))
	if err := s.repo.SaveSchedule(ctx, sched); err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

func (s *Service) releaseBestEffort(ctx context.Context, appt *Appointment) {
	if err := s.release(ctx, appt); err != nil {
		log.Printf("release reservation failed appointment=%s: %v", appt.ID, err)
	}
}

func (s *Service) unitRate(appt *Appointment) float64 {
	if appt.Billing.EstimatedReimbursement > 0 {
		return appt.Billing.EstimatedReimbursement
	}
	if rate, ok := defaultUnitRates[appt.Billing.CPTCode]; ok {
		return rate
	}
	return fallbackUnitRate
}

// extendSeries books the next instance after the last one of an open-ended
// series. Bounded series are fully materialized at expansion time, so this
// only fires when neither end condition is set. Best effort: a conflict or
// limit rejection just leaves the series as is.
func (s *Service) extendSeries(ctx context.Context, appt *Appointment) {
	pattern := appt.Series.Pattern
	if pattern.Occurrences > 0 || !pattern.EndDate.IsZero() {
		return
	}

	instances, err := s.repo.ListBySeries(ctx, appt.Series.SeriesID)
	if err != nil || len(instances) == 0 {
		return
	}
	last := instances[len(instances)-1]

	next := pattern.nextDate(last.Date, DateOf(last.Date).Day())
	req := BookingRequest{
		ProfessionalID:  appt.ProfessionalID,
		PatientID:       appt.PatientID,
		Kind:            appt.Kind,
		Date:            next,
		StartMinute:     appt.StartMinute,
		DurationMinutes: appt.DurationMinutes,
		Location:        appt.Location,
		Billing:         appt.Billing,
		Clinical:        ClinicalInfo{Goals: appt.Clinical.Goals, Materials: appt.Clinical.Materials, ParentParticipation: appt.Clinical.ParentParticipation},
		Reminders:       appt.Reminders,
	}
	if _, err := s.bookSeriesInstance(ctx, req, appt.Series); err != nil {
		log.Printf("series extension skipped series=%s date=%s: %v", appt.Series.SeriesID, next.Format("2006-01-02"), err)
	}
}

func (s *Service) observeRejection(err error) {
	switch {
	case errors.Is(err, ErrRegulatoryLimitExceeded):
		s.metrics.ObserveBooking("rejected_limit")
	case errors.Is(err, ErrScheduleConflict):
		s.metrics.ObserveBooking("rejected_conflict")
	default:
		s.metrics.ObserveBooking("error")
	}
}

func validateRequest(req *BookingRequest) error {
	if req.ProfessionalID == uuid.Nil || req.PatientID == uuid.Nil {
		return errors.New("professional and patient ids are required")
	}
	if req.DurationMinutes <= 0 {
		req.DurationMinutes = defaultDurations[req.Kind]
	}
	if req.DurationMinutes <= 0 {
		return errors.New("duration must be positive")
	}
	if req.Date.IsZero() {
		return errors.New("date is required")
	}
	return nil
}

func joinNotes(existing, added string) string {
	if existing == "" {
		return added
	}
	return strings.TrimSpace(existing) + "\n" + added
}
