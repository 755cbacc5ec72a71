package scheduling

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Monday 2026-03-02, well clear of every holiday rule.
var baseDay = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type stubVerifier struct {
	result VerificationResult
	err    error
	calls  int
}

func (v *stubVerifier) Verify(_ context.Context, _ uuid.UUID, _ string, _ time.Time) (VerificationResult, error) {
	v.calls++
	return v.result, v.err
}

type stubBilling struct {
	mu       sync.Mutex
	claims   int
	claimErr error
	fees     []uuid.UUID
	feeErr   error
}

func (b *stubBilling) CreateClaim(_ context.Context, _ uuid.UUID, _ int, _ float64, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.claimErr != nil {
		return "", b.claimErr
	}
	b.claims++
	return fmt.Sprintf("claim-%d", b.claims), nil
}

func (b *stubBilling) ApplyLateCancellationFee(_ context.Context, id uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.feeErr != nil {
		return b.feeErr
	}
	b.fees = append(b.fees, id)
	return nil
}

type stubSessions struct {
	started []uuid.UUID
	ended   []string
}

func (s *stubSessions) StartSession(_ context.Context, patientID uuid.UUID, _ string, _ []string) (string, error) {
	s.started = append(s.started, patientID)
	return fmt.Sprintf("session-%d", len(s.started)), nil
}

func (s *stubSessions) EndSession(_ context.Context, sessionID string, _ string, _ []string) error {
	s.ended = append(s.ended, sessionID)
	return nil
}

type sentReminder struct {
	AppointmentID uuid.UUID
	Channel       ReminderChannel
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []sentReminder
}

func (d *recordingDispatcher) SendReminder(_ context.Context, id uuid.UUID, ch ReminderChannel) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentReminder{id, ch})
	return nil
}

func (d *recordingDispatcher) Sent() []sentReminder {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sentReminder(nil), d.sent...)
}

type fixture struct {
	svc        *Service
	repo       *MemoryRepository
	verifier   *stubVerifier
	billing    *stubBilling
	sessions   *stubSessions
	dispatcher *recordingDispatcher
	clock      *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:       NewMemoryRepository(),
		verifier:   &stubVerifier{result: VerificationResult{Authorized: true}},
		billing:    &stubBilling{},
		sessions:   &stubSessions{},
		dispatcher: &recordingDispatcher{},
		clock:      &fakeClock{now: baseDay.Add(-24 * time.Hour)},
	}
	f.svc = NewService(f.repo, nil, f.verifier, f.billing, f.sessions, f.dispatcher, Options{Clock: f.clock})
	t.Cleanup(f.svc.Reminders().Stop)
	return f
}

func (f *fixture) bookingRequest(professionalID, patientID uuid.UUID, startMinute int) BookingRequest {
	return BookingRequest{
		ProfessionalID:  professionalID,
		PatientID:       patientID,
		Kind:            KindIndividual,
		Date:            baseDay,
		StartMinute:     startMinute,
		DurationMinutes: 60,
		Location:        Location{Kind: LocationClinic},
		Billing:         BillingInfo{CPTCode: "92507"},
	}
}

func (f *fixture) mustBook(t *testing.T, req BookingRequest) *Appointment {
	t.Helper()
	appt, err := f.svc.CreateAppointment(context.Background(), req)
	require.NoError(t, err)
	return appt
}

func TestCreateAppointment(t *testing.T) {
	f := newFixture(t)
	professionalID, patientID := uuid.New(), uuid.New()

	appt := f.mustBook(t, f.bookingRequest(professionalID, patientID, 9*60))

	assert.Equal(t, StatusScheduled, appt.Status)
	assert.Equal(t, baseDay, appt.Date)
	assert.Equal(t, 10*60, appt.EndMinute())
	assert.True(t, appt.Billing.InsuranceVerified)
	assert.Equal(t, 1, f.verifier.calls)

	stored, err := f.repo.GetAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, stored.ID)

	sched, err := f.repo.GetSchedule(context.Background(), professionalID, baseDay)
	require.NoError(t, err)
	assert.Equal(t, 1, sched.AppointmentCount)
	assert.InDelta(t, 1.0, sched.BillableHours, 1e-9)
}

func TestCreateAppointmentDefaultDuration(t *testing.T) {
	f := newFixture(t)
	req := f.bookingRequest(uuid.New(), uuid.New(), 9*60)
	req.Kind = KindEvaluation
	req.DurationMinutes = 0

	appt := f.mustBook(t, req)
	assert.Equal(t, 90, appt.DurationMinutes)
}

func TestCreateAppointmentInsuranceRejected(t *testing.T) {
	f := newFixture(t)
	f.verifier.result = VerificationResult{Authorized: false, Reason: "coverage lapsed"}

	req := f.bookingRequest(uuid.New(), uuid.New(), 9*60)
	_, err := f.svc.CreateAppointment(context.Background(), req)
	require.ErrorIs(t, err, ErrInsuranceNotAuthorized)
	assert.Contains(t, err.Error(), "coverage lapsed")

	// No state left behind on rejection.
	_, err = f.repo.GetSchedule(context.Background(), req.ProfessionalID, baseDay)
	assert.ErrorIs(t, err, ErrScheduleNotFound)
}

func TestCreateAppointmentConflict(t *testing.T) {
	f := newFixture(t)
	professionalID := uuid.New()
	f.mustBook(t, f.bookingRequest(professionalID, uuid.New(), 9*60))

	// Strict overlap with a different patient is refused.
	_, err := f.svc.CreateAppointment(context.Background(), f.bookingRequest(professionalID, uuid.New(), 9*60+30))
	assert.ErrorIs(t, err, ErrScheduleConflict)
}

func TestTouchingEndpointsDoNotConflict(t *testing.T) {
	f := newFixture(t)
	professionalID := uuid.New()
	f.mustBook(t, f.bookingRequest(professionalID, uuid.New(), 9*60))

	// 10:00 starts exactly where the 9:00-10:00 session ends.
	f.mustBook(t, f.bookingRequest(professionalID, uuid.New(), 10*60))
}

func TestCancelledAppointmentDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	professionalID := uuid.New()
	appt := f.mustBook(t, f.bookingRequest(professionalID, uuid.New(), 9*60))

	_, _, err := f.svc.CancelAppointment(context.Background(), appt.ID, "patient request", ActorStaff)
	require.NoError(t, err)

	// The freed interval is immediately bookable again.
	f.mustBook(t, f.bookingRequest(professionalID, uuid.New(), 9*60))
}

func TestLifecycleHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.mustBook(t, f.bookingRequest(uuid.New(), uuid.New(), 9*60))

	confirmed, err := f.svc.ConfirmAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)

	started, err := f.svc.StartAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, started.Status)
	assert.Equal(t, "session-1", started.Clinical.SessionID)

	completed, handoff, err := f.svc.CompleteAppointment(ctx, appt.ID, CompletionData{
		ActualDurationMinutes: 53,
		ClinicalNotes:         "good progress on /r/ sounds",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)
	require.NotNil(t, handoff)
	assert.Equal(t, 4, handoff.Units) // ceil(53/15)
	assert.InDelta(t, 4*42.50, handoff.Amount, 1e-9)
	assert.Equal(t, "claim-1", handoff.ClaimID)
	assert.Equal(t, []string{"session-1"}, f.sessions.ended)
	assert.Contains(t, completed.Notes, "good progress")
}

func TestCompleteRoundsUpToUnits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.mustBook(t, f.bookingRequest(uuid.New(), uuid.New(), 9*60))
	_, err := f.svc.ConfirmAppointment(ctx, appt.ID)
	require.NoError(t, err)
	_, err = f.svc.StartAppointment(ctx, appt.ID)
	require.NoError(t, err)

	_, handoff, err := f.svc.CompleteAppointment(ctx, appt.ID, CompletionData{ActualDurationMinutes: 22})
	require.NoError(t, err)
	assert.Equal(t, 2, handoff.Units)
}

func TestCompleteBelowMinimumBillable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.mustBook(t, f.bookingRequest(uuid.New(), uuid.New(), 9*60))
	_, err := f.svc.ConfirmAppointment(ctx, appt.ID)
	require.NoError(t, err)
	_, err = f.svc.StartAppointment(ctx, appt.ID)
	require.NoError(t, err)

	_, _, err = f.svc.CompleteAppointment(ctx, appt.ID, CompletionData{ActualDurationMinutes: 5})
	require.ErrorIs(t, err, ErrBelowMinimumBillable)

	stored, err := f.repo.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, stored.Status)
}

func TestCompleteBillingHandoffFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.billing.claimErr = fmt.Errorf("clearinghouse timeout")

	appt := f.mustBook(t, f.bookingRequest(uuid.New(), uuid.New(), 9*60))
	_, err := f.svc.ConfirmAppointment(ctx, appt.ID)
	require.NoError(t, err)
	_, err = f.svc.StartAppointment(ctx, appt.ID)
	require.NoError(t, err)

	completed, handoff, err := f.svc.CompleteAppointment(ctx, appt.ID, CompletionData{ActualDurationMinutes: 60})
	require.ErrorIs(t, err, ErrBillingHandoff)

	// The clinical record stays completed; only the claim needs retrying.
	require.NotNil(t, completed)
	assert.Equal(t, StatusCompleted, completed.Status)
	require.NotNil(t, handoff)
	assert.Equal(t, 4, handoff.Units)
	assert.Empty(t, handoff.ClaimID)

	stored, err := f.repo.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
}

func TestInvalidTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.mustBook(t, f.bookingRequest(uuid.New(), uuid.New(), 9*60))

	// scheduled cannot start or complete.
	_, err := f.svc.StartAppointment(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, _, err = f.svc.CompleteAppointment(ctx, appt.ID, CompletionData{ActualDurationMinutes: 60})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, _, err = f.svc.CancelAppointment(ctx, appt.ID, "", ActorStaff)
	require.NoError(t, err)

	// cancelled is terminal.
	_, err = f.svc.ConfirmAppointment(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, _, err = f.svc.CancelAppointment(ctx, appt.ID, "", ActorStaff)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestLateCancellationFee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.mustBook(t, f.bookingRequest(uuid.New(), uuid.New(), 10*60))

	// 20 hours before the 10:00 start.
	f.clock.Set(baseDay.Add(10*time.Hour - 20*time.Hour))

	_, feeApplied, err := f.svc.CancelAppointment(ctx, appt.ID, "sick", ActorPatient)
	require.NoError(t, err)
	assert.True(t, feeApplied)
	assert.Equal(t, []uuid.UUID{appt.ID}, f.billing.fees)
}

func TestEarlyCancellationNoFee(t *testing.T) {
	f := newFixture(t)
	appt := f.mustBook(t, f.bookingRequest(uuid.New(), uuid.New(), 10*60))

	// Three days out.
	f.clock.Set(baseDay.AddDate(0, 0, -3))

	_, feeApplied, err := f.svc.CancelAppointment(context.Background(), appt.ID, "conflict", ActorPatient)
	require.NoError(t, err)
	assert.False(t, feeApplied)
	assert.Empty(t, f.billing.fees)
}

func TestStaffLateCancellationNoFee(t *testing.T) {
	f := newFixture(t)
	appt := f.mustBook(t, f.bookingRequest(uuid.New(), uuid.New(), 10*60))

	f.clock.Set(baseDay.Add(9 * time.Hour))

	_, feeApplied, err := f.svc.CancelAppointment(context.Background(), appt.ID, "clinician out", ActorStaff)
	require.NoError(t, err)
	assert.False(t, feeApplied)
}

func TestMarkNoShow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.mustBook(t, f.bookingRequest(uuid.New(), uuid.New(), 9*60))

	_, err := f.svc.MarkNoShow(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition) // not yet confirmed

	_, err = f.svc.ConfirmAppointment(ctx, appt.ID)
	require.NoError(t, err)
	marked, err := f.svc.MarkNoShow(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, marked.Status)
}

func TestReschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	professionalID := uuid.New()
	appt := f.mustBook(t, f.bookingRequest(professionalID, uuid.New(), 9*60))

	newDate := baseDay.AddDate(0, 0, 2)
	moved, err := f.svc.RescheduleAppointment(ctx, appt.ID, newDate, 14*60)
	require.NoError(t, err)
	assert.NotEqual(t, appt.ID, moved.ID)
	assert.Equal(t, DateOf(newDate), moved.Date)
	assert.Equal(t, 14*60, moved.StartMinute)
	assert.Equal(t, StatusScheduled, moved.Status)
	assert.Equal(t, appt.PatientID, moved.PatientID)

	// The original survives as an audit record and no longer blocks.
	old, err := f.repo.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRescheduled, old.Status)
	assert.False(t, old.CountsForConflicts())

	f.mustBook(t, f.bookingRequest(professionalID, uuid.New(), 9*60))
}

func TestRescheduleIntoConflict(t *testing.T) {
	f := newFixture(t)
	professionalID := uuid.New()
	appt := f.mustBook(t, f.bookingRequest(professionalID, uuid.New(), 9*60))
	f.mustBook(t, f.bookingRequest(professionalID, uuid.New(), 14*60))

	_, err := f.svc.RescheduleAppointment(context.Background(), appt.ID, baseDay, 14*60+30)
	assert.ErrorIs(t, err, ErrScheduleConflict)

	stored, err := f.repo.GetAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, stored.Status)
}

func TestRescheduleOverlappingOwnSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	professionalID := uuid.New()
	appt := f.mustBook(t, f.bookingRequest(professionalID, uuid.New(), 10*60))

	// A routine 15-minute shift overlaps the appointment's own current
	// interval; its own reservation must not count as a conflict.
	moved, err := f.svc.RescheduleAppointment(ctx, appt.ID, baseDay, 10*60+15)
	require.NoError(t, err)
	assert.Equal(t, 10*60+15, moved.StartMinute)
	assert.Equal(t, baseDay, moved.Date)

	old, err := f.repo.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRescheduled, old.Status)

	sched, err := f.repo.GetSchedule(ctx, professionalID, baseDay)
	require.NoError(t, err)
	assert.Equal(t, 1, sched.AppointmentCount)
	// The vacated leading quarter hour is bookable again.
	starts := sched.AvailableStarts(15)
	assert.Contains(t, starts, 10*60)
	assert.NotContains(t, starts, 10*60+15)
}

func TestRescheduleFailedReserveRestoresSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	professionalID := uuid.New()
	appt := f.mustBook(t, f.bookingRequest(professionalID, uuid.New(), 10*60))

	// No appointment occupies the lunch hour, so only the grid itself can
	// refuse the target; the original reservation must come back.
	_, err := f.svc.RescheduleAppointment(ctx, appt.ID, baseDay, 12*60)
	require.ErrorIs(t, err, ErrScheduleConflict)

	stored, err := f.repo.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, stored.Status)
	assert.Equal(t, 10*60, stored.StartMinute)

	sched, err := f.repo.GetSchedule(ctx, professionalID, baseDay)
	require.NoError(t, err)
	assert.Equal(t, 1, sched.AppointmentCount)
	assert.NotContains(t, sched.AvailableStarts(60), 10*60)
}

func TestRescheduleCompletedRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.mustBook(t, f.bookingRequest(uuid.New(), uuid.New(), 9*60))
	_, err := f.svc.ConfirmAppointment(ctx, appt.ID)
	require.NoError(t, err)
	_, err = f.svc.StartAppointment(ctx, appt.ID)
	require.NoError(t, err)
	_, _, err = f.svc.CompleteAppointment(ctx, appt.ID, CompletionData{ActualDurationMinutes: 60})
	require.NoError(t, err)

	_, err = f.svc.RescheduleAppointment(ctx, appt.ID, baseDay.AddDate(0, 0, 1), 9*60)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUnitRateFallbacks(t *testing.T) {
	f := newFixture(t)

	assert.InDelta(t, 42.50, f.svc.unitRate(&Appointment{Billing: BillingInfo{CPTCode: "92507"}}), 1e-9)
	assert.InDelta(t, 40.0, f.svc.unitRate(&Appointment{Billing: BillingInfo{CPTCode: "99999"}}), 1e-9)
	assert.InDelta(t, 75.0, f.svc.unitRate(&Appointment{Billing: BillingInfo{CPTCode: "92507", EstimatedReimbursement: 75}}), 1e-9)
}

func TestGetAvailableTimeSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	professionalID := uuid.New()
	f.mustBook(t, f.bookingRequest(professionalID, uuid.New(), 9*60))

	slots, err := f.svc.GetAvailableTimeSlots(ctx, professionalID, baseDay, KindIndividual, 60)
	require.NoError(t, err)
	for _, slot := range slots {
		assert.True(t, slot.Available)
		booked := slot.StartMinute >= 9*60 && slot.StartMinute < 10*60
		assert.False(t, booked, "start %d overlaps existing booking", slot.StartMinute)
	}
}
