package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled   AppointmentStatus = "scheduled"
	StatusConfirmed   AppointmentStatus = "confirmed"
	StatusInProgress  AppointmentStatus = "in_progress"
	StatusCompleted   AppointmentStatus = "completed"
	StatusCancelled   AppointmentStatus = "cancelled"
	StatusRescheduled AppointmentStatus = "rescheduled"
	StatusNoShow      AppointmentStatus = "no_show"
)

// IsTerminal reports whether no further lifecycle transition is allowed.
func (s AppointmentStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRescheduled, StatusNoShow:
		return true
	}
	return false
}

type AppointmentKind string

const (
	KindEvaluation   AppointmentKind = "evaluation"
	KindIndividual   AppointmentKind = "individual_therapy"
	KindGroup        AppointmentKind = "group_therapy"
	KindTeletherapy  AppointmentKind = "teletherapy"
	KindConsultation AppointmentKind = "consultation"
	KindAssessment   AppointmentKind = "assessment"
)

type LocationKind string

const (
	LocationClinic LocationKind = "clinic"
	LocationHome   LocationKind = "home"
	LocationSchool LocationKind = "school"
	LocationRemote LocationKind = "remote"
)

type Location struct {
	Kind    LocationKind
	Details string
}

type PriorAuthStatus string

const (
	PriorAuthNotRequired PriorAuthStatus = "not_required"
	PriorAuthPending     PriorAuthStatus = "pending"
	PriorAuthApproved    PriorAuthStatus = "approved"
	PriorAuthDenied      PriorAuthStatus = "denied"
)

// BillingInfo carries everything the claims collaborator needs at completion.
type BillingInfo struct {
	CPTCode                string
	Modifiers              []string
	AuthorizationNumber    string
	DiagnosisCodes         []string
	EstimatedReimbursement float64 // per billable unit
	Copay                  float64
	InsuranceVerified      bool
	PriorAuthRequired      bool
	PriorAuthStatus        PriorAuthStatus
}

type ClinicalInfo struct {
	Goals               []string
	Materials           []string
	Homework            string
	ParentParticipation bool
	SessionID           string // correlated session-log id, set on start
}

type ReminderChannel string

const (
	ChannelEmail ReminderChannel = "email"
	ChannelSMS   ReminderChannel = "sms"
	ChannelPush  ReminderChannel = "push"
)

type ReminderConfig struct {
	Enabled        bool
	Channels       []ReminderChannel
	OffsetsMinutes []int // minutes before the scheduled start, descending
}

type RecurrenceKind string

const (
	RecurDaily    RecurrenceKind = "daily"
	RecurWeekly   RecurrenceKind = "weekly"
	RecurBiweekly RecurrenceKind = "biweekly"
	RecurMonthly  RecurrenceKind = "monthly"
)

type ConflictPolicy string

const (
	ConflictBlock      ConflictPolicy = "block"
	ConflictAllow      ConflictPolicy = "allow"
	ConflictAutoAdjust ConflictPolicy = "auto_adjust"
)

// RecurrencePattern describes how a base appointment repeats. Exactly one of
// EndDate or Occurrences bounds the series; if both are zero the expansion
// stops at the hard safety cap.
type RecurrencePattern struct {
	Kind           RecurrenceKind
	Frequency      int // every N days/weeks/months; min 1
	DaysOfWeek     []time.Weekday
	EndDate        time.Time // zero means unbounded
	Occurrences    int       // zero means unbounded
	Exceptions     []time.Time
	SkipHolidays   bool
	ConflictPolicy ConflictPolicy
}

// SeriesRef ties an instance back to the recurrence request that produced it.
type SeriesRef struct {
	SeriesID uuid.UUID
	Pattern  RecurrencePattern
}

// Appointment is the unit of scheduling and billing. Dates are calendar days
// at UTC midnight; StartMinute is minutes from midnight so interval math
// stays integer arithmetic.
type Appointment struct {
	ID              uuid.UUID
	ProfessionalID  uuid.UUID
	PatientID       uuid.UUID
	Kind            AppointmentKind
	Date            time.Time
	StartMinute     int
	DurationMinutes int
	Status          AppointmentStatus
	Location        Location
	Billing         BillingInfo
	Clinical        ClinicalInfo
	Series          *SeriesRef
	Reminders       ReminderConfig
	Notes           string
	CancelReason    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EndMinute returns the exclusive end of the appointment interval.
func (a *Appointment) EndMinute() int {
	return a.StartMinute + a.DurationMinutes
}

// StartAt resolves the concrete wall-clock start of the appointment.
func (a *Appointment) StartAt() time.Time {
	return a.Date.Add(time.Duration(a.StartMinute) * time.Minute)
}

// CountsForConflicts reports whether this record blocks other bookings.
func (a *Appointment) CountsForConflicts() bool {
	return a.Status != StatusCancelled && a.Status != StatusRescheduled
}

// TimeSlot is one fixed-width bookable interval in a professional's day.
type TimeSlot struct {
	StartMinute     int
	DurationMinutes int
	Available       bool
	AppointmentID   *uuid.UUID
	Break           bool
}

// ProfessionalSchedule is the slot grid for one professional on one date
// plus derived totals. Totals are recomputed on reserve/release, never
// mutated independently.
type ProfessionalSchedule struct {
	ProfessionalID   uuid.UUID
	Date             time.Time
	Slots            []TimeSlot
	AppointmentCount int
	BillableHours    float64
	ProjectedRevenue float64
}

// DateOf truncates t to its calendar day in UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameDate reports whether a and b fall on the same UTC calendar day.
func SameDate(a, b time.Time) bool {
	return DateOf(a).Equal(DateOf(b))
}
