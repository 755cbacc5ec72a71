package api

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinic-scheduling/internal/scheduling"
)

type BillingPayload struct {
	CPTCode                string   `json:"cpt_code"`
	Modifiers              []string `json:"modifiers,omitempty"`
	AuthorizationNumber    string   `json:"authorization_number,omitempty"`
	DiagnosisCodes         []string `json:"diagnosis_codes,omitempty"`
	EstimatedReimbursement float64  `json:"estimated_reimbursement,omitempty"`
	Copay                  float64  `json:"copay,omitempty"`
}

type ClinicalPayload struct {
	Goals               []string `json:"goals,omitempty"`
	Materials           []string `json:"materials,omitempty"`
	Homework            string   `json:"homework,omitempty"`
	ParentParticipation bool     `json:"parent_participation,omitempty"`
}

type RemindersPayload struct {
	Enabled        bool     `json:"enabled"`
	Channels       []string `json:"channels,omitempty"`
	OffsetsMinutes []int    `json:"offsets_minutes,omitempty"`
}

type CreateAppointmentRequest struct {
	ProfessionalID  string           `json:"professional_id"`
	PatientID       string           `json:"patient_id"`
	Kind            string           `json:"kind"`
	Date            string           `json:"date"`       // 2006-01-02
	StartTime       string           `json:"start_time"` // 15:04
	DurationMinutes int              `json:"duration_minutes,omitempty"`
	LocationKind    string           `json:"location_kind,omitempty"`
	LocationDetails string           `json:"location_details,omitempty"`
	Billing         BillingPayload   `json:"billing"`
	Clinical        ClinicalPayload  `json:"clinical"`
	Reminders       RemindersPayload `json:"reminders"`
	Notes           string           `json:"notes,omitempty"`
}

type RecurrencePayload struct {
	Pattern        string   `json:"pattern"` // daily|weekly|biweekly|monthly
	Frequency      int      `json:"frequency,omitempty"`
	DaysOfWeek     []string `json:"days_of_week,omitempty"` // monday..sunday
	EndDate        string   `json:"end_date,omitempty"`
	Occurrences    int      `json:"occurrences,omitempty"`
	Exceptions     []string `json:"exceptions,omitempty"`
	SkipHolidays   bool     `json:"skip_holidays,omitempty"`
	ConflictPolicy string   `json:"conflict_policy,omitempty"` // block|allow|auto_adjust
}

type CreateRecurringRequest struct {
	CreateAppointmentRequest
	Recurrence RecurrencePayload `json:"recurrence"`
}

type CompleteAppointmentRequest struct {
	ActualDurationMinutes int      `json:"actual_duration_minutes"`
	ClinicalNotes         string   `json:"clinical_notes,omitempty"`
	GoalsAddressed        []string `json:"goals_addressed,omitempty"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"` // patient|professional|staff|system
}

type RescheduleAppointmentRequest struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
}

type UpdateSeriesRequest struct {
	Scope           string            `json:"scope"` // all|future|single
	TargetID        string            `json:"target_id,omitempty"`
	StartTime       *string           `json:"start_time,omitempty"`
	DurationMinutes *int              `json:"duration_minutes,omitempty"`
	LocationKind    *string           `json:"location_kind,omitempty"`
	LocationDetails *string           `json:"location_details,omitempty"`
	Notes           *string           `json:"notes,omitempty"`
	Reminders       *RemindersPayload `json:"reminders,omitempty"`
}

type CancelSeriesRequest struct {
	Scope  string `json:"scope"` // all|future
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	ProfessionalID  uuid.UUID `json:"professional_id"`
	PatientID       uuid.UUID `json:"patient_id"`
	Kind            string    `json:"kind"`
	Date            string    `json:"date"`
	StartTime       string    `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`
	SeriesID        string    `json:"series_id,omitempty"`
	Notes           string    `json:"notes,omitempty"`
}

type ClaimResponse struct {
	ClaimID string  `json:"claim_id,omitempty"`
	Units   int     `json:"units"`
	Amount  float64 `json:"amount"`
}

type CompleteAppointmentResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	Claim       *ClaimResponse      `json:"claim,omitempty"`
}

type CancelAppointmentResponse struct {
	Appointment         AppointmentResponse `json:"appointment"`
	LateCancellationFee bool                `json:"late_cancellation_fee"`
}

type TimeSlotResponse struct {
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Available       bool   `json:"available"`
	Break           bool   `json:"break"`
	AppointmentID   string `json:"appointment_id,omitempty"`
}

type ScheduleResponse struct {
	ProfessionalID   uuid.UUID          `json:"professional_id"`
	Date             string             `json:"date"`
	Slots            []TimeSlotResponse `json:"slots"`
	AppointmentCount int                `json:"appointment_count"`
	BillableHours    float64            `json:"billable_hours"`
	ProjectedRevenue float64            `json:"projected_revenue"`
}

type SkippedResponse struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

type ExpansionResponse struct {
	SeriesID      string                `json:"series_id"`
	Created       []AppointmentResponse `json:"created"`
	Skipped       []SkippedResponse     `json:"skipped"`
	Failed        []SkippedResponse     `json:"failed"`
	LimitWarnings []string              `json:"limit_warnings,omitempty"`
}

type SeriesUpdateResponse struct {
	Updated []uuid.UUID       `json:"updated"`
	Failed  []SkippedResponse `json:"failed"`
}

type SeriesCancelResponse struct {
	Cancelled int               `json:"cancelled"`
	LateFees  int               `json:"late_fees"`
	Failed    []SkippedResponse `json:"failed"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	return t.UTC(), nil
}

func parseStartTime(s string) (int, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return 0, fmt.Errorf("start_time must be HH:MM: %w", err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func minuteToClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func toAppointmentResponse(appt *scheduling.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:              appt.ID,
		ProfessionalID:  appt.ProfessionalID,
		PatientID:       appt.PatientID,
		Kind:            string(appt.Kind),
		Date:            appt.Date.Format(dateLayout),
		StartTime:       minuteToClock(appt.StartMinute),
		DurationMinutes: appt.DurationMinutes,
		Status:          string(appt.Status),
		Notes:           appt.Notes,
	}
	if appt.Series != nil {
		resp.SeriesID = appt.Series.SeriesID.String()
	}
	return resp
}

func toScheduleResponse(sched *scheduling.ProfessionalSchedule) ScheduleResponse {
	resp := ScheduleResponse{
		ProfessionalID:   sched.ProfessionalID,
		Date:             sched.Date.Format(dateLayout),
		AppointmentCount: sched.AppointmentCount,
		BillableHours:    sched.BillableHours,
		ProjectedRevenue: sched.ProjectedRevenue,
	}
	for _, slot := range sched.Slots {
		resp.Slots = append(resp.Slots, toSlotResponse(slot))
	}
	return resp
}

func toSlotResponse(slot scheduling.TimeSlot) TimeSlotResponse {
	out := TimeSlotResponse{
		StartTime:       minuteToClock(slot.StartMinute),
		DurationMinutes: slot.DurationMinutes,
		Available:       slot.Available,
		Break:           slot.Break,
	}
	if slot.AppointmentID != nil {
		out.AppointmentID = slot.AppointmentID.String()
	}
	return out
}
