package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	redisclient "github.com/clinicore/clinic-scheduling/internal/redis"
	"github.com/clinicore/clinic-scheduling/internal/scheduling"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+param, param+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func buildBookingRequest(req CreateAppointmentRequest) (scheduling.BookingRequest, error) {
	professionalID, err := uuid.Parse(req.ProfessionalID)
	if err != nil {
		return scheduling.BookingRequest{}, errors.New("professional_id must be a valid UUID")
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return scheduling.BookingRequest{}, errors.New("patient_id must be a valid UUID")
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return scheduling.BookingRequest{}, err
	}
	startMinute, err := parseStartTime(req.StartTime)
	if err != nil {
		return scheduling.BookingRequest{}, err
	}

	locationKind := scheduling.LocationKind(req.LocationKind)
	if locationKind == "" {
		locationKind = scheduling.LocationClinic
	}
	channels := make([]scheduling.ReminderChannel, 0, len(req.Reminders.Channels))
	for _, ch := range req.Reminders.Channels {
		channels = append(channels, scheduling.ReminderChannel(ch))
	}

	return scheduling.BookingRequest{
		ProfessionalID:  professionalID,
		PatientID:       patientID,
		Kind:            scheduling.AppointmentKind(req.Kind),
		Date:            date,
		StartMinute:     startMinute,
		DurationMinutes: req.DurationMinutes,
		Location:        scheduling.Location{Kind: locationKind, Details: req.LocationDetails},
		Billing: scheduling.BillingInfo{
			CPTCode:                req.Billing.CPTCode,
			Modifiers:              req.Billing.Modifiers,
			AuthorizationNumber:    req.Billing.AuthorizationNumber,
			DiagnosisCodes:         req.Billing.DiagnosisCodes,
			EstimatedReimbursement: req.Billing.EstimatedReimbursement,
			Copay:                  req.Billing.Copay,
		},
		Clinical: scheduling.ClinicalInfo{
			Goals:               req.Clinical.Goals,
			Materials:           req.Clinical.Materials,
			Homework:            req.Clinical.Homework,
			ParentParticipation: req.Clinical.ParentParticipation,
		},
		Reminders: scheduling.ReminderConfig{
			Enabled:        req.Reminders.Enabled,
			Channels:       channels,
			OffsetsMinutes: req.Reminders.OffsetsMinutes,
		},
		Notes: req.Notes,
	}, nil
}

func buildPattern(payload RecurrencePayload) (scheduling.RecurrencePattern, error) {
	pattern := scheduling.RecurrencePattern{
		Kind:           scheduling.RecurrenceKind(payload.Pattern),
		Frequency:      payload.Frequency,
		Occurrences:    payload.Occurrences,
		SkipHolidays:   payload.SkipHolidays,
		ConflictPolicy: scheduling.ConflictPolicy(payload.ConflictPolicy),
	}
	switch pattern.Kind {
	case scheduling.RecurDaily, scheduling.RecurWeekly, scheduling.RecurBiweekly, scheduling.RecurMonthly:
	default:
		return pattern, errors.New("pattern must be daily, weekly, biweekly or monthly")
	}
	for _, name := range payload.DaysOfWeek {
		wd, ok := weekdayNames[name]
		if !ok {
			return pattern, errors.New("unknown weekday " + name)
		}
		pattern.DaysOfWeek = append(pattern.DaysOfWeek, wd)
	}
	if payload.EndDate != "" {
		end, err := parseDate(payload.EndDate)
		if err != nil {
			return pattern, err
		}
		pattern.EndDate = end
	}
	for _, ex := range payload.Exceptions {
		date, err := parseDate(ex)
		if err != nil {
			return pattern, err
		}
		pattern.Exceptions = append(pattern.Exceptions, date)
	}
	return pattern, nil
}

func createAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		booking, err := buildBookingRequest(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		appt, err := svc.CreateAppointment(r.Context(), booking)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func createRecurringHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRecurringRequest
		if !decodeBody(w, r, &req) {
			return
		}
		booking, err := buildBookingRequest(req.CreateAppointmentRequest)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		pattern, err := buildPattern(req.Recurrence)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_recurrence", err.Error())
			return
		}
		report, err := svc.CreateRecurringAppointments(r.Context(), booking, pattern)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toExpansionResponse(report))
	}
}

func getAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func confirmAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		appt, err := svc.ConfirmAppointment(r.Context(), id)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func startAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		appt, err := svc.StartAppointment(r.Context(), id)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func completeAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req CompleteAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		appt, handoff, err := svc.CompleteAppointment(r.Context(), id, scheduling.CompletionData{
			ActualDurationMinutes: req.ActualDurationMinutes,
			ClinicalNotes:         req.ClinicalNotes,
			GoalsAddressed:        req.GoalsAddressed,
		})
		if err != nil && !errors.Is(err, scheduling.ErrBillingHandoff) {
			handleSchedulingError(w, err)
			return
		}

		resp := CompleteAppointmentResponse{Appointment: toAppointmentResponse(appt)}
		if handoff != nil {
			resp.Claim = &ClaimResponse{ClaimID: handoff.ClaimID, Units: handoff.Units, Amount: handoff.Amount}
		}
		if errors.Is(err, scheduling.ErrBillingHandoff) {
			// The session stays completed; the claim is retried out of band.
			writeJSON(w, http.StatusAccepted, resp)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func cancelAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req CancelAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		appt, fee, err := svc.CancelAppointment(r.Context(), id, req.Reason, scheduling.Actor(req.Actor))
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, CancelAppointmentResponse{
			Appointment:         toAppointmentResponse(appt),
			LateCancellationFee: fee,
		})
	}
}

func noShowAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		appt, err := svc.MarkNoShow(r.Context(), id)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req RescheduleAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		date, err := parseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		startMinute, err := parseStartTime(req.StartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		appt, err := svc.RescheduleAppointment(r.Context(), id, date, startMinute)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func getScheduleHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		professionalID, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		date, err := parseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}
		sched, err := svc.GetProfessionalSchedule(r.Context(), professionalID, date)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toScheduleResponse(sched))
	}
}

func getAvailableSlotsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		professionalID, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		q := r.URL.Query()
		date, err := parseDate(q.Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}
		duration := 0
		if v := q.Get("duration"); v != "" {
			duration, err = strconv.Atoi(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_duration", "duration must be an integer")
				return
			}
		}
		slots, err := svc.GetAvailableTimeSlots(r.Context(), professionalID, date, scheduling.AppointmentKind(q.Get("kind")), duration)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		out := make([]TimeSlotResponse, 0, len(slots))
		for _, slot := range slots {
			out = append(out, toSlotResponse(slot))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func updateSeriesHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		seriesID, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req UpdateSeriesRequest
		if !decodeBody(w, r, &req) {
			return
		}

		var targetID uuid.UUID
		if req.TargetID != "" {
			var err error
			targetID, err = uuid.Parse(req.TargetID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_target_id", "target_id must be a valid UUID")
				return
			}
		}

		updates := scheduling.SeriesUpdates{
			DurationMinutes: req.DurationMinutes,
			Notes:           req.Notes,
		}
		if req.StartTime != nil {
			startMinute, err := parseStartTime(*req.StartTime)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
				return
			}
			updates.StartMinute = &startMinute
		}
		if req.LocationKind != nil || req.LocationDetails != nil {
			loc := scheduling.Location{}
			if req.LocationKind != nil {
				loc.Kind = scheduling.LocationKind(*req.LocationKind)
			}
			if req.LocationDetails != nil {
				loc.Details = *req.LocationDetails
			}
			updates.Location = &loc
		}
		if req.Reminders != nil {
			channels := make([]scheduling.ReminderChannel, 0, len(req.Reminders.Channels))
			for _, ch := range req.Reminders.Channels {
				channels = append(channels, scheduling.ReminderChannel(ch))
			}
			updates.Reminders = &scheduling.ReminderConfig{
				Enabled:        req.Reminders.Enabled,
				Channels:       channels,
				OffsetsMinutes: req.Reminders.OffsetsMinutes,
			}
		}

		report, err := svc.UpdateSeries(r.Context(), seriesID, updates, scheduling.UpdateScope(req.Scope), targetID)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		resp := SeriesUpdateResponse{Updated: report.Updated}
		for _, f := range report.Failed {
			resp.Failed = append(resp.Failed, SkippedResponse{Date: f.Date.Format(dateLayout), Reason: f.Reason})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func cancelSeriesHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		seriesID, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req CancelSeriesRequest
		if !decodeBody(w, r, &req) {
			return
		}
		report, err := svc.CancelSeries(r.Context(), seriesID, scheduling.UpdateScope(req.Scope), req.Reason, scheduling.Actor(req.Actor))
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		resp := SeriesCancelResponse{Cancelled: report.Cancelled, LateFees: report.LateFees}
		for _, f := range report.Failed {
			resp.Failed = append(resp.Failed, SkippedResponse{Date: f.Date.Format(dateLayout), Reason: f.Reason})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func toExpansionResponse(report *scheduling.ExpansionReport) ExpansionResponse {
	resp := ExpansionResponse{
		SeriesID:      report.SeriesID,
		Created:       make([]AppointmentResponse, 0, len(report.Created)),
		Skipped:       make([]SkippedResponse, 0, len(report.Skipped)),
		Failed:        make([]SkippedResponse, 0, len(report.Failed)),
		LimitWarnings: report.LimitWarnings,
	}
	for _, appt := range report.Created {
		resp.Created = append(resp.Created, toAppointmentResponse(appt))
	}
	for _, s := range report.Skipped {
		resp.Skipped = append(resp.Skipped, SkippedResponse{Date: s.Date.Format(dateLayout), Reason: s.Reason})
	}
	for _, f := range report.Failed {
		resp.Failed = append(resp.Failed, SkippedResponse{Date: f.Date.Format(dateLayout), Reason: f.Reason})
	}
	return resp
}

func handleSchedulingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, scheduling.ErrSeriesNotFound):
		writeError(w, http.StatusNotFound, "series_not_found", err.Error())
	case errors.Is(err, scheduling.ErrInsuranceNotAuthorized):
		writeError(w, http.StatusUnprocessableEntity, "insurance_not_authorized", err.Error())
	case errors.Is(err, scheduling.ErrRegulatoryLimitExceeded):
		writeError(w, http.StatusUnprocessableEntity, "regulatory_limit_exceeded", err.Error())
	case errors.Is(err, scheduling.ErrScheduleConflict):
		writeError(w, http.StatusConflict, "schedule_conflict", err.Error())
	case errors.Is(err, scheduling.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, scheduling.ErrBelowMinimumBillable):
		writeError(w, http.StatusUnprocessableEntity, "below_minimum_billable", err.Error())
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "professional_busy", "schedule is being modified, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
