package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Regulatory session caps. Weekly caps count within the ISO week containing
// the candidate date; yearly caps within the calendar year. Only
// non-cancelled appointments count toward either.
var (
	weeklyCaps = map[AppointmentKind]int{
		KindIndividual:  3,
		KindGroup:       2,
		KindTeletherapy: 5,
	}
	yearlyCaps = map[AppointmentKind]int{
		KindEvaluation: 2,
		KindAssessment: 4,
	}
)

// EligibilityResult is the structured answer of the gate's insurance check.
type EligibilityResult struct {
	Authorized        bool
	PriorAuthRequired bool
	Reason            string
}

// EligibilityGate wraps the external insurance verifier and the regulatory
// session-limit rules. It decides whether a booking is allowed before any
// state is created.
type EligibilityGate struct {
	repo     Repository
	verifier InsuranceVerifier
}

func NewEligibilityGate(repo Repository, verifier InsuranceVerifier) *EligibilityGate {
	return &EligibilityGate{repo: repo, verifier: verifier}
}

// CheckEligibility delegates coverage to the insurance collaborator. The
// gate implements no coverage logic of its own.
func (g *EligibilityGate) CheckEligibility(ctx context.Context, patientID uuid.UUID, cptCode string, date time.Time) (EligibilityResult, error) {
	res, err := g.verifier.Verify(ctx, patientID, cptCode, date)
	if err != nil {
		return EligibilityResult{}, fmt.Errorf("insurance verification: %w", err)
	}
	return EligibilityResult{
		Authorized:        res.Authorized,
		PriorAuthRequired: res.PriorAuthRequired,
		Reason:            res.Reason,
	}, nil
}

// CheckRegulatoryLimit reports whether booking one more appointment of the
// given kind on the given date would stay within the caps.
func (g *EligibilityGate) CheckRegulatoryLimit(ctx context.Context, patientID uuid.UUID, kind AppointmentKind, date time.Time) (bool, error) {
	if limit, ok := weeklyCaps[kind]; ok {
		n, err := g.countInISOWeek(ctx, patientID, kind, date)
		if err != nil {
			return false, err
		}
		if n >= limit {
			return false, nil
		}
	}
	if limit, ok := yearlyCaps[kind]; ok {
		n, err := g.countInYear(ctx, patientID, kind, date)
		if err != nil {
			return false, err
		}
		if n >= limit {
			return false, nil
		}
	}
	return true, nil
}

func (g *EligibilityGate) countInISOWeek(ctx context.Context, patientID uuid.UUID, kind AppointmentKind, date time.Time) (int, error) {
	// An ISO week never spans more than 7 days around the candidate, so a
	// +/- one week fetch is always a superset.
	from := DateOf(date).AddDate(0, 0, -7)
	to := DateOf(date).AddDate(0, 0, 7)
	appts, err := g.repo.ListByPatientBetween(ctx, patientID, from, to)
	if err != nil {
		return 0, fmt.Errorf("list patient appointments for weekly cap: %w", err)
	}

	wantYear, wantWeek := date.ISOWeek()
	n := 0
	for _, appt := range appts {
		if appt.Kind != kind || !appt.CountsForConflicts() {
			continue
		}
		y, w := appt.Date.ISOWeek()
		if y == wantYear && w == wantWeek {
			n++
		}
	}
	return n, nil
}

func (g *EligibilityGate) countInYear(ctx context.Context, patientID uuid.UUID, kind AppointmentKind, date time.Time) (int, error) {
	from := time.Date(date.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(date.Year(), time.December, 31, 0, 0, 0, 0, time.UTC)
	appts, err := g.repo.ListByPatientBetween(ctx, patientID, from, to)
	if err != nil {
		return 0, fmt.Errorf("list patient appointments for yearly cap: %w", err)
	}

	n := 0
	for _, appt := range appts {
		if appt.Kind == kind && appt.CountsForConflicts() {
			n++
		}
	}
	return n, nil
}
