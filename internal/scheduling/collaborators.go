package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// VerificationResult is the insurance collaborator's answer for one service
// date. Reason is set when Authorized is false.
type VerificationResult struct {
	Authorized        bool
	PriorAuthRequired bool
	Reason            string
}

// InsuranceVerifier is the external eligibility collaborator. The core only
// runs the workflow around it; it implements no coverage logic itself.
type InsuranceVerifier interface {
	Verify(ctx context.Context, patientID uuid.UUID, cptCode string, serviceDate time.Time) (VerificationResult, error)
}

// BillingClient is the claims collaborator invoked on completion and on
// late patient cancellations.
type BillingClient interface {
	CreateClaim(ctx context.Context, appointmentID uuid.UUID, units int, amount float64, notes string) (claimID string, err error)
	ApplyLateCancellationFee(ctx context.Context, appointmentID uuid.UUID) error
}

// SessionLogger records the clinical session correlated with an appointment.
type SessionLogger interface {
	StartSession(ctx context.Context, patientID uuid.UUID, description string, goals []string) (sessionID string, err error)
	EndSession(ctx context.Context, sessionID string, notes string, goalsAddressed []string) error
}

// ReminderDispatcher delivers a single reminder on one channel.
type ReminderDispatcher interface {
	SendReminder(ctx context.Context, appointmentID uuid.UUID, channel ReminderChannel) error
}
