// Package notify implements the reminder dispatch collaborator over email
// (SendGrid) and SMS (Twilio). The scheduling core only knows the
// ReminderDispatcher interface; everything here is replaceable side-effect
// plumbing.
package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinicore/clinic-scheduling/internal/scheduling"
)

// Contact is the delivery address book entry for one appointment's patient.
type Contact struct {
	Name  string
	Email string
	Phone string // E.164
}

// Directory resolves the contact for an appointment. Implementations
// typically join the patients table.
type Directory interface {
	ContactFor(ctx context.Context, appointmentID uuid.UUID) (Contact, error)
}

// Dispatcher routes each reminder channel to its sender.
type Dispatcher struct {
	directory Directory
	email     *EmailSender
	sms       *SMSSender
}

var _ scheduling.ReminderDispatcher = (*Dispatcher)(nil)

func NewDispatcher(directory Directory, email *EmailSender, sms *SMSSender) *Dispatcher {
	return &Dispatcher{directory: directory, email: email, sms: sms}
}

func (d *Dispatcher) SendReminder(ctx context.Context, appointmentID uuid.UUID, channel scheduling.ReminderChannel) error {
	contact, err := d.directory.ContactFor(ctx, appointmentID)
	if err != nil {
		return fmt.Errorf("resolve contact: %w", err)
	}

	switch channel {
	case scheduling.ChannelEmail:
		if d.email == nil {
			return fmt.Errorf("email channel not configured")
		}
		return d.email.SendAppointmentReminder(contact, appointmentID)
	case scheduling.ChannelSMS:
		if d.sms == nil {
			return fmt.Errorf("sms channel not configured")
		}
		return d.sms.SendAppointmentReminder(contact, appointmentID)
	default:
		return fmt.Errorf("unsupported reminder channel %q", channel)
	}
}
