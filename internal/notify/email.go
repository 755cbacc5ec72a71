package notify

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// EmailSender delivers reminders through SendGrid.
type EmailSender struct {
	client    *sendgrid.Client
	fromName  string
	fromEmail string
}

func NewEmailSender(apiKey, fromName, fromEmail string) *EmailSender {
	return &EmailSender{
		client:    sendgrid.NewSendClient(apiKey),
		fromName:  fromName,
		fromEmail: fromEmail,
	}
}

func (s *EmailSender) SendAppointmentReminder(contact Contact, appointmentID uuid.UUID) error {
	if contact.Email == "" {
		return fmt.Errorf("no email on file")
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(contact.Name, contact.Email)
	subject := "Upcoming appointment reminder"
	plain := fmt.Sprintf("Hi %s, this is a reminder for your upcoming appointment (ref %s).", contact.Name, shortRef(appointmentID))
	html := fmt.Sprintf("<p>Hi %s,</p><p>This is a reminder for your upcoming appointment (ref <strong>%s</strong>).</p>", contact.Name, shortRef(appointmentID))

	message := mail.NewSingleEmail(from, subject, to, plain, html)
	resp, err := s.client.Send(message)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

func shortRef(id uuid.UUID) string {
	return id.String()[:8]
}
