package notify

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// SMSSender delivers reminders through Twilio.
type SMSSender struct {
	client     *twilio.RestClient
	fromNumber string
}

func NewSMSSender(accountSID, authToken, fromNumber string) *SMSSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username:   accountSID,
		Password:   authToken,
		AccountSid: accountSID,
	})
	return &SMSSender{client: client, fromNumber: fromNumber}
}

func (s *SMSSender) SendAppointmentReminder(contact Contact, appointmentID uuid.UUID) error {
	if contact.Phone == "" {
		return fmt.Errorf("no phone on file")
	}
	if !strings.HasPrefix(contact.Phone, "+") {
		return fmt.Errorf("phone %q is not E.164", contact.Phone)
	}

	body := fmt.Sprintf("Reminder: you have an upcoming appointment (ref %s). Reply to this number to reschedule.", shortRef(appointmentID))

	params := &openapi.CreateMessageParams{}
	params.SetTo(contact.Phone)
	params.SetFrom(s.fromNumber)
	params.SetBody(body)

	if _, err := s.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio send: %w", err)
	}
	return nil
}
