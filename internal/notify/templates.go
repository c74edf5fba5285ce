package notify

import (
	"fmt"

	"github.com/example/campus-reservation/internal/application"
)

const slotLayout = "Mon 2 Jan 2006 15:04"

// renderTemplate produces the subject and body for one lifecycle event.
// Unknown event types get a generic update so a new event never makes
// dispatch fail.
func renderTemplate(eventType application.EventType, reservation application.Reservation, space application.Space, recipient application.User) (subject, body string) {
	slot := fmt.Sprintf("%s to %s",
		reservation.Start.Format(slotLayout), reservation.End.Format("15:04"))

	switch eventType {
	case application.EventCreated:
		subject = fmt.Sprintf("Reservation request received for %s", space.Name)
		body = fmt.Sprintf("Hello %s,\n\nYour reservation request for %s (%s) has been received and is awaiting approval.\n",
			recipient.DisplayName, space.Name, slot)
	case application.EventApproved:
		subject = fmt.Sprintf("Reservation approved for %s", space.Name)
		body = fmt.Sprintf("Hello %s,\n\nYour reservation for %s (%s) has been approved.\n",
			recipient.DisplayName, space.Name, slot)
	case application.EventRejected:
		subject = fmt.Sprintf("Reservation rejected for %s", space.Name)
		body = fmt.Sprintf("Hello %s,\n\nYour reservation for %s (%s) has been rejected.\nReason: %s\n",
			recipient.DisplayName, space.Name, slot, orDefault(reservation.Reason, "not specified"))
	case application.EventCancelled:
		subject = fmt.Sprintf("Reservation cancelled for %s", space.Name)
		body = fmt.Sprintf("Hello %s,\n\nYour reservation for %s (%s) has been cancelled.\n",
			recipient.DisplayName, space.Name, slot)
	case application.EventBlockedCancellation:
		subject = fmt.Sprintf("Reservation cancelled: %s is unavailable", space.Name)
		body = fmt.Sprintf("Hello %s,\n\nWe are sorry: %s is temporarily unavailable and your reservation (%s) had to be cancelled.\nReason: %s\n",
			recipient.DisplayName, space.Name, slot, orDefault(reservation.Reason, "facility incident"))
	default:
		subject = fmt.Sprintf("Reservation update for %s", space.Name)
		body = fmt.Sprintf("Hello %s,\n\nYour reservation for %s (%s) was updated: %s.\n",
			recipient.DisplayName, space.Name, slot, eventType)
	}
	return subject, body
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
