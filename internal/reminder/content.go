package reminder

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"pawremind/internal/appointment"
)

const ReminderTitle = "Upcoming Appointment Reminder"

// Content is the user-visible payload of a reminder.
type Content struct {
	Title         string `json:"title"`
	Body          string `json:"body"`
	AppointmentID string `json:"appointment_id"`
}

// ContentFor renders the reminder payload for a.
func ContentFor(a appointment.Appointment) Content {
	return Content{
		Title:         ReminderTitle,
		Body:          fmt.Sprintf("Appointment for %s on %s at %s", a.Pet, strings.TrimSpace(a.Date), strings.TrimSpace(a.Time)),
		AppointmentID: a.ID,
	}
}

// Text is the plain-text rendering handed to chat transports.
func (c Content) Text() string {
	if c.Title == "" {
		return c.Body
	}
	return c.Title + "\n" + c.Body
}

// Digest is a stable short hash of the content.
func (c Content) Digest() string {
	h := sha256.New()
	h.Write([]byte(c.Title))
	h.Write([]byte{0})
	h.Write([]byte(c.Body))
	h.Write([]byte{0})
	h.Write([]byte(c.AppointmentID))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:8])
}
