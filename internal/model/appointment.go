package model

import (
	"fmt"
	"time"
)

const (
	StatusScheduled = "scheduled"
	StatusCancelled = "cancelled"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// ServiceTypes is the catalogue offered on the booking form. The store accepts
// other labels too; this list only feeds the public /api/services endpoint.
var ServiceTypes = []string{
	"General Consultation",
	"Dental Checkup",
	"Eye Examination",
	"Physical Therapy",
	"Vaccination",
	"Lab Tests",
}

// Appointment is the sole entity: one booked slot on the calendar.
// Date is a calendar day ("2006-01-02") and Time a wall-clock time of day
// ("15:04"); together they name the slot. At most one non-cancelled
// appointment may hold a slot at any moment.
type Appointment struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	Email                 string    `json:"email"`
	Phone                 string    `json:"phone,omitempty"`
	Date                  string    `json:"appointment_date"`
	Time                  string    `json:"appointment_time"`
	ServiceType           string    `json:"service_type"`
	Status                string    `json:"status"`
	EmailNotificationSent bool      `json:"email_notification_sent"`
	SMSNotificationSent   bool      `json:"sms_notification_sent"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// CombineDateTime parses a calendar date plus a wall-clock time of day in loc.
// Accepts "15:04" and "15:04:05" time forms (HTML time inputs send the former,
// the database echoes the latter).
func CombineDateTime(date, timeOfDay string, loc *time.Location) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, date+" "+timeOfDay, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date/time %q %q", date, timeOfDay)
}

// StartsAt returns the appointment's start instant in loc.
func (a Appointment) StartsAt(loc *time.Location) (time.Time, error) {
	return CombineDateTime(a.Date, a.Time, loc)
}
