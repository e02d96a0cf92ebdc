package booking

import (
	"regexp"
	"strings"
	"time"

	"github.com/futursched/scheduler/internal/model"
)

// Validation reason codes, stable for clients.
const (
	ReasonMissingField    = "missing_field"
	ReasonInvalidEmail    = "invalid_email"
	ReasonInvalidDateTime = "invalid_datetime"
	ReasonPastDateTime    = "past_datetime"
)

// ValidationError is a client input problem: a reason code for machines and a
// message for humans.
type ValidationError struct {
	Reason  string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Same shape the booking form enforces: local@domain.tld, no whitespace.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Request is the booking form input.
type Request struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Date        string `json:"appointment_date"`
	Time        string `json:"appointment_time"`
	ServiceType string `json:"service_type"`
}

// Normalize trims surrounding whitespace from every field.
func (r *Request) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.TrimSpace(r.Email)
	r.Phone = strings.TrimSpace(r.Phone)
	r.Date = strings.TrimSpace(r.Date)
	r.Time = strings.TrimSpace(r.Time)
	r.ServiceType = strings.TrimSpace(r.ServiceType)
}

// Validate checks a new booking request. Fails fast, returning the first
// problem found: required fields, then email shape, then the
// not-in-the-past rule. Slot availability is the store's business.
func Validate(req Request, now time.Time) *ValidationError {
	if req.Name == "" || req.Email == "" || req.Date == "" || req.Time == "" || req.ServiceType == "" {
		return &ValidationError{
			Reason:  ReasonMissingField,
			Message: "Missing required fields: name, email, appointment_date, appointment_time, service_type",
		}
	}
	if !ValidEmail(req.Email) {
		return &ValidationError{
			Reason:  ReasonInvalidEmail,
			Message: "Invalid email format",
		}
	}
	startsAt, err := model.CombineDateTime(req.Date, req.Time, now.Location())
	if err != nil {
		return &ValidationError{
			Reason:  ReasonInvalidDateTime,
			Message: "Invalid appointment date or time",
		}
	}
	if startsAt.Before(now) {
		return &ValidationError{
			Reason:  ReasonPastDateTime,
			Message: "Cannot book appointments in the past",
		}
	}
	return nil
}

func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}
