package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/futursched/scheduler/internal/model"
)

// Result reports the outcome of one channel send. Sent=false with a reason is
// an expected condition (unconfigured transport, missing phone), not an error
// the caller should fail on.
type Result struct {
	Sent   bool   `json:"sent"`
	Reason string `json:"reason,omitempty"`
}

const (
	ReasonUnconfigured = "unconfigured"
	ReasonNoPhone      = "no_phone"
)

// Dispatcher formats and sends appointment notifications. It never reads or
// writes the per-appointment sent flags; deciding whether a message is due is
// entirely the caller's responsibility, so every method is safe to call more
// than once.
type Dispatcher struct {
	email  EmailSender
	sms    SMSSender
	logger *slog.Logger
	loc    *time.Location
}

// NewDispatcher builds a dispatcher. A nil email or sms sender marks that
// channel unconfigured; sends then no-op with ReasonUnconfigured.
func NewDispatcher(email EmailSender, sms SMSSender, logger *slog.Logger, loc *time.Location) *Dispatcher {
	if loc == nil {
		loc = time.Local
	}
	return &Dispatcher{email: email, sms: sms, logger: logger, loc: loc}
}

func (d *Dispatcher) EmailConfigured() bool { return d.email != nil }
func (d *Dispatcher) SMSConfigured() bool   { return d.sms != nil }

// SendReminderEmail sends the "your appointment is soon" email.
func (d *Dispatcher) SendReminderEmail(ctx context.Context, appt model.Appointment) Result {
	if d.email == nil {
		return Result{Sent: false, Reason: ReasonUnconfigured}
	}
	subject := "Upcoming Appointment Reminder"
	body := fmt.Sprintf(
		"Hello %s,\r\n\r\nThis is a reminder about your upcoming appointment:\r\n\r\nDate & Time: %s\r\nService: %s\r\n\r\nYour appointment is in 10 minutes. Please be prepared and on time.\r\nIf you need to reschedule or cancel, please contact us as soon as possible.\r\n",
		appt.Name, d.formatDateTime(appt), appt.ServiceType,
	)
	if err := d.send(ctx, func() error { return d.email.Send(appt.Email, subject, body) }); err != nil {
		d.logger.Error("reminder email failed", "appointment_id", appt.ID, "err", err)
		return Result{Sent: false, Reason: err.Error()}
	}
	d.logger.Info("reminder email sent", "appointment_id", appt.ID, "recipient", appt.Email)
	return Result{Sent: true}
}

// SendReminderSMS sends the short reminder text.
func (d *Dispatcher) SendReminderSMS(ctx context.Context, appt model.Appointment) Result {
	if d.sms == nil {
		return Result{Sent: false, Reason: ReasonUnconfigured}
	}
	if appt.Phone == "" {
		return Result{Sent: false, Reason: ReasonNoPhone}
	}
	body := fmt.Sprintf(
		"Hi %s! Reminder: Your appointment for %s is scheduled for %s. See you soon!",
		appt.Name, appt.ServiceType, d.formatDateTime(appt),
	)
	if err := d.sms.Send(ctx, appt.Phone, body); err != nil {
		d.logger.Error("reminder sms failed", "appointment_id", appt.ID, "err", err)
		return Result{Sent: false, Reason: err.Error()}
	}
	d.logger.Info("reminder sms sent", "appointment_id", appt.ID)
	return Result{Sent: true}
}

// SendBookingConfirmation emails the freshly booked appointment, booking
// reference included. Called once at booking time; its outcome never affects
// whether the booking stands.
func (d *Dispatcher) SendBookingConfirmation(ctx context.Context, appt model.Appointment) Result {
	if d.email == nil {
		return Result{Sent: false, Reason: ReasonUnconfigured}
	}
	subject := "Appointment Confirmed!"
	body := fmt.Sprintf(
		"Hello %s,\r\n\r\nYour appointment has been successfully scheduled!\r\n\r\nDate & Time: %s\r\nService: %s\r\nBooking Reference: %s\r\n\r\nYou will receive a reminder 10 minutes before your appointment.\r\n",
		appt.Name, d.formatDateTime(appt), appt.ServiceType, appt.ID,
	)
	if err := d.send(ctx, func() error { return d.email.Send(appt.Email, subject, body) }); err != nil {
		d.logger.Error("confirmation email failed", "appointment_id", appt.ID, "err", err)
		return Result{Sent: false, Reason: err.Error()}
	}
	d.logger.Info("confirmation email sent", "appointment_id", appt.ID, "recipient", appt.Email)
	return Result{Sent: true}
}

// send runs fn but gives up when ctx expires first. The SMTP sender carries
// its own socket deadlines, so the goroutine cannot leak past them.
func (d *Dispatcher) send(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// formatDateTime renders "Monday, January 2, 2006 at 3:04 PM" in the
// dispatcher's location; falls back to the raw fields if they do not parse.
func (d *Dispatcher) formatDateTime(appt model.Appointment) string {
	t, err := appt.StartsAt(d.loc)
	if err != nil {
		return appt.Date + " " + appt.Time
	}
	return t.Format("Monday, January 2, 2006 at 3:04 PM")
}
