// Package sweep runs the recurring reminder job: every tick it loads
// appointments whose start time falls inside the reminder window and pushes
// email/SMS reminders for them, marking each channel sent on success.
package sweep

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/futursched/scheduler/internal/model"
	"github.com/futursched/scheduler/internal/notify"
)

type Store interface {
	ListDueForReminder(ctx context.Context, now time.Time, window time.Duration) ([]model.Appointment, error)
	MarkNotificationSent(ctx context.Context, id, channel string) error
}

type Dispatcher interface {
	SendReminderEmail(ctx context.Context, appt model.Appointment) notify.Result
	SendReminderSMS(ctx context.Context, appt model.Appointment) notify.Result
}

type Config struct {
	Interval    time.Duration // tick period; default 1 minute
	Window      time.Duration // how far ahead an appointment counts as due; default 10 minutes
	SendTimeout time.Duration // per-send deadline; default 15 seconds
}

// Status is a snapshot of the worker for the health endpoint.
type Status struct {
	Running       bool      `json:"running"`
	CheckInterval string    `json:"check_interval"`
	Window        string    `json:"window"`
	LastTick      time.Time `json:"last_tick,omitzero"`
	LastBatchSize int       `json:"last_batch_size"`
	EmailsSent    int64     `json:"emails_sent"`
	SMSSent       int64     `json:"sms_sent"`
}

type Worker struct {
	store      Store
	dispatcher Dispatcher
	logger     *slog.Logger
	cfg        Config

	mu            sync.Mutex
	running       bool
	lastTick      time.Time
	lastBatchSize int
	emailsSent    int64
	smsSent       int64
}

func NewWorker(store Store, dispatcher Dispatcher, logger *slog.Logger, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Minute
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	return &Worker{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run blocks until ctx is cancelled. Ticks execute one at a time in this
// goroutine: a tick that outlives the interval delays the next one rather
// than overlapping it, so the same appointment is never processed twice
// concurrently.
func (w *Worker) Run(ctx context.Context) {
	w.setRunning(true)
	defer w.setRunning(false)

	w.logger.Info("reminder sweep started", "interval", w.cfg.Interval.String(), "window", w.cfg.Window.String())

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("reminder sweep stopped")
			return
		case <-ticker.C:
			if err := w.Tick(ctx, time.Now()); err != nil {
				w.logger.Error("sweep tick failed", "err", err)
			}
		}
	}
}

// Tick performs one sweep pass. Failures on one appointment or channel are
// logged and skipped; they never abort the rest of the batch.
func (w *Worker) Tick(ctx context.Context, now time.Time) error {
	due, err := w.store.ListDueForReminder(ctx, now, w.cfg.Window)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.lastTick = now
	w.lastBatchSize = len(due)
	w.mu.Unlock()

	if len(due) == 0 {
		return nil
	}
	w.logger.Info("appointments due for reminder", "count", len(due))

	for _, appt := range due {
		w.remind(ctx, appt)
	}
	return nil
}

func (w *Worker) remind(ctx context.Context, appt model.Appointment) {
	emailCtx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
	emailRes := w.dispatcher.SendReminderEmail(emailCtx, appt)
	cancel()
	if emailRes.Sent {
		if err := w.store.MarkNotificationSent(ctx, appt.ID, model.ChannelEmail); err != nil {
			w.logger.Error("failed to mark email reminder sent", "appointment_id", appt.ID, "err", err)
		} else {
			w.mu.Lock()
			w.emailsSent++
			w.mu.Unlock()
		}
	} else if emailRes.Reason != notify.ReasonUnconfigured {
		w.logger.Warn("email reminder not sent", "appointment_id", appt.ID, "reason", emailRes.Reason)
	}

	// The due query keys on the email flag alone, so an appointment whose SMS
	// already went out can come around again; the flag check keeps the text
	// from repeating.
	if appt.Phone == "" || appt.SMSNotificationSent {
		return
	}
	smsCtx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
	smsRes := w.dispatcher.SendReminderSMS(smsCtx, appt)
	cancel()
	if smsRes.Sent {
		if err := w.store.MarkNotificationSent(ctx, appt.ID, model.ChannelSMS); err != nil {
			w.logger.Error("failed to mark sms reminder sent", "appointment_id", appt.ID, "err", err)
		} else {
			w.mu.Lock()
			w.smsSent++
			w.mu.Unlock()
		}
	} else if smsRes.Reason != notify.ReasonUnconfigured && smsRes.Reason != notify.ReasonNoPhone {
		w.logger.Warn("sms reminder not sent", "appointment_id", appt.ID, "reason", smsRes.Reason)
	}
}

func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		Running:       w.running,
		CheckInterval: w.cfg.Interval.String(),
		Window:        w.cfg.Window.String(),
		LastTick:      w.lastTick,
		LastBatchSize: w.lastBatchSize,
		EmailsSent:    w.emailsSent,
		SMSSent:       w.smsSent,
	}
}

func (w *Worker) setRunning(v bool) {
	w.mu.Lock()
	w.running = v
	w.mu.Unlock()
}
