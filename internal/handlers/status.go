package handlers

import (
	"net/http"
	"time"

	"github.com/futursched/scheduler/internal/sweep"
)

// SweepStatus reports the reminder worker's current state.
type SweepStatus interface {
	Status() sweep.Status
}

// StatusHandler serves the service landing page and operational status.
type StatusHandler struct {
	sweep          SweepStatus
	emailEnabled   bool
	smsEnabled     bool
	eventsEnabled  bool
	startedAt      time.Time
	serviceVersion string
}

func NewStatusHandler(sw SweepStatus, emailEnabled, smsEnabled, eventsEnabled bool, version string) *StatusHandler {
	return &StatusHandler{
		sweep:          sw,
		emailEnabled:   emailEnabled,
		smsEnabled:     smsEnabled,
		eventsEnabled:  eventsEnabled,
		startedAt:      time.Now(),
		serviceVersion: version,
	}
}

func (h *StatusHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.Root)
	mux.HandleFunc("GET /api/health", h.Health)
	mux.HandleFunc("GET /api/scheduler/status", h.SchedulerStatus)
}

func (h *StatusHandler) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"service": "Appointment Scheduler API",
		"version": h.serviceVersion,
		"endpoints": map[string]string{
			"book":      "POST /api/appointments",
			"list":      "GET /api/appointments",
			"upcoming":  "GET /api/appointments/upcoming",
			"export":    "GET /api/appointments/export/csv",
			"range":     "GET /api/appointments/range/{start}/{end}",
			"get":       "GET /api/appointments/{id}",
			"update":    "PUT /api/appointments/{id}",
			"cancel":    "PATCH /api/appointments/{id}/cancel",
			"delete":    "DELETE /api/appointments/{id}",
			"services":  "GET /api/services",
			"health":    "GET /api/health",
			"scheduler": "GET /api/scheduler/status",
		},
	})
}

func (h *StatusHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"status":    "ok",
		"uptime":    time.Since(h.startedAt).Round(time.Second).String(),
		"scheduler": h.sweep.Status(),
		"channels": map[string]bool{
			"email": h.emailEnabled,
			"sms":   h.smsEnabled,
		},
		"events_enabled": h.eventsEnabled,
	})
}

func (h *StatusHandler) SchedulerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"scheduler": h.sweep.Status(),
	})
}
