// Package handlers exposes the appointment API over HTTP. Handlers decode and
// validate input, call the store, and shape the JSON envelope; all persistence
// rules live behind the Store interface.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/futursched/scheduler/internal/booking"
	"github.com/futursched/scheduler/internal/model"
	"github.com/futursched/scheduler/internal/notify"
	"github.com/futursched/scheduler/internal/storage"
)

type Store interface {
	Create(ctx context.Context, appt model.Appointment) (model.Appointment, error)
	GetByID(ctx context.Context, id string) (model.Appointment, error)
	ListAll(ctx context.Context) ([]model.Appointment, error)
	ListUpcoming(ctx context.Context, now time.Time) ([]model.Appointment, error)
	ListByDateRange(ctx context.Context, start, end string) ([]model.Appointment, error)
	SlotAvailable(ctx context.Context, date, timeOfDay, excludeID string) (bool, error)
	Update(ctx context.Context, id string, patch storage.Patch) (model.Appointment, error)
	Cancel(ctx context.Context, id string) (model.Appointment, error)
	Delete(ctx context.Context, id string) error
}

type Notifier interface {
	SendBookingConfirmation(ctx context.Context, appt model.Appointment) notify.Result
}

type AppointmentHandler struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewAppointmentHandler(store Store, notifier Notifier, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

func (h *AppointmentHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/appointments", h.CreateAppointment)
	mux.HandleFunc("GET /api/appointments", h.ListAppointments)
	mux.HandleFunc("GET /api/appointments/upcoming", h.ListUpcoming)
	mux.HandleFunc("GET /api/appointments/export/csv", h.ExportCSV)
	mux.HandleFunc("GET /api/appointments/range/{start}/{end}", h.ListByDateRange)
	mux.HandleFunc("GET /api/appointments/{id}", h.GetAppointment)
	mux.HandleFunc("PUT /api/appointments/{id}", h.UpdateAppointment)
	mux.HandleFunc("PATCH /api/appointments/{id}/cancel", h.CancelAppointment)
	mux.HandleFunc("DELETE /api/appointments/{id}", h.DeleteAppointment)
	mux.HandleFunc("GET /api/services", h.ListServices)
}

// CreateAppointment books a new appointment. The availability pre-check gives
// a friendly 409 in the common case; the database unique index settles any
// race that slips past it, surfacing as ErrSlotTaken.
func (h *AppointmentHandler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var req booking.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Normalize()

	if verr := booking.Validate(req, h.now()); verr != nil {
		writeError(w, http.StatusBadRequest, verr.Message)
		return
	}

	free, err := h.store.SlotAvailable(r.Context(), req.Date, req.Time, "")
	if err != nil {
		h.serverError(w, r, "slot check failed", err)
		return
	}
	if !free {
		writeError(w, http.StatusConflict, "This time slot is already booked. Please choose another time.")
		return
	}

	appt, err := h.store.Create(r.Context(), model.Appointment{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		Date:        req.Date,
		Time:        req.Time,
		ServiceType: req.ServiceType,
	})
	if errors.Is(err, storage.ErrSlotTaken) {
		writeError(w, http.StatusConflict, "This time slot is already booked. Please choose another time.")
		return
	}
	if err != nil {
		h.serverError(w, r, "failed to create appointment", err)
		return
	}

	// Confirmation is best effort; the booking stands either way.
	if res := h.notifier.SendBookingConfirmation(r.Context(), appt); !res.Sent && res.Reason != notify.ReasonUnconfigured {
		h.logger.Warn("booking confirmation not sent", "appointment_id", appt.ID, "reason", res.Reason)
	}

	writeMessageWithAppointment(w, http.StatusCreated, "Appointment booked successfully!", appt)
}

func (h *AppointmentHandler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	appts, err := h.store.ListAll(r.Context())
	if err != nil {
		h.serverError(w, r, "failed to list appointments", err)
		return
	}
	writeAppointments(w, appts)
}

func (h *AppointmentHandler) ListUpcoming(w http.ResponseWriter, r *http.Request) {
	appts, err := h.store.ListUpcoming(r.Context(), h.now())
	if err != nil {
		h.serverError(w, r, "failed to list upcoming appointments", err)
		return
	}
	writeAppointments(w, appts)
}

func (h *AppointmentHandler) ListByDateRange(w http.ResponseWriter, r *http.Request) {
	start, end := r.PathValue("start"), r.PathValue("end")
	if !validDate(start) || !validDate(end) {
		writeError(w, http.StatusBadRequest, "Dates must be in YYYY-MM-DD format")
		return
	}
	appts, err := h.store.ListByDateRange(r.Context(), start, end)
	if err != nil {
		h.serverError(w, r, "failed to list appointments by range", err)
		return
	}
	writeAppointments(w, appts)
}

func (h *AppointmentHandler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.store.GetByID(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Appointment not found")
		return
	}
	if err != nil {
		h.serverError(w, r, "failed to fetch appointment", err)
		return
	}
	writeAppointment(w, http.StatusOK, appt)
}

// UpdateAppointment applies a partial update. Absent fields keep their value;
// phone may be cleared by sending an empty string. Notification flags are not
// accepted here, only the reminder job may set them.
func (h *AppointmentHandler) UpdateAppointment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        *string `json:"name"`
		Email       *string `json:"email"`
		Phone       *string `json:"phone"`
		Date        *string `json:"appointment_date"`
		Time        *string `json:"appointment_time"`
		ServiceType *string `json:"service_type"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	patch := storage.Patch{
		Name:        trimmed(req.Name),
		Email:       trimmed(req.Email),
		Phone:       req.Phone,
		Date:        trimmed(req.Date),
		Time:        trimmed(req.Time),
		ServiceType: trimmed(req.ServiceType),
	}
	if patch.Empty() {
		writeError(w, http.StatusBadRequest, "No fields to update")
		return
	}
	if patch.Email != nil && !booking.ValidEmail(*patch.Email) {
		writeError(w, http.StatusBadRequest, "Invalid email format")
		return
	}
	if (patch.Date != nil && !validDate(*patch.Date)) ||
		(patch.Time != nil && !validTimeOfDay(*patch.Time)) {
		writeError(w, http.StatusBadRequest, "Invalid appointment date or time")
		return
	}

	appt, err := h.store.Update(r.Context(), r.PathValue("id"), patch)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "Appointment not found")
	case errors.Is(err, storage.ErrSlotTaken):
		writeError(w, http.StatusConflict, "This time slot is already booked. Please choose another time.")
	case err != nil:
		h.serverError(w, r, "failed to update appointment", err)
	default:
		writeMessageWithAppointment(w, http.StatusOK, "Appointment updated successfully", appt)
	}
}

func (h *AppointmentHandler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.Cancel(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Appointment not found")
			return
		}
		h.serverError(w, r, "failed to cancel appointment", err)
		return
	}
	writeMessage(w, http.StatusOK, "Appointment cancelled successfully")
}

func (h *AppointmentHandler) DeleteAppointment(w http.ResponseWriter, r *http.Request) {
	err := h.store.Delete(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Appointment not found")
		return
	}
	if err != nil {
		h.serverError(w, r, "failed to delete appointment", err)
		return
	}
	writeMessage(w, http.StatusOK, "Appointment deleted successfully")
}

func (h *AppointmentHandler) ListServices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"services": model.ServiceTypes,
	})
}

func (h *AppointmentHandler) serverError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "method", r.Method, "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func decodeJSON(r *http.Request, dst any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func validDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

func validTimeOfDay(s string) bool {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}
