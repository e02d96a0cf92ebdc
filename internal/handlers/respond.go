package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/futursched/scheduler/internal/model"
)

// All endpoints answer with a {"success": bool, ...} envelope. Payload keys
// follow the original API: lists under "appointments", a single record under
// "appointment", errors as a human message under "message".

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Error("failed to encode response", "err", err)
	}
}

func writeAppointment(w http.ResponseWriter, status int, appt model.Appointment) {
	writeJSON(w, status, map[string]any{
		"success":     true,
		"appointment": appt,
	})
}

func writeAppointments(w http.ResponseWriter, appts []model.Appointment) {
	if appts == nil {
		appts = []model.Appointment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"appointments": appts,
	})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": true,
		"message": message,
	})
}

func writeMessageWithAppointment(w http.ResponseWriter, status int, message string, appt model.Appointment) {
	writeJSON(w, status, map[string]any{
		"success":     true,
		"message":     message,
		"appointment": appt,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"message": message,
	})
}
