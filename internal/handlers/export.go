package handlers

import (
	"net/http"
	"strings"
)

var csvHeader = []string{
	"ID", "Name", "Email", "Phone", "Date", "Time", "Service", "Status",
	"Email Sent", "SMS Sent", "Created At",
}

// ExportCSV streams every appointment as a CSV download. Every field is
// quoted, matching what the admin dashboard's spreadsheet import expects.
func (h *AppointmentHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	appts, err := h.store.ListAll(r.Context())
	if err != nil {
		h.serverError(w, r, "failed to export appointments", err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="appointments.csv"`)

	var b strings.Builder
	writeCSVRow(&b, csvHeader)
	for _, a := range appts {
		phone := a.Phone
		if phone == "" {
			phone = "N/A"
		}
		writeCSVRow(&b, []string{
			a.ID, a.Name, a.Email, phone, a.Date, a.Time, a.ServiceType, a.Status,
			yesNo(a.EmailNotificationSent), yesNo(a.SMSNotificationSent),
			a.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	_, _ = w.Write([]byte(b.String()))
}

// writeCSVRow force-quotes every field, doubling embedded quotes.
func writeCSVRow(b *strings.Builder, fields []string) {
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(f, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteString("\r\n")
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
