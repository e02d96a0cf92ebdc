package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/futursched/scheduler/internal/model"
	"github.com/futursched/scheduler/internal/notify"
	"github.com/futursched/scheduler/internal/storage"
)

// memStore keeps appointments in memory and enforces the same slot rule the
// database index does: one non-cancelled appointment per (date, time).
type memStore struct {
	appts map[string]model.Appointment
	order []string
	fail  error
}

func newMemStore() *memStore {
	return &memStore{appts: map[string]model.Appointment{}}
}

func (s *memStore) slotTaken(date, timeOfDay, excludeID string) bool {
	for _, a := range s.appts {
		if a.ID != excludeID && a.Status != model.StatusCancelled &&
			a.Date == date && a.Time == timeOfDay {
			return true
		}
	}
	return false
}

func (s *memStore) Create(_ context.Context, appt model.Appointment) (model.Appointment, error) {
	if s.fail != nil {
		return model.Appointment{}, s.fail
	}
	if s.slotTaken(appt.Date, appt.Time, "") {
		return model.Appointment{}, storage.ErrSlotTaken
	}
	appt.Status = model.StatusScheduled
	appt.CreatedAt = time.Now()
	appt.UpdatedAt = appt.CreatedAt
	s.appts[appt.ID] = appt
	s.order = append(s.order, appt.ID)
	return appt, nil
}

func (s *memStore) GetByID(_ context.Context, id string) (model.Appointment, error) {
	a, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, storage.ErrNotFound
	}
	return a, nil
}

func (s *memStore) ListAll(context.Context) ([]model.Appointment, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	out := make([]model.Appointment, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.appts[id])
	}
	return out, nil
}

func (s *memStore) ListUpcoming(_ context.Context, now time.Time) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, id := range s.order {
		a := s.appts[id]
		if a.Status != model.StatusScheduled {
			continue
		}
		start, err := a.StartsAt(now.Location())
		if err != nil {
			continue
		}
		if !start.Before(now) && !start.After(now.Add(24*time.Hour)) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) ListByDateRange(_ context.Context, start, end string) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, id := range s.order {
		a := s.appts[id]
		if a.Date >= start && a.Date <= end {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) SlotAvailable(_ context.Context, date, timeOfDay, excludeID string) (bool, error) {
	if s.fail != nil {
		return false, s.fail
	}
	return !s.slotTaken(date, timeOfDay, excludeID), nil
}

func (s *memStore) Update(_ context.Context, id string, patch storage.Patch) (model.Appointment, error) {
	a, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, storage.ErrNotFound
	}
	date, timeOfDay := a.Date, a.Time
	if patch.Date != nil {
		date = *patch.Date
	}
	if patch.Time != nil {
		timeOfDay = *patch.Time
	}
	if patch.TouchesSlot() && s.slotTaken(date, timeOfDay, id) {
		return model.Appointment{}, storage.ErrSlotTaken
	}
	if patch.Name != nil {
		a.Name = *patch.Name
	}
	if patch.Email != nil {
		a.Email = *patch.Email
	}
	if patch.Phone != nil {
		a.Phone = *patch.Phone
	}
	a.Date, a.Time = date, timeOfDay
	if patch.ServiceType != nil {
		a.ServiceType = *patch.ServiceType
	}
	a.UpdatedAt = time.Now()
	s.appts[id] = a
	return a, nil
}

func (s *memStore) Cancel(_ context.Context, id string) (model.Appointment, error) {
	a, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, storage.ErrNotFound
	}
	a.Status = model.StatusCancelled
	a.UpdatedAt = time.Now()
	s.appts[id] = a
	return a, nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	if _, ok := s.appts[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.appts, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

type recordingNotifier struct {
	confirmations []string
	result        notify.Result
}

func (n *recordingNotifier) SendBookingConfirmation(_ context.Context, appt model.Appointment) notify.Result {
	n.confirmations = append(n.confirmations, appt.ID)
	return n.result
}

func newTestServer(t *testing.T) (*httptest.Server, *memStore, *recordingNotifier) {
	t.Helper()
	store := newMemStore()
	notifier := &recordingNotifier{result: notify.Result{Sent: true}}
	h := NewAppointmentHandler(store, notifier, slog.New(slog.NewTextHandler(io.Discard, nil)))

	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store, notifier
}

func bookingBody(date, timeOfDay string) string {
	return fmt.Sprintf(`{
		"name": "Alice Johnson",
		"email": "alice@example.com",
		"phone": "+15551234567",
		"appointment_date": %q,
		"appointment_time": %q,
		"service_type": "Dental Checkup"
	}`, date, timeOfDay)
}

func futureDate() string {
	return time.Now().AddDate(0, 0, 7).Format("2006-01-02")
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func doRequest(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp, decodeBody(t, resp)
}

func TestCreateAppointment(t *testing.T) {
	srv, store, notifier := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/api/appointments", bookingBody(futureDate(), "14:30"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	if body["success"] != true {
		t.Fatalf("success = %v", body["success"])
	}

	data := body["appointment"].(map[string]any)
	id := data["id"].(string)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("id %q is not a uuid", id)
	}
	if data["status"] != model.StatusScheduled {
		t.Fatalf("status = %v", data["status"])
	}
	if data["email_notification_sent"] != false {
		t.Fatal("email flag should start false")
	}

	if len(store.appts) != 1 {
		t.Fatalf("store has %d appointments", len(store.appts))
	}
	if len(notifier.confirmations) != 1 || notifier.confirmations[0] != id {
		t.Fatalf("confirmations = %v", notifier.confirmations)
	}
}

func TestCreateValidation(t *testing.T) {
	srv, store, _ := newTestServer(t)

	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing fields", `{"name":"Al"}`, "Missing required fields"},
		{"bad email", strings.Replace(bookingBody(futureDate(), "14:30"), "alice@example.com", "nope", 1), "Invalid email format"},
		{"past datetime", bookingBody("2020-01-01", "10:00"), "Cannot book appointments in the past"},
		{"bad json", `{"name":`, "Invalid request body"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := postJSON(t, srv.URL+"/api/appointments", tc.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, body %v", resp.StatusCode, body)
			}
			if body["success"] != false {
				t.Fatalf("success = %v", body["success"])
			}
			if msg, _ := body["message"].(string); !strings.Contains(msg, tc.want) {
				t.Fatalf("message = %q, want containing %q", msg, tc.want)
			}
		})
	}
	if len(store.appts) != 0 {
		t.Fatalf("no appointment should be stored, got %d", len(store.appts))
	}
}

func TestDoubleBookingConflict(t *testing.T) {
	srv, _, notifier := newTestServer(t)
	date := futureDate()

	resp, _ := postJSON(t, srv.URL+"/api/appointments", bookingBody(date, "09:00"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first booking: %d", resp.StatusCode)
	}

	resp, body := postJSON(t, srv.URL+"/api/appointments", bookingBody(date, "09:00"))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second booking status = %d, want 409", resp.StatusCode)
	}
	if msg, _ := body["message"].(string); !strings.Contains(msg, "already booked") {
		t.Fatalf("message = %q", msg)
	}
	if len(notifier.confirmations) != 1 {
		t.Fatalf("confirmations = %d, want 1", len(notifier.confirmations))
	}
}

func TestCancelFreesSlot(t *testing.T) {
	srv, store, _ := newTestServer(t)
	date := futureDate()

	_, body := postJSON(t, srv.URL+"/api/appointments", bookingBody(date, "10:00"))
	id := body["appointment"].(map[string]any)["id"].(string)

	resp, body := doRequest(t, http.MethodPatch, srv.URL+"/api/appointments/"+id+"/cancel", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d, body %v", resp.StatusCode, body)
	}
	if store.appts[id].Status != model.StatusCancelled {
		t.Fatalf("status after cancel = %v", store.appts[id].Status)
	}

	// Slot is free again.
	resp, _ = postJSON(t, srv.URL+"/api/appointments", bookingBody(date, "10:00"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("rebooking cancelled slot: %d, want 201", resp.StatusCode)
	}
}

func TestGetAppointment(t *testing.T) {
	srv, _, _ := newTestServer(t)

	_, body := postJSON(t, srv.URL+"/api/appointments", bookingBody(futureDate(), "11:00"))
	id := body["appointment"].(map[string]any)["id"].(string)

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/api/appointments/"+id, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["appointment"].(map[string]any)["name"] != "Alice Johnson" {
		t.Fatalf("appointment = %v", body["appointment"])
	}

	resp, _ = doRequest(t, http.MethodGet, srv.URL+"/api/appointments/"+uuid.NewString(), "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown id status = %d, want 404", resp.StatusCode)
	}
}

func TestUpdateAppointment(t *testing.T) {
	srv, _, _ := newTestServer(t)
	date := futureDate()

	_, body := postJSON(t, srv.URL+"/api/appointments", bookingBody(date, "12:00"))
	id := body["appointment"].(map[string]any)["id"].(string)

	resp, body := doRequest(t, http.MethodPut, srv.URL+"/api/appointments/"+id,
		`{"name":"Alice Smith","appointment_time":"13:00"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	data := body["appointment"].(map[string]any)
	if data["name"] != "Alice Smith" || data["appointment_time"] != "13:00" {
		t.Fatalf("data = %v", data)
	}
	// Untouched fields keep their values.
	if data["email"] != "alice@example.com" {
		t.Fatalf("email changed: %v", data["email"])
	}
}

func TestUpdateRejectsBadInput(t *testing.T) {
	srv, _, _ := newTestServer(t)

	_, body := postJSON(t, srv.URL+"/api/appointments", bookingBody(futureDate(), "12:00"))
	id := body["appointment"].(map[string]any)["id"].(string)

	resp, _ := doRequest(t, http.MethodPut, srv.URL+"/api/appointments/"+id, `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty patch status = %d, want 400", resp.StatusCode)
	}

	resp, _ = doRequest(t, http.MethodPut, srv.URL+"/api/appointments/"+id, `{"email":"bad"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad email status = %d, want 400", resp.StatusCode)
	}

	// Unparseable date or time forms are rejected before they reach the store.
	for _, patch := range []string{
		`{"appointment_date":"03/20/2026"}`,
		`{"appointment_time":"2pm"}`,
	} {
		resp, out := doRequest(t, http.MethodPut, srv.URL+"/api/appointments/"+id, patch)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("patch %s status = %d, want 400", patch, resp.StatusCode)
		}
		if msg, _ := out["message"].(string); !strings.Contains(msg, "Invalid appointment date or time") {
			t.Fatalf("message = %q", msg)
		}
	}
}

func TestUpdateSlotConflict(t *testing.T) {
	srv, _, _ := newTestServer(t)
	date := futureDate()

	postJSON(t, srv.URL+"/api/appointments", bookingBody(date, "09:00"))
	_, body := postJSON(t, srv.URL+"/api/appointments", bookingBody(date, "10:00"))
	id := body["appointment"].(map[string]any)["id"].(string)

	resp, _ := doRequest(t, http.MethodPut, srv.URL+"/api/appointments/"+id, `{"appointment_time":"09:00"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}

	// Keeping its own slot is not a conflict.
	resp, _ = doRequest(t, http.MethodPut, srv.URL+"/api/appointments/"+id,
		fmt.Sprintf(`{"appointment_date":%q,"appointment_time":"10:00"}`, date))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("same slot update status = %d, want 200", resp.StatusCode)
	}
}

func TestDeleteAppointment(t *testing.T) {
	srv, store, _ := newTestServer(t)

	_, body := postJSON(t, srv.URL+"/api/appointments", bookingBody(futureDate(), "15:00"))
	id := body["appointment"].(map[string]any)["id"].(string)

	resp, _ := doRequest(t, http.MethodDelete, srv.URL+"/api/appointments/"+id, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(store.appts) != 0 {
		t.Fatal("appointment still stored after delete")
	}

	resp, _ = doRequest(t, http.MethodDelete, srv.URL+"/api/appointments/"+id, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestListEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)
	date := futureDate()

	postJSON(t, srv.URL+"/api/appointments", bookingBody(date, "09:00"))
	postJSON(t, srv.URL+"/api/appointments", bookingBody(date, "10:00"))

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/api/appointments", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := len(body["appointments"].([]any)); got != 2 {
		t.Fatalf("appointments = %d, want 2", got)
	}

	resp, body = doRequest(t, http.MethodGet,
		srv.URL+"/api/appointments/range/"+date+"/"+date, "")
	if resp.StatusCode != http.StatusOK || len(body["appointments"].([]any)) != 2 {
		t.Fatalf("range: status %d body %v", resp.StatusCode, body)
	}

	resp, _ = doRequest(t, http.MethodGet, srv.URL+"/api/appointments/range/garbage/2026-01-01", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad range date status = %d, want 400", resp.StatusCode)
	}
}

func TestListEmptyIsArray(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/appointments")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), `"appointments":[]`) {
		t.Fatalf("empty list must encode as [], got %s", raw)
	}
}

func TestListUpcoming(t *testing.T) {
	srv, _, _ := newTestServer(t)

	soon := time.Now().Add(2 * time.Hour)
	postJSON(t, srv.URL+"/api/appointments",
		bookingBody(soon.Format("2006-01-02"), soon.Format("15:04")))
	// Outside the 24h horizon.
	postJSON(t, srv.URL+"/api/appointments", bookingBody(futureDate(), "09:00"))

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/api/appointments/upcoming", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := len(body["appointments"].([]any)); got != 1 {
		t.Fatalf("appointments = %d, want 1", got)
	}
}

func TestListServices(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/api/services", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := len(body["services"].([]any)); got != len(model.ServiceTypes) {
		t.Fatalf("services = %d, want %d", got, len(model.ServiceTypes))
	}
}

func TestStoreFailureIs500(t *testing.T) {
	srv, store, _ := newTestServer(t)
	store.fail = errors.New("db down")

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/api/appointments", "")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if msg, _ := body["message"].(string); strings.Contains(msg, "db down") {
		t.Fatal("internal error detail must not leak to clients")
	}
}

func TestConfirmationFailureDoesNotFailBooking(t *testing.T) {
	srv, _, notifier := newTestServer(t)
	notifier.result = notify.Result{Sent: false, Reason: "smtp connect refused"}

	resp, _ := postJSON(t, srv.URL+"/api/appointments", bookingBody(futureDate(), "16:00"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201 even when confirmation fails", resp.StatusCode)
	}
}
