package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/futursched/scheduler/internal/sweep"
)

type stubSweep struct {
	status sweep.Status
}

func (s stubSweep) Status() sweep.Status { return s.status }

func newStatusServer(t *testing.T) *httptest.Server {
	t.Helper()
	h := NewStatusHandler(stubSweep{status: sweep.Status{
		Running:       true,
		CheckInterval: "1m0s",
		Window:        "10m0s",
	}}, true, false, false, "test")
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthEndpoint(t *testing.T) {
	srv := newStatusServer(t)

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field = %v", body["status"])
	}
	sched := body["scheduler"].(map[string]any)
	if sched["running"] != true || sched["check_interval"] != "1m0s" {
		t.Fatalf("scheduler = %v", sched)
	}
	channels := body["channels"].(map[string]any)
	if channels["email"] != true || channels["sms"] != false {
		t.Fatalf("channels = %v", channels)
	}
}

func TestSchedulerStatusEndpoint(t *testing.T) {
	srv := newStatusServer(t)

	resp, err := http.Get(srv.URL + "/api/scheduler/status")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK || body["success"] != true {
		t.Fatalf("status = %d body %v", resp.StatusCode, body)
	}
	if body["scheduler"].(map[string]any)["window"] != "10m0s" {
		t.Fatalf("scheduler = %v", body["scheduler"])
	}
}

func TestRootEndpoint(t *testing.T) {
	srv := newStatusServer(t)

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["service"] != "Appointment Scheduler API" {
		t.Fatalf("service = %v", body["service"])
	}

	// Unknown paths are not swallowed by the root route.
	resp, err = http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown path status = %d, want 404", resp.StatusCode)
	}
}
