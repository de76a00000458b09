package meetings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPProvisionerCreatesMeeting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/meetings" {
			t.Errorf("expected /meetings, got %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("expected bearer token, got %q", got)
		}
		var req createMeetingRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.DurationMinutes != 30 || req.StartAt != "2030-01-02T10:00:00Z" {
			t.Errorf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(createMeetingResponse{JoinURL: "https://meet.example/abc"})
	}))
	defer srv.Close()

	p := NewHTTPProvisioner(srv.URL+"/", "tok", time.Second)
	url, err := p.CreateMeeting(context.Background(), "consultation", time.Date(2030, 1, 2, 10, 0, 0, 0, time.UTC), 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://meet.example/abc" {
		t.Fatalf("expected join url, got %s", url)
	}
}

func TestHTTPProvisionerSurfacesFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewHTTPProvisioner(srv.URL, "", time.Second)
	if _, err := p.CreateMeeting(context.Background(), "x", time.Now(), 15); err == nil {
		t.Fatal("expected error")
	}
}

func TestPlaceholder(t *testing.T) {
	a := Placeholder("https://meet.local/s/")
	b := Placeholder("https://meet.local/s")
	if !strings.HasPrefix(a, "https://meet.local/s/") || a == b {
		t.Fatalf("expected distinct links under base, got %s and %s", a, b)
	}
}
