package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWebhookSenderPostsMessage(t *testing.T) {
	var got Message
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSender("tok", time.Second)
	err := s.Send(context.Background(), srv.URL, Message{Title: "Booked", Body: "see you", Data: map[string]string{"appointment_id": "a1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if auth != "Bearer tok" {
		t.Fatalf("expected bearer token, got %q", auth)
	}
	if got.Title != "Booked" || got.Data["appointment_id"] != "a1" {
		t.Fatalf("unexpected message: %+v", got)
	}
}

func TestWebhookSenderNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookSender("", time.Second).Send(context.Background(), srv.URL, Message{Title: "x"}); err == nil {
		t.Fatalf("expected error for 502")
	}
}

func TestWebhookSenderRequiresEndpoint(t *testing.T) {
	if err := NewWebhookSender("", 0).Send(context.Background(), " ", Message{}); err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
}
