package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fntelecomllc/bankreconciler/internal/resilience"
)

func newTestEmailPuller(baseURL string) *HTTPEmailPuller {
	return NewHTTPEmailPuller("test-inbox", baseURL, 2*time.Second,
		resilience.RetryConfig{MaxAttempts: 1, Initial: time.Millisecond, Base: 2, MaxDelay: time.Millisecond},
		resilience.DefaultBreakerConfig("test-inbox"))
}

func TestHTTPEmailPullerFetchMapsMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(inboxPage{Messages: []inboxMessage{
			{MessageID: "m1", Sender: "bank@example.com", Subject: "Alert", Body: "body", ReceivedAt: "2026-07-30T10:00:00Z"},
		}})
	}))
	defer srv.Close()

	p := newTestEmailPuller(srv.URL)
	out, err := p.Fetch(context.Background(), time.Now().Add(-time.Hour), time.Now(), 50, 0)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(out) != 1 || out[0].MessageID != "m1" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestHTTPEmailPullerGetByIDNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := newTestEmailPuller(srv.URL)
	out, err := p.GetByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("expected nil error on 404, got %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil result on 404, got %+v", out)
	}
}

func TestHTTPEmailPullerValidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := newTestEmailPuller(srv.URL)
	if err := p.Validate(context.Background()); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
