package adminapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fntelecomllc/bankreconciler/internal/config"
	"github.com/fntelecomllc/bankreconciler/internal/dispatcher"
	"github.com/fntelecomllc/bankreconciler/internal/metrics"
	"github.com/fntelecomllc/bankreconciler/internal/normalize"
	"github.com/fntelecomllc/bankreconciler/internal/orchestrator"
	"github.com/fntelecomllc/bankreconciler/internal/retriever"
	"github.com/fntelecomllc/bankreconciler/internal/scoring"
	"github.com/fntelecomllc/bankreconciler/internal/store/memory"
	"github.com/prometheus/client_golang/prometheus"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	repo := memory.New()
	aliases := normalize.NewAliasTable(cfg.BankAliases)
	retr := retriever.New(repo, cfg, aliases)
	scorer := scoring.New(cfg)
	disp := dispatcher.New(repo, cfg, dispatcher.DefaultHandlers(repo, dispatcher.SimulatedIntegrations{}, "ops@example.com"))
	orch := orchestrator.New(cfg, repo, aliases, nil, nil, nil, retr, scorer, disp)

	exp, err := metrics.NewExporter(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}

	return New(cfg, repo, orch, exp, nil)
}

func TestTriggerCycleRoute(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/trigger-cycle", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["started"] != true {
		t.Fatalf("expected started=true, got %+v", body)
	}
}

func TestStatusRoute(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRematchEmailRouteNotFoundReturns404(t *testing.T) {
	s := newTestServer(t)
	payload, _ := json.Marshal(rematchRequest{MessageID: "does-not-exist"})
	req := httptest.NewRequest(http.MethodPost, "/rematch-email", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown email, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCleanupOldAuditsRouteDefaultsRetention(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/cleanup-old-audits", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if int(body["retentionDays"].(float64)) != s.cfg.Retention.LogDays {
		t.Fatalf("expected default retention %d, got %v", s.cfg.Retention.LogDays, body["retentionDays"])
	}
}
