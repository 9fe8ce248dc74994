package app

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/jordanhubbard/edgegate/internal/budget"
	"github.com/jordanhubbard/edgegate/internal/logging"
	"github.com/jordanhubbard/edgegate/internal/pricing"
)

func newTestConfig() Config {
	return Config{
		ListenAddr:      ":0",
		LogLevel:        "error",
		EdgeBaseURL:     "http://127.0.0.1:1",
		ProbeTimeout:    200 * time.Millisecond,
		PrimaryVendor:   "openai",
		SecondaryVendor: "anthropic",
		DefaultProvider: pricing.CloudPrimary,
		DefaultLimits: budget.Limits{
			PerRequestEUR:             1,
			MonthlyEUR:                100,
			EmergencyStopEnabled:      true,
			EmergencyStopThresholdEUR: 150,
		},
		EnforceCostLimits: true,
		LedgerBackend:     LedgerMemory,
		LedgerDSN:         "file::memory:",
		RedisURL:          "redis://localhost:6379/0",
		OTelSampleRatio:   1,
		AdminToken:        "admin-secret",
		RateLimitRPS:      100,
		RateLimitBurst:    100,
		IdempotencyTTL:    time.Minute,
	}
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func route(t *testing.T, h http.Handler, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/route", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var out map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &out)
	return rr.Code, out
}

func TestNewServer(t *testing.T) {
	s := newTestServer(t, newTestConfig())
	if s.Router() == nil {
		t.Fatal("Router() returned nil")
	}
	if got := s.Engine().Edge().BaseURL; got != "http://127.0.0.1:1" {
		t.Errorf("edge base URL = %q", got)
	}
	if n := len(s.Engine().Cloud()); n != 2 {
		t.Errorf("cloud providers = %d, want 2", n)
	}
}

func TestNewServerUnknownVendor(t *testing.T) {
	cfg := newTestConfig()
	cfg.PrimaryVendor = "azure-openai" // requires an endpoint
	if _, err := NewServer(cfg); err == nil {
		t.Fatal("expected error for azure-openai without endpoint")
	}
}

func TestServerHealthz(t *testing.T) {
	s := newTestServer(t, newTestConfig())

	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}
}

func TestServerRoutesToEdgeAndProbes(t *testing.T) {
	edge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("probe path = %q, want /health", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer edge.Close()

	cfg := newTestConfig()
	cfg.EdgeBaseURL = edge.URL
	s := newTestServer(t, cfg)

	code, body := route(t, s.Router(), `{"org_id":"acme","tokens_in":100}`)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", code, body)
	}
	dec := body["decision"].(map[string]any)
	if dec["provider"] != "edge" || dec["rule"] != "health" {
		t.Errorf("decision = %v", dec)
	}

	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rr.Body.String(), `edgegate_health_probe_seconds_count{result="healthy"} 1`) {
		t.Errorf("probe latency not observed:\n%s", rr.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/health", nil)
	req.Header.Set("Authorization", "Bearer admin-secret")
	rr = httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	if !strings.Contains(rr.Body.String(), `"state":"healthy"`) {
		t.Errorf("tracker did not record probe: %s", rr.Body.String())
	}
}

func TestServerEnvCredentialFallback(t *testing.T) {
	cfg := newTestConfig()
	cfg.AnthropicKey = "sk-ant"
	s := newTestServer(t, cfg)

	code, body := route(t, s.Router(), `{"org_id":"acme","content":"mail me at a@b.io"}`)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", code, body)
	}
	dec := body["decision"].(map[string]any)
	if dec["provider"] != "cloud-secondary" {
		t.Fatalf("provider = %v, want cloud-secondary (only slot with a key)", dec["provider"])
	}
	headers := dec["headers"].(map[string]any)
	if headers["x-api-key"] != "sk-ant" {
		t.Errorf("headers = %v", headers)
	}
	if _, ok := body["redaction"]; !ok {
		t.Error("cloud decision with content should carry a redaction")
	}

	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rr.Body.String(), `edgegate_redactions_total{pattern="EMAIL"} 1`) {
		t.Errorf("redaction not counted:\n%s", rr.Body.String())
	}
}

func TestServerVaultUnlockedAtStartup(t *testing.T) {
	cfg := newTestConfig()
	cfg.VaultEnabled = true
	cfg.VaultPassword = "correct horse battery"
	s := newTestServer(t, cfg)

	if s.vault == nil || s.vault.IsLocked() {
		t.Fatal("vault should be unlocked")
	}
	if err := s.vault.SetCredential(pricing.CloudPrimary, "sk-vault"); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}
	code, body := route(t, s.Router(), `{"org_id":"acme"}`)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	dec := body["decision"].(map[string]any)
	if dec["provider"] != "cloud-primary" {
		t.Errorf("provider = %v, want cloud-primary via vault credential", dec["provider"])
	}
}

func TestServerVaultBadPassword(t *testing.T) {
	cfg := newTestConfig()
	cfg.VaultEnabled = true
	cfg.VaultPassword = "short"
	if _, err := NewServer(cfg); err == nil {
		t.Fatal("expected error for short vault password")
	}
}

func TestServerSQLiteLedger(t *testing.T) {
	cfg := newTestConfig()
	cfg.LedgerBackend = LedgerSQLite
	cfg.LedgerDSN = "file::memory:"
	s := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/v1/costs", strings.NewReader(`{"org_id":"acme","cost_eur":1.25}`))
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"total_eur":1.25`) {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}
}

func TestServerRedisLedger(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := newTestConfig()
	cfg.LedgerBackend = LedgerRedis
	cfg.RedisURL = "redis://" + mr.Addr()
	cfg.RedisPrefix = "test:ledger:"
	s := newTestServer(t, cfg)

	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/v1/costs", strings.NewReader(`{"org_id":"acme","cost_eur":0.5}`))
		rr := httptest.NewRecorder()
		s.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
	}
	if !mr.Exists("test:ledger:acme") {
		t.Fatalf("expected key under configured prefix, have %v", mr.Keys())
	}
}

func TestServerRedisUnreachable(t *testing.T) {
	cfg := newTestConfig()
	cfg.LedgerBackend = LedgerRedis
	cfg.RedisURL = "redis://127.0.0.1:1"
	if _, err := NewServer(cfg); err == nil {
		t.Fatal("expected error for unreachable redis")
	}
}

func TestServerRateLimit(t *testing.T) {
	cfg := newTestConfig()
	cfg.RateLimitRPS = 1
	cfg.RateLimitBurst = 1
	s := newTestServer(t, cfg)

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/v1/route", strings.NewReader(`{"org_id":"acme"}`))
		req.Header.Set("X-Organization-ID", "acme")
		rr := httptest.NewRecorder()
		s.Router().ServeHTTP(rr, req)
		return rr.Code
	}
	if code := send(); code != http.StatusOK {
		t.Fatalf("first request: %d", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d, want 429", code)
	}
}

func TestServerAdminAuth(t *testing.T) {
	s := newTestServer(t, newTestConfig())

	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/v1/ledger", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/ledger", nil)
	req.Header.Set("Authorization", "Bearer admin-secret")
	rr = httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestServerClose(t *testing.T) {
	s, err := NewServer(newTestConfig())
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestServerReload(t *testing.T) {
	s := newTestServer(t, newTestConfig())
	t.Cleanup(func() { logging.SetLevel("info") })

	cfg := newTestConfig()
	cfg.LogLevel = "debug"
	s.Reload(cfg)
	if logging.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", logging.Level())
	}
}
