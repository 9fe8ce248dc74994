package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseURL(t *testing.T) {
	t.Setenv("EDGEGATE_URL", "")
	assert.Equal(t, "http://localhost:8080", baseURL())

	t.Setenv("EDGEGATE_URL", "http://gate.lan:9000/")
	assert.Equal(t, "http://gate.lan:9000", baseURL())
}

func TestDoRequestHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_ = json.NewEncoder(w).Encode(map[string]any{"org_id": "acme", "total_eur": 1.5})
	}))
	defer srv.Close()

	t.Setenv("EDGEGATE_URL", srv.URL)
	t.Setenv("EDGEGATE_ADMIN_TOKEN", "tok")
	t.Setenv("EDGEGATE_ORG", "acme")

	out := doPost("/v1/costs", `{"org_id":"acme","cost_eur":1.5}`, "Idempotency-Key", "k-1")
	assert.Equal(t, 1.5, out["total_eur"])
	assert.Equal(t, "Bearer tok", got.Get("Authorization"))
	assert.Equal(t, "acme", got.Get("X-Organization-ID"))
	assert.Equal(t, "k-1", got.Get("Idempotency-Key"))
	assert.Equal(t, "application/json", got.Get("Content-Type"))
}

func TestDoGetOmitsContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Content-Type"))
		assert.Equal(t, "/admin/v1/ledger", r.URL.Path)
		_, _ = w.Write([]byte(`{"totals":{}}`))
	}))
	defer srv.Close()
	t.Setenv("EDGEGATE_URL", srv.URL)

	out := doGet("/admin/v1/ledger")
	require.Contains(t, out, "totals")
}

func TestFormatEvent(t *testing.T) {
	line := formatEvent(`{"type":"budget_rejected","timestamp":"2026-01-02T10:11:12Z","org_id":"acme","estimated_cost_eur":0.75,"reason":"per-request limit"}`)
	assert.Contains(t, line, "budget_rejected")
	assert.Contains(t, line, "org_id=acme")
	assert.Contains(t, line, "estimated_cost=€0.7500")
	assert.Contains(t, line, `reason="per-request limit"`)

	assert.Empty(t, formatEvent(`{"status":"ok"}`))
	assert.Empty(t, formatEvent(`not json`))
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "-", fmtNum(nil))
	assert.Equal(t, "3", fmtNum(float64(3)))
	assert.Equal(t, "2.50", fmtNum(2.5))

	assert.Equal(t, "€0", fmtCost(float64(0)))
	assert.Equal(t, "€0.0123", fmtCost(0.0123))
	assert.Equal(t, "-", fmtCost(nil))

	assert.Equal(t, "250ms", fmtDuration(float64(250)))
	assert.Equal(t, "1.5s", fmtDuration(float64(1500)))

	assert.Equal(t, "-", fmtTime("0001-01-01T00:00:00Z"))
	assert.Equal(t, "garbage", fmtTime("garbage"))

	assert.Equal(t, `"a\"b"`, jsonStr(`a"b`))
}

func TestUsageListsCommands(t *testing.T) {
	var buf bytes.Buffer
	usageTo(&buf)
	for _, cmd := range []string{"route", "cost", "record", "reset", "vault set", "events"} {
		assert.Contains(t, buf.String(), cmd)
	}
}
