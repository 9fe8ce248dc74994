package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/edgegate/internal/app"
	"github.com/jordanhubbard/edgegate/internal/logging"
)

// portOf returns ":<port>" for a test server so runHealthCheck reaches it via
// http://localhost:<port>/healthz.
func portOf(url string) string {
	hostport := strings.TrimPrefix(url, "http://")
	return hostport[strings.LastIndex(hostport, ":"):]
}

func TestRunHealthCheck_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "vault_locked": false})
	}))
	defer srv.Close()

	require.NoError(t, runHealthCheck(portOf(srv.URL)))
}

func TestRunHealthCheck_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := runHealthCheck(portOf(srv.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check returned status 503")
}

func TestRunHealthCheck_ConnectionError(t *testing.T) {
	err := runHealthCheck(":19")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check request failed")
}

func TestVersionIsSet(t *testing.T) {
	assert.Equal(t, "dev", version)
}

func TestRunServesReloadsAndClosesLedger(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("EDGEGATE_LOG_LEVEL", "info")
	t.Setenv("EDGEGATE_EDGE_URL", "http://127.0.0.1:1")
	t.Setenv("EDGEGATE_LEDGER_BACKEND", "sqlite")
	t.Setenv("EDGEGATE_LEDGER_DSN", "file:"+filepath.Join(dir, "ledger.sqlite"))
	t.Setenv("EDGEGATE_ADMIN_TOKEN", "admin-secret")
	t.Setenv("EDGEGATE_VAULT_ENABLED", "false")
	cfg, err := app.LoadConfig()
	require.NoError(t, err)
	t.Cleanup(func() { logging.SetLevel("info") })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reload := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, ln, reload, logger) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	t.Setenv("EDGEGATE_LOG_LEVEL", "debug")
	reload <- syscall.SIGHUP
	require.Eventually(t, func() bool { return logging.Level() == slog.LevelDebug }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}

	out := buf.String()
	assert.Contains(t, out, `"msg":"starting edgegate"`)
	assert.Contains(t, out, `"ledger_backend":"sqlite"`)
	assert.Contains(t, out, `"cloud_primary":"openai"`)
	assert.Contains(t, out, `"enforce_cost_limits":true`)
	assert.Contains(t, out, `"msg":"ledger closed"`)

	_, err = http.Get(url)
	assert.Error(t, err, "listener should be closed after shutdown")
}

func TestRunInvalidServerConfig(t *testing.T) {
	t.Setenv("EDGEGATE_LEDGER_BACKEND", "redis")
	t.Setenv("EDGEGATE_REDIS_URL", "redis://127.0.0.1:1")
	cfg, err := app.LoadConfig()
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	err = run(context.Background(), cfg, ln, nil, slog.New(slog.DiscardHandler))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server init")
}
