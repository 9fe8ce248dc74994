package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jordanhubbard/edgegate/internal/app"
	"github.com/jordanhubbard/edgegate/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

const shutdownGrace = 15 * time.Second

// runHealthCheck performs an HTTP health check against the given address.
// addr should be in the form ":port" or "host:port".
func runHealthCheck(addr string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://localhost%s/healthz", addr))
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func main() {
	// Built-in health check mode for container HEALTHCHECK.
	if len(os.Args) > 1 && os.Args[1] == "-healthcheck" {
		addr := os.Getenv("EDGEGATE_LISTEN_ADDR")
		if addr == "" {
			addr = ":8080"
		}
		if err := runHealthCheck(addr); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}

	logger := logging.Setup("info")
	cfg, err := app.LoadConfig()
	if err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger = logging.Setup(cfg.LogLevel)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("listen failed", slog.String("addr", cfg.ListenAddr), slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	defer signal.Stop(reload)

	if err := run(ctx, cfg, ln, reload, logger); err != nil {
		logger.Error("edgegate stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// run serves the routing API on ln until ctx is done or the server fails,
// then drains requests and closes the ledger. A value on reload re-reads the
// environment and applies what can change live.
func run(ctx context.Context, cfg app.Config, ln net.Listener, reload <-chan os.Signal, logger *slog.Logger) error {
	logger.Info("starting edgegate",
		slog.String("version", version),
		slog.String("listen_addr", ln.Addr().String()),
		slog.String("edge_url", cfg.EdgeBaseURL),
		slog.String("cloud_primary", cfg.PrimaryVendor),
		slog.String("cloud_secondary", cfg.SecondaryVendor),
		slog.String("default_provider", string(cfg.DefaultProvider)),
		slog.String("ledger_backend", cfg.LedgerBackend),
		slog.Bool("enforce_cost_limits", cfg.EnforceCostLimits),
		slog.Bool("emergency_stop", cfg.DefaultLimits.EmergencyStopEnabled),
	)

	srv, err := app.NewServer(cfg)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("server init: %w", err)
	}

	// No WriteTimeout: /admin/v1/events is a long-lived SSE stream.
	httpServer := &http.Server{
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(ln)
	}()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down, draining in-flight requests")
			break loop
		case err := <-serveErr:
			if !errors.Is(err, http.ErrServerClosed) {
				runErr = fmt.Errorf("serve: %w", err)
			}
			break loop
		case <-reload:
			newCfg, err := app.LoadConfig()
			if err != nil {
				logger.Warn("config reload failed, keeping current config", slog.String("error", err.Error()))
				continue
			}
			srv.Reload(newCfg)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", slog.String("error", err.Error()))
	}
	if err := srv.Close(); err != nil {
		logger.Warn("closing ledger", slog.String("backend", cfg.LedgerBackend), slog.String("error", err.Error()))
		runErr = errors.Join(runErr, err)
	} else {
		logger.Info("ledger closed", slog.String("backend", cfg.LedgerBackend))
	}
	return runErr
}
