package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// DefaultProbeTimeout bounds a single liveness check.
const DefaultProbeTimeout = 5 * time.Second

// Checker reports whether the endpoint at url is alive. Implementations must
// never return an error: any failure or timeout is simply "unhealthy".
type Checker interface {
	Probe(ctx context.Context, url string, timeout time.Duration) bool
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context, url string, timeout time.Duration) bool

func (f CheckerFunc) Probe(ctx context.Context, url string, timeout time.Duration) bool {
	return f(ctx, url, timeout)
}

// Observer receives the outcome and latency of every probe.
type Observer func(url string, healthy bool, latency time.Duration)

// HTTPProber checks liveness with a GET request.
type HTTPProber struct {
	client   *http.Client
	logger   *slog.Logger
	observer Observer
}

// ProberOption configures an HTTPProber.
type ProberOption func(*HTTPProber)

// WithTransport sets the round tripper used for probes (e.g. an instrumented one).
func WithTransport(rt http.RoundTripper) ProberOption {
	return func(p *HTTPProber) {
		p.client.Transport = rt
	}
}

// WithObserver registers a callback invoked after every probe.
func WithObserver(o Observer) ProberOption {
	return func(p *HTTPProber) {
		p.observer = o
	}
}

// WithTracker feeds probe outcomes into a Tracker.
func WithTracker(t *Tracker) ProberOption {
	return func(p *HTTPProber) {
		prev := p.observer
		p.observer = func(url string, healthy bool, latency time.Duration) {
			if prev != nil {
				prev(url, healthy, latency)
			}
			t.Record(url, healthy, latency)
		}
	}
}

// NewHTTPProber creates a prober. A nil logger discards probe logs.
func NewHTTPProber(logger *slog.Logger, opts ...ProberOption) *HTTPProber {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &HTTPProber{
		client: &http.Client{},
		logger: logger,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Probe issues a GET against url, cancelled after timeout. Any 2xx, 401
// (endpoint exists, auth required) or 405 (endpoint exists) counts as healthy.
func (p *HTTPProber) Probe(ctx context.Context, url string, timeout time.Duration) bool {
	if url == "" {
		return false
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	start := time.Now()
	healthy := p.do(ctx, url, timeout)
	if p.observer != nil {
		p.observer(url, healthy, time.Since(start))
	}
	return healthy
}

func (p *HTTPProber) do(ctx context.Context, url string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.logger.Warn("health probe request error",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("health probe failed",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 ||
		resp.StatusCode == http.StatusUnauthorized ||
		resp.StatusCode == http.StatusMethodNotAllowed {
		p.logger.Debug("health probe ok",
			slog.String("url", url),
			slog.Int("status", resp.StatusCode),
		)
		return true
	}
	p.logger.Warn("health probe unhealthy",
		slog.String("url", url),
		slog.Int("status", resp.StatusCode),
	)
	return false
}
