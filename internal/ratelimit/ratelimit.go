// Package ratelimit throttles the routing API per organization with an
// in-memory token bucket.
package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// KeyFunc extracts the bucket key for a request.
type KeyFunc func(r *http.Request) string

// ByOrganization keys on X-Organization-ID and falls back to the client IP
// for anonymous callers.
func ByOrganization(r *http.Request) string {
	if org := r.Header.Get("X-Organization-ID"); org != "" {
		return "org:" + org
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Limiter is a keyed token bucket.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	rate     int           // tokens added per interval
	burst    int           // bucket capacity
	interval time.Duration // refill interval
	maxKeys  int
	key      KeyFunc
	counter  *prometheus.CounterVec // optional, labelled by key kind
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	tokens   int
	lastFill time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithCounter increments c{kind} on every rejected request, where kind is
// "org" or "ip".
func WithCounter(c *prometheus.CounterVec) Option {
	return func(l *Limiter) { l.counter = c }
}

// WithKeyFunc overrides ByOrganization.
func WithKeyFunc(fn KeyFunc) Option {
	return func(l *Limiter) { l.key = fn }
}

// New creates a limiter allowing rate requests per interval with bursts up
// to burst.
func New(rate, burst int, interval time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		buckets:  make(map[string]*bucket),
		rate:     rate,
		burst:    burst,
		interval: interval,
		maxKeys:  100000,
		key:      ByOrganization,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	go l.cleanup()
	return l
}

// Middleware rejects requests over the limit with 429 and a JSON body.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := l.key(r)
		if !l.allow(key) {
			if l.counter != nil {
				l.counter.WithLabelValues(kindOf(key)).Inc()
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(max(1, int(l.interval/time.Second))))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limit exceeded","type":"rate_limited"}}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func kindOf(key string) string {
	if len(key) > 4 && key[:4] == "org:" {
		return "org"
	}
	return "ip"
}

func (l *Limiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.maxKeys {
			l.evictOldest()
		}
		b = &bucket{tokens: l.burst, lastFill: now}
		l.buckets[key] = b
	}

	if refill := int(now.Sub(b.lastFill)/l.interval) * l.rate; refill > 0 {
		b.tokens = min(b.tokens+refill, l.burst)
		b.lastFill = now
	}

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// evictOldest drops the least recently refilled bucket. Caller holds l.mu.
func (l *Limiter) evictOldest() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, b := range l.buckets {
		if first || b.lastFill.Before(oldest) {
			oldestKey, oldest, first = k, b.lastFill, false
		}
	}
	if !first {
		delete(l.buckets, oldestKey)
	}
}

// Stop terminates the cleanup goroutine. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			cutoff := l.now().Add(-10 * time.Minute)
			for k, b := range l.buckets {
				if b.lastFill.Before(cutoff) {
					delete(l.buckets, k)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}
