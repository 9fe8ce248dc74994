package idempotency

import (
	"bytes"
	"net/http"
)

const (
	HeaderKey    = "Idempotency-Key"
	HeaderReplay = "Idempotency-Replay"
	headerOrg    = "X-Organization-ID"
)

// ScopeFunc returns the tenant a request acts on. Keys from different scopes
// never collide.
type ScopeFunc func(r *http.Request) string

// ByOrganizationHeader scopes keys by X-Organization-ID.
func ByOrganizationHeader(r *http.Request) string {
	return r.Header.Get(headerOrg)
}

// Option configures Middleware.
type Option func(*options)

type options struct {
	scope ScopeFunc
}

// WithScope replaces the default ByOrganizationHeader scope. Use it when the
// handler credits a tenant named elsewhere, such as in the request body.
func WithScope(fn ScopeFunc) Option {
	return func(o *options) { o.scope = fn }
}

// Middleware replays the cached response for a repeated Idempotency-Key.
// Keys are scoped per tenant (X-Organization-ID unless WithScope is given).
// Only 2xx responses are cached: a rejected or failed request can be retried
// with the same key. Requests without the header pass through.
func Middleware(cache *Cache, opts ...Option) func(http.Handler) http.Handler {
	o := options{scope: ByOrganizationHeader}
	for _, opt := range opts {
		opt(&o)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			key = o.scope(r) + "\x00" + r.Method + " " + r.URL.Path + "\x00" + key

			if e, ok := cache.get(key); ok {
				for k, v := range e.header {
					w.Header().Set(k, v)
				}
				w.Header().Set(HeaderReplay, "true")
				w.WriteHeader(e.statusCode)
				_, _ = w.Write(e.body)
				return
			}

			rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.statusCode < 200 || rec.statusCode >= 300 {
				return
			}
			header := make(map[string]string)
			for k, v := range rec.Header() {
				if len(v) > 0 {
					header[k] = v[0]
				}
			}
			cache.set(key, &entry{body: rec.body.Bytes(), statusCode: rec.statusCode, header: header})
		})
	}
}

// responseRecorder captures status and body while writing through.
type responseRecorder struct {
	http.ResponseWriter
	body       bytes.Buffer
	statusCode int
	written    bool
}

func (r *responseRecorder) WriteHeader(code int) {
	if !r.written {
		r.statusCode = code
		r.written = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.written = true
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
