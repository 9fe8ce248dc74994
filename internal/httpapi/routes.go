package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jordanhubbard/edgegate/internal/budget"
	"github.com/jordanhubbard/edgegate/internal/events"
	"github.com/jordanhubbard/edgegate/internal/health"
	"github.com/jordanhubbard/edgegate/internal/idempotency"
	"github.com/jordanhubbard/edgegate/internal/ledger"
	"github.com/jordanhubbard/edgegate/internal/metrics"
	"github.com/jordanhubbard/edgegate/internal/ratelimit"
	"github.com/jordanhubbard/edgegate/internal/redact"
	"github.com/jordanhubbard/edgegate/internal/routing"
	"github.com/jordanhubbard/edgegate/internal/vault"
)

const headerOrg = "X-Organization-ID"

type Dependencies struct {
	Engine   *routing.Engine
	Ledger   *ledger.Ledger
	Redactor *redact.Redactor
	Metrics  *metrics.Registry
	Health   *health.Tracker
	EventBus *events.Bus

	// Limits applied when a route request carries none.
	Limits budget.Limits

	AdminToken *AdminTokenHolder

	// Optional; nil disables the feature.
	Vault       *vault.Vault
	RateLimiter *ratelimit.Limiter
	Idempotency *idempotency.Cache
}

func MountRoutes(r chi.Router, d Dependencies) {
	if d.Ledger == nil {
		d.Ledger = d.Engine.Ledger()
	}
	if d.Redactor == nil {
		d.Redactor = redact.Default()
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		body := map[string]any{
			"status": "ok",
			"edge":   d.Engine.Edge().BaseURL,
			"cloud":  len(d.Engine.Cloud()),
			"rules":  d.Engine.Rules(),
		}
		if d.Vault != nil {
			body["vault_locked"] = d.Vault.IsLocked()
		}
		writeJSON(w, http.StatusOK, body)
	})

	r.Route("/v1", func(r chi.Router) {
		if d.RateLimiter != nil {
			r.Use(d.RateLimiter.Middleware)
		}
		r.Post("/route", RouteHandler(d))
		r.Post("/redact", RedactHandler(d))
		r.Post("/rehydrate", RehydrateHandler(d))
		r.Get("/costs/{org}", CostGetHandler(d))
		r.Group(func(r chi.Router) {
			if d.Idempotency != nil {
				r.Use(idempotency.Middleware(d.Idempotency, idempotency.WithScope(costRecordScope)))
			}
			r.Post("/costs", CostRecordHandler(d))
		})
	})

	r.Route("/admin/v1", func(r chi.Router) {
		if d.AdminToken != nil {
			r.Use(d.AdminToken.Middleware)
			r.Post("/admin-token/rotate", AdminTokenRotateHandler(d))
		}
		r.Get("/ledger", LedgerSnapshotHandler(d))
		r.Post("/ledger/reset", LedgerResetHandler(d))
		r.Get("/health", HealthStatsHandler(d))
		if d.Vault != nil {
			r.Get("/vault", VaultStatusHandler(d))
			r.Post("/vault/unlock", VaultUnlockHandler(d))
			r.Post("/vault/lock", VaultLockHandler(d))
			r.Put("/vault/credentials/{provider}", VaultCredentialHandler(d))
			r.Delete("/vault/credentials/{provider}", VaultCredentialDeleteHandler(d))
		}
		if d.EventBus != nil {
			r.Get("/events", SSEHandler(d.EventBus))
		}
	})

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}
}

// jsonError writes a JSON-encoded error response with the given status code.
// Response body format: {"error": "<msg>"}
func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
