package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/jordanhubbard/edgegate/internal/events"
	"github.com/jordanhubbard/edgegate/internal/health"
	"github.com/jordanhubbard/edgegate/internal/httpapi"
	"github.com/jordanhubbard/edgegate/internal/idempotency"
	"github.com/jordanhubbard/edgegate/internal/ledger"
	"github.com/jordanhubbard/edgegate/internal/logging"
	"github.com/jordanhubbard/edgegate/internal/metrics"
	"github.com/jordanhubbard/edgegate/internal/pricing"
	"github.com/jordanhubbard/edgegate/internal/ratelimit"
	"github.com/jordanhubbard/edgegate/internal/redact"
	"github.com/jordanhubbard/edgegate/internal/routing"
	"github.com/jordanhubbard/edgegate/internal/tracing"
	"github.com/jordanhubbard/edgegate/internal/vault"
)

type Server struct {
	cfg Config

	r *chi.Mux

	engine  *routing.Engine
	ledger  *ledger.Ledger
	vault   *vault.Vault
	bus     *events.Bus
	limiter *ratelimit.Limiter
	idem    *idempotency.Cache
	logger  *slog.Logger

	shutdownTracing func(context.Context) error
}

func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)
	ctx := context.Background()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		SampleRatio: cfg.OTelSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(tracing.Middleware())
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Organization-ID", idempotency.HeaderKey},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	store, err := openLedgerStore(ctx, cfg)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, err
	}
	l := ledger.New(store)
	logger.Info("ledger initialized", slog.String("backend", cfg.LedgerBackend))

	m := metrics.New()
	bus := events.NewBus()

	var v *vault.Vault
	if cfg.VaultEnabled {
		v, err = vault.New()
		if err != nil {
			_ = l.Close()
			_ = shutdownTracing(ctx)
			return nil, err
		}
		if cfg.VaultPassword != "" {
			if err := v.Unlock([]byte(cfg.VaultPassword)); err != nil {
				_ = l.Close()
				_ = shutdownTracing(ctx)
				return nil, fmt.Errorf("unlock vault: %w", err)
			}
			logger.Info("vault unlocked at startup")
		}
	}

	cloud, err := cloudProviders(cfg, logger)
	if err != nil {
		_ = l.Close()
		_ = shutdownTracing(ctx)
		return nil, err
	}

	tracker := health.NewTracker(health.DefaultConfig(), health.WithPublisher(bus))
	prober := health.NewHTTPProber(logger,
		health.WithTransport(tracing.HTTPTransport(nil)),
		health.WithObserver(func(_ string, healthy bool, latency time.Duration) {
			result := "healthy"
			if !healthy {
				result = "unhealthy"
			}
			m.ProbeLatency.WithLabelValues(result).Observe(latency.Seconds())
		}),
		health.WithTracker(tracker),
	)

	eng := routing.NewEngine(routing.EngineConfig{
		Edge:              pricing.EdgeProvider(cfg.EdgeBaseURL),
		Cloud:             cloud,
		DefaultProvider:   cfg.DefaultProvider,
		ProbeTimeout:      cfg.ProbeTimeout,
		EnforceCostLimits: cfg.EnforceCostLimits,
	}, l, credentials(cfg, v), prober)
	eng.SetEventPublisher(bus)
	eng.SetMetrics(m)

	redactor := redact.Default().WithObserver(func(pattern string, n int) {
		m.Redactions.WithLabelValues(pattern).Add(float64(n))
	})

	// The admin token is persisted next to a file-backed ledger only.
	tokenDSN := ""
	if cfg.LedgerBackend == LedgerSQLite {
		tokenDSN = cfg.LedgerDSN
	}
	adminToken, err := httpapi.NewAdminTokenHolder(cfg.AdminToken, tokenDSN, logger)
	if err != nil {
		_ = l.Close()
		_ = shutdownTracing(ctx)
		return nil, err
	}

	limiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst, time.Second, ratelimit.WithCounter(m.RateLimited))
	idem := idempotency.New(cfg.IdempotencyTTL, 10000)

	s := &Server{
		cfg:             cfg,
		r:               r,
		engine:          eng,
		ledger:          l,
		vault:           v,
		bus:             bus,
		limiter:         limiter,
		idem:            idem,
		logger:          logger,
		shutdownTracing: shutdownTracing,
	}

	httpapi.MountRoutes(r, httpapi.Dependencies{
		Engine:      eng,
		Ledger:      l,
		Redactor:    redactor,
		Metrics:     m,
		Health:      tracker,
		EventBus:    bus,
		Limits:      cfg.DefaultLimits,
		AdminToken:  adminToken,
		Vault:       v,
		RateLimiter: limiter,
		Idempotency: idem,
	})

	logger.Info("edgegate ready",
		slog.String("edge", cfg.EdgeBaseURL),
		slog.Int("cloud_providers", len(cloud)),
		slog.Bool("enforce_cost_limits", cfg.EnforceCostLimits),
		slog.Bool("vault", cfg.VaultEnabled),
	)
	return s, nil
}

func (s *Server) Router() http.Handler { return s.r }

// Engine exposes the routing engine for in-process callers.
func (s *Server) Engine() *routing.Engine { return s.engine }

// Reload applies the parts of a new configuration that can change without a
// restart. Only the log level is hot-reloadable; everything else is logged
// and ignored.
func (s *Server) Reload(cfg Config) {
	if cfg.LogLevel != s.cfg.LogLevel {
		logging.SetLevel(cfg.LogLevel)
		s.logger.Info("log level changed", slog.String("level", cfg.LogLevel))
	}
	if cfg.EdgeBaseURL != s.cfg.EdgeBaseURL || cfg.LedgerBackend != s.cfg.LedgerBackend {
		s.logger.Warn("edge and ledger settings require a restart")
	}
	s.cfg.LogLevel = cfg.LogLevel
}

func (s *Server) Close() error {
	s.limiter.Stop()
	s.idem.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(s.ledger.Close(), s.shutdownTracing(ctx))
}

func openLedgerStore(ctx context.Context, cfg Config) (ledger.Store, error) {
	switch cfg.LedgerBackend {
	case LedgerSQLite:
		s, err := ledger.NewSQLite(ctx, cfg.LedgerDSN)
		if err != nil {
			return nil, fmt.Errorf("ledger: %w", err)
		}
		return s, nil
	case LedgerRedis:
		s, err := ledger.NewRedis(ctx, cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, fmt.Errorf("ledger: %w", err)
		}
		return s, nil
	default:
		return ledger.NewMemoryStore(), nil
	}
}

// cloudProviders binds the configured vendors to the two cloud slots.
func cloudProviders(cfg Config, logger *slog.Logger) ([]pricing.Provider, error) {
	slots := []struct {
		id     pricing.ProviderID
		vendor string
	}{
		{pricing.CloudPrimary, cfg.PrimaryVendor},
		{pricing.CloudSecondary, cfg.SecondaryVendor},
	}
	out := make([]pricing.Provider, 0, len(slots))
	for _, s := range slots {
		p, err := pricing.CloudProvider(s.id, s.vendor, cfg.slotBaseURL(s.id, s.vendor))
		if err != nil {
			return nil, err
		}
		logger.Info("registered provider",
			slog.String("provider", string(p.ID)),
			slog.String("vendor", p.Vendor),
			slog.String("base_url", p.BaseURL),
		)
		out = append(out, p)
	}
	return out, nil
}

// credentials resolves slot credentials from the environment first, then
// from the vault.
func credentials(cfg Config, v *vault.Vault) routing.CredentialSource {
	static := routing.StaticCredentials{}
	if key := cfg.vendorKey(cfg.PrimaryVendor); key != "" {
		static[pricing.CloudPrimary] = key
	}
	if key := cfg.vendorKey(cfg.SecondaryVendor); key != "" {
		static[pricing.CloudSecondary] = key
	}
	if v == nil {
		return static
	}
	return routing.ChainCredentials{static, v}
}
