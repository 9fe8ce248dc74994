package app

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/jordanhubbard/edgegate/internal/budget"
	"github.com/jordanhubbard/edgegate/internal/pricing"
)

// Ledger backends.
const (
	LedgerMemory = "memory"
	LedgerSQLite = "sqlite"
	LedgerRedis  = "redis"
)

type Config struct {
	ListenAddr string
	LogLevel   string

	// Edge endpoint and its liveness probe.
	EdgeBaseURL  string
	ProbeTimeout time.Duration

	// Cloud slots: each binds a vendor profile; credentials come from the
	// vendor's API key variable or the vault.
	PrimaryVendor    string
	SecondaryVendor  string
	DefaultProvider  pricing.ProviderID
	OpenAIKey        string
	AnthropicKey     string
	GeminiKey        string
	AzureOpenAIKey   string
	AzureOpenAIURL   string
	PrimaryBaseURL   string
	SecondaryBaseURL string

	// Cost governance.
	EnforceCostLimits bool
	DefaultLimits     budget.Limits

	// Ledger storage.
	LedgerBackend string
	LedgerDSN     string
	RedisURL      string
	RedisPrefix   string

	// Tracing.
	OTelEnabled     bool
	OTelEndpoint    string
	OTelSampleRatio float64

	// Security & hardening.
	AdminToken     string   // required for /admin/v1 access
	CORSOrigins    []string // allowed CORS origins; empty = ["*"]
	RateLimitRPS   int      // requests per second per organization
	RateLimitBurst int
	IdempotencyTTL time.Duration

	VaultEnabled  bool
	VaultPassword string // unlocks the vault at startup when set
}

// LoadConfig reads EDGEGATE_* variables once. A .env file in the working
// directory is loaded first; real environment variables take precedence.
func LoadConfig() (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Config{
		ListenAddr: getEnv("EDGEGATE_LISTEN_ADDR", ":8080"),
		LogLevel:   getEnv("EDGEGATE_LOG_LEVEL", "info"),

		EdgeBaseURL:  getEnv("EDGEGATE_EDGE_URL", "http://localhost:8000"),
		ProbeTimeout: getEnvDuration("EDGEGATE_PROBE_TIMEOUT", 5*time.Second),

		PrimaryVendor:    getEnv("EDGEGATE_CLOUD_PRIMARY_VENDOR", "openai"),
		SecondaryVendor:  getEnv("EDGEGATE_CLOUD_SECONDARY_VENDOR", "anthropic"),
		DefaultProvider:  pricing.ProviderID(getEnv("EDGEGATE_DEFAULT_PROVIDER", string(pricing.CloudPrimary))),
		OpenAIKey:        getEnv("EDGEGATE_OPENAI_API_KEY", ""),
		AnthropicKey:     getEnv("EDGEGATE_ANTHROPIC_API_KEY", ""),
		GeminiKey:        getEnv("EDGEGATE_GEMINI_API_KEY", ""),
		AzureOpenAIKey:   getEnv("EDGEGATE_AZURE_OPENAI_API_KEY", ""),
		AzureOpenAIURL:   getEnv("EDGEGATE_AZURE_OPENAI_ENDPOINT", ""),
		PrimaryBaseURL:   getEnv("EDGEGATE_CLOUD_PRIMARY_URL", ""),
		SecondaryBaseURL: getEnv("EDGEGATE_CLOUD_SECONDARY_URL", ""),

		EnforceCostLimits: getEnvBool("EDGEGATE_ENFORCE_COST_LIMITS", true),
		DefaultLimits: budget.Limits{
			PerRequestEUR:             getEnvFloat("EDGEGATE_LIMIT_PER_REQUEST_EUR", 0.50),
			DailyEUR:                  getEnvFloat("EDGEGATE_LIMIT_DAILY_EUR", 10),
			MonthlyEUR:                getEnvFloat("EDGEGATE_LIMIT_MONTHLY_EUR", 100),
			EmergencyStopEnabled:      getEnvBool("EDGEGATE_EMERGENCY_STOP_ENABLED", true),
			EmergencyStopThresholdEUR: getEnvFloat("EDGEGATE_EMERGENCY_STOP_EUR", 150),
		},

		LedgerBackend: getEnv("EDGEGATE_LEDGER_BACKEND", LedgerMemory),
		LedgerDSN:     getEnv("EDGEGATE_LEDGER_DSN", "file:/data/edgegate.sqlite"),
		RedisURL:      getEnv("EDGEGATE_REDIS_URL", "redis://localhost:6379/0"),
		RedisPrefix:   getEnv("EDGEGATE_REDIS_PREFIX", "edgegate:ledger:"),

		OTelEnabled:     getEnvBool("EDGEGATE_OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("EDGEGATE_OTEL_ENDPOINT", "localhost:4318"),
		OTelSampleRatio: getEnvFloat("EDGEGATE_OTEL_SAMPLE_RATIO", 1),

		AdminToken:     getEnv("EDGEGATE_ADMIN_TOKEN", ""),
		CORSOrigins:    getEnvStringSlice("EDGEGATE_CORS_ORIGINS", nil),
		RateLimitRPS:   getEnvInt("EDGEGATE_RATE_LIMIT_RPS", 50),
		RateLimitBurst: getEnvInt("EDGEGATE_RATE_LIMIT_BURST", 100),
		IdempotencyTTL: getEnvDuration("EDGEGATE_IDEMPOTENCY_TTL", 24*time.Hour),

		VaultEnabled:  getEnvBool("EDGEGATE_VAULT_ENABLED", false),
		VaultPassword: getEnv("EDGEGATE_VAULT_PASSWORD", ""),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("EDGEGATE_PROBE_TIMEOUT must be > 0, got %s", c.ProbeTimeout)
	}
	vendors := pricing.Vendors()
	if !slices.Contains(vendors, c.PrimaryVendor) {
		return fmt.Errorf("EDGEGATE_CLOUD_PRIMARY_VENDOR must be one of %v, got %q", vendors, c.PrimaryVendor)
	}
	if !slices.Contains(vendors, c.SecondaryVendor) {
		return fmt.Errorf("EDGEGATE_CLOUD_SECONDARY_VENDOR must be one of %v, got %q", vendors, c.SecondaryVendor)
	}
	if c.DefaultProvider != pricing.CloudPrimary && c.DefaultProvider != pricing.CloudSecondary {
		return fmt.Errorf("EDGEGATE_DEFAULT_PROVIDER must be cloud-primary or cloud-secondary, got %q", c.DefaultProvider)
	}
	l := c.DefaultLimits
	for name, v := range map[string]float64{
		"EDGEGATE_LIMIT_PER_REQUEST_EUR": l.PerRequestEUR,
		"EDGEGATE_LIMIT_DAILY_EUR":       l.DailyEUR,
		"EDGEGATE_LIMIT_MONTHLY_EUR":     l.MonthlyEUR,
		"EDGEGATE_EMERGENCY_STOP_EUR":    l.EmergencyStopThresholdEUR,
	} {
		if v < 0 {
			return fmt.Errorf("%s must be >= 0, got %f", name, v)
		}
	}
	switch c.LedgerBackend {
	case LedgerMemory:
	case LedgerSQLite:
		if c.LedgerDSN == "" {
			return fmt.Errorf("EDGEGATE_LEDGER_DSN is required for the sqlite ledger")
		}
	case LedgerRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("EDGEGATE_REDIS_URL is required for the redis ledger")
		}
	default:
		return fmt.Errorf("EDGEGATE_LEDGER_BACKEND must be memory, sqlite or redis, got %q", c.LedgerBackend)
	}
	if c.OTelSampleRatio < 0 || c.OTelSampleRatio > 1 {
		return fmt.Errorf("EDGEGATE_OTEL_SAMPLE_RATIO must be in [0,1], got %f", c.OTelSampleRatio)
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("EDGEGATE_RATE_LIMIT_RPS must be > 0, got %d", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("EDGEGATE_RATE_LIMIT_BURST must be > 0, got %d", c.RateLimitBurst)
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("EDGEGATE_IDEMPOTENCY_TTL must be > 0, got %s", c.IdempotencyTTL)
	}
	return nil
}

// vendorKey returns the API key configured for a vendor.
func (c Config) vendorKey(vendor string) string {
	switch vendor {
	case "openai":
		return c.OpenAIKey
	case "anthropic":
		return c.AnthropicKey
	case "gemini":
		return c.GeminiKey
	case "azure-openai":
		return c.AzureOpenAIKey
	}
	return ""
}

// slotBaseURL returns the override URL for a slot, if any.
func (c Config) slotBaseURL(id pricing.ProviderID, vendor string) string {
	url := c.PrimaryBaseURL
	if id == pricing.CloudSecondary {
		url = c.SecondaryBaseURL
	}
	if url == "" && vendor == "azure-openai" {
		url = c.AzureOpenAIURL
	}
	return url
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}
