package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	CORSAllowedOrigins []string
	RedisURL           string
	MaxBodyBytes       int64
	RateLimit          string

	PricingConfigFile  string
	ReferralMasterFile string
	EnhancedLegacy     bool

	Referral ReferralConfig
	Billing  BillingConfig
	Admin    AdminConfig
	Obs      ObsConfig
}

// ReferralConfig configures the referral-source backend and its cache.
type ReferralConfig struct {
	BaseURL             string
	Token               string
	CacheTTL            time.Duration
	RequestTimeout      time.Duration
	RetryMaxAttempts    int
	RetryBase           time.Duration
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration
}

// BillingConfig configures bill quotation.
type BillingConfig struct {
	GSTBps           int
	CollectionCharge int64
	Currency         string
}

// AdminConfig configures admin token verification.
type AdminConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
}

// ObsConfig configures logging, metrics and tracing.
type ObsConfig struct {
	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	EnablePrometheus bool
	EnableTracing    bool
	OTLPEndpoint     string
	OTLPInsecure     bool
	SamplingRatio    float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	k, err := loadEnv()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		MaxBodyBytes:       int64(parseInt(k.String("HTTP_MAX_BODY_BYTES"), 1<<20)),
		RateLimit:          valueOrDefault(k.String("RATE_LIMIT"), "300-M"),

		PricingConfigFile:  strings.TrimSpace(k.String("PRICING_CONFIG_FILE")),
		ReferralMasterFile: strings.TrimSpace(k.String("REFERRAL_MASTER_FILE")),
		EnhancedLegacy:     parseBool(k.String("PRICING_ENHANCED_LEGACY")),

		Referral: ReferralConfig{
			BaseURL:             strings.TrimSpace(k.String("REFERRAL_API_BASE_URL")),
			Token:               strings.TrimSpace(k.String("REFERRAL_API_TOKEN")),
			CacheTTL:            parseDuration(k.String("REFERRAL_CACHE_TTL"), "5m"),
			RequestTimeout:      parseDuration(k.String("REFERRAL_REQUEST_TIMEOUT"), "5s"),
			RetryMaxAttempts:    parseInt(k.String("REFERRAL_RETRY_MAX_ATTEMPTS"), 2),
			RetryBase:           parseDuration(k.String("REFERRAL_RETRY_BASE"), "200ms"),
			BreakerMinRequests:  parseInt(k.String("REFERRAL_BREAKER_MIN_REQUESTS"), 5),
			BreakerFailureRatio: parseFloat(k.String("REFERRAL_BREAKER_FAILURE_RATIO"), 0.5),
			BreakerOpenFor:      parseDuration(k.String("REFERRAL_BREAKER_OPEN_FOR"), "30s"),
		},
		Billing: billingFrom(k),
		Admin: AdminConfig{
			JWTSecret: strings.TrimSpace(k.String("ADMIN_JWT_SECRET")),
			Issuer:    strings.TrimSpace(k.String("ADMIN_JWT_ISSUER")),
			Audience:  strings.TrimSpace(k.String("ADMIN_JWT_AUDIENCE")),
		},
		Obs: ObsConfig{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "lab"),
			EnablePrometheus: parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
			EnableTracing:    parseBoolDefault(k.String("OBS_ENABLE_TRACING"), false),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			OTLPInsecure:     parseBool(k.String("OBS_OTLP_INSECURE")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
		},
	}

	if err := cfg.Billing.validate(); err != nil {
		return nil, err
	}
	if cfg.IsProduction() && cfg.Admin.JWTSecret == "" {
		return nil, errors.New("ADMIN_JWT_SECRET is required in production")
	}

	return cfg, nil
}

// LoadBilling reads only the billing settings. Offline tools use it so that
// server-only requirements such as the admin secret do not apply.
func LoadBilling() (BillingConfig, error) {
	k, err := loadEnv()
	if err != nil {
		return BillingConfig{}, err
	}
	b := billingFrom(k)
	if err := b.validate(); err != nil {
		return BillingConfig{}, err
	}
	return b, nil
}

func loadEnv() (*koanf.Koanf, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	return k, nil
}

func billingFrom(k *koanf.Koanf) BillingConfig {
	return BillingConfig{
		GSTBps:           parseInt(k.String("BILLING_GST_BPS"), 1800),
		CollectionCharge: int64(parseInt(k.String("BILLING_COLLECTION_CHARGE"), 0)),
		Currency:         valueOrDefault(k.String("CURRENCY_CODE"), "INR"),
	}
}

func (b BillingConfig) validate() error {
	if b.GSTBps < 0 || b.GSTBps > 10000 {
		return fmt.Errorf("BILLING_GST_BPS must be within 0..10000, got %d", b.GSTBps)
	}
	if b.CollectionCharge < 0 {
		return errors.New("BILLING_COLLECTION_CHARGE must not be negative")
	}
	return nil
}

// IsProduction reports whether APP_ENV selects production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.AppEnv), "production")
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return parsed
	}
	return fallback
}

func parseFloat(value string, fallback float64) float64 {
	if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
		return parsed
	}
	return fallback
}

func parseBool(value string) bool {
	return parseBoolDefault(value, false)
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
