package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(map[string]string{
		"APP_ENV":               "",
		"PORT":                  "",
		"REFERRAL_CACHE_TTL":    "",
		"REFERRAL_API_BASE_URL": "",
		"BILLING_GST_BPS":       "",
		"OBS_ENABLE_PROMETHEUS": "",
		"RATE_LIMIT":            "",
	})
	require.NoError(t, err)

	require.Equal(t, "development", cfg.AppEnv)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, 5*time.Minute, cfg.Referral.CacheTTL)
	require.Equal(t, 5*time.Second, cfg.Referral.RequestTimeout)
	require.Empty(t, cfg.Referral.BaseURL)
	require.Equal(t, 1800, cfg.Billing.GSTBps)
	require.Equal(t, "INR", cfg.Billing.Currency)
	require.True(t, cfg.Obs.EnablePrometheus)
	require.Equal(t, "300-M", cfg.RateLimit)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadForTests(map[string]string{
		"PORT":                           ":9090",
		"CORS_ALLOWED_ORIGINS":           "https://lab.example, https://admin.lab.example ,",
		"REFERRAL_API_BASE_URL":          "https://backend.lab.example/api",
		"REFERRAL_CACHE_TTL":             "90s",
		"REFERRAL_REQUEST_TIMEOUT":       "not-a-duration",
		"REFERRAL_BREAKER_FAILURE_RATIO": "0.25",
		"PRICING_ENHANCED_LEGACY":        "yes",
		"OBS_ENABLE_PROMETHEUS":          "off",
		"BILLING_GST_BPS":                "0",
		"OBS_OTLP_INSECURE":              "true",
	})
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.HTTPAddr())
	require.Equal(t, []string{"https://lab.example", "https://admin.lab.example"}, cfg.CORSAllowedOrigins)
	require.Equal(t, 90*time.Second, cfg.Referral.CacheTTL)
	require.Equal(t, 5*time.Second, cfg.Referral.RequestTimeout)
	require.Equal(t, 0.25, cfg.Referral.BreakerFailureRatio)
	require.True(t, cfg.EnhancedLegacy)
	require.False(t, cfg.Obs.EnablePrometheus)
	require.Zero(t, cfg.Billing.GSTBps)
	require.True(t, cfg.Obs.OTLPInsecure)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := LoadForTests(map[string]string{"BILLING_GST_BPS": "12000"})
	require.ErrorContains(t, err, "BILLING_GST_BPS")

	_, err = LoadForTests(map[string]string{"APP_ENV": "production", "ADMIN_JWT_SECRET": ""})
	require.ErrorContains(t, err, "ADMIN_JWT_SECRET")

	cfg, err := LoadForTests(map[string]string{"APP_ENV": "Production", "ADMIN_JWT_SECRET": "s3cret"})
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
}

func TestLoadBillingIgnoresServerRequirements(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("ADMIN_JWT_SECRET", "")
	t.Setenv("BILLING_GST_BPS", "500")
	t.Setenv("BILLING_COLLECTION_CHARGE", "2500")

	b, err := LoadBilling()
	require.NoError(t, err)
	require.Equal(t, BillingConfig{GSTBps: 500, CollectionCharge: 2500, Currency: "INR"}, b)

	t.Setenv("BILLING_COLLECTION_CHARGE", "-1")
	_, err = LoadBilling()
	require.ErrorContains(t, err, "BILLING_COLLECTION_CHARGE")
}
