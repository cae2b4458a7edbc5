package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-lab/internal/auth"
	"github.com/noah-isme/backend-lab/internal/billing"
	"github.com/noah-isme/backend-lab/internal/common"
	"github.com/noah-isme/backend-lab/internal/config"
	"github.com/noah-isme/backend-lab/internal/health"
	"github.com/noah-isme/backend-lab/internal/lock"
	"github.com/noah-isme/backend-lab/internal/obs"
	"github.com/noah-isme/backend-lab/internal/pricing"
	"github.com/noah-isme/backend-lab/internal/ratelimit"
	"github.com/noah-isme/backend-lab/internal/referral"
	"github.com/noah-isme/backend-lab/internal/resilience"
	"github.com/noah-isme/backend-lab/internal/security"
)

const referralTarget = "referral_backend"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsEnabled := cfg.Obs.EnablePrometheus
	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)
	resilience.MustRegisterMetrics(cfg.Obs.MetricsNamespace, nil)

	tracingEnabled := cfg.Obs.EnableTracing
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "lab-pricing",
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Insecure:      cfg.Obs.OTLPInsecure,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	store, err := pricing.LoadStore(cfg.PricingConfigFile, cfg.ReferralMasterFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("load pricing configuration")
	}
	report := pricing.ValidateStore(store)
	for _, w := range report.Warnings {
		logger.Warn().Str("warning", w).Msg("pricing_config_warning")
	}
	if !report.IsValid {
		logger.Fatal().Strs("errors", report.Errors).Msg("pricing configuration invalid")
	}
	engine := pricing.NewEngine(store,
		pricing.WithLogger(logger),
		pricing.WithObserver(func(s pricing.Source) { obs.ObservePricingSource(string(s)) }),
	)

	redisClient := connectRedis(cfg, metricsEnabled, logger)
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
	}

	var (
		backend referral.Backend
		breaker *resilience.Breaker
	)
	if cfg.Referral.BaseURL != "" {
		breaker = resilience.NewBreaker(cfg.Referral.BreakerMinRequests, cfg.Referral.BreakerFailureRatio, cfg.Referral.BreakerOpenFor).
			WithTarget(referralTarget).
			WithLogger(logger)
		backend = &referral.APIClient{
			BaseURL: cfg.Referral.BaseURL,
			Token:   cfg.Referral.Token,
			HTTP: resilience.HTTPClient{
				Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
				Breaker:     breaker,
				Target:      referralTarget,
				BaseBackoff: cfg.Referral.RetryBase,
				MaxAttempts: cfg.Referral.RetryMaxAttempts,
				Jitter:      0.2,
				Timeout:     cfg.Referral.RequestTimeout,
			},
		}
	} else {
		logger.Info().Msg("REFERRAL_API_BASE_URL not set, serving bundled referral master")
	}
	var refreshLock *lock.Locker
	if redisClient != nil {
		refreshLock = &lock.Locker{Client: redisClient, Prefix: "lab:lock:"}
	}
	referralSvc := referral.NewService(referral.Config{
		Backend: backend,
		Shared:  referral.NewRedisCache(redisClient, cfg.Referral.CacheTTL, ""),
		Lock:    refreshLock,
		Static:  store.ReferralSources(),
		TTL:     cfg.Referral.CacheTTL,
		Timeout: cfg.Referral.RequestTimeout,
		Logger:  logger.With().Str("component", "referral").Logger(),
	})

	live := pricing.Live{Engine: engine}
	if backend != nil {
		live.Referrals = referralSvc
	}

	validate := common.NewValidator()
	pricingHandler := pricing.NewHandler(pricing.HandlerConfig{
		Live:              live,
		Validator:         validate,
		EnhancedByDefault: cfg.EnhancedLegacy,
	})
	billingHandler := &billing.Handler{
		Svc: &billing.Service{
			Pricing:          live,
			GSTBps:           cfg.Billing.GSTBps,
			CollectionCharge: cfg.Billing.CollectionCharge,
			Currency:         cfg.Billing.Currency,
			Enhanced:         cfg.EnhancedLegacy,
			Logger:           logger,
		},
		Validate: validate,
	}
	referralHandler := referral.NewHandler(referralSvc, validate)

	var adminAuth auth.Middleware
	if cfg.Admin.JWTSecret != "" {
		verifier, err := auth.NewVerifier(auth.VerifierConfig{
			Secret:    cfg.Admin.JWTSecret,
			Issuer:    cfg.Admin.Issuer,
			Audience:  cfg.Admin.Audience,
			ClockSkew: 30 * time.Second,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise admin verifier")
		}
		adminAuth.Verifier = verifier
	} else {
		logger.Warn().Msg("ADMIN_JWT_SECRET not set, admin routes disabled")
	}
	idem := common.Idem{R: redisClient, TTL: 24 * time.Hour, Prefix: "lab:idem:"}

	limiter, err := newLimiter(cfg, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}
	rateLimit := ratelimit.Handler{
		Limiter: limiter,
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate_limit_store_error") },
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics, Skip: []string{"/metrics", "/health/live", "/health/ready"}}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.IsProduction()}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.MaxBodyBytes}.Middleware)

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(),
			envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", ""),
			envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")))
	}

	probes := []health.Probe{health.PricingProbe(engine)}
	if redisClient != nil {
		probes = append(probes, health.RedisProbe(redisClient))
	}
	if breaker != nil {
		probes = append(probes, health.BreakerProbe(referralTarget, breaker))
	}
	healthHandler := health.Handler{Probes: probes, Timeout: 500 * time.Millisecond}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(rateLimit.Middleware)
		v.Route("/pricing", pricingHandler.Routes)
		v.Route("/billing", billingHandler.Routes)
		v.Route("/referral-sources", referralHandler.Routes)

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(adminAuth.RequireAdmin)
			admin.Use(idem.Middleware)
			admin.Route("/referral-sources", referralHandler.AdminRoutes)
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func connectRedis(cfg *config.Config, metricsEnabled bool, logger zerolog.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		// readiness reports it; the referral cache and limiter degrade without it
		logger.Error().Err(err).Msg("ping redis")
	}
	return client
}

func newLimiter(cfg *config.Config, client *redis.Client) (ratelimit.Limiter, error) {
	if client != nil {
		return ratelimit.NewRedis(client, cfg.RateLimit, "lab:ratelimit")
	}
	return ratelimit.NewMemory(cfg.RateLimit, "lab:ratelimit")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
