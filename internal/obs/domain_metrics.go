package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PricingResolutionsTotal counts price resolutions by the rule that produced them.
	PricingResolutionsTotal *prometheus.CounterVec
	// ReferralFetchTotal counts referral-source reads by the tier that served them.
	ReferralFetchTotal *prometheus.CounterVec
	// ReferralFetchLatency records backend fetch latency in milliseconds.
	ReferralFetchLatency *prometheus.HistogramVec
	// ReferralCacheInvalidations counts explicit referral cache clears.
	ReferralCacheInvalidations prometheus.Counter
	// BillingQuotesTotal counts bill quotations by outcome.
	BillingQuotesTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PricingResolutionsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_resolutions_total",
			Help:      "Count of price resolutions by source tag.",
		}, []string{"source"}))
		ReferralFetchTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "referral_fetch_total",
			Help:      "Count of referral source reads by serving tier.",
		}, []string{"origin"}))
		ReferralFetchLatency = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "referral_fetch_duration_ms",
			Help:      "Latency of referral source backend fetches in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"result"}))
		ReferralCacheInvalidations = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "referral_cache_invalidations_total",
			Help:      "Number of explicit referral cache invalidations.",
		}))
		BillingQuotesTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_quotes_total",
			Help:      "Count of bill quotations by outcome.",
		}, []string{"result"}))
	})
}

// ObservePricingSource records one resolution. Safe before registration.
func ObservePricingSource(source string) {
	if PricingResolutionsTotal != nil {
		PricingResolutionsTotal.WithLabelValues(source).Inc()
	}
}

// ObserveReferralFetch records which tier served a referral read.
func ObserveReferralFetch(origin string) {
	if ReferralFetchTotal != nil {
		ReferralFetchTotal.WithLabelValues(origin).Inc()
	}
}

// ObserveReferralLatency records a backend fetch duration in milliseconds.
func ObserveReferralLatency(result string, millis float64) {
	if ReferralFetchLatency != nil {
		ReferralFetchLatency.WithLabelValues(result).Observe(millis)
	}
}

// ObserveReferralInvalidation records an explicit cache clear.
func ObserveReferralInvalidation() {
	if ReferralCacheInvalidations != nil {
		ReferralCacheInvalidations.Inc()
	}
}

// ObserveBillingQuote records a quotation outcome.
func ObserveBillingQuote(result string) {
	if BillingQuotesTotal != nil {
		BillingQuotesTotal.WithLabelValues(result).Inc()
	}
}
