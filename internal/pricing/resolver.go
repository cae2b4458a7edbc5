package pricing

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Engine resolves prices, commissions and configuration reports over a Store.
// Engine methods never return errors; callers branch on the result tags.
type Engine struct {
	store   *Store
	logger  zerolog.Logger
	now     func() time.Time
	observe func(Source)
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithObserver registers a callback invoked with the tag of every resolution.
func WithObserver(fn func(Source)) EngineOption {
	return func(e *Engine) { e.observe = fn }
}

// NewEngine constructs an engine over store.
func NewEngine(store *Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:  store,
		logger: zerolog.Nop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the configuration the engine reads.
func (e *Engine) Store() *Store { return e.store }

// WithStore returns a copy of the engine reading from store.
func (e *Engine) WithStore(store *Store) *Engine {
	clone := *e
	clone.store = store
	return &clone
}

// Resolve locates the price of testID: comprehensive matrix first, then the
// legacy strategies, then the ultimate fallback.
func (e *Engine) Resolve(testID, referralSourceID, scheme string, fallbackPrice float64, opts Options) PriceResult {
	return e.resolve(testID, referralSourceID, scheme, fallbackPrice, opts, false)
}

// ResolveEnhanced is Resolve, except that a legacy base price is discounted
// the same way a comprehensive price is when the referral source is active.
func (e *Engine) ResolveEnhanced(testID, referralSourceID, scheme string, fallbackPrice float64, opts Options) PriceResult {
	return e.resolve(testID, referralSourceID, scheme, fallbackPrice, opts, true)
}

func (e *Engine) resolve(testID, referralID, scheme string, fallbackPrice float64, opts Options, enhanced bool) (result PriceResult) {
	if e == nil || e.store == nil {
		return errorResult(fallbackPrice, ErrConfigNotLoaded.Error(), time.Now().UTC())
	}
	testID = strings.TrimSpace(testID)
	referralID = strings.TrimSpace(referralID)
	scheme = strings.TrimSpace(scheme)

	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn().
				Str("test_id", testID).
				Str("referral_source_id", referralID).
				Interface("panic", r).
				Msg("pricing_resolution_failed")
			result = errorResult(fallbackPrice, fmt.Sprintf("resolution failed: %v", r), time.Now().UTC())
		}
		if e.observe != nil {
			e.observe(result.Source)
		}
	}()

	if res, ok := e.comprehensive(testID, referralID, scheme, opts); ok {
		return e.finish(res, testID)
	}
	if res, ok := e.legacy(testID, referralID, scheme, opts); ok {
		if enhanced {
			res = e.enhance(res, testID, referralID, opts)
		}
		return e.finish(res, testID)
	}
	return e.finish(e.ultimateFallback(testID, fallbackPrice, opts), testID)
}

func (e *Engine) finish(res PriceResult, testID string) PriceResult {
	res.Timestamp = e.now()
	e.logger.Debug().
		Str("test_id", testID).
		Str("source", string(res.Source)).
		Float64("price", res.Price).
		Msg("pricing_resolved")
	return res
}

func errorResult(fallbackPrice float64, reason string, now time.Time) PriceResult {
	price := 0.0
	if fallbackPrice > 0 {
		price = Round2(fallbackPrice)
	}
	return PriceResult{
		Price:     price,
		Source:    SourceError,
		Reason:    reason,
		Metadata:  Metadata{BasePrice: price, Volume: 1},
		Timestamp: now,
	}
}

func (e *Engine) comprehensive(testID, referralID, scheme string, opts Options) (PriceResult, bool) {
	if referralID == "" {
		return PriceResult{}, false
	}
	master := e.store.master
	test, ok := master.TestPricingMatrix[testID]
	if !ok {
		return PriceResult{}, false
	}
	src, ok := master.ReferralMaster[referralID]
	if !ok || !src.IsActive {
		return PriceResult{}, false
	}
	schemeID := scheme
	if schemeID == "" {
		schemeID = src.DefaultPricingScheme
	}
	sp, ok := test.PricingByScheme[schemeID]
	if schemeID == "" || !ok {
		return PriceResult{}, false
	}

	base, rule := sp.Price, "scheme price"
	if p, ok := sp.ReferralPrices[referralID]; ok && p > 0 {
		base, rule = p, "referral price"
	}
	if base <= 0 {
		return PriceResult{}, false
	}

	volume := opts.EffectiveVolume()
	b := Compose(
		base,
		src.DiscountPercentage,
		VolumeDiscount(test.DiscountRules.VolumeDiscounts, volume),
		LoyaltyDiscount(master.DiscountRules.Global.LoyaltyDiscounts, opts.LoyaltyTier),
	)
	res := PriceResult{
		Found:  true,
		Price:  b.FinalPrice,
		Source: SourceComprehensive,
		Reason: fmt.Sprintf("comprehensive %s %s for %s", schemeID, rule, referralID),
		Metadata: Metadata{
			Scheme:           schemeID,
			ReferralSourceID: referralID,
			Rule:             rule,
			Volume:           volume,
			LoyaltyTier:      opts.LoyaltyTier,
		},
	}
	res.Metadata.applyBreakdown(b)
	return res, true
}

func (e *Engine) legacy(testID, referralID, scheme string, opts Options) (PriceResult, bool) {
	legacy := e.store.legacy
	entry, ok := legacy.TestPricingMappings[testID]
	if !ok {
		return PriceResult{}, false
	}

	usable := referralID != ""
	if src, ok := e.store.master.ReferralMaster[referralID]; ok && !src.IsActive {
		usable = false
	}
	explicit := scheme
	if explicit == "" && usable {
		explicit = legacy.ReferralSources[referralID].DefaultScheme
	}

	order, unknown := ParseOrder(legacy.FallbackRules.PriceCalculationOrder)
	if len(unknown) > 0 {
		e.logger.Warn().Strs("rules", unknown).Msg("pricing_unknown_calculation_rules")
	}
	hit, rule, ok := runStrategies(order, legacyQuery{
		entry:          entry,
		referralID:     referralID,
		scheme:         explicit,
		defaultScheme:  legacy.FallbackRules.DefaultScheme,
		referralUsable: usable,
	})
	if !ok {
		return PriceResult{}, false
	}

	price := Round2(hit.price)
	meta := Metadata{
		BasePrice:   price,
		Scheme:      hit.scheme,
		Rule:        string(rule),
		Volume:      opts.EffectiveVolume(),
		LoyaltyTier: opts.LoyaltyTier,
	}
	if hit.source == SourceSchemeReferral {
		meta.ReferralSourceID = referralID
	}
	return PriceResult{
		Found:    true,
		Price:    price,
		Source:   hit.source,
		Reason:   hit.reason,
		Metadata: meta,
	}, true
}

// enhance composes discounts on a legacy result. The result is returned
// unchanged when the referral source is unknown or inactive.
func (e *Engine) enhance(res PriceResult, testID, referralID string, opts Options) PriceResult {
	if referralID == "" {
		return res
	}
	master := e.store.master
	var referralPct float64
	if src, ok := master.ReferralMaster[referralID]; ok {
		if !src.IsActive {
			return res
		}
		referralPct = src.DiscountPercentage
	} else if legacyRef, ok := e.store.legacy.ReferralSources[referralID]; ok {
		referralPct = legacyRef.DiscountPercentage
	} else {
		return res
	}

	rules := e.store.legacy.TestPricingMappings[testID].DiscountRules.VolumeDiscounts
	if test, ok := master.TestPricingMatrix[testID]; ok && len(test.DiscountRules.VolumeDiscounts) > 0 {
		rules = test.DiscountRules.VolumeDiscounts
	}
	volume := opts.EffectiveVolume()
	b := Compose(
		res.Price,
		referralPct,
		VolumeDiscount(rules, volume),
		LoyaltyDiscount(master.DiscountRules.Global.LoyaltyDiscounts, opts.LoyaltyTier),
	)

	meta := res.Metadata
	meta.applyBreakdown(b)
	meta.BaseSource = res.Source
	meta.ReferralSourceID = referralID
	return PriceResult{
		Found:    true,
		Price:    b.FinalPrice,
		Source:   SourceEnhanced,
		Reason:   fmt.Sprintf("%s with referral discounts", res.Reason),
		Metadata: meta,
	}
}

func (e *Engine) ultimateFallback(testID string, fallbackPrice float64, opts Options) PriceResult {
	meta := Metadata{Volume: opts.EffectiveVolume()}
	if !e.store.KnowsTest(testID) {
		if fallbackPrice > 0 {
			price := Round2(fallbackPrice)
			meta.BasePrice = price
			return PriceResult{
				Found:    true,
				Price:    price,
				Source:   SourceFallback,
				Reason:   fmt.Sprintf("test %s not configured, using caller fallback price", testID),
				Metadata: meta,
			}
		}
		return PriceResult{
			Source:   SourceFallback,
			Reason:   fmt.Sprintf("test %s not configured and no fallback price supplied", testID),
			Metadata: meta,
		}
	}

	price, reason := fallbackPrice, "no pricing rule matched, using caller fallback price"
	if price <= 0 {
		price, reason = e.testDefault(testID), "no pricing rule matched, using test default price"
	}
	price = Round2(price)
	meta.BasePrice = price
	return PriceResult{
		Found:    price > 0,
		Price:    price,
		Source:   SourceUltimateFallback,
		Reason:   reason,
		Metadata: meta,
	}
}

func (e *Engine) testDefault(testID string) float64 {
	if entry, ok := e.store.legacy.TestPricingMappings[testID]; ok && entry.DefaultPrice > 0 {
		return entry.DefaultPrice
	}
	if test, ok := e.store.master.TestPricingMatrix[testID]; ok && test.BasePrice > 0 {
		return test.BasePrice
	}
	return 0
}
