package pricing

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolveComprehensiveComposesDiscounts(t *testing.T) {
	engine := newFixtureEngine(t)

	res := engine.Resolve("@000003", "corporate", "standard", 0, Options{Volume: 10})

	require.True(t, res.Found)
	require.Equal(t, SourceComprehensive, res.Source)
	require.Equal(t, 427.5, res.Price)
	require.Equal(t, 500.0, res.Metadata.BasePrice)
	require.Equal(t, 10.0, res.Metadata.ReferralDiscount)
	require.Equal(t, 5.0, res.Metadata.VolumeDiscount)
	require.Equal(t, 15.0, res.Metadata.TotalDiscountPercentage)
	require.Equal(t, 14.5, res.Metadata.EffectiveDiscountPercentage)
	require.Equal(t, 72.5, res.Metadata.Savings)
	require.Equal(t, "standard", res.Metadata.Scheme)
	require.Equal(t, fixedNow, res.Timestamp)
}

func TestResolveComprehensiveUsesSourceDefaultSchemeAndReferralPrice(t *testing.T) {
	engine := newFixtureEngine(t)

	res := engine.Resolve("@000003", "hospital_city", "", 0, Options{})

	require.Equal(t, SourceComprehensive, res.Source)
	require.Equal(t, "corporate", res.Metadata.Scheme)
	require.Equal(t, "referral price", res.Metadata.Rule)
	require.Equal(t, 420.0, res.Metadata.BasePrice)
	require.Equal(t, 386.4, res.Price)
	require.Equal(t, 1, res.Metadata.Volume)
}

func TestResolveLoyaltyTier(t *testing.T) {
	engine := newFixtureEngine(t)

	res := engine.Resolve("@000003", "corporate", "standard", 0, Options{Volume: 10, LoyaltyTier: "GOLD"})
	require.Equal(t, 5.0, res.Metadata.LoyaltyDiscount)
	require.Equal(t, 20.0, res.Metadata.TotalDiscountPercentage)
	require.InDelta(t, 406.13, res.Price, 0.011)

	unknown := engine.Resolve("@000003", "corporate", "standard", 0, Options{Volume: 10, LoyaltyTier: "platinum"})
	require.Zero(t, unknown.Metadata.LoyaltyDiscount)
	require.Equal(t, 427.5, unknown.Price)
}

func TestResolveInactiveReferralNeverPricesComprehensively(t *testing.T) {
	engine := newFixtureEngine(t)

	res := engine.Resolve("@000003", "dormant", "standard", 0, Options{})

	require.NotEqual(t, SourceComprehensive, res.Source)
	require.Equal(t, SourceSchemeDefault, res.Source)
	require.Equal(t, 550.0, res.Price, "negotiated price of an inactive source must not apply")
}

func TestResolveLegacyPrecedence(t *testing.T) {
	engine := newFixtureEngine(t)

	cases := []struct {
		name     string
		test     string
		referral string
		scheme   string
		price    float64
		source   Source
		rule     Strategy
	}{
		{"explicit scheme referral price", "@100001", "doctor_001", "standard", 350, SourceSchemeReferral, StrategyExplicitSchemeReferral},
		{"explicit scheme flat price", "@100001", "corporate", "standard", 380, SourceSchemeDefault, StrategyExplicitScheme},
		{"explicit scheme without referral", "@100001", "", "corporate", 300, SourceSchemeDefault, StrategyExplicitScheme},
		{"referral default scheme stands in for explicit", "@100001", "hospital_city", "", 280, SourceSchemeReferral, StrategyExplicitSchemeReferral},
		{"default scheme referral price", "@100001", "clinic_007", "", 360, SourceSchemeReferral, StrategyDefaultSchemeReferral},
		{"default scheme flat price", "@100001", "", "", 380, SourceSchemeDefault, StrategyDefaultScheme},
		{"unknown explicit scheme falls to default", "@100001", "", "platinum", 380, SourceSchemeDefault, StrategyDefaultScheme},
		{"test default price", "@100002", "doctor_001", "standard", 250, SourceTestDefault, StrategyTestDefault},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := engine.Resolve(tc.test, tc.referral, tc.scheme, 0, Options{})
			require.True(t, res.Found)
			require.Equal(t, tc.source, res.Source)
			require.Equal(t, tc.price, res.Price)
			require.Equal(t, string(tc.rule), res.Metadata.Rule)
			require.Zero(t, res.Metadata.TotalDiscountPercentage)
		})
	}
}

func TestResolveHonoursConfiguredOrder(t *testing.T) {
	legacy := fixtureLegacy()
	legacy.FallbackRules.PriceCalculationOrder = []string{"test_default", "no_such_rule", "explicit_scheme_referral"}
	engine := NewEngine(NewStore(legacy, fixtureMaster()))

	res := engine.Resolve("@100001", "doctor_001", "standard", 0, Options{})
	require.Equal(t, SourceTestDefault, res.Source)
	require.Equal(t, 400.0, res.Price)
}

func TestResolveUnknownTestUsesFallbackPrice(t *testing.T) {
	engine := newFixtureEngine(t)

	for _, fallback := range []float64{1, 99.5, 199.99, 1250} {
		res := engine.Resolve("@999999", "corporate", "standard", fallback, Options{Volume: 3})
		require.True(t, res.Found)
		require.Equal(t, fallback, res.Price)
		require.Equal(t, SourceFallback, res.Source)
	}

	missing := engine.Resolve("@999999", "", "", 0, Options{})
	require.False(t, missing.Found)
	require.Zero(t, missing.Price)
	require.Equal(t, SourceFallback, missing.Source)
}

func TestResolveUltimateFallback(t *testing.T) {
	engine := newFixtureEngine(t)

	res := engine.Resolve("@000009", "corporate", "", 120, Options{})
	require.Equal(t, SourceUltimateFallback, res.Source)
	require.Equal(t, 120.0, res.Price)

	res = engine.Resolve("@000009", "", "", 0, Options{})
	require.Equal(t, SourceUltimateFallback, res.Source)
	require.True(t, res.Found)
	require.Equal(t, 900.0, res.Price)
}

func TestResolveIsDeterministic(t *testing.T) {
	master := fixtureMaster()
	master.TestPricingMatrix["@000003"].PricingByScheme["standard"] = SchemePricing{Price: 99.99}
	engine := NewEngine(NewStore(fixtureLegacy(), master))

	first := engine.Resolve("@000003", "corporate", "standard", 0, Options{Volume: 7, LoyaltyTier: "silver"})
	for i := 0; i < 50; i++ {
		again := engine.Resolve("@000003", "corporate", "standard", 0, Options{Volume: 7, LoyaltyTier: "silver"})
		require.Equal(t, math.Float64bits(first.Price), math.Float64bits(again.Price))
	}
	require.Equal(t, first.Price, Round2(first.Price))
}

func TestResolveVolumeDiscountIsMonotonic(t *testing.T) {
	master := fixtureMaster()
	test := master.TestPricingMatrix["@000003"]
	test.DiscountRules.VolumeDiscounts = map[string]float64{"5": 5, "10": 3, "20": 12, "bulk": 50}
	master.TestPricingMatrix["@000003"] = test
	engine := NewEngine(NewStore(fixtureLegacy(), master))

	prev := -1.0
	for volume := 0; volume <= 40; volume++ {
		res := engine.Resolve("@000003", "corporate", "standard", 0, Options{Volume: volume})
		require.GreaterOrEqual(t, res.Metadata.VolumeDiscount, prev, "volume %d", volume)
		prev = res.Metadata.VolumeDiscount
	}
	require.Equal(t, 12.0, prev)
}

func TestResolveEnhancedDiscountsLegacyBase(t *testing.T) {
	engine := newFixtureEngine(t)

	res := engine.ResolveEnhanced("@100001", "doctor_001", "standard", 0, Options{Volume: 10})

	require.Equal(t, SourceEnhanced, res.Source)
	require.Equal(t, SourceSchemeReferral, res.Metadata.BaseSource)
	require.Equal(t, 350.0, res.Metadata.BasePrice)
	require.Equal(t, 8.0, res.Metadata.VolumeDiscount)
	require.Equal(t, 13.0, res.Metadata.TotalDiscountPercentage)
	require.Equal(t, 305.9, res.Price)
}

func TestResolveEnhancedLeavesInactiveAndComprehensiveAlone(t *testing.T) {
	engine := newFixtureEngine(t)

	inactive := engine.ResolveEnhanced("@000003", "dormant", "standard", 0, Options{})
	require.Equal(t, SourceSchemeDefault, inactive.Source)
	require.Equal(t, 550.0, inactive.Price)

	comp := engine.ResolveEnhanced("@000003", "corporate", "standard", 0, Options{Volume: 10})
	require.Equal(t, SourceComprehensive, comp.Source)
	require.Equal(t, 427.5, comp.Price)
}

func TestResolveRecoversFromPanics(t *testing.T) {
	calls := 0
	engine := newFixtureEngine(t, WithClock(func() time.Time {
		calls++
		panic("clock unavailable")
	}))

	res := engine.Resolve("@000003", "corporate", "standard", 75, Options{})

	require.Equal(t, 1, calls)
	require.Equal(t, SourceError, res.Source)
	require.False(t, res.Found)
	require.Equal(t, 75.0, res.Price)
	require.Contains(t, res.Reason, "clock unavailable")
}

func TestResolveWithoutConfiguration(t *testing.T) {
	var engine *Engine
	res := engine.Resolve("@000003", "corporate", "", 80, Options{})
	require.Equal(t, SourceError, res.Source)
	require.Equal(t, 80.0, res.Price)

	res = NewEngine(nil).Resolve("@000003", "corporate", "", 0, Options{})
	require.Equal(t, SourceError, res.Source)
	require.Zero(t, res.Price)
}

func TestResolveNotifiesObserver(t *testing.T) {
	seen := map[Source]int{}
	engine := newFixtureEngine(t, WithObserver(func(s Source) { seen[s]++ }))

	engine.Resolve("@000003", "corporate", "standard", 0, Options{})
	engine.Resolve("@100002", "", "", 0, Options{})
	engine.Resolve("@nope", "", "", 10, Options{})

	require.Equal(t, map[Source]int{
		SourceComprehensive: 1,
		SourceTestDefault:   1,
		SourceFallback:      1,
	}, seen)
}

func TestLiveEngineAppliesReferralSnapshot(t *testing.T) {
	engine := newFixtureEngine(t)
	snapshot := map[string]ReferralSource{
		"corporate": {ID: "corporate", ReferralType: ReferralCorporate, DiscountPercentage: 20, DefaultPricingScheme: "standard", IsActive: true},
	}
	live := Live{Engine: engine, Referrals: staticProvider(snapshot)}

	res := live.For(t.Context()).Resolve("@000003", "corporate", "standard", 0, Options{})
	require.Equal(t, 400.0, res.Price)

	// the static engine is untouched
	require.Equal(t, 450.0, engine.Resolve("@000003", "corporate", "standard", 0, Options{}).Price)
}

func TestLiveEngineAppliesEmptySnapshot(t *testing.T) {
	engine := newFixtureEngine(t)

	res := Live{Engine: engine, Referrals: staticProvider{}}.For(t.Context()).
		Resolve("@000003", "corporate", "standard", 0, Options{Volume: 10})
	require.Equal(t, SourceSchemeDefault, res.Source)
	require.Equal(t, 550.0, res.Price)
	require.Zero(t, res.Metadata.ReferralDiscount)

	// no snapshot keeps the bundled master
	res = Live{Engine: engine, Referrals: staticProvider(nil)}.For(t.Context()).
		Resolve("@000003", "corporate", "standard", 0, Options{Volume: 10})
	require.Equal(t, SourceComprehensive, res.Source)
	require.Equal(t, 427.5, res.Price)
}
