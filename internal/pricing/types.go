package pricing

// PricingScheme names a price list (standard, corporate, ...).
type PricingScheme struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsDefault   bool   `json:"isDefault"`
}

// LegacyReferral is the referral entry of the legacy pricing document.
type LegacyReferral struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	DefaultScheme      string  `json:"defaultScheme"`
	DiscountPercentage float64 `json:"discountPercentage"`
}

// SchemePrice is a flat scheme price plus explicit per-referral overrides.
type SchemePrice struct {
	Price           float64            `json:"price"`
	ReferralSources map[string]float64 `json:"referralSources,omitempty"`
}

// VolumeRules maps a volume threshold (decimal string) to a discount percentage.
type VolumeRules struct {
	VolumeDiscounts map[string]float64 `json:"volumeDiscounts,omitempty"`
}

// TestPriceEntry is a test row of the legacy price mapping.
type TestPriceEntry struct {
	TestName      string                 `json:"testName"`
	DefaultPrice  float64                `json:"defaultPrice"`
	Schemes       map[string]SchemePrice `json:"schemes,omitempty"`
	DiscountRules VolumeRules            `json:"discountRules"`
}

// FallbackRules configures the legacy resolution path.
type FallbackRules struct {
	DefaultScheme         string   `json:"defaultScheme"`
	PriceCalculationOrder []string `json:"priceCalculationOrder,omitempty"`
}

// LegacyConfig is the legacy pricing document.
type LegacyConfig struct {
	PricingSchemes      map[string]PricingScheme  `json:"pricingSchemes"`
	ReferralSources     map[string]LegacyReferral `json:"referralSources"`
	TestPricingMappings map[string]TestPriceEntry `json:"testPricingMappings"`
	FallbackRules       FallbackRules             `json:"fallbackRules"`
}

// SchemePricing is the comprehensive matrix price for one scheme.
type SchemePricing struct {
	Price          float64            `json:"price"`
	ReferralPrices map[string]float64 `json:"referralPrices,omitempty"`
}

// TestPricing is a test row of the comprehensive price matrix.
type TestPricing struct {
	TestName        string                   `json:"testName,omitempty"`
	BasePrice       float64                  `json:"basePrice"`
	PricingByScheme map[string]SchemePricing `json:"pricingByScheme,omitempty"`
	DiscountRules   VolumeRules              `json:"discountRules"`
}

// LoyaltyDiscounts holds the loyalty feature flag and tier percentages.
type LoyaltyDiscounts struct {
	Enabled bool               `json:"enabled"`
	Tiers   map[string]float64 `json:"tiers,omitempty"`
}

// GlobalDiscounts groups discounts that apply across tests.
type GlobalDiscounts struct {
	LoyaltyDiscounts LoyaltyDiscounts `json:"loyaltyDiscounts"`
}

// DiscountRules is the top-level discount section of the referral master document.
type DiscountRules struct {
	Global GlobalDiscounts `json:"global"`
}

// CommissionRule configures the commission paid to a referral source.
type CommissionRule struct {
	Percentage    float64 `json:"percentage"`
	MinimumAmount float64 `json:"minimumAmount"`
	PaymentCycle  string  `json:"paymentCycle,omitempty"`
}

// MasterConfig is the referral master document.
type MasterConfig struct {
	ReferralMaster    map[string]ReferralSource `json:"referralMaster"`
	TestPricingMatrix map[string]TestPricing    `json:"testPricingMatrix"`
	DiscountRules     DiscountRules             `json:"discountRules"`
	CommissionRules   map[string]CommissionRule `json:"commissionRules"`
}
