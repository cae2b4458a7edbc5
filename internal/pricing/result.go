package pricing

import "time"

// Source tags which rule produced a price.
type Source string

const (
	SourceComprehensive    Source = "comprehensive"
	SourceSchemeReferral   Source = "scheme_referral"
	SourceSchemeDefault    Source = "scheme_default"
	SourceTestDefault      Source = "test_default"
	SourceUltimateFallback Source = "ultimate_fallback"
	SourceEnhanced         Source = "enhanced"
	SourceFallback         Source = "fallback"
	SourceError            Source = "error"
)

// Sources lists every tag a resolution can carry.
func Sources() []Source {
	return []Source{
		SourceComprehensive,
		SourceSchemeReferral,
		SourceSchemeDefault,
		SourceTestDefault,
		SourceUltimateFallback,
		SourceEnhanced,
		SourceFallback,
		SourceError,
	}
}

// Metadata is the audit trail attached to a PriceResult.
type Metadata struct {
	BasePrice                   float64 `json:"basePrice"`
	ReferralDiscount            float64 `json:"referralDiscount"`
	VolumeDiscount              float64 `json:"volumeDiscount"`
	LoyaltyDiscount             float64 `json:"loyaltyDiscount"`
	TotalDiscountPercentage     float64 `json:"totalDiscountPercentage"`
	EffectiveDiscountPercentage float64 `json:"effectiveDiscountPercentage"`
	Savings                     float64 `json:"savings"`
	Scheme                      string  `json:"scheme,omitempty"`
	ReferralSourceID            string  `json:"referralSourceId,omitempty"`
	Rule                        string  `json:"rule,omitempty"`
	BaseSource                  Source  `json:"baseSource,omitempty"`
	Volume                      int     `json:"volume"`
	LoyaltyTier                 string  `json:"loyaltyTier,omitempty"`
}

// PriceResult is the outcome of a price resolution.
type PriceResult struct {
	Found     bool      `json:"found"`
	Price     float64   `json:"price"`
	Source    Source    `json:"source"`
	Reason    string    `json:"reason"`
	Metadata  Metadata  `json:"metadata"`
	Timestamp time.Time `json:"timestamp"`
}

func (m *Metadata) applyBreakdown(b Breakdown) {
	m.BasePrice = b.BasePrice
	m.ReferralDiscount = b.ReferralDiscount
	m.VolumeDiscount = b.VolumeDiscount
	m.LoyaltyDiscount = b.LoyaltyDiscount
	m.TotalDiscountPercentage = b.TotalDiscountPercentage
	m.EffectiveDiscountPercentage = b.EffectiveDiscountPercentage
	m.Savings = b.Savings
}
