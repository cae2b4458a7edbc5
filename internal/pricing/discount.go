package pricing

import (
	"math"
	"strconv"
	"strings"
)

// Options carries the optional resolution inputs.
type Options struct {
	Volume      int
	LoyaltyTier string
}

// EffectiveVolume returns the requested volume, defaulting to 1.
func (o Options) EffectiveVolume() int {
	if o.Volume < 1 {
		return 1
	}
	return o.Volume
}

// Breakdown is the outcome of composing discounts on a base price.
type Breakdown struct {
	BasePrice        float64
	FinalPrice       float64
	ReferralDiscount float64
	VolumeDiscount   float64
	LoyaltyDiscount  float64
	// TotalDiscountPercentage is the plain sum of the three percentages.
	// The price itself compounds them; see EffectiveDiscountPercentage.
	TotalDiscountPercentage     float64
	EffectiveDiscountPercentage float64
	Savings                     float64
}

// Round2 rounds half-up to two decimals.
func Round2(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}

func clampPercent(p float64) float64 {
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// Compose applies the referral, volume and loyalty percentages to base in that order.
func Compose(base, referralPct, volumePct, loyaltyPct float64) Breakdown {
	referralPct = clampPercent(referralPct)
	volumePct = clampPercent(volumePct)
	loyaltyPct = clampPercent(loyaltyPct)

	price := base
	for _, pct := range [...]float64{referralPct, volumePct, loyaltyPct} {
		price *= 1 - pct/100
	}

	b := Breakdown{
		BasePrice:               Round2(base),
		FinalPrice:              Round2(price),
		ReferralDiscount:        referralPct,
		VolumeDiscount:          volumePct,
		LoyaltyDiscount:         loyaltyPct,
		TotalDiscountPercentage: Round2(referralPct + volumePct + loyaltyPct),
	}
	if base > 0 {
		b.EffectiveDiscountPercentage = Round2((1 - price/base) * 100)
	}
	b.Savings = Round2(b.BasePrice - b.FinalPrice)
	return b
}

// VolumeDiscount returns the largest percentage among thresholds not above volume.
// Keys that are not integers are ignored.
func VolumeDiscount(rules map[string]float64, volume int) float64 {
	best := 0.0
	for key, pct := range rules {
		threshold, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			continue
		}
		if threshold <= volume && pct > best {
			best = pct
		}
	}
	return best
}

// LoyaltyDiscount returns the tier percentage when the loyalty flag is on.
func LoyaltyDiscount(rules LoyaltyDiscounts, tier string) float64 {
	tier = strings.TrimSpace(tier)
	if !rules.Enabled || tier == "" {
		return 0
	}
	if pct, ok := rules.Tiers[tier]; ok {
		return pct
	}
	for name, pct := range rules.Tiers {
		if strings.EqualFold(name, tier) {
			return pct
		}
	}
	return 0
}
