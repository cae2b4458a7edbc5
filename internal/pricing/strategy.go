package pricing

import (
	"fmt"
	"strings"
)

// Strategy names one legacy lookup rule in fallbackRules.priceCalculationOrder.
type Strategy string

const (
	StrategyExplicitSchemeReferral Strategy = "explicit_scheme_referral"
	StrategyExplicitScheme         Strategy = "explicit_scheme"
	StrategyDefaultSchemeReferral  Strategy = "default_scheme_referral"
	StrategyDefaultScheme          Strategy = "default_scheme"
	StrategyTestDefault            Strategy = "test_default"
)

// DefaultOrder is used when no calculation order is configured.
var DefaultOrder = []Strategy{
	StrategyExplicitSchemeReferral,
	StrategyExplicitScheme,
	StrategyDefaultSchemeReferral,
	StrategyDefaultScheme,
	StrategyTestDefault,
}

// legacyQuery is the input every legacy strategy sees.
type legacyQuery struct {
	entry         TestPriceEntry
	referralID    string
	scheme        string
	defaultScheme string
	// referralUsable is false when the referral is unknown or inactive in the master.
	referralUsable bool
}

type legacyHit struct {
	price  float64
	source Source
	scheme string
	reason string
}

type strategyFunc func(q legacyQuery) (legacyHit, bool)

var strategies = map[Strategy]strategyFunc{
	StrategyExplicitSchemeReferral: func(q legacyQuery) (legacyHit, bool) {
		return schemeReferral(q, q.scheme, "explicit scheme")
	},
	StrategyExplicitScheme: func(q legacyQuery) (legacyHit, bool) {
		return schemeFlat(q, q.scheme, "explicit scheme")
	},
	StrategyDefaultSchemeReferral: func(q legacyQuery) (legacyHit, bool) {
		return schemeReferral(q, q.defaultScheme, "default scheme")
	},
	StrategyDefaultScheme: func(q legacyQuery) (legacyHit, bool) {
		return schemeFlat(q, q.defaultScheme, "default scheme")
	},
	StrategyTestDefault: func(q legacyQuery) (legacyHit, bool) {
		if q.entry.DefaultPrice <= 0 {
			return legacyHit{}, false
		}
		return legacyHit{
			price:  q.entry.DefaultPrice,
			source: SourceTestDefault,
			reason: "test default price",
		}, true
	},
}

func schemeReferral(q legacyQuery, scheme, label string) (legacyHit, bool) {
	if scheme == "" || q.referralID == "" || !q.referralUsable {
		return legacyHit{}, false
	}
	sp, ok := q.entry.Schemes[scheme]
	if !ok {
		return legacyHit{}, false
	}
	price, ok := sp.ReferralSources[q.referralID]
	if !ok || price <= 0 {
		return legacyHit{}, false
	}
	return legacyHit{
		price:  price,
		source: SourceSchemeReferral,
		scheme: scheme,
		reason: fmt.Sprintf("%s %s price for referral %s", label, scheme, q.referralID),
	}, true
}

func schemeFlat(q legacyQuery, scheme, label string) (legacyHit, bool) {
	if scheme == "" {
		return legacyHit{}, false
	}
	sp, ok := q.entry.Schemes[scheme]
	if !ok || sp.Price <= 0 {
		return legacyHit{}, false
	}
	return legacyHit{
		price:  sp.Price,
		source: SourceSchemeDefault,
		scheme: scheme,
		reason: fmt.Sprintf("%s %s price", label, scheme),
	}, true
}

// ParseOrder maps configured names onto strategies. Unknown names are returned
// separately and skipped. An empty list yields DefaultOrder.
func ParseOrder(names []string) ([]Strategy, []string) {
	if len(names) == 0 {
		return DefaultOrder, nil
	}
	var (
		order   []Strategy
		unknown []string
	)
	for _, name := range names {
		s := Strategy(strings.TrimSpace(name))
		if _, ok := strategies[s]; !ok {
			unknown = append(unknown, name)
			continue
		}
		order = append(order, s)
	}
	return order, unknown
}

func runStrategies(order []Strategy, q legacyQuery) (legacyHit, Strategy, bool) {
	for _, name := range order {
		if hit, ok := strategies[name](q); ok {
			return hit, name, true
		}
	}
	return legacyHit{}, "", false
}
