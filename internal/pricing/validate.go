package pricing

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationReport lists configuration errors and warnings.
// IsValid is true iff Errors is empty.
type ValidationReport struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Validate checks the internal consistency of the engine's configuration.
func (e *Engine) Validate() ValidationReport {
	if e == nil || e.store == nil {
		return ValidationReport{Errors: []string{ErrConfigNotLoaded.Error()}, Warnings: []string{}}
	}
	return ValidateStore(e.store)
}

// ValidateStore checks s. Messages are ordered deterministically.
func ValidateStore(s *Store) ValidationReport {
	report := ValidationReport{Errors: []string{}, Warnings: []string{}}
	legacy, master := s.legacy, s.master

	defaultScheme := strings.TrimSpace(legacy.FallbackRules.DefaultScheme)
	if defaultScheme == "" {
		report.Errors = append(report.Errors, "fallbackRules.defaultScheme is not set")
	} else if _, ok := legacy.PricingSchemes[defaultScheme]; !ok {
		report.Errors = append(report.Errors,
			fmt.Sprintf("default scheme %q is not defined in pricingSchemes", defaultScheme))
	}

	var defaults []string
	for _, id := range sortedKeys(legacy.PricingSchemes) {
		if legacy.PricingSchemes[id].IsDefault {
			defaults = append(defaults, id)
		}
	}
	if len(defaults) > 1 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("multiple pricing schemes flagged as default: %s", strings.Join(defaults, ", ")))
	}

	if _, unknown := ParseOrder(legacy.FallbackRules.PriceCalculationOrder); len(unknown) > 0 {
		for _, name := range unknown {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("unknown price calculation rule %q", name))
		}
	}

	for _, testID := range sortedKeys(legacy.TestPricingMappings) {
		entry := legacy.TestPricingMappings[testID]
		if entry.DefaultPrice <= 0 {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("test %s has non-positive default price %.2f", testID, entry.DefaultPrice))
		}
		for _, schemeID := range sortedKeys(entry.Schemes) {
			if _, ok := legacy.PricingSchemes[schemeID]; !ok {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("test %s references unknown scheme %q", testID, schemeID))
			}
			for _, refID := range sortedKeys(entry.Schemes[schemeID].ReferralSources) {
				if _, ok := legacy.ReferralSources[refID]; !ok {
					report.Warnings = append(report.Warnings,
						fmt.Sprintf("test %s scheme %q references unknown referral source %q", testID, schemeID, refID))
				}
			}
		}
	}

	for _, testID := range sortedKeys(master.TestPricingMatrix) {
		if test := master.TestPricingMatrix[testID]; test.BasePrice <= 0 {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("comprehensive test %s has non-positive base price %.2f", testID, test.BasePrice))
		}
	}

	report.IsValid = len(report.Errors) == 0
	return report
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
