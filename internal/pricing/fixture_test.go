package pricing

import (
	"testing"
	"time"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func fixtureLegacy() LegacyConfig {
	return LegacyConfig{
		PricingSchemes: map[string]PricingScheme{
			"standard":  {ID: "standard", Name: "Standard", IsDefault: true},
			"corporate": {ID: "corporate", Name: "Corporate"},
		},
		ReferralSources: map[string]LegacyReferral{
			"doctor_001":    {ID: "doctor_001", Name: "Dr. Rao", DefaultScheme: "standard", DiscountPercentage: 5},
			"corporate":     {ID: "corporate", Name: "Acme Corp", DefaultScheme: "corporate", DiscountPercentage: 10},
			"hospital_city": {ID: "hospital_city", Name: "City Hospital", DefaultScheme: "corporate", DiscountPercentage: 8},
			"clinic_007":    {ID: "clinic_007", Name: "Clinic 7"},
			"dormant":       {ID: "dormant", Name: "Dormant TPA", DefaultScheme: "standard"},
		},
		TestPricingMappings: map[string]TestPriceEntry{
			"@100001": {
				TestName:     "HbA1c",
				DefaultPrice: 400,
				Schemes: map[string]SchemePrice{
					"standard": {Price: 380, ReferralSources: map[string]float64{"doctor_001": 350, "clinic_007": 360}},
					"corporate": {Price: 300, ReferralSources: map[string]float64{"hospital_city": 280}},
				},
				DiscountRules: VolumeRules{VolumeDiscounts: map[string]float64{"5": 5, "10": 8}},
			},
			"@100002": {TestName: "Urine Routine", DefaultPrice: 250},
			"@000003": {
				TestName:     "Lipid Profile",
				DefaultPrice: 550,
				Schemes: map[string]SchemePrice{
					"standard": {Price: 550, ReferralSources: map[string]float64{"dormant": 200}},
				},
			},
		},
		FallbackRules: FallbackRules{DefaultScheme: "standard"},
	}
}

func fixtureMaster() MasterConfig {
	return MasterConfig{
		ReferralMaster: map[string]ReferralSource{
			"corporate": {
				ID: "corporate", Name: "Acme Corp", Category: CategoryCorporate, ReferralType: ReferralCorporate,
				DiscountPercentage: 10, DefaultPricingScheme: "standard", IsActive: true,
				Details: CorporateDetails{RegistrationDetails: "CIN-1"},
			},
			"doctor_001": {
				ID: "doctor_001", Name: "Dr. Rao", Category: CategoryMedical, ReferralType: ReferralDoctor,
				DiscountPercentage: 5, DefaultPricingScheme: "standard", IsActive: true,
				Details: DoctorDetails{Specialization: "Cardiology"},
			},
			"hospital_city": {
				ID: "hospital_city", Name: "City Hospital", Category: CategoryInstitutional, ReferralType: ReferralHospital,
				DiscountPercentage: 8, DefaultPricingScheme: "corporate", IsActive: true,
			},
			"dormant": {
				ID: "dormant", Name: "Dormant TPA", Category: CategoryInsurance, ReferralType: ReferralInsurance,
				DiscountPercentage: 20, DefaultPricingScheme: "standard", IsActive: false,
			},
		},
		TestPricingMatrix: map[string]TestPricing{
			"@000003": {
				BasePrice: 500,
				PricingByScheme: map[string]SchemePricing{
					"standard":  {Price: 500},
					"corporate": {Price: 450, ReferralPrices: map[string]float64{"hospital_city": 420}},
				},
				DiscountRules: VolumeRules{VolumeDiscounts: map[string]float64{"5": 5}},
			},
			"@000009": {BasePrice: 900},
		},
		DiscountRules: DiscountRules{Global: GlobalDiscounts{LoyaltyDiscounts: LoyaltyDiscounts{
			Enabled: true,
			Tiers:   map[string]float64{"gold": 5, "silver": 3},
		}}},
		CommissionRules: map[string]CommissionRule{
			"doctor_001":    {Percentage: 10, MinimumAmount: 1000, PaymentCycle: "monthly"},
			"hospital_city": {Percentage: 7.5, PaymentCycle: "quarterly"},
		},
	}
}

func newFixtureEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	opts = append([]EngineOption{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewEngine(NewStore(fixtureLegacy(), fixtureMaster()), opts...)
}
