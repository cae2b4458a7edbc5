package pricing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ReferralType identifies who referred the patient.
type ReferralType string

const (
	ReferralDoctor    ReferralType = "Doctor"
	ReferralHospital  ReferralType = "Hospital"
	ReferralLab       ReferralType = "Lab"
	ReferralCorporate ReferralType = "Corporate"
	ReferralInsurance ReferralType = "Insurance"
	ReferralPatient   ReferralType = "Patient"
)

// ReferralTypes lists every supported referral type.
func ReferralTypes() []ReferralType {
	return []ReferralType{
		ReferralDoctor,
		ReferralHospital,
		ReferralLab,
		ReferralCorporate,
		ReferralInsurance,
		ReferralPatient,
	}
}

// ParseReferralType resolves a referral type case-insensitively.
func ParseReferralType(value string) (ReferralType, bool) {
	trimmed := strings.TrimSpace(value)
	for _, t := range ReferralTypes() {
		if strings.EqualFold(trimmed, string(t)) {
			return t, true
		}
	}
	return "", false
}

// Category groups referral sources for reporting.
type Category string

const (
	CategoryMedical       Category = "medical"
	CategoryInstitutional Category = "institutional"
	CategoryCorporate     Category = "corporate"
	CategoryInsurance     Category = "insurance"
	CategoryDirect        Category = "direct"
)

// TypeDetails carries the fields that only make sense for one referral type.
// The set of implementations is closed to this package.
type TypeDetails interface {
	ReferralType() ReferralType
	sealed()
}

// DoctorDetails applies to ReferralDoctor.
type DoctorDetails struct {
	Specialization string `json:"specialization,omitempty"`
}

// HospitalDetails applies to ReferralHospital.
type HospitalDetails struct {
	Branch string `json:"branch,omitempty"`
}

// LabDetails applies to ReferralLab.
type LabDetails struct {
	Accreditation string `json:"accreditation,omitempty"`
}

// CorporateDetails applies to ReferralCorporate.
type CorporateDetails struct {
	RegistrationDetails string `json:"registrationDetails,omitempty"`
}

// InsuranceDetails applies to ReferralInsurance.
type InsuranceDetails struct {
	PolicyCoverage string `json:"policyCoverage,omitempty"`
}

// PatientDetails applies to ReferralPatient.
type PatientDetails struct {
	PatientReference string `json:"patientReference,omitempty"`
}

func (DoctorDetails) ReferralType() ReferralType    { return ReferralDoctor }
func (HospitalDetails) ReferralType() ReferralType  { return ReferralHospital }
func (LabDetails) ReferralType() ReferralType       { return ReferralLab }
func (CorporateDetails) ReferralType() ReferralType { return ReferralCorporate }
func (InsuranceDetails) ReferralType() ReferralType { return ReferralInsurance }
func (PatientDetails) ReferralType() ReferralType   { return ReferralPatient }

func (DoctorDetails) sealed()    {}
func (HospitalDetails) sealed()  {}
func (LabDetails) sealed()       {}
func (CorporateDetails) sealed() {}
func (InsuranceDetails) sealed() {}
func (PatientDetails) sealed()   {}

// ReferralSource is an entry of the referral master.
type ReferralSource struct {
	ID                   string
	Name                 string
	Category             Category
	ReferralType         ReferralType
	DiscountPercentage   float64
	DefaultPricingScheme string
	IsActive             bool
	Details              TypeDetails
}

// Attribute returns the label and value of the type specific field.
func (s ReferralSource) Attribute() (string, string) {
	switch d := s.Details.(type) {
	case DoctorDetails:
		return "specialization", d.Specialization
	case HospitalDetails:
		return "branch", d.Branch
	case LabDetails:
		return "accreditation", d.Accreditation
	case CorporateDetails:
		return "registrationDetails", d.RegistrationDetails
	case InsuranceDetails:
		return "policyCoverage", d.PolicyCoverage
	case PatientDetails:
		return "patientReference", d.PatientReference
	default:
		return "", ""
	}
}

type referralSourceJSON struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	Category             Category        `json:"category,omitempty"`
	ReferralType         ReferralType    `json:"referralType"`
	DiscountPercentage   float64         `json:"discountPercentage"`
	DefaultPricingScheme string          `json:"defaultPricingScheme,omitempty"`
	IsActive             bool            `json:"isActive"`
	TypeSpecificFields   json.RawMessage `json:"typeSpecificFields,omitempty"`
}

// MarshalJSON encodes the type specific fields in their flat form.
func (s ReferralSource) MarshalJSON() ([]byte, error) {
	wire := referralSourceJSON{
		ID:                   s.ID,
		Name:                 s.Name,
		Category:             s.Category,
		ReferralType:         s.ReferralType,
		DiscountPercentage:   s.DiscountPercentage,
		DefaultPricingScheme: s.DefaultPricingScheme,
		IsActive:             s.IsActive,
	}
	if s.Details != nil {
		raw, err := json.Marshal(s.Details)
		if err != nil {
			return nil, err
		}
		wire.TypeSpecificFields = raw
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes typeSpecificFields into the variant matching referralType.
// Both {"Doctor": {...}} and the flat {...} forms are accepted.
func (s *ReferralSource) UnmarshalJSON(data []byte) error {
	var wire referralSourceJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	refType := wire.ReferralType
	if parsed, ok := ParseReferralType(string(refType)); ok {
		refType = parsed
	}
	details, err := decodeDetails(refType, wire.TypeSpecificFields)
	if err != nil {
		return fmt.Errorf("referral source %s: %w", wire.ID, err)
	}
	*s = ReferralSource{
		ID:                   wire.ID,
		Name:                 wire.Name,
		Category:             wire.Category,
		ReferralType:         refType,
		DiscountPercentage:   wire.DiscountPercentage,
		DefaultPricingScheme: wire.DefaultPricingScheme,
		IsActive:             wire.IsActive,
		Details:              details,
	}
	return nil
}

func decodeDetails(refType ReferralType, raw json.RawMessage) (TypeDetails, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(raw, &nested); err != nil {
			return nil, fmt.Errorf("typeSpecificFields: %w", err)
		}
		for key, inner := range nested {
			if strings.EqualFold(key, string(refType)) {
				raw = inner
				break
			}
		}
	} else {
		raw = nil
	}

	switch refType {
	case ReferralDoctor:
		return decodeVariant[DoctorDetails](raw)
	case ReferralHospital:
		return decodeVariant[HospitalDetails](raw)
	case ReferralLab:
		return decodeVariant[LabDetails](raw)
	case ReferralCorporate:
		return decodeVariant[CorporateDetails](raw)
	case ReferralInsurance:
		return decodeVariant[InsuranceDetails](raw)
	case ReferralPatient:
		return decodeVariant[PatientDetails](raw)
	default:
		return nil, nil
	}
}

func decodeVariant[T TypeDetails](raw json.RawMessage) (TypeDetails, error) {
	var d T
	if err := unmarshalOptional(raw, &d); err != nil {
		return nil, err
	}
	return d, nil
}

func unmarshalOptional(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("typeSpecificFields: %w", err)
	}
	return nil
}
