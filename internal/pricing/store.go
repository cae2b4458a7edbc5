package pricing

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

//go:embed defaults/pricing-config.json
var defaultLegacyDocument []byte

//go:embed defaults/referral-master.json
var defaultMasterDocument []byte

// ErrConfigNotLoaded indicates a store or engine was used before configuration was loaded.
var ErrConfigNotLoaded = errors.New("pricing configuration not loaded")

// Store holds both pricing documents. It is never mutated after construction,
// so a *Store may be shared across goroutines.
type Store struct {
	legacy LegacyConfig
	master MasterConfig
}

// NewStore wraps already-decoded documents.
func NewStore(legacy LegacyConfig, master MasterConfig) *Store {
	return &Store{legacy: legacy, master: master}
}

// DefaultStore returns a store built from the bundled documents.
func DefaultStore() (*Store, error) {
	return LoadStore("", "")
}

// LoadStore reads the legacy pricing document and the referral master document.
// An empty path selects the bundled default for that document.
func LoadStore(legacyPath, masterPath string) (*Store, error) {
	legacyData, err := readDocument(legacyPath, defaultLegacyDocument)
	if err != nil {
		return nil, fmt.Errorf("read pricing config: %w", err)
	}
	masterData, err := readDocument(masterPath, defaultMasterDocument)
	if err != nil {
		return nil, fmt.Errorf("read referral master: %w", err)
	}
	legacy, err := ParseLegacy(legacyData)
	if err != nil {
		return nil, err
	}
	master, err := ParseMaster(masterData)
	if err != nil {
		return nil, err
	}
	return NewStore(legacy, master), nil
}

func readDocument(path string, fallback []byte) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return fallback, nil
	}
	return os.ReadFile(path)
}

// ParseLegacy decodes the legacy pricing document.
func ParseLegacy(data []byte) (LegacyConfig, error) {
	var cfg LegacyConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return LegacyConfig{}, fmt.Errorf("decode pricing config: %w", err)
	}
	return cfg, nil
}

// ParseMaster decodes the referral master document. A source without an id
// takes its map key.
func ParseMaster(data []byte) (MasterConfig, error) {
	var cfg MasterConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return MasterConfig{}, fmt.Errorf("decode referral master: %w", err)
	}
	for key, src := range cfg.ReferralMaster {
		if src.ID == "" {
			src.ID = key
			cfg.ReferralMaster[key] = src
		}
	}
	return cfg, nil
}

// Legacy returns the legacy document. Callers must treat its maps as read-only.
func (s *Store) Legacy() LegacyConfig { return s.legacy }

// Master returns the referral master document. Callers must treat its maps as read-only.
func (s *Store) Master() MasterConfig { return s.master }

// ReferralSource looks up a referral master entry.
func (s *Store) ReferralSource(id string) (ReferralSource, bool) {
	src, ok := s.master.ReferralMaster[id]
	return src, ok
}

// ReferralSources returns the referral master entries sorted by id.
func (s *Store) ReferralSources() []ReferralSource {
	out := make([]ReferralSource, 0, len(s.master.ReferralMaster))
	for _, src := range s.master.ReferralMaster {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Schemes returns the pricing schemes sorted by id.
func (s *Store) Schemes() []PricingScheme {
	out := make([]PricingScheme, 0, len(s.legacy.PricingSchemes))
	for id, scheme := range s.legacy.PricingSchemes {
		if scheme.ID == "" {
			scheme.ID = id
		}
		out = append(out, scheme)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WithReferralSources returns a store that shares every table with s except
// the referral master, which is replaced by sources.
func (s *Store) WithReferralSources(sources map[string]ReferralSource) *Store {
	master := s.master
	master.ReferralMaster = sources
	return &Store{legacy: s.legacy, master: master}
}

// KnowsTest reports whether either price table has an entry for testID.
func (s *Store) KnowsTest(testID string) bool {
	if _, ok := s.master.TestPricingMatrix[testID]; ok {
		return true
	}
	_, ok := s.legacy.TestPricingMappings[testID]
	return ok
}
