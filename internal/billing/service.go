package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-lab/internal/obs"
	"github.com/noah-isme/backend-lab/internal/pricing"
)

// MaxQuantity bounds a line quantity and the volume override so that minor
// unit totals stay inside int64.
const MaxQuantity = 10000

// MaxFallbackPrice bounds a caller supplied fallback price, in major units.
const MaxFallbackPrice = 10_000_000

var (
	// ErrEmptyQuote is returned when a quote has no items.
	ErrEmptyQuote = errors.New("billing: quote has no items")
	// ErrOutOfRange is returned when a quantity, volume or fallback price exceeds its bound.
	ErrOutOfRange = errors.New("billing: quote value out of range")
)

// EngineSource yields the pricing engine to use for one request.
type EngineSource interface {
	For(ctx context.Context) *pricing.Engine
}

// Service prices a set of tests into a bill quotation.
type Service struct {
	Pricing          EngineSource
	GSTBps           int
	CollectionCharge Money
	Currency         string
	// Enhanced selects ResolveEnhanced for every line.
	Enhanced bool
	Logger   zerolog.Logger
	Now      func() time.Time
	NewID    func() uuid.UUID
}

// QuoteItem is one requested test.
type QuoteItem struct {
	TestID        string  `json:"testId" validate:"required"`
	Quantity      int     `json:"quantity" validate:"gte=0,lte=10000"`
	FallbackPrice float64 `json:"fallbackPrice" validate:"gte=0,lte=10000000"`
}

// QuoteRequest describes the bill to price.
type QuoteRequest struct {
	ReferralSourceID string `json:"referralSourceId"`
	Scheme           string `json:"scheme"`
	// Volume overrides each item's quantity as the volume-discount input when positive.
	Volume              int         `json:"volume" validate:"gte=0,lte=10000"`
	LoyaltyTier         string      `json:"loyaltyTier"`
	BillDiscountPercent float64     `json:"billDiscountPercent" validate:"gte=0,lte=100"`
	HomeCollection      bool        `json:"homeCollection"`
	Items               []QuoteItem `json:"items" validate:"required,min=1,dive"`
}

// Line is the audit trail of one priced test.
type Line struct {
	TestID    string         `json:"testId"`
	Quantity  int            `json:"quantity"`
	UnitPrice float64        `json:"unitPrice"`
	LineTotal float64        `json:"lineTotal"`
	Savings   float64        `json:"savings"`
	Found     bool           `json:"found"`
	Source    pricing.Source `json:"source"`
	Reason    string         `json:"reason"`
	Scheme    string         `json:"scheme,omitempty"`
}

// Totals is the bill summary in major currency units.
type Totals struct {
	Subtotal         float64 `json:"subtotal"`
	BillDiscount     float64 `json:"billDiscount"`
	GST              float64 `json:"gst"`
	CollectionCharge float64 `json:"collectionCharge"`
	Total            float64 `json:"total"`
	ReferralSavings  float64 `json:"referralSavings"`
}

// Quote is a priced bill.
type Quote struct {
	ID               uuid.UUID `json:"id"`
	Currency         string    `json:"currency"`
	ReferralSourceID string    `json:"referralSourceId,omitempty"`
	Lines            []Line    `json:"lines"`
	Totals           Totals    `json:"totals"`
	Warnings         []string  `json:"warnings"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Quote resolves every requested test and totals the bill. Lines whose test
// cannot be priced are kept at zero and reported in Warnings.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	if len(req.Items) == 0 {
		obs.ObserveBillingQuote("empty")
		return Quote{}, ErrEmptyQuote
	}
	if err := checkBounds(req); err != nil {
		obs.ObserveBillingQuote("rejected")
		return Quote{}, err
	}
	if s.Pricing == nil {
		return Quote{}, pricing.ErrConfigNotLoaded
	}
	engine := s.Pricing.For(ctx)
	opts := pricing.Options{LoyaltyTier: strings.TrimSpace(req.LoyaltyTier)}

	lines := make([]Line, 0, len(req.Items))
	items := make([]Item, 0, len(req.Items))
	warnings := []string{}
	var savings Money
	for _, it := range req.Items {
		qty := it.Quantity
		if qty <= 0 {
			qty = 1
		}
		opts.Volume = qty
		if req.Volume > 0 {
			opts.Volume = req.Volume
		}

		var res pricing.PriceResult
		if s.Enhanced {
			res = engine.ResolveEnhanced(it.TestID, req.ReferralSourceID, req.Scheme, it.FallbackPrice, opts)
		} else {
			res = engine.Resolve(it.TestID, req.ReferralSourceID, req.Scheme, it.FallbackPrice, opts)
		}

		unit := ToMinor(res.Price)
		if !res.Found {
			// An error result still carries the caller's fallback price.
			if res.Source != pricing.SourceError || res.Price <= 0 {
				unit = 0
			}
			warnings = append(warnings, fmt.Sprintf("test %s could not be priced: %s", it.TestID, res.Reason))
		} else if res.Source == pricing.SourceUltimateFallback || res.Source == pricing.SourceFallback {
			warnings = append(warnings, fmt.Sprintf("test %s priced by fallback", it.TestID))
		}
		lineSavings := ToMinor(res.Metadata.Savings) * Money(qty)
		savings += lineSavings
		items = append(items, Item{Qty: qty, UnitPrice: unit})
		lines = append(lines, Line{
			TestID:    it.TestID,
			Quantity:  qty,
			UnitPrice: FromMinor(unit),
			LineTotal: FromMinor(unit * Money(qty)),
			Savings:   FromMinor(lineSavings),
			Found:     res.Found,
			Source:    res.Source,
			Reason:    res.Reason,
			Scheme:    res.Metadata.Scheme,
		})
	}

	var subtotal Money
	for _, it := range items {
		subtotal += Money(it.Qty) * it.UnitPrice
	}
	discount := ApplyBps(subtotal, PercentBps(req.BillDiscountPercent))
	var collection Money
	if req.HomeCollection {
		collection = s.CollectionCharge
	}
	summary := Compute(items, discount, s.GSTBps, collection)

	result := "ok"
	if len(warnings) > 0 {
		result = "partial"
	}
	obs.ObserveBillingQuote(result)

	q := Quote{
		ID:               s.newID(),
		Currency:         s.currency(),
		ReferralSourceID: req.ReferralSourceID,
		Lines:            lines,
		Totals: Totals{
			Subtotal:         FromMinor(summary.Subtotal),
			BillDiscount:     FromMinor(summary.Discount),
			GST:              FromMinor(summary.Tax),
			CollectionCharge: FromMinor(summary.CollectionCharge),
			Total:            FromMinor(summary.Total),
			ReferralSavings:  FromMinor(savings),
		},
		Warnings:  warnings,
		CreatedAt: s.now(),
	}
	s.Logger.Debug().
		Str("quote_id", q.ID.String()).
		Int("lines", len(lines)).
		Int64("total_minor", summary.Total).
		Msg("billing_quote_computed")
	return q, nil
}

func checkBounds(req QuoteRequest) error {
	if req.Volume > MaxQuantity {
		return fmt.Errorf("%w: volume %d exceeds %d", ErrOutOfRange, req.Volume, MaxQuantity)
	}
	for _, it := range req.Items {
		if it.Quantity > MaxQuantity {
			return fmt.Errorf("%w: quantity %d for test %s exceeds %d", ErrOutOfRange, it.Quantity, it.TestID, MaxQuantity)
		}
		if it.FallbackPrice > MaxFallbackPrice {
			return fmt.Errorf("%w: fallback price for test %s exceeds %d", ErrOutOfRange, it.TestID, MaxFallbackPrice)
		}
	}
	return nil
}

func (s *Service) newID() uuid.UUID {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.New()
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) currency() string {
	if s.Currency == "" {
		return "INR"
	}
	return s.Currency
}
