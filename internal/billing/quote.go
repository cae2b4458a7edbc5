package billing

import "math"

// Money represents a monetary value stored in minor units (paise).
type Money = int64

// Item describes a billed test line.
type Item struct {
	Qty       int
	UnitPrice Money
}

// Summary aggregates computed bill components.
type Summary struct {
	Subtotal         Money
	Discount         Money
	Tax              Money
	CollectionCharge Money
	Total            Money
}

// Compute calculates bill totals. The bill discount is capped at the subtotal
// and tax is charged in basis points on what remains.
func Compute(items []Item, discount Money, taxBps int, collection Money) Summary {
	var subtotal Money
	for _, it := range items {
		if it.Qty <= 0 {
			continue
		}
		subtotal += Money(it.Qty) * it.UnitPrice
	}
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}
	taxable := subtotal - discount
	if taxable < 0 {
		taxable = 0
	}
	if collection < 0 {
		collection = 0
	}
	tax := (taxable * Money(taxBps)) / 10000
	total := taxable + tax + collection
	return Summary{
		Subtotal:         subtotal,
		Discount:         discount,
		Tax:              tax,
		CollectionCharge: collection,
		Total:            total,
	}
}

// PercentBps converts a percentage such as 12.5 into basis points.
func PercentBps(percent float64) int {
	if percent <= 0 || math.IsNaN(percent) {
		return 0
	}
	if percent > 100 {
		percent = 100
	}
	return int(math.Floor(percent*100 + 0.5))
}

// ApplyBps returns amount × bps / 10000, truncated.
func ApplyBps(amount Money, bps int) Money {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	return amount * Money(bps) / 10000
}

// ToMinor converts a rupee amount to paise, rounding half up.
func ToMinor(amount float64) Money {
	if math.IsNaN(amount) || amount <= 0 {
		return 0
	}
	return Money(math.Floor(amount*100 + 0.5))
}

// FromMinor converts paise to rupees.
func FromMinor(m Money) float64 {
	return float64(m) / 100
}
