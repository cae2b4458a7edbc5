package billing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeCapsDiscountAndChargesTaxOnRemainder(t *testing.T) {
	items := []Item{{Qty: 2, UnitPrice: 45000}, {Qty: 1, UnitPrice: 70000}, {Qty: 0, UnitPrice: 99999}}

	s := Compute(items, 16000, 1800, 15000)
	require.Equal(t, Summary{Subtotal: 160000, Discount: 16000, Tax: 25920, CollectionCharge: 15000, Total: 184920}, s)

	capped := Compute(items, 500000, 1800, 0)
	require.Equal(t, Money(160000), capped.Discount)
	require.Zero(t, capped.Tax)
	require.Zero(t, capped.Total)
}

func TestMinorUnitConversions(t *testing.T) {
	require.Equal(t, Money(42750), ToMinor(427.5))
	require.Equal(t, Money(1013), ToMinor(10.125))
	require.Zero(t, ToMinor(-3))
	require.Equal(t, 386.4, FromMinor(38640))

	require.Equal(t, 1250, PercentBps(12.5))
	require.Equal(t, 10000, PercentBps(140))
	require.Zero(t, PercentBps(-1))
	require.Equal(t, Money(160), ApplyBps(1600, 1000))
}
