package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fieldline-dms/fieldline/internal/shared"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCalculateTotals(t *testing.T) {
	lines := []Line{
		{Quantity: dec("10"), UnitPrice: dec("5")},
		{Quantity: dec("5"), UnitPrice: dec("2")},
	}
	totals, err := Calculate(lines, dec("10"), decimal.Zero)
	require.NoError(t, err)
	require.True(t, totals.Subtotal.Equal(dec("60")), "subtotal %s", totals.Subtotal)
	require.True(t, totals.Tax.Equal(dec("6")), "tax %s", totals.Tax)
	require.True(t, totals.Total.Equal(dec("66")), "total %s", totals.Total)
}

func TestCalculateOrderIndependent(t *testing.T) {
	lines := []Line{
		{Quantity: dec("3"), UnitPrice: dec("19.99")},
		{Quantity: dec("7"), UnitPrice: dec("0.35")},
		{Quantity: dec("1"), UnitPrice: dec("1250.10")},
	}
	reversed := []Line{lines[2], lines[1], lines[0]}

	a, err := Calculate(lines, dec("7.5"), dec("4.44"))
	require.NoError(t, err)
	b, err := Calculate(reversed, dec("7.5"), dec("4.44"))
	require.NoError(t, err)
	require.True(t, a.Total.Equal(b.Total))
	require.True(t, a.Subtotal.Equal(b.Subtotal))
	require.True(t, a.Tax.Equal(b.Tax))
}

func TestNegativeInputsRejected(t *testing.T) {
	_, err := LineTotal(dec("-1"), dec("5"))
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = LineTotal(dec("1"), dec("-5"))
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = Tax(dec("100"), dec("-10"))
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = GrandTotal(dec("100"), dec("10"), dec("-1"))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestVariance(t *testing.T) {
	require.True(t, Variance(dec("4"), dec("5")).Equal(dec("-1")))
	require.True(t, Variance(dec("985.50"), dec("1000.00")).Equal(dec("-14.50")))

	sum, err := SumVariance(
		[]decimal.Decimal{dec("10"), dec("4")},
		[]decimal.Decimal{dec("10"), dec("5")},
	)
	require.NoError(t, err)
	require.True(t, sum.Equal(dec("-1")))

	_, err = SumVariance([]decimal.Decimal{dec("1")}, nil)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestFormatAmount(t *testing.T) {
	require.Equal(t, "1,234,567.50", FormatAmount(dec("1234567.5")))
	require.Equal(t, "-14.50", FormatAmount(dec("-14.5")))
}
