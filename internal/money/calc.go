// Package money implements the derived-value calculator shared by every
// entity family: line totals, header totals, tax, and variances. All
// arithmetic is decimal based; results never depend on line ordering.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fieldline-dms/fieldline/internal/shared"
)

// Line is a quantity/price pair used for total calculations.
type Line struct {
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
}

// Totals aggregates the derived monetary figures of a header.
type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

var oneHundred = decimal.NewFromInt(100)

// LineTotal returns quantity × unit price.
func LineTotal(quantity, unitPrice decimal.Decimal) (decimal.Decimal, error) {
	if quantity.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative quantity %s", shared.ErrValidation, quantity)
	}
	if unitPrice.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative unit price %s", shared.ErrValidation, unitPrice)
	}
	return quantity.Mul(unitPrice), nil
}

// Subtotal sums the line totals of all lines.
func Subtotal(lines []Line) (decimal.Decimal, error) {
	sum := decimal.Zero
	for i, line := range lines {
		total, err := LineTotal(line.Quantity, line.UnitPrice)
		if err != nil {
			return decimal.Zero, fmt.Errorf("line %d: %w", i+1, err)
		}
		sum = sum.Add(total)
	}
	return sum, nil
}

// Tax computes subtotal × rate / 100. The rate is a percentage.
func Tax(subtotal, ratePercent decimal.Decimal) (decimal.Decimal, error) {
	if ratePercent.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative tax rate %s", shared.ErrValidation, ratePercent)
	}
	return subtotal.Mul(ratePercent).Div(oneHundred), nil
}

// GrandTotal computes subtotal + tax − discount.
func GrandTotal(subtotal, tax, discount decimal.Decimal) (decimal.Decimal, error) {
	if discount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative discount %s", shared.ErrValidation, discount)
	}
	return subtotal.Add(tax).Sub(discount), nil
}

// Calculate derives all totals for a set of lines in one pass.
func Calculate(lines []Line, taxRatePercent, discount decimal.Decimal) (Totals, error) {
	subtotal, err := Subtotal(lines)
	if err != nil {
		return Totals{}, err
	}
	tax, err := Tax(subtotal, taxRatePercent)
	if err != nil {
		return Totals{}, err
	}
	total, err := GrandTotal(subtotal, tax, discount)
	if err != nil {
		return Totals{}, err
	}
	return Totals{Subtotal: subtotal, Tax: tax, Total: total}, nil
}

// Variance returns actual − planned. A missing actual is the caller's concern;
// variance itself is always derived, never stored directly.
func Variance(actual, planned decimal.Decimal) decimal.Decimal {
	return actual.Sub(planned)
}

// SumVariance sums per-line variances for a header-level figure.
func SumVariance(actuals, planned []decimal.Decimal) (decimal.Decimal, error) {
	if len(actuals) != len(planned) {
		return decimal.Zero, fmt.Errorf("%w: %d actuals vs %d planned", shared.ErrValidation, len(actuals), len(planned))
	}
	sum := decimal.Zero
	for i := range actuals {
		sum = sum.Add(Variance(actuals[i], planned[i]))
	}
	return sum, nil
}
