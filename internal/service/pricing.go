package service

import (
	"github.com/shopspring/decimal"
)

// ── Pricing calculator ────────────────────────────────────────────────────────
// Pure functions. Values are carried at full precision and only rounded for
// presentation; equality between computed and declared totals uses Tolerance.

var (
	// Tolerance absorbs rounding drift between computed and declared amounts.
	Tolerance = decimal.NewFromFloat(0.01)

	hundred = decimal.NewFromInt(100)
)

// PricedLine is the input of SaleTotals.
type PricedLine struct {
	UnitPrice       decimal.Decimal
	Quantity        int
	DiscountPercent decimal.Decimal
}

// Totals is the pricing snapshot of a sale.
type Totals struct {
	LineTotals           []decimal.Decimal
	Subtotal             decimal.Decimal
	GlobalDiscountAmount decimal.Decimal
	Tip                  decimal.Decimal
	FinalTotal           decimal.Decimal
}

// LineTotal = unitPrice * quantity * (1 - discountPercent/100).
func LineTotal(unitPrice decimal.Decimal, quantity int, discountPercent decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(discountPercent.Div(hundred))
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Mul(factor)
}

// SaleTotals computes subtotal, global discount and final total.
// Inputs are validated: negative prices or tips, quantities below one and
// percents outside [0,100] are rejected with ErrInvalidInput.
func SaleTotals(lines []PricedLine, globalDiscountPercent, tip decimal.Decimal) (Totals, error) {
	if err := validPercent(globalDiscountPercent, "global discount"); err != nil {
		return Totals{}, err
	}
	if tip.IsNegative() {
		return Totals{}, invalidInput("tip cannot be negative")
	}

	t := Totals{LineTotals: make([]decimal.Decimal, 0, len(lines)), Subtotal: decimal.Zero, Tip: tip}
	for i, l := range lines {
		if l.Quantity < 1 {
			return Totals{}, invalidInput("line %d: quantity must be at least 1", i)
		}
		if l.UnitPrice.IsNegative() {
			return Totals{}, invalidInput("line %d: unit price cannot be negative", i)
		}
		if err := validPercent(l.DiscountPercent, "line discount"); err != nil {
			return Totals{}, err
		}
		lt := LineTotal(l.UnitPrice, l.Quantity, l.DiscountPercent)
		t.LineTotals = append(t.LineTotals, lt)
		t.Subtotal = t.Subtotal.Add(lt)
	}
	if t.Subtotal.IsNegative() {
		return Totals{}, invalidInput("subtotal cannot be negative")
	}

	t.GlobalDiscountAmount = t.Subtotal.Mul(globalDiscountPercent).Div(hundred)
	t.FinalTotal = t.Subtotal.Sub(t.GlobalDiscountAmount).Add(tip)
	return t, nil
}

// ProportionalRefund = (lineTotal / originalQuantity) * refundQuantity.
// Dividing by the original quantity keeps the per-unit rate stable across
// any order of partial refunds.
func ProportionalRefund(lineTotal decimal.Decimal, originalQuantity, refundQuantity int) decimal.Decimal {
	if originalQuantity <= 0 {
		return decimal.Zero
	}
	return lineTotal.Mul(decimal.NewFromInt(int64(refundQuantity))).Div(decimal.NewFromInt(int64(originalQuantity)))
}

// AmountsMatch reports |a-b| <= Tolerance.
func AmountsMatch(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

func validPercent(p decimal.Decimal, what string) error {
	if p.IsNegative() || p.GreaterThan(hundred) {
		return invalidInput("%s percent must be between 0 and 100", what)
	}
	return nil
}
