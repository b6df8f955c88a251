package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Apply calculates the discount granted by rule on the given subtotal. It
// does not check eligibility; see Evaluator for that.
func Apply(rule *Rule, subtotal decimal.Decimal) (Discount, error) {
	if subtotal.IsNegative() {
		subtotal = decimal.Zero
	}

	switch rule.DiscountType {
	case DiscountPercentage:
		amount := subtotal.Mul(rule.Value).Div(hundred).Round(0)
		return Discount{Amount: capAmount(amount, subtotal)}, nil
	case DiscountFixedAmount:
		return Discount{Amount: capAmount(rule.Value, subtotal)}, nil
	case DiscountFreeShipping:
		return Discount{Amount: decimal.Zero, FreeShipping: true}, nil
	default:
		return Discount{}, errors.Errorf("unsupported discount type: %q", rule.DiscountType)
	}
}

// Subtotal returns the sum of price * quantity across items.
func Subtotal(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return sum
}

// capAmount clamps amount into [0, limit].
func capAmount(amount, limit decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(amount, limit)
}
