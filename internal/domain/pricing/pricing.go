// Package pricing composes an order's monetary total from its lines,
// discount, shipping cost and points redemption.
package pricing

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrOverRedemption is returned when the redeemed points are worth more
	// than the payable amount by at least one point.
	ErrOverRedemption = errors.New("points exceed order total")
	// ErrInvalidPointPrice is returned when points are redeemed against a
	// non-positive point price.
	ErrInvalidPointPrice = errors.New("point price must be positive")
)

// Line is a priced line item.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Input holds every value the total depends on. PointPrice is the currency
// amount equal to one point, fetched once per request by the caller.
type Input struct {
	Lines        []Line
	Discount     decimal.Decimal
	FreeShipping bool
	ShippingCost decimal.Decimal
	PointsUsed   int64
	PointPrice   decimal.Decimal
	// AllowPartial lets redeemed points exceed the payable amount, flooring
	// the total at zero instead of failing.
	AllowPartial bool
}

// Breakdown is the computed price of an order.
//
// Total = Subtotal - Discount + Shipping - PointsValue always holds.
type Breakdown struct {
	Subtotal    decimal.Decimal
	Discount    decimal.Decimal
	Shipping    decimal.Decimal
	PointsUsed  int64
	PointsValue decimal.Decimal
	Total       decimal.Decimal
}

// Subtotal returns the sum of quantity * unit price.
func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return sum
}

// Calculate computes the breakdown. It is a pure function of in.
func Calculate(in Input) (Breakdown, error) {
	subtotal := Subtotal(in.Lines)

	discount := in.Discount
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	discount = decimal.Min(discount, subtotal)

	shipping := in.ShippingCost
	if in.FreeShipping || shipping.IsNegative() {
		shipping = decimal.Zero
	}

	payable := subtotal.Sub(discount).Add(shipping)
	b := Breakdown{
		Subtotal:    subtotal,
		Discount:    discount,
		Shipping:    shipping,
		PointsUsed:  in.PointsUsed,
		PointsValue: decimal.Zero,
		Total:       payable,
	}
	if in.PointsUsed <= 0 {
		b.PointsUsed = 0
		return b, nil
	}
	if !in.PointPrice.IsPositive() {
		return Breakdown{}, ErrInvalidPointPrice
	}

	value := PointsValue(in.PointsUsed, in.PointPrice)
	if value.GreaterThan(payable) {
		// Overshoot below one point's worth is rounding slack.
		excess := value.Sub(payable)
		if excess.GreaterThanOrEqual(in.PointPrice) && !in.AllowPartial {
			return Breakdown{}, errors.Wrapf(ErrOverRedemption,
				"%d points worth %s exceed payable %s", in.PointsUsed, value, payable)
		}
		value = payable
	}
	b.PointsValue = value
	b.Total = payable.Sub(value)
	return b, nil
}

// PointsValue converts points to currency, rounded to whole units.
func PointsValue(points int64, pointPrice decimal.Decimal) decimal.Decimal {
	return pointPrice.Mul(decimal.NewFromInt(points)).Round(0)
}

// PointsFor returns how many whole points amount buys at pointPrice.
func PointsFor(amount, pointPrice decimal.Decimal) int64 {
	if !pointPrice.IsPositive() || !amount.IsPositive() {
		return 0
	}
	return amount.Div(pointPrice).Floor().IntPart()
}

// Earned returns floor(total * rate) points.
func Earned(total, rate decimal.Decimal) int64 {
	if !rate.IsPositive() || !total.IsPositive() {
		return 0
	}
	return total.Mul(rate).Floor().IntPart()
}
