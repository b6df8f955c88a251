package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the subtotal, capped at the subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixedAmount takes a fixed amount, capped at the subtotal.
	DiscountFixedAmount DiscountType = "fixed_amount"
	// DiscountFreeShipping zeroes the shipping cost and discounts nothing else.
	DiscountFreeShipping DiscountType = "free_shipping"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	switch t {
	case DiscountPercentage, DiscountFixedAmount, DiscountFreeShipping:
		return true
	default:
		return false
	}
}

var (
	// ErrCouponNotFound is returned when no active coupon matches the code.
	ErrCouponNotFound = errors.New("coupon not found")
	// ErrCouponIneligible is returned when the order does not satisfy the
	// coupon's minimum amount or the coupon is outside its validity window.
	ErrCouponIneligible = errors.New("coupon not eligible for this order")
	// ErrCouponExhausted is returned when the global or per-user usage limit
	// has been reached.
	ErrCouponExhausted = errors.New("coupon usage limit reached")
)

// Rule defines a coupon's discount behaviour and eligibility constraints.
type Rule struct {
	Code           string
	DiscountType   DiscountType
	Value          decimal.Decimal
	MinOrderAmount decimal.Decimal
	Description    string
	ValidFrom      *time.Time
	ValidUntil     *time.Time
	// MaxUses is the global usage limit; zero means unlimited.
	MaxUses int
	// MaxUsesPerUser is the per-user usage limit; zero means unlimited.
	MaxUsesPerUser int
	Uses           int
	Active         bool
}

// Discount is the outcome of applying a rule to a subtotal.
type Discount struct {
	Amount       decimal.Decimal
	FreeShipping bool
}

// Item represents a line item for eligibility and discount purposes.
type Item struct {
	ProductID string
	Price     decimal.Decimal
	Quantity  int
}

// Request describes a coupon evaluation.
type Request struct {
	Code     string
	UserID   string
	Subtotal decimal.Decimal
	Items    []Item
}

// Result holds the evaluated rule together with the computed discount.
type Result struct {
	Rule     Rule
	Discount Discount
}

// Repository provides lookup and consumption of coupons.
type Repository interface {
	// FindByCode returns the active coupon matching code case-insensitively,
	// or ErrCouponNotFound.
	FindByCode(ctx context.Context, code string) (*Rule, error)
	// CountUserUses returns how many finalized orders of userID consumed code.
	CountUserUses(ctx context.Context, code, userID string) (int, error)
	// Consume records a usage of code by userID for orderID. It returns
	// ErrCouponExhausted if the global or per-user limit was reached
	// concurrently.
	Consume(ctx context.Context, code, userID, orderID string) error
}
