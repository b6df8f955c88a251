package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/pointshop/internal/domain/coupon"
	"github.com/xenking/pointshop/internal/domain/points"
)

// PaymentMethod is how the buyer pays for the order.
type PaymentMethod string

const (
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentCOD          PaymentMethod = "cod"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	return m == PaymentBankTransfer || m == PaymentCOD
}

// Type distinguishes shop orders from points top-ups.
type Type string

const (
	TypeProduct     Type = "product"
	TypePointsTopup Type = "points_topup"
)

// Order is a customer order with frozen pricing.
//
// TotalAmount = Subtotal - DiscountAmount + ShippingCost - PointsValue, where
// PointsValue is PointsUsed converted at PointPrice.
type Order struct {
	ID     string
	Number int64
	UserID string
	Type   Type
	Items  []Item

	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	ShippingCost   decimal.Decimal
	FreeShipping   bool
	PointsUsed     int64
	PointsValue    decimal.Decimal
	PointPrice     decimal.Decimal
	PointsEarned   int64
	TotalAmount    decimal.Decimal
	CouponCode     string

	PaymentMethod PaymentMethod
	Status        Status
	PaymentStatus PaymentStatus

	ShippingAddress     Address
	TrackingNumber      string
	PaymentConfirmation *PaymentConfirmation
	Cancellation        *Cancellation

	PointsRefunded bool
	PointsCredited bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item is a line item with a snapshot of the product at order time. A
// points top-up uses a single synthetic item without ProductID.
type Item struct {
	ProductID    string          `json:"product_id,omitempty"`
	Name         string          `json:"name"`
	Image        string          `json:"image,omitempty"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Quantity     int             `json:"quantity"`
	VariantName  string          `json:"variant_name,omitempty"`
	VariantValue string          `json:"variant_value,omitempty"`
	Points       int64           `json:"points,omitempty"`
}

// Address is the shipping destination.
type Address struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
}

// PaymentConfirmation is the customer-submitted proof of a bank transfer.
type PaymentConfirmation struct {
	ImageURL      string     `json:"image_url"`
	Note          string     `json:"note,omitempty"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	ReviewedBy    string     `json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty"`
	RejectionNote string     `json:"rejection_note,omitempty"`
}

// Cancellation records who cancelled an order and why.
type Cancellation struct {
	At     time.Time `json:"at"`
	Reason string    `json:"reason"`
	Actor  string    `json:"actor"`
}

// Filter narrows order listings. Empty fields match everything.
type Filter struct {
	UserID        string
	Status        Status
	PaymentStatus PaymentStatus
	Type          Type
	Limit         int
	Offset        int
}

// Repository defines persistence operations for orders.
type Repository interface {
	// NextNumber allocates the next human-readable order number.
	NextNumber(ctx context.Context) (int64, error)
	Create(ctx context.Context, o *Order) error
	// Get returns the order or ErrNotFound.
	Get(ctx context.Context, id string) (*Order, error)
	// GetForUpdate returns the order locked for the rest of the transaction.
	GetForUpdate(ctx context.Context, id string) (*Order, error)
	// Update stores o if its stored status still equals from, otherwise it
	// returns ErrConflict.
	Update(ctx context.Context, o *Order, from Status) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, f Filter) ([]Order, int, error)
}

// Tx exposes repositories bound to one transaction.
type Tx interface {
	Orders() Repository
	Points() points.Repository
	Coupons() coupon.Repository
}

// TxRunner runs fn in a transaction, committing when fn returns nil.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// PointPriceSource supplies the current point price.
type PointPriceSource interface {
	PointPrice(ctx context.Context) (decimal.Decimal, error)
}
