package pointsclient

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses a client reacts to.
const (
	StatusWaitingPayment      = "waiting_payment"
	StatusWaitingConfirmation = "waiting_confirmation"
	StatusCompleted           = "completed"
	StatusCancelled           = "cancelled"
)

// Payment methods accepted by PlaceOrder.
const (
	PaymentBankTransfer = "bank_transfer"
	PaymentCOD          = "cod"
)

// ItemRequest is a cart line.
type ItemRequest struct {
	ProductID    string `json:"productId"`
	Quantity     int    `json:"quantity"`
	VariantName  string `json:"variantName,omitempty"`
	VariantValue string `json:"variantValue,omitempty"`
}

type Address struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
}

// QuoteRequest asks for a price preview.
type QuoteRequest struct {
	Items       []ItemRequest `json:"items"`
	CouponCode  string        `json:"couponCode,omitempty"`
	PointsToUse int64         `json:"pointsToUse,omitempty"`
}

// PlaceOrderRequest creates a product order.
type PlaceOrderRequest struct {
	Items           []ItemRequest `json:"items"`
	CouponCode      string        `json:"couponCode,omitempty"`
	PointsToUse     int64         `json:"pointsToUse,omitempty"`
	PaymentMethod   string        `json:"paymentMethod"`
	ShippingAddress Address       `json:"shippingAddress"`
}

type Item struct {
	ProductID    string          `json:"productId,omitempty"`
	Name         string          `json:"name"`
	Image        string          `json:"image,omitempty"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	Quantity     int             `json:"quantity"`
	VariantName  string          `json:"variantName,omitempty"`
	VariantValue string          `json:"variantValue,omitempty"`
	Points       int64           `json:"points,omitempty"`
}

type PaymentConfirmation struct {
	ImageURL      string     `json:"imageUrl"`
	Note          string     `json:"note,omitempty"`
	SubmittedAt   time.Time  `json:"submittedAt"`
	ReviewedBy    string     `json:"reviewedBy,omitempty"`
	ReviewedAt    *time.Time `json:"reviewedAt,omitempty"`
	RejectionNote string     `json:"rejectionNote,omitempty"`
}

type Order struct {
	ID                  string               `json:"id"`
	Number              int64                `json:"number"`
	UserID              string               `json:"userId"`
	Type                string               `json:"orderType"`
	Items               []Item               `json:"items"`
	Subtotal            decimal.Decimal      `json:"subtotal"`
	DiscountAmount      decimal.Decimal      `json:"discountAmount"`
	ShippingCost        decimal.Decimal      `json:"shippingCost"`
	FreeShipping        bool                 `json:"freeShipping"`
	PointsUsed          int64                `json:"pointsUsed"`
	PointsValue         decimal.Decimal      `json:"pointsValue"`
	PointPrice          decimal.Decimal      `json:"pointPrice"`
	PointsEarned        int64                `json:"pointsEarned"`
	TotalAmount         decimal.Decimal      `json:"totalAmount"`
	CouponCode          string               `json:"couponCode,omitempty"`
	PaymentMethod       string               `json:"paymentMethod"`
	Status              string               `json:"status"`
	PaymentStatus       string               `json:"paymentStatus"`
	ShippingAddress     Address              `json:"shippingAddress"`
	TrackingNumber      string               `json:"trackingNumber,omitempty"`
	PaymentConfirmation *PaymentConfirmation `json:"paymentConfirmation,omitempty"`
	PointsRefunded      bool                 `json:"pointsRefunded"`
	CreatedAt           time.Time            `json:"createdAt"`
	UpdatedAt           time.Time            `json:"updatedAt"`
}

// Terminal reports whether the order can no longer change status.
func (o *Order) Terminal() bool {
	return o.Status == StatusCompleted || o.Status == StatusCancelled
}

type OrderList struct {
	Orders []Order `json:"orders"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

type Breakdown struct {
	Subtotal     decimal.Decimal `json:"subtotal"`
	Discount     decimal.Decimal `json:"discountAmount"`
	ShippingCost decimal.Decimal `json:"shippingCost"`
	PointsUsed   int64           `json:"pointsUsed"`
	PointsValue  decimal.Decimal `json:"pointsValue"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
}

type Coupon struct {
	Code           string          `json:"code"`
	DiscountType   string          `json:"discountType"`
	Value          decimal.Decimal `json:"value"`
	MinOrderAmount decimal.Decimal `json:"minOrderAmount"`
	Description    string          `json:"description,omitempty"`
}

type Quote struct {
	Items          []Item          `json:"items"`
	Pricing        Breakdown       `json:"pricing"`
	Coupon         *Coupon         `json:"coupon,omitempty"`
	IsFreeShipping bool            `json:"isFreeShipping"`
	PointPrice     decimal.Decimal `json:"pointPrice"`
	PointsEarned   int64           `json:"pointsEarned"`
}

type CouponItem struct {
	ProductID string          `json:"productId"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

type CouponCheck struct {
	Coupon         Coupon          `json:"coupon"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	IsFreeShipping bool            `json:"isFreeShipping"`
}

type Entry struct {
	ID        string    `json:"id"`
	Amount    int64     `json:"amount"`
	Kind      string    `json:"kind"`
	Reason    string    `json:"reason"`
	Note      string    `json:"note,omitempty"`
	OrderID   string    `json:"orderId,omitempty"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"createdAt"`
}

type History struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

type PointPrice struct {
	Price     decimal.Decimal `json:"price"`
	UpdatedAt *time.Time      `json:"updatedAt,omitempty"`
	UpdatedBy string          `json:"updatedBy,omitempty"`
}
