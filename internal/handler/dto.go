package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/pointshop/internal/domain/coupon"
	"github.com/xenking/pointshop/internal/domain/order"
	"github.com/xenking/pointshop/internal/domain/points"
	"github.com/xenking/pointshop/internal/domain/pricing"
	"github.com/xenking/pointshop/internal/domain/product"
)

// Requests.

type itemRequest struct {
	ProductID    string `json:"productId" validate:"required"`
	Quantity     int    `json:"quantity" validate:"required,min=1"`
	VariantName  string `json:"variantName"`
	VariantValue string `json:"variantValue" validate:"required_with=VariantName"`
}

type addressRequest struct {
	Name       string `json:"name" validate:"required"`
	Phone      string `json:"phone" validate:"required"`
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2"`
	City       string `json:"city" validate:"required"`
	PostalCode string `json:"postalCode" validate:"required"`
}

type quoteRequest struct {
	Items        []itemRequest    `json:"items" validate:"required,min=1,dive"`
	CouponCode   string           `json:"couponCode"`
	PointsToUse  int64            `json:"pointsToUse" validate:"min=0"`
	ShippingCost *decimal.Decimal `json:"shippingCost"`
}

type placeOrderRequest struct {
	Items           []itemRequest  `json:"items" validate:"required,min=1,dive"`
	CouponCode      string         `json:"couponCode"`
	PointsToUse     int64          `json:"pointsToUse" validate:"min=0"`
	PaymentMethod   string         `json:"paymentMethod" validate:"required,oneof=bank_transfer cod"`
	ShippingAddress addressRequest `json:"shippingAddress"`
}

type buyPointsRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type paymentProofRequest struct {
	OrderID      string `json:"orderId" validate:"required"`
	PaymentImage string `json:"paymentImage" validate:"required"`
	Note         string `json:"note" validate:"max=1000"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type couponItemRequest struct {
	ProductID string          `json:"productId"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity" validate:"min=1"`
}

type validateCouponRequest struct {
	Code        string              `json:"code" validate:"required"`
	OrderAmount decimal.Decimal     `json:"orderAmount"`
	OrderItems  []couponItemRequest `json:"orderItems" validate:"dive"`
}

type spendPointsRequest struct {
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Reason string `json:"reason" validate:"required,oneof=suggestion-package-purchase"`
	Note   string `json:"note" validate:"max=500"`
}

type grantPointsRequest struct {
	UserID string `json:"userId" validate:"required"`
	Amount int64  `json:"amount" validate:"required,ne=0"`
	Note   string `json:"note" validate:"max=500"`
}

type pointPriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

type statusRequest struct {
	Status         string `json:"status" validate:"required"`
	TrackingNumber string `json:"trackingNumber"`
	Reason         string `json:"reason"`
}

type paymentStatusRequest struct {
	PaymentStatus string `json:"paymentStatus" validate:"required"`
}

type rejectPaymentRequest struct {
	Note   string `json:"note" validate:"required,max=1000"`
	Cancel bool   `json:"cancel"`
}

type editOrderRequest struct {
	ShippingAddress *addressRequest  `json:"shippingAddress"`
	TrackingNumber  *string          `json:"trackingNumber"`
	ShippingCost    *decimal.Decimal `json:"shippingCost"`
	Items           []itemRequest    `json:"items" validate:"omitempty,min=1,dive"`
	ClearCoupon     bool             `json:"clearCoupon"`
}

func (r itemRequest) toDomain() order.ItemRequest {
	return order.ItemRequest{
		ProductID:    r.ProductID,
		Quantity:     r.Quantity,
		VariantName:  r.VariantName,
		VariantValue: r.VariantValue,
	}
}

func toItemRequests(items []itemRequest) []order.ItemRequest {
	if items == nil {
		return nil
	}
	out := make([]order.ItemRequest, len(items))
	for i, it := range items {
		out[i] = it.toDomain()
	}
	return out
}

func (a addressRequest) toDomain() order.Address {
	return order.Address(a)
}

// Responses.

type itemResponse struct {
	ProductID    string          `json:"productId,omitempty"`
	Name         string          `json:"name"`
	Image        string          `json:"image,omitempty"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	Quantity     int             `json:"quantity"`
	VariantName  string          `json:"variantName,omitempty"`
	VariantValue string          `json:"variantValue,omitempty"`
	Points       int64           `json:"points,omitempty"`
}

type addressResponse struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
}

type paymentConfirmationResponse struct {
	ImageURL      string     `json:"imageUrl"`
	Note          string     `json:"note,omitempty"`
	SubmittedAt   time.Time  `json:"submittedAt"`
	ReviewedBy    string     `json:"reviewedBy,omitempty"`
	ReviewedAt    *time.Time `json:"reviewedAt,omitempty"`
	RejectionNote string     `json:"rejectionNote,omitempty"`
}

type cancellationResponse struct {
	At     time.Time `json:"at"`
	Reason string    `json:"reason"`
	Actor  string    `json:"actor"`
}

type orderResponse struct {
	ID                  string                       `json:"id"`
	Number              int64                        `json:"number"`
	UserID              string                       `json:"userId"`
	Type                string                       `json:"orderType"`
	Items               []itemResponse               `json:"items"`
	Subtotal            decimal.Decimal              `json:"subtotal"`
	DiscountAmount      decimal.Decimal              `json:"discountAmount"`
	ShippingCost        decimal.Decimal              `json:"shippingCost"`
	FreeShipping        bool                         `json:"freeShipping"`
	PointsUsed          int64                        `json:"pointsUsed"`
	PointsValue         decimal.Decimal              `json:"pointsValue"`
	PointPrice          decimal.Decimal              `json:"pointPrice"`
	PointsEarned        int64                        `json:"pointsEarned"`
	TotalAmount         decimal.Decimal              `json:"totalAmount"`
	CouponCode          string                       `json:"couponCode,omitempty"`
	PaymentMethod       string                       `json:"paymentMethod"`
	Status              string                       `json:"status"`
	PaymentStatus       string                       `json:"paymentStatus"`
	ShippingAddress     addressResponse              `json:"shippingAddress"`
	TrackingNumber      string                       `json:"trackingNumber,omitempty"`
	PaymentConfirmation *paymentConfirmationResponse `json:"paymentConfirmation,omitempty"`
	Cancellation        *cancellationResponse        `json:"cancellation,omitempty"`
	PointsRefunded      bool                         `json:"pointsRefunded"`
	CreatedAt           time.Time                    `json:"createdAt"`
	UpdatedAt           time.Time                    `json:"updatedAt"`
}

type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

type breakdownResponse struct {
	Subtotal     decimal.Decimal `json:"subtotal"`
	Discount     decimal.Decimal `json:"discountAmount"`
	ShippingCost decimal.Decimal `json:"shippingCost"`
	PointsUsed   int64           `json:"pointsUsed"`
	PointsValue  decimal.Decimal `json:"pointsValue"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
}

type quoteResponse struct {
	Items          []itemResponse    `json:"items"`
	Pricing        breakdownResponse `json:"pricing"`
	Coupon         *couponResponse   `json:"coupon,omitempty"`
	IsFreeShipping bool              `json:"isFreeShipping"`
	PointPrice     decimal.Decimal   `json:"pointPrice"`
	PointsEarned   int64             `json:"pointsEarned"`
}

type couponResponse struct {
	Code           string          `json:"code"`
	DiscountType   string          `json:"discountType"`
	Value          decimal.Decimal `json:"value"`
	MinOrderAmount decimal.Decimal `json:"minOrderAmount"`
	Description    string          `json:"description,omitempty"`
}

type validateCouponResponse struct {
	Coupon         couponResponse  `json:"coupon"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	IsFreeShipping bool            `json:"isFreeShipping"`
}

type balanceResponse struct {
	UserID  string `json:"userId"`
	Balance int64  `json:"balance"`
}

type entryResponse struct {
	ID        string    `json:"id"`
	Amount    int64     `json:"amount"`
	Kind      string    `json:"kind"`
	Reason    string    `json:"reason"`
	Note      string    `json:"note,omitempty"`
	OrderID   string    `json:"orderId,omitempty"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"createdAt"`
}

type historyResponse struct {
	Entries []entryResponse `json:"entries"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

type pointPriceResponse struct {
	Price     decimal.Decimal `json:"price"`
	UpdatedAt *time.Time      `json:"updatedAt,omitempty"`
	UpdatedBy string          `json:"updatedBy,omitempty"`
}

type productResponse struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Price    decimal.Decimal   `json:"price"`
	Category string            `json:"category"`
	Image    imageResponse     `json:"image"`
	Variants []variantResponse `json:"variants,omitempty"`
}

type imageResponse struct {
	Thumbnail string `json:"thumbnail"`
	Desktop   string `json:"desktop"`
}

type variantResponse struct {
	Name            string          `json:"name"`
	Value           string          `json:"value"`
	PriceAdjustment decimal.Decimal `json:"priceAdjustment"`
}

func (h *Handler) toItemResponses(items []order.Item) []itemResponse {
	out := make([]itemResponse, len(items))
	for i, it := range items {
		out[i] = itemResponse{
			ProductID:    it.ProductID,
			Name:         it.Name,
			Image:        h.imageURL(it.Image),
			UnitPrice:    it.UnitPrice,
			Quantity:     it.Quantity,
			VariantName:  it.VariantName,
			VariantValue: it.VariantValue,
			Points:       it.Points,
		}
	}
	return out
}

func (h *Handler) toOrderResponse(o *order.Order) orderResponse {
	resp := orderResponse{
		ID:              o.ID,
		Number:          o.Number,
		UserID:          o.UserID,
		Type:            string(o.Type),
		Items:           h.toItemResponses(o.Items),
		Subtotal:        o.Subtotal,
		DiscountAmount:  o.DiscountAmount,
		ShippingCost:    o.ShippingCost,
		FreeShipping:    o.FreeShipping,
		PointsUsed:      o.PointsUsed,
		PointsValue:     o.PointsValue,
		PointPrice:      o.PointPrice,
		PointsEarned:    o.PointsEarned,
		TotalAmount:     o.TotalAmount,
		CouponCode:      o.CouponCode,
		PaymentMethod:   string(o.PaymentMethod),
		Status:          string(o.Status),
		PaymentStatus:   string(o.PaymentStatus),
		ShippingAddress: addressResponse(o.ShippingAddress),
		TrackingNumber:  o.TrackingNumber,
		PointsRefunded:  o.PointsRefunded,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	if pc := o.PaymentConfirmation; pc != nil {
		resp.PaymentConfirmation = &paymentConfirmationResponse{
			ImageURL:      pc.ImageURL,
			Note:          pc.Note,
			SubmittedAt:   pc.SubmittedAt,
			ReviewedBy:    pc.ReviewedBy,
			ReviewedAt:    pc.ReviewedAt,
			RejectionNote: pc.RejectionNote,
		}
	}
	if c := o.Cancellation; c != nil {
		resp.Cancellation = &cancellationResponse{At: c.At, Reason: c.Reason, Actor: c.Actor}
	}
	return resp
}

func toBreakdownResponse(b pricing.Breakdown) breakdownResponse {
	return breakdownResponse{
		Subtotal:     b.Subtotal,
		Discount:     b.Discount,
		ShippingCost: b.Shipping,
		PointsUsed:   b.PointsUsed,
		PointsValue:  b.PointsValue,
		TotalAmount:  b.Total,
	}
}

func toCouponResponse(r *coupon.Rule) couponResponse {
	return couponResponse{
		Code:           r.Code,
		DiscountType:   string(r.DiscountType),
		Value:          r.Value,
		MinOrderAmount: r.MinOrderAmount,
		Description:    r.Description,
	}
}

func toEntryResponse(e points.Entry) entryResponse {
	return entryResponse{
		ID:        e.ID,
		Amount:    e.Amount,
		Kind:      string(e.Kind),
		Reason:    string(e.Reason),
		Note:      e.Note,
		OrderID:   e.OrderID,
		Balance:   e.Balance,
		CreatedAt: e.CreatedAt,
	}
}

func (h *Handler) toProductResponse(p product.Product) productResponse {
	resp := productResponse{
		ID:       p.ID,
		Name:     p.Name,
		Price:    p.Price,
		Category: p.Category,
		Image: imageResponse{
			Thumbnail: h.imageURL(p.Image.Thumbnail),
			Desktop:   h.imageURL(p.Image.Desktop),
		},
	}
	for _, v := range p.Variants {
		resp.Variants = append(resp.Variants, variantResponse(v))
	}
	return resp
}
