package handler

import (
	"net/http"

	"github.com/xenking/pointshop/internal/domain/coupon"
)

// ValidateCoupon previews a coupon against an order amount. Usage counters
// are not touched.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	items := make([]coupon.Item, len(req.OrderItems))
	for i, it := range req.OrderItems {
		items[i] = coupon.Item{ProductID: it.ProductID, Price: it.Price, Quantity: it.Quantity}
	}
	res, err := h.coupons.Evaluate(r.Context(), coupon.Request{
		Code:     req.Code,
		UserID:   UserFromContext(r.Context()),
		Subtotal: req.OrderAmount,
		Items:    items,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, validateCouponResponse{
		Coupon:         toCouponResponse(&res.Rule),
		DiscountAmount: res.Discount.Amount,
		IsFreeShipping: res.Discount.FreeShipping,
	})
}
