package handler

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/xenking/pointshop/internal/domain/order"
)

// QuoteOrder prices a cart without placing it.
func (h *Handler) QuoteOrder(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	// Customers always pay the configured shipping rate.
	req.ShippingCost = nil
	h.quote(w, r, UserFromContext(r.Context()), req)
}

// AdminQuoteOrder prices an order for the admin order builder, which may
// override the shipping cost.
func (h *Handler) AdminQuoteOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		quoteRequest
		UserID string `json:"userId"`
	}
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.quote(w, r, req.UserID, req.quoteRequest)
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request, userID string, req quoteRequest) {
	q, err := h.orders.Quote(r.Context(), order.QuoteRequest{
		UserID:       userID,
		Items:        toItemRequests(req.Items),
		CouponCode:   req.CouponCode,
		PointsToUse:  req.PointsToUse,
		ShippingCost: req.ShippingCost,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := quoteResponse{
		Items:        h.toItemResponses(q.Items),
		Pricing:      toBreakdownResponse(q.Breakdown),
		PointPrice:   q.PointPrice,
		PointsEarned: q.PointsEarned,
	}
	if q.Coupon != nil {
		c := toCouponResponse(&q.Coupon.Rule)
		resp.Coupon = &c
		resp.IsFreeShipping = q.Coupon.Discount.FreeShipping
	}
	writeJSON(w, http.StatusOK, resp)
}

// PlaceOrder creates a product order from the cart.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.PlaceOrder(r.Context(), order.PlaceRequest{
		UserID:          UserFromContext(r.Context()),
		Items:           toItemRequests(req.Items),
		CouponCode:      req.CouponCode,
		PointsToUse:     req.PointsToUse,
		PaymentMethod:   order.PaymentMethod(req.PaymentMethod),
		ShippingAddress: req.ShippingAddress.toDomain(),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toOrderResponse(o))
}

// BuyPoints creates a points top-up order.
func (h *Handler) BuyPoints(w http.ResponseWriter, r *http.Request) {
	var req buyPointsRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.BuyPoints(r.Context(), order.BuyPointsRequest{
		UserID: UserFromContext(r.Context()),
		Amount: req.Amount,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toOrderResponse(o))
}

// ListOrders lists the caller's orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	f.UserID = UserFromContext(r.Context())
	h.list(w, r, f)
}

// AdminListOrders lists all orders, optionally filtered by user.
func (h *Handler) AdminListOrders(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	f.UserID = r.URL.Query().Get("userId")
	h.list(w, r, f)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, f order.Filter) {
	f = f.Normalize()
	orders, total, err := h.orders.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := orderListResponse{
		Orders: make([]orderResponse, len(orders)),
		Total:  total,
		Limit:  f.Limit,
		Offset: f.Offset,
	}
	for i := range orders {
		resp.Orders[i] = h.toOrderResponse(&orders[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetOrder returns one of the caller's orders.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	h.get(w, r, UserFromContext(r.Context()))
}

// AdminGetOrder returns any order.
func (h *Handler) AdminGetOrder(w http.ResponseWriter, r *http.Request) {
	h.get(w, r, "")
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request, userID string) {
	o, err := h.orders.Get(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toOrderResponse(o))
}

// SubmitPaymentProof attaches a bank transfer proof to the caller's order.
func (h *Handler) SubmitPaymentProof(w http.ResponseWriter, r *http.Request) {
	var req paymentProofRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.SubmitPaymentProof(r.Context(), order.ProofRequest{
		UserID:   UserFromContext(r.Context()),
		OrderID:  req.OrderID,
		ImageURL: req.PaymentImage,
		Note:     req.Note,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toOrderResponse(o))
}

// CancelOrder cancels one of the caller's orders.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	user := UserFromContext(r.Context())
	o, err := h.orders.Cancel(r.Context(), order.CancelRequest{
		OrderID: mux.Vars(r)["id"],
		UserID:  user,
		Actor:   user,
		Reason:  req.Reason,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toOrderResponse(o))
}

// MarkDelivered reports a shipped order as delivered.
func (h *Handler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.MarkDelivered(r.Context(), UserFromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toOrderResponse(o))
}

// ConfirmDelivery completes a delivered order.
func (h *Handler) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.ConfirmDelivery(r.Context(), UserFromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toOrderResponse(o))
}

// AdminUpdateStatus moves an order along the status transition table.
func (h *Handler) AdminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.UpdateStatus(r.Context(), order.StatusRequest{
		OrderID:        mux.Vars(r)["id"],
		Actor:          actor(r.Context()),
		Status:         order.Status(req.Status),
		TrackingNumber: req.TrackingNumber,
		Reason:         req.Reason,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toOrderResponse(o))
}

// AdminUpdatePaymentStatus changes an order's payment status.
func (h *Handler) AdminUpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req paymentStatusRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.UpdatePaymentStatus(r.Context(), mux.Vars(r)["id"], actor(r.Context()),
		order.PaymentStatus(req.PaymentStatus))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toOrderResponse(o))
}

// AdminApprovePayment approves a submitted payment.
func (h *Handler) AdminApprovePayment(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.ApprovePayment(r.Context(), mux.Vars(r)["id"], actor(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toOrderResponse(o))
}

// AdminRejectPayment rejects a submitted payment with a note.
func (h *Handler) AdminRejectPayment(w http.ResponseWriter, r *http.Request) {
	var req rejectPaymentRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.RejectPayment(r.Context(), order.RejectRequest{
		OrderID: mux.Vars(r)["id"],
		Actor:   actor(r.Context()),
		Note:    req.Note,
		Cancel:  req.Cancel,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toOrderResponse(o))
}

// AdminEditOrder edits shipping details or reprices an order.
func (h *Handler) AdminEditOrder(w http.ResponseWriter, r *http.Request) {
	var req editOrderRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	edit := order.EditRequest{
		OrderID:        mux.Vars(r)["id"],
		Actor:          actor(r.Context()),
		TrackingNumber: req.TrackingNumber,
		ShippingCost:   req.ShippingCost,
		Items:          toItemRequests(req.Items),
		ClearCoupon:    req.ClearCoupon,
	}
	if req.ShippingAddress != nil {
		addr := req.ShippingAddress.toDomain()
		edit.ShippingAddress = &addr
	}
	o, err := h.orders.Edit(r.Context(), edit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toOrderResponse(o))
}

// AdminDeleteOrder removes an order.
func (h *Handler) AdminDeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.Delete(r.Context(), mux.Vars(r)["id"], actor(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseFilter(r *http.Request) (order.Filter, error) {
	q := r.URL.Query()
	f := order.Filter{
		Status:        order.Status(q.Get("status")),
		PaymentStatus: order.PaymentStatus(q.Get("paymentStatus")),
		Type:          order.Type(q.Get("orderType")),
	}
	if f.Type != "" && f.Type != order.TypeProduct && f.Type != order.TypePointsTopup {
		return f, badRequest("orderType: unknown %q", f.Type)
	}
	var err error
	if f.Limit, f.Offset, err = parsePage(r); err != nil {
		return f, err
	}
	return f, nil
}

func parsePage(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, badRequest("limit: must be a non-negative integer")
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, badRequest("offset: must be a non-negative integer")
		}
	}
	return limit, offset, nil
}
