package order

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/pointshop/internal/domain/coupon"
	"github.com/xenking/pointshop/internal/domain/points"
	"github.com/xenking/pointshop/internal/domain/pricing"
)

// mutate loads the order locked inside a transaction, lets fn change it and
// stores the result guarded on the loaded status. fn reports whether it
// changed anything; unchanged orders are returned without a write.
func (s *Service) mutate(
	ctx context.Context,
	op, id, userID string,
	fn func(ctx context.Context, tx Tx, o *Order) (bool, error),
) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order."+op)
	defer span.End()

	var out *Order
	err := s.tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if userID != "" && o.UserID != userID {
			return ErrNotFound
		}

		from := o.Status
		changed, err := fn(ctx, tx, o)
		if err != nil {
			return err
		}
		if changed {
			o.UpdatedAt = s.now().UTC()
			if err := tx.Orders().Update(ctx, o, from); err != nil {
				return err
			}
		}
		out = o
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return out, nil
}

// transition moves o to status to, running the side effects attached to the
// target state. Preconditions are checked before any side effect.
func (s *Service) transition(ctx context.Context, tx Tx, o *Order, to Status, actor, reason string) error {
	if err := checkStatus(o, to); err != nil {
		return err
	}
	if to == StatusProcessing && o.PaymentMethod == PaymentBankTransfer && o.PaymentStatus != PaymentPaid {
		return &IllegalTransitionError{Field: FieldStatus, From: string(o.Status), To: string(to)}
	}
	if to == StatusCompleted && o.Type == TypePointsTopup && o.PaymentStatus != PaymentPaid {
		return &IllegalTransitionError{Field: FieldStatus, From: string(o.Status), To: string(to)}
	}

	from := o.Status
	switch to {
	case StatusCancelled:
		if err := s.refund(ctx, tx, o); err != nil {
			return err
		}
		o.Cancellation = &Cancellation{At: s.now().UTC(), Reason: reason, Actor: actor}
		if o.PaymentStatus == PaymentPaid {
			o.PaymentStatus = PaymentRefunded
		}
	case StatusCompleted:
		if o.PaymentMethod == PaymentCOD && o.PaymentStatus != PaymentPaid {
			o.PaymentStatus = PaymentPaid
		}
		if err := s.credit(ctx, tx, o); err != nil {
			return err
		}
	}
	o.Status = to

	s.metrics.transition(ctx, from, to)
	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", o.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor", actor),
	)
	return nil
}

// credit awards o.PointsEarned at most once.
func (s *Service) credit(ctx context.Context, tx Tx, o *Order) error {
	if o.PointsEarned <= 0 || o.PointsCredited {
		return nil
	}
	reason := points.ReasonOrderCompleted
	if o.Type == TypePointsTopup {
		reason = points.ReasonPurchaseCredit
	}
	if _, err := points.NewLedger(tx.Points()).Credit(ctx, points.Mutation{
		UserID:  o.UserID,
		Amount:  o.PointsEarned,
		Reason:  reason,
		OrderID: o.ID,
	}); err != nil {
		return errors.Wrap(err, "credit earned points")
	}
	o.PointsCredited = true
	s.metrics.pointsMoved(ctx, string(reason), o.PointsEarned)
	return nil
}

// refund returns o.PointsUsed at most once.
func (s *Service) refund(ctx context.Context, tx Tx, o *Order) error {
	if o.PointsUsed <= 0 || o.PointsRefunded {
		return nil
	}
	if _, err := points.NewLedger(tx.Points()).Refund(ctx, points.Mutation{
		UserID:  o.UserID,
		Amount:  o.PointsUsed,
		Reason:  points.ReasonOrderCancelRefund,
		OrderID: o.ID,
	}); err != nil {
		return errors.Wrap(err, "refund redeemed points")
	}
	o.PointsRefunded = true
	s.metrics.pointsMoved(ctx, string(points.ReasonOrderCancelRefund), o.PointsUsed)
	return nil
}

// ProofRequest is a customer's proof of a bank transfer.
type ProofRequest struct {
	UserID   string
	OrderID  string
	ImageURL string
	Note     string
}

// SubmitPaymentProof attaches the proof and moves the order to
// waiting_confirmation. Payment status is left for the reviewer.
func (s *Service) SubmitPaymentProof(ctx context.Context, req ProofRequest) (*Order, error) {
	if strings.TrimSpace(req.ImageURL) == "" {
		return nil, invalid("payment_image", "required")
	}
	if req.OrderID == "" {
		return nil, invalid("order_id", "required")
	}
	return s.mutate(ctx, "SubmitPaymentProof", req.OrderID, req.UserID, func(ctx context.Context, tx Tx, o *Order) (bool, error) {
		if o.Status != StatusPending && o.Status != StatusWaitingPayment {
			return false, &IllegalTransitionError{
				Field: FieldStatus, From: string(o.Status), To: string(StatusWaitingConfirmation),
			}
		}
		if o.PaymentMethod != PaymentBankTransfer {
			return false, invalid("payment_method", "proof is only accepted for bank transfers")
		}
		if err := s.transition(ctx, tx, o, StatusWaitingConfirmation, req.UserID, ""); err != nil {
			return false, err
		}
		o.PaymentConfirmation = &PaymentConfirmation{
			ImageURL:    strings.TrimSpace(req.ImageURL),
			Note:        req.Note,
			SubmittedAt: s.now().UTC(),
		}
		return true, nil
	})
}

// ApprovePayment marks the order paid. Product orders awaiting payment move
// to processing; top-up orders complete and credit their points. Approving
// an already paid order changes nothing.
func (s *Service) ApprovePayment(ctx context.Context, id, actor string) (*Order, error) {
	return s.mutate(ctx, "ApprovePayment", id, "", func(ctx context.Context, tx Tx, o *Order) (bool, error) {
		return s.approve(ctx, tx, o, actor)
	})
}

func (s *Service) approve(ctx context.Context, tx Tx, o *Order, actor string) (bool, error) {
	if o.PaymentStatus == PaymentPaid {
		return false, nil
	}
	if o.Status == StatusCancelled {
		return false, &IllegalTransitionError{
			Field: FieldPaymentStatus, From: string(o.PaymentStatus), To: string(PaymentPaid),
		}
	}
	if err := checkPayment(o, PaymentPaid); err != nil {
		return false, err
	}

	target := StatusProcessing
	if o.Type == TypePointsTopup {
		target = StatusCompleted
	}
	advance := o.Status.Cancellable()
	if advance {
		if err := checkStatus(o, target); err != nil {
			return false, err
		}
	}

	o.PaymentStatus = PaymentPaid
	if o.PaymentConfirmation != nil {
		reviewedAt := s.now().UTC()
		o.PaymentConfirmation.ReviewedBy = actor
		o.PaymentConfirmation.ReviewedAt = &reviewedAt
		o.PaymentConfirmation.RejectionNote = ""
	}
	if advance {
		if err := s.transition(ctx, tx, o, target, actor, ""); err != nil {
			return false, err
		}
	}
	zctx.From(ctx).Info("Payment approved", zap.String("order_id", o.ID), zap.String("actor", actor))
	return true, nil
}

// RejectRequest is an administrator's rejection of a payment proof.
type RejectRequest struct {
	OrderID string
	Actor   string
	Note    string
	// Cancel cancels the order instead of returning it to waiting_payment.
	Cancel bool
}

// RejectPayment refuses a submitted proof. The order returns to
// waiting_payment so the customer can resubmit, or is cancelled with a
// one-time points refund.
func (s *Service) RejectPayment(ctx context.Context, req RejectRequest) (*Order, error) {
	if strings.TrimSpace(req.Note) == "" {
		return nil, invalid("note", "required")
	}
	return s.mutate(ctx, "RejectPayment", req.OrderID, "", func(ctx context.Context, tx Tx, o *Order) (bool, error) {
		if o.Status != StatusWaitingConfirmation {
			to := StatusWaitingPayment
			if req.Cancel {
				to = StatusCancelled
			}
			return false, &IllegalTransitionError{Field: FieldStatus, From: string(o.Status), To: string(to)}
		}

		reviewedAt := s.now().UTC()
		if o.PaymentConfirmation != nil {
			o.PaymentConfirmation.ReviewedBy = req.Actor
			o.PaymentConfirmation.ReviewedAt = &reviewedAt
			o.PaymentConfirmation.RejectionNote = req.Note
		}

		if req.Cancel {
			if err := checkPayment(o, PaymentFailed); err != nil {
				return false, err
			}
			if err := s.transition(ctx, tx, o, StatusCancelled, req.Actor, req.Note); err != nil {
				return false, err
			}
			o.PaymentStatus = PaymentFailed
			return true, nil
		}

		if err := s.transition(ctx, tx, o, StatusWaitingPayment, req.Actor, ""); err != nil {
			return false, err
		}
		if o.PaymentStatus == PaymentWaitingConfirmation {
			o.PaymentStatus = PaymentPending
		}
		return true, nil
	})
}

// StatusRequest is an administrator's explicit status change.
type StatusRequest struct {
	OrderID        string
	Actor          string
	Status         Status
	TrackingNumber string
	Reason         string
}

// UpdateStatus moves the order along the transition table.
func (s *Service) UpdateStatus(ctx context.Context, req StatusRequest) (*Order, error) {
	if !req.Status.Valid() {
		return nil, invalid("status", "unknown status")
	}
	return s.mutate(ctx, "UpdateStatus", req.OrderID, "", func(ctx context.Context, tx Tx, o *Order) (bool, error) {
		if err := s.transition(ctx, tx, o, req.Status, req.Actor, req.Reason); err != nil {
			return false, err
		}
		if req.Status == StatusShipped && req.TrackingNumber != "" {
			o.TrackingNumber = req.TrackingNumber
		}
		return true, nil
	})
}

// UpdatePaymentStatus sets the payment status. Setting paid behaves like
// ApprovePayment.
func (s *Service) UpdatePaymentStatus(ctx context.Context, id, actor string, to PaymentStatus) (*Order, error) {
	if !to.Valid() {
		return nil, invalid("payment_status", "unknown payment status")
	}
	return s.mutate(ctx, "UpdatePaymentStatus", id, "", func(ctx context.Context, tx Tx, o *Order) (bool, error) {
		if to == PaymentPaid {
			return s.approve(ctx, tx, o, actor)
		}
		if err := checkPayment(o, to); err != nil {
			return false, err
		}
		zctx.From(ctx).Info("Payment status changed",
			zap.String("order_id", o.ID),
			zap.String("from", string(o.PaymentStatus)),
			zap.String("to", string(to)),
			zap.String("actor", actor),
		)
		o.PaymentStatus = to
		return true, nil
	})
}

// MarkDelivered lets the customer report a shipped order as delivered.
func (s *Service) MarkDelivered(ctx context.Context, userID, id string) (*Order, error) {
	return s.mutate(ctx, "MarkDelivered", id, userID, func(ctx context.Context, tx Tx, o *Order) (bool, error) {
		return true, s.transition(ctx, tx, o, StatusDelivered, userID, "")
	})
}

// ConfirmDelivery lets the customer confirm receipt, completing the order
// and crediting earned points.
func (s *Service) ConfirmDelivery(ctx context.Context, userID, id string) (*Order, error) {
	return s.mutate(ctx, "ConfirmDelivery", id, userID, func(ctx context.Context, tx Tx, o *Order) (bool, error) {
		return true, s.transition(ctx, tx, o, StatusCompleted, userID, "")
	})
}

// CancelRequest cancels an order. UserID scopes the cancellation to the
// customer's own orders; administrators leave it empty.
type CancelRequest struct {
	OrderID string
	UserID  string
	Actor   string
	Reason  string
}

// Cancel cancels an order that has not entered fulfillment, refunding
// redeemed points once. Cancelling again is an illegal transition.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) (*Order, error) {
	actor := req.Actor
	if actor == "" {
		actor = req.UserID
	}
	return s.mutate(ctx, "Cancel", req.OrderID, req.UserID, func(ctx context.Context, tx Tx, o *Order) (bool, error) {
		return true, s.transition(ctx, tx, o, StatusCancelled, actor, strings.TrimSpace(req.Reason))
	})
}

// EditRequest is an administrator's edit. Nil fields are left unchanged.
type EditRequest struct {
	OrderID         string
	Actor           string
	ShippingAddress *Address
	TrackingNumber  *string
	ShippingCost    *decimal.Decimal
	Items           []ItemRequest
	// ClearCoupon removes the order's coupon and its discount. The use it
	// consumed stays counted.
	ClearCoupon bool
}

func (r EditRequest) repricing() bool {
	return r.Items != nil || r.ShippingCost != nil || r.ClearCoupon
}

// Edit updates an order. Changes to priced fields re-run the pricing with
// the order's own point price and fail with ErrPricingFrozen once
// fulfillment has begun.
func (s *Service) Edit(ctx context.Context, req EditRequest) (*Order, error) {
	if req.ShippingAddress != nil {
		if err := req.ShippingAddress.validate(); err != nil {
			return nil, err
		}
	}
	var items []Item
	if req.Items != nil {
		var err error
		if items, err = s.snapshotItems(ctx, req.Items); err != nil {
			return nil, err
		}
	}

	return s.mutate(ctx, "Edit", req.OrderID, "", func(ctx context.Context, tx Tx, o *Order) (bool, error) {
		if req.repricing() {
			if o.Status.Fulfilling() || o.Status == StatusCancelled {
				return false, ErrPricingFrozen
			}
			if o.Type == TypePointsTopup {
				return false, invalid("items", "top-up orders cannot be repriced")
			}
			if req.ClearCoupon {
				o.CouponCode = ""
			}
			if err := s.reprice(ctx, tx, o, items, req.ShippingCost); err != nil {
				return false, err
			}
		}
		if req.ShippingAddress != nil {
			o.ShippingAddress = *req.ShippingAddress
		}
		if req.TrackingNumber != nil {
			o.TrackingNumber = strings.TrimSpace(*req.TrackingNumber)
		}
		zctx.From(ctx).Info("Order edited",
			zap.String("order_id", o.ID),
			zap.String("actor", req.Actor),
			zap.Bool("repriced", req.repricing()),
			zap.Bool("coupon_cleared", req.ClearCoupon),
		)
		return true, nil
	})
}

// reprice recomputes an order's totals. The coupon already consumed by the
// order is re-applied without re-checking usage limits.
func (s *Service) reprice(ctx context.Context, tx Tx, o *Order, items []Item, shipping *decimal.Decimal) error {
	if items == nil {
		items = o.Items
	}
	base := o.ShippingCost
	if o.FreeShipping {
		base = s.cfg.ShippingFlatRate
	}
	if shipping != nil {
		base = *shipping
	}

	lines := make([]pricing.Line, len(items))
	for i, it := range items {
		lines[i] = pricing.Line{UnitPrice: it.UnitPrice, Quantity: it.Quantity}
	}
	subtotal := pricing.Subtotal(lines)

	var res *coupon.Result
	if o.CouponCode != "" {
		rule, err := tx.Coupons().FindByCode(ctx, o.CouponCode)
		if err != nil {
			return errors.Wrap(err, "lookup coupon")
		}
		if subtotal.LessThan(rule.MinOrderAmount) {
			return errors.Wrapf(coupon.ErrCouponIneligible, "minimum order amount is %s", rule.MinOrderAmount)
		}
		d, err := coupon.Apply(rule, subtotal)
		if err != nil {
			return err
		}
		res = &coupon.Result{Rule: *rule, Discount: d}
	}

	pin := pricing.Input{
		Lines:        lines,
		ShippingCost: base,
		PointsUsed:   o.PointsUsed,
		PointPrice:   o.PointPrice,
		AllowPartial: s.cfg.AllowPartialPointCoverage,
	}
	if res != nil {
		pin.Discount = res.Discount.Amount
		pin.FreeShipping = res.Discount.FreeShipping
	}
	b, err := pricing.Calculate(pin)
	if err != nil {
		return err
	}

	o.Items = items
	o.applyBreakdown(b, res)
	o.PointsEarned = pricing.Earned(b.Total, s.cfg.EarnRate)
	return nil
}
