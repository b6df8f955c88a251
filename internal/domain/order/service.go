package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/pointshop/internal/domain/coupon"
	"github.com/xenking/pointshop/internal/domain/points"
	"github.com/xenking/pointshop/internal/domain/pricing"
	"github.com/xenking/pointshop/internal/domain/product"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	topupItemName   = "Points top-up"
)

// Config holds the pricing policy applied to every order.
type Config struct {
	// ShippingFlatRate is charged on product orders unless a coupon grants
	// free shipping.
	ShippingFlatRate decimal.Decimal
	// AllowPartialPointCoverage floors the total at zero when redeemed points
	// exceed it instead of rejecting the order.
	AllowPartialPointCoverage bool
	// EarnRate is the fraction of a product order's total awarded as points
	// on completion.
	EarnRate decimal.Decimal
}

// Options configures optional Service collaborators.
type Options struct {
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Deps are the collaborators a Service needs.
type Deps struct {
	Products product.Repository
	Coupons  coupon.Repository
	Orders   Repository
	Tx       TxRunner
	Prices   PointPriceSource
}

// Service owns order creation, pricing and the lifecycle state machine.
type Service struct {
	products product.Repository
	coupons  coupon.Repository
	orders   Repository
	tx       TxRunner
	prices   PointPriceSource
	cfg      Config

	now     func() time.Time
	tracer  trace.Tracer
	metrics *serviceMetrics
}

// NewService creates an order Service.
func NewService(deps Deps, cfg Config, opts Options) (*Service, error) {
	m, err := newServiceMetrics(opts.MeterProvider)
	if err != nil {
		return nil, errors.Wrap(err, "create metrics")
	}
	return &Service{
		products: deps.Products,
		coupons:  deps.Coupons,
		orders:   deps.Orders,
		tx:       deps.Tx,
		prices:   deps.Prices,
		cfg:      cfg,
		now:      time.Now,
		tracer:   tracerOrNoop(opts.TracerProvider),
		metrics:  m,
	}, nil
}

// ItemRequest is a requested line item.
type ItemRequest struct {
	ProductID    string
	Quantity     int
	VariantName  string
	VariantValue string
}

// QuoteRequest holds the input for a side-effect-free price preview.
type QuoteRequest struct {
	UserID      string
	Items       []ItemRequest
	CouponCode  string
	PointsToUse int64
	// ShippingCost overrides the flat rate, as in the admin order builder.
	ShippingCost *decimal.Decimal
}

// Quote is a priced preview of an order.
type Quote struct {
	Items        []Item
	Breakdown    pricing.Breakdown
	Coupon       *coupon.Result
	PointPrice   decimal.Decimal
	PointsEarned int64
}

// Quote prices an order without persisting anything or consuming coupons.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	ctx, span := s.tracer.Start(ctx, "order.Quote")
	defer span.End()

	if req.PointsToUse < 0 {
		return nil, invalid("points_to_use", "must not be negative")
	}
	items, err := s.snapshotItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	pointPrice, err := s.pointPriceFor(ctx, req.PointsToUse)
	if err != nil {
		return nil, err
	}

	shipping := s.cfg.ShippingFlatRate
	if req.ShippingCost != nil {
		shipping = *req.ShippingCost
	}
	b, res, err := s.price(ctx, coupon.NewRepoEvaluator(s.coupons), priceInput{
		userID:     req.UserID,
		items:      items,
		couponCode: req.CouponCode,
		shipping:   shipping,
		points:     req.PointsToUse,
		pointPrice: pointPrice,
	})
	if err != nil {
		return nil, err
	}
	return &Quote{
		Items:        items,
		Breakdown:    b,
		Coupon:       res,
		PointPrice:   pointPrice,
		PointsEarned: pricing.Earned(b.Total, s.cfg.EarnRate),
	}, nil
}

// PlaceRequest holds the input for placing a product order.
type PlaceRequest struct {
	UserID          string
	Items           []ItemRequest
	CouponCode      string
	PointsToUse     int64
	PaymentMethod   PaymentMethod
	ShippingAddress Address
}

func (r PlaceRequest) validate() error {
	if r.UserID == "" {
		return invalid("user_id", "required")
	}
	if !r.PaymentMethod.Valid() {
		return invalid("payment_method", fmt.Sprintf("unsupported %q", r.PaymentMethod))
	}
	if r.PointsToUse < 0 {
		return invalid("points_to_use", "must not be negative")
	}
	return r.ShippingAddress.validate()
}

func (a Address) validate() error {
	switch {
	case strings.TrimSpace(a.Name) == "":
		return invalid("shipping_address.name", "required")
	case strings.TrimSpace(a.Line1) == "":
		return invalid("shipping_address.line1", "required")
	case strings.TrimSpace(a.City) == "":
		return invalid("shipping_address.city", "required")
	}
	return nil
}

// PlaceOrder re-prices the order server-side, debits redeemed points,
// consumes the coupon and persists the order in one transaction. Nothing is
// stored when any step fails.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceRequest) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder")
	defer span.End()

	if err := req.validate(); err != nil {
		return nil, err
	}
	items, err := s.snapshotItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	pointPrice, err := s.pointPriceFor(ctx, req.PointsToUse)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	o := &Order{
		ID:              uuid.New().String(),
		UserID:          req.UserID,
		Type:            TypeProduct,
		Items:           items,
		CouponCode:      strings.ToUpper(strings.TrimSpace(req.CouponCode)),
		PointPrice:      pointPrice,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   PaymentPending,
		ShippingAddress: req.ShippingAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		b, res, err := s.price(ctx, coupon.NewRepoEvaluator(tx.Coupons()), priceInput{
			userID:     req.UserID,
			items:      items,
			couponCode: o.CouponCode,
			shipping:   s.cfg.ShippingFlatRate,
			points:     req.PointsToUse,
			pointPrice: pointPrice,
		})
		if err != nil {
			return err
		}
		o.applyBreakdown(b, res)
		o.PointsEarned = pricing.Earned(b.Total, s.cfg.EarnRate)
		o.Status = initialStatus(o)
		if o.TotalAmount.IsZero() {
			o.PaymentStatus = PaymentPaid
		}

		if o.PointsUsed > 0 {
			if _, err := points.NewLedger(tx.Points()).Debit(ctx, points.Mutation{
				UserID:  o.UserID,
				Amount:  o.PointsUsed,
				Reason:  points.ReasonOrderRedeemed,
				OrderID: o.ID,
			}); err != nil {
				return err
			}
		}

		if o.Number, err = tx.Orders().NextNumber(ctx); err != nil {
			return errors.Wrap(err, "next order number")
		}
		if err := tx.Orders().Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		if res != nil {
			if err := tx.Coupons().Consume(ctx, res.Rule.Code, o.UserID, o.ID); err != nil {
				return errors.Wrap(err, "consume coupon")
			}
		}
		return nil
	}); err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.metrics.orderCreated(ctx, o)
	if o.PointsUsed > 0 {
		s.metrics.pointsMoved(ctx, string(points.ReasonOrderRedeemed), o.PointsUsed)
	}
	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.Int64("number", o.Number),
		zap.String("status", string(o.Status)),
		zap.String("total", o.TotalAmount.String()),
	)
	return o, nil
}

// initialStatus is waiting_payment for bank transfers and pending for COD.
// Orders fully covered by points skip payment.
func initialStatus(o *Order) Status {
	switch {
	case o.TotalAmount.IsZero() && o.Type == TypeProduct:
		return StatusProcessing
	case o.PaymentMethod == PaymentCOD:
		return StatusPending
	default:
		return StatusWaitingPayment
	}
}

// BuyPointsRequest holds the input for a points top-up.
type BuyPointsRequest struct {
	UserID string
	Amount decimal.Decimal
}

// BuyPoints creates a points top-up order paid by bank transfer. The points
// are credited once an administrator approves the payment.
func (s *Service) BuyPoints(ctx context.Context, req BuyPointsRequest) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.BuyPoints")
	defer span.End()

	if req.UserID == "" {
		return nil, invalid("user_id", "required")
	}
	if !req.Amount.IsPositive() {
		return nil, invalid("amount", "must be positive")
	}
	pointPrice, err := s.prices.PointPrice(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get point price")
	}
	earned := pricing.PointsFor(req.Amount, pointPrice)
	if earned == 0 {
		return nil, invalid("amount", fmt.Sprintf("must buy at least one point (%s)", pointPrice))
	}

	now := s.now().UTC()
	o := &Order{
		ID:     uuid.New().String(),
		UserID: req.UserID,
		Type:   TypePointsTopup,
		Items: []Item{{
			Name:      topupItemName,
			UnitPrice: req.Amount,
			Quantity:  1,
			Points:    earned,
		}},
		Subtotal:       req.Amount,
		DiscountAmount: decimal.Zero,
		ShippingCost:   decimal.Zero,
		PointsValue:    decimal.Zero,
		PointPrice:     pointPrice,
		PointsEarned:   earned,
		TotalAmount:    req.Amount,
		PaymentMethod:  PaymentBankTransfer,
		Status:         StatusWaitingPayment,
		PaymentStatus:  PaymentPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if o.Number, err = tx.Orders().NextNumber(ctx); err != nil {
			return errors.Wrap(err, "next order number")
		}
		return tx.Orders().Create(ctx, o)
	}); err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "create top-up order")
	}

	s.metrics.orderCreated(ctx, o)
	zctx.From(ctx).Info("Points top-up ordered",
		zap.String("order_id", o.ID),
		zap.String("amount", req.Amount.String()),
		zap.Int64("points", earned),
	)
	return o, nil
}

// Get returns an order. A non-empty userID restricts the lookup to that
// user's orders.
func (s *Service) Get(ctx context.Context, id, userID string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != "" && o.UserID != userID {
		return nil, ErrNotFound
	}
	return o, nil
}

// Normalize clamps the page window to the allowed range.
func (f Filter) Normalize() Filter {
	switch {
	case f.Limit <= 0:
		f.Limit = defaultPageSize
	case f.Limit > maxPageSize:
		f.Limit = maxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// List returns a page of orders matching f, with the total count.
func (s *Service) List(ctx context.Context, f Filter) ([]Order, int, error) {
	f = f.Normalize()
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, invalid("status", fmt.Sprintf("unknown %q", f.Status))
	}
	if f.PaymentStatus != "" && !f.PaymentStatus.Valid() {
		return nil, 0, invalid("payment_status", fmt.Sprintf("unknown %q", f.PaymentStatus))
	}
	return s.orders.List(ctx, f)
}

// Delete physically removes an order. Ledger entries are kept.
func (s *Service) Delete(ctx context.Context, id, actor string) error {
	if err := s.tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Orders().GetForUpdate(ctx, id); err != nil {
			return err
		}
		return tx.Orders().Delete(ctx, id)
	}); err != nil {
		return err
	}
	zctx.From(ctx).Warn("Order deleted", zap.String("order_id", id), zap.String("actor", actor))
	return nil
}

func (s *Service) pointPriceFor(ctx context.Context, pointsToUse int64) (decimal.Decimal, error) {
	if pointsToUse <= 0 {
		return decimal.Zero, nil
	}
	p, err := s.prices.PointPrice(ctx)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "get point price")
	}
	return p, nil
}

// snapshotItems validates requested items and copies current product data
// onto them, fetching all products in a single batch.
func (s *Service) snapshotItems(ctx context.Context, reqs []ItemRequest) ([]Item, error) {
	if len(reqs) == 0 {
		return nil, invalid("items", "required")
	}

	ids := make([]string, 0, len(reqs))
	seen := make(map[string]struct{}, len(reqs))
	for i, r := range reqs {
		if r.ProductID == "" {
			return nil, invalid(fmt.Sprintf("items[%d].product_id", i), "required")
		}
		if r.Quantity <= 0 {
			return nil, invalid(fmt.Sprintf("items[%d].quantity", i), "must be greater than 0")
		}
		if _, ok := seen[r.ProductID]; !ok {
			seen[r.ProductID] = struct{}{}
			ids = append(ids, r.ProductID)
		}
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	items := make([]Item, len(reqs))
	for i, r := range reqs {
		p, ok := byID[r.ProductID]
		if !ok || !p.Active {
			return nil, &ProductNotFoundError{ProductID: r.ProductID}
		}
		price, err := p.UnitPrice(r.VariantName, r.VariantValue)
		if err != nil {
			return nil, invalid(fmt.Sprintf("items[%d].variant", i), err.Error())
		}
		items[i] = Item{
			ProductID:    p.ID,
			Name:         p.Name,
			Image:        p.Image.Thumbnail,
			UnitPrice:    price,
			Quantity:     r.Quantity,
			VariantName:  r.VariantName,
			VariantValue: r.VariantValue,
		}
	}
	return items, nil
}

type priceInput struct {
	userID     string
	items      []Item
	couponCode string
	shipping   decimal.Decimal
	points     int64
	pointPrice decimal.Decimal
}

// price runs the Coupon Evaluator and the Pricing Calculator. Every call
// site uses it so previews and submissions cannot drift.
func (s *Service) price(ctx context.Context, ev coupon.Evaluator, in priceInput) (pricing.Breakdown, *coupon.Result, error) {
	lines := make([]pricing.Line, len(in.items))
	couponItems := make([]coupon.Item, len(in.items))
	for i, it := range in.items {
		lines[i] = pricing.Line{UnitPrice: it.UnitPrice, Quantity: it.Quantity}
		couponItems[i] = coupon.Item{ProductID: it.ProductID, Price: it.UnitPrice, Quantity: it.Quantity}
	}

	var res *coupon.Result
	if code := strings.TrimSpace(in.couponCode); code != "" {
		var err error
		res, err = ev.Evaluate(ctx, coupon.Request{
			Code:     code,
			UserID:   in.userID,
			Subtotal: pricing.Subtotal(lines),
			Items:    couponItems,
		})
		if err != nil {
			return pricing.Breakdown{}, nil, errors.Wrap(err, "evaluate coupon")
		}
	}

	pin := pricing.Input{
		Lines:        lines,
		ShippingCost: in.shipping,
		PointsUsed:   in.points,
		PointPrice:   in.pointPrice,
		AllowPartial: s.cfg.AllowPartialPointCoverage,
	}
	if res != nil {
		pin.Discount = res.Discount.Amount
		pin.FreeShipping = res.Discount.FreeShipping
	}
	b, err := pricing.Calculate(pin)
	if err != nil {
		return pricing.Breakdown{}, nil, err
	}
	return b, res, nil
}

func (o *Order) applyBreakdown(b pricing.Breakdown, res *coupon.Result) {
	o.Subtotal = b.Subtotal
	o.DiscountAmount = b.Discount
	o.ShippingCost = b.Shipping
	o.PointsUsed = b.PointsUsed
	o.PointsValue = b.PointsValue
	o.TotalAmount = b.Total
	o.FreeShipping = res != nil && res.Discount.FreeShipping
	o.CouponCode = ""
	if res != nil {
		o.CouponCode = res.Rule.Code
	}
}
