package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pointshop/internal/domain/order"
)

const (
	orderColumns = `id, number, user_id, type, items, subtotal, discount_amount, shipping_cost,
		free_shipping, points_used, points_value, point_price, points_earned, total_amount,
		coupon_code, payment_method, status, payment_status, shipping_address, tracking_number,
		payment_confirmation, cancellation, points_refunded, points_credited, created_at, updated_at`

	nextOrderNumberSQL = `SELECT nextval('order_number_seq')`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderForUpdateSQL = getOrderSQL + ` FOR UPDATE`

	// The status guard turns a lost race into zero affected rows.
	updateOrderSQL = `UPDATE orders SET
			items = $3, subtotal = $4, discount_amount = $5, shipping_cost = $6,
			free_shipping = $7, points_used = $8, points_value = $9, points_earned = $10,
			total_amount = $11, coupon_code = $12, status = $13, payment_status = $14,
			shipping_address = $15, tracking_number = $16, payment_confirmation = $17,
			cancellation = $18, points_refunded = $19, points_credited = $20, updated_at = $21
		WHERE id = $1 AND status = $2`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	q querier
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{q: pool}
}

// NextNumber allocates the next order number from the sequence.
func (r *OrderRepository) NextNumber(ctx context.Context) (int64, error) {
	var n int64
	if err := r.q.QueryRow(ctx, nextOrderNumberSQL).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "next order number")
	}
	return n, nil
}

// Create persists a new order. Items, address and the optional payment
// confirmation and cancellation records are stored as JSONB.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	cols, err := encodeOrder(o)
	if err != nil {
		return err
	}
	if _, err := r.q.Exec(ctx, createOrderSQL,
		o.ID, o.Number, o.UserID, string(o.Type), cols.items, o.Subtotal, o.DiscountAmount, o.ShippingCost,
		o.FreeShipping, o.PointsUsed, o.PointsValue, o.PointPrice, o.PointsEarned, o.TotalAmount,
		o.CouponCode, string(o.PaymentMethod), string(o.Status), string(o.PaymentStatus), cols.address, o.TrackingNumber,
		cols.confirmation, cols.cancellation, o.PointsRefunded, o.PointsCredited, o.CreatedAt, o.UpdatedAt,
	); err != nil {
		return errors.Wrapf(err, "create order %q", o.ID)
	}
	return nil
}

// Get returns the order with the given ID.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return r.get(ctx, getOrderSQL, id)
}

// GetForUpdate returns the order and locks its row until the transaction
// ends.
func (r *OrderRepository) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return r.get(ctx, getOrderForUpdateSQL, id)
}

func (r *OrderRepository) get(ctx context.Context, query, id string) (*order.Order, error) {
	rows, err := r.q.Query(ctx, query, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	return &o, nil
}

// Update stores o if the row still has status from.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order, from order.Status) error {
	cols, err := encodeOrder(o)
	if err != nil {
		return err
	}
	tag, err := r.q.Exec(ctx, updateOrderSQL,
		o.ID, string(from),
		cols.items, o.Subtotal, o.DiscountAmount, o.ShippingCost,
		o.FreeShipping, o.PointsUsed, o.PointsValue, o.PointsEarned,
		o.TotalAmount, o.CouponCode, string(o.Status), string(o.PaymentStatus),
		cols.address, o.TrackingNumber, cols.confirmation,
		cols.cancellation, o.PointsRefunded, o.PointsCredited, o.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "update order %q", o.ID)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrConflict
	}
	return nil
}

// Delete removes the order.
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.q.Exec(ctx, deleteOrderSQL, id)
	if err != nil {
		return errors.Wrapf(err, "delete order %q", id)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// List returns orders matching f, newest first, with the total match count.
func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, int, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.PaymentStatus != "" {
		add("payment_status = $%d", string(f.PaymentStatus))
	}
	if f.Type != "" {
		add("type = $%d", string(f.Type))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM orders`+clause, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count orders")
	}

	query := fmt.Sprintf(`SELECT %s FROM orders%s ORDER BY number DESC LIMIT $%d OFFSET $%d`,
		orderColumns, clause, len(args)+1, len(args)+2)
	rows, err := r.q.Query(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list orders")
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list orders")
	}
	return orders, total, nil
}

type orderJSON struct {
	items        []byte
	address      []byte
	confirmation []byte
	cancellation []byte
}

func encodeOrder(o *order.Order) (orderJSON, error) {
	var (
		cols orderJSON
		err  error
	)
	if cols.items, err = json.Marshal(o.Items); err != nil {
		return cols, errors.Wrap(err, "marshal order items")
	}
	if cols.address, err = json.Marshal(o.ShippingAddress); err != nil {
		return cols, errors.Wrap(err, "marshal shipping address")
	}
	if o.PaymentConfirmation != nil {
		if cols.confirmation, err = json.Marshal(o.PaymentConfirmation); err != nil {
			return cols, errors.Wrap(err, "marshal payment confirmation")
		}
	}
	if o.Cancellation != nil {
		if cols.cancellation, err = json.Marshal(o.Cancellation); err != nil {
			return cols, errors.Wrap(err, "marshal cancellation")
		}
	}
	return cols, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                            order.Order
		typ, method, status, payment string
		cols                         orderJSON
	)
	if err := row.Scan(
		&o.ID, &o.Number, &o.UserID, &typ, &cols.items, &o.Subtotal, &o.DiscountAmount, &o.ShippingCost,
		&o.FreeShipping, &o.PointsUsed, &o.PointsValue, &o.PointPrice, &o.PointsEarned, &o.TotalAmount,
		&o.CouponCode, &method, &status, &payment, &cols.address, &o.TrackingNumber,
		&cols.confirmation, &cols.cancellation, &o.PointsRefunded, &o.PointsCredited, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return o, err
	}
	o.Type = order.Type(typ)
	o.PaymentMethod = order.PaymentMethod(method)
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(payment)

	if err := json.Unmarshal(cols.items, &o.Items); err != nil {
		return o, errors.Wrapf(err, "decode items of order %q", o.ID)
	}
	if err := json.Unmarshal(cols.address, &o.ShippingAddress); err != nil {
		return o, errors.Wrapf(err, "decode address of order %q", o.ID)
	}
	if len(cols.confirmation) > 0 {
		o.PaymentConfirmation = new(order.PaymentConfirmation)
		if err := json.Unmarshal(cols.confirmation, o.PaymentConfirmation); err != nil {
			return o, errors.Wrapf(err, "decode payment confirmation of order %q", o.ID)
		}
	}
	if len(cols.cancellation) > 0 {
		o.Cancellation = new(order.Cancellation)
		if err := json.Unmarshal(cols.cancellation, o.Cancellation); err != nil {
			return o, errors.Wrapf(err, "decode cancellation of order %q", o.ID)
		}
	}
	return o, nil
}
