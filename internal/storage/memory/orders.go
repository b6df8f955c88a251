package memory

import (
	"context"
	"sort"

	"github.com/xenking/pointshop/internal/domain/order"
	"github.com/xenking/pointshop/internal/domain/points"
)

func copyOrder(o order.Order) order.Order {
	o.Items = append([]order.Item(nil), o.Items...)
	if o.PaymentConfirmation != nil {
		pc := *o.PaymentConfirmation
		o.PaymentConfirmation = &pc
	}
	if o.Cancellation != nil {
		c := *o.Cancellation
		o.Cancellation = &c
	}
	return o
}

// OrderRepository implements order.Repository.
type OrderRepository struct{ a access }

var _ order.Repository = (*OrderRepository)(nil)

func (r *OrderRepository) NextNumber(_ context.Context) (int64, error) {
	var n int64
	err := r.a.run(func(d *data) error {
		d.orderSeq++
		n = d.orderSeq
		return nil
	})
	return n, err
}

func (r *OrderRepository) Create(_ context.Context, o *order.Order) error {
	return r.a.run(func(d *data) error {
		d.orders[o.ID] = copyOrder(*o)
		return nil
	})
}

func (r *OrderRepository) Get(_ context.Context, id string) (*order.Order, error) {
	var out *order.Order
	err := r.a.run(func(d *data) error {
		o, ok := d.orders[id]
		if !ok {
			return order.ErrNotFound
		}
		c := copyOrder(o)
		out = &c
		return nil
	})
	return out, err
}

// GetForUpdate is Get; transactions already hold the store lock.
func (r *OrderRepository) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return r.Get(ctx, id)
}

func (r *OrderRepository) Update(_ context.Context, o *order.Order, from order.Status) error {
	return r.a.run(func(d *data) error {
		cur, ok := d.orders[o.ID]
		if !ok {
			return order.ErrNotFound
		}
		if cur.Status != from {
			return order.ErrConflict
		}
		d.orders[o.ID] = copyOrder(*o)
		return nil
	})
}

func (r *OrderRepository) Delete(_ context.Context, id string) error {
	return r.a.run(func(d *data) error {
		if _, ok := d.orders[id]; !ok {
			return order.ErrNotFound
		}
		delete(d.orders, id)
		return nil
	})
}

func (r *OrderRepository) List(_ context.Context, f order.Filter) ([]order.Order, int, error) {
	var matched []order.Order
	err := r.a.run(func(d *data) error {
		for _, o := range d.orders {
			if f.UserID != "" && o.UserID != f.UserID ||
				f.Status != "" && o.Status != f.Status ||
				f.PaymentStatus != "" && o.PaymentStatus != f.PaymentStatus ||
				f.Type != "" && o.Type != f.Type {
				continue
			}
			matched = append(matched, copyOrder(o))
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Number > matched[j].Number })

	total := len(matched)
	if f.Offset >= total {
		return nil, total, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

// LedgerRepository implements points.Repository.
type LedgerRepository struct{ a access }

var _ points.Repository = (*LedgerRepository)(nil)

func (r *LedgerRepository) Balance(_ context.Context, userID string) (int64, error) {
	var b int64
	err := r.a.run(func(d *data) error {
		b = d.balances[userID]
		return nil
	})
	return b, err
}

func (r *LedgerRepository) Append(_ context.Context, e *points.Entry) error {
	return r.a.run(func(d *data) error {
		next := d.balances[e.UserID] + e.Amount
		if next < 0 {
			return points.ErrInsufficientPoints
		}
		d.balances[e.UserID] = next
		e.Balance = next
		d.entries = append(d.entries, *e)
		return nil
	})
}

func (r *LedgerRepository) History(_ context.Context, userID string, page points.Page) ([]points.Entry, int, error) {
	var out []points.Entry
	err := r.a.run(func(d *data) error {
		for i := len(d.entries) - 1; i >= 0; i-- {
			if d.entries[i].UserID == userID {
				out = append(out, d.entries[i])
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	total := len(out)
	if page.Offset >= total {
		return nil, total, nil
	}
	out = out[page.Offset:]
	if page.Limit > 0 && len(out) > page.Limit {
		out = out[:page.Limit]
	}
	return out, total, nil
}
