// Package memory implements every repository in process memory. It backs
// the storage=memory mode and service tests.
package memory

import (
	"context"
	"sync"

	"github.com/xenking/pointshop/internal/domain/auth"
	"github.com/xenking/pointshop/internal/domain/coupon"
	"github.com/xenking/pointshop/internal/domain/order"
	"github.com/xenking/pointshop/internal/domain/points"
	"github.com/xenking/pointshop/internal/domain/product"
	"github.com/xenking/pointshop/internal/domain/settings"
)

type couponUse struct {
	code    string
	userID  string
	orderID string
}

type data struct {
	products   map[string]product.Product
	coupons    map[string]coupon.Rule
	couponUses []couponUse
	orders     map[string]order.Order
	orderSeq   int64
	balances   map[string]int64
	entries    []points.Entry
	pointPrice *settings.PointPrice
	apiKeys    map[string]auth.APIKeyInfo
}

func (d *data) clone() *data {
	c := &data{
		products:   make(map[string]product.Product, len(d.products)),
		coupons:    make(map[string]coupon.Rule, len(d.coupons)),
		couponUses: append([]couponUse(nil), d.couponUses...),
		orders:     make(map[string]order.Order, len(d.orders)),
		orderSeq:   d.orderSeq,
		balances:   make(map[string]int64, len(d.balances)),
		entries:    append([]points.Entry(nil), d.entries...),
		apiKeys:    make(map[string]auth.APIKeyInfo, len(d.apiKeys)),
	}
	for k, v := range d.products {
		c.products[k] = v
	}
	for k, v := range d.coupons {
		c.coupons[k] = v
	}
	for k, v := range d.orders {
		c.orders[k] = copyOrder(v)
	}
	for k, v := range d.balances {
		c.balances[k] = v
	}
	for k, v := range d.apiKeys {
		c.apiKeys[k] = v
	}
	if d.pointPrice != nil {
		p := *d.pointPrice
		c.pointPrice = &p
	}
	return c
}

// Store holds all state behind one mutex. Transactions work on a copy that
// replaces the state on commit, so they are serializable.
type Store struct {
	mu sync.Mutex
	d  *data
}

// New creates an empty Store.
func New() *Store {
	return &Store{d: &data{
		products: map[string]product.Product{},
		coupons:  map[string]coupon.Rule{},
		orders:   map[string]order.Order{},
		balances: map[string]int64{},
		apiKeys:  map[string]auth.APIKeyInfo{},
	}}
}

// access runs fn against the transaction's state when tx is set, otherwise
// against the store's state under its lock.
type access struct {
	s  *Store
	tx *data
}

func (a access) run(fn func(d *data) error) error {
	if a.tx != nil {
		return fn(a.tx)
	}
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	return fn(a.s.d)
}

// Products returns the product repository.
func (s *Store) Products() *ProductRepository { return &ProductRepository{access{s: s}} }

// Coupons returns the coupon repository.
func (s *Store) Coupons() *CouponRepository { return &CouponRepository{access{s: s}} }

// Orders returns the order repository.
func (s *Store) Orders() *OrderRepository { return &OrderRepository{access{s: s}} }

// Points returns the ledger repository.
func (s *Store) Points() *LedgerRepository { return &LedgerRepository{access{s: s}} }

// Settings returns the settings repository.
func (s *Store) Settings() *SettingsRepository { return &SettingsRepository{access{s: s}} }

// APIKeys returns the API key repository.
func (s *Store) APIKeys() *APIKeyRepository { return &APIKeyRepository{access{s: s}} }

var _ order.TxRunner = (*Store)(nil)

// InTx runs fn against a private copy of the state and publishes it when fn
// succeeds. Concurrent transactions are serialized.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.d.clone()
	if err := fn(ctx, txView{access{s: s, tx: work}}); err != nil {
		return err
	}
	s.d = work
	return nil
}

type txView struct {
	a access
}

func (t txView) Orders() order.Repository { return &OrderRepository{t.a} }
func (t txView) Points() points.Repository { return &LedgerRepository{t.a} }
func (t txView) Coupons() coupon.Repository { return &CouponRepository{t.a} }
