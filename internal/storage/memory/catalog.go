package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/pointshop/internal/domain/auth"
	"github.com/xenking/pointshop/internal/domain/coupon"
	"github.com/xenking/pointshop/internal/domain/product"
	"github.com/xenking/pointshop/internal/domain/settings"
)

// ProductRepository implements product.Repository.
type ProductRepository struct{ a access }

var _ product.Repository = (*ProductRepository)(nil)

// Put inserts or replaces a product.
func (r *ProductRepository) Put(_ context.Context, p product.Product) error {
	return r.a.run(func(d *data) error {
		p.Variants = append([]product.Variant(nil), p.Variants...)
		d.products[p.ID] = p
		return nil
	})
}

func (r *ProductRepository) List(_ context.Context) ([]product.Product, error) {
	var out []product.Product
	err := r.a.run(func(d *data) error {
		for _, p := range d.products {
			if p.Active {
				out = append(out, p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r *ProductRepository) GetByID(_ context.Context, id string) (*product.Product, error) {
	var out *product.Product
	err := r.a.run(func(d *data) error {
		p, ok := d.products[id]
		if !ok {
			return product.ErrNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *ProductRepository) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	err := r.a.run(func(d *data) error {
		for _, id := range ids {
			if p, ok := d.products[id]; ok {
				out = append(out, p)
			}
		}
		return nil
	})
	return out, err
}

// CouponRepository implements coupon.Repository.
type CouponRepository struct{ a access }

var _ coupon.Repository = (*CouponRepository)(nil)

func couponKey(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Put inserts or replaces a coupon.
func (r *CouponRepository) Put(_ context.Context, rule coupon.Rule) error {
	return r.a.run(func(d *data) error {
		rule.Code = couponKey(rule.Code)
		d.coupons[rule.Code] = rule
		return nil
	})
}

func (r *CouponRepository) FindByCode(_ context.Context, code string) (*coupon.Rule, error) {
	var out *coupon.Rule
	err := r.a.run(func(d *data) error {
		rule, ok := d.coupons[couponKey(code)]
		if !ok || !rule.Active {
			return coupon.ErrCouponNotFound
		}
		out = &rule
		return nil
	})
	return out, err
}

func (r *CouponRepository) CountUserUses(_ context.Context, code, userID string) (int, error) {
	var n int
	err := r.a.run(func(d *data) error {
		n = d.userUses(couponKey(code), userID)
		return nil
	})
	return n, err
}

func (d *data) userUses(key, userID string) int {
	var n int
	for _, u := range d.couponUses {
		if u.code == key && u.userID == userID {
			n++
		}
	}
	return n
}

func (r *CouponRepository) Consume(_ context.Context, code, userID, orderID string) error {
	return r.a.run(func(d *data) error {
		key := couponKey(code)
		rule, ok := d.coupons[key]
		if !ok {
			return coupon.ErrCouponNotFound
		}
		if rule.MaxUses > 0 && rule.Uses >= rule.MaxUses {
			return coupon.ErrCouponExhausted
		}
		if rule.MaxUsesPerUser > 0 && d.userUses(key, userID) >= rule.MaxUsesPerUser {
			return coupon.ErrCouponExhausted
		}
		rule.Uses++
		d.coupons[key] = rule
		d.couponUses = append(d.couponUses, couponUse{code: key, userID: userID, orderID: orderID})
		return nil
	})
}

// SettingsRepository implements settings.Repository.
type SettingsRepository struct{ a access }

var _ settings.Repository = (*SettingsRepository)(nil)

func (r *SettingsRepository) PointPrice(_ context.Context) (*settings.PointPrice, error) {
	var out *settings.PointPrice
	err := r.a.run(func(d *data) error {
		if d.pointPrice == nil {
			return settings.ErrNotConfigured
		}
		p := *d.pointPrice
		out = &p
		return nil
	})
	return out, err
}

func (r *SettingsRepository) SetPointPrice(_ context.Context, p settings.PointPrice) error {
	return r.a.run(func(d *data) error {
		d.pointPrice = &p
		return nil
	})
}

// APIKeyRepository implements auth.Repository.
type APIKeyRepository struct{ a access }

var _ auth.Repository = (*APIKeyRepository)(nil)

// Put stores a key by its hash.
func (r *APIKeyRepository) Put(_ context.Context, info auth.APIKeyInfo) error {
	return r.a.run(func(d *data) error {
		d.apiKeys[info.KeyHash] = info
		return nil
	})
}

func (r *APIKeyRepository) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	var out *auth.APIKeyInfo
	err := r.a.run(func(d *data) error {
		info, ok := d.apiKeys[hash]
		if !ok {
			return auth.ErrNotFound
		}
		out = &info
		return nil
	})
	if err != nil && !errors.Is(err, auth.ErrNotFound) {
		return nil, errors.Wrap(err, "find api key")
	}
	return out, err
}
