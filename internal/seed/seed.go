// Package seed loads the default catalog, coupons, point price and admin key
// into any storage backend.
package seed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pointshop/internal/domain/auth"
	"github.com/xenking/pointshop/internal/domain/coupon"
	"github.com/xenking/pointshop/internal/domain/product"
	"github.com/xenking/pointshop/internal/domain/settings"
)

// Sink receives seeded records. Every write must be idempotent.
type Sink struct {
	Product    func(ctx context.Context, p product.Product) error
	Coupon     func(ctx context.Context, rule coupon.Rule) error
	PointPrice func(ctx context.Context, p settings.PointPrice) error
	APIKey     func(ctx context.Context, info auth.APIKeyInfo) error
}

// Options control what is seeded.
type Options struct {
	// Products is a JSON product catalog, usually db.Products.
	Products []byte
	// PointPrice is written when positive.
	PointPrice decimal.Decimal
	// AdminKey is stored hashed under Pepper when non-empty.
	AdminKey string
	Pepper   []byte
}

// Summary reports what was written.
type Summary struct {
	Products int
	Coupons  int
	APIKeys  int
}

type productJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category"`
	Image    struct {
		Thumbnail string `json:"thumbnail"`
		Desktop   string `json:"desktop"`
	} `json:"image"`
	Variants []struct {
		Name            string          `json:"name"`
		Value           string          `json:"value"`
		PriceAdjustment decimal.Decimal `json:"priceAdjustment"`
	} `json:"variants"`
}

// ParseProducts decodes a JSON catalog. Every product is active.
func ParseProducts(data []byte) ([]product.Product, error) {
	var raw []productJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parse products")
	}
	out := make([]product.Product, 0, len(raw))
	for _, p := range raw {
		if p.ID == "" || !p.Price.IsPositive() {
			return nil, errors.Errorf("product %q: id and positive price required", p.ID)
		}
		prod := product.Product{
			ID:       p.ID,
			Name:     p.Name,
			Price:    p.Price,
			Category: p.Category,
			Image:    product.Image{Thumbnail: p.Image.Thumbnail, Desktop: p.Image.Desktop},
			Active:   true,
		}
		for _, v := range p.Variants {
			prod.Variants = append(prod.Variants, product.Variant{
				Name:            v.Name,
				Value:           v.Value,
				PriceAdjustment: v.PriceAdjustment,
			})
		}
		out = append(out, prod)
	}
	return out, nil
}

// Coupons returns the built-in promotional coupons.
func Coupons() []coupon.Rule {
	return []coupon.Rule{
		{
			Code:         "SAVE10",
			DiscountType: coupon.DiscountPercentage,
			Value:        decimal.NewFromInt(10),
			Description:  "10% off the order subtotal",
			Active:       true,
		},
		{
			Code:           "WELCOME50K",
			DiscountType:   coupon.DiscountFixedAmount,
			Value:          decimal.NewFromInt(50000),
			MinOrderAmount: decimal.NewFromInt(200000),
			Description:    "50,000 off orders of 200,000 or more, once per member",
			MaxUsesPerUser: 1,
			Active:         true,
		},
		{
			Code:         "FREESHIP",
			DiscountType: coupon.DiscountFreeShipping,
			Description:  "Free shipping",
			MaxUses:      500,
			Active:       true,
		},
	}
}

// Run writes the catalog, coupons, point price and admin key to sink.
func Run(ctx context.Context, sink Sink, opts Options) (Summary, error) {
	var sum Summary

	if len(opts.Products) > 0 {
		products, err := ParseProducts(opts.Products)
		if err != nil {
			return sum, err
		}
		for _, p := range products {
			if err := sink.Product(ctx, p); err != nil {
				return sum, errors.Wrapf(err, "upsert product %s", p.ID)
			}
			sum.Products++
		}
	}

	for _, rule := range Coupons() {
		if err := sink.Coupon(ctx, rule); err != nil {
			return sum, errors.Wrapf(err, "upsert coupon %s", rule.Code)
		}
		sum.Coupons++
	}

	if opts.PointPrice.IsPositive() {
		if err := sink.PointPrice(ctx, settings.PointPrice{
			Price:     opts.PointPrice,
			UpdatedAt: time.Now().UTC(),
			UpdatedBy: "seed",
		}); err != nil {
			return sum, errors.Wrap(err, "set point price")
		}
	}

	if opts.AdminKey != "" {
		if err := sink.APIKey(ctx, auth.APIKeyInfo{
			ID:      "admin",
			KeyHash: auth.HashKey(opts.Pepper, opts.AdminKey),
			Name:    "Seeded admin key",
			Scopes:  []string{auth.ScopeAdmin},
		}); err != nil {
			return sum, errors.Wrap(err, "upsert admin key")
		}
		sum.APIKeys++
	}
	return sum, nil
}
