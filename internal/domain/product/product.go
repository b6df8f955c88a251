package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrVariantNotFound is returned when a product has no matching variant.
	ErrVariantNotFound = errors.New("product variant not found")
)

// Product is a shop item whose price is snapshotted onto order lines.
type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Category string
	Image    Image
	Variants []Variant
	Active   bool
}

// Image holds responsive image URLs for a product.
type Image struct {
	Thumbnail string
	Desktop   string
}

// Variant is a name/value option adjusting the base price.
type Variant struct {
	Name            string
	Value           string
	PriceAdjustment decimal.Decimal
}

// UnitPrice returns the price of the product with the given variant applied.
// An empty variant name selects the base price.
func (p *Product) UnitPrice(variantName, variantValue string) (decimal.Decimal, error) {
	if variantName == "" {
		return p.Price, nil
	}
	for _, v := range p.Variants {
		if v.Name == variantName && v.Value == variantValue {
			price := p.Price.Add(v.PriceAdjustment)
			if price.IsNegative() {
				return decimal.Zero, nil
			}
			return price, nil
		}
	}
	return decimal.Zero, errors.Wrapf(ErrVariantNotFound, "%s=%s", variantName, variantValue)
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
