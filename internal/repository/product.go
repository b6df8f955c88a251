package repository

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/pointshop/internal/domain/product"
)

const (
	productColumns = `id, name, price, category, image_thumbnail, image_desktop, variants, active`

	listProductsSQL = `SELECT ` + productColumns + ` FROM products WHERE active ORDER BY id`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`

	upsertProductSQL = `INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, price = EXCLUDED.price, category = EXCLUDED.category,
			image_thumbnail = EXCLUDED.image_thumbnail, image_desktop = EXCLUDED.image_desktop,
			variants = EXCLUDED.variants, active = EXCLUDED.active`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	q querier
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{q: pool}
}

// List returns active products ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.q.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.q.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %q", id)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %q", id)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.q.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products by ids")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Upsert inserts or replaces a product.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product) error {
	variants, err := json.Marshal(toVariantRows(p.Variants))
	if err != nil {
		return errors.Wrap(err, "marshal variants")
	}
	if _, err := r.q.Exec(ctx, upsertProductSQL,
		p.ID, p.Name, p.Price, p.Category, p.Image.Thumbnail, p.Image.Desktop, variants, p.Active,
	); err != nil {
		return errors.Wrapf(err, "upsert product %q", p.ID)
	}
	return nil
}

type variantRow struct {
	Name            string          `json:"name"`
	Value           string          `json:"value"`
	PriceAdjustment decimal.Decimal `json:"price_adjustment"`
}

func toVariantRows(vs []product.Variant) []variantRow {
	rows := make([]variantRow, len(vs))
	for i, v := range vs {
		rows[i] = variantRow(v)
	}
	return rows
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p        product.Product
		variants []byte
	)
	if err := row.Scan(
		&p.ID, &p.Name, &p.Price, &p.Category,
		&p.Image.Thumbnail, &p.Image.Desktop, &variants, &p.Active,
	); err != nil {
		return p, err
	}
	var vr []variantRow
	if err := json.Unmarshal(variants, &vr); err != nil {
		return p, errors.Wrapf(err, "decode variants of %q", p.ID)
	}
	for _, v := range vr {
		p.Variants = append(p.Variants, product.Variant(v))
	}
	return p, nil
}
