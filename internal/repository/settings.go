package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/pointshop/internal/domain/settings"
)

const (
	pointPriceKey = "point_price"

	getSettingSQL = `SELECT value, updated_at, updated_by FROM settings WHERE key = $1`

	upsertSettingSQL = `INSERT INTO settings (key, value, updated_at, updated_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value, updated_at = EXCLUDED.updated_at, updated_by = EXCLUDED.updated_by`
)

var _ settings.Repository = (*SettingsRepository)(nil)

// SettingsRepository stores settings as key/value rows.
type SettingsRepository struct {
	q querier
}

// NewSettingsRepository returns a SettingsRepository that uses the given pool.
func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{q: pool}
}

// PointPrice returns the stored point price.
func (r *SettingsRepository) PointPrice(ctx context.Context) (*settings.PointPrice, error) {
	var (
		p   settings.PointPrice
		raw string
	)
	err := r.q.QueryRow(ctx, getSettingSQL, pointPriceKey).Scan(&raw, &p.UpdatedAt, &p.UpdatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, settings.ErrNotConfigured
		}
		return nil, errors.Wrap(err, "get point price")
	}
	if p.Price, err = decimal.NewFromString(raw); err != nil {
		return nil, errors.Wrapf(err, "parse point price %q", raw)
	}
	return &p, nil
}

// SetPointPrice replaces the point price.
func (r *SettingsRepository) SetPointPrice(ctx context.Context, p settings.PointPrice) error {
	if _, err := r.q.Exec(ctx, upsertSettingSQL, pointPriceKey, p.Price.String(), p.UpdatedAt, p.UpdatedBy); err != nil {
		return errors.Wrap(err, "set point price")
	}
	return nil
}
