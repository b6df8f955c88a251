package repository

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pointshop/internal/domain/coupon"
)

const (
	couponColumns = `code, discount_type, value, min_order_amount, description,
		valid_from, valid_until, max_uses, max_uses_per_user, uses, active`

	getCouponByCodeSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE UPPER(code) = UPPER($1) AND active = TRUE`

	countUserCouponUsesSQL = `SELECT COUNT(*) FROM coupon_uses
		WHERE UPPER(code) = UPPER($1) AND user_id = $2`

	// The guard keeps concurrent consumers from exceeding max_uses. The row
	// lock it takes also serializes the per-user recount below.
	consumeCouponSQL = `UPDATE coupons SET uses = uses + 1
		WHERE UPPER(code) = UPPER($1) AND (max_uses = 0 OR uses < max_uses)
		RETURNING code, max_uses_per_user`

	insertCouponUseSQL = `INSERT INTO coupon_uses (code, user_id, order_id) VALUES ($1, $2, $3)`

	insertCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (code) DO NOTHING`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	q querier
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{q: pool}
}

// FindByCode looks up an active coupon by its code (case-insensitive).
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	rows, err := r.q.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanCouponRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrCouponNotFound
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	return &rule, nil
}

// CountUserUses counts recorded usages of code by userID.
func (r *CouponRepository) CountUserUses(ctx context.Context, code, userID string) (int, error) {
	var n int
	if err := r.q.QueryRow(ctx, countUserCouponUsesSQL, code, userID).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count uses of coupon %q", code)
	}
	return n, nil
}

// Consume increments the usage counter and records the per-user usage. It
// must run inside a transaction: on ErrCouponExhausted the increment is left
// for the caller's rollback.
func (r *CouponRepository) Consume(ctx context.Context, code, userID, orderID string) error {
	var (
		stored     string
		maxPerUser int32
	)
	err := r.q.QueryRow(ctx, consumeCouponSQL, code).Scan(&stored, &maxPerUser)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return coupon.ErrCouponExhausted
		}
		return errors.Wrapf(err, "consume coupon %q", code)
	}
	if maxPerUser > 0 {
		// Runs after the row lock, so uses committed by a concurrent
		// consumer are visible here.
		used, err := r.CountUserUses(ctx, stored, userID)
		if err != nil {
			return err
		}
		if used >= int(maxPerUser) {
			return coupon.ErrCouponExhausted
		}
	}
	if _, err := r.q.Exec(ctx, insertCouponUseSQL, stored, userID, orderID); err != nil {
		return errors.Wrapf(err, "record use of coupon %q", code)
	}
	return nil
}

// Insert stores a new coupon. It reports false when the code already exists.
func (r *CouponRepository) Insert(ctx context.Context, rule coupon.Rule) (bool, error) {
	tag, err := r.q.Exec(ctx, insertCouponSQL,
		rule.Code, string(rule.DiscountType), rule.Value, rule.MinOrderAmount, rule.Description,
		rule.ValidFrom, rule.ValidUntil, rule.MaxUses, rule.MaxUsesPerUser, rule.Uses, rule.Active,
	)
	if err != nil {
		return false, errors.Wrapf(err, "insert coupon %q", rule.Code)
	}
	return tag.RowsAffected() == 1, nil
}

func scanCouponRule(row pgx.CollectableRow) (coupon.Rule, error) {
	var (
		rule         coupon.Rule
		discountType string
		validFrom    *time.Time
		validUntil   *time.Time
		maxUses      int32
		maxPerUser   int32
		uses         int32
	)
	err := row.Scan(
		&rule.Code, &discountType, &rule.Value, &rule.MinOrderAmount, &rule.Description,
		&validFrom, &validUntil, &maxUses, &maxPerUser, &uses, &rule.Active,
	)
	rule.DiscountType = coupon.DiscountType(discountType)
	rule.ValidFrom = validFrom
	rule.ValidUntil = validUntil
	rule.MaxUses = int(maxUses)
	rule.MaxUsesPerUser = int(maxPerUser)
	rule.Uses = int(uses)
	return rule, err
}
