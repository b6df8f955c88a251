package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Evaluator decides whether a coupon applies to an order and computes the
// discount. Evaluation never mutates usage counters.
type Evaluator interface {
	Evaluate(ctx context.Context, req Request) (*Result, error)
}

// RepoEvaluator implements Evaluator by looking up rules from a Repository.
type RepoEvaluator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoEvaluator creates a RepoEvaluator backed by the given Repository.
func NewRepoEvaluator(repo Repository) *RepoEvaluator {
	return &RepoEvaluator{repo: repo, now: time.Now}
}

// Evaluate looks up the coupon, checks the active flag, validity window,
// minimum order amount and usage limits, then applies it to the subtotal.
// When req.Subtotal is zero and items are present, the subtotal is derived
// from the items.
func (v *RepoEvaluator) Evaluate(ctx context.Context, req Request) (*Result, error) {
	rule, err := v.repo.FindByCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}
	if !rule.Active {
		return nil, ErrCouponNotFound
	}

	subtotal := req.Subtotal
	if subtotal.IsZero() && len(req.Items) > 0 {
		subtotal = Subtotal(req.Items)
	}

	if err := checkWindow(rule, v.now()); err != nil {
		return nil, err
	}
	if subtotal.LessThan(rule.MinOrderAmount) {
		return nil, errors.Wrapf(ErrCouponIneligible, "minimum order amount is %s", rule.MinOrderAmount)
	}
	if rule.MaxUses > 0 && rule.Uses >= rule.MaxUses {
		return nil, ErrCouponExhausted
	}
	if rule.MaxUsesPerUser > 0 && req.UserID != "" {
		used, err := v.repo.CountUserUses(ctx, rule.Code, req.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "count user coupon uses")
		}
		if used >= rule.MaxUsesPerUser {
			return nil, ErrCouponExhausted
		}
	}

	d, err := Apply(rule, subtotal)
	if err != nil {
		return nil, err
	}
	return &Result{Rule: *rule, Discount: d}, nil
}

func checkWindow(rule *Rule, now time.Time) error {
	if rule.ValidFrom != nil && now.Before(*rule.ValidFrom) {
		return errors.Wrap(ErrCouponIneligible, "coupon not yet valid")
	}
	if rule.ValidUntil != nil && now.After(*rule.ValidUntil) {
		return errors.Wrap(ErrCouponIneligible, "coupon expired")
	}
	return nil
}
