package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCouponRepo struct {
	rule     *Rule
	err      error
	userUses int
	countErr error
	consumed []string
}

func (m *mockCouponRepo) FindByCode(_ context.Context, _ string) (*Rule, error) {
	return m.rule, m.err
}

func (m *mockCouponRepo) CountUserUses(_ context.Context, _, _ string) (int, error) {
	return m.userUses, m.countErr
}

func (m *mockCouponRepo) Consume(_ context.Context, code, _, _ string) error {
	m.consumed = append(m.consumed, code)
	return nil
}

func TestRepoEvaluator_Evaluate(t *testing.T) {
	fixedNow := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	pastTime := fixedNow.Add(-24 * time.Hour)
	futureTime := fixedNow.Add(24 * time.Hour)

	save10 := func() *Rule {
		return &Rule{
			Code:           "SAVE10",
			DiscountType:   DiscountPercentage,
			Value:          decimal.NewFromInt(10),
			MinOrderAmount: decimal.NewFromInt(500),
			Active:         true,
		}
	}

	tests := []struct {
		name         string
		repo         *mockCouponRepo
		subtotal     int64
		items        []Item
		wantAmount   decimal.Decimal
		wantFreeShip bool
		wantErr      error
	}{
		{
			name:       "percentage above minimum",
			repo:       &mockCouponRepo{rule: save10()},
			subtotal:   1000,
			wantAmount: decimal.NewFromInt(100),
		},
		{
			name:     "below minimum order amount",
			repo:     &mockCouponRepo{rule: save10()},
			subtotal: 400,
			wantErr:  ErrCouponIneligible,
		},
		{
			name: "subtotal derived from items",
			repo: &mockCouponRepo{rule: save10()},
			items: []Item{
				{ProductID: "p1", Price: decimal.NewFromInt(300), Quantity: 2},
			},
			wantAmount: decimal.NewFromInt(60),
		},
		{
			name:     "unknown code",
			repo:     &mockCouponRepo{err: ErrCouponNotFound},
			subtotal: 1000,
			wantErr:  ErrCouponNotFound,
		},
		{
			name: "inactive coupon is not found",
			repo: &mockCouponRepo{rule: &Rule{
				Code: "OFF", DiscountType: DiscountFixedAmount, Value: decimal.NewFromInt(5),
			}},
			subtotal: 100,
			wantErr:  ErrCouponNotFound,
		},
		{
			name: "expired",
			repo: &mockCouponRepo{rule: &Rule{
				Code: "OLD", DiscountType: DiscountPercentage, Value: decimal.NewFromInt(10),
				ValidUntil: &pastTime, Active: true,
			}},
			subtotal: 100,
			wantErr:  ErrCouponIneligible,
		},
		{
			name: "not yet valid",
			repo: &mockCouponRepo{rule: &Rule{
				Code: "FUTURE", DiscountType: DiscountPercentage, Value: decimal.NewFromInt(10),
				ValidFrom: &futureTime, Active: true,
			}},
			subtotal: 100,
			wantErr:  ErrCouponIneligible,
		},
		{
			name: "within window",
			repo: &mockCouponRepo{rule: &Rule{
				Code: "WINDOW", DiscountType: DiscountPercentage, Value: decimal.NewFromInt(10),
				ValidFrom: &pastTime, ValidUntil: &futureTime, Active: true,
			}},
			subtotal:   100,
			wantAmount: decimal.NewFromInt(10),
		},
		{
			name: "global limit reached",
			repo: &mockCouponRepo{rule: &Rule{
				Code: "LIMITED", DiscountType: DiscountPercentage, Value: decimal.NewFromInt(10),
				MaxUses: 100, Uses: 100, Active: true,
			}},
			subtotal: 100,
			wantErr:  ErrCouponExhausted,
		},
		{
			name: "unlimited uses",
			repo: &mockCouponRepo{rule: &Rule{
				Code: "UNLIMITED", DiscountType: DiscountFixedAmount, Value: decimal.NewFromInt(5),
				Uses: 9999, Active: true,
			}},
			subtotal:   100,
			wantAmount: decimal.NewFromInt(5),
		},
		{
			name: "per-user limit reached",
			repo: &mockCouponRepo{
				rule: &Rule{
					Code: "ONCE", DiscountType: DiscountFixedAmount, Value: decimal.NewFromInt(5),
					MaxUsesPerUser: 1, Active: true,
				},
				userUses: 1,
			},
			subtotal: 100,
			wantErr:  ErrCouponExhausted,
		},
		{
			name: "fixed amount capped at subtotal",
			repo: &mockCouponRepo{rule: &Rule{
				Code: "BIG", DiscountType: DiscountFixedAmount, Value: decimal.NewFromInt(500), Active: true,
			}},
			subtotal:   120,
			wantAmount: decimal.NewFromInt(120),
		},
		{
			name: "free shipping",
			repo: &mockCouponRepo{rule: &Rule{
				Code: "SHIPFREE", DiscountType: DiscountFreeShipping, Active: true,
			}},
			subtotal:     100,
			wantAmount:   decimal.Zero,
			wantFreeShip: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewRepoEvaluator(tt.repo)
			v.now = func() time.Time { return fixedNow }

			got, err := v.Evaluate(context.Background(), Request{
				Code:     "code",
				UserID:   "u1",
				Subtotal: decimal.NewFromInt(tt.subtotal),
				Items:    tt.items,
			})

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, got)
			assert.True(t, tt.wantAmount.Equal(got.Discount.Amount),
				"expected amount %s, got %s", tt.wantAmount, got.Discount.Amount)
			assert.Equal(t, tt.wantFreeShip, got.Discount.FreeShipping)
		})
	}
}

func TestRepoEvaluator_DoesNotConsume(t *testing.T) {
	repo := &mockCouponRepo{rule: &Rule{
		Code: "SAVE10", DiscountType: DiscountPercentage, Value: decimal.NewFromInt(10), Active: true,
	}}

	v := NewRepoEvaluator(repo)
	for range 3 {
		_, err := v.Evaluate(context.Background(), Request{Code: "SAVE10", Subtotal: decimal.NewFromInt(100)})
		require.NoError(t, err)
	}

	assert.Empty(t, repo.consumed)
}

func TestRepoEvaluator_RepositoryError(t *testing.T) {
	repo := &mockCouponRepo{err: errors.New("db down")}

	_, err := NewRepoEvaluator(repo).Evaluate(context.Background(), Request{Code: "X"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "lookup coupon")
}

func TestApply_PercentageRounding(t *testing.T) {
	rule := &Rule{DiscountType: DiscountPercentage, Value: decimal.NewFromInt(15)}

	for _, s := range []int64{0, 1, 3, 7, 99, 101, 333, 1000, 12345} {
		subtotal := decimal.NewFromInt(s)
		d, err := Apply(rule, subtotal)
		require.NoError(t, err)

		want := subtotal.Mul(decimal.NewFromInt(15)).Div(decimal.NewFromInt(100)).Round(0)
		assert.True(t, want.Equal(d.Amount), "subtotal %d: want %s got %s", s, want, d.Amount)
		assert.True(t, d.Amount.LessThanOrEqual(subtotal))
	}
}

func TestApply_UnknownType(t *testing.T) {
	_, err := Apply(&Rule{DiscountType: "bogus"}, decimal.NewFromInt(10))
	require.Error(t, err)
}
