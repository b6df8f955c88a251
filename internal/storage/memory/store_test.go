package memory

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pointshop/internal/domain/coupon"
	"github.com/xenking/pointshop/internal/domain/order"
	"github.com/xenking/pointshop/internal/domain/points"
)

func TestStore_InTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := New()

	boom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		require.NoError(t, tx.Points().Append(ctx, &points.Entry{UserID: "u1", Amount: 100}))
		require.NoError(t, tx.Orders().Create(ctx, &order.Order{ID: "o1", Status: order.StatusPending}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	bal, err := s.Points().Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, bal)

	_, err = s.Orders().Get(ctx, "o1")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestStore_InTxCommits(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		return tx.Points().Append(ctx, &points.Entry{UserID: "u1", Amount: 7})
	}))

	bal, err := s.Points().Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), bal)
}

func TestLedgerRepository_RejectsOverdraw(t *testing.T) {
	ctx := context.Background()
	s := New()
	repo := s.Points()

	require.NoError(t, repo.Append(ctx, &points.Entry{UserID: "u1", Amount: 10}))
	err := repo.Append(ctx, &points.Entry{UserID: "u1", Amount: -11})
	require.ErrorIs(t, err, points.ErrInsufficientPoints)

	entries, total, err := repo.History(ctx, "u1", points.Page{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, entries, 1)
}

func TestCouponRepository_Consume(t *testing.T) {
	ctx := context.Background()
	repo := New().Coupons()

	require.NoError(t, repo.Put(ctx, coupon.Rule{
		Code:         "save10",
		DiscountType: coupon.DiscountPercentage,
		Value:        decimal.NewFromInt(10),
		MaxUses:      1,
		Active:       true,
	}))

	rule, err := repo.FindByCode(ctx, "Save10")
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", rule.Code)

	require.NoError(t, repo.Consume(ctx, "SAVE10", "u1", "o1"))
	require.ErrorIs(t, repo.Consume(ctx, "SAVE10", "u2", "o2"), coupon.ErrCouponExhausted)

	n, err := repo.CountUserUses(ctx, "save10", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCouponRepository_ConsumeRespectsPerUserLimit(t *testing.T) {
	ctx := context.Background()
	repo := New().Coupons()

	require.NoError(t, repo.Put(ctx, coupon.Rule{
		Code:           "WELCOME",
		DiscountType:   coupon.DiscountFixedAmount,
		Value:          decimal.NewFromInt(10),
		MaxUsesPerUser: 1,
		Active:         true,
	}))

	require.NoError(t, repo.Consume(ctx, "welcome", "u1", "o1"))
	require.ErrorIs(t, repo.Consume(ctx, "WELCOME", "u1", "o2"), coupon.ErrCouponExhausted)
	require.NoError(t, repo.Consume(ctx, "WELCOME", "u2", "o3"))

	rule, err := repo.FindByCode(ctx, "WELCOME")
	require.NoError(t, err)
	assert.Equal(t, 2, rule.Uses)
}

func TestOrderRepository_UpdateGuardsStatus(t *testing.T) {
	ctx := context.Background()
	repo := New().Orders()

	o := &order.Order{ID: "o1", Status: order.StatusWaitingPayment}
	require.NoError(t, repo.Create(ctx, o))

	o.Status = order.StatusWaitingConfirmation
	require.NoError(t, repo.Update(ctx, o, order.StatusWaitingPayment))

	o.Status = order.StatusCancelled
	require.ErrorIs(t, repo.Update(ctx, o, order.StatusWaitingPayment), order.ErrConflict)
}

func TestOrderRepository_ListFilters(t *testing.T) {
	ctx := context.Background()
	repo := New().Orders()

	for i, st := range []order.Status{order.StatusPending, order.StatusCompleted, order.StatusPending} {
		n, err := repo.NextNumber(ctx)
		require.NoError(t, err)
		require.NoError(t, repo.Create(ctx, &order.Order{
			ID:     string(rune('a' + i)),
			Number: n,
			UserID: "u1",
			Type:   order.TypeProduct,
			Status: st,
		}))
	}

	got, total, err := repo.List(ctx, order.Filter{Status: order.StatusPending, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got[0].Number)
}
