//go:build integration

package repository_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/pointshop/internal/domain/coupon"
	"github.com/xenking/pointshop/internal/domain/order"
	"github.com/xenking/pointshop/internal/domain/points"
	"github.com/xenking/pointshop/internal/domain/product"
	"github.com/xenking/pointshop/internal/domain/settings"
	"github.com/xenking/pointshop/internal/repository"
)

var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx := context.Background()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "pointshop",
				"POSTGRES_PASSWORD": "pointshop",
				"POSTGRES_DB":       "pointshop",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres: %v\n", err)
		return 1
	}
	defer func() { _ = ctr.Terminate(ctx) }()

	host, err := ctr.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "container host: %v\n", err)
		return 1
	}
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	if err != nil {
		fmt.Fprintf(os.Stderr, "container port: %v\n", err)
		return 1
	}

	dsn := fmt.Sprintf("postgres://pointshop:pointshop@%s:%s/pointshop?sslmode=disable", host, port.Port())
	pool, err = repository.NewPool(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		return 1
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return 1
	}
	return m.Run()
}

func TestProductRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewProductRepository(pool)

	p := product.Product{
		ID:       "tee",
		Name:     "Tee",
		Price:    decimal.NewFromInt(200),
		Category: "apparel",
		Variants: []product.Variant{{Name: "size", Value: "XL", PriceAdjustment: decimal.NewFromInt(50)}},
		Active:   true,
	}
	require.NoError(t, repo.Upsert(ctx, p))

	got, err := repo.GetByID(ctx, "tee")
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(got.Price))
	require.Len(t, got.Variants, 1)
	assert.True(t, got.Variants[0].PriceAdjustment.Equal(decimal.NewFromInt(50)))

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, product.ErrNotFound)
}

func TestCouponRepository_ConsumeRespectsMaxUses(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewCouponRepository(pool)

	inserted, err := repo.Insert(ctx, coupon.Rule{
		Code:         "ONCE",
		DiscountType: coupon.DiscountFixedAmount,
		Value:        decimal.NewFromInt(10),
		MaxUses:      1,
		Active:       true,
	})
	require.NoError(t, err)
	require.True(t, inserted)

	rule, err := repo.FindByCode(ctx, "once")
	require.NoError(t, err)
	assert.Equal(t, "ONCE", rule.Code)

	require.NoError(t, repo.Consume(ctx, "once", "u1", "o1"))
	assert.ErrorIs(t, repo.Consume(ctx, "ONCE", "u2", "o2"), coupon.ErrCouponExhausted)

	n, err := repo.CountUserUses(ctx, "ONCE", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCouponRepository_ConcurrentPerUserLimit(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewCouponRepository(pool)
	runner := repository.NewTxRunner(pool)

	inserted, err := repo.Insert(ctx, coupon.Rule{
		Code:           "PERUSER",
		DiscountType:   coupon.DiscountFixedAmount,
		Value:          decimal.NewFromInt(10),
		MaxUsesPerUser: 1,
		Active:         true,
	})
	require.NoError(t, err)
	require.True(t, inserted)

	var (
		wg    sync.WaitGroup
		ok    atomic.Int32
		start = make(chan struct{})
	)
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := runner.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
				// Every transaction passes the unlocked pre-check first.
				n, err := tx.Coupons().CountUserUses(ctx, "PERUSER", "u1")
				if err != nil {
					return err
				}
				if n > 0 {
					return coupon.ErrCouponExhausted
				}
				return tx.Coupons().Consume(ctx, "PERUSER", "u1", fmt.Sprintf("o-%d", i))
			})
			if err == nil {
				ok.Add(1)
				return
			}
			assert.ErrorIs(t, err, coupon.ErrCouponExhausted)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	n, err := repo.CountUserUses(ctx, "PERUSER", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rule, err := repo.FindByCode(ctx, "PERUSER")
	require.NoError(t, err)
	assert.Equal(t, 1, rule.Uses, "rejected consumers roll back their increment")

	require.NoError(t, repo.Consume(ctx, "PERUSER", "u2", "o-other"))
}

func TestLedgerRepository_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewLedgerRepository(pool)

	require.NoError(t, repo.Append(ctx, &points.Entry{
		UserID: "race", Amount: 100, Kind: points.KindCredit, Reason: points.ReasonAdminGrant, CreatedAt: time.Now(),
	}))

	var (
		wg sync.WaitGroup
		ok atomic.Int32
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Append(ctx, &points.Entry{
				UserID: "race", Amount: -30, Kind: points.KindDebit, Reason: points.ReasonAdminDeduct, CreatedAt: time.Now(),
			})
			if err == nil {
				ok.Add(1)
				return
			}
			assert.ErrorIs(t, err, points.ErrInsufficientPoints)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), ok.Load())
	bal, err := repo.Balance(ctx, "race")
	require.NoError(t, err)
	assert.Equal(t, int64(10), bal)

	entries, total, err := repo.History(ctx, "race", points.Page{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, entries, 2)
}

func TestOrderRepository_GuardedUpdate(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewOrderRepository(pool)

	n, err := repo.NextNumber(ctx)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Microsecond)
	o := &order.Order{
		ID:            "ord-guard",
		Number:        n,
		UserID:        "u1",
		Type:          order.TypeProduct,
		Items:         []order.Item{{ProductID: "tee", Name: "Tee", UnitPrice: decimal.NewFromInt(200), Quantity: 1}},
		Subtotal:      decimal.NewFromInt(200),
		TotalAmount:   decimal.NewFromInt(200),
		PaymentMethod: order.PaymentBankTransfer,
		Status:        order.StatusWaitingPayment,
		PaymentStatus: order.PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, repo.Create(ctx, o))

	o.Status = order.StatusCancelled
	o.Cancellation = &order.Cancellation{At: now, Reason: "changed mind", Actor: "u1"}
	require.NoError(t, repo.Update(ctx, o, order.StatusWaitingPayment))
	assert.ErrorIs(t, repo.Update(ctx, o, order.StatusWaitingPayment), order.ErrConflict)

	got, err := repo.Get(ctx, "ord-guard")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, got.Status)
	require.NotNil(t, got.Cancellation)
	assert.Equal(t, "changed mind", got.Cancellation.Reason)

	list, total, err := repo.List(ctx, order.Filter{UserID: "u1", Status: order.StatusCancelled, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, list, 1)

	require.NoError(t, repo.Delete(ctx, "ord-guard"))
	_, err = repo.Get(ctx, "ord-guard")
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestTxRunner_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	runner := repository.NewTxRunner(pool)
	ledger := repository.NewLedgerRepository(pool)

	err := runner.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		if err := tx.Points().Append(ctx, &points.Entry{
			UserID: "rollback", Amount: 50, Kind: points.KindCredit, Reason: points.ReasonAdminGrant, CreatedAt: time.Now(),
		}); err != nil {
			return err
		}
		return order.ErrConflict
	})
	require.ErrorIs(t, err, order.ErrConflict)

	bal, err := ledger.Balance(ctx, "rollback")
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestSettingsRepository_PointPrice(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewSettingsRepository(pool)

	_, err := repo.PointPrice(ctx)
	require.ErrorIs(t, err, settings.ErrNotConfigured)

	require.NoError(t, repo.SetPointPrice(ctx, settings.PointPrice{
		Price: decimal.RequireFromString("12.5"), UpdatedAt: time.Now(), UpdatedBy: "admin",
	}))
	got, err := repo.PointPrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, "12.5", got.Price.String())
	assert.Equal(t, "admin", got.UpdatedBy)
}
