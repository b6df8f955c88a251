package seed

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pointshop/internal/domain/coupon"
	"github.com/xenking/pointshop/internal/repository"
	"github.com/xenking/pointshop/internal/storage/memory"
)

// MemorySink writes into an in-process store.
func MemorySink(s *memory.Store) Sink {
	return Sink{
		Product:    s.Products().Put,
		Coupon:     s.Coupons().Put,
		PointPrice: s.Settings().SetPointPrice,
		APIKey:     s.APIKeys().Put,
	}
}

// PostgresSink writes through the PostgreSQL repositories. Existing coupons
// keep their usage counters.
func PostgresSink(pool *pgxpool.Pool) Sink {
	coupons := repository.NewCouponRepository(pool)
	return Sink{
		Product: repository.NewProductRepository(pool).Upsert,
		Coupon: func(ctx context.Context, rule coupon.Rule) error {
			_, err := coupons.Insert(ctx, rule)
			return err
		},
		PointPrice: repository.NewSettingsRepository(pool).SetPointPrice,
		APIKey:     repository.NewAPIKeyRepository(pool).Upsert,
	}
}
